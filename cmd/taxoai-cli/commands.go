package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taxoai/internal/adminclient"
	"taxoai/internal/batch"
	"taxoai/internal/server"
)

func parseProductID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", raw)
	}
	return id, nil
}

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var reuse bool

	cmd := &cobra.Command{
		Use:   "analyze <product-id>",
		Short: "Analyze one product and apply the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProductID(args[0])
			if err != nil {
				return err
			}
			res, err := opts.client().Analyze(cmd.Context(), id, !reuse)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&reuse, "reuse", false, "return the stored analysis instead of calling the API again")
	return cmd
}

func newAnalysisCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analysis <product-id>",
		Short: "Show the stored analysis of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProductID(args[0])
			if err != nil {
				return err
			}
			res, err := opts.client().Analysis(cmd.Context(), id)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), res)
		},
	}
}

func newProductsCmd(opts *globalOptions) *cobra.Command {
	var (
		filter  string
		page    int
		perPage int
	)

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List published products with their analysis state",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().ListProducts(cmd.Context(), filter, page, perPage)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "unanalyzed or low-confidence")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "products per page")
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the Google product taxonomy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().SearchTaxonomies(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of categories")
	return cmd
}

func newBatchCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit and follow batch analysis jobs",
	}
	cmd.AddCommand(newBatchSubmitCmd(opts))
	cmd.AddCommand(newBatchPollCmd(opts))
	return cmd
}

func newBatchSubmitCmd(opts *globalOptions) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <product-id>...",
		Short: "Submit products as one batch job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseProductID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			client := opts.client()
			submitted, err := client.SubmitBatch(cmd.Context(), ids)
			if err != nil {
				return err
			}
			if !wait {
				return opts.render(cmd.OutOrStdout(), submitted)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "job %s submitted with %d products\n", submitted.JobID, submitted.TotalProducts)
			res, err := client.WaitForJob(cmd.Context(), submitted.JobID, interval, progressPrinter(cmd))
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", adminclient.DefaultPollInterval, "poll interval with --wait")
	return cmd
}

func newBatchPollCmd(opts *globalOptions) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "poll <job-id>",
		Short: "Poll a batch job and store finished results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			var (
				res *batch.PollResult
				err error
			)
			if wait {
				res, err = client.WaitForJob(cmd.Context(), args[0], interval, progressPrinter(cmd))
			} else {
				res, err = client.PollBatch(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", adminclient.DefaultPollInterval, "poll interval with --wait")
	return cmd
}

func progressPrinter(cmd *cobra.Command) func(*batch.PollResult) {
	return func(p *batch.PollResult) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d/%d processed\n", p.Status, p.ProcessedProducts, p.TotalProducts)
	}
}

func newUsageCmd(opts *globalOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show monthly usage and whether analysis is allowed",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Usage(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the usage cache")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		caps    []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("TAXOAI_SERVER_AUTH_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("a signing secret is required (--secret or TAXOAI_SERVER_AUTH_JWT_SECRET)")
			}
			token, err := server.IssueToken(secret, issuer, subject, caps, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", "taxoai", "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().StringSliceVar(&caps, "cap", []string{server.CapabilityEditProducts}, "granted capabilities")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

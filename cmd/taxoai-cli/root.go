package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"taxoai/internal/adminclient"
)

// 输出格式
const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// globalOptions 所有子命令共用的连接参数
type globalOptions struct {
	serverURL string
	token     string
	timeout   time.Duration
	output    string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "taxoai-cli",
		Short: "Command line client for the TaxoAI admin API",
		Long: `taxoai-cli talks to a running taxoai server.

It can analyze single products, search the Google product taxonomy,
submit and follow batch jobs and report monthly usage.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if opts.serverURL == "" {
				opts.serverURL = envOr("TAXOAI_SERVER_URL", adminclient.DefaultServerURL)
			}
			if opts.token == "" {
				opts.token = os.Getenv("TAXOAI_TOKEN")
			}
			if opts.output != outputJSON && opts.output != outputYAML {
				return fmt.Errorf("unsupported output format %q (use json or yaml)", opts.output)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.serverURL, "server", "", "admin API URL (env TAXOAI_SERVER_URL)")
	flags.StringVar(&opts.token, "token", "", "bearer token (env TAXOAI_TOKEN)")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	flags.StringVarP(&opts.output, "output", "o", outputJSON, "output format: json or yaml")

	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newAnalysisCmd(opts))
	cmd.AddCommand(newProductsCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newBatchCmd(opts))
	cmd.AddCommand(newUsageCmd(opts))
	cmd.AddCommand(newTokenCmd())

	return cmd
}

func (o *globalOptions) client() *adminclient.Client {
	return adminclient.NewClient(adminclient.Config{
		ServerURL: o.serverURL,
		Token:     o.token,
		Timeout:   o.timeout,
	})
}

// render 按 --output 输出结果
func (o *globalOptions) render(w io.Writer, v interface{}) error {
	if o.output == outputYAML {
		// 先转成 JSON 再转 YAML，保持字段名与 API 一致
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"taxoai/internal/analyzer"
	"taxoai/internal/apperror"
	"taxoai/internal/batch"
	"taxoai/internal/model"
	"taxoai/internal/server/handlers"
	"taxoai/internal/usage"
)

// DefaultServerURL 管理 API 默认地址
const DefaultServerURL = "http://localhost:8080"

// DefaultPollInterval 批量任务轮询间隔
const DefaultPollInterval = 3 * time.Second

// Client 管理 API 客户端
type Client struct {
	http      *resty.Client
	serverURL string
	logger    *zap.Logger
}

// Config 客户端配置
type Config struct {
	ServerURL string
	Token     string // Bearer 令牌，可为空
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewClient 创建新的管理 API 客户端
func NewClient(cfg Config) *Client {
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.ServerURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeaders(map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		})
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:      httpClient,
		serverURL: cfg.ServerURL,
		logger:    cfg.Logger,
	}
}

// ServerURL 返回服务器 URL
func (c *Client) ServerURL() string {
	return c.serverURL
}

// Analyze 分析单个产品
func (c *Client) Analyze(ctx context.Context, productID int64, force bool) (*model.AnalysisResult, error) {
	return call[model.AnalysisResult](ctx, c, http.MethodPost, fmt.Sprintf("/api/v1/products/%d/analyze", productID), func(r *resty.Request) {
		r.SetQueryParam("force", strconv.FormatBool(force))
	})
}

// Analysis 已保存的分析结果
func (c *Client) Analysis(ctx context.Context, productID int64) (*analyzer.StoredAnalysis, error) {
	return call[analyzer.StoredAnalysis](ctx, c, http.MethodGet, fmt.Sprintf("/api/v1/products/%d/analysis", productID), nil)
}

// ListProducts 产品列表
func (c *Client) ListProducts(ctx context.Context, filter string, page, perPage int) (*handlers.ProductList, error) {
	return call[handlers.ProductList](ctx, c, http.MethodGet, "/api/v1/products", func(r *resty.Request) {
		if filter != "" {
			r.SetQueryParam("filter", filter)
		}
		if page > 0 {
			r.SetQueryParam("page", strconv.Itoa(page))
		}
		if perPage > 0 {
			r.SetQueryParam("per_page", strconv.Itoa(perPage))
		}
	})
}

// SearchTaxonomies 搜索 Google 产品分类
func (c *Client) SearchTaxonomies(ctx context.Context, query string, limit int) (*model.TaxonomySearchResult, error) {
	return call[model.TaxonomySearchResult](ctx, c, http.MethodGet, "/api/v1/taxonomies/search", func(r *resty.Request) {
		r.SetQueryParam("query", query)
		if limit > 0 {
			r.SetQueryParam("limit", strconv.Itoa(limit))
		}
	})
}

// SubmitBatch 提交批量分析任务
func (c *Client) SubmitBatch(ctx context.Context, productIDs []int64) (*batch.SubmitResult, error) {
	return call[batch.SubmitResult](ctx, c, http.MethodPost, "/api/v1/batches", func(r *resty.Request) {
		r.SetBody(handlers.SubmitBatchRequest{ProductIDs: productIDs})
	})
}

// PollBatch 查询一次批量任务
func (c *Client) PollBatch(ctx context.Context, jobID string) (*batch.PollResult, error) {
	return call[batch.PollResult](ctx, c, http.MethodGet, "/api/v1/batches/"+jobID, nil)
}

// Usage 用量状态
func (c *Client) Usage(ctx context.Context, refresh bool) (*usage.Status, error) {
	return call[usage.Status](ctx, c, http.MethodGet, "/api/v1/usage", func(r *resty.Request) {
		if refresh {
			r.SetQueryParam("refresh", "true")
		}
	})
}

// WaitForJob 按固定间隔轮询直到任务完成或失败
// 出现第一个错误时立即停止，onProgress 可为 nil
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration, onProgress func(*batch.PollResult)) (*batch.PollResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := c.PollBatch(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !model.IsKnownJobStatus(res.Status) {
			return nil, &apperror.Error{
				Code:    apperror.CodeAPIError,
				Message: fmt.Sprintf("unknown job status %q", res.Status),
			}
		}
		if onProgress != nil {
			onProgress(res)
		}
		if model.IsTerminalJobStatus(res.Status) {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
}

// call 发送请求并从响应信封中解出 data
func call[T any](ctx context.Context, c *Client, method, path string, configure func(*resty.Request)) (*T, error) {
	req := c.http.R().SetContext(ctx)
	if configure != nil {
		configure(req)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeNetworkError,
			fmt.Sprintf("Could not reach TaxoAI server at %s.", c.serverURL), err)
	}

	c.logger.Debug("admin request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", res.StatusCode()),
	)

	var env envelope
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		return nil, &apperror.Error{
			Code:    apperror.CodeAPIError,
			Message: fmt.Sprintf("Unexpected response (HTTP %d).", res.StatusCode()),
			Status:  res.StatusCode(),
			Err:     err,
		}
	}

	if res.IsError() || env.Code != 0 {
		code := apperror.Code(env.ErrorCode)
		if code == "" {
			code = apperror.CodeAPIError
		}
		return nil, &apperror.Error{Code: code, Message: env.Message, Status: res.StatusCode()}
	}

	out := new(T)
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return out, nil
}

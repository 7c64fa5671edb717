package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"taxoai/internal/apperror"
	"taxoai/internal/metrics"
	"taxoai/internal/model"
)

// DefaultBaseURL TaxoAI API 基础 URL
const DefaultBaseURL = "https://api.taxoai.dev"

// 操作名，用于错误消息、日志和指标
const (
	OpAnalyzeProduct   = "analyze_product"
	OpGetUsage         = "get_usage"
	OpSearchTaxonomies = "search_taxonomies"
	OpSubmitBatch      = "submit_batch"
	OpGetJob           = "get_job"
)

// Client TaxoAI API 客户端，无状态，可并发使用
type Client struct {
	http    *resty.Client
	apiKey  string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Config API 客户端配置
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// NewClient 创建新的 API 客户端
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "taxoai-go/1.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeaders(map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   cfg.UserAgent,
			"X-API-Key":    cfg.APIKey,
		})

	return &Client{
		http:    httpClient,
		apiKey:  cfg.APIKey,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// HasAPIKey 是否配置了 API key
func (c *Client) HasAPIKey() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// AnalyzeProduct 分析单个产品
func (c *Client) AnalyzeProduct(ctx context.Context, payload model.AnalysisPayload) (*model.AnalysisResult, error) {
	body, err := c.do(ctx, OpAnalyzeProduct, http.MethodPost, "/v1/products/analyze", func(r *resty.Request) {
		r.SetBody(payload)
	})
	if err != nil {
		return nil, err
	}
	return decodeSections(c, OpAnalyzeProduct, body, model.DecodeAnalysisResult), nil
}

// GetUsage 获取本月用量
func (c *Client) GetUsage(ctx context.Context) (*model.UsageSnapshot, error) {
	body, err := c.do(ctx, OpGetUsage, http.MethodGet, "/v1/usage", nil)
	if err != nil {
		return nil, err
	}
	return decodeObject[model.UsageSnapshot](c, OpGetUsage, body), nil
}

// SearchTaxonomies 搜索 Google 产品分类
func (c *Client) SearchTaxonomies(ctx context.Context, params SearchParams) (*model.TaxonomySearchResult, error) {
	if err := params.Validate(); err != nil {
		return nil, apperror.Wrap(apperror.CodeInvalidInput, "Invalid taxonomy search.", err)
	}

	body, err := c.do(ctx, OpSearchTaxonomies, http.MethodGet, "/v1/taxonomies/search", func(r *resty.Request) {
		r.SetQueryParams(params.ToQueryParams())
	})
	if err != nil {
		return nil, err
	}

	result := decodeObject[model.TaxonomySearchResult](c, OpSearchTaxonomies, body)
	if result.Categories == nil {
		result.Categories = []model.TaxonomyCategory{}
	}
	return result, nil
}

// SubmitBatch 提交批量分析任务
func (c *Client) SubmitBatch(ctx context.Context, products []model.AnalysisPayload) (*model.BatchSubmission, error) {
	body, err := c.do(ctx, OpSubmitBatch, http.MethodPost, "/v1/products/batch", func(r *resty.Request) {
		r.SetBody(map[string]any{"products": products})
	})
	if err != nil {
		return nil, err
	}
	return decodeObject[model.BatchSubmission](c, OpSubmitBatch, body), nil
}

// GetJob 查询批量任务状态
func (c *Client) GetJob(ctx context.Context, jobID string) (*model.BatchJob, error) {
	body, err := c.do(ctx, OpGetJob, http.MethodGet, "/v1/jobs/{jobId}", func(r *resty.Request) {
		r.SetPathParam("jobId", jobID)
	})
	if err != nil {
		return nil, err
	}
	return decodeSections(c, OpGetJob, body, model.DecodeBatchJob), nil
}

// do 执行请求并把非 2xx 状态映射为领域错误
func (c *Client) do(ctx context.Context, op, method, path string, configure func(*resty.Request)) ([]byte, error) {
	start := time.Now()

	req := c.http.R().SetContext(ctx)
	if configure != nil {
		configure(req)
	}

	c.logger.Debug("sending TaxoAI request",
		zap.String("operation", op),
		zap.String("method", method),
		zap.String("path", path),
	)

	res, err := req.Execute(method, path)
	if err != nil {
		appErr := apperror.Wrap(apperror.CodeNetworkError,
			fmt.Sprintf("TaxoAI API request failed (%s): %s", op, err.Error()), err)
		c.metrics.ObserveAPI(op, string(appErr.Code), time.Since(start))
		c.logger.Warn("TaxoAI request failed",
			zap.String("operation", op),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return nil, appErr
	}

	if appErr := statusError(res.StatusCode(), res.Header(), res.Body(), time.Now()); appErr != nil {
		c.metrics.ObserveAPI(op, string(appErr.Code), time.Since(start))
		c.logger.Warn("TaxoAI request returned error status",
			zap.String("operation", op),
			zap.Int("status_code", res.StatusCode()),
			zap.String("code", string(appErr.Code)),
			zap.Duration("latency", time.Since(start)),
		)
		return nil, appErr
	}

	c.metrics.ObserveAPI(op, "", time.Since(start))
	c.logger.Debug("TaxoAI request succeeded",
		zap.String("operation", op),
		zap.Int("status_code", res.StatusCode()),
		zap.Int("body_size", len(res.Body())),
		zap.Duration("latency", time.Since(start)),
	)
	return res.Body(), nil
}

// statusError 2xx 返回 nil，其余状态转换为领域错误
func statusError(status int, header http.Header, body []byte, now time.Time) *apperror.Error {
	if status >= 200 && status < 300 {
		return nil
	}

	e := &apperror.Error{Status: status}
	switch status {
	case http.StatusUnauthorized:
		e.Code = apperror.CodeUnauthorized
		e.Message = "Invalid API key. Please check your TaxoAI settings."
	case http.StatusPaymentRequired:
		e.Code = apperror.CodePaymentRequired
		e.Message = "Payment required. Please upgrade your TaxoAI plan."
	case http.StatusTooManyRequests:
		e.Code = apperror.CodeRateLimited
		e.Message = "Rate limit exceeded. Please try again later."
		if d, ok := parseRetryAfter(header.Get("Retry-After"), now); ok {
			e.RetryAfter = d
			e.Message = fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", int64(d/time.Second))
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		e.Code = apperror.CodeServerError
		e.Message = "TaxoAI server error. Please try again later."
	default:
		e.Code = apperror.CodeAPIError
		e.Message = fmt.Sprintf("TaxoAI API error (HTTP %d): %s", status, upstreamMessage(body))
	}
	return e
}

// parseRetryAfter 支持秒数和 HTTP 日期两种格式
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now).Truncate(time.Second)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// upstreamMessage 取响应体中的 message 字段
func upstreamMessage(body []byte) string {
	var payload struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if s, ok := payload.Message.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return "Unknown error"
}

// decodeObject 解码 JSON 对象响应；非对象或解码失败时返回零值
func decodeObject[T any](c *Client, op string, body []byte) *T {
	out := new(T)
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return out
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		var syntaxErr *json.SyntaxError
		c.logger.Warn("failed to decode TaxoAI response, treating as empty",
			zap.String("operation", op),
			zap.Bool("syntax_error", errors.As(err, &syntaxErr)),
			zap.Error(err),
		)
		return new(T)
	}
	return out
}

// decodeSections 按部分解码响应，格式错误的部分记录日志后丢弃
func decodeSections[T any](c *Client, op string, body []byte, decode func([]byte) (T, []model.SectionError, error)) *T {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return new(T)
	}

	out, dropped, err := decode(trimmed)
	if err != nil {
		c.logger.Warn("failed to decode TaxoAI response, treating as empty",
			zap.String("operation", op),
			zap.Error(err),
		)
		return new(T)
	}
	for _, d := range dropped {
		c.logger.Warn("dropping malformed response section",
			zap.String("operation", op),
			zap.String("section", d.Section),
			zap.Error(d.Err),
		)
	}
	return &out
}

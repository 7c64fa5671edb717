package handlers

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"taxoai/internal/analyzer"
	"taxoai/internal/api"
	"taxoai/internal/apperror"
	"taxoai/internal/batch"
	"taxoai/internal/model"
	"taxoai/internal/store"
	"taxoai/internal/task"
	"taxoai/internal/usage"
)

// Analyzer 单个产品分析
type Analyzer interface {
	Analyze(ctx context.Context, productID int64, force bool) (*model.AnalysisResult, error)
	StoredAnalysis(ctx context.Context, productID int64) (*analyzer.StoredAnalysis, error)
	Threshold() float64
}

// TaxonomySearcher 分类搜索
type TaxonomySearcher interface {
	SearchTaxonomies(ctx context.Context, params api.SearchParams) (*model.TaxonomySearchResult, error)
}

// BatchService 批量任务
type BatchService interface {
	Submit(ctx context.Context, productIDs []int64) (*batch.SubmitResult, error)
	Poll(ctx context.Context, jobID string) (*batch.PollResult, error)
}

// UsageReporter 用量状态
type UsageReporter interface {
	Status(ctx context.Context, forceRefresh bool) usage.Status
}

// Dependencies 处理器依赖
type Dependencies struct {
	Analyzer   Analyzer
	Products   store.ProductStore
	Writer     store.ProductWriter // 可为 nil，此时产品保存钩子不同步产品字段
	Taxonomies TaxonomySearcher
	Batches    BatchService
	Usage      UsageReporter

	// AutoAnalyze 产品发布时是否自动分析
	AutoAnalyze bool

	// Ping 检查存储连接，可为 nil
	Ping func(ctx context.Context) error
	// TaskResults 定时任务最近一次执行结果，可为 nil
	TaskResults func() map[string]task.Result

	Logger *zap.Logger
}

// Handler 管理 API 处理器
type Handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// New 创建处理器
func New(deps Dependencies) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Handler{
		deps:   deps,
		logger: deps.Logger,
	}
}

// parseProductID 解析路径中的产品 ID
func parseProductID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ErrInvalidProduct
	}
	return id, nil
}

// parseBool 解析布尔查询参数，空值使用默认值
func parseBool(raw string, def bool, name string) (bool, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperror.New(apperror.CodeInvalidInput, "Invalid "+name+" flag.")
	}
	return v, nil
}

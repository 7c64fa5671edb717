package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"taxoai/internal/apperror"
	"taxoai/internal/metrics"
	"taxoai/internal/model"
	"taxoai/internal/store"
)

// JobMapPrefix 批量任务 ID 映射的 transient 键前缀
const JobMapPrefix = "taxoai_job_map_"

// DefaultJobMapTTL ID 映射的保留时间
const DefaultJobMapTTL = time.Hour

// 批量任务指标事件
const (
	EventSubmitted = "submitted"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventMapMissed = "map_missing"
)

// BatchClient 批量任务接口
type BatchClient interface {
	HasAPIKey() bool
	SubmitBatch(ctx context.Context, products []model.AnalysisPayload) (*model.BatchSubmission, error)
	GetJob(ctx context.Context, jobID string) (*model.BatchJob, error)
}

// ResultHandler 构建请求和保存/应用结果，由分析器实现
type ResultHandler interface {
	BuildPayload(product *model.Product) model.AnalysisPayload
	StoreResult(ctx context.Context, productID int64, result *model.AnalysisResult) error
	ApplyResult(ctx context.Context, productID int64, result *model.AnalysisResult) bool
}

// Config 批量任务编排器配置
type Config struct {
	Products   store.ProductStore
	Transients store.TransientStore
	Client     BatchClient
	Results    ResultHandler
	// ApplyIntegrators 为 true 时完成的批量结果也按置信度应用集成器
	ApplyIntegrators bool
	JobMapTTL        time.Duration
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

// Orchestrator 提交批量任务并在轮询时落地结果
type Orchestrator struct {
	products         store.ProductStore
	transients       store.TransientStore
	client           BatchClient
	results          ResultHandler
	applyIntegrators bool
	jobMapTTL        time.Duration
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

// SubmitResult 提交结果
type SubmitResult struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	TotalProducts int     `json:"total_products"`
	ProductIDs    []int64 `json:"product_ids"`
}

// PollResult 轮询结果
type PollResult struct {
	Status            string `json:"status"`
	TotalProducts     int64  `json:"total_products"`
	ProcessedProducts int64  `json:"processed_products"`
	Stored            int    `json:"stored"`
	Applied           int    `json:"applied"`
	Error             string `json:"error,omitempty"`
}

// NewOrchestrator 创建批量任务编排器
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.JobMapTTL <= 0 {
		cfg.JobMapTTL = DefaultJobMapTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		products:         cfg.Products,
		transients:       cfg.Transients,
		client:           cfg.Client,
		results:          cfg.Results,
		applyIntegrators: cfg.ApplyIntegrators,
		jobMapTTL:        cfg.JobMapTTL,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
	}
}

// Submit 为可解析的产品构建请求并提交为一个批量任务
func (o *Orchestrator) Submit(ctx context.Context, productIDs []int64) (*SubmitResult, error) {
	var ids []int64
	for _, id := range productIDs {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, apperror.ErrNoProducts
	}
	if !o.client.HasAPIKey() {
		return nil, apperror.ErrNoAPIKey
	}

	payloads := make([]model.AnalysisPayload, 0, len(ids))
	idMap := make([]int64, 0, len(ids))
	for _, id := range ids {
		product, err := o.products.GetProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Debug("skipping unknown product", zap.Int64("product_id", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load product %d: %w", id, err)
		}
		payloads = append(payloads, o.results.BuildPayload(product))
		idMap = append(idMap, id)
	}
	if len(payloads) == 0 {
		return nil, apperror.ErrNoValidProduct
	}

	sub, err := o.client.SubmitBatch(ctx, payloads)
	if err != nil {
		return nil, err
	}

	if sub.JobID != "" {
		if err := o.transients.SetTransient(ctx, jobMapKey(sub.JobID), idMap, o.jobMapTTL); err != nil {
			return nil, fmt.Errorf("failed to store job map for %s: %w", sub.JobID, err)
		}
	}

	status := sub.Status
	if status == "" {
		status = model.JobStatusPending
	}

	o.metrics.BatchEvent(EventSubmitted)
	o.logger.Info("batch job submitted",
		zap.String("job_id", sub.JobID),
		zap.String("status", status),
		zap.Int("total_products", len(payloads)),
		zap.Int("skipped", len(ids)-len(payloads)),
	)

	return &SubmitResult{
		JobID:         sub.JobID,
		Status:        status,
		TotalProducts: len(payloads),
		ProductIDs:    idMap,
	}, nil
}

// Poll 查询任务状态，完成时按位置把结果写回对应产品
func (o *Orchestrator) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, apperror.ErrInvalidJobID
	}

	job, err := o.client.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !model.IsKnownJobStatus(job.Status) {
		o.logger.Warn("unknown batch job status", zap.String("job_id", jobID), zap.String("status", job.Status))
		return nil, &apperror.Error{
			Code:    apperror.CodeAPIError,
			Message: fmt.Sprintf("TaxoAI returned an unknown job status %q.", job.Status),
		}
	}

	res := &PollResult{
		Status:            job.Status,
		TotalProducts:     int64(job.TotalProducts),
		ProcessedProducts: int64(job.ProcessedProducts),
		Error:             job.Error,
	}

	switch job.Status {
	case model.JobStatusCompleted:
		if len(job.Result) == 0 {
			break
		}
		if err := o.complete(ctx, jobID, job.Result, res); err != nil {
			return nil, err
		}
	case model.JobStatusFailed:
		if err := o.transients.DeleteTransient(ctx, jobMapKey(jobID)); err != nil {
			o.logger.Warn("failed to delete job map", zap.String("job_id", jobID), zap.Error(err))
		}
		o.metrics.BatchEvent(EventFailed)
		o.logger.Warn("batch job failed", zap.String("job_id", jobID), zap.String("error", job.Error))
	}

	return res, nil
}

func (o *Orchestrator) complete(ctx context.Context, jobID string, results []model.AnalysisResult, res *PollResult) error {
	var idMap []int64
	ok, err := o.transients.GetTransient(ctx, jobMapKey(jobID), &idMap)
	if err != nil {
		return fmt.Errorf("failed to load job map for %s: %w", jobID, err)
	}
	if !ok {
		// 已处理过或已过期
		o.metrics.BatchEvent(EventMapMissed)
		o.logger.Debug("job map not found, nothing to apply", zap.String("job_id", jobID))
		return nil
	}

	for i := range results {
		if i >= len(idMap) {
			break
		}
		productID := idMap[i]
		result := &results[i]
		if result.IsEmpty() {
			// 没有可用内容的元素不覆盖已有分析
			o.logger.Warn("skipping empty batch result",
				zap.String("job_id", jobID),
				zap.Int("position", i),
				zap.Int64("product_id", productID),
			)
			continue
		}

		if err := o.results.StoreResult(ctx, productID, result); err != nil {
			o.logger.Error("failed to store batch result",
				zap.String("job_id", jobID),
				zap.Int64("product_id", productID),
				zap.Error(err),
			)
			continue
		}
		res.Stored++

		if o.applyIntegrators && o.results.ApplyResult(ctx, productID, result) {
			res.Applied++
		}
	}

	if err := o.transients.DeleteTransient(ctx, jobMapKey(jobID)); err != nil {
		o.logger.Warn("failed to delete job map", zap.String("job_id", jobID), zap.Error(err))
	}

	o.metrics.BatchEvent(EventCompleted)
	o.logger.Info("batch job results stored",
		zap.String("job_id", jobID),
		zap.Int("stored", res.Stored),
		zap.Int("applied", res.Applied),
		zap.Int("results", len(results)),
	)
	return nil
}

func jobMapKey(jobID string) string {
	return JobMapPrefix + jobID
}

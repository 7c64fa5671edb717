package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"taxoai/internal/apperror"
	"taxoai/internal/integrator"
	"taxoai/internal/metrics"
	"taxoai/internal/model"
	"taxoai/internal/sanitize"
	"taxoai/internal/store"
)

// 分析结果指标标签
const (
	OutcomeApplied  = "applied"
	OutcomeStored   = "stored"
	OutcomeReused   = "reused"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// DefaultConfidenceThreshold 自动应用结果的默认置信度阈值
const DefaultConfidenceThreshold = 0.7

// AnalysisClient 调用远程分析接口
type AnalysisClient interface {
	HasAPIKey() bool
	AnalyzeProduct(ctx context.Context, payload model.AnalysisPayload) (*model.AnalysisResult, error)
}

// UsageGate 配额检查和计数
type UsageGate interface {
	CanAnalyze(ctx context.Context) bool
	Increment(ctx context.Context) error
}

// SEOApplier 应用 SEO 结果
type SEOApplier interface {
	ApplySEO(ctx context.Context, productID int64, seo *model.SEOData, settings integrator.SEOSettings) error
}

// CategoryApplier 应用分类结果
type CategoryApplier interface {
	Map(ctx context.Context, productID int64, path string, categoryID int64) error
}

// AttributeApplier 应用属性结果
type AttributeApplier interface {
	MapAttributes(ctx context.Context, productID int64, attrs *model.Attributes) error
}

// Settings 分析相关设置
type Settings struct {
	Language            string
	ConfidenceThreshold float64
	AnalyzeImages       bool
	SEO                 integrator.SEOSettings
}

// Config 分析器配置
type Config struct {
	Products   store.ProductStore
	Client     AnalysisClient
	Usage      UsageGate
	SEO        SEOApplier
	Category   CategoryApplier
	Attributes AttributeApplier
	Settings   Settings
	Now        func() time.Time
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Analyzer 单个产品的分析流程
type Analyzer struct {
	products   store.ProductStore
	client     AnalysisClient
	usage      UsageGate
	seo        SEOApplier
	category   CategoryApplier
	attributes AttributeApplier
	settings   Settings
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
	locks      *keyedMutex
}

// New 创建分析器
func New(cfg Config) *Analyzer {
	if cfg.Settings.Language == "" {
		cfg.Settings.Language = "es"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Analyzer{
		products:   cfg.Products,
		client:     cfg.Client,
		usage:      cfg.Usage,
		seo:        cfg.SEO,
		category:   cfg.Category,
		attributes: cfg.Attributes,
		settings:   cfg.Settings,
		now:        cfg.Now,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		locks:      newKeyedMutex(),
	}
}

// Threshold 当前置信度阈值
func (a *Analyzer) Threshold() float64 {
	return a.settings.ConfidenceThreshold
}

// Analyze 分析单个产品
// force 为 false 且已有分析结果时直接返回已存储的结果
func (a *Analyzer) Analyze(ctx context.Context, productID int64, force bool) (*model.AnalysisResult, error) {
	unlock := a.locks.Lock(productID)
	defer unlock()

	product, err := a.resolveProduct(ctx, productID)
	if err != nil {
		a.metrics.Analysis(OutcomeRejected)
		return nil, err
	}

	if !a.client.HasAPIKey() {
		a.metrics.Analysis(OutcomeRejected)
		return nil, apperror.ErrNoAPIKey
	}

	if !a.usage.CanAnalyze(ctx) {
		a.metrics.Analysis(OutcomeRejected)
		a.logger.Info("analysis blocked by usage limit", zap.Int64("product_id", productID))
		return nil, apperror.ErrLimitReached
	}

	if !force {
		stored, err := a.StoredAnalysis(ctx, productID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			a.metrics.Analysis(OutcomeReused)
			return stored.Result, nil
		}
	}

	start := a.now()
	result, err := a.client.AnalyzeProduct(ctx, a.BuildPayload(product))
	if err != nil {
		a.metrics.Analysis(OutcomeFailed)
		a.logger.Warn("product analysis failed",
			zap.Int64("product_id", productID),
			zap.String("code", string(apperror.CodeOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	if err := a.usage.Increment(ctx); err != nil {
		a.logger.Warn("failed to increment usage", zap.Int64("product_id", productID), zap.Error(err))
	}

	if err := a.StoreResult(ctx, productID, result); err != nil {
		return nil, fmt.Errorf("failed to store analysis for product %d: %w", productID, err)
	}

	applied := a.ApplyResult(ctx, productID, result)
	if applied {
		a.metrics.Analysis(OutcomeApplied)
	} else {
		a.metrics.Analysis(OutcomeStored)
	}

	a.logger.Info("product analyzed",
		zap.Int64("product_id", productID),
		zap.Float64("confidence", result.Confidence()),
		zap.Bool("applied", applied),
		zap.Duration("duration", a.now().Sub(start)),
	)
	return result, nil
}

func (a *Analyzer) resolveProduct(ctx context.Context, productID int64) (*model.Product, error) {
	if productID <= 0 {
		return nil, apperror.ErrInvalidProduct
	}
	product, err := a.products.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrInvalidProduct
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", productID, err)
	}
	return product, nil
}

// BuildPayload 根据产品构建分析请求
func (a *Analyzer) BuildPayload(product *model.Product) model.AnalysisPayload {
	payload := model.AnalysisPayload{
		Name:          product.Name,
		Language:      a.settings.Language,
		ProductID:     strconv.FormatInt(product.ID, 10),
		Price:         product.Price,
		ImageURLs:     product.ImageURLs(),
		AnalyzeImages: a.settings.AnalyzeImages,
	}
	if product.Description != "" {
		payload.Description = sanitize.StripTags(product.Description)
	}
	return payload
}

// StoreResult 无条件保存原始结果和分类字段
func (a *Analyzer) StoreResult(ctx context.Context, productID int64, result *model.AnalysisResult) error {
	if err := a.products.SetMeta(ctx, productID, model.MetaAnalysisResult, result); err != nil {
		return err
	}
	analyzedAt := a.now().UTC().Format(model.AnalyzedAtLayout)
	if err := a.products.SetMeta(ctx, productID, model.MetaAnalyzedAt, analyzedAt); err != nil {
		return err
	}

	c := result.Classification
	if c == nil {
		return nil
	}
	if c.GoogleCategory != nil {
		if err := a.products.SetMeta(ctx, productID, model.MetaGoogleCategory, sanitize.TextField(*c.GoogleCategory)); err != nil {
			return err
		}
	}
	if c.GoogleCategoryID != nil {
		if err := a.products.SetMeta(ctx, productID, model.MetaGoogleCategoryID, c.CategoryID()); err != nil {
			return err
		}
	}
	if c.Confidence != nil {
		if err := a.products.SetMeta(ctx, productID, model.MetaConfidence, result.Confidence()); err != nil {
			return err
		}
	}
	return nil
}

// ApplyResult 置信度达到阈值时调用各集成器，返回是否应用
// 集成器失败只记录日志
func (a *Analyzer) ApplyResult(ctx context.Context, productID int64, result *model.AnalysisResult) bool {
	confidence := result.Confidence()
	if confidence < a.settings.ConfidenceThreshold {
		a.logger.Debug("confidence below threshold, result stored only",
			zap.Int64("product_id", productID),
			zap.Float64("confidence", confidence),
			zap.Float64("threshold", a.settings.ConfidenceThreshold),
		)
		return false
	}

	if result.SEO != nil && a.seo != nil {
		a.report(productID, "seo", a.seo.ApplySEO(ctx, productID, result.SEO, a.settings.SEO))
	}
	if result.Classification != nil && a.category != nil {
		c := result.Classification
		a.report(productID, "category", a.category.Map(ctx, productID, c.CategoryPath(), c.CategoryID()))
	}
	if result.Attributes != nil && a.attributes != nil {
		a.report(productID, "attributes", a.attributes.MapAttributes(ctx, productID, result.Attributes))
	}
	return true
}

func (a *Analyzer) report(productID int64, name string, err error) {
	if err == nil {
		return
	}
	a.metrics.IntegratorFailure(name)
	a.logger.Error("integrator failed",
		zap.Int64("product_id", productID),
		zap.String("integrator", name),
		zap.Error(err),
	)
}

// StoredAnalysis 已保存的分析，没有时返回 nil
func (a *Analyzer) StoredAnalysis(ctx context.Context, productID int64) (*StoredAnalysis, error) {
	var result model.AnalysisResult
	ok, err := a.products.GetMeta(ctx, productID, model.MetaAnalysisResult, &result)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrInvalidProduct
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis for product %d: %w", productID, err)
	}
	if !ok {
		return nil, nil
	}

	stored := &StoredAnalysis{ProductID: productID, Result: &result}
	if _, err := a.products.GetMeta(ctx, productID, model.MetaAnalyzedAt, &stored.AnalyzedAt); err != nil {
		return nil, err
	}

	confidence := result.Confidence()
	stored.Confidence = confidence
	stored.ConfidencePercent = model.ConfidencePercent(confidence)
	stored.ConfidenceClass = model.ConfidenceClass(confidence)
	// 没有置信度的结果不算低置信度
	var known *float64
	if result.Classification != nil && result.Classification.Confidence != nil {
		known = &confidence
	}
	stored.Status = model.AnalysisStatus(stored.AnalyzedAt, known, a.settings.ConfidenceThreshold)
	return stored, nil
}

// StoredAnalysis 已保存的分析结果及其展示字段
type StoredAnalysis struct {
	ProductID         int64                 `json:"product_id"`
	AnalyzedAt        string                `json:"analyzed_at"`
	Confidence        float64               `json:"confidence"`
	ConfidencePercent int                   `json:"confidence_percent"`
	ConfidenceClass   string                `json:"confidence_class"`
	Status            string                `json:"status"`
	Result            *model.AnalysisResult `json:"result"`
}

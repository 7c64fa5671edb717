package usage

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"taxoai/internal/metrics"
	"taxoai/internal/model"
	"taxoai/internal/store"
)

// 存储键
const (
	CacheKey = "taxoai_usage_cache"

	OptionCount      = "taxoai_usage_count"
	OptionMonth      = "taxoai_usage_month"
	OptionLastTier   = "taxoai_usage_last_tier"
	OptionLastUsed   = "taxoai_usage_last_used"
	OptionLastMonth  = "taxoai_usage_last_month"
	monthLayout      = "2006-01"
	DefaultFreeLimit = 25
	DefaultCacheTTL  = 300 * time.Second
)

// 配额判定来源
const (
	SourceServer = "server"
	SourceCache  = "cache"
	SourceLocal  = "local"
)

// UsageClient 获取服务端用量
type UsageClient interface {
	GetUsage(ctx context.Context) (*model.UsageSnapshot, error)
}

// Tracker 用量跟踪器
// 以服务端用量为准，服务端不可用时回退到本地计数
type Tracker struct {
	client     UsageClient
	options    store.OptionStore
	transients store.TransientStore
	freeLimit  int64
	cacheTTL   time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
	group      singleflight.Group
}

// Config 用量跟踪器配置
type Config struct {
	Client        UsageClient
	Options       store.OptionStore
	Transients    store.TransientStore
	FreeTierLimit int
	CacheTTL      time.Duration
	Now           func() time.Time
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Status 用量状态
type Status struct {
	Usage   *model.UsageSnapshot `json:"usage,omitempty"`
	Allowed bool                 `json:"can_analyze"`
	Source  string               `json:"source"`
	Limit   int64                `json:"free_tier_limit"`
	Local   int64                `json:"local_count"`
	Error   string               `json:"error,omitempty"`
}

// NewTracker 创建用量跟踪器
func NewTracker(cfg Config) *Tracker {
	if cfg.FreeTierLimit <= 0 {
		cfg.FreeTierLimit = DefaultFreeLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Tracker{
		client:     cfg.Client,
		options:    cfg.Options,
		transients: cfg.Transients,
		freeLimit:  int64(cfg.FreeTierLimit),
		cacheTTL:   cfg.CacheTTL,
		now:        cfg.Now,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// CanAnalyze 是否还能进行一次分析
func (t *Tracker) CanAnalyze(ctx context.Context) bool {
	allowed, _, _ := t.decide(ctx)
	return allowed
}

// Status 返回用量和判定结果，供管理接口展示
func (t *Tracker) Status(ctx context.Context, forceRefresh bool) Status {
	st := Status{Limit: t.freeLimit, Local: t.localCount(ctx)}

	usage, source, err := t.getUsage(ctx, forceRefresh)
	if err != nil {
		st.Error = err.Error()
		st.Allowed = t.localAllowed(ctx)
		st.Source = SourceLocal
		return st
	}

	st.Usage = usage
	st.Source = source
	st.Allowed = t.allowedBy(usage)
	return st
}

func (t *Tracker) decide(ctx context.Context) (bool, string, *model.UsageSnapshot) {
	usage, source, err := t.getUsage(ctx, false)
	if err != nil {
		t.logger.Warn("usage check failed, falling back to local counter", zap.Error(err))
		allowed := t.localAllowed(ctx)
		t.metrics.QuotaDecision(SourceLocal, allowed)
		return allowed, SourceLocal, nil
	}

	allowed := t.allowedBy(usage)
	t.metrics.QuotaDecision(source, allowed)
	return allowed, source, usage
}

func (t *Tracker) allowedBy(usage *model.UsageSnapshot) bool {
	if usage.EffectiveTier() != model.TierFree {
		return true
	}
	return usage.Used() < t.freeLimit
}

// GetUsage 获取用量，优先使用未过期的缓存
func (t *Tracker) GetUsage(ctx context.Context, forceRefresh bool) (*model.UsageSnapshot, error) {
	usage, _, err := t.getUsage(ctx, forceRefresh)
	return usage, err
}

func (t *Tracker) getUsage(ctx context.Context, forceRefresh bool) (*model.UsageSnapshot, string, error) {
	if !forceRefresh {
		var cached model.UsageSnapshot
		ok, err := t.transients.GetTransient(ctx, CacheKey, &cached)
		if err != nil {
			t.logger.Warn("failed to read usage cache", zap.Error(err))
		} else if ok {
			return &cached, SourceCache, nil
		}
	}

	// 并发刷新只请求一次服务端
	v, err, _ := t.group.Do("usage", func() (any, error) {
		usage, err := t.client.GetUsage(ctx)
		if err != nil {
			return nil, err
		}
		t.remember(ctx, usage)
		return usage, nil
	})
	if err != nil {
		return nil, "", err
	}
	return v.(*model.UsageSnapshot), SourceServer, nil
}

// remember 缓存服务端用量，并记录最后一次已知的 tier 和用量
func (t *Tracker) remember(ctx context.Context, usage *model.UsageSnapshot) {
	if err := t.transients.SetTransient(ctx, CacheKey, usage, t.cacheTTL); err != nil {
		t.logger.Warn("failed to cache usage", zap.Error(err))
	}

	month := t.currentMonth()
	for name, value := range map[string]string{
		OptionLastTier:  usage.EffectiveTier(),
		OptionLastUsed:  strconv.FormatInt(usage.Used(), 10),
		OptionLastMonth: month,
	} {
		if err := t.options.SetOption(ctx, name, value); err != nil {
			t.logger.Warn("failed to store last known usage", zap.String("option", name), zap.Error(err))
		}
	}
}

// Increment 分析成功后本地计数加一，并使缓存失效
func (t *Tracker) Increment(ctx context.Context) error {
	if err := t.ensureMonthReset(ctx); err != nil {
		return err
	}

	count := t.localCount(ctx) + 1
	if err := t.options.SetOption(ctx, OptionCount, strconv.FormatInt(count, 10)); err != nil {
		return err
	}
	if err := t.transients.DeleteTransient(ctx, CacheKey); err != nil {
		return err
	}

	t.logger.Debug("usage incremented", zap.Int64("local_count", count))
	return nil
}

// CachedTier 缓存中的 tier，没有缓存时为 free
func (t *Tracker) CachedTier(ctx context.Context) string {
	var cached model.UsageSnapshot
	ok, err := t.transients.GetTransient(ctx, CacheKey, &cached)
	if err != nil || !ok {
		return model.TierFree
	}
	return cached.EffectiveTier()
}

// localAllowed 本地回退判定
// 非免费 tier 放行；否则本地计数和同月最后已知服务端用量取大后与上限比较
func (t *Tracker) localAllowed(ctx context.Context) bool {
	if err := t.ensureMonthReset(ctx); err != nil {
		t.logger.Warn("failed to reset monthly usage", zap.Error(err))
	}

	if t.lastKnownTier(ctx) != model.TierFree {
		return true
	}

	used := t.localCount(ctx)
	if server := t.lastKnownUsed(ctx); server > used {
		used = server
	}
	return used < t.freeLimit
}

func (t *Tracker) lastKnownTier(ctx context.Context) string {
	if tier := t.CachedTier(ctx); tier != model.TierFree {
		return tier
	}
	tier, ok, err := t.options.GetOption(ctx, OptionLastTier)
	if err != nil || !ok || tier == "" {
		return model.TierFree
	}
	return tier
}

func (t *Tracker) lastKnownUsed(ctx context.Context) int64 {
	month, ok, err := t.options.GetOption(ctx, OptionLastMonth)
	if err != nil || !ok || month != t.currentMonth() {
		return 0
	}
	return t.intOption(ctx, OptionLastUsed)
}

// ensureMonthReset 月份变化时重置本地计数
func (t *Tracker) ensureMonthReset(ctx context.Context) error {
	month := t.currentMonth()
	stored, ok, err := t.options.GetOption(ctx, OptionMonth)
	if err != nil {
		return err
	}
	if ok && stored == month {
		return nil
	}

	if err := t.options.SetOption(ctx, OptionCount, "0"); err != nil {
		return err
	}
	if err := t.options.SetOption(ctx, OptionMonth, month); err != nil {
		return err
	}

	t.logger.Info("monthly usage window reset",
		zap.String("previous_month", stored),
		zap.String("month", month),
	)
	return nil
}

func (t *Tracker) localCount(ctx context.Context) int64 {
	return t.intOption(ctx, OptionCount)
}

func (t *Tracker) intOption(ctx context.Context, name string) int64 {
	v, ok, err := t.options.GetOption(ctx, name)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (t *Tracker) currentMonth() string {
	return t.now().UTC().Format(monthLayout)
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"taxoai/internal/task"
)

// Scheduler 任务调度器
type Scheduler struct {
	cron           *cron.Cron
	registry       *task.Registry
	logger         *zap.Logger
	running        bool
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	jobEntries     map[string]cron.EntryID
	defaultTimeout time.Duration
	now            func() time.Time

	resultsMu sync.RWMutex
	results   map[string]task.Result
}

// Config 调度器配置
type Config struct {
	Logger         *zap.Logger
	Registry       *task.Registry
	DefaultTimeout time.Duration
	Location       *time.Location
	Now            func() time.Time
}

// NewScheduler 创建新的调度器
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = task.NewRegistry()
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithSeconds(), // 支持秒级精度
		cron.WithChain(
			cron.Recover(cron.DefaultLogger), // 恢复 panic
			cron.SkipIfStillRunning(cron.DefaultLogger),
		),
	)

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:           c,
		registry:       cfg.Registry,
		logger:         cfg.Logger,
		ctx:            ctx,
		cancel:         cancel,
		jobEntries:     make(map[string]cron.EntryID),
		defaultTimeout: cfg.DefaultTimeout,
		now:            cfg.Now,
		results:        make(map[string]task.Result),
	}
}

// Start 注册所有启用的任务并启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	tasks := s.registry.Enabled()
	for _, t := range tasks {
		if err := s.addTask(t); err != nil {
			s.logger.Error("failed to add task",
				zap.String("task", t.Name()),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("task registered",
			zap.String("task", t.Name()),
			zap.String("schedule", t.Schedule()),
		)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started", zap.Int("total_tasks", len(s.jobEntries)))
	return nil
}

// Stop 停止调度器，等待运行中的任务结束
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("stopping scheduler...")

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("context cancelled while stopping scheduler")
		return ctx.Err()
	}

	s.cancel()
	s.running = false
	return nil
}

// addTask 添加任务到调度器
func (s *Scheduler) addTask(t task.Task) error {
	schedule := t.Schedule()
	if schedule == "" {
		return fmt.Errorf("task schedule cannot be empty")
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		_ = s.execute(s.ctx, t)
	})
	if err != nil {
		return fmt.Errorf("failed to parse schedule: %w", err)
	}

	s.jobEntries[t.Name()] = entryID
	return nil
}

// RunNow 立即执行一次已注册的任务
func (s *Scheduler) RunNow(ctx context.Context, name string) (task.Result, error) {
	t, err := s.registry.Get(name)
	if err != nil {
		return task.Result{}, fmt.Errorf("%s: %w", name, err)
	}
	return s.execute(ctx, t), nil
}

// execute 带超时执行任务并记录结果
func (s *Scheduler) execute(parent context.Context, t task.Task) task.Result {
	name := t.Name()
	start := s.now()
	s.logger.Debug("task started", zap.String("task", name))

	timeout := t.Timeout()
	if timeout == 0 {
		timeout = s.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := t.Run(ctx)
	end := s.now()

	result := task.Result{
		TaskName:  name,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Success:   err == nil,
		Error:     err,
	}

	s.resultsMu.Lock()
	s.results[name] = result
	s.resultsMu.Unlock()

	s.logTaskResult(result)
	return result
}

// logTaskResult 记录任务执行结果
func (s *Scheduler) logTaskResult(result task.Result) {
	fields := []zap.Field{
		zap.String("task", result.TaskName),
		zap.Time("start_time", result.StartTime),
		zap.Duration("duration", result.Duration),
		zap.Bool("success", result.Success),
	}

	if result.Error != nil {
		fields = append(fields, zap.Error(result.Error))
		s.logger.Error("task completed with error", fields...)
	} else {
		s.logger.Info("task completed successfully", fields...)
	}
}

// LastResults 每个任务最近一次的执行结果
func (s *Scheduler) LastResults() map[string]task.Result {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()

	out := make(map[string]task.Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetTaskCount 已加入 cron 的任务数量
func (s *Scheduler) GetTaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobEntries)
}

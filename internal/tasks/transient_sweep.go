package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taxoai/internal/store"
	"taxoai/internal/task"
)

// TransientSweepName 过期 transient 清理任务名
const TransientSweepName = "transient_sweep"

// DefaultSweepSchedule 每 15 分钟执行一次
const DefaultSweepSchedule = "0 */15 * * * *"

// TransientSweepTask 清理过期的 transient，主要是未被轮询的批量任务 ID 映射
type TransientSweepTask struct {
	sweeper  store.Sweeper
	schedule string
	enabled  bool
	logger   *zap.Logger
}

// NewTransientSweepTask 创建清理任务，schedule 为空时使用默认值
func NewTransientSweepTask(sweeper store.Sweeper, schedule string, logger *zap.Logger) task.Task {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransientSweepTask{
		sweeper:  sweeper,
		schedule: schedule,
		enabled:  sweeper != nil,
		logger:   logger,
	}
}

func (t *TransientSweepTask) Name() string {
	return TransientSweepName
}

func (t *TransientSweepTask) Schedule() string {
	return t.schedule
}

func (t *TransientSweepTask) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	n, err := t.sweeper.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep transients: %w", err)
	}

	if n > 0 {
		t.logger.Info("expired transients removed", zap.Int64("count", n))
	}
	return nil
}

func (t *TransientSweepTask) Timeout() time.Duration {
	return time.Minute
}

func (t *TransientSweepTask) Enabled() bool {
	return t.enabled
}

package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Task 定义了所有定时任务必须实现的接口
type Task interface {
	// Name 返回任务名称，用于标识和日志记录
	Name() string

	// Schedule 返回 cron 表达式（秒 分 时 日 月 周）
	// 例如: "0 */15 * * * *" 表示每 15 分钟执行一次
	Schedule() string

	// Run 执行任务逻辑，ctx 用于取消和超时控制
	Run(ctx context.Context) error

	// Timeout 返回 0 时使用调度器的默认超时
	Timeout() time.Duration

	Enabled() bool
}

// Result 任务执行结果
type Result struct {
	TaskName  string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Success   bool
	Error     error
}

// Registry 任务注册表
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry 创建新的任务注册表
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]Task),
	}
}

// Register 注册任务
func (r *Registry) Register(t Task) error {
	name := t.Name()
	if name == "" {
		return ErrEmptyTaskName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}
	r.tasks[name] = t
	return nil
}

// Get 按名称获取任务
func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// Enabled 按名称排序的已启用任务
func (r *Registry) Enabled() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if t.Enabled() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// TaskStatus 定时任务最近一次执行情况
type TaskStatus struct {
	Name      string    `json:"name"`
	Success   bool      `json:"success"`
	StartTime time.Time `json:"start_time"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status   string       `json:"status"`
	Database string       `json:"database"`
	Tasks    []TaskStatus `json:"tasks"`
}

// Health 存储不可用时返回 503
func (h *Handler) Health(c *gin.Context) {
	health := HealthStatus{Status: "ok", Database: "ok", Tasks: []TaskStatus{}}

	if h.deps.Ping != nil {
		if err := h.deps.Ping(c.Request.Context()); err != nil {
			health.Status = "degraded"
			health.Database = err.Error()
		}
	}

	if h.deps.TaskResults != nil {
		for name, r := range h.deps.TaskResults() {
			ts := TaskStatus{
				Name:      name,
				Success:   r.Success,
				StartTime: r.StartTime,
				Duration:  r.Duration.String(),
			}
			if r.Error != nil {
				ts.Error = r.Error.Error()
			}
			health.Tasks = append(health.Tasks, ts)
		}
		sort.Slice(health.Tasks, func(i, j int) bool { return health.Tasks[i].Name < health.Tasks[j].Name })
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, SuccessResponse{Code: 0, Message: health.Status, Data: health})
}

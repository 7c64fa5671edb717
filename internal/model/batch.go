package model

// 批量任务状态
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// BatchSubmission 批量提交的响应
type BatchSubmission struct {
	JobID  string `json:"job_id"`
	Status string `json:"status,omitempty"`
}

// BatchJob 远程批量任务
type BatchJob struct {
	JobID             string           `json:"job_id"`
	Status            string           `json:"status"`
	TotalProducts     FlexInt64        `json:"total_products,omitempty"`
	ProcessedProducts FlexInt64        `json:"processed_products,omitempty"`
	Result            []AnalysisResult `json:"result,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// IsTerminal 任务是否已结束
func (j *BatchJob) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}

// IsTerminalJobStatus completed 和 failed 为终止状态
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// IsKnownJobStatus 是否为四种已知状态之一
func IsKnownJobStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// TaxonomyCategory 分类搜索结果中的单个分类
type TaxonomyCategory struct {
	ID    FlexInt64  `json:"id"`
	Name  string     `json:"name"`
	Path  string     `json:"path,omitempty"`
	Score *FlexFloat `json:"score,omitempty"`
}

// TaxonomySearchResult 分类搜索响应
type TaxonomySearchResult struct {
	Categories []TaxonomyCategory `json:"categories"`
}

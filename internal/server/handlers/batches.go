package handlers

import (
	"github.com/gin-gonic/gin"

	"taxoai/internal/apperror"
)

// SubmitBatchRequest 批量分析请求
type SubmitBatchRequest struct {
	ProductIDs []int64 `json:"product_ids"`
}

// SubmitBatch 提交批量分析任务
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, h.logger, apperror.Wrap(apperror.CodeInvalidInput, "Invalid request body.", err))
		return
	}

	result, err := h.deps.Batches.Submit(c.Request.Context(), req.ProductIDs)
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}
	JSONSuccess(c, result)
}

// PollBatch 查询批量任务，完成时落地结果
func (h *Handler) PollBatch(c *gin.Context) {
	result, err := h.deps.Batches.Poll(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}
	JSONSuccess(c, result)
}

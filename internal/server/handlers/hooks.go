package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taxoai/internal/apperror"
	"taxoai/internal/model"
)

// 自动分析被跳过的原因
const (
	SkipAutosave        = "autosave"
	SkipRevision        = "revision"
	SkipDisabled        = "auto_analyze_disabled"
	SkipNotPublished    = "not_published"
	SkipAlreadyAnalyzed = "already_analyzed"
)

// SavedProduct 宿主平台保存的产品
type SavedProduct struct {
	ID            int64    `json:"id" binding:"required,gt=0"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         *float64 `json:"price"`
	Status        string   `json:"status" binding:"required"`
	FeaturedImage string   `json:"featured_image"`
	Gallery       []string `json:"gallery"`
}

// ProductSavedRequest 产品保存事件
type ProductSavedRequest struct {
	Product  SavedProduct `json:"product"`
	Autosave bool         `json:"autosave"`
	Revision bool         `json:"revision"`
}

// ProductSavedResult 产品保存事件的处理结果
type ProductSavedResult struct {
	ProductID int64  `json:"product_id"`
	Synced    bool   `json:"synced"`
	Analyzed  bool   `json:"analyzed"`
	Skipped   string `json:"skipped,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProductSaved 同步产品字段，开启自动分析时分析已发布的产品
// 分析失败不会让保存事件失败
func (h *Handler) ProductSaved(c *gin.Context) {
	var req ProductSavedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, h.logger, apperror.Wrap(apperror.CodeInvalidInput, "Invalid request body.", err))
		return
	}

	ctx := c.Request.Context()
	p := req.Product
	res := ProductSavedResult{ProductID: p.ID}

	switch {
	case req.Autosave:
		res.Skipped = SkipAutosave
	case req.Revision:
		res.Skipped = SkipRevision
	}
	if res.Skipped != "" {
		JSONSuccess(c, res)
		return
	}

	if h.deps.Writer != nil {
		err := h.deps.Writer.UpsertProduct(ctx, model.Product{
			ID:            p.ID,
			Name:          p.Name,
			Description:   p.Description,
			Price:         p.Price,
			Status:        p.Status,
			FeaturedImage: p.FeaturedImage,
			Gallery:       p.Gallery,
		})
		if err != nil {
			JSONError(c, h.logger, err)
			return
		}
		res.Synced = true
	}

	switch {
	case !h.deps.AutoAnalyze:
		res.Skipped = SkipDisabled
	case p.Status != model.ProductStatusPublish:
		res.Skipped = SkipNotPublished
	}
	if res.Skipped != "" {
		JSONSuccess(c, res)
		return
	}

	stored, err := h.deps.Analyzer.StoredAnalysis(ctx, p.ID)
	if err == nil && stored != nil {
		res.Skipped = SkipAlreadyAnalyzed
		JSONSuccess(c, res)
		return
	}

	if _, err := h.deps.Analyzer.Analyze(ctx, p.ID, false); err != nil {
		h.logger.Warn("auto analysis failed",
			zap.Int64("product_id", p.ID),
			zap.String("code", string(apperror.CodeOf(err))),
			zap.Error(err),
		)
		res.ErrorCode = string(apperror.CodeOf(err))
		res.Error = apperror.MessageOf(err)
		JSONSuccess(c, res)
		return
	}

	res.Analyzed = true
	JSONSuccess(c, res)
}

package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taxoai/internal/analyzer"
	"taxoai/internal/apperror"
	"taxoai/internal/model"
)

// 产品列表分页
const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// AnalyzeProduct 分析单个产品，force 默认为 true
func (h *Handler) AnalyzeProduct(c *gin.Context) {
	id, err := parseProductID(c.Param("id"))
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}
	force, err := parseBool(c.Query("force"), true, "force")
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}

	result, err := h.deps.Analyzer.Analyze(c.Request.Context(), id, force)
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}
	JSONSuccess(c, result)
}

// GetAnalysis 已保存的分析结果，未分析时返回 pending 状态
func (h *Handler) GetAnalysis(c *gin.Context) {
	id, err := parseProductID(c.Param("id"))
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}

	stored, err := h.deps.Analyzer.StoredAnalysis(c.Request.Context(), id)
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}
	if stored == nil {
		stored = &analyzer.StoredAnalysis{ProductID: id, Status: model.AnalysisStatusPending}
	}
	JSONSuccess(c, stored)
}

// ProductRow 产品列表中的一行
type ProductRow struct {
	ID                int64    `json:"id"`
	Name              string   `json:"name"`
	Status            string   `json:"status"`
	AnalyzedAt        string   `json:"analyzed_at,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	ConfidencePercent *int     `json:"confidence_percent,omitempty"`
	ConfidenceClass   string   `json:"confidence_class,omitempty"`
	GoogleCategory    string   `json:"google_category,omitempty"`
}

// ProductList 产品列表响应
type ProductList struct {
	Products   []ProductRow `json:"products"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	TotalPages int64        `json:"total_pages"`
}

// ListProducts 已发布产品列表，可按分析状态过滤
func (h *Handler) ListProducts(c *gin.Context) {
	filter := c.DefaultQuery("filter", model.ProductFilterAll)
	switch filter {
	case model.ProductFilterAll, model.ProductFilterUnanalyzed, model.ProductFilterLowConfidence:
	default:
		JSONError(c, h.logger, apperror.New(apperror.CodeInvalidInput, "Invalid filter."))
		return
	}

	page := positiveInt(c.Query("page"), 1)
	perPage := positiveInt(c.Query("per_page"), DefaultPerPage)
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	threshold := h.deps.Analyzer.Threshold()
	listings, total, err := h.deps.Products.ListProducts(c.Request.Context(), model.ProductQuery{
		Filter:    filter,
		Threshold: threshold,
		Offset:    (page - 1) * perPage,
		Limit:     perPage,
	})
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}

	rows := make([]ProductRow, 0, len(listings))
	for _, l := range listings {
		row := ProductRow{
			ID:             l.ID,
			Name:           l.Name,
			Status:         model.AnalysisStatus(l.AnalyzedAt, l.Confidence, threshold),
			AnalyzedAt:     l.AnalyzedAt,
			Confidence:     l.Confidence,
			GoogleCategory: l.GoogleCategory,
		}
		if l.Confidence != nil {
			percent := model.ConfidencePercent(*l.Confidence)
			row.ConfidencePercent = &percent
			row.ConfidenceClass = model.ConfidenceClass(*l.Confidence)
		}
		rows = append(rows, row)
	}

	h.logger.Debug("products listed",
		zap.String("filter", filter),
		zap.Int("page", page),
		zap.Int64("total", total),
	)

	JSONSuccess(c, ProductList{
		Products:   rows,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + int64(perPage) - 1) / int64(perPage),
	})
}

func positiveInt(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

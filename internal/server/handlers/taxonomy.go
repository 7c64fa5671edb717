package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"taxoai/internal/api"
	"taxoai/internal/model"
	"taxoai/internal/sanitize"
)

// SearchTaxonomies 搜索 Google 产品分类，空查询直接返回空列表
func (h *Handler) SearchTaxonomies(c *gin.Context) {
	query := sanitize.TextField(c.Query("query"))
	if strings.TrimSpace(query) == "" {
		JSONSuccess(c, model.TaxonomySearchResult{Categories: []model.TaxonomyCategory{}})
		return
	}

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 0 {
		limit = 0
	}

	result, err := h.deps.Taxonomies.SearchTaxonomies(c.Request.Context(), api.SearchParams{
		Query: query,
		Limit: limit,
	})
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}
	JSONSuccess(c, result)
}

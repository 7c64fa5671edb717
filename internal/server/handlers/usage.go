package handlers

import (
	"github.com/gin-gonic/gin"
)

// GetUsage 当前用量和是否允许分析，refresh=true 时绕过缓存
func (h *Handler) GetUsage(c *gin.Context) {
	refresh, err := parseBool(c.Query("refresh"), false, "refresh")
	if err != nil {
		JSONError(c, h.logger, err)
		return
	}
	JSONSuccess(c, h.deps.Usage.Status(c.Request.Context(), refresh))
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taxoai/internal/apperror"
)

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// JSONSuccess 返回成功响应
func JSONSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// JSONAbort 返回错误响应并终止后续处理
func JSONAbort(c *gin.Context, status int, message string, code apperror.Code) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      status,
		Message:   message,
		ErrorCode: string(code),
	})
}

// JSONError 领域错误返回 400，其它错误返回 500
func JSONError(c *gin.Context, logger *zap.Logger, err error) {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		logger.Debug("request rejected",
			zap.String("path", c.FullPath()),
			zap.String("error_code", string(appErr.Code)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:      http.StatusBadRequest,
			Message:   appErr.Message,
			ErrorCode: string(appErr.Code),
		})
		return
	}

	logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Code:    http.StatusInternalServerError,
		Message: "internal error",
		Error:   err.Error(),
	})
}

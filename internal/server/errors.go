package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, label := classifyError(err)
	body := gin.H{"error": label}
	var serviceErr *tuners.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if message := tuners.UserMessage(err); message != "" {
		body["message"] = message
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, tuners.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, tuners.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, tuners.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, tuners.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, tuners.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, tuners.ErrIndexUpdateFailed):
		return http.StatusInternalServerError, "index_update_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

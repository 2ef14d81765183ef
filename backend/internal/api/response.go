package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "graph-memory/backend/pkg/errors"
)

// respond writes the success envelope: {"success": true, ...payload}
func respond(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// fail writes the error envelope and picks the HTTP status from the error kind
func (h *Handler) fail(c *gin.Context, err error) {
	body := gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    apperrors.Code(err),
	}

	var linking *apperrors.ErrLinking
	if errors.As(err, &linking) {
		body["node_id"] = linking.NodeID
	}
	var validation *apperrors.ErrValidation
	if errors.As(err, &validation) {
		body["field"] = validation.Field
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) int {
	t, _ := apperrors.TypeOf(err)
	switch t {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeLockBusy:
		return http.StatusConflict
	case apperrors.ErrorTypeConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

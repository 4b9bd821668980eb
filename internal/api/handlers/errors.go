package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/memoryorgan/internal/api/middleware"
	"github.com/Wikid82/memoryorgan/internal/services"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrAuthDenied), errors.Is(err, services.ErrOwnershipMismatch):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrWriteConflict), errors.Is(err, services.ErrRecordDeleted):
		return http.StatusConflict
	case errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status. Internal failures are logged
// and their details kept out of the response.
func writeError(c *gin.Context, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.GetRequestLogger(c).WithField("action", action).WithError(err).Error("Request failed")
		if status == http.StatusGatewayTimeout {
			c.JSON(status, gin.H{"error": services.ErrTimeout.Error()})
			return
		}
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/bloodcell/internal/api/middleware"
	"github.com/timmy/bloodcell/internal/domain"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExplanationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {error, code} for err. Internal errors are logged and
// their details are not returned to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	reason := domain.ReasonFrom(err)
	if status == http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error("Request failed")
		reason.Message = "internal server error"
	}
	c.JSON(status, gin.H{
		"error": reason.Message,
		"code":  reason.Code,
	})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/visual-diff/internal/api/dto"
	"github.com/cuongbtq/visual-diff/internal/artifact"
	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/gin-gonic/gin"
)

// retryAfterSeconds is advertised on 409 responses for artifacts not yet written.
const retryAfterSeconds = "2"

// statusFor maps orchestrator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, artifact.ErrNotReady),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrJobNotTerminal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// abortWithError writes the error response. Server errors are logged and
// their details hidden.
func (h *JobHandler) abortWithError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error(msg,
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg})
		return
	}
	if errors.Is(err, artifact.ErrNotReady) {
		c.Header("Retry-After", retryAfterSeconds)
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg})
}

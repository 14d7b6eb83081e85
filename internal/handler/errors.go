package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"slab-scout/internal/domain"

	"github.com/gin-gonic/gin"
)

const retryAfterSecs = 30

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// writeError maps domain errors onto status codes. Unknown errors are
// logged and reported as a generic 500.
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"

	var upstream *domain.UpstreamError
	switch {
	case domain.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "upstream rate limited, retry later"
		c.Header("Retry-After", strconv.Itoa(retryAfterSecs))
	case errors.As(err, &upstream):
		status, msg = http.StatusBadGateway, domain.PublicMessage(upstream)
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"path", c.FullPath(),
			"status", status,
			"request_id", requestIDFrom(c),
			"error", err,
		)
	}
	c.JSON(status, ErrorResponse{Success: false, Error: msg, RequestID: requestIDFrom(c)})
}

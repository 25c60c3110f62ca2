package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"classpresence/internal/apperr"
)

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, apperr.ErrSessionClosed) {
		return http.StatusGone
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		c.JSON(status, gin.H{"error": e.Reason, "kind": e.Kind.String()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID  = "X-Request-ID"
	ContextRequestID = "request_id"
)

// RequestLogger tags each request with an id, logs it once finished and
// turns panics into a 500 envelope.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(ContextRequestID, rid)
		c.Header(HeaderRequestID, rid)

		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error().
					Str("request_id", rid).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Str("panic", fmt.Sprintf("%v", recovered)).
					Bytes("stack", debug.Stack()).
					Msg("request panicked")
				response.Abort(c, http.StatusInternalServerError, apperr.CodeInternal, "internal server error")
				return
			}
			logRequest(log, c, rid, start)
		}()

		c.Next()
	}
}

func logRequest(log zerolog.Logger, c *gin.Context, rid string, start time.Time) {
	status := c.Writer.Status()
	ev := log.Info()
	switch {
	case status >= http.StatusInternalServerError:
		ev = log.Error()
	case status >= http.StatusBadRequest:
		ev = log.Warn()
	}
	if len(c.Errors) > 0 {
		ev = ev.Str("error", c.Errors.String())
	}
	ev.Str("request_id", rid).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("query", c.Request.URL.RawQuery).
		Int("status", status).
		Dur("latency", time.Since(start)).
		Str("client_ip", c.ClientIP()).
		Int64("user_id", c.GetInt64(ContextUserID)).
		Str("role", c.GetString(ContextRole)).
		Msg("request")
}

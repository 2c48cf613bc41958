package apierr

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    Kind   `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Abort writes err as an envelope and aborts the gin chain. Internal and
// upstream causes are logged, never sent.
func Abort(c *gin.Context, err error) {
	e := As(err)
	status := e.Kind.Status()
	if status >= 500 {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"kind", string(e.Kind),
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, Envelope{
		Success: false,
		Message: e.Message,
		Code:    e.Kind,
		Details: e.Details,
	})
}

// OK writes a success envelope.
func OK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// Body builds a response whose fields sit at the top level next to success
// and message. An empty message is omitted.
func Body(success bool, message string, fields gin.H) gin.H {
	out := gin.H{"success": success}
	if message != "" {
		out["message"] = message
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Fields writes a success Body.
func Fields(c *gin.Context, status int, message string, fields gin.H) {
	c.JSON(status, Body(true, message, fields))
}

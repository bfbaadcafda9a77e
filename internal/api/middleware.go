package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"notification-hub/internal/common/errors"

	"github.com/gin-gonic/gin"
)

const (
	userIDHeader  = "X-User-ID"
	userIDContext = "userId"
)

// requireUser rejects requests that carry no user identity.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(userIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "UNAUTHENTICATED", "message": "missing " + userIDHeader + " header"},
			})
			return
		}
		c.Set(userIDContext, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDContext)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}
		if userID := currentUser(c); userID != "" {
			fields["userId"] = userID
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			s.logger.Error("request failed", fields)
		case c.FullPath() == "/health" || c.FullPath() == "/metrics":
			s.logger.Debug("request handled", fields)
		default:
			s.logger.Info("request handled", fields)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		s.logger.Error("panic while handling request", map[string]interface{}{
			"path":  c.Request.URL.Path,
			"panic": fmt.Sprint(recovered),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": string(errors.ErrCodeInternal), "message": "internal server error"},
		})
	})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	stdErr := errors.Normalize(err)

	status := http.StatusInternalServerError
	switch stdErr.Code {
	case errors.ErrCodeValidationFailed:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeStorage, errors.ErrCodePreferenceLookupFailed, errors.ErrCodeChannel, errors.ErrCodePublishFailed:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", map[string]interface{}{
			"path":      c.Request.URL.Path,
			"errorCode": string(stdErr.Code),
			"error":     err,
		})
	}

	body := gin.H{"code": string(stdErr.Code), "message": stdErr.Message}
	if stdErr.Details != "" && status < http.StatusInternalServerError {
		body["details"] = stdErr.Details
	}
	if field, ok := stdErr.Metadata["field"]; ok {
		body["field"] = field
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

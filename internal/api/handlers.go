package api

import (
	"net/http"
	"strconv"
	"strings"

	"notification-hub/internal/common/errors"
	"notification-hub/internal/dispatch"
	"notification-hub/internal/models"

	"github.com/gin-gonic/gin"
)

// ==========================
// Notifications
// ==========================

func (s *Server) handleList(c *gin.Context) {
	limit, err := positiveQuery(c, "limit", s.config.PageLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	page, err := positiveQuery(c, "page", 1)
	if err != nil {
		s.writeError(c, err)
		return
	}

	items, err := s.deps.Inbox.List(c.Request.Context(), currentUser(c), limit, page)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page": page})
}

func (s *Server) handleUnreadCount(c *gin.Context) {
	count, err := s.deps.Inbox.UnreadCount(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": count})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	n, changed, err := s.deps.Inbox.MarkRead(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification": n, "changed": changed})
}

func (s *Server) handleMarkAllRead(c *gin.Context) {
	count, err := s.deps.Inbox.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": count})
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	res, err := s.deps.Inbox.Delete(c.Request.Context(), id, currentUser(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !res.Deleted {
		s.writeError(c, errors.NewNotFoundError("notification", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": res.ID, "deleted": true, "wasUnread": res.WasUnread})
}

// ==========================
// Preferences
// ==========================

func (s *Server) handleGetPreferences(c *gin.Context) {
	prefs, err := s.deps.Preferences.Get(c.Request.Context(), currentUser(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

func (s *Server) handleSetPreferences(c *gin.Context) {
	var update models.Preferences
	if err := c.ShouldBindJSON(&update); err != nil {
		s.writeError(c, errors.NewValidationError("preferences", "body must be an object of boolean flags: "+err.Error()))
		return
	}
	if len(update) == 0 {
		s.writeError(c, errors.NewValidationError("preferences", "at least one preference is required"))
		return
	}
	for key := range update {
		if strings.TrimSpace(key) == "" {
			s.writeError(c, errors.NewValidationError("preferences", "preference keys must not be blank"))
			return
		}
	}

	merged, err := s.deps.Preferences.Set(c.Request.Context(), currentUser(c), update)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": merged})
}

// ==========================
// Dispatch
// ==========================

func (s *Server) handleCreate(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.NewValidationError("body", err.Error()))
		return
	}

	res, err := s.deps.Dispatcher.CreateOne(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Status == dispatch.StatusCreated {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (s *Server) handleCreateBulk(c *gin.Context) {
	var req dispatch.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.NewValidationError("body", err.Error()))
		return
	}

	res, err := s.deps.Dispatcher.CreateBulk(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	failed := res.Failed()
	if failed == nil {
		failed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"results": res.Results,
		"created": res.Count(dispatch.StatusCreated),
		"skipped": res.Count(dispatch.StatusSkipped),
		"failed":  res.Count(dispatch.StatusFailed),
		"retry":   failed,
	})
}

func positiveQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errors.NewValidationError(name, "must be a positive integer")
	}
	return v, nil
}

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pinebranch/filevault/internal/audit"
)

func (h *httpHandler) handleBackupCreate(c *gin.Context) {
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	snapshot, err := h.backups.Create(c.Request.Context(), currentPrincipal(c), fileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

func (h *httpHandler) handleBackupList(c *gin.Context) {
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	views, err := h.backups.List(c.Request.Context(), currentPrincipal(c), fileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": views})
}

func (h *httpHandler) handleBackupRestore(c *gin.Context) {
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version"})
		return
	}
	if err := h.backups.Restore(c.Request.Context(), currentPrincipal(c), fileID, version); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": true})
}

func (h *httpHandler) handleBackupDelete(c *gin.Context) {
	backupID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.backups.Delete(c.Request.Context(), currentPrincipal(c), backupID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleAuditList(c *gin.Context) {
	if h.auditLog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit_disabled"})
		return
	}

	page := parsePositiveInt(c.Query("page"), 1)
	pageSize := parsePositiveInt(c.Query("pageSize"), defaultPageSize)

	filter := audit.ListFilter{
		Action:     c.Query("action"),
		TargetType: c.Query("targetType"),
	}
	if rawActorID := c.Query("actorId"); rawActorID != "" {
		actorID, err := strconv.ParseUint(rawActorID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_actor_id"})
			return
		}
		filter.ActorID = actorID
	}
	if rawFrom := c.Query("from"); rawFrom != "" {
		from, err := time.Parse(time.RFC3339, rawFrom)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_from"})
			return
		}
		filter.From = from
	}
	if rawTo := c.Query("to"); rawTo != "" {
		to, err := time.Parse(time.RFC3339, rawTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_to"})
			return
		}
		filter.To = to
	}

	result, err := h.auditLog.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": result.Total, "entries": result.Entries})
}

package server

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pinebranch/filevault/internal/files"
)

const (
	defaultPageSize = 10
	uploadFormField = "file"
)

type fileListResponsePayload struct {
	Total int64                 `json:"total"`
	Files []files.AnnotatedFile `json:"files"`
}

func (h *httpHandler) handleFileUpload(c *gin.Context) {
	fileHeader, err := c.FormFile(uploadFormField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	content, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
		return
	}
	defer content.Close()

	record, err := h.files.Upload(c.Request.Context(), currentPrincipal(c), fileHeader.Filename, content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *httpHandler) handleFileList(c *gin.Context) {
	principal := currentPrincipal(c)

	page := parsePositiveInt(c.Query("page"), 1)
	pageSize := parsePositiveInt(c.Query("pageSize"), defaultPageSize)

	filter := files.ListFilter{
		TypeFilter: c.Query("fileType"),
		Keyword:    c.Query("keyword"),
	}
	if rawTagID := c.Query("tagId"); rawTagID != "" {
		tagID, err := strconv.ParseUint(rawTagID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tag_id"})
			return
		}
		filter.TagID = &tagID
	}
	// Admins may narrow the all-owners scope; regular callers are scoped by
	// the service regardless of this parameter.
	if rawOwnerID := c.Query("ownerId"); rawOwnerID != "" && principal.IsAdmin() {
		ownerID, err := strconv.ParseUint(rawOwnerID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner_id"})
			return
		}
		filter.OwnerID = &ownerID
	}

	result, err := h.files.List(c.Request.Context(), principal, filter, page, pageSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileListResponsePayload{Total: result.Total, Files: result.Files})
}

func (h *httpHandler) handleFileGet(c *gin.Context) {
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	record, err := h.files.GetByID(c.Request.Context(), currentPrincipal(c), fileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleFileDelete(c *gin.Context) {
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.files.Delete(c.Request.Context(), currentPrincipal(c), fileID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleFileDownload(c *gin.Context) {
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	result, err := h.files.Download(c.Request.Context(), currentPrincipal(c), fileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer result.Content.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(result.DisplayName))
	c.Status(http.StatusOK)

	// Headers are already out; a mid-stream failure terminates the transfer
	// rather than producing a silently truncated success.
	if _, err := io.Copy(c.Writer, result.Content); err != nil {
		h.logger.Warn("download transfer terminated",
			zap.Uint64("file_id", fileID),
			zap.Error(err))
		c.Abort()
	}
}

func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return value, true
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

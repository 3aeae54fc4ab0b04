package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type tagCreatePayload struct {
	Name string `json:"name"`
}

type tagLinkPayload struct {
	FileID uint64 `json:"file_id"`
	TagID  uint64 `json:"tag_id"`
}

func (h *httpHandler) handleTagCreate(c *gin.Context) {
	var request tagCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tag, err := h.tags.Create(c.Request.Context(), currentPrincipal(c), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func (h *httpHandler) handleTagList(c *gin.Context) {
	owned, err := h.tags.ListByOwner(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": owned})
}

func (h *httpHandler) handleTagDelete(c *gin.Context) {
	tagID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.tags.Delete(c.Request.Context(), currentPrincipal(c), tagID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleTagAttach(c *gin.Context) {
	var request tagLinkPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.FileID == 0 || request.TagID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.tags.Attach(c.Request.Context(), request.FileID, request.TagID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attached": true})
}

func (h *httpHandler) handleTagDetach(c *gin.Context) {
	var request tagLinkPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.FileID == 0 || request.TagID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.tags.Detach(c.Request.Context(), request.FileID, request.TagID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detached": true})
}

func (h *httpHandler) handleTagsForFile(c *gin.Context) {
	fileID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	linked, err := h.tags.TagsForFile(c.Request.Context(), fileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": linked})
}

func (h *httpHandler) handleFilesByTag(c *gin.Context) {
	tagID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	matches, err := h.tags.FilesByTag(c.Request.Context(), currentPrincipal(c), tagID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": matches})
}

// Package server exposes the core services over HTTP. It performs
// transport-level authentication only; ownership checks stay inside the
// services.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pinebranch/filevault/internal/audit"
	"github.com/pinebranch/filevault/internal/auth"
	"github.com/pinebranch/filevault/internal/backups"
	"github.com/pinebranch/filevault/internal/faults"
	"github.com/pinebranch/filevault/internal/files"
	"github.com/pinebranch/filevault/internal/tags"
	"github.com/pinebranch/filevault/internal/users"
)

const principalContextKey = "filevault_principal"

var (
	errMissingTokenIssuer    = errors.New("token issuer dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingFilesService   = errors.New("files service dependency required")
	errMissingTagsService    = errors.New("tags service dependency required")
	errMissingBackupsService = errors.New("backups service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// Dependencies wires the router to the services it fronts.
type Dependencies struct {
	TokenIssuer    *auth.TokenIssuer
	UsersService   *users.Service
	FilesService   *files.Service
	TagsService    *tags.Service
	BackupsService *backups.Service
	AuditService   *audit.Service
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.FilesService == nil {
		return nil, errMissingFilesService
	}
	if deps.TagsService == nil {
		return nil, errMissingTagsService
	}
	if deps.BackupsService == nil {
		return nil, errMissingBackupsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenIssuer,
		users:    deps.UsersService,
		files:    deps.FilesService,
		tags:     deps.TagsService,
		backups:  deps.BackupsService,
		auditLog: deps.AuditService,
		logger:   logger,
	}

	router.POST("/api/users/register", handler.handleRegister)
	router.POST("/api/users/login", handler.handleLogin)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	{
		protected.POST("/files", handler.handleFileUpload)
		protected.GET("/files", handler.handleFileList)
		protected.GET("/files/:id", handler.handleFileGet)
		protected.GET("/files/:id/download", handler.handleFileDownload)
		protected.DELETE("/files/:id", handler.handleFileDelete)
		protected.GET("/files/:id/tags", handler.handleTagsForFile)
		protected.POST("/files/:id/backups", handler.handleBackupCreate)
		protected.GET("/files/:id/backups", handler.handleBackupList)
		protected.POST("/files/:id/backups/:version/restore", handler.handleBackupRestore)

		protected.POST("/tags", handler.handleTagCreate)
		protected.GET("/tags", handler.handleTagList)
		protected.DELETE("/tags/:id", handler.handleTagDelete)
		protected.GET("/tags/:id/files", handler.handleFilesByTag)
		protected.POST("/tags/attach", handler.handleTagAttach)
		protected.POST("/tags/detach", handler.handleTagDetach)

		protected.DELETE("/backups/:id", handler.handleBackupDelete)

		protected.GET("/logs", handler.requireAdmin, handler.handleAuditList)
	}

	return router, nil
}

type httpHandler struct {
	tokens   *auth.TokenIssuer
	users    *users.Service
	files    *files.Service
	tags     *tags.Service
	backups  *backups.Service
	auditLog *audit.Service
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !currentPrincipal(c).IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	c.Next()
}

func currentPrincipal(c *gin.Context) auth.Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}
	}
	principal, ok := value.(auth.Principal)
	if !ok {
		return auth.Principal{}
	}
	return principal
}

// respondError maps the fault taxonomy onto HTTP statuses and reports the
// stable operation code in the body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	code := faults.CodeOf(err)
	if code == "" {
		code = "internal_error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, faults.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, faults.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, faults.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, faults.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

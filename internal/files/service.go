// Package files implements the file catalog: upload, filtered listing,
// lookup, soft delete, and streaming download of owned documents.
package files

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pinebranch/filevault/internal/audit"
	"github.com/pinebranch/filevault/internal/auth"
	"github.com/pinebranch/filevault/internal/faults"
	"github.com/pinebranch/filevault/internal/storage"
	"github.com/pinebranch/filevault/internal/tags"
)

const defaultMaxUploadBytes = 50 << 20

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingBlobStore = errors.New("blob store is required")
	errMissingTagIndex  = errors.New("tag index is required")
	noOpLogger          = zap.NewNop()
)

const (
	opUpload   = "files.upload"
	opList     = "files.list"
	opGetByID  = "files.get_by_id"
	opDelete   = "files.delete"
	opDownload = "files.download"
)

// ServiceConfig describes the dependencies of the file catalog.
type ServiceConfig struct {
	Database       *gorm.DB
	Blobs          storage.BlobStore
	Tags           *tags.Service
	Audit          audit.Recorder
	Clock          func() time.Time
	Logger         *zap.Logger
	MaxUploadBytes int64
}

// Service implements the file catalog operations.
type Service struct {
	db             *gorm.DB
	blobs          storage.BlobStore
	tags           *tags.Service
	audit          audit.Recorder
	clock          func() time.Time
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewService constructs the file catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Blobs == nil {
		return nil, errMissingBlobStore
	}
	if cfg.Tags == nil {
		return nil, errMissingTagIndex
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Service{
		db:             cfg.Database,
		blobs:          cfg.Blobs,
		tags:           cfg.Tags,
		audit:          recorder,
		clock:          clock,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

// Upload streams content into the blob store and registers the metadata row.
// The blob write completes before the row is committed, so a committed row
// never references a missing blob. If the row insert fails the blob stays
// behind as an orphan; reclamation is out of scope.
func (s *Service) Upload(ctx context.Context, principal auth.Principal, displayName string, content io.Reader) (File, error) {
	trimmedName := strings.TrimSpace(displayName)
	if trimmedName == "" {
		return File{}, faults.New(opUpload, "missing_display_name", faults.ErrValidation)
	}
	if content == nil {
		return File{}, faults.New(opUpload, "missing_content", faults.ErrValidation)
	}

	buffered := bufio.NewReader(content)
	if _, err := buffered.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, faults.New(opUpload, "empty_content", faults.ErrValidation)
		}
		return File{}, faults.New(opUpload, "read_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	bounded := &boundedReader{source: buffered, remaining: s.maxUploadBytes + 1}
	storageKey, size, err := s.blobs.Put(ctx, bounded)
	if err != nil {
		if errors.Is(err, errContentTooLarge) {
			return File{}, faults.New(opUpload, "oversize_content", faults.ErrValidation)
		}
		s.logError(opUpload, "blob_write_failed", err)
		return File{}, faults.New(opUpload, "blob_write_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	record := File{
		StorageKey:  storageKey,
		DisplayName: trimmedName,
		SizeBytes:   size,
		Extension:   strings.ToLower(filepath.Ext(trimmedName)),
		OwnerID:     principal.UserID,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		// The blob is orphaned here; accepted, not rolled back.
		s.logError(opUpload, "row_insert_failed", err, zap.String("orphaned_key", storageKey))
		return File{}, faults.New(opUpload, "row_insert_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionFileUpload,
		TargetType: audit.TargetFile,
		TargetID:   record.ID,
		Details:    trimmedName,
	})
	return record, nil
}

// List returns one page of non-deleted files in the caller's scope, newest
// first, each annotated with its full tag list. Regular principals are
// always scoped to their own files; the elevated role may list any scope.
func (s *Service) List(ctx context.Context, principal auth.Principal, filter ListFilter, page, pageSize int) (ListResult, error) {
	if page < 1 || pageSize < 1 {
		return ListResult{}, faults.New(opList, "invalid_page", faults.ErrValidation)
	}
	if !principal.IsAdmin() {
		ownerID := principal.UserID
		filter.OwnerID = &ownerID
	}

	query := s.db.WithContext(ctx).Model(&File{})
	for _, p := range buildPredicates(filter) {
		query = query.Where(p.expr, p.args...)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err)
		return ListResult{}, faults.New(opList, "count_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	var matches []File
	if err := query.
		Order("files.created_at DESC, files.id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&matches).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return ListResult{}, faults.New(opList, "query_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	fileIDs := make([]uint64, 0, len(matches))
	for _, record := range matches {
		fileIDs = append(fileIDs, record.ID)
	}
	tagsByFile, err := s.tags.TagsForFiles(ctx, fileIDs)
	if err != nil {
		return ListResult{}, err
	}

	annotated := make([]AnnotatedFile, 0, len(matches))
	for _, record := range matches {
		annotated = append(annotated, AnnotatedFile{File: record, Tags: tagsByFile[record.ID]})
	}
	return ListResult{Total: total, Files: annotated}, nil
}

// GetByID returns a non-deleted file the caller may access.
func (s *Service) GetByID(ctx context.Context, principal auth.Principal, fileID uint64) (File, error) {
	return s.resolve(ctx, opGetByID, principal, fileID)
}

// Delete flips the tombstone. A second delete reports NotFound because the
// first already made the file invisible.
func (s *Service) Delete(ctx context.Context, principal auth.Principal, fileID uint64) error {
	record, err := s.resolve(ctx, opDelete, principal, fileID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).
		Model(&File{}).
		Where("id = ?", record.ID).
		Update("is_deleted", true).Error; err != nil {
		s.logError(opDelete, "update_failed", err, zap.Uint64("file_id", fileID))
		return faults.New(opDelete, "update_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionFileDelete,
		TargetType: audit.TargetFile,
		TargetID:   record.ID,
		Details:    record.DisplayName,
	})
	return nil
}

// DownloadResult carries the metadata and open content stream for one
// download. The caller owns closing Content.
type DownloadResult struct {
	DisplayName string
	SizeBytes   int64
	Content     io.ReadCloser
}

// Download resolves the file and opens its blob. A catalog row whose blob
// has gone missing reports NotFound under a distinct code from an absent
// row.
func (s *Service) Download(ctx context.Context, principal auth.Principal, fileID uint64) (DownloadResult, error) {
	record, err := s.resolve(ctx, opDownload, principal, fileID)
	if err != nil {
		return DownloadResult{}, err
	}

	if !s.blobs.Exists(ctx, record.StorageKey) {
		s.logError(opDownload, "blob_missing", nil, zap.Uint64("file_id", fileID), zap.String("storage_key", record.StorageKey))
		return DownloadResult{}, faults.New(opDownload, "blob_missing", faults.ErrNotFound)
	}

	content, err := s.blobs.Open(ctx, record.StorageKey)
	if err != nil {
		s.logError(opDownload, "blob_open_failed", err, zap.Uint64("file_id", fileID))
		return DownloadResult{}, faults.New(opDownload, "blob_open_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionFileDownload,
		TargetType: audit.TargetFile,
		TargetID:   record.ID,
		Details:    record.DisplayName,
	})
	return DownloadResult{
		DisplayName: record.DisplayName,
		SizeBytes:   record.SizeBytes,
		Content:     content,
	}, nil
}

// resolve fetches a non-deleted file and applies the owner-or-elevated-role
// rule.
func (s *Service) resolve(ctx context.Context, operation string, principal auth.Principal, fileID uint64) (File, error) {
	var record File
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", fileID, false).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return File{}, faults.New(operation, "file_not_found", faults.ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.Uint64("file_id", fileID))
		return File{}, faults.New(operation, "select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	if !principal.CanAccess(record.OwnerID) {
		return File{}, faults.New(operation, "not_owner", faults.ErrForbidden)
	}
	return record, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("file catalog error", attrs...)
}

var errContentTooLarge = errors.New("content exceeds upload limit")

// boundedReader hands out at most remaining bytes and fails on the next
// read past the limit, so an oversize upload aborts the blob write instead
// of landing truncated.
type boundedReader struct {
	source    io.Reader
	remaining int64
}

func (r *boundedReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, errContentTooLarge
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.source.Read(p)
	r.remaining -= int64(n)
	return n, err
}

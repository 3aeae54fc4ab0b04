// Package tags owns the tag-to-file association layer. Tags live
// independently of file content; the file catalog joins through this
// package when annotating listings.
package tags

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pinebranch/filevault/internal/audit"
	"github.com/pinebranch/filevault/internal/auth"
	"github.com/pinebranch/filevault/internal/faults"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opCreateTag    = "tags.create"
	opListTags     = "tags.list"
	opAttachTag    = "tags.attach"
	opDetachTag    = "tags.detach"
	opTagsForFile  = "tags.for_file"
	opDeleteTag    = "tags.delete"
	opFilesByTag   = "tags.files_by_tag"
	maxTagNameSize = 190
)

// ServiceConfig describes the dependencies of the tag index.
type ServiceConfig struct {
	Database *gorm.DB
	Audit    audit.Recorder
	Logger   *zap.Logger
}

// Service implements the tag index operations.
type Service struct {
	db     *gorm.DB
	audit  audit.Recorder
	logger *zap.Logger
}

// NewService constructs the tag index service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, faults.New(opCreateTag, "missing_database", errMissingDatabase)
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, audit: recorder, logger: logger}, nil
}

// Create inserts an owner-scoped tag.
func (s *Service) Create(ctx context.Context, principal auth.Principal, name string) (Tag, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Tag{}, faults.New(opCreateTag, "empty_name", faults.ErrValidation)
	}
	if len(trimmed) > maxTagNameSize {
		return Tag{}, faults.New(opCreateTag, "name_too_long", faults.ErrValidation)
	}

	tag := Tag{Name: trimmed, OwnerID: principal.UserID}
	if err := s.db.WithContext(ctx).Create(&tag).Error; err != nil {
		s.logError(opCreateTag, "insert_failed", err)
		return Tag{}, faults.New(opCreateTag, "insert_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionTagCreate,
		TargetType: audit.TargetTag,
		TargetID:   tag.ID,
		Details:    trimmed,
	})
	return tag, nil
}

// ListByOwner returns the caller's tags ordered by name.
func (s *Service) ListByOwner(ctx context.Context, principal auth.Principal) ([]Tag, error) {
	var owned []Tag
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", principal.UserID).
		Order("name ASC").
		Find(&owned).Error; err != nil {
		s.logError(opListTags, "query_failed", err)
		return nil, faults.New(opListTags, "query_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return owned, nil
}

// Attach links a tag to a file. Linking an already linked pair is a no-op.
// The tag's owner is deliberately not matched against the file's owner.
func (s *Service) Attach(ctx context.Context, fileID, tagID uint64) error {
	link := FileTag{FileID: fileID, TagID: tagID}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error; err != nil {
		s.logError(opAttachTag, "insert_failed", err)
		return faults.New(opAttachTag, "insert_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return nil
}

// Detach removes the link between a tag and a file. Detaching an unlinked
// pair is a no-op.
func (s *Service) Detach(ctx context.Context, fileID, tagID uint64) error {
	if err := s.db.WithContext(ctx).
		Where("file_id = ? AND tag_id = ?", fileID, tagID).
		Delete(&FileTag{}).Error; err != nil {
		s.logError(opDetachTag, "delete_failed", err)
		return faults.New(opDetachTag, "delete_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return nil
}

// TagsForFile returns every tag linked to the file, ordered by name.
func (s *Service) TagsForFile(ctx context.Context, fileID uint64) ([]Tag, error) {
	var linked []Tag
	if err := s.db.WithContext(ctx).
		Joins("JOIN file_tags ON file_tags.tag_id = tags.id").
		Where("file_tags.file_id = ?", fileID).
		Order("tags.name ASC").
		Find(&linked).Error; err != nil {
		s.logError(opTagsForFile, "query_failed", err)
		return nil, faults.New(opTagsForFile, "query_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return linked, nil
}

// TagsForFiles returns the tags for a set of files keyed by file id, used
// by the catalog to annotate one listing page with a single query.
func (s *Service) TagsForFiles(ctx context.Context, fileIDs []uint64) (map[uint64][]Tag, error) {
	annotated := make(map[uint64][]Tag, len(fileIDs))
	if len(fileIDs) == 0 {
		return annotated, nil
	}

	type taggedRow struct {
		Tag
		FileID uint64 `gorm:"column:file_id"`
	}
	var rows []taggedRow
	if err := s.db.WithContext(ctx).
		Model(&Tag{}).
		Select("tags.*, file_tags.file_id AS file_id").
		Joins("JOIN file_tags ON file_tags.tag_id = tags.id").
		Where("file_tags.file_id IN ?", fileIDs).
		Order("tags.name ASC").
		Find(&rows).Error; err != nil {
		s.logError(opTagsForFile, "query_failed", err)
		return nil, faults.New(opTagsForFile, "query_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	for _, row := range rows {
		annotated[row.FileID] = append(annotated[row.FileID], row.Tag)
	}
	return annotated, nil
}

// Delete removes an owned tag and every link referencing it as one logical
// unit. Links go first so a failure never leaves a dangling link row.
func (s *Service) Delete(ctx context.Context, principal auth.Principal, tagID uint64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tag_id = ?", tagID).Delete(&FileTag{}).Error; err != nil {
			return faults.New(opDeleteTag, "unlink_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
		}
		result := tx.Where("id = ? AND owner_id = ?", tagID, principal.UserID).Delete(&Tag{})
		if result.Error != nil {
			return faults.New(opDeleteTag, "delete_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, result.Error))
		}
		if result.RowsAffected == 0 {
			return faults.New(opDeleteTag, "tag_not_found", faults.ErrNotFound)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteTag, "transaction_failed", txErr, zap.Uint64("tag_id", tagID))
		return txErr
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionTagDelete,
		TargetType: audit.TargetTag,
		TargetID:   tagID,
	})
	return nil
}

// TaggedFile is a file row as seen through the tag index. It avoids pulling
// the catalog package in as a dependency.
type TaggedFile struct {
	ID          uint64    `gorm:"column:id" json:"id"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`
	SizeBytes   int64     `gorm:"column:size_bytes" json:"size_bytes"`
	Extension   string    `gorm:"column:extension" json:"extension"`
	OwnerID     uint64    `gorm:"column:owner_id" json:"owner_id"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

// FilesByTag lists the caller's non-deleted files linked to the tag, newest
// first.
func (s *Service) FilesByTag(ctx context.Context, principal auth.Principal, tagID uint64) ([]TaggedFile, error) {
	var matches []TaggedFile
	if err := s.db.WithContext(ctx).
		Table("files").
		Select("files.id, files.display_name, files.size_bytes, files.extension, files.owner_id, files.created_at").
		Joins("JOIN file_tags ON file_tags.file_id = files.id").
		Where("file_tags.tag_id = ? AND files.owner_id = ? AND files.is_deleted = ?", tagID, principal.UserID, false).
		Order("files.created_at DESC, files.id DESC").
		Find(&matches).Error; err != nil {
		s.logError(opFilesByTag, "query_failed", err)
		return nil, faults.New(opFilesByTag, "query_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return matches, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tag index error", attrs...)
}

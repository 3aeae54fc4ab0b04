// Package backups implements the versioned backup engine: snapshot
// creation with bounded retention, listing, point-in-time restore, and
// retirement of individual snapshots.
package backups

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pinebranch/filevault/internal/audit"
	"github.com/pinebranch/filevault/internal/auth"
	"github.com/pinebranch/filevault/internal/faults"
	"github.com/pinebranch/filevault/internal/files"
	"github.com/pinebranch/filevault/internal/storage"
)

// DefaultRetention bounds how many snapshots survive per file unless
// configured otherwise.
const DefaultRetention = 5

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingBlobStore = errors.New("blob store is required")
	noOpLogger          = zap.NewNop()
)

const (
	opCreate  = "backups.create"
	opList    = "backups.list"
	opRestore = "backups.restore"
	opDelete  = "backups.delete"
)

// ServiceConfig describes the dependencies of the backup engine.
type ServiceConfig struct {
	Database *gorm.DB
	Blobs    storage.BlobStore
	Audit    audit.Recorder
	Clock    func() time.Time
	Logger   *zap.Logger
	// Retention is the per-file snapshot bound K; DefaultRetention when zero.
	Retention int
}

// Service implements the backup engine operations.
type Service struct {
	db        *gorm.DB
	blobs     storage.BlobStore
	audit     audit.Recorder
	clock     func() time.Time
	logger    *zap.Logger
	retention int
}

// NewService constructs the backup engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Blobs == nil {
		return nil, errMissingBlobStore
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
	retention := cfg.Retention
	if retention < 1 {
		retention = DefaultRetention
	}
	return &Service{
		db:        cfg.Database,
		blobs:     cfg.Blobs,
		audit:     recorder,
		clock:     clock,
		logger:    logger,
		retention: retention,
	}, nil
}

// Create snapshots the file's current content as the next version and
// prunes snapshots beyond the retention bound. The whole
// compute-snapshot-insert-prune sequence runs inside one transaction
// holding the file row lock, so two concurrent creates for the same file
// serialize while creates for different files proceed independently. The
// snapshot blob is durable before the row commits.
func (s *Service) Create(ctx context.Context, principal auth.Principal, fileID uint64) (Backup, error) {
	var created Backup
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file files.File
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND is_deleted = ?", fileID, false).
			Take(&file).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return faults.New(opCreate, "file_not_found", faults.ErrNotFound)
		}
		if err != nil {
			return faults.New(opCreate, "file_select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
		}
		if !principal.CanAccess(file.OwnerID) {
			return faults.New(opCreate, "not_owner", faults.ErrForbidden)
		}

		var latestVersion int64
		if err := tx.Model(&Backup{}).
			Where("file_id = ?", fileID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latestVersion).Error; err != nil {
			return faults.New(opCreate, "version_select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
		}

		snapshotKey, err := s.blobs.Copy(ctx, file.StorageKey)
		if err != nil {
			// Nothing was inserted; a failed copy leaves no visible blob.
			return faults.New(opCreate, "blob_copy_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
		}

		created = Backup{
			FileID:     fileID,
			StorageKey: snapshotKey,
			Version:    latestVersion + 1,
			CreatedAt:  s.clock().UTC(),
		}
		if err := tx.Create(&created).Error; err != nil {
			// The snapshot blob is orphaned here; accepted, not rolled back.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return faults.New(opCreate, "version_race", faults.ErrConflict)
			}
			return faults.New(opCreate, "row_insert_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
		}

		return s.prune(tx, fileID)
	})
	if txErr != nil {
		s.logError(opCreate, txErr, zap.Uint64("file_id", fileID))
		return Backup{}, txErr
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionBackupCreate,
		TargetType: audit.TargetBackup,
		TargetID:   created.ID,
		Details:    "version " + strconv.FormatInt(created.Version, 10),
	})
	return created, nil
}

// prune hard-deletes every snapshot ranked beyond the retention bound by
// version order, newest first. Runs inside the creating transaction so the
// prune never races ahead of a not-yet-committed insert.
func (s *Service) prune(tx *gorm.DB, fileID uint64) error {
	var snapshots []Backup
	if err := tx.
		Where("file_id = ?", fileID).
		Order("version DESC").
		Find(&snapshots).Error; err != nil {
		return faults.New(opCreate, "prune_select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	if len(snapshots) <= s.retention {
		return nil
	}

	staleIDs := make([]uint64, 0, len(snapshots)-s.retention)
	for _, snapshot := range snapshots[s.retention:] {
		staleIDs = append(staleIDs, snapshot.ID)
	}
	if err := tx.Where("id IN ?", staleIDs).Delete(&Backup{}).Error; err != nil {
		return faults.New(opCreate, "prune_delete_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return nil
}

// List returns every snapshot of the file, newest version first, joined
// with the file's display name. Snapshots of a tombstoned file stay
// listable until explicitly deleted.
func (s *Service) List(ctx context.Context, principal auth.Principal, fileID uint64) ([]BackupView, error) {
	if _, err := s.resolveFile(ctx, opList, principal, fileID); err != nil {
		return nil, err
	}

	var views []BackupView
	if err := s.db.WithContext(ctx).
		Model(&Backup{}).
		Select("backups.id, backups.file_id, backups.version, backups.created_at, files.display_name AS file_name").
		Joins("JOIN files ON files.id = backups.file_id").
		Where("backups.file_id = ?", fileID).
		Order("backups.version DESC").
		Find(&views).Error; err != nil {
		s.logError(opList, err, zap.Uint64("file_id", fileID))
		return nil, faults.New(opList, "query_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	return views, nil
}

// Restore overwrites the live file's blob with the snapshot's content. The
// file row's recorded size and extension are deliberately left untouched,
// and no new snapshot is taken.
func (s *Service) Restore(ctx context.Context, principal auth.Principal, fileID uint64, version int64) error {
	file, err := s.resolveFile(ctx, opRestore, principal, fileID)
	if err != nil {
		return err
	}

	var snapshot Backup
	err = s.db.WithContext(ctx).
		Where("file_id = ? AND version = ?", fileID, version).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return faults.New(opRestore, "version_not_found", faults.ErrNotFound)
	}
	if err != nil {
		s.logError(opRestore, err, zap.Uint64("file_id", fileID), zap.Int64("version", version))
		return faults.New(opRestore, "version_select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	if err := s.blobs.Overwrite(ctx, file.StorageKey, snapshot.StorageKey); err != nil {
		s.logError(opRestore, err, zap.Uint64("file_id", fileID), zap.Int64("version", version))
		return faults.New(opRestore, "blob_overwrite_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionBackupRestore,
		TargetType: audit.TargetBackup,
		TargetID:   snapshot.ID,
		Details:    "version " + strconv.FormatInt(version, 10),
	})
	return nil
}

// Delete retires one snapshot. The row is hard-deleted; the blob stays
// behind. The caller must own the backing file or hold the elevated role.
func (s *Service) Delete(ctx context.Context, principal auth.Principal, backupID uint64) error {
	var snapshot Backup
	err := s.db.WithContext(ctx).
		Where("id = ?", backupID).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return faults.New(opDelete, "backup_not_found", faults.ErrNotFound)
	}
	if err != nil {
		s.logError(opDelete, err, zap.Uint64("backup_id", backupID))
		return faults.New(opDelete, "select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	if _, err := s.resolveFile(ctx, opDelete, principal, snapshot.FileID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&Backup{}, snapshot.ID).Error; err != nil {
		s.logError(opDelete, err, zap.Uint64("backup_id", backupID))
		return faults.New(opDelete, "delete_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	s.audit.Record(ctx, audit.Event{
		ActorID:    principal.UserID,
		Action:     audit.ActionBackupDelete,
		TargetType: audit.TargetBackup,
		TargetID:   snapshot.ID,
		Details:    "version " + strconv.FormatInt(snapshot.Version, 10),
	})
	return nil
}

// resolveFile loads the file row regardless of its tombstone (snapshots of
// a soft-deleted file remain reachable) and applies the
// owner-or-elevated-role rule.
func (s *Service) resolveFile(ctx context.Context, operation string, principal auth.Principal, fileID uint64) (files.File, error) {
	var file files.File
	err := s.db.WithContext(ctx).
		Where("id = ?", fileID).
		Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return files.File{}, faults.New(operation, "file_not_found", faults.ErrNotFound)
	}
	if err != nil {
		s.logError(operation, err, zap.Uint64("file_id", fileID))
		return files.File{}, faults.New(operation, "file_select_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}
	if !principal.CanAccess(file.OwnerID) {
		return files.File{}, faults.New(operation, "not_owner", faults.ErrForbidden)
	}
	return file, nil
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("backup engine error", attrs...)
}

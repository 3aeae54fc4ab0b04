package backups

import "time"

// Backup is one immutable snapshot of a file's content. Versions are
// assigned per file, strictly increasing, and rows are hard-deleted when
// pruned or retired; their blobs are never reclaimed here.
type Backup struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FileID     uint64    `gorm:"column:file_id;not null;uniqueIndex:idx_backups_file_version,priority:1" json:"file_id"`
	StorageKey string    `gorm:"column:storage_key;size:190;not null" json:"-"`
	Version    int64     `gorm:"column:version;not null;uniqueIndex:idx_backups_file_version,priority:2" json:"version"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Backup) TableName() string {
	return "backups"
}

// BackupView is a listing row joined with the owning file's display name.
type BackupView struct {
	ID         uint64    `gorm:"column:id" json:"id"`
	FileID     uint64    `gorm:"column:file_id" json:"file_id"`
	Version    int64     `gorm:"column:version" json:"version"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	FileName   string    `gorm:"column:file_name" json:"file_name"`
}

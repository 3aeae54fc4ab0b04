package files

import (
	"time"

	"github.com/pinebranch/filevault/internal/tags"
)

// File is the metadata record for one logical document. The storage key is
// assigned once at upload and never changes; deletion only flips the
// tombstone, the row and its blob persist.
type File struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StorageKey  string    `gorm:"column:storage_key;size:190;not null;uniqueIndex" json:"-"`
	DisplayName string    `gorm:"column:display_name;size:512;not null" json:"display_name"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null" json:"size_bytes"`
	Extension   string    `gorm:"column:extension;size:64;not null;default:''" json:"extension"`
	OwnerID     uint64    `gorm:"column:owner_id;not null;index:idx_files_owner_created,priority:1" json:"owner_id"`
	IsDeleted   bool      `gorm:"column:is_deleted;not null;default:false" json:"-"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index:idx_files_owner_created,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (File) TableName() string {
	return "files"
}

// AnnotatedFile is one listing row joined with its full tag list.
type AnnotatedFile struct {
	File
	Tags []tags.Tag `json:"tags"`
}

// ListResult is one page of annotated files plus the total match count.
type ListResult struct {
	Total int64
	Files []AnnotatedFile
}

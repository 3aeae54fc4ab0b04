package tags

import "time"

// Tag is a user-scoped label. Names are not unique: two owners can use the
// same name, and the same owner inserting a duplicate is tolerated rather
// than deduplicated.
type Tag struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:190;not null;index" json:"name"`
	OwnerID   uint64    `gorm:"column:owner_id;not null;index" json:"owner_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// FileTag joins files and tags. The pair is unique; re-attaching an existing
// pair is a no-op.
type FileTag struct {
	FileID uint64 `gorm:"column:file_id;primaryKey;autoIncrement:false" json:"file_id"`
	TagID  uint64 `gorm:"column:tag_id;primaryKey;autoIncrement:false;index" json:"tag_id"`
}

// TableName provides the explicit table binding for GORM.
func (FileTag) TableName() string {
	return "file_tags"
}

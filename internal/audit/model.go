package audit

import "time"

// Actions recorded by the core services.
const (
	ActionFileUpload    = "file.upload"
	ActionFileDownload  = "file.download"
	ActionFileDelete    = "file.delete"
	ActionBackupCreate  = "backup.create"
	ActionBackupRestore = "backup.restore"
	ActionBackupDelete  = "backup.delete"
	ActionTagCreate     = "tag.create"
	ActionTagDelete     = "tag.delete"
)

// Target types referenced by audit entries.
const (
	TargetFile   = "file"
	TargetBackup = "backup"
	TargetTag    = "tag"
)

// Event is the discrete record a core operation emits after it succeeds.
type Event struct {
	ActorID    uint64
	Action     string
	TargetType string
	TargetID   uint64
	Details    string
}

// Entry is the persisted form of an Event.
type Entry struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ActorID    uint64    `gorm:"column:actor_id;not null;index:idx_audit_actor_time,priority:1"`
	Action     string    `gorm:"column:action;size:64;not null;index"`
	TargetType string    `gorm:"column:target_type;size:32;not null"`
	TargetID   uint64    `gorm:"column:target_id;not null"`
	Details    string    `gorm:"column:details;type:text;not null;default:''"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime;index:idx_audit_actor_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "audit_entries"
}

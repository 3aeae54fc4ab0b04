package users

import "time"

// User is a local account. Authentication lives at the boundary of the
// system; the core services only ever see the derived principal.
type User struct {
	ID           uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"column:username;size:190;not null;uniqueIndex" json:"username"`
	PasswordHash string     `gorm:"column:password_hash;size:128;not null" json:"-"`
	Role         string     `gorm:"column:role;size:32;not null;default:'user'" json:"role"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account that owns alerts and realtime connections.
// AuthSubject holds the "sub" claim of the JWT issued by the auth provider.
type User struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	AuthSubject string     `gorm:"uniqueIndex;not null" json:"auth_subject"`
	Email       string     `gorm:"index" json:"email"`
	FullName    string     `json:"full_name"`
	Phone       string     `json:"phone"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MigrateUserModels runs database migrations for user-related models
func MigrateUserModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
	)
}

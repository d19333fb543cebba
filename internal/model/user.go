package model

import (
	"time"

	"gorm.io/gorm"
)

// User represents an authenticatable identity stored in the database.
// Identity is global: email and username are unique across all tenants.
// Tenant membership is recorded in TenantUser, never on the user itself;
// LastTenantID only remembers the most recently used tenant for convenience.
type User struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	Email        string         `json:"email" gorm:"type:varchar(100);uniqueIndex"`
	Username     string         `json:"username" gorm:"type:varchar(50);uniqueIndex"`
	Password     string         `json:"-" gorm:"type:varchar(255)"`
	FirstName    string         `json:"first_name" gorm:"type:varchar(100)"`
	LastName     string         `json:"last_name" gorm:"type:varchar(100)"`
	ManagerID    *uint          `json:"manager_id,omitempty" gorm:"index"` // Reporting line, used for team-scope visibility
	LastTenantID *uint          `json:"last_tenant_id,omitempty" gorm:"index"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
	Active       bool           `json:"active" gorm:"default:true"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

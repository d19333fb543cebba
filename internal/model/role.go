package model

import (
	"time"

	"gorm.io/gorm"
)

// Role is a named permission level. A nil TenantID marks a global default
// role shared by every tenant; a non-nil TenantID marks a custom role
// visible only within that tenant. Lower Level means more senior
// (Owner and Admin are level 1).
type Role struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	TenantID    *uint          `json:"tenant_id,omitempty" gorm:"index"`
	Name        string         `json:"name" gorm:"type:varchar(50);not null"`
	Level       int            `json:"level" gorm:"not null;default:10"`
	Description string         `json:"description" gorm:"type:text"`
	IsActive    bool           `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// Permission is a named capability tagged with a module. Static reference
// data, not tenant-scoped.
type Permission struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(100);uniqueIndex"`
	Module    string    `json:"module" gorm:"type:varchar(50);index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RolePermission joins roles to permissions
type RolePermission struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	RoleID       uint      `json:"role_id" gorm:"uniqueIndex:idx_role_permission;not null"`
	PermissionID uint      `json:"permission_id" gorm:"uniqueIndex:idx_role_permission;not null"`
	CreatedAt    time.Time `json:"created_at"`

	// Relations
	Role       Role       `json:"-" gorm:"foreignKey:RoleID"`
	Permission Permission `json:"-" gorm:"foreignKey:PermissionID"`
}

// Default global role names seeded at migration time
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
	RoleViewer  = "viewer"
	RoleOwner   = "owner"
)

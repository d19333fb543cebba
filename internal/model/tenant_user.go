package model

import (
	"time"

	"gorm.io/gorm"
)

// TenantUser represents the association between users and tenants.
// A user's effective role within a tenant is read from here, never from a
// field on User. The composite unique index keeps at most one membership
// row per (user, tenant) pair.
type TenantUser struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	UserID    uint           `json:"user_id" gorm:"uniqueIndex:idx_tenant_member;not null"`
	TenantID  uint           `json:"tenant_id" gorm:"uniqueIndex:idx_tenant_member;not null"`
	RoleID    uint           `json:"role_id" gorm:"index;not null"`
	Active    bool           `json:"active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	User   User   `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Tenant Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
	Role   Role   `json:"role,omitempty" gorm:"foreignKey:RoleID"`
}

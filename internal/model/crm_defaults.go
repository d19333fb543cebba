package model

import (
	"time"

	"gorm.io/gorm"
)

// SalesPipeline is a tenant's deal pipeline. Each tenant gets exactly one
// pipeline marked IsDefault at provisioning time.
type SalesPipeline struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	IsDefault bool           `json:"is_default" gorm:"default:false"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// SalesStage is an ordered step within a pipeline
type SalesStage struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	PipelineID uint           `json:"pipeline_id" gorm:"index;not null"`
	TenantID   uint           `json:"tenant_id" gorm:"index;not null"`
	Name       string         `json:"name" gorm:"type:varchar(100);not null"`
	Position   int            `json:"position" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// InterestLevel classifies how warm a lead is
type InterestLevel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Name      string         `json:"name" gorm:"type:varchar(50);not null"`
	Color     string         `json:"color" gorm:"type:varchar(20)"`
	Position  int            `json:"position" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// ActivityType names a kind of CRM activity (call, email, ...)
type ActivityType struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Name      string         `json:"name" gorm:"type:varchar(50);not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// LeadSource names where a lead came from
type LeadSource struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// ProductCategory groups a tenant's products
type ProductCategory struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// Lead is the canonical record the data-scope resolver filters. The CRM
// handlers that manage leads live outside this service; the model exists
// here so scoped queries have a concrete target.
type Lead struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	TenantID        uint           `json:"tenant_id" gorm:"index;not null"`
	OwnerID         uint           `json:"owner_id" gorm:"index;not null"`
	Name            string         `json:"name" gorm:"type:varchar(200);not null"`
	SourceID        *uint          `json:"source_id,omitempty" gorm:"index"`
	InterestLevelID *uint          `json:"interest_level_id,omitempty" gorm:"index"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

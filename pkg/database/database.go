package database

import (
	"errors"
	"fmt"

	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB initializes the database connection with the provided configuration
func InitDB(cfg *config.Config) error {
	// Connect with PreferSimpleProtocol to prevent "prepared statement
	// already exists" errors behind connection poolers
	pgConfig := postgres.Config{
		DSN:                  cfg.DB.GetDSN(),
		PreferSimpleProtocol: true,
	}

	var err error
	DB, err = gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.DB.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	if cfg.DB.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	}

	if cfg.DB.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	}

	if cfg.DB.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	}

	return Migrate(DB)
}

// Migrate creates or updates the table structure for all models and seeds
// the global reference data (default roles and the permission catalog)
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Tenant{},
		&model.Role{},
		&model.Permission{},
		&model.RolePermission{},
		&model.TenantUser{},
		&model.RefreshToken{},
		&model.SalesPipeline{},
		&model.SalesStage{},
		&model.InterestLevel{},
		&model.ActivityType{},
		&model.LeadSource{},
		&model.ProductCategory{},
		&model.Lead{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := seedGlobalRoles(db); err != nil {
		return err
	}
	return seedPermissions(db)
}

// seedGlobalRoles ensures the shared default roles exist. Global roles have
// a nil tenant ID and are visible to every tenant needing a default.
func seedGlobalRoles(db *gorm.DB) error {
	defaults := []model.Role{
		{Name: model.RoleAdmin, Level: 1, Description: "Full access to all tenant data", IsActive: true},
		{Name: model.RoleManager, Level: 2, Description: "Full visibility across the tenant", IsActive: true},
		{Name: model.RoleMember, Level: 5, Description: "Access to own records", IsActive: true},
		{Name: model.RoleViewer, Level: 9, Description: "Read-only access to own records", IsActive: true},
	}

	for _, role := range defaults {
		var existing model.Role
		result := db.Where("name = ? AND tenant_id IS NULL", role.Name).First(&existing)
		if result.Error == nil {
			continue
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		if err := db.Create(&role).Error; err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

// seedPermissions ensures the static capability catalog exists
func seedPermissions(db *gorm.DB) error {
	catalog := []model.Permission{
		{Name: "crm.leads.read", Module: "crm"},
		{Name: "crm.leads.write", Module: "crm"},
		{Name: "crm.contacts.read", Module: "crm"},
		{Name: "crm.contacts.write", Module: "crm"},
		{Name: "crm.deals.read", Module: "crm"},
		{Name: "crm.deals.write", Module: "crm"},
		{Name: "crm.activities.read", Module: "crm"},
		{Name: "crm.activities.write", Module: "crm"},
		{Name: "tenant.settings.read", Module: "tenant"},
		{Name: "tenant.settings.write", Module: "tenant"},
		{Name: "tenant.users.invite", Module: "tenant"},
		{Name: "tenant.users.remove", Module: "tenant"},
	}

	for _, perm := range catalog {
		var existing model.Permission
		result := db.Where("name = ?", perm.Name).First(&existing)
		if result.Error == nil {
			continue
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		if err := db.Create(&perm).Error; err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", perm.Name, err)
		}
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

package bootstrap

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"crm-auth-service/internal/model"

	"gorm.io/gorm"
)

// Default configuration every new tenant is provisioned with. Stage order
// is fixed; positions are assigned from the slice index.
var (
	DefaultPipelineName = "Sales Pipeline"

	DefaultStageNames = []string{
		"Research/Discovery",
		"Initial Contact",
		"Qualification",
		"Presentation",
		"Negotiation",
		"Contract Accepted",
		"Closed Won",
		"Closed Lost",
	}

	DefaultInterestLevels = []model.InterestLevel{
		{Name: "Hot", Color: "#EF4444", Position: 1},
		{Name: "Warm", Color: "#F59E0B", Position: 2},
		{Name: "Cold", Color: "#3B82F6", Position: 3},
	}

	DefaultActivityTypes = []string{"Call", "Email", "Meeting", "Task"}

	DefaultLeadSources = []string{"Website", "Referral", "Cold Call", "Social Media", "Event"}

	DefaultProductCategories = []string{"Product", "Service", "Subscription"}
)

// CreateDefaultTenant provisions a brand-new tenant for a user inside one
// transaction: the tenant row, a tenant-scoped owner role with the full
// permission catalog, the membership link, the user's last-tenant pointer,
// the default pipeline with its fixed stages, and the seed reference data.
// A failure at any step rolls the whole tenant back; the caller can retry.
func CreateDefaultTenant(db *gorm.DB, userID uint, displayName string) (*model.Tenant, error) {
	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d not found", userID)
		}
		return nil, err
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = defaultWorkspaceName(&user)
	}

	var tenant model.Tenant
	err := db.Transaction(func(tx *gorm.DB) error {
		subdomain, err := uniqueSubdomain(tx, name)
		if err != nil {
			return err
		}

		tenant = model.Tenant{
			Name:      name,
			Subdomain: subdomain,
			OwnerID:   userID,
			Active:    true,
		}
		if err := tx.Create(&tenant).Error; err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		ownerRole := model.Role{
			TenantID:    &tenant.ID,
			Name:        model.RoleOwner,
			Level:       1,
			Description: "Tenant owner with full access",
			IsActive:    true,
		}
		if err := tx.Create(&ownerRole).Error; err != nil {
			return fmt.Errorf("failed to create owner role: %w", err)
		}

		// Link the owner role to the entire permission catalog
		var permissions []model.Permission
		if err := tx.Find(&permissions).Error; err != nil {
			return err
		}
		for _, perm := range permissions {
			link := model.RolePermission{RoleID: ownerRole.ID, PermissionID: perm.ID}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("failed to link permission %s: %w", perm.Name, err)
			}
		}

		membership := model.TenantUser{
			UserID:   userID,
			TenantID: tenant.ID,
			RoleID:   ownerRole.ID,
			Active:   true,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return fmt.Errorf("failed to create tenant membership: %w", err)
		}

		if err := tx.Model(&model.User{}).Where("id = ?", userID).
			Update("last_tenant_id", tenant.ID).Error; err != nil {
			return fmt.Errorf("failed to update user's last tenant: %w", err)
		}

		pipeline := model.SalesPipeline{
			TenantID:  tenant.ID,
			Name:      DefaultPipelineName,
			IsDefault: true,
		}
		if err := tx.Create(&pipeline).Error; err != nil {
			return fmt.Errorf("failed to create default pipeline: %w", err)
		}

		for i, stageName := range DefaultStageNames {
			stage := model.SalesStage{
				PipelineID: pipeline.ID,
				TenantID:   tenant.ID,
				Name:       stageName,
				Position:   i + 1,
			}
			if err := tx.Create(&stage).Error; err != nil {
				return fmt.Errorf("failed to create stage %s: %w", stageName, err)
			}
		}

		for _, level := range DefaultInterestLevels {
			level.TenantID = tenant.ID
			if err := tx.Create(&level).Error; err != nil {
				return fmt.Errorf("failed to create interest level %s: %w", level.Name, err)
			}
		}

		for _, typeName := range DefaultActivityTypes {
			activityType := model.ActivityType{TenantID: tenant.ID, Name: typeName}
			if err := tx.Create(&activityType).Error; err != nil {
				return fmt.Errorf("failed to create activity type %s: %w", typeName, err)
			}
		}

		for _, sourceName := range DefaultLeadSources {
			source := model.LeadSource{TenantID: tenant.ID, Name: sourceName}
			if err := tx.Create(&source).Error; err != nil {
				return fmt.Errorf("failed to create lead source %s: %w", sourceName, err)
			}
		}

		for _, categoryName := range DefaultProductCategories {
			category := model.ProductCategory{TenantID: tenant.ID, Name: categoryName}
			if err := tx.Create(&category).Error; err != nil {
				return fmt.Errorf("failed to create product category %s: %w", categoryName, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

// defaultWorkspaceName derives a tenant name from the user's profile
func defaultWorkspaceName(user *model.User) string {
	if user.FirstName != "" {
		return user.FirstName + "'s Workspace"
	}
	if user.Username != "" {
		return user.Username + "'s Workspace"
	}
	return "My Workspace"
}

// uniqueSubdomain slugifies the tenant name and appends a random suffix
// when the slug is already taken. The unique index on tenants.subdomain is
// the authority for concurrent registrations; this check only keeps the
// common path free of constraint errors.
func uniqueSubdomain(tx *gorm.DB, name string) (string, error) {
	slug := slugify(name)
	if slug == "" {
		slug = "tenant"
	}

	candidate := slug
	for attempt := 0; attempt < 5; attempt++ {
		var count int64
		if err := tx.Model(&model.Tenant{}).Where("subdomain = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}

		suffix, err := randomSuffix()
		if err != nil {
			return "", err
		}
		candidate = slug + "-" + suffix
	}

	return "", fmt.Errorf("could not find a free subdomain for %q", slug)
}

// slugify lowercases a name and collapses anything non-alphanumeric into
// single hyphens
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func randomSuffix() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

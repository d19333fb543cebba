package bootstrap

import (
	"testing"

	"crm-auth-service/internal/model"
	"crm-auth-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedUser(t *testing.T, db *gorm.DB, username, firstName string) model.User {
	t.Helper()
	user := model.User{
		Username:  username,
		Email:     username + "@x.com",
		FirstName: firstName,
		Active:    true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestCreateDefaultTenantCompleteness(t *testing.T) {
	db := testutil.OpenDB(t)
	user := seedUser(t, db, "alice", "Alice")

	tenant, err := CreateDefaultTenant(db, user.ID, "")
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, "Alice's Workspace", tenant.Name)
	assert.Equal(t, "alice-s-workspace", tenant.Subdomain)
	assert.Equal(t, user.ID, tenant.OwnerID)

	// Exactly one default pipeline
	var pipelines []model.SalesPipeline
	require.NoError(t, db.Where("tenant_id = ?", tenant.ID).Find(&pipelines).Error)
	require.Len(t, pipelines, 1)
	assert.True(t, pipelines[0].IsDefault)

	// Eight stages in the fixed order
	var stages []model.SalesStage
	require.NoError(t, db.Where("pipeline_id = ?", pipelines[0].ID).Order("position").Find(&stages).Error)
	require.Len(t, stages, 8)
	for i, stage := range stages {
		assert.Equal(t, DefaultStageNames[i], stage.Name)
		assert.Equal(t, i+1, stage.Position)
		assert.Equal(t, tenant.ID, stage.TenantID)
	}

	// Three interest levels and four activity types
	var levels []model.InterestLevel
	require.NoError(t, db.Where("tenant_id = ?", tenant.ID).Order("position").Find(&levels).Error)
	require.Len(t, levels, 3)
	assert.Equal(t, "Hot", levels[0].Name)
	assert.Equal(t, "Warm", levels[1].Name)
	assert.Equal(t, "Cold", levels[2].Name)

	var types []model.ActivityType
	require.NoError(t, db.Where("tenant_id = ?", tenant.ID).Find(&types).Error)
	assert.Len(t, types, 4)

	// Seeded reference data
	var sources []model.LeadSource
	require.NoError(t, db.Where("tenant_id = ?", tenant.ID).Find(&sources).Error)
	assert.NotEmpty(t, sources)

	var categories []model.ProductCategory
	require.NoError(t, db.Where("tenant_id = ?", tenant.ID).Find(&categories).Error)
	assert.NotEmpty(t, categories)
}

func TestCreateDefaultTenantOwnership(t *testing.T) {
	db := testutil.OpenDB(t)
	user := seedUser(t, db, "bob", "Bob")

	tenant, err := CreateDefaultTenant(db, user.ID, "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", tenant.Name)
	assert.Equal(t, "acme-corp", tenant.Subdomain)

	// Tenant-scoped owner role at the most senior level
	var role model.Role
	require.NoError(t, db.Where("tenant_id = ? AND name = ?", tenant.ID, model.RoleOwner).First(&role).Error)
	assert.Equal(t, 1, role.Level)
	assert.True(t, role.IsActive)

	// Owner role holds the full permission catalog
	var permCount, linkCount int64
	require.NoError(t, db.Model(&model.Permission{}).Count(&permCount).Error)
	require.NoError(t, db.Model(&model.RolePermission{}).Where("role_id = ?", role.ID).Count(&linkCount).Error)
	assert.Equal(t, permCount, linkCount)

	// Membership links the user to the new tenant with the owner role
	var membership model.TenantUser
	require.NoError(t, db.Where("user_id = ? AND tenant_id = ?", user.ID, tenant.ID).First(&membership).Error)
	assert.Equal(t, role.ID, membership.RoleID)
	assert.True(t, membership.Active)

	// The user's last tenant points at the new workspace
	var reloaded model.User
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	require.NotNil(t, reloaded.LastTenantID)
	assert.Equal(t, tenant.ID, *reloaded.LastTenantID)
}

func TestCreateDefaultTenantSubdomainCollision(t *testing.T) {
	db := testutil.OpenDB(t)
	first := seedUser(t, db, "carol", "Carol")
	second := seedUser(t, db, "dave", "Dave")

	a, err := CreateDefaultTenant(db, first.ID, "Acme")
	require.NoError(t, err)
	b, err := CreateDefaultTenant(db, second.ID, "Acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", a.Subdomain)
	assert.NotEqual(t, a.Subdomain, b.Subdomain)
	assert.Contains(t, b.Subdomain, "acme-")
}

func TestCreateDefaultTenantUnknownUser(t *testing.T) {
	db := testutil.OpenDB(t)

	tenant, err := CreateDefaultTenant(db, 9999, "Ghost Inc")
	assert.Error(t, err)
	assert.Nil(t, tenant)

	// Nothing may be left behind
	var count int64
	require.NoError(t, db.Model(&model.Tenant{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateDefaultTenantMidSequenceRollback(t *testing.T) {
	db := testutil.OpenDB(t)
	user := seedUser(t, db, "erin", "Erin")

	// Break a step deep in the provisioning sequence: with no stage table,
	// stage creation fails after the tenant, owner role, membership,
	// last-tenant pointer and pipeline have all succeeded
	require.NoError(t, db.Migrator().DropTable(&model.SalesStage{}))

	tenant, err := CreateDefaultTenant(db, user.ID, "Doomed Inc")
	require.Error(t, err)
	assert.Nil(t, tenant)

	// Every earlier step must have rolled back with it
	var count int64
	require.NoError(t, db.Model(&model.Tenant{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&model.SalesPipeline{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&model.TenantUser{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&model.Role{}).Where("tenant_id IS NOT NULL").Count(&count).Error)
	assert.Zero(t, count)

	var reloaded model.User
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	assert.Nil(t, reloaded.LastTenantID)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-corp", slugify("Acme Corp"))
	assert.Equal(t, "alice-s-workspace", slugify("Alice's Workspace"))
	assert.Equal(t, "a-b-c", slugify("  A  B  C  "))
	assert.Equal(t, "", slugify("!!!"))
}

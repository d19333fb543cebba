package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"crm-auth-service/internal/bootstrap"
	"crm-auth-service/internal/model"
	"crm-auth-service/internal/scope"
	"crm-auth-service/pkg/database"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ListUserTenants retrieves all tenants associated with the authenticated user
func ListUserTenants(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("list")

	userID, ok := contextUserID(c, log)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var memberships []model.TenantUser
	if result := database.GetDB().Preload("Tenant").Preload("Role").
		Where("user_id = ? AND active = ?", userID, true).
		Find(&memberships); result.Error != nil {
		log.Error("Failed to retrieve user's tenants", zap.Error(result.Error))
		prometheus.RecordAuthError("tenant_retrieval_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve tenants"})
	}

	return c.JSON(http.StatusOK, formatMemberships(memberships))
}

// CreateTenant provisions an additional tenant for the current user via the
// default-tenant bootstrap and reissues an access token bound to it
func CreateTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("create")

	userID, ok := contextUserID(c, log)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		Name string `json:"name"`
	}

	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse tenant creation request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Name == "" {
		log.Warn("Invalid tenant data")
		prometheus.RecordAuthError("incomplete_tenant_creation")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	prometheus.BootstrapCounter.Inc()
	tenant, err := bootstrap.CreateDefaultTenant(database.GetDB(), userID, req.Name)
	if err != nil {
		log.Error("Failed to provision tenant", zap.Error(err))
		prometheus.RecordAuthError("tenant_bootstrap_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant creation failed"})
	}

	var user model.User
	if result := database.GetDB().First(&user, userID); result.Error != nil {
		log.Error("User not found after tenant creation", zap.Uint("user_id", userID))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant creation failed"})
	}

	token, err := accessTokenForTenant(database.GetDB(), &user, &tenant.ID)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("Tenant created",
		zap.String("name", tenant.Name),
		zap.Uint("id", tenant.ID),
		zap.Uint("owner_id", tenant.OwnerID))

	return c.JSON(http.StatusCreated, echo.Map{
		"tenant":       tenant,
		"access_token": token,
	})
}

// SwitchTenant reissues the access token with a different tenant context.
// A caller without a membership in the target tenant is rejected and no
// token is issued.
func SwitchTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("switch")

	userID, ok := contextUserID(c, log)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	email, ok := c.Get("email").(string)
	if !ok {
		log.Error("Failed to get email from context")
		prometheus.RecordAuthError("missing_context_identity")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "email missing from context"})
	}

	var req struct {
		TenantID uint `json:"tenant_id"`
	}

	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse tenant switch request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.TenantID == 0 {
		prometheus.RecordAuthError("invalid_tenant_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant_id is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var membership model.TenantUser
	result := database.GetDB().Preload("Tenant").Preload("Role").
		Where("user_id = ? AND tenant_id = ? AND active = ?", userID, req.TenantID, true).
		First(&membership)
	if result.Error != nil {
		log.Warn("Unauthorized tenant switch attempt",
			zap.Uint("user_id", userID),
			zap.Uint("tenant_id", req.TenantID))
		prometheus.RecordAuthError("tenant_access_denied")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied to requested tenant"})
	}

	tenantID := req.TenantID
	token, err := jwtutil.GenerateTokenWithTenant(email, userID, &tenantID, membership.Tenant.Name, membership.Role.Name)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	// Remember the switch for the next login
	if err := database.GetDB().Model(&model.User{}).Where("id = ?", userID).
		Update("last_tenant_id", req.TenantID).Error; err != nil {
		log.Error("Failed to update user's last tenant", zap.Error(err))
	}

	log.Info("User switched tenant",
		zap.String("email", email),
		zap.Uint("user_id", userID),
		zap.Uint("tenant_id", req.TenantID))

	return c.JSON(http.StatusOK, echo.Map{
		"access_token": token,
		"tenant": echo.Map{
			"id":   membership.Tenant.ID,
			"name": membership.Tenant.Name,
			"role": membership.Role.Name,
		},
	})
}

// InviteUser adds an existing user to a tenant with a role. Only callers
// whose own role carries tenant-wide visibility may invite.
func InviteUser(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("invite")

	userID, ok := contextUserID(c, log)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	tenantID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		log.Warn("Invalid tenant ID", zap.Error(err))
		prometheus.RecordAuthError("invalid_tenant_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	var req struct {
		Email  string `json:"email"`
		RoleID uint   `json:"role_id"`
	}

	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse invite request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Email == "" || req.RoleID == 0 {
		prometheus.RecordAuthError("incomplete_invite")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and role_id are required"})
	}

	// The caller needs tenant-wide visibility in the target tenant to
	// manage its members
	defer prometheus.TrackDBOperation("query")(time.Now())
	var callerMembership model.TenantUser
	result := database.GetDB().Preload("Role").
		Where("user_id = ? AND tenant_id = ? AND active = ?", userID, tenantID, true).
		First(&callerMembership)
	if result.Error != nil || scope.Resolve(&callerMembership.Role) != scope.ScopeAll {
		log.Warn("Unauthorized attempt to invite user",
			zap.Uint("requesting_user_id", userID),
			zap.Uint64("tenant_id", tenantID))
		prometheus.RecordAuthError("tenant_permission_denied")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient permissions"})
	}

	var invitee model.User
	if result := database.GetDB().Where("email = ?", req.Email).First(&invitee); result.Error != nil {
		log.Warn("Invitee not found", zap.String("email", req.Email))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	// The role must be a global default or scoped to this tenant
	var role model.Role
	result = database.GetDB().
		Where("id = ? AND (tenant_id IS NULL OR tenant_id = ?)", req.RoleID, tenantID).
		First(&role)
	if result.Error != nil {
		log.Warn("Role not found for tenant",
			zap.Uint("role_id", req.RoleID),
			zap.Uint64("tenant_id", tenantID))
		prometheus.RecordAuthError("role_not_found")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
	}

	var existing model.TenantUser
	result = database.GetDB().Where("user_id = ? AND tenant_id = ?", invitee.ID, tenantID).First(&existing)
	if result.Error == nil {
		log.Warn("User already belongs to tenant",
			zap.Uint("user_id", invitee.ID),
			zap.Uint64("tenant_id", tenantID))
		prometheus.RecordAuthError("already_member")
		return c.JSON(http.StatusConflict, echo.Map{"error": "user already belongs to this tenant"})
	} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		log.Error("Failed to check membership", zap.Error(result.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "invite failed"})
	}

	membership := model.TenantUser{
		UserID:   invitee.ID,
		TenantID: uint(tenantID),
		RoleID:   role.ID,
		Active:   true,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := database.GetDB().Create(&membership).Error; err != nil {
		if isUniqueViolation(err) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "user already belongs to this tenant"})
		}
		log.Error("Failed to add user to tenant", zap.Error(err))
		prometheus.RecordAuthError("invite_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "invite failed"})
	}

	log.Info("User added to tenant",
		zap.Uint64("tenant_id", tenantID),
		zap.String("email", req.Email),
		zap.String("role", role.Name))

	return c.JSON(http.StatusCreated, echo.Map{
		"message":     "user added to tenant",
		"tenant_user": membership,
	})
}

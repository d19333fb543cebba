package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"crm-auth-service/internal/bootstrap"
	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/database"
	"crm-auth-service/pkg/hashutil"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var refreshTokenLifetime = 30 * 24 * time.Hour

// InitAuthHandler initializes session-lifecycle handlers with configuration
func InitAuthHandler(cfg *config.Config) {
	refreshTokenLifetime = cfg.JWT.RefreshTokenLifetime
	hashutil.Initialize(cfg.Auth.BcryptCost)
}

// Register creates a new user, provisions their default tenant, and issues
// an access/refresh token pair
func Register(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}

	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse registration request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		log.Warn("Invalid registration data",
			zap.String("email", req.Email),
			zap.Bool("password_provided", req.Password != ""))
		prometheus.RecordAuthError("incomplete_registration")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username, email and password are required"})
	}

	// Best-effort pre-check; the unique indexes on email and username are
	// the authority when two registrations race
	defer prometheus.TrackDBOperation("query")(time.Now())
	var existing model.User
	result := database.GetDB().Where("email = ? OR username = ?", req.Email, req.Username).First(&existing)
	if result.Error == nil {
		log.Warn("User already exists", zap.String("email", req.Email))
		prometheus.RecordAuthError("already_registered")
		return c.JSON(http.StatusConflict, echo.Map{"error": "email or username already registered"})
	}

	hashedPassword, err := hashutil.HashPassword(req.Password)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		prometheus.RecordAuthError("password_hash_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	user := model.User{
		Username:  req.Username,
		Email:     req.Email,
		Password:  hashedPassword,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Active:    true,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&user); result.Error != nil {
		if isUniqueViolation(result.Error) {
			log.Warn("User already exists", zap.String("email", req.Email))
			prometheus.RecordAuthError("already_registered")
			return c.JSON(http.StatusConflict, echo.Map{"error": "email or username already registered"})
		}
		log.Error("Failed to create user", zap.Error(result.Error))
		prometheus.RecordAuthError("user_creation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	prometheus.BootstrapCounter.Inc()
	tenant, err := bootstrap.CreateDefaultTenant(database.GetDB(), user.ID, "")
	if err != nil {
		log.Error("Failed to provision default tenant", zap.Error(err))
		prometheus.RecordAuthError("tenant_bootstrap_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant provisioning failed"})
	}

	accessToken, refreshToken, err := issueTokenPair(database.GetDB(), &user, &tenant.ID)
	if err != nil {
		log.Error("Failed to issue token pair", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("User registered",
		zap.String("email", user.Email),
		zap.Uint("tenant_id", tenant.ID),
		zap.String("subdomain", tenant.Subdomain))

	return c.JSON(http.StatusCreated, echo.Map{
		"user":          user,
		"tenant":        tenant,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// Login authenticates a user by email and password. A user with no tenant
// memberships gets a default tenant provisioned on the spot.
func Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	// Unknown email and wrong password get the same rejection so a caller
	// cannot probe which part of the attempt failed
	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	result := database.GetDB().Where("email = ?", req.Email).First(&user)
	if result.Error != nil {
		log.Warn("Login attempt for unknown email", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_credentials")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if !hashutil.VerifyPassword(req.Password, user.Password) {
		log.Warn("Invalid password", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_credentials")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	tenantID, err := resolveLoginTenant(database.GetDB(), &user, log)
	if err != nil {
		log.Error("Failed to resolve login tenant", zap.Error(err))
		prometheus.RecordAuthError("tenant_resolution_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}

	now := time.Now()
	updates := map[string]interface{}{"last_login_at": now}
	if tenantID != nil {
		updates["last_tenant_id"] = *tenantID
	}
	if err := database.GetDB().Model(&user).Updates(updates).Error; err != nil {
		log.Error("Failed to update login metadata", zap.Error(err))
	}

	accessToken, refreshToken, err := issueTokenPair(database.GetDB(), &user, tenantID)
	if err != nil {
		log.Error("Failed to issue token pair", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("User logged in",
		zap.String("email", user.Email),
		zap.Uint("tenant_id", nilSafeUint(tenantID)))

	response := echo.Map{
		"user":          user,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	}
	if tenantID != nil {
		response["tenant_id"] = *tenantID
	}

	return c.JSON(http.StatusOK, response)
}

// Refresh exchanges a live refresh token for a new access token and rotates
// the refresh token. A token already rotated or revoked fails; rotation is
// single-use-by-hash so a concurrent replay of the old token cannot win.
func Refresh(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RefreshCounter.Inc()

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		log.Warn("Failed to parse refresh request")
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var stored model.RefreshToken
	result := database.GetDB().Where("token_hash = ?", hashutil.HashToken(req.RefreshToken)).First(&stored)
	if result.Error != nil {
		log.Warn("Refresh token not found")
		prometheus.RecordAuthError("unknown_refresh_token")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	if !stored.IsValid() {
		log.Warn("Rejected expired or revoked refresh token", zap.Uint("user_id", stored.UserID))
		prometheus.RecordAuthError("stale_refresh_token")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	var user model.User
	if result := database.GetDB().First(&user, stored.UserID); result.Error != nil {
		log.Error("Refresh token holder not found", zap.Uint("user_id", stored.UserID))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	// Rotate: revoke the presented token and persist a replacement in one
	// transaction so the old hash can never authenticate again
	newToken, err := hashutil.GenerateRefreshToken()
	if err != nil {
		log.Error("Failed to generate refresh token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		revoke := tx.Model(&model.RefreshToken{}).
			Where("id = ? AND revoked = ?", stored.ID, false).
			Update("revoked", true)
		if revoke.Error != nil {
			return revoke.Error
		}
		if revoke.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		replacement := model.RefreshToken{
			UserID:    user.ID,
			TokenHash: hashutil.HashToken(newToken),
			ExpiresAt: time.Now().Add(refreshTokenLifetime),
		}
		return tx.Create(&replacement).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("Refresh token lost rotation race", zap.Uint("user_id", user.ID))
			prometheus.RecordAuthError("stale_refresh_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		log.Error("Failed to rotate refresh token", zap.Error(err))
		prometheus.RecordAuthError("token_rotation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.RecordTokenRevoked("rotation")
	prometheus.RecordTokenIssued()

	accessToken, err := accessTokenForCurrentTenant(database.GetDB(), &user)
	if err != nil {
		log.Error("Failed to generate access token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("Refresh token rotated", zap.Uint("user_id", user.ID))

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  accessToken,
		"refresh_token": newToken,
	})
}

// Logout revokes the presented refresh token. The access token is stateless
// and simply expires on its own.
func Logout(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		log.Warn("Failed to parse logout request")
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token is required"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	result := database.GetDB().Model(&model.RefreshToken{}).
		Where("token_hash = ? AND revoked = ?", hashutil.HashToken(req.RefreshToken), false).
		Update("revoked", true)
	if result.Error != nil {
		log.Error("Failed to revoke refresh token", zap.Error(result.Error))
		prometheus.RecordAuthError("token_revocation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}

	if result.RowsAffected > 0 {
		prometheus.RecordTokenRevoked("logout")
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the authenticated user, their current tenant, and every tenant
// membership with its role
func Me(c echo.Context) error {
	log := logger.FromContext(c)

	userID, ok := contextUserID(c, log)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	if result := database.GetDB().First(&user, userID); result.Error != nil {
		log.Error("User not found", zap.Uint("user_id", userID))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	var memberships []model.TenantUser
	if result := database.GetDB().Preload("Tenant").Preload("Role").
		Where("user_id = ? AND active = ?", userID, true).
		Find(&memberships); result.Error != nil {
		log.Error("Failed to retrieve memberships", zap.Error(result.Error))
		prometheus.RecordAuthError("membership_retrieval_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve memberships"})
	}

	response := echo.Map{
		"user":        user,
		"memberships": formatMemberships(memberships),
	}

	if tenantID, ok := c.Get("tenant_id").(uint); ok {
		var tenant model.Tenant
		if result := database.GetDB().First(&tenant, tenantID); result.Error == nil {
			response["tenant"] = tenant
		}
	}

	return c.JSON(http.StatusOK, response)
}

// CleanupRefreshTokens runs the on-demand sweep that physically deletes
// expired refresh-token rows
func CleanupRefreshTokens(c echo.Context) error {
	log := logger.FromContext(c)

	defer prometheus.TrackDBOperation("delete")(time.Now())
	purged, err := model.PurgeExpiredRefreshTokens(database.GetDB())
	if err != nil {
		log.Error("Failed to purge expired refresh tokens", zap.Error(err))
		prometheus.RecordAuthError("token_purge_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cleanup failed"})
	}

	// Purged rows bypass the incremental gauge tracking, so reconcile it
	// from the store
	if active, err := model.CountActiveRefreshTokens(database.GetDB()); err == nil {
		prometheus.SetActiveRefreshTokens(active)
	}

	log.Info("Purged expired refresh tokens", zap.Int64("count", purged))
	return c.JSON(http.StatusOK, echo.Map{"purged": purged})
}

// MetricsHandler serves the Prometheus scrape endpoint
func MetricsHandler(c echo.Context) error {
	handler := prometheus.GetPrometheusHandler()
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}

// resolveLoginTenant picks the tenant context for a fresh login: the user's
// last tenant when the membership still stands, otherwise their first
// membership, otherwise a freshly bootstrapped default tenant.
func resolveLoginTenant(db *gorm.DB, user *model.User, log *zap.Logger) (*uint, error) {
	if user.LastTenantID != nil {
		var membership model.TenantUser
		result := db.Where("user_id = ? AND tenant_id = ? AND active = ?", user.ID, *user.LastTenantID, true).First(&membership)
		if result.Error == nil {
			return user.LastTenantID, nil
		}
	}

	var memberships []model.TenantUser
	if err := db.Where("user_id = ? AND active = ?", user.ID, true).Order("id").Find(&memberships).Error; err != nil {
		return nil, err
	}

	if len(memberships) > 0 {
		return &memberships[0].TenantID, nil
	}

	// Zero memberships: this account has never had a workspace, so the
	// login doubles as the bootstrap trigger
	log.Info("Provisioning default tenant on first login", zap.Uint("user_id", user.ID))
	prometheus.BootstrapCounter.Inc()
	tenant, err := bootstrap.CreateDefaultTenant(db, user.ID, "")
	if err != nil {
		return nil, err
	}
	return &tenant.ID, nil
}

// issueTokenPair generates an access token bound to the given tenant
// context and a fresh refresh token persisted by hash
func issueTokenPair(db *gorm.DB, user *model.User, tenantID *uint) (string, string, error) {
	accessToken, err := accessTokenForTenant(db, user, tenantID)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := hashutil.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}

	stored := model.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashutil.HashToken(refreshToken),
		ExpiresAt: time.Now().Add(refreshTokenLifetime),
	}
	if err := db.Create(&stored).Error; err != nil {
		return "", "", err
	}
	prometheus.RecordTokenIssued()

	return accessToken, refreshToken, nil
}

// accessTokenForTenant signs an access token carrying the tenant claim and
// the user's role name within that tenant
func accessTokenForTenant(db *gorm.DB, user *model.User, tenantID *uint) (string, error) {
	if tenantID == nil {
		return jwtutil.GenerateToken(user.Email, user.ID)
	}

	var membership model.TenantUser
	result := db.Preload("Tenant").Preload("Role").
		Where("user_id = ? AND tenant_id = ? AND active = ?", user.ID, *tenantID, true).
		First(&membership)
	if result.Error != nil {
		return "", result.Error
	}

	return jwtutil.GenerateTokenWithTenant(user.Email, user.ID, tenantID, membership.Tenant.Name, membership.Role.Name)
}

// accessTokenForCurrentTenant signs an access token for the user's most
// recently used tenant, or a tenant-free token when none stands
func accessTokenForCurrentTenant(db *gorm.DB, user *model.User) (string, error) {
	if user.LastTenantID == nil {
		return jwtutil.GenerateToken(user.Email, user.ID)
	}
	token, err := accessTokenForTenant(db, user, user.LastTenantID)
	if err != nil {
		// Membership may have been removed since the last login
		return jwtutil.GenerateToken(user.Email, user.ID)
	}
	return token, nil
}

// contextUserID reads the authenticated user's ID placed on the context by
// the auth middleware. A miss means the route was mounted without it.
func contextUserID(c echo.Context, log *zap.Logger) (uint, bool) {
	userID, ok := c.Get("user_id").(uint)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAuthError("missing_context_identity")
	}
	return userID, ok
}

// formatMemberships flattens membership rows for API responses
func formatMemberships(memberships []model.TenantUser) []echo.Map {
	formatted := make([]echo.Map, 0, len(memberships))
	for _, m := range memberships {
		formatted = append(formatted, echo.Map{
			"tenant_id":   m.TenantID,
			"tenant_name": m.Tenant.Name,
			"subdomain":   m.Tenant.Subdomain,
			"role":        m.Role.Name,
			"role_level":  m.Role.Level,
		})
	}
	return formatted
}

// isUniqueViolation reports whether an insert failed on a unique constraint
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// Helper function to safely handle nil uint pointers for logging
func nilSafeUint(val *uint) uint {
	if val == nil {
		return 0
	}
	return *val
}

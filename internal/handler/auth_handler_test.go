package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-auth-service/internal/bootstrap"
	"crm-auth-service/internal/model"
	"crm-auth-service/internal/testutil"
	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/database"
	"crm-auth-service/pkg/hashutil"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func setupTest(t *testing.T) *gorm.DB {
	t.Helper()

	db := testutil.OpenDB(t)
	database.DB = db

	cfg := &config.Config{
		JWT: config.JWTConfig{
			SigningKey:           "test-signing-key",
			AccessTokenLifetime:  15 * time.Minute,
			RefreshTokenLifetime: 30 * 24 * time.Hour,
		},
		Auth: config.AuthConfig{BcryptCost: bcrypt.MinCost},
	}
	jwtutil.Initialize(&cfg.JWT)
	InitAuthHandler(cfg)

	return db
}

func doJSON(t *testing.T, h echo.HandlerFunc, method, target, body string, decorate func(echo.Context)) (*httptest.ResponseRecorder, echo.Map) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if decorate != nil {
		decorate(c)
	}

	require.NoError(t, h(c))

	var parsed echo.Map
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func registerAlice(t *testing.T) echo.Map {
	t.Helper()
	rec, body := doJSON(t, Register, http.MethodPost, "/auth/register",
		`{"username":"alice","email":"alice@x.com","password":"secret123","first_name":"Alice","last_name":"Smith"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return body
}

func TestRegisterProvisionsWorkspace(t *testing.T) {
	db := setupTest(t)

	body := registerAlice(t)

	tenant, ok := body["tenant"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Alice's Workspace", tenant["name"])

	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])

	// The access token is already bound to the new tenant
	claims, err := jwtutil.ValidateToken(body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", claims.Email)
	require.NotNil(t, claims.TenantID)
	assert.Equal(t, model.RoleOwner, claims.Role)

	// The workspace carries the fixed default pipeline
	var stages []model.SalesStage
	require.NoError(t, db.Where("tenant_id = ?", *claims.TenantID).Order("position").Find(&stages).Error)
	require.Len(t, stages, 8)
	for i, stage := range stages {
		assert.Equal(t, bootstrap.DefaultStageNames[i], stage.Name)
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	db := setupTest(t)

	registerAlice(t)

	rec, body := doJSON(t, Register, http.MethodPost, "/auth/register",
		`{"username":"alice2","email":"alice@x.com","password":"secret123"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "already registered")

	// No extra rows were created by the rejected attempt
	var userCount, tenantCount int64
	require.NoError(t, db.Model(&model.User{}).Count(&userCount).Error)
	require.NoError(t, db.Model(&model.Tenant{}).Count(&tenantCount).Error)
	assert.EqualValues(t, 1, userCount)
	assert.EqualValues(t, 1, tenantCount)
}

func TestRegisterMissingFields(t *testing.T) {
	setupTest(t)

	rec, _ := doJSON(t, Register, http.MethodPost, "/auth/register",
		`{"email":"x@x.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginSuccess(t *testing.T) {
	db := setupTest(t)
	registerAlice(t)

	rec, body := doJSON(t, Login, http.MethodPost, "/auth/login",
		`{"email":"alice@x.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotNil(t, body["tenant_id"])

	var user model.User
	require.NoError(t, db.Where("email = ?", "alice@x.com").First(&user).Error)
	assert.NotNil(t, user.LastLoginAt)
}

func TestLoginWrongPasswordUniformError(t *testing.T) {
	setupTest(t)
	registerAlice(t)

	rec, body := doJSON(t, Login, http.MethodPost, "/auth/login",
		`{"email":"alice@x.com","password":"wrong-password"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", body["error"])

	// Unknown email gets the exact same message
	rec, body = doJSON(t, Login, http.MethodPost, "/auth/login",
		`{"email":"nobody@x.com","password":"secret123"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", body["error"])
}

func TestLoginBootstrapsFirstTenant(t *testing.T) {
	db := setupTest(t)

	// A user created without any membership, e.g. through an import
	hash, err := hashutil.HashPassword("secret123")
	require.NoError(t, err)
	user := model.User{Username: "orphan", Email: "orphan@x.com", Password: hash, FirstName: "Omar", Active: true}
	require.NoError(t, db.Create(&user).Error)

	rec, body := doJSON(t, Login, http.MethodPost, "/auth/login",
		`{"email":"orphan@x.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body["tenant_id"])

	var membership model.TenantUser
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&membership).Error)

	var pipelineCount int64
	require.NoError(t, db.Model(&model.SalesPipeline{}).Where("tenant_id = ?", membership.TenantID).Count(&pipelineCount).Error)
	assert.EqualValues(t, 1, pipelineCount)
}

func TestRefreshRotation(t *testing.T) {
	setupTest(t)
	body := registerAlice(t)
	original := body["refresh_token"].(string)

	// First exchange succeeds and hands out a replacement
	rec, rotated := doJSON(t, Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+original+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rotated["access_token"])
	replacement := rotated["refresh_token"].(string)
	assert.NotEqual(t, original, replacement)

	// Replaying the rotated token fails
	rec, _ = doJSON(t, Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+original+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The replacement still works
	rec, _ = doJSON(t, Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+replacement+`"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshUnknownToken(t *testing.T) {
	setupTest(t)

	rec, body := doJSON(t, Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"never-issued"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid refresh token", body["error"])
}

func TestRefreshExpiredToken(t *testing.T) {
	db := setupTest(t)
	body := registerAlice(t)
	token := body["refresh_token"].(string)

	// Force the stored record past its expiry
	require.NoError(t, db.Model(&model.RefreshToken{}).
		Where("token_hash = ?", hashutil.HashToken(token)).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	rec, _ := doJSON(t, Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+token+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	db := setupTest(t)
	body := registerAlice(t)
	token := body["refresh_token"].(string)

	rec, _ := doJSON(t, Logout, http.MethodPost, "/auth/logout",
		`{"refresh_token":"`+token+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored model.RefreshToken
	require.NoError(t, db.Where("token_hash = ?", hashutil.HashToken(token)).First(&stored).Error)
	assert.True(t, stored.Revoked)

	// A revoked token can no longer refresh
	rec, _ = doJSON(t, Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+token+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	setupTest(t)
	body := registerAlice(t)
	claims, err := jwtutil.ValidateToken(body["access_token"].(string))
	require.NoError(t, err)

	rec, me := doJSON(t, Me, http.MethodGet, "/auth/me", "", func(c echo.Context) {
		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("tenant_id", *claims.TenantID)
	})
	require.Equal(t, http.StatusOK, rec.Code)

	user := me["user"].(map[string]interface{})
	assert.Equal(t, "alice@x.com", user["email"])

	tenant := me["tenant"].(map[string]interface{})
	assert.Equal(t, "Alice's Workspace", tenant["name"])

	memberships := me["memberships"].([]interface{})
	require.Len(t, memberships, 1)
	first := memberships[0].(map[string]interface{})
	assert.Equal(t, model.RoleOwner, first["role"])
}

func TestCleanupRefreshTokens(t *testing.T) {
	db := setupTest(t)
	body := registerAlice(t)
	live := body["refresh_token"].(string)

	expired := model.RefreshToken{
		UserID:    1,
		TokenHash: hashutil.HashToken("long-gone"),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&expired).Error)

	rec, result := doJSON(t, CleanupRefreshTokens, http.MethodPost, "/auth/tokens/cleanup", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, result["purged"])

	// The live token survives the sweep
	var count int64
	require.NoError(t, db.Model(&model.RefreshToken{}).
		Where("token_hash = ?", hashutil.HashToken(live)).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// The sweep reconciles the live-token gauge against the store
	active, err := model.CountActiveRefreshTokens(db)
	require.NoError(t, err)
	assert.EqualValues(t, active, promtestutil.ToFloat64(prometheus.ActiveRefreshTokensGauge))
}

func TestRevokeAllRefreshTokensForUser(t *testing.T) {
	db := setupTest(t)
	body := registerAlice(t)
	token := body["refresh_token"].(string)

	var user model.User
	require.NoError(t, db.Where("email = ?", "alice@x.com").First(&user).Error)
	require.NoError(t, model.RevokeAllRefreshTokensForUser(db, user.ID))

	rec, _ := doJSON(t, Refresh, http.MethodPost, "/auth/refresh",
		`{"refresh_token":"`+token+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

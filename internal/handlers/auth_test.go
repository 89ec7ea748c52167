package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/serialkey-backend/internal/config"
	"github.com/javajoker/serialkey-backend/internal/middleware"
	"github.com/javajoker/serialkey-backend/internal/models"
	"github.com/javajoker/serialkey-backend/internal/services"
	"github.com/javajoker/serialkey-backend/internal/testutil"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

func TestLoginAndProfile(t *testing.T) {
	db := testutil.NewTestDB(t)
	utils.SetJWTSecret("handler-test-secret")

	admin := &models.User{Username: "root", Email: "root@example.com", Role: models.UserRoleAdmin, IsActive: true}
	require.NoError(t, admin.SetPassword("s3cret"))
	require.NoError(t, db.Create(admin).Error)

	handler := NewAuthHandler(services.NewAuthService(db, &config.Config{JWT: config.JWTConfig{AccessTokenTTL: 1}}))
	r := newEngine()
	r.POST("/v1/auth/login", handler.Login)
	r.GET("/v1/auth/me", middleware.AuthRequired(), handler.GetProfile)

	w := doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{"email": "root@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{"email": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/auth/login", map[string]string{"email": "root@example.com", "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.Data.Token)

	req := doRequestWithToken(t, r, "/v1/auth/me", resp.Data.Token)
	assert.Equal(t, http.StatusOK, req.Code)
	assert.Contains(t, req.Body.String(), "root@example.com")
	assert.NotContains(t, req.Body.String(), "password")
}

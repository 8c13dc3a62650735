package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-service/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Env:  "test",
		Port: "0",
		Auth: config.Auth{
			JWTSecret:         "access-secret",
			AccessTokenTTL:    15 * time.Minute,
			RefreshTokenTTL:   7 * 24 * time.Hour,
			RefreshEnabled:    true,
			MaxAttempts:       5,
			LockWindow:        15 * time.Minute,
			PasswordMinLength: 6,
			PasswordHasher:    "bcrypt",
		},
		Storage: config.Storage{
			Driver:    config.StorageFile,
			UsersFile: filepath.Join(t.TempDir(), "users.json"),
		},
		Registry:    config.Registry{Driver: config.RegistryMemory},
		Maintenance: config.Maintenance{CronSecret: "cron"},
	}
}

func call(t *testing.T, handler http.Handler, method, path string, body any, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestBuildWithConfig_EndToEnd(t *testing.T) {
	cfg := testConfig(t)

	runtime, err := BuildWithConfig(cfg, Options{})
	require.NoError(t, err)
	defer runtime.Close()

	assert.Equal(t, ":0", runtime.Addr)

	rec := call(t, runtime.Handler, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = call(t, runtime.Handler, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))

	rec = call(t, runtime.Handler, http.MethodGet, "/auth/me", nil, "Bearer "+tokens.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, runtime.Handler, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, runtime.Handler, http.MethodPost, "/internal/maintenance/cleanup", nil, "Bearer cron")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, runtime.Handler, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	restarted, err := BuildWithConfig(cfg, Options{})
	require.NoError(t, err)
	defer restarted.Close()

	rec = call(t, restarted.Handler, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "users survive a restart")
}

func TestBuildWithConfig_RedisRegistry(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Auth.PasswordHasher = "argon2"
	cfg.Registry = config.Registry{Driver: config.RegistryRedis, RedisURL: "redis://" + mr.Addr()}

	runtime, err := BuildWithConfig(cfg, Options{})
	require.NoError(t, err)
	defer runtime.Close()

	call(t, runtime.Handler, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	rec := call(t, runtime.Handler, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": "secret1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, mr.Keys(), 1)

	mr.Close()
	rec = call(t, runtime.Handler, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildWithConfig_RefreshDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.RefreshEnabled = false

	runtime, err := BuildWithConfig(cfg, Options{})
	require.NoError(t, err)
	defer runtime.Close()

	rec := call(t, runtime.Handler, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildWithConfig_UnknownHasher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.PasswordHasher = "md5"

	_, err := BuildWithConfig(cfg, Options{})
	assert.Error(t, err)
}

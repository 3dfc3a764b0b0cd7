package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildServer_NoDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		PolicyBundlePath:       filepath.Join("..", "..", "policy", "bundles", "governance_v0"),
		PolicyBundleID:         "governance_v0",
		ChainAdvanceMaxRetries: 5,
	}
	srv, cleanup, err := buildServer(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"no-db"`)

	body := `{"note_hash":"sha256:` + strings.Repeat("a", 64) + `","model_version":"v1","governance_policy_version":"gov-2026-01"}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/clinic-a/certificates", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestBuildServer_BadPolicyBundle(t *testing.T) {
	cfg := config.Config{PolicyBundlePath: filepath.Join(t.TempDir(), "missing")}
	_, cleanup, err := buildServer(context.Background(), cfg, quietLogger())
	defer cleanup()
	require.Error(t, err)
}

func TestBuildServer_UnreachableRedis(t *testing.T) {
	cfg := config.Config{RedisAddr: "127.0.0.1:1"}
	_, cleanup, err := buildServer(context.Background(), cfg, quietLogger())
	defer cleanup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

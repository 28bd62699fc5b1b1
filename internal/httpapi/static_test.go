package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/overlay"
)

func TestServer_ServesSPAFromStaticDir(t *testing.T) {
	tmp := t.TempDir()
	staticDir := filepath.Join(tmp, "web")
	require.NoError(t, os.MkdirAll(staticDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>spa</html>"), 0o644))

	cfg := testServerConfig("https://translate.invalid/api")
	settings, err := config.NewRuntimeSettingsStore(filepath.Join(tmp, "settings.json"), cfg.RuntimeSettings())
	require.NoError(t, err)
	manager := overlay.NewManager(cfg, settings, nil)
	t.Cleanup(manager.Shutdown)

	server := NewServer(manager, WithUI(staticDir, true))

	for _, url := range []string{"/", "/pages/abc"} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "spa")
	}
}

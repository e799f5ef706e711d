package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnines/vacsync/pkg/errors"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("AKENEO_BASE_URL", "https://pim.example.com/")
	t.Setenv("AKENEO_CLIENT_ID", "client")
	t.Setenv("AKENEO_SECRET", "secret")
	t.Setenv("AKENEO_USERNAME", "admin")
	t.Setenv("AKENEO_PASSWORD", "admin")
}

func TestLoadDefaults(t *testing.T) {
	setCredentials(t)

	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "https://pim.example.com/", cfg.BaseURL)
	assert.Equal(t, "/api/oauth/v1/token", cfg.TokenPath)
	assert.Equal(t, "https://pim.example.com/api/oauth/v1/token", cfg.TokenURL())
	assert.Equal(t, ".", cfg.ExportPath)
	assert.Equal(t, 100, cfg.PatchLimit)
	assert.Equal(t, 16, cfg.PromiseLimit)
	assert.Equal(t, 1600, cfg.ChunkSize)
	assert.Equal(t, time.Duration(0), cfg.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.LoadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.TokenRefreshBefore)
}

func TestLoadEnvOverrides(t *testing.T) {
	setCredentials(t)
	t.Setenv("AKENEO_TOKEN_PATH", "/custom/token")
	t.Setenv("AKENEO_EXPORT_PATH", "/tmp/vac")
	t.Setenv("AKENEO_PATCH_LIMIT", "50")
	t.Setenv("AKENEO_PROMISE_LIMIT", "4")
	t.Setenv("AKENEO_LOAD_TIMEOUT", "5s")

	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "/custom/token", cfg.TokenPath)
	assert.Equal(t, "/tmp/vac", cfg.ExportPath)
	assert.Equal(t, 50, cfg.PatchLimit)
	assert.Equal(t, 4, cfg.PromiseLimit)
	assert.Equal(t, 5*time.Second, cfg.LoadTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	setCredentials(t)
	path := filepath.Join(t.TempDir(), "vacsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("export_path: ./out\nchunk_size: 800\n"), 0o644))

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "./out", cfg.ExportPath)
	assert.Equal(t, 800, cfg.ChunkSize)

	t.Run("EnvBeatsFile", func(t *testing.T) {
		t.Setenv("AKENEO_CHUNK_SIZE", "400")
		cfg, err := Load(nil, path)
		require.NoError(t, err)
		assert.Equal(t, 400, cfg.ChunkSize)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(nil, filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("AKENEO_BASE_URL", "")
	t.Setenv("AKENEO_CLIENT_ID", "")
	t.Setenv("AKENEO_SECRET", "")
	t.Setenv("AKENEO_USERNAME", "")
	t.Setenv("AKENEO_PATCH_LIMIT", "0")

	_, err := Load(nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"base_url", "client_id", "secret", "username", "patch_limit"}, fields)
	assert.Contains(t, err.Error(), "AKENEO_BASE_URL")
}

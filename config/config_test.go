package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/session-engine/config"
)

func TestLoad_EmptyPath_Defaults(t *testing.T) {
	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8090", cfg.Addr())
	assert.Equal(t, "./clinic.db", cfg.Database.Path)
	assert.Equal(t, 5000, cfg.Database.BusyTimeoutMS)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinicd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
port = 9001

[database]
path = "/var/lib/clinic/clinic.db"
`), 0o644))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.API.Port)
	assert.Equal(t, "127.0.0.1", cfg.API.Host, "unset fields keep defaults")
	assert.Equal(t, "/var/lib/clinic/clinic.db", cfg.Database.Path)
	assert.Equal(t, 5000, cfg.Database.BusyTimeoutMS)
}

func TestLoad_MissingFile_Errors(t *testing.T) {
	_, err := config.Load("/nonexistent/clinicd.toml")

	assert.Error(t, err)
}

func TestLoad_InvalidPort_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinicd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
port = -1
`), 0o644))

	_, err := config.Load(path)

	assert.Error(t, err)
}

package snapsql

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, "sql.any", config.Target)
	assert.Equal(t, "plain", config.Display)
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "prqlgo.yaml")

	content := "target: sql.postgres\nformat: true\nsignature_comment: true\ndisplay: ansi-color\n"
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, "sql.postgres", config.Target)
	assert.True(t, config.Format)
	assert.True(t, config.SignatureComment)
	assert.Equal(t, "ansi-color", config.Display)
}

func TestLoadConfig_StrictModeRejectsUnknownKeys(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "prqlgo.yaml")

	assert.NoError(t, os.WriteFile(path, []byte("target: sql.postgres\nunknown_key: oops\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_RejectsInvalidDisplay(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "prqlgo.yaml")

	assert.NoError(t, os.WriteFile(path, []byte("display: loud\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_RejectsMalformedTarget(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "prqlgo.yaml")

	assert.NoError(t, os.WriteFile(path, []byte("target: postgres\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigToOptions(t *testing.T) {
	config := Config{Target: "sql.mysql", Format: true, Display: "plain"}
	opts := config.ToOptions()

	assert.Equal(t, "sql.mysql", opts.Target)
	assert.True(t, opts.Format)
	assert.Equal(t, DisplayPlain, opts.Display)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PRQLGO_TARGET", "sql.sqlite")

	assert.Equal(t, "sql.sqlite", expandEnvVars("${PRQLGO_TARGET}"))
	assert.Equal(t, "sql.sqlite", expandEnvVars("$PRQLGO_TARGET"))
}

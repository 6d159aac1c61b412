package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "smartview.toml")
	db := filepath.Join(dir, "library.db")

	out, err := execute(t, "--config", cfg, "--db", db, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "database ready")
	assert.FileExists(t, cfg)
	assert.FileExists(t, db)

	_, err = execute(t, "--config", cfg, "--db", db, "init")
	require.Error(t, err, "init never overwrites a config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFileIsUsed(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfg := writeFile(t, dir, "custom.toml", "[database]\npath = \""+filepath.ToSlash(db)+"\"\n")

	_, err := execute(t, "--config", cfg, "list")
	require.NoError(t, err)
	_, err = os.Stat(db)
	assert.NoError(t, err, "the database comes from the config file")

	bad := writeFile(t, dir, "bad.toml", "[engine]\nworkers = 0\n")
	_, err = execute(t, "--config", bad, "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

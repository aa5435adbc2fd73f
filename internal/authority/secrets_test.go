package authority

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/npm-step-reconciler/internal/config"
)

func TestWriteProvisionerPassword(t *testing.T) {
	t.Parallel()

	t.Run("writes restricted file", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), ".secrets")
		path, err := WriteProvisionerPassword(dir, config.Secret("hunter2"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, ProvisionerPasswordFile), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "hunter2", string(data))

		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

		di, err := os.Stat(dir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), di.Mode().Perm())
	})

	t.Run("tightens an existing file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		existing := filepath.Join(dir, ProvisionerPasswordFile)
		require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

		path, err := WriteProvisionerPassword(dir, config.Secret("new"))
		require.NoError(t, err)

		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	})

	t.Run("rejects empty password", func(t *testing.T) {
		t.Parallel()
		_, err := WriteProvisionerPassword(t.TempDir(), "")
		require.Error(t, err)
	})
}

package fsbackup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirResolver struct{ dir string }

func (d dirResolver) RepoDir(string) (string, error) { return d.dir, nil }

func TestCreateRestoreRoundTripsDirectoryContents(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "entities"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "configuration.yaml"), []byte("homeassistant:\n  name: Home\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "entities", "light.yaml"), []byte("light.kitchen: on\n"), 0o644))

	backupDir := t.TempDir()
	p := New(backupDir, dirResolver{dir: srcDir})

	ref, err := p.Create(context.Background(), "owner/r")
	require.NoError(t, err)
	assert.FileExists(t, ref)

	require.NoError(t, p.Verify(context.Background(), ref))

	// Mutate the source directory, then restore and confirm it reverts.
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "configuration.yaml"), []byte("corrupted"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(srcDir, "entities", "light.yaml")))

	require.NoError(t, p.Restore(context.Background(), "owner/r", ref))

	restored, err := os.ReadFile(filepath.Join(srcDir, "configuration.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(restored), "homeassistant")

	restoredEntity, err := os.ReadFile(filepath.Join(srcDir, "entities", "light.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(restoredEntity), "light.kitchen")
}

func TestVerifyRejectsCorruptArchive(t *testing.T) {
	backupDir := t.TempDir()
	p := New(backupDir, dirResolver{dir: t.TempDir()})

	badRef := filepath.Join(backupDir, "bad.tar.gz")
	require.NoError(t, os.WriteFile(badRef, []byte("not a gzip archive"), 0o644))

	err := p.Verify(context.Background(), badRef)
	assert.Error(t, err)
}

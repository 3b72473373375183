package yamlfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string            `yaml:"name"`
	Items map[string]string `yaml:"items"`
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.yaml")

	require.NoError(t, Write(path, doc{Name: "a", Items: map[string]string{"k": "v"}}))

	var got doc
	ok, err := Read(path, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, "v", got.Items["k"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestRead_Missing(t *testing.T) {
	var got doc
	ok, err := Read(filepath.Join(t.TempDir(), "absent.yaml"), &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRead_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))

	var got doc
	ok, err := Read(path, &got)
	assert.True(t, ok)
	require.ErrorIs(t, err, ErrDecode)
}

func TestMoveAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	dest, err := MoveAside(path, ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt", dest)
	assert.NoFileExists(t, path)
	assert.FileExists(t, dest)
}

package serve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/devspace"
)

func TestDiskFileStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	d := NewDiskFileStore(root)

	entry, err := d.WriteFile("ws-1", "src/main.go", []byte("package main\n"))
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", entry.Path)
	assert.Equal(t, "text/x-go", entry.ContentType)

	data, err := os.ReadFile(filepath.Join(root, "ws-1", "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	fc, err := d.ReadFile("ws-1", "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", fc.Content)
	assert.Equal(t, "utf-8", fc.Encoding)

	_, err = d.WriteFile("ws-1", "logo.png", []byte{0x89, 'P', 'N', 'G', 0xff, 0x00})
	require.NoError(t, err)
	fc, err = d.ReadFile("ws-1", "logo.png")
	require.NoError(t, err)
	assert.Equal(t, "base64", fc.Encoding)
}

func TestDiskFileStoreList(t *testing.T) {
	root := t.TempDir()
	d := NewDiskFileStore(root)

	for _, p := range []string{"b.txt", "src/a.js", "src/lib/c.js", ".git/config"} {
		_, err := d.WriteFile("ws-1", p, []byte("x"))
		require.NoError(t, err)
	}

	files, err := d.ListFiles("ws-1", "")
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"b.txt", "src", "src/a.js", "src/lib", "src/lib/c.js"}, paths)

	files, err = d.ListFiles("ws-1", "src/lib")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "src/lib/c.js", files[0].Path)

	_, err = d.ListFiles("ws-1", "nope")
	assert.ErrorIs(t, err, devspace.ErrFileNotFound)
}

func TestDiskFileStoreRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o644))

	d := NewDiskFileStore(root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ws-1"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "ws-1", "link")))

	tests := []struct {
		name string
		path string
	}{
		{"parent", "../ws-2/file"},
		{"absolute", "/etc/passwd"},
		{"symlink read", "link/secret"},
		{"symlink write", "link/new.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.WriteFile("ws-1", tt.path, []byte("x"))
			assert.ErrorIs(t, err, devspace.ErrInvalidPath)
			_, err = d.ReadFile("ws-1", tt.path)
			assert.ErrorIs(t, err, devspace.ErrInvalidPath)
		})
	}

	_, err := os.Stat(filepath.Join(outside, "new.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = d.ReadFile("../etc", "passwd")
	assert.ErrorIs(t, err, devspace.ErrInvalidWorkspaceID)
}

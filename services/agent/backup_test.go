package agent

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveAndExtractRoundtrip(t *testing.T) {
	src := t.TempDir()
	nested := filepath.Join(src, "cache", "app")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "data.bin"), []byte("payload"), 0o600))

	var buf bytes.Buffer
	n, err := writeArchive(&buf, []string{src})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	restoreRoot := t.TempDir()
	restored, err := extractArchive(&buf, restoreRoot)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	absSrc, err := filepath.Abs(src)
	require.NoError(t, err)

	top, err := os.ReadFile(filepath.Join(restoreRoot, absSrc, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(top))

	data, err := os.ReadFile(filepath.Join(restoreRoot, absSrc, "cache", "app", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestWriteArchiveExpandsGlobs(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.tmp"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.tmp"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "keep.txt"), []byte("keep"), 0o644))

	var buf bytes.Buffer
	n, err := writeArchive(&buf, []string{filepath.Join(src, "*.tmp")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("evil")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../evil.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(content)),
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	_, err = extractArchive(&buf, t.TempDir())
	require.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := expandHome("~/Library/Caches/app")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Library", "Caches", "app"), expanded)

	plain, err := expandHome("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", plain)
}

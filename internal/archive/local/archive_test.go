package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mahaon-tools/catalog-crawler/internal/archive/local"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive")
	_, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := a.PutObject(context.Background(), "sessions/s1/abc.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "sessions", "s1", "abc.html"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "sessions", "s1", "abc.html"))
	require.NoError(t, err)
	require.Equal(t, []byte("<html></html>"), data)
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	a, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = a.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	a, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = a.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}

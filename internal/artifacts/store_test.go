package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/obs"
	"github.com/kuitang/flowcheck/internal/s3client"
)

func TestStore_SaveWritesLocalFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "verification")
	store := NewStore(dir)

	art, err := store.Save(context.Background(), "sign-in state", "signin_page.png", []byte("png"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "signin_page.png"), art.Path)
	require.Equal(t, 3, art.Bytes)
	require.Empty(t, art.URL)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	require.Equal(t, "png", string(data))

	// A second save replaces the file and leaves no temp file behind.
	_, err = store.Save(context.Background(), "sign-in state", "signin_page.png", []byte("png-2"))
	require.NoError(t, err)
	data, err = os.ReadFile(art.Path)
	require.NoError(t, err)
	require.Equal(t, "png-2", string(data))
	_, err = os.Stat(art.Path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, name := range []string{"", "../escape.png", "sub/dir.png"} {
		_, err := store.Save(context.Background(), "x", name, []byte("x"))
		require.Error(t, err, name)
		require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	}
}

func TestStore_MirrorsToS3UnderRunPrefix(t *testing.T) {
	client := s3client.TestClient(t, "flowcheck")
	store := NewStore(t.TempDir(), WithMirror(client, "/smoke/"))

	ctx := obs.WithRun(context.Background(), "run-abc", 1)
	art, err := store.Save(ctx, "dashboard state", "dashboard.png", []byte("dash"))
	require.NoError(t, err)
	require.Contains(t, art.URL, "smoke/run-abc/dashboard.png")

	data, err := client.GetObject(ctx, "smoke/run-abc/dashboard.png")
	require.NoError(t, err)
	require.Equal(t, "dash", string(data))
}

type failingMirror struct{}

func (failingMirror) PutObject(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func (failingMirror) GetPublicURL(key string) string { return "https://unused/" + key }

func TestStore_MirrorFailureKeepsLocalCopy(t *testing.T) {
	store := NewStore(t.TempDir(), WithMirror(failingMirror{}, ""))

	art, err := store.Save(context.Background(), "error state", "error.png", []byte("err"))
	require.NoError(t, err)
	require.Empty(t, art.URL)
	_, err = os.Stat(art.Path)
	require.NoError(t, err)
}

func TestContentTypeFor(t *testing.T) {
	require.Equal(t, "image/png", contentTypeFor("dashboard.png"))
	require.Contains(t, contentTypeFor("report.json"), "application/json")
	require.Contains(t, contentTypeFor("report.html"), "text/html")
	require.Equal(t, "application/octet-stream", contentTypeFor("blob"))
}

package storage

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	return s
}

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		s, err := NewLocalStorage(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, s.Dir())
		assert.DirExists(t, dir)
	})

	t.Run("rejects empty directory", func(t *testing.T) {
		_, err := NewLocalStorage("")
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestLocalStorage_Put(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	t.Run("writes artifact and returns file url", func(t *testing.T) {
		key := ArtifactKey("job-1", "output.mp4")
		raw, err := s.Put(ctx, key, "video/mp4", strings.NewReader("video bytes"))
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "file", u.Scheme)
		assert.Equal(t, filepath.Join(s.Dir(), "jobs", "job-1", "output.mp4"), filepath.FromSlash(u.Path))

		content, err := os.ReadFile(filepath.FromSlash(u.Path))
		require.NoError(t, err)
		assert.Equal(t, "video bytes", string(content))
	})

	t.Run("overwrites existing key", func(t *testing.T) {
		key := "jobs/job-2/output.mp4"
		_, err := s.Put(ctx, key, "", strings.NewReader("first"))
		require.NoError(t, err)
		_, err = s.Put(ctx, key, "", strings.NewReader("second"))
		require.NoError(t, err)

		content, err := os.ReadFile(filepath.Join(s.Dir(), "jobs", "job-2", "output.mp4"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(content))
	})

	t.Run("rejects escaping keys", func(t *testing.T) {
		for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b", "."} {
			_, err := s.Put(ctx, key, "", strings.NewReader("x"))
			assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
		}
	})

	t.Run("leaves nothing behind on read error", func(t *testing.T) {
		_, err := s.Put(ctx, "jobs/job-3/output.mp4", "", &errorReader{err: errors.New("boom")})
		require.Error(t, err)

		entries, readErr := os.ReadDir(filepath.Join(s.Dir(), "jobs", "job-3"))
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("context cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Put(cctx, "jobs/job-4/output.mp4", "", strings.NewReader("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type errorReader struct {
	err error
}

func (r *errorReader) Read(_ []byte) (int, error) {
	return 0, r.err
}

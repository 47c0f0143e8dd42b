package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	t.Run("accepts nested relative paths", func(t *testing.T) {
		got, err := cleanPath("equipment/abc/primary-1.jpg")
		require.NoError(t, err)
		assert.Equal(t, "equipment/abc/primary-1.jpg", got)
	})

	t.Run("normalises backslashes and dots", func(t *testing.T) {
		got, err := cleanPath(`equipment\abc\./x.png`)
		require.NoError(t, err)
		assert.Equal(t, "equipment/abc/x.png", got)
	})

	for _, bad := range []string{"", "/etc/passwd", "../secret", "a/../../b", "."} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := cleanPath(bad)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestFilesystem_Put(t *testing.T) {
	t.Run("writes file and returns public URL", func(t *testing.T) {
		dir := t.TempDir()
		fs, err := NewFilesystem(dir, "https://cdn.example.com/media/")
		require.NoError(t, err)

		url, err := fs.Put(context.Background(), "equipment/r1/primary-1.png", []byte("png"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/media/equipment/r1/primary-1.png", url)

		data, err := os.ReadFile(filepath.Join(dir, "equipment", "r1", "primary-1.png"))
		require.NoError(t, err)
		assert.Equal(t, []byte("png"), data)

		back, err := fs.Get("equipment/r1/primary-1.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("png"), back)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		fs, err := NewFilesystem(t.TempDir(), "")
		require.NoError(t, err)

		_, err = fs.Put(context.Background(), "../outside.png", []byte("x"), "image/png")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("rejects empty data", func(t *testing.T) {
		fs, err := NewFilesystem(t.TempDir(), "")
		require.NoError(t, err)

		_, err = fs.Put(context.Background(), "a.png", nil, "image/png")
		assert.Error(t, err)
	})

	t.Run("empty base path", func(t *testing.T) {
		_, err := NewFilesystem("", "")
		assert.Error(t, err)
	})

	t.Run("missing object", func(t *testing.T) {
		fs, err := NewFilesystem(t.TempDir(), "")
		require.NoError(t, err)
		_, err = fs.Get("nope.png")
		assert.Error(t, err)
	})
}

func TestMemory_Put(t *testing.T) {
	m := NewMemory("mem://bucket")

	url, err := m.Put(context.Background(), "equipment/r1/x.jpg", []byte{1, 2}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "mem://bucket/equipment/r1/x.jpg", url)

	obj, ok := m.Get("equipment/r1/x.jpg")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, []string{"equipment/r1/x.jpg"}, m.Paths())

	m.FailPut = errors.New("bucket unavailable")
	_, err = m.Put(context.Background(), "equipment/r2/x.jpg", []byte{1}, "image/jpeg")
	assert.EqualError(t, err, "bucket unavailable")
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_SaveReadDelete(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	logger, _ := zap.NewDevelopment()
	s := NewLocalFileStorage(base, logger)

	content := []byte("PK\x03\x04 fake xlsx content for testing")
	require.NoError(t, s.Save(ctx, "exports/history_all_20260101T000000.xlsx", content))
	assert.FileExists(t, filepath.Join(base, "exports", "history_all_20260101T000000.xlsx"))
	assert.True(t, s.Exists(ctx, "exports/history_all_20260101T000000.xlsx"))

	got, err := s.Read(ctx, "exports/history_all_20260101T000000.xlsx")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Overwrite replaces content
	require.NoError(t, s.Save(ctx, "exports/history_all_20260101T000000.xlsx", []byte("v2")))
	got, err = s.Read(ctx, "exports/history_all_20260101T000000.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, "exports/history_all_20260101T000000.xlsx"))
	assert.False(t, s.Exists(ctx, "exports/history_all_20260101T000000.xlsx"))
	require.NoError(t, s.Delete(ctx, "exports/history_all_20260101T000000.xlsx"), "delete is idempotent")
}

func TestLocalFileStorage_List(t *testing.T) {
	ctx := context.Background()
	s := NewLocalFileStorage(t.TempDir(), zap.NewNop())

	empty, err := s.List(ctx, "exports")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Save(ctx, "exports/b.xlsx", []byte("b")))
	require.NoError(t, s.Save(ctx, "exports/a.xlsx", []byte("a")))
	require.NoError(t, s.Save(ctx, "exports/nested/c.xlsx", []byte("c")))

	paths, err := s.List(ctx, "exports")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/a.xlsx", "exports/b.xlsx"}, paths)
}

func TestLocalFileStorage_RejectsEscape(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s := NewLocalFileStorage(filepath.Join(base, "root"), zap.NewNop())

	err := s.Save(ctx, "../outside.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrPathEscapes)
	_, statErr := os.Stat(filepath.Join(base, "outside.txt"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = s.Read(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapes)
	assert.False(t, s.Exists(ctx, "../outside.txt"))

	_, err = s.List(ctx, "..")
	assert.ErrorIs(t, err, ErrPathEscapes)
}

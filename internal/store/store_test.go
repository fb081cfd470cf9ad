package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sandboxrun/engine/internal/types"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s, err := NewGormStore(db)
	require.NoError(t, err)
	return s
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sub := &types.Submission{ID: "1", Token: "tok1", Status: types.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, s.Save(ctx, sub))

	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)

	byToken, err := s.GetByToken(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, "1", byToken.ID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMarkTerminalOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sub := &types.Submission{ID: "2", Status: types.StatusRunning}
	require.NoError(t, s.Save(ctx, sub))

	sub.Status = types.StatusAccepted
	ok, err := s.MarkTerminal(ctx, sub)
	require.NoError(t, err)
	assert.True(t, ok)

	sub.Status = types.StatusCancelled
	ok, err = s.MarkTerminal(ctx, sub)
	require.NoError(t, err)
	assert.False(t, ok, "second terminal transition must be rejected")

	got, _ := s.Get(ctx, "2")
	assert.Equal(t, types.StatusAccepted, got.Status, "status must stay at the first terminal write")
}

func TestGormStoreRoundTrip(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	sub := &types.Submission{ID: "g1", Token: "gtok1", Status: types.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, s.Save(ctx, sub))

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)

	byToken, err := s.GetByToken(ctx, "gtok1")
	require.NoError(t, err)
	assert.Equal(t, "g1", byToken.ID)
}

func TestGormStoreMarkTerminalIsAtomic(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()
	sub := &types.Submission{ID: "g2", Status: types.StatusRunning, CreatedAt: time.Now()}
	require.NoError(t, s.Save(ctx, sub))

	sub.Status = types.StatusAccepted
	ok, err := s.MarkTerminal(ctx, sub)
	require.NoError(t, err)
	assert.True(t, ok)

	sub.Status = types.StatusCancelled
	ok, err = s.MarkTerminal(ctx, sub)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, got.Status)
}

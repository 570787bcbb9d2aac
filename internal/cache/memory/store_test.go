package memory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wpchain/internal/cache"
)

func TestStoreVisibilityFollowsClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	w, err := s.Create(ctx, "k")
	require.NoError(t, err)
	_, err = w.Write([]byte("book"))
	require.NoError(t, err)

	_, err = s.Open(ctx, "k")
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, w.Close())
	require.NoError(t, w.Abort())
	r, err := s.Open(ctx, "k")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "book", string(data))
}

func TestStoreAbortDiscards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	w, err := s.Create(ctx, "k")
	require.NoError(t, err)
	_, _ = w.Write([]byte("partial"))
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())

	_, err = s.Open(ctx, "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestStoreExpireKeepsOpenReaders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	w, _ := s.Create(ctx, "k")
	_, _ = w.Write([]byte("book"))
	require.NoError(t, w.Close())

	r, err := s.Open(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, s.Expire(ctx, "k"))

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "book", string(data))
	_, err = s.Open(ctx, "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

var _ cache.Storage = (*Store)(nil)

package postgres

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wpchain/internal/cache"
)

const key = "http://a.wordpress.com/2011/06/11/one/"

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewStoreWithPool(mock, "books; DROP TABLE x")
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS book_cache").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkCloseUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO book_cache").
		WithArgs(key, cache.ContentType, []byte("epub")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	w, err := store.Create(context.Background(), key)
	require.NoError(t, err)
	_, err = w.Write([]byte("ep"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ub"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkAbortWritesNothing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	w, err := store.Create(context.Background(), key)
	require.NoError(t, err)
	_, _ = w.Write([]byte("partial"))
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT body FROM book_cache").
		WithArgs(key).
		WillReturnRows(mock.NewRows([]string{"body"}).AddRow([]byte("epub")))

	r, err := store.Open(context.Background(), key)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "epub", string(data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT body FROM book_cache").
		WithArgs(key).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Open(context.Background(), key)
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestOpenQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT body FROM book_cache").
		WithArgs(key).
		WillReturnError(errors.New("boom"))

	_, err := store.Open(context.Background(), key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, cache.ErrNotFound)
}

func TestExpire(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM book_cache").
		WithArgs(key).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Expire(context.Background(), key))
	require.NoError(t, mock.ExpectationsWereMet())
}

var _ cache.Storage = (*Store)(nil)

package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/wpchain/internal/cache"
	"github.com/JakeFAU/wpchain/internal/hash/sha256"
)

const testBucket = "test-bucket"

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, Config{Bucket: testBucket, Prefix: "books/"})
	require.NoError(t, err)
	return s
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &Store{prefix: "books", hasher: sha256.New()}
	name := s.ObjectName("k")
	assert.True(t, strings.HasPrefix(name, "books/"))
	assert.True(t, strings.HasSuffix(name, ".epub"))
	assert.Equal(t, name, s.ObjectName("k"))
	assert.NotEqual(t, name, s.ObjectName("other"))
}

func TestStoreUpload(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket))
		assert.True(t, strings.HasPrefix(r.URL.Query().Get("name"), "books/"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "epub-bytes")
		assert.Contains(t, string(body), cache.ContentType)
		uploads.Add(1)

		fmt.Fprintln(w, `{"name": "`+r.URL.Query().Get("name")+`"}`)
	})
	s := newTestStore(t, handler)

	w, err := s.Create(context.Background(), "http://a.wordpress.com/2011/06/11/one/")
	require.NoError(t, err)
	_, err = w.Write([]byte("epub-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, int32(1), uploads.Load())
}

func TestStoreUploadError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	w, err := s.Create(context.Background(), "k")
	require.NoError(t, err)
	_, _ = w.Write([]byte("data"))
	assert.Error(t, w.Close())
}

func TestStoreAbortSkipsUpload(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		uploads.Add(1)
		fmt.Fprintln(w, `{"name": "x"}`)
	}))

	w, err := s.Create(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())
	assert.Equal(t, int32(0), uploads.Load())
}

func TestStoreOpenMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := s.Open(context.Background(), "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreExpire(t *testing.T) {
	t.Parallel()

	var deleted atomic.Value
	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted.Store(r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))

	require.NoError(t, s.Expire(context.Background(), "k"))
	path, _ := deleted.Load().(string)
	assert.Contains(t, path, "/b/"+testBucket+"/o/")
}

func TestStoreExpireMissingIsNoop(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	require.NoError(t, s.Expire(context.Background(), "k"))
}

var _ cache.Storage = (*Store)(nil)

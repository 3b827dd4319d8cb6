package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(
		context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	s, err := New(client, Config{Bucket: "test-bucket", Prefix: "/checkpoints/"})
	require.NoError(t, err)
	return s
}

func TestStorePutUploadsObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "checkpoints/budget.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"date":"2026-10-18"}`)
		fmt.Fprintln(w, `{"name": "checkpoints/budget.json", "bucket": "test-bucket"}`)
	})

	s := newTestStore(t, handler)
	require.NoError(t, s.Put(context.Background(), "budget", []byte(`{"date":"2026-10-18"}`)))
}

func TestStorePutRequiresKey(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, http.NotFoundHandler())
	require.Error(t, s.Put(context.Background(), " ", []byte("x")))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &Store{prefix: ""}
	require.Equal(t, "runstate.json", s.objectName("runstate"))
	s.prefix = "a/b"
	require.True(t, strings.HasSuffix(s.objectName("runstate"), "a/b/runstate.json"))
}

package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherGetReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		assert.Equal(t, "harvester-test", r.UserAgent())
		w.Header().Set("X-Resp", "ok")
		_, _ = w.Write([]byte("<html>hi</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "harvester-test", Timeout: time.Second}, nil)
	resp, err := f.Get(context.Background(), Request{URL: srv.URL + "/a", Headers: http.Header{"X-Trace": {"yes"}}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>hi</html>", string(resp.Body))
	require.Equal(t, "ok", resp.Headers.Get("X-Resp"))
}

func TestFetcherGetSurfacesErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{}, nil)
	for i := 0; i < 2; i++ {
		resp, err := f.Get(context.Background(), Request{URL: srv.URL})
		require.NoError(t, err)
		require.Equal(t, http.StatusGone, resp.StatusCode)
	}
}

func TestFetcherGetCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, nil).Get(ctx, Request{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchStateHooks(t *testing.T) {
	t.Parallel()

	state := &fetchState{start: time.Unix(0, 0)}
	hooks := &stubHooks{}
	state.attach(hooks, Request{Headers: http.Header{"X-Trace": {"yes"}}})
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, state.resp.StatusCode)
	require.Equal(t, "body", string(state.resp.Body))
	require.Equal(t, "ok", state.resp.Headers.Get("X-Resp"))
	require.Equal(t, "https://example.com", state.resp.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, state.err, "boom")
}

func TestFetcherTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(srv.Close)

	resp, err := New(Config{MaxBodyBytes: 16}, nil).Get(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, resp.Body, 16)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

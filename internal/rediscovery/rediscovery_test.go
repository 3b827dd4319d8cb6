package rediscovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

type fakeSearcher struct {
	results []Candidate
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]Candidate, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

var deadTarget = retrieval.Target{
	ID:           "t-9",
	URL:          "https://www.example.com/2019/03/old-hamlet-link",
	TopicKeyword: "Hamlet",
}

func TestQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Hamlet site:example.com", Query(deadTarget))
	require.Equal(t, "site:example.com", Query(retrieval.Target{URL: "https://example.com/x"}))
}

func TestFindPicksPlausibleCandidate(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: []Candidate{
		{URL: "https://other.org/hamlet-review", Title: "Hamlet review"},
		{URL: "https://example.com/news/hamlet-casting", Title: "Hamlet casting announced"},
		{URL: deadTarget.URL, Title: "Hamlet review"},
		{URL: "https://example.com/theatre/macbeth-review", Title: "Macbeth"},
		{URL: "https://example.com/theatre/2019/hamlet", Title: "Review: a restless Hamlet"},
	}}
	var found []bool
	r := New(Config{}, searcher, "https://search.example/api", nil, WithSearchHook(func(ok bool) { found = append(found, ok) }))

	got, ok, err := r.Find(context.Background(), deadTarget)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://example.com/theatre/2019/hamlet", got)
	require.Equal(t, []string{"Hamlet site:example.com"}, searcher.queries)
	require.Equal(t, []bool{true}, found)
}

func TestFindNoMatch(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: []Candidate{{URL: "https://example.com/about", Title: "About us"}}}
	r := New(Config{}, searcher, "", nil)
	_, ok, err := r.Find(context.Background(), deadTarget)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindRespectsRunCap(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	r := New(Config{MaxPerRun: 1}, searcher, "", nil)

	_, _, err := r.Find(context.Background(), deadTarget)
	require.NoError(t, err)
	_, _, err = r.Find(context.Background(), deadTarget)
	require.ErrorIs(t, err, ErrRunCapReached)
	require.Len(t, searcher.queries, 1)
	require.Equal(t, 1, r.Used())
}

func TestFindSkipsTargetsWithoutTopic(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{}
	r := New(Config{}, searcher, "", nil)
	_, ok, err := r.Find(context.Background(), retrieval.Target{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, searcher.queries)
	require.Zero(t, r.Used())
}

func TestFindPropagatesSearchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	r := New(Config{}, &fakeSearcher{err: boom}, "", nil)
	_, _, err := r.Find(context.Background(), deadTarget)
	require.ErrorIs(t, err, boom)
}

func TestEligible(t *testing.T) {
	t.Parallel()

	dead := &retrieval.ExhaustedError{Attempts: []retrieval.AttemptRecord{
		{Channel: retrieval.ChannelDirectBrowser, Outcome: retrieval.OutcomeFailure, ErrorKind: retrieval.KindNotFound},
		{Channel: retrieval.ChannelSnapshot, Outcome: retrieval.OutcomeFailure, ErrorKind: retrieval.KindNotFound},
	}}
	require.True(t, Eligible(dead))

	onlySnapshot := &retrieval.ExhaustedError{Attempts: []retrieval.AttemptRecord{
		{Channel: retrieval.ChannelSnapshot, Outcome: retrieval.OutcomeFailure, ErrorKind: retrieval.KindNotFound},
		{Channel: retrieval.ChannelDirectBrowser, Outcome: retrieval.OutcomeFailure, ErrorKind: retrieval.KindBlocked},
	}}
	require.False(t, Eligible(onlySnapshot))
	require.False(t, Eligible(retrieval.Fail(retrieval.KindGarbage, retrieval.ChannelSnapshot, nil)))
	require.False(t, Eligible(nil))
}

func TestHTTPSearcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Hamlet site:example.com", r.URL.Query().Get("q"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "cx1", r.URL.Query().Get("cx"))
		_, _ = w.Write([]byte(`{"items":[{"link":"https://example.com/hamlet-review","title":"Hamlet review"}],"results":[{"url":"https://example.com/b","title":"B"}]}`))
	}))
	t.Cleanup(srv.Close)

	s, err := NewHTTPSearcher(SearchConfig{Endpoint: srv.URL + "/customsearch/v1", APIKey: "k", EngineID: "cx1"},
		collyfetcher.New(collyfetcher.Config{}, nil))
	require.NoError(t, err)
	got, err := s.Search(context.Background(), "Hamlet site:example.com")
	require.NoError(t, err)
	require.Equal(t, []Candidate{
		{URL: "https://example.com/hamlet-review", Title: "Hamlet review"},
		{URL: "https://example.com/b", Title: "B"},
	}, got)
}

func TestHTTPSearcherErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	s, err := NewHTTPSearcher(SearchConfig{Endpoint: srv.URL}, collyfetcher.New(collyfetcher.Config{}, nil))
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "q")
	require.Error(t, err)

	_, err = NewHTTPSearcher(SearchConfig{}, nil)
	require.Error(t, err)
}

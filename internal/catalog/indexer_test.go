package catalog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const catalogPage = `<!doctype html>
<html><body>
<div id="collapse-images-collapse-engineering">
  <ul>
    <li><a href="/ca/graus/informatica">Informatics</a></li>
    <li><span>Coming soon</span></li>
    <li><a href="https://www.example.edu/ca/graus/fisica#top">Physics</a></li>
  </ul>
</div>
<div id="news"><ul><li><a href="/ca/noticies">News</a></li></ul></div>
<div class="collapse-images-collapse-fake"><ul><li><a href="/ignored">no id</a></li></ul></div>
<div id="collapse-images-collapse-architecture">
  <ul><li><a href="arquitectura"><strong>Architecture</strong></a><a href="/second">x</a></li></ul>
</div>
</body></html>`

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(crawler.FetchResponse)
	return resp, args.Error(1)
}

func TestParseEntries(t *testing.T) {
	base, err := url.Parse("https://www.example.edu/ca/graus/")
	require.NoError(t, err)

	entries, err := ParseEntries(strings.NewReader(catalogPage), base, regexp.MustCompile(DefaultGroupPattern), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.example.edu/ca/graus/informatica",
		"https://www.example.edu/ca/graus/fisica",
		"https://www.example.edu/ca/graus/arquitectura",
	}, entries)
}

func TestParseEntriesWithoutGroups(t *testing.T) {
	base, _ := url.Parse("https://www.example.edu/")
	entries, err := ParseEntries(strings.NewReader("<html><body><p>empty</p></body></html>"), base,
		regexp.MustCompile(DefaultGroupPattern), nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestListEntriesFetchesCatalog(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, crawler.FetchRequest{
		URL:        "https://www.example.edu/ca/graus/",
		MaxRetries: 5,
		UserAgent:  "catalog-test",
		Format:     crawler.FormatText,
	}).Return(crawler.FetchResponse{Text: catalogPage, IsText: true}, nil).Once()

	idx, err := New(fetcher, Config{
		URL:   "https://www.example.edu/ca/graus/",
		Fetch: crawler.FetchRequest{MaxRetries: 5, UserAgent: "catalog-test", Format: crawler.FormatBinary},
	}, nil)
	require.NoError(t, err)

	entries, err := idx.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	fetcher.AssertExpectations(t)
}

func TestListEntriesPropagatesFetchFailure(t *testing.T) {
	fetchErr := &crawler.FetchError{Kind: crawler.FailureTimeout, URL: "https://www.example.edu/ca/graus/"}
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(crawler.FetchResponse{}, fetchErr).Once()

	idx, err := New(fetcher, Config{URL: "https://www.example.edu/ca/graus/"}, nil)
	require.NoError(t, err)

	entries, err := idx.ListEntries(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrTimeout)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestListEntriesOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="collapse-images-collapse-1"><ul>
<li><a href="/p/one">One</a></li><li><a href="/p/two">Two</a></li></ul></div></body></html>`))
	}))
	defer srv.Close()

	fetcher := fetcherFunc(func(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
		resp, err := http.Get(req.URL) //nolint:noctx // test helper
		if err != nil {
			return crawler.FetchResponse{}, err
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return crawler.FetchResponse{}, err
		}
		return crawler.FetchResponse{Text: string(body), IsText: true, StatusCode: resp.StatusCode}, nil
	})

	idx, err := New(fetcher, Config{URL: srv.URL + "/catalog/"}, nil)
	require.NoError(t, err)
	entries, err := idx.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/p/one", srv.URL + "/p/two"}, entries)
}

type fetcherFunc func(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error)

func (f fetcherFunc) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return f(ctx, req)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{URL: "https://example.edu"}, nil)
	require.Error(t, err)
	_, err = New(&mockFetcher{}, Config{URL: "not a url"}, nil)
	require.Error(t, err)
	_, err = New(&mockFetcher{}, Config{URL: "https://example.edu", GroupPattern: "("}, nil)
	require.Error(t, err)

	idx, err := New(&mockFetcher{}, Config{URL: "https://example.edu/cat"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.edu/cat", idx.URL())
}

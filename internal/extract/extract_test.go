package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/documents"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

const pageURL = "https://www.example.edu/ca/graus/informatica"

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(crawler.FetchResponse)
	return resp, args.Error(1)
}

type fetcherFunc func(crawler.FetchRequest) (crawler.FetchResponse, error)

func (f fetcherFunc) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return f(req)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(_ context.Context, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func newExtractor(t *testing.T, fetcher crawler.Fetcher, saver DocumentSaver, clock crawler.Clock) *Extractor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Fetch = crawler.FetchRequest{MaxRetries: 5, Timeout: 10 * time.Second, UserAgent: "ua0000"}
	e, err := New(fetcher, saver, clock, cfg, nil)
	require.NoError(t, err)
	return e
}

func pageFetcher(pages map[string]string) fetcherFunc {
	return func(req crawler.FetchRequest) (crawler.FetchResponse, error) {
		body, ok := pages[req.URL]
		if !ok {
			return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FailureHTTPStatus, URL: req.URL, StatusCode: 404}
		}
		if req.Format == crawler.FormatBinary {
			return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
		}
		return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Text: body, IsText: true}, nil
	}
}

func TestExtractFullPage(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, crawler.FetchRequest{
		URL:        pageURL,
		MaxRetries: 5,
		Timeout:    10 * time.Second,
		UserAgent:  "ua0000",
		Format:     crawler.FormatText,
	}).Return(crawler.FetchResponse{Text: readFixture(t, "program.html"), IsText: true}, nil).Once()

	e := newExtractor(t, fetcher, nil, newFakeClock())
	program, err := e.Extract(context.Background(), pageURL, Options{})
	require.NoError(t, err)
	fetcher.AssertExpectations(t)

	assert.Equal(t, "Grau en Enginyeria Informàtica", program.Name)
	assert.Equal(t, pageURL, program.SourceURL)
	assert.Equal(t, "240", program.CreditLoad)
	assert.True(t, program.Valid())

	want := []crawler.ItemRecord{
		{Name: "Àlgebra", Term: "1", CreditLoad: "6", SourceURL: "https://www.example.edu/assignatures/algebra.pdf", Category: crawler.CategoryMandatory},
		{Name: "Treball de Fi de Grau", Term: "1", CreditLoad: "12", Category: crawler.CategoryCapstone},
		{Name: "Xarxes", Term: "2", CreditLoad: "6", SourceURL: "https://www.example.edu/assignatures/xarxes.pdf", Category: crawler.CategoryElective},
		{Name: "Intel·ligència Artificial", Term: "2", CreditLoad: "6", SourceURL: "https://www.example.edu/assignatures/ia.pdf", Category: crawler.CategoryMandatory, MentionTag: "Computació"},
		{Name: "Bases de Dades", Term: "2", CreditLoad: "6", SourceURL: "https://www.example.edu/assignatures/bd.pdf", Category: crawler.CategoryElective, MentionTag: "Computació"},
		{Name: "Bases de Dades", Term: "2", CreditLoad: "6", SourceURL: "https://www.example.edu/assignatures/bd.pdf", Category: crawler.CategoryElective, MentionTag: "Enginyeria del Software"},
		{Name: "Bases de Dades", Term: "2", CreditLoad: "6", SourceURL: "https://www.example.edu/assignatures/bd.pdf", Category: crawler.CategoryElective, MentionTag: "Sistemes d'Informació"},
	}
	assert.Equal(t, want, program.Items)

	require.Len(t, program.Faults, 2)
	assert.Contains(t, program.Faults[0], "especialitat-9")
	assert.Contains(t, program.Faults[1], "seminari")
}

func TestExtractMissingNameDiscardsRecord(t *testing.T) {
	fetcher := pageFetcher(map[string]string{pageURL: readFixture(t, "no_name.html")})
	e := newExtractor(t, fetcher, nil, newFakeClock())

	program, err := e.Extract(context.Background(), pageURL, Options{Verbose: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrNameExtraction)
	assert.Equal(t, crawler.ProgramRecord{}, program)
}

func TestExtractWithoutCurriculumReturnsProgramOnly(t *testing.T) {
	fetcher := pageFetcher(map[string]string{pageURL: readFixture(t, "no_curriculum.html")})
	e := newExtractor(t, fetcher, nil, newFakeClock())

	program, err := e.Extract(context.Background(), pageURL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Màster en Ciència de Dades", program.Name)
	assert.Equal(t, "90", program.CreditLoad)
	assert.Empty(t, program.Items)
	require.Len(t, program.Faults, 1)
	assert.True(t, strings.HasPrefix(program.Faults[0], FieldCurriculum))

	rows := crawler.Flatten(program)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].ItemName)
}

func TestExtractMissingCreditsIsPartial(t *testing.T) {
	fetcher := pageFetcher(map[string]string{pageURL: readFixture(t, "minimal.html")})
	e := newExtractor(t, fetcher, nil, newFakeClock())

	program, err := e.Extract(context.Background(), pageURL, Options{})
	require.NoError(t, err)
	assert.Empty(t, program.CreditLoad)
	require.Len(t, program.Faults, 1)
	assert.True(t, strings.HasPrefix(program.Faults[0], FieldCredits))

	require.Len(t, program.Items, 3)
	assert.Equal(t, "https://www.example.edu/ca/graus/docs/mecanica.pdf", program.Items[0].SourceURL)
	assert.Equal(t, "Seminari de recerca", program.Items[1].Name)
	assert.Empty(t, program.Items[1].SourceURL)
	assert.Equal(t, crawler.CategoryElective, program.Items[1].Category)
	assert.Equal(t, "2", program.Items[2].Term)
}

func TestExtractFetchFailure(t *testing.T) {
	fetcher := pageFetcher(nil)
	e := newExtractor(t, fetcher, nil, newFakeClock())

	program, err := e.Extract(context.Background(), pageURL, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrHTTPStatus)
	assert.Equal(t, 404, crawler.StatusCodeOf(err))
	assert.Equal(t, crawler.ProgramRecord{}, program)
}

func TestExtractPersistsDocuments(t *testing.T) {
	pages := map[string]string{
		pageURL: readFixture(t, "minimal.html"),
		"https://www.example.edu/ca/graus/docs/mecanica.pdf": "%PDF-1.4 mecanica",
	}
	clock := newFakeClock()
	store := memory.NewBlobStore()
	saver := documents.New(pageFetcher(pages), store, nil)
	e := newExtractor(t, pageFetcher(pages), saver, clock)

	program, err := e.Extract(context.Background(), pageURL, Options{PersistDocs: true, OutputDir: "docs"})
	require.NoError(t, err, "document failures must not fail the extraction")
	require.Len(t, program.Items, 3)

	assert.Equal(t, []string{"docs/mecanica.pdf"}, store.Paths())
	data, ok := store.Get("docs/mecanica.pdf")
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4 mecanica", string(data))

	// Two linked items, each preceded by a full document interval.
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.sleeps)
}

func TestExtractPersistWithoutSaverIsIgnored(t *testing.T) {
	fetcher := pageFetcher(map[string]string{pageURL: readFixture(t, "minimal.html")})
	clock := newFakeClock()
	e := newExtractor(t, fetcher, nil, clock)

	program, err := e.Extract(context.Background(), pageURL, Options{PersistDocs: true})
	require.NoError(t, err)
	assert.Len(t, program.Items, 3)
	assert.Empty(t, clock.sleeps)
}

func TestParseRejectsMalformedURL(t *testing.T) {
	e := newExtractor(t, pageFetcher(nil), nil, newFakeClock())
	_, err := e.Parse(strings.NewReader(readFixture(t, "minimal.html")), "://bad", Options{})
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, newFakeClock(), DefaultConfig(), nil)
	require.Error(t, err)

	_, err = New(pageFetcher(nil), nil, nil, DefaultConfig(), nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MentionPrefix = "("
	_, err = New(pageFetcher(nil), nil, newFakeClock(), cfg, nil)
	require.Error(t, err)

	e, err := New(pageFetcher(nil), nil, newFakeClock(), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSelectors(), e.cfg.Selectors)
	assert.Nil(t, e.mentionPrefix)
}

func TestItemFaultDoesNotAbortTerm(t *testing.T) {
	page := `<div id="main-container"><header><h1 id="degree-name">Grau</h1></header>
<div id="collapse-images-collapse-curriculum"><div class="pla-estudis-quadrimestre"><ul>
<li><a href="/x.pdf">Sense classe</a><span>6</span></li>
<li class="sense-especialitat Optativa"><a href="/y.pdf">Bona</a></li>
<li class="sense-especialitat Optativa"><a href="/z.pdf">Vàlida</a><span>4,5</span></li>
</ul></div></div></div>`
	e := newExtractor(t, pageFetcher(nil), nil, newFakeClock())

	program, err := e.Parse(strings.NewReader(page), pageURL, Options{})
	require.NoError(t, err)
	require.Len(t, program.Items, 2)
	assert.Equal(t, "Bona", program.Items[0].Name)
	assert.Empty(t, program.Items[0].CreditLoad, "kept without its credit load")
	assert.Equal(t, "https://www.example.edu/y.pdf", program.Items[0].SourceURL)
	assert.Equal(t, "Vàlida", program.Items[1].Name)
	assert.Equal(t, "4,5", program.Items[1].CreditLoad)
	require.Len(t, program.Faults, 3, "program credits, one skipped item and one missing item credit load")
	assert.Contains(t, program.Faults[2], "Bona")
	assert.Contains(t, program.Faults[2], "no credit load")
}

func TestPartialWrapsSentinel(t *testing.T) {
	err := partial("term %s: broken", "2")
	assert.True(t, errors.Is(err, crawler.ErrPartialExtraction))
	assert.Contains(t, err.Error(), "term 2: broken")
}

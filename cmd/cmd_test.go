package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
)

// MockApp mocks the App interface.
type MockApp struct {
	mock.Mock
	cfg config.Config
}

func (m *MockApp) Config() config.Config { return m.cfg }

func (m *MockApp) ListEntries(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]string)
	return entries, args.Error(1)
}

func (m *MockApp) ExtractProgram(ctx context.Context, pageURL string) (crawler.ProgramRecord, error) {
	args := m.Called(ctx, pageURL)
	program, _ := args.Get(0).(crawler.ProgramRecord)
	return program, args.Error(1)
}

func (m *MockApp) Crawl(ctx context.Context) (pipeline.Summary, error) {
	args := m.Called(ctx)
	summary, _ := args.Get(0).(pipeline.Summary)
	return summary, args.Error(1)
}

func (m *MockApp) Close() error {
	args := m.Called()
	return args.Error(0)
}

// useMockApp swaps the factory for one returning mockApp and captures the config it receives.
func useMockApp(t *testing.T, mockApp *MockApp) *config.Config {
	t.Helper()
	captured := &config.Config{}
	original := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		*captured = cfg
		mockApp.cfg = cfg
		return mockApp, nil
	}
	t.Cleanup(func() { newApp = original })
	return captured
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlAppliesFlagOverrides(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("Crawl", mock.Anything).Return(pipeline.Summary{RunID: "run-1", Status: crawler.RunSuccess}, nil)
	mockApp.On("Close").Return(nil)
	cfg := useMockApp(t, mockApp)

	_, err := execute(t, "crawl", "--output", "out.csv", "--persist-docs", "--docs-dir", "guides", "--verbose")
	require.NoError(t, err)

	assert.Equal(t, "out.csv", cfg.Output.CSVPath)
	assert.True(t, cfg.Extract.PersistDocs)
	assert.Equal(t, "guides", cfg.Extract.DocsDir)
	assert.True(t, cfg.Extract.Verbose)
	mockApp.AssertExpectations(t)
}

func TestCrawlKeepsConfigWithoutFlags(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("Crawl", mock.Anything).Return(pipeline.Summary{}, nil)
	mockApp.On("Close").Return(nil)
	cfg := useMockApp(t, mockApp)

	_, err := execute(t, "crawl")
	require.NoError(t, err)
	assert.Equal(t, "programs.csv", cfg.Output.CSVPath)
	assert.False(t, cfg.Extract.PersistDocs)
	assert.Equal(t, "docs", cfg.Extract.DocsDir)
}

func TestCrawlReturnsRunError(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("Crawl", mock.Anything).Return(pipeline.Summary{Status: crawler.RunError}, errors.New("list catalog entries: boom"))
	mockApp.On("Close").Return(nil)
	useMockApp(t, mockApp)

	_, err := execute(t, "crawl")
	require.ErrorContains(t, err, "run crawler: list catalog entries: boom")
}

func TestCrawlIgnoresCancellation(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("Crawl", mock.Anything).Return(pipeline.Summary{}, context.Canceled)
	mockApp.On("Close").Return(nil)
	useMockApp(t, mockApp)

	_, err := execute(t, "crawl")
	require.NoError(t, err)
}

func TestListPrintsEntries(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("ListEntries", mock.Anything).Return([]string{"https://a.example/1", "https://a.example/2"}, nil)
	mockApp.On("Close").Return(nil)
	useMockApp(t, mockApp)

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/1\nhttps://a.example/2\n", out)
	mockApp.AssertExpectations(t)
}

func TestProgramPrintsJSON(t *testing.T) {
	program := crawler.ProgramRecord{
		Name:       "Grau en Física",
		SourceURL:  "https://a.example/fisica",
		CreditLoad: "240",
		Items: []crawler.ItemRecord{
			{Name: "Mecànica", Term: "1", CreditLoad: "6", Category: crawler.CategoryMandatory},
		},
	}
	mockApp := &MockApp{}
	mockApp.On("ExtractProgram", mock.Anything, "https://a.example/fisica").Return(program, nil)
	mockApp.On("Close").Return(nil)
	useMockApp(t, mockApp)

	out, err := execute(t, "program", "https://a.example/fisica")
	require.NoError(t, err)

	var decoded crawler.ProgramRecord
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, program, decoded)
}

func TestProgramRequiresURL(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("Close").Return(nil).Maybe()
	useMockApp(t, mockApp)

	_, err := execute(t, "program")
	require.Error(t, err)
}

func TestInvalidConfigFailsBeforeApp(t *testing.T) {
	called := false
	original := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		called = true
		return nil, errors.New("unexpected")
	}
	t.Cleanup(func() { newApp = original })
	t.Setenv("CATALOG_DOCUMENTS_BACKEND", "ftp")

	_, err := execute(t, "list")
	require.ErrorContains(t, err, "documents.backend")
	assert.False(t, called)
}

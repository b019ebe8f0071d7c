// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Output    OutputConfig    `mapstructure:"output"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CatalogConfig locates the catalog landing page.
type CatalogConfig struct {
	URL          string `mapstructure:"url"`
	GroupPattern string `mapstructure:"group_pattern"`
}

// CrawlerConfig governs etiquette and pacing.
type CrawlerConfig struct {
	UserAgent            string  `mapstructure:"user_agent"`
	RespectRobots        bool    `mapstructure:"respect_robots"`
	RobotsCache          bool    `mapstructure:"robots_cache"`
	ProgramDelaySeconds  float64 `mapstructure:"program_delay_seconds"`
	DocumentDelaySeconds float64 `mapstructure:"document_delay_seconds"`
}

// HTTPConfig configures fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds    float64 `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffFactor     float64 `mapstructure:"backoff_factor"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SelectorsConfig holds the CSS selectors of a detail page.
type SelectorsConfig struct {
	MainContainer string `mapstructure:"main_container"`
	Name          string `mapstructure:"name"`
	InfoBlock     string `mapstructure:"info_block"`
	MentionBlock  string `mapstructure:"mention_block"`
	Curriculum    string `mapstructure:"curriculum"`
	Term          string `mapstructure:"term"`
}

// ExtractConfig controls detail-page parsing.
type ExtractConfig struct {
	Selectors      SelectorsConfig   `mapstructure:"selectors"`
	CreditLabel    string            `mapstructure:"credit_label"`
	MentionPrefix  string            `mapstructure:"mention_prefix"`
	NoMentionClass string            `mapstructure:"no_mention_class"`
	Categories     map[string]string `mapstructure:"categories"`
	Verbose        bool              `mapstructure:"verbose"`
	PersistDocs    bool              `mapstructure:"persist_docs"`
	DocsDir        string            `mapstructure:"docs_dir"`
}

// DocumentsConfig selects where persisted documents go.
type DocumentsConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// OutputConfig sets the output file locations. Empty SQLite and report paths disable them.
type OutputConfig struct {
	CSVPath    string `mapstructure:"csv_path"`
	SQLitePath string `mapstructure:"sqlite_path"`
	ReportPath string `mapstructure:"report_path"`
}

// PostgresConfig enables the Postgres row sink when DSN is set.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	CreateTable bool   `mapstructure:"create_table"`
}

// PubSubConfig enables program events when ProjectID is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the status server and the textfile export.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	APIKey     string `mapstructure:"api_key"`
	Textfile   string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.url", "https://www.upc.edu/ca/graus/")
	v.SetDefault("catalog.group_pattern", "collapse-images-collapse")
	v.SetDefault("crawler.user_agent", "ua0000")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_cache", false)
	v.SetDefault("crawler.program_delay_seconds", 20)
	v.SetDefault("crawler.document_delay_seconds", 5)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_factor", 10)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)

	selectors := extract.DefaultSelectors()
	v.SetDefault("extract.selectors.main_container", selectors.MainContainer)
	v.SetDefault("extract.selectors.name", selectors.Name)
	v.SetDefault("extract.selectors.info_block", selectors.InfoBlock)
	v.SetDefault("extract.selectors.mention_block", selectors.MentionBlock)
	v.SetDefault("extract.selectors.curriculum", selectors.Curriculum)
	v.SetDefault("extract.selectors.term", selectors.Term)
	defaults := extract.DefaultConfig()
	v.SetDefault("extract.credit_label", defaults.CreditLabel)
	v.SetDefault("extract.mention_prefix", defaults.MentionPrefix)
	v.SetDefault("extract.no_mention_class", defaults.NoMentionClass)
	categories := map[string]string{}
	for class, category := range defaults.Categories {
		categories[class] = string(category)
	}
	v.SetDefault("extract.categories", categories)
	v.SetDefault("extract.verbose", false)
	v.SetDefault("extract.persist_docs", false)
	v.SetDefault("extract.docs_dir", "docs")

	v.SetDefault("documents.backend", "local")
	v.SetDefault("output.csv_path", "programs.csv")
	v.SetDefault("postgres.table", "program_rows")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.create_table", true)
	v.SetDefault("pubsub.topic", "catalog-programs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Catalog.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("catalog.url must be an absolute URL, got %q", c.Catalog.URL)
	}
	if _, err := regexp.Compile(c.Catalog.GroupPattern); err != nil {
		return fmt.Errorf("catalog.group_pattern: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffFactor <= 0 {
		return fmt.Errorf("http.backoff_factor must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.Crawler.ProgramDelaySeconds < 0 || c.Crawler.DocumentDelaySeconds < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	if _, err := regexp.Compile(c.Extract.MentionPrefix); err != nil {
		return fmt.Errorf("extract.mention_prefix: %w", err)
	}
	for class, category := range c.Extract.Categories {
		if _, ok := crawler.ParseCategory(category); !ok {
			return fmt.Errorf("extract.categories.%s: unknown category %q", class, category)
		}
	}
	switch c.Documents.Backend {
	case "local", "memory":
	case "gcs":
		if c.Documents.Bucket == "" {
			return fmt.Errorf("documents.bucket must be set when documents.backend is gcs")
		}
	default:
		return fmt.Errorf("documents.backend must be local, gcs or memory, got %q", c.Documents.Backend)
	}
	if c.Output.CSVPath == "" {
		return fmt.Errorf("output.csv_path must be set")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	return nil
}

// Timeout returns the per-request fetch timeout.
func (c Config) Timeout() time.Duration {
	return seconds(c.HTTP.TimeoutSeconds)
}

// ProgramInterval returns the spacing between detail-page fetches.
func (c Config) ProgramInterval() time.Duration {
	return seconds(c.Crawler.ProgramDelaySeconds)
}

// DocumentInterval returns the spacing between document downloads.
func (c Config) DocumentInterval() time.Duration {
	return seconds(c.Crawler.DocumentDelaySeconds)
}

// FetchRequest returns the fetch parameters shared by every request of a run.
func (c Config) FetchRequest() crawler.FetchRequest {
	return crawler.FetchRequest{
		MaxRetries: c.HTTP.MaxRetries,
		Timeout:    c.Timeout(),
		UserAgent:  c.Crawler.UserAgent,
	}
}

// ExtractorConfig converts the extract section for the extract package.
func (c Config) ExtractorConfig() extract.Config {
	categories := make(map[string]crawler.Category, len(c.Extract.Categories))
	for class, category := range c.Extract.Categories {
		categories[class] = crawler.Category(category)
	}
	s := c.Extract.Selectors
	return extract.Config{
		Selectors: extract.Selectors{
			MainContainer: s.MainContainer,
			Name:          s.Name,
			InfoBlock:     s.InfoBlock,
			MentionBlock:  s.MentionBlock,
			Curriculum:    s.Curriculum,
			Term:          s.Term,
		},
		CreditLabel:      c.Extract.CreditLabel,
		MentionPrefix:    c.Extract.MentionPrefix,
		NoMentionClass:   c.Extract.NoMentionClass,
		Categories:       categories,
		Fetch:            c.FetchRequest(),
		DocumentInterval: c.DocumentInterval(),
	}
}

// ExtractOptions returns the per-page options from the extract section.
func (c Config) ExtractOptions() extract.Options {
	return extract.Options{
		Verbose:     c.Extract.Verbose,
		PersistDocs: c.Extract.PersistDocs,
		OutputDir:   c.Extract.DocsDir,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

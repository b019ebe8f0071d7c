package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Config() config.Config
	ListEntries(ctx context.Context) ([]string, error)
	ExtractProgram(ctx context.Context, pageURL string) (crawler.ProgramRecord, error)
	Crawl(ctx context.Context) (pipeline.Summary, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// rootOptions holds the flag values of one command tree.
type rootOptions struct {
	configPath  string
	output      string
	persistDocs bool
	docsDir     string
	verbose     bool
}

// applyOverrides copies the flags the user actually set onto cfg.
func (o *rootOptions) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Lookup("output") != nil && flags.Changed("output") {
		cfg.Output.CSVPath = o.output
	}
	if flags.Lookup("persist-docs") != nil && flags.Changed("persist-docs") {
		cfg.Extract.PersistDocs = o.persistDocs
	}
	if flags.Lookup("docs-dir") != nil && flags.Changed("docs-dir") {
		cfg.Extract.DocsDir = o.docsDir
	}
	if flags.Lookup("verbose") != nil && flags.Changed("verbose") {
		cfg.Extract.Verbose = o.verbose
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a university program catalog into a flat table.",
		Long: `catalog-crawler lists every program published on a university catalog,
visits each program page at a polite pace and writes one row per curriculum
item to a CSV file, with optional SQLite, Postgres and Pub/Sub outputs.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.applyOverrides(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					zap.L().Warn("Error closing application services", zap.Error(err))
				}
			}
			_ = zap.L().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML); environment variables use the CATALOG_ prefix")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newProgramCmd(opts))

	return cmd
}

func addExtractFlags(cmd *cobra.Command, opts *rootOptions) {
	cmd.Flags().BoolVar(&opts.persistDocs, "persist-docs", false, "download every linked item document")
	cmd.Flags().StringVar(&opts.docsDir, "docs-dir", "", "directory for persisted documents (must exist)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log partial-extraction notes at info level")
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

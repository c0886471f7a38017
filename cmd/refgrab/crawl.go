package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/refgrab/internal/auth"
	"github.com/nao1215/refgrab/internal/config"
	"github.com/nao1215/refgrab/internal/crawler"
	"github.com/nao1215/refgrab/internal/download"
	"github.com/nao1215/refgrab/internal/fetch"
	"github.com/nao1215/refgrab/internal/log"
	"github.com/nao1215/refgrab/internal/manifest"
	"github.com/nao1215/refgrab/internal/model"
	"github.com/nao1215/refgrab/internal/pipeline"
	"github.com/nao1215/refgrab/internal/report"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed-url]",
		Short: "Crawl a site and download its reference datasets",
		Long: `Crawl starts from one or more seed URLs, follows download-related
links up to a bounded depth, and mirrors every discovered artifact
(archives, spreadsheets, code tables) into the destination directory.

Pages behind a login or terms-of-use gate are handled automatically
when credentials are configured. Without credentials the crawl still
collects everything the site serves anonymously.

Examples:
  # Crawl a dataset publisher
  refgrab crawl https://loinc.org/downloads/

  # Crawl with credentials for gated files
  refgrab crawl -u alice -P secret https://loinc.org/downloads/

  # Shallow crawl into a custom directory
  refgrab crawl --depth 1 --dest ./data https://example.com/files/

  # Output a JSON report
  refgrab crawl --json https://example.com/files/

Configuration file (.refgrab) example:
  sites:
    loinc.org:
      loginURL: https://loinc.org/wp-login.php
      username: alice
      password: secret
      pageKeywords: [download, file-access]
    cms.gov:
      depth: 2`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Crawl behavior flags
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Maximum crawl recursion depth")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of pages to visit per seed")
	cmd.Flags().String("dest", config.DefaultDestDir,
		"Destination directory for downloaded files")

	// HTTP behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultPageTimeout,
		"Timeout for each page request")
	cmd.Flags().Duration("file-timeout", config.DefaultFileTimeout,
		"Timeout for each file download")
	cmd.Flags().IntP("retries", "r", config.DefaultRetryAttempts,
		"Attempts per HTTP request before giving up")
	cmd.Flags().Duration("crawl-delay", config.DefaultCrawlDelay,
		"Politeness pause between page requests to one host")
	cmd.Flags().Duration("download-delay", config.DefaultDownloadDelay,
		"Politeness pause between consecutive file downloads")
	cmd.Flags().StringP("user-agent", "A", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().Int64("html-skip-threshold", config.DefaultHTMLSkipThreshold,
		"HTML responses below this size (bytes) are discarded as error pages")

	// Authentication flags
	cmd.Flags().StringP("username", "u", "",
		"Login username (overridden by site config)")
	cmd.Flags().StringP("password", "P", "",
		"Login password (overridden by site config)")
	cmd.Flags().StringP("login-url", "l", "",
		"Login page URL (overridden by site config)")

	// Batch crawling flags
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of concurrent seed crawls")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .refgrab in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	// Manifest flags
	cmd.Flags().Bool("no-manifest", false,
		"Do not record downloads in, or skip files from, the manifest database")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging with credential masking
	logger := log.NewSecureLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	return runCrawl(ctx, cfg, logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error

	cfg.MaxDepth, err = cmd.Flags().GetInt("depth")
	if err != nil {
		return nil, err
	}

	cfg.MaxPages, err = cmd.Flags().GetInt("max-pages")
	if err != nil {
		return nil, err
	}

	cfg.DestDir, err = cmd.Flags().GetString("dest")
	if err != nil {
		return nil, err
	}

	cfg.PageTimeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.FileTimeout, err = cmd.Flags().GetDuration("file-timeout")
	if err != nil {
		return nil, err
	}

	cfg.RetryAttempts, err = cmd.Flags().GetInt("retries")
	if err != nil {
		return nil, err
	}

	cfg.CrawlDelay, err = cmd.Flags().GetDuration("crawl-delay")
	if err != nil {
		return nil, err
	}

	cfg.DownloadDelay, err = cmd.Flags().GetDuration("download-delay")
	if err != nil {
		return nil, err
	}

	cfg.UserAgent, err = cmd.Flags().GetString("user-agent")
	if err != nil {
		return nil, err
	}

	cfg.HTMLSkipThreshold, err = cmd.Flags().GetInt64("html-skip-threshold")
	if err != nil {
		return nil, err
	}

	cfg.Username, err = cmd.Flags().GetString("username")
	if err != nil {
		return nil, err
	}

	cfg.Password, err = cmd.Flags().GetString("password")
	if err != nil {
		return nil, err
	}

	loginURL, err := cmd.Flags().GetString("login-url")
	if err != nil {
		return nil, err
	}

	cfg.BatchSize, err = cmd.Flags().GetInt("batch")
	if err != nil {
		return nil, err
	}

	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// Load site-specific configurations from config file.
	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use empty config if no file found.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)

	if configPath != "" {
		cfg.SiteConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if explicitConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	} else {
		cfg.SiteConfigs = &config.File{
			Sites: make(map[string]config.SiteConfig),
		}
	}

	// A --login-url flag acts as the file-level default login page.
	if loginURL != "" && cfg.SiteConfigs.Defaults.LoginURL == "" {
		cfg.SiteConfigs.Defaults.LoginURL = loginURL
	}

	cfg.JSONReport, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}

	cfg.ReportFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	noManifest, err := cmd.Flags().GetBool("no-manifest")
	if err != nil {
		return nil, err
	}
	cfg.UseManifest = !noManifest

	cfg.Verbose = getVerboseFlag(cmd)

	// Positional arguments are the seed URLs.
	cfg.Seeds = args

	return cfg, nil
}

// runCrawl executes the crawl for every configured seed.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting crawl",
		"seeds", cfg.Seeds,
		"depth", cfg.MaxDepth,
		"dest", cfg.DestDir,
		"batchSize", cfg.BatchSize,
		"useManifest", cfg.UseManifest,
	)

	// Open the manifest database if recording is enabled
	var m *manifest.Manifest
	if cfg.UseManifest {
		var err error
		m, err = manifest.Open(cfg.ManifestDir, manifest.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open manifest: %w", err)
		}
		defer m.Close()
		logger.Info("manifest opened", "dir", cfg.ManifestDir)
	}

	if len(cfg.Seeds) > 1 && cfg.BatchSize > 1 {
		return runBatchCrawl(ctx, cfg, m, logger)
	}

	return runSequentialCrawl(ctx, cfg, m, logger)
}

// runSequentialCrawl crawls seeds one at a time.
func runSequentialCrawl(ctx context.Context, cfg *config.Config, m *manifest.Manifest, logger *slog.Logger) error {
	for _, seed := range cfg.Seeds {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		siteConfig := getSiteConfig(cfg, seed)

		p, err := createPipelineForSeed(cfg, siteConfig, m, logger)
		if err != nil {
			logger.Error("pipeline setup failed", "seed", seed, "error", err)
			fmt.Fprintf(os.Stderr, "Setup error for %s: %v\n", seed, err)
			continue
		}

		summary := &model.CrawlSummary{
			RunID: manifest.NewRunID(),
			Seed:  seed,
		}

		fmt.Printf("Crawling %s...\n", seed)
		startTime := time.Now()

		if err := p.Execute(ctx, summary); err != nil {
			logger.Error("crawl failed", "seed", seed, "error", err)
			fmt.Fprintf(os.Stderr, "Crawl error for %s: %v\n", seed, err)
			continue
		}

		fmt.Printf("Crawl completed in %s\n\n", time.Since(startTime).Round(time.Millisecond))

		if err := outputReport(cfg, summary); err != nil {
			logger.Error("report failed", "seed", seed, "error", err)
		}
	}

	return nil
}

// runBatchCrawl crawls multiple seeds concurrently using BatchProcessor.
func runBatchCrawl(ctx context.Context, cfg *config.Config, m *manifest.Manifest, logger *slog.Logger) error {
	fmt.Printf("Starting batch crawl of %d seeds (concurrency: %d)...\n\n",
		len(cfg.Seeds), cfg.BatchSize)

	startTime := time.Now()

	// Warn user about batch processing limitation
	if cfg.SiteConfigs != nil && len(cfg.SiteConfigs.Sites) > 0 {
		logger.Warn("batch processing uses default site config only; site-specific configs (login, headers, depth) are ignored",
			"siteCount", len(cfg.SiteConfigs.Sites))
		fmt.Fprintf(os.Stderr, "Warning: Site-specific configurations are ignored in batch mode. Use sequential mode (--batch 1) to apply per-site settings.\n\n")
	}

	bp := pipeline.NewBatchProcessor(
		func() *pipeline.Pipeline {
			// Batch runs share the file-level defaults; per-site settings
			// would require per-seed pipeline creation.
			var siteConfig config.SiteConfig
			if cfg.SiteConfigs != nil {
				siteConfig = cfg.SiteConfigs.Defaults
			}
			p, err := createPipelineForSeed(cfg, siteConfig, m, logger)
			if err != nil {
				failed := pipeline.New(pipeline.WithLogger(logger))
				failed.AddStep(&setupFailureStep{err: err})
				return failed
			}
			return p
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	var mu sync.Mutex
	err := bp.ProcessBatchWithCallback(ctx, cfg.Seeds, func(summary *model.CrawlSummary, index int) {
		mu.Lock()
		defer mu.Unlock()

		fmt.Printf("[%d/%d] Crawl completed: %s\n", index+1, len(cfg.Seeds), summary.Seed)

		if err := outputReport(cfg, summary); err != nil {
			logger.Error("report failed", "seed", summary.Seed, "error", err)
		}
	})

	fmt.Printf("\nBatch crawl completed in %s\n", time.Since(startTime).Round(time.Millisecond))

	return err
}

// setupFailureStep surfaces a pipeline construction error as a step
// failure so batch callbacks still receive a summary for the seed.
type setupFailureStep struct {
	err error
}

func (s *setupFailureStep) Name() string { return "setup" }

func (s *setupFailureStep) Do(_ context.Context, _ *model.CrawlSummary) error {
	return s.err
}

// getSiteConfig returns the site-specific configuration for a seed URL.
// Falls back to the file-level defaults if no site entry matches.
func getSiteConfig(cfg *config.Config, seed string) config.SiteConfig {
	if cfg.SiteConfigs == nil {
		return config.SiteConfig{}
	}

	u, err := url.Parse(seed)
	if err != nil || u.Host == "" {
		return cfg.SiteConfigs.Defaults
	}

	host := strings.ToLower(u.Hostname())
	if _, ok := cfg.SiteConfigs.Sites[host]; ok {
		return cfg.SiteConfigs.GetSiteConfig(host)
	}

	// Site entries may omit the www prefix the seed carries.
	return cfg.SiteConfigs.GetSiteConfig(strings.TrimPrefix(host, "www."))
}

// createPipelineForSeed assembles the session, downloader, engine, and
// steps for one seed's crawl.
func createPipelineForSeed(cfg *config.Config, siteConfig config.SiteConfig, m *manifest.Manifest, logger *slog.Logger) (*pipeline.Pipeline, error) {
	clientOpts := []fetch.ClientOption{
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithTimeouts(cfg.PageTimeout, cfg.FileTimeout),
		fetch.WithRetry(cfg.RetryAttempts, cfg.RetryStep),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithClientLogger(logger),
	}
	if len(siteConfig.Headers) > 0 {
		clientOpts = append(clientOpts, fetch.WithExtraHeaders(siteConfig.Headers))
	}

	sess, err := fetch.NewSession(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	downloader := download.NewDownloader(cfg.DestDir,
		download.WithHTMLSkipThreshold(cfg.HTMLSkipThreshold),
		download.WithDownloadLogger(logger),
	)

	// Site-level credentials override the CLI flags.
	username := cfg.Username
	if siteConfig.Username != "" {
		username = siteConfig.Username
	}
	password := cfg.Password
	if siteConfig.Password != "" {
		password = siteConfig.Password
	}

	var authenticator *auth.Authenticator
	if siteConfig.LoginURL != "" {
		authenticator = auth.NewAuthenticator(siteConfig.LoginURL,
			auth.WithAdapter(auth.FormAdapterFromSite(siteConfig)),
			auth.WithAuthLogger(logger),
		)
	}

	depth := cfg.MaxDepth
	if siteConfig.Depth > 0 {
		depth = siteConfig.Depth
	}

	engineOpts := []crawler.EngineOption{
		crawler.WithMaxDepth(depth),
		crawler.WithMaxPages(cfg.MaxPages),
		crawler.WithCrawlDelay(cfg.CrawlDelay),
		crawler.WithDownloadDelay(cfg.DownloadDelay),
		crawler.WithEngineLogger(logger),
	}
	if len(siteConfig.PageKeywords) > 0 {
		engineOpts = append(engineOpts, crawler.WithKeywords(siteConfig.PageKeywords))
	}

	// The terms workflow reuses the authenticator; without a login URL a
	// default one still handles anonymous terms gates.
	terms := authenticator
	if terms == nil {
		terms = auth.NewAuthenticator("", auth.WithAuthLogger(logger))
	}
	engineOpts = append(engineOpts, crawler.WithTermsAcceptor(terms))

	engine := crawler.NewEngine(sess, downloader, engineOpts...)

	p := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithContinueOnError(true),
	)

	if authenticator != nil && username != "" && password != "" {
		p.AddStep(pipeline.NewAuthStep(sess, authenticator, username, password,
			pipeline.WithAuthStepLogger(logger)))
	}
	if m != nil {
		p.AddStep(pipeline.NewHistoryStep(m, downloader, logger))
	}
	p.AddStep(pipeline.NewCrawlStep(engine))
	if m != nil {
		p.AddStep(pipeline.NewManifestStep(m))
	}

	return p, nil
}

// outputReport outputs the crawl report in the requested format.
func outputReport(cfg *config.Config, summary *model.CrawlSummary) error {
	var output io.Writer = os.Stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewFullJSONWriter(output, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}

	if _, err := w.Write(summary); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

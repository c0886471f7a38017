package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/refgrab/internal/auth"
	"github.com/nao1215/refgrab/internal/crawler"
	"github.com/nao1215/refgrab/internal/download"
	"github.com/nao1215/refgrab/internal/fetch"
	"github.com/nao1215/refgrab/internal/manifest"
	"github.com/nao1215/refgrab/internal/model"
	"github.com/nao1215/refgrab/internal/report"
)

// AuthStep performs the login workflow before the crawl starts.
//
// Design decision: A failed login is recorded but never aborts the run,
// because many reference datasets are split between public files and
// gated ones; an anonymous crawl still collects the public portion.
type AuthStep struct {
	// sess is the session the login cookies land in.
	sess *fetch.Session

	// authenticator drives the form workflow.
	authenticator *auth.Authenticator

	// username and password are the credentials to submit.
	username string
	password string

	// logger for structured logging.
	logger *slog.Logger
}

// AuthStepOption configures an AuthStep.
type AuthStepOption func(*AuthStep)

// WithAuthStepLogger sets a custom logger for the auth step.
func WithAuthStepLogger(logger *slog.Logger) AuthStepOption {
	return func(s *AuthStep) {
		s.logger = logger
	}
}

// NewAuthStep creates a login step for the given session and credentials.
func NewAuthStep(sess *fetch.Session, authenticator *auth.Authenticator, username, password string, opts ...AuthStepOption) *AuthStep {
	s := &AuthStep{
		sess:          sess,
		authenticator: authenticator,
		username:      username,
		password:      password,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *AuthStep) Name() string {
	return "auth"
}

// Do executes the login workflow. Missing credentials skip the step; a
// failed login is recorded in the summary and the run continues
// unauthenticated.
func (s *AuthStep) Do(ctx context.Context, summary *model.CrawlSummary) error {
	if s.username == "" || s.password == "" {
		s.logger.Debug("no credentials configured, crawling anonymously")
		return nil
	}

	if err := s.authenticator.Login(ctx, s.sess, s.username, s.password); err != nil {
		if errors.Is(err, auth.ErrAuth) {
			s.logger.Warn("login failed, continuing unauthenticated", "error", err)
			summary.AddError(fmt.Sprintf("login: %v", err))
			return nil
		}
		return err
	}

	summary.Authenticated = true
	return nil
}

// HistoryStep seeds the downloader's skip set from the manifest of
// previous runs, so re-running against an unchanged site downloads
// nothing new.
type HistoryStep struct {
	// manifest is the catalog of previous runs.
	manifest *manifest.Manifest

	// downloader receives the already-downloaded URLs.
	downloader *download.Downloader

	// logger for structured logging.
	logger *slog.Logger
}

// NewHistoryStep creates a skip-set seeding step.
func NewHistoryStep(m *manifest.Manifest, d *download.Downloader, logger *slog.Logger) *HistoryStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryStep{manifest: m, downloader: d, logger: logger}
}

// Name returns the step name.
func (s *HistoryStep) Name() string {
	return "history"
}

// Do seeds the downloader with URLs downloaded in previous runs.
func (s *HistoryStep) Do(ctx context.Context, _ *model.CrawlSummary) error {
	urls, err := s.manifest.DownloadedURLs(ctx)
	if err != nil {
		return fmt.Errorf("seeding from manifest: %w", err)
	}

	s.downloader.SeedDownloaded(urls)
	s.logger.Debug("seeded downloader from manifest", "urls", len(urls))
	return nil
}

// CrawlStep runs the traversal engine from the summary's seed URL.
// This is the heart of the run: everything before it prepares the
// session, everything after it records what happened.
type CrawlStep struct {
	// engine performs the traversal.
	engine *crawler.Engine
}

// NewCrawlStep creates a traversal step around a configured engine.
func NewCrawlStep(engine *crawler.Engine) *CrawlStep {
	return &CrawlStep{engine: engine}
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do runs the crawl and stamps the summary with its timing.
func (s *CrawlStep) Do(ctx context.Context, summary *model.CrawlSummary) error {
	summary.Started = time.Now()
	err := s.engine.Run(ctx, summary.Seed, summary)
	summary.Duration = time.Since(summary.Started)
	return err
}

// ManifestStep records the completed run in the manifest database.
type ManifestStep struct {
	// manifest is the catalog the run is written to.
	manifest *manifest.Manifest
}

// NewManifestStep creates a manifest recording step.
func NewManifestStep(m *manifest.Manifest) *ManifestStep {
	return &ManifestStep{manifest: m}
}

// Name returns the step name.
func (s *ManifestStep) Name() string {
	return "manifest"
}

// Do writes the run and its download records to the manifest.
func (s *ManifestStep) Do(ctx context.Context, summary *model.CrawlSummary) error {
	if err := s.manifest.RecordRun(ctx, summary); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// ReportStep renders the summary through a report writer.
type ReportStep struct {
	// writer receives the finished summary.
	writer report.Writer
}

// NewReportStep creates a report rendering step.
func NewReportStep(w report.Writer) *ReportStep {
	return &ReportStep{writer: w}
}

// Name returns the step name.
func (s *ReportStep) Name() string {
	return "report"
}

// Do writes the report.
func (s *ReportStep) Do(_ context.Context, summary *model.CrawlSummary) error {
	if _, err := s.writer.Write(summary); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

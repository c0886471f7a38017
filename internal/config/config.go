package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// These values mirror the observed behavior of the reference collection
// scripts refgrab replaces and are chosen to be polite to the remote
// properties it crawls.
const (
	// DefaultMaxDepth limits page-to-page hops from the seed URL.
	// Three levels reaches every artifact on the dataset properties refgrab
	// targets while keeping runs bounded on pathological link graphs.
	DefaultMaxDepth = 3

	// DefaultMaxPages is a safety valve on the total number of pages visited
	// per run, independent of depth. Untrusted remote link graphs can be
	// wide as well as deep.
	DefaultMaxPages = 200

	// DefaultPageTimeout is the per-request timeout for page fetches.
	DefaultPageTimeout = 30 * time.Second

	// DefaultFileTimeout is the per-request timeout for file downloads.
	// Large dataset archives (hundreds of MB) need far more headroom than
	// HTML pages.
	DefaultFileTimeout = 300 * time.Second

	// DefaultRetryAttempts is the number of tries for one HTTP request
	// before the failure surfaces to the caller.
	DefaultRetryAttempts = 3

	// DefaultRetryStep is the delay added per attempt between retries.
	// The reference behavior backs off linearly (2s, 4s), not exponentially.
	DefaultRetryStep = 2 * time.Second

	// DefaultCrawlDelay is the politeness pause between page requests to
	// the same host.
	DefaultCrawlDelay = 1 * time.Second

	// DefaultDownloadDelay is the politeness pause between consecutive
	// file downloads.
	DefaultDownloadDelay = 500 * time.Millisecond

	// DefaultHTMLSkipThreshold is the body size in bytes below which an
	// HTML-typed download response is treated as a login/redirect error
	// page rather than a genuine artifact. The magic number has no
	// principled basis, which is exactly why it is configurable.
	DefaultHTMLSkipThreshold = 10_000

	// DefaultUserAgent is the fixed browser identity header. The remote
	// properties serve different content to obvious scripts, so refgrab
	// presents as an ordinary desktop browser.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultMaxBodySize limits how much of an HTML page is read for
	// parsing. Artifact downloads stream to disk and are not subject
	// to this limit.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultBatchSize is the number of seed URLs processed concurrently.
	DefaultBatchSize = 1

	// DefaultDestDir is the directory files are written under when the
	// user does not supply one.
	DefaultDestDir = "downloads"

	// AppName is the application name used for XDG directory paths.
	AppName = "refgrab"
)

// Config holds all options for a refgrab run.
// It is populated from CLI flags and the optional YAML site-config file,
// then passed through the application by dependency injection rather than
// global state.
type Config struct {
	// Seeds is the list of URLs crawling starts from.
	Seeds []string

	// DestDir is the directory downloaded artifacts are written under.
	DestDir string

	// MaxDepth is the maximum number of page-to-page hops from a seed.
	MaxDepth int

	// MaxPages caps the total pages visited per run as a safety valve.
	MaxPages int

	// PageTimeout is the per-request timeout for page fetches.
	PageTimeout time.Duration

	// FileTimeout is the per-request timeout for file downloads.
	FileTimeout time.Duration

	// RetryAttempts is the number of tries per HTTP request.
	RetryAttempts int

	// RetryStep is the additional delay per retry attempt.
	RetryStep time.Duration

	// CrawlDelay is the politeness pause between page requests.
	CrawlDelay time.Duration

	// DownloadDelay is the politeness pause between file downloads.
	DownloadDelay time.Duration

	// HTMLSkipThreshold is the size in bytes below which an HTML-typed
	// download response is discarded as an error page.
	HTMLSkipThreshold int64

	// UserAgent is the identity header sent with every request.
	UserAgent string

	// MaxBodySize limits how many bytes of an HTML page are read.
	MaxBodySize int64

	// Username and Password are the optional login credentials.
	// When empty, the login workflow is skipped entirely.
	Username string
	Password string

	// BatchSize is the number of seeds crawled concurrently.
	BatchSize int

	// ConfigFilePath is an explicit site-config file path. When empty the
	// loader searches the working directory and then the home directory.
	ConfigFilePath string

	// SiteConfigs holds per-site settings loaded from the config file.
	SiteConfigs *File

	// Verbose enables slog.LevelDebug output.
	Verbose bool

	// JSONReport and MarkdownReport select the report format.
	// Mutually exclusive; the default is a human-readable summary.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile writes the report to a file instead of stdout.
	ReportFile string

	// ManifestDir is the directory holding the download manifest database.
	// Defaults to the XDG data directory.
	ManifestDir string

	// UseManifest controls whether downloads are recorded in, and the
	// downloaded set pre-seeded from, the manifest database.
	UseManifest bool
}

// NewConfig creates a Config with default values.
// Many defaults are non-zero, so relying on zero values would be wrong;
// this constructor also documents what the defaults are.
func NewConfig() *Config {
	return &Config{
		DestDir:           DefaultDestDir,
		MaxDepth:          DefaultMaxDepth,
		MaxPages:          DefaultMaxPages,
		PageTimeout:       DefaultPageTimeout,
		FileTimeout:       DefaultFileTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryStep:         DefaultRetryStep,
		CrawlDelay:        DefaultCrawlDelay,
		DownloadDelay:     DefaultDownloadDelay,
		HTMLSkipThreshold: DefaultHTMLSkipThreshold,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
		BatchSize:         DefaultBatchSize,
		ManifestDir:       XDGDataDir(),
		UseManifest:       true,
	}
}

// XDGDataDir returns the XDG data directory for refgrab.
// On Linux: ~/.local/share/refgrab
// On macOS: ~/Library/Application Support/refgrab
// On Windows: %LOCALAPPDATA%\refgrab
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for refgrab.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks that the configuration is usable.
// It returns the first sentinel error found; fixing one error often makes
// the rest irrelevant, so collecting all of them would add little.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return ErrNoSeed
	}
	if c.MaxDepth < 0 {
		return ErrInvalidDepth
	}
	if c.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}
	if c.PageTimeout <= 0 || c.FileTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.RetryAttempts <= 0 {
		return ErrInvalidRetryAttempts
	}
	if c.CrawlDelay < 0 || c.DownloadDelay < 0 {
		return ErrInvalidDelay
	}
	if c.HTMLSkipThreshold < 0 {
		return ErrInvalidSkipThreshold
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/refgrab/internal/config"
	"github.com/nao1215/refgrab/internal/model"
)

// newTestLogger returns a logger that discards all output.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNewCrawlCmd tests the crawl command creation.
func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "crawl [seed-url]" {
			t.Errorf("expected use 'crawl [seed-url]', got %q", cmd.Use)
		}
	})

	t.Run("has short description", func(t *testing.T) {
		t.Parallel()
		if cmd.Short == "" {
			t.Error("expected non-empty short description")
		}
	})

	t.Run("has long description", func(t *testing.T) {
		t.Parallel()
		if cmd.Long == "" {
			t.Error("expected non-empty long description")
		}
	})

	t.Run("has depth flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("depth")
		if flag == nil {
			t.Fatal("expected depth flag")
		}
		if flag.Shorthand != "d" {
			t.Errorf("expected shorthand 'd', got %q", flag.Shorthand)
		}
	})

	t.Run("has max-pages flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("max-pages")
		if flag == nil {
			t.Fatal("expected max-pages flag")
		}
		if flag.Shorthand != "p" {
			t.Errorf("expected shorthand 'p', got %q", flag.Shorthand)
		}
	})

	t.Run("has dest flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("dest")
		if flag == nil {
			t.Fatal("expected dest flag")
		}
		if flag.DefValue != config.DefaultDestDir {
			t.Errorf("expected default %q, got %q", config.DefaultDestDir, flag.DefValue)
		}
	})

	t.Run("has timeout flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("timeout")
		if flag == nil {
			t.Fatal("expected timeout flag")
		}
		if flag.Shorthand != "t" {
			t.Errorf("expected shorthand 't', got %q", flag.Shorthand)
		}
	})

	t.Run("has username flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("username")
		if flag == nil {
			t.Fatal("expected username flag")
		}
		if flag.Shorthand != "u" {
			t.Errorf("expected shorthand 'u', got %q", flag.Shorthand)
		}
	})

	t.Run("has batch flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("batch")
		if flag == nil {
			t.Fatal("expected batch flag")
		}
		if flag.Shorthand != "b" {
			t.Errorf("expected shorthand 'b', got %q", flag.Shorthand)
		}
	})

	t.Run("has config flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("config")
		if flag == nil {
			t.Fatal("expected config flag")
		}
		if flag.Shorthand != "c" {
			t.Errorf("expected shorthand 'c', got %q", flag.Shorthand)
		}
	})

	t.Run("has report format flags", func(t *testing.T) {
		t.Parallel()
		for _, name := range []string{"json", "markdown", "output"} {
			if cmd.Flags().Lookup(name) == nil {
				t.Errorf("expected %s flag", name)
			}
		}
	})

	t.Run("has no-manifest flag", func(t *testing.T) {
		t.Parallel()
		if cmd.Flags().Lookup("no-manifest") == nil {
			t.Error("expected no-manifest flag")
		}
	})
}

// TestGetVerboseFlag tests verbose flag retrieval.
func TestGetVerboseFlag(t *testing.T) {
	t.Parallel()

	t.Run("returns false when flag missing", func(t *testing.T) {
		t.Parallel()
		cmd := NewCrawlCmd()
		if getVerboseFlag(cmd) {
			t.Error("expected false for missing verbose flag")
		}
	})

	t.Run("reads persistent flag from root", func(t *testing.T) {
		t.Parallel()
		root := NewRootCmd()
		if err := root.PersistentFlags().Set("verbose", "true"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var crawlCmd *cobra.Command
		for _, c := range root.Commands() {
			if strings.HasPrefix(c.Use, "crawl") {
				crawlCmd = c
				break
			}
		}
		if crawlCmd == nil {
			t.Fatal("crawl command not registered on root")
		}
		if !getVerboseFlag(crawlCmd) {
			t.Error("expected verbose flag from root persistent flags")
		}
	})
}

// TestBuildConfig tests configuration building from flags.
func TestBuildConfig(t *testing.T) {
	t.Run("builds config with default values", func(t *testing.T) {
		cmd := NewCrawlCmd()
		cfg, err := buildConfig(cmd, []string{"https://example.com/files/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(cfg.Seeds) != 1 || cfg.Seeds[0] != "https://example.com/files/" {
			t.Errorf("expected seeds [https://example.com/files/], got %v", cfg.Seeds)
		}
		if cfg.MaxDepth != config.DefaultMaxDepth {
			t.Errorf("expected depth %d, got %d", config.DefaultMaxDepth, cfg.MaxDepth)
		}
		if cfg.PageTimeout != config.DefaultPageTimeout {
			t.Errorf("expected page timeout %s, got %s", config.DefaultPageTimeout, cfg.PageTimeout)
		}
		if !cfg.UseManifest {
			t.Error("expected manifest enabled by default")
		}
	})

	t.Run("builds config with custom depth", func(t *testing.T) {
		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("depth", "1")
		cfg, err := buildConfig(cmd, []string{"https://example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxDepth != 1 {
			t.Errorf("expected MaxDepth 1, got %d", cfg.MaxDepth)
		}
	})

	t.Run("builds config with credentials", func(t *testing.T) {
		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("username", "alice")
		_ = cmd.Flags().Set("password", "secret")
		cfg, err := buildConfig(cmd, []string{"https://example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Username != "alice" {
			t.Errorf("expected username alice, got %q", cfg.Username)
		}
		if cfg.Password != "secret" {
			t.Errorf("expected password secret, got %q", cfg.Password)
		}
	})

	t.Run("builds config with custom timeouts", func(t *testing.T) {
		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("timeout", "10s")
		_ = cmd.Flags().Set("file-timeout", "2m")
		cfg, err := buildConfig(cmd, []string{"https://example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.PageTimeout != 10*time.Second {
			t.Errorf("expected PageTimeout 10s, got %s", cfg.PageTimeout)
		}
		if cfg.FileTimeout != 2*time.Minute {
			t.Errorf("expected FileTimeout 2m, got %s", cfg.FileTimeout)
		}
	})

	t.Run("builds config with JSON flag", func(t *testing.T) {
		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("json", "true")
		cfg, err := buildConfig(cmd, []string{"https://example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !cfg.JSONReport {
			t.Error("expected JSONReport to be true")
		}
	})

	t.Run("no-manifest disables manifest", func(t *testing.T) {
		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("no-manifest", "true")
		cfg, err := buildConfig(cmd, []string{"https://example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.UseManifest {
			t.Error("expected UseManifest to be false")
		}
	})

	t.Run("builds config with multiple seeds", func(t *testing.T) {
		cmd := NewCrawlCmd()
		seeds := []string{"https://a.example.com", "https://b.example.com"}
		cfg, err := buildConfig(cmd, seeds)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(cfg.Seeds) != 2 {
			t.Errorf("expected 2 seeds, got %d", len(cfg.Seeds))
		}
	})

	t.Run("errors on missing explicit config file", func(t *testing.T) {
		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("config", filepath.Join(t.TempDir(), "does-not-exist.yml"))
		if _, err := buildConfig(cmd, []string{"https://example.com"}); err == nil {
			t.Error("expected error for missing explicit config file")
		}
	})

	t.Run("login-url flag becomes default login page", func(t *testing.T) {
		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("login-url", "https://example.com/wp-login.php")
		cfg, err := buildConfig(cmd, []string{"https://example.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.SiteConfigs.Defaults.LoginURL != "https://example.com/wp-login.php" {
			t.Errorf("expected default login URL, got %q", cfg.SiteConfigs.Defaults.LoginURL)
		}
	})
}

// TestBuildConfigWithConfigFile tests loading site settings from a file.
func TestBuildConfigWithConfigFile(t *testing.T) {
	t.Run("loads site configs from explicit file", func(t *testing.T) {
		dir := t.TempDir()
		configFile := filepath.Join(dir, ".refgrab")
		content := `sites:
  loinc.org:
    loginURL: https://loinc.org/wp-login.php
    username: alice
    depth: 2
defaults:
  pageKeywords: [download, file-access]
`
		if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("config", configFile)
		cfg, err := buildConfig(cmd, []string{"https://loinc.org/downloads/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		site := cfg.SiteConfigs.GetSiteConfig("loinc.org")
		if site.LoginURL != "https://loinc.org/wp-login.php" {
			t.Errorf("expected loinc login URL, got %q", site.LoginURL)
		}
		if site.Depth != 2 {
			t.Errorf("expected depth 2, got %d", site.Depth)
		}
		if len(site.PageKeywords) != 2 {
			t.Errorf("expected merged default keywords, got %v", site.PageKeywords)
		}
	})

	t.Run("errors on malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		configFile := filepath.Join(dir, ".refgrab")
		if err := os.WriteFile(configFile, []byte(":\n  - not yaml"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cmd := NewCrawlCmd()
		_ = cmd.Flags().Set("config", configFile)
		if _, err := buildConfig(cmd, []string{"https://example.com"}); err == nil {
			t.Error("expected error for malformed config file")
		}
	})
}

// TestGetSiteConfigForSeed tests site config resolution from seed URLs.
func TestGetSiteConfigForSeed(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SiteConfigs = &config.File{
		Sites: map[string]config.SiteConfig{
			"loinc.org": {LoginURL: "https://loinc.org/wp-login.php"},
		},
		Defaults: config.SiteConfig{Depth: 5},
	}

	t.Run("matches host exactly", func(t *testing.T) {
		t.Parallel()
		site := getSiteConfig(cfg, "https://loinc.org/downloads/")
		if site.LoginURL != "https://loinc.org/wp-login.php" {
			t.Errorf("expected loinc login URL, got %q", site.LoginURL)
		}
	})

	t.Run("strips www prefix", func(t *testing.T) {
		t.Parallel()
		site := getSiteConfig(cfg, "https://www.loinc.org/downloads/")
		if site.LoginURL != "https://loinc.org/wp-login.php" {
			t.Errorf("expected loinc login URL via www fallback, got %q", site.LoginURL)
		}
	})

	t.Run("falls back to defaults for unknown host", func(t *testing.T) {
		t.Parallel()
		site := getSiteConfig(cfg, "https://other.example.com/")
		if site.LoginURL != "" {
			t.Errorf("expected no login URL, got %q", site.LoginURL)
		}
		if site.Depth != 5 {
			t.Errorf("expected default depth 5, got %d", site.Depth)
		}
	})

	t.Run("handles unparseable seed", func(t *testing.T) {
		t.Parallel()
		site := getSiteConfig(cfg, "://broken")
		if site.Depth != 5 {
			t.Errorf("expected defaults for broken seed, got %+v", site)
		}
	})

	t.Run("handles nil site configs", func(t *testing.T) {
		t.Parallel()
		bare := config.NewConfig()
		bare.SiteConfigs = nil
		site := getSiteConfig(bare, "https://example.com")
		if site.LoginURL != "" {
			t.Errorf("expected zero config, got %+v", site)
		}
	})
}

// TestCreatePipelineForSeed tests pipeline assembly.
func TestCreatePipelineForSeed(t *testing.T) {
	t.Parallel()

	t.Run("anonymous pipeline has crawl step only", func(t *testing.T) {
		t.Parallel()
		cfg := config.NewConfig()
		cfg.DestDir = t.TempDir()

		p, err := createPipelineForSeed(cfg, config.SiteConfig{}, nil, newTestLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		names := p.StepNames()
		if len(names) != 1 || names[0] != "crawl" {
			t.Errorf("expected [crawl], got %v", names)
		}
	})

	t.Run("credentials and login URL add auth step", func(t *testing.T) {
		t.Parallel()
		cfg := config.NewConfig()
		cfg.DestDir = t.TempDir()
		cfg.Username = "alice"
		cfg.Password = "secret"

		site := config.SiteConfig{LoginURL: "https://example.com/wp-login.php"}
		p, err := createPipelineForSeed(cfg, site, nil, newTestLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		names := p.StepNames()
		if len(names) != 2 || names[0] != "auth" || names[1] != "crawl" {
			t.Errorf("expected [auth crawl], got %v", names)
		}
	})

	t.Run("site credentials suffice without CLI flags", func(t *testing.T) {
		t.Parallel()
		cfg := config.NewConfig()
		cfg.DestDir = t.TempDir()

		site := config.SiteConfig{
			LoginURL: "https://example.com/wp-login.php",
			Username: "bob",
			Password: "hunter2",
		}
		p, err := createPipelineForSeed(cfg, site, nil, newTestLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if p.StepCount() != 2 {
			t.Errorf("expected 2 steps, got %d", p.StepCount())
		}
	})

	t.Run("login URL without credentials skips auth step", func(t *testing.T) {
		t.Parallel()
		cfg := config.NewConfig()
		cfg.DestDir = t.TempDir()

		site := config.SiteConfig{LoginURL: "https://example.com/wp-login.php"}
		p, err := createPipelineForSeed(cfg, site, nil, newTestLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, name := range p.StepNames() {
			if name == "auth" {
				t.Error("expected no auth step without credentials")
			}
		}
	})
}

// TestOutputReport tests report output in all formats.
func TestOutputReport(t *testing.T) {
	summary := &model.CrawlSummary{
		RunID:        "run-output-test",
		Seed:         "https://example.com/files/",
		Started:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Duration:     3 * time.Second,
		PagesVisited: 4,
		Downloads: []model.DownloadRecord{
			{
				URL:    "https://example.com/files/codes.zip",
				Path:   "downloads/files/codes.zip",
				Bytes:  2048,
				Status: model.StatusDownloaded,
			},
		},
	}

	t.Run("writes simple report to file", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.ReportFile = filepath.Join(t.TempDir(), "nested", "report.txt")

		if err := outputReport(cfg, summary); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		data, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		if !strings.Contains(string(data), "REFGRAB REPORT") {
			t.Error("expected simple report header in file")
		}
		if !strings.Contains(string(data), "codes.zip") {
			t.Error("expected downloaded file in report")
		}
	})

	t.Run("writes JSON report to file", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.JSONReport = true
		cfg.ReportFile = filepath.Join(t.TempDir(), "report.json")

		if err := outputReport(cfg, summary); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		data, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("report is not valid JSON: %v", err)
		}
		if _, ok := decoded["version"]; !ok {
			t.Error("expected version field in JSON report")
		}
	})

	t.Run("writes markdown report to file", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.MarkdownReport = true
		cfg.ReportFile = filepath.Join(t.TempDir(), "report.md")

		if err := outputReport(cfg, summary); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		data, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		if !strings.Contains(string(data), "# refgrab Report") {
			t.Error("expected markdown heading in report")
		}
	})
}

// TestRunCrawlCmdValidation tests argument validation paths.
func TestRunCrawlCmdValidation(t *testing.T) {
	t.Run("errors without seeds", func(t *testing.T) {
		cmd := NewCrawlCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{})

		if err := cmd.Execute(); err == nil {
			t.Error("expected error when no seeds are provided")
		}
	})

	t.Run("errors on conflicting report formats", func(t *testing.T) {
		cmd := NewCrawlCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--json", "--markdown", "https://example.com"})

		if err := cmd.Execute(); err == nil {
			t.Error("expected error for conflicting report formats")
		}
	})
}

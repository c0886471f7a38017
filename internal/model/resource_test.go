package model

import (
	"testing"
)

// TestHasDownloadExtension tests file extension recognition.
func TestHasDownloadExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "zip archive", url: "https://example.com/data/loinc.zip", want: true},
		{name: "uppercase extension", url: "https://example.com/data/LOINC.ZIP", want: true},
		{name: "pdf document", url: "https://example.com/docs/guide.pdf", want: true},
		{name: "csv table", url: "https://example.com/codes.csv", want: true},
		{name: "sqlite database", url: "https://example.com/db/terms.sqlite", want: true},
		{name: "extension in query only", url: "https://example.com/download?file=x.zip", want: false},
		{name: "html page", url: "https://example.com/downloads/index.html", want: false},
		{name: "directory path", url: "https://example.com/downloads/", want: false},
		{name: "invalid url", url: "://bad", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := HasDownloadExtension(tt.url); got != tt.want {
				t.Errorf("HasDownloadExtension(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

// TestNormalizeURL tests URL canonicalization for set membership.
func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "drops fragment",
			url:  "https://example.com/page#section",
			want: "https://example.com/page",
		},
		{
			name: "lowercases scheme and host",
			url:  "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "empty path becomes slash",
			url:  "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "query preserved",
			url:  "https://example.com/dl?id=470626",
			want: "https://example.com/dl?id=470626",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NormalizeURL(tt.url); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

// TestSameOrigin tests same-host checks used to bound traversal.
func TestSameOrigin(t *testing.T) {
	t.Parallel()

	if !SameOrigin("loinc.org", "https://loinc.org/downloads/") {
		t.Error("expected same origin for matching host")
	}
	if !SameOrigin("Loinc.ORG", "https://loinc.org/downloads/") {
		t.Error("expected case-insensitive host comparison")
	}
	if SameOrigin("loinc.org", "https://cdn.loinc.org/file.zip") {
		t.Error("expected subdomain to be a different origin")
	}
	if SameOrigin("loinc.org", "://bad") {
		t.Error("expected invalid URL to not match")
	}
}

// TestCrawlSummary tests record filtering and byte accounting.
func TestCrawlSummary(t *testing.T) {
	t.Parallel()

	summary := &CrawlSummary{
		Seed: "https://example.com/",
		Downloads: []DownloadRecord{
			{URL: "https://example.com/a.zip", Bytes: 100, Status: StatusDownloaded},
			{URL: "https://example.com/b.zip", Bytes: 0, Status: StatusSkipped, Reason: "already downloaded"},
			{URL: "https://example.com/c.zip", Bytes: 0, Status: StatusFailed, Reason: "connection refused"},
			{URL: "https://example.com/d.pdf", Bytes: 50, Status: StatusDownloaded},
		},
	}

	if got := len(summary.Downloaded()); got != 2 {
		t.Errorf("Downloaded() returned %d records, want 2", got)
	}
	if got := len(summary.Skipped()); got != 1 {
		t.Errorf("Skipped() returned %d records, want 1", got)
	}
	if got := len(summary.Failed()); got != 1 {
		t.Errorf("Failed() returned %d records, want 1", got)
	}
	if got := summary.TotalBytes(); got != 150 {
		t.Errorf("TotalBytes() = %d, want 150", got)
	}

	summary.AddError("login failed")
	if len(summary.Errors) != 1 {
		t.Errorf("expected 1 error, got %d", len(summary.Errors))
	}
}

package model

import (
	"time"
)

// DownloadStatus describes the outcome of one downloader invocation.
type DownloadStatus string

const (
	// StatusDownloaded means the artifact was written to disk.
	StatusDownloaded DownloadStatus = "downloaded"

	// StatusSkipped means the downloader intentionally wrote nothing,
	// e.g. the URL was already handled or the body was an HTML error page.
	StatusSkipped DownloadStatus = "skipped"

	// StatusFailed means a network or filesystem error prevented the write.
	StatusFailed DownloadStatus = "failed"
)

// DownloadRecord captures the result of a single artifact download.
// Records feed the manifest database and the crawl report.
type DownloadRecord struct {
	// URL is the normalized resource URL that was fetched.
	URL string `json:"url"`

	// Path is the local file path the body was written to.
	// Empty for skipped and failed downloads.
	Path string `json:"path,omitempty"`

	// Bytes is the number of bytes written to disk.
	Bytes int64 `json:"bytes"`

	// SHA256 is the hex-encoded digest of the written body.
	// Empty unless Status is StatusDownloaded.
	SHA256 string `json:"sha256,omitempty"`

	// ContentType is the declared Content-Type of the response.
	ContentType string `json:"content_type,omitempty"`

	// Status records whether the artifact was downloaded, skipped, or failed.
	Status DownloadStatus `json:"status"`

	// Reason explains a skip or failure in operator-readable form.
	Reason string `json:"reason,omitempty"`

	// Timestamp is when the download attempt finished.
	Timestamp time.Time `json:"timestamp"`
}

// CrawlSummary aggregates the externally visible results of one crawl run.
//
// Design decision: The summary carries full per-download records rather
// than counters alone because operators need the identity and reason for
// every skip and failure, and report writers can always reduce records to
// counts but not the other way around.
type CrawlSummary struct {
	// RunID uniquely identifies this crawl run in the manifest database.
	RunID string `json:"run_id"`

	// Seed is the URL the crawl started from.
	Seed string `json:"seed"`

	// Started is when the run began.
	Started time.Time `json:"started"`

	// Duration is the total wall-clock time of the run.
	Duration time.Duration `json:"duration"`

	// Authenticated reports whether the login workflow succeeded.
	// A failed login is non-fatal; the run continues unauthenticated.
	Authenticated bool `json:"authenticated"`

	// PagesVisited is the number of pages fetched for traversal.
	PagesVisited int `json:"pages_visited"`

	// Downloads holds one record per download attempt.
	Downloads []DownloadRecord `json:"downloads"`

	// Errors holds run-level problems that did not abort the crawl,
	// such as a failed login or an unreachable intermediate page.
	Errors []string `json:"errors,omitempty"`
}

// Downloaded returns the records of artifacts actually written to disk.
func (s *CrawlSummary) Downloaded() []DownloadRecord {
	return s.byStatus(StatusDownloaded)
}

// Skipped returns the records of downloads that were intentionally skipped.
func (s *CrawlSummary) Skipped() []DownloadRecord {
	return s.byStatus(StatusSkipped)
}

// Failed returns the records of downloads that errored.
func (s *CrawlSummary) Failed() []DownloadRecord {
	return s.byStatus(StatusFailed)
}

func (s *CrawlSummary) byStatus(status DownloadStatus) []DownloadRecord {
	records := make([]DownloadRecord, 0, len(s.Downloads))
	for _, r := range s.Downloads {
		if r.Status == status {
			records = append(records, r)
		}
	}
	return records
}

// TotalBytes returns the sum of bytes written across all downloads.
func (s *CrawlSummary) TotalBytes() int64 {
	var total int64
	for _, r := range s.Downloads {
		if r.Status == StatusDownloaded {
			total += r.Bytes
		}
	}
	return total
}

// AddError appends a non-fatal run-level error message.
func (s *CrawlSummary) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

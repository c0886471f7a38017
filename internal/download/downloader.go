package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/refgrab/internal/config"
	"github.com/nao1215/refgrab/internal/fetch"
	"github.com/nao1215/refgrab/internal/model"
)

// ErrFilesystem is returned when a destination directory or file cannot
// be created or written. The crawl engine treats it as a failed download
// and continues with the next candidate.
var ErrFilesystem = errors.New("filesystem failure")

// chunkSize is the buffer size for streaming bodies to disk.
const chunkSize = 8192

// unsafeFilenameChars matches every character that may not appear in a
// local filename.
var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Downloader streams resource bodies to files under a destination
// directory, at most once per URL per run.
type Downloader struct {
	// destDir is the directory artifacts are written under.
	destDir string

	// htmlSkipThreshold is the body size in bytes below which an
	// HTML-typed response is discarded as an error page. The threshold
	// is approximate by nature, hence configurable.
	htmlSkipThreshold int64

	// downloaded tracks URLs already fetched as files this run.
	downloaded map[string]bool

	// mutex protects downloaded and nameCounter.
	mutex sync.Mutex

	// nameCounter numbers fallback filenames for URLs without one.
	nameCounter int

	// logger for structured logging.
	logger *slog.Logger
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithHTMLSkipThreshold sets the error-page size threshold.
func WithHTMLSkipThreshold(n int64) DownloaderOption {
	return func(d *Downloader) {
		if n >= 0 {
			d.htmlSkipThreshold = n
		}
	}
}

// WithDownloadLogger sets a custom logger.
func WithDownloadLogger(logger *slog.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// NewDownloader creates a Downloader writing under destDir.
func NewDownloader(destDir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		destDir:           destDir,
		htmlSkipThreshold: config.DefaultHTMLSkipThreshold,
		downloaded:        make(map[string]bool),
		logger:            slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// SeedDownloaded marks URLs as already handled, typically from the
// manifest of a previous run, so re-running against an unchanged site
// downloads nothing new.
func (d *Downloader) SeedDownloaded(urls []string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, u := range urls {
		d.downloaded[model.NormalizeURL(u)] = true
	}
}

// DownloadedCount returns the number of URLs handled so far.
func (d *Downloader) DownloadedCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.downloaded)
}

// Save fetches ref through the session and streams the body to disk.
// The outcome is always expressed in the record, never as an error, so
// the engine can treat every failure as recoverable.
func (d *Downloader) Save(ctx context.Context, sess *fetch.Session, ref model.ResourceRef, referer string) model.DownloadRecord {
	record := model.DownloadRecord{
		URL:       model.NormalizeURL(ref.URL),
		Timestamp: time.Now(),
	}

	// Membership is checked before any network call.
	if !d.claim(record.URL) {
		record.Status = model.StatusSkipped
		record.Reason = "already downloaded this run"
		return record
	}

	destPath := d.targetPath(ref)
	if _, err := os.Stat(destPath); err == nil {
		record.Status = model.StatusSkipped
		record.Path = destPath
		record.Reason = "file already exists"
		return record
	}

	resp, cancel, err := sess.Stream(ctx, ref.URL, referer)
	if err != nil {
		d.release(record.URL)
		record.Status = model.StatusFailed
		record.Reason = err.Error()
		return record
	}
	defer cancel()
	defer resp.Body.Close()

	record.ContentType = resp.Header.Get("Content-Type")

	// An HTML body below the threshold is a login/redirect error page,
	// not a small artifact. Reading threshold+1 bytes decides which.
	reader := io.Reader(resp.Body)
	if isHTMLContentType(record.ContentType) {
		head, err := io.ReadAll(io.LimitReader(resp.Body, d.htmlSkipThreshold+1))
		if err != nil {
			d.release(record.URL)
			record.Status = model.StatusFailed
			record.Reason = fmt.Sprintf("reading body: %v", err)
			return record
		}
		if int64(len(head)) <= d.htmlSkipThreshold {
			record.Status = model.StatusSkipped
			record.Reason = fmt.Sprintf("HTML response below %d bytes, likely an error page", d.htmlSkipThreshold)
			return record
		}
		reader = io.MultiReader(strings.NewReader(string(head)), resp.Body)
	}

	written, sum, err := d.writeFile(destPath, reader)
	if err != nil {
		d.release(record.URL)
		record.Status = model.StatusFailed
		record.Reason = err.Error()
		return record
	}

	record.Status = model.StatusDownloaded
	record.Path = destPath
	record.Bytes = written
	record.SHA256 = sum
	return record
}

// writeFile streams the body to destPath in fixed-size chunks, hashing
// as it goes, and returns the byte count and digest.
func (d *Downloader) writeFile(destPath string, body io.Reader) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return 0, "", fmt.Errorf("%w: creating %s: %v", ErrFilesystem, filepath.Dir(destPath), err)
	}

	f, err := os.Create(destPath) //nolint:gosec // Path is sanitized by targetPath
	if err != nil {
		return 0, "", fmt.Errorf("%w: creating %s: %v", ErrFilesystem, destPath, err)
	}

	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	written, err := io.CopyBuffer(io.MultiWriter(f, hasher), body, buf)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(destPath) // do not leave truncated artifacts behind
		return 0, "", fmt.Errorf("%w: writing %s: %v", ErrFilesystem, destPath, err)
	}

	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("%w: closing %s: %v", ErrFilesystem, destPath, err)
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// targetPath decides where a reference lands on disk. Files discovered
// via direct traversal mirror the remote URL's path segments; files
// revealed by the terms flow are written flat because their URLs are
// often opaque handler endpoints with meaningless paths.
func (d *Downloader) targetPath(ref model.ResourceRef) string {
	u, err := url.Parse(ref.URL)
	if err != nil {
		return filepath.Join(d.destDir, d.fallbackName())
	}

	name := sanitizeFilename(path.Base(u.Path))
	if name == "" || name == "." || name == "/" {
		// Some handler endpoints name the file in a query parameter.
		if qf := u.Query().Get("file"); qf != "" {
			name = sanitizeFilename(path.Base(qf))
		}
	}
	if name == "" || name == "." {
		name = d.fallbackName()
	}

	if ref.ViaTerms {
		return filepath.Join(d.destDir, name)
	}

	segments := strings.Split(strings.Trim(path.Dir(u.Path), "/"), "/")
	parts := make([]string, 0, len(segments)+2)
	parts = append(parts, d.destDir)
	for _, seg := range segments {
		if s := sanitizeFilename(seg); s != "" && s != "." {
			parts = append(parts, s)
		}
	}
	parts = append(parts, name)
	return filepath.Join(parts...)
}

// fallbackName generates a unique name for URLs that carry none.
func (d *Downloader) fallbackName() string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.nameCounter++
	return fmt.Sprintf("file_%d", d.nameCounter)
}

// claim marks a URL as handled; it returns false when the URL already was.
func (d *Downloader) claim(normalizedURL string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.downloaded[normalizedURL] {
		return false
	}
	d.downloaded[normalizedURL] = true
	return true
}

// release un-claims a URL after a failed attempt so a later rediscovery
// may retry it.
func (d *Downloader) release(normalizedURL string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.downloaded, normalizedURL)
}

// sanitizeFilename replaces every character outside [A-Za-z0-9._-] with
// an underscore.
func sanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// isHTMLContentType reports whether a declared content type is HTML-like.
func isHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

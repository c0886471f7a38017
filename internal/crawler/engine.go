package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/refgrab/internal/config"
	"github.com/nao1215/refgrab/internal/fetch"
	"github.com/nao1215/refgrab/internal/model"
)

// Downloader persists one file reference to local storage.
// The implementation owns the Downloaded Set: asking it to save a URL it
// has already handled must perform zero writes and report a skip.
type Downloader interface {
	// Save fetches ref through the session and streams it to disk.
	// It never returns an error; failures are reported in the record so
	// the engine can continue with the next candidate.
	Save(ctx context.Context, sess *fetch.Session, ref model.ResourceRef, referer string) model.DownloadRecord
}

// TermsAcceptor runs the terms-of-use form workflow against a gate page
// and returns the resource references the submission revealed.
type TermsAcceptor interface {
	AcceptTerms(ctx context.Context, sess *fetch.Session, pageURL string) ([]model.ResourceRef, error)
}

// gateKeywords mark URL paths that may front a terms-acceptance form.
// Pages matching these get the form workflow in addition to the normal
// link extraction.
var gateKeywords = []string{"file-access", "download"}

// Engine performs depth-limited recursive traversal from a seed URL.
//
// Per (URL, depth) node the engine either terminates (depth exceeded,
// already visited, page cap reached), downloads (the URL is itself a
// file), or recurses into same-origin page candidates at depth+1. No
// failure below the seed itself aborts a run.
type Engine struct {
	// sess is the session every network access goes through.
	sess *fetch.Session

	// downloader receives file references.
	downloader Downloader

	// terms handles terms-acceptance gate pages. Optional.
	terms TermsAcceptor

	// maxDepth bounds page-to-page hops from the seed.
	// Depth 0 means only the seed page itself.
	maxDepth int

	// maxPages caps total pages visited per run, a safety valve against
	// pathological link graphs independent of depth.
	maxPages int

	// downloadDelay is the pause between consecutive file downloads.
	downloadDelay time.Duration

	// limiter paces page requests per host.
	limiter *HostLimiter

	// keywords is the topical allow-list handed to extractors.
	keywords []string

	// visited tracks URLs already fetched as pages this run.
	// Checked before any network call.
	visited map[string]bool

	// mutex protects visited and pageCount.
	mutex sync.Mutex

	// pageCount tracks pages fetched.
	pageCount int

	// logger for structured logging.
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithMaxPages sets the total visited-page cap.
func WithMaxPages(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxPages = n
		}
	}
}

// WithCrawlDelay sets the per-host pacing interval for page requests.
func WithCrawlDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.limiter = NewHostLimiter(d)
	}
}

// WithDownloadDelay sets the pause between consecutive file downloads.
func WithDownloadDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.downloadDelay = d
	}
}

// WithKeywords sets the topical allow-list for page classification.
func WithKeywords(keywords []string) EngineOption {
	return func(e *Engine) {
		if len(keywords) > 0 {
			e.keywords = keywords
		}
	}
}

// WithTermsAcceptor enables the terms-acceptance workflow on gate pages.
func WithTermsAcceptor(t TermsAcceptor) EngineOption {
	return func(e *Engine) {
		e.terms = t
	}
}

// WithEngineLogger sets a custom logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine crawling through the given session and
// handing files to the given downloader.
func NewEngine(sess *fetch.Session, downloader Downloader, opts ...EngineOption) *Engine {
	e := &Engine{
		sess:          sess,
		downloader:    downloader,
		maxDepth:      config.DefaultMaxDepth,
		maxPages:      config.DefaultMaxPages,
		downloadDelay: config.DefaultDownloadDelay,
		limiter:       NewHostLimiter(config.DefaultCrawlDelay),
		keywords:      DefaultPageKeywords,
		visited:       make(map[string]bool),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run crawls from the seed URL, appending download records and page
// counts to the summary. Only an unusable seed URL is an error; every
// failure below the seed is logged, recorded, and skipped.
func (e *Engine) Run(ctx context.Context, seedURL string, summary *model.CrawlSummary) error {
	seed, err := url.Parse(seedURL)
	if err != nil {
		return fmt.Errorf("invalid seed URL %q: %w", seedURL, err)
	}
	if seed.Scheme != "http" && seed.Scheme != "https" {
		seed.Scheme = "https"
	}

	e.crawl(ctx, seed.String(), 0, seed.Host, summary)
	return ctx.Err()
}

// PagesVisited returns the number of pages fetched so far.
func (e *Engine) PagesVisited() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.pageCount
}

// crawl handles one (URL, depth) frame.
func (e *Engine) crawl(ctx context.Context, pageURL string, depth int, baseHost string, summary *model.CrawlSummary) {
	if ctx.Err() != nil {
		return
	}

	// Terminal: depth exceeded. No network call.
	if depth > e.maxDepth {
		return
	}

	// Terminal: already visited, or page budget spent. Membership is
	// checked and marked before any network call.
	if !e.markVisited(pageURL) {
		return
	}

	// The URL suffix alone can prove this node is a file; skip the page
	// fetch and hand it straight to the downloader.
	if model.HasDownloadExtension(pageURL) {
		e.download(ctx, model.ResourceRef{URL: pageURL, Kind: model.KindFile}, pageURL, summary)
		return
	}

	host := hostOf(pageURL)
	if err := e.limiter.Wait(ctx, host); err != nil {
		return
	}

	e.logger.Debug("crawling page", "url", pageURL, "depth", depth)

	resp, err := e.sess.GetPage(ctx, pageURL)
	if err != nil {
		e.logger.Warn("page fetch failed", "url", pageURL, "error", err)
		summary.AddError(fmt.Sprintf("fetch %s: %v", pageURL, err))
		return
	}

	e.countPage(summary)

	// Branch: the response says this is a file after all. The downloader
	// re-fetches it as a stream; page fetches are bounded reads and may
	// have truncated the body.
	if !resp.IsHTML() && isBinaryContentType(resp.ContentType()) {
		e.download(ctx, model.ResourceRef{URL: resp.URL, Kind: model.KindFile}, pageURL, summary)
		return
	}

	extractor, err := NewExtractor(resp.URL, WithPageKeywords(e.keywords))
	if err != nil {
		return
	}
	refs, err := extractor.Extract(resp.Body)
	if err != nil {
		e.logger.Warn("page parse failed", "url", pageURL, "error", err)
		summary.AddError(fmt.Sprintf("parse %s: %v", pageURL, err))
		return
	}

	// Files first, then the terms workflow, then recursion into pages.
	for _, ref := range refs {
		if ref.Kind != model.KindFile {
			continue
		}
		e.download(ctx, ref, pageURL, summary)
	}

	if e.terms != nil && isGatePage(pageURL) {
		e.acceptTerms(ctx, pageURL, summary)
	}

	for _, ref := range refs {
		if ref.Kind != model.KindPage {
			continue
		}
		if !model.SameOrigin(baseHost, ref.URL) {
			continue
		}
		if e.isVisited(ref.URL) {
			continue
		}
		e.crawl(ctx, ref.URL, depth+1, baseHost, summary)
	}
}

// acceptTerms runs the terms workflow on a gate page and downloads every
// revealed file reference flat into the destination directory.
func (e *Engine) acceptTerms(ctx context.Context, pageURL string, summary *model.CrawlSummary) {
	refs, err := e.terms.AcceptTerms(ctx, e.sess, pageURL)
	if err != nil {
		e.logger.Warn("terms acceptance failed", "url", pageURL, "error", err)
		summary.AddError(fmt.Sprintf("terms %s: %v", pageURL, err))
		return
	}

	for _, ref := range refs {
		if ref.Kind != model.KindFile {
			continue
		}
		ref.ViaTerms = true
		e.download(ctx, ref, pageURL, summary)
	}
}

// download hands one file reference to the downloader, records the
// outcome, and applies the inter-download politeness pause.
func (e *Engine) download(ctx context.Context, ref model.ResourceRef, referer string, summary *model.CrawlSummary) {
	if ctx.Err() != nil {
		return
	}

	record := e.downloader.Save(ctx, e.sess, ref, referer)
	summary.Downloads = append(summary.Downloads, record)

	switch record.Status {
	case model.StatusDownloaded:
		e.logger.Info("downloaded", "url", record.URL, "path", record.Path, "bytes", record.Bytes)
	case model.StatusSkipped:
		e.logger.Debug("skipped", "url", record.URL, "reason", record.Reason)
		return // no pause needed when nothing was fetched
	case model.StatusFailed:
		e.logger.Warn("download failed", "url", record.URL, "reason", record.Reason)
	}

	if e.downloadDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(e.downloadDelay):
		}
	}
}

// markVisited marks a URL visited and consumes one page budget slot.
// It returns false when the URL was already visited or the budget is spent.
func (e *Engine) markVisited(pageURL string) bool {
	normalized := model.NormalizeURL(pageURL)

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.visited[normalized] || e.pageCount >= e.maxPages {
		return false
	}
	e.visited[normalized] = true
	return true
}

// isVisited checks membership without marking.
func (e *Engine) isVisited(pageURL string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.visited[model.NormalizeURL(pageURL)]
}

// countPage increments the fetched-page counters.
func (e *Engine) countPage(summary *model.CrawlSummary) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.pageCount++
	summary.PagesVisited++
}

// isGatePage reports whether a URL path looks like a terms-acceptance gate.
func isGatePage(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return containsAny(strings.ToLower(u.Path), gateKeywords)
}

// isBinaryContentType reports whether a declared content type indicates a
// downloadable body rather than a page.
func isBinaryContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/") ||
		strings.Contains(ct, "octet-stream") ||
		strings.Contains(ct, "zip") ||
		strings.Contains(ct, "pdf")
}

// hostOf returns the host portion of a URL, or empty when unparseable.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

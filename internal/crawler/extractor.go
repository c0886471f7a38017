package crawler

import (
	"bytes"
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/refgrab/internal/model"
)

// ErrParse is returned when an HTML document cannot be parsed.
// The engine logs it and treats the node as a dead end; traversal
// continues with siblings.
var ErrParse = errors.New("parse failure")

// DefaultPageKeywords is the topical allow-list applied when a site
// config supplies none. A URL path must contain one of these for the
// extractor to consider it a page worth traversing.
var DefaultPageKeywords = []string{"download", "file"}

// extensionURLPattern finds absolute URLs ending in a downloadable
// extension anywhere in the raw document text. This secondary pass
// catches links embedded in script blocks or attributes the anchor walk
// misses.
var extensionURLPattern = regexp.MustCompile(
	`(?i)https?://[^\s<>"'{}|\\^` + "`" + `\[\]]+\.(?:zip|gz|pdf|txt|csv|tsv|xlsx?|docx?|xml|db|sqlite|owl|rdf)\b`)

// Extractor produces classified resource references from HTML documents.
//
// Design decision: We use golang.org/x/net/html rather than regex for the
// primary pass because it correctly handles the malformed HTML these
// sites actually serve; the regex pass exists only for URLs hidden where
// no parser looks.
type Extractor struct {
	// baseURL is the URL of the page being parsed, used for resolving
	// relative URLs before classification.
	baseURL *url.URL

	// keywords is the topical allow-list for page candidates.
	keywords []string
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithPageKeywords replaces the default topical allow-list.
func WithPageKeywords(keywords []string) ExtractorOption {
	return func(e *Extractor) {
		if len(keywords) > 0 {
			e.keywords = keywords
		}
	}
}

// NewExtractor creates an Extractor for documents fetched from baseURL.
func NewExtractor(baseURL string, opts ...ExtractorOption) (*Extractor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	e := &Extractor{
		baseURL:  u,
		keywords: DefaultPageKeywords,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Extract parses the document and returns a deduplicated set of absolute
// resource references. URLs whose path ends in a recognized extension are
// tagged as files regardless of surrounding content; other URLs become
// page candidates only when their path contains a topical keyword.
func (e *Extractor) Extract(body []byte) ([]model.ResourceRef, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, ErrParse
	}

	// Kind by normalized URL; a file classification always wins over a
	// page candidate for the same URL.
	found := make(map[string]model.ResourceKind)
	order := make([]string, 0)

	add := func(rawURL string, kind model.ResourceKind) {
		normalized := model.NormalizeURL(rawURL)
		existing, ok := found[normalized]
		if !ok {
			found[normalized] = kind
			order = append(order, normalized)
			return
		}
		if existing == model.KindPage && kind == model.KindFile {
			found[normalized] = kind
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				if href := getAttr(n, "href"); href != "" {
					e.classify(href, add)
				}
			case "form":
				// A form whose action mentions a download keyword may be a
				// terms gate; its action URL is worth visiting as a page.
				if action := e.resolveURL(getAttr(n, "action")); action != "" {
					if containsAny(strings.ToLower(action), e.keywords) {
						add(action, model.KindPage)
					}
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// Secondary pass over the raw text for extension URLs the DOM walk
	// cannot see.
	for _, match := range extensionURLPattern.FindAllString(string(body), -1) {
		add(match, model.KindFile)
	}

	refs := make([]model.ResourceRef, 0, len(order))
	for _, u := range order {
		refs = append(refs, model.ResourceRef{URL: u, Kind: found[u]})
	}
	return refs, nil
}

// classify resolves one href and feeds it to add with its inferred kind.
func (e *Extractor) classify(href string, add func(string, model.ResourceKind)) {
	resolved := e.resolveURL(href)
	if resolved == "" {
		return
	}

	u, err := url.Parse(resolved)
	if err != nil {
		return
	}

	pathLower := strings.ToLower(u.Path)
	if model.DownloadExtensions[path.Ext(pathLower)] {
		add(resolved, model.KindFile)
		return
	}

	if containsAny(pathLower, e.keywords) {
		add(resolved, model.KindPage)
	}
}

// resolveURL resolves a relative URL against the base URL, dropping
// schemes that can never be fetched.
func (e *Extractor) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") ||
		href == "#" {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := e.baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// containsAny reports whether s contains one of the keywords.
func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

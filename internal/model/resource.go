package model

import (
	"net/url"
	"path"
	"strings"
)

// ResourceKind classifies a discovered URL.
type ResourceKind string

const (
	// KindPage marks a URL expected to serve HTML worth traversing further.
	KindPage ResourceKind = "page"

	// KindFile marks a URL expected to serve a downloadable artifact.
	KindFile ResourceKind = "file"
)

// DownloadExtensions is the fixed allow-list of path suffixes that
// unambiguously identify a downloadable artifact. Covers the archive,
// document, spreadsheet, tabular, markup, and database formats that
// reference-dataset publishers actually ship.
//
// Design decision: We keep this as a package-level map rather than
// configuration because:
//  1. The set is stable across target sites; new formats are rare
//  2. Classification must be consistent between extractor and downloader
//  3. Ambiguous URLs are resolved later by content-type inspection anyway
var DownloadExtensions = map[string]bool{
	".zip":    true,
	".gz":     true,
	".pdf":    true,
	".txt":    true,
	".csv":    true,
	".tsv":    true,
	".xlsx":   true,
	".xls":    true,
	".docx":   true,
	".doc":    true,
	".xml":    true,
	".db":     true,
	".sqlite": true,
	".owl":    true,
	".rdf":    true,
}

// ResourceRef is a normalized absolute URL plus its classification.
//
// Invariant: Kind may only be assigned after the URL has been fetched,
// except when the path suffix unambiguously matches DownloadExtensions.
// The extractor honors this by tagging extension matches as KindFile and
// everything else as KindPage candidates.
type ResourceRef struct {
	// URL is the absolute, normalized resource URL.
	URL string `json:"url"`

	// Kind tags the reference as a page to traverse or a file to download.
	Kind ResourceKind `json:"kind"`

	// ViaTerms records that the reference was revealed by a terms-acceptance
	// form submission. Such files are written flat into the destination
	// directory rather than mirroring the remote path.
	ViaTerms bool `json:"via_terms,omitempty"`
}

// HasDownloadExtension reports whether the URL path ends in a recognized
// downloadable extension. The check is case-insensitive.
func HasDownloadExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return DownloadExtensions[strings.ToLower(path.Ext(u.Path))]
}

// NormalizeURL canonicalizes a URL for set membership checks.
// The fragment is dropped, scheme and host are lowercased, and an empty
// path becomes "/" so that http://example.com and http://example.com/
// dedupe to the same entry.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// SameOrigin reports whether targetURL shares its host with baseHost.
// The crawl engine only traverses same-origin pages so that a stray
// external link cannot drag the crawl onto an unrelated property.
func SameOrigin(baseHost, targetURL string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, baseHost)
}

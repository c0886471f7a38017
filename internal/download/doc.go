// Package download streams discovered artifacts to local storage.
//
// The Downloader owns the Downloaded Set for a run: every URL is fetched
// as a file at most once, independent of how often the crawl engine
// rediscovers it. A response that declares an HTML content type and is
// small is rejected as a login/redirect error page rather than written
// to disk; binary content types override a missing file extension.
package download

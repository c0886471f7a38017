// Package crawler implements link discovery and the depth-bounded crawl
// engine at the heart of refgrab.
//
// The Extractor turns one HTML document into a set of classified,
// absolute ResourceRefs. The Engine drives depth-limited recursive
// traversal from a seed URL, deduplicating visited pages, pacing
// requests per host, and handing file references to the downloader.
//
// Both types own no global state: visited and downloaded bookkeeping
// lives in the instances, so multiple independent crawls can run in one
// process and tests need no process-wide reset.
package crawler

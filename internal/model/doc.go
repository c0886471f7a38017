// Package model defines the core data types shared across refgrab components.
//
// The central types are:
//   - ResourceRef: a normalized absolute URL tagged as a page or a file
//   - DownloadRecord: the outcome of one artifact download
//   - CrawlSummary: aggregated results of a single crawl run
//
// These types are deliberately free of behavior beyond classification and
// normalization helpers so that every component (crawler, downloader,
// manifest, report writers) can depend on them without import cycles.
package model

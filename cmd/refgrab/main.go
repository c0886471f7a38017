// Package main provides the entry point for the refgrab CLI.
//
// refgrab is a download tool for reference datasets published on the web.
// It crawls from a seed URL, discovers downloadable artifacts, handles
// login and terms-of-use gates, and mirrors the files locally.
//
// Usage:
//
//	refgrab crawl <seed-url>
//	refgrab history
//
// See --help for all available options.
package main

// main is the entry point for refgrab.
func main() {
	Execute()
}

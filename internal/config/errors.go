package config

import "errors"

// Configuration validation errors.
// Package-level sentinel errors let callers use errors.Is for programmatic
// handling while keeping the messages human-readable.
var (
	// ErrNoSeed is returned when no seed URL is provided.
	ErrNoSeed = errors.New("no seed URL specified: provide one or more URLs as arguments")

	// ErrInvalidDepth is returned when the crawl depth is negative.
	// Depth 0 means only the seed page itself is fetched.
	ErrInvalidDepth = errors.New("invalid depth: must be non-negative")

	// ErrInvalidMaxPages is returned when the page cap is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrInvalidTimeout is returned when a request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRetryAttempts is returned when the retry budget is not positive.
	ErrInvalidRetryAttempts = errors.New("invalid retry attempts: must be positive")

	// ErrInvalidDelay is returned when a politeness delay is negative.
	// Use 0 to disable a delay.
	ErrInvalidDelay = errors.New("invalid delay: must be non-negative")

	// ErrInvalidSkipThreshold is returned when the HTML skip threshold is negative.
	ErrInvalidSkipThreshold = errors.New("invalid HTML skip threshold: must be non-negative")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)

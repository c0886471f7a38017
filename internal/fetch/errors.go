package fetch

import "errors"

// ErrNetwork is returned after the retry budget for a request is exhausted.
// It covers timeouts, connection errors, and non-2xx responses alike; the
// crawl engine treats all of them as a skipped node, never as fatal.
var ErrNetwork = errors.New("network failure")

// Package log provides secure logging functionality with automatic sanitization
// of credentials, built on top of the standard slog package.
//
// refgrab handles real login credentials and session cookies for the
// properties it crawls, and its verbose mode logs every request. The
// SecureHandler guarantees those secrets never reach log output:
//   - HTTP headers (Authorization, Cookie, Set-Cookie)
//   - Login form fields (password, anti-forgery tokens)
//   - Session identifiers
//
// Even in verbose mode, sensitive values are masked so that logs shared
// with dataset publishers or attached to bug reports leak nothing.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, true) // verbose=true
//
//	logger.Info("submitting login form",
//	    "password", "hunter2",        // sanitized to ***REDACTED***
//	    "url", "https://loinc.org/wp-login.php",
//	)
//
//	slog.SetDefault(logger)
package log

// Package fetch provides the HTTP access layer for refgrab.
//
// Two types cooperate:
//   - Client wraps an *http.Client with a fixed browser identity header,
//     per-request timeouts, and bounded linear retry/backoff
//   - Session adds a cookie jar so authentication state set by the login
//     workflow persists implicitly across every later request
//
// All other components reach the network exclusively through a Session.
package fetch

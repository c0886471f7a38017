package fetch

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// Session is an HTTP Client plus a cookie jar. Cookies returned by
// Set-Cookie accumulate across calls for the lifetime of one run, so
// authentication state established by the login workflow is implicitly
// shared by every later page fetch and download.
//
// Session state is never persisted; it dies with the process.
type Session struct {
	// Client is the retrying HTTP client all requests go through.
	*Client

	// jar holds the run's cookies.
	jar *cookiejar.Jar

	// authenticated records whether the login workflow succeeded.
	authenticated bool
}

// NewSession creates a Session with a fresh cookie jar.
func NewSession(opts ...ClientOption) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	// Connection pool settings sized for a polite sequential crawl:
	// one host at a time, so a small idle pool is plenty.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}

	hc := &http.Client{
		Transport: transport,
		Jar:       jar,
		// Limit redirects to prevent loops. The transport follows normal
		// redirects automatically; beyond ten we use the last response.
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &Session{
		Client: NewClient(hc, opts...),
		jar:    jar,
	}, nil
}

// NewSessionWithHTTPClient creates a Session around an existing
// http.Client. If the client has no cookie jar, one is attached.
// Intended for tests that need httptest-backed clients.
func NewSessionWithHTTPClient(hc *http.Client, opts ...ClientOption) (*Session, error) {
	var jar *cookiejar.Jar
	if hc.Jar == nil {
		var err error
		jar, err = cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc.Jar = jar
	} else if j, ok := hc.Jar.(*cookiejar.Jar); ok {
		jar = j
	}

	return &Session{
		Client: NewClient(hc, opts...),
		jar:    jar,
	}, nil
}

// SetAuthenticated records the outcome of the login workflow.
func (s *Session) SetAuthenticated(ok bool) {
	s.authenticated = ok
}

// Authenticated reports whether the login workflow succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Cookies returns the cookies currently held for a URL.
// Useful for logging how much session state a login established
// (the values themselves are masked by the log package).
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	if s.jar == nil {
		return nil
	}
	return s.jar.Cookies(u)
}

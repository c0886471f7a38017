package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/refgrab/internal/fetch"
	"github.com/nao1215/refgrab/internal/model"
)

// ErrAuth is returned when the login form cannot be found or the success
// heuristic is not met. Callers treat it as non-fatal: the run continues
// with an unauthenticated session.
var ErrAuth = errors.New("authentication failure")

// termsFieldPattern matches checkbox names that accept terms of use.
var termsFieldPattern = regexp.MustCompile(`(?i)terms|accept|tc`)

// Authenticator performs the login and terms-acceptance workflows on a
// Session.
//
// Design decision: We use goquery rather than walking the node tree by
// hand because form harvesting is selector-heavy (inputs by type, forms
// by id) and the CSS-selector API keeps each rule one line.
type Authenticator struct {
	// loginURL is the address of the site's login page.
	loginURL string

	// adapter carries the per-site form knowledge.
	adapter FormAdapter

	// logger for structured logging. Credential values are masked by the
	// log package before they reach any output.
	logger *slog.Logger
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithAdapter sets the form adapter for the target site.
func WithAdapter(adapter FormAdapter) AuthenticatorOption {
	return func(a *Authenticator) {
		a.adapter = adapter
	}
}

// WithAuthLogger sets a custom logger.
func WithAuthLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewAuthenticator creates an Authenticator for the given login page.
func NewAuthenticator(loginURL string, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		loginURL: loginURL,
		adapter:  WordPressFormAdapter(),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Login fetches the login page, harvests its form, and submits the
// credentials. On success the session is marked authenticated; the
// cookies the server set persist in the session jar either way.
//
// Success is detected heuristically: the response URL moved away from
// the login URL, or the body mentions the username, or the response URL
// contains a known post-login path fragment.
func (a *Authenticator) Login(ctx context.Context, sess *fetch.Session, username, password string) error {
	resp, err := sess.GetPage(ctx, a.loginURL)
	if err != nil {
		return fmt.Errorf("%w: fetching login page: %v", ErrAuth, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("%w: parsing login page: %v", ErrAuth, err)
	}

	form := a.findForm(doc)
	if form == nil {
		return fmt.Errorf("%w: no login form on %s", ErrAuth, a.loginURL)
	}

	payload := url.Values{}
	for k, v := range a.adapter.ExtraFields {
		payload.Set(k, v)
	}

	// Hidden inputs carry anti-forgery tokens and must be forwarded
	// verbatim, overriding any static extra field of the same name.
	form.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		payload.Set(name, s.AttrOr("value", ""))
	})

	payload.Set(a.adapter.UsernameField, username)
	payload.Set(a.adapter.PasswordField, password)

	action := resolveAction(form, resp.URL, a.loginURL)

	a.logger.Debug("submitting login form",
		"action", action,
		"username", username,
		"fields", len(payload),
	)

	post, err := sess.PostForm(ctx, action, payload, a.loginURL)
	if err != nil {
		return fmt.Errorf("%w: submitting login form: %v", ErrAuth, err)
	}

	if !a.loginSucceeded(post, username) {
		return fmt.Errorf("%w: login heuristic not met, response URL %s", ErrAuth, post.URL)
	}

	sess.SetAuthenticated(true)
	a.logger.Info("login successful", "username", username, "url", post.URL)
	return nil
}

// loginSucceeded applies the success heuristic to the post-login response.
func (a *Authenticator) loginSucceeded(post *fetch.Response, username string) bool {
	if model.NormalizeURL(post.URL) != model.NormalizeURL(a.loginURL) {
		// Moved away from the login page. A fragment match confirms it,
		// but any redirect off the login URL already counts.
		return true
	}

	if username != "" && bytes.Contains(bytes.ToLower(post.Body), []byte(strings.ToLower(username))) {
		return true
	}

	for _, fragment := range a.adapter.PostLoginFragments {
		if strings.Contains(post.URL, fragment) {
			return true
		}
	}

	return false
}

// AcceptTerms fetches a gate page, submits its terms-of-use form, and
// returns the file references the submission revealed. A page without a
// form yields an empty result, not an error. Implements
// crawler.TermsAcceptor.
func (a *Authenticator) AcceptTerms(ctx context.Context, sess *fetch.Session, pageURL string) ([]model.ResourceRef, error) {
	resp, err := sess.GetPage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetching gate page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing gate page: %w", err)
	}

	form := doc.Find("form").First()
	if form.Length() == 0 {
		a.logger.Debug("no form on gate page", "url", pageURL)
		return nil, nil
	}

	payload := harvestTermsForm(form)
	action := resolveAction(form, resp.URL, pageURL)

	a.logger.Debug("submitting terms form", "action", action, "fields", len(payload))

	post, err := sess.PostForm(ctx, action, payload, pageURL)
	if err != nil {
		return nil, fmt.Errorf("submitting terms form: %w", err)
	}

	return collectRevealed(post), nil
}

// harvestTermsForm builds the submission payload for a terms form:
// terms checkboxes get checked, inputs with present defaults are copied
// through, and the download submit control is preserved.
func harvestTermsForm(form *goquery.Selection) url.Values {
	payload := url.Values{}

	form.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}

		typ := strings.ToLower(s.AttrOr("type", ""))
		value := s.AttrOr("value", "")

		switch typ {
		case "checkbox":
			if termsFieldPattern.MatchString(name) {
				payload.Set(name, "1")
			} else if _, checked := s.Attr("checked"); checked {
				if value == "" {
					value = "1"
				}
				payload.Set(name, value)
			}
		case "radio":
			if _, checked := s.Attr("checked"); checked {
				payload.Set(name, value)
			}
		case "submit", "button":
			label := strings.ToLower(value)
			if strings.Contains(label, "download") || strings.Contains(label, "submit") {
				payload.Set(name, value)
			}
		default:
			if value != "" {
				payload.Set(name, value)
			}
		}
	})

	return payload
}

// collectRevealed inspects a terms-submission response for resources:
// anchors ending in a downloadable extension, or a body that is itself
// binary, in which case the response URL is the resource.
func collectRevealed(post *fetch.Response) []model.ResourceRef {
	refs := make([]model.ResourceRef, 0)
	seen := make(map[string]bool)

	base, baseErr := url.Parse(post.URL)

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(post.Body)); err == nil && baseErr == nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href := strings.TrimSpace(s.AttrOr("href", ""))
			if href == "" {
				return
			}
			u, err := url.Parse(href)
			if err != nil {
				return
			}
			resolved := model.NormalizeURL(base.ResolveReference(u).String())
			if !model.HasDownloadExtension(resolved) || seen[resolved] {
				return
			}
			seen[resolved] = true
			refs = append(refs, model.ResourceRef{URL: resolved, Kind: model.KindFile})
		})
	}

	ct := strings.ToLower(post.ContentType())
	if strings.Contains(ct, "application/") || strings.Contains(ct, "zip") || strings.Contains(ct, "octet-stream") {
		normalized := model.NormalizeURL(post.URL)
		if !seen[normalized] {
			refs = append(refs, model.ResourceRef{URL: normalized, Kind: model.KindFile})
		}
	}

	return refs
}

// findForm locates the login form, preferring the adapter's id and
// falling back to the first form on the page.
func (a *Authenticator) findForm(doc *goquery.Document) *goquery.Selection {
	if a.adapter.FormID != "" {
		if form := doc.Find("form#" + a.adapter.FormID).First(); form.Length() > 0 {
			return form
		}
	}
	if form := doc.Find("form").First(); form.Length() > 0 {
		return form
	}
	return nil
}

// resolveAction resolves a form's action attribute against the page it
// was served from; a missing action posts back to the fallback URL.
func resolveAction(form *goquery.Selection, pageURL, fallback string) string {
	action := strings.TrimSpace(form.AttrOr("action", ""))
	if action == "" {
		return fallback
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return fallback
	}
	u, err := url.Parse(action)
	if err != nil {
		return fallback
	}
	return base.ResolveReference(u).String()
}

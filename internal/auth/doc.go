// Package auth implements the authentication workflows that unlock
// protected resources on reference-dataset properties:
//
//   - Login: submits a site's login form on a Session, forwarding every
//     hidden input (anti-forgery tokens) verbatim and injecting the
//     supplied credentials into the adapter's recognized field names
//   - Terms acceptance: submits a terms-of-use gate form and returns the
//     resource references the submission revealed
//
// Which form to pick and which field names carry the credentials differ
// per site, so that knowledge lives in a FormAdapter rather than in the
// workflow code. New sites get support through configuration, not code
// changes.
//
// Login failure is non-fatal by design: the run continues with an
// unauthenticated Session and protected downloads fail individually.
package auth

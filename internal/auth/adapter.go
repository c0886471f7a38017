package auth

import (
	"github.com/nao1215/refgrab/internal/config"
)

// FormAdapter describes how to locate and fill one site's login form.
// Form-field harvesting that blindly guesses field names is fragile to
// site redesigns; the adapter isolates that per-site knowledge so the
// workflow code never changes when a new site is added.
type FormAdapter struct {
	// FormID selects the login form by id attribute. Empty means the
	// first form on the page.
	FormID string

	// UsernameField and PasswordField are the input names the credentials
	// are injected into.
	UsernameField string
	PasswordField string

	// ExtraFields are static fields appended to the submission payload
	// before hidden inputs are copied over them.
	ExtraFields map[string]string

	// PostLoginFragments are URL path fragments whose presence in the
	// post-login response URL counts as success.
	PostLoginFragments []string
}

// DefaultFormAdapter matches the plain username/password forms most
// properties serve.
func DefaultFormAdapter() FormAdapter {
	return FormAdapter{
		UsernameField: "username",
		PasswordField: "password",
	}
}

// WordPressFormAdapter matches WordPress login pages (wp-login.php),
// which several terminology publishers use.
func WordPressFormAdapter() FormAdapter {
	return FormAdapter{
		FormID:        "loginform",
		UsernameField: "log",
		PasswordField: "pwd",
		ExtraFields: map[string]string{
			"wp-submit":  "Log In",
			"testcookie": "1",
		},
		PostLoginFragments: []string{"wp-admin", "file-access"},
	}
}

// FormAdapterFromSite builds an adapter from a site configuration,
// falling back to WordPress conventions for anything unset. WordPress is
// the observed default among the dataset publishers refgrab targets.
func FormAdapterFromSite(site config.SiteConfig) FormAdapter {
	adapter := WordPressFormAdapter()

	if site.FormID != "" {
		adapter.FormID = site.FormID
	}
	if site.UsernameField != "" {
		adapter.UsernameField = site.UsernameField
	}
	if site.PasswordField != "" {
		adapter.PasswordField = site.PasswordField
	}
	if len(site.ExtraFields) > 0 {
		adapter.ExtraFields = site.ExtraFields
	}
	if len(site.PostLoginFragments) > 0 {
		adapter.PostLoginFragments = site.PostLoginFragments
	}

	return adapter
}

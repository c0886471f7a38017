package config

// SiteConfig holds site-specific settings for a single host.
// Target properties differ in their login forms and in which path keywords
// identify pages worth traversing, so these knobs live in the config file
// rather than in code.
type SiteConfig struct {
	// LoginURL is the address of the site's login page.
	// Empty means the site needs no authentication.
	LoginURL string `yaml:"loginURL,omitempty"`

	// Username and Password override credentials supplied on the CLI
	// for this site only.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// FormID selects the login form by its id attribute. When empty the
	// first form on the login page is used.
	FormID string `yaml:"formID,omitempty"`

	// UsernameField and PasswordField are the form input names the
	// credentials are injected into. Defaults cover WordPress-style
	// properties ("log"/"pwd").
	UsernameField string `yaml:"usernameField,omitempty"`
	PasswordField string `yaml:"passwordField,omitempty"`

	// ExtraFields are static form fields appended to the login payload,
	// such as "testcookie: 1" or a redirect target.
	ExtraFields map[string]string `yaml:"extraFields,omitempty"`

	// PostLoginFragments are URL path fragments whose presence in the
	// post-login response URL counts as login success.
	PostLoginFragments []string `yaml:"postLoginFragments,omitempty"`

	// Headers are custom HTTP headers included in every request to the site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the global crawl depth for this site.
	// Zero means the global depth applies.
	Depth int `yaml:"depth,omitempty"`

	// PageKeywords is the topical allow-list: a URL path must contain one
	// of these for the extractor to treat it as a page worth traversing.
	PageKeywords []string `yaml:"pageKeywords,omitempty"`
}

// File represents the structure of the .refgrab configuration file.
type File struct {
	// Sites maps hostnames to their site-specific configurations.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults contains settings applied to every site unless overridden.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the merged configuration for a hostname.
// Site-specific values override the file-level defaults field by field.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults

	site, ok := cf.Sites[host]
	if !ok {
		return result
	}

	if site.LoginURL != "" {
		result.LoginURL = site.LoginURL
	}
	if site.Username != "" {
		result.Username = site.Username
	}
	if site.Password != "" {
		result.Password = site.Password
	}
	if site.FormID != "" {
		result.FormID = site.FormID
	}
	if site.UsernameField != "" {
		result.UsernameField = site.UsernameField
	}
	if site.PasswordField != "" {
		result.PasswordField = site.PasswordField
	}
	if len(site.ExtraFields) > 0 {
		if result.ExtraFields == nil {
			result.ExtraFields = make(map[string]string)
		}
		for k, v := range site.ExtraFields {
			result.ExtraFields[k] = v
		}
	}
	if len(site.PostLoginFragments) > 0 {
		result.PostLoginFragments = site.PostLoginFragments
	}
	if len(site.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		for k, v := range site.Headers {
			result.Headers[k] = v
		}
	}
	if site.Depth != 0 {
		result.Depth = site.Depth
	}
	if len(site.PageKeywords) > 0 {
		result.PageKeywords = site.PageKeywords
	}

	return result
}

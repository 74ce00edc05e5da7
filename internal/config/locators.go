// File: internal/config/locators.go
package config

import (
	"github.com/spf13/viper"
)

// Site-specific DOM locators are configuration data, not behavior. Every
// lookup the engine performs walks an ordered list of CSS selectors and takes
// the first that resolves. The defaults below cover common login and
// messaging layouts; real deployments override them per target site.

// LoginLocators identifies the elements of the login surface.
type LoginLocators struct {
	// URL is the login surface itself.
	URL string `mapstructure:"url" yaml:"url"`
	// HomeURL is the reference URL used to probe for an authenticated state.
	HomeURL string `mapstructure:"home_url" yaml:"home_url"`
	// URLMarkers are substrings of the current URL that mean "still on the
	// login or checkpoint surface".
	URLMarkers []string `mapstructure:"url_markers" yaml:"url_markers"`

	UsernameFields []string `mapstructure:"username_fields" yaml:"username_fields"`
	PasswordFields []string `mapstructure:"password_fields" yaml:"password_fields"`
	SubmitControls []string `mapstructure:"submit_controls" yaml:"submit_controls"`
	// AuthenticatedIndicators prove a logged-in session when any resolves.
	AuthenticatedIndicators []string `mapstructure:"authenticated_indicators" yaml:"authenticated_indicators"`
	// ErrorBanners carry the site's own failure text after a rejected login.
	ErrorBanners []string `mapstructure:"error_banners" yaml:"error_banners"`
}

// DeliveryLocators identifies the messaging surface on a target page.
type DeliveryLocators struct {
	// Affordances open the compose surface. Checked first; a miss is its own
	// failure cause, distinct from a missing composer.
	Affordances []string `mapstructure:"affordances" yaml:"affordances"`
	// Composers are the editable message inputs.
	Composers []string `mapstructure:"composers" yaml:"composers"`
	// SendControls dispatch the message. When none resolves the engine falls
	// back to a terminal key press in the composer.
	SendControls []string `mapstructure:"send_controls" yaml:"send_controls"`
	// Confirmations prove the site accepted the message.
	Confirmations []string `mapstructure:"confirmations" yaml:"confirmations"`
}

// LocatorsConfig bundles all site locators.
type LocatorsConfig struct {
	Login    LoginLocators    `mapstructure:"login" yaml:"login"`
	Delivery DeliveryLocators `mapstructure:"delivery" yaml:"delivery"`
}

// setLocatorDefaults registers fallback locators that match the field naming
// conventions most login and messaging implementations follow.
func setLocatorDefaults(v *viper.Viper) {
	v.SetDefault("locators.login.url_markers", []string{"/login", "/signin", "/checkpoint", "/challenge"})
	v.SetDefault("locators.login.username_fields", []string{
		"input[name='username']",
		"input[id='username']",
		"input[name='email']",
		"input[type='email']",
		"input[type='text'][name*='user']",
		"input[autocomplete='username']",
	})
	v.SetDefault("locators.login.password_fields", []string{
		"input[name='password']",
		"input[id='password']",
		"input[type='password']",
	})
	v.SetDefault("locators.login.submit_controls", []string{
		"button[type='submit']",
		"input[type='submit']",
		"button[name='login']",
		"button[data-testid='login-button']",
	})
	v.SetDefault("locators.login.authenticated_indicators", []string{
		"[data-testid='profile-menu']",
		"a[href*='/logout']",
		"nav [aria-label='Account']",
		"img[alt*='avatar']",
	})
	v.SetDefault("locators.login.error_banners", []string{
		"[role='alert']",
		".error-message",
		"#error",
		"[data-testid='login-error']",
	})

	v.SetDefault("locators.delivery.affordances", []string{
		"button[data-testid='message-button']",
		"a[href*='/messages/compose']",
		"button[aria-label*='Message']",
		"div[role='button'][aria-label*='Message']",
	})
	v.SetDefault("locators.delivery.composers", []string{
		"textarea[name='message']",
		"div[role='textbox'][contenteditable='true']",
		"textarea[placeholder*='essage']",
		"[data-testid='message-input']",
	})
	v.SetDefault("locators.delivery.send_controls", []string{
		"button[type='submit'][aria-label*='Send']",
		"button[data-testid='send-button']",
		"button[aria-label='Send']",
	})
	v.SetDefault("locators.delivery.confirmations", []string{
		"[data-testid='message-sent']",
		"div[aria-label*='Sent']",
		".message-sent-indicator",
	})
}

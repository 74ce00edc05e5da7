// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is built once at
// startup from defaults, the config file, environment variables, and flags,
// then passed explicitly to every component. There is no package-level
// mutable state; the run owns its configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Identity  IdentityConfig  `mapstructure:"identity" yaml:"identity"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Challenge ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	Delivery  DeliveryConfig  `mapstructure:"delivery" yaml:"delivery"`
	Locators  LocatorsConfig  `mapstructure:"locators" yaml:"locators"`
	Results   ResultsConfig   `mapstructure:"results" yaml:"results"`
	// Run gets its marching orders from CLI flags, not the config file.
	Run RunConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	UserDataDir     string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Stealth         StealthConfig  `mapstructure:"stealth" yaml:"stealth"`
	Humanoid        HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// StealthConfig controls the fingerprint-evasion layer.
type StealthConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
}

// ProxyConfig defines an authenticated upstream proxy. Chromium cannot send
// Proxy-Authorization itself, so when credentials are set a local relay is
// started and the browser is pointed at it.
type ProxyConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Upstream   string `mapstructure:"upstream" yaml:"upstream"`
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"-"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// NetworkConfig tunes the network behavior of the application.
type NetworkConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Proxy             ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
}

// IdentityConfig names the account the engine authenticates as. The secret is
// never read from the config file; it is bound to COURIER_IDENTITY_SECRET.
type IdentityConfig struct {
	Principal string `mapstructure:"principal" yaml:"principal"`
	Secret    string `mapstructure:"secret" yaml:"-"`
}

// SessionConfig selects and tunes the session artifact store.
type SessionConfig struct {
	// Store selects the backend: "file" or "postgres".
	Store string `mapstructure:"store" yaml:"store"`
	// Dir is the artifact directory for the file backend.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// PostgresURL is the DSN for the postgres backend. Bound to COURIER_SESSION_PG_URL.
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
	// Reuse controls whether a stored artifact set is applied before logging in.
	Reuse bool `mapstructure:"reuse" yaml:"reuse"`
	// FreshnessCheck skips reuse when a JWT-shaped artifact is already expired.
	FreshnessCheck bool `mapstructure:"freshness_check" yaml:"freshness_check"`
}

// AudioSolverConfig configures the accessible-channel (audio) strategy.
type AudioSolverConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	// Provider selects the transcription backend. "gemini" is the only
	// in-tree backend; others plug in through the solver interface.
	Provider string `mapstructure:"provider" yaml:"provider"`
	APIKey   string `mapstructure:"api_key" yaml:"-"`
	Model    string `mapstructure:"model" yaml:"model"`
	// Endpoint overrides the provider's default API base URL. Leave empty
	// outside of tests and self-hosted gateways.
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DelegatedSolverConfig configures the third-party solving service strategy.
type DelegatedSolverConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPolls     int           `mapstructure:"max_polls" yaml:"max_polls"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ManualWaitConfig bounds the human-in-the-loop fallback. Only meaningful for
// non-headless sessions where somebody can actually see the challenge.
type ManualWaitConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ChallengeConfig drives the verification challenge resolver.
type ChallengeConfig struct {
	// FrameMarkers are URL substrings identifying known challenge embeds.
	FrameMarkers []string `mapstructure:"frame_markers" yaml:"frame_markers"`
	// Keywords trigger the generic overlay heuristic on page text.
	Keywords   []string              `mapstructure:"keywords" yaml:"keywords"`
	Audio      AudioSolverConfig     `mapstructure:"audio" yaml:"audio"`
	Delegated  DelegatedSolverConfig `mapstructure:"delegated" yaml:"delegated"`
	ManualWait ManualWaitConfig      `mapstructure:"manual_wait" yaml:"manual_wait"`

	// Widget locators, walked in order like every other locator list.
	// AudioTriggers switch the widget into its accessible mode;
	// AudioSources carry the payload URL; AnswerInputs and VerifyControls
	// submit the transcribed answer; ResponseFields receive a delegated
	// service's token.
	AudioTriggers  []string `mapstructure:"audio_triggers" yaml:"audio_triggers"`
	AudioSources   []string `mapstructure:"audio_sources" yaml:"audio_sources"`
	AnswerInputs   []string `mapstructure:"answer_inputs" yaml:"answer_inputs"`
	VerifyControls []string `mapstructure:"verify_controls" yaml:"verify_controls"`
	ResponseFields []string `mapstructure:"response_fields" yaml:"response_fields"`
}

// DeliveryConfig tunes the per-target delivery loop.
type DeliveryConfig struct {
	NavAttempts       int           `mapstructure:"nav_attempts" yaml:"nav_attempts"`
	NavRetryPause     time.Duration `mapstructure:"nav_retry_pause" yaml:"nav_retry_pause"`
	SettleWait        time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	ConfirmWait       time.Duration `mapstructure:"confirm_wait" yaml:"confirm_wait"`
	PaceMin           time.Duration `mapstructure:"pace_min" yaml:"pace_min"`
	PaceMax           time.Duration `mapstructure:"pace_max" yaml:"pace_max"`
	PerMinute         float64       `mapstructure:"per_minute" yaml:"per_minute"`
	ContinueOnFailure bool          `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
}

// ResultsConfig selects where delivery results are recorded.
type ResultsConfig struct {
	// Sink selects the backend: "jsonl", "postgres", or "both".
	Sink        string `mapstructure:"sink" yaml:"sink"`
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
}

// RunConfig holds settings populated from CLI flags for a specific run.
type RunConfig struct {
	Targets        []string
	TargetsFile    string
	Message        string
	MessageFile    string
	IdentitiesFile string
	DryRun         bool
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "courier")
	v.SetDefault("logger.log_file", "courier.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.stealth.enabled", true)
	setHumanoidDefaults(v)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")
	v.SetDefault("network.proxy.enabled", false)
	v.SetDefault("network.proxy.listen_addr", "127.0.0.1:0")

	// -- Session --
	v.SetDefault("session.store", "file")
	v.SetDefault("session.dir", "~/.courier/sessions")
	v.SetDefault("session.reuse", true)
	v.SetDefault("session.freshness_check", true)

	// -- Challenge --
	v.SetDefault("challenge.frame_markers", []string{"recaptcha", "hcaptcha", "challenge"})
	v.SetDefault("challenge.keywords", []string{
		"verify you are human", "unusual traffic", "security check", "are you a robot",
	})
	v.SetDefault("challenge.audio.enabled", false)
	v.SetDefault("challenge.audio.provider", "gemini")
	v.SetDefault("challenge.audio.model", "gemini-2.5-flash")
	v.SetDefault("challenge.audio.timeout", "45s")
	v.SetDefault("challenge.delegated.enabled", false)
	v.SetDefault("challenge.delegated.poll_interval", "5s")
	v.SetDefault("challenge.delegated.max_polls", 24)
	v.SetDefault("challenge.delegated.timeout", "30s")
	v.SetDefault("challenge.manual_wait.timeout", "3m")
	v.SetDefault("challenge.manual_wait.poll_interval", "5s")
	v.SetDefault("challenge.audio_triggers", []string{
		"#recaptcha-audio-button",
		"button[aria-label*='audio']",
		".rc-button-audio",
	})
	v.SetDefault("challenge.audio_sources", []string{
		"a.rc-audiochallenge-tdownload-link",
		"#audio-source",
		"audio source",
		"audio",
	})
	v.SetDefault("challenge.answer_inputs", []string{
		"#audio-response",
		"input[name='audio-response']",
		"input[id*='audio'][type='text']",
	})
	v.SetDefault("challenge.verify_controls", []string{
		"#recaptcha-verify-button",
		"button[aria-label*='Verify']",
	})
	v.SetDefault("challenge.response_fields", []string{
		"textarea[name='g-recaptcha-response']",
		"textarea[name='h-captcha-response']",
		"#g-recaptcha-response",
	})

	// -- Delivery --
	v.SetDefault("delivery.nav_attempts", 3)
	v.SetDefault("delivery.nav_retry_pause", "4s")
	v.SetDefault("delivery.settle_wait", "2s")
	v.SetDefault("delivery.confirm_wait", "5s")
	v.SetDefault("delivery.pace_min", "20s")
	v.SetDefault("delivery.pace_max", "75s")
	v.SetDefault("delivery.per_minute", 2.0)
	v.SetDefault("delivery.continue_on_failure", true)

	// -- Locators --
	setLocatorDefaults(v)

	// -- Results --
	v.SetDefault("results.sink", "jsonl")
	v.SetDefault("results.path", "courier-results.jsonl")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data. Secrets stay out of the
	// config file and are never serialized back.
	v.BindEnv("identity.secret", "COURIER_IDENTITY_SECRET")
	v.BindEnv("challenge.audio.api_key", "COURIER_AUDIO_API_KEY")
	v.BindEnv("challenge.delegated.api_key", "COURIER_DELEGATED_API_KEY")
	v.BindEnv("session.postgres_url", "COURIER_SESSION_PG_URL")
	v.BindEnv("results.postgres_url", "COURIER_RESULTS_PG_URL")
	v.BindEnv("network.proxy.password", "COURIER_PROXY_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the secret if Unmarshal didn't pick it up.
	if cfg.Identity.Secret == "" {
		cfg.Identity.Secret = os.Getenv("COURIER_IDENTITY_SECRET")
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves ~ in user-supplied filesystem paths.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Session.Dir, &c.Results.Path, &c.Logger.LogFile, &c.Browser.UserDataDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("cannot expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Session.Store {
	case "file", "postgres":
	default:
		return fmt.Errorf("session.store must be \"file\" or \"postgres\", got %q", c.Session.Store)
	}
	if c.Session.Store == "postgres" && c.Session.PostgresURL == "" {
		return fmt.Errorf("session.store is postgres but COURIER_SESSION_PG_URL is not set")
	}
	switch c.Results.Sink {
	case "jsonl", "postgres", "both":
	default:
		return fmt.Errorf("results.sink must be \"jsonl\", \"postgres\", or \"both\", got %q", c.Results.Sink)
	}
	if c.Results.Sink != "jsonl" && c.Results.PostgresURL == "" {
		return fmt.Errorf("results.sink requires COURIER_RESULTS_PG_URL")
	}
	if c.Delivery.NavAttempts < 1 {
		return fmt.Errorf("delivery.nav_attempts must be at least 1")
	}
	if c.Delivery.PaceMin < 0 || c.Delivery.PaceMax < c.Delivery.PaceMin {
		return fmt.Errorf("delivery pace bounds invalid: min=%s max=%s", c.Delivery.PaceMin, c.Delivery.PaceMax)
	}
	if c.Delivery.PerMinute <= 0 {
		return fmt.Errorf("delivery.per_minute must be positive")
	}
	if err := c.Challenge.Validate(); err != nil {
		return fmt.Errorf("challenge configuration invalid: %w", err)
	}
	if err := c.Browser.Humanoid.Validate(); err != nil {
		return fmt.Errorf("humanoid configuration invalid: %w", err)
	}
	if c.Network.Proxy.Enabled && c.Network.Proxy.Upstream == "" {
		return fmt.Errorf("network.proxy.enabled requires network.proxy.upstream")
	}
	return nil
}

// Validate checks the challenge resolver settings.
func (cc *ChallengeConfig) Validate() error {
	if cc.Audio.Enabled && cc.Audio.APIKey == "" {
		return fmt.Errorf("audio strategy enabled but COURIER_AUDIO_API_KEY is not set")
	}
	if cc.Delegated.Enabled {
		if cc.Delegated.Endpoint == "" {
			return fmt.Errorf("delegated strategy enabled but endpoint is empty")
		}
		if cc.Delegated.APIKey == "" {
			return fmt.Errorf("delegated strategy enabled but COURIER_DELEGATED_API_KEY is not set")
		}
		if cc.Delegated.MaxPolls <= 0 {
			return fmt.Errorf("delegated.max_polls must be positive")
		}
		if cc.Delegated.PollInterval <= 0 {
			return fmt.Errorf("delegated.poll_interval must be positive")
		}
	}
	if cc.ManualWait.Timeout < 0 {
		return fmt.Errorf("manual_wait.timeout cannot be negative")
	}
	return nil
}

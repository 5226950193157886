// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Credentials() CredentialsConfig
	Timings() TimingsConfig
	Automation() AutomationConfig
	Console() ConsoleConfig
	Batch() BatchConfig
	Metrics() MetricsConfig

	// Batch Setters (CLI flags override the config file)
	SetBatchMode(string)
	SetBatchCatalog(string)
	SetBatchInclude([]string)
	SetBatchExclude([]string)
	SetBatchReport(format, output string)

	// Timing Setters
	SetTimingsLoginWait(time.Duration)
	SetTimingsSiteInterval(time.Duration)
	SetTimingsLoginRetryCount(int)
	SetTimingsDeploymentWait(time.Duration)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration. Fields are exported so viper can
// decode into them; callers should prefer the Interface getters.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	NetworkCfg     NetworkConfig     `mapstructure:"network" yaml:"network"`
	CredentialsCfg CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	TimingsCfg     TimingsConfig     `mapstructure:"timings" yaml:"timings"`
	AutomationCfg  AutomationConfig  `mapstructure:"automation" yaml:"automation"`
	ConsoleCfg     ConsoleConfig     `mapstructure:"console" yaml:"console"`
	BatchCfg       BatchConfig       `mapstructure:"batch" yaml:"batch"`
	MetricsCfg     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig         { return c.NetworkCfg }
func (c *Config) Credentials() CredentialsConfig { return c.CredentialsCfg }
func (c *Config) Timings() TimingsConfig         { return c.TimingsCfg }
func (c *Config) Automation() AutomationConfig   { return c.AutomationCfg }
func (c *Config) Console() ConsoleConfig         { return c.ConsoleCfg }
func (c *Config) Batch() BatchConfig             { return c.BatchCfg }
func (c *Config) Metrics() MetricsConfig         { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBatchMode(m string)        { c.BatchCfg.Mode = m }
func (c *Config) SetBatchCatalog(p string)     { c.BatchCfg.Catalog = p }
func (c *Config) SetBatchInclude(ids []string) { c.BatchCfg.Include = ids }
func (c *Config) SetBatchExclude(ids []string) { c.BatchCfg.Exclude = ids }
func (c *Config) SetBatchReport(format, output string) {
	c.BatchCfg.ReportFormat = format
	c.BatchCfg.ReportOutput = output
}

func (c *Config) SetTimingsLoginWait(d time.Duration)      { c.TimingsCfg.LoginWait = d }
func (c *Config) SetTimingsSiteInterval(d time.Duration)   { c.TimingsCfg.SiteInterval = d }
func (c *Config) SetTimingsLoginRetryCount(n int)          { c.TimingsCfg.LoginRetryCount = n }
func (c *Config) SetTimingsDeploymentWait(d time.Duration) { c.TimingsCfg.DeploymentWait = d }

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

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

// DatabaseConfig holds the result history store connection details. An empty URL
// disables the store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the Chrome instance driven by chromedp.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes the plain HTTP client used by the preflight check and the
// navigation timeout of the browser.
type NetworkConfig struct {
	Timeout              time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	NavigationTimeout    time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Headers              map[string]string `mapstructure:"headers" yaml:"headers"`
	IgnoreTLSErrors      bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	PreflightConcurrency int               `mapstructure:"preflight_concurrency" yaml:"preflight_concurrency"`
}

// CredentialsConfig is the console identity. The password is never written back to disk.
type CredentialsConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// TimingsConfig are the run-level waits and bounds of a batch.
type TimingsConfig struct {
	LoginWait       time.Duration `mapstructure:"login_wait" yaml:"login_wait"`
	SiteInterval    time.Duration `mapstructure:"site_interval" yaml:"site_interval"`
	LoginRetryCount int           `mapstructure:"login_retry_count" yaml:"login_retry_count"`
	DeploymentWait  time.Duration `mapstructure:"deployment_wait" yaml:"deployment_wait"`
}

// AutomationConfig holds the secondary waits of the engine.
type AutomationConfig struct {
	ResolveTimeout      time.Duration `mapstructure:"resolve_timeout" yaml:"resolve_timeout"`
	ResolvePoll         time.Duration `mapstructure:"resolve_poll" yaml:"resolve_poll"`
	RetryRefreshWait    time.Duration `mapstructure:"retry_refresh_wait" yaml:"retry_refresh_wait"`
	LoginFormSettle     time.Duration `mapstructure:"login_form_settle" yaml:"login_form_settle"`
	CookieClearWait     time.Duration `mapstructure:"cookie_clear_wait" yaml:"cookie_clear_wait"`
	ConfirmAttempts     int           `mapstructure:"confirm_attempts" yaml:"confirm_attempts"`
	ConfirmBackoff      time.Duration `mapstructure:"confirm_backoff" yaml:"confirm_backoff"`
	AfterConfirmWait    time.Duration `mapstructure:"after_confirm_wait" yaml:"after_confirm_wait"`
	DialogSettle        time.Duration `mapstructure:"dialog_settle" yaml:"dialog_settle"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PageSettle          time.Duration `mapstructure:"page_settle" yaml:"page_settle"`
	OptionalProbe       time.Duration `mapstructure:"optional_probe" yaml:"optional_probe"`
	ActionGap           time.Duration `mapstructure:"action_gap" yaml:"action_gap"`
	PostLoginSettle     time.Duration `mapstructure:"post_login_settle" yaml:"post_login_settle"`
	NavigationJitterMin time.Duration `mapstructure:"navigation_jitter_min" yaml:"navigation_jitter_min"`
	NavigationJitterMax time.Duration `mapstructure:"navigation_jitter_max" yaml:"navigation_jitter_max"`
}

// StepConfig is one labeled action button on an update page.
type StepConfig struct {
	Label                string `mapstructure:"label" yaml:"label"`
	RequiresConfirmation bool   `mapstructure:"requires_confirmation" yaml:"requires_confirmation"`
}

// PageConfig is one update page of the multi-page plan.
type PageConfig struct {
	Path     string       `mapstructure:"path" yaml:"path"`
	Optional bool         `mapstructure:"optional" yaml:"optional"`
	Steps    []StepConfig `mapstructure:"steps" yaml:"steps"`
}

// ConsoleConfig describes the DOM contract of the admin consoles.
type ConsoleConfig struct {
	UsernameSelector     string       `mapstructure:"username_selector" yaml:"username_selector"`
	PasswordSelector     string       `mapstructure:"password_selector" yaml:"password_selector"`
	LoginButtonXPath     string       `mapstructure:"login_button_xpath" yaml:"login_button_xpath"`
	LoginErrorSelector   string       `mapstructure:"login_error_selector" yaml:"login_error_selector"`
	DialogSelector       string       `mapstructure:"dialog_selector" yaml:"dialog_selector"`
	ConfirmTokens        []string     `mapstructure:"confirm_tokens" yaml:"confirm_tokens"`
	AcceptLexicon        []string     `mapstructure:"accept_lexicon" yaml:"accept_lexicon"`
	FallbackSelectors    []string     `mapstructure:"fallback_selectors" yaml:"fallback_selectors"`
	FailureSelector      string       `mapstructure:"failure_selector" yaml:"failure_selector"`
	SuccessSelector      string       `mapstructure:"success_selector" yaml:"success_selector"`
	ExtraSuccessSelector string       `mapstructure:"extra_success_selector" yaml:"extra_success_selector"`
	ActionTag            string       `mapstructure:"action_tag" yaml:"action_tag"`
	SingleActionLabel    string       `mapstructure:"single_action_label" yaml:"single_action_label"`
	PreflightMarker      string       `mapstructure:"preflight_marker" yaml:"preflight_marker"`
	Pages                []PageConfig `mapstructure:"pages" yaml:"pages"`
}

// BatchConfig holds the per-run choices, usually overridden by CLI flags.
type BatchConfig struct {
	Mode         string   `mapstructure:"mode" yaml:"mode"`
	Catalog      string   `mapstructure:"catalog" yaml:"catalog"`
	Include      []string `mapstructure:"include" yaml:"include"`
	Exclude      []string `mapstructure:"exclude" yaml:"exclude"`
	ReportFormat string   `mapstructure:"report_format" yaml:"report_format"`
	ReportOutput string   `mapstructure:"report_output" yaml:"report_output"`
	InitCatalog  bool     `mapstructure:"init_catalog" yaml:"init_catalog"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// DefaultPages is the update plan every console has been observed to accept.
func DefaultPages() []PageConfig {
	steps := func(section string) []StepConfig {
		return []StepConfig{
			{Label: "更新公共样式", RequiresConfirmation: true},
			{Label: "更新" + section + "全部列表", RequiresConfirmation: true},
			{Label: "更新" + section + "全部详情", RequiresConfirmation: true},
		}
	}
	return []PageConfig{
		{Path: "/frontend/page/aritcle-list", Steps: steps("blog")},
		{Path: "/frontend/page/faq-list", Steps: steps("faq")},
		{Path: "/frontend/page/pressroom-list", Steps: steps("pressroom"), Optional: true},
	}
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
	v.SetDefault("logger.service_name", "consoledeploy")
	v.SetDefault("logger.log_file", "consoledeploy.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.preflight_concurrency", 4)

	// -- Timings --
	v.SetDefault("timings.login_wait", "15s")
	v.SetDefault("timings.site_interval", "20s")
	v.SetDefault("timings.login_retry_count", 3)
	v.SetDefault("timings.deployment_wait", "45s")

	// -- Automation --
	v.SetDefault("automation.resolve_timeout", "10s")
	v.SetDefault("automation.resolve_poll", "500ms")
	v.SetDefault("automation.retry_refresh_wait", "3s")
	v.SetDefault("automation.login_form_settle", "3s")
	v.SetDefault("automation.cookie_clear_wait", "2s")
	v.SetDefault("automation.confirm_attempts", 3)
	v.SetDefault("automation.confirm_backoff", "2s")
	v.SetDefault("automation.after_confirm_wait", "1s")
	v.SetDefault("automation.dialog_settle", "2s")
	v.SetDefault("automation.poll_interval", "1s")
	v.SetDefault("automation.page_settle", "3s")
	v.SetDefault("automation.optional_probe", "5s")
	v.SetDefault("automation.action_gap", "2s")
	v.SetDefault("automation.post_login_settle", "5s")
	v.SetDefault("automation.navigation_jitter_min", "1s")
	v.SetDefault("automation.navigation_jitter_max", "3s")

	// -- Console --
	v.SetDefault("console.username_selector", "input[placeholder='User Name']")
	v.SetDefault("console.password_selector", "input[placeholder='Password']")
	v.SetDefault("console.login_button_xpath", "//button[contains(., 'login')]")
	v.SetDefault("console.login_error_selector", ".el-message--error, .error-message, .alert-danger")
	v.SetDefault("console.dialog_selector", ".el-message-box, .el-dialog, .modal, .dialog, [role='dialog']")
	v.SetDefault("console.confirm_tokens", []string{"确认更新", "确认", "Confirm", "confirm"})
	v.SetDefault("console.accept_lexicon", []string{"sure", "yes", "ok", "confirm", "确认"})
	v.SetDefault("console.fallback_selectors", []string{
		"//button[contains(., 'Sure')]",
		"//button[contains(., 'sure')]",
		"//button[contains(., '确认')]",
		"//button[contains(., 'Yes')]",
		"//button[contains(., 'OK')]",
		"//button[contains(., 'Confirm')]",
		".el-button--primary",
		".btn-primary",
		".confirm-btn",
	})
	v.SetDefault("console.failure_selector", ".blog-login")
	v.SetDefault("console.success_selector", ".el-message--success")
	v.SetDefault("console.extra_success_selector", ".success, .alert-success, .text-success")
	v.SetDefault("console.action_tag", "button")
	v.SetDefault("console.single_action_label", "更新公共样式")
	v.SetDefault("console.preflight_marker", "")
	v.SetDefault("console.pages", DefaultPages())

	// -- Batch --
	v.SetDefault("batch.mode", "single")
	v.SetDefault("batch.report_format", "text")
	v.SetDefault("batch.report_output", "stdout")
	v.SetDefault("batch.init_catalog", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("credentials.username", "CONSOLEDEPLOY_CREDENTIALS_USERNAME")
	v.BindEnv("credentials.password", "CONSOLEDEPLOY_CREDENTIALS_PASSWORD")
	v.BindEnv("database.url", "CONSOLEDEPLOY_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the password if Unmarshal didn't pick it up
	if cfg.CredentialsCfg.Password == "" {
		cfg.CredentialsCfg.Password = os.Getenv("CONSOLEDEPLOY_CREDENTIALS_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are checked by the commands that need them.
func (c *Config) Validate() error {
	if err := c.TimingsCfg.Validate(); err != nil {
		return fmt.Errorf("timings configuration invalid: %w", err)
	}
	if err := c.AutomationCfg.Validate(); err != nil {
		return fmt.Errorf("automation configuration invalid: %w", err)
	}
	if err := c.ConsoleCfg.Validate(); err != nil {
		return fmt.Errorf("console configuration invalid: %w", err)
	}
	switch strings.ToLower(c.BatchCfg.Mode) {
	case "", "single", "single-action", "multi", "multi-page", "multipage":
	default:
		return fmt.Errorf("batch.mode must be one of single, multi-page; got %q", c.BatchCfg.Mode)
	}
	switch strings.ToLower(c.BatchCfg.ReportFormat) {
	case "", "text", "json", "junit":
	default:
		return fmt.Errorf("batch.report_format must be one of text, json, junit; got %q", c.BatchCfg.ReportFormat)
	}
	if len(c.BatchCfg.Include) > 0 && len(c.BatchCfg.Exclude) > 0 {
		return fmt.Errorf("batch.include and batch.exclude cannot both be set")
	}
	if c.NetworkCfg.PreflightConcurrency <= 0 {
		return fmt.Errorf("network.preflight_concurrency must be a positive integer")
	}
	return nil
}

// Validate checks the TimingsConfig settings.
func (t *TimingsConfig) Validate() error {
	if t.LoginRetryCount <= 0 {
		return fmt.Errorf("login_retry_count must be a positive integer")
	}
	if t.DeploymentWait <= 0 {
		return fmt.Errorf("deployment_wait must be a positive duration")
	}
	if t.LoginWait < 0 || t.SiteInterval < 0 {
		return fmt.Errorf("login_wait and site_interval cannot be negative")
	}
	return nil
}

// Validate checks the AutomationConfig settings.
func (a *AutomationConfig) Validate() error {
	if a.ConfirmAttempts <= 0 {
		return fmt.Errorf("confirm_attempts must be a positive integer")
	}
	if a.ResolvePoll <= 0 || a.PollInterval <= 0 {
		return fmt.Errorf("resolve_poll and poll_interval must be positive durations")
	}
	if a.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve_timeout must be a positive duration")
	}
	if a.NavigationJitterMin < 0 || a.NavigationJitterMax < a.NavigationJitterMin {
		return fmt.Errorf("navigation_jitter_min must be non-negative and not exceed navigation_jitter_max")
	}
	return nil
}

// Validate checks the ConsoleConfig settings.
func (c *ConsoleConfig) Validate() error {
	if c.UsernameSelector == "" || c.PasswordSelector == "" {
		return fmt.Errorf("username_selector and password_selector are required")
	}
	if c.SuccessSelector == "" || c.FailureSelector == "" {
		return fmt.Errorf("success_selector and failure_selector are required")
	}
	if len(c.AcceptLexicon) == 0 {
		return fmt.Errorf("accept_lexicon cannot be empty")
	}
	for i, p := range c.Pages {
		if !strings.HasPrefix(p.Path, "/") {
			return fmt.Errorf("pages[%d].path must start with '/', got %q", i, p.Path)
		}
		if len(p.Steps) == 0 {
			return fmt.Errorf("pages[%d] (%s) has no steps", i, p.Path)
		}
		for j, s := range p.Steps {
			if strings.TrimSpace(s.Label) == "" {
				return fmt.Errorf("pages[%d].steps[%d] has an empty label", i, j)
			}
		}
	}
	return nil
}

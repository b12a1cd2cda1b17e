// Package config provides centralized configuration for the flowcheck verifier.
// It loads configuration from CLI flags and environment variables, validates
// the result, and provides defaults matching the sign-in smoke flow.
//
// Environment variables provide the target application, credentials, and
// service secrets. CLI flags override them for one-off runs.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/flowcheck/internal/urlutil"
)

const (
	defaultBaseURL         = "http://localhost:3000"
	defaultDashboardPath   = "/dashboard"
	defaultSignInPattern   = "**/auth/signin**"
	defaultDashPattern     = "**/dashboard"
	defaultEmail           = "testuser@example.com"
	defaultPassword        = "password123"
	defaultEmailSelector   = "input[type='email']"
	defaultPassSelector    = "input[type='password']"
	defaultSubmitSelector  = "button[type='submit']"
	defaultLoadingMarker   = "Loading..."
	defaultWelcomeMarker   = "Welcome back"
	defaultScreenshotDir   = "verification"
	defaultRegion          = "auto"
	defaultResendFromEmail = "flowcheck@notifications.local"
)

// Supported browser engines.
var supportedBrowsers = []string{"chromium", "firefox", "webkit"}

// Selectors locates the sign-in form controls.
type Selectors struct {
	Email    string
	Password string
	Submit   string
}

// Config holds all verifier configuration.
type Config struct {
	// Target application
	BaseURL          string
	DashboardPath    string
	SignInPattern    string
	DashboardPattern string

	// Credentials
	Email    string
	Password string

	Selectors     Selectors
	LoadingMarker string
	WelcomeMarker string

	// Wait bounds
	RedirectTimeout time.Duration
	LoginTimeout    time.Duration
	MarkerTimeout   time.Duration
	ActionTimeout   time.Duration // default for navigation, fill, click, screenshot

	// Browser
	Browser         string
	Headless        bool
	InstallBrowsers bool

	// Outcome policy
	StrictRedirect bool

	// Artifacts
	ScreenshotDir string
	ReportDir     string

	// Repeat mode
	Repeat   int
	Interval time.Duration

	// Seed endpoint called before the flow (e.g. http://localhost:3000/api/seed-demo)
	SeedURL string

	LogLevel string

	// Mock service flags (controlled by CLI flags, not env vars)
	NoS3    bool // If true, screenshots stay local (--no-s3)
	NoEmail bool // If true, alerts go to the mock outbox (--no-email)

	// S3 artifact mirror (standard AWS_ env vars)
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL

	// Failure alerts
	AlertEmail      string
	ResendAPIKey    string
	ResendFromEmail string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Flags holds CLI flag values. Empty or zero values leave env/defaults in place.
type Flags struct {
	BaseURL        string
	Email          string
	Password       string
	OutDir         string
	Browser        string
	SeedURL        string
	LogLevel       string
	Headed         bool
	Install        bool
	StrictRedirect bool
	NoS3           bool
	NoEmail        bool
	Test           bool
	Repeat         int
	Interval       time.Duration
}

// ParseFlags parses CLI flags from args. Call before LoadConfig.
func ParseFlags(name string, args []string, output io.Writer) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.BaseURL, "base-url", "", "Application origin (overrides FLOWCHECK_BASE_URL)")
	fs.StringVar(&f.Email, "email", "", "Sign-in email (overrides FLOWCHECK_EMAIL)")
	fs.StringVar(&f.Password, "password", "", "Sign-in password (overrides FLOWCHECK_PASSWORD)")
	fs.StringVar(&f.OutDir, "out", "", "Directory for screenshots and reports (overrides FLOWCHECK_SCREENSHOT_DIR)")
	fs.StringVar(&f.Browser, "browser", "", "Browser engine: chromium, firefox, or webkit")
	fs.StringVar(&f.SeedURL, "seed", "", "URL to GET before the flow to seed the test user")
	fs.StringVar(&f.LogLevel, "log-level", "", "Structured log level: debug, info, warn, error")
	fs.BoolVar(&f.Headed, "headed", false, "Show the browser window")
	fs.BoolVar(&f.Install, "install", false, "Install the Playwright driver and browser before running")
	fs.BoolVar(&f.StrictRedirect, "strict-redirect", false, "Fail when the unauthenticated redirect is not observed")
	fs.BoolVar(&f.NoS3, "no-s3", false, "Keep screenshots local even when S3 is configured")
	fs.BoolVar(&f.NoEmail, "no-email", false, "Send failure alerts to the mock outbox")
	fs.BoolVar(&f.Test, "test", false, "Shorthand for --no-s3 --no-email")
	fs.IntVar(&f.Repeat, "repeat", 0, "Run the flow this many times")
	fs.DurationVar(&f.Interval, "interval", 0, "Minimum spacing between repeated runs")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if fs.NArg() > 0 {
		return Flags{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if f.Test {
		f.NoS3 = true
		f.NoEmail = true
	}
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{}

	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("FLOWCHECK_BASE_URL", defaultBaseURL), "/")
	cfg.DashboardPath = getEnvOrDefault("FLOWCHECK_DASHBOARD_PATH", defaultDashboardPath)
	cfg.SignInPattern = getEnvOrDefault("FLOWCHECK_SIGNIN_PATTERN", defaultSignInPattern)
	cfg.DashboardPattern = getEnvOrDefault("FLOWCHECK_DASHBOARD_PATTERN", defaultDashPattern)

	cfg.Email = getEnvOrDefault("FLOWCHECK_EMAIL", defaultEmail)
	cfg.Password = getEnvOrDefault("FLOWCHECK_PASSWORD", defaultPassword)

	cfg.Selectors = Selectors{
		Email:    getEnvOrDefault("FLOWCHECK_EMAIL_SELECTOR", defaultEmailSelector),
		Password: getEnvOrDefault("FLOWCHECK_PASSWORD_SELECTOR", defaultPassSelector),
		Submit:   getEnvOrDefault("FLOWCHECK_SUBMIT_SELECTOR", defaultSubmitSelector),
	}
	cfg.LoadingMarker = getEnvOrDefault("FLOWCHECK_LOADING_MARKER", defaultLoadingMarker)
	cfg.WelcomeMarker = getEnvOrDefault("FLOWCHECK_WELCOME_MARKER", defaultWelcomeMarker)

	cfg.RedirectTimeout = parseDurationOrDefault("FLOWCHECK_REDIRECT_TIMEOUT", 5*time.Second)
	cfg.LoginTimeout = parseDurationOrDefault("FLOWCHECK_LOGIN_TIMEOUT", 10*time.Second)
	cfg.MarkerTimeout = parseDurationOrDefault("FLOWCHECK_MARKER_TIMEOUT", 10*time.Second)
	cfg.ActionTimeout = parseDurationOrDefault("FLOWCHECK_ACTION_TIMEOUT", 30*time.Second)

	cfg.Browser = strings.ToLower(getEnvOrDefault("FLOWCHECK_BROWSER", "chromium"))
	cfg.Headless = parseBoolOrDefault("FLOWCHECK_HEADLESS", true)
	cfg.InstallBrowsers = parseBoolOrDefault("FLOWCHECK_INSTALL_BROWSERS", false)
	cfg.StrictRedirect = parseBoolOrDefault("FLOWCHECK_STRICT_REDIRECT", false)

	cfg.ScreenshotDir = getEnvOrDefault("FLOWCHECK_SCREENSHOT_DIR", defaultScreenshotDir)
	cfg.ReportDir = strings.TrimSpace(os.Getenv("FLOWCHECK_REPORT_DIR"))

	cfg.Repeat = parseIntOrDefault("FLOWCHECK_REPEAT", 1)
	cfg.Interval = parseDurationOrDefault("FLOWCHECK_INTERVAL", 30*time.Second)
	cfg.SeedURL = strings.TrimSpace(os.Getenv("FLOWCHECK_SEED_URL"))
	cfg.LogLevel = getEnvOrDefault("FLOWCHECK_LOG_LEVEL", "info")

	// S3 mirror (AWS_ env vars)
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))
	cfg.AWSPublicURL = strings.TrimSpace(os.Getenv("S3_PUBLIC_URL"))
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}

	// Alerts
	cfg.AlertEmail = strings.TrimSpace(os.Getenv("FLOWCHECK_ALERT_EMAIL"))
	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.ResendFromEmail = getEnvOrDefault("RESEND_FROM_EMAIL", defaultResendFromEmail)

	applyFlags(cfg, f)

	if cfg.ReportDir == "" {
		cfg.ReportDir = cfg.ScreenshotDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFlags(cfg *Config, f Flags) {
	if f.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(f.BaseURL, "/")
	}
	if f.Email != "" {
		cfg.Email = f.Email
	}
	if f.Password != "" {
		cfg.Password = f.Password
	}
	if f.OutDir != "" {
		cfg.ScreenshotDir = f.OutDir
		cfg.ReportDir = f.OutDir
	}
	if f.Browser != "" {
		cfg.Browser = strings.ToLower(f.Browser)
	}
	if f.SeedURL != "" {
		cfg.SeedURL = f.SeedURL
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Headed {
		cfg.Headless = false
	}
	if f.Install {
		cfg.InstallBrowsers = true
	}
	if f.StrictRedirect {
		cfg.StrictRedirect = true
	}
	if f.Repeat > 0 {
		cfg.Repeat = f.Repeat
	}
	if f.Interval > 0 {
		cfg.Interval = f.Interval
	}
	cfg.NoS3 = f.NoS3
	cfg.NoEmail = f.NoEmail
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "FLOWCHECK_BASE_URL must be an absolute http(s) URL")
	}
	if !strings.HasPrefix(c.DashboardPath, "/") {
		errs = append(errs, "FLOWCHECK_DASHBOARD_PATH must start with /")
	}
	if strings.TrimSpace(c.SignInPattern) == "" {
		errs = append(errs, "FLOWCHECK_SIGNIN_PATTERN is required")
	}
	if strings.TrimSpace(c.DashboardPattern) == "" {
		errs = append(errs, "FLOWCHECK_DASHBOARD_PATTERN is required")
	}

	if c.Email == "" {
		errs = append(errs, "FLOWCHECK_EMAIL is required")
	}
	if c.Password == "" {
		errs = append(errs, "FLOWCHECK_PASSWORD is required")
	}
	if c.Selectors.Email == "" || c.Selectors.Password == "" || c.Selectors.Submit == "" {
		errs = append(errs, "sign-in selectors must not be empty")
	}
	if c.WelcomeMarker == "" {
		errs = append(errs, "FLOWCHECK_WELCOME_MARKER is required")
	}

	for name, d := range map[string]time.Duration{
		"FLOWCHECK_REDIRECT_TIMEOUT": c.RedirectTimeout,
		"FLOWCHECK_LOGIN_TIMEOUT":    c.LoginTimeout,
		"FLOWCHECK_MARKER_TIMEOUT":   c.MarkerTimeout,
		"FLOWCHECK_ACTION_TIMEOUT":   c.ActionTimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	if !isSupportedBrowser(c.Browser) {
		errs = append(errs, fmt.Sprintf("FLOWCHECK_BROWSER must be one of %s", strings.Join(supportedBrowsers, ", ")))
	}
	if c.ScreenshotDir == "" {
		errs = append(errs, "FLOWCHECK_SCREENSHOT_DIR is required")
	}
	if c.Repeat < 1 {
		errs = append(errs, "repeat count must be at least 1")
	}
	if c.Repeat > 1 && c.Interval <= 0 {
		errs = append(errs, "interval must be positive when repeating")
	}
	if c.SeedURL != "" {
		if u, err := url.Parse(c.SeedURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "seed URL must be absolute")
		}
	}

	// S3: a bucket turns the mirror on; the rest is then required
	if c.S3Enabled() {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required when BUCKET_NAME is set (or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when BUCKET_NAME is set (or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when BUCKET_NAME is set (or use --no-s3)")
		}
	}

	if c.AlertEmail != "" && !c.NoEmail && c.ResendAPIKey == "" {
		errs = append(errs, "RESEND_API_KEY is required when FLOWCHECK_ALERT_EMAIL is set (or use --no-email)")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// S3Enabled reports whether screenshots are mirrored to object storage.
func (c *Config) S3Enabled() bool {
	return !c.NoS3 && c.AWSBucketName != ""
}

// AlertsEnabled reports whether failure alerts are sent.
func (c *Config) AlertsEnabled() bool {
	return c.AlertEmail != ""
}

// DashboardURL returns the absolute URL the flow starts from.
func (c *Config) DashboardURL() string {
	return urlutil.BuildAbsolute(c.BaseURL, c.DashboardPath)
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "flowcheck starting...")
	fmt.Fprintf(w, "  Target:  %s\n", c.DashboardURL())
	fmt.Fprintf(w, "  User:    %s\n", c.Email)

	mode := "headless"
	if !c.Headless {
		mode = "headed"
	}
	fmt.Fprintf(w, "  Browser: %s (%s)\n", c.Browser, mode)
	fmt.Fprintf(w, "  Output:  %s\n", c.ScreenshotDir)

	if c.S3Enabled() {
		fmt.Fprintf(w, "  Mirror:  s3://%s (%s)\n", c.AWSBucketName, c.AWSEndpointS3)
	} else {
		fmt.Fprintln(w, "  Mirror:  none")
	}

	switch {
	case !c.AlertsEnabled():
		fmt.Fprintln(w, "  Alerts:  off")
	case c.NoEmail:
		fmt.Fprintf(w, "  Alerts:  Mock (--no-email) to %s\n", c.AlertEmail)
	default:
		fmt.Fprintf(w, "  Alerts:  Resend to %s\n", c.AlertEmail)
	}
	if c.Repeat > 1 {
		fmt.Fprintf(w, "  Repeat:  %d every %s\n", c.Repeat, c.Interval)
	}
	fmt.Fprintln(w, "")
}

func isSupportedBrowser(name string) bool {
	for _, b := range supportedBrowsers {
		if b == name {
			return true
		}
	}
	return false
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// IsValidationError reports whether err is a configuration validation failure.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

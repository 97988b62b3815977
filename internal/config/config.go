// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"regexp"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the root configuration for hudbridge. Values are populated by
// viper from the config file, environment variables and defaults.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	HUD    HUDConfig    `mapstructure:"hud" yaml:"hud"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	State  StateConfig  `mapstructure:"state" yaml:"state"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// HUDConfig controls the behaviour of the HUD bridge itself.
type HUDConfig struct {
	// BaseDirectory is the root of the on-disk HUD asset tree. The live
	// script store is consulted first; this directory is the fallback.
	BaseDirectory string `mapstructure:"base_directory" yaml:"base_directory"`

	// DevelopmentMode is substituted into the utilities asset so
	// browser-side code can adjust its own behaviour.
	DevelopmentMode bool `mapstructure:"development_mode" yaml:"development_mode"`

	// AllowUnsafeEval selects the CSP variant that permits 'unsafe-eval'
	// in script sources. Never toggled by request input.
	AllowUnsafeEval bool `mapstructure:"allow_unsafe_eval" yaml:"allow_unsafe_eval"`

	// TutorialTestMode swaps the random shared secret for the well known
	// test value. This deliberately weakens the trust handshake and must
	// only ever be enabled against tutorial targets.
	TutorialTestMode bool `mapstructure:"tutorial_test_mode" yaml:"tutorial_test_mode"`

	// EnableOnDomainMessages controls whether the management UI receives
	// the shared secret; when false the secret marker renders empty,
	// which turns the feature off in the browser.
	EnableOnDomainMessages bool `mapstructure:"enable_on_domain_messages" yaml:"enable_on_domain_messages"`

	ShowWelcomeScreen bool   `mapstructure:"show_welcome_screen" yaml:"show_welcome_screen"`
	TutorialHost      string `mapstructure:"tutorial_host" yaml:"tutorial_host"`
	TutorialPort      int    `mapstructure:"tutorial_port" yaml:"tutorial_port"`
	Locale            string `mapstructure:"locale" yaml:"locale"`
}

// ServerConfig describes the listeners the bridge runs on.
type ServerConfig struct {
	// TrustedOrigin is the virtual origin the HUD's own control plane is
	// served from, e.g. "https://hud". Target pages are never served
	// from this origin.
	TrustedOrigin string `mapstructure:"trusted_origin" yaml:"trusted_origin"`

	// CallbackPath is the URL prefix marking control-plane requests.
	CallbackPath string `mapstructure:"callback_path" yaml:"callback_path"`

	ProxyAddr string `mapstructure:"proxy_addr" yaml:"proxy_addr"`
	APIAddr   string `mapstructure:"api_addr" yaml:"api_addr"`

	// CACertFile and CAKeyFile locate the PEM material the gateway
	// re-signs intercepted TLS traffic with. Both empty disables MITM
	// and leaves CONNECT tunnels opaque.
	CACertFile string `mapstructure:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `mapstructure:"ca_key_file" yaml:"ca_key_file"`
}

// StateConfig locates the persistent UI option / tutorial state database.
type StateConfig struct {
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
}

// NewDefaultConfig returns a Config populated with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "hudbridge",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      14,
		},
		HUD: HUDConfig{
			BaseDirectory:     "hud",
			ShowWelcomeScreen: true,
			TutorialHost:      "127.0.0.1",
			TutorialPort:      9998,
			Locale:            "en_GB",
		},
		Server: ServerConfig{
			TrustedOrigin: "https://hud",
			CallbackPath:  "/hudCallback",
			ProxyAddr:     "127.0.0.1:8080",
			APIAddr:       "127.0.0.1:8081",
		},
		State: StateConfig{
			DatabasePath: "hudbridge.db",
		},
	}
}

var originPattern = regexp.MustCompile(`^https://[a-zA-Z0-9.-]+(:\d+)?$`)

// Validate checks the configuration for values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.HUD.BaseDirectory == "" {
		return fmt.Errorf("hud.base_directory is required")
	}
	if !originPattern.MatchString(c.Server.TrustedOrigin) {
		return fmt.Errorf("server.trusted_origin must be an https origin, got %q", c.Server.TrustedOrigin)
	}
	if c.Server.CallbackPath == "" || c.Server.CallbackPath[0] != '/' {
		return fmt.Errorf("server.callback_path must start with '/'")
	}
	if (c.Server.CACertFile == "") != (c.Server.CAKeyFile == "") {
		return fmt.Errorf("server.ca_cert_file and server.ca_key_file must be set together")
	}
	if c.State.DatabasePath == "" {
		return fmt.Errorf("state.database_path is required")
	}
	return nil
}

// ExpandPaths resolves "~" in the configured filesystem paths. Called once
// after unmarshalling, before anything opens the paths.
func (c *Config) ExpandPaths() error {
	base, err := homedir.Expand(c.HUD.BaseDirectory)
	if err != nil {
		return fmt.Errorf("expanding hud.base_directory: %w", err)
	}
	c.HUD.BaseDirectory = filepath.Clean(base)

	db, err := homedir.Expand(c.State.DatabasePath)
	if err != nil {
		return fmt.Errorf("expanding state.database_path: %w", err)
	}
	c.State.DatabasePath = filepath.Clean(db)

	for name, p := range map[string]*string{
		"server.ca_cert_file": &c.Server.CACertFile,
		"server.ca_key_file":  &c.Server.CAKeyFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %s: %w", name, err)
		}
		*p = filepath.Clean(expanded)
	}
	return nil
}

// Load unmarshals the current viper state into a Config, applying defaults
// for anything the file and environment leave unset.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Package config loads smoke test settings from an optional YAML file,
// SMOKE_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/triflow-ai/smoke/pkg/engine"
)

// EnvPrefix prefixes every environment override, e.g. SMOKE_BROWSER_DRIVER.
const EnvPrefix = "SMOKE"

// Browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
)

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// Config is the full smoke test configuration.
type Config struct {
	BaseURL   string          `mapstructure:"base_url"`
	LogLevel  string          `mapstructure:"log_level"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Server    ServerConfig    `mapstructure:"server"`
}

type BrowserConfig struct {
	Driver string `mapstructure:"driver"`
	// Endpoint is a remote playwright server (ws://) or, for chromedp, a
	// DevTools websocket URL.
	Endpoint    string `mapstructure:"endpoint"`
	CDPEndpoint string `mapstructure:"cdp_endpoint"`
	Headless    bool   `mapstructure:"headless"`
	Install     bool   `mapstructure:"install"`
}

type TimeoutsConfig struct {
	Element    time.Duration `mapstructure:"element"`
	Login      time.Duration `mapstructure:"login"`
	Analysis   time.Duration `mapstructure:"analysis"`
	Response   time.Duration `mapstructure:"response"`
	Reload     time.Duration `mapstructure:"reload"`
	Navigation time.Duration `mapstructure:"navigation"`
	Action     time.Duration `mapstructure:"action"`
}

type VerifyConfig struct {
	Predicate string `mapstructure:"predicate"`
}

type ArtifactsConfig struct {
	// Dir is the artifact root; empty disables persistence.
	Dir                     string `mapstructure:"dir"`
	AttachSuccessScreenshot bool   `mapstructure:"attach_success_screenshot"`
}

type TraceConfig struct {
	SigningKey   string `mapstructure:"signing_key"`
	SigningKeyID string `mapstructure:"signing_key_id"`
}

type ServerConfig struct {
	Transport       string        `mapstructure:"transport"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	t := engine.DefaultTimeouts()
	v.SetDefault("base_url", engine.DefaultBaseURL)
	v.SetDefault("log_level", "info")

	v.SetDefault("browser.driver", DriverPlaywright)
	v.SetDefault("browser.endpoint", "")
	v.SetDefault("browser.cdp_endpoint", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.install", false)

	v.SetDefault("timeouts.element", t.Element)
	v.SetDefault("timeouts.login", t.Login)
	v.SetDefault("timeouts.analysis", t.Analysis)
	v.SetDefault("timeouts.response", t.Response)
	v.SetDefault("timeouts.reload", t.Reload)
	v.SetDefault("timeouts.navigation", t.Navigation)
	v.SetDefault("timeouts.action", t.Action)

	v.SetDefault("verify.predicate", engine.DefaultPredicate)

	v.SetDefault("artifacts.dir", "")
	v.SetDefault("artifacts.attach_success_screenshot", false)

	v.SetDefault("trace.signing_key", "")
	v.SetDefault("trace.signing_key_id", "")

	v.SetDefault("server.transport", TransportStdio)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// Load reads configuration. An empty path uses defaults and the environment
// only; a non-empty path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Browser.Driver {
	case DriverPlaywright, DriverChromedp:
	default:
		errs = append(errs, fmt.Errorf("browser.driver: unknown driver %q (want %s or %s)",
			c.Browser.Driver, DriverPlaywright, DriverChromedp))
	}
	if c.Browser.Endpoint != "" && c.Browser.CDPEndpoint != "" {
		errs = append(errs, errors.New("browser: endpoint and cdp_endpoint are mutually exclusive"))
	}

	switch c.Server.Transport {
	case TransportStdio, TransportSSE, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("server.transport: unknown transport %q", c.Server.Transport))
	}

	for name, d := range map[string]time.Duration{
		"element":    c.Timeouts.Element,
		"login":      c.Timeouts.Login,
		"analysis":   c.Timeouts.Analysis,
		"response":   c.Timeouts.Response,
		"reload":     c.Timeouts.Reload,
		"navigation": c.Timeouts.Navigation,
		"action":     c.Timeouts.Action,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s: must be positive, got %s", name, d))
		}
	}

	if _, err := engine.CompilePredicate(c.Verify.Predicate); err != nil {
		errs = append(errs, fmt.Errorf("verify.predicate: %w", err))
	}
	if c.Trace.SigningKeyID != "" && c.Trace.SigningKey == "" {
		errs = append(errs, errors.New("trace.signing_key_id set without trace.signing_key"))
	}

	return errors.Join(errs...)
}

// EngineTimeouts converts the timeouts section for engine.Config.
func (c *Config) EngineTimeouts() engine.Timeouts {
	return engine.Timeouts{
		Element:    c.Timeouts.Element,
		Login:      c.Timeouts.Login,
		Analysis:   c.Timeouts.Analysis,
		Response:   c.Timeouts.Response,
		Reload:     c.Timeouts.Reload,
		Navigation: c.Timeouts.Navigation,
		Action:     c.Timeouts.Action,
	}
}

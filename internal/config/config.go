// Package config loads csegrab settings from flags, environment and an
// optional .csegrab.yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/csegrab/pkg/acquire"
	"github.com/jmylchreest/csegrab/pkg/browser"
	"github.com/jmylchreest/csegrab/pkg/naming"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CSEGRAB"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Timeouts bounds each blocking step.
type Timeouts struct {
	PageLoad     time.Duration `mapstructure:"page_load" validate:"gt=0"`
	Candidate    time.Duration `mapstructure:"candidate" validate:"gt=0"`
	Settle       time.Duration `mapstructure:"settle" validate:"gt=0"`
	SettlePoll   time.Duration `mapstructure:"settle_poll" validate:"gt=0,ltefield=Settle"`
	Menu         time.Duration `mapstructure:"menu" validate:"gt=0"`
	Download     time.Duration `mapstructure:"download" validate:"gt=0"`
	DownloadPoll time.Duration `mapstructure:"download_poll" validate:"gt=0,ltefield=Download"`
	Preflight    time.Duration `mapstructure:"preflight" validate:"gt=0"`
}

// Config is the fully resolved configuration of one run.
type Config struct {
	URL             string   `mapstructure:"url" validate:"required,url"`
	OutputDir       string   `mapstructure:"output_dir" validate:"required"`
	Prefix          string   `mapstructure:"prefix" validate:"required,excludesall=/\\"`
	Unattended      bool     `mapstructure:"unattended"`
	Headless        bool     `mapstructure:"headless"`
	BrowserPath     string   `mapstructure:"browser_path"`
	RemoteURL       string   `mapstructure:"remote_url" validate:"omitempty,url"`
	UserAgent       string   `mapstructure:"user_agent"`
	Stealth         bool     `mapstructure:"stealth"`
	Preflight       bool     `mapstructure:"preflight"`
	DebugScreenshot bool     `mapstructure:"debug_screenshot"`
	SettleQuiet     int      `mapstructure:"settle_quiet" validate:"gte=1,lte=100"`
	Timeouts        Timeouts `mapstructure:"timeouts"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	t := acquire.DefaultTimeouts()
	b := browser.DefaultConfig()

	v.SetDefault("url", acquire.DefaultURL)
	v.SetDefault("output_dir", b.DownloadDir)
	v.SetDefault("prefix", naming.DefaultPrefix)
	v.SetDefault("unattended", browser.DetectEnvironment() == browser.Unattended)
	v.SetDefault("headless", false)
	v.SetDefault("browser_path", "")
	v.SetDefault("remote_url", "")
	v.SetDefault("user_agent", b.UserAgent)
	v.SetDefault("stealth", b.Stealth)
	v.SetDefault("preflight", false)
	v.SetDefault("debug_screenshot", false)
	v.SetDefault("settle_quiet", acquire.DefaultSettleQuiet)
	v.SetDefault("timeouts.page_load", t.PageLoad)
	v.SetDefault("timeouts.candidate", t.Candidate)
	v.SetDefault("timeouts.settle", t.Settle)
	v.SetDefault("timeouts.settle_poll", t.SettlePoll)
	v.SetDefault("timeouts.menu", t.Menu)
	v.SetDefault("timeouts.download", t.Download)
	v.SetDefault("timeouts.download_poll", t.DownloadPoll)
	v.SetDefault("timeouts.preflight", 15*time.Second)
}

// Setup prepares v: defaults, environment binding and the config file
// search path. file overrides the search when non-empty.
func Setup(v *viper.Viper, file string) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".csegrab")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ReadFile reads the config file if one exists. A missing file in the
// search path is not an error; a missing explicit file is.
func ReadFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", field, fe.Value())
	case "excludesall":
		return fmt.Sprintf("%s must not contain any of %q", field, fe.Param())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed %s", field, fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s (value %v)", field, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Sprintf("%s failed %s (value %v)", field, fe.Tag(), fe.Value())
	}
}

// Environment returns the provisioning environment.
func (c Config) Environment() browser.EnvironmentKind {
	if c.Unattended {
		return browser.Unattended
	}
	return browser.Interactive
}

// Browser maps the configuration onto browser launch settings.
func (c Config) Browser() browser.Config {
	b := browser.DefaultConfig()
	b.DownloadDir = c.OutputDir
	b.Headless = c.Headless
	b.BrowserPath = c.BrowserPath
	b.RemoteURL = c.RemoteURL
	if c.UserAgent != "" {
		b.UserAgent = c.UserAgent
	}
	b.Stealth = c.Stealth
	return b
}

// Sequencer builds the page sequencer for this configuration.
func (c Config) Sequencer() *acquire.Sequencer {
	q := acquire.NewSequencer()
	q.URL = c.URL
	q.SettleQuiet = c.SettleQuiet
	q.DebugScreenshot = c.DebugScreenshot
	q.Namer = naming.Namer{Prefix: c.Prefix}
	q.Timeouts = acquire.Timeouts{
		PageLoad:     c.Timeouts.PageLoad,
		Candidate:    c.Timeouts.Candidate,
		Settle:       c.Timeouts.Settle,
		SettlePoll:   c.Timeouts.SettlePoll,
		Menu:         c.Timeouts.Menu,
		Download:     c.Timeouts.Download,
		DownloadPoll: c.Timeouts.DownloadPoll,
	}
	return q
}

package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" usage:"Minimum log level (debug, info, warn, error)"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Cache struct {
		Root string `usage:"Directory holding downloaded packages (defaults to the user cache directory)"`
	}
	Fetch struct {
		BaseURL  string `default:"https://github.com" usage:"Server hosting package tarballs"`
		Timeout  string `default:"5m" usage:"Upper bound for a single package download"`
		Progress bool   `default:"true" usage:"Show a progress bar while downloading"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Files returns the config files that are read (in order) if they exist.
func Files() []string {
	files := []string{filepath.Join(".epine", "config.toml")}

	userDir, err := os.UserConfigDir()
	if err == nil {
		files = append(files, filepath.Join(userDir, "epine", "config.toml"))
	}

	return files
}

// Loader initializes an empty config object and returns a new Loader for this object
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = Files()
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:        true,
		EnvPrefix:        "EPINE",
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	u, err := url.Parse(cfg.Fetch.BaseURL)
	if err != nil {
		return eris.Wrapf(err, `Invalid value for fetch.base_url`)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf(`Invalid value for fetch.base_url: %s (must be an http or https URL)`, cfg.Fetch.BaseURL)
	}

	timeout, err := time.ParseDuration(cfg.Fetch.Timeout)
	if err != nil {
		return eris.Wrapf(err, `Invalid value for fetch.timeout`)
	}
	if timeout <= 0 {
		return eris.Errorf(`Invalid value for fetch.timeout: %s (must be positive)`, cfg.Fetch.Timeout)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// FetchTimeout returns the parsed .Fetch.Timeout. Call Validate first.
func (cfg *Config) FetchTimeout() time.Duration {
	timeout, err := time.ParseDuration(cfg.Fetch.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return timeout
}

// CacheRoot returns the configured cache directory or the per-user default.
func (cfg *Config) CacheRoot() (string, error) {
	if cfg.Cache.Root != "" {
		return filepath.Abs(cfg.Cache.Root)
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		return "", eris.Wrap(err, "Failed to determine the user cache directory")
	}

	return filepath.Join(dir, "epine"), nil
}

// Default returns a validated config with every field at its default value.
func Default() *Config {
	cfg := Config{}
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFiles: true,
		SkipEnv:   true,
		SkipFlags: true,
	})
	if err := loader.Load(); err != nil {
		panic(err)
	}

	return &cfg
}

// Package config loads llpm settings: defaults, then an optional config
// file, then LLPM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/goplus/llpm/internal/env"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. LLPM_JOBS.
	EnvPrefix = "LLPM"
	// FileName is the config file name without extension.
	FileName = "config"

	// GoGit selects the built-in git implementation instead of an executable.
	GoGit = "go-git"
)

type Config struct {
	WorkDir      string `mapstructure:"work_dir"`
	StoreDir     string `mapstructure:"store_dir"`
	StoreBackend string `mapstructure:"store_backend"`

	RecipeDir    string `mapstructure:"recipe_dir"`
	RecipeRemote string `mapstructure:"recipe_remote"`
	RecipeRef    string `mapstructure:"recipe_ref"`

	// Git is GoGit or the path of the git executable.
	Git string `mapstructure:"git"`

	Jobs          int           `mapstructure:"jobs"`
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
	BuildTimeout  time.Duration `mapstructure:"build_timeout"`
	LogLevel      string        `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) error {
	workDir, err := env.WorkDir()
	if err != nil {
		return err
	}
	storeDir, err := env.StoreDir()
	if err != nil {
		return err
	}
	recipeDir, err := env.RecipeDir()
	if err != nil {
		return err
	}
	v.SetDefault("work_dir", workDir)
	v.SetDefault("store_dir", storeDir)
	v.SetDefault("store_backend", "fs")
	v.SetDefault("recipe_dir", recipeDir)
	v.SetDefault("recipe_remote", "")
	v.SetDefault("recipe_ref", "")
	v.SetDefault("git", "git")
	v.SetDefault("jobs", runtime.NumCPU())
	v.SetDefault("source_timeout", 10*time.Minute)
	v.SetDefault("build_timeout", time.Hour)
	v.SetDefault("log_level", "info")
	return nil
}

// Load reads the configuration. An explicit file must exist; otherwise
// config.{yaml,toml,json} is looked up in env.ConfigDir and may be absent.
func Load(file string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		if dir, err := env.ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "fs", "sqlite":
	default:
		return fmt.Errorf("config: store_backend %q: want fs or sqlite", c.StoreBackend)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("config: jobs must be positive, got %d", c.Jobs)
	}
	if c.SourceTimeout < 0 || c.BuildTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.Git == "" {
		return errors.New("config: empty git")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() (log.Level, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}

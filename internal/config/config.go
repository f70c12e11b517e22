package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	WorkMinutes     int    `mapstructure:"work_minutes"`
	BreakMinutes    int    `mapstructure:"break_minutes"`
	PostponeMinutes int    `mapstructure:"postpone_minutes"`
	IdlePollSeconds int    `mapstructure:"idle_poll_seconds"`
	DatabasePath    string `mapstructure:"database_path"`
	Debug           bool   `mapstructure:"debug"`
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/breakd")
		v.AddConfigPath("/etc/breakd/")
	}

	v.SetEnvPrefix("BREAKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("work_minutes", 50)
	v.SetDefault("break_minutes", 5)
	v.SetDefault("postpone_minutes", 5)
	v.SetDefault("idle_poll_seconds", 1)
	v.SetDefault("database_path", "breakd.db")
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IdlePollSeconds < 1 {
		log.Println("Warning: idle_poll_seconds too low, setting to 1")
		cfg.IdlePollSeconds = 1
	}

	// The three intervals are fixed for the lifetime of the process; a
	// changed file only earns a log line telling the user to restart.
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("Config file %s changed (%s); durations apply on next restart", e.Name, e.Op)
		})
		v.WatchConfig()
	}

	log.Printf("Configuration loaded: %+v", cfg)
	return &cfg, nil
}

// Validate enforces the startup invariant: all three intervals strictly
// positive.
func (c *Config) Validate() error {
	if c.WorkMinutes <= 0 {
		return fmt.Errorf("work_minutes must be positive, got %d", c.WorkMinutes)
	}
	if c.BreakMinutes <= 0 {
		return fmt.Errorf("break_minutes must be positive, got %d", c.BreakMinutes)
	}
	if c.PostponeMinutes <= 0 {
		return fmt.Errorf("postpone_minutes must be positive, got %d", c.PostponeMinutes)
	}
	return nil
}

func (c *Config) WorkDuration() time.Duration {
	return time.Duration(c.WorkMinutes) * time.Minute
}
func (c *Config) BreakDuration() time.Duration {
	return time.Duration(c.BreakMinutes) * time.Minute
}
func (c *Config) PostponeDuration() time.Duration {
	return time.Duration(c.PostponeMinutes) * time.Minute
}
func (c *Config) IdlePollInterval() time.Duration {
	return time.Duration(c.IdlePollSeconds) * time.Second
}

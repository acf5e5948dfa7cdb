package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tesseradb/replication/pkg/replication"
	"github.com/tesseradb/replication/pkg/validation"
)

// Config is the daemon's YAML configuration. Duration fields are Go
// duration strings ("5s", "250ms") and are validated at load time.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ServerName is this node's replicator identity in the canonical
	// "host,port,startcode" form. Recovered queues are claimed into it.
	ServerName string `yaml:"server_name"`

	// BasePath roots the replication hierarchy in the coordination store.
	BasePath string `yaml:"base_path"`

	Store struct {
		// Driver selects the coordination store backend: mem or postgres.
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	HTTP struct {
		// Addr serves health and metrics endpoints.
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Bus struct {
		// Enabled turns the peer-change bus on. The notifier publishes
		// this node's peer modifications; the listener subscribes to the
		// addresses of other coordinators.
		Enabled        bool     `yaml:"enabled"`
		PublishAddr    string   `yaml:"publish_addr"`
		SubscribeAddrs []string `yaml:"subscribe_addrs"`
		Buffer         int      `yaml:"buffer"`
	} `yaml:"bus"`

	Survey struct {
		// Enabled turns the liveness survey on. The surveyor binds
		// BindAddr; the respondent dials RespondAddr (usually another
		// coordinator's BindAddr, or our own in a single-node setup).
		Enabled     bool   `yaml:"enabled"`
		BindAddr    string `yaml:"bind_addr"`
		RespondAddr string `yaml:"respond_addr"`
		Interval    string `yaml:"interval"`
		Timeout     string `yaml:"timeout"`
		DeadAfter   string `yaml:"dead_after"`
	} `yaml:"survey"`

	Procedures struct {
		RetryInterval    string `yaml:"retry_interval"`
		RetryMaxInterval string `yaml:"retry_max_interval"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
	} `yaml:"procedures"`

	Health struct {
		// BacklogDegradedAbove marks the node degraded when more than
		// this many peer-modification procedures are unfinished.
		BacklogDegradedAbove int `yaml:"backlog_degraded_above"`
	} `yaml:"health"`
}

// LoadConfig reads, defaults and validates the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.LogLevel = validation.DefaultOr(c.LogLevel, "info")
	c.BasePath = validation.DefaultOr(c.BasePath, replication.DefaultBasePath)
	c.Store.Driver = validation.DefaultOr(c.Store.Driver, "mem")
	c.HTTP.Addr = validation.DefaultOr(c.HTTP.Addr, ":8080")
	c.Bus.Buffer = validation.DefaultOr(c.Bus.Buffer, 256)
	c.Survey.Interval = validation.DefaultOr(c.Survey.Interval, "5s")
	c.Survey.Timeout = validation.DefaultOr(c.Survey.Timeout, "2s")
	c.Survey.DeadAfter = validation.DefaultOr(c.Survey.DeadAfter, "15s")
	c.Procedures.RetryInterval = validation.DefaultOr(c.Procedures.RetryInterval, "100ms")
	c.Procedures.RetryMaxInterval = validation.DefaultOr(c.Procedures.RetryMaxInterval, "5s")
	c.Procedures.RetryMaxAttempts = validation.DefaultOr(c.Procedures.RetryMaxAttempts, 5)
	c.Health.BacklogDegradedAbove = validation.DefaultOr(c.Health.BacklogDegradedAbove, 10)
}

// Validate checks the config. It collects every problem rather than
// stopping at the first one.
func (c *Config) Validate() error {
	v := validation.NewConfigValidator("replication-server").
		OneOf("log_level", c.LogLevel, []string{"debug", "info", "warn", "error"}).
		Required("server_name", c.ServerName).
		Custom("server_name", func() error {
			if c.ServerName == "" {
				return nil // Required already reported it.
			}
			_, err := replication.ParseServerName(c.ServerName)
			return err
		}).
		OneOf("store.driver", c.Store.Driver, []string{"mem", "postgres"}).
		When(c.Store.Driver == "postgres", func(v *validation.ConfigValidator) {
			v.Required("store.dsn", c.Store.DSN)
		}).
		Required("http.addr", c.HTTP.Addr).
		When(c.Bus.Enabled, func(v *validation.ConfigValidator) {
			v.Required("bus.publish_addr", c.Bus.PublishAddr)
			v.Positive("bus.buffer", c.Bus.Buffer)
		}).
		When(c.Survey.Enabled, func(v *validation.ConfigValidator) {
			v.Required("survey.bind_addr", c.Survey.BindAddr)
			v.Custom("survey.interval", durationCheck(c.Survey.Interval))
			v.Custom("survey.timeout", durationCheck(c.Survey.Timeout))
			v.Custom("survey.dead_after", durationCheck(c.Survey.DeadAfter))
			v.Custom("survey.dead_after", func() error {
				interval := duration(c.Survey.Interval)
				deadAfter := duration(c.Survey.DeadAfter)
				if interval > 0 && deadAfter > 0 && deadAfter <= interval {
					return fmt.Errorf("dead_after %v must exceed interval %v", deadAfter, interval)
				}
				return nil
			})
		}).
		Custom("procedures.retry_interval", durationCheck(c.Procedures.RetryInterval)).
		Custom("procedures.retry_max_interval", durationCheck(c.Procedures.RetryMaxInterval)).
		Positive("procedures.retry_max_attempts", c.Procedures.RetryMaxAttempts).
		NonNegative("health.backlog_degraded_above", c.Health.BacklogDegradedAbove)

	return v.Validate()
}

// Self returns the parsed replicator identity. Valid after Validate.
func (c *Config) Self() replication.ServerName {
	self, _ := replication.ParseServerName(c.ServerName)
	return self
}

func durationCheck(s string) func() error {
	return func() error {
		_, err := time.ParseDuration(s)
		return err
	}
}

// duration parses a duration string already vetted by Validate.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// DefaultSearchPaths lists the config file locations tried when
// CARECHORDS_CONF is unset. The first existing file wins.
var DefaultSearchPaths = []string{
	"/etc/carechords.yaml",
	"/usr/local/etc/carechords.yaml",
	"/opt/carechords/carechords.yaml",
}

// Config covers process level configuration. Values come from defaults, an
// optional YAML file, and environment variables, in increasing precedence.
type Config struct {
	Environment string          `yaml:"environment"`
	HTTPBind    string          `yaml:"http_bind"`
	HTTPPort    int             `yaml:"http_port"`
	DBBackend   DatabaseBackend `yaml:"db_backend"`
	DBDSN       string          `yaml:"db_dsn"`
	MediaRoot   string          `yaml:"media_root"`

	// Audio graph
	MonitorSource  string `yaml:"monitor_source"` // ambient feed file, looped; empty disables the ambient branch
	SampleRate     int    `yaml:"sample_rate"`
	BufferMaxBytes int    `yaml:"buffer_max_bytes"`
	NoiseFilter    bool   `yaml:"noise_filter"`
	AudioOutput    bool   `yaml:"audio_output"` // play the mix on the local sound card when available

	// Control
	CommandBuffer    int           `yaml:"command_buffer"`
	FailoverInterval time.Duration `yaml:"failover_interval"`

	// Sleep fade
	SleepFadeSteps        int           `yaml:"sleep_fade_steps"`
	SleepFadeStepInterval time.Duration `yaml:"sleep_fade_step_interval"`
	SleepPauseDelay       time.Duration `yaml:"sleep_pause_delay"`
	SleepRestoreDelay     time.Duration `yaml:"sleep_restore_delay"`

	JWTSigningKey  string `yaml:"jwt_signing_key"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	// Event fan-out
	EventBus      EventBusBackend `yaml:"event_bus"`
	RedisAddr     string          `yaml:"redis_addr"`
	RedisPassword string          `yaml:"redis_password"`
	RedisDB       int             `yaml:"redis_db"`
	NATSURL       string          `yaml:"nats_url"`
	InstanceID    string          `yaml:"instance_id"`

	// File is the config file that was loaded, if any.
	File string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Environment:           "development",
		HTTPBind:              "0.0.0.0",
		HTTPPort:              7755,
		DBBackend:             DatabaseSQLite,
		DBDSN:                 "carechords.db",
		MediaRoot:             "./media",
		SampleRate:            44100,
		BufferMaxBytes:        50000,
		AudioOutput:           true,
		CommandBuffer:         3,
		FailoverInterval:      500 * time.Millisecond,
		SleepFadeSteps:        100,
		SleepFadeStepInterval: 500 * time.Millisecond,
		SleepPauseDelay:       time.Second,
		SleepRestoreDelay:     5 * time.Second,
		MetricsEnabled:        true,
		OTLPEndpoint:          "localhost:4317",
		TracingSampleRate:     1.0,
		EventBus:              EventBusMemory,
		RedisAddr:             "localhost:6379",
		NATSURL:               "nats://localhost:4222",
	}
}

// Load reads the config file and environment variables, applies defaults,
// and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.File = path
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the path named by CARECHORDS_CONF, which must
// exist, or the first existing default location.
func findConfigFile() (string, error) {
	if path := os.Getenv("CARECHORDS_CONF"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	for _, path := range DefaultSearchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with any environment variables that are set. The
// current field values act as defaults.
func applyEnv(cfg *Config) {
	cfg.Environment = getEnvAny([]string{"CARECHORDS_ENV", "CC_ENV"}, cfg.Environment)
	cfg.HTTPBind = getEnvAny([]string{"CARECHORDS_HTTP_BIND", "CC_HTTP_BIND"}, cfg.HTTPBind)
	cfg.HTTPPort = getEnvIntAny([]string{"CARECHORDS_HTTP_PORT", "CC_HTTP_PORT"}, cfg.HTTPPort)
	cfg.DBBackend = DatabaseBackend(getEnvAny([]string{"CARECHORDS_DB_BACKEND", "CC_DB_BACKEND"}, string(cfg.DBBackend)))
	cfg.DBDSN = getEnvAny([]string{"CARECHORDS_DB_DSN", "CC_DB_DSN"}, cfg.DBDSN)
	cfg.MediaRoot = getEnvAny([]string{"CARECHORDS_MEDIA_ROOT", "CC_MEDIA_ROOT"}, cfg.MediaRoot)

	cfg.MonitorSource = getEnvAny([]string{"CARECHORDS_MONITOR_SOURCE", "CARECHORDS_MONITOR_URL"}, cfg.MonitorSource)
	cfg.SampleRate = getEnvIntAny([]string{"CARECHORDS_SAMPLE_RATE"}, cfg.SampleRate)
	cfg.BufferMaxBytes = getEnvIntAny([]string{"CARECHORDS_BUFFER_MAX_BYTES"}, cfg.BufferMaxBytes)
	cfg.NoiseFilter = getEnvBoolAny([]string{"CARECHORDS_NOISE_FILTER"}, cfg.NoiseFilter)
	cfg.AudioOutput = getEnvBoolAny([]string{"CARECHORDS_AUDIO_OUTPUT"}, cfg.AudioOutput)

	cfg.CommandBuffer = getEnvIntAny([]string{"CARECHORDS_COMMAND_BUFFER"}, cfg.CommandBuffer)
	cfg.FailoverInterval = getEnvDurationAny([]string{"CARECHORDS_FAILOVER_INTERVAL"}, cfg.FailoverInterval)

	cfg.SleepFadeSteps = getEnvIntAny([]string{"CARECHORDS_SLEEP_FADE_STEPS"}, cfg.SleepFadeSteps)
	cfg.SleepFadeStepInterval = getEnvDurationAny([]string{"CARECHORDS_SLEEP_FADE_STEP_INTERVAL"}, cfg.SleepFadeStepInterval)
	cfg.SleepPauseDelay = getEnvDurationAny([]string{"CARECHORDS_SLEEP_PAUSE_DELAY"}, cfg.SleepPauseDelay)
	cfg.SleepRestoreDelay = getEnvDurationAny([]string{"CARECHORDS_SLEEP_RESTORE_DELAY"}, cfg.SleepRestoreDelay)

	cfg.JWTSigningKey = getEnvAny([]string{"CARECHORDS_JWT_SIGNING_KEY", "CC_JWT_SIGNING_KEY"}, cfg.JWTSigningKey)
	cfg.MetricsEnabled = getEnvBoolAny([]string{"CARECHORDS_METRICS_ENABLED"}, cfg.MetricsEnabled)

	cfg.TracingEnabled = getEnvBoolAny([]string{"CARECHORDS_TRACING_ENABLED"}, cfg.TracingEnabled)
	cfg.OTLPEndpoint = getEnvAny([]string{"CARECHORDS_OTLP_ENDPOINT"}, cfg.OTLPEndpoint)
	cfg.TracingSampleRate = getEnvFloatAny([]string{"CARECHORDS_TRACING_SAMPLE_RATE"}, cfg.TracingSampleRate)

	cfg.EventBus = EventBusBackend(getEnvAny([]string{"CARECHORDS_EVENT_BUS"}, string(cfg.EventBus)))
	cfg.RedisAddr = getEnvAny([]string{"CARECHORDS_REDIS_ADDR", "REDIS_ADDR"}, cfg.RedisAddr)
	cfg.RedisPassword = getEnvAny([]string{"CARECHORDS_REDIS_PASSWORD", "REDIS_PASSWORD"}, cfg.RedisPassword)
	cfg.RedisDB = getEnvIntAny([]string{"CARECHORDS_REDIS_DB"}, cfg.RedisDB)
	cfg.NATSURL = getEnvAny([]string{"CARECHORDS_NATS_URL", "NATS_URL"}, cfg.NATSURL)
	cfg.InstanceID = getEnvAny([]string{"CARECHORDS_INSTANCE_ID"}, cfg.InstanceID)
}

// Validate checks values that would otherwise fail deep inside the audio graph.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return errors.New("CARECHORDS_DB_DSN must be provided")
	}
	if c.EventBus != EventBusMemory && c.EventBus != EventBusRedis && c.EventBus != EventBusNATS {
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.BufferMaxBytes <= 0 {
		return fmt.Errorf("invalid buffer size %d", c.BufferMaxBytes)
	}
	if c.CommandBuffer <= 0 {
		return fmt.Errorf("invalid command buffer %d", c.CommandBuffer)
	}
	if c.FailoverInterval <= 0 {
		return fmt.Errorf("invalid failover interval %s", c.FailoverInterval)
	}
	if c.SleepFadeSteps <= 0 || c.SleepFadeStepInterval <= 0 {
		return errors.New("sleep fade steps and step interval must be positive")
	}
	if c.SleepPauseDelay < 0 || c.SleepRestoreDelay < 0 {
		return errors.New("sleep pause and restore delays must not be negative")
	}
	if strings.EqualFold(c.Environment, "production") && c.JWTSigningKey == "" {
		return errors.New("CARECHORDS_JWT_SIGNING_KEY must be set in production")
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("500ms") or bare milliseconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
			if ms, err := strconv.Atoi(v); err == nil {
				return time.Duration(ms) * time.Millisecond
			}
		}
	}
	return def
}

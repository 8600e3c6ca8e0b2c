// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every gateway component.
//
// Configuration Philosophy:
// - Hierarchical configuration grouped by component (server, gateway, rate limits, ...)
// - Defaults that run a single instance out of the box (memory store, memory bus)
// - Validation that catches misconfigurations before any listener starts
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Store type constants
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// Bus type constants
const (
	BusTypeMemory = "memory"
	BusTypeRedis  = "redis"
	BusTypeNATS   = "nats"
)

// Queue-full policies for a session's outbound queue.
const (
	QueuePolicyDisconnect = "disconnect"
	QueuePolicyDropOldest = "drop_oldest"
)

// Rate limit bucket names used by the built-in entry points.
const (
	BucketMessageCreate  = "message_create"
	BucketGatewayConnect = "gateway_connect"
	BucketInfo           = "info"
	BucketAttachments    = "attachments"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP listener shared by the REST routes and the gateway endpoint
// - Gateway: heartbeat protocol and per-session queue settings
// - RateLimits: admission control bucket policies
// - Store: shared counter store backend
// - Bus: event bus backend and channel
// - Messages: message producer limits
// - Instance: public instance metadata
// - Logging, Metrics, Observability: ambient operational settings
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Gateway       GatewayConfig       `yaml:"gateway" json:"gateway"`
	RateLimits    RateLimitConfig     `yaml:"rate_limits" json:"rate_limits"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	Bus           BusConfig           `yaml:"bus" json:"bus"`
	Messages      MessagesConfig      `yaml:"messages" json:"messages"`
	Instance      InstanceConfig      `yaml:"instance" json:"instance"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	// TrustProxyHeaders makes X-Real-IP / X-Forwarded-For the client identity.
	// Only enable behind a reverse proxy that overwrites those headers.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
}

// GatewayConfig controls the websocket gateway protocol.
type GatewayConfig struct {
	Path                string        `yaml:"path" json:"path"`
	PublicURL           string        `yaml:"public_url" json:"public_url"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	MissedBeatTolerance float64       `yaml:"missed_beat_tolerance" json:"missed_beat_tolerance"`
	MonitorInterval     time.Duration `yaml:"monitor_interval" json:"monitor_interval"`
	OutboundQueueSize   int           `yaml:"outbound_queue_size" json:"outbound_queue_size"`
	QueueFullPolicy     string        `yaml:"queue_full_policy" json:"queue_full_policy"`
	WriteTimeout        time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxMessageSize      int64         `yaml:"max_message_size" json:"max_message_size"`
	PayloadRateLimit    BucketConfig  `yaml:"payload_rate_limit" json:"payload_rate_limit"`
	// VersionConstraint is a semver constraint checked against the optional
	// ?v= query parameter of the upgrade request. Empty accepts every client.
	VersionConstraint string   `yaml:"version_constraint" json:"version_constraint"`
	AllowedOrigins    []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// BucketConfig is the fixed-window policy of one rate limit bucket.
type BucketConfig struct {
	Limit  int64         `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

type RateLimitConfig struct {
	Enabled   bool                    `yaml:"enabled" json:"enabled"`
	KeyPrefix string                  `yaml:"key_prefix" json:"key_prefix"`
	Buckets   map[string]BucketConfig `yaml:"buckets" json:"buckets"`
}

type StoreConfig struct {
	Type            string        `yaml:"type" json:"type"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type BusConfig struct {
	Type    string      `yaml:"type" json:"type"`
	Channel string      `yaml:"channel" json:"channel"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
	NATSURL string      `yaml:"nats_url" json:"nats_url"`
}

type MessagesConfig struct {
	MessageLimit int `yaml:"message_limit" json:"message_limit"`
}

type InstanceConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	WorkerID    int64  `yaml:"worker_id" json:"worker_id"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that runs a single self-contained instance.
//
// Default Values Rationale:
// - 45s heartbeat with a 1.5x grace factor, checked every second
// - memory store and memory bus: no external services needed for development
// - message_create 10 per 5s per IP, gateway_connect 5 per 10s per IP
// - disconnect slow consumers rather than silently dropping their events
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         7159,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Gateway: GatewayConfig{
			Path:                "/gateway",
			HeartbeatInterval:   45 * time.Second,
			MissedBeatTolerance: 1.5,
			MonitorInterval:     time.Second,
			OutboundQueueSize:   256,
			QueueFullPolicy:     QueuePolicyDisconnect,
			WriteTimeout:        10 * time.Second,
			MaxMessageSize:      4096,
			PayloadRateLimit: BucketConfig{
				Limit:  10,
				Window: 5 * time.Second,
			},
		},
		RateLimits: RateLimitConfig{
			Enabled:   true,
			KeyPrefix: "ratelimit:",
			Buckets: map[string]BucketConfig{
				BucketMessageCreate:  {Limit: 10, Window: 5 * time.Second},
				BucketGatewayConnect: {Limit: 5, Window: 10 * time.Second},
				BucketInfo:           {Limit: 5, Window: 5 * time.Second},
				BucketAttachments:    {Limit: 20_000_000, Window: 10 * time.Minute},
			},
		},
		Store: StoreConfig{
			Type:            StoreTypeMemory,
			CleanupInterval: time.Minute,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 20,
			},
		},
		Bus: BusConfig{
			Type:    BusTypeMemory,
			Channel: "events",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
			NATSURL: "nats://localhost:4222",
		},
		Messages: MessagesConfig{
			MessageLimit: 2048,
		},
		Instance: InstanceConfig{
			Name:        "chatgate",
			Description: "",
			WorkerID:    0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "chatgate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}

	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("invalid bus config: %w", err)
	}

	if c.Messages.MessageLimit <= 0 {
		return errors.New("invalid messages config: message limit must be positive")
	}

	if c.Instance.WorkerID < 0 || c.Instance.WorkerID > 1023 {
		return errors.New("invalid instance config: worker id must be between 0 and 1023")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (gc *GatewayConfig) Validate() error {
	if gc.Path == "" || gc.Path[0] != '/' {
		return errors.New("path must start with /")
	}

	if gc.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	if gc.MissedBeatTolerance < 1.0 {
		return errors.New("missed beat tolerance must be at least 1.0")
	}

	if gc.MonitorInterval <= 0 {
		return errors.New("monitor interval must be positive")
	}

	if gc.OutboundQueueSize <= 0 {
		return errors.New("outbound queue size must be positive")
	}

	if gc.QueueFullPolicy != QueuePolicyDisconnect && gc.QueueFullPolicy != QueuePolicyDropOldest {
		return fmt.Errorf("invalid queue full policy: %s", gc.QueueFullPolicy)
	}

	if gc.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}

	if gc.MaxMessageSize <= 0 {
		return errors.New("max message size must be positive")
	}

	if err := gc.PayloadRateLimit.Validate(); err != nil {
		return fmt.Errorf("payload rate limit: %w", err)
	}

	if gc.VersionConstraint != "" {
		if _, err := semver.NewConstraint(gc.VersionConstraint); err != nil {
			return fmt.Errorf("invalid version constraint %q: %w", gc.VersionConstraint, err)
		}
	}

	return nil
}

func (bc BucketConfig) Validate() error {
	if bc.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if bc.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	for _, name := range []string{BucketMessageCreate, BucketGatewayConnect, BucketInfo} {
		if _, ok := rc.Buckets[name]; !ok {
			return fmt.Errorf("bucket %s must be configured", name)
		}
	}

	for name, bucket := range rc.Buckets {
		if name == "" {
			return errors.New("bucket name cannot be empty")
		}
		if err := bucket.Validate(); err != nil {
			return fmt.Errorf("bucket %s: %w", name, err)
		}
	}

	return nil
}

func (sc *StoreConfig) Validate() error {
	switch sc.Type {
	case StoreTypeMemory:
		if sc.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive for memory store")
		}
	case StoreTypeRedis:
		if sc.Redis.Addr == "" {
			return errors.New("Redis address is required when store type is redis")
		}
	default:
		return fmt.Errorf("invalid store type: %s", sc.Type)
	}
	return nil
}

func (bc *BusConfig) Validate() error {
	if bc.Channel == "" {
		return errors.New("channel cannot be empty")
	}

	switch bc.Type {
	case BusTypeMemory:
	case BusTypeRedis:
		if bc.Redis.Addr == "" {
			return errors.New("Redis address is required when bus type is redis")
		}
	case BusTypeNATS:
		if bc.NATSURL == "" {
			return errors.New("NATS URL is required when bus type is nats")
		}
	default:
		return fmt.Errorf("invalid bus type: %s", bc.Type)
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file", "discard"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

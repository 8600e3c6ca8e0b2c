package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chatgate/internal/models"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "CHATGATE_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// knownSections are the top-level keys understood by models.Config.
var knownSections = map[string]bool{
	"server":        true,
	"gateway":       true,
	"rate_limits":   true,
	"store":         true,
	"bus":           true,
	"messages":      true,
	"instance":      true,
	"logging":       true,
	"metrics":       true,
	"observability": true,
}

// warnUnknownSections logs a warning for each top-level key the decoder will
// ignore. The service still starts; a typo should not take a gateway down.
func warnUnknownSections(data []byte) {
	var sections map[string]interface{}
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return
	}
	for key := range sections {
		if !knownSections[key] {
			slog.Warn("Config section is not recognised and will be ignored", "config_key", key)
		}
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnknownSections(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
// Unparseable values are logged and skipped so the file or default wins.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envBool("TRUST_PROXY_HEADERS", &config.Server.TrustProxyHeaders)

	// Gateway configuration
	envString("GATEWAY_PATH", &config.Gateway.Path)
	envString("GATEWAY_PUBLIC_URL", &config.Gateway.PublicURL)
	envDuration("GATEWAY_HEARTBEAT_INTERVAL", &config.Gateway.HeartbeatInterval)
	envFloat("GATEWAY_MISSED_BEAT_TOLERANCE", &config.Gateway.MissedBeatTolerance)
	envDuration("GATEWAY_MONITOR_INTERVAL", &config.Gateway.MonitorInterval)
	envInt("GATEWAY_QUEUE_SIZE", &config.Gateway.OutboundQueueSize)
	envString("GATEWAY_QUEUE_FULL_POLICY", &config.Gateway.QueueFullPolicy)
	envDuration("GATEWAY_WRITE_TIMEOUT", &config.Gateway.WriteTimeout)
	envInt64("GATEWAY_MAX_MESSAGE_SIZE", &config.Gateway.MaxMessageSize)
	envString("GATEWAY_VERSION_CONSTRAINT", &config.Gateway.VersionConstraint)
	envList("GATEWAY_ALLOWED_ORIGINS", &config.Gateway.AllowedOrigins)
	if raw, ok := lookup("GATEWAY_PAYLOAD_RATE_LIMIT"); ok {
		if bucket, err := parseBucket(raw); err == nil {
			config.Gateway.PayloadRateLimit = bucket
		} else {
			warnInvalid("GATEWAY_PAYLOAD_RATE_LIMIT", err)
		}
	}

	// Rate limit configuration
	envBool("RATE_LIMITS_ENABLED", &config.RateLimits.Enabled)
	envString("RATE_LIMIT_KEY_PREFIX", &config.RateLimits.KeyPrefix)
	loadBucketsFromEnvironment(config)

	// Store configuration
	envString("STORE_TYPE", &config.Store.Type)
	envDuration("STORE_CLEANUP_INTERVAL", &config.Store.CleanupInterval)
	envString("STORE_REDIS_ADDR", &config.Store.Redis.Addr)
	envString("STORE_REDIS_PASSWORD", &config.Store.Redis.Password)
	envInt("STORE_REDIS_DB", &config.Store.Redis.DB)
	envInt("STORE_REDIS_POOL_SIZE", &config.Store.Redis.PoolSize)

	// Bus configuration
	envString("BUS_TYPE", &config.Bus.Type)
	envString("BUS_CHANNEL", &config.Bus.Channel)
	envString("BUS_REDIS_ADDR", &config.Bus.Redis.Addr)
	envString("BUS_REDIS_PASSWORD", &config.Bus.Redis.Password)
	envInt("BUS_REDIS_DB", &config.Bus.Redis.DB)
	envString("BUS_NATS_URL", &config.Bus.NATSURL)

	// Messages and instance
	envInt("MESSAGE_LIMIT", &config.Messages.MessageLimit)
	envString("INSTANCE_NAME", &config.Instance.Name)
	envString("INSTANCE_DESCRIPTION", &config.Instance.Description)
	envInt64("WORKER_ID", &config.Instance.WorkerID)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)
}

// loadBucketsFromEnvironment applies CHATGATE_RATE_LIMIT_<BUCKET>=<limit>/<window>
// for every bucket, configured or not. CHATGATE_RATE_LIMIT_MESSAGE_CREATE=20/10s
// sets the message_create bucket.
func loadBucketsFromEnvironment(config *models.Config) {
	const bucketPrefix = EnvPrefix + "RATE_LIMIT_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, bucketPrefix) || key == EnvPrefix+"RATE_LIMIT_KEY_PREFIX" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, bucketPrefix))
		if name == "" {
			continue
		}
		bucket, err := parseBucket(value)
		if err != nil {
			warnInvalid(strings.TrimPrefix(key, EnvPrefix), err)
			continue
		}
		if config.RateLimits.Buckets == nil {
			config.RateLimits.Buckets = make(map[string]models.BucketConfig)
		}
		config.RateLimits.Buckets[name] = bucket
	}
}

// parseBucket reads "<limit>/<window>", for example "10/5s".
func parseBucket(raw string) (models.BucketConfig, error) {
	limitPart, windowPart, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return models.BucketConfig{}, fmt.Errorf("expected <limit>/<window>, got %q", raw)
	}
	limit, err := strconv.ParseInt(strings.TrimSpace(limitPart), 10, 64)
	if err != nil {
		return models.BucketConfig{}, fmt.Errorf("invalid limit: %w", err)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowPart))
	if err != nil {
		return models.BucketConfig{}, fmt.Errorf("invalid window: %w", err)
	}
	return models.BucketConfig{Limit: limit, Window: window}, nil
}

func lookup(name string) (string, bool) {
	value := os.Getenv(EnvPrefix + name)
	return value, value != ""
}

func warnInvalid(name string, err error) {
	slog.Warn("Ignoring invalid environment variable", "variable", EnvPrefix+name, "error", err)
}

func envString(name string, target *string) {
	if value, ok := lookup(name); ok {
		*target = value
	}
}

func envList(name string, target *[]string) {
	value, ok := lookup(name)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*target = items
}

func envInt(name string, target *int) {
	if value, ok := lookup(name); ok {
		if v, err := strconv.Atoi(value); err == nil {
			*target = v
		} else {
			warnInvalid(name, err)
		}
	}
}

func envInt64(name string, target *int64) {
	if value, ok := lookup(name); ok {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = v
		} else {
			warnInvalid(name, err)
		}
	}
}

func envFloat(name string, target *float64) {
	if value, ok := lookup(name); ok {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			*target = v
		} else {
			warnInvalid(name, err)
		}
	}
}

func envBool(name string, target *bool) {
	if value, ok := lookup(name); ok {
		if v, err := strconv.ParseBool(value); err == nil {
			*target = v
		} else {
			warnInvalid(name, err)
		}
	}
}

func envDuration(name string, target *time.Duration) {
	if value, ok := lookup(name); ok {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		} else {
			warnInvalid(name, err)
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	config.Instance.Name = "chatgate-eu-1"
	config.Instance.Description = "Example chat gateway instance"
	config.Gateway.PublicURL = "wss://chat.example.com/gateway"
	config.Gateway.VersionConstraint = ">= 1.0.0"

	// Shared state for a multi-instance deployment
	config.Store.Type = models.StoreTypeRedis
	config.Bus.Type = models.BusTypeRedis

	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Creditflow CreditflowConfig `yaml:"creditflow"`
	Backend    BackendConfig    `yaml:"backend"`
	Session    SessionConfig    `yaml:"session"`
	Stream     StreamConfig     `yaml:"stream"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type CreditflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type BackendConfig struct {
	BaseURL      string          `yaml:"base_url"`
	WebsocketURL string          `yaml:"websocket_url"`
	Timeout      time.Duration   `yaml:"timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	Username     string          `yaml:"username"`
	Password     string          `yaml:"password"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type SessionConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`
	TokenFile        string        `yaml:"token_file"`
}

type StreamConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

type ChannelsConfig struct {
	EventBuffer   int `yaml:"event_buffer"`
	ArchiveBuffer int `yaml:"archive_buffer"`
}

type DashboardConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Address    string        `yaml:"address"`
	LogHistory int           `yaml:"log_history"`
	Refresh    time.Duration `yaml:"refresh"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch    bool   `yaml:"cloudwatch"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Session: SessionConfig{
			CheckInterval:    60 * time.Second,
			RefreshThreshold: 5 * time.Minute,
		},
		Stream: StreamConfig{
			HeartbeatInterval:  25 * time.Second,
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
		},
		Channels: ChannelsConfig{
			EventBuffer:   256,
			ArchiveBuffer: 256,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override backend settings from environment variables if available
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		config.Backend.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("BACKEND_WS_URL"); v != "" {
		config.Backend.WebsocketURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("BACKEND_USERNAME"); v != "" {
		config.Backend.Username = strings.TrimSpace(v)
	}
	if v := os.Getenv("BACKEND_PASSWORD"); v != "" {
		config.Backend.Password = v
	}

	// Override S3 settings from environment variables if available
	if config.Archive.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)

	if config.Backend.WebsocketURL == "" && config.Backend.BaseURL != "" {
		config.Backend.WebsocketURL = deriveWebsocketURL(config.Backend.BaseURL)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// deriveWebsocketURL maps an http(s) origin to its ws(s) equivalent.
func deriveWebsocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimSuffix(strings.TrimPrefix(baseURL, "https://"), "/") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimSuffix(strings.TrimPrefix(baseURL, "http://"), "/") + "/ws"
	}
	return ""
}

func validateConfig(cfg *Config) error {
	if cfg.Creditflow.Name == "" {
		return fmt.Errorf("creditflow.name is required")
	}

	if cfg.Creditflow.Version == "" {
		return fmt.Errorf("creditflow.version is required")
	}

	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}

	if cfg.Backend.WebsocketURL == "" {
		return fmt.Errorf("backend.websocket_url is required")
	}

	if cfg.Session.CheckInterval <= 0 {
		return fmt.Errorf("session.check_interval must be greater than 0")
	}
	if cfg.Session.RefreshThreshold <= 0 {
		return fmt.Errorf("session.refresh_threshold must be greater than 0")
	}

	if cfg.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream.heartbeat_interval must be greater than 0")
	}
	if cfg.Stream.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("stream.reconnect_base_delay must be greater than 0")
	}
	if cfg.Stream.ReconnectMaxDelay < cfg.Stream.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay must not be below the base delay")
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.Directory == "" {
			return fmt.Errorf("archive.directory is required when the archive is enabled")
		}
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
	}

	if cfg.Archive.S3.Enabled {
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when S3 is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when S3 is enabled")
		}
		if cfg.Archive.S3.AccessKeyID == "" || cfg.Archive.S3.SecretAccessKey == "" {
			return fmt.Errorf("archive.s3.access_key_id and archive.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.S3.Bucket) {
			return fmt.Errorf("archive.s3.bucket '%s' is invalid", cfg.Archive.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

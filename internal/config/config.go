package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const QR_IMAGE_SIZE = 250

type RBACConfig struct {
	PolicyFile string   `mapstructure:"policy_file"` // Path to the RBAC policy file
	Admins     []string `mapstructure:"admins"`      // Bakery emails that get the admin role
}

type MQTT struct {
	Broker   string `mapstructure:"broker"` // e.g. ssl://broker.example.com:8883
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Topics are built as {prefix}/{lockerClientID}/commands and {prefix}/response/{lockerClientID}
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	KeepAlive      time.Duration `mapstructure:"keepalive"`
	// Number of extra attempts when pulling the compartment inventory of a new locker
	SyncRetries uint `mapstructure:"sync_retries"`
}

type Geocoder struct {
	URL        string        `mapstructure:"url"`
	UserAgent  string        `mapstructure:"user_agent"`
	Rate       float64       `mapstructure:"rate"` // requests per second
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	MaxRetries uint          `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Reservation struct {
	HoldTTL      time.Duration `mapstructure:"hold_ttl"`
	WindowBefore time.Duration `mapstructure:"window_before"` // subtracted from delivery time
	WindowAfter  time.Duration `mapstructure:"window_after"`  // added to delivery time
	QRSize       int           `mapstructure:"qr_size"`
}

type Cleanup struct {
	HoldInterval  time.Duration `mapstructure:"hold_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	TickTimeout   time.Duration `mapstructure:"tick_timeout"`
}

type Registration struct {
	MergeRadius   float64 `mapstructure:"merge_radius"`   // meters
	MinSeparation float64 `mapstructure:"min_separation"` // meters
}

type Email struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Enabled reports whether notification mails should be sent at all.
func (e Email) Enabled() bool {
	return e.Host != ""
}

type Config struct {
	// Secret key for signing tokens. Must be set in production.
	Secret string `mapstructure:"secret"`
	// TTL for bakery tokens in seconds
	TokenTTL uint `mapstructure:"token_ttl"`
	// Where device event token IDs are remembered: memory or sql
	NonceStore string `mapstructure:"nonce_store"`
	LogLevel   string `mapstructure:"log_level"`

	ListenAddr string `mapstructure:"listen_addr"`
	// Comma separated CIDRs allowed to reach /admin and /metrics. Empty allows all.
	AdminNetworks string `mapstructure:"admin_networks"`

	RBAC RBACConfig `mapstructure:"rbac"`

	Storage      Storage      `mapstructure:"storage"`
	MQTT         MQTT         `mapstructure:"mqtt"`
	Geocoder     Geocoder     `mapstructure:"geocoder"`
	Reservation  Reservation  `mapstructure:"reservation"`
	Cleanup      Cleanup      `mapstructure:"cleanup"`
	Registration Registration `mapstructure:"registration"`

	Email Email `mapstructure:"email"`
}

var Cfg *Config

// Check if running in Docker container by checking for the presence of /.dockerenv file
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getConfigPath() string {
	if runningInDocker() {
		return "/app/instance"
	}
	return "./instance"
}

// LoadConfig reads configuration from file, .env and environment variables.
// Nested keys map to env vars with underscores, e.g. mqtt.broker -> MQTT_BROKER.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, path := range configFile {
		if path != "" {
			v.SetConfigFile(path)
		}
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		slog.Debug("No config file found, using defaults and environment")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	if cfg.Registration.MergeRadius >= cfg.Registration.MinSeparation {
		return nil, fmt.Errorf("registration.merge_radius (%v) must be below registration.min_separation (%v)",
			cfg.Registration.MergeRadius, cfg.Registration.MinSeparation)
	}

	if cfg.Reservation.QRSize <= 0 {
		cfg.Reservation.QRSize = QR_IMAGE_SIZE
	}

	// Convert relative sqlite path to absolute instance folder
	if cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
		if cfg.Storage.SQLite.Path == ":memory:" {
			// In-memory database, do nothing
		} else if !os.IsPathSeparator(cfg.Storage.SQLite.Path[0]) {
			cfg.Storage.SQLite.Path = fmt.Sprintf("%s/%s", getConfigPath(), cfg.Storage.SQLite.Path)
		}
	}

	// Warn if secret is missing - this is a critical security setting for production
	if cfg.Secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("SECRET configuration variable is required in production")
		} else {
			slog.Warn("Secret is not set. Do not use in production.")
		}
	}

	return &cfg, nil
}

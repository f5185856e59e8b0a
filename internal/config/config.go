// Package config provides application configuration management. Settings
// start from defaults, are overlaid by an optional YAML file, then by
// environment variables (optionally from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stuartshay/campus-nav/internal/geo"
	"github.com/stuartshay/campus-nav/internal/navigation"
)

// Directory backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// Service configuration
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	GRPCPort    string `yaml:"grpc_port"`
	HTTPPort    string `yaml:"http_port"`
	MaxSessions int    `yaml:"max_sessions"`

	// Database configuration
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"-"`

	// Room directory
	DirectoryBackend string `yaml:"directory_backend"`
	RoomsCSVPath     string `yaml:"rooms_csv_path"`

	// Metrics log
	MetricsLogEnabled bool   `yaml:"metrics_log_enabled"`
	MetricsLogPath    string `yaml:"metrics_log_path"`

	Navigation NavigationConfig `yaml:"navigation"`
	Providers  ProvidersConfig  `yaml:"providers"`

	// OpenTelemetry configuration
	OTELEndpoint   string `yaml:"otel_endpoint"`
	TracingEnabled bool   `yaml:"tracing_enabled"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// NavigationConfig holds the per-session engine tunables
type NavigationConfig struct {
	WalkingSpeedMps           float64    `yaml:"walking_speed_mps"`
	GPSFixTimeoutSec          int        `yaml:"gps_fix_timeout_sec"`
	NearThresholdMeters       float64    `yaml:"near_threshold_meters"`
	RecalcMoveThresholdMeters float64    `yaml:"recalc_move_threshold_meters"`
	OffRouteThresholdMeters   float64    `yaml:"off_route_threshold_meters"`
	FloorStepMeters           float64    `yaml:"floor_step_meters"`
	EnableFloorAdvice         bool       `yaml:"enable_floor_advice"`
	CampusBounds              geo.Bounds `yaml:"campus_bounds"`
	MockLocationEnabled       bool       `yaml:"mock_location_enabled"`
	MockLat                   float64    `yaml:"mock_lat"`
	MockLng                   float64    `yaml:"mock_lng"`
	RefreshMinIntervalMS      int        `yaml:"refresh_min_interval_ms"`
	ProviderRetryIntervalMS   int        `yaml:"provider_retry_interval_ms"`
}

// ProvidersConfig selects the live location feeds. Empty values disable
// the corresponding provider.
type ProvidersConfig struct {
	GPSSerialPort string `yaml:"gps_serial_port"`
	GPSBaudRate   int    `yaml:"gps_baud_rate"`
	MQTTBroker    string `yaml:"mqtt_broker"`
	MQTTTopic     string `yaml:"mqtt_topic"`
	MQTTClientID  string `yaml:"mqtt_client_id"`
}

// Default returns the built-in configuration
func Default() *Config {
	nav := navigation.DefaultConfig()
	return &Config{
		ServiceName: "campus-nav",
		Environment: "development",
		GRPCPort:    "50051",
		HTTPPort:    "8080",
		MaxSessions: 100,

		PostgresHost:     "localhost",
		PostgresPort:     "5432",
		PostgresDB:       "campusnav",
		PostgresUser:     "development",
		PostgresPassword: "development",

		DirectoryBackend: BackendMemory,
		RoomsCSVPath:     "data/rooms.csv",

		MetricsLogEnabled: true,
		MetricsLogPath:    "data/nav_metrics.csv",

		Navigation: NavigationConfig{
			WalkingSpeedMps:           nav.WalkingSpeedMps,
			GPSFixTimeoutSec:          int(nav.GPSFixTimeout / time.Second),
			NearThresholdMeters:       nav.NearThresholdMeters,
			RecalcMoveThresholdMeters: nav.RecalcMoveThresholdMeters,
			OffRouteThresholdMeters:   nav.OffRouteThresholdMeters,
			FloorStepMeters:           nav.FloorStepMeters,
			EnableFloorAdvice:         nav.EnableFloorAdvice,
			CampusBounds:              nav.CampusBounds,
			MockLat:                   nav.MockLat,
			MockLng:                   nav.MockLng,
			RefreshMinIntervalMS:      int(nav.RefreshMinInterval / time.Millisecond),
			ProviderRetryIntervalMS:   int(nav.ProviderRetryInterval / time.Millisecond),
		},
		Providers: ProvidersConfig{
			GPSBaudRate:  9600,
			MQTTTopic:    "campusnav/fix",
			MQTTClientID: "campus-nav",
		},

		OTELEndpoint: "localhost:4317",
		LogLevel:     "info",
	}
}

// Load reads configuration from defaults, CONFIG_FILE and the environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// nolint:gocyclo // one branch per setting
func (c *Config) applyEnv() error {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)

	c.PostgresHost = getEnv("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnv("POSTGRES_PORT", c.PostgresPort)
	c.PostgresDB = getEnv("POSTGRES_DB", c.PostgresDB)
	c.PostgresUser = getEnv("POSTGRES_USER", c.PostgresUser)
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", c.PostgresPassword)

	c.DirectoryBackend = getEnv("DIRECTORY_BACKEND", c.DirectoryBackend)
	c.RoomsCSVPath = getEnv("ROOMS_CSV_PATH", c.RoomsCSVPath)
	c.MetricsLogPath = getEnv("METRICS_LOG_PATH", c.MetricsLogPath)

	c.Providers.GPSSerialPort = getEnv("GPS_SERIAL_PORT", c.Providers.GPSSerialPort)
	c.Providers.MQTTBroker = getEnv("MQTT_BROKER", c.Providers.MQTTBroker)
	c.Providers.MQTTTopic = getEnv("MQTT_TOPIC", c.Providers.MQTTTopic)
	c.Providers.MQTTClientID = getEnv("MQTT_CLIENT_ID", c.Providers.MQTTClientID)

	c.OTELEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTELEndpoint)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	n := &c.Navigation
	floats := []struct {
		key string
		dst *float64
	}{
		{"WALKING_SPEED_MPS", &n.WalkingSpeedMps},
		{"NAV_NEAR_THRESHOLD_METERS", &n.NearThresholdMeters},
		{"NAV_RECALC_MOVE_THRESHOLD_METERS", &n.RecalcMoveThresholdMeters},
		{"NAV_OFF_ROUTE_THRESHOLD_METERS", &n.OffRouteThresholdMeters},
		{"FLOOR_STEP_METERS", &n.FloorStepMeters},
		{"CAMPUS_MIN_LAT", &n.CampusBounds.MinLat},
		{"CAMPUS_MAX_LAT", &n.CampusBounds.MaxLat},
		{"CAMPUS_MIN_LNG", &n.CampusBounds.MinLng},
		{"CAMPUS_MAX_LNG", &n.CampusBounds.MaxLng},
		{"MOCK_LAT", &n.MockLat},
		{"MOCK_LNG", &n.MockLng},
	}
	for _, f := range floats {
		v, err := parseFloat(f.key, *f.dst)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_SESSIONS", &c.MaxSessions},
		{"GPS_FIX_TIMEOUT_SEC", &n.GPSFixTimeoutSec},
		{"REFRESH_MIN_INTERVAL_MS", &n.RefreshMinIntervalMS},
		{"PROVIDER_RETRY_INTERVAL_MS", &n.ProviderRetryIntervalMS},
		{"GPS_BAUD_RATE", &c.Providers.GPSBaudRate},
	}
	for _, i := range ints {
		v, err := parseInt(i.key, *i.dst)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.key, err)
		}
		*i.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"ENABLE_FLOOR_ADVICE", &n.EnableFloorAdvice},
		{"MOCK_LOCATION_ENABLED", &n.MockLocationEnabled},
		{"METRICS_LOG_ENABLED", &c.MetricsLogEnabled},
		{"TRACING_ENABLED", &c.TracingEnabled},
	}
	for _, b := range bools {
		v, err := parseBool(b.key, *b.dst)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", b.key, err)
		}
		*b.dst = v
	}

	return nil
}

// Validate checks settings that cannot be corrected at runtime
func (c *Config) Validate() error {
	var errs []error
	switch c.DirectoryBackend {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("invalid DIRECTORY_BACKEND %q: want %q or %q",
			c.DirectoryBackend, BackendMemory, BackendPostgres))
	}
	if err := c.NavigationConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("navigation: %w", err))
	}
	return errors.Join(errs...)
}

// NavigationConfig converts the navigation settings into the value each
// Engine receives at construction.
func (c *Config) NavigationConfig() navigation.Config {
	n := c.Navigation
	return navigation.Config{
		WalkingSpeedMps:           n.WalkingSpeedMps,
		GPSFixTimeout:             time.Duration(n.GPSFixTimeoutSec) * time.Second,
		NearThresholdMeters:       n.NearThresholdMeters,
		RecalcMoveThresholdMeters: n.RecalcMoveThresholdMeters,
		OffRouteThresholdMeters:   n.OffRouteThresholdMeters,
		FloorStepMeters:           n.FloorStepMeters,
		EnableFloorAdvice:         n.EnableFloorAdvice,
		CampusBounds:              n.CampusBounds,
		MockLocationEnabled:       n.MockLocationEnabled,
		MockLat:                   n.MockLat,
		MockLng:                   n.MockLng,
		RefreshMinInterval:        time.Duration(n.RefreshMinIntervalMS) * time.Millisecond,
		ProviderRetryInterval:     time.Duration(n.ProviderRetryIntervalMS) * time.Millisecond,
	}
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseFloat parses a float64 from an environment variable or keeps the default
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(value, 64)
}

func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(value)
}

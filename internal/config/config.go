package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Values come from an optional YAML
// file, then environment variables, then CLI flags (applied in main).
type Config struct {
	BackendURL     string        `yaml:"backendURL" validate:"required,url"`
	Port           int           `yaml:"port" validate:"gt=0,lt=65536"`
	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gt=0"`
	LogFormat      string        `yaml:"logFormat" validate:"oneof=text json"`

	// Freshness windows for vehicle position probes. Each call site asks the
	// backend for positions no older than its own window.
	InitialMaxAge     time.Duration `yaml:"initialMaxAge" validate:"gt=0"`
	RefreshMaxAge     time.Duration `yaml:"refreshMaxAge" validate:"gt=0"`
	ActiveProbeMaxAge time.Duration `yaml:"activeProbeMaxAge" validate:"gt=0"`

	RefreshInterval  time.Duration `yaml:"refreshInterval" validate:"gt=0"`
	ProbeConcurrency int           `yaml:"probeConcurrency" validate:"gt=0"`
	MinStopsZoom     int           `yaml:"minStopsZoom" validate:"gte=0,lte=22"`
	SessionTTL       time.Duration `yaml:"sessionTTL" validate:"gt=0"`

	MapCenterLat float64 `yaml:"mapCenterLat" validate:"gte=-90,lte=90"`
	MapCenterLon float64 `yaml:"mapCenterLon" validate:"gte=-180,lte=180"`
	MapZoom      int     `yaml:"mapZoom" validate:"gte=0,lte=22"`

	AlertsFeedURL    string `yaml:"alertsFeedURL" validate:"omitempty,url"`
	GeocodeURL       string `yaml:"geocodeURL" validate:"omitempty,url"`
	GeocodeUserAgent string `yaml:"geocodeUserAgent"`

	NATSURL           string `yaml:"natsURL" validate:"omitempty,url"`
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Default returns the built-in configuration. BackendURL has no default.
func Default() *Config {
	return &Config{
		Port:              8080,
		RequestTimeout:    15 * time.Second,
		LogFormat:         "text",
		InitialMaxAge:     84600 * time.Second,
		RefreshMaxAge:     60 * time.Second,
		ActiveProbeMaxAge: 3600 * time.Second,
		RefreshInterval:   5 * time.Second,
		ProbeConcurrency:  8,
		MinStopsZoom:      16,
		SessionTTL:        30 * time.Minute,
		MapCenterLat:      59.93428,
		MapCenterLon:      30.335098,
		MapZoom:           14,
		GeocodeURL:        "https://nominatim.openstreetmap.org",
		GeocodeUserAgent:  "transitmap/1.0 (transit map client)",
		NATSSubjectPrefix: "transitmap.vehicles",
		AllowedOrigins:    []string{"http://localhost:5173"},
	}
}

// Load reads configuration from .env, the YAML file named by
// TRANSITMAP_CONFIG (if any) and environment variables, then validates it.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("TRANSITMAP_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.BackendURL = strings.TrimRight(envStr("TRANSITMAP_BACKEND_URL", c.BackendURL), "/")
	c.Port = envInt("TRANSITMAP_PORT", c.Port)
	c.RequestTimeout = envDuration("TRANSITMAP_REQUEST_TIMEOUT", c.RequestTimeout)
	c.LogFormat = envStr("TRANSITMAP_LOG_FORMAT", c.LogFormat)

	c.InitialMaxAge = envSeconds("TRANSITMAP_INITIAL_MAX_AGE_SEC", c.InitialMaxAge)
	c.RefreshMaxAge = envSeconds("TRANSITMAP_REFRESH_MAX_AGE_SEC", c.RefreshMaxAge)
	c.ActiveProbeMaxAge = envSeconds("TRANSITMAP_ACTIVE_MAX_AGE_SEC", c.ActiveProbeMaxAge)

	c.RefreshInterval = envDuration("TRANSITMAP_REFRESH_INTERVAL", c.RefreshInterval)
	c.ProbeConcurrency = envInt("TRANSITMAP_PROBE_CONCURRENCY", c.ProbeConcurrency)
	c.MinStopsZoom = envInt("TRANSITMAP_MIN_STOPS_ZOOM", c.MinStopsZoom)
	c.SessionTTL = envDuration("TRANSITMAP_SESSION_TTL", c.SessionTTL)

	c.AlertsFeedURL = envStr("TRANSITMAP_ALERTS_URL", c.AlertsFeedURL)
	c.GeocodeURL = strings.TrimRight(envStr("TRANSITMAP_GEOCODE_URL", c.GeocodeURL), "/")
	c.GeocodeUserAgent = envStr("TRANSITMAP_GEOCODE_USER_AGENT", c.GeocodeUserAgent)
	c.NATSURL = envStr("TRANSITMAP_NATS_URL", c.NATSURL)
	c.NATSSubjectPrefix = envStr("TRANSITMAP_NATS_SUBJECT_PREFIX", c.NATSSubjectPrefix)

	if v := os.Getenv("TRANSITMAP_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.AllowedOrigins = origins
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envSeconds reads a whole number of seconds.
func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

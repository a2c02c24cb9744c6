// Package config loads the hub's environment-driven configuration into a
// single explicit struct, replacing the scattered process-wide globals of
// the system this hub replaces with one value threaded through handlers
// and the reaper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the hub's complete startup configuration.
type Config struct {
	// HTTP surface
	Port string

	// Session store
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Proxy
	NginxName       string
	NginxConfigFile string
	IndexPath       string

	// Reaper
	InactivityTimeout time.Duration
	ActivityThreshold float64
	ReaperPeriod      time.Duration

	// Orchestrator
	NetworkName           string
	ContainerOrchestrator string
	MaxSessions           int
	SlicerImage           string
	VNCBaseImage          string
	NFSRoot               string

	// Domain resolution
	Proto   string
	Domain  string
	Mode    string
	HubName string

	// Directory service / auth
	OpenLDAPName string
	OpenLDAPPort string
	AuthMode     string

	// Ambient
	LogLevel  string
	LogPretty bool

	// Optional Redis-backed reload-debounce cache
	CacheEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, applying the same
// defaulting conventions used throughout the hub's HTTP server wiring.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "8000"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "slicehub"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "slicehub"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		NginxName:       getEnv("NGINX_NAME", "slicehub-nginx"),
		NginxConfigFile: getEnv("NGINX_CONFIG_FILE", "/etc/nginx/nginx.conf"),
		IndexPath:       getEnv("INDEX_PATH", ""),

		InactivityTimeout: time.Duration(getEnvInt("INACTIVITY_TIME_SEC", 300)) * time.Second,
		ActivityThreshold: getEnvFloat("ACTIVITY_THRESHOLD_PCT", 10.0),
		ReaperPeriod:      time.Duration(getEnvInt("REAPER_PERIOD_SEC", 60)) * time.Second,

		NetworkName:           getEnv("NETWORK_NAME", "slicehub-net"),
		ContainerOrchestrator: getEnv("CONTAINER_ORCHESTRATOR", "docker"),
		MaxSessions:           getEnvInt("MAX_SESSIONS", 1000),
		SlicerImage:           getEnv("SLICER_IMAGE_DOCKERFILE", ""),
		VNCBaseImage:          getEnv("VNC_BASE_IMAGE_DOCKERFILE", ""),
		NFSRoot:               getEnv("NFS_ROOT", "/mnt/slicehub-nfs"),

		Proto:   getEnv("PROTO", "http"),
		Domain:  getEnv("DOMAIN", "localhost"),
		Mode:    getEnv("MODE", "local"),
		HubName: getEnv("TDSLICERHUB_NAME", "slicehub"),

		OpenLDAPName: getEnv("OPENLDAP_NAME", ""),
		OpenLDAPPort: getEnv("OPENLDAP_PORT", "389"),
		AuthMode:     getEnv("AUTH_MODE", "dev"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnv("LOG_PRETTY", "false") == "true",

		CacheEnabled:  getEnv("CACHE_ENABLED", "false") == "true",
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SEC", 30)) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ContainerOrchestrator {
	case "docker", "kubernetes":
	default:
		return fmt.Errorf("invalid CONTAINER_ORCHESTRATOR %q: must be \"docker\" or \"kubernetes\"", c.ContainerOrchestrator)
	}
	switch strings.ToLower(c.AuthMode) {
	case "dev", "ldap":
	default:
		return fmt.Errorf("invalid AUTH_MODE %q: must be \"dev\" or \"ldap\"", c.AuthMode)
	}
	if c.AuthMode == "ldap" && c.OpenLDAPName == "" {
		return fmt.Errorf("OPENLDAP_NAME is required when AUTH_MODE=ldap")
	}
	return nil
}

// Unlimited reports whether MaxSessions should be treated as no limit.
func (c *Config) Unlimited() bool {
	return c.MaxSessions >= 1000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

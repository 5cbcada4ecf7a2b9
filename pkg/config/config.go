// Package config loads the backbone's hierarchical configuration
// (defaults, then config file, then environment, then CLI flags) via
// viper, and optionally hot-reloads a restricted set of keys via fsnotify.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved backbone configuration.
type Config struct {
	StoragePath    string        `mapstructure:"storage_path"`
	Neo4jURI       string        `mapstructure:"neo4j_uri"`
	Neo4jUser      string        `mapstructure:"neo4j_user"`
	Neo4jPassword  string        `mapstructure:"neo4j_password"`
	NATSURL        string        `mapstructure:"nats_url"`
	QdrantAddr     string        `mapstructure:"qdrant_addr"`
	S3Bucket       string        `mapstructure:"s3_bucket"`
	S3Prefix       string        `mapstructure:"s3_prefix"`

	UploadMaxBytes     int64         `mapstructure:"upload_max_bytes"`
	UploadSessionTTL   time.Duration `mapstructure:"upload_session_ttl"`
	AllowedExtensions  []string      `mapstructure:"allowed_extensions"`

	WorkerCooperative int `mapstructure:"worker_cooperative"`
	WorkerThread      int `mapstructure:"worker_thread"`
	WorkerProcess     int `mapstructure:"worker_process"`

	ResourceCPUHigh    float64 `mapstructure:"resource_cpu_high"`
	ResourceCPULow     float64 `mapstructure:"resource_cpu_low"`
	ResourceMemHigh    float64 `mapstructure:"resource_mem_high"`
	ResourceMemLow     float64 `mapstructure:"resource_mem_low"`

	CacheL1Capacity int           `mapstructure:"cache_l1_capacity"`
	CacheL2Path     string        `mapstructure:"cache_l2_path"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`

	ProgressMinInterval time.Duration `mapstructure:"progress_min_interval"`
	ProgressMinDelta    float64       `mapstructure:"progress_min_delta"`

	HTTPAddr   string `mapstructure:"http_addr"`
	CORSOrigin string `mapstructure:"cors_origin"`
	LogLevel   string `mapstructure:"log_level"`

	StateDBPath     string `mapstructure:"state_db_path"`
	PipelineSpecDir string `mapstructure:"pipeline_spec_dir"`
}

// defaults mirrors the values bound by BindFlags; kept alongside so a caller
// using viper without cobra still gets a sane Config.
var defaults = map[string]any{
	"storage_path":          "./data/blobs",
	"neo4j_uri":             "bolt://localhost:7687",
	"neo4j_user":            "neo4j",
	"nats_url":              "nats://localhost:4222",
	"upload_max_bytes":      int64(512 << 20),
	"upload_session_ttl":    24 * time.Hour,
	"allowed_extensions":    []string{".pdf", ".docx", ".html", ".txt", ".md"},
	"worker_cooperative":    8,
	"worker_thread":         4,
	"worker_process":        2,
	"resource_cpu_high":     0.85,
	"resource_cpu_low":      0.65,
	"resource_mem_high":     0.85,
	"resource_mem_low":      0.65,
	"cache_l1_capacity":     10000,
	"cache_l2_path":         "./data/cache.db",
	"cache_ttl":             6 * time.Hour,
	"progress_min_interval": 500 * time.Millisecond,
	"progress_min_delta":    0.05,
	"http_addr":             ":8080",
	"cors_origin":           "*",
	"log_level":             "info",
	"state_db_path":         "./data/state.db",
	"pipeline_spec_dir":     "./specs",
}

// HotReloadableKeys is the allow-list of keys that may change value via
// WatchConfig without a process restart. Anything structural — storage
// backends, ports, worker pool sizes — is excluded because changing it live
// would require re-wiring components the rest of the process holds
// references to.
var HotReloadableKeys = map[string]bool{
	"log_level":             true,
	"resource_cpu_high":     true,
	"resource_cpu_low":      true,
	"resource_mem_high":     true,
	"resource_mem_low":      true,
	"progress_min_interval": true,
	"progress_min_delta":    true,
	"cache_ttl":             true,
}

// New builds a viper instance seeded with defaults and environment variables
// prefixed DOCBACKBONE_. It reads no config file; Load does that.
func New() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix("docbackbone")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	return v
}

// Load reads configFile (if non-empty) into v, tolerating a missing default
// file but failing on a file that exists and fails to parse.
func Load(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", configFile, err)
		}
		return nil
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docbackbone")
	v.SetConfigName("docbackbone")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: read config: %w", err)
		}
	}
	return nil
}

// Unmarshal decodes v into a Config.
func Unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// BindFlags registers the flags every docctl subcommand shares and binds
// each to its viper key, so the precedence order ends up flags > env > file
// > defaults.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String("storage-path", defaults["storage_path"].(string), "content-addressed blob storage root")
	flags.String("neo4j-uri", defaults["neo4j_uri"].(string), "Neo4j bolt URI")
	flags.String("nats-url", defaults["nats_url"].(string), "NATS server URL")
	flags.String("http-addr", defaults["http_addr"].(string), "HTTP listen address")
	flags.String("log-level", defaults["log_level"].(string), "log level (debug|info|warn|error)")

	v.BindPFlag("storage_path", flags.Lookup("storage-path"))
	v.BindPFlag("neo4j_uri", flags.Lookup("neo4j-uri"))
	v.BindPFlag("nats_url", flags.Lookup("nats-url"))
	v.BindPFlag("http_addr", flags.Lookup("http-addr"))
	v.BindPFlag("log_level", flags.Lookup("log-level"))
}

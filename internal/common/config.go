package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Validator   ValidatorConfig
	Scheduler   SchedulerConfig
	Persistence PersistenceConfig
	Catalog     CatalogConfig
	LLM         LLMConfig
	Cache       CacheConfig
	Archive     ArchiveConfig
	Report      ReportConfig
	Sweep       SweepConfig
	Log         LogConfig
}

// DatabaseConfig holds run-ledger database configuration. DSN is either
// sqlite://<path>, sqlite://:memory: or a postgres:// URL.
type DatabaseConfig struct {
	DSN              string `validate:"required"`
	MaxConns         int32  `validate:"gte=1"`
	MinConns         int32  `validate:"gte=0,ltefield=MaxConns"`
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds daemon server configuration
type ServerConfig struct {
	GRPCAddr string `validate:"required"`
}

// ValidatorConfig describes how the external validation tool is launched.
type ValidatorConfig struct {
	Command          string `validate:"required"`
	Script           string
	Timeout          time.Duration
	KillGrace        time.Duration
	UsedOnProductURL bool
	WorkspaceRoot    string `validate:"required"`
	KeepWorkspaces   bool
}

// SchedulerConfig bounds concurrency and pacing.
type SchedulerConfig struct {
	Concurrency int `validate:"gte=1"`
	BatchDelay  time.Duration
}

// PersistenceConfig points at the remote results endpoint. Empty URL disables forwarding.
type PersistenceConfig struct {
	URL        string `validate:"omitempty,url"`
	Timeout    time.Duration
	MaxRetries int     `validate:"gte=0"`
	RPS        float64 `validate:"gte=0"`
}

// CatalogConfig selects the site catalog source.
type CatalogConfig struct {
	URL       string `validate:"omitempty,url"`
	File      string
	PageLimit int `validate:"gte=1"`
	MaxPages  int `validate:"gte=1"`
	Retries   int `validate:"gte=0"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string
	SearchModel string
	APIKey      string
	BaseURL     string `validate:"omitempty,url"`
	Temperature float32
	Timeout     time.Duration
	RPS         float64 `validate:"gte=0"`
}

// CacheConfig selects the candidate cache backend.
type CacheConfig struct {
	Backend       string `validate:"oneof=db redis file"`
	File          string
	RedisAddr     string `validate:"required_if=Backend redis"`
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// ArchiveConfig enables uploading task workspaces to object storage.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string `validate:"required_with=Endpoint"`
	SecretKey string `validate:"required_with=Endpoint"`
	Bucket    string `validate:"required_with=Endpoint"`
	Prefix    string
	UseSSL    bool
}

// ReportConfig controls report sinks.
type ReportConfig struct {
	Dir  string `validate:"required"`
	XLSX bool
}

// SweepConfig drives the daemon's all-sites sweep.
type SweepConfig struct {
	Interval    time.Duration `validate:"gt=0"`
	SiteDelay   time.Duration
	SiteTimeout time.Duration `validate:"gt=0"`
	Workers     int           `validate:"gte=1"`
	InboxDir    string
}

type LogConfig struct {
	Format string `validate:"oneof=json text"`
	Level  string `validate:"oneof=debug info warn error"`
}

// LoadConfig reads configuration from the environment and, when path is not empty,
// from a YAML/JSON file. Environment variables win over the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file "+path, err)
		}
	}

	return &Config{
		Database: DatabaseConfig{
			DSN:              v.GetString("db_url"),
			MaxConns:         v.GetInt32("db_max_conns"),
			MinConns:         v.GetInt32("db_min_conns"),
			MaxConnLifetime:  v.GetDuration("db_max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("db_max_conn_idle_time"),
			DialTimeout:      v.GetDuration("db_dial_timeout"),
			StatementTimeout: v.GetDuration("db_statement_timeout"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("grpc_addr"),
		},
		Validator: ValidatorConfig{
			Command:          v.GetString("validator_command"),
			Script:           v.GetString("validator_script"),
			Timeout:          v.GetDuration("validator_timeout"),
			KillGrace:        v.GetDuration("validator_kill_grace"),
			UsedOnProductURL: v.GetBool("validator_used_on_product_url"),
			WorkspaceRoot:    v.GetString("workspace_root"),
			KeepWorkspaces:   v.GetBool("keep_workspaces"),
		},
		Scheduler: SchedulerConfig{
			Concurrency: v.GetInt("concurrency"),
			BatchDelay:  v.GetDuration("batch_delay"),
		},
		Persistence: PersistenceConfig{
			URL:        v.GetString("persist_url"),
			Timeout:    v.GetDuration("persist_timeout"),
			MaxRetries: v.GetInt("persist_max_retries"),
			RPS:        v.GetFloat64("persist_rps"),
		},
		Catalog: CatalogConfig{
			URL:       v.GetString("catalog_url"),
			File:      v.GetString("catalog_file"),
			PageLimit: v.GetInt("catalog_page_limit"),
			MaxPages:  v.GetInt("catalog_max_pages"),
			Retries:   v.GetInt("catalog_retries"),
		},
		LLM: LLMConfig{
			Model:       v.GetString("openai_model"),
			SearchModel: v.GetString("openai_search_model"),
			APIKey:      v.GetString("openai_api_key"),
			BaseURL:     v.GetString("openai_base_url"),
			Temperature: float32(v.GetFloat64("openai_temperature")),
			Timeout:     v.GetDuration("openai_timeout"),
			RPS:         v.GetFloat64("openai_rps"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString("cache_backend")),
			File:          v.GetString("cache_file"),
			RedisAddr:     v.GetString("redis_addr"),
			RedisPassword: v.GetString("redis_password"),
			RedisDB:       v.GetInt("redis_db"),
			TTL:           v.GetDuration("cache_ttl"),
		},
		Archive: ArchiveConfig{
			Endpoint:  v.GetString("archive_endpoint"),
			AccessKey: v.GetString("archive_access_key"),
			SecretKey: v.GetString("archive_secret_key"),
			Bucket:    v.GetString("archive_bucket"),
			Prefix:    v.GetString("archive_prefix"),
			UseSSL:    v.GetBool("archive_use_ssl"),
		},
		Report: ReportConfig{
			Dir:  v.GetString("report_dir"),
			XLSX: v.GetBool("report_xlsx"),
		},
		Sweep: SweepConfig{
			Interval:    v.GetDuration("sweep_interval"),
			SiteDelay:   v.GetDuration("site_delay"),
			SiteTimeout: v.GetDuration("site_timeout"),
			Workers:     v.GetInt("sweep_workers"),
			InboxDir:    v.GetString("inbox_dir"),
		},
		Log: LogConfig{
			Format: strings.ToLower(v.GetString("log_format")),
			Level:  strings.ToLower(v.GetString("log_level")),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"db_url":                "sqlite://coupons.db",
		"db_max_conns":          10,
		"db_min_conns":          1,
		"db_max_conn_lifetime":  30 * time.Minute,
		"db_max_conn_idle_time": 5 * time.Minute,
		"db_dial_timeout":       3 * time.Second,
		"db_statement_timeout":  0,
		"grpc_addr":             ":8080",
		"validator_command":     "node",
		"validator_script":      "validator.js",
		"validator_timeout":     120 * time.Second,
		"validator_kill_grace":  2 * time.Second,
		"workspace_root":        "./runs",
		"concurrency":           3,
		"batch_delay":           0,
		"persist_timeout":       10 * time.Second,
		"persist_max_retries":   0,
		"persist_rps":           5.0,
		"catalog_page_limit":    100,
		"catalog_max_pages":     50,
		"catalog_retries":       2,
		"openai_model":          "gpt-4o-mini",
		"openai_search_model":   "gpt-5",
		"openai_temperature":    0.0,
		"openai_timeout":        90 * time.Second,
		"openai_rps":            1.0,
		"cache_backend":         "db",
		"cache_file":            "coupon_codes.json",
		"cache_ttl":             7 * 24 * time.Hour,
		"report_dir":            "./reports",
		"sweep_interval":        6 * time.Hour,
		"site_delay":            3 * time.Second,
		"site_timeout":          2 * time.Hour,
		"sweep_workers":         1,
		"log_format":            "json",
		"log_level":             "info",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

var validate = validator.New()

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return NewAppError("CONFIG_ERROR", strings.Join(msgs, "; "), ErrInvalidInput)
		}
		return NewAppError("CONFIG_ERROR", "validate config", err)
	}
	if c.Validator.Timeout <= 0 {
		return NewAppError("CONFIG_ERROR", "VALIDATOR_TIMEOUT must be positive", ErrInvalidInput)
	}
	if c.Cache.Backend == "file" && c.Cache.File == "" {
		return NewAppError("CONFIG_ERROR", "CACHE_FILE is required for the file cache", ErrInvalidInput)
	}
	return nil
}

// ArchiveEnabled reports whether workspace archiving is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Endpoint != ""
}

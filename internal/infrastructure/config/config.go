package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
	Sync      SyncConfig
	Security  SecurityConfig
	Breaker   BreakerConfig
	Platforms PlatformsConfig
	Archive   ArchiveConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, or file path
	MaxSizeMB  int    // rotate file output after this size
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int    // in minutes
	ConnMaxIdleTime int    // in minutes
	MigrationsPath  string // empty applies the migrations embedded in the binary
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64
	// Webhook throttling per platform and caller IP; 0 disables it
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces and metrics
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	DBTraceEnabled    bool // Enable database query tracing (otelgorm)
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string // Pyroscope server, e.g. http://localhost:4040
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
	ProfileMemory     bool // also collect alloc/inuse profiles
	SpanProfiles      bool // link profiles to trace spans
}

// SyncConfig holds sync pipeline settings
type SyncConfig struct {
	TriggerEnabled   bool          // Run the built-in ticker that calls ScheduleSync
	CheckInterval    time.Duration // How often the trigger checks for due platforms
	LockTTL          time.Duration // Advisory per-platform lock lifetime
	Overlap          time.Duration // Subtracted from last sync to build the window
	FirstRunLookback time.Duration // Window start for a platform that never synced
	NormalizeWorkers int           // Parallel normalization workers per platform
	SameSitePolicy   string        // trust_latest or detect_conflicts
}

// SecurityConfig holds credential protection settings
type SecurityConfig struct {
	CredentialKey       string        // Master secret the AES key is derived from
	CredentialCacheTTL  time.Duration // Decrypted credential cache lifetime
	CredentialBackupTTL time.Duration // How long a rotated-out bundle is kept
}

// BreakerConfig holds circuit breaker defaults
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// PlatformAPIConfig holds per-platform API access settings
type PlatformAPIConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	AllowedDomains    []string
	PageSize          int
}

// PlatformsConfig holds API settings for every supported platform
type PlatformsConfig struct {
	Taobao PlatformAPIConfig
	JD     PlatformAPIConfig
	Douyin PlatformAPIConfig
	PDD    PlatformAPIConfig
}

// For returns the settings of a platform by its code (TAOBAO, JD, DOUYIN, PDD)
func (p PlatformsConfig) For(code string) (PlatformAPIConfig, bool) {
	switch strings.ToUpper(code) {
	case "TAOBAO":
		return p.Taobao, true
	case "JD":
		return p.JD, true
	case "DOUYIN":
		return p.Douyin, true
	case "PDD":
		return p.PDD, true
	default:
		return PlatformAPIConfig{}, false
	}
}

// ArchiveConfig holds S3-compatible storage settings for sync report archival
type ArchiveConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ORDERSYNC_ prefix (e.g., ORDERSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ORDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			MigrationsPath:  v.GetString("database.migrations_path"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
			MaxBodySize:  v.GetInt64("http.max_body_size"),

			WebhookRateLimit:  v.GetInt("http.webhook_rate_limit"),
			WebhookRateWindow: v.GetDuration("http.webhook_rate_window"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			ApplicationName:   v.GetString("profiling.application_name"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			ProfileMemory:     v.GetBool("profiling.profile_memory"),
			SpanProfiles:      v.GetBool("profiling.span_profiles"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
		Sync: SyncConfig{
			TriggerEnabled:   v.GetBool("sync.trigger_enabled"),
			CheckInterval:    v.GetDuration("sync.check_interval"),
			LockTTL:          v.GetDuration("sync.lock_ttl"),
			Overlap:          v.GetDuration("sync.overlap"),
			FirstRunLookback: v.GetDuration("sync.first_run_lookback"),
			NormalizeWorkers: v.GetInt("sync.normalize_workers"),
			SameSitePolicy:   v.GetString("sync.same_site_policy"),
		},
		Security: SecurityConfig{
			CredentialKey:       v.GetString("security.credential_key"),
			CredentialCacheTTL:  v.GetDuration("security.credential_cache_ttl"),
			CredentialBackupTTL: v.GetDuration("security.credential_backup_ttl"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			RecoveryTimeout:  v.GetDuration("breaker.recovery_timeout"),
			HalfOpenMaxCalls: v.GetInt("breaker.half_open_max_calls"),
		},
		Platforms: PlatformsConfig{
			Taobao: loadPlatform(v, "taobao"),
			JD:     loadPlatform(v, "jd"),
			Douyin: loadPlatform(v, "douyin"),
			PDD:    loadPlatform(v, "pdd"),
		},
		Archive: ArchiveConfig{
			Enabled:      v.GetBool("archive.enabled"),
			Endpoint:     v.GetString("archive.endpoint"),
			Region:       v.GetString("archive.region"),
			Bucket:       v.GetString("archive.bucket"),
			AccessKey:    v.GetString("archive.access_key"),
			SecretKey:    v.GetString("archive.secret_key"),
			UseSSL:       v.GetBool("archive.use_ssl"),
			UsePathStyle: v.GetBool("archive.use_path_style"),
			Prefix:       v.GetString("archive.prefix"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPlatform(v *viper.Viper, name string) PlatformAPIConfig {
	prefix := "platforms." + name + "."
	return PlatformAPIConfig{
		BaseURL:           v.GetString(prefix + "base_url"),
		Timeout:           v.GetDuration(prefix + "timeout"),
		RequestsPerMinute: v.GetInt(prefix + "requests_per_minute"),
		AllowedDomains:    v.GetStringSlice(prefix + "allowed_domains"),
		PageSize:          v.GetInt(prefix + "page_size"),
	}
}

// platformDefaults holds the production endpoints and budgets of each marketplace
var platformDefaults = map[string]PlatformAPIConfig{
	"taobao": {
		BaseURL:           "https://eco.taobao.com/router/rest",
		RequestsPerMinute: 300,
		AllowedDomains:    []string{"taobao.com", "tmall.com"},
		PageSize:          100,
	},
	"jd": {
		BaseURL:           "https://api.jd.com/routerjson",
		RequestsPerMinute: 600,
		AllowedDomains:    []string{"jd.com"},
		PageSize:          100,
	},
	"douyin": {
		BaseURL:           "https://openapi-fxg.jinritemai.com",
		RequestsPerMinute: 300,
		AllowedDomains:    []string{"jinritemai.com"},
		PageSize:          100,
	},
	"pdd": {
		BaseURL:           "https://gw-api.pinduoduo.com/api/router",
		RequestsPerMinute: 600,
		AllowedDomains:    []string{"pinduoduo.com", "yangkeduo.com"},
		PageSize:          100,
	},
}

func applyPlatformDefaults(name string, p *PlatformAPIConfig) {
	d := platformDefaults[name]
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
	if p.RequestsPerMinute == 0 {
		p.RequestsPerMinute = d.RequestsPerMinute
	}
	if len(p.AllowedDomains) == 0 {
		p.AllowedDomains = d.AllowedDomains
	}
	if p.PageSize == 0 {
		p.PageSize = d.PageSize
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ordersync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ordersync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "ordersync:"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 14
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB webhook bodies
	}
	if cfg.HTTP.WebhookRateWindow == 0 {
		cfg.HTTP.WebhookRateWindow = time.Minute
	}
	if cfg.Profiling.ServerAddress == "" {
		cfg.Profiling.ServerAddress = "http://localhost:4040"
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = "ordersync"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ordersync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Sync.CheckInterval == 0 {
		cfg.Sync.CheckInterval = time.Minute
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 30 * time.Minute
	}
	if cfg.Sync.Overlap == 0 {
		cfg.Sync.Overlap = 5 * time.Minute
	}
	if cfg.Sync.FirstRunLookback == 0 {
		cfg.Sync.FirstRunLookback = 7 * 24 * time.Hour
	}
	if cfg.Sync.NormalizeWorkers == 0 {
		cfg.Sync.NormalizeWorkers = 4
	}
	if cfg.Sync.SameSitePolicy == "" {
		cfg.Sync.SameSitePolicy = "trust_latest"
	}
	if cfg.Security.CredentialCacheTTL == 0 {
		cfg.Security.CredentialCacheTTL = 5 * time.Minute
	}
	if cfg.Security.CredentialBackupTTL == 0 {
		cfg.Security.CredentialBackupTTL = time.Hour
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.RecoveryTimeout == 0 {
		cfg.Breaker.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Breaker.HalfOpenMaxCalls == 0 {
		cfg.Breaker.HalfOpenMaxCalls = 3
	}
	applyPlatformDefaults("taobao", &cfg.Platforms.Taobao)
	applyPlatformDefaults("jd", &cfg.Platforms.JD)
	applyPlatformDefaults("douyin", &cfg.Platforms.Douyin)
	applyPlatformDefaults("pdd", &cfg.Platforms.PDD)
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "sync-reports/"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Sync.SameSitePolicy {
	case "trust_latest", "detect_conflicts":
	default:
		return fmt.Errorf("sync.same_site_policy must be trust_latest or detect_conflicts, got %q", c.Sync.SameSitePolicy)
	}
	if c.Sync.NormalizeWorkers < 1 {
		return fmt.Errorf("sync.normalize_workers must be positive")
	}
	if c.Breaker.FailureThreshold < 1 || c.Breaker.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("breaker.failure_threshold and breaker.half_open_max_calls must be positive")
	}

	for name, p := range map[string]PlatformAPIConfig{
		"taobao": c.Platforms.Taobao, "jd": c.Platforms.JD,
		"douyin": c.Platforms.Douyin, "pdd": c.Platforms.PDD,
	} {
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Scheme != "https" {
			return fmt.Errorf("platforms.%s.base_url must be an https URL", name)
		}
		if p.RequestsPerMinute < 1 {
			return fmt.Errorf("platforms.%s.requests_per_minute must be positive", name)
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}

	if c.App.Env == "production" {
		if len(c.Security.CredentialKey) < 32 {
			return fmt.Errorf("security.credential_key must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Storage   StorageConfig
	GCP       GCPConfig
	Restore   RestoreConfig
	Stocktake StocktakeConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOCKLOG_APP_ENV" required:"true"`
	Port         string `envconfig:"STOCKLOG_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOCKLOG_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOCKLOG_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"STOCKLOG_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"STOCKLOG_DB_DSN"`

	Host     string `envconfig:"STOCKLOG_DB_HOST"`
	Port     int    `envconfig:"STOCKLOG_DB_PORT" default:"5432"`
	User     string `envconfig:"STOCKLOG_DB_USER"`
	Password string `envconfig:"STOCKLOG_DB_PASSWORD"`
	Name     string `envconfig:"STOCKLOG_DB_NAME"`
	SSLMode  string `envconfig:"STOCKLOG_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOCKLOG_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKLOG_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKLOG_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKLOG_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either STOCKLOG_DB_DSN or STOCKLOG_DB_HOST/USER/NAME must be set")
	}
	d.DSN = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKLOG_REDIS_URL"`
	Address      string        `envconfig:"STOCKLOG_REDIS_ADDR"`
	Password     string        `envconfig:"STOCKLOG_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKLOG_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKLOG_REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"STOCKLOG_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKLOG_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKLOG_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint is configured at all. The write
// rate limiter degrades to a no-op when it is not.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret string `envconfig:"STOCKLOG_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"STOCKLOG_JWT_ISSUER" default:"stocklog"`
}

type StorageConfig struct {
	// Driver selects the backup artifact store: "gcs" or "memory".
	Driver string `envconfig:"STOCKLOG_STORAGE_DRIVER" default:"memory"`
	Bucket string `envconfig:"STOCKLOG_STORAGE_BUCKET"`
}

type GCPConfig struct {
	CredentialsJSON        string `envconfig:"STOCKLOG_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type RestoreConfig struct {
	DefaultMaxRows int           `envconfig:"STOCKLOG_RESTORE_MAX_ROWS" default:"2000"`
	DefaultMaxTime time.Duration `envconfig:"STOCKLOG_RESTORE_MAX_TIME" default:"8s"`
	FlushSize      int           `envconfig:"STOCKLOG_RESTORE_FLUSH_SIZE" default:"50"`
	PollInterval   int           `envconfig:"STOCKLOG_RESTORE_POLL_INTERVAL" default:"200"`
}

type StocktakeConfig struct {
	ApplyChunkSize int `envconfig:"STOCKLOG_STOCKTAKE_CHUNK_SIZE" default:"100"`
}

type RateLimitConfig struct {
	WriteWindow time.Duration `envconfig:"STOCKLOG_RATE_LIMIT_WRITE_WINDOW" default:"1m"`
	WriteLimit  int           `envconfig:"STOCKLOG_RATE_LIMIT_WRITE_LIMIT" default:"120"`
}

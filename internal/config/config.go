package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Events    EventsConfig    `mapstructure:"events"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Ranking   RankingConfig   `mapstructure:"ranking"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sources   SourcesConfig   `mapstructure:"sources"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the canonical store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Migrate is "goose", "auto" or "none".
	Migrate string `mapstructure:"migrate"`
}

// DSN renders a postgres connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, sslMode)
}

// SecretsConfig points at a Secrets Manager secret holding database credentials.
// An empty SecretARN means the static database settings are used.
type SecretsConfig struct {
	SecretARN string        `mapstructure:"secret_arn"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type QueueConfig struct {
	ImportQueueURL    string        `mapstructure:"import_queue_url"`
	AnalyticsQueueURL string        `mapstructure:"analytics_queue_url"`
	MaxMessages       int32         `mapstructure:"max_messages"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// EventsConfig selects the event bus. Backend is "eventbridge", "nats",
// "kafka", "memory" or "none".
type EventsConfig struct {
	Backend      string        `mapstructure:"backend"`
	Source       string        `mapstructure:"source"`
	EventBus     string        `mapstructure:"event_bus"`
	NATSURL      string        `mapstructure:"nats_url"`
	KafkaBrokers []string      `mapstructure:"kafka_brokers"`
	KafkaTopic   string        `mapstructure:"kafka_topic"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxFailures      uint32        `mapstructure:"max_failures"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests uint32        `mapstructure:"half_open_requests"`
}

// AnalyticsConfig selects the analytics store. Store is "dynamodb" or "badger".
type AnalyticsConfig struct {
	Store     string        `mapstructure:"store"`
	Table     string        `mapstructure:"table"`
	BadgerDir string        `mapstructure:"badger_dir"`
	Retention time.Duration `mapstructure:"retention"`
}

type RankingConfig struct {
	DefaultLimit int           `mapstructure:"default_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type IngestConfig struct {
	Workers    int           `mapstructure:"workers"`
	BatchSize  int           `mapstructure:"batch_size"`
	SourceID   string        `mapstructure:"source_id"`
	BatchLease time.Duration `mapstructure:"batch_lease"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
}

type SourcesConfig struct {
	HTTPFeed HTTPFeedConfig `mapstructure:"httpfeed"`
}

type HTTPFeedConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Sensitive values come from the environment
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("secrets.secret_arn", "DB_SECRET_ARN")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("sources.httpfeed.api_key", "FEED_API_KEY")
	v.BindEnv("queue.import_queue_url", "IMPORT_QUEUE_URL")
	v.BindEnv("queue.analytics_queue_url", "ANALYTICS_QUEUE_URL")
	v.BindEnv("aws.region", "AWS_REGION")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/dishrank.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dishrank")
	v.SetDefault("database.dbname", "dishrank")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", "auto")

	v.SetDefault("secrets.cache_ttl", 15*time.Minute)

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("queue.max_messages", 10)
	v.SetDefault("queue.wait_time", 20*time.Second)
	v.SetDefault("queue.visibility_timeout", 60*time.Second)
	v.SetDefault("queue.concurrency", 5)

	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.source", "dishrank.import")
	v.SetDefault("events.event_bus", "default")
	v.SetDefault("events.nats_url", "nats://localhost:4222")
	v.SetDefault("events.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka_topic", "dishrank-events")
	v.SetDefault("events.breaker.enabled", true)
	v.SetDefault("events.breaker.max_failures", 5)
	v.SetDefault("events.breaker.open_timeout", 30*time.Second)
	v.SetDefault("events.breaker.half_open_requests", 1)

	v.SetDefault("analytics.store", "badger")
	v.SetDefault("analytics.table", "dishrank-analytics")
	v.SetDefault("analytics.badger_dir", "./data/analytics")
	v.SetDefault("analytics.retention", 90*24*time.Hour)

	v.SetDefault("ranking.default_limit", 20)
	v.SetDefault("ranking.cache_ttl", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ingest.workers", 5)
	v.SetDefault("ingest.batch_size", 25)
	v.SetDefault("ingest.source_id", "default")
	v.SetDefault("ingest.batch_lease", 15*time.Minute)

	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "dishrank-imports")

	v.SetDefault("sources.httpfeed.timeout", 30*time.Second)
	v.SetDefault("sources.httpfeed.page_size", 100)
}

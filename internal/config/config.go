package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Worker   *workerConfig
	Events   *eventsConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"genqueue"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string        `envconfig:"GENQUEUE_ADDRESS" default:":8080"`
	MetricsAddress  string        `envconfig:"GENQUEUE_METRICS_ADDRESS" default:":8081"`
	BaseUrl         string        `envconfig:"GENQUEUE_BASE_URL" default:"http://localhost:8080"`
	LogLevel        string        `envconfig:"GENQUEUE_LOG_LEVEL" default:"info"`
	MigrationFolder string        `envconfig:"GENQUEUE_MIGRATIONS_FOLDER" default:""`
	RetentionPeriod time.Duration `envconfig:"GENQUEUE_RETENTION_PERIOD" default:"168h"`
}

type workerConfig struct {
	Concurrency   int           `envconfig:"GENQUEUE_WORKER_CONCURRENCY" default:"4"`
	PollInterval  time.Duration `envconfig:"GENQUEUE_WORKER_POLL_INTERVAL" default:"2s"`
	LeaseDuration time.Duration `envconfig:"GENQUEUE_WORKER_LEASE_DURATION" default:"5m"`
	SweepInterval time.Duration `envconfig:"GENQUEUE_SWEEP_INTERVAL" default:"30s"`
	BackoffBase   time.Duration `envconfig:"GENQUEUE_BACKOFF_BASE" default:"5s"`
	BackoffMax    time.Duration `envconfig:"GENQUEUE_BACKOFF_MAX" default:"10m"`
	CrawlInterval time.Duration `envconfig:"GENQUEUE_CRAWL_INTERVAL" default:"1h"`
	MatchInterval time.Duration `envconfig:"GENQUEUE_MATCH_INTERVAL" default:"6h"`
}

type eventsConfig struct {
	Writer  string `envconfig:"GENQUEUE_EVENTS_WRITER" default:"stdout"`
	NatsURL string `envconfig:"GENQUEUE_NATS_URL" default:"nats://localhost:4222"`
	Topic   string `envconfig:"GENQUEUE_EVENTS_TOPIC" default:"genqueue.jobs.events"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a config suitable for tests: an in-memory sqlite store
// and short worker intervals.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type: "sqlite",
			Name: ":memory:",
		},
		Service: &svcConfig{
			Address:         ":8080",
			MetricsAddress:  ":8081",
			LogLevel:        "debug",
			RetentionPeriod: 168 * time.Hour,
		},
		Worker: &workerConfig{
			Concurrency:   2,
			PollInterval:  10 * time.Millisecond,
			LeaseDuration: time.Minute,
			SweepInterval: 50 * time.Millisecond,
			BackoffBase:   time.Millisecond,
			BackoffMax:    10 * time.Millisecond,
			CrawlInterval: time.Hour,
			MatchInterval: 6 * time.Hour,
		},
		Events: &eventsConfig{
			Writer: "stdout",
			Topic:  "genqueue.jobs.events",
		},
	}
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aquaponics/pondwatch/internal/dashboard"
	"github.com/aquaponics/pondwatch/pkg/cache"
	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	pgreadings "github.com/aquaponics/pondwatch/pkg/data/postgres/readings"
	"github.com/aquaponics/pondwatch/pkg/rotation"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Pond sources.
const (
	sourceCSV        = "csv"
	sourceClickHouse = "clickhouse"
	sourcePostgres   = "postgres"
)

// Config holds all configuration for the dashboard application
type Config struct {
	// Application settings
	Verbose bool
	APIAddr string

	// View settings
	Dashboard dashboard.Config

	// Source settings
	Source    string
	DataDir   string
	PondsFile string
	Watch     bool

	Cache cache.Config

	// Checkpoint settings
	Checkpoint         bool
	CheckpointInterval time.Duration
	SessionTTL         time.Duration
	JanitorInterval    time.Duration

	ClickHouse        clickhouse.Config
	ReadingsTableName string
	CursorsTableName  string

	Postgres pgreadings.Config

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Site          string
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// usesClickHouse reports whether run needs a ClickHouse client.
func (c *Config) usesClickHouse() bool {
	return c.Source == sourceClickHouse || c.Checkpoint
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	view, err := buildDashboardConfig(c)
	if err != nil {
		return nil, err
	}

	source := c.String("source")
	switch source {
	case sourceCSV, sourceClickHouse, sourcePostgres:
	default:
		return nil, fmt.Errorf("unknown source %q: must be csv, clickhouse or postgres", source)
	}

	if c.Duration("session-ttl") <= 0 || c.Duration("janitor-interval") <= 0 {
		return nil, fmt.Errorf("session-ttl and janitor-interval must be greater than 0")
	}
	if c.Bool("checkpoint") && c.Duration("checkpoint-interval") <= 0 {
		return nil, fmt.Errorf("checkpoint-interval must be greater than 0")
	}

	return &Config{
		Verbose:   c.Bool("verbose"),
		APIAddr:   c.String("api-addr"),
		Dashboard: view,
		Source:    source,
		DataDir:   c.String("data-dir"),
		PondsFile: c.String("ponds-file"),
		Watch:     c.Bool("watch"),
		Cache: cache.Config{
			Backend:   c.String("cache-backend"),
			TTL:       c.Duration("cache-ttl"),
			RedisAddr: c.String("redis-addr"),
			RedisDB:   c.Int("redis-db"),
			RedisPass: c.String("redis-password"),
			KeyPrefix: c.String("redis-key-prefix"),
		},
		Checkpoint:         c.Bool("checkpoint"),
		CheckpointInterval: c.Duration("checkpoint-interval"),
		SessionTTL:         c.Duration("session-ttl"),
		JanitorInterval:    c.Duration("janitor-interval"),
		ClickHouse:         buildClickHouseConfig(c),
		ReadingsTableName:  c.String("readings-table-name"),
		CursorsTableName:   c.String("cursors-table-name"),
		Postgres: pgreadings.Config{
			DSN:      c.String("postgres-dsn"),
			Schema:   c.String("postgres-schema"),
			MaxConns: int32(c.Int("postgres-max-conns")), //nolint:gosec // small pool size
		},
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Site:          c.String("site"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}, nil
}

func buildDashboardConfig(c *cli.Context) (dashboard.Config, error) {
	cfg := dashboard.DefaultConfig()
	cfg.Window = c.Int("window")
	cfg.Forecast = c.Int("forecast")
	cfg.Epsilon = c.Float64("epsilon")

	align, err := rotation.ParseAlignPolicy(c.String("align"))
	if err != nil {
		return dashboard.Config{}, err
	}
	cfg.Align = align

	if names := splitList(c.StringSlice("fields")); len(names) > 0 {
		fields := make([]sensor.Field, 0, len(names))
		for _, name := range names {
			f, err := sensor.ParseField(name)
			if err != nil {
				return dashboard.Config{}, err
			}
			fields = append(fields, f)
		}
		cfg.Fields = fields
	}
	return cfg, nil
}

// buildClickHouseConfig builds a clickhouse.Config from CLI context flags
func buildClickHouseConfig(c *cli.Context) clickhouse.Config {
	return clickhouse.Config{
		Hosts:                splitList(c.StringSlice("clickhouse-hosts")),
		Database:             c.String("clickhouse-database"),
		Username:             c.String("clickhouse-username"),
		Password:             c.String("clickhouse-password"),
		Debug:                c.Bool("clickhouse-debug"),
		UseTLS:               c.Bool("clickhouse-use-tls"),
		InsecureSkipVerify:   c.Bool("clickhouse-insecure-skip-verify"),
		MaxExecutionTime:     c.Int("clickhouse-max-execution-time"),
		DialTimeout:          c.Int("clickhouse-dial-timeout"),
		MaxOpenConns:         c.Int("clickhouse-max-open-conns"),
		MaxIdleConns:         c.Int("clickhouse-max-idle-conns"),
		ConnMaxLifetime:      c.Int("clickhouse-conn-max-lifetime"),
		BlockBufferSize:      10,
		MaxBlockSize:         1000,
		MaxCompressionBuffer: 10240,
		ClientName:           "pondwatch-dashboard",
		ClientVersion:        "1.0",
	}
}

// splitList flattens comma-separated entries of a string slice flag.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

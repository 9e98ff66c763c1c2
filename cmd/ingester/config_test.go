package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runApp(t *testing.T, flags []cli.Flag, action cli.ActionFunc, args ...string) {
	t.Helper()
	app := &cli.App{Name: "ingester", Flags: flags, Action: action}
	require.NoError(t, app.Run(append([]string{"ingester"}, args...)))
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	var (
		cfg *Config
		err error
	)
	runApp(t, runFlags(), func(c *cli.Context) error {
		cfg, err = buildConfig(c)
		return nil
	},
		"--topic", "readings",
		"--dlq-topic", "readings-dlq",
		"--concurrency", "4",
		"--poll-interval", "250ms",
		"--clickhouse-hosts", "ch-1:9000,ch-2:9000",
	)
	require.NoError(t, err)

	assert.Equal(t, "readings", cfg.Consumer.Topic)
	assert.Equal(t, "readings-dlq", cfg.Consumer.DLQTopic)
	assert.Equal(t, "pondwatch-ingester", cfg.Consumer.GroupID)
	assert.Equal(t, int64(4), cfg.Consumer.Concurrency)
	require.NotNil(t, cfg.Consumer.PollInterval)
	assert.Equal(t, 250*time.Millisecond, *cfg.Consumer.PollInterval)
	assert.Equal(t, 240*time.Second, *cfg.Consumer.SessionTimeout)
	assert.Equal(t, []string{"ch-1:9000", "ch-2:9000"}, cfg.ClickHouse.Hosts)
	assert.Equal(t, "pond_readings", cfg.ReadingsTableName)
	assert.Equal(t, ":9092", cfg.MetricsAddr())
}

func TestBuildConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{name: "dlq equals topic", args: []string{"--topic", "readings", "--dlq-topic", "readings"}},
		{name: "empty group", args: []string{"--group-id", ""}},
		{name: "unknown offset reset", args: []string{"--auto-offset-reset", "middle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var err error
			runApp(t, runFlags(), func(c *cli.Context) error {
				_, err = buildConfig(c)
				return nil
			}, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestBuildImportConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		target  string
		wantErr bool
	}{
		{name: "defaults", target: targetClickHouse},
		{name: "postgres", args: []string{"--target", "postgres", "--postgres-schema", "farm"}, target: targetPostgres},
		{name: "unknown target", args: []string{"--target", "sqlite"}, wantErr: true},
		{name: "zero batch", args: []string{"--batch-size", "0"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var (
				cfg *ImportConfig
				err error
			)
			runApp(t, importFlags(), func(c *cli.Context) error {
				cfg, err = buildImportConfig(c)
				return nil
			}, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, cfg.Target)
			assert.Equal(t, 10000, cfg.BatchSize)
			assert.Equal(t, "./data", cfg.DataDir)
		})
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aquaponics/pondwatch/internal/api"
	"github.com/aquaponics/pondwatch/internal/dashboard"
	"github.com/aquaponics/pondwatch/pkg/cache"
	"github.com/aquaponics/pondwatch/pkg/checkpointer"
	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	"github.com/aquaponics/pondwatch/pkg/data/clickhouse/cursors"
	chreadings "github.com/aquaponics/pondwatch/pkg/data/clickhouse/readings"
	pgreadings "github.com/aquaponics/pondwatch/pkg/data/postgres/readings"
	"github.com/aquaponics/pondwatch/pkg/metrics"
	"github.com/aquaponics/pondwatch/pkg/source"
	"github.com/aquaponics/pondwatch/pkg/utils"
)

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"apiAddr", cfg.APIAddr,
		"window", cfg.Dashboard.Window,
		"forecast", cfg.Dashboard.Forecast,
		"epsilon", cfg.Dashboard.Epsilon,
		"fields", cfg.Dashboard.Fields,
		"align", cfg.Dashboard.Align,
		"source", cfg.Source,
		"dataDir", cfg.DataDir,
		"pondsFile", cfg.PondsFile,
		"watch", cfg.Watch,
		"cacheBackend", cfg.Cache.Backend,
		"cacheTTL", cfg.Cache.TTL,
		"checkpoint", cfg.Checkpoint,
		"checkpointInterval", cfg.CheckpointInterval,
		"sessionTTL", cfg.SessionTTL,
		"clickhouseHosts", cfg.ClickHouse.Hosts,
		"clickhouseDatabase", cfg.ClickHouse.Database,
		"readingsTableName", cfg.ReadingsTableName,
		"cursorsTableName", cfg.CursorsTableName,
		"postgresSchema", cfg.Postgres.Schema,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"site", cfg.Site,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Site:          cfg.Site,
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var chClient clickhouse.Client
	if cfg.usesClickHouse() {
		chClient, err = clickhouse.New(cfg.ClickHouse, sugar)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		defer chClient.Close()
		metricsServer.AddReadyCheck("clickhouse", chClient.Ping)
		sugar.Info("ClickHouse client created successfully")
	}

	src, csvSrc, closeSrc, err := openSource(ctx, cfg, chClient, sugar)
	if err != nil {
		return err
	}
	defer closeSrc()

	seriesCache, closeCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer closeCache() //nolint:errcheck // shutting down
	if r, ok := seriesCache.(*cache.Redis); ok {
		metricsServer.AddReadyCheck("redis", r.Ping)
	}
	cached := source.NewCached(src, seriesCache, cfg.Cache.TTL, sugar.Named("cache"), m)

	opts := []dashboard.Option{dashboard.WithRecorder(m)}
	var cp checkpointer.Checkpointer
	if cfg.Checkpoint {
		cursorsRepo, err := cursors.NewRepository(ctx, chClient, cfg.ClickHouse.Database, cfg.CursorsTableName)
		if err != nil {
			return fmt.Errorf("failed to create cursors repository: %w", err)
		}
		sugar.Infow("Cursors table ready", "tableName", cfg.CursorsTableName)
		cp = dashboard.InstrumentCheckpointer(cursorsRepo, m)
		opts = append(opts, dashboard.WithCheckpointer(cp))
	}

	svc, err := dashboard.New(cfg.Dashboard, cached, sugar.Named("dashboard"), opts...)
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}

	apiServer := api.NewServer(cfg.APIAddr, api.NewHandler(svc, sugar.Named("api"), m))
	apiErrCh := apiServer.Start()
	sugar.Infof("dashboard API listening on %s", cfg.APIAddr)

	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor(gctx, "api server", apiErrCh) })
	g.Go(func() error { return monitor(gctx, "metrics server", metricsErrCh) })

	g.Go(func() error {
		svc.StartJanitor(gctx, sugar.Named("janitor"), cfg.JanitorInterval, cfg.SessionTTL)
		return nil
	})

	if cp != nil {
		cpCfg := checkpointer.DefaultConfig()
		cpCfg.Interval = cfg.CheckpointInterval
		g.Go(func() error {
			if err := checkpointer.Start(gctx, svc.Sessions(), cp, cpCfg); err != nil {
				return fmt.Errorf("checkpointer error: %w", err)
			}
			return nil
		})
	}

	if csvSrc != nil && cfg.Watch {
		g.Go(func() error {
			if err := source.Watch(gctx, sugar.Named("watch"), csvSrc, cached); err != nil {
				return fmt.Errorf("watcher error: %w", err)
			}
			return nil
		})
	}

	// Wait for shutdown or the first failure
	err = g.Wait()

	sugar.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := apiServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("api server shutdown error", "error", shutdownErr)
	}
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	sugar.Info("shutdown complete")
	return err
}

// openSource builds the configured pond source. csv is set for CSV sources so
// they can be watched.
func openSource(
	ctx context.Context,
	cfg *Config,
	chClient clickhouse.Client,
	sugar *zap.SugaredLogger,
) (src source.Source, csv *source.CSV, closeFn func(), err error) {
	closeFn = func() {}
	switch cfg.Source {
	case sourceClickHouse:
		repo, err := chreadings.NewRepository(ctx, chClient, cfg.ClickHouse.Database, cfg.ReadingsTableName)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create readings repository: %w", err)
		}
		sugar.Infow("Readings table ready", "tableName", cfg.ReadingsTableName)
		return repo, nil, closeFn, nil

	case sourcePostgres:
		repo, err := pgreadings.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sugar.Infow("Postgres connected", "schema", cfg.Postgres.Schema)
		return repo, nil, repo.Close, nil

	default:
		if cfg.PondsFile != "" {
			ponds, err := source.ReadPondsConfig(cfg.PondsFile)
			if err != nil {
				return nil, nil, nil, err
			}
			csv = source.NewCSVFromConfig(ponds)
		} else {
			csv, err = source.NewCSVDir(cfg.DataDir)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		names, _ := csv.Ponds(ctx)
		sugar.Infow("serving CSV ponds", "ponds", names)
		return csv, csv, closeFn, nil
	}
}

// monitor waits for a server to fail or for ctx to end.
func monitor(ctx context.Context, name string, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s error: %w", name, err)
		}
		return nil
	}
}

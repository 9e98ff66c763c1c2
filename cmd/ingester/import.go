package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	chreadings "github.com/aquaponics/pondwatch/pkg/data/clickhouse/readings"
	pgreadings "github.com/aquaponics/pondwatch/pkg/data/postgres/readings"
	"github.com/aquaponics/pondwatch/pkg/loader"
	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/utils"
)

// pondImporter replaces the stored readings of a pond and returns the number of rows written.
type pondImporter func(ctx context.Context, pond string, readings sensor.Series) (int64, error)

func importCSV(c *cli.Context) error {
	cfg, err := buildImportConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ponds, err := loader.LoadDir(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", cfg.DataDir, err)
	}
	if len(ponds) == 0 {
		return fmt.Errorf("no pond csv files found in %s", cfg.DataDir)
	}
	sugar.Infow("loaded ponds", "dir", cfg.DataDir, "ponds", len(ponds))

	var imp pondImporter
	switch cfg.Target {
	case targetPostgres:
		repo, err := pgreadings.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer repo.Close()
		imp = func(ctx context.Context, pond string, readings sensor.Series) (int64, error) {
			return repo.Import(ctx, pond, readings)
		}

	default:
		chClient, err := clickhouse.New(cfg.ClickHouse, sugar)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		defer chClient.Close()
		repo, err := chreadings.NewRepository(ctx, chClient, cfg.ClickHouse.Database, cfg.ReadingsTableName)
		if err != nil {
			return fmt.Errorf("failed to create readings repository: %w", err)
		}
		imp = clickHouseImporter(repo, cfg.BatchSize)
	}

	return importPonds(ctx, sugar, ponds, imp)
}

// importPonds imports every pond in name order. A failing pond does not stop
// the others; the failures are joined into the returned error.
func importPonds(ctx context.Context, log *zap.SugaredLogger, ponds map[string]sensor.Series, imp pondImporter) error {
	var errs []error
	for _, pond := range slices.Sorted(maps.Keys(ponds)) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := imp(ctx, pond, ponds[pond])
		if err != nil {
			log.Errorw("failed to import pond", "pond", pond, "error", err)
			errs = append(errs, fmt.Errorf("pond %s: %w", pond, err))
			continue
		}
		log.Infow("imported pond", "pond", pond, "rows", n)
	}
	return errors.Join(errs...)
}

// clickHouseImporter deletes the stored readings of a pond and inserts the
// new ones in batches of batchSize.
func clickHouseImporter(repo chreadings.Repository, batchSize int) pondImporter {
	return func(ctx context.Context, pond string, readings sensor.Series) (int64, error) {
		if err := repo.DeletePond(ctx, pond); err != nil {
			return 0, err
		}
		var n int64
		for batch := range slices.Chunk(readings, batchSize) {
			if err := repo.InsertBatch(ctx, pond, batch); err != nil {
				return n, err
			}
			n += int64(len(batch))
		}
		return n, nil
	}
}

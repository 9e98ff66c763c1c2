package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	"github.com/aquaponics/pondwatch/pkg/data/clickhouse/cursors"
	chreadings "github.com/aquaponics/pondwatch/pkg/data/clickhouse/readings"
	"github.com/aquaponics/pondwatch/pkg/utils"
)

func remove(c *cli.Context) error {
	ctx := context.Background()
	sugar, err := utils.NewSugaredLogger(true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sessionID := c.String("session")
	pond := c.String("pond")
	if sessionID == "" && pond == "" {
		return errors.New("a session or a pond is required")
	}

	chCfg := buildClickHouseConfig(c)
	chClient, err := clickhouse.New(chCfg, sugar)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	defer chClient.Close()

	if sessionID != "" {
		cursorsRepo, err := cursors.NewRepository(ctx, chClient, chCfg.Database, c.String("cursors-table-name"))
		if err != nil {
			return fmt.Errorf("failed to create cursors repository: %w", err)
		}
		if err := cursorsRepo.DeleteCursors(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete cursors: %w", err)
		}
		sugar.Infof("cursors successfully removed for session %s", sessionID)
	}

	if pond != "" {
		readingsRepo, err := chreadings.NewRepository(ctx, chClient, chCfg.Database, c.String("readings-table-name"))
		if err != nil {
			return fmt.Errorf("failed to create readings repository: %w", err)
		}
		if err := readingsRepo.DeletePond(ctx, pond); err != nil {
			return fmt.Errorf("failed to delete readings: %w", err)
		}
		sugar.Infof("readings successfully removed for pond %s", pond)
	}

	return nil
}

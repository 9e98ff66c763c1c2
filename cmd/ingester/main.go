package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "ingester",
		Usage: "Store pond readings in ClickHouse or Postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Optional dotenv file loaded before flags are read",
				Value: ".env",
			},
		},
		Before: loadEnvFile,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Consume readings from Kafka into ClickHouse",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "import",
				Usage:  "Load a directory of pond CSV files into ClickHouse or Postgres",
				Flags:  importFlags(),
				Action: importCSV,
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFile exports the variables of --env-file. Variables already set win.
func loadEnvFile(c *cli.Context) error {
	path := c.String("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

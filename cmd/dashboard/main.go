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
		Name:  "dashboard",
		Usage: "Serve the pond monitoring dashboard API",
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
				Usage:  "Serve the dashboard views over HTTP",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "remove",
				Usage:  "Delete the stored cursors of a session or the stored readings of a pond",
				Flags:  removeFlags(),
				Action: remove,
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

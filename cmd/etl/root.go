package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/humanitarian-data-etl/internal/config"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
)

// cli holds state shared by subcommands after the root pre-run.
type cli struct {
	envFile string
	sources []string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "etl",
		Short: "Humanitarian data pipeline",
		Long: `
etl retrieves displacement, conflict, and disaster data from IDMC, ACLED,
IOM DTM, and ReliefWeb, matches provider place names to a country gazetteer,
and stores normalized observations.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.init()
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	root.PersistentFlags().StringSliceVar(&c.sources, "sources", nil, "limit to these sources, e.g. acled,idmc_idu (default: SOURCES or all)")

	root.AddCommand(
		newRunCmd(c),
		newRetrieveCmd(c),
		newProcessCmd(c),
		newServeCmd(c),
		newCheckCmd(c),
		newUnmatchedCmd(c),
		newGazetteerCmd(c),
	)
	return root
}

func (c *cli) init() error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(c.sources) > 0 {
		cfg.Sources = c.sources
	}
	c.cfg = cfg
	c.logger = observability.NewLogger(cfg)
	c.logger.Debug("config loaded", "country", cfg.CountryName, "sources", sourceList(cfg.Sources))
	return nil
}

func sourceList(names []string) string {
	if len(names) == 0 {
		return "all"
	}
	return strings.Join(names, ",")
}

// Package main is the entry point for the axiomme CLI: a local-first
// knowledge/memory substrate for conversational agents.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/axiomme/axiomme/internal/config"
	"github.com/axiomme/axiomme/internal/logging"
)

var (
	cfgPath string
	verbose bool
	cfg     *config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "axiomme",
		Short: "axiomme - local-first knowledge/memory substrate for conversational agents",
		Long: `axiomme ingests chat messages under a scoped identity, maintains a
rolling observation stream, reflects/compresses it, and serves hybrid
retrieval over a scoped filesystem-backed knowledge store.`,
		PersistentPreRunE: loadConfig,
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.axiomme/config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(serveCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(reflectCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logging.Configure(os.Stderr, level)

	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return cfg.Validate()
}

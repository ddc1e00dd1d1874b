package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var configPath string

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Multi-signal fusion and trading decision engine",
		Version: version,
		Long: `Fuses the signal producer fleet into weighted tensor decisions with
adaptive per-system weights, entropy-gated trade selection, Kelly-bounded
sizing, and outcome-driven learning.

serve runs the full service: WebSocket signal ingest, Kafka outcome
replay, and the read-only ops API. evaluate runs a single cycle from
JSON for inspection and backtesting harnesses.`,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the YAML config (blank runs on compiled defaults)")
	// Tunable names match the YAML keys, so accept snake_case too.
	root.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.AddCommand(serveCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(statusCmd())

	return root.ExecuteContext(ctx)
}

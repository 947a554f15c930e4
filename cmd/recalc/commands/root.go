package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/vogtb/go-recalc/internal/config"
	"github.com/vogtb/go-recalc/packages/spreadsheet"
)

// NewRootCmd builds the base command with all subcommands attached
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recalc",
		Short: "recalc - incremental spreadsheet recalculation",
		Long: `recalc evaluates spreadsheet formulas with an incremental dependency engine.

Commands:
  eval        Evaluate a single formula
  run         Populate cells from flags, recalculate and print the results
  functions   List the available functions

Use "recalc [command] --help" for more information about a command.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Config file path (YAML)")

	root.AddCommand(newEvalCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newFunctionsCmd())
	return root
}

// Execute runs the root command against os.Args
func Execute(version string) error {
	root := NewRootCmd()
	root.Version = version
	root.SetVersionTemplate(`recalc version {{.Version}}
`)
	return root.Execute()
}

// loadConfig reads --config when given, otherwise the defaults with
// environment overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

// newWorkbook builds the workbook a command operates on; logs go to
// stderr so results on stdout stay parseable
func newWorkbook(cmd *cobra.Command) (*spreadsheet.Workbook, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := cfg.Logger(cmd.ErrOrStderr())
	wb, err := cfg.NewWorkbook(logger)
	if err != nil {
		return nil, nil, err
	}
	return wb, logger, nil
}

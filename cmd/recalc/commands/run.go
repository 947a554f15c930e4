package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vogtb/go-recalc/packages/spreadsheet"
)

// newRunCmd populates a workbook from flags and prints the recalculated cells
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags]",
		Short: "Populate cells, recalculate and print the results",
		Long: `Applies --name, --set and --array assignments in that order, then prints
every assigned cell. Values starting with "=" are formulas.

Example:
  recalc run --set A1=2 --set A2==A1*3 --set A3==SUM(A1:A2)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, logger, err := newWorkbook(cmd)
			if err != nil {
				return err
			}
			names, _ := cmd.Flags().GetStringArray("name")
			cells, _ := cmd.Flags().GetStringArray("set")
			arrays, _ := cmd.Flags().GetStringArray("array")
			showDeps, _ := cmd.Flags().GetBool("deps")
			showType, _ := cmd.Flags().GetBool("type")

			for _, assignment := range names {
				name, value, err := splitAssignment(assignment)
				if err != nil {
					return err
				}
				if err := wb.SetName(name, value); err != nil {
					return fmt.Errorf("setting name %s: %w", name, err)
				}
			}

			var printed []string
			for _, assignment := range cells {
				address, value, err := splitAssignment(assignment)
				if err != nil {
					return err
				}
				if err := wb.Set(address, value); err != nil {
					return fmt.Errorf("setting %s: %w", address, err)
				}
				printed = append(printed, address)
			}
			for _, assignment := range arrays {
				address, formula, err := splitAssignment(assignment)
				if err != nil {
					return err
				}
				if err := wb.SetArray(address, formula); err != nil {
					return fmt.Errorf("setting array %s: %w", address, err)
				}
				printed = append(printed, address)
			}
			logger.Debug("workbook populated", "names", len(names), "cells", len(cells), "arrays", len(arrays))

			out := cmd.OutOrStdout()
			for _, address := range printed {
				if err := printAddress(cmd, wb, address, showType); err != nil {
					return err
				}
			}

			if showDeps {
				deps := wb.Engine().GetDependencies()
				lines := make([]string, 0, len(deps))
				for _, d := range deps {
					lines = append(lines, d.String())
				}
				slices.Sort(lines)
				fmt.Fprintln(out, "dependencies:")
				for _, line := range lines {
					fmt.Fprintf(out, "  %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayP("set", "s", nil, "Cell assignment ADDRESS=VALUE (repeatable)")
	cmd.Flags().StringArray("array", nil, "Array formula assignment RANGE==FORMULA (repeatable)")
	cmd.Flags().StringArray("name", nil, "Named value or formula NAME=VALUE (repeatable)")
	cmd.Flags().Bool("deps", false, "Print the dependency pairs after recalculation")
	cmd.Flags().BoolP("type", "t", false, "Print value types")
	return cmd
}

// splitAssignment splits on the first "=" so "A2==A1*3" yields a formula
func splitAssignment(assignment string) (string, string, error) {
	target, value, ok := strings.Cut(assignment, "=")
	target = strings.TrimSpace(target)
	if !ok || target == "" {
		return "", "", fmt.Errorf("invalid assignment %q, expected TARGET=VALUE", assignment)
	}
	return target, value, nil
}

func printAddress(cmd *cobra.Command, wb *spreadsheet.Workbook, address string, showType bool) error {
	out := cmd.OutOrStdout()
	if !strings.Contains(address, ":") {
		value, err := wb.Get(address)
		if err != nil {
			return fmt.Errorf("reading %s: %w", address, err)
		}
		fmt.Fprintf(out, "%s: %s\n", address, formatValue(value, showType))
		return nil
	}

	ref, err := spreadsheet.ParseReference(address)
	if err != nil {
		return fmt.Errorf("reading %s: %w", address, err)
	}
	for row, col := range ref.Region().Cells() {
		cell := spreadsheet.QualifiedName(ref.SheetName(), spreadsheet.CellRegion(row, col))
		value, err := wb.Get(cell)
		if err != nil {
			return fmt.Errorf("reading %s: %w", cell, err)
		}
		fmt.Fprintf(out, "%s: %s\n", cell, formatValue(value, showType))
	}
	return nil
}

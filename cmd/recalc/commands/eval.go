package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vogtb/go-recalc/packages/spreadsheet"
)

// newEvalCmd evaluates one formula against an empty workbook
func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <formula>",
		Short: "Evaluate a single formula",
		Long: `Evaluates a formula against an empty workbook and prints the result.
The leading "=" is optional.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, _, err := newWorkbook(cmd)
			if err != nil {
				return err
			}
			formula := args[0]
			if !strings.HasPrefix(formula, "=") {
				formula = "=" + formula
			}

			value := wb.Evaluate(formula)
			showType, _ := cmd.Flags().GetBool("type")
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(value, showType))
			if value.IsError() && value.ErrorCode() == spreadsheet.ErrorCodeSyntax {
				return fmt.Errorf("syntax error: %s", value.Err().Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("type", "t", false, "Print the value type alongside the value")
	return cmd
}

func formatValue(value spreadsheet.CellValue, showType bool) string {
	text := value.String()
	if value.IsEmpty() {
		text = "<empty>"
	}
	if showType {
		return fmt.Sprintf("%s (%s)", text, value.Type)
	}
	return text
}

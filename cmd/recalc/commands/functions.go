package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newFunctionsCmd lists registered functions by prefix
func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions [prefix]",
		Short: "List the available functions",
		Long:  `Lists functions whose names start with prefix (case-insensitive), with their arity.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, _, err := newWorkbook(cmd)
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) > 0 {
				prefix = args[0]
			}

			names := wb.SearchForFunctions(prefix)
			if len(names) == 0 {
				return fmt.Errorf("no functions match %q", prefix)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range names {
				def, _ := wb.GetFunctionDefinition(name)
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, arity(def.MinArgs, def.MaxArgs), def.Description)
			}
			return w.Flush()
		},
	}
}

func arity(minArgs, maxArgs int) string {
	switch {
	case maxArgs < 0:
		return fmt.Sprintf("%d+", minArgs)
	case minArgs == maxArgs:
		return fmt.Sprintf("%d", minArgs)
	}
	return fmt.Sprintf("%d-%d", minArgs, maxArgs)
}

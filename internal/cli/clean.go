package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"fca_cleaner/internal/fca"
)

func newCleanCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "clean PATTERN...",
		Short: "Print the repaired form of each pattern",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			analyzer, err := cc.Config.NewAnalyzer()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			results := make([]fca.CleanResult, 0, len(args))
			for _, pattern := range args {
				res := analyzer.Clean(pattern)
				if !asJSON {
					fmt.Fprintln(w, res.Cleaned)
					continue
				}
				results = append(results, res)
			}
			if asJSON {
				return json.NewEncoder(w).Encode(results)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full clean result as JSON")
	return cmd
}

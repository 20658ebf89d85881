package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/attachview/internal/store"
)

// newRowsCmd creates the rows command.
func newRowsCmd() *cobra.Command {
	var (
		filename   string
		limit      int
		jsonOutput bool
		countOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Query the attachment view",
		Long: `Print the materialized view rows in key order
([filename, length, document id]).`,
		Example: `  attachview rows
  attachview rows --filename report.pdf --json
  attachview rows --count`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close()

			view := s.stores.View
			if countOnly {
				n, err := view.Count(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			}

			var rows []store.IndexRow
			opts := store.ScanOptions{Filename: filename, Limit: limit}
			err = view.Scan(ctx, opts, func(r store.IndexRow) bool {
				rows = append(rows, r)
				return true
			})
			if err != nil {
				return err
			}

			p := newPrinter(cmd)
			if jsonOutput {
				return p.RowsJSON(rows)
			}
			p.Rows(rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&filename, "filename", "", "Only rows for this attachment name")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of rows (0 = all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output one JSON row per line")
	cmd.Flags().BoolVar(&countOnly, "count", false, "Print only the total number of rows")

	return cmd
}

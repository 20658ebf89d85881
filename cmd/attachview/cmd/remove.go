package cmd

import (
	"github.com/spf13/cobra"
)

// newRemoveCmd creates the remove command.
func newRemoveCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "remove ID...",
		Short: "Remove documents from the index",
		Long: `Retract every row previously indexed for each document id and forget
its state. Unknown ids are not an error.`,
		Example: `  attachview remove doc1 doc2`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close()

			p := newPrinter(cmd)
			for _, id := range args {
				rows, err := s.maintainer.Remove(ctx, id)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					p.Warning("%s: no rows to remove", id)
					continue
				}
				p.Success("%s: removed %d row(s)", id, len(rows))
				if !quiet {
					for _, r := range rows {
						p.Info("  - %s", r.Key)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not list the retracted rows")

	return cmd
}

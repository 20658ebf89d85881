package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/index"
	"github.com/Aman-CERP/attachview/internal/ui"
)

// newCheckCmd creates the check command.
func newCheckCmd() *cobra.Command {
	var (
		repair bool
		quick  bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the view against the stored document states",
		Long: `Compare the materialized view with the per-document index state.
Rows a state expects but the view lacks are reported as missing; view rows
no state accounts for are reported as orphans.

--repair rebuilds the view from the states. --quick only compares counts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if repair && quick {
				return verrors.ValidationError("--repair cannot be combined with --quick", nil)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, repair)
			if err != nil {
				return err
			}
			defer s.Close()

			checker := index.NewConsistencyChecker(s.stores.State, s.stores.View)
			p := newPrinter(cmd)

			if quick {
				ok, err := checker.QuickCheck(ctx)
				if err != nil {
					return err
				}
				if !ok {
					p.Warning("row count does not match the stored states")
					return verrors.New(verrors.ErrCodeCorruptState, "view is inconsistent", nil).
						WithSuggestion("run 'attachview check --repair'")
				}
				p.Success("row count matches the stored states")
				return nil
			}

			result, err := checker.Check(ctx)
			if err != nil {
				return err
			}

			missing, orphans := 0, 0
			for _, issue := range result.Inconsistencies {
				if issue.Type == index.InconsistencyMissingRow {
					missing++
				} else {
					orphans++
				}
			}
			p.Summary("Consistency check", []ui.Stat{
				{Label: "Documents", Value: result.Documents},
				{Label: "Rows", Value: result.Rows},
				{Label: "Missing rows", Value: missing},
				{Label: "Orphan rows", Value: orphans},
				{Label: "Duration", Value: result.Duration},
			})

			if result.Consistent() {
				p.Success("view is consistent")
				return nil
			}
			for _, issue := range result.Inconsistencies {
				p.Info("  %s %s", issue.Type, issue.Row.Key)
			}

			if !repair {
				return verrors.New(verrors.ErrCodeCorruptState,
					fmt.Sprintf("view has %d inconsistencies", len(result.Inconsistencies)), nil).
					WithSuggestion("run 'attachview check --repair'")
			}
			if err := checker.Repair(ctx, result.Inconsistencies); err != nil {
				return err
			}
			p.Success("repaired %d row(s)", len(result.Inconsistencies))
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Rebuild the view from the stored states")
	cmd.Flags().BoolVar(&quick, "quick", false, "Only compare row counts")

	return cmd
}

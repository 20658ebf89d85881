package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/feed"
	"github.com/Aman-CERP/attachview/internal/ui"
)

// applyResult is the --json line for one change.
type applyResult struct {
	Seq        int64           `json:"seq,omitempty"`
	DocumentID string          `json:"id,omitempty"`
	Line       int             `json:"line"`
	Deleted    bool            `json:"deleted,omitempty"`
	Added      int             `json:"added"`
	Removed    int             `json:"removed"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// applySummary is the final --json line.
type applySummary struct {
	Changes     int   `json:"changes"`
	Upserts     int   `json:"upserts"`
	Deletes     int   `json:"deletes"`
	RowsAdded   int   `json:"rows_added"`
	RowsRemoved int   `json:"rows_removed"`
	Failed      int   `json:"failed"`
	LastSeq     int64 `json:"last_seq"`
	DurationMS  int64 `json:"duration_ms"`
}

// newApplyCmd creates the apply command.
func newApplyCmd() *cobra.Command {
	var (
		workers     int
		stopOnError bool
		quiet       bool
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "apply [FILE|-]",
		Short: "Apply a _changes feed to the index",
		Long: `Read a CouchDB-style _changes feed (continuous or normal, with
include_docs=true) and apply every change to the index. Each change prints
the rows it retracted (-) and added (+).

Changes to the same document are applied in feed order. A change that
fails is reported and skipped unless --stop-on-error is set; the command
exits non-zero if any change failed.`,
		Example: `  curl -s 'http://localhost:5984/db/_changes?include_docs=true' | attachview apply
  attachview apply changes.json --workers 4 --stop-on-error`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			r, name, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close()

			feedCfg := s.env.cfg.Feed
			if cmd.Flags().Changed("workers") {
				feedCfg.Workers = workers
			}
			if cmd.Flags().Changed("stop-on-error") {
				feedCfg.StopOnError = stopOnError
			}

			p := newPrinter(cmd)
			enc := json.NewEncoder(cmd.OutOrStdout())
			handler := func(res feed.Result) {
				switch {
				case jsonOutput:
					_ = enc.Encode(toApplyResult(res))
				case res.Err != nil:
					p.Error("%s: %s", changeLabel(res), errorMessage(res.Err))
				case quiet || res.Delta.Empty():
				default:
					p.Info("%s", changeHeader(res))
					p.Delta(res.Delta)
				}
			}

			proc := feed.NewProcessor(s.maintainer,
				feed.WithWorkers(feedCfg.Workers),
				feed.WithBufferSize(feedCfg.BufferSize),
				feed.WithStopOnError(feedCfg.StopOnError),
				feed.WithResultHandler(handler))

			summary, runErr := proc.Run(ctx, feed.NewDecoder(r))
			if summary != nil {
				if jsonOutput {
					_ = enc.Encode(applySummary{
						Changes:     summary.Changes,
						Upserts:     summary.Upserts,
						Deletes:     summary.Deletes,
						RowsAdded:   summary.RowsAdded,
						RowsRemoved: summary.RowsRemoved,
						Failed:      summary.Failed,
						LastSeq:     summary.LastSeq,
						DurationMS:  summary.Duration.Milliseconds(),
					})
				} else {
					p.Summary("Applied "+name, []ui.Stat{
						{Label: "Changes", Value: summary.Changes},
						{Label: "Upserts", Value: summary.Upserts},
						{Label: "Deletes", Value: summary.Deletes},
						{Label: "Rows added", Value: summary.RowsAdded},
						{Label: "Rows removed", Value: summary.RowsRemoved},
						{Label: "Failed", Value: summary.Failed},
						{Label: "Last seq", Value: summary.LastSeq},
						{Label: "Duration", Value: summary.Duration},
					})
				}
			}
			if runErr != nil {
				return runErr
			}
			if summary.Failed > 0 {
				return verrors.New(verrors.ErrCodeIndexFailed,
					fmt.Sprintf("%d of %d changes failed", summary.Failed, summary.Changes), nil).
					WithSuggestion("run with --debug for per-change details")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of workers (default from config: feed.workers)")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Abort on the first failed change")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print failures and the summary")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output one JSON object per change and a summary")

	return cmd
}

func changeHeader(res feed.Result) string {
	action := "update"
	if res.Deleted {
		action = "delete"
	}
	if res.Seq > 0 {
		return fmt.Sprintf("%s %s (seq %d)", action, res.DocumentID, res.Seq)
	}
	return fmt.Sprintf("%s %s", action, res.DocumentID)
}

func changeLabel(res feed.Result) string {
	if res.DocumentID == "" {
		return fmt.Sprintf("line %d", res.Line)
	}
	return fmt.Sprintf("line %d (%s)", res.Line, res.DocumentID)
}

func errorMessage(err error) string {
	if ve, ok := verrors.As(err); ok {
		return ve.Message
	}
	return err.Error()
}

func toApplyResult(res feed.Result) applyResult {
	out := applyResult{
		Seq:        res.Seq,
		DocumentID: res.DocumentID,
		Line:       res.Line,
		Deleted:    res.Deleted,
	}
	if res.Delta != nil {
		out.Added = len(res.Delta.Add)
		out.Removed = len(res.Delta.Remove)
	}
	if res.Err != nil {
		if b, err := verrors.FormatJSON(res.Err); err == nil {
			out.Error = b
		}
	}
	return out
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/store"
	"github.com/Aman-CERP/attachview/pkg/indexer"
)

// newIndexCmd creates the index command. It runs the indexer over document
// files and prints the rows; no store is opened.
func newIndexCmd() *cobra.Command {
	var (
		jsonOutput     bool
		includeDeleted bool
	)

	cmd := &cobra.Command{
		Use:   "index [FILE...|-]",
		Short: "Print the attachment rows for documents",
		Long: `Run the attachment indexer over one or more JSON documents and print
the rows they produce, in view order. Nothing is stored.

Each file may hold several documents back to back. A document without an
id takes the file name (without extension). With no file, or "-", documents
are read from stdin.`,
		Example: `  attachview index doc1.json
  curl -s http://localhost:5984/db/doc1 | attachview index --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix := indexer.New(indexer.WithDeletedDocuments(includeDeleted))

			inputs := args
			if len(inputs) == 0 {
				inputs = []string{"-"}
			}

			var rows []store.IndexRow
			for _, input := range inputs {
				got, err := indexInput(cmd, ix, input)
				if err != nil {
					return err
				}
				rows = append(rows, got...)
			}
			slices.SortFunc(rows, func(a, b store.IndexRow) int { return a.Key.Compare(b.Key) })

			p := newPrinter(cmd)
			if jsonOutput {
				return p.RowsJSON(rows)
			}
			p.Rows(rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output one JSON row per line")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Index documents marked _deleted")

	return cmd
}

// indexInput indexes every document in one input.
func indexInput(cmd *cobra.Command, ix indexer.Indexer, input string) ([]store.IndexRow, error) {
	r, name, err := openInput(cmd, []string{input})
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	defaultID := ""
	if input != "-" {
		defaultID = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}

	var rows []store.IndexRow
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var doc store.Document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			if _, ok := verrors.As(err); ok {
				return nil, err
			}
			return nil, verrors.ValidationError(fmt.Sprintf("%s: document %d is not valid JSON", name, n), err)
		}
		if doc.ID == "" {
			doc.ID = defaultID
		}

		got, err := indexer.Rows(ix, &doc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, got...)
	}
}

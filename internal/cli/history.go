package cli

import (
	"github.com/spf13/cobra"

	"github.com/corbin/rewatch/internal/config"
	"github.com/corbin/rewatch/internal/output"
	"github.com/corbin/rewatch/internal/store"
)

type historyOptions struct {
	limit    int
	format   string
	output   string
	showDiff bool
}

func newHistoryCommand() *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded reload outcomes",
		Long: `History reads the reload journal and prints past reload outcomes,
newest last. Use --diff to append a namespace diff between the last
two reloads.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.limit, "limit", "n", 20, "number of entries to show (0 for all)")
	f.StringVarP(&opts.format, "format", "f", "text", "output format: text, yaml, json")
	f.StringVarP(&opts.output, "output", "o", "", "write to this file instead of stdout")
	f.BoolVar(&opts.showDiff, "diff", false, "append a namespace diff of the last two reloads")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *historyOptions) error {
	cfg := config.FromContext(cmd.Context())

	renderer, err := output.DefaultRegistry().Renderer(opts.format)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	journal, err := store.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.Recent(opts.limit)
	if err != nil {
		return err
	}

	data, err := renderer.Render(entries)
	if err != nil {
		return err
	}

	if opts.showDiff && len(entries) >= 2 {
		diff, diffErr := store.DiffEntries(entries[len(entries)-2], entries[len(entries)-1])
		if diffErr != nil {
			return diffErr
		}

		if diff != "" {
			data = append(data, '\n')
			data = append(data, []byte(diff)...)
		}
	}

	var w output.Writer
	if opts.output == "" {
		w = output.NewStdoutWriter(cmd.OutOrStdout())
	} else {
		w = output.NewFileWriter(opts.output)
	}

	return w.Write(data)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corbin/rewatch/internal/version"
)

func newVersionCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Display the version, git commit, build date, Go version, and platform.",
		Args:  cobra.NoArgs,
		// Override parent PersistentPreRunE — version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetInfo()

			switch format {
			case "json":
				j, err := info.JSON()
				if err != nil {
					return err
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), j)

				return err
			case "text":
				_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())

				return err
			default:
				return &ExitError{Code: 2, Err: fmt.Errorf("unknown output format %q (available: text, json)", format)}
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json")

	return cmd
}

// -- cmd/results.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/observability"
	"github.com/xkilldash9x/courier-cli/internal/results"
)

func newResultsCmd(opts *rootOptions) *cobra.Command {
	var (
		path       string
		follow     bool
		fromStart  bool
		failedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Render recorded delivery results.",
		Long: `Results reads the JSONL results file and prints one line per delivery.
With --follow it tails the file and prints results as a concurrent run
records them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = opts.cfg.Results.Path
			}
			out := cmd.OutOrStdout()

			if follow {
				log := observability.GetLogger().Named("results")
				err := results.Follow(cmd.Context(), path, fromStart, log, func(r schemas.DeliveryResult) {
					if failedOnly && r.Succeeded {
						return
					}
					printResult(out, r)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			recorded, skipped, err := results.ReadFile(path)
			if err != nil {
				return err
			}
			var succeeded, failed int
			for _, r := range recorded {
				if r.Succeeded {
					succeeded++
				} else {
					failed++
				}
				if failedOnly && r.Succeeded {
					continue
				}
				printResult(out, r)
			}
			if skipped > 0 {
				fmt.Fprintf(out, "skipped %d unreadable line(s)\n", skipped)
			}
			fmt.Fprintf(out, "%d result(s): %d succeeded, %d failed\n", len(recorded), succeeded, failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "results file (default is the configured results.path)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "tail the file and print results as they arrive")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "with --follow, replay existing results before tailing")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "print failed deliveries only")
	return cmd
}

func printResult(out io.Writer, r schemas.DeliveryResult) {
	status := "ok  "
	detail := ""
	if !r.Succeeded {
		status = "fail"
		if r.Error != nil {
			detail = fmt.Sprintf("  [%s] %s", r.Error.Code, r.Error.Message)
		}
	}
	fmt.Fprintf(out, "%s  %s  %-14s %s%s\n",
		r.Timestamp.Format(time.RFC3339), status, r.TargetID, r.Destination, detail)
}

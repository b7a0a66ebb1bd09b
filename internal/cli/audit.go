package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ErrBlockingViolations is returned by audit when the store is inconsistent.
var ErrBlockingViolations = errors.New("blocking consistency violations found")

func (a *app) auditCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check user, apartment and agreement records for drift",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			res, err := svc.Audit(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if len(res.Violations) == 0 {
				fmt.Fprintln(out, "no violations")
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SEVERITY\tRULE\tENTITY\tID\tMESSAGE")
				for _, v := range res.Violations {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Severity, v.Rule, v.Entity, v.EntityID, v.Message)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if res.HasBlocking() {
				return ErrBlockingViolations
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

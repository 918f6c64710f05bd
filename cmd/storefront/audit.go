package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the authentication audit log",
	}
	cmd.AddCommand(newAuditQueryCmd())
	return cmd
}

func newAuditQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit records, newest first",
		Example: `  storefront audit query --email owner@shop.com
  storefront audit query --ip 203.0.113.7 --status failed --since 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := audit.Query{}
			q.Email, _ = cmd.Flags().GetString("email")
			q.IPAddress, _ = cmd.Flags().GetString("ip")
			q.Limit, _ = cmd.Flags().GetInt("limit")
			if action, _ := cmd.Flags().GetString("action"); action != "" {
				q.Action = audit.Action(action)
				if !q.Action.Valid() {
					return fmt.Errorf("unknown action %q", action)
				}
			}
			if status, _ := cmd.Flags().GetString("status"); status != "" {
				q.Status = audit.Status(status)
				if !q.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
				q.Since = time.Now().Add(-since)
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			return withAuth(cmd, func(_ *app, _ *auth.Authenticator, auditLog *audit.Logger) error {
				records, err := auditLog.Query(cmd.Context(), q)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(records)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tACTION\tSTATUS\tEMAIL\tIP\tREASON")
				for _, rec := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						rec.Timestamp.Format(time.RFC3339), rec.Action, rec.Status,
						rec.Email, rec.IPAddress, rec.Reason)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().String("email", "", "Only records for this email")
	cmd.Flags().String("ip", "", "Only records from this address")
	cmd.Flags().String("action", "", "Only this action (e.g. login_failed)")
	cmd.Flags().String("status", "", "Only this status (success, failed, blocked)")
	cmd.Flags().Duration("since", 0, "Only records newer than this (e.g. 24h)")
	cmd.Flags().Int("limit", audit.DefaultQueryLimit, "Maximum records to print")
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

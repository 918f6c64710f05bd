package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage admin accounts",
	}
	cmd.AddCommand(newAccountCreateCmd(), newAccountListCmd(), newAccountUnlockCmd())
	return cmd
}

// withAuth opens the stores, builds the authenticator and audit logger,
// and runs fn.
func withAuth(cmd *cobra.Command, fn func(a *app, authn *auth.Authenticator, auditLog *audit.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	authn, auditLog, err := a.authenticator()
	if err != nil {
		return err
	}
	return fn(a, authn, auditLog)
}

func newAccountCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Example: `  storefront account create --name "Shop Owner" --email owner@shop.com --password 'long secret'
  storefront account create --email packer@shop.com --password 'long secret' --role viewer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			roleName, _ := cmd.Flags().GetString("role")
			role, err := auth.ParseRole(roleName)
			if err != nil {
				return err
			}
			if name == "" {
				name, _, _ = strings.Cut(email, "@")
			}
			return withAuth(cmd, func(_ *app, authn *auth.Authenticator, _ *audit.Logger) error {
				acct, err := authn.CreateAccount(cmd.Context(), auth.NewAccount{
					Name: name, Email: email, Password: password, Role: role,
				}, cliMeta())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Created %s (%s) with role %s\n", acct.Email, acct.ID, acct.Role)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "Display name (defaults to the email's local part)")
	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().String("password", "", "Initial password")
	cmd.Flags().String("role", string(auth.RoleAdmin), "admin, editor or viewer")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, func(_ *app, authn *auth.Authenticator, _ *audit.Logger) error {
				accounts, err := authn.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tACTIVE\tLOCKED\tLAST LOGIN")
				for _, acct := range accounts {
					last := "never"
					if acct.LastLogin != nil {
						last = acct.LastLogin.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%s\n",
						acct.ID, acct.Email, acct.Role, acct.IsActive, acct.IsLocked, last)
				}
				return tw.Flush()
			})
		},
	}
}

func newAccountUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <id|email>",
		Short: "Clear an account's lockout and failed-login count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, func(a *app, authn *auth.Authenticator, _ *audit.Logger) error {
				id := args[0]
				if strings.Contains(id, "@") {
					acct, err := a.accounts.GetAccountByEmail(cmd.Context(), auth.NormalizeEmail(id))
					if err != nil {
						if errors.Is(err, auth.ErrAccountNotFound) {
							return fmt.Errorf("no account for %s", id)
						}
						return err
					}
					id = acct.ID
				}
				acct, err := authn.UnlockAccount(cmd.Context(), id, cliMeta())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Unlocked %s\n", acct.Email)
				return nil
			})
		},
	}
}

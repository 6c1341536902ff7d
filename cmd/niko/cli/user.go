package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikoai/niko/internal/config"
	"github.com/nikoai/niko/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
		Long:  "Create, list, delete and restore accounts directly in the credential store.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeleteCmd())
	cmd.AddCommand(newUserRestoreCmd())
	cmd.AddCommand(newUserPurgeCmd())

	return cmd
}

// withService opens the store and runs fn with an auth service that cannot
// issue tokens. The store is closed afterwards.
func withService(fn func(ctx context.Context, svc *service.AuthService) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := newAuthService(cfg, store, "", logger)
	if err != nil {
		return err
	}
	return fn(context.Background(), svc)
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		password string
		email    string
		fullName string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account",
		Example: `  niko user create alice --password 'Passw0rd!'
  niko user create root --admin   # prompts for password`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(args[0], password, email, fullName, admin)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&fullName, "name", "", "Full name")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant administrative privilege")

	return cmd
}

func runUserCreate(name, password, email, fullName string, admin bool) error {
	if password == "" {
		var err error
		if password, err = readNewPassword(); err != nil {
			return err
		}
	}

	return withService(func(ctx context.Context, svc *service.AuthService) error {
		id, err := svc.CreateIdentity(ctx, service.CreateInput{
			RegisterInput: service.RegisterInput{
				Name:     name,
				Secret:   password,
				Email:    email,
				FullName: fullName,
			},
			IsPrivileged: admin,
		})
		if err != nil {
			return err
		}
		kind := "account"
		if id.IsPrivileged {
			kind = "admin account"
		}
		fmt.Printf("Created %s %q\n", kind, id.Name)
		return nil
	})
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var (
		jsonOutput     bool
		includeDeleted bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput, includeDeleted)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&includeDeleted, "all", false, "Include accounts pending deletion")

	return cmd
}

func runUserList(jsonOutput, includeDeleted bool) error {
	return withService(func(ctx context.Context, svc *service.AuthService) error {
		ids, err := svc.ListIdentities(ctx, config.ListFilter{IncludeDeleted: includeDeleted})
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ids)
		}

		if len(ids) == 0 {
			fmt.Println("No accounts. Use 'niko user create' to create one.")
			return nil
		}

		fmt.Printf("%-30s %-6s %-20s %-20s\n", "USERNAME", "ADMIN", "LAST LOGIN", "PURGE AFTER")
		fmt.Printf("%-30s %-6s %-20s %-20s\n", "--------", "-----", "----------", "-----------")
		for _, id := range ids {
			admin := "no"
			if id.IsPrivileged {
				admin = "yes"
			}
			lastLogin := "-"
			if id.LastLoginAt != nil {
				lastLogin = id.LastLoginAt.Format(time.DateTime)
			}
			purge := "-"
			if id.PendingDeletion() {
				purge = id.PurgeAfter(svc.Retention()).Format(time.DateTime)
			}
			fmt.Printf("%-30s %-6s %-20s %-20s\n", id.Name, admin, lastLogin, purge)
		}
		return nil
	})
}

// ---------- user delete / restore / purge ----------

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Schedule an account for deletion",
		Long: `Mark an account as deleted. It is removed by the purge sweep once the
retention period has passed; logging in before then restores it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *service.AuthService) error {
				id, err := svc.RequestDeletion(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Account %q scheduled for deletion (purge after %s)\n",
					id.Name, id.PurgeAfter(svc.Retention()).Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newUserRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <username>",
		Short: "Cancel a pending deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *service.AuthService) error {
				id, err := svc.RestoreIdentity(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Account %q restored\n", id.Name)
				return nil
			})
		},
	}
}

func newUserPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove accounts whose retention period has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *service.AuthService) error {
				names, err := svc.PurgeExpired(ctx)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Println("Nothing to purge.")
					return nil
				}
				for _, n := range names {
					fmt.Printf("Purged %q\n", n)
				}
				return nil
			})
		},
	}
}

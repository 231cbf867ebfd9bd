package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"flowly/internal/domain/transaction"
)

func newRootCmd(open appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Flowly admin CLI: schema, sync and category maintenance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCmd(open),
		newSyncAllCmd(open),
		newSyncConnectionCmd(open),
		newSeedCategoriesCmd(open),
		newUnlinkAccountCmd(open),
	)
	return root
}

// withApp opens the app for the duration of one command.
func withApp(open appFactory, fn func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := open(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a)
	}
}

func newMigrateCmd(open appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app) error {
			if err := a.db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "schema up to date")
			return nil
		}),
	}
}

func newSyncAllCmd(open appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Run one full sync pass over every active connection",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app) error {
			result := a.sync.RunFullPass(cmd.Context())
			if err := printJSON(a, result); err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d connections failed", result.Failed, result.Connections)
			}
			return nil
		}),
	}
}

func newSyncConnectionCmd(open appFactory) *cobra.Command {
	var connectionID string

	cmd := &cobra.Command{
		Use:   "sync-connection",
		Short: "Sync accounts and transactions for one connection",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app) error {
			result, err := a.sync.SyncConnection(cmd.Context(), connectionID)
			if result != nil {
				if perr := printJSON(a, result); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&connectionID, "id", "", "Connection ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newSeedCategoriesCmd(open appFactory) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-categories",
		Short: "Load category mappings from a YAML file, or the built-in defaults",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app) error {
			mappings, err := loadCategoryMap(file)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(mappings))
			for key := range mappings {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				if err := a.categories.Upsert(cmd.Context(), key, mappings[key]); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "seeded %d category mappings\n", len(keys))
			return nil
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file with category mappings (defaults to the built-in map)")
	return cmd
}

func newUnlinkAccountCmd(open appFactory) *cobra.Command {
	var userID, accountID string

	cmd := &cobra.Command{
		Use:   "unlink-account",
		Short: "Remove an account for a user and keep it from coming back on sync",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app) error {
			acc, err := a.accounts.UnlinkAccount(cmd.Context(), accountID, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "unlinked account %s (%s) from connection %s\n", acc.ID, acc.ExternalID, acc.ConnectionID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owning user ID")
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func loadCategoryMap(path string) (transaction.CategoryMap, error) {
	if path == "" {
		return transaction.DefaultCategoryMap()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open category map: %w", err)
	}
	defer f.Close()

	m, err := transaction.ParseCategoryMap(f)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, errors.New("category map file has no mappings")
	}
	return m, nil
}

func printJSON(a *app, v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

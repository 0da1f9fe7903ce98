package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cronnarc/cronguard/internal/store"
)

var (
	migrateFrom string
	migrateTo   string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy a JSON file store into SQLite",
	Long: `Copy monitors, groups, notifications, incidents and pings from a JSON
file store into a SQLite database. Nothing is copied when the database
already holds monitors.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateFrom == "" || migrateTo == "" {
			return fmt.Errorf("--from and --to are required")
		}
		sq, err := store.NewSQLiteStore(migrateTo)
		if err != nil {
			return err
		}
		defer sq.Close()

		n, err := sq.MigrateFromJSON(cmd.Context(), migrateFrom)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", migrateFrom, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %d monitors into %s\n", n, migrateTo)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "JSON store file")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "SQLite database file")
}

// legacyJSONPath is where serve looks for a JSON store next to the SQLite file.
func legacyJSONPath(sqlitePath string) string {
	dir := filepath.Dir(sqlitePath)
	base := strings.TrimSuffix(filepath.Base(sqlitePath), filepath.Ext(sqlitePath))
	return filepath.Join(dir, base+".json")
}

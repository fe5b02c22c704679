package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"raydock/internal/storage/sqlite"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Back up and restore the inbound database",
}

var dbExportCmd = &cobra.Command{
	Use:         "export [file]",
	Short:       "Write a copy of the database",
	Long:        "Write a consistent copy of the database. Safe while 'raydock serve' is running.",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skipApp": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dest := backupName(time.Now())
		if len(args) == 1 {
			dest = args[0]
		}
		if err := sqlite.Export(cmd.Context(), cfg.Database, dest); err != nil {
			return err
		}
		fmt.Printf("Database exported to %s\n", dest)
		return nil
	},
}

var dbImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the database with a copy",
	Long: `Replace the database with a previously exported copy. The current
database is kept next to it with a .bak suffix.

Stop 'raydock serve' first and run 'raydock apply' afterwards.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"skipApp": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		backup, err := sqlite.Import(cmd.Context(), args[0], cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to import database: %w", err)
		}
		fmt.Printf("Database imported from %s\n", args[0])
		if backup != "" {
			fmt.Printf("Previous database saved to %s\n", backup)
		}
		return nil
	},
}

// backupName returns the default export file name for t.
func backupName(t time.Time) string {
	return fmt.Sprintf("raydock_backup_%s.db", t.Format("20060102_150405"))
}

func init() {
	dbCmd.AddCommand(dbExportCmd)
	dbCmd.AddCommand(dbImportCmd)
}

package cmd

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/banterbot/banter/banter"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database (create/migrate the schema)",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("BANTER_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"BANTER_DATABASE not set (must be a valid database " +
					"connection string or sqlite file path)",
			)
		}

		_, err := banter.CreateDB(
			ctx,
			cfg.DatabaseType,
			cfg.Database,
			nil,
			slog.Default(),
		)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		fmt.Fprintln(
			cmd.OutOrStdout(),
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}

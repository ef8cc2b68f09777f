package main

import (
	"fmt"

	"github.com/mdtaxnav/navigator/config"
	"github.com/mdtaxnav/navigator/store"
	"github.com/spf13/cobra"
)

// migrateCmd applies pending schema migrations and exits
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Long: `Open the configured SQLite database, apply any pending schema
migrations, and print the resulting schema version. serve runs
migrations on startup too; this command exists for deploy pipelines
that migrate before rolling new binaries.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Store.Path
	if path == "" {
		return fmt.Errorf("store.path is not configured; nothing to migrate")
	}

	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Printf("database %s at schema version %d\n", path, version)
	return nil
}

// loadConfig loads from --config when given, standard locations
// otherwise.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	cfg, _, err := config.Load()
	return cfg, err
}

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	dirpostgres "github.com/MrEthical07/glidauth/directory/postgres"
)

// NewMigrateCmd creates the migrate subcommand for the Postgres directory.
func NewMigrateCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the Postgres directory schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Directory.DSN == "" {
				return oops.Code("CONFIG_INVALID").Errorf("directory.dsn is required")
			}
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(cmd, cfg.Directory.DSN, action)
		},
	}
	cmd.Flags().String("directory-dsn", "", "Postgres connection string")
	return cmd
}

func runMigrate(cmd *cobra.Command, dsn, action string) error {
	migrator, err := dirpostgres.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	switch action {
	case "down":
		if err := migrator.Down(); err != nil {
			return err
		}
		cmd.Println("Directory schema dropped")
	case "version":
		v, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		cmd.Printf("version %d (dirty: %t)\n", v, dirty)
	default:
		if err := migrator.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
	}
	return nil
}

func migrateUp(dsn string) error {
	migrator, err := dirpostgres.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()
	return migrator.Up()
}

package main

import (
	"database/sql"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vbonduro/itemshelf/internal/config"
	"github.com/vbonduro/itemshelf/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(m *db.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "migrations applied")
			return printVersion(cmd, m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(m *db.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "reverted one migration")
			return printVersion(cmd, m)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(m *db.Migrator) error {
			return printVersion(cmd, m)
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func withMigrator(cmd *cobra.Command, fn func(m *db.Migrator) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	database, err := db.OpenUnmigrated(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func(d *sql.DB) { _ = d.Close() }(database)

	m, err := db.NewMigrator(database)
	if err != nil {
		return err
	}
	return fn(m)
}

func printVersion(cmd *cobra.Command, m *db.Migrator) error {
	version, dirty, ok, err := m.Version()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cyan := color.New(color.FgCyan)
	switch {
	case !ok:
		fmt.Fprintln(out, "schema version: none")
	case dirty:
		fmt.Fprintf(out, "schema version: %s ", cyan.Sprint(version))
		color.New(color.FgRed, color.Bold).Fprintln(out, "(dirty)")
	default:
		fmt.Fprintf(out, "schema version: %s\n", cyan.Sprint(version))
	}
	return nil
}

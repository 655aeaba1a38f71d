package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"julianmorley.ca/con-plar/megamart/internal/migrations"
	"julianmorley.ca/con-plar/megamart/pkg/global"
	"julianmorley.ca/con-plar/megamart/pkg/logger"
)

func migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "manage the SQL schema",
	}
	cmd.AddCommand(migrateUpCommand(), migrateDownCommand(), migrateCreateCommand())
	return cmd
}

func migrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "migrate all the way up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.LoadConfig()
			if err != nil {
				return err
			}
			log := logger.New(logger.Options{Service: cfg.Service, Env: cfg.Env, Level: cfg.LogLevel})
			return migrations.Up(cfg.Database.Driver, cfg.Database.DSN, log)
		},
	}
}

func migrateDownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "revert migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			cfg, err := global.LoadConfig()
			if err != nil {
				return err
			}
			log := logger.New(logger.Options{Service: cfg.Service, Env: cfg.Env, Level: cfg.LogLevel})
			return migrations.Down(cfg.Database.Driver, cfg.Database.DSN, steps, log)
		},
	}
}

func migrateCreateCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "create [driver] [name]",
		Short: "create empty up and down scripts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, down, err := migrations.Create(dir, args[0], args[1], time.Now())
			if err != nil {
				return err
			}
			fmt.Println("Created SQL up script:", up)
			fmt.Println("Created SQL down script:", down)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "internal/migrations", "migrations root directory")
	return cmd
}

// Command bunquery-cli offers operator subcommands around the
// bunquery gateway: running it in the foreground, applying metadata
// store migrations, and listing registered drivers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bunquery/internal/config"
	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
	_ "github.com/kartikbazzad/bunbase/bunquery/internal/driver/lakehouse"
	_ "github.com/kartikbazzad/bunbase/bunquery/internal/driver/relational"
	_ "github.com/kartikbazzad/bunbase/bunquery/internal/driver/warehouse"
	"github.com/kartikbazzad/bunbase/bunquery/internal/metadata"
)

var rootCmd = &cobra.Command{
	Use:   "bunquery",
	Short: "bunquery streaming query gateway CLI",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bunquery gateway in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := exec.LookPath("bunquery-server")
			if err != nil {
				return fmt.Errorf("locate bunquery-server binary: %w", err)
			}
			c := exec.Command(bin, "--config", configPath)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to the bunquery TOML config file")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending metadata store migrations (postgres backend only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.MetadataBackend != "postgres" {
				return fmt.Errorf("migrate is only meaningful for metadata_backend=postgres, got %q", cfg.MetadataBackend)
			}
			if cfg.MigrationsPath == "" {
				return fmt.Errorf("migrations_path must be set to run migrate")
			}
			store, err := metadata.NewPostgresStore(context.Background(), cfg.PostgresDSN, cfg.MigrationsPath)
			if err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			store.Close()
			fmt.Println("migrations applied")
			return nil
		},
	}
	migrateCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to the bunquery TOML config file")

	driversCmd := &cobra.Command{
		Use:   "drivers",
		Short: "List backend driver types registered in this build",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range driver.Types() {
				fmt.Println(t)
			}
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, driversCmd)
}

package main

import (
	"log"
	"os"

	"codesync/api/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "codesync",
	Short: "Collaborative code sync server",
	Long:  `codesync hosts shared projects with snapshot history and real-time editing rooms.`,
	// Serve is the default so the binary keeps working without a subcommand.
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file layered over the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Load(), nil
	}
	return config.LoadFile(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("codesync: %v", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/database"
	"github.com/blues/pes/internal/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pes",
	Short: "Project lifecycle and escrow service",
	// 不带子命令时直接启动服务
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and payout scheduler",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if _, err := database.Init(cfg.Database); err != nil {
		return err
	}
	logger.Info("Database migrated")
	return nil
}

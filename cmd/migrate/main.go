package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mordhub/internal/core/config"
	"mordhub/internal/core/database"
	"mordhub/internal/core/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "config file (default $CONFIG_PATH or ./configs/config.yaml)")
	dsn := pflag.String("dsn", "", "database url, overrides DATABASE_URL")
	logLevel := pflag.String("gorm-log", "", "gorm log level: silent, error, warn or info")
	pflag.Parse()

	_ = godotenv.Load()
	if *dsn != "" {
		_ = os.Setenv("DATABASE_URL", *dsn)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log, cleanup := logger.New(cfg.Log.Level, cfg.Log.JSON)
	defer cleanup()

	lvl := cfg.DB.LogLevel
	if *logLevel != "" {
		lvl = *logLevel
	}
	db, err := database.NewGorm(database.Opts{DSN: cfg.DB.DSN, MaxOpenConns: 1, LogLevel: lvl})
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := database.Migrate(db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("schema migrated", zap.Strings("tables", []string{"users", "loadouts", "images", "likes"}))
}

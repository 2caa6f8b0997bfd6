package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/stockloghq/stocklog-backend/pkg/config"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|status")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.SQLDB()
	if err != nil {
		logg.Error(ctx, "failed to get sql handle", err)
		os.Exit(1)
	}

	switch *cmd {
	case "up":
		if err := migrate.Up(ctx, sqlDB); err != nil {
			logg.Error(ctx, "migration failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "migrations applied")
	case "status":
		if err := migrate.Status(ctx, sqlDB); err != nil {
			logg.Error(ctx, "migration status failed", err)
			os.Exit(1)
		}
	default:
		logg.Error(ctx, "unknown migration command", nil)
		os.Exit(1)
	}
}

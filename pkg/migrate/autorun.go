package migrate

import (
	"context"

	"github.com/stockloghq/stocklog-backend/pkg/config"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations on boot when enabled. Intended for
// dev environments; production deploys run migrations explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.AutoMigrate {
		return nil
	}
	sqlDB, err := client.SQLDB()
	if err != nil {
		return err
	}
	if logg != nil {
		logg.Info(ctx, "running boot migrations")
	}
	return Up(ctx, sqlDB)
}

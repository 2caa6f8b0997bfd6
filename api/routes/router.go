package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockloghq/stocklog-backend/api/controllers"
	"github.com/stockloghq/stocklog-backend/api/middleware"
	"github.com/stockloghq/stocklog-backend/internal/audit"
	"github.com/stockloghq/stocklog-backend/internal/backup"
	"github.com/stockloghq/stocklog-backend/internal/catalog"
	"github.com/stockloghq/stocklog-backend/internal/ledger"
	"github.com/stockloghq/stocklog-backend/internal/restore"
	"github.com/stockloghq/stocklog-backend/internal/stocktake"
	"github.com/stockloghq/stocklog-backend/pkg/config"
	"github.com/stockloghq/stocklog-backend/pkg/db"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/redis"
)

// Deps bundles everything the HTTP surface needs. Optional dependencies
// (redis, metrics registry) may be nil.
type Deps struct {
	Cfg   *config.Config
	Logg  *logger.Logger
	DB    db.Pinger
	Redis *redis.Client

	Catalog   catalog.Service
	Ledger    ledger.Service
	Stocktake stocktake.Service
	Audit     audit.Service
	Backup    backup.Service
	Restore   restore.Service

	MetricsRegistry *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Cfg
	logg := deps.Logg

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	// explicit nil checks keep typed-nil pointers out of the interfaces
	var redisPinger pinger
	if deps.Redis != nil {
		redisPinger = deps.Redis
	}
	var counter middleware.RateCounter
	if deps.Redis != nil {
		counter = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, redisPinger))
	})

	if deps.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	writeLimit := middleware.WriteRateLimit(cfg.RateLimit, counter, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/items", func(r chi.Router) {
			r.Get("/", controllers.ItemList(deps.Catalog, logg))
			r.Get("/categories", controllers.ItemCategories(deps.Catalog, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.RoleOperator, logg), writeLimit)
				r.Post("/", controllers.ItemCreate(deps.Catalog, logg))
				r.Put("/{id}", controllers.ItemUpdate(deps.Catalog, logg))
				r.Post("/{id}/disable", controllers.ItemDisable(deps.Catalog, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.RoleAdmin, logg), writeLimit)
				r.Post("/import", controllers.ItemImport(deps.Catalog, deps.Audit, logg))
			})
		})

		r.Route("/warehouses", func(r chi.Router) {
			r.Get("/", controllers.WarehouseList(deps.Catalog, logg))
			r.With(middleware.RequireRole(enums.RoleAdmin, logg), writeLimit).
				Post("/", controllers.WarehouseCreate(deps.Catalog, logg))
		})

		r.Route("/stock", func(r chi.Router) {
			r.Get("/", controllers.StockOverview(deps.Ledger, logg))
			r.Get("/warnings", controllers.StockWarnings(deps.Ledger, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.RoleOperator, logg), writeLimit)
				r.Post("/in", controllers.StockIn(deps.Ledger, logg))
				r.Post("/out", controllers.StockOut(deps.Ledger, logg))
				r.Post("/in/batch", controllers.StockInBatch(deps.Ledger, logg))
				r.Post("/out/batch", controllers.StockOutBatch(deps.Ledger, logg))
			})
		})

		r.Route("/tx", func(r chi.Router) {
			r.Get("/", controllers.TxList(deps.Ledger, logg))
			r.With(middleware.RequireRole(enums.RoleAdmin, logg)).
				Delete("/", controllers.TxClear(deps.Ledger, deps.Audit, logg))
		})

		r.Route("/stocktakes", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
			r.Get("/", controllers.StocktakeList(deps.Stocktake, logg))
			r.Get("/{id}", controllers.StocktakeGet(deps.Stocktake, logg))
			r.Group(func(r chi.Router) {
				r.Use(writeLimit)
				r.Post("/", controllers.StocktakeCreate(deps.Stocktake, logg))
				r.Post("/{id}/import", controllers.StocktakeImport(deps.Stocktake, logg))
				r.Post("/{id}/apply", controllers.StocktakeApply(deps.Stocktake, deps.Audit, logg))
				r.Post("/{id}/rollback", controllers.StocktakeRollback(deps.Stocktake, deps.Audit, logg))
				r.Delete("/{id}", controllers.StocktakeDelete(deps.Stocktake, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
			r.Get("/backup", controllers.BackupExport(deps.Backup, deps.Audit, logg))
			r.Route("/restore-jobs", func(r chi.Router) {
				r.Get("/", controllers.RestoreList(deps.Restore, logg))
				r.Get("/{id}", controllers.RestoreGet(deps.Restore, logg))
				r.Post("/", controllers.RestoreCreate(deps.Restore, deps.Audit, logg))
				r.Post("/{id}/run", controllers.RestoreRun(deps.Restore, logg))
				r.Post("/{id}/cancel", controllers.RestoreCancel(deps.Restore, deps.Audit, logg))
			})
		})

		r.With(middleware.RequireRole(enums.RoleAdmin, logg)).
			Get("/audit", controllers.AuditList(deps.Audit, logg))

		r.Get("/reports/summary", controllers.ReportSummary(deps.Ledger, logg))
	})

	return r
}

type pinger interface {
	Ping(ctx context.Context) error
}

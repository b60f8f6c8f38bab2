package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletd/internal/config"
	"github.com/congo-pay/walletd/internal/ledger"
	"github.com/congo-pay/walletd/internal/middleware"
	"github.com/congo-pay/walletd/internal/notification"
	"github.com/congo-pay/walletd/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	store, err := newStore(d)
	if err != nil {
		return err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	notifiers := notification.Fanout{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil && d.Cfg.EventsChannel != "" {
		notifiers = append(notifiers, notification.NewRedisPublisher(d.Cache, d.Cfg.EventsChannel))
	}

	engine := ledger.NewEngine(store,
		ledger.WithMaxAttempts(d.Cfg.MaxAttempts),
		ledger.WithBackoff(d.Cfg.RetryBackoff),
		ledger.WithLogger(d.Logger),
		ledger.WithNotifier(notifiers),
	)
	walletHandler := wallet.NewHandler(wallet.NewService(store))
	ledgerHandler := ledger.NewHandler(engine)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterWalletRoutes(api, walletHandler, ledgerHandler)

	return nil
}

func newStore(d Deps) (wallet.Store, error) {
	switch d.Cfg.StoreBackend {
	case config.BackendPostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when STORE_BACKEND=%s", config.BackendPostgres)
		}
		store := wallet.NewPostgresStore(d.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when STORE_BACKEND=%s", config.BackendRedis)
		}
		return wallet.NewRedisStore(d.Cache, d.Cfg.RedisKeyPrefix), nil
	case config.BackendMemory, "":
		return wallet.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", d.Cfg.StoreBackend)
	}
}

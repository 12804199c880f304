package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-markets/treasury/internal/audit"
	"github.com/meridian-markets/treasury/internal/bus"
	"github.com/meridian-markets/treasury/internal/config"
	"github.com/meridian-markets/treasury/internal/fees"
	"github.com/meridian-markets/treasury/internal/ledger"
	"github.com/meridian-markets/treasury/internal/middleware"
	"github.com/meridian-markets/treasury/internal/outbox"
	"github.com/meridian-markets/treasury/internal/recurring"
	"github.com/meridian-markets/treasury/internal/validation"
	"github.com/meridian-markets/treasury/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services holds the background components the entrypoint must start and
// stop alongside the HTTP listener.
type Services struct {
	Relay     *outbox.Relay
	Scheduler *recurring.Scheduler
}

// Setup configures middlewares and all application routes, returning the
// background services built from the same wiring.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.Development() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	// Stores: Postgres when available, in-memory for dev.
	var (
		ledgerBackend ledger.Ledger
		events        outbox.Store
		trail         audit.Store
		ruleStore     recurring.Store
		wdStore       withdrawal.Store
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		events = outbox.NewPostgresStore(d.DB)
		trail = audit.NewPostgresStore(d.DB)
		ruleStore = recurring.NewPostgresStore(d.DB)
		wdStore = withdrawal.NewPostgresStore(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		events = outbox.NewInMemory()
		trail = audit.NewInMemory()
		ruleStore = recurring.NewMemoryStore()
		wdStore = withdrawal.NewMemoryStore(ledgerBackend, events, trail)
	}

	estimator := fees.NewEstimator(fees.DefaultConfig())
	recorder := audit.NewRecorder(trail)
	withdrawalSvc := withdrawal.NewService(wdStore, estimator, validation.NewRuleValidator(), recorder, d.Logger)
	recurringSvc := recurring.NewService(ruleStore, recorder, d.Logger)

	// Background plumbing: the relay drains the outbox to the bus; the
	// scheduler materializes due rules.
	var publisher bus.Publisher
	if d.Cache != nil {
		publisher = bus.NewStreamPublisher(d.Cache, "")
	} else {
		publisher = bus.NewLoggerPublisher(d.Logger)
	}
	relay := outbox.NewRelay(events, publisher, d.Cfg.OutboxInterval, d.Cfg.OutboxBatchSize, d.Logger)

	var claims recurring.Claimer
	if d.Cache != nil {
		claims = recurring.NewRedisClaimer(d.Cache)
	} else {
		claims = recurring.NewMemoryClaimer()
	}
	executors := map[recurring.Kind]recurring.Executor{
		recurring.KindBankWire:         recurring.NewWireExecutor(withdrawalSvc),
		recurring.KindInternalTransfer: recurring.NewTransferExecutor(ledgerBackend),
		recurring.KindPaymentLink:      recurring.NewPaymentLinkExecutor(nil, events),
	}
	scheduler := recurring.NewScheduler(ruleStore, claims, executors, d.Cfg.SchedulerWorkers, d.Logger)

	withdrawalHandler := withdrawal.NewHandler(withdrawalSvc)
	recurringHandler := recurring.NewHandler(recurringSvc)
	feeHandler := fees.NewHandler(estimator)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterFeeRoutes(api, feeHandler)
	RegisterAuditRoutes(api, recorder)

	authed := api.Group("", middleware.Caller())
	RegisterBalanceRoutes(authed, ledger.NewHandler(ledgerBackend))
	RegisterWithdrawalRoutes(authed, withdrawalHandler)
	RegisterRecurringRoutes(authed, recurringHandler)

	return &Services{Relay: relay, Scheduler: scheduler}, nil
}

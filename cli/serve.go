package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"economy-engine/catalog"
	"economy-engine/config"
	"economy-engine/database"
	"economy-engine/handlers"
	"economy-engine/middleware"
	"economy-engine/services"
	"economy-engine/utils"
	"economy-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Photo proofs are capped at 5MB decoded; base64 adds a third.
const bodyLimit = 8 * 1024 * 1024

func NewServeCommand() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if catalogPath != "" {
				cfg.CatalogPath = catalogPath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML catalog to seed before serving (overrides CATALOG_PATH)")
	return cmd
}

// engine is the wired service graph shared by serve and the maintenance commands.
type engine struct {
	db            *gorm.DB
	ledger        *services.LedgerService
	events        *services.EventService
	missions      *services.MissionService
	fulfillment   *services.FulfillmentService
	notifications *services.NotificationService
	guard         *services.Guard
	limiter       *services.SubjectLimiter
}

func levelRules(cfg *config.Config) services.LevelRules {
	return services.LevelRules{K: cfg.Levels.K, Milestone: cfg.Levels.Milestone, BonusCoins: cfg.Levels.BonusCoins}
}

func riskRules(cfg *config.Config) services.RiskRules {
	return services.RiskRules{
		HighCoins:      cfg.Risk.HighCoins,
		HighXP:         cfg.Risk.HighXP,
		MediumCoins:    cfg.Risk.MediumCoins,
		MediumXP:       cfg.Risk.MediumXP,
		VelocityWindow: cfg.Risk.VelocityWindow,
		VelocityCoins:  cfg.Risk.VelocityCoins,
	}
}

func newLocker(cfg *config.Config) services.Locker {
	if cfg.RedisAddr == "" {
		log.Println("⚠️  REDIS_ADDR not set, using in-process locks (single instance only)")
		return services.NewMemoryLocker()
	}
	log.Printf("🔒 [LOCK] using redis at %s", cfg.RedisAddr)
	return services.NewRedisLocker(services.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword), cfg.LockTTL)
}

func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	levels := levelRules(cfg)
	locks := newLocker(cfg)
	notifications := services.NewNotificationService(db)
	risk := services.NewRiskScanner(db, riskRules(cfg))

	ledger := services.NewLedgerService(db, levels)
	ledger.Locks = locks
	ledger.Risk = risk
	ledger.Notifier = notifications

	limiter := services.NewSubjectLimiter(cfg.SubmitRate, cfg.SubmitBurst)
	events := services.NewEventService(db, ledger, locks, notifications)
	missions := services.NewMissionService(db, ledger, events, locks, risk, limiter, notifications)
	missions.ProofReuseThreshold = cfg.ProofReuseThreshold

	if cfg.R2.Enabled() {
		archiver, err := utils.NewR2Archiver(ctx, cfg.R2)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize R2 client: %w", err)
		}
		missions.Archiver = archiver
		log.Printf("✅ [R2] photo proofs archived to bucket %s", cfg.R2.Bucket)
	}

	return &engine{
		db:            db,
		ledger:        ledger,
		events:        events,
		missions:      missions,
		fulfillment:   services.NewFulfillmentService(db, ledger, locks, notifications),
		notifications: notifications,
		guard:         services.NewGuard(db, levels),
		limiter:       limiter,
	}, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.CatalogPath != "" {
		if err := seedCatalog(ctx, eng.db, cfg.CatalogPath); err != nil {
			return err
		}
	}

	sched, err := services.StartMaintenance(ctx, eng.guard, eng.limiter, services.MaintenanceConfig{
		GuardInterval:     cfg.GuardInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		LimiterIdle:       10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Printf("[ERROR] scheduler shutdown: %v", err)
		}
	}()

	if cfg.PlanSyncURL != "" {
		workers.NewPlanSyncWorker(eng.ledger, cfg.PlanSyncURL, cfg.PlanSyncPath, cfg.PlanSyncToken, cfg.PlanSyncInterval).Start(ctx)
	} else {
		log.Println("⚠️  PLAN_SYNC_URL not set, plan tiers change only through the admin API")
	}

	app := newApp(cfg, eng)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Println("✅ GatewayAuthMiddleware enforced globally, all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", cfg.Origins())

	<-ctx.Done()
	log.Println("Shutting down server...")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func newApp(cfg *config.Config, eng *engine) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: bodyLimit,
	})

	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins(),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// A typed nil would defeat the validator nil check.
	var validator middleware.TokenValidator
	if cfg.AuthServiceURL != "" {
		validator = services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.GatewayToken)
	}

	handlers.SetupNotificationRoutes(app, eng.notifications, validator)
	handlers.SetupEconomyRoutes(app, eng.ledger)
	handlers.SetupMissionRoutes(app, eng.missions)
	handlers.SetupStoreRoutes(app, eng.fulfillment)
	handlers.SetupEventRoutes(app, eng.events)
	return app
}

func seedCatalog(ctx context.Context, db *gorm.DB, path string) error {
	c, err := catalog.Load(path)
	if err != nil {
		return err
	}
	sum, err := catalog.Seed(ctx, db, c)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	log.Printf("✅ [CATALOG] %s: %d events, %d missions, %d deliverables", path, sum.Events, sum.Missions, sum.Deliverables)
	return nil
}

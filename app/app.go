package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"signal-scout/api"
	"signal-scout/auth"
	"signal-scout/cache"
	"signal-scout/config"
	"signal-scout/database"
	"signal-scout/llm"
	"signal-scout/notifications"
	"signal-scout/realtime"
)

// App represents the main application
type App struct {
	config         *config.Config
	db             *database.Database
	redis          *cache.RedisClient
	repo           *database.PipelineRepository
	guard          *auth.Guard
	webhookManager *notifications.WebhookManager
	broker         *realtime.Broker
	orchestrator   *Orchestrator
	maintenance    *Maintenance
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Start starts the application
func (a *App) Start() error {
	// 1. Database Connection
	fmt.Println("🗄️  Connecting to database...")

	dbPort, err := strconv.Atoi(a.config.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}

	db, err := database.Connect(
		a.config.DatabaseHost,
		dbPort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	// 2. Redis Connection
	fmt.Println("🧠 Connecting to Redis...")
	redisClient := cache.NewRedisClient(
		a.config.RedisHost,
		a.config.RedisPort,
		a.config.RedisPassword,
	)
	if redisClient == nil {
		fmt.Println("⚠️  Redis connection failed. Caching disabled.")
	} else {
		a.redis = redisClient
	}

	// 3. Initialize schema
	a.repo = database.NewPipelineRepository(a.db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 4. Ingest guard
	if a.config.IngestSecret == "" {
		log.Println("⚠️  INGEST_SECRET is empty; captures signed with an empty secret will be accepted")
	}
	a.guard = auth.NewGuard(
		a.config.IngestSecret,
		a.repo,
		a.repo,
		time.Duration(a.config.Pipeline.TimestampToleranceMin)*time.Minute,
		time.Duration(a.config.Pipeline.SourceIntervalSeconds)*time.Second,
	)

	// 5. Webhook manager and realtime broker
	a.webhookManager = notifications.NewWebhookManager(a.repo, a.redis)
	a.broker = realtime.NewBroker()
	go a.broker.Run()

	var events EventSink = a.broker
	if a.redis != nil {
		bridge := realtime.NewRedisBridge(a.broker, a.redis, "pipeline_events")
		go bridge.Run(context.Background())
		events = bridge
	}

	// 6. LLM client
	var extractor ExtractionModel
	var synthesizer SynthesisModel
	if a.config.LLM.Enabled {
		llmClient := llm.NewClient(a.config.LLM.Endpoint, a.config.LLM.APIKey, a.config.LLM.Model)
		extractor, synthesizer = llmClient, llmClient
		log.Printf("✅ LLM extraction ENABLED (Model: %s)", a.config.LLM.Model)
	} else {
		log.Println("ℹ️  LLM extraction DISABLED; pipeline runs will fail at the scrub stage")
	}

	// 7. Pipeline components
	extractionCache := cache.NewExtractionCache(a.redis)
	scrubber := NewScrubber(a.repo, extractor, extractionCache,
		a.config.Pipeline.ExtractBatchSize, a.config.Pipeline.ScrubConcurrency)
	tracker := NewBaselineTracker(a.repo)
	delta := NewDeltaEngine(a.config.Pipeline)
	strategist := NewStrategist(synthesizer, a.repo)

	a.orchestrator = NewOrchestrator(a.repo, scrubber, tracker, delta, strategist, extractionCache, a.config.Pipeline)
	a.orchestrator.SetEventSink(events)
	a.orchestrator.SetBriefCallback(a.webhookManager.SendBrief)

	// 8. Maintenance job
	a.maintenance = NewMaintenance(a.repo, a.config.Maintenance)
	if a.config.Maintenance.Enabled {
		a.maintenance.Start()
	} else {
		log.Println("ℹ️  Maintenance job DISABLED")
	}

	// 9. API server
	apiServer := api.NewServer(a.repo, a.guard, a.webhookManager, a.broker, a.config)
	apiServer.SetPipelineRunner(a.orchestrator)
	apiServer.SetMaintenanceRunner(a.maintenance)
	go func() {
		if err := apiServer.Start(a.config.APIPort); err != nil {
			log.Printf("⚠️  API Server failed: %v", err)
		}
	}()

	// 10. Wait for interrupt and perform graceful shutdown
	return a.gracefulShutdown()
}

// gracefulShutdown handles graceful shutdown with timeout
func (a *App) gracefulShutdown() error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if a.maintenance != nil && a.config.Maintenance.Enabled {
			fmt.Println("🔄 Stopping maintenance job...")
			a.maintenance.Stop()
		}

		if a.db != nil {
			if err := a.db.Close(); err != nil {
				log.Printf("Error closing database: %v", err)
			} else {
				fmt.Println("✅ Database connection closed")
			}
		}

		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				log.Printf("Error closing redis: %v", err)
			} else {
				fmt.Println("✅ Redis connection closed")
			}
		}

		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}

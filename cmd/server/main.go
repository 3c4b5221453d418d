package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"dispatchd/internal/auth"
	"dispatchd/internal/bus"
	"dispatchd/internal/config"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/handler"
	"dispatchd/internal/middleware"
	"dispatchd/internal/pg"
	"dispatchd/internal/provider"
	"dispatchd/internal/provider/anthropicclient"
	"dispatchd/internal/provider/mock"
	"dispatchd/internal/session"
	"dispatchd/internal/store/conversation"
	storeworkflow "dispatchd/internal/store/workflow"
	"dispatchd/internal/tools"
	"dispatchd/internal/toolframe"
	"dispatchd/internal/toolregistry"
	"dispatchd/internal/wsserver"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Get()
	if err := config.LoadErr(); err != nil {
		log.Printf("configuration fell back to safe defaults: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logOut := io.Writer(os.Stdout)
	if logFile, err := config.SetupLogFile(cfg.LogDir, cfg.MaxLogFiles); err != nil {
		log.Printf("failed to set up log file, logging to stdout only: %v", err)
	} else {
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("dispatch daemon starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	ctx := context.Background()

	pool, err := pg.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to create connection pool: %v", err)
	}
	defer pool.Close()

	tables := pg.NewTableNames(cfg.TablePrefix)

	verifier, err := auth.NewHMACVerifier(cfg.AuthBearerSecret, logger)
	if err != nil {
		log.Fatalf("invalid auth configuration: %v", err)
	}

	sessions := session.NewManager(verifier, cfg.SessionTTL, cfg.SessionConcurrencyMax, cfg.SessionMaxConcurrent, logger)
	sessions.RunSweeper(ctx, cfg.SessionCleanupInterval)
	conns := session.NewConnections(cfg.ConnectionConcurrencyMax)

	convStore := conversation.New(pool, tables, logger)
	conversation.RunSweeper(ctx, convStore, cfg.SessionCleanupInterval, logger)

	workflowStore := storeworkflow.New(pool, tables, logger)
	storeworkflow.RunSweeper(ctx, workflowStore, cfg.SessionCleanupInterval, cfg.MessageBusTTL, logger)

	messageBus := bus.New(pool, tables, cfg.MessageBusEnabled, cfg.MessageBusInlineThreshold, cfg.MessageBusTTL, cfg.BreakerFailureThreshold, cfg.BreakerCooldown, logger)
	bus.RunPurger(ctx, messageBus, cfg.MessageBusTTL, logger)

	registry := provider.NewRegistry(provider.Config{
		LongContextThreshold: cfg.RoutingContextThreshold,
		ComplexityThreshold:  cfg.RoutingComplexityThreshold,
	}, logger)
	registerProviderClients(registry, cfg, logger)
	if err := registry.LoadFile("configs/models.yaml"); err != nil {
		log.Fatalf("failed to load model descriptors: %v", err)
	}

	toolRegistry := toolregistry.New()
	if err := toolRegistry.LoadFile("configs/tools.yaml"); err != nil {
		log.Fatalf("failed to load tool descriptors: %v", err)
	}

	simpleFrame := &toolframe.SimpleFrame{
		Conversation:    convStore,
		Registry:        registry,
		Bus:             messageBus,
		ContextTurns:    50,
		ContinuationTTL: cfg.MessageBusTTL,
	}
	workflowFrame := &toolframe.WorkflowFrame{
		Store:                      workflowStore,
		Registry:                   registry,
		IncludeFilesInExpertPrompt: cfg.ExpertAnalysisIncludeFiles,
		ExpertTier:                 models.TierComplex,
	}

	h := &handler.Handler{
		Sessions:    sessions,
		Connections: conns,
		Tools:       toolRegistry,
		SimpleFrame: simpleFrame,
		Workflow:    workflowFrame,
		Bus:         messageBus,
		SimpleHandlers: map[string]toolframe.SimpleHandler{
			"chat":         tools.Chat{},
			"web_research": tools.WebResearch{},
		},
		WorkflowHandlers: map[string]toolframe.WorkflowHandler{
			"codereview": tools.CodeReview{},
			"debug":      tools.Debug{},
		},
		QueueLimiter:  rate.NewLimiter(rate.Inf, cfg.MaxQueueDepth),
		MaxQueueDepth: cfg.MaxQueueDepth,
	}

	ws := &wsserver.Server{
		Handler:         h,
		Sessions:        sessions,
		Connections:     conns,
		MaxInboundBytes: cfg.MaxInboundBytes,
		Logger:          logger,
	}

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     strings.Join([]string{"GET", "POST", "OPTIONS"}, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"sessions":    sessions.Count(),
			"connections": conns.Count(),
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(ws.Handle))

	logger.Info("listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// registerProviderClients binds the Client implementations configs/models.yaml's
// provider_id entries resolve against. Model descriptors themselves come from
// the YAML file (registry.LoadFile below), not from this function, so the
// daemon's model list lives in one place (§4.4: "loaded at startup").
func registerProviderClients(registry *provider.Registry, cfg *config.Config, logger *slog.Logger) {
	if cfg.AnthropicAPIKey != "" {
		registry.RegisterClient("anthropic", anthropicclient.New(cfg.AnthropicAPIKey))
		return
	}

	logger.Warn("no ANTHROPIC_API_KEY configured, falling back to mock provider")
	registry.RegisterClient("mock", mock.New())
}

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"huddle/docs"
	"huddle/internal/cache"
	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/eventcatalog"
	"huddle/internal/featureflags"
	"huddle/internal/middleware"
	"huddle/internal/models"
	"huddle/internal/notifications"
	"huddle/internal/observability"
	"huddle/internal/repository"
	"huddle/internal/service"
	"huddle/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	userRepo    repository.UserRepository
	convRepo    repository.ConversationRepository
	contactRepo repository.ContactRepository
	messageRepo repository.MessageRepository

	featureFlags *featureflags.Set
	events       *eventcatalog.Catalog
	uploader     storage.FileUploader
	locks        *service.KeyedMutex

	notifier *notifications.Notifier
	rooms    *notifications.RoomCoordinator
	presence notifications.PresenceRegistry

	convService    *service.ConversationService
	contactService *service.ContactService
	messageService *service.MessageService
	callService    *service.CallService
	dispatcher     *Dispatcher
}

// NewServer connects to the database and Redis and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil: presence stays local and rooms stay on this instance.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("huddle-api"),
		userRepo:       repository.NewUserRepository(db),
		convRepo:       repository.NewConversationRepository(db),
		contactRepo:    repository.NewContactRepository(db),
		messageRepo:    repository.NewMessageRepository(db),
		featureFlags:   featureflags.Parse(cfg.FeatureFlags),
		uploader:       storage.NewLocalUploader(cfg),
		locks:          service.NewKeyedMutex(),
	}

	events, err := eventcatalog.Parse(docs.EventCatalog)
	if err != nil {
		return nil, err
	}
	s.events = events

	if redisClient != nil {
		s.notifier = notifications.NewNotifier(redisClient, instanceID)
	}
	s.rooms = notifications.NewRoomCoordinator(s.notifier)

	var redisPresence *notifications.RedisPresence
	if cfg.PresenceBackend == "redis" {
		if redisClient == nil {
			return nil, fmt.Errorf("PRESENCE_BACKEND=redis requires a reachable Redis")
		}
		redisPresence = notifications.NewRedisPresence(redisClient, notifications.RedisPresenceConfig{
			LastSeenTTL: time.Duration(cfg.PresenceTTLSeconds) * time.Second,
		})
		s.presence = redisPresence
	} else {
		s.presence = notifications.NewLocalPresence()
	}

	s.convService = service.NewConversationService(s.convRepo, s.userRepo, s.rooms, s.locks)
	s.contactService = service.NewContactService(s.contactRepo, s.userRepo, s.convService, s.locks)
	s.messageService = service.NewMessageService(s.messageRepo, s.convService, s.uploader, s.featureFlags, s.locks)
	s.callService = service.NewCallService(s.convService)

	s.dispatcher = NewDispatcher(DispatcherDeps{
		Rooms:    s.rooms,
		Presence: s.presence,
		Convs:    s.convService,
		Contacts: s.contactService,
		Messages: s.messageService,
		Calls:    s.callService,
		Redis:    redisClient,
	})
	if redisPresence != nil {
		redisPresence.SetOnOffline(s.dispatcher.HandleRemoteOffline)
	}

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/healthz", s.ReadinessCheck)
	app.Get("/health/live", s.LivenessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/protocol/events", s.GetEventCatalog)

	app.Get("/ws", middleware.WebSocketAuthRequired(s.config.JWTSecret), WebSocketUpgradeRequired, s.WebSocketHandler())

	if s.config.UploadDir != "" {
		app.Static(s.config.UploadBaseURL, s.config.UploadDir)
	}

	api := app.Group("/api", middleware.AuthRequired(s.config.JWTSecret),
		middleware.RateLimit(s.redis, 120, time.Minute, "api", middleware.FailOpen))

	conversations := api.Group("/conversations")
	conversations.Get("/", s.ListConversations)
	// Specific /:id/:resource routes before generic /:id
	conversations.Get("/:id/messages", s.ListMessages)
	conversations.Get("/:id", s.GetConversation)

	contacts := api.Group("/contacts")
	contacts.Get("/", s.ListContacts)
	contacts.Get("/pending/sent", s.ListSentRequests)
	contacts.Get("/pending/received", s.ListReceivedRequests)
	contacts.Get("/status/:userId", s.GetContactStatus)

	api.Get("/users/online", s.GetOnlineUsers)
}

// App builds the Fiber application once.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "huddle",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, fe)
			}
			return respondError(c, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings the database and, when configured, Redis.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	status := fiber.StatusOK
	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "unhealthy"
		status = fiber.StatusServiceUnavailable
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
			status = fiber.StatusServiceUnavailable
		}
	}

	overall := "ok"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"database": dbStatus,
		"redis":    redisStatus,
	})
}

// Start wires the room bus and serves on the configured port. It blocks.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	if err := s.rooms.StartWiring(s.shutdownCtx); err != nil {
		observability.Logger.Error("failed to start room bus", "error", err)
	}

	app := s.App()
	observability.Logger.Info("starting server", "port", s.config.Port, "env", s.config.Env)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Error("error shutting down HTTP server", "error", err)
		}
	}

	if err := s.rooms.Shutdown(ctx); err != nil {
		observability.Logger.Error("error closing websocket sessions", "error", err)
	}
	s.presence.Stop()

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			observability.Logger.Error("error closing sql DB", "error", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			observability.Logger.Error("error closing redis", "error", rerr)
		}
	}

	observability.Logger.Info("server shutdown complete")
	return nil
}

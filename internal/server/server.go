// Package server wires the HTTP surface: the websocket handshake and event dispatch,
// the notification pull API, ticket issuance, health checks and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "relay/docs" // swagger docs
	"relay/internal/cache"
	"relay/internal/config"
	"relay/internal/database"
	"relay/internal/featureflags"
	"relay/internal/middleware"
	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/observability"
	"relay/internal/repository"
	"relay/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
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

	userRepo         repository.UserRepository
	chatRepo         repository.ChatRepository
	notificationRepo repository.NotificationRepository

	gateway      *notifications.Gateway
	featureFlags *featureflags.Manager

	messageService      *service.MessageService
	receiptService      *service.ReceiptService
	notificationService *service.NotificationService
	chatService         *service.ChatService
}

// NewServer connects the database and Redis and builds a Server on top of them.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil, in which case tickets, presence and the relay are disabled.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}

	s := &Server{
		config:           cfg,
		db:               db,
		redis:            redisClient,
		promMiddleware:   middleware.InitMetrics(observability.ServiceName),
		userRepo:         repository.NewUserRepository(db),
		chatRepo:         repository.NewChatRepository(db),
		notificationRepo: repository.NewNotificationRepository(db),
		featureFlags:     featureflags.NewManager(cfg.FeatureFlags),
	}

	var opts []notifications.Option
	if redisClient != nil {
		opts = append(opts, notifications.WithRelay(notifications.NewRelay(redisClient, cfg.NodeID)))
		if s.featureFlags.Enabled(featureflags.FlagPresenceMirror, 0) {
			opts = append(opts, notifications.WithPresence(
				notifications.NewPresenceMirror(redisClient, notifications.PresenceConfig{})))
		}
	}
	s.gateway = notifications.NewGateway(opts...)

	s.notificationService = service.NewNotificationService(s.notificationRepo, s.userRepo, s.gateway)
	s.messageService = service.NewMessageService(s.chatRepo, s.notificationService, s.gateway)
	s.receiptService = service.NewReceiptService(s.chatRepo, s.gateway)
	s.chatService = service.NewChatService(s.chatRepo, s.userRepo)

	return s, nil
}

// Gateway exposes the realtime gateway so other components can push events.
func (s *Server) Gateway() *notifications.Gateway {
	return s.gateway
}

// Notifications exposes notification fan-out to other components.
func (s *Server) Notifications() *service.NotificationService {
	return s.notificationService
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before anything that can short-circuit so error responses keep their headers.
	app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: s.config.AllowedOrigins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	api.Get("/ws", s.AuthRequired(), s.RequireUser(), s.WebsocketHandler())
	api.Post("/ws/ticket", s.AuthRequired(), middleware.RateLimit(
		s.redis, 20, time.Minute, "ws_ticket"), s.IssueWSTicket)

	protected := api.Group("", s.AuthRequired())

	chats := protected.Group("/chats")
	chats.Post("/", s.CreateOrGetChat)
	chats.Get("/", s.GetChats)
	chats.Delete("/messages/:messageId", s.DeleteMessage)
	chats.Get("/:id", s.GetChat)
	chats.Post("/:id/messages", s.RequireUser(), s.SendMessage)
	chats.Get("/:id/messages", s.GetChatMessages)
	chats.Put("/:id/read", s.MarkChatRead)

	notificationsGroup := protected.Group("/notifications")
	notificationsGroup.Get("/", s.GetNotifications)
	notificationsGroup.Get("/unread-count", s.GetUnreadNotificationCount)
	// Specific routes before the generic /:id ones.
	notificationsGroup.Put("/read-all", s.MarkAllNotificationsRead)
	notificationsGroup.Put("/:id/read", s.MarkNotificationRead)
	notificationsGroup.Delete("/:id", s.DeleteNotification)

	users := protected.Group("/users")
	users.Get("/:id/presence", s.GetUserPresence)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional, so only a
// failing ping marks the process unready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"connections": s.gateway.ConnectionCount(),
		"node":        s.config.NodeID,
		"time":        time.Now(),
	})
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "relay",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start starts the relay subscriber and serves HTTP until the app is shut down.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()

	if err := s.gateway.StartRelay(s.shutdownCtx); err != nil {
		middleware.Logger.Warn("relay subscriber not started", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port), slog.String("node", s.config.NodeID))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.gateway.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down gateway", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}

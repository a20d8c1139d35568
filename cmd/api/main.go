package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/talkline-io/talkline-api/internal/config"
	"github.com/talkline-io/talkline-api/internal/database"
	"github.com/talkline-io/talkline-api/internal/handler"
	"github.com/talkline-io/talkline-api/internal/middleware"
	"github.com/talkline-io/talkline-api/internal/models"
	"github.com/talkline-io/talkline-api/internal/repository"
	"github.com/talkline-io/talkline-api/internal/router"
	"github.com/talkline-io/talkline-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Website{}, &models.ChatRoom{}, &models.ChatMessage{}, &models.ChatParticipant{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NatsURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NatsURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	chatRepo := repository.NewChatRepository(db)
	websiteRepo := repository.NewWebsiteRepository(db)

	var domainCache service.DomainCache
	if redisClient != nil {
		domainCache = service.NewRedisDomainCache(redisClient, "", cfg.DomainCacheTTL, logger)
	}

	connectionLimiter := service.NewConnectionLimiter(cfg.ConnectionLimit, cfg.ConnectionWindow)
	messageLimiter := service.NewMessageLimiter(cfg.MessageLimit, cfg.MessageWindow, cfg.MessageCooldown)
	publisher := service.NewEventPublisher(redisClient, cfg.EventChannel, natsConn, logger)

	authenticator := service.NewAuthenticator(websiteRepo, domainCache, connectionLimiter, "."+cfg.PlatformDomain, logger)
	chatService := service.NewChatService(chatRepo, messageLimiter, publisher, validate, cfg.MaxMessageLength, logger)

	chatHandler := handler.NewChatHandler(chatService, authenticator, logger)
	roomHandler := handler.NewRoomHandler(chatService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:   chatHandler,
		RoomHandler:   roomHandler,
		JWTMiddleware: middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

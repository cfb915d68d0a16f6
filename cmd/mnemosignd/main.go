package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mnemosign/mnemosign/bot"
	"github.com/mnemosign/mnemosign/challenge"
	"github.com/mnemosign/mnemosign/config"
	"github.com/mnemosign/mnemosign/httpapi"
	"github.com/mnemosign/mnemosign/identity"
	"github.com/mnemosign/mnemosign/internal/logging"
	"github.com/mnemosign/mnemosign/seal"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting mnemosign")

	sealKey, err := cfg.Seal.KeyBytes()
	if err != nil {
		logger.Fatal("Failed to load sealing key", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(ctx).Err()
	cancel()
	if err != nil {
		logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	challenges, err := challenge.NewStore(rdb, sealKey, challenge.Options{
		Prefix: cfg.Redis.KeyPrefix,
		TTL:    time.Duration(cfg.Seal.ChallengeTTLMinutes) * time.Minute,
	})
	if err != nil {
		logger.Fatal("Failed to initialize challenge store", zap.Error(err))
	}

	ids, err := seal.NewID(sealKey)
	if err != nil {
		logger.Fatal("Failed to initialize identifier codec", zap.Error(err))
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram bot", zap.Error(err))
	}
	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	var photos bot.PhotoHoster
	if cfg.Photos.Enabled() {
		blobs, err := minio.New(cfg.Photos.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Photos.AccessKey, cfg.Photos.SecretKey, ""),
			Secure: cfg.Photos.UseSSL,
		})
		if err != nil {
			logger.Fatal("Failed to initialize object storage", zap.Error(err))
		}
		photos = identity.NewPhotoHoster(botAPI, blobs, cfg.Photos.Bucket, cfg.Photos.BaseURL)
		logger.Info("Photo re-hosting enabled", zap.String("bucket", cfg.Photos.Bucket))
	}

	updates := bot.NewHandler(botAPI, challenges, ids, photos, logger.Named("bot"))
	sessions := httpapi.NewSessionIssuer(
		[]byte(cfg.Session.Secret),
		cfg.Session.Issuer,
		time.Duration(cfg.Session.ExpiryHours)*time.Hour,
	)

	if cfg.Logging.Format == "json" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.NewServer(challenges, sessions, updates, cfg.Telegram.WebhookSecret, logger.Named("http")).Register(router)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("address", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
}

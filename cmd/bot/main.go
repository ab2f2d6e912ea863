package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"

	"github.com/digkill/PhotoshootBot/internal/admin"
	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/config"
	"github.com/digkill/PhotoshootBot/internal/database"
	"github.com/digkill/PhotoshootBot/internal/prompt"
	"github.com/digkill/PhotoshootBot/internal/replicate"
	"github.com/digkill/PhotoshootBot/internal/repository"
	"github.com/digkill/PhotoshootBot/internal/service"
	"github.com/digkill/PhotoshootBot/internal/storage"
	"github.com/digkill/PhotoshootBot/internal/telegram"
	"github.com/digkill/PhotoshootBot/internal/zarinpal"
	"github.com/digkill/PhotoshootBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	mongoClient, err := appconfig.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("mongodb: %v", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()
	appConfig := appconfig.NewStore(mongoClient.Database(cfg.MongoDatabase), logr)
	if err := appConfig.Reload(ctx); err != nil {
		log.Fatalf("load app config: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	prompts, err := prompt.NewClient(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("gemini client: %v", err)
	}
	defer prompts.Close()

	sender := telegram.NewSender(botAPI, logr, cfg.RequestTimeout)

	userRepo := repository.NewUserRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	userService := service.NewUserService(cfg, logr, userRepo, sender)
	generationService := service.NewGenerationService(cfg, logr, service.GenerationDeps{
		Generations: generationRepo,
		Users:       userRepo,
		Catalog:     appConfig,
		Photos:      sender,
		Uploader:    uploader,
		Prompts:     prompts,
		Images:      replicate.NewClient(cfg, logr),
		Notifier:    sender,
	})
	paymentService := service.NewPaymentService(logr, paymentRepo, appConfig, zarinpal.NewClient(cfg, logr), sender)

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.DispatchSchedule, func() {
		n, err := generationService.DispatchQueued(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("dispatch queued generations", "err", err)
			return
		}
		if n > 0 {
			logr.Info("queued generations dispatched", "count", n)
		}
	}); err != nil {
		log.Fatalf("dispatch schedule: %v", err)
	}
	if _, err := scheduler.AddFunc(cfg.ConfigRefreshSchedule, func() {
		if err := appConfig.Reload(ctx); err != nil {
			logr.Error("refresh app config", "err", err)
		}
	}); err != nil {
		log.Fatalf("config refresh schedule: %v", err)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	server := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, cfg.ReplicateWebhookKey, logr, admin.Deps{
		Generations: generationService,
		Payments:    paymentService,
		Users:       userService,
		Broadcaster: sender,
		Config:      appConfig,
	})
	go func() {
		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("http server stopped", "err", err)
		}
	}()

	bot := telegram.NewBot(botAPI, logr, userService, generationService, paymentService, sender)
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

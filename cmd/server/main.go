package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/talentflow-backend/internal/config"
	"github.com/ignatzorin/talentflow-backend/internal/contract"
	"github.com/ignatzorin/talentflow-backend/internal/db"
	"github.com/ignatzorin/talentflow-backend/internal/gateway"
	httpHandlers "github.com/ignatzorin/talentflow-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/talentflow-backend/internal/http/router"
	"github.com/ignatzorin/talentflow-backend/internal/logger"
	"github.com/ignatzorin/talentflow-backend/internal/repository"
	"github.com/ignatzorin/talentflow-backend/internal/scheduler"
	"github.com/ignatzorin/talentflow-backend/internal/service"
	"github.com/ignatzorin/talentflow-backend/internal/storage"
	"github.com/ignatzorin/talentflow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret)
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)

	deliverableStorage, err := storage.NewDeliverableStorage(cfg.DeliverableDir, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить хранилище результатов: %v", err)
	}

	// Репозитории.
	engagementRepo := repository.NewEngagementRepository(dbConn)
	milestoneRepo := repository.NewMilestoneRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	matchRepo := repository.NewMatchRepository(dbConn)
	providerRepo := repository.NewProviderRepository(dbConn)
	verificationRepo := repository.NewVerificationRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	auditRepo := repository.NewAuditRepository(dbConn)

	contractGenerator, err := contract.NewGenerator(engagementRepo, milestoneRepo, cfg.ContractStoragePath)
	if err != nil {
		log.Fatalf("main: не удалось подготовить хранилище договоров: %v", err)
	}

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()

	// Сервисы.
	notificationService := service.NewNotificationService(notificationRepo, hub)
	verificationService := service.NewVerificationService(verificationRepo, auditRepo, notificationService)
	engagementService := service.NewEngagementService(engagementRepo, paymentRepo, gatewayClient, auditRepo, notificationService, cfg.PlatformFeePercent)
	milestoneService := service.NewMilestoneService(milestoneRepo, engagementRepo, paymentRepo, providerRepo, gatewayClient, auditRepo, notificationService, cfg.AutoReleaseAfter)
	matchingService := service.NewMatchingService(engagementRepo, matchRepo, providerRepo, verificationRepo, milestoneService, contractGenerator, auditRepo, notificationService, cfg.MatchOfferTTL, cfg.MatchTopN)
	paymentService := service.NewPaymentService(paymentRepo, engagementRepo, gatewayClient, matchingService, auditRepo, notificationService)
	disputeService := service.NewDisputeService(disputeRepo, engagementRepo, milestoneRepo, paymentRepo, gatewayClient, auditRepo, notificationService)

	// Планировщик таймерных переходов.
	sweeper := scheduler.New(milestoneRepo, milestoneService, matchRepo, engagementRepo, cfg.SweepInterval, cfg.FundingExpiryAfter)
	sweeper.Start(ctx)

	// HTTP хэндлеры.
	engagementHandler := httpHandlers.NewEngagementHandler(engagementService)
	milestoneHandler := httpHandlers.NewMilestoneHandler(milestoneService, engagementService, deliverableStorage)
	matchHandler := httpHandlers.NewMatchHandler(matchingService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	verificationHandler := httpHandlers.NewVerificationHandler(verificationService)
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService)
	webhookHandler := httpHandlers.NewWebhookHandler(paymentService, cfg.GatewayAPIKey)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	auditHandler := httpHandlers.NewAuditHandler(auditRepo)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, engagementHandler, milestoneHandler, matchHandler, disputeHandler, verificationHandler, paymentHandler, webhookHandler, notificationHandler, auditHandler, healthHandler, wsHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"payment-service/internal/card"
	"payment-service/internal/config"
	"payment-service/internal/crypto"
	"payment-service/internal/db"
	"payment-service/internal/kafka"
	"payment-service/internal/ledger"
	"payment-service/internal/logging"
	"payment-service/internal/metrics"
	"payment-service/internal/payment"
	"payment-service/internal/processor"
	"payment-service/internal/server"
	"payment-service/internal/webhook"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig(".")
	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connStr := db.ConnStr(cfg.Database)
	if err := db.RunMigrations(connStr, "migrations"); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	paymentRepo := db.NewPaymentRepository(dbpool)
	balanceRepo := db.NewBalanceRepository(dbpool)
	bankRepo := db.NewBankAccountRepository(dbpool)
	cardRepo := db.NewCardSubmissionRepository(dbpool)
	webhookRepo := db.NewWebhookRepository(dbpool)

	encryption, err := crypto.NewService(config.GetRequired("ENCRYPTION_KEY"))
	if err != nil {
		log.Fatal(err)
	}
	signer := webhook.NewSigner(config.GetRequired("WEBHOOK_SECRET"))

	dispatcher := webhook.NewDispatcher(webhookRepo, logger)
	balances := ledger.New(balanceRepo)
	selector := processor.NewSelector()
	psp := processor.NewPSPLinker(config.Get("FRONTEND_URL", "http://localhost:3000"))

	ttl := time.Duration(cfg.Expiry.TTLHours) * time.Hour
	paymentService := payment.NewService(paymentRepo, bankRepo, balances, dispatcher, selector, psp, ttl, logger)
	cardFlow := card.NewFlow(paymentRepo, cardRepo, encryption, paymentService, logger)

	writer := kafka.NewWriter(cfg.Kafka)
	defer writer.Close()

	producer := webhook.NewProducer(webhookRepo, writer, cfg.Webhook.Producer, logger)
	producer.Start(ctx)

	sender := webhook.NewSender(cfg.Webhook.Sender, signer)
	webhookProcessor := webhook.NewProcessor(webhookRepo, sender, cfg.Webhook.Processor, logger)

	reader := kafka.NewReader(cfg.Kafka.Broker.URL, cfg.Kafka.Topic.WebhookMessages, cfg.Kafka.Reader.GroupID)
	defer reader.Close()
	kafka.ReadWebhookMessages(ctx, reader, webhookProcessor, logger)

	expirer := payment.NewExpirer(paymentService, cfg.Expiry, logger)
	expirer.Start(ctx)

	handlers := server.NewAPIHandlers(logger, paymentService, cardFlow, balanceRepo, webhookRepo)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.NewRouter(handlers),
	}

	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
}

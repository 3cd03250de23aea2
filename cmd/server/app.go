package main

import (
	"context"
	"fmt"

	"booking-payments/internal/config"
	"booking-payments/internal/database"
	"booking-payments/internal/infrastructure/events"
	"booking-payments/internal/infrastructure/payment"
	"booking-payments/internal/logger"
	"booking-payments/internal/repo"
	"booking-payments/internal/service"

	"go.uber.org/zap"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        database.Service
	payments  repo.PaymentRepo
	publisher events.Publisher
	svc       service.PaymentService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := database.Open(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db.DB()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var gateway payment.PaymentGateway
	switch cfg.Gateway {
	case config.GatewayRazorpay:
		gateway = payment.NewRazorpayGateway(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.CheckoutURL, cfg.Razorpay.Currency)
	default:
		gateway = payment.NewSandboxGateway(cfg.SandboxBaseURL)
		log.Warn("using sandbox payment gateway")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	}

	payments := repo.NewPaymentRepo(db.DB())
	svc := service.NewPaymentService(payments, gateway,
		service.WithGatewayTimeout(cfg.GatewayTimeout),
		service.WithPublisher(publisher),
		service.WithLogger(log),
	)

	log.Info("service wired",
		zap.String("env", cfg.Env),
		zap.String("gateway", cfg.Gateway),
		zap.Bool("events", len(cfg.KafkaBrokers) > 0),
	)

	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		payments:  payments,
		publisher: publisher,
		svc:       svc,
	}, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.log.Warn("close publisher", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
	_ = a.log.Sync()
}

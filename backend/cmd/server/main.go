package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/config"
	"github.com/user/papertrade/backend/internal/events"
	"github.com/user/papertrade/backend/internal/handlers"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/logging"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/storage"
	"github.com/user/papertrade/backend/internal/ticker"
	internalws "github.com/user/papertrade/backend/internal/websocket"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "papertrade:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	defer store.Close()

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return err
	}
	if cfg.InsecureSecret() {
		log.Warn("JWT_SECRET not set, using the development secret")
	}

	// Trades fan out to the price board, the websocket tape and, when configured, Kafka.
	board := ticker.NewBoard()
	hub := internalws.NewHub(log)
	go hub.Run(ctx)
	publishers := events.Multi{board, hub}

	if cfg.KafkaEnabled() {
		if err := events.Ping(ctx, cfg.KafkaBrokers); err != nil {
			log.Warn("kafka not reachable at startup", zap.Strings("brokers", cfg.KafkaBrokers), zap.Error(err))
		}
		k, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		defer k.Close()
		publishers = append(publishers, k)
	}

	coordinator := ledger.NewCoordinator(store, publishers, log)

	app := fiber.New(fiber.Config{
		AppName:               "papertrade",
		ErrorHandler:          handlers.ErrorHandler(log),
		DisableStartupMessage: true,
	})
	app.Use(middleware.RequestLogger(log))
	handlers.Routes(app,
		handlers.NewTrade(coordinator, log),
		middleware.Protected(tokens, log),
		board, hub, store, cfg.Driver, log)

	listenErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.HTTPAddr), zap.String("driver", cfg.Driver))
		listenErr <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown", zap.Error(err))
	}
	return nil
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/lock"
	appmw "github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/payment"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	// Redis is not optional here: without the lock store no seat can be
	// held safely across instances.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Fatal("redis connection failed: the seat lock store is required")
	}
	locks := lock.NewManager(rdb)

	drafts := repository.NewDraftRepo(db)
	tripSeats := repository.NewTripSeatRepo(db)
	bookings := repository.NewBookingRepo(db)
	catalog := repository.NewCatalogRepo(db)

	notifier := queue.NewPublisher()

	var provider service.PaymentProvider
	var payClient *payment.Client
	if cfg.PaymentBaseURL != "" {
		payClient = payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, cfg.PaymentChecksumKey, cfg.PaymentSkipVerify)
		provider = payClient
	} else {
		log.Println("payment provider not configured; running cash-only")
	}

	lockSvc := service.NewSeatLockService(db, drafts, tripSeats, catalog, locks, notifier, cfg.HoldTTL)
	releaseSvc := service.NewSeatReleaseService(db, drafts, tripSeats, locks, notifier)
	bookingSvc := service.NewBookingService(db, drafts, bookings, tripSeats, catalog, locks, releaseSvc, provider, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background workers: the sweeper reclaims expired drafts whose locks
	// already died in Redis, the consumer drains booking confirmations.
	go releaseSvc.RunSweeper(ctx, cfg.SweepInterval)
	go func() {
		if err := queue.StartBookingConsumer(); err != nil {
			log.Printf("booking consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	router.RegisterRoutes(e)
	router.RegisterReservation(e, handler.NewReservationHandler(lockSvc, releaseSvc, bookingSvc),
		appmw.OptionalJWT(cfg.JWTSecret),
		appmw.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)
	if payClient != nil {
		router.RegisterWebhook(e, handler.NewWebhookHandler(payClient, bookingSvc, releaseSvc))
	}

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		_ = e.Shutdown(context.Background())
	}()

	if err := e.Start(addr); err != nil {
		log.Println(err)
	}
}

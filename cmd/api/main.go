package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "hotelperhour/internal/adapters/http_server"
	"hotelperhour/internal/adapters/observability"
	"hotelperhour/internal/adapters/paystack"
	"hotelperhour/internal/adapters/rabbitmq"
	redisad "hotelperhour/internal/adapters/redis"
	"hotelperhour/internal/app"
	"hotelperhour/internal/shared"
	mysqlrepo "hotelperhour/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	rdb := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}
	cache := redisad.New(rdb)
	store := redisad.NewReservationStore(rdb)

	gateway, err := paystack.New(cfg.PaystackBase, cfg.PaystackSecret, cfg.PaystackRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Paystack client")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.NotifyQueue)
	defer publisher.Close()
	events := app.NewDispatcher(publisher, cfg.NotifyTimeout)

	reservations := app.NewReservationService(repo, repo, repo, store, gateway, events, app.ReservationConfig{
		PendingTTL:       cfg.ReservationTTL,
		GatewayTimeout:   cfg.GatewayTimeout,
		CallbackURL:      cfg.CallbackURL,
		GuestEmailDomain: cfg.GuestEmailDomain,
	})
	payments := app.NewPaymentService(reservations, gateway, cfg.GatewayTimeout)
	settlement := app.NewSettlementService(repo, events, app.SettlementConfig{
		HoldingDays: cfg.HoldingDays,
		Location:    cfg.Location(),
	})

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Reservations:  reservations,
		Payments:      payments,
		Settlement:    settlement,
		Catalog:       app.NewCatalogService(repo, repo),
		Queries:       app.NewQueryService(repo, cache, cfg.CacheTTL),
		OperatorToken: cfg.OperatorToken,
		AccountSecret: []byte(cfg.AccountSecret),
		Location:      cfg.Location(),
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// let in-flight notifications reach the broker before it is closed
	events.Wait()
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"hotelperhour/internal/adapters/observability"
	"hotelperhour/internal/app"
	"hotelperhour/internal/shared"
	mysqlrepo "hotelperhour/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	every := flag.Duration("every", cfg.SettleEvery, "repeat the run on this interval; 0 runs once")
	workers := flag.Int("workers", cfg.SettleWorkers, "hotels settled concurrently")
	hotels := flag.String("hotels", "", "comma separated hotel ids; default is every hotel with unsettled revenue")
	flag.Parse()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "settler", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	only, err := parseIDs(*hotels)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -hotels")
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	svc := app.NewSettlementService(repo, nil, app.SettlementConfig{
		HoldingDays: cfg.HoldingDays,
		Location:    cfg.Location(),
	})

	run := func() {
		ids := only
		if len(ids) == 0 {
			found, err := repo.PayableHotelIDs(ctx)
			if err != nil {
				log.Error().Err(err).Msg("list payable hotels failed")
				return
			}
			ids = found
		}
		log.Info().Int("hotels", len(ids)).Int("workers", *workers).Msg("settlement run starting")
		sum := settleHotels(ctx, svc, ids, *workers)
		log.Info().
			Int("created", sum.Created).
			Int("skipped", sum.Skipped).
			Int("failed", sum.Failed).
			Msg("settlement run completed")
	}

	if *every <= 0 {
		run()
		return
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler init failed")
	}
	_, err = sched.NewJob(
		gocron.DurationJob(*every),
		gocron.NewTask(run),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule settlement job failed")
	}
	sched.Start()
	log.Info().Dur("every", *every).Msg("settler scheduled")

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

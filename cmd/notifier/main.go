package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"hotelperhour/internal/adapters/mailer"
	"hotelperhour/internal/adapters/observability"
	"hotelperhour/internal/adapters/rabbitmq"
	"hotelperhour/internal/domain"
	"hotelperhour/internal/shared"
)

func main() {
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv, "notifier", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	m, err := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		Admin:    cfg.AdminEmail,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mailer")
	}

	c := rabbitmq.NewConsumer(cfg.AMQPURL, cfg.NotifyQueue, 0)
	log.Info().Str("queue", cfg.NotifyQueue).Str("smtp", cfg.SMTPHost).Msg("notifier starting")

	err = c.Run(ctx, func(ctx context.Context, ev domain.Event) error {
		sendCtx, cancel := context.WithTimeout(ctx, cfg.NotifyTimeout)
		defer cancel()
		return m.Deliver(sendCtx, ev)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("notifier stopped")
	}
	log.Info().Msg("notifier stopped")
}

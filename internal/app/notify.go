package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hotelperhour/internal/domain"
)

const defaultNotifyTimeout = 10 * time.Second

// Dispatcher delivers events in the background. Delivery failures are logged
// and never reach the caller.
type Dispatcher struct {
	notifier domain.Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n domain.Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &Dispatcher{notifier: n, timeout: timeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) {
	if d == nil || d.notifier == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// outlive the request that triggered the event
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(nctx, ev); err != nil {
			log.Error().Err(err).
				Str("event", string(ev.Type)).
				Str("reference", ev.Reference).
				Msg("notification dispatch failed")
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

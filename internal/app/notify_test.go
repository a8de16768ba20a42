package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelperhour/internal/app"
	"hotelperhour/internal/domain"
)

func TestDispatcher_FillsIdentityAndSurvivesCancel(t *testing.T) {
	n := &recordingNotifier{}
	d := app.NewDispatcher(n, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, domain.Event{Type: domain.EventBookingPaid, Reference: "HPH-1"})
	cancel() // the request ends before delivery
	d.Wait()

	require.Len(t, n.events, 1)
	assert.NotEmpty(t, n.events[0].ID)
	assert.False(t, n.events[0].OccurredAt.IsZero())
}

func TestDispatcher_FailureIsSwallowed(t *testing.T) {
	n := &recordingNotifier{err: errors.New("smtp: 421 try later")}
	d := app.NewDispatcher(n, 50*time.Millisecond)
	d.Dispatch(context.Background(), domain.Event{Type: domain.EventPayoutCompleted})
	d.Wait()
	assert.Len(t, n.events, 1)
}

func TestDispatcher_NilIsNoOp(t *testing.T) {
	var d *app.Dispatcher
	d.Dispatch(context.Background(), domain.Event{})
	d.Wait()

	app.NewDispatcher(nil, 0).Dispatch(context.Background(), domain.Event{})
}

func TestFinalize_NotificationFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.notes.err = errors.New("queue unavailable")
	r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 3)})

	res, err := f.rs.Finalize(context.Background(), r.Quote.Reference)
	require.NoError(t, err)
	assert.Equal(t, app.FinalizeCreated, res.Outcome)
	assert.Len(t, f.db.bookings, 1)
}

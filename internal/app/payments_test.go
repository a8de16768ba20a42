package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelperhour/internal/app"
	"hotelperhour/internal/domain"
)

func chargeSuccess(ref string, kobo int64) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"status":"success","amount":%d}}`, ref, kobo))
}

func TestCallback_VerifiesThenFinalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 6)})
	f.gw.paid(r.Quote.Reference, r.Quote.Price.TotalAmount)

	out, err := f.ps.HandleCallback(ctx, r.Quote.Reference)
	require.NoError(t, err)
	assert.Equal(t, app.OutcomeFinalized, out)

	out, err = f.ps.HandleCallback(ctx, r.Quote.Reference)
	require.NoError(t, err)
	assert.Equal(t, app.OutcomeAlreadySettled, out)
	assert.Len(t, f.db.bookings, 1)
}

func TestCallback_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("gateway says failed", func(t *testing.T) {
		f := newFixture(t)
		r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 3)})
		f.gw.verify[r.Quote.Reference] = domain.PaymentVerification{Status: "failed", AmountKobo: 1_650_000}
		_, err := f.ps.HandleCallback(ctx, r.Quote.Reference)
		assert.ErrorIs(t, err, domain.ErrVerificationFailed)
		assert.Empty(t, f.db.bookings)
		assert.True(t, f.pending.has(r.Quote.Reference))
	})
	t.Run("underpaid", func(t *testing.T) {
		f := newFixture(t)
		r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 3)})
		f.gw.paid(r.Quote.Reference, r.Quote.Price.TotalAmount.Sub(dec("1")))
		_, err := f.ps.HandleCallback(ctx, r.Quote.Reference)
		assert.ErrorIs(t, err, domain.ErrVerificationFailed)
		assert.Empty(t, f.db.bookings)
	})
	t.Run("unknown to gateway", func(t *testing.T) {
		f := newFixture(t)
		r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 3)})
		_, err := f.ps.HandleCallback(ctx, r.Quote.Reference)
		assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	})
	t.Run("empty reference", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ps.HandleCallback(ctx, " ")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestCallback_UnknownReferenceDropped(t *testing.T) {
	f := newFixture(t)
	out, err := f.ps.HandleCallback(context.Background(), "HPH-GHOST")
	require.NoError(t, err)
	assert.Equal(t, app.OutcomeDropped, out)
}

func TestCallback_GatewayTimeoutLeavesPending(t *testing.T) {
	f := newFixture(t)
	r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 3)})
	f.gw.verifyErr = context.DeadlineExceeded

	out, err := f.ps.HandleCallback(context.Background(), r.Quote.Reference)
	require.NoError(t, err)
	assert.Equal(t, app.OutcomePending, out)
	assert.True(t, f.pending.has(r.Quote.Reference))

	// the webhook settles it later
	kobo := r.Quote.Price.TotalAmount.Mul(dec("100")).IntPart()
	body := chargeSuccess(r.Quote.Reference, kobo)
	out, err = f.ps.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, app.OutcomeFinalized, out)
}

func TestWebhook_SignatureAndShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 3)})
	body := chargeSuccess(r.Quote.Reference, 1_650_000)

	_, err := f.ps.HandleWebhook(ctx, body, "deadbeef")
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	tampered := chargeSuccess(r.Quote.Reference, 1)
	_, err = f.ps.HandleWebhook(ctx, tampered, sign(body))
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	assert.Empty(t, f.db.bookings)

	junk := []byte(`{"event":`)
	_, err = f.ps.HandleWebhook(ctx, junk, sign(junk))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	noRef := []byte(`{"event":"charge.success","data":{}}`)
	_, err = f.ps.HandleWebhook(ctx, noRef, sign(noRef))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	other := []byte(`{"event":"transfer.success","data":{"reference":"x"}}`)
	out, err := f.ps.HandleWebhook(ctx, other, sign(other))
	require.NoError(t, err)
	assert.Equal(t, app.OutcomeIgnored, out)
}

func TestWebhook_UnknownReferenceDropped(t *testing.T) {
	f := newFixture(t)
	body := chargeSuccess("HPH-GHOST", 100)
	out, err := f.ps.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, app.OutcomeDropped, out)
}

func TestWebhook_RoomGoneIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.reserve(t, app.QuoteRequest{RoomID: roomSingle, Window: window(10, 4)})
	b := f.reserve(t, app.QuoteRequest{RoomID: roomSingle, Window: window(11, 4)})
	_, err := f.rs.Finalize(ctx, a.Quote.Reference)
	require.NoError(t, err)

	body := chargeSuccess(b.Quote.Reference, 99_000_000)
	out, err := f.ps.HandleWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, app.OutcomeRefundRequired, out)

	f.events.Wait()
	assert.Len(t, f.notes.ofType(domain.EventRefundRequired), 1)
}

// Callback and webhook for the same payment race each other.
func TestCallbackAndWebhookConverge(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		r := f.reserve(t, app.QuoteRequest{RoomID: roomTwin, Window: window(10, 4), Party: domain.AccountParty(domain.AccountCustomer, customerID), ApplyDiscount: true})
		ref := r.Quote.Reference
		f.gw.paid(ref, r.Quote.Price.TotalAmount)
		body := chargeSuccess(ref, r.Quote.Price.TotalAmount.Mul(dec("100")).IntPart())

		var wg sync.WaitGroup
		var cbOut, whOut app.Outcome
		var cbErr, whErr error
		wg.Add(2)
		go func() { defer wg.Done(); cbOut, cbErr = f.ps.HandleCallback(context.Background(), ref) }()
		go func() { defer wg.Done(); whOut, whErr = f.ps.HandleWebhook(context.Background(), body, sign(body)) }()
		wg.Wait()

		require.NoError(t, cbErr)
		require.NoError(t, whErr)
		got := map[app.Outcome]int{cbOut: 1}
		got[whOut]++
		assert.Equal(t, map[app.Outcome]int{app.OutcomeFinalized: 1, app.OutcomeAlreadySettled: 1}, got, "run %d", i)
		assert.Equal(t, 1, f.db.deductCalls, "run %d", i)
		assert.Len(t, f.db.bookings, 1)
	}
}

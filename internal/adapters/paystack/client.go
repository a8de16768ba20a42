// internal/adapters/paystack/client.go
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hotelperhour/internal/adapters/observability"
	"hotelperhour/internal/domain"
)

const service = "paystack"

type Client struct {
	base   string
	hc     *http.Client
	secret string
	rl     *rate.Limiter
}

var _ domain.PaymentGateway = (*Client)(nil)

func New(base, secret string, rps int) (*Client, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		hc:     &http.Client{Timeout: 20 * time.Second},
		secret: secret,
		rl:     rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API ----

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string     `json:"status"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paid_at"`
}

// Initialize creates a transaction and returns the hosted checkout URL.
// It is not retried: a second POST could create a second transaction.
func (c *Client) Initialize(ctx context.Context, in domain.PaymentInit) (string, error) {
	body, err := json.Marshal(initRequest{
		Email:       in.Email,
		Amount:      in.AmountKobo,
		Reference:   in.Reference,
		CallbackURL: in.CallbackURL,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return "", err
	}
	var d initData
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &d); err != nil {
		return "", err
	}
	if d.AuthorizationURL == "" {
		return "", domain.Wrap(domain.ErrGatewayUnavailable, "initialize %s: empty authorization url", in.Reference)
	}
	return d.AuthorizationURL, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (domain.PaymentVerification, error) {
	var d verifyData
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &d); err != nil {
		return domain.PaymentVerification{}, err
	}
	return domain.PaymentVerification{
		Reference:  d.Reference,
		Status:     d.Status,
		AmountKobo: d.Amount,
		Currency:   d.Currency,
		PaidAt:     d.PaidAt,
	}, nil
}

// VerifySignature checks the x-paystack-signature header: hex HMAC-SHA512 of
// the raw body keyed with the secret key.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	return ValidSignature(c.secret, payload, signature)
}

func ValidSignature(secret string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// ---- Internals ----

// do performs one API call with client-side rate limiting and decodes the
// envelope's data into out. Only GETs are retried, on 429 and transient 5xx,
// honoring Retry-After when provided.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	attempts := 1
	if method == http.MethodGet {
		attempts = 4
	}
	endpoint := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	label := strings.Join(endpoint[:min(2, len(endpoint))], "/")

	var lastErr error
	for i := 0; i < attempts; i++ {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.secret)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "hotelperhour/1.0")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal(service, label, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = domain.Cause(domain.ErrGatewayUnavailable, err)
			if i < attempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal(service, label, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			err := decodeEnvelope(resp.Body, out)
			resp.Body.Close()
			return err

		case resp.StatusCode == http.StatusNotFound ||
			(resp.StatusCode == http.StatusBadRequest && method == http.MethodGet):
			// verify answers 400 "Transaction reference not found"
			msg := readMessage(resp.Body)
			resp.Body.Close()
			return domain.Wrap(domain.ErrNotFound, "%s: %s", label, msg)

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return fmt.Errorf("%s: unauthorized (%d)", service, resp.StatusCode)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = domain.Wrap(domain.ErrGatewayUnavailable, "%s: remote %d", label, resp.StatusCode)
			if i < attempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			msg := readMessage(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("%s: bad status %d: %s", label, resp.StatusCode, msg)
		}
	}
	return lastErr
}

func decodeEnvelope(r io.Reader, out any) error {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	if !env.Status {
		return fmt.Errorf("%s: %s", service, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// readMessage returns the envelope message, or a trimmed body prefix.
func readMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var env envelope
	if json.Unmarshal(b, &env) == nil && env.Message != "" {
		return env.Message
	}
	return strings.TrimSpace(string(b))
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles from 200ms per attempt with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}

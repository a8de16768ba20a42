package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"hotelperhour/internal/domain"
)

const headerAuthorization = "Authorization"

// accountClaims is what the account service signs for a logged-in customer or
// staff user. The subject carries the numeric account id.
type accountClaims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

type ctxKey int

const accountKey ctxKey = iota

// AccountAuth resolves the booking account from a bearer token. Requests
// without a token continue anonymously; a token that does not verify is
// rejected. An empty secret accepts no tokens at all.
func AccountAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := r.Header.Get(headerAuthorization)
			if hdr == "" {
				next.ServeHTTP(w, r)
				return
			}
			party, err := parseAccountToken(secret, hdr)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Str("remote", remoteIP(r)).Msg("account token rejected")
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid account token")
				return
			}
			ctx := context.WithValue(r.Context(), accountKey, party)
			ctx = log.Ctx(ctx).With().
				Str("account", string(party.Account)).
				Int64("account_id", party.ID).
				Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseAccountToken(secret []byte, header string) (domain.BookingParty, error) {
	if len(secret) == 0 {
		return domain.BookingParty{}, errors.New("account tokens are not accepted")
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.BookingParty{}, errors.New("expected a bearer token")
	}

	var c accountClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &c, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.BookingParty{}, err
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.BookingParty{}, errors.New("token subject is not an account id")
	}
	switch kind := domain.AccountKind(c.Account); kind {
	case domain.AccountCustomer, domain.AccountUser:
		return domain.AccountParty(kind, id), nil
	default:
		return domain.BookingParty{}, errors.New("token names an unknown account kind")
	}
}

// accountFrom returns the verified account, if the request carried one.
func accountFrom(ctx context.Context) (domain.BookingParty, bool) {
	p, ok := ctx.Value(accountKey).(domain.BookingParty)
	return p, ok
}

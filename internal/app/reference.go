package app

import (
	"crypto/rand"
	"time"
)

// Crockford-style alphabet: no I, L, O or U so codes survive being read aloud.
const refAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func randomCode(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	for i := range b {
		b[i] = refAlphabet[int(b[i])%len(refAlphabet)]
	}
	return string(b)
}

// NewBookingReference returns a short code like HPH-7Q2M9KXA.
func NewBookingReference() string { return "HPH-" + randomCode(8) }

// NewPayoutReference returns HPH-PO-YYYYMMDD-XXXXXX for the given day.
func NewPayoutReference(now time.Time) string {
	return "HPH-PO-" + now.Format("20060102") + "-" + randomCode(6)
}

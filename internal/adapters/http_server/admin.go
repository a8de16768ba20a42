package httpserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"hotelperhour/internal/adapters/observability"
	"hotelperhour/internal/domain"
)

const dateLayout = "2006-01-02"

func (h *Handlers) createPayout(w http.ResponseWriter, r *http.Request) {
	hotelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Settlement.CreatePayout(r.Context(), hotelID, operatorName(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	observability.ObservePayout(string(p.Status))
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) listPayouts(w http.ResponseWriter, r *http.Request) {
	hotelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ps, err := h.Settlement.ListPayouts(r.Context(), hotelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []domain.PayoutRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotel_id": hotelID, "payouts": ps})
}

func (h *Handlers) revenueSummary(w http.ResponseWriter, r *http.Request) {
	hotelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.Settlement.RevenueSummary(r.Context(), hotelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) markProcessing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transferRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	h.writePayout(w, r, func() (domain.PayoutRecord, error) {
		return h.Settlement.MarkProcessing(r.Context(), id, req.TransferReference)
	})
}

func (h *Handlers) completePayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.writePayout(w, r, func() (domain.PayoutRecord, error) {
		return h.Settlement.CompletePayout(r.Context(), id, req.TransferReference)
	})
}

func (h *Handlers) failPayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req failRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.writePayout(w, r, func() (domain.PayoutRecord, error) {
		return h.Settlement.FailPayout(r.Context(), id, req.Reason)
	})
}

func (h *Handlers) writePayout(w http.ResponseWriter, r *http.Request, fn func() (domain.PayoutRecord, error)) {
	p, err := fn()
	if err != nil {
		writeError(w, r, err)
		return
	}
	observability.ObservePayout(string(p.Status))
	log.Ctx(r.Context()).Info().
		Int64("payout_id", p.ID).
		Str("status", string(p.Status)).
		Str("operator", operatorName(r)).
		Msg("payout updated")
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) setRoomAvailability(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req roomAvailabilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Catalog.SetRoomAvailability(r.Context(), roomID, *req.Available); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "available": *req.Available})
}

func (h *Handlers) setHotelApproval(w http.ResponseWriter, r *http.Request) {
	hotelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req hotelApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Catalog.SetHotelApproval(r.Context(), hotelID, *req.Approved); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotel_id": hotelID, "approved": *req.Approved})
}

func (h *Handlers) setLoyaltyRule(w http.ResponseWriter, r *http.Request) {
	var req loyaltyRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := h.Catalog.ActivateLoyaltyRule(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// platformRevenue takes inclusive from/to calendar dates in the platform zone.
func (h *Handlers) platformRevenue(w http.ResponseWriter, r *http.Request) {
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	q := r.URL.Query()
	from, err := time.ParseInLocation(dateLayout, q.Get("from"), loc)
	if err != nil {
		writeError(w, r, domain.Wrap(domain.ErrValidation, "from must be YYYY-MM-DD"))
		return
	}
	to, err := time.ParseInLocation(dateLayout, q.Get("to"), loc)
	if err != nil {
		writeError(w, r, domain.Wrap(domain.ErrValidation, "to must be YYYY-MM-DD"))
		return
	}
	rev, err := h.Queries.PlatformRevenue(r.Context(), from.UTC(), to.AddDate(0, 0, 1).UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

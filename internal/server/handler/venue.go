package handler

import (
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/feed"
)

// VenueLookup finds a tracked venue by address.
type VenueLookup interface {
	Venue(addr solana.PublicKey) (*domain.Venue, bool)
}

type VenueHandler struct {
	venues VenueLookup
}

func NewVenueHandler(venues VenueLookup) *VenueHandler {
	return &VenueHandler{venues: venues}
}

type venueResponse struct {
	feed.Record
	SpotAToB *decimal.Decimal `json:"spot_a_to_b,omitempty"`
	SpotBToA *decimal.Decimal `json:"spot_b_to_a,omitempty"`
}

// GetVenue handles GET /api/venues/{address}. The body uses the feed record
// format plus current spot prices.
func (h *VenueHandler) GetVenue(w http.ResponseWriter, r *http.Request) {
	addr, err := solana.PublicKeyFromBase58(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid venue address")
		return
	}
	v, ok := h.venues.Venue(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "venue not tracked")
		return
	}

	resp := venueResponse{Record: feed.Encode(v)}
	if v.Quoter != nil {
		ab, ba := v.Quoter.SpotPrice(domain.AToB), v.Quoter.SpotPrice(domain.BToA)
		resp.SpotAToB, resp.SpotBToA = &ab, &ba
	}
	writeJSON(w, http.StatusOK, resp)
}

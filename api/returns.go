package api

import (
	"net/http"
	"time"

	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/store"
)

// returnJSON is the wire form of a tax return. Money travels in cents.
type returnJSON struct {
	ID           string    `json:"id,omitempty"`
	HouseholdID  string    `json:"household_id"`
	TaxYear      int       `json:"tax_year"`
	FilingStatus string    `json:"filing_status,omitempty"`
	AGICents     int64     `json:"agi_cents,omitempty"`
	RefundCents  int64     `json:"refund_cents,omitempty"`
	Status       string    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

func toReturnJSON(r *store.TaxReturn) returnJSON {
	return returnJSON{
		ID:           r.ID,
		HouseholdID:  r.HouseholdID,
		TaxYear:      r.TaxYear,
		FilingStatus: r.FilingStatus,
		AGICents:     r.AGICents,
		RefundCents:  r.RefundCents,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *Server) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req returnJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.HouseholdID == "" {
		writeError(w, errors.InvalidInput("household_id is required"))
		return
	}
	if req.TaxYear == 0 {
		writeError(w, errors.InvalidInput("tax_year is required"))
		return
	}

	ret := &store.TaxReturn{
		HouseholdID:  req.HouseholdID,
		TaxYear:      req.TaxYear,
		FilingStatus: req.FilingStatus,
		AGICents:     req.AGICents,
		RefundCents:  req.RefundCents,
		Status:       req.Status,
	}
	if err := s.cfg.Store.CreateReturn(r.Context(), ret); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReturnJSON(ret))
}

func (s *Server) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := s.cfg.Store.GetReturn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnJSON(ret))
}

func (s *Server) handleUpdateReturn(w http.ResponseWriter, r *http.Request) {
	var req returnJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ret, err := s.cfg.Store.GetReturn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if req.FilingStatus != "" {
		ret.FilingStatus = req.FilingStatus
	}
	if req.AGICents != 0 {
		ret.AGICents = req.AGICents
	}
	if req.RefundCents != 0 {
		ret.RefundCents = req.RefundCents
	}
	if req.Status != "" {
		ret.Status = req.Status
	}
	if err := s.cfg.Store.UpdateReturn(r.Context(), ret); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnJSON(ret))
}

func (s *Server) handleDeleteReturn(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteReturn(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := s.cfg.Store.ListReturns(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]returnJSON, 0, len(returns))
	for _, ret := range returns {
		out = append(out, toReturnJSON(ret))
	}
	writeJSON(w, http.StatusOK, out)
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mdtaxnav/navigator/errors"
	"github.com/mdtaxnav/navigator/store"
)

// householdJSON is the wire form of a household.
type householdJSON struct {
	ID        string    `json:"id,omitempty"`
	Phone     string    `json:"phone"`
	Language  string    `json:"language,omitempty"`
	County    string    `json:"county,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func toHouseholdJSON(h *store.Household) householdJSON {
	return householdJSON{
		ID:        h.ID,
		Phone:     h.Phone,
		Language:  h.Language,
		County:    h.County,
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}
}

// memberJSON is the wire form of a household member.
type memberJSON struct {
	ID           string `json:"id,omitempty"`
	HouseholdID  string `json:"household_id,omitempty"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	BirthDate    string `json:"birth_date,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

func toMemberJSON(m *store.Member) memberJSON {
	return memberJSON{
		ID:           m.ID,
		HouseholdID:  m.HouseholdID,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		BirthDate:    m.BirthDate,
		Relationship: m.Relationship,
	}
}

func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request) {
	var req householdJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Phone == "" {
		writeError(w, errors.InvalidInput("phone is required"))
		return
	}

	h := &store.Household{
		Phone:    req.Phone,
		Language: req.Language,
		County:   req.County,
	}
	if err := s.cfg.Store.CreateHousehold(r.Context(), h); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHouseholdJSON(h))
}

func (s *Server) handleListHouseholds(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	households, err := s.cfg.Store.ListHouseholds(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]householdJSON, 0, len(households))
	for _, h := range households {
		out = append(out, toHouseholdJSON(h))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetHousehold(w http.ResponseWriter, r *http.Request) {
	h, err := s.cfg.Store.GetHousehold(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHouseholdJSON(h))
}

func (s *Server) handleUpdateHousehold(w http.ResponseWriter, r *http.Request) {
	var req householdJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	h, err := s.cfg.Store.GetHousehold(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Language != "" {
		h.Language = req.Language
	}
	if req.County != "" {
		h.County = req.County
	}
	if err := s.cfg.Store.UpdateHousehold(r.Context(), h); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHouseholdJSON(h))
}

func (s *Server) handleDeleteHousehold(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.DeleteHousehold(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		writeError(w, errors.InvalidInput("first_name and last_name are required"))
		return
	}

	m := &store.Member{
		HouseholdID:  r.PathValue("id"),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		BirthDate:    req.BirthDate,
		Relationship: req.Relationship,
	}
	if err := s.cfg.Store.AddMember(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberJSON(m))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.cfg.Store.ListMembers(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]memberJSON, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberJSON(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// paging extracts limit/offset query parameters.
func paging(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

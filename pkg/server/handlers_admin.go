package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Auth.ListAccounts(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req auth.NewAccount
	if err := s.readJSON(r, &req); err != nil {
		s.writeBadBody(w, err)
		return
	}
	acct, err := s.deps.Auth.CreateAccount(r.Context(), req, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusCreated, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Auth.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, acct)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req auth.AccountUpdate
	if err := s.readJSON(r, &req); err != nil {
		s.writeBadBody(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	claims, _ := auth.ClaimsFromContext(r.Context())
	if claims.AccountID == id && req.IsActive != nil && !*req.IsActive {
		s.writeError(w, http.StatusBadRequest, "You cannot deactivate your own account")
		return
	}
	acct, err := s.deps.Auth.UpdateAccount(r.Context(), id, req, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, acct)
}

func (s *Server) handleUnlockAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Auth.UnlockAccount(r.Context(), chi.URLParam(r, "id"), s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, acct)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeBadBody(w, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		s.writeError(w, http.StatusBadRequest, "Current and new password are required")
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	err := s.deps.Auth.ChangePassword(r.Context(), claims.AccountID, req.CurrentPassword, req.NewPassword, s.requestMeta(r))
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.writeError(w, http.StatusUnauthorized, "Current password is incorrect")
	case err != nil:
		s.writeServiceError(w, r, err)
	default:
		s.writeMessage(w, http.StatusOK, "Password updated")
	}
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Audit log is disabled")
		return
	}
	params := r.URL.Query()
	q := audit.Query{
		Email:     params.Get("email"),
		IPAddress: params.Get("ip"),
		Action:    audit.Action(params.Get("action")),
		Status:    audit.Status(params.Get("status")),
		Limit:     parseIntQuery(r, "limit", audit.DefaultQueryLimit),
	}
	if q.Action != "" && !q.Action.Valid() {
		s.writeError(w, http.StatusBadRequest, "Unknown audit action: "+string(q.Action))
		return
	}
	if q.Status != "" && !q.Status.Valid() {
		s.writeError(w, http.StatusBadRequest, "Unknown audit status: "+string(q.Status))
		return
	}
	for key, dst := range map[string]*time.Time{"since": &q.Since, "until": &q.Until} {
		raw := params.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, key+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}

	records, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	s.writeData(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

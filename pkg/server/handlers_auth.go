package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/orneryd/storefront/pkg/auth"
	"github.com/orneryd/storefront/pkg/oauth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	Admin        auth.Summary `json:"admin"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeBadBody(w, err)
		return
	}

	res, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password, s.requestMeta(r))
	if errors.Is(err, auth.ErrMissingCredentials) {
		s.writeError(w, http.StatusBadRequest, "Please provide email and password")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeBadBody(w, err)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.writeError(w, http.StatusBadRequest, "Google token is required")
		return
	}
	if s.deps.Identity == nil {
		s.writeServiceError(w, r, oauth.ErrNotConfigured)
		return
	}

	identity, err := s.deps.Identity.VerifyIdentity(r.Context(), req.Token)
	if err != nil {
		if !errors.Is(err, oauth.ErrInvalidIdentity) {
			err = errors.Join(oauth.ErrInvalidIdentity, err)
		}
		s.deps.Auth.RecordIdentityFailure(r.Context(), auth.ProviderGoogle,
			oauth.UnverifiedEmail(req.Token), s.requestMeta(r), oauth.ErrInvalidIdentity.Error())
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.deps.Auth.LoginWithIdentity(r.Context(), *identity, s.requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *Server) writeLogin(w http.ResponseWriter, res *auth.LoginResult) {
	s.setRefreshCookie(w, res.RefreshToken, s.deps.Auth.Tokens().RefreshTTL())
	s.writeData(w, http.StatusOK, loginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Admin:        res.Account.Summary(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := s.readJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.writeBadBody(w, err)
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = getCookie(r, RefreshCookie)
	}
	if token == "" {
		s.writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	access, _, err := s.deps.Auth.Refresh(r.Context(), token, s.requestMeta(r))
	switch {
	case errors.Is(err, auth.ErrAccountNotFound), errors.Is(err, auth.ErrAccountInactive):
		s.writeError(w, http.StatusForbidden, "Account not found or deactivated")
		return
	case errors.Is(err, auth.ErrInvalidToken):
		s.writeError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	case err != nil:
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"accessToken": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractBearer(r.Header.Get("Authorization"))
	s.deps.Auth.Logout(r.Context(), token, s.requestMeta(r))
	s.setRefreshCookie(w, "", 0)
	s.writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	acct, err := s.deps.Auth.Me(r.Context(), claims.AccountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, acct)
}

// setRefreshCookie sets the refresh cookie, or clears it when ttl is zero.
func (s *Server) setRefreshCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	c := &http.Cookie{
		Name:     RefreshCookie,
		Value:    token,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = time.Now().Add(ttl)
	} else {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	http.SetCookie(w, c)
}

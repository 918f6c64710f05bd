package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/orneryd/storefront/pkg/auth"
	"github.com/orneryd/storefront/pkg/catalog"
	"github.com/orneryd/storefront/pkg/oauth"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

var errEmptyBody = errors.New("request body is empty")

func (s *Server) readJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("writing response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, envelope{Success: true, Message: message})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, envelope{Success: false, Message: message})
}

func (s *Server) writeBadBody(w http.ResponseWriter, err error) {
	if errors.Is(err, errEmptyBody) {
		s.writeError(w, http.StatusBadRequest, "Request body is required")
		return
	}
	s.writeError(w, http.StatusBadRequest, "Invalid request body")
}

// writeServiceError maps a service error to its HTTP status. Unknown errors
// are logged and answered with a generic 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		credErr *auth.CredentialsError
		lockErr *auth.LockedError
		roleErr *auth.RoleError
	)
	switch {
	case errors.As(err, &credErr):
		s.writeError(w, http.StatusUnauthorized, credErr.Error())
	case errors.As(err, &lockErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(lockErr.Remaining.Seconds())+1))
		s.writeError(w, http.StatusLocked, lockErr.Error())
	case errors.As(err, &roleErr):
		s.writeError(w, http.StatusForbidden, roleErr.Error())

	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrInvalidName),
		errors.Is(err, catalog.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, sentence(err.Error()))

	case errors.Is(err, auth.ErrInvalidToken):
		s.writeError(w, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, oauth.ErrInvalidIdentity):
		s.writeError(w, http.StatusUnauthorized, "Invalid Google token")

	case errors.Is(err, auth.ErrAccountInactive):
		s.writeError(w, http.StatusForbidden, "Account is deactivated. Contact an administrator")
	case errors.Is(err, auth.ErrNotAllowListed):
		s.writeError(w, http.StatusForbidden, "Email is not authorized for admin access")

	case errors.Is(err, auth.ErrAccountNotFound):
		s.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, catalog.ErrNotFound):
		s.writeError(w, http.StatusNotFound, sentence(err.Error()))

	case errors.Is(err, auth.ErrAccountExists):
		s.writeError(w, http.StatusConflict, "An account with this email already exists")
	case errors.Is(err, catalog.ErrConflict):
		s.writeError(w, http.StatusConflict, sentence(err.Error()))

	case errors.Is(err, oauth.ErrNotConfigured):
		s.writeError(w, http.StatusServiceUnavailable, "Google sign-in is not configured")

	default:
		s.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// sentence capitalizes the first letter of an error message.
func sentence(msg string) string {
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func getCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// clientIP returns the request's client address. Forwarding headers are
// only honored with TrustProxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) requestMeta(r *http.Request) auth.RequestMeta {
	meta := auth.RequestMeta{IPAddress: s.clientIP(r), UserAgent: r.UserAgent()}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		meta.Actor = claims.Email
	}
	return meta
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || val <= 0 {
		return defaultVal
	}
	return val
}

// parseBoolQuery returns nil when key is absent.
func parseBoolQuery(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be true or false", catalog.ErrInvalid, key)
	}
	return &b, nil
}

// parsePriceQuery returns nil when key is absent.
func parsePriceQuery(r *http.Request, key string) (*int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", catalog.ErrInvalid, key)
	}
	return &n, nil
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

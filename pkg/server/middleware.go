package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
)

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && len(s.config.CORSOrigins) > 0 {
			if slices.Contains(s.config.CORSOrigins, origin) || slices.Contains(s.config.CORSOrigins, "*") {
				// credentials rule out a literal "*"
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/health" || r.URL.Path == s.config.MetricsPath {
			return
		}
		level := slog.LevelInfo
		if wrapped.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote", s.clientIP(r)))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.log.Error("panic serving request",
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprint(err)),
					slog.String("stack", string(buf[:n])))
				s.writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) statsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// RequireAuth admits requests carrying a valid access token in the
// Authorization header and binds its claims to the request context.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractBearer(r.Header.Get("Authorization"))
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "Not authorized, no token provided")
			return
		}
		claims := s.deps.Auth.Tokens().VerifyAccess(token)
		if claims == nil {
			s.writeError(w, http.StatusUnauthorized, "Not authorized, token invalid or expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// RequireRole admits authenticated requests whose token role is in roles.
// It must run after RequireAuth. Refusals are audited as access_denied.
func (s *Server) RequireRole(roles auth.RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := auth.Authorize(r.Context(), roles)
			if err != nil {
				if claims != nil && s.deps.Audit != nil {
					s.deps.Audit.Record(r.Context(), audit.Entry{
						Action:    audit.ActionAccessDenied,
						Status:    audit.StatusBlocked,
						Email:     claims.Email,
						IPAddress: s.clientIP(r),
						UserAgent: r.UserAgent(),
						Reason:    fmt.Sprintf("%s %s requires %s", r.Method, r.URL.Path, roles),
					})
				}
				s.writeServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies the login limiter per client address.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.deps.Limiter.Allow(r.Context(), s.clientIP(r))
		if err != nil {
			// fail open when the counter store errors
			s.log.Error("rate limiter unavailable", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.deps.Limiter.Config().Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(d.RetrySeconds()))
			s.writeError(w, http.StatusTooManyRequests, retryMessage(d.RetryMinutes()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryMessage(minutes int) string {
	if minutes <= 1 {
		return "Too many login attempts from this IP, please try again after 1 minute"
	}
	return "Too many login attempts from this IP, please try again after " + strconv.Itoa(minutes) + " minutes"
}

// throttle smooths request bursts on the admin API per client address.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Throttle != nil && !s.deps.Throttle.Allow(s.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "Too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

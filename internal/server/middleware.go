package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"linkhoard/internal/auth"
)

const sessionCookieName = "session"

// requireAuth validates the session cookie and puts the user id on the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		session, err := auth.ValidateSession(s.db.DB, cookie.Value)
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, session.UserID)
		next(w, r.WithContext(ctx))
	}
}

// requireToken validates a bearer API token. Used by the browser extension,
// which cannot carry session cookies.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			RespondWithError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		userID, err := auth.VerifyToken([]byte(s.config.TokenSecret), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
		next(w, r.WithContext(ctx))
	}
}

// withCommon adds security headers and request logging around the mux.
func (s *Server) withCommon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		start := time.Now()
		next.ServeHTTP(w, r)
		if !s.config.ProductionMode {
			s.logger.Printf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
		}
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.UseHTTPS,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.UseHTTPS,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"medtrack/internal/app"
	"medtrack/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
}

// Server exposes the HTTP API.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/login-phone", s.handleLoginPhone)
	s.mux.HandleFunc("/auth/verify-otp", s.handleVerifyOTP)
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login-email", s.handleLoginEmail)
	s.mux.Handle("/me", s.authenticated(s.handleMe))

	// catalog
	s.mux.Handle("/drugs", s.authenticated(s.handleDrugs))
	s.mux.Handle("/drugs/", s.authenticated(s.handleDrugByID))

	// patients and schedules
	s.mux.Handle("/patients", s.authenticated(s.handlePatients))
	s.mux.Handle("/patients/", s.authenticated(s.handlePatientSubtree))
	s.mux.Handle("/schedules/", s.authenticated(s.handleScheduleSubtree))

	// admin
	s.mux.Handle("/admin/drugs/unmatched", s.superuserOnly(s.handleUnmatchedDrugs))
	s.mux.Handle("/admin/drugs/import", s.superuserOnly(s.handleImportDrugs))
	s.mux.Handle("/admin/provenance", s.superuserOnly(s.handleProvenance))
	s.mux.Handle("/admin/sync", s.superuserOnly(s.handleSync))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) superuserOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.IsSuperuser {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

// writeAppError maps domain errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrPatientNotFound),
		errors.Is(err, app.ErrScheduleNotFound),
		errors.Is(err, app.ErrDrugNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrUserInactive),
		errors.Is(err, app.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrOTPAlreadyUsed),
		errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrOTPRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrPhoneRequired),
		errors.Is(err, app.ErrPhoneInvalid),
		errors.Is(err, app.ErrOTPRequestInvalid),
		errors.Is(err, app.ErrOTPExpired),
		errors.Is(err, app.ErrOTPCodeInvalid),
		errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrFullNameRequired),
		errors.Is(err, app.ErrDosageRequired),
		errors.Is(err, app.ErrEmptyImportBatch),
		errors.Is(err, app.ErrImportItemInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

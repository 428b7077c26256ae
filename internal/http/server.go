// Package http exposes the operator API: health, status per account and
// manual re-enabling of accounts tripped by the failure breaker.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"sdabot/internal/config"
	"sdabot/internal/scheduler"
	storepkg "sdabot/internal/store"
)

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	sched    *scheduler.Scheduler
	source   scheduler.AccountSource
	sessions storepkg.Store
}

func NewServer(cfg config.Config, log *zap.Logger, sched *scheduler.Scheduler, source scheduler.AccountSource, sessions storepkg.Store) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		sched:    sched,
		source:   source,
		sessions: sessions,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/admin/login", s.handleAdminLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Get("/accounts", s.handleAccounts)
		protected.Post("/accounts/{name}/reset", s.handleAccountReset)
		protected.Post("/bot/pause", s.handlePause)
		protected.Post("/bot/resume", s.handleResume)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"paused": s.sched.Paused(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.sched.SetPaused(true)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sched.SetPaused(false)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

type accountStatus struct {
	Name          string `json:"name"`
	AcceptGifts   bool   `json:"accept_gifts"`
	ConfirmTrades bool   `json:"confirm_trades"`
	ConfirmMarket bool   `json:"confirm_market"`
	Failures      int    `json:"failures"`
	Disabled      bool   `json:"disabled"`
	SessionSaved  string `json:"session_saved,omitempty"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.source.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	breaker := s.sched.Tracker().Snapshot()

	out := make([]accountStatus, 0, len(profiles))
	for _, p := range profiles {
		status := accountStatus{
			Name:          p.Account.Name,
			AcceptGifts:   p.Settings.AcceptGifts,
			ConfirmTrades: p.Settings.ConfirmTrades,
			ConfirmMarket: p.Settings.ConfirmMarket,
			Failures:      breaker[p.Account.Name].Failures,
			Disabled:      breaker[p.Account.Name].Disabled,
		}
		if ts, err := s.sessions.LastUpdate(r.Context(), p.Account.Name); err == nil {
			status.SessionSaved = ts.UTC().Format(time.RFC3339)
		} else if !errors.Is(err, storepkg.ErrNotFound) {
			s.log.Warn("reading session timestamp", zap.String("account", p.Account.Name), zap.Error(err))
		}
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": out})
}

func (s *Server) handleAccountReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "account name required")
		return
	}
	s.sched.Reset(name)
	s.log.Info("account breaker reset", zap.String("account", name))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid admin claims")
			return
		}
		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

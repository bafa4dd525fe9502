// Package server exposes a read-only HTTP status API over the push engine:
// health, the subscription list, and per-subscription delivery counters.
// It never mutates state; all management goes through the bot commands.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feedpush/internal/push"
	"feedpush/internal/storage"
	"feedpush/pkg/logx"
)

type Server struct {
	svc    *push.Service
	log    logx.Logger
	router chi.Router
	http   *http.Server
}

func New(svc *push.Service, log logx.Logger) *Server {
	s := &Server{svc: svc, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/subscriptions", s.handleSubscriptions)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/{name}", s.handleStats)

	s.router = r
}

// Start begins serving on addr and blocks until ListenAndServe returns.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("status server listening", logx.String("addr", addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type subscriptionView struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Enabled   bool      `json:"enabled"`
	Targets   int       `json:"targets"`
	Schedule  string    `json:"schedule,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.svc.ListSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriptionView{
			Name:      sub.Name,
			URL:       sub.URL,
			Enabled:   sub.Enabled,
			Targets:   len(sub.Targets),
			Schedule:  sub.Schedule,
			CreatedAt: sub.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"subscriptions": views})
}

type statsView struct {
	SubscriptionID string     `json:"subscription_id"`
	FetchOK        int64      `json:"fetch_ok"`
	FetchFail      int64      `json:"fetch_fail"`
	Delivered      int64      `json:"delivered"`
	DeliveryFailed int64      `json:"delivery_failed"`
	DroppedHorizon int64      `json:"dropped_horizon"`
	FilteredOut    int64      `json:"filtered_out"`
	LastError      string     `json:"last_error,omitempty"`
	LastCheck      *time.Time `json:"last_check,omitempty"`
	LastPush       *time.Time `json:"last_push,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stats, err := s.svc.Stats(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]statsView, 0, len(stats))
	for _, st := range stats {
		views = append(views, toStatsView(st))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stats": views})
}

func toStatsView(st storage.Stats) statsView {
	v := statsView{
		SubscriptionID: st.SubscriptionID,
		FetchOK:        st.FetchOK,
		FetchFail:      st.FetchFail,
		Delivered:      st.Delivered,
		DeliveryFailed: st.DeliveryFailed,
		DroppedHorizon: st.DroppedHorizon,
		FilteredOut:    st.FilteredOut,
		LastError:      st.LastError,
	}
	if !st.LastCheck.IsZero() {
		t := st.LastCheck
		v.LastCheck = &t
	}
	if !st.LastPush.IsZero() {
		t := st.LastPush
		v.LastPush = &t
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("writing response failed", logx.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Warn("status request failed", logx.Err(err))
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
}

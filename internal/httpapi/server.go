// Package httpapi serves the agent's status over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	apimw "github.com/hamed0406/uptimed/internal/httpapi/middleware"
	"github.com/hamed0406/uptimed/internal/scheduler"
	"github.com/hamed0406/uptimed/internal/status"
)

const APIVersion = "1"

// StatusReader is the read side of status.Store.
type StatusReader interface {
	Read(id domain.TargetID) (domain.State, error)
	ReadAll() []domain.State
}

// Targets is the administrative view of the scheduler.
type Targets interface {
	Targets() []domain.Target
	Excluded() []scheduler.Excluded
	Kick(id domain.TargetID) error
}

type Server struct {
	Logger  *zap.Logger
	Status  StatusReader
	Targets Targets
	Auth    apimw.AdminAuthorizer
	Hub     *Hub
}

func NewServer(l *zap.Logger, st StatusReader, targets Targets, auth apimw.AdminAuthorizer, hub *Hub) *Server {
	return &Server{Logger: l, Status: st, Targets: targets, Auth: auth, Hub: hub}
}

// Router builds the handler.
func (s *Server) Router(limits apimw.Limits) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(apimw.RateLimit(limits))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"version": APIVersion, "status": http.StatusOK})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAuth(s.Auth))
		r.Get("/status", s.handleListStatus)
		r.Get("/status/{id}", s.handleGetStatus)
		if s.Hub != nil {
			r.Get("/ws/transitions", s.handleStream)
		}
	})

	if s.Targets != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(apimw.RequireAdmin(s.Auth))
			r.Get("/targets", s.handleListTargets)
			r.Post("/targets/{id}/probe", s.handleProbeNow)
		})
	}
	return r
}

// StatusView is the wire shape of a State. LastLatency is in milliseconds.
type StatusView struct {
	ID                   string     `json:"id" yaml:"id"`
	Verdict              string     `json:"verdict" yaml:"verdict"`
	LastTransition       *time.Time `json:"last_transition" yaml:"last_transition"`
	LastChecked          *time.Time `json:"last_checked" yaml:"last_checked"`
	LastLatency          float64    `json:"last_latency" yaml:"last_latency"`
	LastError            string     `json:"last_error" yaml:"last_error"`
	LastClass            string     `json:"last_class,omitempty" yaml:"last_class,omitempty"`
	LastStatusCode       int        `json:"last_status_code,omitempty" yaml:"last_status_code,omitempty"`
	ConsecutiveSuccesses int        `json:"consecutive_successes" yaml:"consecutive_successes"`
	ConsecutiveFailures  int        `json:"consecutive_failures" yaml:"consecutive_failures"`
}

func toView(st domain.State) StatusView {
	return StatusView{
		ID:                   string(st.TargetID),
		Verdict:              string(st.Verdict),
		LastTransition:       timePtr(st.LastTransition),
		LastChecked:          timePtr(st.LastChecked),
		LastLatency:          float64(st.LastLatency) / float64(time.Millisecond),
		LastError:            st.LastError,
		LastClass:            string(st.LastClass),
		LastStatusCode:       st.LastStatusCode,
		ConsecutiveSuccesses: st.ConsecutiveSuccesses,
		ConsecutiveFailures:  st.ConsecutiveFailures,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Server) handleListStatus(w http.ResponseWriter, r *http.Request) {
	var want domain.Verdict
	if v := r.URL.Query().Get("verdict"); v != "" {
		want = domain.Verdict(strings.ToUpper(v))
		switch want {
		case domain.VerdictUp, domain.VerdictDown, domain.VerdictUnknown:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "verdict must be UP, DOWN or UNKNOWN"})
			return
		}
	}

	states := s.Status.ReadAll()
	out := make([]StatusView, 0, len(states))
	for _, st := range states {
		if want != "" && st.Verdict != want {
			continue
		}
		out = append(out, toView(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	st, err := s.Status.Read(id)
	if errors.Is(err, status.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		s.Logger.Error("status_read_error", zap.String("target_id", string(id)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, toView(st))
}

type targetView struct {
	domain.Target
	Interval     string   `json:"interval"`
	Timeout      string   `json:"timeout"`
	AcceptStatus []string `json:"accept_status,omitempty"`
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts := s.Targets.Targets()
	out := make([]targetView, 0, len(ts))
	for _, t := range ts {
		v := targetView{Target: t, Interval: t.Interval.String(), Timeout: t.Timeout.String()}
		for _, rg := range t.AcceptStatus {
			v.AcceptStatus = append(v.AcceptStatus, rg.String())
		}
		out = append(out, v)
	}
	excluded := s.Targets.Excluded()
	if excluded == nil {
		excluded = []scheduler.Excluded{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": out, "excluded": excluded})
}

func (s *Server) handleProbeNow(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	if err := s.Targets.Kick(id); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTarget) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	s.Logger.Info("probe_requested", zap.String("target_id", string(id)),
		zap.String("request_id", chimw.GetReqID(r.Context())))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled", "id": string(id)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

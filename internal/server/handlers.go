package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/raphaelgruber/maigret-api/internal/catalog"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/raphaelgruber/maigret-api/internal/service"
)

const maxRequestBody = 1 << 20

type healthData struct {
	Status           string `json:"status"`
	MaigretAvailable bool   `json:"maigret_available"`
}

type sitesData struct {
	Sites []catalog.Site `json:"sites"`
	Total int            `json:"total"`
	Tags  []string       `json:"tags"`
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	models.StatusView
	Usernames   []string   `json:"usernames"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Stats is the payload of GET /api/stats.
type Stats struct {
	Sessions  map[models.Status]int `json:"sessions"`
	Observers int                   `json:"observers"`
	Metrics   metrics.Snapshot      `json:"metrics"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, healthData{Status: "healthy", MaigretAvailable: s.toolAvailable()})
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	c := s.deps.Catalog
	writeData(w, sitesData{Sites: c.Sites, Total: len(c.Sites), Tags: c.Tags})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.deps.Catalog.Tags)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode body: %v", service.ErrInvalidRequest, err))
		return
	}

	sess, err := s.deps.Supervisor.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: sess, Message: "Search started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Supervisor.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, view)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Supervisor.Results(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, sess)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.deps.Supervisor.List()
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{
			StatusView:  sess.View(),
			Usernames:   sess.Usernames,
			Error:       sess.Error,
			CreatedAt:   sess.CreatedAt,
			CompletedAt: sess.CompletedAt,
		})
	}
	writeData(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := map[models.Status]int{
		models.StatusPending:   0,
		models.StatusRunning:   0,
		models.StatusCompleted: 0,
		models.StatusFailed:    0,
	}
	for _, sess := range s.deps.Supervisor.List() {
		counts[sess.Status]++
	}

	stats := Stats{Sessions: counts, Metrics: s.deps.Metrics.Snapshot()}
	if s.deps.Notifier != nil {
		stats.Observers = s.deps.Notifier.Observers()
	}
	writeData(w, stats)
}

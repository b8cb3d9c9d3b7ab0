package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/simulation"
)

type simulationStatus struct {
	SiteID     string            `json:"siteId"`
	Running    bool              `json:"running"`
	IntervalMs int64             `json:"intervalMs,omitempty"`
	StartedAt  *time.Time        `json:"startedAt,omitempty"`
	Stats      *simulation.Stats `json:"stats,omitempty"`
}

func statusFor(siteID string, h *simulation.Handle) simulationStatus {
	if h == nil {
		return simulationStatus{SiteID: siteID}
	}
	startedAt := h.StartedAt()
	stats := h.Stats()
	return simulationStatus{
		SiteID:     siteID,
		Running:    true,
		IntervalMs: h.Interval().Milliseconds(),
		StartedAt:  &startedAt,
		Stats:      &stats,
	}
}

// writeSimulationError maps simulation errors onto HTTP status codes.
func writeSimulationError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, simulation.ErrSiteNotFound):
		writeJSONError(w, "site not found", http.StatusNotFound)
	case errors.Is(err, simulation.ErrAlreadyRunning):
		writeJSONError(w, "simulation already running", http.StatusConflict)
	case errors.Is(err, simulation.ErrNotRunning):
		writeJSONError(w, "simulation not running", http.StatusConflict)
	case errors.Is(err, simulation.ErrInvalidInterval), errors.Is(err, simulation.ErrInvalidPoints):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, simulation.ErrShutdown):
		writeJSONError(w, "shutting down", http.StatusServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.String("siteID", r.PathValue("siteID")), slog.Any("error", err))
		writeJSONError(w, msg, http.StatusInternalServerError)
	}
}

func (s *Server) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")

	var interval time.Duration
	if v := r.URL.Query().Get("intervalMs"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			writeJSONError(w, "intervalMs must be a positive integer", http.StatusBadRequest)
			return
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	h, err := s.registry.Start(ctx, siteID, interval)
	if err != nil {
		writeSimulationError(w, r, err, "failed to start simulation")
		return
	}
	writeJSON(w, statusFor(siteID, h))
}

func (s *Server) handleStopSimulation(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteID")
	if err := s.registry.Stop(r.Context(), siteID); err != nil {
		writeSimulationError(w, r, err, "failed to stop simulation")
		return
	}
	writeJSON(w, statusFor(siteID, nil))
}

func (s *Server) handleSimulationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")
	h, ok := s.registry.Get(siteID)
	if !ok {
		// an unknown site is never running, but report it as such
		if _, err := s.storage.GetSite(ctx, siteID); err != nil {
			writeSiteError(w, r, err)
			return
		}
	}
	writeJSON(w, statusFor(siteID, h))
}

func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	running := s.registry.Running()
	out := make([]simulationStatus, 0, len(running))
	for _, siteID := range running {
		h, ok := s.registry.Get(siteID)
		if !ok {
			// stopped since Running was read
			continue
		}
		out = append(out, statusFor(siteID, h))
	}
	writeJSON(w, out)
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")

	points := simulation.DefaultSeedPoints
	if v := r.URL.Query().Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, "points must be an integer", http.StatusBadRequest)
			return
		}
		points = n
	}

	created, err := s.seeder.Seed(ctx, siteID, points)
	if err != nil {
		var serr *simulation.SeedError
		if errors.As(err, &serr) {
			log.Ctx(ctx).ErrorContext(ctx, "seeding failed", slog.String("siteID", siteID), slog.Int("created", created), slog.Any("error", err))
			writeJSONStatus(w, http.StatusInternalServerError, struct {
				SiteID  string `json:"siteId"`
				Created int    `json:"created"`
				Error   string `json:"error"`
			}{siteID, created, "seeding failed"})
			return
		}
		writeSimulationError(w, r, err, "failed to seed")
		return
	}
	writeJSON(w, struct {
		SiteID  string `json:"siteId"`
		Created int    `json:"created"`
	}{siteID, created})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteID")
	res, err := simulation.Clear(r.Context(), s.storage, siteID)
	if err != nil {
		writeSimulationError(w, r, err, "failed to clear site data")
		return
	}
	writeJSON(w, struct {
		SiteID string `json:"siteId"`
		simulation.ClearResult
	}{siteID, res})
}

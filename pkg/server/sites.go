package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
)

func writeSiteError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrSiteNotFound) {
		writeJSONError(w, "site not found", http.StatusNotFound)
		return
	}
	ctx := r.Context()
	log.Ctx(ctx).ErrorContext(ctx, "failed to get site", slog.String("siteID", r.PathValue("siteID")), slog.Any("error", err))
	writeJSONError(w, "failed to get site", http.StatusInternalServerError)
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sites, err := s.storage.ListSites(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list sites", slog.Any("error", err))
		writeJSONError(w, "failed to list sites", http.StatusInternalServerError)
		return
	}
	if sites == nil {
		sites = []types.Site{}
	}
	writeJSON(w, sites)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.storage.GetSite(r.Context(), r.PathValue("siteID"))
	if err != nil {
		writeSiteError(w, r, err)
		return
	}
	writeJSON(w, site)
}

func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var site types.Site
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&site); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	site.ID = strings.TrimSpace(site.ID)
	switch {
	case site.ID == "" || strings.Contains(site.ID, "/"):
		writeJSONError(w, "id is required and cannot contain '/'", http.StatusBadRequest)
		return
	case site.CapacityKW <= 0:
		writeJSONError(w, "capacityKw must be positive", http.StatusBadRequest)
		return
	}
	if site.Timezone != "" {
		if _, err := time.LoadLocation(site.Timezone); err != nil {
			writeJSONError(w, "unknown timezone", http.StatusBadRequest)
			return
		}
	}

	if err := s.storage.CreateSite(ctx, site); err != nil {
		if errors.Is(err, storage.ErrSiteExists) {
			writeJSONError(w, "site already exists", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to create site", slog.String("siteID", site.ID), slog.Any("error", err))
		writeJSONError(w, "failed to create site", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "created site", slog.String("siteID", site.ID), slog.Float64("capacityKw", site.CapacityKW))
	writeJSONStatus(w, http.StatusCreated, site)
}

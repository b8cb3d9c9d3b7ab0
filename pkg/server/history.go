package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
)

const maxHistoryRange = 7 * 24 * time.Hour

func (s *Server) handleHistoryWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.storage.GetSite(ctx, siteID); err != nil {
		writeSiteError(w, r, err)
		return
	}

	samples, err := s.storage.GetWeatherHistory(ctx, siteID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get weather history", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "failed to get weather history", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []types.WeatherSample{}
	}
	setHistoryCache(w, end)
	writeJSON(w, samples)
}

func (s *Server) handleHistoryTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.storage.GetSite(ctx, siteID); err != nil {
		writeSiteError(w, r, err)
		return
	}

	samples := []types.TelemetrySample{}
	d, err := s.storage.FindDevice(ctx, types.SimulatedDeviceName(siteID))
	switch {
	case errors.Is(err, storage.ErrDeviceNotFound):
		// never simulated
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "failed to find device", slog.String("siteID", siteID), slog.Any("error", err))
		writeJSONError(w, "failed to get telemetry history", http.StatusInternalServerError)
		return
	default:
		got, err := s.storage.GetTelemetryHistory(ctx, d.ID, start, end)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get telemetry history", slog.String("siteID", siteID), slog.String("deviceID", d.ID), slog.Any("error", err))
			writeJSONError(w, "failed to get telemetry history", http.StatusInternalServerError)
			return
		}
		if got != nil {
			samples = got
		}
	}
	setHistoryCache(w, end)
	writeJSON(w, samples)
}

// setHistoryCache caches ranges that ended before today for a day and
// anything that may still be written to for a few seconds.
func setHistoryCache(w http.ResponseWriter, end time.Time) {
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=5")
	}
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxHistoryRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 7 days")
	}

	return start, end, nil
}

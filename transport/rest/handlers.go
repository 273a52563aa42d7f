package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/tilegrid/internal/fanout"
	"github.com/rocketscienceinc/tilegrid/internal/usecase"
)

type Handlers interface {
	PingHandler(w http.ResponseWriter, _ *http.Request)
	StatsHandler(w http.ResponseWriter, r *http.Request)
}

type gridStats interface {
	Stats(ctx context.Context) (usecase.Stats, error)
}

type hubStats interface {
	Stats() fanout.Stats
}

type handlers struct {
	logger *slog.Logger
	grid   gridStats
	hub    hubStats
}

type StatsResponse struct {
	Grid      usecase.Stats `json:"grid"`
	Broadcast fanout.Stats  `json:"broadcast"`
}

func NewHandlers(logger *slog.Logger, grid gridStats, hub hubStats) Handlers {
	return &handlers{
		logger: logger.With("component", "rest"),
		grid:   grid,
		hub:    hub,
	}
}

// StatsHandler - reports mutation counters, grid dimensions and broadcast counters.
func (that *handlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "StatsHandler")

	gridStats, err := that.grid.Stats(r.Context())
	if err != nil {
		log.Error("failed to read grid stats", "error", err)
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := StatsResponse{
		Grid:      gridStats,
		Broadcast: that.hub.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("failed to encode stats", "error", err)
	}
}

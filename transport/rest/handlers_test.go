package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rocketscienceinc/tilegrid/internal/fanout"
	"github.com/rocketscienceinc/tilegrid/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGrid struct {
	stats usecase.Stats
	err   error
}

func (that *stubGrid) Stats(context.Context) (usecase.Stats, error) {
	return that.stats, that.err
}

type stubHub struct{}

func (stubHub) Stats() fanout.Stats {
	return fanout.Stats{Published: 3, Dropped: 1}
}

func newTestRouter(grid *stubGrid) http.Handler {
	return NewRouter(NewHandlers(slog.New(slog.NewTextHandler(io.Discard, nil)), grid, stubHub{}))
}

func TestPingHandler(t *testing.T) {
	rec := httptest.NewRecorder()

	newTestRouter(&stubGrid{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestStatsHandler(t *testing.T) {
	t.Run("Reports grid and broadcast counters", func(t *testing.T) {
		// Given: a grid with some accepted commands
		grid := &stubGrid{stats: usecase.Stats{Accepted: 5, Rejected: 2, Rows: 20, Columns: 40}}
		rec := httptest.NewRecorder()

		// When: stats are requested
		newTestRouter(grid).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

		// Then: both sections are returned as JSON
		require.Equal(t, http.StatusOK, rec.Code)

		var resp StatsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, grid.stats, resp.Grid)
		assert.Equal(t, uint64(3), resp.Broadcast.Published)
		assert.Equal(t, uint64(1), resp.Broadcast.Dropped)
	})

	t.Run("Stopped service is unavailable", func(t *testing.T) {
		rec := httptest.NewRecorder()

		newTestRouter(&stubGrid{err: errors.New("stopped")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rocketscienceinc/tilegrid/internal/apperror"
	"github.com/rocketscienceinc/tilegrid/internal/codec"
	"github.com/rocketscienceinc/tilegrid/internal/entity"
)

type publisher interface {
	Publish(ctx context.Context, msg string) error
}

// request runs fn on the Run goroutine and closes done afterwards.
type request struct {
	fn   func()
	done chan struct{}
}

type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Fetches  uint64 `json:"fetches"`
	Rows     int    `json:"rows"`
	Columns  int    `json:"columns"`
}

// GridManager is the authority's mutation service. The grid is owned by the Run goroutine:
// requests are processed one at a time, which serializes every write without locks.
type GridManager struct {
	logger    *slog.Logger
	publisher publisher

	grid     *entity.Grid
	stats    Stats
	requests chan request
	done     chan struct{}
}

func NewGridManager(logger *slog.Logger, grid *entity.Grid, publisher publisher) *GridManager {
	return &GridManager{
		logger:    logger.With("component", "grid-manager"),
		publisher: publisher,

		grid:     grid,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Run - processes requests until ctx is cancelled. The request in flight always completes.
func (that *GridManager) Run(ctx context.Context) {
	log := that.logger.With("method", "Run")
	log.Info("mutation service started", "rows", that.grid.Rows(), "columns", that.grid.Columns())

	defer close(that.done)

	for {
		select {
		case req := <-that.requests:
			req.fn()
			close(req.done)
		case <-ctx.Done():
			log.Info("mutation service stopped")
			return
		}
	}
}

// Handle - submits one raw request and waits for its reply.
func (that *GridManager) Handle(ctx context.Context, raw string) (string, error) {
	// the broadcast must not be cut short once the mutation is applied
	publishCtx := context.WithoutCancel(ctx)

	var reply string
	err := that.do(ctx, func() {
		reply = that.process(publishCtx, raw)
	})

	return reply, err
}

// Stats - counters and current dimensions, read on the request loop.
func (that *GridManager) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := that.do(ctx, func() {
		stats = that.stats
		stats.Rows = that.grid.Rows()
		stats.Columns = that.grid.Columns()
	})

	return stats, err
}

// Snapshot - copy of the authoritative grid.
func (that *GridManager) Snapshot(ctx context.Context) (*entity.Grid, error) {
	var grid *entity.Grid
	err := that.do(ctx, func() {
		grid = that.grid.Clone()
	})

	return grid, err
}

func (that *GridManager) do(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}

	select {
	case that.requests <- req:
	case <-that.done:
		return apperror.ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("request not accepted: %w", ctx.Err())
	}

	// once accepted, the loop always finishes the request
	<-req.done

	return nil
}

func (that *GridManager) process(ctx context.Context, raw string) string {
	log := that.logger.With("method", "process")

	if raw == codec.FetchRequest {
		that.stats.Fetches++
		return codec.EncodeSnapshot(that.grid)
	}

	cmd, err := that.apply(raw)
	if err != nil {
		that.stats.Rejected++
		log.Warn("command rejected", "error", err)
		return codec.EncodeErrorAck(err)
	}

	that.stats.Accepted++
	log.Debug("command applied", "client", cmd.ClientID, "command", cmd.Name)

	// the mutation stays applied even if the broadcast fails; late clients recover with a fetch
	if err = that.publisher.Publish(ctx, raw); err != nil {
		log.Error("failed to publish command", "client", cmd.ClientID, "error", err)
	}

	return codec.AckOK
}

func (that *GridManager) apply(raw string) (entity.Command, error) {
	cmd, err := codec.DecodeCommand(raw)
	if err != nil {
		return entity.Command{}, fmt.Errorf("failed to decode command: %w", err)
	}

	if err = cmd.ApplyTo(that.grid); err != nil {
		return entity.Command{}, fmt.Errorf("failed to apply %s: %w", cmd.Name, err)
	}

	return cmd, nil
}

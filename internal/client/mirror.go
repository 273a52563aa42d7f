package client

import (
	"sync"

	"github.com/rocketscienceinc/tilegrid/internal/entity"
)

// Mirror is a client's local copy of the grid. It is written by the request flow after a
// confirmed mutation and by the subscription flow for broadcasts, so access is guarded.
//
// Own commands are applied when the authority confirms them and again when their echo is
// dispatched, so they land in broadcast order. Requests are lock-step, so at most one own
// command is in flight; if its echo was dispatched before the confirmation, applying the
// confirmation would overwrite changes broadcast after it, and it is skipped.
type Mirror struct {
	mu   sync.RWMutex
	grid *entity.Grid

	pending string
	echoed  bool
}

func NewMirror(grid *entity.Grid) *Mirror {
	return &Mirror{grid: grid}
}

// Apply - applies a remote command.
func (that *Mirror) Apply(cmd entity.Command) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	return cmd.ApplyTo(that.grid)
}

// Expect - marks raw as the own command about to be sent.
func (that *Mirror) Expect(raw string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.pending = raw
	that.echoed = false
}

// Settle - forgets the in-flight command without applying it.
func (that *Mirror) Settle() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.pending = ""
	that.echoed = false
}

// ApplyConfirmed - applies the in-flight command the authority just accepted, unless its
// echo already did.
func (that *Mirror) ApplyConfirmed(cmd entity.Command) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	skip := that.echoed
	that.pending = ""
	that.echoed = false

	if skip {
		return nil
	}

	return cmd.ApplyTo(that.grid)
}

// ApplyEcho - applies the broadcast echo of an own command.
func (that *Mirror) ApplyEcho(raw string, cmd entity.Command) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.pending != "" && raw == that.pending {
		that.echoed = true
	}

	return cmd.ApplyTo(that.grid)
}

// Replace - swaps in a freshly fetched grid.
func (that *Mirror) Replace(grid *entity.Grid) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.grid = grid
}

func (that *Mirror) Get(x, y int) (entity.Cell, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.grid.Get(x, y)
}

// Snapshot - copy of the current mirror state.
func (that *Mirror) Snapshot() *entity.Grid {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.grid.Clone()
}

func (that *Mirror) Dimensions() (int, int) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.grid.Rows(), that.grid.Columns()
}

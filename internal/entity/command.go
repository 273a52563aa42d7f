package entity

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rocketscienceinc/tilegrid/internal/apperror"
)

const (
	CommandFetch  = "fetch"
	CommandUpdate = "update"
	CommandResize = "resize"
)

// ClientID identifies one client process. It is generated once at startup and never persisted.
type ClientID = uuid.UUID

// NewClientID - generates a random 128-bit client identity.
func NewClientID() ClientID {
	return uuid.New()
}

// Command is a decoded mutation request. Only the fields matching Name are meaningful.
type Command struct {
	ClientID ClientID
	Name     string

	X, Y, Color   int
	Rows, Columns int
}

// NewUpdate - builds an update command for the cell at column x, row y.
func NewUpdate(id ClientID, x, y, color int) Command {
	return Command{ClientID: id, Name: CommandUpdate, X: x, Y: y, Color: color}
}

// NewResize - builds a resize command.
func NewResize(id ClientID, rows, columns int) Command {
	return Command{ClientID: id, Name: CommandResize, Rows: rows, Columns: columns}
}

// ApplyTo - applies the command to grid.
func (that Command) ApplyTo(grid *Grid) error {
	switch that.Name {
	case CommandUpdate:
		return grid.Set(that.X, that.Y, that.Color)
	case CommandResize:
		return grid.Resize(that.Rows, that.Columns)
	default:
		return fmt.Errorf("%w: unknown command %q", apperror.ErrMalformedMessage, that.Name)
	}
}

// Change is a remote mutation delivered to a client after it was accepted by the authority.
type Change struct {
	Command

	Raw string
}

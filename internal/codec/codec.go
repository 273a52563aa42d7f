// Package codec owns the line-oriented text grammar exchanged between the authority and its
// clients: grid snapshots, mutation commands and acknowledgements.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rocketscienceinc/tilegrid/internal/apperror"
	"github.com/rocketscienceinc/tilegrid/internal/entity"
)

const (
	// FetchRequest is the literal request for a full snapshot.
	FetchRequest = entity.CommandFetch

	// AckOK is the acknowledgement for an accepted command.
	AckOK = "received command"

	errorAckPrefix = "error: "
)

const (
	kindOutOfBounds  = "out_of_bounds"
	kindInvalidColor = "invalid_color"
	kindInvalidSize  = "invalid_size"
	kindMalformed    = "malformed_message"
)

// EncodeSnapshot - serializes the whole grid: a "rows,columns" line followed by one
// "x,y,color" line per cell.
func EncodeSnapshot(grid *entity.Grid) string {
	var sb strings.Builder

	// "x,y,c\n" with small coordinates stays under 12 bytes.
	sb.Grow(12*grid.Rows()*grid.Columns() + 16)

	sb.WriteString(strconv.Itoa(grid.Rows()))
	sb.WriteByte(',')
	sb.WriteString(strconv.Itoa(grid.Columns()))
	sb.WriteByte('\n')

	grid.Each(func(x, y int, cell entity.Cell) {
		sb.WriteString(strconv.Itoa(x))
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(y))
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(cell.Color))
		sb.WriteByte('\n')
	})

	return sb.String()
}

// DecodeSnapshot - parses a snapshot into target. The target is resized to the announced
// dimensions before any cell line is applied.
func DecodeSnapshot(text string, target *entity.Grid) error {
	lines := strings.Split(text, "\n")

	header := strings.TrimSpace(lines[0])
	if header == "" {
		return fmt.Errorf("%w: missing dimension line", apperror.ErrMalformedMessage)
	}

	dims, err := parseInts(header, 2)
	if err != nil {
		return fmt.Errorf("dimension line: %w", err)
	}

	if err = target.Resize(dims[0], dims[1]); err != nil {
		return fmt.Errorf("failed to resize snapshot target: %w", err)
	}

	for i, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		values, err := parseInts(line, 3)
		if err != nil {
			return fmt.Errorf("line %d: %w", i+2, err)
		}

		if err = target.Set(values[0], values[1], values[2]); err != nil {
			return fmt.Errorf("line %d: %w", i+2, err)
		}
	}

	return nil
}

// EncodeCommand - serializes a mutation as "<client-id>\n<name>\n<args>".
func EncodeCommand(cmd entity.Command) string {
	var args string

	switch cmd.Name {
	case entity.CommandUpdate:
		args = FormatUpdateArgs(cmd.X, cmd.Y, cmd.Color)
	case entity.CommandResize:
		args = FormatResizeArgs(cmd.Rows, cmd.Columns)
	}

	return cmd.ClientID.String() + "\n" + cmd.Name + "\n" + args
}

// DecodeCommand - parses "<client-id>\n<name>\n<args>" into a command.
func DecodeCommand(text string) (entity.Command, error) {
	segments := strings.SplitN(text, "\n", 3)
	if len(segments) < 3 {
		return entity.Command{}, fmt.Errorf("%w: expected 3 segments, got %d", apperror.ErrMalformedMessage, len(segments))
	}

	id, err := uuid.Parse(strings.TrimSpace(segments[0]))
	if err != nil {
		return entity.Command{}, fmt.Errorf("%w: client id: %w", apperror.ErrMalformedMessage, err)
	}

	cmd := entity.Command{
		ClientID: id,
		Name:     strings.TrimSpace(segments[1]),
	}
	args := strings.TrimSpace(segments[2])

	switch cmd.Name {
	case entity.CommandUpdate:
		cmd.X, cmd.Y, cmd.Color, err = ParseUpdateArgs(args)
	case entity.CommandResize:
		cmd.Rows, cmd.Columns, err = ParseResizeArgs(args)
	default:
		err = fmt.Errorf("%w: unknown command %q", apperror.ErrMalformedMessage, cmd.Name)
	}

	if err != nil {
		return entity.Command{}, err
	}

	return cmd, nil
}

func FormatUpdateArgs(x, y, color int) string {
	return fmt.Sprintf("%d,%d,%d", x, y, color)
}

// ParseUpdateArgs - parses "x,y,color".
func ParseUpdateArgs(args string) (int, int, int, error) {
	values, err := parseInts(args, 3)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("update args: %w", err)
	}

	return values[0], values[1], values[2], nil
}

func FormatResizeArgs(rows, columns int) string {
	return fmt.Sprintf("%d,%d", rows, columns)
}

// ParseResizeArgs - parses "rows,columns".
func ParseResizeArgs(args string) (int, int, error) {
	values, err := parseInts(args, 2)
	if err != nil {
		return 0, 0, fmt.Errorf("resize args: %w", err)
	}

	return values[0], values[1], nil
}

// EncodeErrorAck - builds the failure acknowledgement for err.
func EncodeErrorAck(err error) string {
	return errorAckPrefix + errorKind(err)
}

// DecodeAck - returns nil for a success acknowledgement and the matching sentinel error
// for a failure acknowledgement.
func DecodeAck(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty acknowledgement", apperror.ErrMalformedMessage)
	}

	kind, isError := strings.CutPrefix(text, errorAckPrefix)
	if !isError {
		return nil
	}

	switch kind {
	case kindOutOfBounds:
		return apperror.ErrOutOfBounds
	case kindInvalidColor:
		return apperror.ErrInvalidColor
	case kindInvalidSize:
		return apperror.ErrInvalidSize
	default:
		return apperror.ErrMalformedMessage
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, apperror.ErrOutOfBounds):
		return kindOutOfBounds
	case errors.Is(err, apperror.ErrInvalidColor):
		return kindInvalidColor
	case errors.Is(err, apperror.ErrInvalidSize):
		return kindInvalidSize
	default:
		return kindMalformed
	}
}

// parseInts - splits a comma-separated line of at least want fields; the first want are parsed.
func parseInts(line string, want int) ([]int, error) {
	fields := strings.Split(line, ",")
	if len(fields) < want {
		return nil, fmt.Errorf("%w: %q has %d fields, want %d", apperror.ErrMalformedMessage, line, len(fields), want)
	}

	values := make([]int, want)
	for i := range want {
		v, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", apperror.ErrMalformedMessage, fields[i])
		}
		values[i] = v
	}

	return values, nil
}

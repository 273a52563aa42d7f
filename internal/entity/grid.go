package entity

import (
	"fmt"
	"math/rand/v2"

	"github.com/rocketscienceinc/tilegrid/internal/apperror"
)

const (
	MinColor     = 0
	MaxColor     = 4
	DefaultColor = MinColor

	// MaxCells bounds rows*columns so a single resize cannot exhaust memory.
	MaxCells = 1 << 22
)

type Cell struct {
	Color int `json:"color"`
}

// Grid is a rows x columns board of cells addressed as (x, y) = (column, row).
// Cells live in one flat slice with row stride equal to the column count.
type Grid struct {
	rows    int
	columns int
	cells   []Cell
}

// NewGrid - creates a grid with every cell set to the default color.
func NewGrid(rows, columns int) (*Grid, error) {
	if err := validateSize(rows, columns); err != nil {
		return nil, err
	}

	return &Grid{
		rows:    rows,
		columns: columns,
		cells:   make([]Cell, rows*columns),
	}, nil
}

// NewRandomGrid - creates a grid filled with pseudo-random colors derived from seed.
// The same seed always produces the same grid.
func NewRandomGrid(rows, columns int, seed uint64) (*Grid, error) {
	grid, err := NewGrid(rows, columns)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint: gosec // fill pattern, not a secret
	for i := range grid.cells {
		grid.cells[i].Color = rng.IntN(MaxColor)
	}

	return grid, nil
}

func (that *Grid) Rows() int {
	return that.rows
}

func (that *Grid) Columns() int {
	return that.columns
}

// Get - returns the cell at column x, row y.
func (that *Grid) Get(x, y int) (Cell, error) {
	idx, err := that.index(x, y)
	if err != nil {
		return Cell{}, err
	}

	return that.cells[idx], nil
}

// Set - changes the color of the cell at column x, row y.
func (that *Grid) Set(x, y, color int) error {
	idx, err := that.index(x, y)
	if err != nil {
		return err
	}

	if color < MinColor || color > MaxColor {
		return fmt.Errorf("%w: %d", apperror.ErrInvalidColor, color)
	}

	that.cells[idx].Color = color

	return nil
}

// Resize - changes both dimensions at once. Cells inside the overlap keep their color,
// new cells get DefaultColor. On error the grid is left untouched.
func (that *Grid) Resize(rows, columns int) error {
	if err := validateSize(rows, columns); err != nil {
		return err
	}

	if rows == that.rows && columns == that.columns {
		return nil
	}

	cells := make([]Cell, rows*columns)

	keepRows := min(rows, that.rows)
	keepColumns := min(columns, that.columns)
	for y := range keepRows {
		copy(cells[y*columns:y*columns+keepColumns], that.cells[y*that.columns:y*that.columns+keepColumns])
	}

	that.rows, that.columns, that.cells = rows, columns, cells

	return nil
}

// Each - calls fn for every cell in row-major order.
func (that *Grid) Each(fn func(x, y int, cell Cell)) {
	for i, cell := range that.cells {
		fn(i%that.columns, i/that.columns, cell)
	}
}

func (that *Grid) Clone() *Grid {
	cells := make([]Cell, len(that.cells))
	copy(cells, that.cells)

	return &Grid{
		rows:    that.rows,
		columns: that.columns,
		cells:   cells,
	}
}

// Equal - reports whether both grids have the same dimensions and colors.
func (that *Grid) Equal(other *Grid) bool {
	if other == nil || that.rows != other.rows || that.columns != other.columns {
		return false
	}

	for i := range that.cells {
		if that.cells[i] != other.cells[i] {
			return false
		}
	}

	return true
}

func (that *Grid) index(x, y int) (int, error) {
	if x < 0 || x >= that.columns || y < 0 || y >= that.rows {
		return 0, fmt.Errorf("%w: (%d,%d) on %dx%d grid", apperror.ErrOutOfBounds, x, y, that.rows, that.columns)
	}

	return y*that.columns + x, nil
}

func validateSize(rows, columns int) error {
	if rows < 1 || columns < 1 {
		return fmt.Errorf("%w: %dx%d", apperror.ErrInvalidSize, rows, columns)
	}

	if rows > MaxCells/columns {
		return fmt.Errorf("%w: %dx%d exceeds %d cells", apperror.ErrInvalidSize, rows, columns, MaxCells)
	}

	return nil
}

package entity

import (
	"testing"

	"github.com/rocketscienceinc/tilegrid/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrid(t *testing.T) {
	t.Run("All cells start with the default color", func(t *testing.T) {
		// When: a 4x6 grid is created
		grid, err := NewGrid(4, 6)

		// Then: dimensions match and every cell is color 0
		require.NoError(t, err)
		assert.Equal(t, 4, grid.Rows())
		assert.Equal(t, 6, grid.Columns())

		count := 0
		grid.Each(func(_, _ int, cell Cell) {
			assert.Equal(t, DefaultColor, cell.Color)
			count++
		})
		assert.Equal(t, 24, count)
	})

	t.Run("Rejects non-positive dimensions", func(t *testing.T) {
		_, err := NewGrid(0, 5)
		require.ErrorIs(t, err, apperror.ErrInvalidSize)

		_, err = NewGrid(5, -1)
		require.ErrorIs(t, err, apperror.ErrInvalidSize)
	})

	t.Run("Rejects grids above the cell limit", func(t *testing.T) {
		_, err := NewGrid(MaxCells, 2)
		require.ErrorIs(t, err, apperror.ErrInvalidSize)
	})
}

func TestNewRandomGrid(t *testing.T) {
	// Given: two grids built from the same seed
	first, err := NewRandomGrid(16, 16, 42)
	require.NoError(t, err)

	second, err := NewRandomGrid(16, 16, 42)
	require.NoError(t, err)

	// Then: they are identical and every color is valid
	assert.True(t, first.Equal(second))
	first.Each(func(_, _ int, cell Cell) {
		assert.GreaterOrEqual(t, cell.Color, MinColor)
		assert.LessOrEqual(t, cell.Color, MaxColor)
	})
}

func TestGrid_SetGet(t *testing.T) {
	t.Run("Set changes only the addressed cell", func(t *testing.T) {
		// Given: a 3 rows x 5 columns grid
		grid, err := NewGrid(3, 5)
		require.NoError(t, err)

		// When: column 4, row 2 is painted
		require.NoError(t, grid.Set(4, 2, 3))

		// Then: that cell has the color and its transposition does not exist
		cell, err := grid.Get(4, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, cell.Color)

		_, err = grid.Get(2, 4)
		require.ErrorIs(t, err, apperror.ErrOutOfBounds)
	})

	t.Run("Applying the same update twice is idempotent", func(t *testing.T) {
		once, err := NewGrid(8, 8)
		require.NoError(t, err)
		twice := once.Clone()

		require.NoError(t, once.Set(5, 5, 2))
		require.NoError(t, twice.Set(5, 5, 2))
		require.NoError(t, twice.Set(5, 5, 2))

		assert.True(t, once.Equal(twice))
	})

	t.Run("Bounds are strict", func(t *testing.T) {
		grid, err := NewGrid(4, 6)
		require.NoError(t, err)

		cases := []struct {
			name string
			x, y int
		}{
			{"x equals columns", 6, 0},
			{"y equals rows", 0, 4},
			{"negative x", -1, 0},
			{"negative y", 0, -1},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := grid.Get(tc.x, tc.y)
				require.ErrorIs(t, err, apperror.ErrOutOfBounds)

				err = grid.Set(tc.x, tc.y, 1)
				require.ErrorIs(t, err, apperror.ErrOutOfBounds)
			})
		}

		_, err = grid.Get(5, 3)
		require.NoError(t, err)
	})

	t.Run("Rejects colors outside the palette", func(t *testing.T) {
		grid, err := NewGrid(2, 2)
		require.NoError(t, err)

		require.ErrorIs(t, grid.Set(0, 0, 5), apperror.ErrInvalidColor)
		require.ErrorIs(t, grid.Set(0, 0, -1), apperror.ErrInvalidColor)
		require.NoError(t, grid.Set(0, 0, MaxColor))
	})
}

func TestGrid_Resize(t *testing.T) {
	t.Run("Grow then shrink preserves the original region", func(t *testing.T) {
		// Given: a random 32x32 grid
		grid, err := NewRandomGrid(32, 32, 7)
		require.NoError(t, err)
		before := grid.Clone()

		// When: it is grown to 40x40 and shrunk back
		require.NoError(t, grid.Resize(40, 40))

		cell, err := grid.Get(39, 39)
		require.NoError(t, err)
		assert.Equal(t, DefaultColor, cell.Color)

		require.NoError(t, grid.Resize(32, 32))

		// Then: the grid matches the original
		assert.True(t, before.Equal(grid))
	})

	t.Run("Independent dimensions keep the overlap", func(t *testing.T) {
		// Given: a random 32x32 grid
		grid, err := NewRandomGrid(32, 32, 11)
		require.NoError(t, err)
		before := grid.Clone()

		// When: it is resized to 20 rows x 40 columns
		require.NoError(t, grid.Resize(20, 40))

		// Then: overlapping cells keep their color, new columns are default
		assert.Equal(t, 20, grid.Rows())
		assert.Equal(t, 40, grid.Columns())

		for y := range 20 {
			for x := range 40 {
				cell, err := grid.Get(x, y)
				require.NoError(t, err)

				if x < 32 {
					old, err := before.Get(x, y)
					require.NoError(t, err)
					assert.Equal(t, old.Color, cell.Color, "cell %d,%d", x, y)
				} else {
					assert.Equal(t, DefaultColor, cell.Color, "cell %d,%d", x, y)
				}
			}
		}

		_, err = grid.Get(0, 20)
		require.ErrorIs(t, err, apperror.ErrOutOfBounds)
	})

	t.Run("Invalid size leaves the grid untouched", func(t *testing.T) {
		grid, err := NewRandomGrid(4, 4, 3)
		require.NoError(t, err)
		before := grid.Clone()

		require.ErrorIs(t, grid.Resize(0, 10), apperror.ErrInvalidSize)
		assert.True(t, before.Equal(grid))
	})
}

func TestCommand_ApplyTo(t *testing.T) {
	id := NewClientID()

	grid, err := NewGrid(4, 4)
	require.NoError(t, err)

	require.NoError(t, NewUpdate(id, 1, 2, 3).ApplyTo(grid))
	cell, err := grid.Get(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, cell.Color)

	require.NoError(t, NewResize(id, 2, 8).ApplyTo(grid))
	assert.Equal(t, 2, grid.Rows())
	assert.Equal(t, 8, grid.Columns())

	err = Command{ClientID: id, Name: "paint"}.ApplyTo(grid)
	require.ErrorIs(t, err, apperror.ErrMalformedMessage)
}

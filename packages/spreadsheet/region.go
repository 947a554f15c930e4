package spreadsheet

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Region is a rectangular block of cells. bounds are zero-based and
// inclusive, Top <= Bottom and Left <= Right always hold.
type Region struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

// NewRegion builds a region from two corners given in any order
func NewRegion(row0, col0, row1, col1 int) Region {
	if row1 < row0 {
		row0, row1 = row1, row0
	}
	if col1 < col0 {
		col0, col1 = col1, col0
	}
	return Region{Top: row0, Left: col0, Bottom: row1, Right: col1}
}

// CellRegion is the single-cell region at row, col
func CellRegion(row, col int) Region {
	return Region{Top: row, Left: col, Bottom: row, Right: col}
}

func (r Region) Height() int { return r.Bottom - r.Top + 1 }

func (r Region) Width() int { return r.Right - r.Left + 1 }

func (r Region) Area() int { return r.Height() * r.Width() }

func (r Region) IsSingleCell() bool { return r.Top == r.Bottom && r.Left == r.Right }

// Intersects reports whether the two regions share at least one cell
func (r Region) Intersects(o Region) bool {
	return r.Left <= o.Right && o.Left <= r.Right && r.Top <= o.Bottom && o.Top <= r.Bottom
}

// Contains reports whether o lies entirely inside r
func (r Region) Contains(o Region) bool {
	return o.Top >= r.Top && o.Bottom <= r.Bottom && o.Left >= r.Left && o.Right <= r.Right
}

func (r Region) ContainsCell(row, col int) bool {
	return row >= r.Top && row <= r.Bottom && col >= r.Left && col <= r.Right
}

// Intersection returns the overlap of two regions. ok is false when they
// are disjoint.
func (r Region) Intersection(o Region) (Region, bool) {
	if !r.Intersects(o) {
		return Region{}, false
	}
	return Region{
		Top:    max(r.Top, o.Top),
		Left:   max(r.Left, o.Left),
		Bottom: min(r.Bottom, o.Bottom),
		Right:  min(r.Right, o.Right),
	}, true
}

// Cells iterates row-major over every cell position in the region
func (r Region) Cells() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for row := r.Top; row <= r.Bottom; row++ {
			for col := r.Left; col <= r.Right; col++ {
				if !yield(row, col) {
					return
				}
			}
		}
	}
}

// String renders the region in A1 notation, "B2" or "A1:C3"
func (r Region) String() string {
	start := CellName(r.Top, r.Left)
	if r.IsSingleCell() {
		return start
	}
	return start + ":" + CellName(r.Bottom, r.Right)
}

// ColumnName converts a zero-based column index to letters (0 -> A,
// 25 -> Z, 26 -> AA)
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var buf [8]byte
	i := len(buf)
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		i--
		buf[i] = byte('A' + (n-1)%26)
	}
	return string(buf[i:])
}

// CellName renders a zero-based position as "A1"
func CellName(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// ParseCellName parses an address like "B3" or "$B$3" into zero-based
// row and column indices
func ParseCellName(cell string) (row int, col int, err error) {
	cell = strings.ReplaceAll(cell, "$", "")
	letterEnd := 0
	for i, ch := range cell {
		if ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z' {
			letterEnd = i + 1
		} else {
			break
		}
	}
	if letterEnd == 0 || letterEnd == len(cell) || letterEnd > 3 {
		return 0, 0, fmt.Errorf("invalid cell reference: %s", cell)
	}

	// bijective base 26: A=1 ... Z=26, AA=27
	for _, ch := range strings.ToUpper(cell[:letterEnd]) {
		col = col*26 + int(ch-'A') + 1
	}
	col--

	rowNum, err := strconv.Atoi(cell[letterEnd:])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid row number: %s", cell[letterEnd:])
	}
	if rowNum < 1 {
		return 0, 0, fmt.Errorf("row number must be positive: %d", rowNum)
	}
	if rowNum > MaxRows || col >= MaxCols {
		return 0, 0, fmt.Errorf("cell reference outside the grid: %s", cell)
	}
	return rowNum - 1, col, nil
}

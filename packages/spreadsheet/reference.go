package spreadsheet

import (
	"strconv"
	"strings"
)

// ReferenceKind distinguishes the addressing forms a formula can use
type ReferenceKind uint8

const (
	ReferenceCell ReferenceKind = iota
	ReferenceRange
	ReferenceNamed
)

// Reference is an addressing expression found in a formula. An empty
// SheetName means the sheet that owns the formula.
type Reference interface {
	Kind() ReferenceKind
	SheetName() string
	Region() Region
	Span() NodePosition
	String() string
}

// CellReference addresses a single cell
type CellReference struct {
	Sheet       string
	Row         int
	Col         int
	RowAbsolute bool
	ColAbsolute bool
	Position    NodePosition
}

func (r *CellReference) Kind() ReferenceKind { return ReferenceCell }
func (r *CellReference) SheetName() string   { return r.Sheet }
func (r *CellReference) Region() Region      { return CellRegion(r.Row, r.Col) }
func (r *CellReference) Span() NodePosition  { return r.Position }

func (r *CellReference) String() string {
	return sheetPrefix(r.Sheet) + r.address()
}

func (r *CellReference) address() string {
	var sb strings.Builder
	if r.ColAbsolute {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnName(r.Col))
	if r.RowAbsolute {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(r.Row + 1))
	return sb.String()
}

// RangeReference addresses a rectangular block between two corners
type RangeReference struct {
	Sheet    string
	Start    CellReference
	End      CellReference
	Position NodePosition
}

func (r *RangeReference) Kind() ReferenceKind { return ReferenceRange }
func (r *RangeReference) SheetName() string   { return r.Sheet }
func (r *RangeReference) Span() NodePosition  { return r.Position }

func (r *RangeReference) Region() Region {
	return NewRegion(r.Start.Row, r.Start.Col, r.End.Row, r.End.Col)
}

func (r *RangeReference) String() string {
	return sheetPrefix(r.Sheet) + r.Start.address() + ":" + r.End.address()
}

// NamedReference addresses a workbook-level name (a variable or a named
// formula)
type NamedReference struct {
	Name     string
	Position NodePosition
}

func (r *NamedReference) Kind() ReferenceKind { return ReferenceNamed }
func (r *NamedReference) SheetName() string   { return "" }
func (r *NamedReference) Region() Region      { return Region{} }
func (r *NamedReference) Span() NodePosition  { return r.Position }
func (r *NamedReference) String() string      { return r.Name }

// NewCellReference builds a reference to a single cell on a sheet
func NewCellReference(sheet string, row, col int) *CellReference {
	return &CellReference{Sheet: sheet, Row: row, Col: col}
}

// NewRangeReference builds a reference covering region on a sheet
func NewRangeReference(sheet string, region Region) *RangeReference {
	return &RangeReference{
		Sheet: sheet,
		Start: CellReference{Row: region.Top, Col: region.Left},
		End:   CellReference{Row: region.Bottom, Col: region.Right},
	}
}

// QualifiedName renders sheet and region as "Sheet1!A1:B2"
func QualifiedName(sheet string, region Region) string {
	return sheetPrefix(sheet) + region.String()
}

func sheetPrefix(sheet string) string {
	if sheet == "" {
		return ""
	}
	if needsQuoting(sheet) {
		return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!"
	}
	return sheet + "!"
}

func needsQuoting(sheet string) bool {
	for i, ch := range sheet {
		if isAlpha(ch) || ch == charUnderscore || (i > 0 && (isDigit(ch) || ch == charPeriod)) {
			continue
		}
		return true
	}
	return false
}

package spreadsheet

import (
	"fmt"
	"iter"
	"slices"
	"strings"
)

// WorkbookOption configures a Workbook
type WorkbookOption func(*workbookSettings)

type workbookSettings struct {
	engine   []Option
	builtins []BuiltinOption
}

// WithEngineOptions passes options through to the workbook's engine
func WithEngineOptions(opts ...Option) WorkbookOption {
	return func(s *workbookSettings) { s.engine = append(s.engine, opts...) }
}

// WithBuiltins configures the built-in functions, e.g. a fixed clock
func WithBuiltins(opts ...BuiltinOption) WorkbookOption {
	return func(s *workbookSettings) { s.builtins = append(s.builtins, opts...) }
}

// Workbook is an in-memory Environment hosting worksheets. Formulas are
// installed through the engine and their results land in the worksheets
// like any other value.
type Workbook struct {
	*FunctionTable
	*VariableTable

	sheets  map[string]*Worksheet
	order   []string
	strings *StringTable
	engine  *Engine
}

var _ Environment = (*Workbook)(nil)

// NewWorkbook creates an empty workbook with the built-in functions
// registered
func NewWorkbook(opts ...WorkbookOption) *Workbook {
	var settings workbookSettings
	for _, opt := range opts {
		opt(&settings)
	}
	wb := &Workbook{
		FunctionTable: NewFunctionTable(),
		VariableTable: NewVariableTable(),
		sheets:        make(map[string]*Worksheet),
		strings:       NewStringTable(),
	}
	RegisterBuiltins(wb.FunctionTable, settings.builtins...)
	wb.engine = NewEngine(wb, settings.engine...)
	return wb
}

// Engine returns the workbook's recalculation engine
func (wb *Workbook) Engine() *Engine {
	return wb.engine
}

// AddSheet creates an empty sheet
func (wb *Workbook) AddSheet(name string) error {
	if name == "" || strings.ContainsAny(name, "!'") {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid sheet name %q", name))
	}
	if _, exists := wb.sheets[name]; exists {
		return sheetExists(name)
	}
	ws := NewWorksheet(name, wb.strings)
	wb.sheets[name] = ws
	wb.order = append(wb.order, name)
	if err := wb.engine.AddSheet(ws); err != nil {
		delete(wb.sheets, name)
		wb.order = wb.order[:len(wb.order)-1]
		return err
	}
	return nil
}

// RemoveSheet deletes a sheet and its formulas. formulas elsewhere that
// reference it evaluate to #REF! until a sheet with the same name is
// added again.
func (wb *Workbook) RemoveSheet(name string) error {
	ws, exists := wb.sheets[name]
	if !exists {
		return sheetNotFound(name)
	}
	if wb.engine.IsCalculating() {
		return NewApplicationError(FailedPrecondition, "cannot remove a sheet during recalculation")
	}
	delete(wb.sheets, name)
	wb.order = slices.DeleteFunc(wb.order, func(s string) bool { return s == name })
	ws.Clear()
	return wb.engine.RemoveSheet(name)
}

// Sheets lists sheet names in creation order
func (wb *Workbook) Sheets() []string {
	return slices.Clone(wb.order)
}

// Sheet returns the named worksheet
func (wb *Workbook) Sheet(name string) (*Worksheet, bool) {
	ws, ok := wb.sheets[name]
	return ws, ok
}

// resolve turns "A1", "A1:B2", "Sheet2!A1" into a sheet and region.
// unqualified addresses refer to the first sheet.
func (wb *Workbook) resolve(address string) (*Worksheet, Region, error) {
	ref, err := ParseReference(address)
	if err != nil {
		return nil, Region{}, err
	}
	name := ref.SheetName()
	if name == "" {
		if len(wb.order) == 0 {
			return nil, Region{}, NewApplicationError(FailedPrecondition, "workbook has no sheets")
		}
		name = wb.order[0]
	}
	ws, ok := wb.sheets[name]
	if !ok {
		return nil, Region{}, sheetNotFound(name)
	}
	return ws, ref.Region(), nil
}

func (wb *Workbook) resolveCell(address string) (*Worksheet, int, int, error) {
	ws, region, err := wb.resolve(address)
	if err != nil {
		return nil, 0, 0, err
	}
	if !region.IsSingleCell() {
		return nil, 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("%s is not a single cell", address))
	}
	return ws, region.Top, region.Left, nil
}

// Set writes input to a cell. strings starting with "=" install a
// formula, other strings are parsed as literals and any other value is
// stored as is. writing a value over a formula removes the formula.
func (wb *Workbook) Set(address string, input Primitive) error {
	ws, row, col, err := wb.resolveCell(address)
	if err != nil {
		return err
	}
	if s, ok := input.(string); ok && IsFormula(s) {
		_, err := wb.engine.SetFormula(row, col, ws.Name(), Parse(s))
		return err
	}

	if wb.engine.Graph().GetVertex(row, col, ws.Name()) != nil {
		if _, err := wb.engine.RemoveFormula(row, col, ws.Name()); err != nil {
			return err
		}
	}
	return ws.Set(row, col, literal(input))
}

func literal(input Primitive) CellValue {
	if s, ok := input.(string); ok {
		return ParseLiteral(s)
	}
	return FromPrimitive(input)
}

// SetArray installs formula over a range; its array result is spread
// across the cells
func (wb *Workbook) SetArray(address string, formula string) error {
	ws, region, err := wb.resolve(address)
	if err != nil {
		return err
	}
	_, err = wb.engine.SetRegionFormula(region, ws.Name(), Parse(formula))
	return err
}

// SetName binds name to a formula (input starting with "=") or to a
// value
func (wb *Workbook) SetName(name string, input Primitive) error {
	if s, ok := input.(string); ok && IsFormula(s) {
		_, err := wb.engine.SetNamedFormula(name, Parse(s))
		return err
	}
	if wb.engine.Graph().GetNamedVertex(name) != nil {
		if _, err := wb.engine.RemoveNamedFormula(name); err != nil {
			return err
		}
	}
	return wb.engine.SetVariable(name, literal(input))
}

// Get returns the value of a cell
func (wb *Workbook) Get(address string) (CellValue, error) {
	ws, row, col, err := wb.resolveCell(address)
	if err != nil {
		return Empty(), err
	}
	return ws.Get(row, col), nil
}

// Formula returns the formula source occupying a cell
func (wb *Workbook) Formula(address string) (string, bool) {
	ws, row, col, err := wb.resolveCell(address)
	if err != nil {
		return "", false
	}
	return wb.engine.FormulaText(row, col, ws.Name())
}

// Clear removes formulas and values from a cell or range
func (wb *Workbook) Clear(address string) error {
	ws, region, err := wb.resolve(address)
	if err != nil {
		return err
	}
	if len(wb.engine.Graph().VerticesIn(region, ws.Name())) > 0 {
		if _, err := wb.engine.SetRegionFormula(region, ws.Name(), nil); err != nil {
			return err
		}
	}

	var occupied []Position
	for row, col := range region.Cells() {
		if !ws.Get(row, col).IsEmpty() {
			occupied = append(occupied, Position{Row: row, Col: col})
		}
	}
	ws.BatchUpdates()
	defer ws.EndBatchUpdates()
	for _, p := range occupied {
		if err := ws.Remove(p.Row, p.Col); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate computes a formula against the workbook without storing it
func (wb *Workbook) Evaluate(formula string) CellValue {
	return wb.engine.Evaluate(formula, true)
}

// DeleteRows removes rows from a sheet. formulas on the sheet move with
// their cells; formula text is not rewritten, so references keep pointing
// at the same addresses.
func (wb *Workbook) DeleteRows(sheet string, index, count int) error {
	ws, ok := wb.sheets[sheet]
	if !ok {
		return sheetNotFound(sheet)
	}
	return wb.relocate(ws, func(r Region) (Region, bool) {
		return shrinkSpan(r, index, count, true)
	}, func() error {
		return ws.DeleteRows(index, count)
	})
}

// DeleteColumns is DeleteRows for columns
func (wb *Workbook) DeleteColumns(sheet string, index, count int) error {
	ws, ok := wb.sheets[sheet]
	if !ok {
		return sheetNotFound(sheet)
	}
	return wb.relocate(ws, func(r Region) (Region, bool) {
		return shrinkSpan(r, index, count, false)
	}, func() error {
		return ws.DeleteColumns(index, count)
	})
}

type movedFormula struct {
	region Region
	text   string
}

// relocate lifts every formula off ws, runs the structural edit and puts
// the survivors back at their moved positions
func (wb *Workbook) relocate(ws *Worksheet, move func(Region) (Region, bool), edit func() error) error {
	vertices := wb.engine.Graph().VerticesIn(everything, ws.Name())
	moved := make([]movedFormula, 0, len(vertices))
	for _, v := range vertices {
		if region, keep := move(v.Region); keep {
			moved = append(moved, movedFormula{region: region, text: v.Formula.Text})
		}
	}
	for _, v := range vertices {
		if _, err := wb.engine.SetRegionFormula(v.Region, ws.Name(), nil); err != nil {
			return err
		}
	}

	if err := edit(); err != nil {
		return err
	}

	dropped := len(vertices) - len(moved)
	if dropped > 0 {
		wb.engine.logger.Debug("formulas removed with their cells", "sheet", ws.Name(), "count", dropped)
	}
	for _, m := range moved {
		if _, err := wb.engine.SetRegionFormula(m.region, ws.Name(), Parse(m.text)); err != nil {
			return fmt.Errorf("moving formula %s: %w", m.text, err)
		}
	}
	return nil
}

// shrinkSpan moves a region past count deleted rows (or columns) at
// index. regions that lose every row are dropped.
func shrinkSpan(r Region, index, count int, rows bool) (Region, bool) {
	lo, hi := r.Left, r.Right
	if rows {
		lo, hi = r.Top, r.Bottom
	}
	end := index + count - 1

	shift := func(i int) int {
		switch {
		case i < index:
			return i
		case i > end:
			return i - count
		}
		return index
	}
	if lo >= index && hi <= end {
		return Region{}, false
	}
	newLo := shift(lo)
	newHi := shift(hi)
	if hi >= index && hi <= end {
		// the tail was deleted, keep what is above
		newHi = index - 1
	}

	if rows {
		r.Top, r.Bottom = newLo, newHi
	} else {
		r.Left, r.Right = newLo, newHi
	}
	return r, true
}

// GetCellValue implements ValueAccess
func (wb *Workbook) GetCellValue(row, col int, sheet string) CellValue {
	ws, ok := wb.sheets[sheet]
	if !ok {
		return ErrorValue(ErrorCodeRef, fmt.Sprintf("Sheet %s does not exist", sheet))
	}
	return ws.Get(row, col)
}

// SetCellValue implements ValueAccess
func (wb *Workbook) SetCellValue(row, col int, sheet string, value CellValue) {
	if ws, ok := wb.sheets[sheet]; ok {
		_ = ws.Set(row, col, value)
	}
}

// GetRangeValues implements ValueAccess. ranges larger than a chunk are
// clamped to the sheet's used extent.
func (wb *Workbook) GetRangeValues(ref Reference) [][]CellValue {
	ws, ok := wb.sheets[ref.SheetName()]
	if !ok {
		return [][]CellValue{}
	}
	return ws.Values(ref.Region())
}

// GetNonEmptyInRange implements ValueAccess
func (wb *Workbook) GetNonEmptyInRange(ref Reference) iter.Seq[CellValue] {
	ws, ok := wb.sheets[ref.SheetName()]
	if !ok {
		return func(func(CellValue) bool) {}
	}
	return ws.NonEmpty(ref.Region())
}

// SheetExists implements ValueAccess
func (wb *Workbook) SheetExists(name string) bool {
	_, ok := wb.sheets[name]
	return ok
}

// RunnableWorkbook chains workbook operations and keeps the first error.
// once an error is recorded every further step is a no-op.
type RunnableWorkbook struct {
	workbook *Workbook
	err      error
	printLn  func(string)
}

// NewRunnableWorkbook creates a chain over a fresh workbook. printLn
// receives the output of Log and CheckError.
func NewRunnableWorkbook(printLn func(string), opts ...WorkbookOption) *RunnableWorkbook {
	return &RunnableWorkbook{
		workbook: NewWorkbook(opts...),
		printLn:  printLn,
	}
}

func (r *RunnableWorkbook) step(fn func(wb *Workbook) error) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	r.err = fn(r.workbook)
	return r
}

func (r *RunnableWorkbook) AddSheet(name string) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.AddSheet(name) })
}

// WithSheet adds the sheet unless it exists
func (r *RunnableWorkbook) WithSheet(name string) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error {
		if wb.SheetExists(name) {
			return nil
		}
		return wb.AddSheet(name)
	})
}

func (r *RunnableWorkbook) RemoveSheet(name string) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.RemoveSheet(name) })
}

func (r *RunnableWorkbook) Set(address string, input Primitive) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.Set(address, input) })
}

// SetBatch writes cells in address order
func (r *RunnableWorkbook) SetBatch(cells map[string]Primitive) *RunnableWorkbook {
	addresses := make([]string, 0, len(cells))
	for address := range cells {
		addresses = append(addresses, address)
	}
	slices.Sort(addresses)
	for _, address := range addresses {
		r.Set(address, cells[address])
	}
	return r
}

func (r *RunnableWorkbook) SetArray(address, formula string) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.SetArray(address, formula) })
}

func (r *RunnableWorkbook) SetName(name string, input Primitive) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.SetName(name, input) })
}

func (r *RunnableWorkbook) Clear(address string) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.Clear(address) })
}

func (r *RunnableWorkbook) DeleteRows(sheet string, index, count int) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.DeleteRows(sheet, index, count) })
}

func (r *RunnableWorkbook) DeleteColumns(sheet string, index, count int) *RunnableWorkbook {
	return r.step(func(wb *Workbook) error { return wb.DeleteColumns(sheet, index, count) })
}

// Recalculate forces a full pass
func (r *RunnableWorkbook) Recalculate() *RunnableWorkbook {
	return r.step(func(wb *Workbook) error {
		wb.engine.CalculateSheet(true)
		return nil
	})
}

// Run ends the chain, returning the workbook or the recorded error
func (r *RunnableWorkbook) Run() (*Workbook, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.workbook, nil
}

// RunOrPanic is Run for examples and tests that should fail fast
func (r *RunnableWorkbook) RunOrPanic() *Workbook {
	wb, err := r.Run()
	if err != nil {
		panic(err)
	}
	return wb
}

func (r *RunnableWorkbook) Error() error {
	return r.err
}

// CheckError prints the recorded error, if any
func (r *RunnableWorkbook) CheckError() *RunnableWorkbook {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Workbook returns the underlying workbook, bypassing error tracking
func (r *RunnableWorkbook) Workbook() *Workbook {
	return r.workbook
}

// Reset forgets the recorded error
func (r *RunnableWorkbook) Reset() *RunnableWorkbook {
	r.err = nil
	return r
}

func (r *RunnableWorkbook) Then(fn func(*RunnableWorkbook) *RunnableWorkbook) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	return fn(r)
}

func (r *RunnableWorkbook) If(condition bool, fn func(*RunnableWorkbook) *RunnableWorkbook) *RunnableWorkbook {
	if r.err != nil || !condition {
		return r
	}
	return fn(r)
}

// OnError lets fn replace (or clear, by returning nil) the recorded error
func (r *RunnableWorkbook) OnError(fn func(error) error) *RunnableWorkbook {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

func (r *RunnableWorkbook) Must() *RunnableWorkbook {
	if r.err != nil {
		panic(r.err)
	}
	return r
}

// Value reads one cell. it returns Empty once the chain has failed.
func (r *RunnableWorkbook) Value(address string) CellValue {
	if r.err != nil {
		return Empty()
	}
	v, err := r.workbook.Get(address)
	if err != nil {
		r.err = err
		return Empty()
	}
	return v
}

func (r *RunnableWorkbook) Values(addresses ...string) []CellValue {
	values := make([]CellValue, len(addresses))
	for i, address := range addresses {
		values[i] = r.Value(address)
	}
	if r.err != nil {
		return nil
	}
	return values
}

// Log prints a cell as "A1: value"
func (r *RunnableWorkbook) Log(address string) *RunnableWorkbook {
	v := r.Value(address)
	if r.err != nil {
		return r
	}
	if v.IsEmpty() {
		r.printLn(fmt.Sprintf("%s: <empty>", address))
	} else {
		r.printLn(fmt.Sprintf("%s: %s", address, v))
	}
	return r
}

package spreadsheet

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StructuralChangeKind says what a structural edit removed
type StructuralChangeKind uint8

const (
	RowsRemoved StructuralChangeKind = iota
	ColumnsRemoved
)

// StructuralChange describes rows or columns removed from a sheet
type StructuralChange struct {
	Kind  StructuralChangeKind
	Index int
	Count int
}

// SheetObserver receives change notifications from a sheet host
type SheetObserver interface {
	OnCellsChanged(sheet string, positions []Position, regions []Region)
	OnStructuralChange(sheet string, change StructuralChange)
}

// SheetHost is a sheet the engine recalculates. Subscribe returns the
// function that cancels the subscription.
type SheetHost interface {
	Name() string
	BatchUpdates()
	EndBatchUpdates()
	Subscribe(obs SheetObserver) func()
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine's logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxEvaluationDepth bounds nested evaluation inside a circular group
func WithMaxEvaluationDepth(depth int) Option {
	return func(e *Engine) { e.maxDepth = depth }
}

type hostedSheet struct {
	host        SheetHost
	unsubscribe func()
}

// Engine keeps formula results up to date. It owns the dependency graph,
// listens to its sheets and runs recalculation passes over the vertices
// affected by each change.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	env       Environment
	graph     *DependencyGraph
	evaluator *Evaluator
	logger    *slog.Logger
	maxDepth  int

	sheets     map[string]*hostedSheet
	sheetOrder []string

	dirty       map[*Vertex]struct{}
	calculating bool
}

var _ SheetObserver = (*Engine)(nil)

// NewEngine creates an engine reading and writing through env
func NewEngine(env Environment, opts ...Option) *Engine {
	e := &Engine{
		env:      env,
		graph:    NewDependencyGraph(),
		logger:   slog.Default(),
		maxDepth: DefaultMaxEvaluationDepth,
		sheets:   make(map[string]*hostedSheet),
		dirty:    make(map[*Vertex]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = NewEvaluator(env, e.logger)
	return e
}

// Graph exposes the dependency graph for introspection
func (e *Engine) Graph() *DependencyGraph {
	return e.graph
}

// IsCalculating reports whether a recalculation pass is running
func (e *Engine) IsCalculating() bool {
	return e.calculating
}

func (e *Engine) guard() error {
	if e.calculating {
		return NewApplicationError(FailedPrecondition, "cannot modify formulas during recalculation")
	}
	return nil
}

// AddSheet registers host's vertex namespace and subscribes to it.
// formulas that were already referencing the sheet are recalculated.
func (e *Engine) AddSheet(host SheetHost) error {
	if err := e.guard(); err != nil {
		return err
	}
	name := host.Name()
	if err := e.graph.RegisterSheet(name); err != nil {
		return err
	}
	e.sheets[name] = &hostedSheet{host: host, unsubscribe: host.Subscribe(e)}
	e.sheetOrder = append(e.sheetOrder, name)
	e.logger.Debug("sheet added", "sheet", name)

	e.markDirty(e.graph.FindDependentFormula(everything, name)...)
	e.CalculateSheet(false)
	return nil
}

// RemoveSheet unsubscribes from the sheet and drops its vertices. the
// host must stop reporting the sheet as existing first so formulas that
// referenced it evaluate to #REF!.
func (e *Engine) RemoveSheet(name string) error {
	if err := e.guard(); err != nil {
		return err
	}
	hosted, ok := e.sheets[name]
	if !ok {
		return sheetNotFound(name)
	}
	orphaned, err := e.graph.DeregisterSheet(name)
	if err != nil {
		return err
	}
	hosted.unsubscribe()
	delete(e.sheets, name)
	for i, s := range e.sheetOrder {
		if s == name {
			e.sheetOrder = append(e.sheetOrder[:i], e.sheetOrder[i+1:]...)
			break
		}
	}
	e.logger.Debug("sheet removed", "sheet", name, "orphaned", len(orphaned))

	e.markDirty(orphaned...)
	e.CalculateSheet(false)
	return nil
}

// OnCellsChanged marks the formulas at and depending on the changed cells
// dirty and recalculates them. notifications raised by the pass's own
// writes are ignored.
func (e *Engine) OnCellsChanged(sheet string, positions []Position, regions []Region) {
	if e.calculating {
		return
	}
	touched := make([]Region, 0, len(positions)+len(regions))
	for _, p := range positions {
		touched = append(touched, CellRegion(p.Row, p.Col))
	}
	touched = append(touched, regions...)

	for _, region := range touched {
		// a formula sitting in the changed cell recalculates too
		e.markDirty(e.graph.VerticesIn(region, sheet)...)
		e.markDirty(e.graph.FindDependentFormula(region, sheet)...)
	}
	e.CalculateSheet(false)
}

// OnStructuralChange recalculates everything
func (e *Engine) OnStructuralChange(sheet string, change StructuralChange) {
	if e.calculating {
		return
	}
	e.logger.Debug("structural change", "sheet", sheet, "kind", change.Kind, "index", change.Index, "count", change.Count)
	e.CalculateSheet(true)
}

func (e *Engine) markDirty(vertices ...*Vertex) {
	for _, v := range vertices {
		e.dirty[v] = struct{}{}
	}
}

// ParseFormula parses formula text. it never fails; see Parse.
func (e *Engine) ParseFormula(text string) *Formula {
	return Parse(text)
}

// SetFormula installs formula at row, col on sheet and recalculates
// whatever it affects
func (e *Engine) SetFormula(row, col int, sheet string, formula *Formula) (RestoreData, error) {
	if err := e.guard(); err != nil {
		return RestoreData{}, err
	}
	rd, err := e.graph.SetFormula(row, col, sheet, formula)
	if err != nil {
		return RestoreData{}, err
	}
	e.applied(rd)
	return rd, nil
}

// SetRegionFormula installs an array formula whose result is spread over
// region
func (e *Engine) SetRegionFormula(region Region, sheet string, formula *Formula) (RestoreData, error) {
	if err := e.guard(); err != nil {
		return RestoreData{}, err
	}
	rd, err := e.graph.SetRegionFormula(region, sheet, formula)
	if err != nil {
		return RestoreData{}, err
	}
	e.applied(rd)
	return rd, nil
}

// SetNamedFormula binds formula to name. its result is published as a
// variable.
func (e *Engine) SetNamedFormula(name string, formula *Formula) (RestoreData, error) {
	if err := e.guard(); err != nil {
		return RestoreData{}, err
	}
	rd, err := e.graph.SetNamedFormula(name, formula)
	if err != nil {
		return RestoreData{}, err
	}
	e.applied(rd)
	return rd, nil
}

// RemoveFormula clears the formula at row, col. its cells become empty
// and dependents recalculate against the empty value.
func (e *Engine) RemoveFormula(row, col int, sheet string) (RestoreData, error) {
	if err := e.guard(); err != nil {
		return RestoreData{}, err
	}
	rd, err := e.graph.ClearFormula(row, col, sheet)
	if err != nil {
		return RestoreData{}, err
	}
	e.applied(rd)
	return rd, nil
}

// RemoveNamedFormula clears the formula bound to name
func (e *Engine) RemoveNamedFormula(name string) (RestoreData, error) {
	if err := e.guard(); err != nil {
		return RestoreData{}, err
	}
	rd := e.graph.ClearNamedFormula(name)
	e.applied(rd)
	return rd, nil
}

// Restore reverses the edit that produced rd and returns the token that
// redoes it
func (e *Engine) Restore(rd RestoreData) (RestoreData, error) {
	if err := e.guard(); err != nil {
		return RestoreData{}, err
	}
	inverse, err := e.graph.Restore(rd)
	if err != nil {
		return RestoreData{}, err
	}
	e.applied(inverse)
	return inverse, nil
}

// applied follows a graph mutation: new vertices and the dependents of
// retracted ones are recalculated, and cells no formula occupies any more
// are cleared
func (e *Engine) applied(rd RestoreData) {
	for _, key := range rd.added {
		v := e.graph.byKey(key)
		if v == nil {
			continue
		}
		e.graph.SetVolatile(v.ID, e.isVolatile(v.Formula))
		e.markDirty(v)
	}

	e.calculating = true
	for _, snap := range rd.removed {
		if snap.kind == VertexNamed {
			if e.graph.GetNamedVertex(snap.name) == nil {
				e.env.ClearVariable(snap.name)
			}
			e.markDirty(e.graph.FindNameDependents(snap.name)...)
			continue
		}
		if !e.graph.HasSheet(snap.sheet) {
			continue
		}
		for row, col := range snap.region.Cells() {
			if e.graph.GetVertex(row, col, snap.sheet) == nil {
				e.env.SetCellValue(row, col, snap.sheet, Empty())
			}
		}
		e.markDirty(e.graph.FindDependentFormula(snap.region, snap.sheet)...)
	}
	e.calculating = false

	e.CalculateSheet(false)
}

// isVolatile reports whether formula calls a volatile function
func (e *Engine) isVolatile(formula *Formula) bool {
	for _, name := range formula.FunctionNames() {
		if def, ok := e.env.GetFunctionDefinition(name); ok && def.Volatile {
			return true
		}
	}
	return false
}

// CalculateSheet runs a recalculation pass. a full pass evaluates every
// vertex, otherwise the dirty vertices, everything depending on them and
// the volatile vertices are evaluated.
func (e *Engine) CalculateSheet(full bool) {
	e.CalculateSheetContext(context.Background(), full)
}

// CalculateSheetContext is CalculateSheet with a parent context for
// tracing. a pass always runs to completion.
func (e *Engine) CalculateSheetContext(ctx context.Context, full bool) {
	if e.calculating {
		return
	}
	if !full && len(e.dirty) == 0 {
		return
	}

	var seeds []*Vertex
	if !full {
		seeds = make([]*Vertex, 0, len(e.dirty))
		for v := range e.dirty {
			seeds = append(seeds, v)
		}
		seeds = append(seeds, e.graph.VolatileVertices()...)
	}

	e.calculating = true
	defer func() { e.calculating = false }()

	ctx, span := startPassSpan(ctx, full, len(e.dirty))
	start := time.Now()

	hosts := make([]SheetHost, 0, len(e.sheetOrder))
	for _, name := range e.sheetOrder {
		hosts = append(hosts, e.sheets[name].host)
	}
	for _, host := range hosts {
		host.BatchUpdates()
	}

	order := e.graph.GetCalculationOrder(seeds)
	ec := NewExecutionContext(e.maxDepth)
	ec.publish = e.writeBack
	circular := 0
	for _, group := range order {
		ec.BeginGroup(group)
		for _, v := range group {
			e.writeBack(v, e.evaluator.EvaluateVertex(ec, v))
		}
		if ec.Circular() {
			circular++
			e.logger.Warn("circular reference", "vertices", vertexNames(group))
			for _, v := range group {
				e.writeBack(v, circularValue())
			}
		}
		ec.ClearExecuting()
	}

	for _, host := range hosts {
		host.EndBatchUpdates()
	}
	clear(e.dirty)

	duration := time.Since(start)
	endPassSpan(span, len(order), ec.Evaluated(), circular)
	recordPassMetrics(ctx, duration, full, ec.Evaluated(), circular)
	e.logger.Debug("recalculation pass finished",
		"full", full,
		"groups", len(order),
		"vertices", ec.Evaluated(),
		"duration", duration,
	)
}

func vertexNames(group []*Vertex) []string {
	names := make([]string, len(group))
	for i, v := range group {
		names[i] = v.String()
	}
	return names
}

// writeBack publishes a vertex result: cell vertices store it, region
// vertices spread it over their region and named vertices set their
// variable
func (e *Engine) writeBack(v *Vertex, value CellValue) {
	switch v.Kind {
	case VertexNamed:
		e.env.SetVariable(v.Name, value)
	case VertexCell:
		e.env.SetCellValue(v.Region.Top, v.Region.Left, v.SheetName, value)
	case VertexRegion:
		for row, col := range v.Region.Cells() {
			e.env.SetCellValue(row, col, v.SheetName, spreadAt(value, row-v.Region.Top, col-v.Region.Left))
		}
	}
}

// spreadAt picks the element of an array result for one cell of the
// region. scalars fill the whole region.
func spreadAt(value CellValue, r, c int) CellValue {
	if value.Type != CellTypeArray {
		return value
	}
	rows := value.Rows()
	if r < len(rows) && c < len(rows[r]) {
		return rows[r][c]
	}
	return ErrorValue(ErrorCodeNA, "No value at this position of the array result")
}

// Evaluate computes formula without tracking it in the graph. unqualified
// references resolve against the first sheet. with resolveReferences
// false, a formula that is a bare reference returns the reference.
func (e *Engine) Evaluate(formula string, resolveReferences bool) CellValue {
	sheet := ""
	if len(e.sheetOrder) > 0 {
		sheet = e.sheetOrder[0]
	}
	return e.evaluator.Evaluate(Parse(formula), NewExecutionContext(e.maxDepth), EvaluationOptions{
		Sheet:             sheet,
		LiteralReferences: !resolveReferences,
	})
}

// GetDependencies lists every (dependent, precedent) pair
func (e *Engine) GetDependencies() []Dependency {
	return e.graph.Dependencies()
}

// SetVariable stores a workbook-level value and recalculates everything
func (e *Engine) SetVariable(name string, value CellValue) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.graph.GetNamedVertex(name) != nil {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("%s is defined by a formula", name))
	}
	e.env.SetVariable(name, value)
	e.CalculateSheet(true)
	return nil
}

// FormulaText returns the source of the formula occupying row, col, for
// an editor to show instead of the value
func (e *Engine) FormulaText(row, col int, sheet string) (string, bool) {
	v := e.graph.GetVertex(row, col, sheet)
	if v == nil || v.Formula == nil {
		return "", false
	}
	return v.Formula.Text, true
}

package spreadsheet

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// VertexID indexes a vertex in the graph's arena. IDs of removed vertices
// are reused.
type VertexID int32

// VertexKind says what kind of formula occupant a vertex stands for
type VertexKind uint8

const (
	VertexCell VertexKind = iota
	VertexNamed
	VertexRegion
)

func (k VertexKind) String() string {
	switch k {
	case VertexCell:
		return "cell"
	case VertexNamed:
		return "named"
	case VertexRegion:
		return "region"
	}
	return "unknown"
}

// Vertex is one formula occupant. Cell and Region vertices are keyed by
// (sheet, region), Named vertices by name. For Named vertices SheetName is
// the sheet unqualified references resolve against.
type Vertex struct {
	ID        VertexID
	Kind      VertexKind
	SheetName string
	Region    Region
	Name      string
	Formula   *Formula
	Volatile  bool
}

// String renders the vertex as "Sheet1!B2" or its name
func (v *Vertex) String() string {
	if v.Kind == VertexNamed {
		return v.Name
	}
	return QualifiedName(v.SheetName, v.Region)
}

type vertexKey struct {
	sheet  string
	region Region
	name   string
}

func (v *Vertex) key() vertexKey {
	if v.Kind == VertexNamed {
		return vertexKey{name: v.Name}
	}
	return vertexKey{sheet: v.SheetName, region: v.Region}
}

// precedentRef is a reference of a dependent, resolved to an absolute
// sheet. named references leave sheet empty.
type precedentRef struct {
	sheet  string
	region Region
	name   string
}

func (p precedentRef) String() string {
	if p.name != "" {
		return p.name
	}
	return QualifiedName(p.sheet, p.region)
}

// sheetGraph is the per-sheet vertex namespace
type sheetGraph struct {
	name string

	// positions of formula vertices on this sheet
	vertices *RegionIndex[VertexID]

	// regions of this sheet referenced by formulas, mapped to the
	// referencing (dependent) vertices
	observers *RegionIndex[VertexID]
}

func newSheetGraph(name string) *sheetGraph {
	return &sheetGraph{
		name:      name,
		vertices:  NewRegionIndex[VertexID](),
		observers: NewRegionIndex[VertexID](),
	}
}

// Dependency is one (dependent, precedent) pair in A1 notation
type Dependency struct {
	Dependent string
	Precedent string
}

func (d Dependency) String() string {
	return d.Dependent + " -> " + d.Precedent
}

// vertexSnapshot records a retracted vertex so it can be put back
type vertexSnapshot struct {
	kind     VertexKind
	sheet    string
	region   Region
	name     string
	formula  *Formula
	volatile bool
}

// RestoreData is the opaque token returned by graph mutations. Passing it
// to Restore reverses the mutation exactly.
type RestoreData struct {
	ID      uuid.UUID
	removed []vertexSnapshot
	added   []vertexKey
}

func newRestoreData() RestoreData {
	return RestoreData{ID: uuid.New()}
}

// Empty reports whether the mutation changed nothing
func (r RestoreData) Empty() bool {
	return len(r.removed) == 0 && len(r.added) == 0
}

// DependencyGraph tracks formula vertices and the edges implied by their
// references. Edges are not stored explicitly: a vertex P precedes a
// dependent D whenever one of D's references intersects P's region (or
// names P). Two region indexes per sheet make both directions cheap.
//
// Mutation and traversal must not run concurrently.
type DependencyGraph struct {
	vertices []*Vertex // arena, nil slots are free
	free     []VertexID
	keys     map[vertexKey]VertexID

	sheets     map[string]*sheetGraph
	sheetOrder []string

	// resolved references of every dependent, including references into
	// sheets that are not registered
	precedents map[VertexID][]precedentRef

	// name -> dependents referencing it, with reference counts
	nameObservers map[string]map[VertexID]int

	volatile map[VertexID]struct{}
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		keys:          make(map[vertexKey]VertexID),
		sheets:        make(map[string]*sheetGraph),
		precedents:    make(map[VertexID][]precedentRef),
		nameObservers: make(map[string]map[VertexID]int),
		volatile:      make(map[VertexID]struct{}),
	}
}

// RegisterSheet creates the vertex namespace for a sheet. references that
// other formulas already hold into the sheet are attached, and named
// formulas created before any sheet existed bind to it.
func (g *DependencyGraph) RegisterSheet(name string) error {
	if _, exists := g.sheets[name]; exists {
		return sheetExists(name)
	}
	sg := newSheetGraph(name)
	g.sheets[name] = sg
	g.sheetOrder = append(g.sheetOrder, name)

	for id, refs := range g.precedents {
		for _, ref := range refs {
			if ref.name == "" && ref.sheet == name {
				sg.observers.Insert(ref.region, id)
			}
		}
	}
	g.rebindNames()
	return nil
}

// DeregisterSheet drops every vertex on the sheet together with its
// edges. references from other sheets into it are detached and stay
// dangling until the sheet is registered again. returns the surviving
// dependents that lost edges, sorted by ID. named formulas bound to the
// sheet move to the new first sheet and are among them.
func (g *DependencyGraph) DeregisterSheet(name string) ([]*Vertex, error) {
	sg, exists := g.sheets[name]
	if !exists {
		return nil, sheetNotFound(name)
	}

	for _, id := range sg.vertices.Query(everything) {
		g.removeVertex(id)
	}

	// whatever still observes this sheet lives elsewhere
	orphaned := g.lookup(sg.observers.Query(everything))

	delete(g.sheets, name)
	g.sheetOrder = slices.DeleteFunc(g.sheetOrder, func(s string) bool { return s == name })

	for _, v := range g.rebindNames() {
		if !slices.Contains(orphaned, v) {
			orphaned = append(orphaned, v)
		}
	}
	slices.SortFunc(orphaned, func(a, b *Vertex) int { return int(a.ID) - int(b.ID) })
	return orphaned, nil
}

// rebindNames points the unqualified references of every named formula at
// the current first sheet. returns the named vertices that moved.
func (g *DependencyGraph) rebindNames() []*Vertex {
	first := g.firstSheet()
	var moved []*Vertex
	for _, v := range g.vertices {
		if v == nil || v.Kind != VertexNamed || v.SheetName == first {
			continue
		}
		for _, ref := range g.precedents[v.ID] {
			g.detach(v.ID, ref)
		}
		v.SheetName = first
		if v.Formula != nil {
			refs := make([]precedentRef, 0, len(v.Formula.References))
			for _, ref := range v.Formula.References {
				refs = append(refs, resolveRef(ref, first))
			}
			g.precedents[v.ID] = refs
			for _, ref := range refs {
				g.attach(v.ID, ref)
			}
		}
		moved = append(moved, v)
	}
	return moved
}

func (g *DependencyGraph) firstSheet() string {
	if len(g.sheetOrder) == 0 {
		return ""
	}
	return g.sheetOrder[0]
}

// everything is a region covering the whole addressable grid
var everything = Region{Top: 0, Left: 0, Bottom: MaxRows - 1, Right: MaxCols - 1}

// HasSheet reports whether the sheet is registered
func (g *DependencyGraph) HasSheet(name string) bool {
	_, ok := g.sheets[name]
	return ok
}

// Sheets lists registered sheets in registration order
func (g *DependencyGraph) Sheets() []string {
	return slices.Clone(g.sheetOrder)
}

func (g *DependencyGraph) checkPosition(sheet string, region Region) error {
	if _, ok := g.sheets[sheet]; !ok {
		return sheetNotFound(sheet)
	}
	if region.Top < 0 || region.Left < 0 || region.Bottom >= MaxRows || region.Right >= MaxCols {
		return NewApplicationError(OutOfRange, fmt.Sprintf("position %s is outside the grid", region))
	}
	return nil
}

// SetFormula puts formula at row, col on sheet, retracting whatever
// formulas occupied that cell first. a nil formula clears the cell.
func (g *DependencyGraph) SetFormula(row, col int, sheet string, formula *Formula) (RestoreData, error) {
	if formula == nil {
		return g.ClearFormula(row, col, sheet)
	}
	return g.setOccupant(VertexCell, sheet, CellRegion(row, col), formula)
}

// SetRegionFormula puts an array formula over region. results are spread
// across the region by the engine.
func (g *DependencyGraph) SetRegionFormula(region Region, sheet string, formula *Formula) (RestoreData, error) {
	if formula == nil {
		return g.clearOccupants(sheet, region)
	}
	kind := VertexRegion
	if region.IsSingleCell() {
		kind = VertexCell
	}
	return g.setOccupant(kind, sheet, region, formula)
}

func (g *DependencyGraph) setOccupant(kind VertexKind, sheet string, region Region, formula *Formula) (RestoreData, error) {
	if err := g.checkPosition(sheet, region); err != nil {
		return RestoreData{}, err
	}
	rd := newRestoreData()
	rd.removed = g.retractIn(sheet, region)
	v := g.addVertex(vertexSnapshot{kind: kind, sheet: sheet, region: region, formula: formula})
	rd.added = append(rd.added, v.key())
	return rd, nil
}

// SetNamedFormula binds formula to a workbook-level name. unqualified
// references resolve against the first registered sheet, and follow it
// when sheets are added or removed.
func (g *DependencyGraph) SetNamedFormula(name string, formula *Formula) (RestoreData, error) {
	if name == "" {
		return RestoreData{}, NewApplicationError(InvalidArgument, "name must not be empty")
	}
	rd := g.ClearNamedFormula(name)
	if formula == nil {
		return rd, nil
	}
	v := g.addVertex(vertexSnapshot{kind: VertexNamed, name: name, formula: formula})
	rd.added = append(rd.added, v.key())
	return rd, nil
}

// ClearFormula retracts any formula occupying row, col on sheet
func (g *DependencyGraph) ClearFormula(row, col int, sheet string) (RestoreData, error) {
	return g.clearOccupants(sheet, CellRegion(row, col))
}

func (g *DependencyGraph) clearOccupants(sheet string, region Region) (RestoreData, error) {
	if err := g.checkPosition(sheet, region); err != nil {
		return RestoreData{}, err
	}
	rd := newRestoreData()
	rd.removed = g.retractIn(sheet, region)
	return rd, nil
}

// ClearNamedFormula retracts the formula bound to name, if any
func (g *DependencyGraph) ClearNamedFormula(name string) RestoreData {
	rd := newRestoreData()
	if id, ok := g.keys[vertexKey{name: name}]; ok {
		rd.removed = append(rd.removed, g.snapshot(g.vertices[id]))
		g.removeVertex(id)
	}
	return rd
}

// Restore reverses the mutation that produced rd. The returned token
// reverses the restore itself.
func (g *DependencyGraph) Restore(rd RestoreData) (RestoreData, error) {
	for _, snap := range rd.removed {
		if snap.kind != VertexNamed {
			if _, ok := g.sheets[snap.sheet]; !ok {
				return RestoreData{}, sheetNotFound(snap.sheet)
			}
		}
	}

	inverse := newRestoreData()
	for _, key := range rd.added {
		if id, ok := g.keys[key]; ok {
			inverse.removed = append(inverse.removed, g.snapshot(g.vertices[id]))
			g.removeVertex(id)
		}
	}
	for _, snap := range rd.removed {
		if id, ok := g.keys[snapshotKey(snap)]; ok {
			inverse.removed = append(inverse.removed, g.snapshot(g.vertices[id]))
			g.removeVertex(id)
		}
		v := g.addVertex(snap)
		inverse.added = append(inverse.added, v.key())
	}
	return inverse, nil
}

func snapshotKey(s vertexSnapshot) vertexKey {
	if s.kind == VertexNamed {
		return vertexKey{name: s.name}
	}
	return vertexKey{sheet: s.sheet, region: s.region}
}

func (g *DependencyGraph) snapshot(v *Vertex) vertexSnapshot {
	return vertexSnapshot{
		kind:     v.Kind,
		sheet:    v.SheetName,
		region:   v.Region,
		name:     v.Name,
		formula:  v.Formula,
		volatile: v.Volatile,
	}
}

// retractIn removes every cell or region vertex intersecting region
func (g *DependencyGraph) retractIn(sheet string, region Region) []vertexSnapshot {
	sg := g.sheets[sheet]
	var removed []vertexSnapshot
	for _, id := range sg.vertices.Query(region) {
		removed = append(removed, g.snapshot(g.vertices[id]))
		g.removeVertex(id)
	}
	return removed
}

func (g *DependencyGraph) addVertex(s vertexSnapshot) *Vertex {
	var id VertexID
	if n := len(g.free); n > 0 {
		id = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		id = VertexID(len(g.vertices))
		g.vertices = append(g.vertices, nil)
	}

	if s.kind == VertexNamed {
		s.sheet = g.firstSheet()
	}
	v := &Vertex{
		ID:        id,
		Kind:      s.kind,
		SheetName: s.sheet,
		Region:    s.region,
		Name:      s.name,
		Formula:   s.formula,
	}
	g.vertices[id] = v
	g.keys[v.key()] = id
	if v.Kind != VertexNamed {
		g.sheets[v.SheetName].vertices.Insert(v.Region, id)
	}
	g.SetVolatile(id, s.volatile)

	if v.Formula == nil {
		return v
	}
	refs := make([]precedentRef, 0, len(v.Formula.References))
	for _, ref := range v.Formula.References {
		refs = append(refs, resolveRef(ref, v.SheetName))
	}
	g.precedents[id] = refs
	for _, ref := range refs {
		g.attach(id, ref)
	}
	return v
}

func (g *DependencyGraph) removeVertex(id VertexID) {
	v := g.vertices[id]
	if v == nil {
		return
	}
	for _, ref := range g.precedents[id] {
		g.detach(id, ref)
	}
	delete(g.precedents, id)
	if v.Kind != VertexNamed {
		if sg, ok := g.sheets[v.SheetName]; ok {
			sg.vertices.Remove(v.Region, id)
		}
	}
	delete(g.keys, v.key())
	delete(g.volatile, id)
	g.vertices[id] = nil
	g.free = append(g.free, id)
}

func resolveRef(ref Reference, owner string) precedentRef {
	if ref.Kind() == ReferenceNamed {
		return precedentRef{name: ref.String()}
	}
	sheet := ref.SheetName()
	if sheet == "" {
		sheet = owner
	}
	return precedentRef{sheet: sheet, region: ref.Region()}
}

func (g *DependencyGraph) attach(id VertexID, ref precedentRef) {
	if ref.name != "" {
		deps, ok := g.nameObservers[ref.name]
		if !ok {
			deps = make(map[VertexID]int)
			g.nameObservers[ref.name] = deps
		}
		deps[id]++
		return
	}
	// references into unregistered sheets wait in g.precedents
	if sg, ok := g.sheets[ref.sheet]; ok {
		sg.observers.Insert(ref.region, id)
	}
}

func (g *DependencyGraph) detach(id VertexID, ref precedentRef) {
	if ref.name != "" {
		if deps, ok := g.nameObservers[ref.name]; ok {
			if deps[id] <= 1 {
				delete(deps, id)
			} else {
				deps[id]--
			}
			if len(deps) == 0 {
				delete(g.nameObservers, ref.name)
			}
		}
		return
	}
	if sg, ok := g.sheets[ref.sheet]; ok {
		sg.observers.Remove(ref.region, id)
	}
}

// SetVolatile flags a vertex whose formula must join every partial pass
func (g *DependencyGraph) SetVolatile(id VertexID, volatile bool) {
	v := g.Vertex(id)
	if v == nil {
		return
	}
	v.Volatile = volatile
	if volatile {
		g.volatile[id] = struct{}{}
	} else {
		delete(g.volatile, id)
	}
}

// VolatileVertices returns flagged vertices sorted by ID
func (g *DependencyGraph) VolatileVertices() []*Vertex {
	ids := make([]VertexID, 0, len(g.volatile))
	for id := range g.volatile {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return g.lookup(ids)
}

// Vertex returns the live vertex with id, or nil
func (g *DependencyGraph) Vertex(id VertexID) *Vertex {
	if id < 0 || int(id) >= len(g.vertices) {
		return nil
	}
	return g.vertices[id]
}

func (g *DependencyGraph) lookup(ids []VertexID) []*Vertex {
	out := make([]*Vertex, 0, len(ids))
	for _, id := range ids {
		if v := g.Vertex(id); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// GetVertex returns the vertex occupying row, col on sheet, or nil
func (g *DependencyGraph) GetVertex(row, col int, sheet string) *Vertex {
	sg, ok := g.sheets[sheet]
	if !ok {
		return nil
	}
	ids := sg.vertices.Query(CellRegion(row, col))
	if len(ids) == 0 {
		return nil
	}
	return g.Vertex(ids[0])
}

// GetNamedVertex returns the vertex bound to name, or nil
func (g *DependencyGraph) GetNamedVertex(name string) *Vertex {
	if id, ok := g.keys[vertexKey{name: name}]; ok {
		return g.Vertex(id)
	}
	return nil
}

func (g *DependencyGraph) byKey(key vertexKey) *Vertex {
	if id, ok := g.keys[key]; ok {
		return g.Vertex(id)
	}
	return nil
}

// VerticesIn returns the vertices whose positions intersect region
func (g *DependencyGraph) VerticesIn(region Region, sheet string) []*Vertex {
	sg, ok := g.sheets[sheet]
	if !ok {
		return nil
	}
	return g.lookup(sg.vertices.Query(region))
}

// FindDependentFormula returns the vertices with a reference intersecting
// region on sheet. it looks one hop only.
func (g *DependencyGraph) FindDependentFormula(region Region, sheet string) []*Vertex {
	sg, ok := g.sheets[sheet]
	if !ok {
		return nil
	}
	return g.lookup(sg.observers.Query(region))
}

// FindNameDependents returns the vertices referencing name
func (g *DependencyGraph) FindNameDependents(name string) []*Vertex {
	return g.lookup(sortedKeys(g.nameObservers[name]))
}

// HasDependents reports whether any formula references a cell in region
func (g *DependencyGraph) HasDependents(region Region, sheet string) bool {
	sg, ok := g.sheets[sheet]
	if !ok {
		return false
	}
	return sg.observers.Any(region)
}

func sortedKeys(m map[VertexID]int) []VertexID {
	ids := make([]VertexID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// successors returns the dependents of id, sorted
func (g *DependencyGraph) successors(id VertexID) []VertexID {
	v := g.vertices[id]
	if v.Kind == VertexNamed {
		return sortedKeys(g.nameObservers[v.Name])
	}
	sg, ok := g.sheets[v.SheetName]
	if !ok {
		return nil
	}
	return sg.observers.Query(v.Region)
}

// Dependents returns the vertices that directly depend on v
func (g *DependencyGraph) Dependents(v *Vertex) []*Vertex {
	if g.Vertex(v.ID) != v {
		return nil
	}
	return g.lookup(g.successors(v.ID))
}

// Precedents returns the formula vertices v directly depends on
func (g *DependencyGraph) Precedents(v *Vertex) []*Vertex {
	seen := make(map[VertexID]struct{})
	for _, ref := range g.precedents[v.ID] {
		if ref.name != "" {
			if id, ok := g.keys[vertexKey{name: ref.name}]; ok {
				seen[id] = struct{}{}
			}
			continue
		}
		if sg, ok := g.sheets[ref.sheet]; ok {
			for _, id := range sg.vertices.Query(ref.region) {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]VertexID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return g.lookup(ids)
}

// Vertices returns every live vertex sorted by ID
func (g *DependencyGraph) Vertices() []*Vertex {
	out := make([]*Vertex, 0, len(g.keys))
	for _, v := range g.vertices {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of live vertices
func (g *DependencyGraph) Len() int {
	return len(g.keys)
}

// Dependencies lists every (dependent, precedent reference) pair, ordered
// by dependent and then reference position in the formula
func (g *DependencyGraph) Dependencies() []Dependency {
	var out []Dependency
	for _, v := range g.Vertices() {
		for _, ref := range g.precedents[v.ID] {
			out = append(out, Dependency{Dependent: v.String(), Precedent: ref.String()})
		}
	}
	return out
}

// GetCalculationOrder returns the strongly connected components of the
// subgraph reachable from seeds (or the whole graph when seeds is nil),
// precedents before dependents. members of a group are sorted by ID.
func (g *DependencyGraph) GetCalculationOrder(seeds []*Vertex) [][]*Vertex {
	var roots []VertexID
	if seeds == nil {
		for _, v := range g.Vertices() {
			roots = append(roots, v.ID)
		}
	} else {
		for _, v := range seeds {
			if v != nil && g.Vertex(v.ID) == v {
				roots = append(roots, v.ID)
			}
		}
		slices.Sort(roots)
		roots = slices.Compact(roots)
	}

	t := tarjan{
		graph:   g,
		index:   make(map[VertexID]int),
		lowlink: make(map[VertexID]int),
		onStack: make(map[VertexID]bool),
	}
	for _, root := range roots {
		if _, visited := t.index[root]; !visited {
			t.strongConnect(root)
		}
	}

	slices.Reverse(t.sccs)
	return t.sccs
}

// tarjan holds the state of one strongly connected components search
type tarjan struct {
	graph   *DependencyGraph
	counter int
	index   map[VertexID]int
	lowlink map[VertexID]int
	onStack map[VertexID]bool
	stack   []VertexID
	sccs    [][]*Vertex
}

type tarjanFrame struct {
	id   VertexID
	succ []VertexID
	next int
}

func (t *tarjan) visit(id VertexID) tarjanFrame {
	t.index[id] = t.counter
	t.lowlink[id] = t.counter
	t.counter++
	t.stack = append(t.stack, id)
	t.onStack[id] = true
	return tarjanFrame{id: id, succ: t.graph.successors(id)}
}

// strongConnect runs the depth-first search with an explicit frame stack
// so long dependency chains cannot exhaust the goroutine stack
func (t *tarjan) strongConnect(root VertexID) {
	frames := []tarjanFrame{t.visit(root)}

	for len(frames) > 0 {
		f := &frames[len(frames)-1]

		if f.next < len(f.succ) {
			w := f.succ[f.next]
			f.next++
			if _, visited := t.index[w]; !visited {
				frames = append(frames, t.visit(w))
			} else if t.onStack[w] && t.index[w] < t.lowlink[f.id] {
				t.lowlink[f.id] = t.index[w]
			}
			continue
		}

		v := f.id
		frames = frames[:len(frames)-1]
		if len(frames) > 0 {
			parent := frames[len(frames)-1].id
			if t.lowlink[v] < t.lowlink[parent] {
				t.lowlink[parent] = t.lowlink[v]
			}
		}

		if t.lowlink[v] == t.index[v] {
			var ids []VertexID
			for {
				w := t.stack[len(t.stack)-1]
				t.stack = t.stack[:len(t.stack)-1]
				t.onStack[w] = false
				ids = append(ids, w)
				if w == v {
					break
				}
			}
			slices.Sort(ids)
			t.sccs = append(t.sccs, t.graph.lookup(ids))
		}
	}
}

// Describe renders the graph for debugging, one vertex per line
func (g *DependencyGraph) Describe() string {
	var sb strings.Builder
	for _, v := range g.Vertices() {
		fmt.Fprintf(&sb, "%d %s %s", v.ID, v.Kind, v)
		if v.Formula != nil {
			fmt.Fprintf(&sb, " %s", v.Formula.Text)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

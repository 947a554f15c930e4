package spreadsheet

// DefaultMaxEvaluationDepth bounds nested evaluation of group members
const DefaultMaxEvaluationDepth = 256

// ExecutionContext is the per-pass evaluation state. It knows the group
// (strongly connected component) currently being evaluated, which of its
// members are being entered, and the values already computed in the pass.
type ExecutionContext struct {
	MaxDepth int

	group    []*Vertex
	members  map[VertexID]*Vertex
	entering map[VertexID]struct{}
	stack    []VertexID
	memo     map[VertexID]CellValue
	circular bool

	// publish writes a nested result back so that reads through the
	// value-access interface observe it
	publish func(*Vertex, CellValue)

	evaluated int
}

// NewExecutionContext creates a context for one recalculation pass
func NewExecutionContext(maxDepth int) *ExecutionContext {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxEvaluationDepth
	}
	return &ExecutionContext{
		MaxDepth: maxDepth,
		members:  make(map[VertexID]*Vertex),
		entering: make(map[VertexID]struct{}),
		memo:     make(map[VertexID]CellValue),
	}
}

// BeginGroup makes group the current set of members and resets the
// circular flag
func (c *ExecutionContext) BeginGroup(group []*Vertex) {
	c.group = group
	clear(c.members)
	for _, v := range group {
		c.members[v.ID] = v
	}
	c.circular = false
}

// ClearExecuting drops the entering markers of the current group
func (c *ExecutionContext) ClearExecuting() {
	clear(c.entering)
	c.stack = c.stack[:0]
}

// Enter marks id as being evaluated. it returns false when the nesting
// limit is reached.
func (c *ExecutionContext) Enter(id VertexID) bool {
	if len(c.stack) >= c.MaxDepth {
		return false
	}
	c.entering[id] = struct{}{}
	c.stack = append(c.stack, id)
	return true
}

// Exit pops id, which must be the innermost entered vertex
func (c *ExecutionContext) Exit(id VertexID) {
	delete(c.entering, id)
	if n := len(c.stack); n > 0 && c.stack[n-1] == id {
		c.stack = c.stack[:n-1]
	}
}

func (c *ExecutionContext) IsEntering(id VertexID) bool {
	_, ok := c.entering[id]
	return ok
}

// Depth is the number of vertices currently entered
func (c *ExecutionContext) Depth() int {
	return len(c.stack)
}

func (c *ExecutionContext) Memo(id VertexID) (CellValue, bool) {
	v, ok := c.memo[id]
	return v, ok
}

func (c *ExecutionContext) Remember(id VertexID, value CellValue) {
	c.memo[id] = value
	c.evaluated++
}

// MarkCircular flags the current group as a cycle
func (c *ExecutionContext) MarkCircular() {
	c.circular = true
}

func (c *ExecutionContext) Circular() bool {
	return c.circular
}

// Evaluated is the number of vertex evaluations performed in the pass
func (c *ExecutionContext) Evaluated() int {
	return c.evaluated
}

// groupMembersIn returns the current group's cell and region members on
// sheet whose positions intersect region
func (c *ExecutionContext) groupMembersIn(sheet string, region Region) []*Vertex {
	var out []*Vertex
	for _, v := range c.group {
		if v.Kind != VertexNamed && v.SheetName == sheet && v.Region.Intersects(region) {
			out = append(out, v)
		}
	}
	return out
}

// groupMemberNamed returns the named member of the current group, or nil
func (c *ExecutionContext) groupMemberNamed(name string) *Vertex {
	for _, v := range c.group {
		if v.Kind == VertexNamed && v.Name == name {
			return v
		}
	}
	return nil
}

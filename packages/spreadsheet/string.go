package spreadsheet

// StringTable interns the text and error messages held by worksheet cells.
// Entries are reference counted and their IDs are recycled once the last
// cell holding them is overwritten. ID 0 is never handed out.
type StringTable struct {
	ids     map[string]uint32
	entries []stringEntry // indexed by ID; entries[0] is unused
	free    []uint32
}

type stringEntry struct {
	value string
	refs  int
}

// NewStringTable creates an empty string table
func NewStringTable() *StringTable {
	return &StringTable{
		ids:     make(map[string]uint32),
		entries: make([]stringEntry, 1),
	}
}

// Intern adds a reference to s and returns its ID
func (st *StringTable) Intern(s string) uint32 {
	if id, ok := st.ids[s]; ok {
		st.entries[id].refs++
		return id
	}

	var id uint32
	if n := len(st.free); n > 0 {
		id = st.free[n-1]
		st.free = st.free[:n-1]
		st.entries[id] = stringEntry{value: s, refs: 1}
	} else {
		id = uint32(len(st.entries))
		st.entries = append(st.entries, stringEntry{value: s, refs: 1})
	}
	st.ids[s] = id
	return id
}

func (st *StringTable) live(id uint32) bool {
	return id != 0 && int(id) < len(st.entries) && st.entries[id].refs > 0
}

// GetString retrieves a string by its ID
func (st *StringTable) GetString(id uint32) (string, bool) {
	if !st.live(id) {
		return "", false
	}
	return st.entries[id].value, true
}

// RemoveReference drops one reference to id. returns true if the string
// left the table.
func (st *StringTable) RemoveReference(id uint32) bool {
	if !st.live(id) {
		return false
	}
	e := &st.entries[id]
	if e.refs--; e.refs > 0 {
		return false
	}
	delete(st.ids, e.value)
	*e = stringEntry{}
	st.free = append(st.free, id)
	return true
}

// GetReferenceCount returns the number of cells holding id
func (st *StringTable) GetReferenceCount(id uint32) int {
	if !st.live(id) {
		return 0
	}
	return st.entries[id].refs
}

// Count returns the number of distinct strings held
func (st *StringTable) Count() int {
	return len(st.ids)
}

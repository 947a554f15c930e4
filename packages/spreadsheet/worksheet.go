package spreadsheet

import (
	"fmt"
	"iter"
	"math/bits"
	"slices"
)

const (
	MaxRows = 1 << 20 // addressable rows per sheet
	MaxCols = 1 << 14 // addressable columns per sheet

	ChunkRows = 256                   // rows per chunk - power of 2 for efficient modulo
	ChunkCols = 256                   // columns per chunk - matches typical viewport size
	ChunkSize = ChunkRows * ChunkCols // 65536 cells per chunk

	// ranges larger than this are clamped to the sheet's used extent when
	// read as a block
	maxUnclampedRange = ChunkSize
)

// ChunkKey represents the key for indexing chunks in Worksheet
type ChunkKey struct {
	ChunkRow int
	ChunkCol int
}

// Position is a single cell on a sheet
type Position struct {
	Row int
	Col int
}

// Chunk represents a 256x256 region of cells using structure-of-arrays layout
// for cache efficiency and minimal memory overhead. arrays are allocated
// lazily - only Types and OccupiedBitmap exist initially. cells are stored
// row-major so a bitmap word covers 64 neighbouring columns.
type Chunk struct {
	Types          []uint8  // cell type for each position (always allocated)
	NonEmptyCount  int      // count of non-empty cells
	OccupiedBitmap []uint64 // bit-packed array tracking which cells have data

	Numbers   []float64 // NUMBER and BOOLEAN values, ERROR codes (lazy)
	StringIDs []uint32  // interned TEXT values and ERROR messages (lazy)
}

func newChunk() *Chunk {
	return &Chunk{
		Types:          make([]uint8, ChunkSize),
		OccupiedBitmap: make([]uint64, ChunkSize/64),
	}
}

func (c *Chunk) occupied(idx int) bool {
	return c.OccupiedBitmap[idx/64]&(1<<(idx%64)) != 0
}

// Worksheet provides sparse cell storage and is the SheetHost the engine
// subscribes to.
//
// architecture:
// - cells are partitioned into 256x256 chunks for spatial locality
// - each chunk allocates arrays lazily based on actual cell types present
// - string deduplication via StringTable reduces memory for repeated text
// - writes notify subscribers, or queue while updates are batched
type Worksheet struct {
	name        string
	chunks      map[ChunkKey]*Chunk // sparse map of chunks indexed by ChunkKey
	strings     *StringTable
	totalCells  int       // stats tracking total number of cells
	cellsByType [8]uint32 // cells by type for diagnostic use

	// one past the largest row and column ever written
	usedRows int
	usedCols int

	observers    map[int]SheetObserver
	nextObserver int
	batchDepth   int
	pending      []Position
}

var _ SheetHost = (*Worksheet)(nil)

// NewWorksheet creates a new worksheet. strings may be shared between the
// worksheets of a workbook.
func NewWorksheet(name string, strings *StringTable) *Worksheet {
	if strings == nil {
		strings = NewStringTable()
	}
	return &Worksheet{
		name:      name,
		chunks:    make(map[ChunkKey]*Chunk),
		strings:   strings,
		observers: make(map[int]SheetObserver),
	}
}

func (w *Worksheet) Name() string {
	return w.name
}

func locate(row, col int) (ChunkKey, int) {
	key := ChunkKey{ChunkRow: row / ChunkRows, ChunkCol: col / ChunkCols}
	return key, (row%ChunkRows)*ChunkCols + col%ChunkCols
}

func inBounds(row, col int) bool {
	return row >= 0 && col >= 0 && row < MaxRows && col < MaxCols
}

// Get retrieves the value at row, col. out of range positions are empty.
func (w *Worksheet) Get(row, col int) CellValue {
	if !inBounds(row, col) {
		return Empty()
	}
	key, idx := locate(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		return Empty()
	}
	return w.read(chunk, idx)
}

func (w *Worksheet) read(chunk *Chunk, idx int) CellValue {
	switch CellType(chunk.Types[idx]) {
	case CellTypeNumber:
		return Number(chunk.Numbers[idx])
	case CellTypeBoolean:
		return Boolean(chunk.Numbers[idx] != 0)
	case CellTypeText:
		s, _ := w.strings.GetString(chunk.StringIDs[idx])
		return Text(s)
	case CellTypeError:
		msg, _ := w.strings.GetString(chunk.StringIDs[idx])
		return ErrorValue(ErrorCode(chunk.Numbers[idx]), msg)
	}
	return Empty()
}

// Set stores value at row, col and notifies subscribers. arrays store
// their top-left element.
func (w *Worksheet) Set(row, col int, value CellValue) error {
	if !inBounds(row, col) {
		return NewApplicationError(OutOfRange, fmt.Sprintf("cell %s is outside the grid", CellName(row, col)))
	}
	w.store(row, col, value)
	w.changed(Position{Row: row, Col: col})
	return nil
}

// Remove clears the cell at row, col
func (w *Worksheet) Remove(row, col int) error {
	return w.Set(row, col, Empty())
}

func (w *Worksheet) store(row, col int, value CellValue) {
	switch value.Type {
	case CellTypeArray:
		rows := value.Rows()
		if len(rows) == 0 || len(rows[0]) == 0 {
			value = Empty()
		} else {
			value = rows[0][0]
		}
	case CellTypeReference:
		value = ErrorValue(ErrorCodeValue, "A reference cannot be stored in a cell")
	}

	key, idx := locate(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		if value.IsEmpty() {
			return
		}
		chunk = newChunk()
		w.chunks[key] = chunk
	}

	oldType := CellType(chunk.Types[idx])
	w.release(chunk, idx)

	newType := value.Type
	chunk.Types[idx] = uint8(newType)
	switch newType {
	case CellTypeNumber:
		w.numbers(chunk)[idx] = value.Float()
	case CellTypeBoolean:
		w.numbers(chunk)[idx] = float64(boolRank(value.Bool()))
	case CellTypeText:
		w.stringIDs(chunk)[idx] = w.strings.Intern(value.Str())
	case CellTypeError:
		fe := value.Err()
		w.numbers(chunk)[idx] = float64(fe.Code)
		w.stringIDs(chunk)[idx] = w.strings.Intern(fe.Message)
	}

	// update cell type statistics
	if oldType != newType {
		if w.cellsByType[oldType] > 0 {
			w.cellsByType[oldType]--
		}
		w.cellsByType[newType]++
	}

	// update occupied bitmap
	bit := uint64(1) << (idx % 64)
	switch {
	case oldType == CellTypeEmpty && newType != CellTypeEmpty:
		chunk.OccupiedBitmap[idx/64] |= bit
		chunk.NonEmptyCount++
		w.totalCells++
		w.usedRows = max(w.usedRows, row+1)
		w.usedCols = max(w.usedCols, col+1)
	case oldType != CellTypeEmpty && newType == CellTypeEmpty:
		chunk.OccupiedBitmap[idx/64] &^= bit
		chunk.NonEmptyCount--
		w.totalCells--
	}

	if chunk.NonEmptyCount == 0 {
		delete(w.chunks, key)
	}
}

// release drops the interned strings held by a cell
func (w *Worksheet) release(chunk *Chunk, idx int) {
	switch CellType(chunk.Types[idx]) {
	case CellTypeText, CellTypeError:
		if id := chunk.StringIDs[idx]; id != 0 {
			w.strings.RemoveReference(id)
			chunk.StringIDs[idx] = 0
		}
	}
}

func (w *Worksheet) numbers(chunk *Chunk) []float64 {
	if chunk.Numbers == nil {
		chunk.Numbers = make([]float64, ChunkSize)
	}
	return chunk.Numbers
}

func (w *Worksheet) stringIDs(chunk *Chunk) []uint32 {
	if chunk.StringIDs == nil {
		chunk.StringIDs = make([]uint32, ChunkSize)
	}
	return chunk.StringIDs
}

// Extent is the smallest region holding every cell ever written. ok is
// false for a sheet that was never written.
func (w *Worksheet) Extent() (Region, bool) {
	if w.usedRows == 0 {
		return Region{}, false
	}
	return Region{Top: 0, Left: 0, Bottom: w.usedRows - 1, Right: w.usedCols - 1}, true
}

// clamp shrinks oversized ranges to the used extent
func (w *Worksheet) clamp(region Region) (Region, bool) {
	if region.Area() <= maxUnclampedRange {
		return region, true
	}
	extent, ok := w.Extent()
	if !ok {
		return Region{}, false
	}
	return region.Intersection(extent)
}

// Values returns the block of values covered by region, empty cells
// included
func (w *Worksheet) Values(region Region) [][]CellValue {
	region, ok := w.clamp(region)
	if !ok {
		return [][]CellValue{}
	}
	rows := make([][]CellValue, region.Height())
	for r := range rows {
		rows[r] = make([]CellValue, region.Width())
		for c := range rows[r] {
			rows[r][c] = w.Get(region.Top+r, region.Left+c)
		}
	}
	return rows
}

// NonEmpty yields the non-empty values in region, row-major. chunks that
// hold nothing are skipped without visiting their cells.
func (w *Worksheet) NonEmpty(region Region) iter.Seq[CellValue] {
	return func(yield func(CellValue) bool) {
		region, ok := region.Intersection(Region{Bottom: MaxRows - 1, Right: MaxCols - 1})
		if !ok {
			return
		}
		top, left, bottom, right := chunkSpan(region)
		for cr := top; cr <= bottom; cr++ {
			band := Region{Top: cr * ChunkRows, Bottom: cr*ChunkRows + ChunkRows - 1, Left: region.Left, Right: region.Right}
			band, _ = band.Intersection(region)

			var present []int
			for cc := left; cc <= right; cc++ {
				if _, ok := w.chunks[ChunkKey{ChunkRow: cr, ChunkCol: cc}]; ok {
					present = append(present, cc)
				}
			}
			if len(present) == 0 {
				continue
			}

			for row := band.Top; row <= band.Bottom; row++ {
				for _, cc := range present {
					chunk := w.chunks[ChunkKey{ChunkRow: cr, ChunkCol: cc}]
					colStart := max(band.Left, cc*ChunkCols)
					colEnd := min(band.Right, cc*ChunkCols+ChunkCols-1)
					if !w.scanRow(chunk, row, colStart, colEnd, yield) {
						return
					}
				}
			}
		}
	}
}

// scanRow yields the occupied cells of one chunk row between two columns
func (w *Worksheet) scanRow(chunk *Chunk, row, colStart, colEnd int, yield func(CellValue) bool) bool {
	base := (row % ChunkRows) * ChunkCols
	for col := colStart; col <= colEnd; {
		idx := base + col%ChunkCols
		word := chunk.OccupiedBitmap[idx/64] >> (idx % 64)
		if word == 0 {
			// nothing set in the rest of this word
			col += 64 - idx%64
			continue
		}
		skip := bits.TrailingZeros64(word)
		col += skip
		if col > colEnd {
			break
		}
		if !yield(w.read(chunk, idx+skip)) {
			return false
		}
		col++
	}
	return true
}

// Subscribe registers obs for change notifications. the returned func
// removes it again.
func (w *Worksheet) Subscribe(obs SheetObserver) func() {
	id := w.nextObserver
	w.nextObserver++
	w.observers[id] = obs
	return func() {
		delete(w.observers, id)
	}
}

func (w *Worksheet) subscribers() []SheetObserver {
	ids := make([]int, 0, len(w.observers))
	for id := range w.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]SheetObserver, len(ids))
	for i, id := range ids {
		out[i] = w.observers[id]
	}
	return out
}

// BatchUpdates queues change notifications until the matching
// EndBatchUpdates. calls nest.
func (w *Worksheet) BatchUpdates() {
	w.batchDepth++
}

// EndBatchUpdates flushes queued notifications once the outermost batch
// ends
func (w *Worksheet) EndBatchUpdates() {
	if w.batchDepth == 0 {
		return
	}
	w.batchDepth--
	if w.batchDepth > 0 || len(w.pending) == 0 {
		return
	}
	positions := w.pending
	w.pending = nil
	for _, obs := range w.subscribers() {
		obs.OnCellsChanged(w.name, positions, nil)
	}
}

func (w *Worksheet) changed(pos Position) {
	if w.batchDepth > 0 {
		w.pending = append(w.pending, pos)
		return
	}
	for _, obs := range w.subscribers() {
		obs.OnCellsChanged(w.name, []Position{pos}, nil)
	}
}

// DeleteRows removes count rows starting at index and shifts the rows
// below up
func (w *Worksheet) DeleteRows(index, count int) error {
	if index < 0 || count <= 0 || index >= MaxRows {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("cannot delete %d rows at %d", count, index))
	}
	w.shift(func(row, col int) (int, int, bool) {
		switch {
		case row < index:
			return row, col, true
		case row < index+count:
			return 0, 0, false
		}
		return row - count, col, true
	})
	w.structural(StructuralChange{Kind: RowsRemoved, Index: index, Count: count})
	return nil
}

// DeleteColumns removes count columns starting at index and shifts the
// columns to the right left
func (w *Worksheet) DeleteColumns(index, count int) error {
	if index < 0 || count <= 0 || index >= MaxCols {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("cannot delete %d columns at %d", count, index))
	}
	w.shift(func(row, col int) (int, int, bool) {
		switch {
		case col < index:
			return row, col, true
		case col < index+count:
			return 0, 0, false
		}
		return row, col - count, true
	})
	w.structural(StructuralChange{Kind: ColumnsRemoved, Index: index, Count: count})
	return nil
}

// shift rebuilds storage moving every cell through move
func (w *Worksheet) shift(move func(row, col int) (int, int, bool)) {
	type cell struct {
		row, col int
		value    CellValue
	}
	var cells []cell
	for key, chunk := range w.chunks {
		for idx := range ChunkSize {
			if !chunk.occupied(idx) {
				continue
			}
			row := key.ChunkRow*ChunkRows + idx/ChunkCols
			col := key.ChunkCol*ChunkCols + idx%ChunkCols
			if r, c, keep := move(row, col); keep {
				cells = append(cells, cell{row: r, col: c, value: w.read(chunk, idx)})
			}
			w.release(chunk, idx)
		}
	}

	w.chunks = make(map[ChunkKey]*Chunk)
	w.totalCells = 0
	w.cellsByType = [8]uint32{}
	w.usedRows, w.usedCols = 0, 0
	for _, c := range cells {
		w.store(c.row, c.col, c.value)
	}
}

// Clear drops every cell without notifying subscribers. interned strings
// are released.
func (w *Worksheet) Clear() {
	w.shift(func(int, int) (int, int, bool) { return 0, 0, false })
	w.pending = nil
}

func (w *Worksheet) structural(change StructuralChange) {
	for _, obs := range w.subscribers() {
		obs.OnStructuralChange(w.name, change)
	}
}

// GetCellTypeCount returns the count of cells of a specific type
func (w *Worksheet) GetCellTypeCount(cellType CellType) uint32 {
	if int(cellType) < len(w.cellsByType) {
		return w.cellsByType[cellType]
	}
	return 0
}

// GetTotalCells returns the total number of non-empty cells
func (w *Worksheet) GetTotalCells() int {
	return w.totalCells
}

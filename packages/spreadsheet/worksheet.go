package spreadsheet

import (
	"fmt"
	"iter"
	"math/bits"
)

// WorksheetTable manages worksheet storage and ID mappings
type WorksheetTable struct {
	nameToID   map[string]uint32     // name -> ID
	idToName   map[uint32]string     // ID -> name
	worksheets map[uint32]*Worksheet // ID -> worksheet
	order      []uint32              // IDs in creation order
	nextID     uint32
}

// NewWorksheetTable creates a new worksheet table
func NewWorksheetTable() *WorksheetTable {
	return &WorksheetTable{
		nameToID:   make(map[string]uint32),
		idToName:   make(map[uint32]string),
		worksheets: make(map[uint32]*Worksheet),
		nextID:     1, // start at 1, reserve 0 for no worksheet
	}
}

// DefineWorksheet creates an empty worksheet and returns its ID
func (wt *WorksheetTable) DefineWorksheet(name string) (uint32, error) {
	if name == "" {
		return 0, NewApplicationError(InvalidArgument, "Worksheet name cannot be empty")
	}
	if _, exists := wt.nameToID[name]; exists {
		return 0, NewApplicationError(AlreadyExists, fmt.Sprintf("Worksheet %s already exists", name))
	}

	id := wt.nextID
	wt.nameToID[name] = id
	wt.idToName[id] = name
	wt.worksheets[id] = NewWorksheet(id)
	wt.order = append(wt.order, id)
	wt.nextID++
	return id, nil
}

// RemoveWorksheet drops a worksheet and its cells
func (wt *WorksheetTable) RemoveWorksheet(name string) (uint32, bool) {
	id, exists := wt.nameToID[name]
	if !exists {
		return 0, false
	}
	delete(wt.nameToID, name)
	delete(wt.idToName, id)
	delete(wt.worksheets, id)
	for i, other := range wt.order {
		if other == id {
			wt.order = append(wt.order[:i], wt.order[i+1:]...)
			break
		}
	}
	return id, true
}

// GetWorksheet returns the Worksheet for a given ID
func (wt *WorksheetTable) GetWorksheet(id uint32) (*Worksheet, bool) {
	worksheet, exists := wt.worksheets[id]
	return worksheet, exists
}

// GetWorksheetByName returns the Worksheet for a given name
func (wt *WorksheetTable) GetWorksheetByName(name string) (*Worksheet, bool) {
	id, exists := wt.nameToID[name]
	if !exists {
		return nil, false
	}
	return wt.GetWorksheet(id)
}

// GetWorksheetID returns the ID for a worksheet name
func (wt *WorksheetTable) GetWorksheetID(name string) (uint32, bool) {
	id, exists := wt.nameToID[name]
	return id, exists
}

// GetWorksheetName returns the name for a worksheet ID
func (wt *WorksheetTable) GetWorksheetName(id uint32) (string, bool) {
	name, exists := wt.idToName[id]
	return name, exists
}

// Names returns the worksheet names in creation order
func (wt *WorksheetTable) Names() []string {
	names := make([]string, 0, len(wt.order))
	for _, id := range wt.order {
		names = append(names, wt.idToName[id])
	}
	return names
}

// Count returns the number of worksheets
func (wt *WorksheetTable) Count() int {
	return len(wt.worksheets)
}

// Clear removes all worksheets from the table
func (wt *WorksheetTable) Clear() {
	wt.nameToID = make(map[string]uint32)
	wt.idToName = make(map[uint32]string)
	wt.worksheets = make(map[uint32]*Worksheet)
	wt.order = nil
	wt.nextID = 1
}

// ChunkKey represents the key for indexing chunks in Worksheet
type ChunkKey struct {
	ChunkRow uint32
	ChunkCol uint32
}

// Worksheet is sparse cell storage. cells are partitioned into 256x256
// chunks allocated on first write; a chunk is dropped once its last cell
// is removed.
type Worksheet struct {
	chunks      map[ChunkKey]*Chunk // sparse map of chunks indexed by ChunkKey
	totalCells  int                 // stats tracking total number of cells
	cellsByType [8]uint32           // cells by type for diagnostic use
	worksheetID uint32              // worksheet that owns this chunk
}

const (
	ChunkRows uint32 = 256                   // rows per chunk - power of 2 for efficient modulo
	ChunkCols uint32 = 256                   // columns per chunk - matches typical viewport size
	ChunkSize        = ChunkRows * ChunkCols // 65536 cells per chunk
)

// Chunk is a 256x256 region of cells in column-first order
type Chunk struct {
	Cells          []*Cell
	NonEmptyCount  int      // count of non-empty cells
	OccupiedBitmap []uint64 // one bit per cell
}

// NewWorksheet creates a new worksheet
func NewWorksheet(worksheetID uint32) *Worksheet {
	return &Worksheet{
		chunks:      make(map[ChunkKey]*Chunk),
		worksheetID: worksheetID,
	}
}

// ID returns the worksheet ID
func (w *Worksheet) ID() uint32 {
	return w.worksheetID
}

// locate splits a position into its chunk key and index in the chunk
func locate(row, col uint32) (ChunkKey, uint32) {
	key := ChunkKey{ChunkRow: row / ChunkRows, ChunkCol: col / ChunkCols}
	// column-first indexing for better cache locality
	return key, (col%ChunkCols)*ChunkRows + row%ChunkRows
}

// getChunk retrieves or creates a chunk at the given chunk coordinates
func (w *Worksheet) getChunk(key ChunkKey) *Chunk {
	chunk, exists := w.chunks[key]
	if !exists {
		chunk = &Chunk{
			Cells:          make([]*Cell, ChunkSize),
			OccupiedBitmap: make([]uint64, (ChunkSize+63)/64), // bit-packed, 64 bits per word
		}
		w.chunks[key] = chunk
	}
	return chunk
}

// GetCell retrieves a cell at the given row and column
func (w *Worksheet) GetCell(row, col uint32) *Cell {
	key, idx := locate(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		return nil
	}
	return chunk.Cells[idx]
}

// SetCell stores a cell, replacing any previous one
func (w *Worksheet) SetCell(cell *Cell) {
	if cell == nil {
		return
	}
	key, idx := locate(cell.Row, cell.Col)
	chunk := w.getChunk(key)

	if old := chunk.Cells[idx]; old != nil {
		w.countType(old.Type, -1)
	} else {
		chunk.NonEmptyCount++
		w.totalCells++
		chunk.OccupiedBitmap[idx/64] |= 1 << (idx % 64)
	}
	chunk.Cells[idx] = cell
	w.countType(cell.Type, 1)
}

// RemoveCell removes a cell at the given row and column
func (w *Worksheet) RemoveCell(row, col uint32) *Cell {
	key, idx := locate(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		return nil
	}
	cell := chunk.Cells[idx]
	if cell == nil {
		return nil
	}

	chunk.Cells[idx] = nil
	chunk.NonEmptyCount--
	w.totalCells--
	w.countType(cell.Type, -1)
	chunk.OccupiedBitmap[idx/64] &^= 1 << (idx % 64)

	if chunk.NonEmptyCount == 0 {
		delete(w.chunks, key)
	}
	return cell
}

func (w *Worksheet) countType(t CellType, delta int) {
	if int(t) >= len(w.cellsByType) {
		return
	}
	if delta < 0 && w.cellsByType[t] == 0 {
		return
	}
	w.cellsByType[t] = uint32(int(w.cellsByType[t]) + delta)
}

// Cells iterates over the stored cells, walking each chunk's occupied bitmap.
// chunk order is unspecified.
func (w *Worksheet) Cells() iter.Seq[*Cell] {
	return func(yield func(*Cell) bool) {
		for _, chunk := range w.chunks {
			for word, bitsSet := range chunk.OccupiedBitmap {
				for bitsSet != 0 {
					bit := bits.TrailingZeros64(bitsSet)
					bitsSet &^= 1 << bit
					if !yield(chunk.Cells[word*64+bit]) {
						return
					}
				}
			}
		}
	}
}

// FormulaCells returns the positions of the formula cells
func (w *Worksheet) FormulaCells() []CellAddress {
	var result []CellAddress
	for cell := range w.Cells() {
		if cell.IsFormula() {
			result = append(result, CellAddress{WorksheetID: w.worksheetID, Row: cell.Row, Column: cell.Col})
		}
	}
	return result
}

// Shift moves cells for a structural edit and returns the cells dropped by
// a deletion
func (w *Worksheet) Shift(edit StructuralEdit) []*Cell {
	var all []*Cell
	for cell := range w.Cells() {
		all = append(all, cell)
	}
	w.chunks = make(map[ChunkKey]*Chunk)
	w.totalCells = 0
	w.cellsByType = [8]uint32{}

	var dropped []*Cell
	for _, cell := range all {
		coord := &cell.Row
		if edit.Dimension == DimensionColumn {
			coord = &cell.Col
		}
		moved, alive := edit.move(int(*coord))
		if !alive {
			dropped = append(dropped, cell)
			continue
		}
		*coord = uint32(moved)
		w.SetCell(cell)
	}
	return dropped
}

// GetCellsByType returns the count of cells by type for diagnostic purposes
func (w *Worksheet) GetCellsByType() [8]uint32 {
	return w.cellsByType
}

// GetCellTypeCount returns the count of cells of a specific type
func (w *Worksheet) GetCellTypeCount(cellType CellType) uint32 {
	if cellType < CellType(len(w.cellsByType)) {
		return w.cellsByType[cellType]
	}
	return 0
}

// GetTotalCells returns the total number of non-empty cells
func (w *Worksheet) GetTotalCells() int {
	return w.totalCells
}

// ChunkCount returns the number of allocated chunks
func (w *Worksheet) ChunkCount() int {
	return len(w.chunks)
}

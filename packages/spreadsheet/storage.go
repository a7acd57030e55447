package spreadsheet

// Storage holds references to shared tables needed by storage operations.
// It is the CellStore of a Spreadsheet.
type Storage struct {
	worksheets      *WorksheetTable
	dependencyGraph *DependencyGraph
}

var _ CellStore = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{
		worksheets:      NewWorksheetTable(),
		dependencyGraph: NewDependencyGraph(),
	}
}

func (s *Storage) SheetID(name string) (uint32, bool) {
	return s.worksheets.GetWorksheetID(name)
}

func (s *Storage) SheetName(id uint32) (string, bool) {
	return s.worksheets.GetWorksheetName(id)
}

// Cell returns the stored cell, or nil for an empty one
func (s *Storage) Cell(addr CellAddress) *Cell {
	worksheet, exists := s.worksheets.GetWorksheet(addr.WorksheetID)
	if !exists {
		return nil
	}
	return worksheet.GetCell(addr.Row, addr.Column)
}

// FormulaCells lists the formula cells of every worksheet
func (s *Storage) FormulaCells() []CellAddress {
	var result []CellAddress
	for _, id := range s.worksheets.order {
		result = append(result, s.worksheets.worksheets[id].FormulaCells()...)
	}
	return result
}

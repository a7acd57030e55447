package spreadsheet

import "sort"

// RangeAddress is a zone on one worksheet
type RangeAddress struct {
	WorksheetID uint32
	Zone        Zone
}

// Contains checks if a cell is within the range
func (r RangeAddress) Contains(addr CellAddress) bool {
	return addr.WorksheetID == r.WorksheetID && r.Zone.Contains(int(addr.Column), int(addr.Row))
}

// DependencyNode represents a cell in the dependency graph
type DependencyNode struct {
	Address CellAddress

	// cell-to-cell dependencies
	CellPrecedents map[CellAddress]*DependencyNode // cells this cell depends on
	CellDependents map[CellAddress]*DependencyNode // cells that depend on this cell

	// range dependencies (only for formula cells that depend on ranges)
	RangePrecedents map[RangeAddress]struct{}

	HasFormula bool
}

// DependencyGraph records the static reads of every formula cell, as listed
// in its compiled reference tables. Full passes do not need it; partial
// passes use it to find what an edit invalidates.
type DependencyGraph struct {
	nodes          map[CellAddress]*DependencyNode           // all nodes in the graph
	rangeObservers map[RangeAddress]map[CellAddress]struct{} // range -> cells that depend on it
	volatileCells  map[CellAddress]struct{}                  // cells with volatile functions (always recalculate)
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:          make(map[CellAddress]*DependencyNode),
		rangeObservers: make(map[RangeAddress]map[CellAddress]struct{}),
		volatileCells:  make(map[CellAddress]struct{}),
	}
}

// GetOrCreateNode gets an existing node or creates a new one
func (dg *DependencyGraph) GetOrCreateNode(addr CellAddress) *DependencyNode {
	if node, exists := dg.nodes[addr]; exists {
		return node
	}

	node := &DependencyNode{
		Address:         addr,
		CellPrecedents:  make(map[CellAddress]*DependencyNode),
		CellDependents:  make(map[CellAddress]*DependencyNode),
		RangePrecedents: make(map[RangeAddress]struct{}),
	}
	dg.nodes[addr] = node
	return node
}

// GetNode retrieves a node if it exists
func (dg *DependencyGraph) GetNode(addr CellAddress) (*DependencyNode, bool) {
	node, exists := dg.nodes[addr]
	return node, exists
}

// SetFormula replaces the recorded reads of a formula cell
func (dg *DependencyGraph) SetFormula(addr CellAddress, formula *CompiledFormula) {
	dg.ClearDependencies(addr)
	node := dg.GetOrCreateNode(addr)
	node.HasFormula = true

	for _, ref := range formula.CellRefs {
		dg.AddCellDependency(addr, CellAddress{WorksheetID: ref.SheetID, Row: uint32(ref.Row), Column: uint32(ref.Col)})
	}
	for _, ref := range formula.RangeRefs {
		dg.AddRangeDependency(addr, RangeAddress{WorksheetID: ref.SheetID, Zone: ref.Zone})
	}
	if formula.IsVolatile {
		dg.volatileCells[addr] = struct{}{}
	} else {
		delete(dg.volatileCells, addr)
	}
}

// RemoveFormula forgets the reads of a cell that no longer holds a formula.
// cells still depending on it keep their edges.
func (dg *DependencyGraph) RemoveFormula(addr CellAddress) {
	dg.ClearDependencies(addr)
	delete(dg.volatileCells, addr)
	if node, exists := dg.nodes[addr]; exists {
		node.HasFormula = false
		dg.cleanupNodeIfEmpty(addr)
	}
}

// cleanupNodeIfEmpty removes a node if it has no dependencies or formula
func (dg *DependencyGraph) cleanupNodeIfEmpty(addr CellAddress) {
	node, exists := dg.nodes[addr]
	if !exists {
		return
	}
	if node.HasFormula ||
		len(node.CellPrecedents) > 0 ||
		len(node.CellDependents) > 0 ||
		len(node.RangePrecedents) > 0 {
		return
	}
	delete(dg.nodes, addr)
}

// AddCellDependency adds a cell-to-cell dependency (from depends on to)
func (dg *DependencyGraph) AddCellDependency(from, to CellAddress) {
	fromNode := dg.GetOrCreateNode(from)
	toNode := dg.GetOrCreateNode(to)

	fromNode.CellPrecedents[to] = toNode
	toNode.CellDependents[from] = fromNode
}

// AddRangeDependency adds a cell-to-range dependency (from depends on range)
func (dg *DependencyGraph) AddRangeDependency(from CellAddress, rangeAddr RangeAddress) {
	node := dg.GetOrCreateNode(from)
	node.RangePrecedents[rangeAddr] = struct{}{}

	if dg.rangeObservers[rangeAddr] == nil {
		dg.rangeObservers[rangeAddr] = make(map[CellAddress]struct{})
	}
	dg.rangeObservers[rangeAddr][from] = struct{}{}
}

// ClearDependencies clears all dependencies for a cell
func (dg *DependencyGraph) ClearDependencies(addr CellAddress) {
	node, exists := dg.nodes[addr]
	if !exists {
		return
	}

	for precedentAddr, precedentNode := range node.CellPrecedents {
		delete(precedentNode.CellDependents, addr)
		delete(node.CellPrecedents, precedentAddr)
		dg.cleanupNodeIfEmpty(precedentAddr)
	}

	for rangeAddr := range node.RangePrecedents {
		if observers, exists := dg.rangeObservers[rangeAddr]; exists {
			delete(observers, addr)
			if len(observers) == 0 {
				delete(dg.rangeObservers, rangeAddr)
			}
		}
		delete(node.RangePrecedents, rangeAddr)
	}
}

// GetDirectDependents returns cells directly depending on this cell,
// including the observers of ranges containing it
func (dg *DependencyGraph) GetDirectDependents(addr CellAddress) []CellAddress {
	var result []CellAddress
	if node, exists := dg.nodes[addr]; exists {
		for dependentAddr := range node.CellDependents {
			result = append(result, dependentAddr)
		}
	}
	for rangeAddr, observers := range dg.rangeObservers {
		if rangeAddr.Contains(addr) {
			for observerAddr := range observers {
				result = append(result, observerAddr)
			}
		}
	}
	return result
}

// GetAffectedCells returns the given cells and everything transitively
// depending on them, plus the volatile cells, in a stable order
func (dg *DependencyGraph) GetAffectedCells(cells []CellAddress) []CellAddress {
	affected := make(map[CellAddress]struct{})
	queue := append([]CellAddress(nil), cells...)
	for addr := range dg.volatileCells {
		queue = append(queue, addr)
	}

	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		if _, seen := affected[addr]; seen {
			continue
		}
		affected[addr] = struct{}{}
		queue = append(queue, dg.GetDirectDependents(addr)...)
	}

	result := make([]CellAddress, 0, len(affected))
	for addr := range affected {
		result = append(result, addr)
	}
	sortAddresses(result)
	return result
}

// IsVolatile checks if a cell contains volatile functions
func (dg *DependencyGraph) IsVolatile(addr CellAddress) bool {
	_, isVolatile := dg.volatileCells[addr]
	return isVolatile
}

// NodeCount returns the number of nodes in the graph
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.nodes)
}

// RangeObserverCount returns the number of observed ranges
func (dg *DependencyGraph) RangeObserverCount() int {
	return len(dg.rangeObservers)
}

// Clear removes all nodes and dependencies from the graph
func (dg *DependencyGraph) Clear() {
	dg.nodes = make(map[CellAddress]*DependencyNode)
	dg.rangeObservers = make(map[RangeAddress]map[CellAddress]struct{})
	dg.volatileCells = make(map[CellAddress]struct{})
}

// sortAddresses orders cells by sheet, then column, then row
func sortAddresses(cells []CellAddress) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.WorksheetID != b.WorksheetID {
			return a.WorksheetID < b.WorksheetID
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Row < b.Row
	})
}

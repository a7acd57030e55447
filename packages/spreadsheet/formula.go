package spreadsheet

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// ASTKey identifies the structure of a formula with its cell and range
// coordinates erased: =SUM(A1:A4) and =SUM(B1:B4) share one key
type ASTKey string

// CellRef is a single-cell read of a compiled formula
type CellRef struct {
	XC      string
	SheetID uint32
	Col     int
	Row     int
}

// RangeRef is a range read of a compiled formula
type RangeRef struct {
	XC1     string
	XC2     string
	SheetID uint32
	Zone    Zone
}

// CompiledFormula is an executable formula. the evaluator is shared by every
// formula with the same key; the reference tables are per formula and are
// indexed by position at the call sites.
type CompiledFormula struct {
	Text       string
	Key        ASTKey
	IsAsync    bool
	IsVolatile bool
	CellRefs   []CellRef
	RangeRefs  []RangeRef
	DebugTexts []string
	eval       evalFunc
}

// compiledShape is one cached evaluator
type compiledShape struct {
	eval     evalFunc
	async    bool
	volatile bool
}

// FormulaTable caches compiled evaluators by structural key and tracks which
// cells use each of them. entries are never evicted: the key space is bounded
// by the number of distinct formula shapes, not by the number of cells.
type FormulaTable struct {
	shapes map[ASTKey]*compiledShape

	// cell tracking

	cellsUsingFormula map[ASTKey]map[CellAddress]struct{} // key -> cells using it
	formulaAtCell     map[CellAddress]ASTKey              // cell -> key (reverse index)
}

// NewFormulaTable creates a new formula table
func NewFormulaTable() *FormulaTable {
	return &FormulaTable{
		shapes:            make(map[ASTKey]*compiledShape),
		cellsUsingFormula: make(map[ASTKey]map[CellAddress]struct{}),
		formulaAtCell:     make(map[CellAddress]ASTKey),
	}
}

// shapeNode is the canonical, coordinate-free form of an AST node
type shapeNode struct {
	Type   string      `cbor:"t"`
	Op     string      `cbor:"o,omitempty"`
	Number float64     `cbor:"n,omitempty"`
	Text   string      `cbor:"s,omitempty"`
	Bool   bool        `cbor:"b,omitempty"`
	Args   []shapeNode `cbor:"a,omitempty"`
}

func shapeOf(node ASTNode) shapeNode {
	switch n := node.(type) {
	case *NumberNode:
		return shapeNode{Type: "number", Number: n.Value}
	case *StringNode:
		return shapeNode{Type: "string", Text: n.Value}
	case *BooleanNode:
		return shapeNode{Type: "boolean", Bool: n.Value}
	case *ReferenceNode:
		return shapeNode{Type: "reference"}
	case *PlaceholderNode:
		return shapeNode{Type: "placeholder"}
	case *DebugNode:
		return shapeNode{Type: "debug", Args: []shapeNode{shapeOf(n.Expr)}}
	case *UnaryOpNode:
		t := "prefix"
		if n.Postfix {
			t = "postfix"
		}
		return shapeNode{Type: t, Op: n.Op, Args: []shapeNode{shapeOf(n.Operand)}}
	case *BinaryOpNode:
		if isRangeNode(n) {
			return shapeNode{Type: "range"}
		}
		return shapeNode{Type: "binary", Op: n.Op, Args: []shapeNode{shapeOf(n.Left), shapeOf(n.Right)}}
	case *FunctionCallNode:
		args := make([]shapeNode, len(n.Args))
		for i, arg := range n.Args {
			args[i] = shapeOf(arg)
		}
		return shapeNode{Type: "call", Op: n.Name, Args: args}
	}
	return shapeNode{Type: "unknown"}
}

// shapeKey hashes the canonical CBOR encoding of the AST shape
func shapeKey(node ASTNode) (ASTKey, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return "", errors.Wrap(err, "failed to create CBOR encoder")
	}
	data, err := encMode.Marshal(shapeOf(node))
	if err != nil {
		return "", errors.Wrap(err, "CBOR encoding failed")
	}
	sum := blake2b.Sum256(data)
	return ASTKey(hex.EncodeToString(sum[:])), nil
}

// Lookup returns the cached evaluator for a key
func (ft *FormulaTable) Lookup(key ASTKey) (*compiledShape, bool) {
	shape, ok := ft.shapes[key]
	return shape, ok
}

// Intern stores an evaluator unless the key is already cached, and returns
// the cached one
func (ft *FormulaTable) Intern(key ASTKey, shape *compiledShape) *compiledShape {
	if existing, ok := ft.shapes[key]; ok {
		return existing
	}
	ft.shapes[key] = shape
	return shape
}

// TrackCell records that a cell now holds a formula with the given key
func (ft *FormulaTable) TrackCell(key ASTKey, cell CellAddress) {
	ft.ReleaseCell(cell)
	if ft.cellsUsingFormula[key] == nil {
		ft.cellsUsingFormula[key] = make(map[CellAddress]struct{})
	}
	ft.cellsUsingFormula[key][cell] = struct{}{}
	ft.formulaAtCell[cell] = key
}

// ReleaseCell forgets the formula of a cell. the evaluator stays cached.
func (ft *FormulaTable) ReleaseCell(cell CellAddress) {
	key, ok := ft.formulaAtCell[cell]
	if !ok {
		return
	}
	if cells, exists := ft.cellsUsingFormula[key]; exists {
		delete(cells, cell)
		if len(cells) == 0 {
			delete(ft.cellsUsingFormula, key)
		}
	}
	delete(ft.formulaAtCell, cell)
}

// ResetTracking forgets every cell. cached evaluators are kept.
func (ft *FormulaTable) ResetTracking() {
	ft.cellsUsingFormula = make(map[ASTKey]map[CellAddress]struct{})
	ft.formulaAtCell = make(map[CellAddress]ASTKey)
}

// GetCellsUsingFormula returns all cells using a specific formula shape
func (ft *FormulaTable) GetCellsUsingFormula(key ASTKey) []CellAddress {
	cells := ft.cellsUsingFormula[key]
	result := make([]CellAddress, 0, len(cells))
	for cell := range cells {
		result = append(result, cell)
	}
	return result
}

// GetFormulaAtCell returns the key of the formula held by a cell
func (ft *FormulaTable) GetFormulaAtCell(cell CellAddress) (ASTKey, bool) {
	key, ok := ft.formulaAtCell[cell]
	return key, ok
}

// Count returns the number of cached evaluators
func (ft *FormulaTable) Count() int {
	return len(ft.shapes)
}

// TotalReferences returns the number of cells holding a cached formula
func (ft *FormulaTable) TotalReferences() int {
	return len(ft.formulaAtCell)
}

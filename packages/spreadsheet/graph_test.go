package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(xc string) CellAddress {
	col, row, err := ToCartesian(xc)
	if err != nil {
		panic(err)
	}
	return CellAddress{WorksheetID: 1, Row: uint32(row), Column: uint32(col)}
}

func compileAt(t *testing.T, formula string) *CompiledFormula {
	t.Helper()
	f, err := NewCompiler(NewDefaultFunctionRegistry(), nil).Compile(formula, 1, nil)
	require.NoError(t, err)
	return f
}

func TestGraphAffectedCells(t *testing.T) {
	g := NewDependencyGraph()
	g.SetFormula(addr("B1"), compileAt(t, "=A1*2"))
	g.SetFormula(addr("C1"), compileAt(t, "=B1+1"))
	g.SetFormula(addr("D1"), compileAt(t, "=SUM(A1:A10)"))
	g.SetFormula(addr("E1"), compileAt(t, "=Z9"))

	assert.Equal(t,
		[]CellAddress{addr("A5"), addr("D1")},
		g.GetAffectedCells([]CellAddress{addr("A5")}))
	assert.Equal(t,
		[]CellAddress{addr("A1"), addr("B1"), addr("C1"), addr("D1")},
		g.GetAffectedCells([]CellAddress{addr("A1")}))
	assert.Equal(t,
		[]CellAddress{addr("Q1")},
		g.GetAffectedCells([]CellAddress{addr("Q1")}))
}

func TestGraphVolatileCellsAlwaysAffected(t *testing.T) {
	g := NewDependencyGraph()
	g.SetFormula(addr("A1"), compileAt(t, "=RAND()"))
	g.SetFormula(addr("A2"), compileAt(t, "=A1*10"))
	assert.True(t, g.IsVolatile(addr("A1")))
	assert.False(t, g.IsVolatile(addr("A2")))

	assert.Equal(t,
		[]CellAddress{addr("A1"), addr("A2"), addr("C3")},
		g.GetAffectedCells([]CellAddress{addr("C3")}))

	g.SetFormula(addr("A1"), compileAt(t, "=1"))
	assert.False(t, g.IsVolatile(addr("A1")))
	assert.Equal(t, []CellAddress{addr("C3")}, g.GetAffectedCells([]CellAddress{addr("C3")}))
}

func TestGraphSetFormulaReplacesReads(t *testing.T) {
	g := NewDependencyGraph()
	g.SetFormula(addr("B1"), compileAt(t, "=A1+SUM(C1:C3)"))
	assert.Equal(t, 1, g.RangeObserverCount())

	g.SetFormula(addr("B1"), compileAt(t, "=A2"))
	assert.Equal(t, 0, g.RangeObserverCount())
	assert.Empty(t, g.GetDirectDependents(addr("A1")))
	assert.Equal(t, []CellAddress{addr("B1")}, g.GetDirectDependents(addr("A2")))
	_, exists := g.GetNode(addr("A1"))
	assert.False(t, exists)
}

func TestGraphRemoveFormulaKeepsDependents(t *testing.T) {
	g := NewDependencyGraph()
	g.SetFormula(addr("B1"), compileAt(t, "=A1"))
	g.SetFormula(addr("C1"), compileAt(t, "=B1"))

	g.RemoveFormula(addr("B1"))
	assert.Equal(t, []CellAddress{addr("C1")}, g.GetDirectDependents(addr("B1")))
	assert.Empty(t, g.GetDirectDependents(addr("A1")))

	g.RemoveFormula(addr("C1"))
	assert.Equal(t, 0, g.NodeCount())
}

func TestSortAddresses(t *testing.T) {
	cells := []CellAddress{
		{WorksheetID: 2, Row: 0, Column: 0},
		addr("B1"),
		addr("A2"),
		addr("A1"),
	}
	sortAddresses(cells)
	assert.Equal(t, []CellAddress{
		addr("A1"),
		addr("A2"),
		addr("B1"),
		{WorksheetID: 2, Row: 0, Column: 0},
	}, cells)
}

func TestCalculationStack(t *testing.T) {
	cs := NewCalculationStack()
	cs.push(addr("A1"))
	cs.push(addr("B1"))
	cs.push(addr("C1"))

	assert.True(t, cs.isProcessing(addr("B1")))
	assert.Equal(t, []CellAddress{addr("B1"), addr("C1")}, cs.from(addr("B1")))
	assert.Nil(t, cs.from(addr("Z1")))

	top, ok := cs.pop()
	require.True(t, ok)
	assert.Equal(t, addr("C1"), top)
	cs.markCompleted(top)
	assert.False(t, cs.isProcessing(addr("C1")))
	assert.True(t, cs.isCompleted(addr("C1")))

	cs.pop()
	cs.pop()
	_, ok = cs.pop()
	assert.False(t, ok)
}

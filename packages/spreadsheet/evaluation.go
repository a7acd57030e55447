package spreadsheet

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// ErrNotReady is raised by a read of a cell whose asynchronous value has not
// settled. the scheduler catches it and parks the reading cell; it is never
// stored in a cell.
var ErrNotReady = errors.New("value not ready")

// CellStore is the storage the scheduler computes over. cells are mutated in
// place through the returned pointers.
type CellStore interface {
	SheetID(name string) (uint32, bool)
	SheetName(id uint32) (string, bool)
	Cell(addr CellAddress) *Cell
	FormulaCells() []CellAddress
}

// outcome is the result of bringing one cell up to date
type outcome uint8

const (
	outcomeComputed outcome = iota
	outcomeErrored
	outcomeSuspended
)

// CellState is the scheduling state of a formula cell
type CellState uint8

const (
	StateComputed CellState = iota
	StateErrored
	StatePending // asynchronous value in flight
	StateWaiting // blocked on a pending cell
)

func (s CellState) String() string {
	switch s {
	case StateErrored:
		return "errored"
	case StatePending:
		return "pending"
	case StateWaiting:
		return "waiting"
	default:
		return "computed"
	}
}

// CalculationStack tracks the cells of one pass: those being computed, in
// call order, and those already done
type CalculationStack struct {
	items      []CellAddress            // cells being computed, innermost last
	processing map[CellAddress]struct{} // on the stack (cycle sentinel)
	completed  map[CellAddress]struct{} // done in this pass
}

// NewCalculationStack creates a new calculation stack
func NewCalculationStack() *CalculationStack {
	return &CalculationStack{
		items:      make([]CellAddress, 0),
		processing: make(map[CellAddress]struct{}),
		completed:  make(map[CellAddress]struct{}),
	}
}

func (cs *CalculationStack) push(addr CellAddress) {
	cs.items = append(cs.items, addr)
	cs.processing[addr] = struct{}{}
}

func (cs *CalculationStack) pop() (CellAddress, bool) {
	if len(cs.items) == 0 {
		return CellAddress{}, false
	}
	addr := cs.items[len(cs.items)-1]
	cs.items = cs.items[:len(cs.items)-1]
	delete(cs.processing, addr)
	return addr, true
}

func (cs *CalculationStack) isProcessing(addr CellAddress) bool {
	_, exists := cs.processing[addr]
	return exists
}

func (cs *CalculationStack) markCompleted(addr CellAddress) {
	cs.completed[addr] = struct{}{}
}

func (cs *CalculationStack) isCompleted(addr CellAddress) bool {
	_, exists := cs.completed[addr]
	return exists
}

// from returns the stack from addr to the top
func (cs *CalculationStack) from(addr CellAddress) []CellAddress {
	for i := len(cs.items) - 1; i >= 0; i-- {
		if cs.items[i] == addr {
			return cs.items[i:]
		}
	}
	return nil
}

// passMode selects which formula cells a pass recomputes
type passMode uint8

const (
	modeFull    passMode = iota // every formula cell
	modePartial                 // the targets only
	modeResume                  // the waiting cells only
	modeAdHoc                   // none: read current values
)

func (m passMode) String() string {
	switch m {
	case modePartial:
		return "partial"
	case modeResume:
		return "resume"
	case modeAdHoc:
		return "adhoc"
	default:
		return "full"
	}
}

// pass is the state of one evaluation pass
type pass struct {
	mode    passMode
	stack   *CalculationStack
	targets map[CellAddress]struct{}
	cyclic  map[CellAddress]struct{}
	visited int
}

// Evaluator schedules formula evaluation over a CellStore. It keeps the
// PENDING and WAITING sets between passes. It is not safe for concurrent use;
// asynchronous function bodies only reach it through their promises.
type Evaluator struct {
	store    CellStore
	compiler *Compiler
	graph    *DependencyGraph
	fctx     *FunctionContext
	logger   *slog.Logger

	pending      map[CellAddress]*Promise
	waiting      map[CellAddress]struct{}
	pollInterval time.Duration

	pass *pass
}

// NewEvaluator creates an evaluator over store. graph may be nil when only
// full passes are used.
func NewEvaluator(store CellStore, compiler *Compiler, graph *DependencyGraph, fctx *FunctionContext) *Evaluator {
	if graph == nil {
		graph = NewDependencyGraph()
	}
	if fctx == nil {
		fctx = &FunctionContext{Registry: compiler.Functions()}
	}
	if fctx.Clock == nil {
		fctx.Clock = &WallClock{}
	}
	if fctx.Rand == nil {
		fctx.Rand = &DefaultRandomGenerator{}
	}
	if fctx.Logger == nil {
		fctx.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{
		store:        store,
		compiler:     compiler,
		graph:        graph,
		fctx:         fctx,
		logger:       fctx.Logger,
		pending:      make(map[CellAddress]*Promise),
		waiting:      make(map[CellAddress]struct{}),
		pollInterval: 5 * time.Millisecond,
	}
}

// SetPollInterval changes how often Poll checks pending promises
func (e *Evaluator) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

// EvaluateAll recomputes every formula cell
func (e *Evaluator) EvaluateAll() {
	e.waiting = make(map[CellAddress]struct{})
	cells := e.store.FormulaCells()
	sortAddresses(cells)
	e.run(&pass{mode: modeFull}, cells)
}

// EvaluateCells recomputes the given cells and everything depending on them.
// cells outside that set keep their current values.
func (e *Evaluator) EvaluateCells(addrs []CellAddress) {
	affected := e.graph.GetAffectedCells(addrs)
	targets := make(map[CellAddress]struct{}, len(affected))
	for _, addr := range affected {
		targets[addr] = struct{}{}
		delete(e.waiting, addr)
	}
	e.run(&pass{mode: modePartial, targets: targets}, affected)
}

// ResumeWaiting applies settled promises and retries the waiting cells
func (e *Evaluator) ResumeWaiting() {
	e.settlePending()
	if len(e.waiting) == 0 {
		return
	}
	cells := make([]CellAddress, 0, len(e.waiting))
	for addr := range e.waiting {
		cells = append(cells, addr)
	}
	sortAddresses(cells)
	e.run(&pass{mode: modeResume}, cells)
}

func (e *Evaluator) run(p *pass, cells []CellAddress) {
	p.stack = NewCalculationStack()
	p.cyclic = make(map[CellAddress]struct{})
	e.pass = p
	defer func() { e.pass = nil }()

	for _, addr := range cells {
		e.computeCell(addr)
	}
	e.logger.Debug("evaluation pass",
		"mode", p.mode,
		"cells", len(cells),
		"evaluated", p.visited,
		"cycles", len(p.cyclic),
		"pending", len(e.pending),
		"waiting", len(e.waiting))
}

// EvaluateFormula evaluates an expression against the current values, as if
// it lived on the given sheet. reads of pending cells wait for them.
func (e *Evaluator) EvaluateFormula(ctx context.Context, formula string, sheetID uint32) (Primitive, error) {
	compiled, err := e.compiler.Compile(formula, sheetID, e.store.SheetID)
	if err != nil {
		return nil, err
	}
	for {
		value, err := e.evaluateAdHoc(compiled)
		if !isNotReady(err) {
			if p, ok := value.(*Promise); ok && err == nil {
				return p.Await(ctx)
			}
			return value, err
		}
		if err := e.Poll(ctx); err != nil {
			return nil, err
		}
	}
}

func (e *Evaluator) evaluateAdHoc(compiled *CompiledFormula) (any, error) {
	p := &pass{mode: modeAdHoc, stack: NewCalculationStack(), cyclic: make(map[CellAddress]struct{})}
	e.pass = p
	defer func() { e.pass = nil }()
	return compiled.Evaluate(e, e.fctx)
}

// Poll waits for pending promises, applying each batch of settled results
// and resuming the cells waiting on them. It returns once nothing is pending
// or ctx ends.
func (e *Evaluator) Poll(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		if e.settlePending() > 0 || (len(e.pending) == 0 && len(e.waiting) > 0) {
			e.ResumeWaiting()
		}
		if len(e.pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d cells still pending", len(e.pending))
		case <-ticker.C:
		}
	}
}

// settlePending moves cells whose promise settled to their final value and
// returns how many did
func (e *Evaluator) settlePending() int {
	settled := 0
	for addr, promise := range e.pending {
		value, err := promise.Result()
		if isNotReady(err) {
			continue
		}
		delete(e.pending, addr)
		settled++
		if cell := e.store.Cell(addr); cell != nil {
			e.storeResult(cell, value, err)
		}
	}
	return settled
}

// Forget drops the scheduling state of a cell whose content changed. a
// promise still in flight for it is abandoned.
func (e *Evaluator) Forget(addr CellAddress) {
	delete(e.pending, addr)
	delete(e.waiting, addr)
}

// Reset drops every pending and waiting cell
func (e *Evaluator) Reset() {
	e.pending = make(map[CellAddress]*Promise)
	e.waiting = make(map[CellAddress]struct{})
}

// State reports the scheduling state of a cell
func (e *Evaluator) State(addr CellAddress) CellState {
	if _, ok := e.pending[addr]; ok {
		return StatePending
	}
	if _, ok := e.waiting[addr]; ok {
		return StateWaiting
	}
	if cell := e.store.Cell(addr); cell != nil && cell.Error != nil {
		return StateErrored
	}
	return StateComputed
}

// PendingCount returns the number of cells with a promise in flight
func (e *Evaluator) PendingCount() int {
	return len(e.pending)
}

// WaitingCount returns the number of cells parked on a pending read
func (e *Evaluator) WaitingCount() int {
	return len(e.waiting)
}

// recompute reports whether the current pass evaluates the cell again
func (e *Evaluator) recompute(addr CellAddress) bool {
	switch e.pass.mode {
	case modeFull:
		return true
	case modePartial:
		_, ok := e.pass.targets[addr]
		return ok
	case modeResume:
		_, ok := e.waiting[addr]
		return ok
	}
	return false
}

// current returns the outcome of a cell left as it is
func (e *Evaluator) current(addr CellAddress, cell *Cell) outcome {
	if _, ok := e.pending[addr]; ok {
		return outcomeSuspended
	}
	if _, ok := e.waiting[addr]; ok {
		return outcomeSuspended
	}
	if cell.Error != nil {
		return outcomeErrored
	}
	return outcomeComputed
}

// computeCell brings a cell up to date within the current pass
func (e *Evaluator) computeCell(addr CellAddress) outcome {
	cell := e.store.Cell(addr)
	if cell == nil {
		return outcomeComputed
	}
	if !cell.IsFormula() || cell.Formula == nil {
		return e.current(addr, cell)
	}

	p := e.pass
	if p.stack.isCompleted(addr) {
		return e.current(addr, cell)
	}
	if p.stack.isProcessing(addr) {
		e.markCycle(addr)
		return outcomeErrored
	}
	if !e.recompute(addr) {
		p.stack.markCompleted(addr)
		return e.current(addr, cell)
	}

	delete(e.pending, addr)
	delete(e.waiting, addr)
	p.visited++
	p.stack.push(addr)
	result, err := cell.Formula.Evaluate(e, e.fctx)
	p.stack.pop()
	p.stack.markCompleted(addr)

	if _, ok := p.cyclic[addr]; ok {
		return outcomeErrored
	}
	if promise, ok := result.(*Promise); ok && err == nil {
		e.pending[addr] = promise
		cell.Value, cell.Error = LoadingValue, nil
		return outcomeSuspended
	}
	if isNotReady(err) {
		e.waiting[addr] = struct{}{}
		cell.Value, cell.Error = LoadingValue, nil
		return outcomeSuspended
	}
	return e.storeResult(cell, result, err)
}

// storeResult writes an evaluation result into a cell
func (e *Evaluator) storeResult(cell *Cell, value Primitive, err error) outcome {
	if err != nil {
		cell.Value = nil
		var se *SpreadsheetError
		if errors.As(err, &se) {
			cell.Error = se
		} else {
			cell.Error = NewSpreadsheetError(ErrorCodeOther, err.Error())
		}
		return outcomeErrored
	}
	if value == nil {
		value = 0.0
	}
	cell.Value, cell.Error = value, nil
	return outcomeComputed
}

// markCycle faults every cell on the stack from the re-entered one up
func (e *Evaluator) markCycle(addr CellAddress) {
	for _, member := range e.pass.stack.from(addr) {
		e.pass.cyclic[member] = struct{}{}
		if cell := e.store.Cell(member); cell != nil {
			cell.Value = nil
			cell.Error = NewSpreadsheetError(ErrorCodeCycle, msgCircular)
		}
	}
}

// ReadCell resolves a cell read of a running formula
func (e *Evaluator) ReadCell(ref CellRef) (Primitive, error) {
	addr := CellAddress{WorksheetID: ref.SheetID, Row: uint32(ref.Row), Column: uint32(ref.Col)}
	switch e.computeCell(addr) {
	case outcomeSuspended:
		return nil, ErrNotReady
	case outcomeErrored:
		return nil, NewSpreadsheetError(ErrorCodeOther, msgInvalidDependency)
	}
	if cell := e.store.Cell(addr); cell != nil {
		return cell.Value, nil
	}
	return nil, nil
}

// ReadRange resolves a range read of a running formula, column by column.
// the first faulted cell fails the whole read.
func (e *Evaluator) ReadRange(ref RangeRef) (Matrix, error) {
	zone := ref.Zone
	m := make(Matrix, zone.Width())
	for i := range m {
		m[i] = make([]Primitive, zone.Height())
	}
	for col, row := range zone.Cells() {
		value, err := e.ReadCell(CellRef{SheetID: ref.SheetID, Col: col, Row: row})
		if err != nil {
			return nil, err
		}
		m[col-zone.Left][row-zone.Top] = value
	}
	return m, nil
}

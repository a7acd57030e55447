package spreadsheet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by APIs that do not return enough error
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// DeadlineExceeded means pending asynchronous values did not settle in
	// time.
	DeadlineExceeded AppErrorCode = 4

	// NotFound means some requested entity (e.g., worksheet) was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

func (c AppErrorCode) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid argument"
	case DeadlineExceeded:
		return "deadline exceeded"
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case FailedPrecondition:
		return "failed precondition"
	case OutOfRange:
		return "out of range"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Option configures a Spreadsheet
type Option func(*Spreadsheet)

// WithLogger sets the logger used for pass summaries and debug-marked
// expressions
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spreadsheet) { s.logger = logger }
}

// WithClock sets the clock read by NOW and TODAY
func WithClock(clock Clock) Option {
	return func(s *Spreadsheet) { s.clock = clock }
}

// WithRandom sets the generator read by RAND
func WithRandom(random RandomGenerator) Option {
	return func(s *Spreadsheet) { s.random = random }
}

// WithFunctions replaces the builtin function registry
func WithFunctions(functions *FunctionRegistry) Option {
	return func(s *Spreadsheet) { s.functions = functions }
}

// WithPollInterval sets how often Poll checks pending asynchronous values
func WithPollInterval(d time.Duration) Option {
	return func(s *Spreadsheet) { s.pollInterval = d }
}

// NewLogger returns the text logger used by the engine and the CLI, without
// time and level attributes
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// Spreadsheet combines storage, compilation, dependency tracking and
// evaluation into a unified API. It is not safe for concurrent use.
type Spreadsheet struct {
	storage   *Storage
	compiler  *Compiler
	evaluator *Evaluator
	functions *FunctionRegistry

	logger       *slog.Logger
	clock        Clock
	random       RandomGenerator
	pollInterval time.Duration

	dirty    []CellAddress // cells edited since the last Calculate
	fullPass bool          // structure changed, every formula must run
}

// NewSpreadsheet creates a new spreadsheet instance with no worksheets
func NewSpreadsheet(opts ...Option) *Spreadsheet {
	s := &Spreadsheet{
		storage: NewStorage(),
		clock:   &WallClock{},
		random:  &DefaultRandomGenerator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.functions == nil {
		s.functions = NewDefaultFunctionRegistry()
	}
	if s.logger == nil {
		s.logger = NewLogger(io.Discard, slog.LevelInfo)
	}

	s.compiler = NewCompiler(s.functions, s.logger)
	s.evaluator = NewEvaluator(s.storage, s.compiler, s.storage.dependencyGraph, &FunctionContext{
		Registry: s.functions,
		Clock:    s.clock,
		Rand:     s.random,
		Logger:   s.logger,
	})
	s.evaluator.SetPollInterval(s.pollInterval)
	return s
}

// resolveAddress parses "A1", "Sheet1!A1" or "'My Sheet'!A1". addresses
// without a sheet refer to the first worksheet.
func (s *Spreadsheet) resolveAddress(address string) (CellAddress, error) {
	xc := address
	var worksheet *Worksheet
	var exists bool
	if idx := strings.LastIndexByte(address, charExclaim); idx >= 0 {
		name := unquoteSheetName(address[:idx])
		xc = address[idx+1:]
		worksheet, exists = s.storage.worksheets.GetWorksheetByName(name)
		if !exists {
			return CellAddress{}, NewApplicationError(NotFound, fmt.Sprintf("Worksheet %s not found", name))
		}
	} else {
		names := s.storage.worksheets.Names()
		if len(names) == 0 {
			return CellAddress{}, NewApplicationError(FailedPrecondition, "Spreadsheet has no worksheet")
		}
		worksheet, _ = s.storage.worksheets.GetWorksheetByName(names[0])
	}

	col, row, err := ToCartesian(xc)
	if err != nil {
		return CellAddress{}, NewApplicationError(InvalidArgument, fmt.Sprintf("Invalid address: %s", address))
	}
	return CellAddress{WorksheetID: worksheet.ID(), Row: uint32(row), Column: uint32(col)}, nil
}

// Get retrieves the value of a cell: its value, its *SpreadsheetError when
// it faulted, or nil when it is empty
func (s *Spreadsheet) Get(address string) (Primitive, error) {
	cell, err := s.GetCell(address)
	if err != nil || cell == nil {
		return nil, err
	}
	if cell.Error != nil {
		return cell.Error, nil
	}
	return cell.Value, nil
}

// GetCell returns the stored cell, or nil when it is empty
func (s *Spreadsheet) GetCell(address string) (*Cell, error) {
	addr, err := s.resolveAddress(address)
	if err != nil {
		return nil, err
	}
	return s.storage.Cell(addr), nil
}

// State reports the scheduling state of a cell
func (s *Spreadsheet) State(address string) (CellState, error) {
	addr, err := s.resolveAddress(address)
	if err != nil {
		return StateComputed, err
	}
	return s.evaluator.State(addr), nil
}

// Set stores a value or, for strings starting with "=", a formula. a nil
// value removes the cell. formulas are compiled right away; a formula that
// fails to compile is stored with its error.
func (s *Spreadsheet) Set(address string, value Primitive) error {
	addr, err := s.resolveAddress(address)
	if err != nil {
		return err
	}
	if value == nil {
		return s.Remove(address)
	}

	cell := &Cell{Row: addr.Row, Col: addr.Column}
	switch v := value.(type) {
	case float64:
		cell.Type, cell.Value = CellValueTypeNumber, v
	case int:
		cell.Type, cell.Value = CellValueTypeNumber, float64(v)
	case int64:
		cell.Type, cell.Value = CellValueTypeNumber, float64(v)
	case bool:
		cell.Type, cell.Value = CellValueTypeBoolean, v
	case string:
		if strings.HasPrefix(v, "=") {
			cell.Type, cell.Content = CellValueTypeFormula, v
		} else {
			cell.Type, cell.Value = CellValueTypeString, v
		}
	default:
		return NewApplicationError(InvalidArgument, fmt.Sprintf("Unsupported cell value of type %T", value))
	}
	if cell.Content == "" {
		cell.Content = toString(cell.Value)
	}

	worksheet, _ := s.storage.worksheets.GetWorksheet(addr.WorksheetID)
	worksheet.SetCell(cell)
	s.evaluator.Forget(addr)
	s.register(addr, cell)
	s.dirty = append(s.dirty, addr)
	return nil
}

// register compiles a formula cell and records its reads, or forgets the
// reads of a cell that no longer holds a formula
func (s *Spreadsheet) register(addr CellAddress, cell *Cell) {
	graph := s.storage.dependencyGraph
	if !cell.IsFormula() {
		graph.RemoveFormula(addr)
		s.compiler.Formulas().ReleaseCell(addr)
		return
	}

	compiled, err := s.compiler.Compile(cell.Content, addr.WorksheetID, s.storage.SheetID)
	if err != nil {
		cell.Formula, cell.Value = nil, nil
		cell.Error = asSpreadsheetError(err)
		graph.RemoveFormula(addr)
		s.compiler.Formulas().ReleaseCell(addr)
		return
	}
	cell.Formula, cell.Error = compiled, nil
	graph.SetFormula(addr, compiled)
	s.compiler.Formulas().TrackCell(compiled.Key, addr)
}

func asSpreadsheetError(err error) *SpreadsheetError {
	var se *SpreadsheetError
	if errors.As(err, &se) {
		return se
	}
	return NewSpreadsheetError(ErrorCodeBadExpr, err.Error())
}

// Remove removes a cell
func (s *Spreadsheet) Remove(address string) error {
	addr, err := s.resolveAddress(address)
	if err != nil {
		return err
	}
	worksheet, _ := s.storage.worksheets.GetWorksheet(addr.WorksheetID)
	if worksheet.RemoveCell(addr.Row, addr.Column) == nil {
		return nil
	}
	s.evaluator.Forget(addr)
	s.storage.dependencyGraph.RemoveFormula(addr)
	s.compiler.Formulas().ReleaseCell(addr)
	s.dirty = append(s.dirty, addr)
	return nil
}

// AddWorksheet adds a new worksheet. formulas that failed on the missing
// sheet are compiled again.
func (s *Spreadsheet) AddWorksheet(name string) error {
	if _, err := s.storage.worksheets.DefineWorksheet(name); err != nil {
		return err
	}
	if s.storage.worksheets.Count() > 1 {
		s.recompile()
	}
	return nil
}

// RemoveWorksheet removes a worksheet; formulas reading it turn into #REF
func (s *Spreadsheet) RemoveWorksheet(name string) error {
	if _, removed := s.storage.worksheets.RemoveWorksheet(name); !removed {
		return NewApplicationError(NotFound, fmt.Sprintf("Worksheet %s not found", name))
	}
	s.recompile()
	return nil
}

// DoesWorksheetExist checks if a worksheet exists
func (s *Spreadsheet) DoesWorksheetExist(name string) bool {
	_, exists := s.storage.worksheets.GetWorksheetID(name)
	return exists
}

// ListWorksheets returns the worksheet names in creation order
func (s *Spreadsheet) ListWorksheets() []string {
	return s.storage.worksheets.Names()
}

// recompile rebuilds every compiled formula and the dependency graph, then
// schedules a full pass
func (s *Spreadsheet) recompile() {
	s.storage.dependencyGraph.Clear()
	s.compiler.Formulas().ResetTracking()
	s.evaluator.Reset()
	for _, addr := range s.storage.FormulaCells() {
		s.register(addr, s.storage.Cell(addr))
	}
	s.fullPass = true
	s.dirty = nil
}

// InsertRows inserts count empty rows before row (0-based)
func (s *Spreadsheet) InsertRows(sheet string, row, count int) error {
	return s.applyEdit(StructuralEdit{Sheet: sheet, Dimension: DimensionRow, Pivot: row, Step: count})
}

// DeleteRows deletes count rows starting at row (0-based)
func (s *Spreadsheet) DeleteRows(sheet string, row, count int) error {
	return s.applyEdit(StructuralEdit{Sheet: sheet, Dimension: DimensionRow, Pivot: row, Step: -count})
}

// InsertColumns inserts count empty columns before col (0-based)
func (s *Spreadsheet) InsertColumns(sheet string, col, count int) error {
	return s.applyEdit(StructuralEdit{Sheet: sheet, Dimension: DimensionColumn, Pivot: col, Step: count})
}

// DeleteColumns deletes count columns starting at col (0-based)
func (s *Spreadsheet) DeleteColumns(sheet string, col, count int) error {
	return s.applyEdit(StructuralEdit{Sheet: sheet, Dimension: DimensionColumn, Pivot: col, Step: -count})
}

// applyEdit rewrites the references of every formula, moves the cells of
// the edited sheet and recompiles
func (s *Spreadsheet) applyEdit(edit StructuralEdit) error {
	if edit.Pivot < 0 || edit.Step == 0 {
		return NewApplicationError(OutOfRange, fmt.Sprintf("Invalid %s edit at %d by %d", edit.Dimension, edit.Pivot, edit.Step))
	}
	worksheet, exists := s.storage.worksheets.GetWorksheetByName(edit.Sheet)
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("Worksheet %s not found", edit.Sheet))
	}

	for _, addr := range s.storage.FormulaCells() {
		cell := s.storage.Cell(addr)
		home, _ := s.storage.SheetName(addr.WorksheetID)
		updated, err := UpdateReferences(cell.Content, home, edit, s.functions)
		if err != nil {
			// content that does not tokenize has no references to move
			continue
		}
		cell.Content = updated
	}

	dropped := worksheet.Shift(edit)
	s.logger.Debug("structural edit",
		"sheet", edit.Sheet,
		"dimension", edit.Dimension,
		"pivot", edit.Pivot,
		"step", edit.Step,
		"dropped", len(dropped))
	s.recompile()
	return nil
}

// Calculate brings every cell up to date: a partial pass over the edited
// cells and their dependents, or a full pass after a structural change
func (s *Spreadsheet) Calculate() error {
	if s.fullPass {
		s.evaluator.EvaluateAll()
	} else if len(s.dirty) > 0 {
		s.evaluator.EvaluateCells(s.dirty)
	}
	s.fullPass = false
	s.dirty = nil
	return nil
}

// EvaluateAll recomputes every formula cell
func (s *Spreadsheet) EvaluateAll() {
	s.evaluator.EvaluateAll()
	s.fullPass = false
	s.dirty = nil
}

// ResumeWaiting retries the cells waiting on asynchronous values
func (s *Spreadsheet) ResumeWaiting() {
	s.evaluator.ResumeWaiting()
}

// Poll waits until no asynchronous value is pending, resuming waiting cells
// as values arrive
func (s *Spreadsheet) Poll(ctx context.Context) error {
	if err := s.evaluator.Poll(ctx); err != nil {
		return NewApplicationError(DeadlineExceeded, err.Error())
	}
	return nil
}

// EvaluateFormula evaluates a formula against the current values as if it
// lived on the named sheet
func (s *Spreadsheet) EvaluateFormula(ctx context.Context, formula string, sheet string) (Primitive, error) {
	id, exists := s.storage.SheetID(sheet)
	if !exists {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("Worksheet %s not found", sheet))
	}
	return s.evaluator.EvaluateFormula(ctx, formula, id)
}

// ReadCell returns the current value of a cell, or its error
func (s *Spreadsheet) ReadCell(xc string, sheetID uint32) (Primitive, error) {
	col, row, err := ToCartesian(xc)
	if err != nil {
		return nil, err
	}
	cell := s.storage.Cell(CellAddress{WorksheetID: sheetID, Row: uint32(row), Column: uint32(col)})
	if cell == nil {
		return nil, nil
	}
	if cell.Error != nil {
		return nil, cell.Error
	}
	return cell.Value, nil
}

// ReadZone returns the current values of a zone, column by column. the
// first faulted cell fails the read.
func (s *Spreadsheet) ReadZone(zone Zone, sheetID uint32) (Matrix, error) {
	m := make(Matrix, zone.Width())
	for i := range m {
		m[i] = make([]Primitive, zone.Height())
	}
	for col, row := range zone.Cells() {
		value, err := s.ReadCell(ToXC(col, row), sheetID)
		if err != nil {
			return nil, err
		}
		m[col-zone.Left][row-zone.Top] = value
	}
	return m, nil
}

// SheetID returns the ID of a worksheet
func (s *Spreadsheet) SheetID(name string) (uint32, bool) {
	return s.storage.SheetID(name)
}

// Compiler returns the formula compiler, for cache diagnostics
func (s *Spreadsheet) Compiler() *Compiler {
	return s.compiler
}

// GetWorksheet returns a worksheet by name for diagnostic purposes
func (s *Spreadsheet) GetWorksheet(name string) (*Worksheet, bool) {
	return s.storage.worksheets.GetWorksheetByName(name)
}

// GetDependencyGraph returns the dependency graph for diagnostic purposes
func (s *Spreadsheet) GetDependencyGraph() *DependencyGraph {
	return s.storage.dependencyGraph
}

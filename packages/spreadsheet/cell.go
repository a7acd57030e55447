package spreadsheet

import "strings"

// Primitive represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty/null cells
type Primitive any

// Matrix is the value of a range read. it is column-major: m[col][row].
type Matrix [][]Primitive

// LoadingValue is the transient value of a cell whose asynchronous formula has
// not settled yet
const LoadingValue = "#LOADING"

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull    ErrorCode = 1  // #NULL! - no cells in common between ranges
	ErrorCodeDiv0    ErrorCode = 2  // #DIV/0! - division by zero
	ErrorCodeValue   ErrorCode = 3  // #VALUE! - wrong type of argument or operand
	ErrorCodeRef     ErrorCode = 4  // #REF - invalid cell reference
	ErrorCodeName    ErrorCode = 5  // #NAME? - unrecognized function name
	ErrorCodeNum     ErrorCode = 6  // #NUM! - number too large or small to be represented
	ErrorCodeNA      ErrorCode = 7  // #N/A - not enough arguments for function
	ErrorCodeOther   ErrorCode = 8  // #ERROR - all other errors
	ErrorCodeBadExpr ErrorCode = 9  // #BAD_EXPR - formula could not be parsed or compiled
	ErrorCodeCycle   ErrorCode = 10 // #CYCLE - circular reference
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:    "#NULL!",
	ErrorCodeDiv0:    "#DIV/0!",
	ErrorCodeValue:   "#VALUE!",
	ErrorCodeRef:     "#REF",
	ErrorCodeName:    "#NAME?",
	ErrorCodeNum:     "#NUM!",
	ErrorCodeNA:      "#N/A",
	ErrorCodeOther:   "#ERROR",
	ErrorCodeBadExpr: "#BAD_EXPR",
	ErrorCodeCycle:   "#CYCLE",
}

// ErrorKind classifies where an error was raised
type ErrorKind uint8

const (
	KindRuntime   ErrorKind = iota // function precondition violation
	KindSyntax                     // malformed tokens or grammar
	KindCompile                    // arity mismatch, bare range, bad argument shape
	KindReference                  // #REF
	KindCircular                   // #CYCLE
)

func (k ErrorKind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindCompile:
		return "compile"
	case KindReference:
		return "reference"
	case KindCircular:
		return "circular"
	default:
		return "runtime"
	}
}

// FunctionNamePlaceholder is replaced by the name of the failing function
// when an error raised inside a function body is stored in a cell
const FunctionNamePlaceholder = "[[FUNCTION_NAME]]"

// messages shared by the scheduler
const (
	msgInvalidDependency = "This formula depends on invalid values"
	msgCircular          = "Circular reference"
	msgInvalidReference  = "Invalid reference"
)

// SpreadsheetError preserves error code for display in cells
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Kind      ErrorKind
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// Display returns the short error code shown in place of a value
func (e *SpreadsheetError) Display() string {
	return ErrorMapper[e.ErrorCode]
}

// withFunctionName substitutes the placeholder in the message
func (e *SpreadsheetError) withFunctionName(name string) *SpreadsheetError {
	if !strings.Contains(e.Message, FunctionNamePlaceholder) {
		return e
	}
	return &SpreadsheetError{
		ErrorCode: e.ErrorCode,
		Kind:      e.Kind,
		Message:   strings.ReplaceAll(e.Message, FunctionNamePlaceholder, name),
	}
}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = ErrorMapper[code]
	}
	kind := KindRuntime
	switch code {
	case ErrorCodeRef:
		kind = KindReference
	case ErrorCodeCycle:
		kind = KindCircular
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Kind:      kind,
		Message:   message,
	}
}

func newSyntaxError(message string) *SpreadsheetError {
	return &SpreadsheetError{ErrorCode: ErrorCodeBadExpr, Kind: KindSyntax, Message: message}
}

func newCompileError(message string) *SpreadsheetError {
	return &SpreadsheetError{ErrorCode: ErrorCodeBadExpr, Kind: KindCompile, Message: message}
}

func newReferenceError() *SpreadsheetError {
	return NewSpreadsheetError(ErrorCodeRef, msgInvalidReference)
}

// CellType represents numeric constants for cell value
// types (external API)
type CellType uint8

const (
	CellValueTypeEmpty   CellType = 0
	CellValueTypeNumber  CellType = 1
	CellValueTypeString  CellType = 2
	CellValueTypeBoolean CellType = 4
	CellValueTypeError   CellType = 5
	CellValueTypeFormula CellType = 6
)

// CellAddress identifies a cell; Row and Column are 0-based
type CellAddress struct {
	WorksheetID uint32
	Row         uint32
	Column      uint32
}

// Cell represents a spreadsheet cell with its data and metadata
type Cell struct {
	Type    CellType          // type of the content the user entered
	Row     uint32            // zero-based row index
	Col     uint32            // zero-based column index
	Content string            // raw content as entered
	Value   Primitive         // literal value, or last computed formula result
	Formula *CompiledFormula  // compiled evaluator for formula cells
	Error   *SpreadsheetError // set when the formula failed
}

// IsFormula reports whether the cell content is a formula
func (c *Cell) IsFormula() bool {
	return c != nil && c.Type == CellValueTypeFormula
}

// DisplayValue returns what the cell shows: the error code for faulted cells,
// the value otherwise
func (c *Cell) DisplayValue() Primitive {
	if c == nil {
		return nil
	}
	if c.Error != nil {
		return c.Error.Display()
	}
	return c.Value
}

package spreadsheet

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// ArgType is the set of value kinds a parameter accepts
type ArgType uint16

const (
	ArgAny ArgType = 1 << iota
	ArgNumber
	ArgString
	ArgBoolean
	ArgRangeAny
	ArgRangeNumber
	ArgRangeString
	ArgRangeBoolean
)

const argRangeMask = ArgRangeAny | ArgRangeNumber | ArgRangeString | ArgRangeBoolean

// AcceptsRange reports whether a range may be passed
func (t ArgType) AcceptsRange() bool {
	return t&argRangeMask != 0
}

// AcceptsScalar reports whether a single value may be passed
func (t ArgType) AcceptsScalar() bool {
	return t&^argRangeMask != 0
}

// Param declares one function parameter
type Param struct {
	Name      string
	Types     ArgType
	Optional  bool
	Repeating bool
	Lazy      bool      // the argument arrives as a Thunk
	Default   Primitive // used when an optional argument is omitted
}

// Thunk defers the evaluation of a lazy argument. the value is a Primitive, a
// Matrix or a *Promise.
type Thunk func() (any, error)

// FunctionContext is handed to every function body
type FunctionContext struct {
	Registry *FunctionRegistry
	Clock    Clock
	Rand     RandomGenerator
	Logger   *slog.Logger
}

// ComputeFunc is a function body. args hold Primitive, Matrix or Thunk values
// according to the parameter declarations; the result is a Primitive or, for
// asynchronous functions, a *Promise.
type ComputeFunc func(ctx *FunctionContext, args ...any) (any, error)

// FunctionDescriptor describes a registered function
type FunctionDescriptor struct {
	Name        string
	Description string
	Params      []Param
	Compute     ComputeFunc
	Async       bool
	Volatile    bool
}

// MinArgs is the number of parameters that are neither optional nor
// repeating
func (d *FunctionDescriptor) MinArgs() int {
	n := 0
	for _, p := range d.Params {
		if !p.Optional && !p.Repeating {
			n++
		}
	}
	return n
}

// MaxArgs returns the parameter count, or -1 when the last parameter repeats
func (d *FunctionDescriptor) MaxArgs() int {
	if len(d.Params) > 0 && d.Params[len(d.Params)-1].Repeating {
		return -1
	}
	return len(d.Params)
}

// ParamAt returns the parameter receiving the i-th argument
func (d *FunctionDescriptor) ParamAt(i int) Param {
	if i < len(d.Params) {
		return d.Params[i]
	}
	return d.Params[len(d.Params)-1]
}

// CheckArity validates an argument count against the signature
func (d *FunctionDescriptor) CheckArity(count int) error {
	minArgs, maxArgs := d.MinArgs(), d.MaxArgs()
	if count < minArgs {
		return newCompileError(fmt.Sprintf("Invalid number of arguments for the %s function. Expected at least %d, but got %d instead.", d.Name, minArgs, count))
	}
	if maxArgs >= 0 && count > maxArgs {
		return newCompileError(fmt.Sprintf("Invalid number of arguments for the %s function. Expected %d maximum, but got %d instead.", d.Name, maxArgs, count))
	}
	return nil
}

// FunctionRegistry maps upper-cased names to descriptors. registration is
// not safe for concurrent use; lookups are.
type FunctionRegistry struct {
	functions map[string]*FunctionDescriptor
}

// NewFunctionRegistry returns an empty registry
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]*FunctionDescriptor)}
}

// NewDefaultFunctionRegistry returns a registry holding the builtin library
func NewDefaultFunctionRegistry() *FunctionRegistry {
	r := NewFunctionRegistry()
	for _, d := range builtinFunctions() {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds or replaces a function. only the last parameter may repeat
// and mandatory parameters may not follow optional ones.
func (r *FunctionRegistry) Register(d *FunctionDescriptor) error {
	if d == nil || d.Name == "" || d.Compute == nil {
		return NewApplicationError(InvalidArgument, "function needs a name and a compute body")
	}
	optionalSeen := false
	for i, p := range d.Params {
		if p.Repeating && i != len(d.Params)-1 {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("%s: only the last parameter can repeat", d.Name))
		}
		if p.Optional {
			optionalSeen = true
		} else if optionalSeen && !p.Repeating {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("%s: mandatory parameter %s follows an optional one", d.Name, p.Name))
		}
	}
	d.Name = strings.ToUpper(d.Name)
	r.functions[d.Name] = d
	return nil
}

func (r *FunctionRegistry) Has(name string) bool {
	_, ok := r.functions[strings.ToUpper(name)]
	return ok
}

func (r *FunctionRegistry) Lookup(name string) (*FunctionDescriptor, bool) {
	d, ok := r.functions[strings.ToUpper(name)]
	return d, ok
}

func (r *FunctionRegistry) IsAsync(name string) bool {
	d, ok := r.Lookup(name)
	return ok && d.Async
}

// Names returns the registered names in sorted order
func (r *FunctionRegistry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// operatorFunctions maps operator symbols to the functions implementing them
var operatorFunctions = map[string]string{
	"+":  "ADD",
	"-":  "MINUS",
	"*":  "MULTIPLY",
	"/":  "DIVIDE",
	"^":  "POWER",
	"&":  "CONCAT",
	"=":  "EQ",
	"<>": "NE",
	"<":  "LT",
	"<=": "LTE",
	">":  "GT",
	">=": "GTE",
}

var unaryOperatorFunctions = map[string]string{
	"-": "UMINUS",
	"+": "UPLUS",
	"%": "UNARY.PERCENT",
}

func required(name string, types ArgType) Param {
	return Param{Name: name, Types: types}
}

func optional(name string, types ArgType, def Primitive) Param {
	return Param{Name: name, Types: types, Optional: true, Default: def}
}

func repeating(name string, types ArgType) Param {
	return Param{Name: name, Types: types, Repeating: true}
}

func lazy(p Param) Param {
	p.Lazy = true
	return p
}

const (
	numbers    = ArgNumber | ArgRangeNumber
	anyArg     = ArgAny
	anyOrRange = ArgAny | ArgRangeAny
)

// runtime errors carry the failing function's name through the placeholder
func valueError(format string, args ...any) error {
	return NewSpreadsheetError(ErrorCodeValue, FunctionNamePlaceholder+" "+fmt.Sprintf(format, args...))
}

func numError(format string, args ...any) error {
	return NewSpreadsheetError(ErrorCodeNum, FunctionNamePlaceholder+" "+fmt.Sprintf(format, args...))
}

func div0Error() error {
	return NewSpreadsheetError(ErrorCodeDiv0, FunctionNamePlaceholder+": division by zero")
}

func builtinFunctions() []*FunctionDescriptor {
	binaryNumeric := func(name string, op func(a, b float64) (float64, error)) *FunctionDescriptor {
		return &FunctionDescriptor{
			Name:   name,
			Params: []Param{required("value1", ArgNumber), required("value2", ArgNumber)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				a, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				b, err := numberArg(args[1])
				if err != nil {
					return nil, err
				}
				return op(a, b)
			},
		}
	}
	comparison := func(name string, accept func(cmp int) bool) *FunctionDescriptor {
		return &FunctionDescriptor{
			Name:   name,
			Params: []Param{required("value1", anyArg), required("value2", anyArg)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				return accept(comparePrimitives(args[0], args[1])), nil
			},
		}
	}
	unaryNumeric := func(name string, op func(float64) (float64, error)) *FunctionDescriptor {
		return &FunctionDescriptor{
			Name:   name,
			Params: []Param{required("value", ArgNumber)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				return op(n)
			},
		}
	}

	return []*FunctionDescriptor{
		// operators
		binaryNumeric("ADD", func(a, b float64) (float64, error) { return a + b, nil }),
		binaryNumeric("MINUS", func(a, b float64) (float64, error) { return a - b, nil }),
		binaryNumeric("MULTIPLY", func(a, b float64) (float64, error) { return a * b, nil }),
		binaryNumeric("DIVIDE", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, div0Error()
			}
			return a / b, nil
		}),
		binaryNumeric("POWER", func(a, b float64) (float64, error) {
			result := math.Pow(a, b)
			if math.IsNaN(result) || math.IsInf(result, 0) {
				return 0, numError("result is not a finite number")
			}
			return result, nil
		}),
		{
			Name:   "CONCAT",
			Params: []Param{required("value1", anyArg), required("value2", anyArg)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				return toString(args[0]) + toString(args[1]), nil
			},
		},
		comparison("EQ", func(c int) bool { return c == 0 }),
		comparison("NE", func(c int) bool { return c != 0 }),
		comparison("LT", func(c int) bool { return c < 0 }),
		comparison("LTE", func(c int) bool { return c <= 0 }),
		comparison("GT", func(c int) bool { return c > 0 }),
		comparison("GTE", func(c int) bool { return c >= 0 }),
		unaryNumeric("UMINUS", func(n float64) (float64, error) { return -n, nil }),
		{
			Name:   "UPLUS",
			Params: []Param{required("value", anyArg)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				return args[0], nil
			},
		},
		unaryNumeric("UNARY.PERCENT", func(n float64) (float64, error) { return n / 100, nil }),

		// math
		{
			Name:        "SUM",
			Description: "Sum of a series of numbers and/or cells.",
			Params:      []Param{required("value1", numbers), repeating("value2", numbers)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				sum := 0.0
				err := visitNumbers(args, func(n float64) { sum += n })
				if err != nil {
					return nil, err
				}
				rounded, _ := strconv.ParseFloat(strconv.FormatFloat(sum, 'f', 15, 64), 64)
				return rounded, nil
			},
		},
		{
			Name:        "AVERAGE",
			Description: "Numerical average value in a dataset, ignoring text.",
			Params:      []Param{required("value1", numbers), repeating("value2", numbers)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				sum, count := 0.0, 0
				err := visitNumbers(args, func(n float64) {
					sum += n
					count++
				})
				if err != nil {
					return nil, err
				}
				if count == 0 {
					return nil, div0Error()
				}
				return sum / float64(count), nil
			},
		},
		{
			Name:   "COUNT",
			Params: []Param{required("value1", anyOrRange), repeating("value2", anyOrRange)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				count := 0
				visitValues(args, func(v Primitive, fromRange bool) {
					switch x := v.(type) {
					case float64:
						count++
					case string:
						if _, err := strconv.ParseFloat(x, 64); err == nil && !fromRange {
							count++
						}
					}
				})
				return float64(count), nil
			},
		},
		{
			Name:   "COUNTA",
			Params: []Param{required("value1", anyOrRange), repeating("value2", anyOrRange)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				count := 0
				visitValues(args, func(v Primitive, fromRange bool) {
					if v != nil || !fromRange {
						count++
					}
				})
				return float64(count), nil
			},
		},
		extremum("MAX", func(a, b float64) bool { return a > b }),
		extremum("MIN", func(a, b float64) bool { return a < b }),
		{
			Name:   "MEDIAN",
			Params: []Param{required("value1", numbers), repeating("value2", numbers)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				var values []float64
				if err := visitNumbers(args, func(n float64) { values = append(values, n) }); err != nil {
					return nil, err
				}
				if len(values) == 0 {
					return nil, numError("has no numeric values")
				}
				sort.Float64s(values)
				mid := len(values) / 2
				if len(values)%2 == 0 {
					return (values[mid-1] + values[mid]) / 2, nil
				}
				return values[mid], nil
			},
		},
		unaryNumeric("ABS", func(n float64) (float64, error) { return math.Abs(n), nil }),
		{
			Name:   "ROUND",
			Params: []Param{required("value", ArgNumber), optional("places", ArgNumber, 0.0)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				num, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				places, err := numberArg(args[1])
				if err != nil {
					return nil, err
				}
				multiplier := math.Pow(10, math.Trunc(places))
				return math.Round(num*multiplier) / multiplier, nil
			},
		},
		unaryNumeric("FLOOR", func(n float64) (float64, error) { return math.Floor(n), nil }),
		unaryNumeric("CEILING", func(n float64) (float64, error) { return math.Ceil(n), nil }),
		unaryNumeric("SQRT", func(n float64) (float64, error) {
			if n < 0 {
				return 0, numError("requires a non-negative argument, got %s", formatNumber(n))
			}
			return math.Sqrt(n), nil
		}),
		binaryNumeric("MOD", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, div0Error()
			}
			// sign follows the divisor
			m := math.Mod(a, b)
			if m != 0 && (m < 0) != (b < 0) {
				m += b
			}
			return m, nil
		}),
		{
			Name: "PI",
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				return math.Pi, nil
			},
		},

		// logic
		{
			Name: "IF",
			Params: []Param{
				required("condition", ArgBoolean),
				lazy(required("value_if_true", anyOrRange)),
				lazy(optional("value_if_false", anyOrRange, false)),
			},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				if isTruthy(args[0]) {
					return force(args[1])
				}
				return force(args[2])
			},
		},
		{
			Name: "IFERROR",
			Params: []Param{
				lazy(required("value", anyOrRange)),
				lazy(optional("value_if_error", anyOrRange, "")),
			},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				value, err := force(args[0])
				if p, ok := value.(*Promise); ok && err == nil {
					// the fallback may read cells, so it is forced before chaining
					fallback, fallbackErr := force(args[1])
					return p.Then(func(v Primitive, err error) (Primitive, error) {
						if err != nil && !isNotReady(err) {
							return scalarResult(fallback, fallbackErr)
						}
						return v, err
					}), nil
				}
				if err != nil && !isNotReady(err) {
					return force(args[1])
				}
				return value, err
			},
		},
		{
			Name: "IFS",
			Params: []Param{
				lazy(required("condition1", ArgBoolean)),
				lazy(required("value1", anyOrRange)),
				lazy(repeating("condition_or_value", anyOrRange)),
			},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				if len(args)%2 != 0 {
					return nil, NewSpreadsheetError(ErrorCodeNA, FunctionNamePlaceholder+" expects condition and value pairs")
				}
				for i := 0; i < len(args); i += 2 {
					cond, err := force(args[i])
					if err != nil {
						return nil, err
					}
					if _, ok := cond.(*Promise); ok {
						return nil, valueError("cannot test an asynchronous condition")
					}
					if isTruthy(cond) {
						return force(args[i+1])
					}
				}
				return nil, NewSpreadsheetError(ErrorCodeNA, FunctionNamePlaceholder+": no condition matched")
			},
		},
		{
			Name:   "ISERROR",
			Params: []Param{lazy(required("value", anyOrRange))},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				value, err := force(args[0])
				if p, ok := value.(*Promise); ok && err == nil {
					return p.Then(func(_ Primitive, err error) (Primitive, error) {
						if isNotReady(err) {
							return nil, err
						}
						return err != nil, nil
					}), nil
				}
				if isNotReady(err) {
					return nil, err
				}
				return err != nil, nil
			},
		},
		{
			Name:   "AND",
			Params: []Param{required("logical1", anyOrRange), repeating("logical2", anyOrRange)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				result := true
				visitValues(args, func(v Primitive, fromRange bool) {
					if v != nil && !isTruthy(v) {
						result = false
					}
				})
				return result, nil
			},
		},
		{
			Name:   "OR",
			Params: []Param{required("logical1", anyOrRange), repeating("logical2", anyOrRange)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				result := false
				visitValues(args, func(v Primitive, fromRange bool) {
					if isTruthy(v) {
						result = true
					}
				})
				return result, nil
			},
		},
		{
			Name:   "NOT",
			Params: []Param{required("logical", ArgBoolean)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				return !isTruthy(args[0]), nil
			},
		},

		// text
		{
			Name:   "CONCATENATE",
			Params: []Param{required("string1", anyOrRange), repeating("string2", anyOrRange)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				var b strings.Builder
				visitValues(args, func(v Primitive, _ bool) { b.WriteString(toString(v)) })
				return b.String(), nil
			},
		},
		textFunction("LEN", func(s string) Primitive { return float64(len([]rune(s))) }),
		textFunction("UPPER", func(s string) Primitive { return strings.ToUpper(s) }),
		textFunction("LOWER", func(s string) Primitive { return strings.ToLower(s) }),
		textFunction("TRIM", func(s string) Primitive { return strings.Join(strings.Fields(s), " ") }),

		// conditional aggregates
		{
			Name:   "COUNTIF",
			Params: []Param{required("range", ArgRangeAny), required("criterion", ArgString)},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				criterion := ParseCriterion(args[1])
				count := 0
				for _, v := range toMatrix(args[0]).Values() {
					if EvaluatePredicate(v, criterion) {
						count++
					}
				}
				return float64(count), nil
			},
		},
		{
			Name: "SUMIF",
			Params: []Param{
				required("criteria_range", ArgRangeAny),
				required("criterion", ArgString),
				optional("sum_range", ArgRangeNumber, nil),
			},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				sum := 0.0
				err := visitMatching(args, func(n float64) { sum += n })
				return sum, err
			},
		},
		{
			Name: "AVERAGEIF",
			Params: []Param{
				required("criteria_range", ArgRangeAny),
				required("criterion", ArgString),
				optional("average_range", ArgRangeNumber, nil),
			},
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				sum, count := 0.0, 0
				err := visitMatching(args, func(n float64) {
					sum += n
					count++
				})
				if err != nil {
					return nil, err
				}
				if count == 0 {
					return nil, div0Error()
				}
				return sum / float64(count), nil
			},
		},

		// volatile
		{
			Name:     "NOW",
			Volatile: true,
			Compute: func(ctx *FunctionContext, args ...any) (any, error) {
				now := ctx.Clock.Now()
				return float64(now.UnixMilli()-excelEpochMs) / msPerDay, nil
			},
		},
		{
			Name:     "TODAY",
			Volatile: true,
			Compute: func(ctx *FunctionContext, args ...any) (any, error) {
				now := ctx.Clock.Now()
				midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
				return math.Floor(float64(midnight.UnixMilli()-excelEpochMs) / msPerDay), nil
			},
		},
		{
			Name:     "RAND",
			Volatile: true,
			Compute: func(ctx *FunctionContext, args ...any) (any, error) {
				return ctx.Rand.Float64(), nil
			},
		},

		// async
		{
			Name:        "WAIT",
			Description: "Resolves to its argument after that many milliseconds.",
			Params:      []Param{required("ms", ArgNumber)},
			Async:       true,
			Compute: func(_ *FunctionContext, args ...any) (any, error) {
				ms, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				if ms < 0 {
					return nil, numError("expects a non-negative delay")
				}
				p := NewPromise()
				time.AfterFunc(time.Duration(ms*float64(time.Millisecond)), func() {
					p.Resolve(ms)
				})
				return p, nil
			},
		},
	}
}

// Excel serial dates count days from December 30, 1899
const (
	excelEpochMs = -2209161600000
	msPerDay     = 86400000
)

func extremum(name string, better func(a, b float64) bool) *FunctionDescriptor {
	return &FunctionDescriptor{
		Name:   name,
		Params: []Param{required("value1", numbers), repeating("value2", numbers)},
		Compute: func(_ *FunctionContext, args ...any) (any, error) {
			result, found := 0.0, false
			err := visitNumbers(args, func(n float64) {
				if !found || better(n, result) {
					result, found = n, true
				}
			})
			return result, err
		},
	}
}

func textFunction(name string, fn func(string) Primitive) *FunctionDescriptor {
	return &FunctionDescriptor{
		Name:   name,
		Params: []Param{required("text", ArgString)},
		Compute: func(_ *FunctionContext, args ...any) (any, error) {
			return fn(toString(args[0])), nil
		},
	}
}

// visitMatching walks the criteria range and feeds the numbers of the
// matching cells of the value range (args[2], or the criteria range itself)
func visitMatching(args []any, fn func(float64)) error {
	criteriaRange := toMatrix(args[0])
	criterion := ParseCriterion(args[1])
	valueRange := criteriaRange
	if len(args) > 2 && args[2] != nil {
		valueRange = toMatrix(args[2])
	}
	for col := range criteriaRange {
		for row := range criteriaRange[col] {
			if !EvaluatePredicate(criteriaRange[col][row], criterion) {
				continue
			}
			if col >= len(valueRange) || row >= len(valueRange[col]) {
				continue
			}
			if n, ok := valueRange[col][row].(float64); ok {
				fn(n)
			}
		}
	}
	return nil
}

// Values flattens the matrix column by column
func (m Matrix) Values() []Primitive {
	var out []Primitive
	for _, column := range m {
		out = append(out, column...)
	}
	return out
}

func toMatrix(v any) Matrix {
	if m, ok := v.(Matrix); ok {
		return m
	}
	return Matrix{{v}}
}

// force evaluates a lazy argument
func force(arg any) (any, error) {
	if thunk, ok := arg.(Thunk); ok {
		return thunk()
	}
	return arg, nil
}

// scalarResult narrows a forced value to a cell value
func scalarResult(v any, err error) (Primitive, error) {
	if err != nil {
		return nil, err
	}
	if m, ok := v.(Matrix); ok {
		if len(m) == 1 && len(m[0]) == 1 {
			return m[0][0], nil
		}
		return nil, valueError("expects a single value, got a range")
	}
	return v, nil
}

// visitNumbers feeds every number of the arguments to fn. direct arguments
// are coerced, range cells that are not numbers are skipped.
func visitNumbers(args []any, fn func(float64)) error {
	for _, arg := range args {
		if m, ok := arg.(Matrix); ok {
			for _, v := range m.Values() {
				if n, ok := v.(float64); ok && !math.IsNaN(n) {
					fn(n)
				}
			}
			continue
		}
		if arg == nil {
			continue
		}
		n, err := numberArg(arg)
		if err != nil {
			return err
		}
		fn(n)
	}
	return nil
}

// visitValues feeds every scalar of the arguments to fn, flattening ranges
func visitValues(args []any, fn func(v Primitive, fromRange bool)) {
	for _, arg := range args {
		if m, ok := arg.(Matrix); ok {
			for _, v := range m.Values() {
				fn(v, true)
			}
			continue
		}
		fn(arg, false)
	}
}

// numberArg coerces a scalar argument, failing with #VALUE!
func numberArg(v any) (float64, error) {
	if m, ok := v.(Matrix); ok {
		if len(m) == 1 && len(m[0]) == 1 {
			v = m[0][0]
		} else {
			return 0, valueError("expects a single value, got a range")
		}
	}
	n, ok := toNumber(v)
	if !ok {
		return 0, valueError("expects a number value, but %q is a string, and cannot be coerced to a number", toString(v))
	}
	return n, nil
}

// toNumber converts value to number, returning ok=false if conversion fails
func toNumber(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, true
		}
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// toString converts value to string
func toString(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return formatNumber(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return v
	}
	return fmt.Sprint(value)
}

// isTruthy checks if value is truthy
func isTruthy(value Primitive) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != "" && !strings.EqualFold(v, "FALSE")
	case nil:
		return false
	default:
		return true
	}
}

// typeRank orders values of different kinds: numbers < strings < booleans
func typeRank(v Primitive) int {
	switch v.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	}
	return 3
}

// comparePrimitives compares two cell values. an empty value takes the zero
// value of the other side; strings compare case-insensitively.
func comparePrimitives(left, right Primitive) int {
	if left == nil {
		left = zeroLike(right)
	}
	if right == nil {
		right = zeroLike(left)
	}
	if lr, rr := typeRank(left), typeRank(right); lr != rr {
		if lr < rr {
			return -1
		}
		return 1
	}

	switch l := left.(type) {
	case float64:
		r, _ := right.(float64)
		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		}
		return 0
	case bool:
		r, _ := right.(bool)
		if l == r {
			return 0
		}
		if !l {
			return -1
		}
		return 1
	case string:
		r, _ := right.(string)
		return strings.Compare(strings.ToUpper(l), strings.ToUpper(r))
	}
	return strings.Compare(toString(left), toString(right))
}

func zeroLike(v Primitive) Primitive {
	switch v.(type) {
	case string:
		return ""
	case bool:
		return false
	}
	return 0.0
}

// isNotReady reports whether err is the not-ready signal of a pending read
func isNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

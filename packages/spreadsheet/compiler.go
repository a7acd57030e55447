package spreadsheet

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

// evalFunc is a node of a compiled closure tree
type evalFunc func(env *evalEnv) (any, error)

// CellReader resolves the reads of a compiled formula
type CellReader interface {
	ReadCell(ref CellRef) (Primitive, error)
	ReadRange(ref RangeRef) (Matrix, error)
}

// SheetResolver maps a sheet name to its id
type SheetResolver func(name string) (uint32, bool)

// evalEnv is what a running closure tree sees
type evalEnv struct {
	formula *CompiledFormula
	reader  CellReader
	ctx     *FunctionContext
}

func (e *evalEnv) cell(i int) (any, error) {
	return e.reader.ReadCell(e.formula.CellRefs[i])
}

func (e *evalEnv) rangeAt(i int) (any, error) {
	m, err := e.reader.ReadRange(e.formula.RangeRefs[i])
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Evaluate runs the formula. the result is a Primitive or, for asynchronous
// formulas, a *Promise.
func (f *CompiledFormula) Evaluate(reader CellReader, ctx *FunctionContext) (any, error) {
	value, err := f.eval(&evalEnv{formula: f, reader: reader, ctx: ctx})
	if err != nil {
		return nil, err
	}
	if p, ok := value.(*Promise); ok {
		return p, nil
	}
	return scalarResult(value, nil)
}

// Compiler turns formula text into CompiledFormula values, sharing evaluators
// between formulas of the same shape. It is owned by one engine and is not
// safe for concurrent use.
type Compiler struct {
	functions *FunctionRegistry
	formulas  *FormulaTable
	logger    *slog.Logger
}

func NewCompiler(functions *FunctionRegistry, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compiler{
		functions: functions,
		formulas:  NewFormulaTable(),
		logger:    logger,
	}
}

// Functions returns the registry the compiler resolves calls against
func (c *Compiler) Functions() *FunctionRegistry {
	return c.functions
}

// Formulas returns the structural cache
func (c *Compiler) Formulas() *FormulaTable {
	return c.formulas
}

// Compile parses and compiles a formula. references without a sheet resolve
// to homeSheetID; qualified ones go through resolve.
func (c *Compiler) Compile(formula string, homeSheetID uint32, resolve SheetResolver) (*CompiledFormula, error) {
	ast, err := Parse(formula, c.functions)
	if err != nil {
		return nil, err
	}
	return c.CompileAST(ast, formula, homeSheetID, resolve)
}

// CompileAST compiles an already parsed formula
func (c *Compiler) CompileAST(ast ASTNode, text string, homeSheetID uint32, resolve SheetResolver) (*CompiledFormula, error) {
	if err := checkRoot(ast); err != nil {
		return nil, err
	}
	key, err := shapeKey(ast)
	if err != nil {
		return nil, err
	}

	shape, cached := c.formulas.Lookup(key)
	k := &compilation{
		compiler: c,
		home:     homeSheetID,
		resolve:  resolve,
		build:    !cached,
	}
	eval, err := k.expr(ast)
	if err != nil {
		return nil, err
	}
	if !cached {
		shape = c.formulas.Intern(key, &compiledShape{eval: eval, async: k.async, volatile: k.volatile})
		c.logger.Debug("compiled formula shape", "formula", text, "key", key[:12], "shapes", c.formulas.Count())
	}

	return &CompiledFormula{
		Text:       text,
		Key:        key,
		IsAsync:    shape.async,
		IsVolatile: shape.volatile,
		CellRefs:   k.cellRefs,
		RangeRefs:  k.rangeRefs,
		DebugTexts: k.debugTexts,
		eval:       shape.eval,
	}, nil
}

// checkRoot rejects a bare range or an empty slot at the top of a formula
func checkRoot(ast ASTNode) error {
	root := ast
	if d, ok := root.(*DebugNode); ok {
		root = d.Expr
	}
	switch n := root.(type) {
	case *PlaceholderNode:
		return newCompileError("Invalid formula: empty expression")
	case *BinaryOpNode:
		if isRangeNode(n) {
			return newCompileError("Invalid formula: a range cannot be used as a single value")
		}
	}
	return nil
}

func isRangeNode(node ASTNode) bool {
	b, ok := node.(*BinaryOpNode)
	if !ok || b.Op != ":" {
		return false
	}
	_, lok := b.Left.(*ReferenceNode)
	_, rok := b.Right.(*ReferenceNode)
	return lok && rok
}

// compilation is the state of one walk over an AST. with build unset the
// walk only validates the tree and fills the reference tables.
type compilation struct {
	compiler   *Compiler
	home       uint32
	resolve    SheetResolver
	build      bool
	cellRefs   []CellRef
	rangeRefs  []RangeRef
	debugTexts []string // rendered operands of ? markers, in walk order
	async      bool
	volatile   bool
}

func (k *compilation) sheetID(name string) (uint32, error) {
	if name == "" {
		return k.home, nil
	}
	if k.resolve != nil {
		if id, ok := k.resolve(name); ok {
			return id, nil
		}
	}
	return 0, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("Invalid sheet name: %s", name))
}

func (k *compilation) addCell(ref *ReferenceNode) (int, error) {
	sheet, err := k.sheetID(ref.SheetName)
	if err != nil {
		return 0, err
	}
	col, row, err := ToCartesian(ref.XC)
	if err != nil {
		return 0, newReferenceError()
	}
	k.cellRefs = append(k.cellRefs, CellRef{XC: ref.XC, SheetID: sheet, Col: col, Row: row})
	return len(k.cellRefs) - 1, nil
}

func (k *compilation) addRange(left, right *ReferenceNode) (int, error) {
	sheet, err := k.sheetID(left.SheetName)
	if err != nil {
		return 0, err
	}
	zone, err := ZoneFromXC(left.XC + ":" + right.XC)
	if err != nil {
		return 0, newReferenceError()
	}
	k.rangeRefs = append(k.rangeRefs, RangeRef{XC1: left.XC, XC2: right.XC, SheetID: sheet, Zone: zone})
	return len(k.rangeRefs) - 1, nil
}

func constant(v any) evalFunc {
	return func(*evalEnv) (any, error) {
		return v, nil
	}
}

// expr compiles a node in value position
func (k *compilation) expr(node ASTNode) (evalFunc, error) {
	switch n := node.(type) {
	case *NumberNode:
		return constant(n.Value), nil
	case *StringNode:
		return constant(n.Value), nil
	case *BooleanNode:
		return constant(n.Value), nil

	case *ReferenceNode:
		idx, err := k.addCell(n)
		if err != nil {
			return nil, err
		}
		return func(env *evalEnv) (any, error) {
			return env.cell(idx)
		}, nil

	case *BinaryOpNode:
		if n.Op == ":" {
			return k.rangeExpr(n)
		}
		return k.operator(operatorFunctions[n.Op], n.Op, n.Left, n.Right)

	case *UnaryOpNode:
		return k.operator(unaryOperatorFunctions[n.Op], n.Op, n.Operand)

	case *FunctionCallNode:
		desc, ok := k.compiler.functions.Lookup(n.Name)
		if !ok {
			return nil, &SpreadsheetError{ErrorCode: ErrorCodeName, Kind: KindCompile, Message: fmt.Sprintf("Invalid formula: unknown function %s", n.Name)}
		}
		return k.call(desc, n.Args)

	case *DebugNode:
		inner, err := k.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		// the text carries coordinates, so it lives with the formula and not
		// in the shared closure
		k.debugTexts = append(k.debugTexts, Render(n.Expr))
		if !k.build {
			return inner, nil
		}
		idx := len(k.debugTexts) - 1
		return func(env *evalEnv) (any, error) {
			value, err := inner(env)
			env.ctx.Logger.Debug("formula debug", "expr", env.formula.DebugTexts[idx], "value", value, "err", err)
			return value, err
		}, nil

	case *PlaceholderNode:
		return nil, newCompileError("Invalid formula: empty argument")
	}
	return nil, newCompileError(fmt.Sprintf("Invalid formula: unsupported node %T", node))
}

func (k *compilation) rangeExpr(n *BinaryOpNode) (evalFunc, error) {
	left, lok := n.Left.(*ReferenceNode)
	right, rok := n.Right.(*ReferenceNode)
	if !lok || !rok {
		return nil, newCompileError("Invalid formula: a range needs two cell references")
	}
	idx, err := k.addRange(left, right)
	if err != nil {
		return nil, err
	}
	return func(env *evalEnv) (any, error) {
		return env.rangeAt(idx)
	}, nil
}

func (k *compilation) operator(name, symbol string, operands ...ASTNode) (evalFunc, error) {
	desc, ok := k.compiler.functions.Lookup(name)
	if !ok {
		return nil, newCompileError(fmt.Sprintf("Invalid formula: operator %s is not available", symbol))
	}
	return k.call(desc, operands)
}

// arg compiles an argument for the parameter receiving it
func (k *compilation) arg(desc *FunctionDescriptor, node ASTNode, param Param) (evalFunc, error) {
	var fn evalFunc
	var err error
	switch n := node.(type) {
	case *PlaceholderNode:
		fn = constant(param.Default)
	case *ReferenceNode:
		if param.Types.AcceptsRange() {
			// a single cell is promoted to a 1x1 range
			idx, err := k.addRange(n, n)
			if err != nil {
				return nil, err
			}
			fn = func(env *evalEnv) (any, error) {
				return env.rangeAt(idx)
			}
			break
		}
		fn, err = k.expr(n)
	case *BinaryOpNode:
		if n.Op == ":" && !param.Types.AcceptsRange() {
			return nil, newCompileError(fmt.Sprintf("Function %s expects the parameter '%s' to be a single value or a single cell reference, not a range.", desc.Name, param.Name))
		}
		fn, err = k.expr(n)
	default:
		fn, err = k.expr(n)
	}
	if err != nil {
		return nil, err
	}
	if !param.Lazy || !k.build {
		return fn, nil
	}
	return func(env *evalEnv) (any, error) {
		return Thunk(func() (any, error) {
			return fn(env)
		}), nil
	}, nil
}

// call compiles a call after checking its argument count. omitted optional
// arguments are filled with their defaults.
func (k *compilation) call(desc *FunctionDescriptor, args []ASTNode) (evalFunc, error) {
	if err := desc.CheckArity(len(args)); err != nil {
		return nil, err
	}
	k.async = k.async || desc.Async
	k.volatile = k.volatile || desc.Volatile

	argFns := make([]evalFunc, len(args))
	params := make([]Param, len(args))
	for i, node := range args {
		params[i] = desc.ParamAt(i)
		fn, err := k.arg(desc, node, params[i])
		if err != nil {
			return nil, err
		}
		argFns[i] = fn
	}
	var defaults []any
	for i := len(args); i < len(desc.Params); i++ {
		if !desc.Params[i].Repeating {
			defaults = append(defaults, desc.Params[i].Default)
		}
	}
	if !k.build {
		return nil, nil
	}

	return func(env *evalEnv) (any, error) {
		values := make([]any, len(argFns), len(argFns)+len(defaults))
		var pending []int
		for i, fn := range argFns {
			v, err := fn(env)
			if err != nil {
				return nil, err
			}
			switch x := v.(type) {
			case *Promise:
				pending = append(pending, i)
			case Matrix:
				if !params[i].Types.AcceptsRange() && !params[i].Lazy {
					if v, err = scalarResult(x, nil); err != nil {
						return nil, annotate(err, desc.Name)
					}
				}
			}
			values[i] = v
		}
		values = append(values, defaults...)
		if len(pending) == 0 {
			return invoke(env.ctx, desc, values)
		}
		return chain(env.ctx, desc, values, pending)
	}, nil
}

// invoke runs a function body and names it in its errors
func invoke(ctx *FunctionContext, desc *FunctionDescriptor, values []any) (any, error) {
	result, err := desc.Compute(ctx, values...)
	if err != nil {
		return nil, annotate(err, desc.Name)
	}
	return result, nil
}

// chain defers a call until its asynchronous arguments settle. lazy
// arguments are forced first since they read cells, which only the engine
// goroutine may do.
func chain(ctx *FunctionContext, desc *FunctionDescriptor, values []any, pending []int) (any, error) {
	for i, v := range values {
		if thunk, ok := v.(Thunk); ok {
			forced, err := thunk()
			if isNotReady(err) {
				return nil, err
			}
			values[i] = Thunk(func() (any, error) { return forced, err })
		}
	}
	promises := make([]*Promise, len(pending))
	for j, i := range pending {
		promises[j] = values[i].(*Promise)
	}
	return whenAll(promises, func(settled []Primitive) (any, error) {
		for j, i := range pending {
			values[i] = settled[j]
		}
		return invoke(ctx, desc, values)
	}), nil
}

// annotate substitutes the failing function's name into spreadsheet errors
func annotate(err error, name string) error {
	var se *SpreadsheetError
	if errors.As(err, &se) {
		return se.withFunctionName(name)
	}
	return err
}

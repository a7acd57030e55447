package spreadsheet

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a node of a parsed formula. ToString renders the node back to
// formula text, adding parentheses only where binding powers need them.
type ASTNode interface {
	GetPosition() NodePosition
	ToString() string
}

// binding powers
const (
	commaPower   = 3
	parenPower   = 5
	unaryPower   = 15
	leafPower    = 1000
	defaultPower = 15
)

// operatorPower returns the binding power of an infix operator. binary minus
// binds looser than addition; formulas in the wild depend on it.
func operatorPower(op string) int {
	switch op {
	case "^":
		return 30
	case "*", "/":
		return 20
	case "=", "<>", ">=", "<=", "<", ">":
		return 10
	case "-":
		return 7
	default:
		return defaultPower
	}
}

func bindingPower(tok Token) int {
	switch tok.Type {
	case TokenComma:
		return commaPower
	case TokenLeftParen, TokenRightParen:
		return parenPower
	case TokenOperator:
		return operatorPower(tok.Value)
	}
	return 0
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	return formatNumber(n.Value)
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(n.Value)
	return `"` + escaped + `"`
}

// BooleanNode represents TRUE or FALSE
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ReferenceNode is a single cell reference. XC has its $ anchors stripped;
// SheetName is empty for the home sheet.
type ReferenceNode struct {
	XC        string
	SheetName string
	Position  NodePosition
}

func (n *ReferenceNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ReferenceNode) ToString() string {
	if n.SheetName == "" {
		return n.XC
	}
	return quoteSheetName(n.SheetName) + "!" + n.XC
}

// FunctionCallNode represents a function call. Name is upper-cased.
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Async    bool
	Position NodePosition
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

// UnaryOpNode is a prefix + or -, or the postfix %
type UnaryOpNode struct {
	Op       string
	Operand  ASTNode
	Postfix  bool
	Position NodePosition
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	operand := n.Operand.ToString()
	if n.Postfix {
		switch o := n.Operand.(type) {
		case *BinaryOpNode:
			operand = "(" + operand + ")"
		case *UnaryOpNode:
			if !o.Postfix {
				operand = "(" + operand + ")"
			}
		}
		return operand + n.Op
	}
	switch o := n.Operand.(type) {
	case *BinaryOpNode:
		if operatorPower(o.Op) <= unaryPower {
			operand = "(" + operand + ")"
		}
	case *UnaryOpNode:
		if o.Postfix {
			operand = "(" + operand + ")"
		}
	}
	return n.Op + operand
}

// BinaryOpNode is an infix operation. Op ":" is a range; when both sides are
// references they are stored top-left:bottom-right.
type BinaryOpNode struct {
	Op       string
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	if n.Op == ":" {
		left, lok := n.Left.(*ReferenceNode)
		right, rok := n.Right.(*ReferenceNode)
		if lok && rok {
			if right.SheetName == "" || right.SheetName == left.SheetName {
				return left.ToString() + ":" + right.XC
			}
			return left.ToString() + ":" + right.ToString()
		}
	}

	power := operatorPower(n.Op)
	left := n.Left.ToString()
	if nodePower(n.Left) < power {
		left = "(" + left + ")"
	}
	right := n.Right.ToString()
	if u, ok := n.Right.(*UnaryOpNode); (ok && !u.Postfix) || nodePower(n.Right) <= power {
		right = "(" + right + ")"
	}
	return left + n.Op + right
}

// nodePower is the binding power a node has when it appears as an operand
func nodePower(node ASTNode) int {
	switch n := node.(type) {
	case *BinaryOpNode:
		if n.Op == ":" {
			return leafPower
		}
		return operatorPower(n.Op)
	case *UnaryOpNode:
		return unaryPower
	}
	return leafPower
}

// PlaceholderNode stands for an omitted argument, as in F(1,,2)
type PlaceholderNode struct {
	Position NodePosition
}

func (n *PlaceholderNode) GetPosition() NodePosition {
	return n.Position
}

func (n *PlaceholderNode) ToString() string {
	return ""
}

// DebugNode wraps an expression marked with ?; its value is logged when the
// formula runs
type DebugNode struct {
	Expr     ASTNode
	Position NodePosition
}

func (n *DebugNode) GetPosition() NodePosition {
	return n.Position
}

func (n *DebugNode) ToString() string {
	inner := n.Expr.ToString()
	switch e := n.Expr.(type) {
	case *BinaryOpNode:
		if e.Op != ":" {
			inner = "(" + inner + ")"
		}
	case *UnaryOpNode:
		if e.Postfix {
			inner = "(" + inner + ")"
		}
	}
	return "?" + inner
}

// Render turns an AST back into formula text, without the leading =
func Render(node ASTNode) string {
	if node == nil {
		return ""
	}
	return node.ToString()
}

// formatNumber prints integral values without a fraction
func formatNumber(v float64) string {
	if v < 1e15 && v > -1e15 && v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var plainSheetName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteSheetName leaves a name bare only when the lexer reads it back as the
// same symbol: no leading digit, and not shaped like a reference or boolean
func quoteSheetName(name string) string {
	if plainSheetName.MatchString(name) &&
		!cellReferencePattern.MatchString(name) &&
		!strings.EqualFold(name, "TRUE") && !strings.EqualFold(name, "FALSE") {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func unquoteSheetName(name string) string {
	if len(name) >= 2 && name[0] == charApostrophe && name[len(name)-1] == charApostrophe {
		return strings.ReplaceAll(name[1:len(name)-1], "''", "'")
	}
	return name
}

// FunctionNamer lists registered function names; used for suggestions
type FunctionNamer interface {
	Names() []string
}

// asyncLookup reports whether a registered function is asynchronous
type asyncLookup interface {
	IsAsync(name string) bool
}

// Parser parses enriched, space-free tokens into an AST
type Parser struct {
	tokens    []Token
	pos       int
	functions FunctionLookup
}

// NewParser creates a parser over tokens produced by EnrichTokens
func NewParser(tokens []Token, functions FunctionLookup) *Parser {
	filtered := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Type != TokenSpace {
			filtered = append(filtered, tok)
		}
	}
	return &Parser{tokens: filtered, functions: functions}
}

// Parse tokenizes and parses a formula. a leading = is optional.
func Parse(formula string, functions FunctionLookup) (ASTNode, error) {
	tokens, err := Tokenize(formula, functions)
	if err != nil {
		return nil, err
	}
	return ParseTokens(EnrichTokens(tokens, true), functions)
}

// ParseTokens parses an already enriched token stream
func ParseTokens(tokens []Token, functions FunctionLookup) (ASTNode, error) {
	return NewParser(tokens, functions).Parse()
}

// Parse parses the whole token stream; leftover tokens are a syntax error
func (p *Parser) Parse() (ASTNode, error) {
	if tok, ok := p.peek(); ok && tok.Type == TokenOperator && tok.Value == "=" {
		p.pos++
	}
	if p.pos >= len(p.tokens) {
		return nil, newSyntaxError("Invalid formula")
	}
	node, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		return nil, newSyntaxError(fmt.Sprintf("Invalid formula: unexpected %q at position %d", tok.Value, tok.Start))
	}
	return node, nil
}

func (p *Parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

// parseExpression is the precedence climbing loop
func (p *Parser) parseExpression(rbp int) (ASTNode, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Type != TokenOperator || bindingPower(tok) <= rbp {
			return left, nil
		}
		p.pos++
		if tok.Value == "%" {
			left = &UnaryOpNode{
				Op:       "%",
				Operand:  left,
				Postfix:  true,
				Position: NodePosition{Start: left.GetPosition().Start, End: tok.End},
			}
			continue
		}
		right, err := p.parseExpression(bindingPower(tok))
		if err != nil {
			return nil, err
		}
		left = newBinaryOp(tok.Value, left, right)
	}
}

func (p *Parser) parsePrefix() (ASTNode, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, newSyntaxError("Invalid formula: unexpected end of expression")
	}
	position := NodePosition{Start: tok.Start, End: tok.End}

	switch tok.Type {
	case TokenNumber:
		p.pos++
		value, err := parseNumberLiteral(tok.Value)
		if err != nil {
			return nil, err
		}
		return &NumberNode{Value: value, Position: position}, nil

	case TokenString:
		p.pos++
		value, err := unquoteString(tok.Value)
		if err != nil {
			return nil, err
		}
		return &StringNode{Value: value, Position: position}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: strings.EqualFold(tok.Value, "TRUE"), Position: position}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenSymbol:
		p.pos++
		if next, ok := p.peek(); ok && next.Type == TokenLeftParen {
			return nil, p.unknownFunction(tok.Value)
		}
		return parseSymbol(tok)

	case TokenLeftParen:
		p.pos++
		node, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if closing, ok := p.peek(); !ok || closing.Type != TokenRightParen {
			return nil, newSyntaxError("Invalid formula: missing closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenOperator:
		if tok.Value != "-" && tok.Value != "+" {
			break
		}
		p.pos++
		operand, err := p.parseExpression(unaryPower)
		if err != nil {
			return nil, err
		}
		return &UnaryOpNode{
			Op:       tok.Value,
			Operand:  operand,
			Position: NodePosition{Start: tok.Start, End: operand.GetPosition().End},
		}, nil

	case TokenDebug:
		p.pos++
		expr, err := p.parseExpression(leafPower)
		if err != nil {
			return nil, err
		}
		return &DebugNode{Expr: expr, Position: NodePosition{Start: tok.Start, End: expr.GetPosition().End}}, nil
	}
	return nil, newSyntaxError(fmt.Sprintf("Invalid formula: unexpected %q", tok.Value))
}

// parseFunctionCall parses NAME ( args ). empty argument slots become
// placeholders so that positions are kept.
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	nameTok := p.tokens[p.pos]
	name := strings.ToUpper(nameTok.Value)
	p.pos++

	if tok, ok := p.peek(); !ok || tok.Type != TokenLeftParen {
		return nil, newSyntaxError(fmt.Sprintf("Invalid formula: missing '(' after %s", name))
	}
	p.pos++

	call := &FunctionCallNode{Name: name, Args: []ASTNode{}}
	if lookup, ok := p.functions.(asyncLookup); ok {
		call.Async = lookup.IsAsync(name)
	}

	if tok, ok := p.peek(); ok && tok.Type == TokenRightParen {
		p.pos++
		call.Position = NodePosition{Start: nameTok.Start, End: tok.End}
		return call, nil
	}

	for {
		tok, ok := p.peek()
		if !ok {
			return nil, newSyntaxError(fmt.Sprintf("Invalid formula: missing ')' in %s", name))
		}
		if tok.Type == TokenComma || tok.Type == TokenRightParen {
			call.Args = append(call.Args, &PlaceholderNode{Position: NodePosition{Start: tok.Start, End: tok.Start}})
		} else {
			arg, err := p.parseExpression(commaPower)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}

		tok, ok = p.peek()
		if !ok {
			return nil, newSyntaxError(fmt.Sprintf("Invalid formula: missing ')' in %s", name))
		}
		switch tok.Type {
		case TokenRightParen:
			p.pos++
			call.Position = NodePosition{Start: nameTok.Start, End: tok.End}
			return call, nil
		case TokenComma:
			p.pos++
		default:
			return nil, newSyntaxError(fmt.Sprintf("Invalid formula: expected ',' or ')' but got %q", tok.Value))
		}
	}
}

func (p *Parser) unknownFunction(name string) error {
	message := fmt.Sprintf("Invalid formula: unknown function %s", strings.ToUpper(name))
	if namer, ok := p.functions.(FunctionNamer); ok {
		if suggestion := closestFunction(strings.ToUpper(name), namer.Names()); suggestion != "" {
			message += fmt.Sprintf(" (did you mean %s?)", suggestion)
		}
	}
	return &SpreadsheetError{ErrorCode: ErrorCodeName, Kind: KindSyntax, Message: message}
}

// closestFunction returns the best fuzzy match for name, or ""
func closestFunction(name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(name, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	// typos longer than the target never fuzzy-match, fall back to edit distance
	best, bestDistance := "", 3
	for _, candidate := range candidates {
		if d := fuzzy.LevenshteinDistance(name, candidate); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best
}

// parseSymbol turns a SYMBOL into a reference or a range
func parseSymbol(tok Token) (ASTNode, error) {
	position := NodePosition{Start: tok.Start, End: tok.End}
	if strings.EqualFold(tok.Value, "TRUE") || strings.EqualFold(tok.Value, "FALSE") {
		return &BooleanNode{Value: strings.EqualFold(tok.Value, "TRUE"), Position: position}, nil
	}
	if strings.HasPrefix(strings.ToUpper(tok.Value), "#REF") || strings.Contains(strings.ToUpper(tok.Value), "!#REF") {
		return nil, newReferenceError()
	}

	if idx := rangeColon(tok.Value); idx >= 0 {
		left, err := parseReference(tok.Value[:idx], position)
		if err != nil {
			return nil, err
		}
		right, err := parseReference(tok.Value[idx+1:], position)
		if err != nil {
			return nil, err
		}
		if right.SheetName == "" {
			right.SheetName = left.SheetName
		}
		return newBinaryOp(":", left, right), nil
	}
	return parseReference(tok.Value, position)
}

// parseReference parses [Sheet!]XC, stripping $ anchors
func parseReference(symbol string, position NodePosition) (*ReferenceNode, error) {
	sheet := ""
	xc := symbol
	if idx := strings.LastIndexByte(symbol, charExclaim); idx >= 0 {
		sheet = unquoteSheetName(symbol[:idx])
		xc = symbol[idx+1:]
	}
	if strings.EqualFold(xc, "#REF") {
		return nil, newReferenceError()
	}
	if !isCellReference(xc) {
		return nil, newSyntaxError(fmt.Sprintf("Invalid formula: unknown symbol %s", symbol))
	}
	return &ReferenceNode{
		XC:        strings.ToUpper(strings.ReplaceAll(xc, "$", "")),
		SheetName: sheet,
		Position:  position,
	}, nil
}

// newBinaryOp builds a binary node; two references joined by ":" are
// canonicalised to top-left:bottom-right
func newBinaryOp(op string, left, right ASTNode) ASTNode {
	if op == ":" {
		l, lok := left.(*ReferenceNode)
		r, rok := right.(*ReferenceNode)
		if lok && rok {
			canonicalRange(l, r)
		}
	}
	return &BinaryOpNode{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
	}
}

func canonicalRange(left, right *ReferenceNode) {
	lc, lr, err := ToCartesian(left.XC)
	if err != nil {
		return
	}
	rc, rr, err := ToCartesian(right.XC)
	if err != nil {
		return
	}
	left.XC = ToXC(min(lc, rc), min(lr, rr))
	right.XC = ToXC(max(lc, rc), max(lr, rr))
}

func parseNumberLiteral(value string) (float64, error) {
	percent := strings.HasSuffix(value, "%")
	n, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
	if err != nil {
		return 0, newSyntaxError(fmt.Sprintf("Invalid formula: invalid number %s", value))
	}
	if percent {
		n /= 100
	}
	return n, nil
}

// unquoteString strips the quotes of a string token and resolves backslash
// escapes
func unquoteString(value string) (string, error) {
	var b strings.Builder
	for i := 1; i < len(value); i++ {
		switch value[i] {
		case charBackslash:
			if i+1 < len(value) {
				i++
				b.WriteByte(value[i])
			}
		case charQuote:
			if i != len(value)-1 {
				return "", newSyntaxError("Invalid formula: malformed string")
			}
			return b.String(), nil
		default:
			b.WriteByte(value[i])
		}
	}
	return "", newSyntaxError("Invalid formula: unterminated string")
}

package spreadsheet

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenNumber TokenType = iota
	TokenString
	TokenBoolean
	TokenOperator
	TokenLeftParen
	TokenRightParen
	TokenComma
	TokenSymbol
	TokenFunction
	TokenSpace
	TokenDebug
	TokenUnknown
)

var tokenTypeNames = [...]string{
	TokenNumber:     "NUMBER",
	TokenString:     "STRING",
	TokenBoolean:    "BOOLEAN",
	TokenOperator:   "OPERATOR",
	TokenLeftParen:  "LEFT_PAREN",
	TokenRightParen: "RIGHT_PAREN",
	TokenComma:      "COMMA",
	TokenSymbol:     "SYMBOL",
	TokenFunction:   "FUNCTION",
	TokenSpace:      "SPACE",
	TokenDebug:      "DEBUG",
	TokenUnknown:    "UNKNOWN",
}

func (t TokenType) String() string {
	if int(t) < len(tokenTypeNames) {
		return tokenTypeNames[t]
	}
	return "INVALID"
}

// character classification constants. slightly easier to read.
const (
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charBackslash  = '\\'
	charPercent    = '%'
	charLParen     = '('
	charRParen     = ')'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charColon      = ':'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
	charQuestion   = '?'
)

// MaxFormulaTokens bounds the size of a formula
const MaxFormulaTokens = 100

// ErrFormulaTooLong is returned when a formula has more than
// MaxFormulaTokens tokens
var ErrFormulaTooLong = newSyntaxError("formula is too long")

// operators in match order: two-character symbols first
var operators = []string{"<>", ">=", "<=", "+", "-", "*", "/", ":", "=", "<", ">", "%", "^", "&"}

// Token represents a lexical token. Start and End are byte offsets, filled by
// EnrichTokens. ParenID pairs a parenthesis with its match (0 when unset).
type Token struct {
	Type    TokenType
	Value   string
	Start   int
	End     int
	ParenID int
}

// FunctionLookup tells the lexer which symbols are function names
type FunctionLookup interface {
	Has(name string) bool
}

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	input     string
	pos       int
	tokens    []Token
	functions FunctionLookup
}

// NewLexer creates a new lexer for the given formula input
func NewLexer(input string, functions FunctionLookup) *Lexer {
	return &Lexer{
		input:     input,
		tokens:    []Token{},
		functions: functions,
	}
}

// Tokenize splits a formula into tokens whose values concatenate back to the
// input. it fails only when the formula exceeds MaxFormulaTokens.
func Tokenize(formula string, functions FunctionLookup) ([]Token, error) {
	return NewLexer(formula, functions).Tokenize()
}

// Tokenize tokenizes the entire input
func (l *Lexer) Tokenize() ([]Token, error) {
	for l.pos < len(l.input) {
		tok := l.nextToken()
		l.tokens = append(l.tokens, tok)
		if len(l.tokens) > MaxFormulaTokens {
			return nil, errors.WithStack(ErrFormulaTooLong)
		}
	}
	return l.tokens, nil
}

// nextToken returns the next token from the input. every branch consumes at
// least one rune.
func (l *Lexer) nextToken() Token {
	if tok, ok := l.scanSpace(); ok {
		return tok
	}
	if tok, ok := l.scanPunctuation(); ok {
		return tok
	}
	if tok, ok := l.scanOperator(); ok {
		return tok
	}
	if tok, ok := l.scanNumber(); ok {
		return tok
	}
	if tok, ok := l.scanString(); ok {
		return tok
	}
	if l.current() == charQuestion {
		l.pos++
		return Token{Type: TokenDebug, Value: "?"}
	}
	if tok, ok := l.scanSymbol(); ok {
		return tok
	}

	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	value := l.input[l.pos : l.pos+size]
	l.pos += size
	return Token{Type: TokenUnknown, Value: value}
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func isSpace(ch rune) bool {
	return ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn
}

func (l *Lexer) scanSpace() (Token, bool) {
	start := l.pos
	for l.pos < len(l.input) && isSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if start == l.pos {
		return Token{}, false
	}
	return Token{Type: TokenSpace, Value: l.input[start:l.pos]}, true
}

func (l *Lexer) scanPunctuation() (Token, bool) {
	switch l.current() {
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ","}, true
	case charLParen:
		l.pos++
		return Token{Type: TokenLeftParen, Value: "("}, true
	case charRParen:
		l.pos++
		return Token{Type: TokenRightParen, Value: ")"}, true
	}
	return Token{}, false
}

func (l *Lexer) scanOperator() (Token, bool) {
	rest := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			return Token{Type: TokenOperator, Value: op}, true
		}
	}
	return Token{}, false
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// scanNumber reads integer, decimal and exponent forms with an optional
// trailing percent sign
func (l *Lexer) scanNumber() (Token, bool) {
	in := l.input
	i := l.pos
	digits := 0
	for i < len(in) && isDigit(in[i]) {
		i++
		digits++
	}
	if i < len(in) && in[i] == charPeriod {
		j := i + 1
		frac := 0
		for j < len(in) && isDigit(in[j]) {
			j++
			frac++
		}
		if digits > 0 || frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return Token{}, false
	}
	if i < len(in) && (in[i] == 'e' || in[i] == 'E') {
		j := i + 1
		if j < len(in) && (in[j] == charPlus || in[j] == charMinus) {
			j++
		}
		k := j
		for k < len(in) && isDigit(in[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	if i < len(in) && in[i] == charPercent {
		i++
	}
	value := in[l.pos:i]
	l.pos = i
	return Token{Type: TokenNumber, Value: value}, true
}

// scanString reads a double-quoted string. backslash escapes the next rune;
// an unterminated string runs to the end of the input.
func (l *Lexer) scanString() (Token, bool) {
	if l.current() != charQuote {
		return Token{}, false
	}
	start := l.pos
	i := l.pos + 1
	for i < len(l.input) {
		switch l.input[i] {
		case charBackslash:
			i += 2
			continue
		case charQuote:
			i++
			l.pos = i
			return Token{Type: TokenString, Value: l.input[start:i]}, true
		}
		i++
	}
	l.pos = len(l.input)
	return Token{Type: TokenString, Value: l.input[start:]}, true
}

func isSymbolRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) ||
		ch == charUnderscore || ch == charPeriod || ch == charExclaim || ch == charDollar
}

// scanSymbol reads either 'quoted sheet'!REF or a run of symbol runes. a
// leading # is accepted so that #REF markers stay a single symbol.
func (l *Lexer) scanSymbol() (Token, bool) {
	start := l.pos
	i := l.pos

	if l.current() == charApostrophe {
		j := i + 1
		closed := false
		for j < len(l.input) {
			if l.input[j] == charApostrophe {
				if j+1 < len(l.input) && l.input[j+1] == charApostrophe {
					j += 2
					continue
				}
				closed = true
				break
			}
			j++
		}
		if !closed || j+1 >= len(l.input) || l.input[j+1] != charExclaim {
			return Token{}, false
		}
		i = j + 2
	} else if l.current() == charHash {
		i++
	}

	for i < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[i:])
		if !isSymbolRune(r) {
			break
		}
		i += size
	}
	if i == start || (i == start+1 && l.input[start] == charHash) {
		return Token{}, false
	}

	value := l.input[start:i]
	l.pos = i
	if upper := strings.ToUpper(value); upper == "TRUE" || upper == "FALSE" {
		return Token{Type: TokenBoolean, Value: value}, true
	}
	if l.functions != nil && l.functions.Has(strings.ToUpper(value)) {
		return Token{Type: TokenFunction, Value: value}, true
	}
	return Token{Type: TokenSymbol, Value: value}, true
}

// EnrichTokens fills Start/End offsets and paren ids, and merges each
// SYMBOL [SPACE] ':' [SPACE] SYMBOL window into a single range symbol. with
// stripSpaces the spaces inside a merged window are dropped. running it on
// its own output changes nothing.
func EnrichTokens(tokens []Token, stripSpaces bool) []Token {
	result := make([]Token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if end, ok := rangeWindow(tokens, i); ok {
			var b strings.Builder
			for _, tok := range tokens[i : end+1] {
				if stripSpaces && tok.Type == TokenSpace {
					continue
				}
				b.WriteString(tok.Value)
			}
			result = append(result, Token{Type: TokenSymbol, Value: b.String()})
			i = end
			continue
		}
		result = append(result, tokens[i])
	}

	offset := 0
	parenID := 0
	var open []int
	for i := range result {
		result[i].Start = offset
		offset += len(result[i].Value)
		result[i].End = offset
		result[i].ParenID = 0
		switch result[i].Type {
		case TokenLeftParen:
			parenID++
			result[i].ParenID = parenID
			open = append(open, parenID)
		case TokenRightParen:
			if len(open) > 0 {
				result[i].ParenID = open[len(open)-1]
				open = open[:len(open)-1]
			}
		}
	}
	return result
}

// rangeWindow reports the index of the last token of a mergeable range window
// starting at i
func rangeWindow(tokens []Token, i int) (int, bool) {
	if !isPlainSymbol(tokens[i]) {
		return 0, false
	}
	j := i + 1
	if j < len(tokens) && tokens[j].Type == TokenSpace {
		j++
	}
	if j >= len(tokens) || tokens[j].Type != TokenOperator || tokens[j].Value != ":" {
		return 0, false
	}
	j++
	if j < len(tokens) && tokens[j].Type == TokenSpace {
		j++
	}
	if j >= len(tokens) || !isPlainSymbol(tokens[j]) {
		return 0, false
	}
	return j, true
}

func isPlainSymbol(tok Token) bool {
	return tok.Type == TokenSymbol && rangeColon(tok.Value) < 0
}

// rangeColon returns the index of the first ':' outside quoted sheet names,
// or -1
func rangeColon(symbol string) int {
	quoted := false
	for i := 0; i < len(symbol); i++ {
		switch symbol[i] {
		case charApostrophe:
			quoted = !quoted
		case charColon:
			if !quoted {
				return i
			}
		}
	}
	return -1
}

// joinTokens concatenates token values
func joinTokens(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.Value)
	}
	return b.String()
}

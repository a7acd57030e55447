package spreadsheet

import (
	"regexp"
	"strconv"
	"strings"
)

// Criterion is a parsed match expression such as ">=10" or "a*c"
type Criterion struct {
	Operator string
	Operand  Primitive
	Pattern  *regexp.Regexp // compiled wildcard, for string operands
}

// ParseCriterion reads the operator from the first one or two characters
// (= when there is none) and types the operand as a number, a boolean or a
// string, in that order
func ParseCriterion(value Primitive) Criterion {
	switch v := value.(type) {
	case float64, bool:
		return Criterion{Operator: "=", Operand: v}
	case nil:
		return Criterion{Operator: "=", Operand: ""}
	}

	text := toString(value)
	operator := "="
	switch {
	case strings.HasPrefix(text, "<="), strings.HasPrefix(text, ">="), strings.HasPrefix(text, "<>"):
		operator, text = text[:2], text[2:]
	case strings.HasPrefix(text, "<"), strings.HasPrefix(text, ">"), strings.HasPrefix(text, "="):
		operator, text = text[:1], text[1:]
	}

	criterion := Criterion{Operator: operator}
	if n, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
		criterion.Operand = n
		return criterion
	}
	switch strings.ToUpper(text) {
	case "TRUE":
		criterion.Operand = true
		return criterion
	case "FALSE":
		criterion.Operand = false
		return criterion
	}
	criterion.Operand = text
	criterion.Pattern = wildcardPattern(text)
	return criterion
}

// wildcardPattern compiles ? and * wildcards (~ escapes them) into an
// anchored, case-insensitive regexp
func wildcardPattern(text string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for i := 0; i < len(text); i++ {
		switch ch := text[i]; ch {
		case '~':
			if i+1 < len(text) && (text[i+1] == '?' || text[i+1] == '*' || text[i+1] == '~') {
				i++
				b.WriteString(regexp.QuoteMeta(text[i : i+1]))
				continue
			}
			b.WriteString(regexp.QuoteMeta("~"))
		case '?':
			b.WriteString(".")
		case '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// EvaluatePredicate tests a cell value against a criterion. comparisons are
// type strict: a numeric operand never matches a string value with < or >,
// and empty values never match.
func EvaluatePredicate(value Primitive, criterion Criterion) bool {
	if value == nil || criterion.Operand == nil {
		return false
	}

	if n, ok := criterion.Operand.(float64); ok && criterion.Operator == "=" {
		if s, ok := value.(string); ok {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			return err == nil && parsed == n
		}
		return value == criterion.Operand
	}

	if criterion.Operator == "=" || criterion.Operator == "<>" {
		result := false
		if sameKind(value, criterion.Operand) {
			if s, ok := value.(string); ok && criterion.Pattern != nil {
				result = criterion.Pattern.MatchString(s)
			} else {
				result = value == criterion.Operand
			}
		}
		if criterion.Operator == "=" {
			return result
		}
		return !result
	}

	if !sameKind(value, criterion.Operand) {
		return false
	}
	cmp := comparePrimitives(value, criterion.Operand)
	switch criterion.Operator {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func sameKind(a, b Primitive) bool {
	switch a.(type) {
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	}
	return false
}

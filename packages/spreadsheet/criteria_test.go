package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriterion(t *testing.T) {
	tests := []struct {
		input    Primitive
		operator string
		operand  Primitive
		pattern  bool
	}{
		{">=10", ">=", 10.0, false},
		{"<5", "<", 5.0, false},
		{"<>TRUE", "<>", true, false},
		{"=false", "=", false, false},
		{"a*c", "=", "a*c", true},
		{">b", ">", "b", true},
		{5.0, "=", 5.0, false},
		{true, "=", true, false},
		{nil, "=", "", false},
	}
	for _, tt := range tests {
		c := ParseCriterion(tt.input)
		assert.Equal(t, tt.operator, c.Operator, "%v", tt.input)
		assert.Equal(t, tt.operand, c.Operand, "%v", tt.input)
		assert.Equal(t, tt.pattern, c.Pattern != nil, "%v", tt.input)
	}
}

func TestEvaluatePredicate(t *testing.T) {
	tests := []struct {
		criterion Primitive
		value     Primitive
		expected  bool
	}{
		{"<5", 3.0, true},
		{"<5", 7.0, false},
		{"<5", "abc", false},
		{"<5", true, false},
		{">=2", 2.0, true},
		{"=5", "5", true},
		{"5", 5.0, true},
		{5.0, " 5 ", true},
		{"<>5", 4.0, true},
		{"a*c", "ABC", true},
		{"a*c", "abcd", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"~*", "*", true},
		{"~*", "a", false},
		{"<>apple", "banana", true},
		{"<>apple", "Apple", false},
		{"<>apple", 5.0, true},
		{">b", "c", true},
		{">b", "a", false},
		{"=TRUE", true, true},
		{"=TRUE", 1.0, false},
		{"<5", nil, false},
		{"", "", true},
	}
	for _, tt := range tests {
		got := EvaluatePredicate(tt.value, ParseCriterion(tt.criterion))
		assert.Equal(t, tt.expected, got, "criterion %#v, value %#v", tt.criterion, tt.value)
	}
}

func TestWildcardPatternQuotesMeta(t *testing.T) {
	pattern := wildcardPattern("1+1=(2)")
	require.NotNil(t, pattern)
	assert.True(t, pattern.MatchString("1+1=(2)"))
	assert.False(t, pattern.MatchString("11=2"))
}

package spreadsheet

import (
	"regexp"
	"strconv"
	"strings"
)

// Dimension selects rows or columns for a structural edit
type Dimension uint8

const (
	DimensionRow Dimension = iota
	DimensionColumn
)

func (d Dimension) String() string {
	if d == DimensionColumn {
		return "column"
	}
	return "row"
}

// StructuralEdit describes an insertion (Step > 0) or deletion (Step < 0) of
// rows or columns on one sheet. A deletion removes [Pivot, Pivot-Step); an
// insertion places Step new lines before Pivot. Indices are 0-based.
type StructuralEdit struct {
	Sheet     string
	Dimension Dimension
	Pivot     int
	Step      int
}

// move shifts a coordinate. ok is false when the coordinate was deleted.
func (e StructuralEdit) move(coord int) (int, bool) {
	if coord < e.Pivot {
		return coord, true
	}
	if e.Step < 0 && coord < e.Pivot-e.Step {
		return coord, false
	}
	return coord + e.Step, true
}

// anchoredReference matches an XC keeping its $ anchors
var anchoredReference = regexp.MustCompile(`^(\$?)([A-Za-z]{1,3})(\$?)([0-9]{1,7})$`)

// corner is one parsed reference with its anchors
type corner struct {
	colAnchored bool
	col         int
	rowAnchored bool
	row         int
}

func parseCorner(xc string) (corner, bool) {
	m := anchoredReference.FindStringSubmatch(xc)
	if m == nil {
		return corner{}, false
	}
	row, err := strconv.Atoi(m[4])
	if err != nil || row < 1 {
		return corner{}, false
	}
	return corner{
		colAnchored: m[1] != "",
		col:         ColumnIndex(m[2]),
		rowAnchored: m[3] != "",
		row:         row - 1,
	}, true
}

func (c corner) String() string {
	var b strings.Builder
	if c.colAnchored {
		b.WriteByte(charDollar)
	}
	b.WriteString(ColumnName(c.col))
	if c.rowAnchored {
		b.WriteByte(charDollar)
	}
	b.WriteString(strconv.Itoa(c.row + 1))
	return b.String()
}

// coordinate returns a pointer to the coordinate the edit touches, or nil when
// that coordinate is anchored
func (c *corner) coordinate(d Dimension) *int {
	if d == DimensionRow {
		if c.rowAnchored {
			return nil
		}
		return &c.row
	}
	if c.colAnchored {
		return nil
	}
	return &c.col
}

const refFault = "#REF"

// UpdateReferences rewrites the references of a formula after a structural
// edit. homeSheet is the sheet owning the formula; only references that
// resolve to edit.Sheet are touched. Everything but reference symbols is
// reassembled unchanged.
func UpdateReferences(formula string, homeSheet string, edit StructuralEdit, functions FunctionLookup) (string, error) {
	tokens, err := Tokenize(formula, functions)
	if err != nil {
		return "", err
	}
	tokens = EnrichTokens(tokens, false)

	var b strings.Builder
	for i, tok := range tokens {
		if tok.Type != TokenSymbol || (i+1 < len(tokens) && tokens[i+1].Type == TokenLeftParen) {
			b.WriteString(tok.Value)
			continue
		}
		b.WriteString(rewriteSymbol(tok.Value, homeSheet, edit))
	}
	return b.String(), nil
}

// rewriteSymbol rewrites a reference or merged range symbol; any other
// symbol is returned as is
func rewriteSymbol(symbol string, homeSheet string, edit StructuralEdit) string {
	idx := rangeColon(symbol)
	if idx < 0 {
		prefix, xc, sheet := splitSheet(symbol, homeSheet)
		c, ok := parseCorner(xc)
		if !ok || sheet != edit.Sheet {
			return symbol
		}
		if coord := c.coordinate(edit.Dimension); coord != nil {
			moved, alive := edit.move(*coord)
			if !alive {
				return prefix + refFault
			}
			*coord = moved
		}
		return prefix + c.String()
	}

	leftPart, rightPart := symbol[:idx], symbol[idx+1:]
	leftPrefix, leftXC, sheet := splitSheet(strings.TrimSpace(leftPart), homeSheet)
	_, rightXC, _ := splitSheet(strings.TrimSpace(rightPart), sheet)
	top, okTop := parseCorner(leftXC)
	bottom, okBottom := parseCorner(rightXC)
	if !okTop || !okBottom || sheet != edit.Sheet {
		return symbol
	}

	// corners may be typed in any order
	first, last := top.coordinate(edit.Dimension), bottom.coordinate(edit.Dimension)
	if first != nil && last != nil && *first > *last {
		first, last = last, first
	}
	if first != nil {
		if moved, alive := edit.move(*first); alive {
			*first = moved
		} else {
			*first = edit.Pivot
		}
	}
	if last != nil {
		if moved, alive := edit.move(*last); alive {
			*last = moved
		} else {
			*last = edit.Pivot - 1
		}
	}
	if first != nil && last != nil && *first > *last {
		return leftPrefix + refFault
	}

	return replaceLast(leftPart, leftXC, top.String()) + ":" + replaceLast(rightPart, rightXC, bottom.String())
}

func replaceLast(s, old, replacement string) string {
	idx := strings.LastIndex(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + replacement + s[idx+len(old):]
}

// splitSheet splits Sheet!XC into its "Sheet!" prefix, the XC and the sheet
// the reference resolves to
func splitSheet(symbol string, defaultSheet string) (prefix string, xc string, sheet string) {
	idx := strings.LastIndexByte(symbol, charExclaim)
	if idx < 0 {
		return "", symbol, defaultSheet
	}
	return symbol[:idx+1], symbol[idx+1:], unquoteSheetName(symbol[:idx])
}

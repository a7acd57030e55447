package spreadsheet

import (
	"fmt"
	"iter"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// cellReferencePattern matches A1 style references with optional $ anchors
var cellReferencePattern = regexp.MustCompile(`^\$?([A-Za-z]{1,3})\$?([0-9]{1,7})$`)

// Zone is a rectangle of cells in 0-based indices. Top <= Bottom and
// Left <= Right always hold for zones built by this package.
type Zone struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

// ColumnName converts a 0-based column index to letters: 0 -> A, 25 -> Z,
// 26 -> AA
func ColumnName(col int) string {
	var buf []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		buf = append(buf, byte('A'+(n-1)%26))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ColumnIndex converts column letters to a 0-based index
func ColumnIndex(letters string) int {
	col := 0
	for _, ch := range strings.ToUpper(letters) {
		col = col*26 + int(ch-'A') + 1
	}
	return col - 1
}

// ToXC converts 0-based coordinates to an A1 style reference
func ToXC(col, row int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// ToCartesian converts an A1 style reference (anchors allowed) into 0-based
// column and row indices
func ToCartesian(xc string) (col int, row int, err error) {
	m := cellReferencePattern.FindStringSubmatch(xc)
	if m == nil {
		return 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid cell reference: %s", xc))
	}
	rowNum, err := strconv.Atoi(m[2])
	if err != nil || rowNum < 1 {
		return 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("row number must be positive: %s", xc))
	}
	return ColumnIndex(m[1]), rowNum - 1, nil
}

// isCellReference reports whether s has the shape of a cell reference
func isCellReference(s string) bool {
	return cellReferencePattern.MatchString(s)
}

// ZoneFromXC parses "A1" or "A1:B3" (corners in any order) into a Zone
func ZoneFromXC(xc string) (Zone, error) {
	parts := strings.Split(xc, ":")
	if len(parts) > 2 {
		return Zone{}, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid range format: %s", xc))
	}
	left, top, err := ToCartesian(strings.TrimSpace(parts[0]))
	if err != nil {
		return Zone{}, err
	}
	right, bottom := left, top
	if len(parts) == 2 {
		right, bottom, err = ToCartesian(strings.TrimSpace(parts[1]))
		if err != nil {
			return Zone{}, err
		}
	}
	return Zone{
		Top:    min(top, bottom),
		Left:   min(left, right),
		Bottom: max(top, bottom),
		Right:  max(left, right),
	}, nil
}

// XC renders the zone as "A1" for a single cell, "A1:B2" otherwise
func (z Zone) XC() string {
	topLeft := ToXC(z.Left, z.Top)
	if z.Top == z.Bottom && z.Left == z.Right {
		return topLeft
	}
	return topLeft + ":" + ToXC(z.Right, z.Bottom)
}

func (z Zone) String() string {
	return z.XC()
}

// Width returns the number of columns
func (z Zone) Width() int {
	return z.Right - z.Left + 1
}

// Height returns the number of rows
func (z Zone) Height() int {
	return z.Bottom - z.Top + 1
}

// Union returns the bounding rectangle of both zones
func (z Zone) Union(other Zone) Zone {
	return Zone{
		Top:    min(z.Top, other.Top),
		Left:   min(z.Left, other.Left),
		Bottom: max(z.Bottom, other.Bottom),
		Right:  max(z.Right, other.Right),
	}
}

// Overlap reports whether the zones share at least one cell
func (z Zone) Overlap(other Zone) bool {
	return z.Left <= other.Right && other.Left <= z.Right &&
		z.Top <= other.Bottom && other.Top <= z.Bottom
}

// Equal reports whether both zones cover the same cells
func (z Zone) Equal(other Zone) bool {
	return z == other
}

// Contains reports whether the cell at (col, row) is inside the zone
func (z Zone) Contains(col, row int) bool {
	return col >= z.Left && col <= z.Right && row >= z.Top && row <= z.Bottom
}

// Cells iterates over the zone column by column, which is the order of
// Matrix values
func (z Zone) Cells() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for col := z.Left; col <= z.Right; col++ {
			for row := z.Top; row <= z.Bottom; row++ {
				if !yield(col, row) {
					return
				}
			}
		}
	}
}

// rowRun is a maximal contiguous run of kept rows in one column
type rowRun struct {
	top    int
	bottom int
}

// CompactZones returns the minimal set of rectangles covering exactly the
// cells of keep that are not in remove. rows are bucketed per column, each
// column is reduced to contiguous row runs, and equal runs in adjacent
// columns are merged.
func CompactZones(keep []string, remove []string) ([]Zone, error) {
	const (
		marked  = 1
		removed = 2
	)
	columns := make(map[int]map[int]uint8)
	mark := func(xcs []string, flag uint8) error {
		for _, xc := range xcs {
			zone, err := ZoneFromXC(xc)
			if err != nil {
				return err
			}
			for col, row := range zone.Cells() {
				if columns[col] == nil {
					columns[col] = make(map[int]uint8)
				}
				columns[col][row] |= flag
			}
		}
		return nil
	}
	if err := mark(keep, marked); err != nil {
		return nil, err
	}
	if err := mark(remove, removed); err != nil {
		return nil, err
	}

	cols := make([]int, 0, len(columns))
	for col := range columns {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	var result []Zone
	// zones still growing to the right, keyed by their row run
	open := make(map[rowRun]int)
	previousCol := -2
	for _, col := range cols {
		runs := keptRuns(columns[col], marked)
		next := make(map[rowRun]int, len(runs))
		for _, run := range runs {
			if idx, ok := open[run]; ok && previousCol == col-1 {
				result[idx].Right = col
				next[run] = idx
				continue
			}
			result = append(result, Zone{Top: run.top, Left: col, Bottom: run.bottom, Right: col})
			next[run] = len(result) - 1
		}
		open = next
		previousCol = col
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Left != result[j].Left {
			return result[i].Left < result[j].Left
		}
		return result[i].Top < result[j].Top
	})
	return result, nil
}

// keptRuns returns the contiguous runs of rows whose flags are exactly keep
func keptRuns(rows map[int]uint8, keep uint8) []rowRun {
	kept := make([]int, 0, len(rows))
	for row, flags := range rows {
		if flags == keep {
			kept = append(kept, row)
		}
	}
	sort.Ints(kept)

	var runs []rowRun
	for _, row := range kept {
		if n := len(runs); n > 0 && runs[n-1].bottom == row-1 {
			runs[n-1].bottom = row
			continue
		}
		runs = append(runs, rowRun{top: row, bottom: row})
	}
	return runs
}

// ZonesXC renders zones as XC strings
func ZonesXC(zones []Zone) []string {
	out := make([]string, len(zones))
	for i, z := range zones {
		out[i] = z.XC()
	}
	return out
}

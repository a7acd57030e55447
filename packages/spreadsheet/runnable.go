package spreadsheet

import (
	"context"
	"fmt"
	"sort"
)

// RunnableSpreadsheet provides a chainable interface for
// spreadsheet operations. wraps the standard Spreadsheet and tracks
// errors internally
type RunnableSpreadsheet struct {
	spreadsheet *Spreadsheet
	err         error
	printLn     func(string)
}

// NewRunnableSpreadsheet creates a new RunnableSpreadsheet. printLn is used
// by Log and CheckError
func NewRunnableSpreadsheet(printLn func(string), opts ...Option) *RunnableSpreadsheet {
	return &RunnableSpreadsheet{
		spreadsheet: NewSpreadsheet(opts...),
		printLn:     printLn,
	}
}

// Set sets a cell value (chainable)
func (r *RunnableSpreadsheet) Set(address string, value Primitive) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}
	r.err = r.spreadsheet.Set(address, value)
	return r
}

// SetBatch sets multiple cells in address order (chainable)
func (r *RunnableSpreadsheet) SetBatch(cells map[string]Primitive) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	addresses := make([]string, 0, len(cells))
	for address := range cells {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	for _, address := range addresses {
		if r.err = r.spreadsheet.Set(address, cells[address]); r.err != nil {
			return r
		}
	}
	return r
}

// WithWorksheet ensures a worksheet exists before continuing (chainable)
func (r *RunnableSpreadsheet) WithWorksheet(name string) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	if !r.spreadsheet.DoesWorksheetExist(name) {
		r.err = r.spreadsheet.AddWorksheet(name)
	}
	return r
}

// Calculate recalculates the edited cells (chainable)
func (r *RunnableSpreadsheet) Calculate() *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.Calculate()
	return r
}

// Settle waits for pending asynchronous values (chainable)
func (r *RunnableSpreadsheet) Settle(ctx context.Context) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.Poll(ctx)
	return r
}

// Run calculates, waits for asynchronous values and returns the
// spreadsheet. typically the last method in the chain
func (r *RunnableSpreadsheet) Run(ctx context.Context) (*Spreadsheet, error) {
	r.Calculate().Settle(ctx)
	if r.err != nil {
		return nil, r.err
	}
	return r.spreadsheet, nil
}

// Error returns the current error state
func (r *RunnableSpreadsheet) Error() error {
	return r.err
}

// Spreadsheet returns the underlying spreadsheet. use with caution as it
// bypasses error tracking.
func (r *RunnableSpreadsheet) Spreadsheet() *Spreadsheet {
	return r.spreadsheet
}

// Value is a helper to get a single value from the chain
func (r *RunnableSpreadsheet) Value(address string) Primitive {
	if r.err != nil {
		return nil
	}
	val, err := r.spreadsheet.Get(address)
	if err != nil {
		r.err = err
		return nil
	}
	return val
}

// CheckError logs the current error using the printLn function (chainable)
func (r *RunnableSpreadsheet) CheckError() *RunnableSpreadsheet {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	}
	return r
}

// Log logs the value of a cell using the printLn function (chainable)
func (r *RunnableSpreadsheet) Log(address string) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	cell, err := r.spreadsheet.GetCell(address)
	if err != nil {
		r.err = err
		return r
	}
	switch {
	case cell == nil:
		r.printLn(fmt.Sprintf("%s: <empty>", address))
	case cell.Error != nil:
		r.printLn(fmt.Sprintf("%s: %s (%s)", address, cell.Error.Display(), cell.Error.Message))
	default:
		r.printLn(fmt.Sprintf("%s: %s", address, toString(cell.Value)))
	}
	return r
}

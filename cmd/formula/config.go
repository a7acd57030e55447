package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

const (
	defaultPollInterval = 5 * time.Millisecond
	defaultTimeout      = 5 * time.Second
)

// tomlWorkbook is a workbook fixture as it is encoded in TOML
type tomlWorkbook struct {
	Engine *tomlEngine  `toml:"engine"`
	Sheets []*tomlSheet `toml:"sheets"`
}

// tomlEngine holds engine options. durations are Go duration strings.
type tomlEngine struct {
	PollInterval string `toml:"poll-interval,omitempty"`
	Timeout      string `toml:"timeout,omitempty"`
}

type tomlSheet struct {
	Name  string                 `toml:"name"`
	Cells map[string]interface{} `toml:"cells,omitempty"`
}

// Workbook is a validated workbook fixture
type Workbook struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Sheets       []Sheet
}

// Sheet is one worksheet of a fixture, cells keyed by A1 address
type Sheet struct {
	Name  string
	Cells map[string]spreadsheet.Primitive
}

// LoadWorkbook reads and validates a workbook fixture
func LoadWorkbook(path string) (*Workbook, error) {
	buff, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading workbook %s", path)
	}
	wb, err := ParseWorkbook(buff)
	if err != nil {
		return nil, errors.Wrapf(err, "loading workbook %s", path)
	}
	return wb, nil
}

// ParseWorkbook decodes a TOML workbook
func ParseWorkbook(buff []byte) (*Workbook, error) {
	twb := &tomlWorkbook{}
	if err := toml.Unmarshal(buff, twb); err != nil {
		return nil, err
	}

	wb := &Workbook{PollInterval: defaultPollInterval, Timeout: defaultTimeout}
	if twb.Engine != nil {
		if err := parseDuration(twb.Engine.PollInterval, "poll-interval", &wb.PollInterval); err != nil {
			return nil, err
		}
		if err := parseDuration(twb.Engine.Timeout, "timeout", &wb.Timeout); err != nil {
			return nil, err
		}
	}

	if len(twb.Sheets) == 0 {
		return nil, spreadsheet.NewApplicationError(spreadsheet.InvalidArgument, "workbook defines no sheets")
	}
	seen := make(map[string]bool)
	for _, ts := range twb.Sheets {
		if ts.Name == "" {
			return nil, spreadsheet.NewApplicationError(spreadsheet.InvalidArgument, "sheet without a name")
		}
		if seen[ts.Name] {
			return nil, spreadsheet.NewApplicationError(spreadsheet.AlreadyExists, fmt.Sprintf("sheet %s is defined twice", ts.Name))
		}
		seen[ts.Name] = true

		sheet := Sheet{Name: ts.Name, Cells: make(map[string]spreadsheet.Primitive, len(ts.Cells))}
		for xc, value := range ts.Cells {
			if _, _, err := spreadsheet.ToCartesian(xc); err != nil {
				return nil, errors.Wrapf(err, "sheet %s", ts.Name)
			}
			sheet.Cells[xc] = value
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, nil
}

func parseDuration(value, key string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return errors.Wrapf(err, "engine %s", key)
	}
	if d <= 0 {
		return spreadsheet.NewApplicationError(spreadsheet.OutOfRange, fmt.Sprintf("engine %s must be positive", key))
	}
	*dst = d
	return nil
}

// Build creates every sheet, sets every cell, calculates and waits for the
// asynchronous values to settle
func (wb *Workbook) Build(ctx context.Context, logger *slog.Logger) (*spreadsheet.Spreadsheet, error) {
	ctx, cancel := context.WithTimeout(ctx, wb.Timeout)
	defer cancel()

	r := spreadsheet.NewRunnableSpreadsheet(func(string) {},
		spreadsheet.WithLogger(logger),
		spreadsheet.WithPollInterval(wb.PollInterval))
	for _, sheet := range wb.Sheets {
		r.WithWorksheet(sheet.Name)
	}
	for _, sheet := range wb.Sheets {
		cells := make(map[string]spreadsheet.Primitive, len(sheet.Cells))
		for xc, value := range sheet.Cells {
			cells[qualify(sheet.Name, xc)] = value
		}
		r.SetBatch(cells)
	}
	return r.Run(ctx)
}

// qualify prefixes an A1 address with its sheet, quoting names that need it
func qualify(sheet, xc string) string {
	for _, r := range sheet {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "'" + sheet + "'!" + xc
		}
	}
	return sheet + "!" + xc
}

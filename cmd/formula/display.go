package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

var (
	successColorFG = pterm.FgLightGreen
	successStyleBG = pterm.NewStyle(pterm.BgLightGreen, pterm.FgBlack)
	warnColorFG    = pterm.FgYellow
	warnStyleBG    = pterm.NewStyle(pterm.BgYellow, pterm.FgBlack)
	errorColorFG   = pterm.FgRed
	errorStyleBG   = pterm.NewStyle(pterm.BgRed, pterm.FgWhite)
)

// printError prints a tagged error
func printError(tag string, err error) {
	errorStyleBG.Print(tag)
	errorColorFG.Println(" " + err.Error())
}

func printWarning(tag, msg string) {
	warnStyleBG.Print(tag)
	warnColorFG.Println(" " + msg)
}

func printInfo(tag, msg string) {
	successStyleBG.Print(tag)
	successColorFG.Println(" " + msg)
}

// tokenRows lays out a token stream, one token per row
func tokenRows(tokens []spreadsheet.Token) pterm.TableData {
	data := pterm.TableData{{"#", "Type", "Value", "Start", "End", "Paren"}}
	for i, tok := range tokens {
		paren := ""
		if tok.ParenID != 0 {
			paren = strconv.Itoa(tok.ParenID)
		}
		data = append(data, []string{
			strconv.Itoa(i),
			tok.Type.String(),
			strconv.Quote(tok.Value),
			strconv.Itoa(tok.Start),
			strconv.Itoa(tok.End),
			paren,
		})
	}
	return data
}

// cellRows lays out the non-empty cells of a sheet in column-major order
func cellRows(s *spreadsheet.Spreadsheet, sheet string) (pterm.TableData, error) {
	worksheet, ok := s.GetWorksheet(sheet)
	if !ok {
		return nil, spreadsheet.NewApplicationError(spreadsheet.NotFound, fmt.Sprintf("Worksheet %s not found", sheet))
	}

	var cells []*spreadsheet.Cell
	for cell := range worksheet.Cells() {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Col != cells[j].Col {
			return cells[i].Col < cells[j].Col
		}
		return cells[i].Row < cells[j].Row
	})

	data := pterm.TableData{{"Cell", "Content", "Value", "State"}}
	for _, cell := range cells {
		xc := spreadsheet.ToXC(int(cell.Col), int(cell.Row))
		state, err := s.State(qualify(sheet, xc))
		if err != nil {
			return nil, err
		}
		data = append(data, []string{xc, cell.Content, formatValue(cell), state.String()})
	}
	return data, nil
}

// formatValue renders what a cell shows, with the message of a faulted cell
func formatValue(cell *spreadsheet.Cell) string {
	if cell.Error != nil {
		return errorColorFG.Sprint(cell.Error.Display()) + " " + cell.Error.Message
	}
	return formatPrimitive(cell.Value)
}

func formatPrimitive(v spreadsheet.Primitive) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return x
	}
	return fmt.Sprint(v)
}

func renderTable(data pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// showWorkbook prints one table per sheet
func showWorkbook(s *spreadsheet.Spreadsheet) error {
	for _, sheet := range s.ListWorksheets() {
		data, err := cellRows(s, sheet)
		if err != nil {
			return err
		}
		pterm.DefaultSection.Println(sheet)
		if len(data) == 1 {
			printWarning("EMPTY", "no cells")
			continue
		}
		if err := renderTable(data); err != nil {
			return err
		}
	}
	return nil
}

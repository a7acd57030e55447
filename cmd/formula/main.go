package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		printError("ERROR", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	debug   bool
	noColor bool
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.debug || os.Getenv("FORMULA_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	return spreadsheet.NewLogger(os.Stderr, level)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "formula",
		Short:         "Tokenize, parse and evaluate spreadsheet formulas",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				pterm.DisableColor()
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Log evaluation passes and ? markers (or set FORMULA_DEBUG=1)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newTokenizeCmd(),
		newParseCmd(),
		newEvalCmd(opts),
		newShowCmd(opts),
		newCompactCmd(),
		newShiftCmd(),
		newWatchCmd(opts),
	)
	return rootCmd
}

func newTokenizeCmd() *cobra.Command {
	var enrich bool
	cmd := &cobra.Command{
		Use:   "tokenize <formula>",
		Short: "Print the token stream of a formula",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := spreadsheet.Tokenize(args[0], spreadsheet.NewDefaultFunctionRegistry())
			if err != nil {
				return err
			}
			if enrich {
				tokens = spreadsheet.EnrichTokens(tokens, false)
			}
			return renderTable(tokenRows(tokens))
		},
	}
	cmd.Flags().BoolVar(&enrich, "enrich", true, "Merge ranges and number parentheses")
	return cmd
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <formula>",
		Short: "Parse a formula and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ast, err := spreadsheet.Parse(args[0], spreadsheet.NewDefaultFunctionRegistry())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "="+spreadsheet.Render(ast))
			return nil
		},
	}
}

func newEvalCmd(opts *globalOptions) *cobra.Command {
	var (
		workbook string
		sheet    string
	)
	cmd := &cobra.Command{
		Use:   "eval <formula>",
		Short: "Evaluate a formula, optionally against a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			wb := &Workbook{
				PollInterval: defaultPollInterval,
				Timeout:      defaultTimeout,
				Sheets:       []Sheet{{Name: "Sheet1"}},
			}
			if workbook != "" {
				loaded, err := LoadWorkbook(workbook)
				if err != nil {
					return err
				}
				wb = loaded
			}
			s, err := wb.Build(ctx, opts.logger())
			if err != nil {
				return err
			}
			if sheet == "" {
				sheet = wb.Sheets[0].Name
			}

			ctx, cancel := context.WithTimeout(ctx, wb.Timeout)
			defer cancel()
			value, err := s.EvaluateFormula(ctx, args[0], sheet)
			if err != nil {
				var se *spreadsheet.SpreadsheetError
				if errors.As(err, &se) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", se.Display(), se.Message)
					return nil
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatPrimitive(value))
			return nil
		},
	}
	cmd.Flags().StringVarP(&workbook, "workbook", "w", "", "TOML workbook to evaluate against")
	cmd.Flags().StringVarP(&sheet, "sheet", "s", "", "Sheet the formula is evaluated on (default: first sheet)")
	return cmd
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workbook.toml>",
		Short: "Calculate a workbook and print every cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := LoadWorkbook(args[0])
			if err != nil {
				return err
			}
			s, err := wb.Build(cmd.Context(), opts.logger())
			if err != nil {
				return err
			}
			return showWorkbook(s)
		},
	}
}

func newCompactCmd() *cobra.Command {
	var remove []string
	cmd := &cobra.Command{
		Use:   "compact <range>...",
		Short: "Merge ranges into the fewest rectangles covering the same cells",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zones, err := spreadsheet.CompactZones(args, remove)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(spreadsheet.ZonesXC(zones), " "))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&remove, "remove", "r", nil, "Ranges to subtract")
	return cmd
}

func newShiftCmd() *cobra.Command {
	var (
		sheet     string
		home      string
		dimension string
		at        int
		count     int
	)
	cmd := &cobra.Command{
		Use:   "shift <formula>",
		Short: "Rewrite the references of a formula for inserted (count > 0) or deleted (count < 0) rows or columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edit := spreadsheet.StructuralEdit{Sheet: sheet, Pivot: at, Step: count}
			switch dimension {
			case "row", "rows":
				edit.Dimension = spreadsheet.DimensionRow
			case "column", "columns", "col":
				edit.Dimension = spreadsheet.DimensionColumn
			default:
				return spreadsheet.NewApplicationError(spreadsheet.InvalidArgument, fmt.Sprintf("unknown dimension %q", dimension))
			}
			if count == 0 || at < 0 {
				return spreadsheet.NewApplicationError(spreadsheet.OutOfRange, "--at must be >= 0 and --count non-zero")
			}
			if home == "" {
				home = sheet
			}
			updated, err := spreadsheet.UpdateReferences(args[0], home, edit, spreadsheet.NewDefaultFunctionRegistry())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), updated)
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "Sheet1", "Sheet whose rows or columns change")
	cmd.Flags().StringVar(&home, "home", "", "Sheet the formula lives on (default: --sheet)")
	cmd.Flags().StringVarP(&dimension, "dimension", "d", "row", "row or column")
	cmd.Flags().IntVar(&at, "at", 0, "0-based index of the first inserted or deleted row or column")
	cmd.Flags().IntVar(&count, "count", 1, "How many to insert, negative to delete")
	return cmd
}

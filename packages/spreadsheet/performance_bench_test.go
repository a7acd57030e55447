package spreadsheet

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newBenchSpreadsheet(b *testing.B, sheets ...string) *Spreadsheet {
	b.Helper()
	s := NewSpreadsheet(WithPollInterval(time.Millisecond))
	for _, name := range append([]string{"Sheet1"}, sheets...) {
		if err := s.AddWorksheet(name); err != nil {
			b.Fatal(err)
		}
	}
	return s
}

func mustSet(b *testing.B, s *Spreadsheet, address string, value Primitive) {
	if err := s.Set(address, value); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkLargeCellPopulation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := newBenchSpreadsheet(b)
		for row := 1; row <= 100; row++ {
			for col := 0; col < 26; col++ {
				mustSet(b, s, fmt.Sprintf("Sheet1!%s%d", ColumnName(col), row), float64(row*col))
			}
		}
	}
}

func BenchmarkFillDownCompile(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := newBenchSpreadsheet(b)
		for row := 1; row <= 1000; row++ {
			mustSet(b, s, fmt.Sprintf("Sheet1!B%d", row), fmt.Sprintf("=SUM(A%d:A%d)*2+1", row, row+10))
		}
		if s.Compiler().Formulas().Count() != 1 {
			b.Fatalf("expected one shared shape, got %d", s.Compiler().Formulas().Count())
		}
	}
}

func BenchmarkFormulaDependencyChain(b *testing.B) {
	s := newBenchSpreadsheet(b)
	mustSet(b, s, "Sheet1!A1", 1.0)
	for i := 2; i <= 100; i++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EvaluateAll()
	}
}

func BenchmarkWideDependencyFanOut(b *testing.B) {
	s := newBenchSpreadsheet(b)
	mustSet(b, s, "Sheet1!A1", 100.0)
	for i := 2; i <= 500; i++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!B%d", i), "=A1*2")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mustSet(b, s, "Sheet1!A1", float64(i))
		_ = s.Calculate()
	}
}

func BenchmarkLargeRangeSUM(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for i := 1; i <= 1000; i++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", i), float64(i))
	}
	mustSet(b, s, "Sheet1!B1", "=SUM(A1:A1000)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EvaluateAll()
	}
}

func BenchmarkComplexNestedFormulas(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for i := 1; i <= 20; i++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", i), float64(i))
		mustSet(b, s, fmt.Sprintf("Sheet1!B%d", i), float64(i*2))
	}
	mustSet(b, s, "Sheet1!C1", "=IF(AVERAGE(A1:A20)>10, SUM(B1:B20), MAX(A1:A20))")
	mustSet(b, s, "Sheet1!D1", "=ROUND(SQRT(C1)*PI(), 2)")
	mustSet(b, s, "Sheet1!E1", "=IF(D1>100, MEDIAN(A1:A20), MIN(B1:B20))")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EvaluateAll()
	}
}

// an unrelated edit still recomputes every RAND cell and its readers
func BenchmarkVolatileFunctions(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for i := 1; i <= 50; i++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", i), "=RAND()")
		mustSet(b, s, fmt.Sprintf("Sheet1!B%d", i), fmt.Sprintf("=A%d*100", i))
	}
	_ = s.Calculate()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mustSet(b, s, "Sheet1!Z1", float64(i))
		_ = s.Calculate()
	}
}

func BenchmarkMultiWorksheetReferences(b *testing.B) {
	s := newBenchSpreadsheet(b, "Data", "Summary")
	for i := 1; i <= 100; i++ {
		mustSet(b, s, fmt.Sprintf("Data!A%d", i), float64(i))
	}
	mustSet(b, s, "Summary!A1", "=SUM(Data!A1:A100)")
	mustSet(b, s, "Summary!B1", "=AVERAGE(Data!A1:A100)")
	mustSet(b, s, "Summary!C1", "=MAX(Data!A1:A100)")
	mustSet(b, s, "Summary!D1", "=MIN(Data!A1:A100)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EvaluateAll()
	}
}

func BenchmarkCascadingUpdates(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for row := 1; row <= 50; row++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", row), float64(row))
		for col := 1; col < 10; col++ {
			formula := fmt.Sprintf("=%s%d*2", ColumnName(col-1), row)
			mustSet(b, s, fmt.Sprintf("Sheet1!%s%d", ColumnName(col), row), formula)
		}
	}
	_ = s.Calculate()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mustSet(b, s, "Sheet1!A1", float64(i%100))
		_ = s.Calculate()
	}
}

func BenchmarkSparseMatrix(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for row := 1; row <= 1000; row += 10 {
		for col := 0; col < 1000; col += 10 {
			mustSet(b, s, fmt.Sprintf("Sheet1!%s%d", ColumnName(col), row), float64(row+col))
		}
	}
	mustSet(b, s, "Sheet1!ZZ1", "=SUM(A1:ALL1000)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EvaluateAll()
	}
}

func BenchmarkCircularReferenceDetection(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := newBenchSpreadsheet(b)
		mustSet(b, s, "Sheet1!A1", "=B1+C1")
		mustSet(b, s, "Sheet1!B1", "=C1+D1")
		mustSet(b, s, "Sheet1!C1", "=D1+E1")
		mustSet(b, s, "Sheet1!D1", "=E1+F1")
		mustSet(b, s, "Sheet1!E1", "=F1+G1")
		mustSet(b, s, "Sheet1!F1", "=G1+H1")
		mustSet(b, s, "Sheet1!G1", "=H1+A1")
		mustSet(b, s, "Sheet1!H1", "=A1")
		_ = s.Calculate()
	}
}

func BenchmarkStringConcatenation(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for i := 1; i <= 100; i++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", i), fmt.Sprintf("text%d", i))
		mustSet(b, s, fmt.Sprintf("Sheet1!B%d", i), fmt.Sprintf(`=A%d&"-suffix"`, i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EvaluateAll()
	}
}

func BenchmarkConditionalAggregates(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for i := 1; i <= 500; i++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", i), float64(i))
		mustSet(b, s, fmt.Sprintf("Sheet1!B%d", i), fmt.Sprintf("item%d", i%7))
	}
	mustSet(b, s, "Sheet1!C1", `=COUNTIF(A1:A500, ">250")`)
	mustSet(b, s, "Sheet1!C2", `=SUMIF(B1:B500, "item3", A1:A500)`)
	mustSet(b, s, "Sheet1!C3", `=AVERAGEIF(B1:B500, "item*", A1:A500)`)
	mustSet(b, s, "Sheet1!C4", "=MEDIAN(A1:A500)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EvaluateAll()
	}
}

func BenchmarkDirtyPropagation(b *testing.B) {
	s := newBenchSpreadsheet(b)
	const grid = 20
	for row := 1; row <= grid; row++ {
		for col := 0; col < grid; col++ {
			addr := fmt.Sprintf("Sheet1!%s%d", ColumnName(col), row)
			switch {
			case row == 1 && col == 0:
				mustSet(b, s, addr, 1.0)
			case row == 1:
				mustSet(b, s, addr, fmt.Sprintf("=%s%d+1", ColumnName(col-1), row))
			case col == 0:
				mustSet(b, s, addr, fmt.Sprintf("=%s%d+1", ColumnName(col), row-1))
			default:
				mustSet(b, s, addr, fmt.Sprintf("=%s%d+%s%d", ColumnName(col-1), row, ColumnName(col), row-1))
			}
		}
	}
	_ = s.Calculate()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mustSet(b, s, "Sheet1!A1", float64(i%100))
		_ = s.Calculate()
	}
}

func BenchmarkInsertRows(b *testing.B) {
	s := newBenchSpreadsheet(b)
	for row := 1; row <= 500; row++ {
		mustSet(b, s, fmt.Sprintf("Sheet1!A%d", row), float64(row))
		mustSet(b, s, fmt.Sprintf("Sheet1!B%d", row), fmt.Sprintf("=A%d*2", row))
	}
	mustSet(b, s, "Sheet1!C1", "=SUM(B1:B500)")
	_ = s.Calculate()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.InsertRows("Sheet1", 10, 1); err != nil {
			b.Fatal(err)
		}
		if err := s.DeleteRows("Sheet1", 10, 1); err != nil {
			b.Fatal(err)
		}
		_ = s.Calculate()
	}
}

func BenchmarkCompactZones(b *testing.B) {
	ranges := make([]string, 0, 400)
	for col := 0; col < 20; col++ {
		for row := 1; row <= 20; row++ {
			ranges = append(ranges, fmt.Sprintf("%s%d", ColumnName(col), row))
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CompactZones(ranges, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAsyncSettle(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := newBenchSpreadsheet(b)
		for row := 1; row <= 50; row++ {
			mustSet(b, s, fmt.Sprintf("Sheet1!A%d", row), "=WAIT(1)")
			mustSet(b, s, fmt.Sprintf("Sheet1!B%d", row), fmt.Sprintf("=A%d+1", row))
		}
		_ = s.Calculate()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.Poll(ctx); err != nil {
			cancel()
			b.Fatal(err)
		}
		cancel()
	}
}

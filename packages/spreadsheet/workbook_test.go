package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// WorkbookTestCase drives a workbook through a chain of edits and checks.
// the first failing edit stops the chain.
type WorkbookTestCase struct {
	t        *testing.T
	name     string
	workbook *Workbook
	err      error
	skipped  bool
}

func NewWorkbookTestCase(t *testing.T, name string, opts ...WorkbookOption) *WorkbookTestCase {
	tc := &WorkbookTestCase{
		t:        t,
		name:     name,
		workbook: NewWorkbook(opts...),
	}
	return tc.AddSheet("Sheet1")
}

func (tc *WorkbookTestCase) Skip(reason string) *WorkbookTestCase {
	if !tc.skipped {
		tc.t.Skipf("%s: %s", tc.name, reason)
		tc.skipped = true
	}
	return tc
}

func (tc *WorkbookTestCase) do(op string, fn func(wb *Workbook) error) *WorkbookTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = fn(tc.workbook)
	if tc.err != nil {
		tc.t.Errorf("%s: %s failed: %v", tc.name, op, tc.err)
	}
	return tc
}

func (tc *WorkbookTestCase) AddSheet(name string) *WorkbookTestCase {
	return tc.do("AddSheet("+name+")", func(wb *Workbook) error { return wb.AddSheet(name) })
}

func (tc *WorkbookTestCase) RemoveSheet(name string) *WorkbookTestCase {
	return tc.do("RemoveSheet("+name+")", func(wb *Workbook) error { return wb.RemoveSheet(name) })
}

func (tc *WorkbookTestCase) Set(address string, value Primitive) *WorkbookTestCase {
	return tc.do("Set("+address+")", func(wb *Workbook) error { return wb.Set(address, value) })
}

func (tc *WorkbookTestCase) SetArray(address, formula string) *WorkbookTestCase {
	return tc.do("SetArray("+address+")", func(wb *Workbook) error { return wb.SetArray(address, formula) })
}

func (tc *WorkbookTestCase) SetName(name string, value Primitive) *WorkbookTestCase {
	return tc.do("SetName("+name+")", func(wb *Workbook) error { return wb.SetName(name, value) })
}

func (tc *WorkbookTestCase) Clear(address string) *WorkbookTestCase {
	return tc.do("Clear("+address+")", func(wb *Workbook) error { return wb.Clear(address) })
}

func (tc *WorkbookTestCase) DeleteRows(sheet string, index, count int) *WorkbookTestCase {
	return tc.do("DeleteRows", func(wb *Workbook) error { return wb.DeleteRows(sheet, index, count) })
}

func (tc *WorkbookTestCase) DeleteColumns(sheet string, index, count int) *WorkbookTestCase {
	return tc.do("DeleteColumns", func(wb *Workbook) error { return wb.DeleteColumns(sheet, index, count) })
}

// Recalculate forces a full pass
func (tc *WorkbookTestCase) Recalculate() *WorkbookTestCase {
	return tc.do("Recalculate", func(wb *Workbook) error {
		wb.Engine().CalculateSheet(true)
		return nil
	})
}

func (tc *WorkbookTestCase) get(address string) (CellValue, bool) {
	if tc.skipped || tc.err != nil {
		return CellValue{}, false
	}
	actual, err := tc.workbook.Get(address)
	if err != nil {
		tc.t.Errorf("%s: Get(%s) failed: %v", tc.name, address, err)
		return CellValue{}, false
	}
	return actual, true
}

// AssertCellEq compares a cell with expected. numbers match within 1e-10.
func (tc *WorkbookTestCase) AssertCellEq(address string, expected Primitive) *WorkbookTestCase {
	actual, ok := tc.get(address)
	if !ok {
		return tc
	}
	want := FromPrimitive(expected)
	if want.Type == CellTypeNumber && actual.Type == CellTypeNumber {
		if math.Abs(actual.Float()-want.Float()) > 1e-10 {
			tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, actual, want)
		}
		return tc
	}
	if !want.Equal(actual) {
		tc.t.Errorf("%s: Cell %s = %v (%s), want %v (%s)", tc.name, address, actual, actual.Type, want, want.Type)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertCellEmpty(address string) *WorkbookTestCase {
	actual, ok := tc.get(address)
	if ok && !actual.IsEmpty() {
		tc.t.Errorf("%s: Cell %s = %v (%s), want empty", tc.name, address, actual, actual.Type)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertCellErr(address string, code ErrorCode) *WorkbookTestCase {
	actual, ok := tc.get(address)
	if !ok {
		return tc
	}
	if actual.ErrorCode() != code {
		tc.t.Errorf("%s: Cell %s = %v, want error %v", tc.name, address, actual, code)
	}
	return tc
}

// AssertCellFn hands the cell to fn for checks the other assertions do
// not cover
func (tc *WorkbookTestCase) AssertCellFn(address string, fn func(t *testing.T, value CellValue)) *WorkbookTestCase {
	if actual, ok := tc.get(address); ok {
		fn(tc.t, actual)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertFormula(address, expected string) *WorkbookTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	actual, ok := tc.workbook.Formula(address)
	if !ok || actual != expected {
		tc.t.Errorf("%s: Formula(%s) = %q (%v), want %q", tc.name, address, actual, ok, expected)
	}
	return tc
}

// ExpectAppError runs fn and checks it fails with code
func (tc *WorkbookTestCase) ExpectAppError(code AppErrorCode, fn func(wb *Workbook) error) *WorkbookTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	err := fn(tc.workbook)
	if err == nil {
		tc.t.Errorf("%s: expected %v error, got none", tc.name, code)
		return tc
	}
	if got := CodeOf(err); got != code {
		tc.t.Errorf("%s: expected %v error, got %v (%v)", tc.name, code, got, err)
	}
	return tc
}

func (tc *WorkbookTestCase) Workbook() *Workbook {
	return tc.workbook
}

func (tc *WorkbookTestCase) End() {}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time {
	return c.at
}

func testLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestDependentRecalculates(t *testing.T) {
	NewWorkbookTestCase(t, "dependent follows precedent").
		Set("A1", 5).
		Set("B1", "=A1*2").
		AssertCellEq("B1", 10).
		Set("A1", 7).
		AssertCellEq("B1", 14).
		AssertFormula("B1", "=A1*2").
		End()
}

func TestChainRecalculates(t *testing.T) {
	NewWorkbookTestCase(t, "chain").
		Set("A1", 1).
		Set("A2", "=A1+1").
		Set("A3", "=A2+1").
		Set("A4", "=A3*A2").
		AssertCellEq("A4", 6).
		Set("A1", 10).
		AssertCellEq("A2", 11).
		AssertCellEq("A3", 12).
		AssertCellEq("A4", 132).
		End()
}

func TestFormulasInstalledBeforePrecedents(t *testing.T) {
	NewWorkbookTestCase(t, "dependent installed first").
		Set("C1", "=B1+1").
		Set("B1", "=A1*2").
		AssertCellEq("C1", 1).
		Set("A1", 4).
		AssertCellEq("B1", 8).
		AssertCellEq("C1", 9).
		End()
}

func TestCircularReferences(t *testing.T) {
	t.Run("TwoCycle", func(t *testing.T) {
		NewWorkbookTestCase(t, "two cycle").
			Set("A1", "=B1").
			Set("B1", "=A1").
			AssertCellErr("A1", ErrorCodeCircular).
			AssertCellErr("B1", ErrorCodeCircular).
			End()
	})

	t.Run("TwoCycleOtherOrder", func(t *testing.T) {
		NewWorkbookTestCase(t, "two cycle reversed").
			Set("B1", "=A1").
			Set("A1", "=B1").
			AssertCellErr("A1", ErrorCodeCircular).
			AssertCellErr("B1", ErrorCodeCircular).
			End()
	})

	t.Run("ThreeCycleAndDownstream", func(t *testing.T) {
		NewWorkbookTestCase(t, "three cycle").
			Set("A1", "=B1+1").
			Set("B1", "=C1+1").
			Set("C1", "=A1+1").
			Set("D1", "=A1+1").
			AssertCellErr("A1", ErrorCodeCircular).
			AssertCellErr("B1", ErrorCodeCircular).
			AssertCellErr("C1", ErrorCodeCircular).
			AssertCellErr("D1", ErrorCodeCircular).
			// breaking the cycle recovers every member
			Set("C1", 1).
			AssertCellEq("B1", 2).
			AssertCellEq("A1", 3).
			AssertCellEq("D1", 4).
			End()
	})

	t.Run("SelfReferencingRange", func(t *testing.T) {
		NewWorkbookTestCase(t, "self range").
			Set("A2", 1).
			Set("A1", "=SUM(A1:A3)").
			AssertCellErr("A1", ErrorCodeCircular).
			End()
	})

	t.Run("UntakenBranch", func(t *testing.T) {
		NewWorkbookTestCase(t, "if cycle").
			Set("A1", "=IF(FALSE, B1, 1)").
			Set("B1", "=A1").
			AssertCellErr("A1", ErrorCodeCircular).
			AssertCellErr("B1", ErrorCodeCircular).
			End()
	})

	t.Run("CycleThroughName", func(t *testing.T) {
		NewWorkbookTestCase(t, "name cycle").
			SetName("loop", "=A1+1").
			Set("A1", "=loop").
			AssertCellErr("A1", ErrorCodeCircular).
			End()
	})

	t.Run("LogsWarning", func(t *testing.T) {
		var logs strings.Builder
		wb := NewWorkbook(WithEngineOptions(WithLogger(testLogger(&logs))))
		require.NoError(t, wb.AddSheet("Sheet1"))
		require.NoError(t, wb.Set("A1", "=B1"))
		require.NoError(t, wb.Set("B1", "=A1"))
		assert.Contains(t, logs.String(), "circular reference")
	})
}

func TestRangeSumTreatsEmptyAsZero(t *testing.T) {
	NewWorkbookTestCase(t, "sum with a gap").
		Set("A1", 1).
		Set("A2", 2).
		Set("B1", "=SUM(A1:A3)").
		AssertCellEq("B1", 3).
		Set("A3", 4).
		AssertCellEq("B1", 7).
		Clear("A3").
		AssertCellEq("B1", 3).
		End()
}

func TestRemovingFormulaLeavesEmptyPrecedent(t *testing.T) {
	t.Run("Clear", func(t *testing.T) {
		NewWorkbookTestCase(t, "clear formula").
			Set("A1", "=1+1").
			Set("B1", "=A1*3").
			AssertCellEq("B1", 6).
			Clear("A1").
			AssertCellEmpty("A1").
			AssertCellEq("B1", 0).
			End()
	})

	t.Run("OverwriteWithValue", func(t *testing.T) {
		tc := NewWorkbookTestCase(t, "overwrite formula").
			Set("A1", "=1+1").
			Set("B1", "=A1*3").
			Set("A1", 4).
			AssertCellEq("B1", 12).
			AssertCellFn("A1", func(t *testing.T, v CellValue) {
				assert.Equal(t, CellTypeNumber, v.Type)
			})
		tc.End()
		_, isFormula := tc.Workbook().Formula("A1")
		assert.False(t, isFormula)
	})

	t.Run("BareReferenceToEmpty", func(t *testing.T) {
		NewWorkbookTestCase(t, "bare reference").
			Set("B1", "=A1").
			AssertCellEmpty("B1").
			Set("C1", "=A1&\"x\"").
			AssertCellEq("C1", "x").
			End()
	})
}

func TestFullRecalculationIsIdempotent(t *testing.T) {
	tc := NewWorkbookTestCase(t, "idempotent").
		Set("A1", 3).
		Set("A2", "=A1^2").
		Set("A3", "=SUM(A1:A2)").
		Set("B1", "=C1").
		Set("C1", "=B1").
		Set("D1", `=CONCATENATE("n=", A3)`)

	addresses := []string{"A1", "A2", "A3", "B1", "C1", "D1"}
	snapshot := func() []CellValue {
		values := make([]CellValue, len(addresses))
		for i, address := range addresses {
			values[i], _ = tc.Workbook().Get(address)
		}
		return values
	}

	tc.Recalculate()
	first := snapshot()
	tc.Recalculate()
	second := snapshot()
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "%s changed: %v then %v", addresses[i], first[i], second[i])
	}
	assert.Equal(t, "n=12", first[5].Str())
}

// sequence is a RandomGenerator returning 0.25, 0.5, 0.75, ...
type sequence struct {
	last float64
}

func (s *sequence) Float64() float64 {
	s.last += 0.25
	return s.last
}

func TestVolatileFormulas(t *testing.T) {
	rng := &sequence{}
	tc := NewWorkbookTestCase(t, "volatile", WithBuiltins(WithRandom(rng))).
		Set("A1", "=RAND()").
		AssertCellEq("A1", 0.25).
		Set("B1", "=A1*4").
		AssertCellEq("A1", 0.5).
		AssertCellEq("B1", 2)

	// a value without dependents starts no pass
	tc.Set("C1", 1).
		AssertCellEq("A1", 0.5).
		// any partial pass re-evaluates the volatile cell
		Set("C2", "=C1").
		AssertCellEq("A1", 0.75).
		AssertCellEq("B1", 3).
		Recalculate().
		AssertCellEq("A1", 1).
		AssertCellEq("B1", 4).
		End()

	vertex := tc.Workbook().Engine().Graph().GetVertex(0, 0, "Sheet1")
	require.NotNil(t, vertex)
	assert.True(t, vertex.Volatile)
}

func TestClockFunctions(t *testing.T) {
	clock := fixedClock{at: time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)}
	NewWorkbookTestCase(t, "clock", WithBuiltins(WithClock(clock))).
		Set("A1", "=TODAY()").
		Set("A2", "=NOW()").
		AssertCellEq("A1", 45306).
		AssertCellEq("A2", 45306.5).
		End()
}

func TestCrossSheetReferences(t *testing.T) {
	NewWorkbookTestCase(t, "cross sheet").
		AddSheet("Data").
		Set("Data!A1", 10).
		Set("B1", "=Data!A1*2").
		AssertCellEq("B1", 20).
		Set("Data!A1", 11).
		AssertCellEq("B1", 22).
		RemoveSheet("Data").
		AssertCellErr("B1", ErrorCodeRef).
		AddSheet("Data").
		AssertCellEq("B1", 0).
		Set("Data!A1", 7).
		AssertCellEq("B1", 14).
		End()
}

func TestReferenceToMissingSheet(t *testing.T) {
	NewWorkbookTestCase(t, "missing sheet").
		Set("A1", "=Later!B2+1").
		AssertCellErr("A1", ErrorCodeRef).
		AddSheet("Later").
		AssertCellEq("A1", 1).
		Set("Later!B2", 41).
		AssertCellEq("A1", 42).
		End()
}

func TestRemovedSheetDropsItsFormulas(t *testing.T) {
	tc := NewWorkbookTestCase(t, "formulas leave with the sheet").
		AddSheet("Data").
		Set("Data!A1", "=1+1").
		RemoveSheet("Data").
		AddSheet("Data").
		AssertCellEmpty("Data!A1")
	tc.End()
	assert.Zero(t, tc.Workbook().Engine().Graph().Len())
}

func TestRegionChangeNotification(t *testing.T) {
	wb := NewWorkbookTestCase(t, "region change").
		Set("A1", 1).
		Set("A2", 1).
		Set("A3", 2).
		Set("B1", "=SUM(A1:A3)").
		AssertCellEq("B1", 4).
		Workbook()
	ws, ok := wb.Sheet("Sheet1")
	require.True(t, ok)
	b1 := func() CellValue {
		v, err := wb.Get("B1")
		require.NoError(t, err)
		return v
	}

	// a write that bypasses notification leaves the formula stale
	ws.store(0, 0, Number(5))
	assert.True(t, Number(4).Equal(b1()))

	// a region away from the formula's inputs changes nothing
	wb.Engine().OnCellsChanged("Sheet1", nil, []Region{NewRegion(5, 0, 9, 0)})
	assert.True(t, Number(4).Equal(b1()))

	wb.Engine().OnCellsChanged("Sheet1", nil, []Region{NewRegion(0, 0, 2, 0)})
	assert.True(t, Number(8).Equal(b1()))
}

func TestArrayFormulas(t *testing.T) {
	NewWorkbookTestCase(t, "spread").
		Set("A1", 1).
		Set("B1", 2).
		SetArray("C1:D2", "=A1:B1").
		AssertCellEq("C1", 1).
		AssertCellEq("D1", 2).
		AssertCellErr("C2", ErrorCodeNA).
		AssertCellErr("D2", ErrorCodeNA).
		SetArray("E1:E2", "=5").
		AssertCellEq("E1", 5).
		AssertCellEq("E2", 5).
		Set("F1", "=D1*10").
		AssertCellEq("F1", 20).
		Set("B1", 9).
		AssertCellEq("D1", 9).
		AssertCellEq("F1", 90).
		AssertFormula("D2", "=A1:B1").
		End()
}

func TestArrayFormulaReplacedByCell(t *testing.T) {
	tc := NewWorkbookTestCase(t, "replace spread").
		Set("A1", 1).
		SetArray("B1:B3", "=A1").
		AssertCellEq("B3", 1).
		Set("B2", "=7").
		AssertCellEq("B2", 7).
		AssertCellEmpty("B1").
		AssertCellEmpty("B3")
	tc.End()
	assert.Equal(t, 1, tc.Workbook().Engine().Graph().Len())
}

func TestNamedFormulasAndVariables(t *testing.T) {
	tc := NewWorkbookTestCase(t, "names").
		Set("A1", 2).
		Set("A2", 3).
		SetName("total", "=SUM(A1:A2)").
		Set("B1", "=total*2").
		AssertCellEq("B1", 10).
		Set("A1", 4).
		AssertCellEq("B1", 14).
		SetName("rate", 0.5).
		Set("C1", "=rate*100").
		AssertCellEq("C1", 50).
		SetName("rate", 2).
		AssertCellEq("C1", 200).
		Set("D1", "=nope").
		AssertCellErr("D1", ErrorCodeName).
		SetName("nope", 3).
		AssertCellEq("D1", 3).
		ExpectAppError(AlreadyExists, func(wb *Workbook) error {
			return wb.Engine().SetVariable("total", Number(1))
		}).
		// a plain value replaces the named formula
		SetName("total", 1).
		AssertCellEq("B1", 2)
	tc.End()

	wb := tc.Workbook()
	assert.Nil(t, wb.Engine().Graph().GetNamedVertex("total"))
	assert.Equal(t, []string{"nope", "rate", "total"}, wb.GetVariableNames())
}

func TestRemovingNamedFormulaClearsVariable(t *testing.T) {
	wb := NewWorkbookTestCase(t, "remove name").
		SetName("answer", "=6*7").
		Set("A1", "=answer").
		AssertCellEq("A1", 42).
		Workbook()

	_, err := wb.Engine().RemoveNamedFormula("answer")
	require.NoError(t, err)
	assert.False(t, wb.VariableExists("answer"))
	got, err := wb.Get("A1")
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeName, got.ErrorCode())
}

func TestNamedFormulaBeforeAnySheet(t *testing.T) {
	tc := &WorkbookTestCase{t: t, name: "name before sheet", workbook: NewWorkbook()}
	tc.SetName("X", "=A1*3").
		AddSheet("Sheet1").
		Set("A1", 2).
		Set("B1", "=X").
		AssertCellEq("B1", 6).
		Set("A1", 4).
		AssertCellEq("B1", 12).
		End()
}

func TestNamedFormulaFollowsFirstSheet(t *testing.T) {
	tc := NewWorkbookTestCase(t, "name follows first sheet").
		AddSheet("Sheet2").
		SetName("X", "=A1*3").
		Set("Sheet1!A1", 2).
		Set("Sheet2!A1", 5).
		Set("Sheet2!B1", "=X").
		AssertCellEq("Sheet2!B1", 6).
		RemoveSheet("Sheet1").
		AssertCellEq("Sheet2!B1", 15).
		Set("Sheet2!A1", 7).
		AssertCellEq("Sheet2!B1", 21)
	tc.End()

	v := tc.Workbook().Engine().Graph().GetNamedVertex("X")
	require.NotNil(t, v)
	assert.Equal(t, "Sheet2", v.SheetName)
}

func TestFunctionSearch(t *testing.T) {
	wb := NewWorkbook()
	assert.Contains(t, wb.SearchForFunctions("su"), "SUM")
	assert.Equal(t, wb.SearchForFunctions("SU"), wb.SearchForFunctions("su"))
	assert.True(t, wb.FunctionExists("sum"))
	assert.Empty(t, wb.SearchForFunctions("zz"))
}

func TestEvaluateWithoutStoring(t *testing.T) {
	wb := NewWorkbookTestCase(t, "evaluate").
		Set("A1", 3).
		Set("B2", 4).
		Workbook()
	engine := wb.Engine()

	v := engine.Evaluate("=A1:B2", false)
	require.Equal(t, CellTypeReference, v.Type)
	assert.Equal(t, NewRegion(0, 0, 1, 1), v.Ref().Region())

	v = engine.Evaluate("=A1", false)
	require.Equal(t, CellTypeReference, v.Type)

	assert.True(t, Number(3).Equal(engine.Evaluate("=A1", true)))
	assert.True(t, Number(12).Equal(wb.Evaluate("=A1*B2")))

	arr := wb.Evaluate("=A1:B2")
	require.Equal(t, CellTypeArray, arr.Type)
	assert.Equal(t, "{3,;,4}", arr.String())

	assert.Zero(t, engine.Graph().Len())
}

func TestFormulaErrors(t *testing.T) {
	wb := NewWorkbookTestCase(t, "errors").
		Set("A1", "text").
		Workbook()

	tests := []struct {
		formula string
		want    ErrorCode
	}{
		{"=#N/A", ErrorCodeNA},
		{"=1/0", ErrorCodeDiv0},
		{"=FOO(1)", ErrorCodeName},
		{`="a"+1`, ErrorCodeValue},
		{"=SQRT(-1)", ErrorCodeNum},
		{"=ABS()", ErrorCodeNA},
		{"=ABS(1,2)", ErrorCodeNA},
		{"=A1*2", ErrorCodeValue},
		{"=unknownname", ErrorCodeName},
		{"=Missing!A1", ErrorCodeRef},
		{"=(1/0)+FOO()", ErrorCodeDiv0},
		{"=1+", ErrorCodeSyntax},
		{"=SUM(1,2", ErrorCodeSyntax},
		{"=A1:A2+1", ErrorCodeValue},
		{"=(-1)^0.5", ErrorCodeNum},
		{"=A1048577", ErrorCodeSyntax},
		{"=SUM(A1:XFE1)", ErrorCodeSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got := wb.Evaluate(tt.formula)
			assert.Equal(t, tt.want, got.ErrorCode(), "%s = %v", tt.formula, got)
		})
	}
}

func TestSyntaxErrorIsStoredAsValue(t *testing.T) {
	NewWorkbookTestCase(t, "syntax").
		Set("A1", "=1+").
		AssertCellErr("A1", ErrorCodeSyntax).
		Set("B1", "=A1").
		AssertCellErr("B1", ErrorCodeSyntax).
		AssertFormula("A1", "=1+").
		End()
}

func TestEvaluationPanicsBecomeNA(t *testing.T) {
	wb := NewWorkbook()
	require.NoError(t, wb.AddSheet("Sheet1"))
	wb.RegisterFunction("BOOM", &FunctionDefinition{
		MinArgs: 0,
		MaxArgs: 0,
		Call: func(*CallContext, []CellValue) CellValue {
			panic("kaboom")
		},
	})

	require.NoError(t, wb.Set("A1", "=BOOM()+1"))
	got, err := wb.Get("A1")
	require.NoError(t, err)
	require.Equal(t, ErrorCodeNA, got.ErrorCode())
	assert.Contains(t, got.Err().Message, "Error running formula")
}

func TestRestore(t *testing.T) {
	wb := NewWorkbookTestCase(t, "restore").
		Set("A1", 1).
		Set("B1", "=A1+1").
		Workbook()
	engine := wb.Engine()
	deps := engine.GetDependencies()

	rd, err := engine.SetFormula(0, 1, "Sheet1", Parse("=A1*10"))
	require.NoError(t, err)
	value, _ := wb.Get("B1")
	assert.True(t, Number(10).Equal(value))

	inverse, err := engine.Restore(rd)
	require.NoError(t, err)
	value, _ = wb.Get("B1")
	assert.True(t, Number(2).Equal(value))
	assert.Equal(t, deps, engine.GetDependencies())
	text, _ := wb.Formula("B1")
	assert.Equal(t, "=A1+1", text)

	_, err = engine.Restore(inverse)
	require.NoError(t, err)
	value, _ = wb.Get("B1")
	assert.True(t, Number(10).Equal(value))

	t.Run("NewFormulaIsRemoved", func(t *testing.T) {
		rd, err := engine.SetFormula(2, 2, "Sheet1", Parse("=5"))
		require.NoError(t, err)
		value, _ := wb.Get("C3")
		assert.True(t, Number(5).Equal(value))

		_, err = engine.Restore(rd)
		require.NoError(t, err)
		value, _ = wb.Get("C3")
		assert.True(t, value.IsEmpty())
		assert.Nil(t, engine.Graph().GetVertex(2, 2, "Sheet1"))
	})
}

func TestDeleteRowsMovesFormulas(t *testing.T) {
	tc := NewWorkbookTestCase(t, "delete rows").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		Set("C3", "=A3*10").
		Set("D1", "=1").
		AssertCellEq("C3", 30).
		DeleteRows("Sheet1", 0, 1).
		AssertCellEq("A1", 2).
		AssertCellEq("A2", 3).
		AssertCellEmpty("A3").
		// references are not rewritten, the formula still reads A3
		AssertFormula("C2", "=A3*10").
		AssertCellEq("C2", 0).
		AssertCellEmpty("C3").
		AssertCellEmpty("D1")
	tc.End()

	wb := tc.Workbook()
	_, stillThere := wb.Formula("D1")
	assert.False(t, stillThere)
	assert.Equal(t, 1, wb.Engine().Graph().Len())
}

func TestDeleteColumnsShrinksArrayFormula(t *testing.T) {
	tc := NewWorkbookTestCase(t, "delete columns").
		Set("A1", 5).
		SetArray("B1:D1", "=A1").
		AssertCellEq("D1", 5).
		DeleteColumns("Sheet1", 2, 1).
		AssertFormula("B1", "=A1").
		AssertFormula("C1", "=A1").
		AssertCellEq("C1", 5).
		AssertCellEmpty("D1")
	tc.End()

	v := tc.Workbook().Engine().Graph().GetVertex(0, 1, "Sheet1")
	require.NotNil(t, v)
	assert.Equal(t, NewRegion(0, 1, 0, 2), v.Region)
}

func TestShrinkSpan(t *testing.T) {
	tests := []struct {
		name   string
		region Region
		index  int
		count  int
		want   Region
		keep   bool
	}{
		{"Above", NewRegion(0, 0, 1, 0), 5, 2, NewRegion(0, 0, 1, 0), true},
		{"Below", NewRegion(8, 0, 9, 0), 5, 2, NewRegion(6, 0, 7, 0), true},
		{"Inside", NewRegion(5, 0, 6, 0), 5, 2, Region{}, false},
		{"Straddling", NewRegion(3, 0, 9, 0), 5, 2, NewRegion(3, 0, 7, 0), true},
		{"TailDeleted", NewRegion(3, 0, 5, 0), 5, 2, NewRegion(3, 0, 4, 0), true},
		{"HeadDeleted", NewRegion(6, 0, 9, 0), 5, 2, NewRegion(5, 0, 7, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := shrinkSpan(tt.region, tt.index, tt.count, true)
			assert.Equal(t, tt.keep, keep)
			if tt.keep {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestWorkbookContracts(t *testing.T) {
	NewWorkbookTestCase(t, "contracts").
		ExpectAppError(NotFound, func(wb *Workbook) error { return wb.Set("Nope!A1", 1) }).
		ExpectAppError(AlreadyExists, func(wb *Workbook) error { return wb.AddSheet("Sheet1") }).
		ExpectAppError(InvalidArgument, func(wb *Workbook) error { return wb.AddSheet("bad!name") }).
		ExpectAppError(InvalidArgument, func(wb *Workbook) error { return wb.AddSheet("") }).
		ExpectAppError(InvalidArgument, func(wb *Workbook) error { return wb.Set("A1:B2", 1) }).
		ExpectAppError(InvalidArgument, func(wb *Workbook) error { return wb.Set("not an address", 1) }).
		ExpectAppError(NotFound, func(wb *Workbook) error { return wb.RemoveSheet("Nope") }).
		ExpectAppError(NotFound, func(wb *Workbook) error { return wb.Engine().RemoveSheet("Nope") }).
		ExpectAppError(InvalidArgument, func(wb *Workbook) error { return wb.DeleteRows("Sheet1", -1, 1) }).
		ExpectAppError(InvalidArgument, func(wb *Workbook) error { return wb.DeleteColumns("Sheet1", 0, 0) }).
		ExpectAppError(OutOfRange, func(wb *Workbook) error {
			_, err := wb.Engine().SetFormula(MaxRows, 0, "Sheet1", Parse("=1"))
			return err
		}).
		End()

	empty := NewWorkbook()
	err := empty.Set("A1", 1)
	assert.Equal(t, FailedPrecondition, CodeOf(err))

	err = NewWorkbook().Set("Missing!A1", 1)
	assert.True(t, errors.Is(err, ErrSheetNotFound))
}

func TestMutationDuringRecalculation(t *testing.T) {
	wb := NewWorkbook()
	require.NoError(t, wb.AddSheet("Sheet1"))
	engine := wb.Engine()

	var (
		setErr, removeErr error
		calculating       bool
	)
	wb.RegisterFunction("MUTATE", &FunctionDefinition{
		MinArgs: 0,
		MaxArgs: 0,
		Call: func(*CallContext, []CellValue) CellValue {
			calculating = engine.IsCalculating()
			_, setErr = engine.SetFormula(5, 5, "Sheet1", Parse("=1"))
			removeErr = wb.RemoveSheet("Sheet1")
			// nested passes are ignored
			engine.CalculateSheet(true)
			return Number(1)
		},
	})

	require.NoError(t, wb.Set("A1", "=MUTATE()"))
	assert.True(t, calculating)
	assert.True(t, errors.Is(setErr, ErrCalculating))
	assert.Equal(t, FailedPrecondition, CodeOf(removeErr))
	assert.False(t, engine.IsCalculating())
	assert.Nil(t, engine.Graph().GetVertex(5, 5, "Sheet1"))

	got, err := wb.Get("A1")
	require.NoError(t, err)
	assert.True(t, Number(1).Equal(got))
}

func TestDependenciesIntrospection(t *testing.T) {
	wb := NewWorkbookTestCase(t, "dependencies").
		AddSheet("Data").
		Set("B1", "=SUM(A1:A3)+Data!C2").
		SetName("rate", "=Data!A1").
		Workbook()

	want := []Dependency{
		{Dependent: "Sheet1!B1", Precedent: "Sheet1!A1:A3"},
		{Dependent: "Sheet1!B1", Precedent: "Data!C2"},
		{Dependent: "rate", Precedent: "Data!A1"},
	}
	assert.Equal(t, want, wb.Engine().GetDependencies())
}

func TestRunnableWorkbook(t *testing.T) {
	var lines []string
	printLn := func(s string) { lines = append(lines, s) }

	wb, err := NewRunnableWorkbook(printLn).
		AddSheet("Sheet1").
		SetBatch(map[string]Primitive{
			"A1": 1,
			"A2": 2,
			"A3": "=SUM(A1:A2)",
		}).
		Log("A3").
		Log("B9").
		CheckError().
		Run()
	require.NoError(t, err)
	assert.Equal(t, []string{"A3: 3", "B9: <empty>", "No errors"}, lines)

	values, _ := wb.Get("A3")
	assert.True(t, Number(3).Equal(values))

	t.Run("FirstErrorWins", func(t *testing.T) {
		lines = nil
		r := NewRunnableWorkbook(printLn).
			AddSheet("Sheet1").
			Set("Nope!A1", 1).
			Set("A1", 5).
			CheckError()
		require.Error(t, r.Error())
		assert.Equal(t, NotFound, CodeOf(r.Error()))
		assert.True(t, r.Value("A1").IsEmpty())
		assert.Len(t, lines, 1)
		assert.True(t, strings.HasPrefix(lines[0], "ERROR: "))

		_, err := r.Run()
		assert.Error(t, err)
		assert.Panics(t, func() { r.Must() })

		r.OnError(func(error) error { return nil })
		assert.NoError(t, r.Error())
		assert.Equal(t, []CellValue{Empty()}, r.Set("A1", 5).Reset().Values("B1"))
	})

	t.Run("Conditional", func(t *testing.T) {
		r := NewRunnableWorkbook(printLn).
			WithSheet("Sheet1").
			WithSheet("Sheet1").
			If(false, func(r *RunnableWorkbook) *RunnableWorkbook { return r.Set("A1", 1) }).
			If(true, func(r *RunnableWorkbook) *RunnableWorkbook { return r.Set("A2", 2) }).
			Then(func(r *RunnableWorkbook) *RunnableWorkbook { return r.Set("A3", "=A1+A2") })
		values := r.Values("A1", "A2", "A3")
		require.NoError(t, r.Error())
		assert.True(t, values[0].IsEmpty())
		assert.True(t, Number(2).Equal(values[2]))
		assert.Equal(t, []string{"Sheet1"}, r.RunOrPanic().Sheets())
	})
}

func ExampleRunnableWorkbook() {
	NewRunnableWorkbook(func(s string) { fmt.Println(s) }).
		AddSheet("Sheet1").
		Set("A1", 5).
		Set("B1", "=A1*2").
		Log("B1").
		Set("A1", 7).
		Log("B1").
		CheckError()
	// Output:
	// B1: 10
	// B1: 14
	// No errors
}

package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContext(t *testing.T) {
	ctx := NewExecutionContext(2)
	assert.Equal(t, 2, ctx.MaxDepth)
	assert.Equal(t, DefaultMaxEvaluationDepth, NewExecutionContext(0).MaxDepth)

	a := &Vertex{ID: 1, Kind: VertexCell, SheetName: "Sheet1", Region: CellRegion(0, 0)}
	b := &Vertex{ID: 2, Kind: VertexRegion, SheetName: "Sheet1", Region: NewRegion(0, 1, 3, 1)}
	n := &Vertex{ID: 3, Kind: VertexNamed, Name: "rate"}
	ctx.BeginGroup([]*Vertex{a, b, n})

	assert.Equal(t, []*Vertex{b}, ctx.groupMembersIn("Sheet1", CellRegion(2, 1)))
	assert.Empty(t, ctx.groupMembersIn("Sheet2", CellRegion(0, 0)))
	assert.Same(t, n, ctx.groupMemberNamed("rate"))
	assert.Nil(t, ctx.groupMemberNamed("other"))

	require.True(t, ctx.Enter(a.ID))
	require.True(t, ctx.Enter(b.ID))
	assert.False(t, ctx.Enter(n.ID), "depth limit reached")
	assert.Equal(t, 2, ctx.Depth())
	assert.True(t, ctx.IsEntering(a.ID))

	ctx.Exit(b.ID)
	assert.False(t, ctx.IsEntering(b.ID))
	assert.Equal(t, 1, ctx.Depth())

	ctx.Remember(b.ID, Number(4))
	v, ok := ctx.Memo(b.ID)
	require.True(t, ok)
	assert.True(t, Number(4).Equal(v))
	assert.Equal(t, 1, ctx.Evaluated())

	ctx.MarkCircular()
	assert.True(t, ctx.Circular())
	ctx.ClearExecuting()
	assert.Zero(t, ctx.Depth())
	assert.False(t, ctx.IsEntering(a.ID))

	// a new group starts clean but keeps the pass memo
	ctx.BeginGroup([]*Vertex{a})
	assert.False(t, ctx.Circular())
	_, ok = ctx.Memo(b.ID)
	assert.True(t, ok)
}

func TestEvaluatorEvaluate(t *testing.T) {
	wb := NewWorkbook()
	require.NoError(t, wb.AddSheet("Sheet1"))
	require.NoError(t, wb.AddSheet("Other"))
	require.NoError(t, wb.Set("A1", 2))
	require.NoError(t, wb.Set("Other!A1", 40))

	ev := NewEvaluator(wb, nil)

	t.Run("NilFormula", func(t *testing.T) {
		assert.True(t, ev.Evaluate(nil, nil, EvaluationOptions{}).IsEmpty())
	})

	t.Run("UnqualifiedReferencesUseSheet", func(t *testing.T) {
		f := Parse("=A1+1")
		assert.True(t, Number(3).Equal(ev.Evaluate(f, nil, EvaluationOptions{Sheet: "Sheet1"})))
		assert.True(t, Number(41).Equal(ev.Evaluate(f, nil, EvaluationOptions{Sheet: "Other"})))
		assert.Equal(t, ErrorCodeRef, ev.Evaluate(f, nil, EvaluationOptions{Sheet: "Gone"}).ErrorCode())
	})

	t.Run("LiteralReferences", func(t *testing.T) {
		opts := EvaluationOptions{Sheet: "Sheet1", LiteralReferences: true}
		v := ev.Evaluate(Parse("=Other!A1"), nil, opts)
		require.Equal(t, CellTypeReference, v.Type)
		assert.Equal(t, "Other!A1", v.String())

		v = ev.Evaluate(Parse("=rate"), nil, opts)
		assert.Equal(t, CellTypeReference, v.Type)

		// only a bare reference is returned as is
		v = ev.Evaluate(Parse("=A1*2"), nil, opts)
		assert.True(t, Number(4).Equal(v))
	})

	t.Run("CircularMemberOfGroup", func(t *testing.T) {
		self := &Vertex{ID: 9, Kind: VertexCell, SheetName: "Sheet1", Region: CellRegion(5, 5), Formula: Parse("=F6+1")}
		ctx := NewExecutionContext(0)
		ctx.BeginGroup([]*Vertex{self})

		v := ev.EvaluateVertex(ctx, self)
		assert.Equal(t, ErrorCodeCircular, v.ErrorCode())
		assert.True(t, ctx.Circular())
		assert.Zero(t, ctx.Depth())

		// memoised for the rest of the pass
		memo, ok := ctx.Memo(self.ID)
		require.True(t, ok)
		assert.Equal(t, ErrorCodeCircular, memo.ErrorCode())
	})

	t.Run("DepthLimit", func(t *testing.T) {
		v := &Vertex{ID: 10, Kind: VertexCell, SheetName: "Sheet1", Region: CellRegion(7, 7), Formula: Parse("=1")}
		ctx := NewExecutionContext(1)
		require.True(t, ctx.Enter(99))
		got := ev.EvaluateVertex(ctx, v)
		assert.Equal(t, ErrorCodeCircular, got.ErrorCode())
		assert.True(t, ctx.Circular())
	})
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b CellValue
		want int
	}{
		{Number(1), Number(2), -1},
		{Number(2), Number(2), 0},
		{Text("B"), Text("a"), 1},
		{Number(100), Text("1"), -1},
		{Text("z"), Boolean(false), -1},
		{Boolean(true), Boolean(false), 1},
		{Empty(), Number(0), 0},
		{Empty(), Text(""), 0},
		{Empty(), Boolean(true), -1},
		{Empty(), Empty(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareValues(tt.a, tt.b), "%v vs %v", tt.a, tt.b)
	}
}

func TestCoercion(t *testing.T) {
	n, err := toNumber(Text(" 1e3 "))
	require.Nil(t, err)
	assert.Equal(t, 1000.0, n)

	_, err = toNumber(Text("abc"))
	require.NotNil(t, err)
	assert.Equal(t, ErrorCodeValue, err.Code)

	_, err = toNumber(Array([][]CellValue{{Number(1)}}))
	assert.NotNil(t, err)

	s, err := toText(Number(0.1))
	require.Nil(t, err)
	assert.Equal(t, "0.1", s)

	b, err := toBool(Text("true"))
	require.Nil(t, err)
	assert.True(t, b)

	b, err = toBool(Number(-2))
	require.Nil(t, err)
	assert.True(t, b)

	_, err = toBool(Text("yes"))
	assert.NotNil(t, err)
}

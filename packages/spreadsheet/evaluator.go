package spreadsheet

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// EvaluationOptions controls a single evaluation
type EvaluationOptions struct {
	// Sheet resolves references without a sheet qualifier
	Sheet string

	// LiteralReferences makes a formula that is a bare reference evaluate
	// to the reference itself instead of the referenced values
	LiteralReferences bool
}

// Evaluator walks formula trees. It holds no per-pass state; everything
// that lives for a pass is in the ExecutionContext.
type Evaluator struct {
	env    Environment
	logger *slog.Logger
}

func NewEvaluator(env Environment, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{env: env, logger: logger}
}

func circularValue() CellValue {
	return ErrorValue(ErrorCodeCircular, "Circular reference detected")
}

// EvaluateVertex evaluates v's formula as a member of ctx's current group.
// results are memoised for the rest of the pass.
func (e *Evaluator) EvaluateVertex(ctx *ExecutionContext, v *Vertex) CellValue {
	if val, ok := ctx.Memo(v.ID); ok {
		return val
	}
	if !ctx.Enter(v.ID) {
		ctx.MarkCircular()
		return ErrorValue(ErrorCodeCircular, "Maximum evaluation depth exceeded")
	}
	val := e.Evaluate(v.Formula, ctx, EvaluationOptions{Sheet: v.SheetName})
	ctx.Exit(v.ID)
	ctx.Remember(v.ID, val)
	return val
}

// Evaluate computes formula's value. It never panics: failures inside
// reference resolution or function calls become #N/A values.
func (e *Evaluator) Evaluate(formula *Formula, ctx *ExecutionContext, opts EvaluationOptions) (result CellValue) {
	if formula == nil || formula.Root == nil {
		return Empty()
	}
	if ctx == nil {
		ctx = NewExecutionContext(0)
	}

	defer func() {
		if r := recover(); r != nil {
			recordRecoveredPanic()
			e.logger.Warn("recovered panic during evaluation", "formula", formula.Text, "sheet", opts.Sheet, "panic", r)
			result = ErrorValue(ErrorCodeNA, fmt.Sprintf("Error running formula: %v", r))
		}
	}()

	s := &evalState{Evaluator: e, ctx: ctx, sheet: opts.Sheet}
	if opts.LiteralReferences {
		switch n := formula.Root.(type) {
		case *CellRefNode:
			return ReferenceValue(n.Ref)
		case *RangeNode:
			return ReferenceValue(n.Ref)
		case *NameNode:
			return ReferenceValue(n.Ref)
		}
	}
	return s.deref(s.eval(formula.Root))
}

// evalState is one evaluation of one formula
type evalState struct {
	*Evaluator
	ctx   *ExecutionContext
	sheet string
}

func (s *evalState) eval(node ASTNode) CellValue {
	switch n := node.(type) {
	case *NumberNode:
		return Number(n.Value)
	case *StringNode:
		return Text(n.Value)
	case *BooleanNode:
		return Boolean(n.Value)
	case *ErrorNode:
		return ErrorValue(n.Code, n.Message)
	case *CellRefNode:
		return s.reference(n.Ref)
	case *RangeNode:
		return s.reference(n.Ref)
	case *NameNode:
		return s.name(n.Ref.Name)
	case *UnaryOpNode:
		return s.unary(n)
	case *BinaryOpNode:
		return s.binary(n)
	case *FunctionCallNode:
		return s.call(n)
	}
	panic(fmt.Sprintf("unknown node type %T", node))
}

// reference qualifies ref with a sheet and settles any member of the
// current group it touches. the result is a reference value; deref reads
// it.
func (s *evalState) reference(ref Reference) CellValue {
	sheet := ref.SheetName()
	if sheet == "" {
		sheet = s.sheet
	}
	if !s.env.SheetExists(sheet) {
		return ErrorValue(ErrorCodeRef, fmt.Sprintf("Sheet %s does not exist", sheet))
	}

	region := ref.Region()
	for _, member := range s.ctx.groupMembersIn(sheet, region) {
		if blocked, val := s.settle(member); blocked {
			return val
		}
	}

	if region.IsSingleCell() {
		return ReferenceValue(NewCellReference(sheet, region.Top, region.Left))
	}
	return ReferenceValue(NewRangeReference(sheet, region))
}

// settle makes sure a group member read by the current formula has its
// value for this pass. a member that is still being entered closes a
// cycle.
func (s *evalState) settle(member *Vertex) (bool, CellValue) {
	if s.ctx.IsEntering(member.ID) {
		s.ctx.MarkCircular()
		return true, circularValue()
	}
	if _, done := s.ctx.Memo(member.ID); done {
		return false, CellValue{}
	}
	val := s.EvaluateVertex(s.ctx, member)
	if s.ctx.publish != nil {
		s.ctx.publish(member, val)
	}
	return false, CellValue{}
}

func (s *evalState) name(name string) CellValue {
	if member := s.ctx.groupMemberNamed(name); member != nil {
		if blocked, val := s.settle(member); blocked {
			return val
		}
	}
	if val, ok := s.env.GetVariable(name); ok {
		return val
	}
	return ErrorValue(ErrorCodeName, fmt.Sprintf("Unknown name: %s", name))
}

// deref turns a reference value into the value it addresses: the cell
// itself for single cells, an array otherwise
func (s *evalState) deref(v CellValue) CellValue {
	if v.Type != CellTypeReference {
		return v
	}
	ref := v.Ref()
	region := ref.Region()
	if region.IsSingleCell() {
		return s.env.GetCellValue(region.Top, region.Left, ref.SheetName())
	}
	return Array(s.env.GetRangeValues(ref))
}

// scalar derefs v and rejects arrays
func (s *evalState) scalar(node ASTNode) CellValue {
	v := s.deref(s.eval(node))
	if v.Type == CellTypeArray {
		return ErrorValue(ErrorCodeValue, "A range cannot be used as a single value")
	}
	return v
}

func (s *evalState) unary(n *UnaryOpNode) CellValue {
	operand := s.scalar(n.Operand)
	if operand.IsError() {
		return operand
	}
	num, err := toNumber(operand)
	if err != nil {
		return errorCell(err)
	}
	switch n.Op {
	case UnaryOpMinus:
		return Number(-num)
	case UnaryOpPercent:
		return Number(num / 100)
	}
	return Number(num)
}

func (s *evalState) binary(n *BinaryOpNode) CellValue {
	left := s.scalar(n.Left)
	right := s.scalar(n.Right)
	if left.IsError() {
		return left
	}
	if right.IsError() {
		return right
	}

	switch n.Op {
	case BinOpConcat:
		l, _ := toText(left)
		r, _ := toText(right)
		return Text(l + r)
	case BinOpEqual, BinOpNotEqual, BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		return compareOp(n.Op, compareValues(left, right))
	}

	l, err := toNumber(left)
	if err != nil {
		return errorCell(err)
	}
	r, err := toNumber(right)
	if err != nil {
		return errorCell(err)
	}

	var result float64
	switch n.Op {
	case BinOpAdd:
		result = l + r
	case BinOpSubtract:
		result = l - r
	case BinOpMultiply:
		result = l * r
	case BinOpDivide:
		if r == 0 {
			return ErrorValue(ErrorCodeDiv0, "Division by zero")
		}
		result = l / r
	case BinOpPower:
		return power(l, r)
	default:
		panic(fmt.Sprintf("unknown binary operator %d", n.Op))
	}
	return checkNumber(Number(result))
}

func compareOp(op BinaryOp, c int) CellValue {
	switch op {
	case BinOpEqual:
		return Boolean(c == 0)
	case BinOpNotEqual:
		return Boolean(c != 0)
	case BinOpLess:
		return Boolean(c < 0)
	case BinOpLessEqual:
		return Boolean(c <= 0)
	case BinOpGreater:
		return Boolean(c > 0)
	}
	return Boolean(c >= 0)
}

// typeRank orders values of different types: numbers < text < booleans
func typeRank(t CellType) int {
	switch t {
	case CellTypeNumber:
		return 0
	case CellTypeText:
		return 1
	}
	return 2
}

// compareValues orders two scalars. an empty operand takes the zero value
// of the other operand's type; text compares case-insensitively.
func compareValues(a, b CellValue) int {
	if a.IsEmpty() && b.IsEmpty() {
		return 0
	}
	if a.IsEmpty() {
		a = zeroValue(b.Type)
	}
	if b.IsEmpty() {
		b = zeroValue(a.Type)
	}
	if a.Type != b.Type {
		return cmp.Compare(typeRank(a.Type), typeRank(b.Type))
	}
	switch a.Type {
	case CellTypeNumber:
		return cmp.Compare(a.Float(), b.Float())
	case CellTypeText:
		fold := cases.Fold()
		return strings.Compare(fold.String(a.Str()), fold.String(b.Str()))
	case CellTypeBoolean:
		return cmp.Compare(boolRank(a.Bool()), boolRank(b.Bool()))
	}
	return 0
}

func zeroValue(t CellType) CellValue {
	switch t {
	case CellTypeText:
		return Text("")
	case CellTypeBoolean:
		return Boolean(false)
	}
	return Number(0)
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkNumber(v CellValue) CellValue {
	if v.Type == CellTypeNumber {
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrorValue(ErrorCodeNum, "Result is not a finite number")
		}
	}
	return v
}

func (s *evalState) call(n *FunctionCallNode) CellValue {
	def, ok := s.env.GetFunctionDefinition(n.Name)
	if !ok {
		return ErrorValue(ErrorCodeName, fmt.Sprintf("Unknown function: %s", n.Name))
	}
	if len(n.Args) < def.MinArgs || (def.MaxArgs >= 0 && len(n.Args) > def.MaxArgs) {
		return ErrorValue(ErrorCodeNA, fmt.Sprintf("Wrong number of arguments to %s", def.Name))
	}

	args := make([]CellValue, len(n.Args))
	for i, node := range n.Args {
		arg := s.eval(node)
		// single cells are passed by value, ranges by reference
		if arg.Type == CellTypeReference && arg.Ref().Region().IsSingleCell() {
			arg = s.deref(arg)
		}
		if arg.IsError() && !def.AcceptsErrors {
			return arg
		}
		args[i] = arg
	}

	call := &CallContext{Name: def.Name, values: s.env}
	return checkNumber(def.Call(call, args))
}

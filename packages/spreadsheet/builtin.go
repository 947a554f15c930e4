package spreadsheet

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// FunctionDefinition describes a callable spreadsheet function. MaxArgs of
// -1 means variadic.
type FunctionDefinition struct {
	Name        string
	MinArgs     int
	MaxArgs     int
	Volatile    bool
	Description string

	// AcceptsErrors lets error arguments reach Call instead of short
	// circuiting the call
	AcceptsErrors bool

	Call func(call *CallContext, args []CellValue) CellValue
}

// CallContext gives a function access to the cells behind its range
// arguments. Range arguments arrive as CellTypeReference values.
type CallContext struct {
	Name   string
	values ValueAccess
}

// Values yields the non-empty values behind a range argument, the elements
// of an array, or a scalar argument itself
func (call *CallContext) Values(arg CellValue) iter.Seq[CellValue] {
	switch arg.Type {
	case CellTypeReference:
		return call.values.GetNonEmptyInRange(arg.Ref())
	case CellTypeArray:
		return func(yield func(CellValue) bool) {
			for _, row := range arg.Rows() {
				for _, v := range row {
					if !v.IsEmpty() && !yield(v) {
						return
					}
				}
			}
		}
	}
	return func(yield func(CellValue) bool) {
		yield(arg)
	}
}

// Grid returns the rectangular block behind an argument, empty cells
// included
func (call *CallContext) Grid(arg CellValue) [][]CellValue {
	switch arg.Type {
	case CellTypeReference:
		return call.values.GetRangeValues(arg.Ref())
	case CellTypeArray:
		return arg.Rows()
	}
	return [][]CellValue{{arg}}
}

// isRange reports whether arg stands for more than one cell
func isRange(arg CellValue) bool {
	return arg.Type == CellTypeReference || arg.Type == CellTypeArray
}

func fail(code ErrorCode, format string, args ...any) CellValue {
	return ErrorValue(code, fmt.Sprintf(format, args...))
}

func errorCell(fe *FormulaError) CellValue {
	return CellValue{Type: CellTypeError, Value: fe}
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

// BuiltinOption configures the built-in function set
type BuiltinOption func(*BuiltInFunctions)

// WithClock replaces the wall clock used by NOW and TODAY
func WithClock(clock Clock) BuiltinOption {
	return func(bf *BuiltInFunctions) { bf.clock = clock }
}

// WithRandom replaces the random source used by RAND
func WithRandom(rng RandomGenerator) BuiltinOption {
	return func(bf *BuiltInFunctions) { bf.rng = rng }
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with default
// implementations
func NewDefaultBuiltInFunctions(opts ...BuiltinOption) *BuiltInFunctions {
	bf := &BuiltInFunctions{
		clock: &WallClock{},
		rng:   &DefaultRandomGenerator{},
	}
	for _, opt := range opts {
		opt(bf)
	}
	return bf
}

// RegisterBuiltins installs the built-in functions into registry
func RegisterBuiltins(registry FunctionRegistry, opts ...BuiltinOption) {
	bf := NewDefaultBuiltInFunctions(opts...)
	for _, def := range bf.Definitions() {
		// built-in arities are fixed and valid
		_ = registry.RegisterFunction(def.Name, def)
	}
}

// Definitions lists every built-in function
func (bf *BuiltInFunctions) Definitions() []*FunctionDefinition {
	return []*FunctionDefinition{
		{Name: "SUM", MinArgs: 1, MaxArgs: -1, Description: "Adds numbers", Call: bf.SUM},
		{Name: "AVERAGE", MinArgs: 1, MaxArgs: -1, Description: "Arithmetic mean of numbers", Call: bf.AVERAGE},
		{Name: "AVERAGEA", MinArgs: 1, MaxArgs: -1, Description: "Mean counting text as zero", Call: bf.AVERAGEA},
		{Name: "COUNT", MinArgs: 1, MaxArgs: -1, Description: "Counts numbers", Call: bf.COUNT},
		{Name: "COUNTA", MinArgs: 1, MaxArgs: -1, Description: "Counts non-empty values", Call: bf.COUNTA},
		{Name: "COUNTBLANK", MinArgs: 1, MaxArgs: 1, Description: "Counts empty cells in a range", Call: bf.COUNTBLANK},
		{Name: "MAX", MinArgs: 1, MaxArgs: -1, Description: "Largest number", Call: bf.MAX},
		{Name: "MIN", MinArgs: 1, MaxArgs: -1, Description: "Smallest number", Call: bf.MIN},
		{Name: "MEDIAN", MinArgs: 1, MaxArgs: -1, Description: "Median of numbers", Call: bf.MEDIAN},
		{Name: "MODE", MinArgs: 1, MaxArgs: -1, Description: "Most frequent number", Call: bf.MODE},
		{Name: "PRODUCT", MinArgs: 1, MaxArgs: -1, Description: "Multiplies numbers", Call: bf.PRODUCT},
		{Name: "IF", MinArgs: 2, MaxArgs: 3, AcceptsErrors: true, Description: "Chooses a value by condition", Call: bf.IF},
		{Name: "IFERROR", MinArgs: 2, MaxArgs: 2, AcceptsErrors: true, Description: "Replaces an error value", Call: bf.IFERROR},
		{Name: "ISERROR", MinArgs: 1, MaxArgs: 1, AcceptsErrors: true, Description: "Tests for an error value", Call: bf.ISERROR},
		{Name: "ISBLANK", MinArgs: 1, MaxArgs: 1, AcceptsErrors: true, Description: "Tests for an empty value", Call: bf.ISBLANK},
		{Name: "ISNUMBER", MinArgs: 1, MaxArgs: 1, AcceptsErrors: true, Description: "Tests for a number", Call: bf.ISNUMBER},
		{Name: "ISTEXT", MinArgs: 1, MaxArgs: 1, AcceptsErrors: true, Description: "Tests for text", Call: bf.ISTEXT},
		{Name: "AND", MinArgs: 1, MaxArgs: -1, Description: "TRUE if every argument is", Call: bf.AND},
		{Name: "OR", MinArgs: 1, MaxArgs: -1, Description: "TRUE if any argument is", Call: bf.OR},
		{Name: "NOT", MinArgs: 1, MaxArgs: 1, Description: "Negates a boolean", Call: bf.NOT},
		{Name: "CONCATENATE", MinArgs: 1, MaxArgs: -1, Description: "Joins text", Call: bf.CONCATENATE},
		{Name: "LEN", MinArgs: 1, MaxArgs: 1, Description: "Length of text", Call: bf.LEN},
		{Name: "UPPER", MinArgs: 1, MaxArgs: 1, Description: "Upper-cases text", Call: bf.UPPER},
		{Name: "LOWER", MinArgs: 1, MaxArgs: 1, Description: "Lower-cases text", Call: bf.LOWER},
		{Name: "TRIM", MinArgs: 1, MaxArgs: 1, Description: "Removes extra spaces", Call: bf.TRIM},
		{Name: "LEFT", MinArgs: 1, MaxArgs: 2, Description: "Leading characters of text", Call: bf.LEFT},
		{Name: "RIGHT", MinArgs: 1, MaxArgs: 2, Description: "Trailing characters of text", Call: bf.RIGHT},
		{Name: "ABS", MinArgs: 1, MaxArgs: 1, Description: "Absolute value", Call: bf.ABS},
		{Name: "ROUND", MinArgs: 1, MaxArgs: 2, Description: "Rounds to a number of digits", Call: bf.ROUND},
		{Name: "FLOOR", MinArgs: 1, MaxArgs: 2, Description: "Rounds down to a multiple", Call: bf.FLOOR},
		{Name: "CEILING", MinArgs: 1, MaxArgs: 2, Description: "Rounds up to a multiple", Call: bf.CEILING},
		{Name: "SQRT", MinArgs: 1, MaxArgs: 1, Description: "Square root", Call: bf.SQRT},
		{Name: "POWER", MinArgs: 2, MaxArgs: 2, Description: "Raises to a power", Call: bf.POWER},
		{Name: "MOD", MinArgs: 2, MaxArgs: 2, Description: "Remainder after division", Call: bf.MOD},
		{Name: "INT", MinArgs: 1, MaxArgs: 1, Description: "Rounds down to an integer", Call: bf.INT},
		{Name: "PI", MinArgs: 0, MaxArgs: 0, Description: "The constant pi", Call: bf.PI},
		{Name: "NOW", MinArgs: 0, MaxArgs: 0, Volatile: true, Description: "Current date and time serial", Call: bf.NOW},
		{Name: "TODAY", MinArgs: 0, MaxArgs: 0, Volatile: true, Description: "Current date serial", Call: bf.TODAY},
		{Name: "RAND", MinArgs: 0, MaxArgs: 0, Volatile: true, Description: "Random number in [0, 1)", Call: bf.RAND},
	}
}

// numbers collects numeric arguments the way the aggregate functions do:
// direct arguments are coerced, values inside ranges count only when they
// are numbers, and errors inside ranges propagate
func (call *CallContext) numbers(args []CellValue) ([]float64, *FormulaError) {
	var out []float64
	for _, arg := range args {
		if !isRange(arg) {
			num, err := toNumber(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, num)
			continue
		}
		for value := range call.Values(arg) {
			if fe := value.Err(); fe != nil {
				return nil, fe
			}
			if value.Type == CellTypeNumber {
				out = append(out, value.Float())
			}
		}
	}
	return out, nil
}

func (bf *BuiltInFunctions) SUM(call *CallContext, args []CellValue) CellValue {
	nums, err := call.numbers(args)
	if err != nil {
		return errorCell(err)
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(sum, 'g', 15, 64), 64)
	return Number(rounded)
}

func (bf *BuiltInFunctions) AVERAGE(call *CallContext, args []CellValue) CellValue {
	nums, err := call.numbers(args)
	if err != nil {
		return errorCell(err)
	}
	if len(nums) == 0 {
		return fail(ErrorCodeDiv0, "Division by zero")
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return Number(sum / float64(len(nums)))
}

func (bf *BuiltInFunctions) AVERAGEA(call *CallContext, args []CellValue) CellValue {
	sum := 0.0
	count := 0
	for _, arg := range args {
		for value := range call.Values(arg) {
			// AVERAGEA counts every non-empty value but only numbers and
			// booleans contribute to the sum
			switch value.Type {
			case CellTypeError:
				return value
			case CellTypeNumber:
				sum += value.Float()
				count++
			case CellTypeBoolean:
				if value.Bool() {
					sum++
				}
				count++
			case CellTypeText:
				count++
			}
		}
	}
	if count == 0 {
		return fail(ErrorCodeDiv0, "AVERAGEA has no values")
	}
	return Number(sum / float64(count))
}

func (bf *BuiltInFunctions) COUNT(call *CallContext, args []CellValue) CellValue {
	count := 0
	for _, arg := range args {
		// errors inside ranges are skipped, not propagated
		for value := range call.Values(arg) {
			if value.Type == CellTypeNumber {
				count++
			}
		}
	}
	return Number(float64(count))
}

func (bf *BuiltInFunctions) COUNTA(call *CallContext, args []CellValue) CellValue {
	count := 0
	for _, arg := range args {
		for value := range call.Values(arg) {
			if !value.IsEmpty() {
				count++
			}
		}
	}
	return Number(float64(count))
}

func (bf *BuiltInFunctions) COUNTBLANK(call *CallContext, args []CellValue) CellValue {
	count := 0
	for _, row := range call.Grid(args[0]) {
		for _, value := range row {
			if value.IsEmpty() || (value.Type == CellTypeText && value.Str() == "") {
				count++
			}
		}
	}
	return Number(float64(count))
}

func (bf *BuiltInFunctions) MAX(call *CallContext, args []CellValue) CellValue {
	nums, err := call.numbers(args)
	if err != nil {
		return errorCell(err)
	}
	if len(nums) == 0 {
		return Number(0)
	}
	return Number(slices.Max(nums))
}

func (bf *BuiltInFunctions) MIN(call *CallContext, args []CellValue) CellValue {
	nums, err := call.numbers(args)
	if err != nil {
		return errorCell(err)
	}
	if len(nums) == 0 {
		return Number(0)
	}
	return Number(slices.Min(nums))
}

func (bf *BuiltInFunctions) MEDIAN(call *CallContext, args []CellValue) CellValue {
	values, err := call.numbers(args)
	if err != nil {
		return errorCell(err)
	}
	if len(values) == 0 {
		return fail(ErrorCodeNum, "MEDIAN has no numeric values")
	}
	slices.Sort(values)

	mid := len(values) / 2
	if len(values)%2 == 0 {
		return Number((values[mid-1] + values[mid]) / 2)
	}
	return Number(values[mid])
}

func (bf *BuiltInFunctions) MODE(call *CallContext, args []CellValue) CellValue {
	values, err := call.numbers(args)
	if err != nil {
		return errorCell(err)
	}
	if len(values) == 0 {
		return fail(ErrorCodeNum, "MODE has no numeric values")
	}

	frequency := make(map[float64]int)
	maxFreq := 0
	for _, v := range values {
		frequency[v]++
		maxFreq = max(maxFreq, frequency[v])
	}
	if maxFreq == 1 {
		return fail(ErrorCodeNA, "MODE: no value appears more than once")
	}

	// the smallest of the most frequent values wins ties
	var modes []float64
	for value, freq := range frequency {
		if freq == maxFreq {
			modes = append(modes, value)
		}
	}
	return Number(slices.Min(modes))
}

func (bf *BuiltInFunctions) PRODUCT(call *CallContext, args []CellValue) CellValue {
	nums, err := call.numbers(args)
	if err != nil {
		return errorCell(err)
	}
	if len(nums) == 0 {
		return Number(0)
	}
	product := 1.0
	for _, n := range nums {
		product *= n
	}
	return Number(product)
}

// IF only propagates an error from the condition or the chosen branch
func (bf *BuiltInFunctions) IF(call *CallContext, args []CellValue) CellValue {
	if args[0].IsError() {
		return args[0]
	}
	condition, err := toBool(args[0])
	if err != nil {
		return errorCell(err)
	}
	if condition {
		return args[1]
	}
	if len(args) == 3 {
		return args[2]
	}
	return Boolean(false)
}

func (bf *BuiltInFunctions) IFERROR(call *CallContext, args []CellValue) CellValue {
	if args[0].IsError() {
		return args[1]
	}
	return args[0]
}

func (bf *BuiltInFunctions) ISERROR(call *CallContext, args []CellValue) CellValue {
	return Boolean(args[0].IsError())
}

func (bf *BuiltInFunctions) ISBLANK(call *CallContext, args []CellValue) CellValue {
	return Boolean(args[0].IsEmpty())
}

func (bf *BuiltInFunctions) ISNUMBER(call *CallContext, args []CellValue) CellValue {
	return Boolean(args[0].Type == CellTypeNumber)
}

func (bf *BuiltInFunctions) ISTEXT(call *CallContext, args []CellValue) CellValue {
	return Boolean(args[0].Type == CellTypeText)
}

// logical folds the boolean arguments of AND and OR. text inside ranges is
// ignored.
func (call *CallContext) logical(args []CellValue, fold func(acc, v bool) bool, initial bool) CellValue {
	acc := initial
	seen := false
	for _, arg := range args {
		for value := range call.Values(arg) {
			if value.IsError() {
				return value
			}
			if isRange(arg) && value.Type == CellTypeText {
				continue
			}
			b, err := toBool(value)
			if err != nil {
				return errorCell(err)
			}
			acc = fold(acc, b)
			seen = true
		}
	}
	if !seen {
		return fail(ErrorCodeValue, "%s has no logical values", call.Name)
	}
	return Boolean(acc)
}

func (bf *BuiltInFunctions) AND(call *CallContext, args []CellValue) CellValue {
	return call.logical(args, func(acc, v bool) bool { return acc && v }, true)
}

func (bf *BuiltInFunctions) OR(call *CallContext, args []CellValue) CellValue {
	return call.logical(args, func(acc, v bool) bool { return acc || v }, false)
}

func (bf *BuiltInFunctions) NOT(call *CallContext, args []CellValue) CellValue {
	b, err := toBool(args[0])
	if err != nil {
		return errorCell(err)
	}
	return Boolean(!b)
}

func (bf *BuiltInFunctions) CONCATENATE(call *CallContext, args []CellValue) CellValue {
	var result strings.Builder
	for _, arg := range args {
		s, err := toText(arg)
		if err != nil {
			return errorCell(err)
		}
		result.WriteString(s)
	}
	return Text(result.String())
}

// textFunc applies fn to the text form of a single argument
func textFunc(arg CellValue, fn func(string) CellValue) CellValue {
	s, err := toText(arg)
	if err != nil {
		return errorCell(err)
	}
	return fn(s)
}

func (bf *BuiltInFunctions) LEN(call *CallContext, args []CellValue) CellValue {
	return textFunc(args[0], func(s string) CellValue {
		return Number(float64(utf8.RuneCountInString(s)))
	})
}

func (bf *BuiltInFunctions) UPPER(call *CallContext, args []CellValue) CellValue {
	return textFunc(args[0], func(s string) CellValue { return Text(strings.ToUpper(s)) })
}

func (bf *BuiltInFunctions) LOWER(call *CallContext, args []CellValue) CellValue {
	return textFunc(args[0], func(s string) CellValue { return Text(strings.ToLower(s)) })
}

// TRIM also collapses runs of inner spaces
func (bf *BuiltInFunctions) TRIM(call *CallContext, args []CellValue) CellValue {
	return textFunc(args[0], func(s string) CellValue {
		return Text(strings.Join(strings.Fields(s), " "))
	})
}

// charCount reads the optional character count of LEFT and RIGHT
func charCount(args []CellValue) (int, *FormulaError) {
	if len(args) < 2 {
		return 1, nil
	}
	n, err := toNumber(args[1])
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &FormulaError{Code: ErrorCodeValue, Message: "character count must not be negative"}
	}
	return int(n), nil
}

func (bf *BuiltInFunctions) LEFT(call *CallContext, args []CellValue) CellValue {
	n, err := charCount(args)
	if err != nil {
		return errorCell(err)
	}
	return textFunc(args[0], func(s string) CellValue {
		runes := []rune(s)
		return Text(string(runes[:min(n, len(runes))]))
	})
}

func (bf *BuiltInFunctions) RIGHT(call *CallContext, args []CellValue) CellValue {
	n, err := charCount(args)
	if err != nil {
		return errorCell(err)
	}
	return textFunc(args[0], func(s string) CellValue {
		runes := []rune(s)
		return Text(string(runes[len(runes)-min(n, len(runes)):]))
	})
}

// mathFunc applies fn to a single numeric argument
func mathFunc(arg CellValue, fn func(float64) CellValue) CellValue {
	num, err := toNumber(arg)
	if err != nil {
		return errorCell(err)
	}
	return fn(num)
}

func (bf *BuiltInFunctions) ABS(call *CallContext, args []CellValue) CellValue {
	return mathFunc(args[0], func(n float64) CellValue { return Number(math.Abs(n)) })
}

func (bf *BuiltInFunctions) ROUND(call *CallContext, args []CellValue) CellValue {
	num, err := toNumber(args[0])
	if err != nil {
		return errorCell(err)
	}
	places := 0.0
	if len(args) == 2 {
		if places, err = toNumber(args[1]); err != nil {
			return errorCell(err)
		}
	}
	multiplier := math.Pow(10, math.Trunc(places))
	return Number(math.Round(num*multiplier) / multiplier)
}

// significance reads the optional multiple of FLOOR and CEILING
func significance(args []CellValue) (float64, *FormulaError) {
	if len(args) < 2 {
		return 1, nil
	}
	sig, err := toNumber(args[1])
	if err != nil {
		return 0, err
	}
	if sig == 0 {
		return 0, &FormulaError{Code: ErrorCodeDiv0, Message: "Division by zero"}
	}
	return sig, nil
}

func (bf *BuiltInFunctions) FLOOR(call *CallContext, args []CellValue) CellValue {
	sig, err := significance(args)
	if err != nil {
		return errorCell(err)
	}
	return mathFunc(args[0], func(n float64) CellValue { return Number(math.Floor(n/sig) * sig) })
}

func (bf *BuiltInFunctions) CEILING(call *CallContext, args []CellValue) CellValue {
	sig, err := significance(args)
	if err != nil {
		return errorCell(err)
	}
	return mathFunc(args[0], func(n float64) CellValue { return Number(math.Ceil(n/sig) * sig) })
}

func (bf *BuiltInFunctions) SQRT(call *CallContext, args []CellValue) CellValue {
	return mathFunc(args[0], func(n float64) CellValue {
		if n < 0 {
			return fail(ErrorCodeNum, "SQRT requires a non-negative argument")
		}
		return Number(math.Sqrt(n))
	})
}

func (bf *BuiltInFunctions) POWER(call *CallContext, args []CellValue) CellValue {
	base, err := toNumber(args[0])
	if err != nil {
		return errorCell(err)
	}
	exp, err := toNumber(args[1])
	if err != nil {
		return errorCell(err)
	}
	return power(base, exp)
}

func (bf *BuiltInFunctions) MOD(call *CallContext, args []CellValue) CellValue {
	dividend, err := toNumber(args[0])
	if err != nil {
		return errorCell(err)
	}
	divisor, err := toNumber(args[1])
	if err != nil {
		return errorCell(err)
	}
	if divisor == 0 {
		return fail(ErrorCodeDiv0, "Division by zero")
	}
	// the result takes the sign of the divisor
	m := math.Mod(dividend, divisor)
	if m != 0 && (m < 0) != (divisor < 0) {
		m += divisor
	}
	return Number(m)
}

func (bf *BuiltInFunctions) INT(call *CallContext, args []CellValue) CellValue {
	return mathFunc(args[0], func(n float64) CellValue { return Number(math.Floor(n)) })
}

func (bf *BuiltInFunctions) PI(call *CallContext, args []CellValue) CellValue {
	return Number(math.Pi)
}

// date serials count days since December 30, 1899 00:00:00 UTC
const (
	excelEpochMs = -2209161600000
	msPerDay     = 86400000
)

func (bf *BuiltInFunctions) NOW(call *CallContext, args []CellValue) CellValue {
	now := bf.clock.Now()
	return Number(float64(now.UnixMilli()-excelEpochMs) / msPerDay)
}

func (bf *BuiltInFunctions) TODAY(call *CallContext, args []CellValue) CellValue {
	now := bf.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Number(math.Floor(float64(midnight.UnixMilli()-excelEpochMs) / msPerDay))
}

func (bf *BuiltInFunctions) RAND(call *CallContext, args []CellValue) CellValue {
	return Number(bf.rng.Float64())
}

// power follows spreadsheet rules: 0^negative is #DIV/0!, results that
// are not real numbers are #NUM!
func power(base, exp float64) CellValue {
	if base == 0 && exp < 0 {
		return fail(ErrorCodeDiv0, "Division by zero")
	}
	result := math.Pow(base, exp)
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return fail(ErrorCodeNum, "%s^%s is not a real number", formatNumber(base), formatNumber(exp))
	}
	return Number(result)
}

// toNumber coerces a scalar to a number. text is trimmed and parsed,
// booleans are 1 or 0, empty is 0.
func toNumber(v CellValue) (float64, *FormulaError) {
	switch v.Type {
	case CellTypeNumber:
		return v.Float(), nil
	case CellTypeBoolean:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case CellTypeEmpty:
		return 0, nil
	case CellTypeText:
		if n, ok := parseNumberLiteral(strings.TrimSpace(v.Str())); ok {
			return n, nil
		}
		return 0, &FormulaError{Code: ErrorCodeValue, Message: fmt.Sprintf("cannot convert %q to a number", v.Str())}
	case CellTypeError:
		return 0, v.Err()
	}
	return 0, &FormulaError{Code: ErrorCodeValue, Message: fmt.Sprintf("cannot use %s as a number", v.Type)}
}

// toText coerces a scalar to text
func toText(v CellValue) (string, *FormulaError) {
	switch v.Type {
	case CellTypeText, CellTypeNumber, CellTypeBoolean, CellTypeEmpty:
		return v.String(), nil
	case CellTypeError:
		return "", v.Err()
	}
	return "", &FormulaError{Code: ErrorCodeValue, Message: fmt.Sprintf("cannot use %s as text", v.Type)}
}

// toBool coerces a scalar to a boolean. only TRUE and FALSE convert from
// text.
func toBool(v CellValue) (bool, *FormulaError) {
	switch v.Type {
	case CellTypeBoolean:
		return v.Bool(), nil
	case CellTypeNumber:
		return v.Float() != 0, nil
	case CellTypeEmpty:
		return false, nil
	case CellTypeText:
		switch strings.ToUpper(strings.TrimSpace(v.Str())) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
		return false, &FormulaError{Code: ErrorCodeValue, Message: fmt.Sprintf("cannot convert %q to a boolean", v.Str())}
	case CellTypeError:
		return false, v.Err()
	}
	return false, &FormulaError{Code: ErrorCodeValue, Message: fmt.Sprintf("cannot use %s as a boolean", v.Type)}
}

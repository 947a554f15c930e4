package spreadsheet

import (
	"math"
	"strconv"
	"strings"
)

// Primitive holds the payload of a CellValue.
// types:
//   - nil: empty cells
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - *FormulaError: error values (#DIV/0!, #VALUE!, etc.)
//   - [][]CellValue: arrays returned by range expressions and functions
//   - Reference: unresolved references (literal-reference evaluation only)
type Primitive any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull     ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0     ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue    ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef      ErrorCode = 4 // #REF! - invalid cell reference or removed sheet
	ErrorCodeName     ErrorCode = 5 // #NAME? - unrecognized function or variable name
	ErrorCodeNum      ErrorCode = 6 // #NUM! - numeric domain error
	ErrorCodeNA       ErrorCode = 7 // #N/A - not available, also host-side failures
	ErrorCodeCircular ErrorCode = 8 // #CIRCULAR! - formula is part of a reference cycle
	ErrorCodeSyntax   ErrorCode = 9 // #ERROR! - formula could not be parsed
)

// ErrorMapper maps error codes to their display strings
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:     "#NULL!",
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeName:     "#NAME?",
	ErrorCodeNum:      "#NUM!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeCircular: "#CIRCULAR!",
	ErrorCodeSyntax:   "#ERROR!",
}

func (c ErrorCode) String() string {
	if s, ok := ErrorMapper[c]; ok {
		return s
	}
	return "#UNKNOWN!"
}

// ParseErrorCode maps a display string such as "#DIV/0!" back to its code.
// matching is case-insensitive.
func ParseErrorCode(s string) (ErrorCode, bool) {
	upper := strings.ToUpper(s)
	for code, text := range ErrorMapper {
		if text == upper {
			return code, true
		}
	}
	return 0, false
}

// FormulaError is the payload of an error cell value
type FormulaError struct {
	Code    ErrorCode
	Message string
}

func (e *FormulaError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}

// CellType tags the variant held by a CellValue
type CellType uint8

const (
	CellTypeEmpty     CellType = 0
	CellTypeNumber    CellType = 1
	CellTypeText      CellType = 2
	CellTypeBoolean   CellType = 3
	CellTypeError     CellType = 4
	CellTypeArray     CellType = 5
	CellTypeReference CellType = 6
)

func (t CellType) String() string {
	switch t {
	case CellTypeEmpty:
		return "empty"
	case CellTypeNumber:
		return "number"
	case CellTypeText:
		return "text"
	case CellTypeBoolean:
		return "boolean"
	case CellTypeError:
		return "error"
	case CellTypeArray:
		return "array"
	case CellTypeReference:
		return "reference"
	}
	return "unknown"
}

// CellValue is a tagged evaluation result. The zero value is Empty.
type CellValue struct {
	Type  CellType
	Value Primitive
}

func Empty() CellValue { return CellValue{} }

func Number(f float64) CellValue { return CellValue{Type: CellTypeNumber, Value: f} }

func Text(s string) CellValue { return CellValue{Type: CellTypeText, Value: s} }

func Boolean(b bool) CellValue { return CellValue{Type: CellTypeBoolean, Value: b} }

// ErrorValue builds an error cell value. an empty message falls back to
// the code's display string.
func ErrorValue(code ErrorCode, message string) CellValue {
	return CellValue{Type: CellTypeError, Value: &FormulaError{Code: code, Message: message}}
}

// Array wraps a rectangular block of values. rows must all have the same
// length.
func Array(rows [][]CellValue) CellValue {
	return CellValue{Type: CellTypeArray, Value: rows}
}

func ReferenceValue(ref Reference) CellValue {
	return CellValue{Type: CellTypeReference, Value: ref}
}

// FromPrimitive converts a Go value into a cell value. ints are widened to
// float64, unknown types become #VALUE!.
func FromPrimitive(p Primitive) CellValue {
	switch v := p.(type) {
	case nil:
		return Empty()
	case CellValue:
		return v
	case float64:
		return Number(v)
	case float32:
		return Number(float64(v))
	case int:
		return Number(float64(v))
	case int32:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case uint32:
		return Number(float64(v))
	case string:
		return Text(v)
	case bool:
		return Boolean(v)
	case *FormulaError:
		return CellValue{Type: CellTypeError, Value: v}
	case [][]CellValue:
		return Array(v)
	}
	return ErrorValue(ErrorCodeValue, "unsupported value type")
}

func (v CellValue) IsEmpty() bool { return v.Type == CellTypeEmpty }

func (v CellValue) IsError() bool { return v.Type == CellTypeError }

// Err returns the error payload, or nil for non-error values
func (v CellValue) Err() *FormulaError {
	if v.Type != CellTypeError {
		return nil
	}
	fe, _ := v.Value.(*FormulaError)
	return fe
}

// ErrorCode returns the error code for error values and 0 otherwise
func (v CellValue) ErrorCode() ErrorCode {
	if fe := v.Err(); fe != nil {
		return fe.Code
	}
	return 0
}

func (v CellValue) Float() float64 {
	f, _ := v.Value.(float64)
	return f
}

func (v CellValue) Str() string {
	s, _ := v.Value.(string)
	return s
}

func (v CellValue) Bool() bool {
	b, _ := v.Value.(bool)
	return b
}

func (v CellValue) Rows() [][]CellValue {
	rows, _ := v.Value.([][]CellValue)
	return rows
}

func (v CellValue) Ref() Reference {
	ref, _ := v.Value.(Reference)
	return ref
}

// Equal compares type and payload. errors compare by code only, arrays
// element-wise.
func (v CellValue) Equal(other CellValue) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case CellTypeEmpty:
		return true
	case CellTypeNumber:
		a, b := v.Float(), other.Float()
		return a == b || (math.IsNaN(a) && math.IsNaN(b))
	case CellTypeText:
		return v.Str() == other.Str()
	case CellTypeBoolean:
		return v.Bool() == other.Bool()
	case CellTypeError:
		return v.ErrorCode() == other.ErrorCode()
	case CellTypeArray:
		a, b := v.Rows(), other.Rows()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if len(a[i]) != len(b[i]) {
				return false
			}
			for j := range a[i] {
				if !a[i][j].Equal(b[i][j]) {
					return false
				}
			}
		}
		return true
	case CellTypeReference:
		a, b := v.Ref(), other.Ref()
		return a != nil && b != nil && a.String() == b.String()
	}
	return false
}

// String renders the value the way a cell would display it
func (v CellValue) String() string {
	switch v.Type {
	case CellTypeEmpty:
		return ""
	case CellTypeNumber:
		return formatNumber(v.Float())
	case CellTypeText:
		return v.Str()
	case CellTypeBoolean:
		if v.Bool() {
			return "TRUE"
		}
		return "FALSE"
	case CellTypeError:
		return v.ErrorCode().String()
	case CellTypeArray:
		rows := v.Rows()
		var sb strings.Builder
		sb.WriteByte('{')
		for i, row := range rows {
			if i > 0 {
				sb.WriteByte(';')
			}
			for j, cell := range row {
				if j > 0 {
					sb.WriteByte(',')
				}
				sb.WriteString(cell.String())
			}
		}
		sb.WriteByte('}')
		return sb.String()
	case CellTypeReference:
		if ref := v.Ref(); ref != nil {
			return ref.String()
		}
	}
	return ""
}

func formatNumber(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e15 || abs < 1e-9) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

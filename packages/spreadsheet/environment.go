package spreadsheet

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// ValueAccess is the cell store the engine reads from and writes results
// back to. References passed in always carry a sheet name.
type ValueAccess interface {
	GetCellValue(row, col int, sheet string) CellValue
	SetCellValue(row, col int, sheet string, value CellValue)

	// GetRangeValues returns the rectangular block addressed by ref
	GetRangeValues(ref Reference) [][]CellValue

	// GetNonEmptyInRange yields the non-empty values addressed by ref in
	// row-major order. the sequence can be iterated more than once.
	GetNonEmptyInRange(ref Reference) iter.Seq[CellValue]

	SheetExists(name string) bool
}

// FunctionRegistry resolves function names. matching is case-insensitive.
type FunctionRegistry interface {
	RegisterFunction(name string, def *FunctionDefinition) error
	FunctionExists(name string) bool
	GetFunctionDefinition(name string) (*FunctionDefinition, bool)
	SearchForFunctions(prefix string) []string
}

// VariableRegistry stores workbook-level named values
type VariableRegistry interface {
	SetVariable(name string, value CellValue)
	GetVariable(name string) (CellValue, bool)
	VariableExists(name string) bool
	ClearVariable(name string)
	GetVariableNames() []string
}

// Environment is everything the engine needs from its host
type Environment interface {
	ValueAccess
	FunctionRegistry
	VariableRegistry
}

// foldName is the registry key for a function name
func foldName(name string) string {
	return cases.Fold().String(name)
}

// FunctionTable is a FunctionRegistry backed by a map keyed on the folded
// name
type FunctionTable struct {
	functions map[string]*FunctionDefinition
}

func NewFunctionTable() *FunctionTable {
	return &FunctionTable{functions: make(map[string]*FunctionDefinition)}
}

// RegisterFunction adds or replaces a copy of def under name, its Name
// upper-cased. def itself is left untouched. MaxArgs below zero means
// variadic; any other MaxArgs under MinArgs is rejected.
func (ft *FunctionTable) RegisterFunction(name string, def *FunctionDefinition) error {
	if name == "" || def == nil {
		return NewApplicationError(InvalidArgument, "function name and definition are required")
	}
	if def.MinArgs < 0 || (def.MaxArgs >= 0 && def.MaxArgs < def.MinArgs) {
		return NewApplicationError(InvalidArgument,
			fmt.Sprintf("function %s has inconsistent arity %d..%d", name, def.MinArgs, def.MaxArgs))
	}
	d := *def
	d.Name = strings.ToUpper(name)
	ft.functions[foldName(name)] = &d
	return nil
}

func (ft *FunctionTable) FunctionExists(name string) bool {
	_, ok := ft.functions[foldName(name)]
	return ok
}

func (ft *FunctionTable) GetFunctionDefinition(name string) (*FunctionDefinition, bool) {
	def, ok := ft.functions[foldName(name)]
	return def, ok
}

// SearchForFunctions returns the names starting with prefix, sorted
func (ft *FunctionTable) SearchForFunctions(prefix string) []string {
	folded := foldName(prefix)
	var names []string
	for key, def := range ft.functions {
		if strings.HasPrefix(key, folded) {
			names = append(names, def.Name)
		}
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered functions
func (ft *FunctionTable) Len() int {
	return len(ft.functions)
}

// VariableTable is a case-sensitive VariableRegistry
type VariableTable struct {
	values map[string]CellValue
}

func NewVariableTable() *VariableTable {
	return &VariableTable{values: make(map[string]CellValue)}
}

func (vt *VariableTable) SetVariable(name string, value CellValue) {
	vt.values[name] = value
}

func (vt *VariableTable) GetVariable(name string) (CellValue, bool) {
	v, ok := vt.values[name]
	return v, ok
}

func (vt *VariableTable) VariableExists(name string) bool {
	_, ok := vt.values[name]
	return ok
}

func (vt *VariableTable) ClearVariable(name string) {
	delete(vt.values, name)
}

// GetVariableNames returns every variable name, sorted
func (vt *VariableTable) GetVariableNames() []string {
	names := make([]string, 0, len(vt.values))
	for name := range vt.values {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

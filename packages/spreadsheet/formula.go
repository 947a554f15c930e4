package spreadsheet

import "strings"

// Formula is a parsed expression plus its source text. A Formula is
// immutable and owned by at most one vertex; replacing a cell's formula
// always builds a new one.
type Formula struct {
	Text       string
	Root       ASTNode
	References []Reference

	// SyntaxError is set when Text could not be parsed. Root is then an
	// ErrorNode that evaluates to the same error.
	SyntaxError *FormulaError
}

// IsFormula reports whether raw cell input should be treated as a formula
func IsFormula(s string) bool {
	return strings.HasPrefix(s, "=")
}

// Parse turns formula text into a Formula. It never fails: malformed input
// produces a Formula whose evaluation is a #ERROR! value.
func Parse(text string) *Formula {
	tokens, err := NewLexer(text).Tokenize()
	if err != nil {
		return syntaxErrorFormula(text, err)
	}

	root, err := NewParser(tokens, text).Parse()
	if err != nil {
		return syntaxErrorFormula(text, err)
	}

	return &Formula{
		Text:       text,
		Root:       root,
		References: collectReferences(root, nil),
	}
}

func syntaxErrorFormula(text string, err error) *Formula {
	fe := &FormulaError{Code: ErrorCodeSyntax, Message: err.Error()}
	return &Formula{
		Text:        text,
		Root:        &ErrorNode{Code: ErrorCodeSyntax, Message: fe.Message, Syntax: true, Position: NodePosition{End: len([]rune(text))}},
		SyntaxError: fe,
	}
}

// Valid reports whether the formula parsed
func (f *Formula) Valid() bool {
	return f != nil && f.SyntaxError == nil
}

// FunctionNames lists every function called by the formula, upper-cased
// and in source order, duplicates included
func (f *Formula) FunctionNames() []string {
	if f == nil || f.Root == nil {
		return nil
	}
	var names []string
	walk(f.Root, func(node ASTNode) {
		if call, ok := node.(*FunctionCallNode); ok {
			names = append(names, call.Name)
		}
	})
	return names
}

// collectReferences extracts every reference from the tree in source order
func collectReferences(node ASTNode, refs []Reference) []Reference {
	walk(node, func(n ASTNode) {
		switch r := n.(type) {
		case *CellRefNode:
			refs = append(refs, r.Ref)
		case *RangeNode:
			refs = append(refs, r.Ref)
		case *NameNode:
			refs = append(refs, r.Ref)
		}
	})
	return refs
}

// walk visits node and its descendants depth-first, left to right
func walk(node ASTNode, visit func(ASTNode)) {
	if node == nil {
		return
	}
	visit(node)
	switch n := node.(type) {
	case *BinaryOpNode:
		walk(n.Left, visit)
		walk(n.Right, visit)
	case *UnaryOpNode:
		walk(n.Operand, visit)
	case *FunctionCallNode:
		for _, arg := range n.Args {
			walk(arg, visit)
		}
	}
}

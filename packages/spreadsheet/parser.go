package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is one node of a parsed formula. Nodes are owned by exactly one
// Formula and never shared. Evaluation lives in the Evaluator so the tree
// stays a plain data structure.
type ASTNode interface {
	GetPosition() NodePosition
	ToString() string
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	runes  []rune
	pos    int
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) GetPosition() NodePosition { return n.Position }

func (n *StringNode) ToString() string {
	return `"` + strings.ReplaceAll(n.Value, `"`, `""`) + `"`
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) GetPosition() NodePosition { return n.Position }
func (n *NumberNode) ToString() string          { return formatNumber(n.Value) }

// BooleanNode represents TRUE or FALSE
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) GetPosition() NodePosition { return n.Position }

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorNode is an error literal such as #N/A. A Syntax node stands in for
// a formula that failed to parse.
type ErrorNode struct {
	Code     ErrorCode
	Message  string
	Syntax   bool
	Position NodePosition
}

func (n *ErrorNode) GetPosition() NodePosition { return n.Position }
func (n *ErrorNode) ToString() string          { return n.Code.String() }

// CellRefNode represents a single cell reference
type CellRefNode struct {
	Ref      *CellReference
	Position NodePosition
}

func (n *CellRefNode) GetPosition() NodePosition { return n.Position }
func (n *CellRefNode) ToString() string          { return n.Ref.String() }

// RangeNode represents a rectangular range reference
type RangeNode struct {
	Ref      *RangeReference
	Position NodePosition
}

func (n *RangeNode) GetPosition() NodePosition { return n.Position }
func (n *RangeNode) ToString() string          { return n.Ref.String() }

// NameNode represents a named value (variable or named formula)
type NameNode struct {
	Ref      *NamedReference
	Position NodePosition
}

func (n *NameNode) GetPosition() NodePosition { return n.Position }
func (n *NameNode) ToString() string          { return n.Ref.Name }

// BinaryOpNode represents binary operations
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

func (n *BinaryOpNode) GetPosition() NodePosition { return n.Position }

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), n.Op, n.Right.ToString())
}

// UnaryOpNode represents unary operations
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) GetPosition() NodePosition { return n.Position }

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpMinus:
		return "-" + n.Operand.ToString()
	case UnaryOpPercent:
		return n.Operand.ToString() + "%"
	}
	return "+" + n.Operand.ToString()
}

// FunctionCallNode represents a function call. Name is upper-cased.
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) GetPosition() NodePosition { return n.Position }

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

func syntaxError(format string, args ...any) error {
	return &FormulaError{Code: ErrorCodeSyntax, Message: fmt.Sprintf(format, args...)}
}

// NewParser creates a parser over tokens produced from input
func NewParser(tokens []Token, input string) *Parser {
	return &Parser{tokens: tokens, runes: []rune(input)}
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF, Pos: len(p.runes)}
	}
	return p.tokens[p.pos]
}

func (p *Parser) span(tok Token) NodePosition {
	return NodePosition{Start: tok.Pos, End: tok.End(p.runes)}
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, error) {
	if len(p.tokens) == 0 {
		return nil, syntaxError("no tokens to parse")
	}

	if p.peek().Type == TokenEquals {
		p.pos++
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, syntaxError("unexpected token after expression: %s", tok.Value)
	}

	return node, nil
}

func binaryNode(op BinaryOp, left, right ASTNode) *BinaryOpNode {
	return &BinaryOpNode{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
	}
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}

		var op BinaryOp
		switch tok.Value {
		case "=":
			op = BinOpEqual
		case "<>":
			op = BinOpNotEqual
		case "<":
			op = BinOpLess
		case "<=":
			op = BinOpLessEqual
		case ">":
			op = BinOpGreater
		case ">=":
			op = BinOpGreaterEqual
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = binaryNode(op, left, right)
	}
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp || tok.Value != "&" {
			return left, nil
		}

		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = binaryNode(BinOpConcat, left, right)
	}
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}

		var op BinaryOp
		switch tok.Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = binaryNode(op, left, right)
	}
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (ASTNode, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}

		var op BinaryOp
		switch tok.Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = binaryNode(op, left, right)
	}
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if tok := p.peek(); tok.Type == TokenBinaryOp && tok.Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return binaryNode(BinOpPower, left, right), nil
	}

	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (ASTNode, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}

	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}

	p.pos++
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (ASTNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenUnaryPostfixOp {
		tok := p.peek()
		p.pos++
		node = &UnaryOpNode{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: NodePosition{Start: node.GetPosition().Start, End: tok.Pos + 1},
		}
	}

	return node, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (ASTNode, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, syntaxError("invalid number: %s", tok.Value)
		}
		return &NumberNode{Value: val, Position: p.span(tok)}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value, Position: p.span(tok)}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: tok.Value == "TRUE", Position: p.span(tok)}, nil

	case TokenErrorLiteral:
		p.pos++
		code, _ := ParseErrorCode(tok.Value)
		return &ErrorNode{Code: code, Position: p.span(tok)}, nil

	case TokenCell:
		p.pos++
		ref, err := cellReferenceFromToken(tok, p.span(tok))
		if err != nil {
			return nil, err
		}
		return &CellRefNode{Ref: ref, Position: ref.Position}, nil

	case TokenRange:
		p.pos++
		ref, err := rangeReferenceFromToken(tok, p.span(tok))
		if err != nil {
			return nil, err
		}
		return &RangeNode{Ref: ref, Position: ref.Position}, nil

	case TokenIdentifier:
		p.pos++
		pos := p.span(tok)
		return &NameNode{Ref: &NamedReference{Name: tok.Value, Position: pos}, Position: pos}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRightParen {
			return nil, syntaxError("expected closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, syntaxError("unexpected end of expression")
	}

	return nil, syntaxError("unexpected token: %s", tok.Value)
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.peek()
	p.pos++

	if p.peek().Type != TokenLeftParen {
		return nil, syntaxError("expected '(' after function name")
	}
	p.pos++

	args := []ASTNode{}
	if p.peek().Type == TokenRightParen {
		end := p.peek().Pos + 1
		p.pos++
		return &FunctionCallNode{
			Name:     funcTok.Value,
			Args:     args,
			Position: NodePosition{Start: funcTok.Pos, End: end},
		}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.peek()
		if tok.Type == TokenRightParen {
			p.pos++
			return &FunctionCallNode{
				Name:     funcTok.Value,
				Args:     args,
				Position: NodePosition{Start: funcTok.Pos, End: tok.Pos + 1},
			}, nil
		}
		if tok.Type != TokenComma {
			return nil, syntaxError("expected ',' or ')' in function arguments")
		}
		p.pos++
	}
}

func cellReferenceFromToken(tok Token, pos NodePosition) (*CellReference, error) {
	ref, err := parseAnchoredCell(tok.Value)
	if err != nil {
		return nil, err
	}
	ref.Sheet = tok.Sheet
	ref.Position = pos
	return ref, nil
}

func rangeReferenceFromToken(tok Token, pos NodePosition) (*RangeReference, error) {
	parts := strings.Split(tok.Value, ":")
	if len(parts) != 2 {
		return nil, syntaxError("invalid range format: %s", tok.Value)
	}
	start, err := parseAnchoredCell(parts[0])
	if err != nil {
		return nil, err
	}
	end, err := parseAnchoredCell(parts[1])
	if err != nil {
		return nil, err
	}
	return &RangeReference{Sheet: tok.Sheet, Start: *start, End: *end, Position: pos}, nil
}

// parseAnchoredCell parses "A1", "$A1", "A$1" or "$A$1"
func parseAnchoredCell(s string) (*CellReference, error) {
	ref := &CellReference{}
	if strings.HasPrefix(s, "$") {
		ref.ColAbsolute = true
	}
	if i := strings.LastIndex(s, "$"); i > 0 {
		ref.RowAbsolute = true
	}
	row, col, err := ParseCellName(s)
	if err != nil {
		return nil, syntaxError("%v", err)
	}
	ref.Row, ref.Col = row, col
	return ref, nil
}

// ParseReference parses a cell or range address such as "B2",
// "Sheet2!A1:C3" or "'My Sheet'!$A$1"
func ParseReference(input string) (Reference, error) {
	runes := []rune(input)
	tokens, err := NewLexerForReference(input).Tokenize()
	if err != nil {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid reference %q: %v", input, err))
	}
	// exactly one reference token followed by EOF
	if len(tokens) != 2 {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid reference %q", input))
	}

	tok := tokens[0]
	pos := NodePosition{Start: tok.Pos, End: tok.End(runes)}
	switch tok.Type {
	case TokenCell:
		ref, err := cellReferenceFromToken(tok, pos)
		if err != nil {
			return nil, NewApplicationError(InvalidArgument, err.Error())
		}
		return ref, nil
	case TokenRange:
		ref, err := rangeReferenceFromToken(tok, pos)
		if err != nil {
			return nil, NewApplicationError(InvalidArgument, err.Error())
		}
		return ref, nil
	}
	return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid reference %q", input))
}

// ParseLiteral interprets raw cell input that is not a formula. numbers
// and booleans are recognised, error literals map to their codes and
// anything else is text.
func ParseLiteral(input string) CellValue {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Empty()
	}
	if n, ok := parseNumberLiteral(trimmed); ok {
		return Number(n)
	}
	if tokens, err := NewLexerForBoolean(trimmed).Tokenize(); err == nil && len(tokens) == 2 {
		return Boolean(tokens[0].Value == "TRUE")
	}
	if code, ok := ParseErrorCode(trimmed); ok {
		return ErrorValue(code, "")
	}
	return Text(input)
}

func parseNumberLiteral(input string) (float64, bool) {
	tokens, err := NewLexerForNumber(input).Tokenize()
	if err != nil {
		return 0, false
	}

	sign := 1.0
	i := 0
	if tokens[0].Type == TokenUnaryPrefixOp {
		if tokens[0].Value == "-" {
			sign = -1
		}
		i++
	}
	// a single number followed by EOF
	if i+2 != len(tokens) || tokens[i].Type != TokenNumber {
		return 0, false
	}
	n, err := strconv.ParseFloat(tokens[i].Value, 64)
	if err != nil {
		return 0, false
	}
	return sign * n, true
}

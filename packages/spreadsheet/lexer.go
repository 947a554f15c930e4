package spreadsheet

import (
	"fmt"
	"strings"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
	TokenError
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenEquals:
		return "Equals"
	case TokenNumber:
		return "Number"
	case TokenString:
		return "String"
	case TokenBoolean:
		return "Boolean"
	case TokenErrorLiteral:
		return "ErrorLiteral"
	case TokenCell:
		return "Cell"
	case TokenRange:
		return "Range"
	case TokenFunction:
		return "Function"
	case TokenUnaryPrefixOp:
		return "UnaryPrefixOp"
	case TokenUnaryPostfixOp:
		return "UnaryPostfixOp"
	case TokenBinaryOp:
		return "BinaryOp"
	case TokenComma:
		return "Comma"
	case TokenLeftParen:
		return "LeftParen"
	case TokenRightParen:
		return "RightParen"
	case TokenIdentifier:
		return "Identifier"
	}
	return "Error"
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpSymbols = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (op BinaryOp) String() string { return binaryOpSymbols[op] }

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
)

// maxColumnLetters bounds the letter part of a cell address (XFD)
const maxColumnLetters = 3

// valueStart lists the tokens that may begin an operand
var valueStart = map[TokenType]bool{
	TokenNumber:        true,
	TokenString:        true,
	TokenBoolean:       true,
	TokenErrorLiteral:  true,
	TokenCell:          true,
	TokenRange:         true,
	TokenFunction:      true,
	TokenIdentifier:    true,
	TokenLeftParen:     true,
	TokenUnaryPrefixOp: true,
}

func withValueStart(extra ...TokenType) map[TokenType]bool {
	m := make(map[TokenType]bool, len(valueStart)+len(extra))
	for t := range valueStart {
		m[t] = true
	}
	for _, t := range extra {
		m[t] = true
	}
	return m
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart:         withValueStart(TokenEquals),
	StateAfterEquals:   withValueStart(),
	StateAfterOperator: withValueStart(),
	StateAfterComma:    withValueStart(),
	// empty parens for arg-less functions like PI()
	StateAfterLeftParen: withValueStart(TokenRightParen),
	StateAfterValue: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true,
		TokenRightParen:     true,
		TokenComma:          true,
		TokenEOF:            true,
	},
	StateAfterRightParen: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true,
		TokenRightParen:     true,
		TokenComma:          true,
		TokenEOF:            true,
	},
	StateAfterIdentifier: {
		TokenLeftParen:      true, // function call
		TokenBinaryOp:       true, // name used as value
		TokenUnaryPostfixOp: true,
		TokenRightParen:     true,
		TokenComma:          true,
		TokenEOF:            true,
	},
}

// Token represents a lexical token with position information
type Token struct {
	Type  TokenType
	Value string
	Sheet string // unquoted sheet qualifier for cell and range tokens
	Pos   int    // rune position in input
}

// End is the position one past the token's last rune
func (t Token) End(input []rune) int {
	n := len([]rune(t.Value))
	switch t.Type {
	case TokenString:
		// the value is unescaped, so measure the source instead
		return scanQuotedEnd(input, t.Pos, charQuote)
	case TokenCell, TokenRange:
		if t.Sheet != "" {
			return t.Pos + n + sheetPrefixLen(input, t.Pos)
		}
	}
	return t.Pos + n
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterIdentifier
)

// LexError reports the first failure found while tokenizing
type LexError struct {
	Message string
	Pos     int
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Pos)
}

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	tokens     []Token
	context    *LexerContext
}

// LexerContext restricts a lexer to a subset of tokens
type LexerContext struct {
	InitialState   TokenState
	ExpectedTokens map[TokenType]bool
}

// NewLexer creates a lexer for a formula. the leading '=' is optional.
func NewLexer(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{InitialState: StateStart})
}

// NewLexerWithContext creates a new lexer with specific context
func NewLexerWithContext(input string, context *LexerContext) *Lexer {
	return &Lexer{
		runes:   []rune(input),
		state:   context.InitialState,
		context: context,
	}
}

// NewLexerForReference creates a lexer specifically for parsing cell
// references or ranges
func NewLexerForReference(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateStart,
		ExpectedTokens: map[TokenType]bool{
			TokenCell:  true,
			TokenRange: true,
		},
	})
}

// NewLexerForNumber creates a lexer specifically for parsing numbers
func NewLexerForNumber(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateStart,
		ExpectedTokens: map[TokenType]bool{
			TokenUnaryPrefixOp: true,
			TokenNumber:        true,
		},
	})
}

// NewLexerForBoolean creates a lexer specifically for parsing booleans
func NewLexerForBoolean(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateStart,
		ExpectedTokens: map[TokenType]bool{
			TokenBoolean: true,
		},
	})
}

// Tokenize tokenizes the entire input. the returned slice always ends
// with an EOF token when err is nil.
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		tok := l.nextToken()
		if tok.Type == TokenError {
			return nil, &LexError{Message: tok.Value, Pos: tok.Pos}
		}
		if !l.validateTransition(tok.Type) {
			if tok.Type == TokenEOF {
				return nil, &LexError{Message: "unexpected end of formula", Pos: tok.Pos}
			}
			return nil, &LexError{Message: "unexpected token: " + tok.Value, Pos: tok.Pos}
		}
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
		l.updateState(tok.Type)
	}

	if l.parenDepth > 0 {
		return nil, &LexError{Message: "unbalanced parentheses: missing closing parenthesis", Pos: len(l.runes)}
	}
	return l.tokens, nil
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	if l.context != nil && len(l.context.ExpectedTokens) > 0 {
		// specialized lexers accept their expected tokens anywhere and
		// may end after at least one token
		if tokenType == TokenEOF {
			return len(l.tokens) > 0
		}
		return l.context.ExpectedTokens[tokenType]
	}

	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenErrorLiteral, TokenCell, TokenRange:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators don't change state
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenIdentifier, TokenFunction:
		l.state = StateAfterIdentifier
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if ch == charApostrophe {
		return l.scanQuotedSheetRef()
	}

	if ch == charHash {
		return l.scanErrorLiteral()
	}

	if isDigit(ch) || (ch == charPeriod && isDigit(l.peek(1))) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{Type: TokenError, Value: "unexpected closing parenthesis", Pos: startPos}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}
	case charPlus, charMinus:
		return l.scanUnaryPrefixOrBinaryOp()
	case charAsterisk, charSlash, charCaret, charAmpersand, charLess, charGreater:
		return l.scanBinaryOp()
	case charPercent:
		l.pos++
		return Token{Type: TokenUnaryPostfixOp, Value: "%", Pos: startPos}
	case charEqual:
		l.pos++
		// the formula prefix is only recognised as the very first token
		if len(l.tokens) == 0 && l.state == StateStart {
			return Token{Type: TokenEquals, Value: "=", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "=", Pos: startPos}
	}

	if isAlpha(ch) || ch == charUnderscore || ch == charDollar {
		return l.scanIdentifierOrCell()
	}

	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: " + string(ch), Pos: startPos}
}

// helper methods for character navigation and classification

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		switch l.current() {
		case charSpace, charTab, charNewline, charReturn:
			l.pos++
		default:
			return
		}
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isAlphaNumeric(ch rune) bool {
	return isAlpha(ch) || isDigit(ch)
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod && isDigit(l.peek(1)) {
		l.pos++
		for isDigit(l.current()) {
			l.pos++
		}
	}

	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !isDigit(l.current()) {
			// not scientific notation
			l.pos = savedPos
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return Token{Type: TokenNumber, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() Token {
	startPos := l.pos
	l.pos++

	var sb strings.Builder
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charQuote {
			if l.peek(1) == charQuote {
				sb.WriteRune(charQuote)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: startPos}
		}
		sb.WriteRune(ch)
		l.pos++
	}

	return Token{Type: TokenError, Value: "unclosed string literal", Pos: startPos}
}

// scanErrorLiteral scans error constants such as #N/A or #DIV/0!
func (l *Lexer) scanErrorLiteral() Token {
	startPos := l.pos
	rest := strings.ToUpper(l.substring(l.pos, len(l.runes)))
	longest := ""
	for _, text := range ErrorMapper {
		if strings.HasPrefix(rest, text) && len(text) > len(longest) {
			longest = text
		}
	}
	if longest == "" {
		l.pos++
		return Token{Type: TokenError, Value: "unknown error literal", Pos: startPos}
	}
	l.pos += len([]rune(longest))
	return Token{Type: TokenErrorLiteral, Value: longest, Pos: startPos}
}

// scanCellName consumes an optionally $-anchored address like $A$1 and
// reports whether one was found. the position is restored on failure.
func (l *Lexer) scanCellName() (string, bool) {
	start := l.pos
	if l.current() == charDollar {
		l.pos++
	}
	letters := 0
	for isAlpha(l.current()) {
		l.pos++
		letters++
	}
	if l.current() == charDollar {
		l.pos++
	}
	digits := 0
	for isDigit(l.current()) {
		l.pos++
		digits++
	}
	// an address must not run on into a longer identifier
	if letters == 0 || letters > maxColumnLetters || digits == 0 ||
		isAlpha(l.current()) || l.current() == charUnderscore {
		l.pos = start
		return "", false
	}
	return l.substring(start, l.pos), true
}

// scanAddress scans a cell, or a range when a second cell follows ':'
func (l *Lexer) scanAddress(startPos int, sheet string) Token {
	cellStart := l.pos
	if _, ok := l.scanCellName(); !ok {
		return Token{Type: TokenError, Value: "invalid cell reference", Pos: startPos}
	}
	if l.current() == charColon {
		savedPos := l.pos
		l.pos++
		if _, ok := l.scanCellName(); ok {
			return Token{Type: TokenRange, Value: l.substring(cellStart, l.pos), Sheet: sheet, Pos: startPos}
		}
		l.pos = savedPos
		if sheet == "" {
			return Token{Type: TokenError, Value: "invalid range reference", Pos: startPos}
		}
	}
	return Token{Type: TokenCell, Value: l.substring(cellStart, l.pos), Sheet: sheet, Pos: startPos}
}

// scanIdentifierOrCell scans identifiers, functions, cells, ranges, and booleans
func (l *Lexer) scanIdentifierOrCell() Token {
	startPos := l.pos

	if l.current() == charDollar {
		return l.scanAddress(startPos, "")
	}

	for isAlphaNumeric(l.current()) || l.current() == charUnderscore || l.current() == charPeriod {
		l.pos++
	}
	value := l.substring(startPos, l.pos)
	upperValue := strings.ToUpper(value)

	// sheet-qualified reference
	if l.current() == charExclaim {
		l.pos++
		return l.scanAddress(startPos, value)
	}

	// re-scan as an address; a cell followed by '(' is a function like LOG10(
	l.pos = startPos
	if _, ok := l.scanCellName(); ok && l.current() != charLParen {
		l.pos = startPos
		return l.scanAddress(startPos, "")
	}
	l.pos = startPos + len([]rune(value))

	if l.current() == charLParen {
		return Token{Type: TokenFunction, Value: upperValue, Pos: startPos}
	}

	if upperValue == "TRUE" || upperValue == "FALSE" {
		return Token{Type: TokenBoolean, Value: upperValue, Pos: startPos}
	}

	return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
}

// scanQuotedSheetRef scans 'Sheet Name'!A1 style references. doubled
// apostrophes inside the name stand for one apostrophe.
func (l *Lexer) scanQuotedSheetRef() Token {
	startPos := l.pos
	end := scanQuotedEnd(l.runes, startPos, charApostrophe)
	if end < 0 {
		return Token{Type: TokenError, Value: "unclosed sheet name", Pos: startPos}
	}
	name := strings.ReplaceAll(l.substring(startPos+1, end-1), "''", "'")
	l.pos = end
	if l.current() != charExclaim {
		return Token{Type: TokenError, Value: "expected ! after sheet name", Pos: startPos}
	}
	l.pos++
	return l.scanAddress(startPos, name)
}

// scanUnaryPrefixOrBinaryOp scans + and - which can be either unary
// prefix or binary
func (l *Lexer) scanUnaryPrefixOrBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	if l.isUnaryContext() {
		return Token{Type: TokenUnaryPrefixOp, Value: string(ch), Pos: startPos}
	}
	return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
}

// scanBinaryOp scans binary operators
func (l *Lexer) scanBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	switch ch {
	case charLess:
		switch l.current() {
		case charEqual:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<=", Pos: startPos}
		case charGreater:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<>", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "<", Pos: startPos}
	case charGreater:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: ">=", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: ">", Pos: startPos}
	case charAsterisk, charSlash, charCaret, charAmpersand:
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
	}

	return Token{Type: TokenError, Value: "unknown operator", Pos: startPos}
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	switch l.state {
	case StateStart, StateAfterEquals, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}

// scanQuotedEnd returns the position just past the closing quote of the
// quoted run starting at start, or -1 if it is unclosed
func scanQuotedEnd(runes []rune, start int, quote rune) int {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return -1
}

// sheetPrefixLen measures the "Sheet!" or "'Sheet'!" prefix at start
func sheetPrefixLen(runes []rune, start int) int {
	if start < len(runes) && runes[start] == charApostrophe {
		end := scanQuotedEnd(runes, start, charApostrophe)
		if end < 0 {
			return 0
		}
		return end + 1 - start
	}
	for i := start; i < len(runes); i++ {
		if runes[i] == charExclaim {
			return i + 1 - start
		}
	}
	return 0
}

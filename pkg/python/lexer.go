package python

import (
	"its-hmny.dev/py2nasm/pkg/diag"
	"its-hmny.dev/py2nasm/pkg/utils"
)

// ----------------------------------------------------------------------------
// Python Lexer

// This section defines the Lexer for the Python subset.
//
// The Lexer walks the raw source bytes once and produces the flat Token stream
// consumed by the Parser. Next to the usual tokenization work it also handles
// the one Python-specific concern: block structure. Python has no braces, so on
// every newline the Lexer measures the indentation of the next non-empty line
// against a stack of open depths and synthesizes the virtual Begin/End tokens
// that delimit blocks for the Parser (each space or tab counts as one unit).
//
// On malformed input it records a Lexical diagnostic on the shared manager and
// keeps scanning from the next byte, the stream always ends with EndOfFile.

// Identifiers matching one of these lexemes are promoted to keyword tokens.
var keywords = map[string]TokenKind{
	"and": KwAnd, "def": KwDef, "else": KwElse, "for": KwFor,
	"if": KwIf, "True": KwTrue, "False": KwFalse, "in": KwIn,
	"not": KwNot, "or": KwOr, "print": KwPrint, "return": KwReturn,
	"None": KwNone, "while": KwWhile,
}

var simpleOperators = map[byte]TokenKind{
	'+': OpPlus, '*': OpMul, '%': OpMod, '-': OpMinus,
	'<': OpLess, '>': OpGreater, '=': OpAssign,
}

var doubleOperators = map[string]TokenKind{
	"==": OpEq, "!=": OpNeq, "<=": OpLessEq, ">=": OpGreatEq, "//": OpDiv,
}

var punctuation = map[byte]TokenKind{
	'(': LeftParen, ')': RightParen, '[': LeftBracket,
	']': RightBracket, ',': Comma, ':': Colon,
}

type Lexer struct {
	src   []byte        // The raw source bytes, read once left to right
	pos   int           // Index of the next unread byte
	line  int           // Current 1-based source line
	diags *diag.Manager // Shared sink for Lexical diagnostics

	indents utils.Stack[int] // Stack of open indentation depths, bottom is always 0
}

// Initializes and returns to the caller a brand new 'Lexer' struct.
// Requires the shared diagnostic manager 'diags' to be non-nil.
func NewLexer(src []byte, diags *diag.Manager) *Lexer {
	return &Lexer{src: src, pos: 0, line: 1, diags: diags, indents: utils.NewStack(0)}
}

// Returns the byte 'ahead' positions after the cursor, 0 past the input end.
func (lx *Lexer) lookahead(ahead int) byte {
	if lx.pos+ahead >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+ahead]
}

// Returns the byte under the cursor and moves the cursor forward.
func (lx *Lexer) advance() byte {
	char := lx.src[lx.pos]
	lx.pos++
	return char
}

func (lx *Lexer) report(message string, line int) {
	lx.diags.AddError(diag.Error{Message: message, Category: diag.Lexical, Line: line})
}

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }

// Main tokenization entrypoint: scans the whole input and returns the Token
// stream, closing any still open indentation block and ending with EndOfFile.
func (lx *Lexer) Tokenize() []Token {
	tokens := []Token{}

	for lx.lookahead(0) != 0 {
		switch char := lx.lookahead(0); {
		case isAlpha(char) || char == '_':
			tokens = lx.handleIdentifierOrKeyword(tokens)
		case isDigit(char):
			tokens = lx.handleInteger(tokens)
		case char == '=' || char == '<' || char == '>':
			tokens = lx.handleDoubleOperator(tokens)
		case simpleOperators[char] != "":
			op := lx.advance()
			tokens = append(tokens, Token{Kind: simpleOperators[op], Lexeme: string(op), Line: lx.line})
		case char == '!':
			tokens = lx.handleNotEqual(tokens)
		case char == '/':
			tokens = lx.handleDivision(tokens)
		case punctuation[char] != "":
			symbol := lx.advance()
			tokens = append(tokens, Token{Kind: punctuation[symbol], Lexeme: string(symbol), Line: lx.line})
		case char == '\n':
			tokens = lx.handleNewline(tokens)
		case char == ' ' || char == '\t' || char == '\r':
			lx.advance()
		case char == '"':
			tokens = lx.handleString(tokens)
		case char == '#':
			lx.skipComment()
		default:
			lx.diags.AddError(diag.Error{
				Message: "Unexpected character: ", Value: string(char),
				Category: diag.Lexical, Line: lx.line,
			})
			lx.advance()
		}
	}

	return lx.endOfFile(tokens)
}

// Scans an identifier run and promotes it to a keyword token when it matches.
func (lx *Lexer) handleIdentifierOrKeyword(tokens []Token) []Token {
	buffer := []byte{lx.advance()}
	for lx.lookahead(0) != 0 && (isAlnum(lx.lookahead(0)) || lx.lookahead(0) == '_') {
		buffer = append(buffer, lx.advance())
	}

	if kind, isKeyword := keywords[string(buffer)]; isKeyword {
		return append(tokens, Token{Kind: kind, Lexeme: string(buffer), Line: lx.line})
	}
	return append(tokens, Token{Kind: Identifier, Lexeme: string(buffer), Line: lx.line})
}

// Scans a digit run. A multi-char number starting with '0', a digit run glued
// to a letter and an overlong run are all Lexical diagnostics.
func (lx *Lexer) handleInteger(tokens []Token) []Token {
	buffer := []byte{}

	if lx.lookahead(0) == '0' {
		buffer = append(buffer, lx.advance())
		if isAlnum(lx.lookahead(0)) {
			lx.report("Integers cannot start with zeros", lx.line)
			for isAlnum(lx.lookahead(0)) {
				lx.advance()
			}
			return tokens
		}
	} else {
		for lx.lookahead(0) != 0 && isDigit(lx.lookahead(0)) {
			buffer = append(buffer, lx.advance())
		}
		if isAlpha(lx.lookahead(0)) {
			lx.report("Identifier cannot start with a digit", lx.line)
		} else if len(buffer) > 79 {
			lx.report("Identifier name too long", lx.line)
		}
	}

	return append(tokens, Token{Kind: Integer, Lexeme: string(buffer), Line: lx.line})
}

// Scans a '=', '<' or '>' prefix: glued to a second '=' it becomes the double
// operator, otherwise the single-char form is emitted.
func (lx *Lexer) handleDoubleOperator(tokens []Token) []Token {
	buffer := []byte{lx.advance()}
	if lx.lookahead(0) == '=' {
		buffer = append(buffer, lx.advance())
		return append(tokens, Token{Kind: doubleOperators[string(buffer)], Lexeme: string(buffer), Line: lx.line})
	}
	return append(tokens, Token{Kind: simpleOperators[buffer[0]], Lexeme: string(buffer), Line: lx.line})
}

// A '!' must be followed by '=' ('!=' is the only use of the byte).
func (lx *Lexer) handleNotEqual(tokens []Token) []Token {
	lx.advance()
	if lx.lookahead(0) == '=' {
		lx.advance()
		return append(tokens, Token{Kind: OpNeq, Lexeme: "!=", Line: lx.line})
	}

	lx.report("Expected '=' after '!'", lx.line)
	return tokens
}

// A '/' must be followed by '/' (the language only has integer division).
func (lx *Lexer) handleDivision(tokens []Token) []Token {
	lx.advance()
	if lx.lookahead(0) == '/' {
		lx.advance()
		return append(tokens, Token{Kind: OpDiv, Lexeme: "//", Line: lx.line})
	}

	lx.report("Expected '/' after '/'", lx.line)
	return tokens
}

// Emits the Newline token, then measures the indentation of the upcoming line
// and synthesizes Begin/End tokens against the stack of open depths. Blank and
// comment-only lines carry no indentation information and are skipped over.
func (lx *Lexer) handleNewline(tokens []Token) []Token {
	tokens = append(tokens, Token{Kind: Newline, Line: lx.line})
	lx.line++
	lx.advance()

	indentation := 0
	for lx.lookahead(0) == ' ' || lx.lookahead(0) == '\t' {
		lx.advance()
		indentation++
	}

	if next := lx.lookahead(0); next == '\n' || next == '#' || next == '\r' || next == 0 {
		return tokens // Empty line, the next Newline handler will re-measure
	}
	return lx.manageIndentation(tokens, indentation)
}

// Compares the measured depth 'n' against the stack top: greater opens one new
// block, equal is a no-op, smaller closes blocks until an equal depth is found
// (no match at all means the source dedented to a depth that was never open).
func (lx *Lexer) manageIndentation(tokens []Token, n int) []Token {
	if top, _ := lx.indents.Top(); n > top {
		lx.indents.Push(n)
		return append(tokens, Token{Kind: Begin, Line: lx.line})
	}

	if top, _ := lx.indents.Top(); n < top {
		for {
			current, _ := lx.indents.Top()
			if n >= current {
				break
			}
			lx.indents.Pop()
			tokens = append(tokens, Token{Kind: End, Line: lx.line})
		}
		if top, _ := lx.indents.Top(); n != top {
			lx.report("Indentation error", lx.line)
		}
	}

	return tokens
}

// Scans a double-quoted string literal. Inside, '\"' '\\' and '\n' escapes are
// decoded, any other escape keeps the backslash as a literal byte. Raw newline
// bytes are allowed and bump the line counter. Hitting the end of the input
// before the closing quote is a Lexical diagnostic.
func (lx *Lexer) handleString(tokens []Token) []Token {
	lx.advance() // Skip the opening quote
	buffer := []byte{}

	for {
		if lx.lookahead(0) == 0 {
			lx.report("Reached end of file without closing string", lx.line)
			break
		} else if lx.lookahead(0) == '"' {
			lx.advance() // Skip the closing quote
			break
		} else if lx.lookahead(0) == '\\' {
			lx.advance()
			buffer = lx.handleEscapeCharacter(buffer)
		} else if lx.lookahead(0) == '\n' {
			lx.line++
			lx.advance()
		} else {
			buffer = append(buffer, lx.advance())
		}
	}

	return append(tokens, Token{Kind: String, Lexeme: string(buffer), Line: lx.line})
}

func (lx *Lexer) handleEscapeCharacter(buffer []byte) []byte {
	switch lx.lookahead(0) {
	case '"', '\\':
		return append(buffer, lx.advance())
	case 'n':
		lx.advance()
		return append(buffer, '\n')
	default:
		return append(buffer, '\\') // The escaped byte is re-scanned as a normal one
	}
}

func (lx *Lexer) skipComment() {
	for lx.lookahead(0) != 0 && lx.lookahead(0) != '\n' {
		lx.advance()
	}
}

// Closes every block still open at the end of the input, then caps the stream.
func (lx *Lexer) endOfFile(tokens []Token) []Token {
	for top, _ := lx.indents.Top(); top != 0; top, _ = lx.indents.Top() {
		lx.indents.Pop()
		tokens = append(tokens, Token{Kind: End, Line: lx.line})
	}
	return append(tokens, Token{Kind: EndOfFile, Line: lx.line})
}

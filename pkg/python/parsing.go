package python

import (
	"its-hmny.dev/py2nasm/pkg/diag"
)

// ----------------------------------------------------------------------------
// Python Parser

// This section defines the Parser for the Python subset.
//
// It is a plain recursive descent over the Token stream, one function per
// grammar production, building the homogeneous 'Node' tree bottom up. The
// binary operator ladder (or > and > compare > additive > multiplicative >
// unary minus > not) is encoded by the call chain parseOrExpr ... parsePrimary.
//
// Error recovery is per statement: a failed expectation records one Syntax
// diagnostic and consumes tokens up to the next Newline (or the end of the
// input), after which sibling statements parse normally. A comparison written
// with a single '=' is tolerated and read as '=='. Newlines are forbidden
// inside parameter lists and list literals.

type Parser struct {
	tokens []Token
	pos    int
	diags  *diag.Manager

	eofReported bool // The missing-trailing-newline diagnostic is emitted once
}

// Initializes and returns to the caller a brand new 'Parser' struct.
// Requires the Token stream to be terminated by an EndOfFile token.
func NewParser(tokens []Token, diags *diag.Manager) *Parser {
	return &Parser{tokens: tokens, pos: 0, diags: diags}
}

// Parser entrypoint, returns the Program root node (never nil).
func (p *Parser) Parse() *Node {
	return p.parseRoot()
}

func (p *Parser) peek() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Kind: EndOfFile}
}

func (p *Parser) next() Token {
	token := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return token
}

// Consumes the next token when it matches, a silent lookahead test.
func (p *Parser) expect(kind TokenKind) bool {
	if p.peek().Kind == kind {
		p.next()
		return true
	}
	return false
}

// Like expect but Required: a mismatch records a Syntax diagnostic and
// resynchronizes the parser at the next Newline.
func (p *Parser) expectR(kind TokenKind) bool {
	if p.peek().Kind == kind {
		p.next()
		return true
	}

	p.diags.AddError(diag.Error{
		Message: "Expected ", Value: string(kind),
		Category: diag.Syntax, Line: p.peek().Line,
	})
	p.continueParsing()
	return false
}

func (p *Parser) skipNewlines() {
	for p.peek().Kind == Newline {
		p.next()
	}
}

// Recovery point: drops everything up to the next Newline so that the next
// sibling statement can be parsed. Reaching the end of the input without a
// final Newline is itself a (one-shot) Syntax diagnostic.
func (p *Parser) continueParsing() {
	for p.peek().Kind != EndOfFile && p.peek().Kind != Newline {
		p.next()
	}

	if p.peek().Kind == EndOfFile && !p.eofReported {
		p.eofReported = true
		p.diags.AddError(diag.Error{
			Message:  "Missing newline at the end of the file",
			Category: diag.Syntax, Line: p.peek().Line,
		})
	}
}

// Skips over forbidden newlines inside a bracketed context: records the
// diagnostic then drops everything up to (and including) the closing token.
func (p *Parser) handleInvalidNewlines(closing TokenKind) {
	p.skipNewlines()
	p.diags.AddError(diag.Error{
		Message:  "Newlines are not allowed inside lists or parameter definitions.",
		Category: diag.Syntax, Line: p.peek().Line,
	})

	for p.peek().Kind != closing && p.peek().Kind != EndOfFile {
		p.next()
	}
	p.expect(closing)
}

func (p *Parser) unexpected(token Token) {
	p.diags.AddError(diag.Error{
		Message: "Unexpected ", Value: string(token.Kind),
		Category: diag.Syntax, Line: token.Line,
	})
	p.continueParsing()
}

// ----------------------------------------------------------------------------
// Productions

// program := NEWLINE? function_def* stmt* EOF
//
// The root always has exactly two children: Definitions then Instructions.
func (p *Parser) parseRoot() *Node {
	root := NewNode(ProgramNode, "", 1)
	definitions := NewNode(DefinitionsNode, "", 1)
	instructions := NewNode(InstructionsNode, "", 1)
	root.Append(definitions, instructions)

	p.skipNewlines()
	for def := p.parseDefinition(); def != nil; def = p.parseDefinition() {
		definitions.Append(def)
		p.skipNewlines()
	}

	p.skipNewlines()
	oldPos := p.pos - 1
	for p.peek().Kind != EndOfFile && (oldPos < p.pos || oldPos <= 0) {
		oldPos = p.pos
		if stmt := p.parseStmt(); stmt != nil {
			instructions.Append(stmt)
		}
		p.skipNewlines()
	}

	// The last token before EndOfFile (ignoring the synthesized block closers)
	// must be a Newline, otherwise the file is missing its final terminator.
	if p.peek().Kind == EndOfFile && len(p.tokens) > 1 && !p.eofReported {
		last := len(p.tokens) - 2
		for last > 0 && p.tokens[last].Kind == End {
			last--
		}
		if p.tokens[last].Kind != Newline {
			p.eofReported = true
			p.diags.AddError(diag.Error{
				Message:  "Missing newline at the end of the file",
				Category: diag.Syntax, Line: p.tokens[last].Line,
			})
		}
	}

	return root
}

// function_def := 'def' IDENT '(' param_list ')' ':' suite
//
// Defining 'list', 'len' or 'range' is reported as a Semantic (not Syntax)
// diagnostic: the definition is well formed, the name is reserved.
func (p *Parser) parseDefinition() *Node {
	if !p.expect(KwDef) {
		return nil
	}

	token := p.peek()
	definition := NewNode(FunctionDefNode, token.Lexeme, token.Line)
	if token.Lexeme == "list" || token.Lexeme == "len" || token.Lexeme == "range" {
		p.diags.AddError(diag.Error{
			Message: "Function name cannot be list, len or range", Value: token.Lexeme,
			Category: diag.Semantic, Line: token.Line,
		})
	}

	p.expectR(Identifier)
	p.expectR(LeftParen)

	params := NewNode(FormalParamNode, "", token.Line)
	if next := p.peek(); p.expect(Identifier) {
		params.Append(NewNode(IdentifierNode, next.Lexeme, next.Line))
		for p.expect(Comma) {
			if p.peek().Kind == Newline {
				p.handleInvalidNewlines(RightParen)
				break
			}
			next = p.peek()
			p.expectR(Identifier)
			params.Append(NewNode(IdentifierNode, next.Lexeme, next.Line))
		}
	}
	p.expectR(RightParen)
	p.expectR(Colon)

	definition.Append(params)
	suite := p.parseSuite()
	suite.Kind = FunctionBody
	definition.Append(suite)
	return definition
}

// suite := NEWLINE BEGIN stmt+ END | simple_stmt NEWLINE
//
// The caller re-tags the returned node (FunctionBody, IfBody, ...).
func (p *Parser) parseSuite() *Node {
	suite := NewNode(NodeKind(""), "", p.peek().Line)

	if p.expect(Newline) {
		p.skipNewlines()
		p.expectR(Begin)
		p.skipNewlines()

		oldPos := p.pos - 1
		for p.peek().Kind != End && p.peek().Kind != EndOfFile && oldPos < p.pos {
			oldPos = p.pos
			if stmt := p.parseStmt(); stmt != nil {
				suite.Append(stmt)
			}
			p.skipNewlines()
		}
		p.expectR(End)
		return suite
	}

	suite.Append(p.parseSimpleStmt())
	if !p.expect(Newline) {
		p.diags.AddError(diag.Error{
			Message: "Expected newline", Category: diag.Syntax, Line: p.peek().Line,
		})
		p.continueParsing()
	}
	return suite
}

// stmt := 'if' expr ':' suite ('else' ':' suite)?
//       | 'for' IDENT 'in' expr ':' suite
//       | simple_stmt NEWLINE
func (p *Parser) parseStmt() *Node {
	token := p.peek()

	if p.expect(KwIf) {
		ifNode := NewNode(IfNode, "", token.Line)
		ifNode.Append(p.parseExpr())
		p.expectR(Colon)

		suite := p.parseSuite()
		suite.Kind = IfBodyNode
		ifNode.Append(suite, p.parseStmtSeconde())
		return ifNode
	}

	if p.expect(KwFor) {
		forNode := NewNode(ForNode, "", token.Line)
		next := p.peek()
		if p.expect(Identifier) {
			forNode.Append(NewNode(IdentifierNode, next.Lexeme, next.Line))
			p.expectR(KwIn)
			forNode.Append(p.parseExpr())
			p.expectR(Colon)

			suite := p.parseSuite()
			suite.Kind = ForBodyNode
			forNode.Append(suite)
			return forNode
		}

		p.unexpected(next)
		return nil
	}

	if stmt := p.parseSimpleStmt(); stmt != nil {
		p.expectR(Newline)
		return stmt
	}

	return nil
}

// stmt_seconde := 'else' ':' suite | ε
func (p *Parser) parseStmtSeconde() *Node {
	if !p.expect(KwElse) {
		return nil
	}

	p.expectR(Colon)
	suite := p.parseSuite()
	suite.Kind = ElseBodyNode
	return suite
}

// simple_stmt := IDENT ('=' expr | '[' expr ']' ('=' expr)? | call_tail | ε)
//              | 'return' expr? | 'print' '(' expr_list ')'
//              | '-' IDENT call_tail | expr
func (p *Parser) parseSimpleStmt() *Node {
	token := p.peek()

	if p.expect(Identifier) {
		identifier := NewNode(IdentifierNode, token.Lexeme, token.Line)

		if p.expect(OpAssign) {
			affect := NewNode(AffectNode, "=", token.Line)
			return affect.Append(identifier, p.parseExpr())
		}

		if p.expect(LeftBracket) {
			listCall := NewNode(ListCallNode, "", token.Line)
			listCall.Append(identifier, p.parseExpr())
			p.expectR(RightBracket)

			if p.expect(OpAssign) { // Indexed store: a[i] = e
				affect := NewNode(AffectNode, "=", token.Line)
				return affect.Append(listCall, p.parseExpr())
			}
			return listCall
		}

		return p.parseTest(identifier)
	}

	if p.expect(KwReturn) {
		returnNode := NewNode(ReturnNode, "", token.Line)
		if p.peek().Kind != Newline && p.peek().Kind != EndOfFile {
			returnNode.Append(p.parseExpr())
		}
		return returnNode
	}

	if p.expect(KwPrint) {
		p.expectR(LeftParen)
		printNode := NewNode(PrintNode, "", token.Line)
		printNode.Append(p.parseE())
		p.expectR(RightParen)
		return printNode
	}

	if p.expect(OpMinus) {
		unary := NewNode(UnaryOpNode, "-", token.Line)
		next := p.peek()
		if p.expect(Identifier) {
			identifier := NewNode(IdentifierNode, next.Lexeme, next.Line)
			return unary.Append(p.parseTest(identifier))
		}

		p.unexpected(next)
		return nil
	}

	if node := p.parseExpr(); node != nil {
		return node
	}

	p.unexpected(token)
	return nil
}

// test := call_tail? term_tail* arith_tail* comp_tail? and_tail* or_tail*
//
// Continuation of a statement that started with a bare identifier: a possible
// function call followed by the whole binary operator ladder, folded left.
func (p *Parser) parseTest(identifier *Node) *Node {
	current := identifier

	if p.peek().Kind == LeftParen {
		current = p.parseCallTail(identifier)
	}

	for p.peek().Kind == OpMul || p.peek().Kind == OpDiv || p.peek().Kind == OpMod {
		op := p.next()
		node := NewNode(TermOpNode, op.Lexeme, op.Line)
		current = node.Append(current, p.parseFactor())
	}

	for p.peek().Kind == OpPlus || p.peek().Kind == OpMinus {
		op := p.next()
		node := NewNode(ArithOpNode, op.Lexeme, op.Line)
		current = node.Append(current, p.parseTerm())
	}

	if isCompareOp(p.peek().Kind) {
		op := p.next()
		node := NewNode(CompareNode, op.Lexeme, op.Line)
		current = node.Append(current, p.parseArithExpr())
	}

	for p.expect(KwAnd) {
		node := NewNode(AndNode, "", p.peek().Line)
		current = node.Append(current, p.parseCompExpr())
	}

	for p.expect(KwOr) {
		node := NewNode(OrNode, "", p.peek().Line)
		current = node.Append(current, p.parseAndExpr())
	}

	return current
}

// call_tail := '(' (expr (',' expr)*)? ')'
func (p *Parser) parseCallTail(identifier *Node) *Node {
	call := NewNode(FunctionCallNode, "", identifier.Line)
	params := NewNode(ParameterList, "", identifier.Line)
	call.Append(identifier, params)

	p.expectR(LeftParen)
	for p.peek().Kind != RightParen && p.peek().Kind != EndOfFile {
		if p.peek().Kind == Newline {
			p.handleInvalidNewlines(RightParen)
			return call
		}
		if expr := p.parseExpr(); expr != nil {
			params.Append(expr)
		}
		if !p.expect(Comma) {
			break
		}
	}
	p.expectR(RightParen)
	return call
}

// expr_list := expr (',' expr)* | ε — always wrapped in a List node.
func (p *Parser) parseE() *Node {
	list := NewNode(ListNode, "", p.peek().Line)

	for {
		if p.peek().Kind == Newline {
			p.handleInvalidNewlines(RightBracket)
			return list
		}
		if expr := p.parseExpr(); expr != nil {
			list.Append(expr)
		}
		if !p.expect(Comma) {
			break
		}
	}
	return list
}

// expr := or_expr
func (p *Parser) parseExpr() *Node {
	return p.parseOrExpr()
}

// or_expr := and_expr ('or' and_expr)*
func (p *Parser) parseOrExpr() *Node {
	left := p.parseAndExpr()
	for p.expect(KwOr) {
		node := NewNode(OrNode, "", p.peek().Line)
		left = node.Append(left, p.parseAndExpr())
	}
	return left
}

// and_expr := comp_expr ('and' comp_expr)*
func (p *Parser) parseAndExpr() *Node {
	left := p.parseCompExpr()
	for p.expect(KwAnd) {
		node := NewNode(AndNode, "", p.peek().Line)
		left = node.Append(left, p.parseCompExpr())
	}
	return left
}

func isCompareOp(kind TokenKind) bool {
	return kind == OpEq || kind == OpNeq || kind == OpLess ||
		kind == OpGreater || kind == OpLessEq || kind == OpGreatEq
}

// comp_expr := arith (('=='|'!='|'<'|'>'|'<='|'>=') arith)?
//
// A single '=' in comparison position is tolerated and read as '=='.
func (p *Parser) parseCompExpr() *Node {
	left := p.parseArithExpr()

	if token := p.peek(); token.Kind == OpAssign {
		p.next()
		node := NewNode(CompareNode, "==", token.Line)
		return node.Append(left, p.parseArithExpr())
	}

	if isCompareOp(p.peek().Kind) {
		op := p.next()
		node := NewNode(CompareNode, op.Lexeme, op.Line)
		return node.Append(left, p.parseArithExpr())
	}

	return left
}

// arith := term (('+'|'-') term)*
func (p *Parser) parseArithExpr() *Node {
	left := p.parseTerm()
	for p.peek().Kind == OpPlus || p.peek().Kind == OpMinus {
		op := p.next()
		node := NewNode(ArithOpNode, op.Lexeme, op.Line)
		left = node.Append(left, p.parseTerm())
	}
	return left
}

// term := factor (('*'|'//'|'%') factor)*
func (p *Parser) parseTerm() *Node {
	left := p.parseFactor()
	for p.peek().Kind == OpMul || p.peek().Kind == OpDiv || p.peek().Kind == OpMod {
		op := p.next()
		node := NewNode(TermOpNode, op.Lexeme, op.Line)
		left = node.Append(left, p.parseFactor())
	}
	return left
}

// factor := '-' primary | primary
func (p *Parser) parseFactor() *Node {
	if token := p.peek(); p.expect(OpMinus) {
		node := NewNode(UnaryOpNode, "-", token.Line)
		return node.Append(p.parsePrimary())
	}
	return p.parsePrimary()
}

// primary := INTEGER | STRING | 'True' | 'False' | 'None'
//          | IDENT ('(' arg_list ')' | '[' expr ']' ('=' expr)? | ε)
//          | '(' expr ')' | '[' expr_list ']' | 'not' primary
func (p *Parser) parsePrimary() *Node {
	token := p.peek()

	switch {
	case p.expect(Integer):
		return NewNode(IntegerNode, token.Lexeme, token.Line)
	case p.expect(String):
		return NewNode(StringNode, token.Lexeme, token.Line)
	case p.expect(KwTrue):
		return NewNode(TrueNode, "", token.Line)
	case p.expect(KwFalse):
		return NewNode(FalseNode, "", token.Line)
	case p.expect(KwNone):
		return NewNode(NoneNode, "", token.Line)
	}

	if p.expect(Identifier) {
		identifier := NewNode(IdentifierNode, token.Lexeme, token.Line)

		if p.peek().Kind == LeftParen {
			return p.parseCallTail(identifier)
		}

		if p.expect(LeftBracket) {
			listCall := NewNode(ListCallNode, "", token.Line)
			listCall.Append(identifier, p.parseExpr())
			p.expectR(RightBracket)

			if p.expect(OpAssign) { // Indexed store in expression position
				affect := NewNode(AffectNode, "=", token.Line)
				return affect.Append(listCall, p.parseExpr())
			}
			return listCall
		}

		return identifier
	}

	if p.expect(LeftParen) {
		expr := p.parseExpr()
		p.expectR(RightParen)
		return expr
	}

	if p.expect(LeftBracket) {
		if p.expect(RightBracket) { // Empty list literal
			return NewNode(ListNode, "", token.Line)
		}
		list := p.parseE()
		p.expectR(RightBracket)
		return list
	}

	if p.expect(KwNot) {
		node := NewNode(NotNode, "", token.Line)
		return node.Append(p.parsePrimary())
	}

	p.unexpected(token)
	return nil
}

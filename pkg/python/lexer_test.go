package python_test

import (
	"testing"

	"its-hmny.dev/py2nasm/pkg/diag"
	"its-hmny.dev/py2nasm/pkg/python"
)

func tokenize(t *testing.T, source string) ([]python.Token, *diag.Manager) {
	t.Helper()
	manager := diag.NewManager()
	lexer := python.NewLexer([]byte(source), manager)
	return lexer.Tokenize(), manager
}

func kinds(tokens []python.Token) []python.TokenKind {
	out := make([]python.TokenKind, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, token.Kind)
	}
	return out
}

func TestTokenization(t *testing.T) {
	test := func(source string, expected []python.TokenKind, fail bool) {
		tokens, manager := tokenize(t, source)
		if manager.HasErrors() != fail {
			t.Errorf("source %q: expected fail=%t, got errors: %+v", source, fail, manager.Errors())
		}

		got := kinds(tokens)
		if len(got) != len(expected) {
			t.Fatalf("source %q: expected %d tokens %v, got %d: %v", source, len(expected), expected, len(got), got)
		}
		for i := range expected {
			if got[i] != expected[i] {
				t.Errorf("source %q: token %d: expected %s, got %s", source, i, expected[i], got[i])
			}
		}
	}

	t.Run("Identifiers, keywords and literals", func(t *testing.T) {
		test("x = 1\n", []python.TokenKind{python.Identifier, python.OpAssign, python.Integer, python.Newline, python.EndOfFile}, false)
		test("def f\n", []python.TokenKind{python.KwDef, python.Identifier, python.Newline, python.EndOfFile}, false)
		test("True False None\n", []python.TokenKind{python.KwTrue, python.KwFalse, python.KwNone, python.Newline, python.EndOfFile}, false)
		test("_private\n", []python.TokenKind{python.Identifier, python.Newline, python.EndOfFile}, false)
		test("\"hi\"\n", []python.TokenKind{python.String, python.Newline, python.EndOfFile}, false)
	})

	t.Run("Single and double operators", func(t *testing.T) {
		test("a == b\n", []python.TokenKind{python.Identifier, python.OpEq, python.Identifier, python.Newline, python.EndOfFile}, false)
		test("a <= b\n", []python.TokenKind{python.Identifier, python.OpLessEq, python.Identifier, python.Newline, python.EndOfFile}, false)
		test("a >= b\n", []python.TokenKind{python.Identifier, python.OpGreatEq, python.Identifier, python.Newline, python.EndOfFile}, false)
		test("a != b\n", []python.TokenKind{python.Identifier, python.OpNeq, python.Identifier, python.Newline, python.EndOfFile}, false)
		test("a // b\n", []python.TokenKind{python.Identifier, python.OpDiv, python.Identifier, python.Newline, python.EndOfFile}, false)
		test("a < b\n", []python.TokenKind{python.Identifier, python.OpLess, python.Identifier, python.Newline, python.EndOfFile}, false)
	})

	t.Run("Comments are skipped", func(t *testing.T) {
		test("x = 1 # trailing comment\n", []python.TokenKind{python.Identifier, python.OpAssign, python.Integer, python.Newline, python.EndOfFile}, false)
	})

	t.Run("Malformed operators", func(t *testing.T) {
		// A lone '/' and a lone '!' are Lexical errors, no token is emitted
		test("a / b\n", []python.TokenKind{python.Identifier, python.Identifier, python.Newline, python.EndOfFile}, true)
		test("a ! b\n", []python.TokenKind{python.Identifier, python.Identifier, python.Newline, python.EndOfFile}, true)
	})

	t.Run("Integer boundary cases", func(t *testing.T) {
		// '0' alone is valid
		test("0\n", []python.TokenKind{python.Integer, python.Newline, python.EndOfFile}, false)
		// '01' is a Lexical error and the whole run is dropped
		test("01\n", []python.TokenKind{python.Newline, python.EndOfFile}, true)
		// '1a' reports the error but keeps the digit run and the identifier
		test("1a\n", []python.TokenKind{python.Integer, python.Identifier, python.Newline, python.EndOfFile}, true)
	})

	t.Run("Unexpected characters", func(t *testing.T) {
		test("x = @\n", []python.TokenKind{python.Identifier, python.OpAssign, python.Newline, python.EndOfFile}, true)
	})
}

func TestStringLiterals(t *testing.T) {
	test := func(source string, expected string, fail bool) {
		tokens, manager := tokenize(t, source)
		if manager.HasErrors() != fail {
			t.Errorf("source %q: expected fail=%t, got errors: %+v", source, fail, manager.Errors())
		}

		if tokens[0].Kind != python.String {
			t.Fatalf("source %q: expected a String token, got %s", source, tokens[0].Kind)
		}
		if tokens[0].Lexeme != expected {
			t.Errorf("source %q: expected lexeme %q, got %q", source, expected, tokens[0].Lexeme)
		}
	}

	t.Run("Escape sequences", func(t *testing.T) {
		test("\"a\\\"b\"\n", "a\"b", false)
		test("\"a\\\\b\"\n", "a\\b", false)
		test("\"a\\nb\"\n", "a\nb", false)
		// Unknown escapes keep the backslash as a literal byte
		test("\"a\\tb\"\n", "a\\tb", false)
	})

	t.Run("Unterminated string at EOF", func(t *testing.T) {
		test("\"never closed", "never closed", true)
	})
}

func TestIndentation(t *testing.T) {
	count := func(tokens []python.Token, kind python.TokenKind) int {
		total := 0
		for _, token := range tokens {
			if token.Kind == kind {
				total++
			}
		}
		return total
	}

	test := func(source string, begins, ends int, fail bool) {
		tokens, manager := tokenize(t, source)
		if manager.HasErrors() != fail {
			t.Errorf("source %q: expected fail=%t, got errors: %+v", source, fail, manager.Errors())
		}
		if got := count(tokens, python.Begin); got != begins {
			t.Errorf("source %q: expected %d Begin tokens, got %d", source, begins, got)
		}
		if got := count(tokens, python.End); got != ends {
			t.Errorf("source %q: expected %d End tokens, got %d", source, ends, got)
		}
	}

	t.Run("Begin and End always balance", func(t *testing.T) {
		test("if a:\n    x = 1\n", 1, 1, false)
		test("if a:\n    if b:\n        x = 1\n", 2, 2, false)
		test("if a:\n    x = 1\ny = 2\n", 1, 1, false)
		// Blocks still open at EOF are closed by synthesized End tokens
		test("if a:\n    x = 1", 1, 1, false)
	})

	t.Run("Blank and comment-only lines carry no indentation", func(t *testing.T) {
		test("if a:\n    x = 1\n\n    y = 2\n", 1, 1, false)
		test("if a:\n    x = 1\n# comment\n    y = 2\n", 1, 1, false)
	})

	t.Run("Dedent to a never-opened depth", func(t *testing.T) {
		test("if a:\n        x = 1\n    y = 2\n", 1, 1, true)
	})

	t.Run("Empty source", func(t *testing.T) {
		tokens, manager := tokenize(t, "")
		if manager.HasErrors() {
			t.Errorf("expected no errors on empty source, got: %+v", manager.Errors())
		}
		if len(tokens) != 1 || tokens[0].Kind != python.EndOfFile {
			t.Errorf("expected a single EndOfFile token, got %v", kinds(tokens))
		}
	})
}

func TestLineTracking(t *testing.T) {
	tokens, manager := tokenize(t, "x = 1\ny = 2\n")
	if manager.HasErrors() {
		t.Fatalf("expected no errors, got: %+v", manager.Errors())
	}

	// x = 1 on line 1, y = 2 on line 2
	if tokens[0].Line != 1 || tokens[1].Line != 1 || tokens[2].Line != 1 {
		t.Errorf("expected the first statement tokens on line 1, got %+v", tokens[:3])
	}
	if tokens[4].Line != 2 || tokens[5].Line != 2 || tokens[6].Line != 2 {
		t.Errorf("expected the second statement tokens on line 2, got %+v", tokens[4:7])
	}
}

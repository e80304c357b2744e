package python_test

import (
	"reflect"
	"testing"

	"its-hmny.dev/py2nasm/pkg/diag"
	"its-hmny.dev/py2nasm/pkg/python"
)

func parse(t *testing.T, source string) (*python.Node, *diag.Manager) {
	t.Helper()
	manager := diag.NewManager()
	lexer := python.NewLexer([]byte(source), manager)
	parser := python.NewParser(lexer.Tokenize(), manager)
	return parser.Parse(), manager
}

func TestProgramShape(t *testing.T) {
	test := func(source string, definitions, instructions int) {
		root, manager := parse(t, source)
		if manager.HasErrors() {
			t.Fatalf("source %q: unexpected errors: %+v", source, manager.Errors())
		}

		if root.Kind != python.ProgramNode || len(root.Children) != 2 {
			t.Fatalf("source %q: expected a Program node with 2 children, got %s with %d", source, root.Kind, len(root.Children))
		}
		if defs := root.Children[0]; defs.Kind != python.DefinitionsNode || len(defs.Children) != definitions {
			t.Errorf("source %q: expected %d definitions, got %d", source, definitions, len(defs.Children))
		}
		if instr := root.Children[1]; instr.Kind != python.InstructionsNode || len(instr.Children) != instructions {
			t.Errorf("source %q: expected %d instructions, got %d", source, instructions, len(instr.Children))
		}
	}

	t.Run("Empty and simple programs", func(t *testing.T) {
		test("", 0, 0)
		test("\n\n", 0, 0)
		test("x = 1\n", 0, 1)
		test("x = 1\ny = 2\n", 0, 2)
	})

	t.Run("Definitions come before instructions", func(t *testing.T) {
		test("def f(n):\n    return n\nprint(f(1))\n", 1, 1)
		test("def f():\n    return 1\ndef g():\n    return 2\n", 2, 0)
	})
}

func TestStatementParsing(t *testing.T) {
	// Returns the first top-level instruction of the parsed program
	first := func(source string) *python.Node {
		root, manager := parse(t, source)
		if manager.HasErrors() {
			t.Fatalf("source %q: unexpected errors: %+v", source, manager.Errors())
		}
		if len(root.Children[1].Children) == 0 {
			t.Fatalf("source %q: no instructions parsed", source)
		}
		return root.Children[1].Children[0]
	}

	t.Run("Affect nodes have the specified shape", func(t *testing.T) {
		affect := first("x = 1 + 2\n")
		if affect.Kind != python.AffectNode || len(affect.Children) != 2 {
			t.Fatalf("expected an Affect node with 2 children, got %s with %d", affect.Kind, len(affect.Children))
		}
		if affect.Children[0].Kind != python.IdentifierNode || affect.Children[0].Value != "x" {
			t.Errorf("expected LHS Identifier 'x', got %+v", affect.Children[0])
		}
		if affect.Children[1].Kind != python.ArithOpNode || affect.Children[1].Value != "+" {
			t.Errorf("expected RHS ArithOp '+', got %+v", affect.Children[1])
		}
	})

	t.Run("Indexed store produces Affect over ListCall", func(t *testing.T) {
		affect := first("l[1] = 20\n")
		if affect.Kind != python.AffectNode {
			t.Fatalf("expected an Affect node, got %s", affect.Kind)
		}
		if affect.Children[0].Kind != python.ListCallNode {
			t.Errorf("expected the first child to be a ListCall, got %s", affect.Children[0].Kind)
		}
	})

	t.Run("If with and without else", func(t *testing.T) {
		ifNode := first("if a:\n    x = 1\n")
		if ifNode.Kind != python.IfNode || len(ifNode.Children) != 2 {
			t.Fatalf("expected an If node with 2 children, got %s with %d", ifNode.Kind, len(ifNode.Children))
		}
		if ifNode.Children[1].Kind != python.IfBodyNode {
			t.Errorf("expected an IfBody, got %s", ifNode.Children[1].Kind)
		}

		withElse := first("if a:\n    x = 1\nelse:\n    x = 2\n")
		if len(withElse.Children) != 3 || withElse.Children[2].Kind != python.ElseBodyNode {
			t.Fatalf("expected an If node with an ElseBody third child, got %+v", withElse.Children)
		}
	})

	t.Run("For over range", func(t *testing.T) {
		forNode := first("for i in range(3):\n    print(i)\n")
		if forNode.Kind != python.ForNode || len(forNode.Children) != 3 {
			t.Fatalf("expected a For node with 3 children, got %s with %d", forNode.Kind, len(forNode.Children))
		}
		if forNode.Children[0].Kind != python.IdentifierNode || forNode.Children[0].Value != "i" {
			t.Errorf("expected the loop variable Identifier 'i', got %+v", forNode.Children[0])
		}
		if forNode.Children[1].Kind != python.FunctionCallNode {
			t.Errorf("expected the iterable to be a FunctionCall, got %s", forNode.Children[1].Kind)
		}
		if forNode.Children[2].Kind != python.ForBodyNode {
			t.Errorf("expected a ForBody, got %s", forNode.Children[2].Kind)
		}
	})

	t.Run("Function calls carry Identifier plus ParameterList", func(t *testing.T) {
		call := first("f(1, 2)\n")
		if call.Kind != python.FunctionCallNode || len(call.Children) != 2 {
			t.Fatalf("expected a FunctionCall with 2 children, got %s with %d", call.Kind, len(call.Children))
		}
		if params := call.Children[1]; params.Kind != python.ParameterList || len(params.Children) != 2 {
			t.Errorf("expected a ParameterList with 2 arguments, got %+v", params)
		}

		empty := first("f()\n")
		if params := empty.Children[1]; len(params.Children) != 0 {
			t.Errorf("expected an empty ParameterList, got %+v", params)
		}
	})

	t.Run("List literals", func(t *testing.T) {
		affect := first("l = [1, 2, 3]\n")
		if list := affect.Children[1]; list.Kind != python.ListNode || len(list.Children) != 3 {
			t.Errorf("expected a List with 3 elements, got %+v", list)
		}

		empty := first("l = []\n")
		if list := empty.Children[1]; list.Kind != python.ListNode || len(list.Children) != 0 {
			t.Errorf("expected an empty List, got %+v", list)
		}
	})
}

func TestOperatorPrecedence(t *testing.T) {
	first := func(source string) *python.Node {
		root, manager := parse(t, source)
		if manager.HasErrors() {
			t.Fatalf("source %q: unexpected errors: %+v", source, manager.Errors())
		}
		return root.Children[1].Children[0]
	}

	t.Run("Multiplicative binds tighter than additive", func(t *testing.T) {
		// x = 1 + 2 * 3 parses as 1 + (2 * 3)
		affect := first("x = 1 + 2 * 3\n")
		plus := affect.Children[1]
		if plus.Kind != python.ArithOpNode || plus.Value != "+" {
			t.Fatalf("expected the root operator to be '+', got %+v", plus)
		}
		if times := plus.Children[1]; times.Kind != python.TermOpNode || times.Value != "*" {
			t.Errorf("expected the right operand to be '*', got %+v", times)
		}
	})

	t.Run("Comparisons bind looser than arithmetic", func(t *testing.T) {
		affect := first("x = 1 + 2 == 3\n")
		compare := affect.Children[1]
		if compare.Kind != python.CompareNode || compare.Value != "==" {
			t.Fatalf("expected the root operator to be '==', got %+v", compare)
		}
	})

	t.Run("Boolean ladder or > and", func(t *testing.T) {
		affect := first("x = a and b or c\n")
		or := affect.Children[1]
		if or.Kind != python.OrNode {
			t.Fatalf("expected the root to be Or, got %s", or.Kind)
		}
		if or.Children[0].Kind != python.AndNode {
			t.Errorf("expected the left operand to be And, got %s", or.Children[0].Kind)
		}
	})

	t.Run("Comparison-position '=' is read as '=='", func(t *testing.T) {
		root, manager := parse(t, "if a = 1:\n    x = 1\n")
		if manager.HasErrors() {
			t.Fatalf("expected the '=' tolerance to produce no diagnostics, got: %+v", manager.Errors())
		}
		ifNode := root.Children[1].Children[0]
		if cond := ifNode.Children[0]; cond.Kind != python.CompareNode || cond.Value != "==" {
			t.Errorf("expected the condition to be Compare '==', got %+v", cond)
		}
	})
}

func TestErrorRecovery(t *testing.T) {
	t.Run("Missing trailing newline yields one displayed Syntax diagnostic", func(t *testing.T) {
		_, manager := parse(t, "x = 1")
		if !manager.HasErrors() {
			t.Fatal("expected at least one recorded diagnostic")
		}
		for _, err := range manager.Errors() {
			if err.Category != diag.Syntax || err.Line != 1 {
				t.Errorf("expected only Syntax diagnostics on line 1, got %+v", err)
			}
		}
	})

	t.Run("Parsing resumes at the next statement", func(t *testing.T) {
		root, manager := parse(t, "x = = 1\ny = 2\n")
		if !manager.HasErrors() {
			t.Fatal("expected a diagnostic for the malformed statement")
		}

		// The second statement survives the first one's failure
		instructions := root.Children[1].Children
		found := false
		for _, stmt := range instructions {
			if stmt.Kind == python.AffectNode && stmt.Children[0].Value == "y" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected the 'y = 2' statement to be parsed, got %+v", instructions)
		}
	})

	t.Run("Newlines inside list literals are rejected", func(t *testing.T) {
		_, manager := parse(t, "l = [1,\n2]\n")
		found := false
		for _, err := range manager.Errors() {
			if err.Message == "Newlines are not allowed inside lists or parameter definitions." {
				found = true
			}
		}
		if !found {
			t.Errorf("expected the bracketed-newline diagnostic, got %+v", manager.Errors())
		}
	})

	t.Run("Forbidden definition names are Semantic diagnostics", func(t *testing.T) {
		_, manager := parse(t, "def list():\n    return 1\n")
		found := false
		for _, err := range manager.Errors() {
			if err.Category == diag.Semantic && err.Value == "list" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a Semantic diagnostic for the forbidden name, got %+v", manager.Errors())
		}
	})
}

func TestParserIdempotence(t *testing.T) {
	source := "def f(n):\n    if n == 0:\n        return 1\n    return n * f(n - 1)\nprint(f(5))\n"

	first, firstManager := parse(t, source)
	second, secondManager := parse(t, source)

	if firstManager.HasErrors() || secondManager.HasErrors() {
		t.Fatalf("unexpected errors: %+v / %+v", firstManager.Errors(), secondManager.Errors())
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("expected two parses of the same source to yield structurally equal ASTs")
	}
}

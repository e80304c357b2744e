package nasm_test

import (
	"strings"
	"testing"

	"its-hmny.dev/py2nasm/pkg/diag"
	"its-hmny.dev/py2nasm/pkg/nasm"
	"its-hmny.dev/py2nasm/pkg/python"
)

// Runs the whole pipeline on 'source' and returns the emitted assembly plus
// the shared diagnostic manager (codegen always completes, the caller decides
// what the diagnostics mean for the test at hand).
func compile(t *testing.T, source string) (string, *diag.Manager) {
	t.Helper()
	manager := diag.NewManager()

	lexer := python.NewLexer([]byte(source), manager)
	parser := python.NewParser(lexer.Tokenize(), manager)
	program := parser.Parse()

	builder := python.NewSymbolTableBuilder(manager)
	global := builder.Build(program)

	checker := python.NewTypeChecker(manager)
	checker.Check(program, global)

	codegen := nasm.NewCodeGenerator(program, global, manager)
	assembly, err := codegen.Generate()
	if err != nil {
		t.Fatalf("unexpected codegen failure: %s", err)
	}
	return assembly, manager
}

func TestTranslationUnitLayout(t *testing.T) {
	assembly, manager := compile(t, "")
	if manager.HasErrors() {
		t.Fatalf("expected no diagnostics on an empty program, got %+v", manager.Errors())
	}

	t.Run("Sections come in the specified order", func(t *testing.T) {
		markers := []string{"global _start", "section .data", "section .bss", "section .text", "_start:"}
		position := -1
		for _, marker := range markers {
			index := strings.Index(assembly, marker)
			if index < 0 {
				t.Fatalf("expected marker %q in the output", marker)
			}
			if index < position {
				t.Errorf("marker %q appears out of order", marker)
			}
			position = index
		}
	})

	t.Run("Data prologue and exit trailer are always emitted", func(t *testing.T) {
		expected := []string{
			"concat_buffer: times 2048 db 0", "concat_offset: dq 0",
			"list_buffer: times 8192 dq 0", "list_offset: dq 0",
			"div_zero_msg:", "index_error_msg:",
			"newline: db 10", "space: db 32", "minus_sign: db '-'",
			"buffer: resb 32",
			"mov rax, 60", // exit(0) trailer
		}
		for _, snippet := range expected {
			if !strings.Contains(assembly, snippet) {
				t.Errorf("expected %q in the output", snippet)
			}
		}
	})
}

func TestStatementEmission(t *testing.T) {
	test := func(source string, snippets []string) {
		assembly, manager := compile(t, source)
		if manager.HasErrors() {
			t.Fatalf("source %q: unexpected diagnostics: %+v", source, manager.Errors())
		}
		for _, snippet := range snippets {
			if !strings.Contains(assembly, snippet) {
				t.Errorf("source %q: expected %q in the output", source, snippet)
			}
		}
	}

	t.Run("Integer addition", func(t *testing.T) {
		// print(1 + 2) -> 3
		test("print(1 + 2)\n", []string{
			"mov rax, 1", "mov rax, 2", "add rax, rbx", "call print_not_string",
		})
	})

	t.Run("String concatenation dispatches on the static type", func(t *testing.T) {
		// print(x + y) over strings -> str_concat + print_string
		test("x = \"hello\"\ny = \" world\"\nprint(x + y)\n", []string{
			"str_0: db \"hello\", 0", "str_1: db \" world\", 0",
			"x: dq 0", "y: dq 0",
			"call str_concat", "call print_string",
		})
	})

	t.Run("Recursive function with call protocol", func(t *testing.T) {
		source := "def f(n):\n    if n == 0:\n        return 1\n    return n * f(n - 1)\nprint(f(5))\n"
		test(source, []string{
			"\nf:", "push rbp", "mov rbp, rsp",
			"mov rax, [rbp+16]", // parameter spill
			"sete al",           // n == 0
			"imul rax, rbx",     // n * f(n - 1)
			".return_f:",        // shared epilogue target
			"call f",
			"and rsp, -16", // caller side alignment
			"add rsp, 8",   // one argument unwound
		})
	})

	t.Run("List literal, indexed store and list printing", func(t *testing.T) {
		source := "l = [1, 2, 3]\nl[1] = 20\nprint(l)\n"
		test(source, []string{
			"mov qword [list_buffer + rcx], 3", // size word of the literal
			".index_error_0",                   // bounds check on the store
			"jge .index_error_0",
			"index_error_msg", "shl rax, 3",
			"call print_not_string",
		})
	})

	t.Run("For over range", func(t *testing.T) {
		test("for i in range(3):\n    print(i)\n", []string{
			"i: dq 0",
			"mov qword [i], 0", ".loop_start_0:", ".loop_end_0",
			"jge .loop_end_0", "inc rax", "jmp .loop_start_0",
		})
	})

	t.Run("Inlined built-ins", func(t *testing.T) {
		test("print(len([10, 20, 30, 40]))\n", []string{
			"mov qword [list_buffer + rcx], 4", "mov rax, [rax]",
		})
		test("l = list(range(5))\n", []string{"call list_range"})
		test("x = len(\"abc\")\n", []string{".len_strlen_loop_0", "cmp byte [rsi+rax], 0"})
	})

	t.Run("Division and modulo carry the zero check", func(t *testing.T) {
		test("x = 7 // 2\n", []string{"je .division_by_zero_error", "div rbx"})
		test("x = 7 % 2\n", []string{"je .division_by_zero_error", "mov rax, rdx"})
	})

	t.Run("Comparisons and booleans", func(t *testing.T) {
		test("x = 1 < 2\n", []string{"cmp rax, rbx", "setl al"})
		test("x = 1 != 2\n", []string{"setne al"})
		test("x = True and False\n", []string{"and rax, rbx"})
		test("x = True or False\n", []string{"or rax, rbx"})
		test("x = not True\n", []string{"xor rax, 1"})
	})

	t.Run("If and else labels", func(t *testing.T) {
		test("if True:\n    x = 1\nelse:\n    x = 2\n", []string{
			"je .else_0", "jmp .endif_0", ".else_0:", ".endif_0:",
		})
		test("if True:\n    x = 1\n", []string{"je .endif_0"})
	})

	t.Run("Empty list stores a single zero word", func(t *testing.T) {
		test("l = []\n", []string{"mov qword [list_buffer + rcx], 0"})
	})
}

func TestEmissionDiagnostics(t *testing.T) {
	test := func(source string, expected string) {
		_, manager := compile(t, source)
		found := false
		for _, err := range manager.Errors() {
			if err.Category == diag.Semantics && strings.Contains(err.Message+err.Value, expected) {
				found = true
			}
		}
		if !found {
			t.Errorf("source %q: expected a Semantics diagnostic containing %q, got %+v", source, expected, manager.Errors())
		}
	}

	t.Run("Operand type mismatches", func(t *testing.T) {
		test("x = 1\ny = \"a\"\nz = x + y\n", "Expected same type for an Arith Operation ; ")
		test("x = \"a\"\ny = x - 1\n", "Expected Int for Sub Operation ; ")
		test("x = \"a\"\ny = x * 2\n", "Expected Int for Mul Operation ; ")
		test("x = \"a\"\ny = -x\n", "Expected Int for an Unary Operation ; ")
	})

	t.Run("Use before assignment", func(t *testing.T) {
		test("x = 1 + q\n", "Used q before assignment")
	})

	t.Run("Range misuse", func(t *testing.T) {
		test("for i in range(1, 2):\n    print(i)\n", "Expected one parameter for range ; ")
		test("for i in [1, 2]:\n    print(i)\n", "For loop iterable must be a range call")
	})

	t.Run("Duplicate parameter names", func(t *testing.T) {
		test("def f(a, a):\n    return a\nf(1, 2)\n", "Duplicate parameter a.")
	})

	t.Run("len on unsupported operands", func(t *testing.T) {
		test("x = 1\ny = len(x)\n", "Used len on non-list or non-string variable")
	})
}

// Every jump emitted for a clean program must target a label defined in the
// same output file.
func TestLabelClosure(t *testing.T) {
	source := "def f(n):\n    if n == 0:\n        return 1\n    return n * f(n - 1)\n" +
		"l = [1, 2, 3]\nl[1] = f(3)\nfor i in range(3):\n    print(l)\n"

	assembly, manager := compile(t, source)
	if manager.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", manager.Errors())
	}

	jumps := map[string]bool{"jmp": true, "je": true, "jne": true, "jl": true, "jle": true, "jg": true, "jge": true, "jnz": true}
	for _, line := range strings.Split(assembly, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !jumps[fields[0]] {
			continue
		}
		if target := fields[1]; !strings.Contains(assembly, target+":") {
			t.Errorf("jump target %q has no matching label", target)
		}
	}
}

func TestEmissionIdempotence(t *testing.T) {
	source := "x = \"a\"\ny = x + \"b\"\nfor i in range(2):\n    print(y, i)\n"

	first, firstManager := compile(t, source)
	second, secondManager := compile(t, source)

	if firstManager.HasErrors() || secondManager.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v / %+v", firstManager.Errors(), secondManager.Errors())
	}
	if first != second {
		t.Error("expected two compilations of the same source to emit identical assembly")
	}
}

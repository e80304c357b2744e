package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/teris-io/cli"

	"its-hmny.dev/py2nasm/pkg/diag"
	"its-hmny.dev/py2nasm/pkg/nasm"
	"its-hmny.dev/py2nasm/pkg/python"
)

var Description = strings.ReplaceAll(`
The compiler translates a single source file written in a small Python subset
into x86-64 NASM assembly targeting the Linux syscall ABI. The emitted file,
once assembled and linked, runs as a standalone executable that only ever uses
the 'write' and 'exit' syscalls.
`, "\n", " ")

var Compiler = cli.New(Description).
	WithArg(cli.NewArg("input", "The source (.py) file to be compiled").WithType(cli.TypeString)).
	WithOption(cli.NewOption("output", "Path of the emitted .asm file (defaults to the input w/ .asm extension)").
		WithChar('o').WithType(cli.TypeString)).
	WithOption(cli.NewOption("tokens", "Prints the Token stream produced by the Lexer").
		WithType(cli.TypeBool)).
	WithOption(cli.NewOption("ast", "Prints the AST produced by the Parser").
		WithType(cli.TypeBool)).
	WithOption(cli.NewOption("scopes", "Prints the scope tree produced by the SymbolTableBuilder").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	input := args[0]
	output, hasOutput := options["output"]
	if !hasOutput || output == "" {
		output = strings.TrimSuffix(input, ".py") + ".asm"
	}

	assembly, err := Compile(input, options)
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		return -1
	}

	// Diagnostics never change the pipeline's flow, only the driver's: with
	// errors on record the assembly is not worth assembling, so no output
	// file is left behind.
	if assembly == "" {
		return 0
	}

	if err := os.WriteFile(output, []byte(assembly), 0644); err != nil {
		fmt.Printf("ERROR: %s\n", errors.Wrapf(err, "unable to write output file '%s'", output))
		return -1
	}
	return 0
}

// Runs the whole pipeline on 'input': Lexer, Parser, SymbolTableBuilder,
// TypeChecker and CodeGenerator share the same diagnostic manager and always
// run to completion. Returns the emitted assembly, empty when diagnostics
// were recorded (they are displayed on stdout before returning).
func Compile(input string, options map[string]string) (string, error) {
	content, err := os.ReadFile(input)
	if err != nil {
		return "", errors.Wrapf(err, "unable to open input file '%s'", input)
	}

	manager := diag.NewManager()

	// Instantiate a lexer and extract the Token stream from the raw content
	lexer := python.NewLexer(content, manager)
	tokens := lexer.Tokenize()
	if _, enabled := options["tokens"]; enabled {
		python.DisplayTokens(os.Stdout, tokens)
	}

	// Instantiate a parser and extract the AST from the Token stream
	parser := python.NewParser(tokens, manager)
	program := parser.Parse()
	if _, enabled := options["ast"]; enabled {
		program.Display(os.Stdout, 0)
	}

	// Builds the scope tree (symbols, stack layout, inferred types) from the AST
	builder := python.NewSymbolTableBuilder(manager)
	global := builder.Build(program)
	if _, enabled := options["scopes"]; enabled {
		global.Display(os.Stdout, 0)
	}

	// Runs the semantic checks (calls, returns, loop shadowing) over the AST
	checker := python.NewTypeChecker(manager)
	checker.Check(program, global)

	// Emits the NASM translation unit from the AST and the scope tree
	codegen := nasm.NewCodeGenerator(program, global, manager)
	assembly, err := codegen.Generate()
	if err != nil {
		return "", errors.Wrap(err, "unable to complete 'codegen' pass")
	}

	if manager.HasErrors() {
		manager.Display(os.Stdout)
		return "", nil
	}
	return assembly, nil
}

func main() { os.Exit(Compiler.Run(os.Args, os.Stdout)) }

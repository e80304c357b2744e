package nasm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"its-hmny.dev/py2nasm/pkg/diag"
	"its-hmny.dev/py2nasm/pkg/python"
)

// ----------------------------------------------------------------------------
// NASM Code Generator

// Takes the AST plus the scope tree and spits out a single NASM translation
// unit (sections .data, .bss, .text) targeting the Linux x86-64 syscall ABI.
//
// The generator walks the tree in DFS order keeping three buffers: 'data' for
// declarations (variables as 'dq 0' labels, string literals, the runtime
// arenas), 'text' for the top-level instructions under '_start', and 'funcs'
// for the user function bodies appended after the runtime routines. 'out'
// always points at the buffer currently being filled.
//
// Expression results travel in rax; intermediate operands go through the
// machine stack. Emission-time type errors (operand mismatches, 'auto' at a
// use site) are reported under the 'Semantics' category and emission continues
// with the next sibling, so a single run collects every diagnostic it can.
// All label counters live on the struct: a fresh generator per compilation
// means the same source always yields byte-identical output.
type CodeGenerator struct {
	root   *python.Node
	global *python.Scope
	diags  *diag.Manager

	data, text, funcs strings.Builder
	out               *strings.Builder // The buffer emission is currently aimed at

	declaredVars    map[string]bool // Names already declared as 'dq 0' in .data
	current         *python.Scope   // Scope cursor (function scope inside bodies)
	currentFunction string          // Target of the '.return_<name>' epilogue jump

	strCounter  int // One per string literal ('str_N')
	opCounter   int // One per '+' expression ('.string_op_N', '.int_op_N', ...)
	ifCounter   int // One per if statement ('.else_N', '.endif_N')
	loopCounter int // One per for loop ('.loop_start_N', '.loop_end_N')
	idxCounter  int // One per indexed access ('.index_error_N', ...)
	lenCounter  int // One per inlined len() on a string
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires the AST root, the global scope and the shared diagnostic manager.
func NewCodeGenerator(root *python.Node, global *python.Scope, diags *diag.Manager) *CodeGenerator {
	return &CodeGenerator{root: root, global: global, diags: diags, declaredVars: map[string]bool{}}
}

// Appends one line to the buffer currently selected by 'out'.
func (cg *CodeGenerator) emit(format string, args ...any) {
	fmt.Fprintf(cg.out, format+"\n", args...)
}

// Appends one line to the .data declarations buffer.
func (cg *CodeGenerator) emitData(format string, args ...any) {
	fmt.Fprintf(&cg.data, format+"\n", args...)
}

// Generator entrypoint: emits the whole translation unit and returns it as a
// single string ready to be written out and fed to nasm + ld.
func (cg *CodeGenerator) Generate() (string, error) {
	if cg.root == nil {
		return "", errors.New("the given 'program' is empty or nil")
	}

	cg.current = cg.global
	cg.emitDataProlog()

	// Definitions come first in the Program node, so function bodies are
	// emitted (into their own buffer) before the top-level instructions.
	for _, child := range cg.root.Children {
		if child.Kind == python.DefinitionsNode {
			cg.out = &cg.funcs
			for _, def := range child.Children {
				if def.Kind == python.FunctionDefNode {
					cg.visit(def)
				}
			}
			continue
		}

		cg.out = &cg.text
		cg.visit(child)
	}

	// The exit trailer and the runtime support routines close the '_start'
	// stream, user functions are appended after them.
	cg.out = &cg.text
	cg.emitRuntime()

	final := strings.Builder{}
	final.WriteString("global _start\n\n")

	final.WriteString("section .data\n")
	final.WriteString(cg.data.String())
	final.WriteString("newline: db 10\n")
	final.WriteString("space: db 32\n")
	final.WriteString("minus_sign: db '-'\n\n")

	final.WriteString("section .bss\n")
	final.WriteString("buffer: resb 32\n\n")

	final.WriteString("section .text\n")
	final.WriteString("_start:\n")
	final.WriteString(cg.text.String())
	final.WriteString("\n; Functions\n")
	final.WriteString(cg.funcs.String())

	return final.String(), nil
}

// Fixed .data prologue: the string and list arenas w/ their bump cursors, the
// list printing glyphs and the runtime error messages.
func (cg *CodeGenerator) emitDataProlog() {
	cg.emitData("concat_buffer: times 2048 db 0")
	cg.emitData("concat_offset: dq 0")
	cg.emitData("div_zero_msg: db 'Error: Division by zero', 10, 0")
	cg.emitData("div_zero_len: equ $ - div_zero_msg")
	cg.emitData("list_buffer: times 8192 dq 0")
	cg.emitData("list_offset: dq 0")
	cg.emitData("open_bracket: db '['")
	cg.emitData("close_bracket: db ']'")
	cg.emitData("comma_space: db ',', 32")
	cg.emitData("index_error_msg: db 'Error: Index out of bounds', 10, 0")
	cg.emitData("index_error_len: equ $ - index_error_msg")
}

// Declares 'name' as a zero-initialized qword in .data, exactly once.
func (cg *CodeGenerator) declareVariable(name string) {
	if !cg.declaredVars[name] {
		cg.emitData("%s: dq 0", name)
		cg.declaredVars[name] = true
	}
}

// Renders a Go string as a NASM 'db' operand list, NUL terminated. Printable
// runs stay quoted, everything else (newlines, quotes, ...) is emitted as raw
// byte values so the literal always assembles.
func nasmString(value string) string {
	parts := []string{}
	run := strings.Builder{}

	flush := func() {
		if run.Len() > 0 {
			parts = append(parts, fmt.Sprintf("\"%s\"", run.String()))
			run.Reset()
		}
	}

	for i := 0; i < len(value); i++ {
		if char := value[i]; char >= 32 && char <= 126 && char != '"' {
			run.WriteByte(char)
		} else {
			flush()
			parts = append(parts, fmt.Sprintf("%d", char))
		}
	}
	flush()

	parts = append(parts, "0")
	return strings.Join(parts, ", ")
}

func (cg *CodeGenerator) reportSemantics(message, value string, line int) {
	cg.diags.AddError(diag.Error{Message: message, Value: value, Category: diag.Semantics, Line: line})
}

// ----------------------------------------------------------------------------
// Emission-time typing

// Resolves the recorded type of an identifier against the scope cursor (the
// function scope inside bodies, whose parent is the global scope).
func (cg *CodeGenerator) identifierType(name string) string {
	return cg.current.TypeOf(name)
}

// Reports whether the identifier resolves to a function parameter: parameters
// keep the 'auto' type through emission (their concrete type only exists at
// the call site), so 'auto' on them is not a use-before-assignment.
func (cg *CodeGenerator) isParameter(name string) bool {
	variable, isVar := cg.current.Find(name).(*python.VariableSymbol)
	return isVar && variable.Category == python.CategoryParameter
}

// Emission-time return type of a call to 'name': walks the function's AST
// definition looking at its return statements, defaulting to Integer. Distinct
// from the builder's inference on purpose: this one never answers 'auto', the
// emitter always needs something to dispatch printing on.
func (cg *CodeGenerator) callReturnType(name string) string {
	for _, child := range cg.root.Children {
		if child.Kind != python.DefinitionsNode {
			continue
		}

		for _, def := range child.Children {
			if def.Kind != python.FunctionDefNode || def.Value != name {
				continue
			}

			returnType := python.TypeInteger
			var findReturns func(node *python.Node)
			findReturns = func(node *python.Node) {
				if node == nil {
					return
				}
				if node.Kind == python.ReturnNode && len(node.Children) > 0 {
					switch expr := node.Children[0]; expr.Kind {
					case python.StringNode:
						returnType = python.TypeString
					case python.ListNode:
						returnType = python.TypeList
					case python.IdentifierNode:
						if identType := cg.identifierType(expr.Value); identType != python.TypeAuto {
							returnType = identType
						}
					case python.FunctionCallNode:
						if len(expr.Children) == 0 {
							break
						}
						if callee := expr.Children[0].Value; callee != name { // Recursive calls keep the current guess
							if function, isFunc := cg.global.Find(callee).(*python.FunctionSymbol); isFunc {
								returnType = function.ReturnType
							}
						}
					}
				}
				for _, child := range node.Children {
					findReturns(child)
				}
			}

			if len(def.Children) > 1 {
				findReturns(def.Children[1])
			}
			return returnType
		}
	}

	return python.TypeInteger
}

// Static type of an expression as far as the emitter can tell. Unlike the
// builder's inference this resolves '+' over strings (either operand being a
// String makes the whole expression one) so that printing and assignment
// dispatch correctly on concatenations.
func (cg *CodeGenerator) staticType(node *python.Node) string {
	if node == nil {
		return python.TypeAuto
	}

	switch node.Kind {
	case python.IntegerNode:
		return python.TypeInteger
	case python.StringNode:
		return python.TypeString
	case python.ListNode:
		return python.TypeList
	case python.TrueNode, python.FalseNode:
		return python.TypeBoolean
	case python.CompareNode, python.AndNode, python.OrNode, python.NotNode:
		return python.TypeBoolean
	case python.IdentifierNode:
		return cg.identifierType(node.Value)
	case python.FunctionCallNode:
		if len(node.Children) > 0 && node.Children[0].Kind == python.IdentifierNode {
			return cg.callReturnType(node.Children[0].Value)
		}
		return python.TypeInteger
	case python.ArithOpNode:
		if node.Value == "+" && len(node.Children) == 2 {
			if cg.staticType(node.Children[0]) == python.TypeString ||
				cg.staticType(node.Children[1]) == python.TypeString {
				return python.TypeString
			}
		}
		return python.TypeInteger
	case python.TermOpNode, python.UnaryOpNode:
		return python.TypeInteger
	default:
		return python.TypeAuto
	}
}

// Operand typing for the arithmetic checks: 'auto' comes back for unresolved
// identifiers, element reads and None, every other node is typed as
// staticType types it.
func (cg *CodeGenerator) operandType(node *python.Node) string {
	if node == nil {
		return python.TypeAuto
	}

	switch node.Kind {
	case python.IdentifierNode:
		return cg.identifierType(node.Value)
	case python.ListCallNode, python.NoneNode:
		return python.TypeAuto
	default:
		return cg.staticType(node)
	}
}

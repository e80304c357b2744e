package nasm

import (
	"fmt"

	"github.com/samber/lo"

	"its-hmny.dev/py2nasm/pkg/python"
)

// ----------------------------------------------------------------------------
// AST-directed emission

// Generalized dispatch over every AST node kind the emitter understands.
// Unknown containers just recurse so the walk never gets stuck.
func (cg *CodeGenerator) visit(node *python.Node) {
	if node == nil {
		return
	}

	switch node.Kind {
	case python.AffectNode:
		cg.genAffect(node)
	case python.FunctionDefNode:
		cg.genFunction(node)
	case python.FunctionCallNode:
		cg.genFunctionCall(node)
	case python.ReturnNode:
		cg.genReturn(node)
	case python.ForNode:
		cg.genFor(node)
	case python.IfNode:
		cg.genIf(node)
	case python.PrintNode:
		cg.genPrint(node)
	case python.ListNode:
		cg.genList(node)
	case python.ListCallNode:
		cg.genListRead(node)
	case python.CompareNode:
		cg.genCompare(node)
	case python.ArithOpNode:
		cg.genArithOp(node)
	case python.TermOpNode:
		cg.genTermOp(node)
	case python.UnaryOpNode:
		cg.genUnaryOp(node)

	case python.AndNode:
		if len(node.Children) < 2 {
			return
		}
		cg.visit(node.Children[0])
		cg.emit("push rax")
		cg.visit(node.Children[1])
		cg.emit("pop rbx")
		cg.emit("and rax, rbx")

	case python.OrNode:
		if len(node.Children) < 2 {
			return
		}
		cg.visit(node.Children[0])
		cg.emit("push rax")
		cg.visit(node.Children[1])
		cg.emit("pop rbx")
		cg.emit("or rax, rbx")

	case python.NotNode:
		if len(node.Children) < 1 {
			return
		}
		cg.visit(node.Children[0])
		cg.emit("xor rax, 1") // Truth values are 0/1, flipping the low bit negates

	case python.TrueNode:
		cg.emit("mov rax, 1")
	case python.FalseNode:
		cg.emit("mov rax, 0")
	case python.NoneNode:
		cg.emit("mov rax, 0")

	case python.IdentifierNode:
		cg.emit("mov rax, qword [%s]", node.Value)
	case python.IntegerNode:
		cg.emit("mov rax, %s", node.Value)

	case python.StringNode:
		label := fmt.Sprintf("str_%d", cg.strCounter)
		cg.strCounter++
		cg.emitData("%s: db %s", label, nasmString(node.Value))
		cg.emit("mov rax, %s", label)

	default:
		for _, child := range node.Children {
			cg.visit(child)
		}
	}
}

// Assignment: an indexed store when the LHS is a ListCall, otherwise declare
// the variable on first sight, record its inferred type and store rax into it.
func (cg *CodeGenerator) genAffect(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}

	target, value := node.Children[0], node.Children[1]
	if target.Kind == python.ListCallNode {
		cg.genListStore(target, value)
		return
	}

	name := target.Value
	cg.declareVariable(name)

	valueType := cg.staticType(value)
	if valueType == python.TypeAuto {
		valueType = python.TypeInteger
	}
	if variable, isVar := cg.current.Find(name).(*python.VariableSymbol); isVar {
		variable.Type = valueType
	}

	cg.visit(value)
	cg.emit("mov qword [%s], rax", name)
}

// Shared bounds check for indexed access: evaluates the index, loads the list
// base into rbx and leaves the element slot address in rbx. A negative
// or past-the-size index writes the runtime message and exits with status 1.
func (cg *CodeGenerator) emitIndexGuard(listName string, index *python.Node, errorLabel string) {
	cg.emit("; Calculate index")
	cg.visit(index)
	cg.emit("mov rbx, qword [%s]", listName)

	cg.emit("; Check if index is valid")
	cg.emit("cmp rax, 0")
	cg.emit("jl %s", errorLabel)
	cg.emit("cmp rax, [rbx]") // The size word sits at the list base
	cg.emit("jge %s", errorLabel)

	cg.emit("; Calculate element address")
	cg.emit("add rbx, 8")
	cg.emit("shl rax, 3")
	cg.emit("add rbx, rax")
}

// Runtime trap shared by the indexed load/store paths.
func (cg *CodeGenerator) emitIndexError(errorLabel string) {
	cg.emit("%s:", errorLabel)
	cg.emit("mov rax, 1")
	cg.emit("mov rdi, 1")
	cg.emit("mov rsi, index_error_msg")
	cg.emit("mov rdx, index_error_len")
	cg.emit("syscall")
	cg.emit("mov rax, 60")
	cg.emit("mov rdi, 1")
	cg.emit("syscall")
}

// Indexed store: a[i] = e
func (cg *CodeGenerator) genListStore(target, value *python.Node) {
	if len(target.Children) < 2 {
		return
	}
	errorLabel := fmt.Sprintf(".index_error_%d", cg.idxCounter)
	endLabel := fmt.Sprintf(".end_list_assign_%d", cg.idxCounter)
	cg.idxCounter++

	cg.emit("; List element assignment")
	cg.emitIndexGuard(target.Children[0].Value, target.Children[1], errorLabel)

	cg.emit("; Evaluate right value")
	cg.emit("push rbx")
	cg.visit(value)
	cg.emit("pop rbx")

	cg.emit("; Store value in list element")
	cg.emit("mov qword [rbx], rax")
	cg.emit("jmp %s", endLabel)

	cg.emitIndexError(errorLabel)
	cg.emit("%s:", endLabel)
}

// Indexed load: a[i] in expression position, same guard then a read.
func (cg *CodeGenerator) genListRead(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}

	errorLabel := fmt.Sprintf(".index_error_%d", cg.idxCounter)
	endLabel := fmt.Sprintf(".end_list_read_%d", cg.idxCounter)
	cg.idxCounter++

	cg.emit("; List element read")
	cg.emitIndexGuard(node.Children[0].Value, node.Children[1], errorLabel)

	cg.emit("mov rax, qword [rbx]")
	cg.emit("jmp %s", endLabel)

	cg.emitIndexError(errorLabel)
	cg.emit("%s:", endLabel)
}

// Comparison: both operands evaluated, then cmp + setcc into rax.
func (cg *CodeGenerator) genCompare(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}
	cg.visit(node.Children[0])
	cg.emit("push rax")

	cg.visit(node.Children[1])
	cg.emit("mov rbx, rax")
	cg.emit("pop rax")

	cg.emit("cmp rax, rbx")
	cg.emit("mov rax, 0")

	switch node.Value {
	case "==":
		cg.emit("sete al")
	case "!=":
		cg.emit("setne al")
	case "<":
		cg.emit("setl al")
	case ">":
		cg.emit("setg al")
	case "<=":
		cg.emit("setle al")
	case ">=":
		cg.emit("setge al")
	}
}

// Reports 'auto' operands used before assignment. Parameters are exempt:
// their concrete type only exists at the call site.
func (cg *CodeGenerator) checkOperandKnown(operand *python.Node, operandType string) bool {
	if operandType != python.TypeAuto {
		return true
	}
	if operand.Kind == python.IdentifierNode && cg.isParameter(operand.Value) {
		return true
	}
	if operand.Kind != python.IdentifierNode {
		return true // Element reads and such: unknown but not uninitialized
	}

	cg.reportSemantics("Undefined Variable; ", "Used "+operand.Value+" before assignment", operand.Line)
	return false
}

// Addition is the polymorphic operator: strings concatenate, lists
// concatenate, integers add. Known mismatched operand types are rejected at
// compile time; the list/integer split is decided at runtime by probing the
// operand addresses against the list arena.
func (cg *CodeGenerator) genAdd(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}
	opID := cg.opCounter
	cg.opCounter++
	stringOpLabel := fmt.Sprintf(".string_op_%d", opID)
	intOpLabel := fmt.Sprintf(".int_op_%d", opID)
	endOpLabel := fmt.Sprintf(".end_op_%d", opID)

	cg.visit(node.Children[0])
	cg.emit("push rax")

	cg.visit(node.Children[1])
	cg.emit("mov rbx, rax")
	cg.emit("pop rax")

	type0 := cg.operandType(node.Children[0])
	type1 := cg.operandType(node.Children[1])

	if !cg.checkOperandKnown(node.Children[0], type0) {
		return
	}
	if !cg.checkOperandKnown(node.Children[1], type1) {
		return
	}
	if type0 != python.TypeAuto && type1 != python.TypeAuto && type0 != type1 {
		cg.reportSemantics("Expected same type for an Arith Operation ; ",
			fmt.Sprintf("Got %s and %s", type0, type1), node.Line)
		return
	}
	for _, opType := range []string{type0, type1} {
		if opType != python.TypeInteger && opType != python.TypeString &&
			opType != python.TypeList && opType != python.TypeAuto {
			cg.reportSemantics("Expected Int or String or List for an Arith Operation ; ",
				"Got "+opType, node.Line)
			return
		}
	}

	if type0 == python.TypeString {
		cg.emit("%s:", stringOpLabel)
		cg.emit("mov rdi, rax")
		cg.emit("mov rsi, rbx")
		cg.emit("call str_concat")
		cg.emit("%s:", endOpLabel)
		return
	}

	// Both operands inside the list arena means list concatenation, anything
	// else falls through to the integer add.
	cg.emit("mov rcx, list_buffer")
	cg.emit("cmp rax, rcx")
	cg.emit("jl .not_list_left_%d", opID)
	cg.emit("cmp rbx, rcx")
	cg.emit("jl .not_list_right_%d", opID)

	cg.emit("mov rdi, rax")
	cg.emit("mov rsi, rbx")
	cg.emit("call list_concat")
	cg.emit("jmp %s", endOpLabel)

	cg.emit(".not_list_left_%d:", opID)
	cg.emit(".not_list_right_%d:", opID)

	cg.emit("%s:", intOpLabel)
	cg.emit("add rax, rbx")
	cg.emit("%s:", endOpLabel)
}

// Requires a known-Integer (or still unknown) operand for -, *, // and %.
func (cg *CodeGenerator) checkIntegerOperand(operand *python.Node, context string) {
	opType := cg.operandType(operand)
	if opType == python.TypeInteger || opType == python.TypeAuto {
		return
	}

	cg.reportSemantics(fmt.Sprintf("Expected Int for %s Operation ; ", context), "Got "+opType, operand.Line)
}

func (cg *CodeGenerator) genArithOp(node *python.Node) {
	if len(node.Children) < 2 && node.Value != "+" {
		return
	}
	if node.Value == "+" {
		cg.genAdd(node)
		return
	}

	// Subtraction is Integer only
	cg.checkIntegerOperand(node.Children[0], "Sub")
	cg.visit(node.Children[0])
	cg.emit("push rax")

	cg.checkIntegerOperand(node.Children[1], "Sub")
	cg.visit(node.Children[1])
	cg.emit("mov rbx, rax")
	cg.emit("pop rax")
	cg.emit("sub rax, rbx")
}

func (cg *CodeGenerator) genTermOp(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}
	context := map[string]string{"*": "Mul", "//": "Integer Division", "%": "Modulo"}[node.Value]

	cg.checkIntegerOperand(node.Children[0], context)
	cg.visit(node.Children[0])
	cg.emit("push rax")

	cg.checkIntegerOperand(node.Children[1], context)
	cg.visit(node.Children[1])

	switch node.Value {
	case "*":
		cg.emit("mov rbx, rax")
		cg.emit("pop rax")
		cg.emit("imul rax, rbx")

	case "//":
		cg.emit("cmp rax, 0")
		cg.emit("je .division_by_zero_error")
		cg.emit("mov rbx, rax")
		cg.emit("pop rax")
		cg.emit("xor rdx, rdx")
		cg.emit("div rbx")

	case "%":
		cg.emit("cmp rax, 0")
		cg.emit("je .division_by_zero_error")
		cg.emit("mov rbx, rax")
		cg.emit("pop rax")
		cg.emit("xor rdx, rdx")
		cg.emit("div rbx")
		cg.emit("mov rax, rdx")
	}
}

func (cg *CodeGenerator) genUnaryOp(node *python.Node) {
	if len(node.Children) < 1 {
		return
	}
	operand := node.Children[0]
	if opType := cg.operandType(operand); opType != python.TypeInteger && opType != python.TypeAuto {
		cg.reportSemantics("Expected Int for an Unary Operation ; ", "Got "+opType, node.Line)
		return
	}

	cg.visit(operand)
	cg.emit("neg rax")
}

// Emits one element write to stdout, dispatching on the static type: strings
// go through print_string, everything else through print_not_string (which
// recognizes list arena addresses at runtime).
func (cg *CodeGenerator) genPrintDispatch(itemType string) {
	if itemType == python.TypeString {
		cg.emit("call print_string")
		return
	}
	cg.emit("call print_not_string")
}

// Writes a single separator byte (space between print arguments).
func (cg *CodeGenerator) emitSeparator(label string, length int) {
	cg.emit("mov rax, 1")
	cg.emit("mov rdi, 1")
	cg.emit("push rax")
	cg.emit("push rdi")
	cg.emit("mov rsi, %s", label)
	cg.emit("mov rdx, %d", length)
	cg.emit("syscall")
	cg.emit("pop rdi")
	cg.emit("pop rax")
}

// print(e1, e2, ...): the parser always wraps the arguments in a List node,
// items are written space separated and the statement ends with a newline.
func (cg *CodeGenerator) genPrint(node *python.Node) {
	if len(node.Children) == 1 && node.Children[0].Kind == python.ListNode {
		items := node.Children[0].Children
		for i, item := range items {
			cg.visit(item)
			cg.genPrintDispatch(cg.staticType(item))

			if i < len(items)-1 {
				cg.emitSeparator("space", 1)
			}
		}
	} else {
		for _, child := range node.Children {
			cg.visit(child)
		}
		if len(node.Children) > 0 {
			cg.genPrintDispatch(cg.staticType(node.Children[0]))
		}
	}

	cg.emit("mov rax, 1")
	cg.emit("mov rdi, 1")
	cg.emit("mov rsi, newline")
	cg.emit("mov rdx, 1")
	cg.emit("syscall")
}

// Conditional: condition in rax, zero means false. One label pair per
// statement, counters are monotonic across the whole program.
func (cg *CodeGenerator) genIf(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}
	ifID := cg.ifCounter
	cg.ifCounter++
	elseLabel := fmt.Sprintf(".else_%d", ifID)
	endLabel := fmt.Sprintf(".endif_%d", ifID)

	hasElse := len(node.Children) > 2 && node.Children[2] != nil

	cg.emit("; If condition")
	cg.visit(node.Children[0])
	cg.emit("cmp rax, 0")
	if hasElse {
		cg.emit("je %s", elseLabel)
	} else {
		cg.emit("je %s", endLabel)
	}

	cg.emit("; If body")
	cg.visit(node.Children[1])

	if hasElse {
		cg.emit("jmp %s", endLabel)
		cg.emit("%s:", elseLabel)
		cg.emit("; Else body")
		cg.visit(node.Children[2])
	}

	cg.emit("%s:", endLabel)
}

// for x in range(n): the loop variable counts from zero to the bound kept on
// the machine stack. Only the one-argument range form is accepted.
func (cg *CodeGenerator) genFor(node *python.Node) {
	if len(node.Children) < 3 {
		return
	}

	loopVar := node.Children[0].Value
	cg.declareVariable(loopVar)

	loopID := cg.loopCounter
	cg.loopCounter++
	startLabel := fmt.Sprintf(".loop_start_%d", loopID)
	endLabel := fmt.Sprintf(".loop_end_%d", loopID)

	iterable := node.Children[1]
	isRange := iterable.Kind == python.FunctionCallNode &&
		len(iterable.Children) > 0 && iterable.Children[0].Value == "range"
	if !isRange {
		cg.reportSemantics("For loop iterable must be a range call", "", node.Line)
		return
	}

	rangeArgs := iterable.Children[1]
	if len(rangeArgs.Children) != 1 {
		cg.reportSemantics("Expected one parameter for range ; ",
			fmt.Sprintf("Got %d", len(rangeArgs.Children)), node.Line)
		return
	}

	cg.emit("; Initialize loop")
	cg.emit("mov qword [%s], 0", loopVar)

	cg.visit(rangeArgs.Children[0]) // The range bound, kept on the stack
	cg.emit("push rax")

	cg.emit("%s:", startLabel)
	cg.emit("; Check loop condition")
	cg.emit("mov rax, qword [%s]", loopVar)
	cg.emit("pop rbx")
	cg.emit("push rbx")
	cg.emit("cmp rax, rbx")
	cg.emit("jge %s", endLabel)

	cg.emit("; Loop body")
	cg.visit(node.Children[2])

	cg.emit("; Increment loop variable")
	cg.emit("mov rax, qword [%s]", loopVar)
	cg.emit("inc rax")
	cg.emit("mov qword [%s], rax", loopVar)
	cg.emit("jmp %s", startLabel)

	cg.emit("%s:", endLabel)
	cg.emit("pop rbx")
}

// Function definition: label + rbp prologue, parameters spilled from their
// stack slots ([rbp+16], [rbp+24], ...) into their .data labels, then the
// body and the shared '.return_<name>' epilogue every return jumps to.
func (cg *CodeGenerator) genFunction(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}
	name := node.Value

	funcScope, found := lo.Find(cg.global.Children, func(child *python.Scope) bool {
		return child.Name == "function "+name
	})
	if !found {
		return // No scope was built under this name (a redefinition matches the first one's scope)
	}

	previousScope, previousFunction := cg.current, cg.currentFunction
	cg.current, cg.currentFunction = funcScope, name
	defer func() { cg.current, cg.currentFunction = previousScope, previousFunction }()

	params := node.Children[0]
	names := lo.Map(params.Children, func(param *python.Node, _ int) string { return param.Value })
	if duplicates := lo.FindDuplicates(names); len(duplicates) > 0 {
		cg.reportSemantics("Params Error : ",
			fmt.Sprintf("Duplicate parameter %s. Expected distinct parameters name.", duplicates[0]), node.Line)
		return
	}

	cg.emit("\n%s:", name)
	cg.emit("    push rbp")
	cg.emit("    mov rbp, rsp")

	for i, param := range params.Children {
		cg.declareVariable(param.Value)
		cg.emit("    mov rax, [rbp+%d]", 16+i*8)
		cg.emit("    mov [%s], rax", param.Value)
	}

	cg.visit(node.Children[1])

	cg.emit(".return_%s:", name)
	cg.emit("    mov rsp, rbp")
	cg.emit("    pop rbp")
	cg.emit("    ret")
}

// Call protocol: the caller saves the five callee-saved registers, realigns
// rsp to 16 bytes, pushes the arguments right to left, calls and unwinds.
// 'len' and 'list(range(...))' never reach it, they are inlined.
func (cg *CodeGenerator) genFunctionCall(node *python.Node) {
	if len(node.Children) < 2 {
		return
	}
	name := node.Children[0].Value
	args := node.Children[1]

	if name == "list" && len(args.Children) == 1 {
		if inner := args.Children[0]; inner.Kind == python.FunctionCallNode &&
			len(inner.Children) > 1 && inner.Children[0].Value == "range" {
			rangeArgs := inner.Children[1]
			if len(rangeArgs.Children) == 1 {
				cg.visit(rangeArgs.Children[0])
				cg.emit("call list_range")
				return
			}
		}
	}

	if name == "len" && len(args.Children) == 1 {
		cg.genLen(node, args.Children[0])
		return
	}

	cg.emit("; Save registers for function call")
	cg.emit("push rbx")
	cg.emit("push r12")
	cg.emit("push r13")
	cg.emit("push r14")
	cg.emit("push r15")

	cg.emit("; Align stack")
	cg.emit("mov rbx, rsp")
	cg.emit("and rsp, -16")
	cg.emit("push rbx")

	for i := len(args.Children) - 1; i >= 0; i-- {
		cg.visit(args.Children[i])
		cg.emit("push rax")
	}

	cg.emit("call %s", name)

	if len(args.Children) > 0 {
		cg.emit("add rsp, %d", len(args.Children)*8)
	}
	cg.emit("pop rsp")

	cg.emit("pop r15")
	cg.emit("pop r14")
	cg.emit("pop r13")
	cg.emit("pop r12")
	cg.emit("pop rbx")
}

// len(x): for a list the size word sits at the base address, for a string the
// bytes are counted up to the NUL terminator.
func (cg *CodeGenerator) genLen(node, param *python.Node) {
	cg.visit(param)

	paramType := cg.operandType(param)
	if param.Kind == python.FunctionCallNode && len(param.Children) > 0 {
		paramType = cg.callReturnType(param.Children[0].Value)
	}

	if paramType == python.TypeAuto && !cg.checkOperandKnown(param, paramType) {
		return
	}
	if paramType != python.TypeString && paramType != python.TypeList && paramType != python.TypeAuto {
		cg.reportSemantics("len Error; ", "Used len on non-list or non-string variable", node.Line)
		return
	}

	if paramType == python.TypeString {
		lenID := cg.lenCounter
		cg.lenCounter++
		cg.emit("mov rsi, rax")
		cg.emit("mov rax, 0")
		cg.emit(".len_strlen_loop_%d:", lenID)
		cg.emit("cmp byte [rsi+rax], 0")
		cg.emit("je .len_strlen_done_%d", lenID)
		cg.emit("inc rax")
		cg.emit("jmp .len_strlen_loop_%d", lenID)
		cg.emit(".len_strlen_done_%d:", lenID)
		return
	}

	cg.emit("mov rax, [rax]  ; List size word")
}

// return e: result in rax (zeroed when bare), then off to the epilogue.
func (cg *CodeGenerator) genReturn(node *python.Node) {
	if len(node.Children) > 0 {
		cg.visit(node.Children[0])
	} else {
		cg.emit("    xor rax, rax")
	}

	cg.emit("    jmp .return_%s", cg.currentFunction)
}

// List literal: the next free slot of the list arena gets the size word then
// the element words; the base address is the expression's value. An empty
// literal stores a single zero word.
func (cg *CodeGenerator) genList(node *python.Node) {
	cg.emit("mov rbx, [list_offset]")
	cg.emit("mov rax, list_buffer")
	cg.emit("add rax, rbx")
	cg.emit("push rax")

	if len(node.Children) == 0 {
		cg.emit("mov rcx, [list_offset]")
		cg.emit("mov qword [list_buffer + rcx], 0")
		cg.emit("add rcx, 8")
		cg.emit("mov [list_offset], rcx")
	} else {
		cg.emit("mov rcx, [list_offset]")
		cg.emit("mov qword [list_buffer + rcx], %d", len(node.Children))
		cg.emit("add rcx, 8")
		cg.emit("mov [list_offset], rcx")

		for _, element := range node.Children {
			cg.visit(element)
			if !cg.checkOperandKnown(element, cg.operandType(element)) {
				return
			}
			cg.emit("mov rcx, [list_offset]")
			cg.emit("mov [list_buffer + rcx], rax")
			cg.emit("add rcx, 8")
			cg.emit("mov [list_offset], rcx")
		}
	}

	cg.emit("pop rax")
}

package python

import (
	"fmt"

	"github.com/samber/lo"

	"its-hmny.dev/py2nasm/pkg/diag"
	"its-hmny.dev/py2nasm/pkg/utils"
)

// ----------------------------------------------------------------------------
// Python Type Checker

// This section defines the semantic pass run between symbol building and code
// emission. It never mutates the AST nor the scope tree: every finding is a
// Semantic diagnostic on the shared manager and the walk always continues to
// the next sibling, so one run surfaces as many problems as possible.
//
// Checks performed:
// - Function calls: callee defined, argument count matches the registered
//   arity, built-ins ('list', 'len', 'range') called w/ exactly one argument
// - 'print' called with at least one argument
// - 'return' only inside a function body
// - 'for' loop variables: no shadowing of an already open loop variable, no
//   assignment targeting an open loop variable

// Built-in callees, resolved by the emitter instead of the scope tree.
var builtinNames = []string{"list", "len", "range", "print"}

type TypeChecker struct {
	diags *diag.Manager

	loopVariables utils.Stack[string] // Loop variables of the currently open 'for' nests
}

// Initializes and returns to the caller a brand new 'TypeChecker' struct.
func NewTypeChecker(diags *diag.Manager) *TypeChecker {
	return &TypeChecker{diags: diags}
}

// Checker entrypoint: walks the whole Program against the scope tree.
func (tc *TypeChecker) Check(root *Node, global *Scope) {
	tc.loopVariables = utils.NewStack[string]()
	tc.visit(root, global)
}

func (tc *TypeChecker) visit(node *Node, scope *Scope) {
	if node == nil {
		return
	}

	switch node.Kind {
	case FunctionDefNode:
		// Redefinitions are already reported by the SymbolTableBuilder, here we
		// only descend into the body with the function's own scope (a
		// redefinition matches the first definition's scope by name).
		functionScope, found := lo.Find(scope.Children, func(child *Scope) bool {
			return child.Name == "function "+node.Value
		})
		if !found {
			return // No scope was built under this name
		}

		if len(node.Children) >= 2 {
			tc.visit(node.Children[1], functionScope)
		}
		return

	case FunctionCallNode:
		tc.checkFunctionCall(node, scope)

	case PrintNode:
		if len(node.Children) == 0 || node.Children[0].Kind != ListNode || len(node.Children[0].Children) == 0 {
			tc.diags.AddError(diag.Error{
				Message:  "Print function should be called with at least one parameter.",
				Category: diag.Semantic, Line: node.Line,
			})
		}

	case ReturnNode:
		if !insideFunction(scope) {
			tc.diags.AddError(diag.Error{
				Message:  "Return statement outside of a function.",
				Category: diag.Semantic, Line: node.Line,
			})
		}

	case ForNode:
		loopVar := node.Children[0].Value
		if tc.loopVariables.Contains(loopVar) {
			tc.diags.AddError(diag.Error{
				Message: "Loop variable name already exists in scope: " + scope.Name +
					". Variable shadowing is not allowed: ",
				Value: loopVar, Category: diag.Semantic, Line: node.Line,
			})
		}
		tc.loopVariables.Push(loopVar)

	case AffectNode:
		if target := node.Children[0]; target.Kind == IdentifierNode && tc.loopVariables.Contains(target.Value) {
			tc.diags.AddError(diag.Error{
				Message: "You can't affect a variable with this name, shadowing a loop variable is forbidden: ",
				Value:   target.Value, Category: diag.Semantic, Line: node.Line,
			})
		}
	}

	for _, child := range node.Children {
		tc.visit(child, scope)
	}

	if node.Kind == ForNode {
		tc.loopVariables.Pop()
	}
}

func (tc *TypeChecker) checkFunctionCall(node *Node, scope *Scope) {
	if len(node.Children) == 0 {
		return
	}

	callee := node.Children[0]
	var params *Node
	if len(node.Children) > 1 {
		params = node.Children[1]
	}

	if lo.Contains(builtinNames, callee.Value) {
		if params != nil && len(params.Children) != 1 {
			tc.diags.AddError(diag.Error{
				Message:  fmt.Sprintf("Function %s expects exactly one parameter.", callee.Value),
				Category: diag.Semantic, Line: node.Line,
			})
		}
		return
	}

	function, isFunc := scope.Find(callee.Value).(*FunctionSymbol)
	if !isFunc {
		tc.diags.AddError(diag.Error{
			Message: "Function Call Error: ",
			Value:   fmt.Sprintf("Function %s is not defined.", callee.Value),
			Category: diag.Semantic, Line: node.Line,
		})
		return
	}

	actual := 0
	if params != nil {
		actual = len(params.Children)
	}
	if function.NumParams != actual {
		tc.diags.AddError(diag.Error{
			Message: "Function Call Error: ",
			Value: fmt.Sprintf("Function %s expects %d arguments, but %d were provided.",
				function.Name, function.NumParams, actual),
			Category: diag.Semantic, Line: node.Line,
		})
	}
}

// Reports whether 'scope' is (or sits below) a function scope.
func insideFunction(scope *Scope) bool {
	for current := scope; current != nil; current = current.Parent {
		if len(current.Name) > 9 && current.Name[:9] == "function " {
			return true
		}
	}
	return false
}

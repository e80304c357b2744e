package python

import (
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"

	"its-hmny.dev/py2nasm/pkg/diag"
)

// ----------------------------------------------------------------------------
// Scope & Symbols

// This section defines the Scope tree and the symbols recorded inside it.
//
// The root scope is named 'global', every function definition adds one child
// scope named 'function <name>'. A scope owns its children; the Parent link is
// a plain non-owning back-reference used only during lookup (the tree is
// acyclic by construction). Within one scope symbol names are unique and the
// insertion order is preserved, which is what makes the stack layout stable.
//
// Symbols come in three variants and use sites discriminate by type switch:
// - VariableSymbol: variables and parameters, w/ a source type and an offset
// - FunctionSymbol: user functions, w/ arity, return type, scope id and frame
// - ArraySymbol:    fixed size arrays (reserved for future layout needs)
//
// Stack layout convention: parameters sit at [rbp+16], [rbp+24], ... in
// declaration order, locals at [rbp-8], [rbp-16], ... in first-assignment
// order. Globals are addressed by label so their offset is unused.

// Source-language types, recorded as plain strings next to each symbol.
const (
	TypeInteger = "Integer"
	TypeString  = "String"
	TypeList    = "List"
	TypeBoolean = "Boolean"
	TypeAuto    = "auto"    // Not inferred yet
	TypeAutoFun = "autoFun" // Function w/o any return statement
	TypeVoid    = "void"    // Function whose returns carry no operand
)

const (
	CategoryVariable  = "variable"
	CategoryParameter = "parameter"
)

// Used to put together the three symbol variants in the same container.
type Symbol interface{}

type VariableSymbol struct {
	Name     string
	Type     string // One of the Type* constants above
	Category string // CategoryVariable or CategoryParameter
	IsGlobal bool   // True if addressed by label in .data, false if stack-relative
	Offset   int    // Byte displacement from rbp (unused for globals)
}

type FunctionSymbol struct {
	Name       string
	ReturnType string
	NumParams  int
	TableID    int // ID of the child Scope holding the function's symbols
	FrameSize  int // Local area size, padded so FrameSize+40 is 16-byte aligned
	Offset     int
}

type ArraySymbol struct {
	Name        string
	ElementType string
	Size        int
	IsGlobal    bool
	Offset      int
}

// Returns the name under which 'sym' is registered in its scope.
func SymbolName(sym Symbol) string {
	switch tSym := sym.(type) {
	case *VariableSymbol:
		return tSym.Name
	case *FunctionSymbol:
		return tSym.Name
	case *ArraySymbol:
		return tSym.Name
	default:
		return ""
	}
}

type Scope struct {
	Name           string
	Parent         *Scope // Non-owning back-reference, nil on the global scope
	ID             int
	Symbols        []Symbol // Insertion ordered, names are unique
	Children       []*Scope // Owned subscopes, one per function definition
	NextDataOffset int      // Layout cursor for globals in the .data section
}

// Initializes and returns to the caller a brand new 'Scope' struct.
func NewScope(name string, parent *Scope, id int) *Scope {
	return &Scope{Name: name, Parent: parent, ID: id, Symbols: []Symbol{}, Children: []*Scope{}}
}

// Registers 'sym' in the scope, a no-op when the name is already bound (the
// name-uniqueness invariant always wins over the newcomer).
func (s *Scope) AddSymbol(sym Symbol) {
	exists := lo.ContainsBy(s.Symbols, func(entry Symbol) bool {
		return SymbolName(entry) == SymbolName(sym)
	})
	if exists {
		return
	}

	s.Symbols = append(s.Symbols, sym)
}

// Resolves 'name' in the current scope first and then up the Parent chain.
func (s *Scope) Find(name string) Symbol {
	for _, sym := range s.Symbols {
		if SymbolName(sym) == name {
			return sym
		}
	}
	if s.Parent != nil {
		return s.Parent.Find(name)
	}
	return nil
}

// Resolves 'name' in the current scope only, no Parent chain walk.
func (s *Scope) FindImmediate(name string) Symbol {
	for _, sym := range s.Symbols {
		if SymbolName(sym) == name {
			return sym
		}
	}
	return nil
}

// Returns the source type currently recorded for 'name': the type of a
// variable, the return type of a function, TypeAuto when unknown.
func (s *Scope) TypeOf(name string) string {
	switch sym := s.Find(name).(type) {
	case *VariableSymbol:
		return sym.Type
	case *FunctionSymbol:
		return sym.ReturnType
	case *ArraySymbol:
		return TypeList
	default:
		return TypeAuto
	}
}

// Writes an indented textual dump of the scope tree to 'w' (debug helper).
func (s *Scope) Display(w io.Writer, indent int) {
	pad := strings.Repeat(" ", indent)
	fmt.Fprintf(w, "%sScope: %s, id = %d, nextDataOffset = %d\n", pad, s.Name, s.ID, s.NextDataOffset)

	for _, sym := range s.Symbols {
		switch tSym := sym.(type) {
		case *VariableSymbol:
			fmt.Fprintf(w, "%s  %s : %s (type=%s, global=%t, offset: %d)\n",
				pad, tSym.Category, tSym.Name, tSym.Type, tSym.IsGlobal, tSym.Offset)
		case *FunctionSymbol:
			fmt.Fprintf(w, "%s  function : %s (returnType=%s, numParams=%d, frameSize: %d, table ID: %d)\n",
				pad, tSym.Name, tSym.ReturnType, tSym.NumParams, tSym.FrameSize, tSym.TableID)
		case *ArraySymbol:
			fmt.Fprintf(w, "%s  array : %s (elementType=%s, size=%d, global=%t, offset: %d)\n",
				pad, tSym.Name, tSym.ElementType, tSym.Size, tSym.IsGlobal, tSym.Offset)
		}
	}

	for _, child := range s.Children {
		child.Display(w, indent+2)
	}
}

// ----------------------------------------------------------------------------
// Symbol Table Builder

// The builder walks the Program node and produces the whole scope tree in one
// pass: user functions w/ parameter and local layout, top-level globals, and a
// lightweight (single pass, monotonic) type inference over assignment RHSs.
type SymbolTableBuilder struct {
	diags         *diag.Manager
	nextTableID   int
	seenFunctions map[string]bool
}

// Initializes and returns to the caller a brand new 'SymbolTableBuilder'.
func NewSymbolTableBuilder(diags *diag.Manager) *SymbolTableBuilder {
	return &SymbolTableBuilder{diags: diags}
}

// Builder entrypoint: registers everything reachable from 'root' and returns
// the global scope. Running it twice on the same AST yields equal trees.
func (b *SymbolTableBuilder) Build(root *Node) *Scope {
	b.nextTableID = 0
	b.seenFunctions = map[string]bool{}

	global := NewScope("global", nil, b.nextTableID)
	b.nextTableID++

	if root != nil {
		for _, child := range root.Children {
			b.buildScopesAndSymbols(child, global, global)
		}
	}
	return global
}

func (b *SymbolTableBuilder) buildScopesAndSymbols(node *Node, global, current *Scope) {
	if node == nil {
		return
	}

	switch node.Kind {
	case FunctionDefNode:
		b.handleFunctionDef(node, global)

	case AffectNode:
		if len(node.Children) >= 2 && node.Children[0].Kind == IdentifierNode {
			name := node.Children[0].Value
			inferred := inferExprType(node.Children[1], current)

			if variable, isVar := current.Find(name).(*VariableSymbol); isVar {
				if inferred != TypeAuto { // Monotonic: concrete overwrites, auto never downgrades
					variable.Type = inferred
				}
			} else if current.Name == "global" {
				varType := inferred
				if varType == TypeAuto {
					varType = TypeInteger
				}
				current.AddSymbol(&VariableSymbol{Name: name, Type: varType, Category: CategoryVariable, IsGlobal: true})
			} else {
				b.diags.AddError(diag.Error{
					Message: "Assignment to undeclared local variable: ", Value: name,
					Category: diag.Semantic, Line: node.Line,
				})
			}
		}

	case ForNode:
		if len(node.Children) >= 1 && node.Children[0].Kind == IdentifierNode {
			name := node.Children[0].Value

			if current.FindImmediate(name) == nil && current.Name == "global" {
				loopVar := &VariableSymbol{
					Name: name, Type: TypeInteger, Category: CategoryVariable,
					IsGlobal: true, Offset: current.NextDataOffset,
				}
				current.AddSymbol(loopVar)
				current.NextDataOffset += 8
			}

			for _, child := range node.Children[1:] { // Iterable and loop body
				b.buildScopesAndSymbols(child, global, current)
			}
		}

	case ListCallNode:
		// Indexing marks the target as a List, whatever type it had before.
		if len(node.Children) >= 1 {
			if variable, isVar := current.Find(node.Children[0].Value).(*VariableSymbol); isVar {
				variable.Type = TypeList
			}
		}

	default:
		for _, child := range node.Children {
			b.buildScopesAndSymbols(child, global, current)
		}
	}
}

func (b *SymbolTableBuilder) handleFunctionDef(node *Node, global *Scope) {
	name := node.Value

	if b.seenFunctions[name] {
		b.diags.AddError(diag.Error{
			Message: "Function already defined: ", Value: name,
			Category: diag.Semantic, Line: node.Line,
		})
		return
	}
	b.seenFunctions[name] = true

	funcScope := NewScope("function "+name, global, b.nextTableID)
	b.nextTableID++

	numParams := 0
	if len(node.Children) > 0 && node.Children[0].Kind == FormalParamNode {
		numParams = len(node.Children[0].Children)

		paramOffset := 16 // First parameter at [rbp+16], one qword each
		for _, param := range node.Children[0].Children {
			funcScope.AddSymbol(&VariableSymbol{
				Name: param.Value, Type: TypeAuto, Category: CategoryParameter, Offset: paramOffset,
			})
			paramOffset += 8
		}
	}

	localOffset := -8
	if len(node.Children) > 1 && node.Children[1].Kind == FunctionBody {
		b.discoverLocals(node.Children[1], funcScope, &localOffset)
	}

	function := &FunctionSymbol{
		Name: name, ReturnType: b.inferReturnType(node, funcScope),
		NumParams: numParams, TableID: funcScope.ID,
	}

	// Five callee-saved qwords ride on top of the local area; the frame is
	// padded so that the total stack usage stays 16-byte aligned.
	localsSize := 0
	if localOffset != -8 {
		localsSize = -(localOffset + 8)
	}
	padding := (16 - (localsSize+40)%16) % 16
	function.FrameSize = localsSize + padding

	global.AddSymbol(function)
	global.Children = append(global.Children, funcScope)
}

// Walks a function body and registers every first-assigned identifier (and
// every loop variable) as a local, handing out offsets -8, -16, ... in
// discovery order.
func (b *SymbolTableBuilder) discoverLocals(node *Node, funcScope *Scope, offset *int) {
	if node == nil {
		return
	}

	switch node.Kind {
	case AffectNode:
		if len(node.Children) >= 2 && node.Children[0].Kind == IdentifierNode {
			name := node.Children[0].Value
			if funcScope.FindImmediate(name) == nil {
				funcScope.AddSymbol(&VariableSymbol{
					Name: name, Type: inferExprType(node.Children[1], funcScope),
					Category: CategoryVariable, Offset: *offset,
				})
				*offset -= 8
			}
		}

	case ForNode:
		if len(node.Children) >= 1 && node.Children[0].Kind == IdentifierNode {
			name := node.Children[0].Value
			if funcScope.FindImmediate(name) == nil {
				funcScope.AddSymbol(&VariableSymbol{
					Name: name, Type: TypeInteger, Category: CategoryVariable, Offset: *offset,
				})
				*offset -= 8
			}
		}
		if len(node.Children) > 2 {
			b.discoverLocals(node.Children[2], funcScope, offset)
		}
		return // The iterable cannot declare anything
	}

	for _, child := range node.Children {
		b.discoverLocals(child, funcScope, offset)
	}
}

// Collects the return statements of a function body and derives the return
// type: the first concrete operand type wins, 'void' when every return is
// bare, 'autoFun' when the body has no return at all.
func (b *SymbolTableBuilder) inferReturnType(funcDef *Node, funcScope *Scope) string {
	hasReturn, hasOperand := false, false
	firstConcrete := ""

	var findReturns func(node *Node)
	findReturns = func(node *Node) {
		if node == nil {
			return
		}

		if node.Kind == ReturnNode {
			hasReturn = true
			if len(node.Children) > 0 {
				hasOperand = true
				if exprType := inferExprType(node.Children[0], funcScope); exprType != TypeAuto && firstConcrete == "" {
					firstConcrete = exprType
				}
			}
		}

		for _, child := range node.Children {
			findReturns(child)
		}
	}

	if len(funcDef.Children) > 1 && funcDef.Children[1].Kind == FunctionBody {
		findReturns(funcDef.Children[1])
	}

	switch {
	case !hasReturn:
		return TypeAutoFun
	case firstConcrete != "":
		return firstConcrete
	case !hasOperand:
		return TypeVoid
	default:
		return TypeAutoFun
	}
}

// Single-pass expression type inference used by the builder. Arithmetic is
// provisionally Integer (the emitter performs the final string/list
// discrimination at the use site, with its own typing).
func inferExprType(node *Node, scope *Scope) string {
	if node == nil {
		return TypeAuto
	}

	switch node.Kind {
	case ListNode:
		return TypeList
	case StringNode:
		return TypeString
	case IntegerNode:
		return TypeInteger
	case TrueNode, FalseNode:
		return TypeBoolean
	case IdentifierNode:
		return scope.TypeOf(node.Value)
	case FunctionCallNode:
		if len(node.Children) == 0 || node.Children[0].Kind != IdentifierNode {
			return TypeAuto
		}
		switch callee := node.Children[0].Value; callee {
		case "list":
			return TypeList
		case "len":
			return TypeInteger
		default:
			if function, isFunc := scope.Find(callee).(*FunctionSymbol); isFunc {
				return function.ReturnType
			}
			return TypeAuto
		}
	case CompareNode, AndNode, OrNode, NotNode:
		return TypeBoolean
	case ArithOpNode, TermOpNode, UnaryOpNode:
		return TypeInteger
	default:
		return TypeAuto
	}
}

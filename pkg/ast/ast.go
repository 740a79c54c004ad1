// Package ast holds the typed syntax tree handed from the front end to the
// backend. Statements, expressions and types are closed sets: every variant
// carries an unexported marker method, so a type switch over them lists
// every case the package defines.
package ast

import (
	"fmt"
	"strings"
)

//  Types

// Type is a storage type. Size is measured in machine words.
type Type interface {
	typeNode()
	Size() int
	String() string
}

// Int16 is the only scalar type.
type Int16 struct{}

func (Int16) typeNode()      {}
func (Int16) Size() int      { return 1 }
func (Int16) String() string { return "int16" }

// NamedType is an unresolved type reference as written in the source.
// Type resolution replaces every NamedType with a concrete type.
type NamedType struct {
	Name string
	Line int
}

func (*NamedType) typeNode()        {}
func (*NamedType) Size() int        { return 0 }
func (n *NamedType) String() string { return n.Name }

// Field is a member of a struct, laid out at Offset words from its base.
type Field struct {
	Name   string
	Type   Type
	Offset int
}

// StructType is a user-defined aggregate.
type StructType struct {
	Name   string
	Fields []*Field
	size   int
}

func (*StructType) typeNode()        {}
func (s *StructType) Size() int      { return s.size }
func (s *StructType) String() string { return "struct " + s.Name }

// SetSize records the computed size. Only type resolution calls it.
func (s *StructType) SetSize(n int) { s.size = n }

// FieldByName returns the named field or nil.
func (s *StructType) FieldByName(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

//  Program

// Decl is a top-level entity.
type Decl interface {
	declNode()
}

// Program is one compilation unit, in source order.
type Program struct {
	Decls []Decl
}

// Functions returns the function definitions in source order.
func (p *Program) Functions() []*Function {
	var out []*Function
	for _, d := range p.Decls {
		if fn, ok := d.(*Function); ok {
			out = append(out, fn)
		}
	}
	return out
}

// StructDecl declares a struct type.
type StructDecl struct {
	Type *StructType
	Line int
}

func (*StructDecl) declNode() {}

// AsmDecl is a literal assembly line copied verbatim into the output.
type AsmDecl struct {
	Text string
	Line int
}

func (*AsmDecl) declNode() {}

// Function is a top-level function definition.
type Function struct {
	Name   string
	Params ParamList
	Return Type
	Body   *CodeBlock
	Line   int
}

func (*Function) declNode() {}

func (f *Function) String() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.Name + "->" + p.Type.String()
	}
	return fmt.Sprintf("function %s(%s)->%s", f.Name, strings.Join(parts, ", "), f.Return)
}

//  Scopes

// Scope resolves a name to a variable by walking outwards.
type Scope interface {
	Lookup(name string) *LocalVar
}

// LocalVar is a parameter or a block-local declaration. Its identity (the
// pointer) is the key under which later passes record its stack offset.
type LocalVar struct {
	Name string
	Type Type
	Line int
}

// ParamList is the outermost scope of a function.
type ParamList []*LocalVar

func (pl ParamList) Lookup(name string) *LocalVar {
	for _, p := range pl {
		if p.Name == name {
			return p
		}
	}
	return nil
}

//  Statements

// Stmt is implemented by every statement node.
type Stmt interface {
	stmtNode()
}

// CodeBlock is a braced statement list. Parent is the enclosing block, or
// the function's ParamList for a function body.
type CodeBlock struct {
	Stmts  []Stmt
	Parent Scope
	Line   int
}

func (*CodeBlock) stmtNode() {}

// Locals returns the variables declared directly in this block.
func (b *CodeBlock) Locals() []*LocalVar {
	var out []*LocalVar
	for _, s := range b.Stmts {
		if d, ok := s.(*VarDecl); ok {
			out = append(out, d.Var)
		}
	}
	return out
}

// Lookup searches this block's own declarations, then its parents.
func (b *CodeBlock) Lookup(name string) *LocalVar {
	for _, s := range b.Stmts {
		if d, ok := s.(*VarDecl); ok && d.Var.Name == name {
			return d.Var
		}
	}
	if b.Parent == nil {
		return nil
	}
	return b.Parent.Lookup(name)
}

// VarDecl declares a block-local variable.
//
//	var x->int16;
type VarDecl struct {
	Var *LocalVar
}

func (*VarDecl) stmtNode() {}

// Assign stores Value into the named variable. The name "_" discards.
//
//	let x = a + 1;
type Assign struct {
	Name  string
	Value Expr
	Line  int
}

func (*Assign) stmtNode() {}

// Return leaves the function. Value is nil for a bare return.
type Return struct {
	Value Expr
	Line  int
}

func (*Return) stmtNode() {}

// While loops over Body while Cond is non-zero.
type While struct {
	Cond Expr
	Body *CodeBlock
	Line int
}

func (*While) stmtNode() {}

// If runs Then when Cond is non-zero, otherwise Else (which may be nil).
type If struct {
	Cond Expr
	Then *CodeBlock
	Else *CodeBlock
	Line int
}

func (*If) stmtNode() {}

//  Expressions

// Expr is implemented by every node that produces a value.
type Expr interface {
	exprNode()
	String() string
}

// Ident reads a variable. After type resolution, a name that denotes a
// function is rewritten to a label Literal instead.
type Ident struct {
	Name string
	Line int
}

func (*Ident) exprNode()        {}
func (i *Ident) String() string { return i.Name }

// Literal is an integer constant, or the address of a label when Label is set.
type Literal struct {
	Value int
	Label string
	Line  int
}

func (*Literal) exprNode() {}
func (l *Literal) String() string {
	if l.Label != "" {
		return "@" + l.Label
	}
	return fmt.Sprintf("%d", l.Value)
}

// Operator is a unary or binary operator.
type Operator int

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpGt
	OpNeg
	OpNot
)

var operatorNames = [...]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpAnd: "&",
	OpOr:  "|",
	OpXor: "^",
	OpShl: "<<",
	OpShr: ">>",
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpGt:  ">",
	OpNeg: "-",
	OpNot: "~",
}

func (op Operator) String() string {
	if int(op) >= 0 && int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

// Relational reports whether op yields a 0/1 truth value.
func (op Operator) Relational() bool {
	return op == OpEq || op == OpNe || op == OpLt || op == OpGt
}

// Unary applies Op to X.
type Unary struct {
	Op   Operator
	X    Expr
	Line int
}

func (*Unary) exprNode()        {}
func (u *Unary) String() string { return fmt.Sprintf("(%s%s)", u.Op, u.X) }

// Binary applies Op to Left and Right.
type Binary struct {
	Op    Operator
	Left  Expr
	Right Expr
	Line  int
}

func (*Binary) exprNode() {}
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// Call invokes a function of the same unit.
type Call struct {
	Name string
	Args []Expr
	Line int
}

func (*Call) exprNode() {}
func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
}

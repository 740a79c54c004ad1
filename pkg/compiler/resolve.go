package compiler

import (
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ast"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/irgen"
)

// Unit is a resolved compilation unit.
type Unit struct {
	Program *ast.Program
	Structs map[string]*ast.StructType
	Funcs   irgen.Funcs
}

// Function implements irgen.Unit.
func (u *Unit) Function(name string) *ast.Function { return u.Funcs[name] }

type resolver struct {
	unit *Unit
	// 1 while a struct's size is being computed, 2 once known.
	state map[*ast.StructType]int
}

func resolveError(kind diag.Kind, line int, format string, args ...any) *diag.Error {
	return diag.Errorf(diag.StageResolve, kind, format, args...).AtLine(line)
}

// Resolve replaces every named type in prog with a concrete one, computes
// struct layouts, builds the function table and rewrites identifiers that
// name a function into label literals. The tree is updated in place.
func Resolve(prog *ast.Program) (*Unit, error) {
	r := &resolver{
		unit: &Unit{
			Program: prog,
			Structs: make(map[string]*ast.StructType),
			Funcs:   make(irgen.Funcs),
		},
		state: make(map[*ast.StructType]int),
	}

	for _, d := range prog.Decls {
		switch d := d.(type) {
		case *ast.StructDecl:
			if _, dup := r.unit.Structs[d.Type.Name]; dup {
				return nil, resolveError(diag.KindNameResolution, d.Line, "duplicate struct").WithName(d.Type.Name)
			}
			r.unit.Structs[d.Type.Name] = d.Type
		case *ast.Function:
			if _, dup := r.unit.Funcs[d.Name]; dup {
				return nil, resolveError(diag.KindNameResolution, d.Line, "duplicate function").WithName(d.Name)
			}
			r.unit.Funcs[d.Name] = d
		}
	}

	for _, d := range prog.Decls {
		if sd, ok := d.(*ast.StructDecl); ok {
			if err := r.layoutStruct(sd.Type, sd.Line); err != nil {
				return nil, err
			}
		}
	}

	for _, fn := range prog.Functions() {
		if err := r.function(fn); err != nil {
			return nil, err
		}
	}
	return r.unit, nil
}

func (r *resolver) resolveType(t ast.Type, line int) (ast.Type, error) {
	switch t := t.(type) {
	case ast.Int16:
		return t, nil
	case *ast.StructType:
		return t, r.layoutStruct(t, line)
	case *ast.NamedType:
		st, ok := r.unit.Structs[t.Name]
		if !ok {
			return nil, resolveError(diag.KindType, t.Line, "unknown type").WithName(t.Name)
		}
		return st, r.layoutStruct(st, t.Line)
	}
	return nil, diag.Internal(diag.StageResolve, "unknown type node %T", t)
}

// layoutStruct assigns field offsets in declaration order.
func (r *resolver) layoutStruct(st *ast.StructType, line int) error {
	switch r.state[st] {
	case 2:
		return nil
	case 1:
		return resolveError(diag.KindType, line, "recursive struct").WithName(st.Name)
	}
	r.state[st] = 1

	seen := make(map[string]bool)
	off := 0
	for _, f := range st.Fields {
		if seen[f.Name] {
			return resolveError(diag.KindNameResolution, line, "duplicate field in struct %s", st.Name).WithName(f.Name)
		}
		seen[f.Name] = true
		t, err := r.resolveType(f.Type, line)
		if err != nil {
			return err
		}
		f.Type = t
		f.Offset = off
		off += t.Size()
	}
	if off == 0 {
		return resolveError(diag.KindType, line, "empty struct").WithName(st.Name)
	}
	st.SetSize(off)
	r.state[st] = 2
	return nil
}

func (r *resolver) function(fn *ast.Function) error {
	for _, p := range fn.Params {
		t, err := r.resolveType(p.Type, p.Line)
		if err != nil {
			return err
		}
		if t.Size() != 1 {
			return resolveError(diag.KindUnsupported, p.Line, "struct parameter").WithFunc(fn.Name).WithName(p.Name)
		}
		p.Type = t
	}
	ret, err := r.resolveType(fn.Return, fn.Line)
	if err != nil {
		return err
	}
	if ret.Size() != 1 {
		return resolveError(diag.KindUnsupported, fn.Line, "struct return type").WithFunc(fn.Name)
	}
	fn.Return = ret
	return r.block(fn, fn.Body)
}

func (r *resolver) block(fn *ast.Function, b *ast.CodeBlock) error {
	if b == nil {
		return nil
	}
	for _, s := range b.Stmts {
		var err error
		switch s := s.(type) {
		case *ast.VarDecl:
			var t ast.Type
			if t, err = r.resolveType(s.Var.Type, s.Var.Line); err == nil {
				s.Var.Type = t
			}
		case *ast.CodeBlock:
			err = r.block(fn, s)
		case *ast.Assign:
			s.Value, err = r.expr(b, s.Value)
		case *ast.Return:
			if s.Value != nil {
				s.Value, err = r.expr(b, s.Value)
			}
		case *ast.While:
			if s.Cond, err = r.expr(b, s.Cond); err == nil {
				err = r.block(fn, s.Body)
			}
		case *ast.If:
			if s.Cond, err = r.expr(b, s.Cond); err == nil {
				if err = r.block(fn, s.Then); err == nil {
					err = r.block(fn, s.Else)
				}
			}
		default:
			err = diag.Internal(diag.StageResolve, "unknown statement %T", s)
		}
		if err != nil {
			if de, ok := err.(*diag.Error); ok && de.Func == "" {
				return de.WithFunc(fn.Name)
			}
			return err
		}
	}
	return nil
}

// expr returns e with function-name identifiers replaced by label literals.
// Variables shadow functions.
func (r *resolver) expr(scope ast.Scope, e ast.Expr) (ast.Expr, error) {
	var err error
	switch e := e.(type) {
	case *ast.Ident:
		if scope.Lookup(e.Name) == nil {
			if _, ok := r.unit.Funcs[e.Name]; ok {
				return &ast.Literal{Label: e.Name, Line: e.Line}, nil
			}
		}
		return e, nil
	case *ast.Literal:
		return e, nil
	case *ast.Unary:
		e.X, err = r.expr(scope, e.X)
		return e, err
	case *ast.Binary:
		if e.Left, err = r.expr(scope, e.Left); err != nil {
			return nil, err
		}
		e.Right, err = r.expr(scope, e.Right)
		return e, err
	case *ast.Call:
		for i, a := range e.Args {
			if e.Args[i], err = r.expr(scope, a); err != nil {
				return nil, err
			}
		}
		return e, nil
	}
	return nil, diag.Internal(diag.StageResolve, "unknown expression %T", e)
}

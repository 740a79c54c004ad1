package irgen

import (
	"strings"
	"testing"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ast"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/layout"
)

func int16Var(name string) *ast.LocalVar {
	return &ast.LocalVar{Name: name, Type: ast.Int16{}, Line: 1}
}

func function(name string, params ast.ParamList, stmts ...ast.Stmt) *ast.Function {
	return &ast.Function{Name: name, Params: params, Return: ast.Int16{}, Body: &ast.CodeBlock{Stmts: stmts, Parent: params}}
}

func build(t *testing.T, fn *ast.Function, unit Unit) (*ir.Func, error) {
	t.Helper()
	frame, err := layout.Layout(fn)
	if err != nil {
		t.Fatal(err)
	}
	return Build(fn, frame, unit, ir.NewCounter())
}

func lines(steps []ir.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}

func expectSteps(t *testing.T, got []ir.Step, want []string) {
	t.Helper()
	g := lines(got)
	if strings.Join(g, "\n") != strings.Join(want, "\n") {
		t.Errorf("steps\ngot:\n%s\nwant:\n%s", strings.Join(g, "\n"), strings.Join(want, "\n"))
	}
}

func ident(name string) *ast.Ident { return &ast.Ident{Name: name, Line: 1} }
func lit(v int) *ast.Literal       { return &ast.Literal{Value: v, Line: 1} }

func TestAssignAndIf(t *testing.T) {
	a, x := int16Var("a"), int16Var("x")
	fn := function("f", ast.ParamList{a},
		&ast.VarDecl{Var: x},
		&ast.Assign{Name: "x", Value: &ast.Binary{Op: ast.OpAdd, Left: ident("a"), Right: lit(1)}},
		&ast.If{
			Cond: &ast.Binary{Op: ast.OpGt, Left: ident("x"), Right: ident("a")},
			Then: &ast.CodeBlock{Stmts: []ast.Stmt{&ast.Return{Value: ident("x")}}},
		},
	)
	fn.Body.Stmts[2].(*ast.If).Then.Parent = fn.Body

	out, err := build(t, fn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Params != 1 || out.TopLocals != 1 || out.Extent != 3 {
		t.Errorf("frame facts %+v", out)
	}
	expectSteps(t, out.Steps, []string{
		"load l(0) -> v0",
		"const #1 -> v1",
		"add v0, v1 -> v2",
		"store v2 -> l(2)",
		"load l(2) -> v3",
		"load l(0) -> v4",
		"const #1 -> v5",
		"cmp v3, v4",
		"branch.gt @.rel2",
		"reset #0, v5",
		"label @.rel2",
		"cmp #0, v5",
		"branch.eq @.else0",
		"load l(2) -> v6",
		"ret v6, #3",
		"label @.else0",
		"label @.fi1",
		"ret -, #3",
	})
}

func TestNestedBlockMovesStack(t *testing.T) {
	y := int16Var("y")
	inner := &ast.CodeBlock{Stmts: []ast.Stmt{
		&ast.VarDecl{Var: y},
		&ast.Assign{Name: "y", Value: lit(2)},
	}}
	fn := function("f", nil, inner)
	inner.Parent = fn.Body

	out, err := build(t, fn, nil)
	if err != nil {
		t.Fatal(err)
	}
	expectSteps(t, out.Steps, []string{
		"stack_extend #1",
		"const #2 -> v0",
		"store v0 -> l(1)",
		"stack_retract #1",
		"ret -, #2",
	})
}

func TestWhileAndCall(t *testing.T) {
	g := function("g", ast.ParamList{int16Var("p")}, &ast.Return{Value: ident("p")})
	fn := function("f", nil,
		&ast.While{
			Cond: lit(0),
			Body: &ast.CodeBlock{Stmts: []ast.Stmt{
				&ast.Assign{Name: Discard, Value: &ast.Call{Name: "g", Args: []ast.Expr{lit(5)}}},
			}},
		},
		&ast.Return{Value: &ast.Unary{Op: ast.OpNeg, X: lit(3)}},
	)

	out, err := build(t, fn, Funcs{"g": g})
	if err != nil {
		t.Fatal(err)
	}
	expectSteps(t, out.Steps, []string{
		"label @.while0",
		"const #0 -> v0",
		"cmp #0, v0",
		"branch.eq @.wend1",
		"const #5 -> v1",
		"call @g, v1 -> v2",
		"branch.always @.while0",
		"label @.wend1",
		"const #3 -> v3",
		"const #0 -> v4",
		"sub v4, v3 -> v5",
		"ret v5, #1",
	})
}

func TestSharedCounter(t *testing.T) {
	ctr := ir.NewCounter()
	var labels []string
	for _, name := range []string{"f", "g"} {
		fn := function(name, nil, &ast.While{Cond: lit(1), Body: &ast.CodeBlock{}})
		frame, err := layout.Layout(fn)
		if err != nil {
			t.Fatal(err)
		}
		out, err := Build(fn, frame, nil, ctr)
		if err != nil {
			t.Fatal(err)
		}
		labels = append(labels, out.Steps[0].Srcs[0].Label)
	}
	if labels[0] == labels[1] {
		t.Errorf("both functions use label %s", labels[0])
	}
}

func TestBuildErrors(t *testing.T) {
	point := &ast.StructType{Name: "P"}
	point.SetSize(2)
	two := function("two", ast.ParamList{int16Var("a"), int16Var("b")}, &ast.Return{})

	tests := []struct {
		name string
		body []ast.Stmt
		kind diag.Kind
	}{
		{"undeclared read", []ast.Stmt{&ast.Return{Value: ident("nope")}}, diag.KindNameResolution},
		{"undeclared write", []ast.Stmt{&ast.Assign{Name: "nope", Value: lit(1)}}, diag.KindNameResolution},
		{"undefined call", []ast.Stmt{&ast.Return{Value: &ast.Call{Name: "h"}}}, diag.KindNameResolution},
		{"arity", []ast.Stmt{&ast.Return{Value: &ast.Call{Name: "two", Args: []ast.Expr{lit(1)}}}}, diag.KindArity},
		{"multiply", []ast.Stmt{&ast.Return{Value: &ast.Binary{Op: ast.OpMul, Left: lit(2), Right: lit(3)}}}, diag.KindUnsupported},
		{"struct value", []ast.Stmt{
			&ast.VarDecl{Var: &ast.LocalVar{Name: "p", Type: point}},
			&ast.Return{Value: ident("p")},
		}, diag.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := function("f", nil, tt.body...)
			_, err := build(t, fn, Funcs{"two": two})
			if !diag.Is(err, tt.kind) {
				t.Fatalf("got %v, want %s", err, tt.kind)
			}
			if !strings.Contains(err.Error(), "in function f") {
				t.Errorf("error does not name the function: %v", err)
			}
		})
	}
}

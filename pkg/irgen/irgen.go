// Package irgen lowers a laid-out function body into single-assignment IR.
package irgen

import (
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ast"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/layout"
)

// Discard is the assignment target that evaluates without storing.
const Discard = "_"

// Unit is what the builder needs to know about the rest of the compilation
// unit: the callable functions by name.
type Unit interface {
	Function(name string) *ast.Function
}

// Funcs is a Unit backed by a map.
type Funcs map[string]*ast.Function

func (m Funcs) Function(name string) *ast.Function { return m[name] }

var binaryOps = map[ast.Operator]ir.Op{
	ast.OpAdd: ir.OpAdd,
	ast.OpSub: ir.OpSub,
	ast.OpAnd: ir.OpAnd,
	ast.OpOr:  ir.OpOr,
	ast.OpXor: ir.OpXor,
	ast.OpShl: ir.OpShl,
	ast.OpShr: ir.OpShr,
}

// The branch skips the false override, so it is taken when the relation holds.
var relationalConds = map[ast.Operator]ir.Cond{
	ast.OpGt: ir.CondGt,
	ast.OpLt: ir.CondLt,
	ast.OpEq: ir.CondEq,
	ast.OpNe: ir.CondNe,
}

type builder struct {
	fn    *ast.Function
	frame *layout.Frame
	unit  Unit
	ctr   *ir.Counter
	scope ast.Scope
	steps []ir.Step
}

// Build lowers fn. The counter is shared across the unit so labels and
// registers stay unique.
func Build(fn *ast.Function, frame *layout.Frame, unit Unit, ctr *ir.Counter) (*ir.Func, error) {
	if fn == nil || fn.Body == nil || frame == nil {
		return nil, diag.Internal(diag.StageIRGen, "missing function or frame")
	}
	if unit == nil {
		unit = Funcs{}
	}
	b := &builder{fn: fn, frame: frame, unit: unit, ctr: ctr, scope: fn.Body}

	if err := b.stmts(fn.Body.Stmts); err != nil {
		return nil, err
	}
	if !endsInReturn(fn.Body) {
		b.emit(ir.Step{Op: ir.OpRet, Srcs: []ir.Loc{ir.None, ir.Imm(frame.Extent)}})
	}

	return &ir.Func{
		Name:      fn.Name,
		Params:    frame.Params,
		TopLocals: frame.TopLocals,
		Extent:    frame.Extent,
		Steps:     b.steps,
	}, nil
}

func endsInReturn(b *ast.CodeBlock) bool {
	if len(b.Stmts) == 0 {
		return false
	}
	_, ok := b.Stmts[len(b.Stmts)-1].(*ast.Return)
	return ok
}

func (b *builder) emit(s ir.Step) {
	b.steps = append(b.steps, s)
}

func (b *builder) fail(kind diag.Kind, line int, format string, args ...any) *diag.Error {
	return diag.Errorf(diag.StageIRGen, kind, format, args...).WithFunc(b.fn.Name).AtLine(line)
}

func (b *builder) block(cb *ast.CodeBlock) error {
	extent := b.frame.BlockExtent[cb]
	if extent > 0 {
		b.emit(ir.Step{Op: ir.OpStackExtend, Srcs: []ir.Loc{ir.Imm(extent)}})
	}
	outer := b.scope
	b.scope = cb
	err := b.stmts(cb.Stmts)
	b.scope = outer
	if err != nil {
		return err
	}
	if extent > 0 {
		b.emit(ir.Step{Op: ir.OpStackRetract, Srcs: []ir.Loc{ir.Imm(extent)}})
	}
	return nil
}

func (b *builder) stmts(list []ast.Stmt) error {
	for _, s := range list {
		if err := b.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) stmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.VarDecl:
		return nil

	case *ast.CodeBlock:
		return b.block(s)

	case *ast.Assign:
		if s.Name == Discard {
			_, err := b.expr(s.Value)
			return err
		}
		slot, err := b.slot(s.Name, s.Line)
		if err != nil {
			return err
		}
		v, err := b.expr(s.Value)
		if err != nil {
			return err
		}
		b.emit(ir.Step{Op: ir.OpStore, Srcs: []ir.Loc{v}, Dst: slot})
		return nil

	case *ast.Return:
		val := ir.None
		if s.Value != nil {
			v, err := b.expr(s.Value)
			if err != nil {
				return err
			}
			val = v
		}
		b.emit(ir.Step{Op: ir.OpRet, Srcs: []ir.Loc{val, ir.Imm(b.frame.Extent)}})
		return nil

	case *ast.While:
		top := b.ctr.Label("while")
		end := b.ctr.Label("wend")
		b.emit(labelStep(top))
		if err := b.condFalse(s.Cond, end); err != nil {
			return err
		}
		if err := b.block(s.Body); err != nil {
			return err
		}
		b.emit(branchStep(ir.CondAlways, top))
		b.emit(labelStep(end))
		return nil

	case *ast.If:
		elseL := b.ctr.Label("else")
		end := b.ctr.Label("fi")
		if err := b.condFalse(s.Cond, elseL); err != nil {
			return err
		}
		if err := b.block(s.Then); err != nil {
			return err
		}
		if s.Else != nil {
			b.emit(branchStep(ir.CondAlways, end))
		}
		b.emit(labelStep(elseL))
		if s.Else != nil {
			if err := b.block(s.Else); err != nil {
				return err
			}
		}
		b.emit(labelStep(end))
		return nil
	}
	return diag.Internal(diag.StageIRGen, "unknown statement %T", s).WithFunc(b.fn.Name)
}

// condFalse evaluates cond and branches to target when it is zero.
func (b *builder) condFalse(cond ast.Expr, target string) error {
	c, err := b.expr(cond)
	if err != nil {
		return err
	}
	b.emit(ir.Step{Op: ir.OpCmp, Srcs: []ir.Loc{ir.Imm(0), c}})
	b.emit(branchStep(ir.CondEq, target))
	return nil
}

func labelStep(name string) ir.Step {
	return ir.Step{Op: ir.OpLabel, Srcs: []ir.Loc{ir.Label(name)}}
}

func branchStep(c ir.Cond, target string) ir.Step {
	return ir.Step{Op: ir.OpBranch, Srcs: []ir.Loc{ir.Label(target)}, Cond: c}
}

// slot resolves a scalar variable to its stack slot.
func (b *builder) slot(name string, line int) (ir.Loc, error) {
	v := b.scope.Lookup(name)
	if v == nil {
		return ir.None, b.fail(diag.KindNameResolution, line, "undeclared identifier").WithName(name)
	}
	if v.Type.Size() != 1 {
		return ir.None, b.fail(diag.KindUnsupported, line, "struct variable used as a value").WithName(name)
	}
	off, ok := b.frame.Offset(v)
	if !ok {
		return ir.None, diag.Internal(diag.StageIRGen, "variable has no frame slot").WithFunc(b.fn.Name).WithName(name)
	}
	return ir.Slot(off), nil
}

// expr lowers e and returns the fresh register holding its value.
func (b *builder) expr(e ast.Expr) (ir.Loc, error) {
	switch e := e.(type) {
	case *ast.Literal:
		dst := b.ctr.VReg()
		src := ir.Imm(e.Value)
		if e.Label != "" {
			src = ir.Label(e.Label)
		}
		b.emit(ir.Step{Op: ir.OpConst, Srcs: []ir.Loc{src}, Dst: dst})
		return dst, nil

	case *ast.Ident:
		slot, err := b.slot(e.Name, e.Line)
		if err != nil {
			return ir.None, err
		}
		dst := b.ctr.VReg()
		b.emit(ir.Step{Op: ir.OpLoad, Srcs: []ir.Loc{slot}, Dst: dst})
		return dst, nil

	case *ast.Unary:
		x, err := b.expr(e.X)
		if err != nil {
			return ir.None, err
		}
		var op ir.Op
		var k int
		switch e.Op {
		case ast.OpNeg:
			op, k = ir.OpSub, 0
		case ast.OpNot:
			op, k = ir.OpXor, 0xffff
		default:
			return ir.None, b.fail(diag.KindUnsupported, e.Line, "no lowering for unary operator").WithName(e.Op.String())
		}
		c := b.ctr.VReg()
		b.emit(ir.Step{Op: ir.OpConst, Srcs: []ir.Loc{ir.Imm(k)}, Dst: c})
		dst := b.ctr.VReg()
		b.emit(ir.Step{Op: op, Srcs: []ir.Loc{c, x}, Dst: dst})
		return dst, nil

	case *ast.Binary:
		if e.Op.Relational() {
			return b.relational(e)
		}
		op, ok := binaryOps[e.Op]
		if !ok {
			return ir.None, b.fail(diag.KindUnsupported, e.Line, "no lowering for operator").WithName(e.Op.String())
		}
		l, err := b.expr(e.Left)
		if err != nil {
			return ir.None, err
		}
		r, err := b.expr(e.Right)
		if err != nil {
			return ir.None, err
		}
		dst := b.ctr.VReg()
		b.emit(ir.Step{Op: op, Srcs: []ir.Loc{l, r}, Dst: dst})
		return dst, nil

	case *ast.Call:
		callee := b.unit.Function(e.Name)
		if callee == nil {
			return ir.None, b.fail(diag.KindNameResolution, e.Line, "call to undefined function").WithName(e.Name)
		}
		if len(callee.Params) != len(e.Args) {
			return ir.None, b.fail(diag.KindArity, e.Line, "%d arguments, %s takes %d", len(e.Args), e.Name, len(callee.Params)).WithName(e.Name)
		}
		srcs := []ir.Loc{ir.Label(e.Name)}
		for _, a := range e.Args {
			v, err := b.expr(a)
			if err != nil {
				return ir.None, err
			}
			srcs = append(srcs, v)
		}
		dst := b.ctr.VReg()
		b.emit(ir.Step{Op: ir.OpCall, Srcs: srcs, Dst: dst})
		return dst, nil
	}
	return ir.None, diag.Internal(diag.StageIRGen, "unknown expression %T", e).WithFunc(b.fn.Name)
}

// relational lowers a comparison to
//
//	d = const 1
//	cmp a, b
//	branch.<cond> skip
//	reset #0 -> d
//	skip:
func (b *builder) relational(e *ast.Binary) (ir.Loc, error) {
	cond, ok := relationalConds[e.Op]
	if !ok {
		return ir.None, b.fail(diag.KindUnsupported, e.Line, "no lowering for operator").WithName(e.Op.String())
	}
	l, err := b.expr(e.Left)
	if err != nil {
		return ir.None, err
	}
	r, err := b.expr(e.Right)
	if err != nil {
		return ir.None, err
	}
	dst := b.ctr.VReg()
	skip := b.ctr.Label("rel")
	b.emit(ir.Step{Op: ir.OpConst, Srcs: []ir.Loc{ir.Imm(1)}, Dst: dst})
	b.emit(ir.Step{Op: ir.OpCmp, Srcs: []ir.Loc{l, r}})
	b.emit(branchStep(cond, skip))
	b.emit(ir.Step{Op: ir.OpReset, Srcs: []ir.Loc{ir.Imm(0), dst}})
	b.emit(labelStep(skip))
	return dst, nil
}

// Package layout assigns stack offsets to parameters and locals.
//
// Offsets grow away from the caller's pushed arguments:
//
//	0 .. n-1        parameters (param 0 was pushed first, at the highest address)
//	n               saved context register
//	n+1 ..          locals of the function body, then of nested blocks
//
// A nested block starts where its parent's locals end. Sibling blocks share
// the same range because only one of them is active at a time.
package layout

import (
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ast"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
)

// Frame is the result of laying out one function. It is a side table keyed
// by node identity; the tree itself is not modified.
type Frame struct {
	Params      int
	TopLocals   int
	Extent      int
	Offsets     map[*ast.LocalVar]int
	BlockExtent map[*ast.CodeBlock]int
}

// ContextSlot is the offset of the saved context register.
func (f *Frame) ContextSlot() int { return f.Params }

// Offset returns the slot of v.
func (f *Frame) Offset(v *ast.LocalVar) (int, bool) {
	off, ok := f.Offsets[v]
	return off, ok
}

// Layout computes the frame of fn.
func Layout(fn *ast.Function) (*Frame, error) {
	if fn == nil || fn.Body == nil {
		return nil, diag.Internal(diag.StageLayout, "function has no body")
	}

	f := &Frame{
		Offsets:     make(map[*ast.LocalVar]int),
		BlockExtent: make(map[*ast.CodeBlock]int),
	}

	next := 0
	seen := make(map[string]bool)
	for _, p := range fn.Params {
		if p.Type == nil || p.Type.Size() != 1 {
			return nil, diag.Internal(diag.StageLayout, "parameter is not a scalar").WithFunc(fn.Name).WithName(p.Name)
		}
		if seen[p.Name] {
			return nil, diag.Errorf(diag.StageLayout, diag.KindNameResolution, "duplicate parameter").
				WithFunc(fn.Name).WithName(p.Name).AtLine(p.Line)
		}
		seen[p.Name] = true
		f.Offsets[p] = next
		next++
	}
	f.Params = next
	next++ // context slot

	deepest, err := f.block(fn.Name, fn.Body, next)
	if err != nil {
		return nil, err
	}
	f.TopLocals = f.BlockExtent[fn.Body]
	f.Extent = deepest
	return f, nil
}

// block lays out b starting at offset base and returns the highest offset
// reached by b or any block nested in it.
func (f *Frame) block(fn string, b *ast.CodeBlock, base int) (int, error) {
	if b == nil {
		return 0, diag.Internal(diag.StageLayout, "nil code block").WithFunc(fn)
	}

	next := base
	seen := make(map[string]bool)
	for _, v := range b.Locals() {
		if v.Type == nil || v.Type.Size() < 1 {
			return 0, diag.Internal(diag.StageLayout, "local has unresolved type").WithFunc(fn).WithName(v.Name)
		}
		if seen[v.Name] {
			return 0, diag.Errorf(diag.StageLayout, diag.KindNameResolution, "duplicate declaration").
				WithFunc(fn).WithName(v.Name).AtLine(v.Line)
		}
		seen[v.Name] = true
		f.Offsets[v] = next
		next += v.Type.Size()
	}
	f.BlockExtent[b] = next - base

	deepest := next
	child := func(c *ast.CodeBlock) error {
		if c == nil {
			return nil
		}
		d, err := f.block(fn, c, next)
		if err != nil {
			return err
		}
		if d > deepest {
			deepest = d
		}
		return nil
	}

	for _, s := range b.Stmts {
		var err error
		switch s := s.(type) {
		case *ast.CodeBlock:
			err = child(s)
		case *ast.While:
			err = child(s.Body)
		case *ast.If:
			if err = child(s.Then); err == nil {
				err = child(s.Else)
			}
		case *ast.VarDecl, *ast.Assign, *ast.Return:
		default:
			err = diag.Internal(diag.StageLayout, "unknown statement %T", s).WithFunc(fn)
		}
		if err != nil {
			return 0, err
		}
	}
	return deepest, nil
}

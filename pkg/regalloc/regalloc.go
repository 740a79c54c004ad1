// Package regalloc binds virtual registers to a fixed pool of physical
// registers using the live sets computed by package liveness.
package regalloc

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/liveness"
)

// DefaultPool is r1..r11. r0 is the emitter's scratch and return register;
// r12 and up are the context, flags, stack and instruction pointers.
var DefaultPool = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

// ErrSpill matches every SpillError.
var ErrSpill = errors.New("register pool exhausted")

// SpillError is returned when a step needs a register and none is free.
// Spilling to memory is not implemented; this is where it would hook in.
type SpillError struct {
	Step int
	VReg int
	Live int
	Pool int
}

func (e *SpillError) Error() string {
	return fmt.Sprintf("no free register for v%d at step %d (%d live, pool of %d)", e.VReg, e.Step, e.Live, e.Pool)
}

func (e *SpillError) Is(target error) bool { return target == ErrSpill }

// Allocation is the register-assigned IR.
type Allocation struct {
	Steps []ir.Step
	Live  []liveness.Set
	Reg   map[int]int

	virt []ir.Step
}

// Allocate assigns a register from pool to every virtual register in res.
// The pool order is the initial free-list order.
func Allocate(res *liveness.Result, pool []int) (*Allocation, error) {
	if len(pool) == 0 {
		pool = DefaultPool
	}
	free := append([]int(nil), pool...)
	bound := make(map[int]int)
	assign := make(map[int]int)

	for i, s := range res.Steps {
		live := res.Live[i]

		// Release in a stable order so the free list never depends on map order.
		var gone []int
		for v := range bound {
			if !live.Has(v) {
				gone = append(gone, v)
			}
		}
		sort.Sort(sort.Reverse(sort.IntSlice(gone)))
		for _, v := range gone {
			free = append([]int{bound[v]}, free...)
			delete(bound, v)
		}

		refs := s.Reads()
		if d, ok := s.Def(); ok {
			refs = append(refs, d)
		}
		for _, v := range refs {
			if _, ok := bound[v]; ok {
				continue
			}
			if !live.Has(v) {
				return nil, diag.Internal(diag.StageRegAlloc, "v%d referenced at step %d outside its live range", v, i)
			}
			if len(free) == 0 {
				return nil, &diag.Error{
					Stage: diag.StageRegAlloc,
					Kind:  diag.KindResourceExhaustion,
					Msg:   "spill required",
					Err:   &SpillError{Step: i, VReg: v, Live: len(live), Pool: len(pool)},
				}
			}
			bound[v] = free[0]
			assign[v] = free[0]
			free = free[1:]
		}
	}

	steps := ir.CloneSteps(res.Steps)
	for i := range steps {
		s := &steps[i]
		for j, src := range s.Srcs {
			if src.IsVReg() {
				s.Srcs[j] = ir.Reg(assign[src.N])
			}
		}
		if s.Dst.IsVReg() {
			s.Dst = ir.Reg(assign[s.Dst.N])
		}
	}

	return &Allocation{Steps: steps, Live: res.Live, Reg: assign, virt: res.Steps}, nil
}

// LiveAcross returns, sorted, the physical registers holding values that
// survive step i: live at i and at i+1, not defined by i and not read by i
// as a call argument.
func (a *Allocation) LiveAcross(i int) []int {
	if i < 0 || i+1 >= len(a.virt) {
		return nil
	}
	s := a.virt[i]
	skip := make(map[int]bool)
	if d, ok := s.Def(); ok {
		skip[d] = true
	}
	if s.Op == ir.OpCall {
		for _, v := range s.Reads() {
			skip[v] = true
		}
	}
	var regs []int
	for _, v := range a.Live[i].Sorted() {
		if skip[v] || !a.Live[i+1].Has(v) {
			continue
		}
		regs = append(regs, a.Reg[v])
	}
	sort.Ints(regs)
	return regs
}

// Format renders the allocated steps with the physical live set of each.
func (a *Allocation) Format() string {
	var b strings.Builder
	for i, s := range a.Steps {
		var regs []string
		for _, v := range a.Live[i].Sorted() {
			regs = append(regs, fmt.Sprintf("r%d", a.Reg[v]))
		}
		fmt.Fprintf(&b, "%4d  %-36s {%s}\n", i, s, strings.Join(regs, " "))
	}
	return b.String()
}

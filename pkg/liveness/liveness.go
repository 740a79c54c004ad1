// Package liveness computes per-step live sets over linear IR, removes
// writes nobody reads, and coalesces destructive operations into the
// machine's two-operand shape.
package liveness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
)

// Set is a set of virtual register numbers.
type Set map[int]struct{}

func (s Set) Has(v int) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in increasing order.
func (s Set) Sorted() []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func (s Set) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, v := range s.Sorted() {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(ir.VReg(v).String())
	}
	b.WriteString("}")
	return b.String()
}

// Result is IR annotated with live sets. Live[i] belongs to Steps[i].
type Result struct {
	Steps []ir.Step
	Live  []Set
}

// Range is the span of a virtual register: defined at Def, last read at Last.
type Range struct {
	Def  int
	Last int
}

// Ranges returns the definition and last read of every register in steps
// that is both defined and read. Steps must be single-assignment.
func Ranges(steps []ir.Step) (map[int]Range, error) {
	return ranges(steps, true)
}

// ranges with strict unset accepts the repeated definitions coalescing
// creates; Def is then the first one.
func ranges(steps []ir.Step, strict bool) (map[int]Range, error) {
	defs := make(map[int]int)
	last := make(map[int]int)
	for i, s := range steps {
		for _, v := range s.Reads() {
			d, ok := defs[v]
			if !ok || d > i {
				return nil, diag.Internal(diag.StageLiveness, "v%d read at step %d before it is defined", v, i)
			}
			last[v] = i
		}
		if v, ok := s.Def(); ok {
			if d, dup := defs[v]; dup {
				if strict {
					return nil, diag.Internal(diag.StageLiveness, "v%d defined at steps %d and %d", v, d, i)
				}
				continue
			}
			defs[v] = i
		}
	}
	out := make(map[int]Range, len(last))
	for v, l := range last {
		out[v] = Range{Def: defs[v], Last: l}
	}
	return out, nil
}

// Analyze returns a copy of steps with dead destinations cleared, together
// with the live set of every step. A register is live at step i when it is
// defined at or before i and read at or after i.
func Analyze(steps []ir.Step) (*Result, error) {
	spans, err := Ranges(steps)
	if err != nil {
		return nil, err
	}

	out := ir.CloneSteps(steps)
	for i := range out {
		if v, ok := out[i].Def(); ok {
			if _, read := spans[v]; !read {
				out[i].Dst = ir.None
			}
		}
	}

	return &Result{Steps: out, Live: liveSets(len(out), spans)}, nil
}

func liveSets(n int, spans map[int]Range) []Set {
	live := make([]Set, n)
	for i := range live {
		live[i] = make(Set)
	}
	for v, r := range spans {
		for i := r.Def; i <= r.Last; i++ {
			live[i][v] = struct{}{}
		}
	}
	return live
}

// Coalesce rewrites each binary step whose destructive source dies at that
// step so that the destination reuses the source register. The renaming is
// applied to every later reference and the live sets are recomputed.
func Coalesce(res *Result) (*Result, error) {
	steps := ir.CloneSteps(res.Steps)
	spans, err := ranges(steps, false)
	if err != nil {
		return nil, err
	}

	rename := make(map[int]int)
	resolve := func(v int) int {
		for {
			to, ok := rename[v]
			if !ok {
				return v
			}
			v = to
		}
	}

	for i := range steps {
		s := &steps[i]
		for j, src := range s.Srcs {
			if src.IsVReg() {
				s.Srcs[j] = ir.VReg(resolve(src.N))
			}
		}
		d, ok := s.Def()
		if !ok || !s.Op.Binary() {
			continue
		}
		for _, idx := range s.Op.Destructive() {
			src := s.Srcs[idx]
			if !src.IsVReg() {
				continue
			}
			// src dies here unless it, or a name merged into it, is read later.
			if lastRead(spans, rename, src.N) != i {
				continue
			}
			rename[d] = src.N
			s.Dst = ir.VReg(src.N)
			break
		}
	}

	merged, err := ranges(steps, false)
	if err != nil {
		return nil, err
	}
	return &Result{Steps: steps, Live: liveSets(len(steps), merged)}, nil
}

// lastRead returns the last step reading v or anything renamed to v so far.
func lastRead(spans map[int]Range, rename map[int]int, v int) int {
	last := spans[v].Last
	for from, to := range rename {
		if to == v {
			if r := lastRead(spans, rename, from); r > last {
				last = r
			}
		}
	}
	return last
}

// Format renders steps alongside their live sets.
func (r *Result) Format() string {
	var b strings.Builder
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "%4d  %-36s %s\n", i, s, r.Live[i])
	}
	return b.String()
}

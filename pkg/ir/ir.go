// Package ir is the linear intermediate form shared by the backend passes.
//
// A function body is a flat []Step. Each step names an operation, an ordered
// list of source locations and one destination. Virtual registers are
// single-assignment when the IR Builder produces them; later passes rewrite
// locations but never reorder steps.
package ir

import (
	"fmt"
	"strings"
)

// LocKind tags a Loc.
type LocKind uint8

const (
	LocNone LocKind = iota
	LocVReg
	LocSlot
	LocImm
	LocLabel
	LocReg // physical register, only after register assignment
)

// Loc is an operand location. N holds the register number, slot offset or
// immediate value depending on Kind.
type Loc struct {
	Kind  LocKind
	N     int
	Label string
}

// None is the empty location.
var None = Loc{}

func VReg(n int) Loc        { return Loc{Kind: LocVReg, N: n} }
func Slot(off int) Loc      { return Loc{Kind: LocSlot, N: off} }
func Imm(v int) Loc         { return Loc{Kind: LocImm, N: v} }
func Label(name string) Loc { return Loc{Kind: LocLabel, Label: name} }
func Reg(n int) Loc         { return Loc{Kind: LocReg, N: n} }

func (l Loc) IsNone() bool { return l.Kind == LocNone }
func (l Loc) IsVReg() bool { return l.Kind == LocVReg }

func (l Loc) String() string {
	switch l.Kind {
	case LocNone:
		return "-"
	case LocVReg:
		return fmt.Sprintf("v%d", l.N)
	case LocSlot:
		return fmt.Sprintf("l(%d)", l.N)
	case LocImm:
		return fmt.Sprintf("#%d", l.N)
	case LocLabel:
		return "@" + l.Label
	case LocReg:
		return fmt.Sprintf("r%d", l.N)
	}
	return fmt.Sprintf("Loc(%d)", l.Kind)
}

// Op is an IR operation.
type Op uint8

const (
	OpConst Op = iota
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCmp
	OpBranch
	OpLabel
	OpCall
	OpReset // overwrite an already-defined register with an immediate
	OpStackExtend
	OpStackRetract
	OpRet
)

var opNames = [...]string{
	OpConst:        "const",
	OpLoad:         "load",
	OpStore:        "store",
	OpAdd:          "add",
	OpSub:          "sub",
	OpAnd:          "and",
	OpOr:           "or",
	OpXor:          "xor",
	OpShl:          "shl",
	OpShr:          "shr",
	OpCmp:          "cmp",
	OpBranch:       "branch",
	OpLabel:        "label",
	OpCall:         "call",
	OpReset:        "reset",
	OpStackExtend:  "stack_extend",
	OpStackRetract: "stack_retract",
	OpRet:          "ret",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Binary reports whether op is a two-source arithmetic or bitwise operation.
func (op Op) Binary() bool {
	switch op {
	case OpAdd, OpSub, OpAnd, OpOr, OpXor, OpShl, OpShr:
		return true
	}
	return false
}

// Commutative reports whether the sources of a binary op may be swapped.
func (op Op) Commutative() bool {
	switch op {
	case OpAdd, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}

// Destructive lists, in order of preference, the source indices a binary op
// may overwrite when lowered to the machine's two-operand form.
func (op Op) Destructive() []int {
	if op.Commutative() {
		return []int{1, 0}
	}
	if op.Binary() {
		return []int{0}
	}
	return nil
}

// Cond is a branch condition evaluated against the flags set by the
// preceding OpCmp.
type Cond uint8

const (
	CondAlways Cond = iota
	CondEq
	CondNe
	CondGt
	CondLt
)

var condNames = [...]string{
	CondAlways: "always",
	CondEq:     "eq",
	CondNe:     "ne",
	CondGt:     "gt",
	CondLt:     "lt",
}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("Cond(%d)", int(c))
}

// Step is one IR instruction.
//
// Source conventions per op:
//
//	const        [imm|label]
//	load         [slot]
//	store        [src]          dst slot
//	add..shr     [a, b]
//	cmp          [a, b]         a may be an immediate
//	branch       [label]        Cond set
//	label        [label]
//	call         [label, args...]
//	reset        [imm, reg]     dst none; reg is overwritten
//	stack_*      [imm]
//	ret          [value|none, imm frame extent]
type Step struct {
	Op   Op
	Srcs []Loc
	Dst  Loc
	Cond Cond
}

// Clone returns a deep copy of s.
func (s Step) Clone() Step {
	c := s
	c.Srcs = append([]Loc(nil), s.Srcs...)
	return c
}

func (s Step) String() string {
	var b strings.Builder
	b.WriteString(s.Op.String())
	if s.Op == OpBranch {
		b.WriteString(".")
		b.WriteString(s.Cond.String())
	}
	for i, src := range s.Srcs {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(src.String())
	}
	if !s.Dst.IsNone() {
		b.WriteString(" -> ")
		b.WriteString(s.Dst.String())
	}
	return b.String()
}

// Reads returns the virtual registers s reads, in source order.
func (s Step) Reads() []int {
	var out []int
	for _, src := range s.Srcs {
		if src.IsVReg() {
			out = append(out, src.N)
		}
	}
	return out
}

// Def returns the virtual register s defines, if any.
func (s Step) Def() (int, bool) {
	if s.Dst.IsVReg() {
		return s.Dst.N, true
	}
	return 0, false
}

// Pure reports whether dropping s changes nothing but its destination.
func (s Step) Pure() bool {
	switch s.Op {
	case OpConst, OpLoad:
		return true
	}
	return s.Op.Binary()
}

// Func is the IR for one function together with the frame facts the
// emitter needs.
type Func struct {
	Name      string
	Params    int
	TopLocals int
	Extent    int
	Steps     []Step
}

// CloneSteps deep-copies a step slice.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// Format renders steps one per line with their index.
func Format(steps []Step) string {
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%4d  %s\n", i, s)
	}
	return b.String()
}

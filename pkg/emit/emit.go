// Package emit turns register-allocated IR into assembly for the Flapjack
// machine.
//
// Frame at entry to a function with n parameters, after the prologue:
//
//	sp[depth+n-1] .. sp[depth]   parameters, param 0 highest
//	sp[depth-1]                  saved ct
//	sp[depth-2] .. sp[0]         active locals
//
// depth starts at 1 + top-level locals and moves with stack_extend and
// stack_retract, so a slot at offset o is always sp[depth+n-1-o].
package emit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/regalloc"
)

// Machine limits of the encoding.
const (
	MaxSmallImm   = 15  // immediate operand field
	MaxStackIndex = 7   // sp[i] index field
	MaxRet        = 255 // ret adjustment field
	MinBranch     = -128
	MaxBranch     = 127
	MinWide       = -32768
	MaxWide       = 0xffff
)

// Scratch is never allocated; the emitter uses it for addresses, wide stack
// adjustments and call targets, and it carries return values.
const Scratch = 0

var condCodes = map[ir.Cond]string{
	ir.CondAlways: "",
	ir.CondEq:     "e",
	ir.CondNe:     "E",
	ir.CondGt:     "g",
	ir.CondLt:     "GE",
}

var binaryMnemonics = map[ir.Op]string{
	ir.OpAdd: "add",
	ir.OpSub: "sub",
	ir.OpAnd: "and",
	ir.OpOr:  "or",
	ir.OpXor: "xor",
	ir.OpShl: "shl",
	ir.OpShr: "shr",
}

// Instr is one line of assembly: a label definition when Op is empty.
type Instr struct {
	Label  string
	Op     string
	Args   []string
	Target string // branch target, checked for range
}

func (in Instr) String() string {
	if in.Op == "" {
		return in.Label + ":"
	}
	if len(in.Args) == 0 {
		return "  " + in.Op
	}
	return "  " + in.Op + " " + strings.Join(in.Args, ", ")
}

// Text renders instructions one per line.
func Text(instrs []Instr) string {
	var b strings.Builder
	for _, in := range instrs {
		b.WriteString(in.String())
		b.WriteString("\n")
	}
	return b.String()
}

// RegName is the assembler name of physical register n.
func RegName(n int) string {
	switch n {
	case 12:
		return "ct"
	case 13:
		return "fl"
	case 14:
		return "sp"
	case 15:
		return "ip"
	}
	return "r" + strconv.Itoa(n)
}

func op(mnemonic string, args ...string) Instr {
	return Instr{Op: mnemonic, Args: args}
}

type emitter struct {
	fn    *ir.Func
	alloc *regalloc.Allocation
	depth int
	out   []Instr
}

// Function emits fn using the register assignment in alloc.
func Function(fn *ir.Func, alloc *regalloc.Allocation) ([]Instr, error) {
	e := &emitter{fn: fn, alloc: alloc}
	if err := e.function(); err != nil {
		if de, ok := err.(*diag.Error); ok && de.Func == "" {
			return nil, de.WithFunc(fn.Name)
		}
		return nil, err
	}
	if err := CheckBranches(e.out); err != nil {
		if de, ok := err.(*diag.Error); ok {
			return nil, de.WithFunc(fn.Name)
		}
		return nil, err
	}
	return e.out, nil
}

func (e *emitter) emit(in ...Instr) {
	e.out = append(e.out, in...)
}

func (e *emitter) function() error {
	e.emit(Instr{Label: e.fn.Name})
	e.depth = 1 + e.fn.TopLocals
	if err := e.adjust("sub", e.depth); err != nil {
		return err
	}
	if err := e.storeSP("ct", e.depth-1); err != nil {
		return err
	}

	for i, s := range e.alloc.Steps {
		if err := e.step(i, s); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) bad(s ir.Step) error {
	return diag.Internal(diag.StageEmit, "cannot emit %s", s)
}

func (e *emitter) step(i int, s ir.Step) error {
	switch s.Op {
	case ir.OpStackExtend, ir.OpStackRetract:
		if len(s.Srcs) != 1 || s.Srcs[0].Kind != ir.LocImm || s.Srcs[0].N < 0 {
			return e.bad(s)
		}
		n := s.Srcs[0].N
		if s.Op == ir.OpStackExtend {
			e.depth += n
			return e.adjust("sub", n)
		}
		e.depth -= n
		if e.depth < 1 {
			return diag.Internal(diag.StageEmit, "stack retracted past the frame")
		}
		return e.adjust("add", n)

	case ir.OpConst:
		if s.Dst.IsNone() {
			return nil
		}
		if len(s.Srcs) != 1 || s.Dst.Kind != ir.LocReg {
			return e.bad(s)
		}
		return e.constant(s.Srcs[0], RegName(s.Dst.N))

	case ir.OpLoad:
		if s.Dst.IsNone() {
			return nil
		}
		if len(s.Srcs) != 1 || s.Dst.Kind != ir.LocReg {
			return e.bad(s)
		}
		switch src := s.Srcs[0]; src.Kind {
		case ir.LocSlot:
			idx, err := e.index(src.N)
			if err != nil {
				return err
			}
			return e.loadSP(idx, RegName(s.Dst.N))
		case ir.LocImm:
			return e.constant(src, RegName(s.Dst.N))
		}
		return e.bad(s)

	case ir.OpStore:
		if len(s.Srcs) != 1 || s.Srcs[0].Kind != ir.LocReg || s.Dst.Kind != ir.LocSlot {
			return e.bad(s)
		}
		idx, err := e.index(s.Dst.N)
		if err != nil {
			return err
		}
		return e.storeSP(RegName(s.Srcs[0].N), idx)

	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
		return e.binary(s)

	case ir.OpCmp:
		if len(s.Srcs) != 2 || s.Srcs[1].Kind != ir.LocReg {
			return e.bad(s)
		}
		a, err := e.operand(s.Srcs[0])
		if err != nil {
			return err
		}
		e.emit(op("cmp", a, RegName(s.Srcs[1].N)))
		return nil

	case ir.OpBranch:
		if len(s.Srcs) != 1 || s.Srcs[0].Kind != ir.LocLabel {
			return e.bad(s)
		}
		cc, ok := condCodes[s.Cond]
		if !ok {
			return e.bad(s)
		}
		mn := "br"
		if cc != "" {
			mn += "." + cc
		}
		e.emit(Instr{Op: mn, Args: []string{s.Srcs[0].Label}, Target: s.Srcs[0].Label})
		return nil

	case ir.OpLabel:
		if len(s.Srcs) != 1 || s.Srcs[0].Kind != ir.LocLabel {
			return e.bad(s)
		}
		e.emit(Instr{Label: s.Srcs[0].Label})
		return nil

	case ir.OpCall:
		return e.call(i, s)

	case ir.OpReset:
		if len(s.Srcs) != 2 || s.Srcs[0].Kind != ir.LocImm || s.Srcs[1].Kind != ir.LocReg {
			return e.bad(s)
		}
		return e.constant(s.Srcs[0], RegName(s.Srcs[1].N))

	case ir.OpRet:
		return e.ret(s)
	}
	return e.bad(s)
}

// binary lowers dst = a op b onto "op src, dst".
func (e *emitter) binary(s ir.Step) error {
	if s.Dst.IsNone() {
		return nil
	}
	if len(s.Srcs) != 2 || s.Dst.Kind != ir.LocReg || s.Srcs[0].Kind != ir.LocReg || s.Srcs[1].Kind != ir.LocReg {
		return e.bad(s)
	}
	mn := binaryMnemonics[s.Op]
	a, b, d := s.Srcs[0].N, s.Srcs[1].N, s.Dst.N

	switch {
	case s.Op.Commutative() && d == b:
		e.emit(op(mn, RegName(a), RegName(d)))
	case d == a:
		e.emit(op(mn, RegName(b), RegName(d)))
	case d != b:
		// Not coalesced: copy the destructive source first.
		e.emit(op("mov", RegName(a), RegName(d)), op(mn, RegName(b), RegName(d)))
	default:
		return diag.Internal(diag.StageEmit, "%s writes its second source %s", s.Op, RegName(d))
	}
	return nil
}

func (e *emitter) call(i int, s ir.Step) error {
	if len(s.Srcs) < 1 || s.Srcs[0].Kind != ir.LocLabel {
		return e.bad(s)
	}
	saves := e.alloc.LiveAcross(i)
	push := append([]int(nil), saves...)
	for _, a := range s.Srcs[1:] {
		if a.Kind != ir.LocReg {
			return e.bad(s)
		}
		push = append(push, a.N)
	}

	n := len(push)
	if err := e.adjust("sub", n); err != nil {
		return err
	}
	for j, r := range push {
		if err := e.storeSP(RegName(r), n-1-j); err != nil {
			return err
		}
	}
	target := s.Srcs[0].Label
	scratch := RegName(Scratch)
	e.emit(
		op("const", "hi("+target+")", scratch),
		op("const", "lo("+target+")", scratch),
		op("call", scratch),
	)
	if s.Dst.Kind == ir.LocReg {
		e.emit(op("mov", scratch, RegName(s.Dst.N)))
	} else if !s.Dst.IsNone() {
		return e.bad(s)
	}
	for j := len(saves) - 1; j >= 0; j-- {
		if err := e.loadSP(n-1-j, RegName(saves[j])); err != nil {
			return err
		}
	}
	return e.adjust("add", n)
}

func (e *emitter) ret(s ir.Step) error {
	if len(s.Srcs) != 2 || s.Srcs[1].Kind != ir.LocImm {
		return e.bad(s)
	}
	if e.depth > s.Srcs[1].N-e.fn.Params {
		return diag.Internal(diag.StageEmit, "return depth %d exceeds frame extent %d", e.depth, s.Srcs[1].N)
	}
	if e.depth > MaxRet {
		return diag.Errorf(diag.StageEmit, diag.KindEncodingRange, "frame of %d words too large to return from", e.depth)
	}
	if err := e.loadSP(e.depth-1, "ct"); err != nil {
		return err
	}
	switch v := s.Srcs[0]; v.Kind {
	case ir.LocNone:
	case ir.LocReg:
		if v.N != Scratch {
			e.emit(op("mov", RegName(v.N), RegName(Scratch)))
		}
	default:
		return e.bad(s)
	}
	e.emit(op("ret", strconv.Itoa(e.depth)))
	return nil
}

// index converts a frame offset to an sp-relative index.
func (e *emitter) index(off int) (int, error) {
	idx := e.depth + e.fn.Params - 1 - off
	if idx < 0 {
		return 0, diag.Internal(diag.StageEmit, "slot %d is outside the active frame", off)
	}
	return idx, nil
}

// operand renders a register or small immediate source.
func (e *emitter) operand(l ir.Loc) (string, error) {
	switch l.Kind {
	case ir.LocReg:
		return RegName(l.N), nil
	case ir.LocImm:
		if l.N < 0 || l.N > MaxSmallImm {
			return "", diag.Errorf(diag.StageEmit, diag.KindEncodingRange, "immediate %d does not fit the operand field", l.N)
		}
		return strconv.Itoa(l.N), nil
	}
	return "", diag.Internal(diag.StageEmit, "bad operand %s", l)
}

func (e *emitter) constant(src ir.Loc, reg string) error {
	ins, err := Constant(src, reg)
	if err != nil {
		return err
	}
	e.emit(ins...)
	return nil
}

func (e *emitter) adjust(mnemonic string, n int) error {
	ins, err := AdjustSP(mnemonic, n)
	if err != nil {
		return err
	}
	e.emit(ins...)
	return nil
}

func (e *emitter) loadSP(idx int, reg string) error {
	setup, ref := stackRef(idx)
	e.emit(setup...)
	e.emit(op("ld", ref, reg))
	return nil
}

func (e *emitter) storeSP(reg string, idx int) error {
	setup, ref := stackRef(idx)
	e.emit(setup...)
	e.emit(op("st", reg, ref))
	return nil
}

// Constant loads a value or label address into reg, using a single mov for
// small values and the two-instruction const idiom otherwise.
func Constant(src ir.Loc, reg string) ([]Instr, error) {
	switch src.Kind {
	case ir.LocImm:
		v := src.N
		if v >= 0 && v <= MaxSmallImm {
			return []Instr{op("mov", strconv.Itoa(v), reg)}, nil
		}
		if v < MinWide || v > MaxWide {
			return nil, diag.Errorf(diag.StageEmit, diag.KindEncodingRange, "constant out of 16-bit range").WithName(strconv.Itoa(v))
		}
		u := strconv.Itoa(int(uint16(v)))
		return []Instr{op("const", "hi("+u+")", reg), op("const", "lo("+u+")", reg)}, nil
	case ir.LocLabel:
		return []Instr{op("const", "hi("+src.Label+")", reg), op("const", "lo("+src.Label+")", reg)}, nil
	}
	return nil, diag.Internal(diag.StageEmit, "bad constant %s", src)
}

// AdjustSP moves the stack pointer by n words with "sub" or "add".
func AdjustSP(mnemonic string, n int) ([]Instr, error) {
	switch {
	case n == 0:
		return nil, nil
	case n < 0:
		return nil, diag.Internal(diag.StageEmit, "negative stack adjustment %d", n)
	case n <= MaxSmallImm:
		return []Instr{op(mnemonic, strconv.Itoa(n), "sp")}, nil
	case n > MaxWide:
		return nil, diag.Errorf(diag.StageEmit, diag.KindEncodingRange, "stack adjustment %d too large", n)
	}
	scratch := RegName(Scratch)
	ins, _ := Constant(ir.Imm(n), scratch)
	return append(ins, op(mnemonic, scratch, "sp")), nil
}

// stackRef returns the address operand for sp[idx], plus any instructions
// needed to form it in the scratch register when idx is too wide.
func stackRef(idx int) ([]Instr, string) {
	if idx <= MaxStackIndex {
		return nil, fmt.Sprintf("sp[%d]", idx)
	}
	scratch := RegName(Scratch)
	var setup []Instr
	if idx <= MaxSmallImm {
		setup = []Instr{op("mov", "sp", scratch), op("add", strconv.Itoa(idx), scratch)}
	} else {
		setup, _ = Constant(ir.Imm(idx), scratch)
		setup = append(setup, op("add", "sp", scratch))
	}
	return setup, scratch + "[0]"
}

// CheckBranches fails if any branch target lies outside the signed 8-bit
// displacement of the br encoding. Labels occupy no words.
func CheckBranches(instrs []Instr) error {
	pos := make(map[string]int)
	n := 0
	for _, in := range instrs {
		if in.Op == "" {
			pos[in.Label] = n
			continue
		}
		n++
	}
	n = 0
	for _, in := range instrs {
		if in.Op == "" {
			continue
		}
		if in.Target != "" {
			at, ok := pos[in.Target]
			if !ok {
				return diag.Internal(diag.StageEmit, "branch to unknown label").WithName(in.Target)
			}
			if d := at - n; d < MinBranch || d > MaxBranch {
				return diag.Errorf(diag.StageEmit, diag.KindEncodingRange, "branch distance %d out of range", d).WithName(in.Target)
			}
		}
		n++
	}
	return nil
}

// Startup emits the entry stub placed at address zero: push args (param 0
// highest), call entry, pop, halt. The result is left in r0.
func Startup(entry string, args []int) ([]Instr, error) {
	out := []Instr{{Label: "__start"}}
	n := len(args)
	adj, err := AdjustSP("sub", n)
	if err != nil {
		return nil, err
	}
	out = append(out, adj...)
	for i, a := range args {
		ins, err := Constant(ir.Imm(a), "r1")
		if err != nil {
			return nil, err
		}
		out = append(out, ins...)
		setup, ref := stackRef(n - 1 - i)
		out = append(out, setup...)
		out = append(out, op("st", "r1", ref))
	}
	scratch := RegName(Scratch)
	out = append(out,
		op("const", "hi("+entry+")", scratch),
		op("const", "lo("+entry+")", scratch),
		op("call", scratch),
	)
	adj, err = AdjustSP("add", n)
	if err != nil {
		return nil, err
	}
	out = append(out, adj...)
	out = append(out, op("halt"))
	return out, nil
}

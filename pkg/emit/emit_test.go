package emit

import (
	"strings"
	"testing"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/liveness"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/regalloc"
)

func text(instrs []Instr) string {
	return strings.TrimSpace(Text(instrs))
}

func TestConstant(t *testing.T) {
	tests := []struct {
		src  ir.Loc
		want string
	}{
		{ir.Imm(5), "mov 5, r1"},
		{ir.Imm(15), "mov 15, r1"},
		{ir.Imm(300), "const hi(300), r1\n  const lo(300), r1"},
		{ir.Imm(-1), "const hi(65535), r1\n  const lo(65535), r1"},
		{ir.Label("f"), "const hi(f), r1\n  const lo(f), r1"},
	}
	for _, tt := range tests {
		ins, err := Constant(tt.src, "r1")
		if err != nil {
			t.Errorf("%s: %v", tt.src, err)
			continue
		}
		if got := text(ins); got != tt.want {
			t.Errorf("%s:\ngot  %q\nwant %q", tt.src, got, tt.want)
		}
	}

	if _, err := Constant(ir.Imm(70000), "r1"); !diag.Is(err, diag.KindEncodingRange) {
		t.Errorf("70000: %v", err)
	}
	if _, err := Constant(ir.Slot(1), "r1"); !diag.Is(err, diag.KindInternal) {
		t.Errorf("slot: %v", err)
	}
}

func TestAdjustSP(t *testing.T) {
	if ins, err := AdjustSP("sub", 0); err != nil || ins != nil {
		t.Errorf("zero adjustment: %v %v", ins, err)
	}
	ins, _ := AdjustSP("sub", 3)
	if got := text(ins); got != "sub 3, sp" {
		t.Errorf("small: %q", got)
	}
	ins, _ = AdjustSP("add", 20)
	if got := text(ins); got != "const hi(20), r0\n  const lo(20), r0\n  add r0, sp" {
		t.Errorf("wide: %q", got)
	}
	if _, err := AdjustSP("sub", -1); !diag.Is(err, diag.KindInternal) {
		t.Errorf("negative: %v", err)
	}
	if _, err := AdjustSP("sub", 0x10000); !diag.Is(err, diag.KindEncodingRange) {
		t.Errorf("huge: %v", err)
	}
}

func TestStackRef(t *testing.T) {
	tests := []struct {
		idx   int
		setup string
		ref   string
	}{
		{3, "", "sp[3]"},
		{7, "", "sp[7]"},
		{10, "mov sp, r0\n  add 10, r0", "r0[0]"},
		{20, "const hi(20), r0\n  const lo(20), r0\n  add sp, r0", "r0[0]"},
	}
	for _, tt := range tests {
		setup, ref := stackRef(tt.idx)
		if got := text(setup); got != tt.setup || ref != tt.ref {
			t.Errorf("stackRef(%d) = %q, %q", tt.idx, got, ref)
		}
	}
}

func TestCheckBranches(t *testing.T) {
	near := []Instr{{Label: "top"}, op("halt"), {Op: "br", Args: []string{"top"}, Target: "top"}}
	if err := CheckBranches(near); err != nil {
		t.Fatal(err)
	}

	far := []Instr{{Label: "top"}}
	for i := 0; i < 200; i++ {
		far = append(far, op("halt"))
	}
	far = append(far, Instr{Op: "br", Args: []string{"top"}, Target: "top"})
	err := CheckBranches(far)
	if !diag.Is(err, diag.KindEncodingRange) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "-200") {
		t.Errorf("error does not give the distance: %v", err)
	}

	missing := []Instr{{Op: "br", Args: []string{"x"}, Target: "x"}}
	if err := CheckBranches(missing); !diag.Is(err, diag.KindInternal) {
		t.Errorf("unknown label: %v", err)
	}
}

func TestStartup(t *testing.T) {
	ins, err := Startup("main", []int{2, 300})
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"__start:",
		"  sub 2, sp",
		"  mov 2, r1",
		"  st r1, sp[1]",
		"  const hi(300), r1",
		"  const lo(300), r1",
		"  st r1, sp[0]",
		"  const hi(main), r0",
		"  const lo(main), r0",
		"  call r0",
		"  add 2, sp",
		"  halt",
	}, "\n")
	if got := text(ins); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func allocate(t *testing.T, steps []ir.Step) *regalloc.Allocation {
	t.Helper()
	res, err := liveness.Analyze(steps)
	if err != nil {
		t.Fatal(err)
	}
	if res, err = liveness.Coalesce(res); err != nil {
		t.Fatal(err)
	}
	alloc, err := regalloc.Allocate(res, nil)
	if err != nil {
		t.Fatal(err)
	}
	return alloc
}

func TestFunction(t *testing.T) {
	fn := &ir.Func{Name: "add", Params: 2, Extent: 3, Steps: []ir.Step{
		{Op: ir.OpLoad, Srcs: []ir.Loc{ir.Slot(0)}, Dst: ir.VReg(0)},
		{Op: ir.OpLoad, Srcs: []ir.Loc{ir.Slot(1)}, Dst: ir.VReg(1)},
		{Op: ir.OpAdd, Srcs: []ir.Loc{ir.VReg(0), ir.VReg(1)}, Dst: ir.VReg(2)},
		{Op: ir.OpRet, Srcs: []ir.Loc{ir.VReg(2), ir.Imm(3)}},
	}}
	ins, err := Function(fn, allocate(t, fn.Steps))
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"add:",
		"  sub 1, sp",
		"  st ct, sp[0]",
		"  ld sp[2], r1",
		"  ld sp[1], r2",
		"  add r1, r2",
		"  ld sp[0], ct",
		"  mov r2, r0",
		"  ret 1",
	}, "\n")
	if got := text(ins); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestCallSavesLiveRegisters(t *testing.T) {
	fn := &ir.Func{Name: "f", Extent: 1, Steps: []ir.Step{
		{Op: ir.OpConst, Srcs: []ir.Loc{ir.Imm(1)}, Dst: ir.VReg(0)},
		{Op: ir.OpConst, Srcs: []ir.Loc{ir.Imm(2)}, Dst: ir.VReg(1)},
		{Op: ir.OpCall, Srcs: []ir.Loc{ir.Label("g"), ir.VReg(1)}, Dst: ir.VReg(2)},
		{Op: ir.OpAdd, Srcs: []ir.Loc{ir.VReg(0), ir.VReg(2)}, Dst: ir.VReg(3)},
		{Op: ir.OpRet, Srcs: []ir.Loc{ir.VReg(3), ir.Imm(1)}},
	}}
	ins, err := Function(fn, allocate(t, fn.Steps))
	if err != nil {
		t.Fatal(err)
	}
	got := text(ins)
	// r1 (v0) is saved above the argument r2 and restored after the call.
	call := strings.Join([]string{
		"  sub 2, sp",
		"  st r1, sp[1]",
		"  st r2, sp[0]",
		"  const hi(g), r0",
		"  const lo(g), r0",
		"  call r0",
		"  mov r0, r3",
		"  ld sp[1], r1",
		"  add 2, sp",
	}, "\n")
	if !strings.Contains(got, call) {
		t.Errorf("call sequence missing from:\n%s", got)
	}
}

func TestBinaryLowering(t *testing.T) {
	tests := []struct {
		step ir.Step
		want string
	}{
		{ir.Step{Op: ir.OpSub, Srcs: []ir.Loc{ir.Reg(1), ir.Reg(2)}, Dst: ir.Reg(1)}, "sub r2, r1"},
		{ir.Step{Op: ir.OpOr, Srcs: []ir.Loc{ir.Reg(1), ir.Reg(2)}, Dst: ir.Reg(2)}, "or r1, r2"},
		{ir.Step{Op: ir.OpShl, Srcs: []ir.Loc{ir.Reg(1), ir.Reg(2)}, Dst: ir.Reg(3)}, "mov r1, r3\n  shl r2, r3"},
	}
	for _, tt := range tests {
		e := &emitter{fn: &ir.Func{Name: "f"}}
		if err := e.binary(tt.step); err != nil {
			t.Errorf("%s: %v", tt.step, err)
			continue
		}
		if got := text(e.out); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.step, got, tt.want)
		}
	}

	e := &emitter{fn: &ir.Func{Name: "f"}}
	bad := ir.Step{Op: ir.OpSub, Srcs: []ir.Loc{ir.Reg(1), ir.Reg(2)}, Dst: ir.Reg(2)}
	if err := e.binary(bad); !diag.Is(err, diag.KindInternal) {
		t.Errorf("sub into its second source: %v", err)
	}
}

func TestRegName(t *testing.T) {
	for n, want := range map[int]string{0: "r0", 11: "r11", 12: "ct", 13: "fl", 14: "sp", 15: "ip"} {
		if got := RegName(n); got != want {
			t.Errorf("RegName(%d) = %s", n, got)
		}
	}
}

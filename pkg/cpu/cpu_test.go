package cpu

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
)

const (
	condA  = FlagA | CondPositive
	condE  = FlagE | CondPositive
	condG  = FlagG | CondPositive
	condNE = FlagE
	condLT = FlagG | FlagE
)

// loadProgram loads words into memory starting at address 0.
func loadProgram(t *testing.T, c *CPU, words ...uint16) {
	t.Helper()
	if err := c.Load(words); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func run(t *testing.T, c *CPU) {
	t.Helper()
	if err := c.Run(1000); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestInstructionEncoding(t *testing.T) {
	tests := []struct {
		name string
		got  uint16
		want uint16
	}{
		{"add r1, r2", EncodeInstruction(OpADD, 1, 2, false, 0), 0x5120},
		{"add 5, r2", EncodeInstruction(OpADD, 5, 2, true, 0), 0x5528},
		{"ld sp[3], r0", EncodeInstruction(OpLD, RegSP, 0, false, 3), 0x3e03},
		{"const 0x12, r1", EncodeConst(1, 0x12), 0x9112},
		{"jp.e r1, r2", EncodeJump(1, 2, condE), 0x112a},
		{"br.a -1", EncodeBranch(-1, condA), 0x2ff9},
		{"halt", EncodeSys(SysHalt, 0), 0x0000},
		{"call r3", EncodeCall(3), 0x0130},
		{"ret 4", EncodeSys(SysRet, 4), 0x0304},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got 0x%04x, want 0x%04x", tt.name, tt.got, tt.want)
		}
	}
}

func TestALU(t *testing.T) {
	tests := []struct {
		name   string
		instr  uint16
		r1, r2 uint16
		want   uint16
	}{
		{"add", EncodeInstruction(OpADD, 1, 2, false, 0), 10, 20, 30},
		{"add imm", EncodeInstruction(OpADD, 5, 2, true, 0), 0, 20, 25},
		{"add wraps", EncodeInstruction(OpADD, 1, 2, false, 0), 1, 0xffff, 0},
		{"sub", EncodeInstruction(OpSUB, 1, 2, false, 0), 3, 10, 7},
		{"sub below zero", EncodeInstruction(OpSUB, 1, 2, false, 0), 3, 1, 0xfffe},
		{"and", EncodeInstruction(OpBITS, 1, 2, false, BitsAND), 0x0ff0, 0x00ff, 0x00f0},
		{"or", EncodeInstruction(OpBITS, 1, 2, false, BitsOR), 0x0f00, 0x00f0, 0x0ff0},
		{"xor", EncodeInstruction(OpBITS, 1, 2, false, BitsXOR), 0xffff, 0x00ff, 0xff00},
		{"shl imm", EncodeInstruction(OpBITS, 4, 2, true, BitsSHL), 0, 0x0012, 0x0120},
		{"shr", EncodeInstruction(OpBITS, 1, 2, false, BitsSHR), 8, 0x1200, 0x0012},
		{"shr by 16", EncodeInstruction(OpBITS, 1, 2, false, BitsSHR), 16, 0x1200, 0},
		{"legacy shr", EncodeInstruction(OpSHR, 1, 2, false, 0), 4, 0x0120, 0x0012},
		{"mov", EncodeInstruction(OpMOV, 1, 2, false, 0), 0xbeef, 0, 0xbeef},
		{"mov imm", EncodeInstruction(OpMOV, 9, 2, true, 0), 0, 0xbeef, 9},
		{"ld imm", EncodeInstruction(OpLD, 9, 2, true, 0), 0, 0, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCPU()
			c.Regs[1], c.Regs[2] = tt.r1, tt.r2
			loadProgram(t, c, tt.instr, EncodeSys(SysHalt, 0))
			run(t, c)
			if c.Regs[2] != tt.want {
				t.Errorf("r2 = 0x%04x, want 0x%04x", c.Regs[2], tt.want)
			}
		})
	}
}

func TestConstShiftsByteIn(t *testing.T) {
	c := NewCPU()
	loadProgram(t, c, EncodeConst(1, 0x12), EncodeConst(1, 0x34), EncodeSys(SysHalt, 0))
	run(t, c)
	if c.Regs[1] != 0x1234 {
		t.Errorf("r1 = 0x%04x, want 0x1234", c.Regs[1])
	}
}

func TestLoadStore(t *testing.T) {
	c := NewCPU()
	c.Regs[1] = 0xabcd
	c.Regs[3] = 0x1000
	c.Memory[0x1001] = 0x4242
	loadProgram(t, c,
		EncodeInstruction(OpST, 1, 3, false, 2),
		EncodeInstruction(OpLD, 3, 2, false, 1),
		EncodeSys(SysHalt, 0),
	)
	run(t, c)
	if c.Memory[0x1002] != 0xabcd {
		t.Errorf("mem[0x1002] = 0x%04x, want 0xabcd", c.Memory[0x1002])
	}
	if c.Regs[2] != 0x4242 {
		t.Errorf("r2 = 0x%04x, want 0x4242", c.Regs[2])
	}
}

func TestLoadWrapsAddress(t *testing.T) {
	c := NewCPU()
	c.Regs[3] = 0xffff
	// 0xffff+5 wraps to 4, past the two program words.
	c.Memory[4] = 77
	loadProgram(t, c, EncodeInstruction(OpLD, 3, 2, false, 5), EncodeSys(SysHalt, 0))
	run(t, c)
	if c.Regs[2] != 77 {
		t.Errorf("r2 = %d, want 77", c.Regs[2])
	}
}

func TestCmpFlags(t *testing.T) {
	tests := []struct {
		o1, o2 uint16
		want   uint16
	}{
		{5, 2, FlagA | FlagG},
		{2, 5, FlagA},
		{3, 3, FlagA | FlagE},
		// Unsigned: 0xffff is the larger operand.
		{0xffff, 1, FlagA | FlagG},
	}
	for _, tt := range tests {
		c := NewCPU()
		c.Regs[RegFL] = 0xff00
		c.Regs[1], c.Regs[2] = tt.o1, tt.o2
		loadProgram(t, c, EncodeInstruction(OpCMP, 1, 2, false, 0), EncodeSys(SysHalt, 0))
		run(t, c)
		if got := c.Regs[RegFL] & 15; got != tt.want {
			t.Errorf("cmp %d, %d: flags = %04b, want %04b", tt.o1, tt.o2, got, tt.want)
		}
		if c.Regs[RegFL]&0xff00 != 0xff00 {
			t.Errorf("cmp %d, %d: high flag bits clobbered", tt.o1, tt.o2)
		}
	}
}

func TestConditions(t *testing.T) {
	tests := []struct {
		name string
		fl   uint16
		cc   uint16
		want bool
	}{
		{"a always", 0, condA, true},
		{"A never", 0, FlagA, false},
		{"e on equal", FlagA | FlagE, condE, true},
		{"e on greater", FlagA | FlagG, condE, false},
		{"E on greater", FlagA | FlagG, condNE, true},
		{"g on greater", FlagA | FlagG, condG, true},
		{"g on less", FlagA, condG, false},
		{"GE on less", FlagA, condLT, true},
		{"GE on equal", FlagA | FlagE, condLT, false},
		{"eg needs both", FlagA | FlagE, FlagE | FlagG | CondPositive, false},
	}
	for _, tt := range tests {
		c := NewCPU()
		c.Regs[RegFL] = tt.fl
		if got := c.condTrue(tt.cc); got != tt.want {
			t.Errorf("%s: condTrue(%s) = %v, want %v", tt.name, CondString(tt.cc), got, tt.want)
		}
	}
}

func TestBranch(t *testing.T) {
	c := NewCPU()
	c.Regs[1], c.Regs[2] = 4, 4
	loadProgram(t, c,
		EncodeInstruction(OpCMP, 1, 2, false, 0), // 0
		EncodeBranch(3, condE),                   // 1 -> 4
		EncodeConst(0, 1),                        // 2
		EncodeSys(SysHalt, 0),                    // 3
		EncodeBranch(2, condNE),                  // 4 not taken
		EncodeConst(0, 2),                        // 5
		EncodeSys(SysHalt, 0),                    // 6
	)
	run(t, c)
	if c.Regs[0] != 2 {
		t.Errorf("r0 = %d, want 2", c.Regs[0])
	}
	if c.IP() != 6 {
		t.Errorf("halted at %04x, want 0006", c.IP())
	}
}

func TestBackwardBranch(t *testing.T) {
	c := NewCPU()
	c.Regs[1] = 3
	loadProgram(t, c,
		EncodeInstruction(OpADD, 2, 0, true, 0), // 0: r0 += 2
		EncodeInstruction(OpSUB, 1, 1, true, 0), // 1: r1 -= 1
		EncodeInstruction(OpCMP, 0, 1, true, 0), // 2: cmp 0, r1
		EncodeBranch(-3, condNE),                // 3
		EncodeSys(SysHalt, 0),
	)
	run(t, c)
	if c.Regs[0] != 6 {
		t.Errorf("r0 = %d, want 6", c.Regs[0])
	}
}

func TestJump(t *testing.T) {
	c := NewCPU()
	c.Regs[1], c.Regs[2] = 3, 5
	c.Regs[RegFL] = FlagA
	loadProgram(t, c,
		EncodeJump(1, 2, condE), // not equal: go to r2
		EncodeSys(SysHalt, 0),
		EncodeSys(SysHalt, 0),
		EncodeConst(0, 1),
		EncodeSys(SysHalt, 0),
		EncodeConst(0, 2),
		EncodeSys(SysHalt, 0),
	)
	run(t, c)
	if c.Regs[0] != 2 {
		t.Errorf("r0 = %d, want 2", c.Regs[0])
	}
}

func TestCallReturn(t *testing.T) {
	c := NewCPU()
	c.Regs[RegSP] = 0xfff0
	loadProgram(t, c,
		EncodeConst(1, 4),     // 0
		EncodeCall(1),         // 1
		EncodeSys(SysHalt, 0), // 2
		EncodeSys(SysHalt, 0), // 3
		EncodeConst(0, 9),     // 4
		EncodeSys(SysRet, 2),  // 5
	)
	run(t, c)
	if c.Regs[0] != 9 {
		t.Errorf("r0 = %d, want 9", c.Regs[0])
	}
	if c.IP() != 2 {
		t.Errorf("returned to %04x, want 0002", c.IP())
	}
	if c.Regs[RegCT] != 2 {
		t.Errorf("ct = %04x, want 0002", c.Regs[RegCT])
	}
	if c.Regs[RegSP] != 0xfff2 {
		t.Errorf("sp = %04x, want fff2", c.Regs[RegSP])
	}
}

func TestWriteToIPJumps(t *testing.T) {
	c := NewCPU()
	c.Regs[1] = 3
	loadProgram(t, c,
		EncodeInstruction(OpMOV, 1, RegIP, false, 0),
		EncodeConst(0, 1),
		EncodeSys(SysHalt, 0),
		EncodeConst(0, 2),
		EncodeSys(SysHalt, 0),
	)
	run(t, c)
	if c.Regs[0] != 2 {
		t.Errorf("r0 = %d, want 2", c.Regs[0])
	}
}

func TestHaltStaysPut(t *testing.T) {
	c := NewCPU()
	loadProgram(t, c, EncodeConst(0, 1), EncodeSys(SysHalt, 0))
	run(t, c)
	if !c.Halted || c.IP() != 1 || c.Steps != 2 {
		t.Errorf("halted=%v ip=%04x steps=%d", c.Halted, c.IP(), c.Steps)
	}
	if err := c.Step(); err != nil || c.Steps != 2 {
		t.Errorf("Step on halted machine: err=%v steps=%d", err, c.Steps)
	}
}

func TestOutPort(t *testing.T) {
	c := NewCPU()
	rec := &RecordingPort{}
	c.Port = rec
	c.Regs[1], c.Regs[2] = 0x41, 0x10
	loadProgram(t, c,
		EncodeInstruction(OpOUT, 1, 2, false, 0),
		EncodeInstruction(OpOUT, 7, 2, true, 0),
		EncodeSys(SysHalt, 0),
	)
	run(t, c)
	want := []Write{{0x41, 0x10}, {7, 0x10}}
	got := rec.Writes()
	if len(got) != len(want) {
		t.Fatalf("got %d writes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWriterPort(t *testing.T) {
	var buf bytes.Buffer
	c := NewCPU()
	c.Port = WriterPort{W: &buf}
	c.Regs[1], c.Regs[2] = 0x41, 0x10
	loadProgram(t, c, EncodeInstruction(OpOUT, 1, 2, false, 0), EncodeSys(SysHalt, 0))
	run(t, c)
	if buf.String() != "Output 0041,0010\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestIllegalInstruction(t *testing.T) {
	for _, w := range []uint16{EncodeSys(2, 0), 0xd000, 0xf123, EncodeInstruction(OpBITS, 1, 2, false, 7)} {
		c := NewCPU()
		loadProgram(t, c, w)
		err := c.Run(10)
		if !diag.Is(err, diag.KindUnsupported) {
			t.Errorf("%04x: expected unsupported error, got %v", w, err)
		}
	}
}

func TestRunStepBudget(t *testing.T) {
	c := NewCPU()
	loadProgram(t, c, EncodeBranch(0, condA))
	err := c.Run(100)
	if !diag.Is(err, diag.KindResourceExhaustion) {
		t.Fatalf("expected resource exhaustion, got %v", err)
	}
	if c.Steps != 100 {
		t.Errorf("Steps = %d, want 100", c.Steps)
	}
}

func TestLoadTooLarge(t *testing.T) {
	c := NewCPU()
	if err := c.Load(make([]uint16, MemWords+1)); err == nil {
		t.Error("expected error for oversized image")
	}
}

func TestDisassemble(t *testing.T) {
	tests := []struct {
		addr uint16
		w    uint16
		want string
	}{
		{0, EncodeInstruction(OpADD, 1, 2, false, 0), "add r1, r2"},
		{0, EncodeInstruction(OpSUB, 3, RegSP, true, 0), "sub 3, sp"},
		{0, EncodeInstruction(OpLD, RegSP, 0, false, 3), "ld sp[3], r0"},
		{0, EncodeInstruction(OpST, 1, RegSP, false, 0), "st r1, sp[0]"},
		{0, EncodeInstruction(OpBITS, 2, 1, true, BitsSHL), "shl 2, r1"},
		{0, EncodeConst(1, 0x12), "const 0x12, r1"},
		{10, EncodeBranch(-2, condE), "br.e 0008"},
		{0, EncodeJump(1, 2, condLT), "jp.EG r1, r2"},
		{0, EncodeSys(SysHalt, 0), "halt"},
		{0, EncodeCall(3), "call r3"},
		{0, EncodeSys(SysRet, 4), "ret 4"},
		{0, 0xf000, ".word 0xf000"},
	}
	for _, tt := range tests {
		if got := Disassemble(tt.addr, tt.w); got != tt.want {
			t.Errorf("Disassemble(%04x) = %q, want %q", tt.w, got, tt.want)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := NewCPU()
	c.Regs[RegSP] = 0xfff0
	loadProgram(t, c,
		EncodeConst(1, 0x12),
		EncodeInstruction(OpST, 1, RegSP, false, 1),
		EncodeSys(SysHalt, 0),
	)
	c.Memory[0xffff] = 0xbeef
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "snap.zip")
	if err := c.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	r := NewCPU()
	if err := r.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if r.Regs != c.Regs || r.Steps != 1 || r.Halted {
		t.Fatalf("restored state differs: regs=%v steps=%d halted=%v", r.Regs, r.Steps, r.Halted)
	}
	if r.Memory != c.Memory {
		t.Fatal("restored memory differs")
	}

	// The restored machine carries on where the saved one stopped.
	run(t, r)
	if r.Memory[0xfff1] != 0x12 {
		t.Errorf("mem[fff1] = %04x, want 0012", r.Memory[0xfff1])
	}
	if r.Steps != 3 {
		t.Errorf("Steps = %d, want 3", r.Steps)
	}
}

func TestRestoreRejectsBadArchive(t *testing.T) {
	c := NewCPU()
	if err := c.RestoreBytes([]byte("not a zip")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func BenchmarkCountdown(b *testing.B) {
	prog := []uint16{
		EncodeConst(1, 0x03),
		EncodeConst(1, 0xe8),                    // r1 = 1000
		EncodeInstruction(OpSUB, 1, 1, true, 0), // 2
		EncodeInstruction(OpCMP, 0, 1, true, 0),
		EncodeBranch(-2, condNE),
		EncodeSys(SysHalt, 0),
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c := NewCPU()
		_ = c.Load(prog)
		if err := c.Run(0); err != nil {
			b.Fatal(err)
		}
	}
}

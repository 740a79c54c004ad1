package main

import (
	"strings"
	"testing"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/asm"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/cpu"
)

const viewerSource = `start:
  const 3, r1
  const 4, r2
  add r1, r2
  halt
`

func TestPanelShowsSourceLine(t *testing.T) {
	prog, err := asm.Assemble(viewerSource)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	vm := cpu.NewCPU()
	if err := vm.Load(prog.Words); err != nil {
		t.Fatal(err)
	}
	g := &Game{vm: vm, prog: prog, lines: strings.Split(viewerSource, "\n"), stepsPerFrame: 1}

	g.step(2)
	panel := strings.Join(panelLines(vm, prog, g.lines), "\n")
	if !strings.Contains(panel, "add r1, r2") {
		t.Errorf("panel does not show the current source line:\n%s", panel)
	}
	if !strings.Contains(panel, "r2  0004") {
		t.Errorf("panel does not show r2=4:\n%s", panel)
	}

	g.step(10)
	if !vm.Halted {
		t.Fatal("VM did not halt")
	}
	if vm.Regs[2] != 7 {
		t.Errorf("r2 = %d, want 7", vm.Regs[2])
	}
}

func TestStepStopsAtBudget(t *testing.T) {
	prog, err := asm.Assemble("loop:\n  br loop\n")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	vm := cpu.NewCPU()
	if err := vm.Load(prog.Words); err != nil {
		t.Fatal(err)
	}
	g := &Game{vm: vm, prog: prog, maxSteps: 50}
	g.step(1000)
	if vm.Steps != 50 {
		t.Errorf("Steps = %d, want 50", vm.Steps)
	}
	if !g.paused || g.status == "" {
		t.Errorf("expected the viewer to pause with a status, got paused=%v status=%q", g.paused, g.status)
	}
}

func TestSourceLineOutOfRange(t *testing.T) {
	prog := &asm.Program{SourceMap: map[uint16]int{0: 9}}
	if got := sourceLine(prog, []string{"x"}, 0); got != "" {
		t.Errorf("sourceLine = %q, want empty", got)
	}
	if got := sourceLine(nil, nil, 0); got != "" {
		t.Errorf("sourceLine(nil) = %q", got)
	}
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/asm"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/compiler"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/config"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/cpu"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/utils"
)

const (
	screenW    = 640
	screenH    = 400
	lineHeight = 14
	stackRows  = 8
)

var errQuit = errors.New("quit")

type Game struct {
	vm    *cpu.CPU
	prog  *asm.Program
	lines []string // assembly text the image came from

	stepsPerFrame int
	maxSteps      int
	paused        bool
	snapshotPath  string
	status        string

	face *text.GoXFace
}

func (g *Game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return errQuit
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.paused = !g.paused
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyS) {
		if err := g.vm.SaveSnapshot(g.snapshotPath); err != nil {
			g.status = "snapshot failed: " + err.Error()
		} else {
			g.status = "snapshot saved to " + g.snapshotPath
		}
	}

	n := g.stepsPerFrame
	if g.paused {
		n = 0
		if inpututil.IsKeyJustPressed(ebiten.KeyN) {
			n = 1
		}
	}
	g.step(n)
	return nil
}

// step runs up to n instructions, stopping on halt, error or the step budget.
func (g *Game) step(n int) {
	for i := 0; i < n; i++ {
		if g.vm.Halted {
			return
		}
		if g.maxSteps > 0 && g.vm.Steps >= uint64(g.maxSteps) {
			g.paused = true
			g.status = fmt.Sprintf("no halt after %d steps", g.maxSteps)
			return
		}
		if err := g.vm.Step(); err != nil {
			g.paused = true
			g.status = err.Error()
			return
		}
	}
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{0x10, 0x14, 0x1c, 0xff})
	for i, s := range panelLines(g.vm, g.prog, g.lines) {
		op := &text.DrawOptions{}
		op.GeoM.Translate(8, float64(8+i*lineHeight))
		op.ColorScale.ScaleWithColor(color.RGBA{0xd8, 0xe0, 0xe8, 0xff})
		text.Draw(screen, s, g.face, op)
	}

	state := "running"
	switch {
	case g.vm.Halted:
		state = "halted"
	case g.paused:
		state = "paused (N steps)"
	}
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%s  steps=%d  [space] pause  [S] snapshot", state, g.vm.Steps), 8, screenH-36)
	if g.status != "" {
		ebitenutil.DebugPrintAt(screen, g.status, 8, screenH-20)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenW, screenH
}

// panelLines renders the machine state: registers, flags, the top of the
// stack and the source line at ip.
func panelLines(vm *cpu.CPU, prog *asm.Program, lines []string) []string {
	var out []string
	for row := 0; row < 4; row++ {
		var b strings.Builder
		for col := 0; col < 4; col++ {
			r := row*4 + col
			fmt.Fprintf(&b, "%-3s %04x   ", regLabel(r), vm.Regs[r])
		}
		out = append(out, strings.TrimRight(b.String(), " "))
	}
	fl := vm.Regs[cpu.RegFL]
	out = append(out, fmt.Sprintf("flags a=%d e=%d g=%d", fl&cpu.FlagA, (fl&cpu.FlagE)>>1, (fl&cpu.FlagG)>>2))
	out = append(out, "")

	out = append(out, "stack")
	sp := vm.Regs[cpu.RegSP]
	for i := 0; i < stackRows; i++ {
		addr := sp + uint16(i)
		out = append(out, fmt.Sprintf("  sp[%d] %04x: %04x", i, addr, vm.Memory[addr]))
		if addr == cpu.StackTop {
			break
		}
	}
	out = append(out, "")

	ip := vm.IP()
	out = append(out, fmt.Sprintf("%04x  %s", ip, cpu.Disassemble(ip, vm.Memory[ip])))
	if src := sourceLine(prog, lines, ip); src != "" {
		out = append(out, "      "+src)
	}
	return out
}

// sourceLine returns the assembly line that produced the word at addr.
func sourceLine(prog *asm.Program, lines []string, addr uint16) string {
	if prog == nil || prog.SourceMap == nil {
		return ""
	}
	n, ok := prog.SourceMap[addr]
	if !ok || n < 1 || n > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[n-1])
}

func regLabel(r int) string {
	switch r {
	case cpu.RegCT:
		return "ct"
	case cpu.RegFL:
		return "fl"
	case cpu.RegSP:
		return "sp"
	case cpu.RegIP:
		return "ip"
	}
	return fmt.Sprintf("r%d", r)
}

func main() {
	configPath := flag.String("config", "", "TOML config file")
	entry := flag.String("entry", "", "entry function for .fj input (default from config)")
	argList := flag.String("args", "", "comma-separated arguments passed to the entry function")
	speed := flag.Int("speed", 1000, "instructions per frame")
	snapshot := flag.String("snapshot", "flapjack.snap", "snapshot file written by S")
	resume := flag.String("resume", "", "resume from a snapshot")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	lg, err := cfg.Log.Logger()
	if err != nil {
		log.Fatalf("Logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	vm := cpu.NewCPU()
	vm.Regs[cpu.RegSP] = uint16(cfg.Sim.StackTop)
	// out lines go to the terminal that launched the viewer.
	vm.Port = cpu.WriterPort{W: os.Stdout}

	var prog *asm.Program
	var src string
	if flag.NArg() > 0 {
		args, err := utils.ParseInts(*argList)
		if err != nil {
			log.Fatalf("-args: %v", err)
		}
		name := cfg.Driver.Entry
		if *entry != "" {
			name = *entry
		}
		if name == "" {
			name = config.DefaultEntry
		}
		fullPath, _, err := utils.GetPathInfo(flag.Arg(0))
		if err != nil {
			log.Fatalf("Bad path: %v", err)
		}
		prog, src, err = compiler.LoadImage(fullPath, compiler.Options{
			Logger: lg,
			Pool:   cfg.Target.Registers,
			Entry:  name,
			Args:   args,
		})
		if err != nil {
			log.Fatalf("Build failed: %v", err)
		}
		if err := vm.Load(prog.Words); err != nil {
			log.Fatal(err)
		}
	}
	if *resume != "" {
		if err := vm.LoadSnapshot(*resume); err != nil {
			log.Fatalf("Failed to resume: %v", err)
		}
	}
	if prog == nil && *resume == "" {
		log.Fatal("usage: desktop [flags] file.fj|file.s|file.o")
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(screenW, screenH)
	ebiten.SetWindowTitle("Flapjack")

	game := &Game{
		vm:            vm,
		prog:          prog,
		lines:         strings.Split(src, "\n"),
		stepsPerFrame: *speed,
		maxSteps:      cfg.Sim.MaxSteps,
		snapshotPath:  *snapshot,
		face:          text.NewGoXFace(basicfont.Face7x13),
	}
	if err := ebiten.RunGame(game); err != nil && !errors.Is(err, errQuit) {
		log.Fatal(err)
	}
	fmt.Printf("stopped after %d steps, r0=%04x\n", vm.Steps, vm.Result())
}

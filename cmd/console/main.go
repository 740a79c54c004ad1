package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/compiler"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/config"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/cpu"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/utils"
)

// chunk is how many instructions run between autosave checks.
const chunk = 10000

// runWithAutosave runs vm to completion, saving a snapshot to path every
// interval. The last snapshot is written when the run stops for any reason.
func runWithAutosave(vm *cpu.CPU, maxSteps int, path string, interval time.Duration, lg *zap.Logger) error {
	last := time.Now()
	var runErr error
	for done := 0; !vm.Halted; done += chunk {
		if maxSteps > 0 && done >= maxSteps {
			runErr = diag.Errorf(diag.StageSimulate, diag.KindResourceExhaustion,
				"no halt after %d steps (ip=%04x)", maxSteps, vm.IP())
			break
		}
		n := chunk
		if maxSteps > 0 && maxSteps-done < n {
			n = maxSteps - done
		}
		if err := vm.Run(n); err != nil && !diag.Is(err, diag.KindResourceExhaustion) {
			runErr = err
			break
		}
		if path != "" && interval > 0 && time.Since(last) >= interval {
			if err := vm.SaveSnapshot(path); err != nil {
				lg.Warn("autosave failed", zap.Error(err))
			}
			last = time.Now()
		}
	}
	if path != "" {
		if err := vm.SaveSnapshot(path); err != nil {
			return err
		}
		lg.Info("snapshot saved", zap.String("path", path), zap.Uint64("steps", vm.Steps))
	}
	return runErr
}

func main() {
	configPath := flag.String("config", "", "TOML config file")
	entry := flag.String("entry", "", "entry function for .fj input (default from config)")
	argList := flag.String("args", "", "comma-separated arguments passed to the entry function")
	showAsm := flag.Bool("show-asm", false, "print the generated assembly")
	resume := flag.String("resume", "", "resume from a snapshot instead of loading a program")
	snapshot := flag.String("snapshot", "", "write a snapshot here when the run stops")
	autosave := flag.Duration("autosave", 0, "also snapshot at this interval while running")
	trace := flag.Bool("trace", false, "print the registers after every instruction")
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

	switch {
	case *resume != "":
		if err := vm.LoadSnapshot(*resume); err != nil {
			log.Fatalf("Failed to resume: %v", err)
		}
		lg.Info("resumed", zap.String("path", *resume), zap.Uint64("steps", vm.Steps))
	case flag.NArg() == 1:
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
		image, text, err := compiler.LoadImage(fullPath, compiler.Options{
			Logger: lg,
			Pool:   cfg.Target.Registers,
			Entry:  name,
			Args:   args,
		})
		if err != nil {
			log.Fatalf("Build failed: %v", err)
		}
		if *showAsm && text != "" {
			fmt.Print("Generated Assembly:\n", text, "\n")
		}
		if err := vm.Load(image.Words); err != nil {
			log.Fatal(err)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: console [flags] file.fj|file.s|file.o, or console -resume snap.zip")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *trace {
		for !vm.Halted {
			if cfg.Sim.MaxSteps > 0 && vm.Steps >= uint64(cfg.Sim.MaxSteps) {
				log.Fatalf("no halt after %d steps", cfg.Sim.MaxSteps)
			}
			fmt.Printf("%04x  %s\n", vm.IP(), cpu.Disassemble(vm.IP(), vm.Memory[vm.IP()]))
			if err := vm.Step(); err != nil {
				log.Fatalf("Run failed: %v", err)
			}
			vm.Dump(os.Stdout)
		}
	} else if err := runWithAutosave(vm, cfg.Sim.MaxSteps, *snapshot, *autosave, lg); err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
		vm.Dump(os.Stderr)
		os.Exit(1)
	}

	fmt.Printf("halted after %d steps\n", vm.Steps)
	vm.Dump(os.Stdout)
	fmt.Printf("result: %d (0x%04x)\n", int16(vm.Result()), vm.Result())
}

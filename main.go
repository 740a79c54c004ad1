//go:build !js

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/asm"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/compiler"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/config"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/cpu"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/utils"
)

// buildOptions is what every file of a batch shares.
type buildOptions struct {
	OutDir   string
	Run      bool
	Dump     bool
	Entry    string
	Args     []int
	Pool     []int
	MaxSteps int
	StackTop uint16

	// EntryOptional marks Entry as the default: it gets a stub only when
	// the unit defines it.
	EntryOptional bool
}

// fileResult is one file's report. Output is printed in input order once
// the whole batch is done.
type fileResult struct {
	Path   string
	Output bytes.Buffer
	Err    error
}

func main() {
	configPath := flag.String("config", "", "TOML config file")
	outDir := flag.String("o", "", "output directory (default: next to each input)")
	runProgram := flag.Bool("run", false, "run each image on the simulator and print r0")
	entry := flag.String("entry", "", "entry function for the startup stub (default from config)")
	argList := flag.String("args", "", "comma-separated arguments passed to the entry function")
	dump := flag.Bool("dump", false, "print the generated assembly")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "nothing to do: provide one or more .fj or .s files")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	args, err := utils.ParseInts(*argList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-args: %v\n", err)
		os.Exit(2)
	}
	opts := buildOptions{
		OutDir:   cfg.Driver.OutDir,
		Run:      *runProgram,
		Dump:     *dump,
		Entry:    cfg.Driver.Entry,
		Args:     args,
		Pool:     cfg.Target.Registers,
		MaxSteps: cfg.Sim.MaxSteps,
		StackTop: uint16(cfg.Sim.StackTop),
	}
	if *outDir != "" {
		opts.OutDir = *outDir
	}
	if *entry != "" {
		opts.Entry = *entry
	}
	if opts.Entry == "" {
		// Arguments need a callee; without them a unit may lack main.
		opts.Entry = config.DefaultEntry
		opts.EntryOptional = len(args) == 0
	}
	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create output directory %q: %v\n", opts.OutDir, err)
			os.Exit(1)
		}
	}

	results := buildAll(context.Background(), flag.Args(), opts, cfg.Driver.Jobs, log)
	failed := 0
	for _, r := range results {
		os.Stdout.Write(r.Output.Bytes())
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Path, r.Err)
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d files failed\n", failed, len(results))
		os.Exit(1)
	}
}

// buildAll processes paths concurrently. Failures stay with their file and
// never cancel the rest of the batch.
func buildAll(ctx context.Context, paths []string, opts buildOptions, jobs int, log *zap.Logger) []*fileResult {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	results := make([]*fileResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, path := range paths {
		results[i] = &fileResult{Path: path}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			flog := log.With(zap.String("file", path))
			results[i].Err = buildFile(path, opts, &results[i].Output, flog)
			if results[i].Err != nil {
				flog.Debug("build failed", zap.Error(results[i].Err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// buildFile compiles or assembles one input. Outputs are written only after
// every stage succeeded.
func buildFile(path string, opts buildOptions, out *bytes.Buffer, log *zap.Logger) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	var image *asm.Program
	var asmText string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fj":
		res, err := compiler.Compile(string(source), compiler.Options{
			Logger: log,
			Pool:   opts.Pool,
			Entry:  opts.Entry,
			Args:   opts.Args,

			EntryOptional: opts.EntryOptional,
		})
		if err != nil {
			return err
		}
		image, asmText = res.Image, res.Asm
	case ".s":
		image, err = asm.Assemble(string(source))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown input type %q (want .fj or .s)", filepath.Ext(path))
	}

	// Simulate before writing so a failed run leaves nothing behind.
	var runOut bytes.Buffer
	if opts.Run {
		vm, err := runImage(image.Words, opts, &runOut)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		fmt.Fprintf(&runOut, "%s: r0=%d (0x%04x) after %d steps\n", path, int16(vm.Result()), vm.Result(), vm.Steps)
	}

	var written []string
	fail := func(err error) error {
		for _, p := range written {
			_ = os.Remove(p)
		}
		return err
	}
	if asmText != "" {
		sPath, err := utils.OutputPath(path, opts.OutDir, ".s")
		if err != nil {
			return err
		}
		if err := os.WriteFile(sPath, []byte(asmText), 0o644); err != nil {
			return fmt.Errorf("failed to write assembly file: %w", err)
		}
		written = append(written, sPath)
	}
	oPath, err := utils.OutputPath(path, opts.OutDir, ".o")
	if err != nil {
		return fail(err)
	}
	if err := writeObject(oPath, image.Words); err != nil {
		_ = os.Remove(oPath)
		return fail(fmt.Errorf("failed to write object file: %w", err))
	}

	if opts.Dump && asmText != "" {
		fmt.Fprintf(out, "; %s\n%s", path, asmText)
	}
	fmt.Fprintf(out, "%s: %d words -> %s\n", path, len(image.Words), oPath)
	out.Write(runOut.Bytes())
	log.Info("built", zap.String("object", oPath), zap.Int("words", len(image.Words)))
	return nil
}

func writeObject(path string, words []uint16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := asm.WriteHex(f, words); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// runImage simulates words from address 0 until halt. out lines go to out
// so concurrent files do not interleave.
func runImage(words []uint16, opts buildOptions, out *bytes.Buffer) (*cpu.CPU, error) {
	vm := cpu.NewCPU()
	vm.Regs[cpu.RegSP] = opts.StackTop
	vm.Port = cpu.WriterPort{W: out}
	if err := vm.Load(words); err != nil {
		return nil, err
	}
	if err := vm.Run(opts.MaxSteps); err != nil {
		return vm, err
	}
	return vm, nil
}

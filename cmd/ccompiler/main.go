// Command ccompiler prints every stage of the compiler pipeline for one
// source file: tokens, declarations, and per function the frame, IR, live
// sets, coalesced IR, register allocation and assembly.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ast"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/compiler"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/config"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/emit"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/layout"
)

const testSource = `function add(a->int16, b->int16)->int16 {
    return a + b;
}
`

func main() {
	configPath := flag.String("config", "", "TOML config file")
	showTokens := flag.Bool("tokens", true, "print the token stream")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	src := testSource
	if flag.NArg() > 0 {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
	}

	// No entry: the dump shows the functions, not a runnable image.
	res, err := compiler.Compile(src, compiler.Options{Logger: log, Pool: cfg.Target.Registers})
	dump(os.Stdout, res, *showTokens)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile error:", err)
		os.Exit(1)
	}
}

// dump prints whatever stages res reached.
func dump(w io.Writer, res *compiler.Result, showTokens bool) {
	if showTokens && res.Tokens != nil {
		fmt.Fprintf(w, "Tokens (%d)\n", len(res.Tokens))
		for _, tok := range res.Tokens {
			fmt.Fprintln(w, " ", tok)
		}
		fmt.Fprintln(w)
	}

	if res.Program != nil {
		fmt.Fprintln(w, "AST")
		for _, d := range res.Program.Decls {
			switch d := d.(type) {
			case *ast.Function:
				fmt.Fprintln(w, " ", d)
			case *ast.StructDecl:
				fmt.Fprintf(w, "  %s (%d words)\n", d.Type, d.Type.Size())
			case *ast.AsmDecl:
				fmt.Fprintf(w, "  asm %q\n", d.Text)
			}
		}
		fmt.Fprintln(w)
	}

	for _, fr := range res.Funcs {
		fmt.Fprintf(w, "== %s ==\n", fr.Name)
		if fr.Frame != nil {
			fmt.Fprintln(w, "Frame")
			fmt.Fprint(w, formatFrame(fr.Frame))
		}
		if fr.IR != nil {
			fmt.Fprintln(w, "IR")
			fmt.Fprint(w, ir.Format(fr.IR.Steps))
		}
		if fr.Live != nil {
			fmt.Fprintln(w, "Live")
			fmt.Fprint(w, fr.Live.Format())
		}
		if fr.Coalesced != nil {
			fmt.Fprintln(w, "Coalesced")
			fmt.Fprint(w, fr.Coalesced.Format())
		}
		if fr.Alloc != nil {
			fmt.Fprintln(w, "Registers")
			fmt.Fprint(w, fr.Alloc.Format())
		}
		if fr.Asm != nil {
			fmt.Fprintln(w, "Assembly")
			fmt.Fprint(w, emit.Text(fr.Asm))
		}
		fmt.Fprintln(w)
	}

	if res.Asm != "" {
		fmt.Fprintln(w, "Generated Assembly")
		fmt.Fprint(w, res.Asm)
		fmt.Fprintf(w, "\n%d words\n", len(res.Image.Words))
	}
}

func formatFrame(f *layout.Frame) string {
	type slot struct {
		name string
		off  int
	}
	slots := make([]slot, 0, len(f.Offsets))
	for v, off := range f.Offsets {
		slots = append(slots, slot{v.Name, off})
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].off != slots[j].off {
			return slots[i].off < slots[j].off
		}
		return slots[i].name < slots[j].name
	})
	s := fmt.Sprintf("  params=%d locals=%d extent=%d ctx@%d\n", f.Params, f.TopLocals, f.Extent, f.ContextSlot())
	for _, sl := range slots {
		s += fmt.Sprintf("  %-12s %d\n", sl.name, sl.off)
	}
	return s
}

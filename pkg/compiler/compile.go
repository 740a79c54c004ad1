package compiler

import (
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/asm"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ast"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/emit"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/ir"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/irgen"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/layout"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/liveness"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/regalloc"
)

// Options controls one compilation.
type Options struct {
	Logger *zap.Logger
	// Pool is the allocatable register set; nil means regalloc.DefaultPool.
	Pool []int
	// Entry, when set, prepends a startup stub at address 0 that calls it
	// with Args and halts.
	Entry string
	Args  []int
	// EntryOptional skips the stub when the unit does not define Entry.
	EntryOptional bool
}

// FuncResult holds every stage's output for one function. Fields after the
// failing stage are nil.
type FuncResult struct {
	Name      string
	Frame     *layout.Frame
	IR        *ir.Func
	Live      *liveness.Result
	Coalesced *liveness.Result
	Alloc     *regalloc.Allocation
	Asm       []emit.Instr
}

// Result is a compiled unit. Asm and Image are set only when every
// function compiled.
type Result struct {
	Tokens  []Token
	Program *ast.Program
	Unit    *Unit
	Funcs   []*FuncResult
	Asm     string
	Image   *asm.Program
}

// Compile runs the whole pipeline over src. A failure in one function does
// not stop the others from compiling; all failures are returned together
// and the unit then produces no assembly.
func Compile(src string, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	res := &Result{}

	tokens, err := Lex(src)
	if err != nil {
		return res, err
	}
	res.Tokens = tokens
	log.Debug("lexed", zap.Int("tokens", len(tokens)))

	prog, err := NewParser(tokens, src).ParseProgram()
	if err != nil {
		return res, err
	}
	res.Program = prog
	log.Debug("parsed", zap.Int("decls", len(prog.Decls)))

	unit, err := Resolve(prog)
	if err != nil {
		return res, err
	}
	res.Unit = unit

	ctr := ir.NewCounter()
	var errs error
	for _, fn := range prog.Functions() {
		fr, err := CompileFunction(fn, unit, ctr, opts.Pool, log)
		res.Funcs = append(res.Funcs, fr)
		if err != nil {
			log.Debug("function failed", zap.String("func", fn.Name), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return res, errs
	}

	var b strings.Builder
	if opts.Entry != "" && (!opts.EntryOptional || unit.Function(opts.Entry) != nil) {
		stub, err := startup(unit, opts.Entry, opts.Args)
		if err != nil {
			return res, err
		}
		b.WriteString(emit.Text(stub))
	}
	i := 0
	for _, d := range prog.Decls {
		switch d := d.(type) {
		case *ast.Function:
			b.WriteString("\n")
			b.WriteString(emit.Text(res.Funcs[i].Asm))
			i++
		case *ast.AsmDecl:
			b.WriteString(d.Text)
			b.WriteString("\n")
		}
	}

	image, err := asm.Assemble(b.String())
	if err != nil {
		return res, err
	}
	res.Asm = b.String()
	res.Image = image
	log.Debug("assembled", zap.Int("functions", len(res.Funcs)), zap.Int("words", len(image.Words)))
	return res, nil
}

func startup(unit *Unit, entry string, args []int) ([]emit.Instr, error) {
	fn := unit.Function(entry)
	if fn == nil {
		return nil, diag.Errorf(diag.StageResolve, diag.KindNameResolution, "entry function not defined").WithName(entry)
	}
	if len(fn.Params) != len(args) {
		return nil, diag.Errorf(diag.StageResolve, diag.KindArity, "%d arguments, %s takes %d", len(args), entry, len(fn.Params)).WithName(entry)
	}
	return emit.Startup(entry, args)
}

// CompileFunction runs layout through emission for one resolved function.
// ctr is shared by every function of the unit.
func CompileFunction(fn *ast.Function, unit irgen.Unit, ctr *ir.Counter, pool []int, log *zap.Logger) (*FuncResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("func", fn.Name))
	fr := &FuncResult{Name: fn.Name}

	frame, err := layout.Layout(fn)
	if err != nil {
		return fr, err
	}
	fr.Frame = frame
	log.Debug("layout", zap.Int("params", frame.Params), zap.Int("extent", frame.Extent))

	irf, err := irgen.Build(fn, frame, unit, ctr)
	if err != nil {
		return fr, err
	}
	fr.IR = irf
	log.Debug("irgen", zap.Int("steps", len(irf.Steps)))

	live, err := liveness.Analyze(irf.Steps)
	if err != nil {
		return fr, withFunc(err, fn.Name)
	}
	fr.Live = live

	co, err := liveness.Coalesce(live)
	if err != nil {
		return fr, withFunc(err, fn.Name)
	}
	fr.Coalesced = co
	log.Debug("liveness", zap.Int("steps", len(co.Steps)))

	alloc, err := regalloc.Allocate(co, pool)
	if err != nil {
		return fr, withFunc(err, fn.Name)
	}
	fr.Alloc = alloc
	log.Debug("regalloc", zap.Int("vregs", len(alloc.Reg)))

	// The emitter reads the frame shape from the IR function, the steps
	// from the allocation.
	instrs, err := emit.Function(irf, alloc)
	if err != nil {
		return fr, err
	}
	fr.Asm = instrs
	log.Debug("emit", zap.Int("instructions", len(instrs)))
	return fr, nil
}

func withFunc(err error, name string) error {
	if de, ok := err.(*diag.Error); ok && de.Func == "" {
		return de.WithFunc(name)
	}
	return err
}

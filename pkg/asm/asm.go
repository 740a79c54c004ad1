// Package asm is the two-pass assembler for Flapjack assembly. The first
// pass collects label addresses, the second encodes one 16-bit word per
// instruction and resolves every label reference. Output is a flat image
// linked at address zero.
package asm

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/cpu"
	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
)

// fmt2Ops share the register/immediate format.
var fmt2Ops = map[string]uint16{
	"ld":  cpu.OpLD,
	"st":  cpu.OpST,
	"add": cpu.OpADD,
	"sub": cpu.OpSUB,
	"cmp": cpu.OpCMP,
	"out": cpu.OpOUT,
	"mov": cpu.OpMOV,
}

// bitsOps are fmt2 with opcode OpBITS and the operation in the index field.
var bitsOps = map[string]uint16{
	"and": cpu.BitsAND,
	"or":  cpu.BitsOR,
	"xor": cpu.BitsXOR,
	"shl": cpu.BitsSHL,
	"shr": cpu.BitsSHR,
}

var otherOps = map[string]bool{
	"const": true,
	"jp":    true,
	"br":    true,
	"halt":  true,
	"call":  true,
	"ret":   true,
}

// Program is an assembled image.
type Program struct {
	Words []uint16
	// SourceMap maps the address of each emitted word to its 1-based source line.
	SourceMap map[uint16]int
	Labels    map[string]uint16
}

type Assembler struct {
	labels map[string]uint16
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string // lower-cased; directives keep their leading '.'
	cond     string // condition letters after '.', case-sensitive
	hasCond  bool
	operands []string
}

func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]uint16),
	}
}

func Assemble(code string) (*Program, error) {
	return NewAssembler().Assemble(code)
}

func (a *Assembler) Assemble(code string) (*Program, error) {
	lines := strings.Split(code, "\n")

	if err := a.pass1(lines); err != nil {
		return nil, err
	}

	return a.pass2(lines)
}

func asmError(kind diag.Kind, lineNo int, format string, args ...any) *diag.Error {
	return diag.Errorf(diag.StageAssemble, kind, format, args...).AtLine(lineNo)
}

func (a *Assembler) pass1(lines []string) error {
	var address uint32

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return err
		}

		for _, lbl := range p.labels {
			if address > 0xFFFF {
				return asmError(diag.KindEncodingRange, lineNo, "label points past addressable memory").WithName(lbl)
			}
			if _, exists := a.labels[lbl]; exists {
				return asmError(diag.KindLinkage, lineNo, "duplicate label").WithName(lbl)
			}
			a.labels[lbl] = uint16(address)
		}

		switch {
		case p.mnemonic == "":
			continue
		case p.mnemonic == ".org":
			target, err := parseOrg(p, lineNo)
			if err != nil {
				return err
			}
			if target < address {
				return asmError(diag.KindLayoutOrder, lineNo, "cannot move origin backward from %04x to %04x", address, target)
			}
			address = target
			continue
		case p.mnemonic == ".word":
		case strings.HasPrefix(p.mnemonic, "."):
			return asmError(diag.KindUnsupported, lineNo, "unknown directive").WithName(p.mnemonic)
		default:
			if !knownMnemonic(p.mnemonic) {
				return asmError(diag.KindUnsupported, lineNo, "unknown instruction").WithName(p.mnemonic)
			}
		}

		if address+1 > cpu.MemWords {
			return asmError(diag.KindEncodingRange, lineNo, "program too large")
		}
		address++
	}

	return nil
}

func knownMnemonic(m string) bool {
	if _, ok := fmt2Ops[m]; ok {
		return true
	}
	if _, ok := bitsOps[m]; ok {
		return true
	}
	return otherOps[m]
}

func parseOrg(p parsedLine, lineNo int) (uint32, error) {
	if len(p.operands) != 1 {
		return 0, asmError(diag.KindSyntax, lineNo, ".org expects exactly one operand")
	}
	target, ok := parseNumber(p.operands[0])
	if !ok {
		return 0, asmError(diag.KindSyntax, lineNo, "invalid .org value").WithName(p.operands[0])
	}
	if target < 0 || target > 0xFFFF {
		return 0, asmError(diag.KindEncodingRange, lineNo, ".org out of range").WithName(p.operands[0])
	}
	return uint32(target), nil
}

func (a *Assembler) pass2(lines []string) (*Program, error) {
	prog := &Program{
		SourceMap: make(map[uint16]int),
		Labels:    a.labels,
	}

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return nil, err
		}

		if p.mnemonic == "" {
			continue
		}

		if p.mnemonic == ".org" {
			target, err := parseOrg(p, lineNo)
			if err != nil {
				return nil, err
			}
			for uint32(len(prog.Words)) < target {
				prog.Words = append(prog.Words, 0)
			}
			continue
		}

		addr := uint16(len(prog.Words))
		prog.SourceMap[addr] = lineNo

		var word uint16
		if p.mnemonic == ".word" {
			if len(p.operands) != 1 {
				return nil, asmError(diag.KindSyntax, lineNo, ".word expects exactly one operand")
			}
			word, err = a.parseImmediate(p.operands[0], lineNo)
		} else {
			word, err = a.encode(p, addr)
		}
		if err != nil {
			return nil, err
		}
		prog.Words = append(prog.Words, word)
	}

	return prog, nil
}

func (a *Assembler) encode(p parsedLine, addr uint16) (uint16, error) {
	lineNo := p.lineNo
	ops := p.operands
	want := func(n int) error {
		if len(ops) != n {
			return asmError(diag.KindSyntax, lineNo, "%s expects %d operands, got %d", p.mnemonic, n, len(ops))
		}
		return nil
	}
	if p.hasCond && p.mnemonic != "jp" && p.mnemonic != "br" {
		return 0, asmError(diag.KindSyntax, lineNo, "%s takes no condition code", p.mnemonic)
	}

	if opcode, ok := fmt2Ops[p.mnemonic]; ok {
		if err := want(2); err != nil {
			return 0, err
		}
		return encodeFmt2(p.mnemonic, opcode, 0, ops[0], ops[1], lineNo)
	}
	if sub, ok := bitsOps[p.mnemonic]; ok {
		if err := want(2); err != nil {
			return 0, err
		}
		return encodeFmt2(p.mnemonic, cpu.OpBITS, sub, ops[0], ops[1], lineNo)
	}

	switch p.mnemonic {
	case "halt":
		if err := want(0); err != nil {
			return 0, err
		}
		return cpu.EncodeSys(cpu.SysHalt, 0), nil

	case "call":
		if err := want(1); err != nil {
			return 0, err
		}
		r, err := parseRegister(ops[0], lineNo)
		if err != nil {
			return 0, err
		}
		return cpu.EncodeCall(r), nil

	case "ret":
		if err := want(1); err != nil {
			return 0, err
		}
		n, ok := parseNumber(ops[0])
		if !ok {
			return 0, asmError(diag.KindSyntax, lineNo, "invalid return adjustment").WithName(ops[0])
		}
		if n < 0 || n > 255 {
			return 0, asmError(diag.KindEncodingRange, lineNo, "return adjustment out of range").WithName(ops[0])
		}
		return cpu.EncodeSys(cpu.SysRet, uint16(n)), nil

	case "const":
		if err := want(2); err != nil {
			return 0, err
		}
		b, err := a.parseByte(ops[0], lineNo)
		if err != nil {
			return 0, err
		}
		r, err := parseRegister(ops[1], lineNo)
		if err != nil {
			return 0, err
		}
		return cpu.EncodeConst(r, b), nil

	case "jp":
		if err := want(2); err != nil {
			return 0, err
		}
		cc, err := parseCond(p, lineNo)
		if err != nil {
			return 0, err
		}
		ra, err := parseRegister(ops[0], lineNo)
		if err != nil {
			return 0, err
		}
		rb, err := parseRegister(ops[1], lineNo)
		if err != nil {
			return 0, err
		}
		return cpu.EncodeJump(ra, rb, cc), nil

	case "br":
		if err := want(1); err != nil {
			return 0, err
		}
		cc, err := parseCond(p, lineNo)
		if err != nil {
			return 0, err
		}
		delta, ok := parseNumber(ops[0])
		if !ok {
			target, err := a.lookup(ops[0], lineNo)
			if err != nil {
				return 0, err
			}
			delta = int64(target) - int64(addr)
		}
		if delta < -128 || delta > 127 {
			return 0, asmError(diag.KindEncodingRange, lineNo, "branch distance %d out of range", delta).WithName(ops[0])
		}
		return cpu.EncodeBranch(int8(delta), cc), nil
	}

	return 0, asmError(diag.KindUnsupported, lineNo, "unknown instruction").WithName(p.mnemonic)
}

// encodeFmt2 handles "op src, dst". ld takes src as reg[i]; st takes dst as
// reg[i]; every op accepts a 0..15 immediate as src.
func encodeFmt2(mnemonic string, opcode, sub uint16, src, dst string, lineNo int) (uint16, error) {
	var op1, op2, index uint16
	imm := false

	srcReg, srcIdx, hasSrcIdx, err := parseMemOperand(src, lineNo)
	switch {
	case err == nil:
		if hasSrcIdx && mnemonic != "ld" {
			return 0, asmError(diag.KindSyntax, lineNo, "%s does not take an indexed source", mnemonic).WithName(src)
		}
		op1, index = srcReg, srcIdx
	default:
		v, ok := parseNumber(src)
		if !ok {
			return 0, err
		}
		if v < 0 || v > 15 {
			return 0, asmError(diag.KindEncodingRange, lineNo, "immediate does not fit in 4 bits").WithName(src)
		}
		op1, imm = uint16(v), true
	}

	dstReg, dstIdx, hasDstIdx, err := parseMemOperand(dst, lineNo)
	if err != nil {
		return 0, err
	}
	if hasDstIdx && mnemonic != "st" {
		return 0, asmError(diag.KindSyntax, lineNo, "%s does not take an indexed destination", mnemonic).WithName(dst)
	}
	op2 = dstReg
	if mnemonic == "st" {
		index = dstIdx
	}
	if opcode == cpu.OpBITS {
		index = sub
	}
	return cpu.EncodeInstruction(opcode, op1, op2, imm, index), nil
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t") {
			break
		}

		if !isIdentifier(beforeColon) {
			return p, asmError(diag.KindSyntax, lineNo, "invalid label").WithName(beforeColon)
		}

		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	head, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		head, rest = line[:i], strings.TrimSpace(line[i+1:])
	}

	if strings.HasPrefix(head, ".") {
		p.mnemonic = strings.ToLower(head)
	} else {
		base, cond, found := strings.Cut(head, ".")
		p.mnemonic = strings.ToLower(base)
		p.cond, p.hasCond = cond, found
	}

	if rest != "" {
		for _, op := range strings.Split(rest, ",") {
			op = strings.TrimSpace(op)
			if op == "" {
				return p, asmError(diag.KindSyntax, lineNo, "empty operand")
			}
			p.operands = append(p.operands, op)
		}
	}

	return p, nil
}

func stripComments(line string) string {
	if cut := strings.IndexAny(line, "#;"); cut >= 0 {
		return line[:cut]
	}
	return line
}

func parseCond(p parsedLine, lineNo int) (uint16, error) {
	if !p.hasCond {
		return cpu.FlagA | cpu.CondPositive, nil
	}
	var cc uint16
	pos, neg := false, false
	for _, ch := range p.cond {
		switch ch {
		case 'a', 'e', 'g':
			pos = true
		case 'A', 'E', 'G':
			neg = true
		default:
			return 0, asmError(diag.KindSyntax, lineNo, "malformed condition code").WithName(p.cond)
		}
		switch unicode.ToLower(ch) {
		case 'a':
			cc |= cpu.FlagA
		case 'e':
			cc |= cpu.FlagE
		case 'g':
			cc |= cpu.FlagG
		}
	}
	if pos == neg {
		return 0, asmError(diag.KindSyntax, lineNo, "malformed condition code").WithName(p.cond)
	}
	if pos {
		cc |= cpu.CondPositive
	}
	return cc, nil
}

var registerNames = map[string]uint16{
	"ct": cpu.RegCT,
	"fl": cpu.RegFL,
	"sp": cpu.RegSP,
	"ip": cpu.RegIP,
}

func parseRegister(token string, lineNo int) (uint16, error) {
	t := strings.ToLower(token)
	if r, ok := registerNames[t]; ok {
		return r, nil
	}
	if strings.HasPrefix(t, "r") {
		if n, err := strconv.Atoi(t[1:]); err == nil && n >= 0 && n <= 15 {
			return uint16(n), nil
		}
	}
	return 0, asmError(diag.KindSyntax, lineNo, "invalid register").WithName(token)
}

// parseMemOperand parses "reg" or "reg[i]".
func parseMemOperand(token string, lineNo int) (reg, index uint16, indexed bool, err error) {
	name := token
	if open := strings.IndexByte(token, '['); open >= 0 {
		if !strings.HasSuffix(token, "]") {
			return 0, 0, false, asmError(diag.KindSyntax, lineNo, "malformed index").WithName(token)
		}
		n, ok := parseNumber(token[open+1 : len(token)-1])
		if !ok {
			return 0, 0, false, asmError(diag.KindSyntax, lineNo, "malformed index").WithName(token)
		}
		if n < 0 || n > 7 {
			return 0, 0, false, asmError(diag.KindEncodingRange, lineNo, "index does not fit in 3 bits").WithName(token)
		}
		name, index, indexed = strings.TrimSpace(token[:open]), uint16(n), true
	}
	reg, err = parseRegister(name, lineNo)
	return reg, index, indexed, err
}

func parseNumber(token string) (int64, bool) {
	v, err := strconv.ParseInt(token, 0, 64)
	return v, err == nil
}

func (a *Assembler) lookup(label string, lineNo int) (uint16, error) {
	if addr, ok := a.labels[label]; ok {
		return addr, nil
	}
	if isIdentifier(label) {
		return 0, asmError(diag.KindLinkage, lineNo, "undefined label").WithName(label)
	}
	return 0, asmError(diag.KindSyntax, lineNo, "invalid operand").WithName(label)
}

// parseImmediate resolves a 16-bit value: a number in -32768..65535 or a label.
func (a *Assembler) parseImmediate(token string, lineNo int) (uint16, error) {
	if v, ok := parseNumber(token); ok {
		if v < -32768 || v > 0xFFFF {
			return 0, asmError(diag.KindEncodingRange, lineNo, "immediate out of range").WithName(token)
		}
		return uint16(v), nil
	}
	return a.lookup(token, lineNo)
}

// parseByte resolves the operand of const: hi(x), lo(x) or a plain 0..255.
func (a *Assembler) parseByte(token string, lineNo int) (byte, error) {
	lower := strings.ToLower(token)
	for _, half := range []string{"hi(", "lo("} {
		if !strings.HasPrefix(lower, half) || !strings.HasSuffix(token, ")") {
			continue
		}
		v, err := a.parseImmediate(strings.TrimSpace(token[3:len(token)-1]), lineNo)
		if err != nil {
			return 0, err
		}
		if half == "hi(" {
			return byte(v >> 8), nil
		}
		return byte(v), nil
	}
	v, ok := parseNumber(token)
	if !ok {
		return 0, asmError(diag.KindSyntax, lineNo, "const expects hi(x), lo(x) or a byte").WithName(token)
	}
	if v < 0 || v > 0xFF {
		return 0, asmError(diag.KindEncodingRange, lineNo, "const operand out of byte range").WithName(token)
	}
	return byte(v), nil
}

// isIdentifier accepts label names; generated labels start with '.'.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}

	return s != "."
}

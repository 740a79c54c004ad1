package cpu

import (
	"fmt"
	"io"
	"os"

	"github.com/InternalCakeEngine/fpga-flapjack/pkg/diag"
)

// Major opcodes, bits 15..12 of every instruction word.
const (
	OpSYS   uint16 = 0x0
	OpJP    uint16 = 0x1
	OpBR    uint16 = 0x2
	OpLD    uint16 = 0x3
	OpST    uint16 = 0x4
	OpADD   uint16 = 0x5
	OpSUB   uint16 = 0x6
	OpCMP   uint16 = 0x7
	OpOUT   uint16 = 0x8
	OpCONST uint16 = 0x9
	OpBITS  uint16 = 0xA
	OpMOV   uint16 = 0xB
	OpSHR   uint16 = 0xC // legacy encoding, same as bits/shr
)

// Sub-opcodes of OpSYS, bits 11..8.
const (
	SysHalt uint16 = 0x0
	SysCall uint16 = 0x1
	SysRet  uint16 = 0x3
)

// Sub-operations of OpBITS, bits 2..0.
const (
	BitsAND uint16 = 0
	BitsOR  uint16 = 1
	BitsXOR uint16 = 2
	BitsSHL uint16 = 3
	BitsSHR uint16 = 4
)

// Special registers.
const (
	RegCT = 12 // return address, set by call
	RegFL = 13
	RegSP = 14
	RegIP = 15
)

// Flags set by cmp. FlagA is always treated as set when testing conditions.
const (
	FlagA uint16 = 1 << 0
	FlagE uint16 = 1 << 1
	FlagG uint16 = 1 << 2

	// CondPositive in a condition code means "all named flags set";
	// without it, "all named flags clear".
	CondPositive uint16 = 1 << 3
)

const (
	MemWords = 65536
	StackTop = 0xFFFF
)

type CPU struct {
	Regs   [16]uint16
	Memory [MemWords]uint16

	Halted bool
	Steps  uint64

	// Port receives out instructions. If nil, lines are written to os.Stdout.
	Port Port
}

// NewCPU returns a reset machine with empty memory.
func NewCPU() *CPU {
	c := &CPU{}
	c.Reset()
	return c
}

// Reset clears the registers and run state. Memory is kept.
func (c *CPU) Reset() {
	c.Regs = [16]uint16{}
	c.Regs[RegSP] = StackTop
	c.Halted = false
	c.Steps = 0
}

// Load copies words into memory starting at address 0.
func (c *CPU) Load(words []uint16) error {
	if len(words) > MemWords {
		return fmt.Errorf("image of %d words does not fit in memory", len(words))
	}
	copy(c.Memory[:], words)
	return nil
}

func (c *CPU) port() Port {
	if c.Port != nil {
		return c.Port
	}
	return WriterPort{W: os.Stdout}
}

// IP returns the address of the next instruction.
func (c *CPU) IP() uint16 { return c.Regs[RegIP] }

// Result is the value a function returns in r0.
func (c *CPU) Result() uint16 { return c.Regs[0] }

func (c *CPU) condTrue(cc uint16) bool {
	mask := cc & 7
	fl := c.Regs[RegFL] | FlagA
	if cc&CondPositive != 0 {
		return fl&mask == mask
	}
	return ^fl&mask == mask
}

func (c *CPU) illegal(instr uint16) error {
	return diag.Errorf(diag.StageSimulate, diag.KindUnsupported, "illegal instruction %04x at %04x", instr, c.Regs[RegIP])
}

// Step executes one instruction. A halted machine does nothing.
func (c *CPU) Step() error {
	if c.Halted {
		return nil
	}

	ip := c.Regs[RegIP]
	instr := c.Memory[ip]
	opcode := instr >> 12
	r1 := (instr >> 8) & 15
	r2 := (instr >> 4) & 15
	immMode := (instr>>3)&1 == 1
	index := instr & 7

	// First operand: register value, or the 4-bit field itself in immediate mode.
	op1 := c.Regs[r1]
	if immMode {
		op1 = r1
	}
	op2 := c.Regs[r2]

	next := ip + 1
	switch opcode {
	case OpSYS:
		switch r1 {
		case SysHalt:
			c.Halted = true
			next = ip
		case SysCall:
			c.Regs[RegCT] = ip + 1
			next = op2
		case SysRet:
			c.Regs[RegSP] += instr & 0xff
			next = c.Regs[RegCT]
		default:
			return c.illegal(instr)
		}

	case OpJP:
		if c.condTrue(instr & 15) {
			next = c.Regs[r1]
		} else {
			next = op2
		}

	case OpBR:
		if c.condTrue(instr & 15) {
			delta := int8(byte(instr >> 4))
			next = ip + uint16(int16(delta))
		}

	case OpLD:
		if immMode {
			c.Regs[r2] = r1
		} else {
			c.Regs[r2] = c.Memory[op1+index]
		}

	case OpST:
		c.Memory[op2+index] = op1

	case OpADD:
		c.Regs[r2] += op1

	case OpSUB:
		c.Regs[r2] -= op1

	case OpCMP:
		v := int(op2) - int(op1)
		fl := c.Regs[RegFL]&^15 | FlagA
		if v == 0 {
			fl |= FlagE
		}
		if v < 0 {
			fl |= FlagG
		}
		c.Regs[RegFL] = fl

	case OpOUT:
		c.port().Out(op1, op2)

	case OpCONST:
		c.Regs[r1] = c.Regs[r1]<<8 | instr&0xff

	case OpBITS:
		switch index {
		case BitsAND:
			c.Regs[r2] &= op1
		case BitsOR:
			c.Regs[r2] |= op1
		case BitsXOR:
			c.Regs[r2] ^= op1
		case BitsSHL:
			c.Regs[r2] = shift(c.Regs[r2], op1, true)
		case BitsSHR:
			c.Regs[r2] = shift(c.Regs[r2], op1, false)
		default:
			return c.illegal(instr)
		}

	case OpMOV:
		c.Regs[r2] = op1

	case OpSHR:
		c.Regs[r2] = shift(c.Regs[r2], op1, false)

	default:
		return c.illegal(instr)
	}

	// A write to ip by the instruction itself takes effect as a jump.
	if c.Regs[RegIP] == ip {
		c.Regs[RegIP] = next
	}
	c.Steps++
	return nil
}

func shift(v, n uint16, left bool) uint16 {
	if n >= 16 {
		return 0
	}
	if left {
		return v << n
	}
	return v >> n
}

// Run steps until the machine halts. A positive maxSteps bounds the number
// of instructions executed by this call.
func (c *CPU) Run(maxSteps int) error {
	for n := 0; !c.Halted; n++ {
		if maxSteps > 0 && n >= maxSteps {
			return diag.Errorf(diag.StageSimulate, diag.KindResourceExhaustion,
				"no halt after %d steps (ip=%04x)", maxSteps, c.Regs[RegIP])
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes the register file in the "n:xxxx" form used by trace output.
func (c *CPU) Dump(w io.Writer) {
	for i, r := range c.Regs {
		if i > 0 {
			fmt.Fprint(w, "  ")
		}
		fmt.Fprintf(w, "%d:%04x", i, r)
	}
	fmt.Fprintln(w)
}

package cpu

import "fmt"

// EncodeInstruction packs the common register/immediate format:
//
//	oc:4 | op1:4 | op2:4 | imm:1 | index:3
//
// op1 is a register number, or a 0..15 value when imm is set.
func EncodeInstruction(opcode, op1, op2 uint16, imm bool, index uint16) uint16 {
	w := opcode<<12 | (op1&15)<<8 | (op2&15)<<4 | index&7
	if imm {
		w |= 1 << 3
	}
	return w
}

// EncodeConst shifts b into the low byte of register r.
func EncodeConst(r uint16, b byte) uint16 {
	return OpCONST<<12 | (r&15)<<8 | uint16(b)
}

// EncodeJump jumps to register a when cc holds, else to register b.
func EncodeJump(a, b, cc uint16) uint16 {
	return OpJP<<12 | (a&15)<<8 | (b&15)<<4 | cc&15
}

// EncodeBranch adds delta to ip when cc holds. delta is relative to the
// branch itself.
func EncodeBranch(delta int8, cc uint16) uint16 {
	return OpBR<<12 | uint16(byte(delta))<<4 | cc&15
}

// EncodeSys builds the halt, call and ret forms of opcode 0.
func EncodeSys(sub, arg uint16) uint16 {
	return OpSYS<<12 | (sub&15)<<8 | arg&0xff
}

// EncodeCall calls the address held in register r.
func EncodeCall(r uint16) uint16 { return EncodeSys(SysCall, (r&15)<<4) }

// CondString renders a condition code in assembler letters.
func CondString(cc uint16) string {
	lower := cc&CondPositive != 0
	s := ""
	for i, ch := range "aeg" {
		if cc&(1<<i) == 0 {
			continue
		}
		if lower {
			s += string(ch)
		} else {
			s += string(ch - 'a' + 'A')
		}
	}
	if s == "" {
		return "?"
	}
	return s
}

var fmt2Names = map[uint16]string{
	OpLD:  "ld",
	OpST:  "st",
	OpADD: "add",
	OpSUB: "sub",
	OpCMP: "cmp",
	OpOUT: "out",
	OpMOV: "mov",
	OpSHR: "shr",
}

var bitsNames = [...]string{"and", "or", "xor", "shl", "shr"}

func regName(r uint16) string {
	switch r {
	case RegCT:
		return "ct"
	case RegFL:
		return "fl"
	case RegSP:
		return "sp"
	case RegIP:
		return "ip"
	}
	return fmt.Sprintf("r%d", r)
}

// Disassemble renders one instruction word; addr resolves branch targets.
func Disassemble(addr, w uint16) string {
	opcode := w >> 12
	r1 := (w >> 8) & 15
	r2 := (w >> 4) & 15
	imm := (w>>3)&1 == 1
	index := w & 7

	first := regName(r1)
	if imm {
		first = fmt.Sprintf("%d", r1)
	}

	switch opcode {
	case OpSYS:
		switch r1 {
		case SysHalt:
			return "halt"
		case SysCall:
			return "call " + regName(r2)
		case SysRet:
			return fmt.Sprintf("ret %d", w&0xff)
		}
	case OpJP:
		return fmt.Sprintf("jp.%s %s, %s", CondString(w&15), regName(r1), regName(r2))
	case OpBR:
		delta := int8(byte(w >> 4))
		return fmt.Sprintf("br.%s %04x", CondString(w&15), addr+uint16(int16(delta)))
	case OpCONST:
		return fmt.Sprintf("const 0x%02x, %s", w&0xff, regName(r1))
	case OpBITS:
		if int(index) < len(bitsNames) {
			return fmt.Sprintf("%s %s, %s", bitsNames[index], first, regName(r2))
		}
	case OpLD:
		if imm {
			return fmt.Sprintf("ld %s, %s", first, regName(r2))
		}
		return fmt.Sprintf("ld %s[%d], %s", regName(r1), index, regName(r2))
	case OpST:
		return fmt.Sprintf("st %s, %s[%d]", first, regName(r2), index)
	default:
		if name, ok := fmt2Names[opcode]; ok {
			return fmt.Sprintf("%s %s, %s", name, first, regName(r2))
		}
	}
	return fmt.Sprintf(".word 0x%04x", w)
}

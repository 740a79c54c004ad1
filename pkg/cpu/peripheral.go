package cpu

import (
	"fmt"
	"io"
	"sync"
)

// Port is the device on the other end of the out instruction.
type Port interface {
	Out(value, addr uint16)
}

// PortFunc adapts a function to Port.
type PortFunc func(value, addr uint16)

func (f PortFunc) Out(value, addr uint16) { f(value, addr) }

// WriterPort prints each write as "Output vvvv,aaaa".
type WriterPort struct {
	W io.Writer
}

func (p WriterPort) Out(value, addr uint16) {
	fmt.Fprintf(p.W, "Output %04x,%04x\n", value, addr)
}

// Write is one recorded out instruction.
type Write struct {
	Value uint16
	Addr  uint16
}

// RecordingPort keeps every write. It is safe to read from another
// goroutine while the machine runs.
type RecordingPort struct {
	mu     sync.Mutex
	writes []Write
}

func (p *RecordingPort) Out(value, addr uint16) {
	p.mu.Lock()
	p.writes = append(p.writes, Write{Value: value, Addr: addr})
	p.mu.Unlock()
}

// Writes returns a copy of the writes so far.
func (p *RecordingPort) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Write(nil), p.writes...)
}

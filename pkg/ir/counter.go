package ir

import "fmt"

// Counter issues fresh virtual register numbers and label names for one
// compilation unit. Ids increase monotonically and are never reused.
//
// A Counter is not safe for concurrent use; give each unit its own.
type Counter struct {
	nextReg   int
	nextLabel int
}

// NewCounter returns a counter starting at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// VReg returns a fresh virtual register.
func (c *Counter) VReg() Loc {
	n := c.nextReg
	c.nextReg++
	return VReg(n)
}

// Label returns a fresh label name. The leading "." keeps generated labels
// apart from function names.
func (c *Counter) Label(hint string) string {
	n := c.nextLabel
	c.nextLabel++
	return fmt.Sprintf(".%s%d", hint, n)
}

// Snapshot returns a copy of the counter in its current state.
func (c *Counter) Snapshot() *Counter {
	cp := *c
	return &cp
}

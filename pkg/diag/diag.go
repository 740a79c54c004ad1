// Package diag defines the structured error value shared by every stage of
// the toolchain. Each failure names the stage that raised it, a kind from a
// small closed set, and the offending construct.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindSyntax Kind = iota
	KindType
	KindNameResolution
	KindArity
	KindUnsupported
	KindEncodingRange
	KindResourceExhaustion
	KindInternal
	KindLinkage
	KindLayoutOrder
)

var kindNames = [...]string{
	KindSyntax:             "syntax",
	KindType:               "type",
	KindNameResolution:     "name-resolution",
	KindArity:              "arity",
	KindUnsupported:        "unsupported",
	KindEncodingRange:      "encoding-range",
	KindResourceExhaustion: "resource-exhaustion",
	KindInternal:           "internal",
	KindLinkage:            "linkage",
	KindLayoutOrder:        "layout-order",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageLex      Stage = "lex"
	StageParse    Stage = "parse"
	StageResolve  Stage = "resolve"
	StageLayout   Stage = "layout"
	StageIRGen    Stage = "irgen"
	StageLiveness Stage = "liveness"
	StageRegAlloc Stage = "regalloc"
	StageEmit     Stage = "emit"
	StageAssemble Stage = "assemble"
	StageSimulate Stage = "simulate"
)

// Error is a unit-fatal failure. Func and Name are optional context.
type Error struct {
	Stage Stage
	Kind  Kind
	Func  string
	Name  string
	Line  int
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	if e.Func != "" {
		fmt.Fprintf(&b, ": in function %s", e.Func)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted message.
func Errorf(stage Stage, kind Kind, format string, args ...any) *Error {
	return &Error{Stage: stage, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithFunc returns a copy of e attributed to function fn.
func (e *Error) WithFunc(fn string) *Error {
	c := *e
	c.Func = fn
	return &c
}

// WithName returns a copy of e naming the offending identifier or value.
func (e *Error) WithName(name string) *Error {
	c := *e
	c.Name = name
	return &c
}

// AtLine returns a copy of e pinned to a source line.
func (e *Error) AtLine(line int) *Error {
	c := *e
	c.Line = line
	return &c
}

// Internal reports an invariant violated by an earlier pass.
func Internal(stage Stage, format string, args ...any) *Error {
	return Errorf(stage, KindInternal, format, args...)
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

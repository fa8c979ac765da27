package x86

import (
	"errors"
	"fmt"
)

// ErrUnimplemented is a host implementation fault: the guest reached an
// instruction or operand combination the emulator does not handle.
var ErrUnimplemented = errors.New("unimplemented instruction")

// Vector is an exception vector number.
type Vector uint8

const (
	VectorDE  Vector = 0
	VectorDB  Vector = 1
	VectorNMI Vector = 2
	VectorBP  Vector = 3
	VectorOF  Vector = 4
	VectorBR  Vector = 5
	VectorUD  Vector = 6
	VectorNM  Vector = 7
	VectorDF  Vector = 8
	VectorTS  Vector = 10
	VectorNP  Vector = 11
	VectorSS  Vector = 12
	VectorGP  Vector = 13
	VectorPF  Vector = 14
)

var vectorNames = map[Vector]string{ //nolint:gochecknoglobals
	VectorDE:  "#DE",
	VectorDB:  "#DB",
	VectorNMI: "NMI",
	VectorBP:  "#BP",
	VectorOF:  "#OF",
	VectorBR:  "#BR",
	VectorUD:  "#UD",
	VectorNM:  "#NM",
	VectorDF:  "#DF",
	VectorTS:  "#TS",
	VectorNP:  "#NP",
	VectorSS:  "#SS",
	VectorGP:  "#GP",
	VectorPF:  "#PF",
}

func (v Vector) String() string {
	if s, ok := vectorNames[v]; ok {
		return s
	}

	return fmt.Sprintf("vector %d", uint8(v))
}

// Fault is a guest-architectural exception. It is an ordinary, expected
// outcome of executing guest code and never a host error.
type Fault struct {
	Vector    Vector
	ErrorCode uint32
	HasCode   bool
	// Addr is the faulting linear address of a page fault.
	Addr uint32
}

func (f *Fault) Error() string {
	if f.HasCode {
		return fmt.Sprintf("%s(%#x)", f.Vector, f.ErrorCode)
	}

	return f.Vector.String()
}

// GP is a general-protection fault.
func GP(code uint16) *Fault {
	return &Fault{Vector: VectorGP, ErrorCode: uint32(code), HasCode: true}
}

// StackFault is a stack-segment fault.
func StackFault(code uint16) *Fault {
	return &Fault{Vector: VectorSS, ErrorCode: uint32(code), HasCode: true}
}

// NP is a segment-not-present fault.
func NP(code uint16) *Fault {
	return &Fault{Vector: VectorNP, ErrorCode: uint32(code), HasCode: true}
}

// Page fault error code bits.
const (
	PFxPresent = 1
	PFxWrite   = (1 << 1)
	PFxUser    = (1 << 2)
)

// PF is a page fault at a linear address.
func PF(addr uint32, code uint32) *Fault {
	return &Fault{Vector: VectorPF, ErrorCode: code, HasCode: true, Addr: addr}
}

// Exception builds a fault without an error code.
func Exception(v Vector) *Fault {
	return &Fault{Vector: v}
}

// IsFault reports whether err carries a guest fault.
func IsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}

	return nil, false
}

package cpu

import "github.com/bobuhiro11/gox86/x86"

// Memory is the memory and MMU seen by the core. Addresses are linear;
// any error it returns, typically an *x86.Fault page fault, aborts the
// current instruction.
type Memory interface {
	ReadB(addr uint32) (uint8, error)
	ReadW(addr uint32) (uint16, error)
	ReadL(addr uint32) (uint32, error)
	WriteB(addr uint32, v uint8) error
	WriteW(addr uint32, v uint16) error
	WriteL(addr uint32, v uint32) error
	// Fetch reads instruction stream bytes.
	Fetch(addr uint32, b []byte) error
}

// IO is the port space. size is 1, 2 or 4.
type IO interface {
	In(port uint16, size int) (uint32, error)
	Out(port uint16, size int, v uint32) error
}

// Exceptions vectors the CPU into guest handlers. Deliver is called after
// the faulting instruction has been rolled back; Interrupt is called for
// software interrupts after the instruction retired and for external
// interrupts at an instruction boundary.
type Exceptions interface {
	Deliver(c *CPU, f *x86.Fault) error
	Interrupt(c *CPU, vector uint8, soft bool) error
}

// Interrupts is the interrupt controller. Pending is only consulted when
// the CPU can accept a maskable interrupt.
type Interrupts interface {
	Pending() (uint8, bool)
	Ack(vector uint8)
}

// Clock receives the cycles spent by every step, to advance device timers.
type Clock interface {
	Tick(cycles int)
}

// Bus bundles the collaborators of a CPU. Only Mem is mandatory.
type Bus struct {
	Mem        Memory
	IO         IO
	Exceptions Exceptions
	Interrupts Interrupts
	Clock      Clock
}

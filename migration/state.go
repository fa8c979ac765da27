// Package migration provides types and utilities for moving a running
// gox86 machine to another process.
package migration

import "github.com/bobuhiro11/gox86/x86"

// CPUState holds the complete architectural state of one CPU.
type CPUState struct {
	Regs   x86.Regs
	Sregs  x86.Sregs
	MSRs   x86.MSRs
	Cycles uint64
	Halted bool
	// Steps is the number of instructions run, which paces tracing.
	Steps uint64
}

// SerialState holds migration state for the emulated serial port.
type SerialState struct {
	IER byte // Interrupt Enable Register
	LCR byte // Line Control Register
	MCR byte // Modem Control Register
	SCR byte // Scratch Register
	DLL byte // Divisor Latch, low byte
	DLM byte // Divisor Latch, high byte
}

// DeviceState aggregates emulated device state.
// Serial is nil when no UART is attached.
type DeviceState struct {
	Serial   *SerialState
	PostCode []byte
	// PCIAddr is the PCI configuration address latch.
	PCIAddr uint32
}

// Snapshot is the complete machine state handed off during migration.
// Guest memory is transferred separately as a raw byte stream.
type Snapshot struct {
	Model   string
	NCPUs   int
	MemSize int
	CPUs    []CPUState
	// Pending holds the queued external interrupt vectors of each CPU.
	Pending [][]uint8
	Devices DeviceState
}

// Package serial emulates the 16550 UART used as the guest console on COM1.
package serial

import (
	"fmt"
	"io"
	"sync"
)

const (
	COM1Addr = 0x03f8
	COM1IRQ  = 4
)

const (
	ierRX = 1 << 0
	ierTX = 1 << 1

	iirNone = 0x01
	iirTX   = 0x02
	iirRX   = 0x04

	lsrDR   = 0x01
	lsrTHRE = 0x20
	lsrTEMT = 0x40

	lcrDLAB = 0x80
)

// State is the register file saved in snapshots.
type State struct {
	IER byte
	LCR byte
	MCR byte
	SCR byte
	DLL byte
	DLM byte
}

type Serial struct {
	mu sync.Mutex
	State

	out       io.Writer
	inputChan chan byte
	// txPending is set after a THR write until IIR is read.
	txPending bool

	// irqCallback is called when the UART raises its interrupt line.
	irqCallback func(irq uint8)
}

// New creates a UART writing transmitted bytes to out. irq may be nil.
func New(out io.Writer, irq func(irq uint8)) (*Serial, error) {
	if irq == nil {
		irq = func(uint8) {}
	}

	s := &Serial{
		State:       State{DLL: 0xc}, // 9600 baud
		out:         out,
		inputChan:   make(chan byte, 10000),
		irqCallback: irq,
	}

	return s, nil
}

func (s *Serial) GetInputChan() chan<- byte {
	return s.inputChan
}

// Receive queues b as input and raises the interrupt when enabled.
func (s *Serial) Receive(b byte) {
	s.inputChan <- b

	s.mu.Lock()
	inject := s.IER&ierRX != 0
	s.mu.Unlock()

	if inject {
		s.InjectIRQ()
	}
}

func (s *Serial) dlab() bool {
	return s.LCR&lcrDLAB != 0
}

func (s *Serial) InjectIRQ() {
	s.irqCallback(COM1IRQ)
}

func (s *Serial) iir() byte {
	switch {
	case s.IER&ierRX != 0 && len(s.inputChan) > 0:
		return iirRX
	case s.IER&ierTX != 0 && s.txPending:
		return iirTX
	}

	return iirNone
}

func (s *Serial) Read(port uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v byte

	switch off := port - COM1Addr; {
	case off == 0 && !s.dlab():
		// RBR
		select {
		case v = <-s.inputChan:
		default:
		}
	case off == 0:
		v = s.DLL
	case off == 1 && !s.dlab():
		v = s.IER
	case off == 1:
		v = s.DLM
	case off == 2:
		v = s.iir()
		if v == iirTX {
			s.txPending = false
		}
	case off == 3:
		v = s.LCR
	case off == 4:
		v = s.MCR
	case off == 5:
		v = lsrTHRE | lsrTEMT
		if len(s.inputChan) > 0 {
			v |= lsrDR
		}
	case off == 6:
		// MSR: CTS, DSR and DCD asserted
		v = 0xb0
	case off == 7:
		v = s.SCR
	}

	for i := range data {
		data[i] = 0
	}

	data[0] = v

	return nil
}

func (s *Serial) Write(port uint64, data []byte) error {
	s.mu.Lock()

	inject := false
	v := data[0]

	switch off := port - COM1Addr; {
	case off == 0 && !s.dlab():
		// THR
		if s.out != nil {
			if _, err := s.out.Write([]byte{v}); err != nil {
				s.mu.Unlock()

				return fmt.Errorf("serial output: %w", err)
			}
		}

		s.txPending = true
		inject = s.IER&ierTX != 0
	case off == 0:
		s.DLL = v
	case off == 1 && !s.dlab():
		s.IER = v & 0x0f
		s.txPending = true
		inject = s.IER != 0
	case off == 1:
		s.DLM = v
	case off == 2:
		// FCR, FIFOs are not modeled
	case off == 3:
		s.LCR = v
	case off == 4:
		s.MCR = v
	case off == 7:
		s.SCR = v
	}

	s.mu.Unlock()

	if inject {
		s.InjectIRQ()
	}

	return nil
}

func (s *Serial) IOPort() uint64 {
	return COM1Addr
}

func (s *Serial) Size() uint64 {
	return 8
}

// GetState returns the register file.
func (s *Serial) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.State
}

// SetState restores a register file saved by GetState.
func (s *Serial) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.State = st
}

package machine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bobuhiro11/gox86/cpu"
	"github.com/bobuhiro11/gox86/x86"
)

var (
	// ErrNoIDT is returned when a protected mode guest takes an interrupt
	// or exception: delivery through the IDT is not emulated.
	ErrNoIDT = errors.New("interrupt delivery through the IDT is not emulated")

	errVectorLimit = errors.New("vector beyond the IVT limit")
)

// irqQueue is the per-CPU interrupt request register. A vector already
// pending is not queued twice.
type irqQueue struct {
	mu      sync.Mutex
	pending []uint8
}

func (q *irqQueue) raise(v uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range q.pending {
		if p == v {
			return
		}
	}

	q.pending = append(q.pending, v)
}

func (q *irqQueue) Pending() (uint8, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return 0, false
	}

	return q.pending[0], true
}

func (q *irqQueue) Ack(v uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, p := range q.pending {
		if p == v {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)

			return
		}
	}
}

func (q *irqQueue) snapshot() []uint8 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]uint8(nil), q.pending...)
}

func (q *irqQueue) restore(p []uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append([]uint8(nil), p...)
}

// InjectIRQ queues a maskable interrupt for CPU i. It is taken at the
// next instruction boundary where IF is set.
func (m *Machine) InjectIRQ(i int, vector uint8) error {
	if _, err := m.CPU(i); err != nil {
		return err
	}

	m.irqs[i].raise(vector)

	return nil
}

// ivt delivers exceptions and interrupts the way real mode does: FLAGS,
// CS and IP are pushed and CS:IP is loaded from the vector table.
type ivt struct {
	m *Machine
}

func (v *ivt) Deliver(c *cpu.CPU, f *x86.Fault) error {
	return v.enter(c, uint8(f.Vector))
}

func (v *ivt) Interrupt(c *cpu.CPU, vector uint8, soft bool) error {
	return v.enter(c, vector)
}

func (v *ivt) enter(c *cpu.CPU, vector uint8) error {
	if mode := c.Mode(); mode != x86.Real && mode != x86.V86 {
		return fmt.Errorf("vector %#x in %v mode: %w", vector, mode, ErrNoIDT)
	}

	s := c.Sregs()

	entry := uint32(vector) * 4
	if entry+3 > uint32(s.IDT.Limit) {
		return fmt.Errorf("vector %#x, limit %#x: %w", vector, s.IDT.Limit, errVectorLimit)
	}

	ip, err := v.m.mem.ReadW(s.IDT.Base + entry)
	if err != nil {
		return err
	}

	cs, err := v.m.mem.ReadW(s.IDT.Base + entry + 2)
	if err != nil {
		return err
	}

	r := c.Regs()

	for _, w := range []uint16{uint16(r.EFLAGS), s.Seg[x86.CS].Selector, uint16(r.EIP)} {
		if err := c.Push16(w); err != nil {
			c.SetRegs(r)

			return err
		}
	}

	pushed := c.Regs()
	pushed.EFLAGS &^= x86.EFLAGSxIF | x86.EFLAGSxTF | x86.EFLAGSxAC
	pushed.EIP = uint32(ip)
	c.SetRegs(pushed)

	return c.LoadSegment(x86.CS, cs)
}

// Package cpu is the x86 instruction execution engine: opcode dispatch,
// effective address and segment access, stack operations, segment loads
// and privilege transitions, all charged against the timing model.
package cpu

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/timing"
	"github.com/bobuhiro11/gox86/x86"
	"github.com/sirupsen/logrus"
)

var errNoExceptions = errors.New("no exception delivery configured")

// Result tells the caller what a Step did.
type Result uint8

const (
	// Retired means one instruction completed.
	Retired Result = iota
	// RetiredPair means a stack segment load and the instruction after it
	// completed as one unit; no interrupt was sampled between them.
	RetiredPair
	// Faulted means the instruction was rolled back and its fault was
	// handed to the exception collaborator.
	Faulted
	// Halted means the CPU is waiting in HLT.
	Halted
)

func (r Result) String() string {
	switch r {
	case Retired:
		return "retired"
	case RetiredPair:
		return "retired-pair"
	case Faulted:
		return "faulted"
	case Halted:
		return "halted"
	}

	return "unknown"
}

// CPU is one emulated processor. It is not safe for concurrent use; each
// virtual CPU owns its own instance.
type CPU struct {
	regs  x86.Regs
	sregs x86.Sregs
	msrs  x86.MSRs

	model *cpuid.Model
	bus   Bus
	clock *timing.Model
	table *Table
	log   *logrus.Entry

	// addrMask models the address bus width.
	addrMask uint32
	// maxLen is the longest legal instruction, 0 for no limit.
	maxLen int

	halted bool
	shadow bool
	fault  *x86.Fault
}

// Option configures a CPU.
type Option func(*CPU)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *logrus.Entry) Option {
	return func(c *CPU) {
		c.log = l
	}
}

// New creates a CPU of the given model in its reset state.
func New(model *cpuid.Model, bus Bus, opts ...Option) *CPU {
	c := &CPU{
		model: model,
		bus:   bus,
		clock: timing.New(timing.For(model)),
		table: TableFor(model.Family),
		log:   logrus.NewEntry(logrus.StandardLogger()),
	}

	switch model.Family {
	case cpuid.F8086:
		c.addrMask = 0x000fffff
	case cpuid.F286:
		c.addrMask = 0x00ffffff
		c.maxLen = 10
	default:
		c.addrMask = 0xffffffff
		c.maxLen = 15
	}

	for _, o := range opts {
		o(c)
	}

	c.Reset()

	return c
}

// Reset puts the CPU into its power-on state.
func (c *CPU) Reset() {
	c.regs = x86.Regs{EFLAGS: x86.EFLAGSxFixed}
	c.sregs = x86.Sregs{}
	c.msrs = x86.MSRs{}

	for i := range c.sregs.Seg {
		c.sregs.Seg[i].Reset(0, 0, false)
	}

	cs := &c.sregs.Seg[x86.CS]

	switch c.model.Family {
	case cpuid.F8086:
		cs.Reset(0xffff, 0xffff0, true)
	case cpuid.F286:
		cs.Reset(0xf000, 0xff0000, true)
		c.regs.EIP = 0xfff0
	default:
		cs.Reset(0xf000, 0xffff0000, true)
		c.regs.EIP = 0xfff0
		c.regs.GPR[x86.EDX] = c.model.Signature
		c.sregs.CR0 = x86.CR0xET
	}

	c.sregs.GDT = x86.Descriptor{Limit: 0xffff}
	c.sregs.IDT = x86.Descriptor{Limit: 0x3ff}
	c.sregs.LDT = x86.Segment{Limit: 0xffff}
	c.sregs.TR = x86.Segment{Limit: 0xffff}

	c.clock = timing.New(c.clock.Config())
	c.halted = false
	c.shadow = false
	c.fault = nil
}

// Step executes one instruction, or two when the first loads the stack
// segment. Guest faults are not errors: the instruction is rolled back,
// the fault is delivered and Faulted is returned. A non-nil error is a host
// fault, after which the CPU state is not trustworthy.
func (c *CPU) Step() (Result, error) {
	start := c.clock.Cycles()
	defer c.tick(start)

	if c.halted {
		woke, err := c.interrupt()
		if err != nil || !woke {
			return Halted, err
		}
	}

	x := c.newContext()

	res, err := c.execute(x)
	if err != nil {
		if x.handled {
			return res, err
		}

		return c.abort(x, err)
	}

	if c.shadow {
		c.shadow = false

		return res, nil
	}

	if _, err := c.interrupt(); err != nil {
		return res, err
	}

	return res, nil
}

func (c *CPU) tick(start uint64) {
	if c.bus.Clock != nil {
		c.bus.Clock.Tick(int(c.clock.Cycles() - start))
	}
}

// execute fetches and runs one instruction with its prefixes.
func (c *CPU) execute(x *Context) (Result, error) {
	op, err := c.fetch8(x)
	if err != nil {
		return Faulted, err
	}

	return c.dispatch(x, uint16(op))
}

// abort rolls back the instruction described by x and delivers err when
// it is a guest fault.
func (c *CPU) abort(x *Context, err error) (Result, error) {
	f, ok := x86.IsFault(err)
	if !ok {
		c.log.WithFields(c.Fields()).WithError(err).Error("host fault")

		return Faulted, err
	}

	x.rollback(c)
	c.clock.Flush()

	c.log.WithFields(logrus.Fields{
		"fault": f.Error(),
		"eip":   fmt.Sprintf("%#x", c.regs.EIP),
		"ea":    fmt.Sprintf("%#x", x.ea),
	}).Debug("guest fault")

	return Faulted, c.deliver(f)
}

func (c *CPU) deliver(f *x86.Fault) error {
	c.fault = f

	if c.bus.Exceptions == nil {
		return fmt.Errorf("%v: %w", f, errNoExceptions)
	}

	if err := c.bus.Exceptions.Deliver(c, f); err != nil {
		return fmt.Errorf("deliver %v: %w", f, err)
	}

	return nil
}

// interrupt samples the interrupt controller and delivers a pending
// maskable interrupt. It reports whether one was delivered.
func (c *CPU) interrupt() (bool, error) {
	if c.bus.Interrupts == nil || c.regs.EFLAGS&x86.EFLAGSxIF == 0 {
		return false, nil
	}

	v, ok := c.bus.Interrupts.Pending()
	if !ok {
		return false, nil
	}

	if c.bus.Exceptions == nil {
		return false, errNoExceptions
	}

	c.halted = false
	c.clock.Flush()

	// the request stays pending until it was delivered
	err := c.bus.Exceptions.Interrupt(c, v, false)
	if f, ok := x86.IsFault(err); ok {
		return true, c.deliver(f)
	}

	if err != nil {
		return true, err
	}

	c.bus.Interrupts.Ack(v)

	return true, nil
}

// Regs returns a copy of the general purpose registers.
func (c *CPU) Regs() x86.Regs {
	return c.regs
}

// SetRegs replaces the general purpose registers.
func (c *CPU) SetRegs(r x86.Regs) {
	c.regs = r
	c.regs.EFLAGS |= x86.EFLAGSxFixed
	c.clock.Flush()
}

// Sregs returns a copy of the segment and system registers.
func (c *CPU) Sregs() x86.Sregs {
	return c.sregs
}

// SetSregs replaces the segment and system registers.
func (c *CPU) SetSregs(s x86.Sregs) {
	c.sregs = s
	c.clock.Flush()
}

func (c *CPU) MSRs() x86.MSRs {
	return c.msrs
}

func (c *CPU) SetMSRs(m x86.MSRs) {
	c.msrs = m
}

// Cycles returns the elapsed cycle count.
func (c *CPU) Cycles() uint64 {
	return c.clock.Cycles()
}

// SetCycles restores the cycle counter.
func (c *CPU) SetCycles(n uint64) {
	c.clock.SetCycles(n)
}

// Timing exposes the timing model.
func (c *CPU) Timing() *timing.Model {
	return c.clock
}

func (c *CPU) Model() *cpuid.Model {
	return c.model
}

func (c *CPU) Halted() bool {
	return c.halted
}

// SetHalted is used when restoring a snapshot.
func (c *CPU) SetHalted(h bool) {
	c.halted = h
}

// LastFault returns the most recently delivered fault, or nil.
func (c *CPU) LastFault() *x86.Fault {
	return c.fault
}

func (c *CPU) protected() bool {
	return c.sregs.CR0&x86.CR0xPE != 0
}

func (c *CPU) v86() bool {
	return c.protected() && c.regs.EFLAGS&x86.EFLAGSxVM != 0
}

func (c *CPU) iopl() uint8 {
	return uint8(c.regs.EFLAGS & x86.EFLAGSxIOPL >> 12)
}

// CPL returns the current privilege level.
func (c *CPU) CPL() uint8 {
	switch {
	case !c.protected():
		return 0
	case c.v86():
		return 3
	}

	return c.sregs.Seg[x86.CS].RPL()
}

// Mode returns the privilege state derived from CR0.PE, EFLAGS.VM and
// the CPL.
func (c *CPU) Mode() x86.Mode {
	switch {
	case !c.protected():
		return x86.Real
	case c.v86():
		return x86.V86
	case c.CPL() == 0:
		return x86.ProtectedSupervisor
	}

	return x86.ProtectedUser
}

// Fields returns the architectural state as log fields.
func (c *CPU) Fields() logrus.Fields {
	f := logrus.Fields{
		"model":  c.model.Name,
		"mode":   c.Mode().String(),
		"eip":    fmt.Sprintf("%#08x", c.regs.EIP),
		"eflags": fmt.Sprintf("%#08x", c.regs.EFLAGS),
		"cr0":    fmt.Sprintf("%#08x", c.sregs.CR0),
		"cycles": c.clock.Cycles(),
	}

	for i, name := range []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"} {
		f[name] = fmt.Sprintf("%#08x", c.regs.GPR[i])
	}

	for i := range c.sregs.Seg {
		s := &c.sregs.Seg[i]
		f[x86.SegReg(i).String()] = fmt.Sprintf("%04x base=%#x limit=%#x access=%#02x",
			s.Selector, s.Base, s.Limit, s.Access)
	}

	return f
}

// Package machine assembles emulated CPUs, guest memory and port devices
// into a runnable PC-like machine.
package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/bobuhiro11/gox86/cpu"
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/device"
	"github.com/bobuhiro11/gox86/iodev"
	"github.com/bobuhiro11/gox86/memory"
	"github.com/bobuhiro11/gox86/pci"
	"github.com/bobuhiro11/gox86/serial"
	"github.com/bobuhiro11/gox86/x86"
	"github.com/sirupsen/logrus"
)

var (
	errBadCPU        = errors.New("no such cpu")
	errMemTooSmall   = errors.New("memory size too small")
	errImageTooLarge = errors.New("image does not fit in guest memory")
	errNeeds386      = errors.New("flat protected mode needs a 32-bit cpu")
	errNoSerial      = errors.New("no serial port attached")
)

type Machine struct {
	model *cpuid.Model
	mem   *memory.Memory
	cpus  []*cpu.CPU
	irqs  []*irqQueue
	steps []atomic.Uint64
	log   *logrus.Entry

	console  io.Writer
	serial   *serial.Serial
	postCode *device.PostCodeDevice
	pci      *pci.PCI
	devices  []device.IODevice

	traceCount uint64
	maxSteps   uint64
	stop       atomic.Bool

	ioportHandlers [0x10000][2]func(m *Machine, port uint64, bytes []byte) error
}

// Option configures a Machine.
type Option func(*Machine)

// WithConsole attaches a UART on COM1 transmitting to w.
func WithConsole(w io.Writer) Option {
	return func(m *Machine) {
		m.console = w
	}
}

// WithPostCode attaches the POST code port, echoing to w.
func WithPostCode(w io.Writer) Option {
	return func(m *Machine) {
		m.postCode = device.NewPostCode(w)
	}
}

// WithTrace logs every n-th instruction of each CPU. 0 disables tracing.
func WithTrace(n int) Option {
	return func(m *Machine) {
		m.traceCount = uint64(n)
	}
}

// WithMaxSteps stops each CPU after n instructions. 0 means no limit.
func WithMaxSteps(n int) Option {
	return func(m *Machine) {
		m.maxSteps = uint64(n)
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(m *Machine) {
		m.log = l
	}
}

// New creates a machine with nCPUs processors of the named model and
// memSize bytes of RAM at address 0.
func New(model string, nCPUs, memSize int, opts ...Option) (*Machine, error) {
	mdl, err := cpuid.Lookup(model)
	if err != nil {
		return nil, err
	}

	if memSize < MinMemSize {
		return nil, fmt.Errorf("%d bytes, want at least %d: %w", memSize, MinMemSize, errMemTooSmall)
	}

	if nCPUs < 1 {
		return nil, fmt.Errorf("%d cpus: %w", nCPUs, errBadCPU)
	}

	mem, err := memory.New(memSize)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		model: mdl,
		mem:   mem,
		cpus:  make([]*cpu.CPU, nCPUs),
		irqs:  make([]*irqQueue, nCPUs),
		steps: make([]atomic.Uint64, nCPUs),
		log:   logrus.NewEntry(logrus.StandardLogger()),
	}

	for _, o := range opts {
		o(m)
	}

	ex := &ivt{m: m}

	for i := range m.cpus {
		m.irqs[i] = &irqQueue{}
		m.cpus[i] = cpu.New(mdl, cpu.Bus{
			Mem:        mem,
			IO:         ports{m: m},
			Exceptions: ex,
			Interrupts: m.irqs[i],
		}, cpu.WithLogger(m.log.WithField("cpu", i)))
	}

	if err := m.initIOPortHandlers(); err != nil {
		return nil, err
	}

	return m, nil
}

// CPU returns processor i.
func (m *Machine) CPU(i int) (*cpu.CPU, error) {
	if i < 0 || i >= len(m.cpus) {
		return nil, fmt.Errorf("cpu %d of %d: %w", i, len(m.cpus), errBadCPU)
	}

	return m.cpus[i], nil
}

func (m *Machine) NCPUs() int {
	return len(m.cpus)
}

func (m *Machine) Model() *cpuid.Model {
	return m.model
}

// Mem returns the guest memory.
func (m *Machine) Mem() *memory.Memory {
	return m.mem
}

// Steps returns the number of instructions CPU i has run.
func (m *Machine) Steps(i int) uint64 {
	return m.steps[i].Load()
}

// PostCodes returns what the guest wrote to the POST code port.
func (m *Machine) PostCodes() []byte {
	if m.postCode == nil {
		return nil
	}

	return m.postCode.Codes()
}

// LoadImage copies the contents of r into guest memory at addr.
func (m *Machine) LoadImage(r io.Reader, addr uint32) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	if uint64(addr)+uint64(len(b)) > uint64(m.mem.Size()) {
		return fmt.Errorf("%d bytes at %#x: %w", len(b), addr, errImageTooLarge)
	}

	if _, err := m.mem.WriteAt(b, int64(addr)); err != nil {
		return err
	}

	m.log.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("%#x", addr),
		"size": len(b),
	}).Debug("image loaded")

	return nil
}

// SetEntry starts CPU i in real mode at cs:eip with all data segments
// and the stack segment equal to cs.
func (m *Machine) SetEntry(i int, cs uint16, eip, esp uint32) error {
	c, err := m.CPU(i)
	if err != nil {
		return err
	}

	s := c.Sregs()
	for seg := range s.Seg {
		s.Seg[seg].Real(cs, false)
	}

	c.SetSregs(s)

	r := c.Regs()
	r.EIP, r.GPR[x86.ESP] = eip, esp
	c.SetRegs(r)

	return nil
}

// SetupFlat writes a flat GDT and starts CPU i in 32-bit protected mode
// at ring 0 with every segment covering the 4GiB address space.
func (m *Machine) SetupFlat(i int, eip, esp uint32) error {
	c, err := m.CPU(i)
	if err != nil {
		return err
	}

	if !m.model.Is386() {
		return fmt.Errorf("%s: %w", m.model.Name, errNeeds386)
	}

	gdt := []uint64{
		0,
		x86.PackDescriptor(0, 0xfffff, accessKernelCode, flagsFlat),
		x86.PackDescriptor(0, 0xfffff, accessKernelData, flagsFlat),
		x86.PackDescriptor(0, 0xfffff, accessUserCode, flagsFlat),
		x86.PackDescriptor(0, 0xfffff, accessUserData, flagsFlat),
	}

	b := make([]byte, 8*len(gdt))
	for n, d := range gdt {
		binary.LittleEndian.PutUint64(b[8*n:], d)
	}

	if _, err := m.mem.WriteAt(b, gdtAddr); err != nil {
		return fmt.Errorf("write GDT: %w", err)
	}

	s := c.Sregs()
	s.CR0 |= x86.CR0xPE
	s.GDT = x86.Descriptor{Base: gdtAddr, Limit: uint16(len(b) - 1)}

	for seg := range s.Seg {
		s.Seg[seg].Flatten(KernelDS, accessKernelData)
	}

	s.Seg[x86.CS].Flatten(KernelCS, accessKernelCode)
	c.SetSregs(s)

	r := c.Regs()
	r.EIP, r.GPR[x86.ESP] = eip, esp
	c.SetRegs(r)

	return nil
}

// SendInput queues b on the console UART.
func (m *Machine) SendInput(b byte) error {
	if m.serial == nil {
		return errNoSerial
	}

	m.serial.Receive(b)

	return nil
}

// RunInfiniteLoop runs CPU i until it stops, the machine is stopped or an
// error occurs.
func (m *Machine) RunInfiniteLoop(i int) error {
	for {
		isContinue, err := m.RunOnce(i)
		if err != nil {
			return err
		}

		if !isContinue {
			return nil
		}

		if m.cpus[i].Halted() {
			runtime.Gosched()
		}
	}
}

// RunOnce executes one step of CPU i. It reports false when the CPU can
// make no further progress: it halted with interrupts disabled, reached the
// step limit, or the machine was stopped.
func (m *Machine) RunOnce(i int) (bool, error) {
	c, err := m.CPU(i)
	if err != nil {
		return false, err
	}

	if m.stop.Load() {
		return false, nil
	}

	n := m.steps[i].Load()
	if m.maxSteps > 0 && n >= m.maxSteps {
		m.log.WithField("cpu", i).Infof("stopping after %d instructions", n)

		return false, nil
	}

	if m.traceCount > 0 && n%m.traceCount == 0 {
		m.trace(i)
	}

	waiting := c.Halted()

	res, err := c.Step()
	if err != nil {
		return false, fmt.Errorf("cpu %d: %w", i, err)
	}

	if !waiting || res != cpu.Halted {
		m.steps[i].Add(1)
	}

	if c.Halted() && c.Regs().EFLAGS&x86.EFLAGSxIF == 0 {
		m.log.WithFields(c.Fields()).Info("CPU halted with interrupts disabled")

		return false, nil
	}

	return true, nil
}

func (m *Machine) trace(i int) {
	_, r, s, err := m.Inst(i)
	if err != nil {
		m.log.WithError(err).Debug("CPU Step")

		return
	}

	sregs := m.cpus[i].Sregs()

	m.log.WithFields(logrus.Fields{
		"cpu":  i,
		"cs":   fmt.Sprintf("%#04x", sregs.Seg[x86.CS].Selector),
		"eip":  fmt.Sprintf("%#x", r.EIP),
		"inst": s,
	}).Debug("CPU Step")
}

// Stop makes every RunOnce report false.
func (m *Machine) Stop() {
	m.stop.Store(true)
}

// Resume clears a previous Stop.
func (m *Machine) Resume() {
	m.stop.Store(false)
}

func (m *Machine) Stopped() bool {
	return m.stop.Load()
}

// AddDevice claims the port range of d.
func (m *Machine) AddDevice(d device.IODevice) {
	m.devices = append(m.devices, d)

	for port := d.IOPort(); port < d.IOPort()+d.Size() && port < 0x10000; port++ {
		m.ioportHandlers[port][ioIn] = func(m *Machine, port uint64, bytes []byte) error {
			return d.Read(port, bytes)
		}
		m.ioportHandlers[port][ioOut] = func(m *Machine, port uint64, bytes []byte) error {
			return d.Write(port, bytes)
		}
	}
}

func (m *Machine) initIOPortHandlers() error {
	// Unclaimed ports float high.
	funcNone := func(m *Machine, port uint64, bytes []byte) error {
		for i := range bytes {
			bytes[i] = 0xff
		}

		m.log.WithField("port", fmt.Sprintf("%#x", port)).Debug("unhandled io port")

		return nil
	}

	for port := 0; port < 0x10000; port++ {
		for dir := ioIn; dir <= ioOut; dir++ {
			m.ioportHandlers[port][dir] = funcNone
		}
	}

	for _, r := range []struct {
		name       string
		port, size uint64
	}{
		{"pic1", 0x20, 2},
		{"pit", 0x40, 4},
		{"cmos", 0x70, 2},
		{"dma-page", 0x81, 0x1f},
		{"pic2", 0xa0, 2},
		{"com4", 0x2e8, 8},
		{"com2", 0x2f8, 8},
		{"vga-crtc", 0x3b4, 2},
		{"vga", 0x3c0, 0x1b},
		{"com3", 0x3e8, 8},
	} {
		m.AddDevice(&iodev.NoopDevice{Name: r.name, Port: r.port, Psize: r.size, Log: m.log})
	}

	// PS/2 controller status: input buffer empty, self test passed.
	m.ioportHandlers[0x64][ioIn] = func(m *Machine, port uint64, bytes []byte) error {
		bytes[0] = 0x20

		return nil
	}

	m.AddDevice(iodev.NewShutdownDevice(m.Stop, nil))

	// PCI arrived with the 486 chipsets.
	if m.model.Family >= cpuid.F486 {
		m.pci = pci.New()
		m.AddDevice(m.pci)
	}

	if m.postCode != nil {
		m.AddDevice(m.postCode)
	}

	if m.console != nil {
		s, err := serial.New(m.console, func(irq uint8) {
			_ = m.InjectIRQ(0, picBase+irq)
		})
		if err != nil {
			return err
		}

		m.serial = s
		m.AddDevice(s)
	}

	return nil
}

// ports routes CPU port accesses through the port table.
type ports struct {
	m *Machine
}

func (p ports) In(port uint16, size int) (uint32, error) {
	var b [4]byte

	if err := p.m.ioportHandlers[port][ioIn](p.m, uint64(port), b[:size]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}

func (p ports) Out(port uint16, size int, v uint32) error {
	var b [4]byte

	binary.LittleEndian.PutUint32(b[:], v)

	return p.m.ioportHandlers[port][ioOut](p.m, uint64(port), b[:size])
}

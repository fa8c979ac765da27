// Package timing implements the cycle counter and the instruction prefetch
// queue cost model shared by every instruction handler.
package timing

import "github.com/bobuhiro11/gox86/cpuid"

// Config holds the generation specific cost parameters.
type Config struct {
	Family cpuid.Family
	// PrefetchWidth is the number of bytes one prefetch bus cycle brings in.
	PrefetchWidth int
	// PrefetchCycles is the cost of one prefetch bus cycle. Zero disables
	// the queue model, as on processors with an internal cache.
	PrefetchCycles int
	QueueSize      int
	ReadCycles     int
	ReadLCycles    int
	WriteCycles    int
	WriteLCycles   int
}

// For derives the timing configuration of a processor model.
func For(m *cpuid.Model) Config {
	c := Config{
		Family:        m.Family,
		PrefetchWidth: 4,
		QueueSize:     16,
		ReadCycles:    m.MemReadCycles,
		WriteCycles:   m.MemWriteCycles,
	}

	switch {
	case m.Bus8:
		c.PrefetchWidth = 1
		c.QueueSize = 4
	case m.Bus16:
		c.PrefetchWidth = 2
	}

	if m.Family < cpuid.F386 && !m.Bus8 {
		c.QueueSize = 6
	}

	// A dword access needs two bus cycles on a narrow bus, four on the 8088.
	switch {
	case m.Bus8:
		c.ReadLCycles, c.WriteLCycles = 4*c.ReadCycles, 4*c.WriteCycles
	case m.Bus16:
		c.ReadLCycles, c.WriteLCycles = 2*c.ReadCycles, 2*c.WriteCycles
	default:
		c.ReadLCycles, c.WriteLCycles = c.ReadCycles, c.WriteCycles
	}

	if !m.Cached {
		c.PrefetchCycles = m.MemReadCycles
	}

	return c
}

// Cost is a per-family cycle cost, indexed by cpuid.Family.
type Cost [cpuid.NumFamilies]int

// Model is the cycle counter plus the prefetch queue state of one CPU.
// It is deterministic: the counter depends only on the configuration and
// the sequence of calls.
type Model struct {
	cfg      Config
	cycles   uint64
	bytes    int
	prefixes int
}

// New creates a model with an empty queue and a zero counter.
func New(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// Config returns the configuration of the model.
func (m *Model) Config() Config {
	return m.cfg
}

// Cycles returns the elapsed cycle count.
func (m *Model) Cycles() uint64 {
	return m.cycles
}

// SetCycles restores the counter, used when loading a snapshot.
func (m *Model) SetCycles(n uint64) {
	m.cycles = n
}

// Queue returns the number of bytes currently held in the prefetch queue.
func (m *Model) Queue() int {
	return m.bytes
}

// Enabled reports whether the prefetch queue model is active.
func (m *Model) Enabled() bool {
	return m.cfg.PrefetchCycles != 0
}

// Charge adds n cycles to the counter.
func (m *Model) Charge(n int) {
	if n > 0 {
		m.cycles += uint64(n)
	}
}

// Pick returns the cost for the configured family.
func (m *Model) Pick(c Cost) int {
	return c[m.cfg.Family]
}

// Fixed reports a family that charges a single fixed cost for multi
// element operations instead of a per element cost.
func (m *Model) Fixed() bool {
	return m.cfg.Family >= cpuid.F486
}

// Prefix records a prefix byte, which consumes a queue byte of the next Run.
func (m *Model) Prefix() {
	if m.Enabled() {
		m.prefixes++
	}
}

// Flush empties the queue, as any control transfer does.
func (m *Model) Flush() {
	m.bytes = 0
	m.prefixes = 0
}

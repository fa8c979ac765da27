package cpu

import (
	"sync"

	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/x86"
)

// Key selects a handler. Opcode is the opcode byte, or 0x100 plus the
// second byte for two byte opcodes.
type Key struct {
	Opcode uint16
	Op32   bool
	Addr32 bool
	Rep    RepMode
}

type handler func(c *CPU, x *Context) (Result, error)

type entry struct {
	run    handler
	prefix bool
}

// Table maps dispatch keys to handlers for one processor family. Tables
// are built on first use and never modified afterwards.
type Table struct {
	family cpuid.Family
	ops    map[Key]entry
}

//nolint:gochecknoglobals
var (
	tables     [cpuid.NumFamilies]*Table
	tablesOnce [cpuid.NumFamilies]sync.Once
)

// TableFor returns the dispatch table of a family.
func TableFor(f cpuid.Family) *Table {
	tablesOnce[f].Do(func() {
		tables[f] = build(f)
	})

	return tables[f]
}

func build(f cpuid.Family) *Table {
	t := &Table{family: f, ops: map[Key]entry{}}

	registerPrefixes(t)
	registerMov(t)
	registerArith(t)
	registerStack(t)
	registerFlow(t)
	registerSystem(t)
	registerIO(t)
	registerString(t)

	return t
}

// Len returns the number of registered keys.
func (t *Table) Len() int {
	return len(t.ops)
}

// Has reports whether k selects a handler.
func (t *Table) Has(k Key) bool {
	_, ok := t.lookup(k)

	return ok
}

// lookup finds the handler for k. A repeat prefix on an instruction that
// has no repeated form is ignored.
func (t *Table) lookup(k Key) (entry, bool) {
	e, ok := t.ops[k]
	if !ok && k.Rep != RepNone {
		k.Rep = RepNone
		e, ok = t.ops[k]
	}

	return e, ok
}

func (t *Table) at(f cpuid.Family) bool {
	return t.family >= f
}

type sizes struct {
	op32, addr32 bool
}

func (t *Table) modes() []sizes {
	if !t.at(cpuid.F386) {
		return []sizes{{false, false}}
	}

	return []sizes{{false, false}, {true, false}, {false, true}, {true, true}}
}

// each registers the handler built by mk for every operand and address
// size the family supports.
func (t *Table) each(op uint16, rep RepMode, mk func(op32, addr32 bool) handler) {
	for _, m := range t.modes() {
		t.ops[Key{Opcode: op, Op32: m.op32, Addr32: m.addr32, Rep: rep}] = entry{run: mk(m.op32, m.addr32)}
	}
}

func (t *Table) all(op uint16, h handler) {
	t.each(op, RepNone, func(bool, bool) handler { return h })
}

// sized registers a handler specialised on the operand size in bytes.
func (t *Table) sized(op uint16, mk func(size int) handler) {
	t.each(op, RepNone, func(op32, _ bool) handler { return mk(opSize(op32)) })
}

func (t *Table) prefix(op uint16, h handler) {
	for _, m := range t.modes() {
		for _, rep := range []RepMode{RepNone, RepE, RepNE} {
			t.ops[Key{Opcode: op, Op32: m.op32, Addr32: m.addr32, Rep: rep}] = entry{run: h, prefix: true}
		}
	}
}

func opSize(op32 bool) int {
	if op32 {
		return 4
	}

	return 2
}

func (c *CPU) dispatch(x *Context, op uint16) (Result, error) {
	e, ok := c.table.lookup(Key{Opcode: op, Op32: x.op32, Addr32: x.addr32, Rep: x.rep})
	if !ok {
		return Faulted, c.undefined(x, op)
	}

	if x.lock && !e.prefix && c.model.Is386() {
		legal, err := c.lockAllowed(x, op)
		if err != nil {
			return Faulted, err
		}

		if !legal {
			return Faulted, x86.GP(0)
		}
	}

	return e.run(c, x)
}

// undefined raises the fault for an opcode the family does not have.
func (c *CPU) undefined(x *Context, op uint16) error {
	c.log.WithField("opcode", op).WithField("eip", x.eip).Debug("undefined opcode")

	return x86.GP(0)
}

// fetch8 reads the next instruction byte at CS:EIP and advances EIP.
func (c *CPU) fetch8(x *Context) (uint8, error) {
	if c.maxLen != 0 && x.length >= c.maxLen {
		return 0, x86.GP(0)
	}

	addr, err := c.codeAddr(c.regs.EIP)
	if err != nil {
		return 0, err
	}

	var b [1]byte
	if err := c.bus.Mem.Fetch(addr, b[:]); err != nil {
		return 0, err
	}

	c.advance(1)
	x.length++

	return b[0], nil
}

// peek8 reads the next instruction byte without consuming it.
func (c *CPU) peek8() (uint8, error) {
	addr, err := c.codeAddr(c.regs.EIP)
	if err != nil {
		return 0, err
	}

	var b [1]byte
	if err := c.bus.Mem.Fetch(addr, b[:]); err != nil {
		return 0, err
	}

	return b[0], nil
}

func (c *CPU) fetch16(x *Context) (uint16, error) {
	lo, err := c.fetch8(x)
	if err != nil {
		return 0, err
	}

	hi, err := c.fetch8(x)
	if err != nil {
		return 0, err
	}

	return uint16(hi)<<8 | uint16(lo), nil
}

func (c *CPU) fetch32(x *Context) (uint32, error) {
	lo, err := c.fetch16(x)
	if err != nil {
		return 0, err
	}

	hi, err := c.fetch16(x)
	if err != nil {
		return 0, err
	}

	return uint32(hi)<<16 | uint32(lo), nil
}

// fetchImm reads an immediate of size bytes, zero extended.
func (c *CPU) fetchImm(x *Context, size int) (uint32, error) {
	switch size {
	case 1:
		v, err := c.fetch8(x)

		return uint32(v), err
	case 2:
		v, err := c.fetch16(x)

		return uint32(v), err
	}

	return c.fetch32(x)
}

// fetchRel reads a signed displacement of size bytes.
func (c *CPU) fetchRel(x *Context, size int) (uint32, error) {
	v, err := c.fetchImm(x, size)
	if err != nil {
		return 0, err
	}

	return signExtend(v, size), nil
}

func (c *CPU) advance(n uint32) {
	if c.sregs.Seg[x86.CS].Big() {
		c.regs.EIP += n

		return
	}

	c.regs.EIP = (c.regs.EIP + n) & 0xffff
}

func signExtend(v uint32, size int) uint32 {
	switch size {
	case 1:
		return uint32(int32(int8(v)))
	case 2:
		return uint32(int32(int16(v)))
	}

	return v
}

package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/x86"
)

func registerPrefixes(t *Table) {
	t.prefix(0x26, segPrefix(x86.ES))
	t.prefix(0x2e, segPrefix(x86.CS))
	t.prefix(0x36, segPrefix(x86.SS))
	t.prefix(0x3e, segPrefix(x86.DS))
	t.prefix(0xf0, lockPrefix)
	t.prefix(0xf2, repPrefix(RepNE))
	t.prefix(0xf3, repPrefix(RepE))

	if t.at(cpuid.F286) {
		t.prefix(0x0f, escape)
	}

	if t.at(cpuid.F386) {
		t.prefix(0x64, segPrefix(x86.FS))
		t.prefix(0x65, segPrefix(x86.GS))
		t.prefix(0x66, operandSize)
		t.prefix(0x67, addressSize)
	}
}

// next fetches and dispatches the byte after a prefix.
func (c *CPU) next(x *Context) (Result, error) {
	x.prefixes++
	c.clock.Prefix()

	op, err := c.fetch8(x)
	if err != nil {
		return Faulted, err
	}

	return c.dispatch(x, uint16(op))
}

func segPrefix(s x86.SegReg) handler {
	return func(c *CPU, x *Context) (Result, error) {
		x.seg = s
		x.override = true

		return c.next(x)
	}
}

func lockPrefix(c *CPU, x *Context) (Result, error) {
	x.lock = true

	return c.next(x)
}

func repPrefix(r RepMode) handler {
	return func(c *CPU, x *Context) (Result, error) {
		x.rep = r

		return c.next(x)
	}
}

// operandSize selects the size that is not the code segment default.
func operandSize(c *CPU, x *Context) (Result, error) {
	x.op32 = !c.sregs.Seg[x86.CS].Big()

	return c.next(x)
}

func addressSize(c *CPU, x *Context) (Result, error) {
	x.addr32 = !c.sregs.Seg[x86.CS].Big()

	return c.next(x)
}

// escape dispatches a two byte opcode. The 0F byte is part of the opcode,
// not a prefix, for the timing model.
func escape(c *CPU, x *Context) (Result, error) {
	op, err := c.fetch8(x)
	if err != nil {
		return Faulted, err
	}

	return c.dispatch(x, 0x100|uint16(op))
}

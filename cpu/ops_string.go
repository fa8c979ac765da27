package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/x86"
)

// repBurst bounds the iterations of a repeated string instruction in one
// step. A longer run restarts the instruction so interrupts are sampled.
const repBurst = 4096

// element performs one iteration of a string instruction.
type element func(c *CPU, x *Context, size int, addr32 bool) error

type stringDesc struct {
	op      uint16
	run     element
	compare bool
	since   cpuid.Family
}

//nolint:gochecknoglobals
var stringOps = []stringDesc{
	{op: 0xa4, run: movs},
	{op: 0xa6, run: cmps, compare: true},
	{op: 0xaa, run: stos},
	{op: 0xac, run: lods},
	{op: 0xae, run: scas, compare: true},
	{op: 0x6c, run: ins, since: cpuid.F286},
	{op: 0x6e, run: outs, since: cpuid.F286},
}

func registerString(t *Table) {
	for _, d := range stringOps {
		if !t.at(d.since) {
			continue
		}

		for _, rep := range []RepMode{RepNone, RepE, RepNE} {
			t.each(d.op, rep, func(_, addr32 bool) handler {
				return stringOp(d, 1, addr32, rep)
			})
			t.each(d.op+1, rep, func(op32, addr32 bool) handler {
				return stringOp(d, opSize(op32), addr32, rep)
			})
		}
	}
}

// stringOp runs a string instruction. Under a repeat prefix the counter
// and index registers are updated after each element, so a fault in the
// middle restarts the instruction where it stopped.
func stringOp(d stringDesc, size int, addr32 bool, rep RepMode) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if rep == RepNone {
			if err := d.run(c, x, size, addr32); err != nil {
				return Faulted, err
			}

			return c.retire(x, costString)
		}

		width := opSize(addr32)
		n := 0

		for c.regs.Get(width, x86.ECX) != 0 {
			if n == repBurst {
				c.regs.EIP = x.eip
				c.clock.Flush()

				break
			}

			if err := d.run(c, x, size, addr32); err != nil {
				return Faulted, err
			}

			c.regs.Set(width, x86.ECX, c.regs.Get(width, x86.ECX)-1)
			n++

			if d.compare && (rep == RepE) != c.flag(x86.EFLAGSxZF) {
				break
			}
		}

		if n == 1 {
			return c.retire(x, costRepOne)
		}

		return c.retireCycles(x, c.clock.Pick(costRepSet)+n*c.clock.Pick(costRepOne))
	}
}

// index returns ESI or EDI at the address size and moves it by one
// element in the direction given by DF.
func (c *CPU) index(r, size int, addr32 bool) uint32 {
	width := opSize(addr32)
	v := c.regs.Get(width, r)

	step := uint32(size)
	if c.flag(x86.EFLAGSxDF) {
		step = -step
	}

	c.regs.Set(width, r, (v+step)&mask(width))

	return v
}

// source returns the segment and offset of a string source operand
// without moving ESI.
func (c *CPU) source(x *Context, addr32 bool) (x86.SegReg, uint32) {
	return x.dataSeg(), c.regs.Get(opSize(addr32), x86.ESI)
}

func (c *CPU) dest(addr32 bool) uint32 {
	return c.regs.Get(opSize(addr32), x86.EDI)
}

func movs(c *CPU, x *Context, size int, addr32 bool) error {
	seg, off := c.source(x, addr32)

	v, err := c.read(x, seg, off, size)
	if err != nil {
		return err
	}

	if err := c.write(x, x86.ES, c.dest(addr32), size, v); err != nil {
		return err
	}

	c.index(x86.ESI, size, addr32)
	c.index(x86.EDI, size, addr32)

	return nil
}

func cmps(c *CPU, x *Context, size int, addr32 bool) error {
	seg, off := c.source(x, addr32)

	a, err := c.read(x, seg, off, size)
	if err != nil {
		return err
	}

	b, err := c.read(x, x86.ES, c.dest(addr32), size)
	if err != nil {
		return err
	}

	c.sub(a, b, 0, size)
	c.index(x86.ESI, size, addr32)
	c.index(x86.EDI, size, addr32)

	return nil
}

func stos(c *CPU, x *Context, size int, addr32 bool) error {
	if err := c.write(x, x86.ES, c.dest(addr32), size, c.regs.Get(size, x86.EAX)); err != nil {
		return err
	}

	c.index(x86.EDI, size, addr32)

	return nil
}

func lods(c *CPU, x *Context, size int, addr32 bool) error {
	seg, off := c.source(x, addr32)

	v, err := c.read(x, seg, off, size)
	if err != nil {
		return err
	}

	c.regs.Set(size, x86.EAX, v)
	c.index(x86.ESI, size, addr32)

	return nil
}

func scas(c *CPU, x *Context, size int, addr32 bool) error {
	b, err := c.read(x, x86.ES, c.dest(addr32), size)
	if err != nil {
		return err
	}

	c.sub(c.regs.Get(size, x86.EAX), b, 0, size)
	c.index(x86.EDI, size, addr32)

	return nil
}

func ins(c *CPU, x *Context, size int, addr32 bool) error {
	// the destination is checked before the port is read
	if _, err := c.linear(x86.ES, c.dest(addr32), size, true); err != nil {
		return err
	}

	v, err := c.portIn(c.regs.Get16(x86.EDX), size)
	if err != nil {
		return err
	}

	if err := c.write(x, x86.ES, c.dest(addr32), size, v); err != nil {
		return err
	}

	c.index(x86.EDI, size, addr32)

	return nil
}

func outs(c *CPU, x *Context, size int, addr32 bool) error {
	seg, off := c.source(x, addr32)

	v, err := c.read(x, seg, off, size)
	if err != nil {
		return err
	}

	if err := c.portOut(c.regs.Get16(x86.EDX), size, v); err != nil {
		return err
	}

	c.index(x86.ESI, size, addr32)

	return nil
}

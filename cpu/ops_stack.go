package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/timing"
	"github.com/bobuhiro11/gox86/x86"
)

func registerStack(t *Table) {
	for r := 0; r < 8; r++ {
		t.sized(0x50+uint16(r), func(size int) handler { return pushReg(size, r) })
		t.sized(0x58+uint16(r), func(size int) handler { return popReg(size, r) })
	}

	t.sized(0x06, func(size int) handler { return pushSeg(size, x86.ES) })
	t.sized(0x0e, func(size int) handler { return pushSeg(size, x86.CS) })
	t.sized(0x16, func(size int) handler { return pushSeg(size, x86.SS) })
	t.sized(0x1e, func(size int) handler { return pushSeg(size, x86.DS) })
	t.sized(0x07, func(size int) handler { return popSeg(size, x86.ES) })
	t.sized(0x17, func(size int) handler { return popSeg(size, x86.SS) })
	t.sized(0x1f, func(size int) handler { return popSeg(size, x86.DS) })
	t.sized(0x8f, popRM)

	if !t.at(cpuid.F286) {
		t.all(0x0f, popCS)

		return
	}

	t.sized(0x68, func(size int) handler { return pushImm(size, size) })
	t.sized(0x6a, func(size int) handler { return pushImm(size, 1) })
	t.each(0x60, RepNone, func(op32, _ bool) handler { return pushaOp(op32) })
	t.each(0x61, RepNone, func(op32, _ bool) handler { return popaOp(op32) })
	t.each(0xc8, RepNone, func(op32, _ bool) handler { return enterOp(op32) })
	t.each(0xc9, RepNone, func(op32, _ bool) handler { return leaveOp(op32) })

	if t.at(cpuid.F386) {
		t.sized(0x1a0, func(size int) handler { return pushSeg(size, x86.FS) })
		t.sized(0x1a8, func(size int) handler { return pushSeg(size, x86.GS) })
		t.sized(0x1a1, func(size int) handler { return popSeg(size, x86.FS) })
		t.sized(0x1a9, func(size int) handler { return popSeg(size, x86.GS) })
	}
}

func pushReg(size, r int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		v := c.regs.Get(size, r)

		// the 8086 pushes the decremented stack pointer
		if r == x86.ESP && c.model.Family == cpuid.F8086 {
			v -= 2
		}

		if err := c.pushSized(x, size, v); err != nil {
			return Faulted, err
		}

		return c.retire(x, costPush)
	}
}

func popReg(size, r int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		v, err := c.popSized(x, size)
		if err != nil {
			return Faulted, err
		}

		c.regs.Set(size, r, v)

		return c.retire(x, costPop)
	}
}

func pushImm(size, immSize int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		v, err := c.fetchRel(x, immSize)
		if err != nil {
			return Faulted, err
		}

		if err := c.pushSized(x, size, v); err != nil {
			return Faulted, err
		}

		return c.retire(x, costPush)
	}
}

func pushSeg(size int, seg x86.SegReg) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.pushSized(x, size, uint32(c.sregs.Seg[seg].Selector)); err != nil {
			return Faulted, err
		}

		return c.retire(x, costPush)
	}
}

// popSeg loads a segment register from the stack. The stack pointer moves
// only after the load succeeded. POP SS executes the next instruction as
// part of the same step.
func popSeg(size int, seg x86.SegReg) handler {
	return func(c *CPU, x *Context) (Result, error) {
		sel, err := c.peekStack(x, size, 0)
		if err != nil {
			return Faulted, err
		}

		// the increment follows the stack in use before the load
		esp := c.advanceSP(uint32(size))

		if err := c.loadSeg(seg, uint16(sel)); err != nil {
			return Faulted, err
		}

		c.regs.GPR[x86.ESP] = esp

		cost := costPop
		if c.protected() {
			cost = costSegPM
		}

		if seg == x86.SS {
			return c.pair(x, cost)
		}

		return c.retire(x, cost)
	}
}

// popCS is opcode 0F on the 8086.
func popCS(c *CPU, x *Context) (Result, error) {
	v, err := pop[uint16](c, x)
	if err != nil {
		return Faulted, err
	}

	c.sregs.Seg[x86.CS].Real(v, false)

	return c.branch(x, costPop)
}

func popRM(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		if x.modrm.Reg != 0 {
			return Faulted, x86.GP(0)
		}

		sp := c.sp()

		v, err := c.popSized(x, size)
		if err != nil {
			return Faulted, err
		}

		// the destination address uses the incremented stack pointer
		if err := c.writeRM(x, size, v); err != nil {
			c.setSP(sp)

			return Faulted, err
		}

		return c.retire(x, pickRM(x, costPop, costPopM))
	}
}

func (c *CPU) pushRM(x *Context, size int) (Result, error) {
	v, err := c.readRM(x, size)
	if err != nil {
		return Faulted, err
	}

	if err := c.pushSized(x, size, v); err != nil {
		return Faulted, err
	}

	return c.retire(x, pickRM(x, costPush, costPushM))
}

func pushaOp(op32 bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		var err error
		if op32 {
			err = pusha[uint32](c, x)
		} else {
			err = pusha[uint16](c, x)
		}

		if err != nil {
			return Faulted, err
		}

		return c.multi(x, costPushA, costEachA, 8)
	}
}

func popaOp(op32 bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		var err error
		if op32 {
			err = popa[uint32](c, x)
		} else {
			err = popa[uint16](c, x)
		}

		if err != nil {
			return Faulted, err
		}

		return c.multi(x, costPopA, costEachA, 8)
	}
}

func enterOp(op32 bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		alloc, err := c.fetch16(x)
		if err != nil {
			return Faulted, err
		}

		level, err := c.fetch8(x)
		if err != nil {
			return Faulted, err
		}

		if op32 {
			err = enter[uint32](c, x, alloc, level)
		} else {
			err = enter[uint16](c, x, alloc, level)
		}

		if err != nil {
			return Faulted, err
		}

		return c.multi(x, costEnter, costEachE, int(level&31))
	}
}

func leaveOp(op32 bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		var err error
		if op32 {
			err = leave[uint32](c, x)
		} else {
			err = leave[uint16](c, x)
		}

		if err != nil {
			return Faulted, err
		}

		return c.retire(x, costLeave)
	}
}

// pair retires a stack segment load and executes the following
// instruction before interrupts are sampled again. The second instruction
// never extends the pair, and its own fault is rolled back to its start.
func (c *CPU) pair(x *Context, cost timing.Cost) (Result, error) {
	if _, err := c.retire(x, cost); err != nil {
		return Faulted, err
	}

	if x.inPair {
		return Retired, nil
	}

	y := c.newContext()
	y.inPair = true

	res, err := c.execute(y)
	if err != nil {
		x.handled = true

		return c.abort(y, err)
	}

	if res == Halted {
		return Halted, nil
	}

	return RetiredPair, nil
}

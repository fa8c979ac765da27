package cpu

import (
	"fmt"

	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/x86"
)

func registerFlow(t *Table) {
	for n := 0; n < 16; n++ {
		t.sized(0x70+uint16(n), func(size int) handler { return jcc(uint8(n), 1, size) })
	}

	t.sized(0xeb, func(size int) handler { return jmpRel(1, size) })
	t.sized(0xe9, func(size int) handler { return jmpRel(size, size) })
	t.sized(0xe8, callRel)
	t.sized(0xea, farImmediate(false))
	t.sized(0x9a, farImmediate(true))
	t.sized(0xc3, func(size int) handler { return retNear(size, false) })
	t.sized(0xc2, func(size int) handler { return retNear(size, true) })
	t.sized(0xcb, func(size int) handler { return retFar(size, false) })
	t.sized(0xca, func(size int) handler { return retFar(size, true) })

	t.all(0xcc, intOp(intBreak))
	t.all(0xcd, intOp(intImm))
	t.all(0xce, intOp(intOverflow))
	t.sized(0xcf, iret)

	t.each(0xe0, RepNone, func(op32, addr32 bool) handler { return loop(loopNE, opSize(op32), addr32) })
	t.each(0xe1, RepNone, func(op32, addr32 bool) handler { return loop(loopE, opSize(op32), addr32) })
	t.each(0xe2, RepNone, func(op32, addr32 bool) handler { return loop(loopAlways, opSize(op32), addr32) })
	t.each(0xe3, RepNone, func(op32, addr32 bool) handler { return loop(loopCXZ, opSize(op32), addr32) })

	if t.at(cpuid.F386) {
		for n := 0; n < 16; n++ {
			t.sized(0x180+uint16(n), func(size int) handler { return jcc(uint8(n), size, size) })
		}
	}
}

// jump sets EIP to target, truncated to the operand size and checked
// against the code segment limit.
func (c *CPU) jump(target uint32, size int) error {
	if size == 2 {
		target &= 0xffff
	}

	if c.checks()&checkLimit != 0 && target > c.sregs.Seg[x86.CS].LimitHigh {
		return x86.GP(0)
	}

	c.regs.EIP = target

	return nil
}

// jcc is a conditional jump with a displacement of dispSize bytes.
func jcc(n uint8, dispSize, size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		d, err := c.fetchRel(x, dispSize)
		if err != nil {
			return Faulted, err
		}

		if !c.cond(n) {
			return c.retire(x, costJccNot)
		}

		if err := c.jump(c.regs.EIP+d, size); err != nil {
			return Faulted, err
		}

		return c.branch(x, costJcc)
	}
}

func jmpRel(dispSize, size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		d, err := c.fetchRel(x, dispSize)
		if err != nil {
			return Faulted, err
		}

		if err := c.jump(c.regs.EIP+d, size); err != nil {
			return Faulted, err
		}

		return c.branch(x, costJmp)
	}
}

func callRel(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		d, err := c.fetchRel(x, size)
		if err != nil {
			return Faulted, err
		}

		ret := c.regs.EIP

		if err := c.jump(ret+d, size); err != nil {
			return Faulted, err
		}

		if err := c.pushSized(x, size, ret); err != nil {
			return Faulted, err
		}

		return c.branch(x, costCall)
	}
}

func (c *CPU) callIndirect(x *Context, size int) (Result, error) {
	target, err := c.readRM(x, size)
	if err != nil {
		return Faulted, err
	}

	ret := c.regs.EIP

	if err := c.jump(target, size); err != nil {
		return Faulted, err
	}

	if err := c.pushSized(x, size, ret); err != nil {
		return Faulted, err
	}

	return c.branch(x, pickRM(x, costCall, costCallF))
}

func (c *CPU) jmpIndirect(x *Context, size int) (Result, error) {
	target, err := c.readRM(x, size)
	if err != nil {
		return Faulted, err
	}

	if err := c.jump(target, size); err != nil {
		return Faulted, err
	}

	return c.branch(x, pickRM(x, costJmp, costJmpFar))
}

// farTransfer loads CS:EIP for a far JMP or CALL, pushing the return
// address for a call.
func (c *CPU) farTransfer(x *Context, sel uint16, off uint32, size int, call bool) (Result, error) {
	retCS, retIP := c.sregs.Seg[x86.CS].Selector, c.regs.EIP

	if err := c.loadCS(sel, false); err != nil {
		return Faulted, err
	}

	if err := c.jump(off, size); err != nil {
		return Faulted, err
	}

	if !call {
		return c.branch(x, costJmpFar)
	}

	if err := c.pushSized(x, size, uint32(retCS)); err != nil {
		return Faulted, err
	}

	if err := c.pushSized(x, size, retIP); err != nil {
		return Faulted, err
	}

	return c.branch(x, costCallF)
}

func farImmediate(call bool) func(size int) handler {
	return func(size int) handler {
		return func(c *CPU, x *Context) (Result, error) {
			off, err := c.fetchImm(x, size)
			if err != nil {
				return Faulted, err
			}

			sel, err := c.fetch16(x)
			if err != nil {
				return Faulted, err
			}

			return c.farTransfer(x, sel, off, size, call)
		}
	}
}

func (c *CPU) farIndirect(x *Context, size int, call bool) (Result, error) {
	if !x.modrm.Mem() {
		return Faulted, x86.GP(0)
	}

	off := c.offset(x)

	target, err := c.read(x, x.modrm.seg, off, size)
	if err != nil {
		return Faulted, err
	}

	sel, err := c.read(x, x.modrm.seg, off+uint32(size), 2)
	if err != nil {
		return Faulted, err
	}

	return c.farTransfer(x, uint16(sel), target, size, call)
}

func retNear(size int, imm bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		var extra uint32

		if imm {
			v, err := c.fetch16(x)
			if err != nil {
				return Faulted, err
			}

			extra = uint32(v)
		}

		target, err := c.peekStack(x, size, 0)
		if err != nil {
			return Faulted, err
		}

		if err := c.jump(target, size); err != nil {
			return Faulted, err
		}

		c.setSP(c.wrapSP(c.sp() + uint32(size) + extra))

		return c.branch(x, costRet)
	}
}

func retFar(size int, imm bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		var extra uint32

		if imm {
			v, err := c.fetch16(x)
			if err != nil {
				return Faulted, err
			}

			extra = uint32(v)
		}

		target, err := c.peekStack(x, size, 0)
		if err != nil {
			return Faulted, err
		}

		sel, err := c.peekStack(x, size, 1)
		if err != nil {
			return Faulted, err
		}

		if err := c.loadCS(uint16(sel), true); err != nil {
			return Faulted, err
		}

		if err := c.jump(target, size); err != nil {
			return Faulted, err
		}

		c.setSP(c.wrapSP(c.sp() + 2*uint32(size) + extra))

		return c.branch(x, costRetF)
	}
}

type intKind uint8

const (
	intImm intKind = iota
	intBreak
	intOverflow
)

// intOp is INT n, INT3 and INTO. The instruction retires first so the
// handler returns after it; delivery is up to the exception collaborator.
func intOp(kind intKind) handler {
	return func(c *CPU, x *Context) (Result, error) {
		var vector uint8

		switch kind {
		case intImm:
			v, err := c.fetch8(x)
			if err != nil {
				return Faulted, err
			}

			vector = v

			if c.v86() && c.iopl() < 3 {
				return Faulted, x86.GP(0)
			}
		case intBreak:
			vector = uint8(x86.VectorBP)
		case intOverflow:
			if !c.flag(x86.EFLAGSxOF) {
				return c.retire(x, costJccNot)
			}

			vector = uint8(x86.VectorOF)
		}

		if c.bus.Exceptions == nil {
			return Faulted, errNoExceptions
		}

		if _, err := c.branch(x, costInt); err != nil {
			return Faulted, err
		}

		if err := c.bus.Exceptions.Interrupt(c, vector, true); err != nil {
			return Faulted, err
		}

		return Retired, nil
	}
}

func iret(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if c.v86() && c.iopl() < 3 {
			return Faulted, x86.GP(0)
		}

		if c.protected() && !c.v86() && c.flag(x86.EFLAGSxNT) {
			return Faulted, fmt.Errorf("iret with NT set: %w", errTaskSwitch)
		}

		var vals [3]uint32

		for i := range vals {
			v, err := c.peekStack(x, size, i)
			if err != nil {
				return Faulted, err
			}

			vals[i] = v
		}

		target, sel, flags := vals[0], uint16(vals[1]), vals[2]

		if c.protected() && !c.v86() && size == 4 && flags&x86.EFLAGSxVM != 0 {
			return Faulted, fmt.Errorf("iret to virtual-8086 mode: %w", x86.ErrUnimplemented)
		}

		if err := c.loadCS(sel, true); err != nil {
			return Faulted, err
		}

		if err := c.jump(target, size); err != nil {
			return Faulted, err
		}

		c.setSP(c.wrapSP(c.sp() + 3*uint32(size)))
		c.writeFlags(flags, size)

		return c.branch(x, costIret)
	}
}

type loopKind uint8

const (
	loopNE loopKind = iota
	loopE
	loopAlways
	loopCXZ
)

// loop is LOOP, LOOPE, LOOPNE and JCXZ. The counter is CX or ECX by
// address size.
func loop(kind loopKind, size int, addr32 bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		d, err := c.fetchRel(x, 1)
		if err != nil {
			return Faulted, err
		}

		width := opSize(addr32)
		count := c.regs.Get(width, x86.ECX)

		var taken bool

		if kind == loopCXZ {
			taken = count == 0
		} else {
			count = (count - 1) & mask(width)

			switch kind {
			case loopNE:
				taken = count != 0 && !c.flag(x86.EFLAGSxZF)
			case loopE:
				taken = count != 0 && c.flag(x86.EFLAGSxZF)
			default:
				taken = count != 0
			}
		}

		// the count commits only once the target passed the CS limit
		if !taken {
			if kind != loopCXZ {
				c.regs.Set(width, x86.ECX, count)
			}

			return c.retire(x, costJccNot)
		}

		if err := c.jump(c.regs.EIP+d, size); err != nil {
			return Faulted, err
		}

		if kind != loopCXZ {
			c.regs.Set(width, x86.ECX, count)
		}

		return c.branch(x, costLoop)
	}
}

package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/timing"
	"github.com/bobuhiro11/gox86/x86"
)

func registerMov(t *Table) {
	t.all(0x88, movRMReg(1))
	t.sized(0x89, movRMReg)
	t.all(0x8a, movRegRM(1))
	t.sized(0x8b, movRegRM)
	t.sized(0x8c, movRMSeg)
	t.all(0x8e, movSegRM)
	t.sized(0x8d, lea)
	t.all(0xc6, movRMImm(1))
	t.sized(0xc7, movRMImm)
	t.sized(0xc4, loadFar(x86.ES))
	t.sized(0xc5, loadFar(x86.DS))

	t.each(0xa0, RepNone, func(_, addr32 bool) handler { return movAccMem(1, addr32, false) })
	t.each(0xa1, RepNone, func(op32, addr32 bool) handler { return movAccMem(opSize(op32), addr32, false) })
	t.each(0xa2, RepNone, func(_, addr32 bool) handler { return movAccMem(1, addr32, true) })
	t.each(0xa3, RepNone, func(op32, addr32 bool) handler { return movAccMem(opSize(op32), addr32, true) })
	t.each(0xd7, RepNone, func(_, addr32 bool) handler { return xlat(addr32) })

	for r := 0; r < 8; r++ {
		t.all(0xb0+uint16(r), movRegImm(1, r))
		t.sized(0xb8+uint16(r), func(size int) handler { return movRegImm(size, r) })
	}

	t.all(0x86, xchgRM(1))
	t.sized(0x87, xchgRM)
	t.all(0x90, nop)

	for r := 1; r < 8; r++ {
		t.sized(0x90+uint16(r), func(size int) handler { return xchgAcc(size, r) })
	}

	t.sized(0x98, cbw)
	t.sized(0x99, cwd)
	t.all(0x9e, sahf)
	t.all(0x9f, lahf)

	if t.at(cpuid.F386) {
		t.sized(0x1b2, loadFar(x86.SS))
		t.sized(0x1b4, loadFar(x86.FS))
		t.sized(0x1b5, loadFar(x86.GS))
		t.sized(0x1b6, movExtend(1, false))
		t.sized(0x1b7, movExtend(2, false))
		t.sized(0x1be, movExtend(1, true))
		t.sized(0x1bf, movExtend(2, true))
	}
}

func pickRM(x *Context, reg, mem timing.Cost) timing.Cost {
	if x.modrm.Mem() {
		return mem
	}

	return reg
}

func nop(c *CPU, x *Context) (Result, error) {
	return c.retire(x, costRR)
}

func movRMReg(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		if err := c.writeRM(x, size, c.readReg(x, size)); err != nil {
			return Faulted, err
		}

		return c.retire(x, pickRM(x, costRR, costStore))
	}
}

func movRegRM(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		v, err := c.readRM(x, size)
		if err != nil {
			return Faulted, err
		}

		c.writeReg(x, size, v)

		return c.retire(x, pickRM(x, costRR, costLoad))
	}
}

func movRMImm(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		v, err := c.fetchImm(x, size)
		if err != nil {
			return Faulted, err
		}

		if err := c.writeRM(x, size, v); err != nil {
			return Faulted, err
		}

		return c.retire(x, pickRM(x, costImm, costStore))
	}
}

func movRegImm(size, r int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		v, err := c.fetchImm(x, size)
		if err != nil {
			return Faulted, err
		}

		c.regs.Set(size, r, v)

		return c.retire(x, costImm)
	}
}

// validSeg reports whether a ModRM reg field names a segment register
// on this family.
func (c *CPU) validSeg(reg uint8) bool {
	if c.model.Is386() {
		return reg < x86.NumSegs
	}

	return reg < 4
}

func movRMSeg(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		if !c.validSeg(x.modrm.Reg) {
			return Faulted, x86.GP(0)
		}

		sel := uint32(c.sregs.Seg[x.modrm.Reg].Selector)

		// a register destination takes the full operand size
		width := 2
		if !x.modrm.Mem() {
			width = size
		}

		if err := c.writeRM(x, width, sel); err != nil {
			return Faulted, err
		}

		return c.retire(x, pickRM(x, costSegMov, costStore))
	}
}

func movSegRM(c *CPU, x *Context) (Result, error) {
	if err := c.decodeModRM(x); err != nil {
		return Faulted, err
	}

	seg := x86.SegReg(x.modrm.Reg)
	if !c.validSeg(x.modrm.Reg) || seg == x86.CS {
		return Faulted, x86.GP(0)
	}

	sel, err := c.readRM(x, 2)
	if err != nil {
		return Faulted, err
	}

	if err := c.loadSeg(seg, uint16(sel)); err != nil {
		return Faulted, err
	}

	cost := costSegMov
	if c.protected() {
		cost = costSegPM
	}

	if seg == x86.SS {
		return c.pair(x, cost)
	}

	return c.retire(x, cost)
}

func movAccMem(size int, addr32, store bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		off, err := c.fetchImm(x, opSize(addr32))
		if err != nil {
			return Faulted, err
		}

		if store {
			if err := c.write(x, x.dataSeg(), off, size, c.regs.Get(size, x86.EAX)); err != nil {
				return Faulted, err
			}

			return c.retire(x, costStore)
		}

		v, err := c.read(x, x.dataSeg(), off, size)
		if err != nil {
			return Faulted, err
		}

		c.regs.Set(size, x86.EAX, v)

		return c.retire(x, costLoad)
	}
}

func lea(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		if !x.modrm.Mem() {
			return Faulted, x86.GP(0)
		}

		c.writeReg(x, size, c.offset(x))

		return c.retire(x, costLEA)
	}
}

// loadFar implements LDS, LES, LSS, LFS and LGS.
func loadFar(seg x86.SegReg) func(size int) handler {
	return func(size int) handler {
		return func(c *CPU, x *Context) (Result, error) {
			if err := c.decodeModRM(x); err != nil {
				return Faulted, err
			}

			if !x.modrm.Mem() {
				return Faulted, x86.GP(0)
			}

			off := c.offset(x)

			v, err := c.read(x, x.modrm.seg, off, size)
			if err != nil {
				return Faulted, err
			}

			sel, err := c.read(x, x.modrm.seg, off+uint32(size), 2)
			if err != nil {
				return Faulted, err
			}

			if err := c.loadSeg(seg, uint16(sel)); err != nil {
				return Faulted, err
			}

			c.writeReg(x, size, v)

			return c.retire(x, costLxS)
		}
	}
}

func movExtend(from int, signed bool) func(size int) handler {
	return func(size int) handler {
		return func(c *CPU, x *Context) (Result, error) {
			if err := c.decodeModRM(x); err != nil {
				return Faulted, err
			}

			v, err := c.readRM(x, from)
			if err != nil {
				return Faulted, err
			}

			if signed {
				v = signExtend(v, from)
			}

			c.writeReg(x, size, v)

			return c.retire(x, pickRM(x, costImm, costLoad))
		}
	}
}

func xchgRM(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		v, err := c.readRM(x, size)
		if err != nil {
			return Faulted, err
		}

		if err := c.writeRM(x, size, c.readReg(x, size)); err != nil {
			return Faulted, err
		}

		c.writeReg(x, size, v)

		return c.retire(x, pickRM(x, costImm, costXchg))
	}
}

func xchgAcc(size, r int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		a := c.regs.Get(size, x86.EAX)
		c.regs.Set(size, x86.EAX, c.regs.Get(size, r))
		c.regs.Set(size, r, a)

		return c.retire(x, costImm)
	}
}

func cbw(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		half := size / 2
		c.regs.Set(size, x86.EAX, signExtend(c.regs.Get(half, x86.EAX), half))

		return c.retire(x, costRR)
	}
}

func cwd(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		var v uint32
		if c.regs.Get(size, x86.EAX)&signBit(size) != 0 {
			v = mask(size)
		}

		c.regs.Set(size, x86.EDX, v)

		return c.retire(x, costRR)
	}
}

const sahfMask = x86.EFLAGSxSF | x86.EFLAGSxZF | x86.EFLAGSxAF | x86.EFLAGSxPF | x86.EFLAGSxCF

func sahf(c *CPU, x *Context) (Result, error) {
	c.regs.EFLAGS = c.regs.EFLAGS&^sahfMask | uint32(c.regs.Get8(4))&sahfMask

	return c.retire(x, costRR)
}

func lahf(c *CPU, x *Context) (Result, error) {
	c.regs.Set8(4, uint8(c.regs.EFLAGS))

	return c.retire(x, costRR)
}

func xlat(addr32 bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		off := c.regs.GPR[x86.EBX] + uint32(c.regs.Get8(x86.EAX))
		if !addr32 {
			off &= 0xffff
		}

		v, err := c.read(x, x.dataSeg(), off, 1)
		if err != nil {
			return Faulted, err
		}

		c.regs.Set8(x86.EAX, uint8(v))

		return c.retire(x, costLoad)
	}
}

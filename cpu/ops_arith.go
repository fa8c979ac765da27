package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/x86"
)

func registerArith(t *Table) {
	for op := 0; op < 8; op++ {
		base := uint16(op * 8)

		t.all(base+0, aluRMReg(op, 1))
		t.sized(base+1, func(size int) handler { return aluRMReg(op, size) })
		t.all(base+2, aluRegRM(op, 1))
		t.sized(base+3, func(size int) handler { return aluRegRM(op, size) })
		t.all(base+4, aluAccImm(op, 1))
		t.sized(base+5, func(size int) handler { return aluAccImm(op, size) })
	}

	t.all(0x80, group1(1, 1))
	t.sized(0x81, func(size int) handler { return group1(size, size) })
	t.all(0x82, group1(1, 1))
	t.sized(0x83, func(size int) handler { return group1(size, 1) })

	t.all(0x84, testRMReg(1))
	t.sized(0x85, testRMReg)
	t.all(0xa8, testAcc(1))
	t.sized(0xa9, testAcc)

	for r := 0; r < 8; r++ {
		t.sized(0x40+uint16(r), func(size int) handler { return incReg(size, r, false) })
		t.sized(0x48+uint16(r), func(size int) handler { return incReg(size, r, true) })
	}

	t.all(0xfe, groupFE)
	t.sized(0xff, groupFF)
	t.all(0xf6, group3(1))
	t.sized(0xf7, group3)

	t.all(0xd0, group2(1, shiftOne))
	t.sized(0xd1, func(size int) handler { return group2(size, shiftOne) })
	t.all(0xd2, group2(1, shiftCL))
	t.sized(0xd3, func(size int) handler { return group2(size, shiftCL) })

	if t.at(cpuid.F286) {
		t.all(0xc0, group2(1, shiftImm))
		t.sized(0xc1, func(size int) handler { return group2(size, shiftImm) })
	}

	if t.at(cpuid.F386) {
		t.sized(0x1a3, bitOp(btTest))
		t.sized(0x1ab, bitOp(btSet))
		t.sized(0x1b3, bitOp(btReset))
		t.sized(0x1bb, bitOp(btComplement))
		t.sized(0x1ba, bitGroup)

		for n := 0; n < 16; n++ {
			t.all(0x190+uint16(n), setcc(uint8(n)))
		}
	}

	if t.at(cpuid.F486) {
		t.all(0x1c0, xadd(1))
		t.sized(0x1c1, xadd)
		t.all(0x1b0, cmpxchg(1))
		t.sized(0x1b1, cmpxchg)
	}
}

// rmw reads the r/m operand, applies f and writes the result back unless
// f reports it has none.
func (c *CPU) rmw(x *Context, size int, f func(v uint32) (uint32, bool)) error {
	v, err := c.readRM(x, size)
	if err != nil {
		return err
	}

	r, store := f(v)
	if !store {
		return nil
	}

	return c.writeRM(x, size, r)
}

func aluRMReg(op, size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		src := c.readReg(x, size)

		err := c.rmw(x, size, func(v uint32) (uint32, bool) {
			return c.alu(op, v, src, size), op != aluCMP
		})
		if err != nil {
			return Faulted, err
		}

		return c.retire(x, pickRM(x, costRR, costALUMR))
	}
}

func aluRegRM(op, size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		v, err := c.readRM(x, size)
		if err != nil {
			return Faulted, err
		}

		r := c.alu(op, c.readReg(x, size), v, size)
		if op != aluCMP {
			c.writeReg(x, size, r)
		}

		return c.retire(x, pickRM(x, costRR, costALURM))
	}
}

func aluAccImm(op, size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		v, err := c.fetchImm(x, size)
		if err != nil {
			return Faulted, err
		}

		r := c.alu(op, c.regs.Get(size, x86.EAX), v, size)
		if op != aluCMP {
			c.regs.Set(size, x86.EAX, r)
		}

		return c.retire(x, costImm)
	}
}

// group1 is 80-83: an ALU operation with an immediate of immSize bytes,
// sign extended to size.
func group1(size, immSize int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		imm, err := c.fetchRel(x, immSize)
		if err != nil {
			return Faulted, err
		}

		op := int(x.modrm.Reg)

		err = c.rmw(x, size, func(v uint32) (uint32, bool) {
			return c.alu(op, v, imm, size), op != aluCMP
		})
		if err != nil {
			return Faulted, err
		}

		return c.retire(x, pickRM(x, costImm, costALUMR))
	}
}

func testRMReg(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		v, err := c.readRM(x, size)
		if err != nil {
			return Faulted, err
		}

		c.logic(v&c.readReg(x, size), size)

		return c.retire(x, pickRM(x, costRR, costALURM))
	}
}

func testAcc(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		v, err := c.fetchImm(x, size)
		if err != nil {
			return Faulted, err
		}

		c.logic(c.regs.Get(size, x86.EAX)&v, size)

		return c.retire(x, costImm)
	}
}

func incReg(size, r int, down bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		v := c.regs.Get(size, r)
		if down {
			v = c.dec(v, size)
		} else {
			v = c.inc(v, size)
		}

		c.regs.Set(size, r, v)

		return c.retire(x, costRR)
	}
}

func groupFE(c *CPU, x *Context) (Result, error) {
	if err := c.decodeModRM(x); err != nil {
		return Faulted, err
	}

	if x.modrm.Reg > 1 {
		return Faulted, x86.GP(0)
	}

	return c.incDecRM(x, 1)
}

func (c *CPU) incDecRM(x *Context, size int) (Result, error) {
	down := x.modrm.Reg == 1

	err := c.rmw(x, size, func(v uint32) (uint32, bool) {
		if down {
			return c.dec(v, size), true
		}

		return c.inc(v, size), true
	})
	if err != nil {
		return Faulted, err
	}

	return c.retire(x, pickRM(x, costRR, costALUMR))
}

// groupFF is INC, DEC, indirect CALL and JMP, and PUSH r/m.
func groupFF(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		switch x.modrm.Reg {
		case 0, 1:
			return c.incDecRM(x, size)
		case 2:
			return c.callIndirect(x, size)
		case 3:
			return c.farIndirect(x, size, true)
		case 4:
			return c.jmpIndirect(x, size)
		case 5:
			return c.farIndirect(x, size, false)
		case 6:
			return c.pushRM(x, size)
		}

		return Faulted, x86.GP(0)
	}
}

// group3 is TEST, NOT, NEG, MUL, IMUL, DIV and IDIV.
func group3(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		switch x.modrm.Reg {
		case 0, 1:
			v, err := c.readRM(x, size)
			if err != nil {
				return Faulted, err
			}

			imm, err := c.fetchImm(x, size)
			if err != nil {
				return Faulted, err
			}

			c.logic(v&imm, size)

			return c.retire(x, pickRM(x, costImm, costALURM))
		case 2:
			err := c.rmw(x, size, func(v uint32) (uint32, bool) { return ^v & mask(size), true })
			if err != nil {
				return Faulted, err
			}

			return c.retire(x, pickRM(x, costRR, costALUMR))
		case 3:
			err := c.rmw(x, size, func(v uint32) (uint32, bool) {
				r := c.sub(0, v, 0, size)
				c.setFlag(x86.EFLAGSxCF, v&mask(size) != 0)

				return r, true
			})
			if err != nil {
				return Faulted, err
			}

			return c.retire(x, pickRM(x, costRR, costALUMR))
		}

		v, err := c.readRM(x, size)
		if err != nil {
			return Faulted, err
		}

		switch x.modrm.Reg {
		case 4:
			c.mul(v, size, false)
		case 5:
			c.mul(v, size, true)
		case 6:
			err = c.div(v, size, false)
		default:
			err = c.div(v, size, true)
		}

		if err != nil {
			return Faulted, err
		}

		if x.modrm.Reg >= 6 {
			return c.retire(x, costDiv)
		}

		return c.retire(x, costMul)
	}
}

// accPair returns the double width accumulator DX:AX (or AH:AL, EDX:EAX).
func (c *CPU) accPair(size int) uint64 {
	if size == 1 {
		return uint64(c.regs.Get16(x86.EAX))
	}

	return uint64(c.regs.Get(size, x86.EDX))<<(uint(size)*8) | uint64(c.regs.Get(size, x86.EAX))
}

func (c *CPU) setAccPair(size int, v uint64) {
	if size == 1 {
		c.regs.Set16(x86.EAX, uint16(v))

		return
	}

	c.regs.Set(size, x86.EAX, uint32(v))
	c.regs.Set(size, x86.EDX, uint32(v>>(uint(size)*8)))
}

func (c *CPU) mul(v uint32, size int, signed bool) {
	a := c.regs.Get(size, x86.EAX)
	width := uint(size) * 8

	var r uint64

	var overflow bool

	if signed {
		p := int64(int32(signExtend(a, size))) * int64(int32(signExtend(v, size)))
		r = uint64(p)
		overflow = p != int64(int32(signExtend(uint32(p)&mask(size), size)))
	} else {
		r = uint64(a) * uint64(v)
		overflow = r>>width != 0
	}

	c.setAccPair(size, r)
	c.setFlag(x86.EFLAGSxCF, overflow)
	c.setFlag(x86.EFLAGSxOF, overflow)
}

func (c *CPU) div(v uint32, size int, signed bool) error {
	if v&mask(size) == 0 {
		return x86.Exception(x86.VectorDE)
	}

	n := c.accPair(size)
	width := uint(size) * 8

	if !signed {
		q, rem := n/uint64(v), n%uint64(v)
		if q>>width != 0 {
			return x86.Exception(x86.VectorDE)
		}

		c.setDivResult(size, uint32(q), uint32(rem))

		return nil
	}

	// sign extend the dividend from twice the operand width
	sn := int64(n<<(64-2*width)) >> (64 - 2*width)
	d := int64(int32(signExtend(v, size)))
	q, rem := sn/d, sn%d

	limit := int64(1) << (width - 1)
	if q >= limit || q < -limit {
		return x86.Exception(x86.VectorDE)
	}

	c.setDivResult(size, uint32(q), uint32(rem))

	return nil
}

func (c *CPU) setDivResult(size int, q, rem uint32) {
	if size == 1 {
		c.regs.Set8(0, uint8(q))
		c.regs.Set8(4, uint8(rem))

		return
	}

	c.regs.Set(size, x86.EAX, q)
	c.regs.Set(size, x86.EDX, rem)
}

type shiftCount uint8

const (
	shiftOne shiftCount = iota
	shiftCL
	shiftImm
)

func group2(size int, count shiftCount) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		var n uint

		switch count {
		case shiftOne:
			n = 1
		case shiftCL:
			n = uint(c.regs.Get8(1))
		case shiftImm:
			b, err := c.fetch8(x)
			if err != nil {
				return Faulted, err
			}

			n = uint(b)
		}

		// the 8086 does not mask the count
		if c.model.Family != cpuid.F8086 {
			n &= 0x1f
		}

		err := c.rmw(x, size, func(v uint32) (uint32, bool) {
			return c.shift(x.modrm.Reg, v, n, size), n != 0
		})
		if err != nil {
			return Faulted, err
		}

		return c.retire(x, costShift)
	}
}

type bitAction uint8

const (
	btTest bitAction = iota
	btSet
	btReset
	btComplement
)

// bitOp is BT, BTS, BTR and BTC with a register bit offset. A memory
// operand is addressed relative to the bit offset, which may lie outside
// the operand.
func bitOp(act bitAction) func(size int) handler {
	return func(size int) handler {
		return func(c *CPU, x *Context) (Result, error) {
			if err := c.decodeModRM(x); err != nil {
				return Faulted, err
			}

			bit := c.readReg(x, size)

			return c.bitApply(x, size, act, bit, true)
		}
	}
}

// bitGroup is 0F BA: BT, BTS, BTR and BTC with an immediate offset.
func bitGroup(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		if x.modrm.Reg < 4 {
			return Faulted, x86.GP(0)
		}

		b, err := c.fetch8(x)
		if err != nil {
			return Faulted, err
		}

		return c.bitApply(x, size, bitAction(x.modrm.Reg-4), uint32(b), false)
	}
}

func (c *CPU) bitApply(x *Context, size int, act bitAction, bit uint32, wide bool) (Result, error) {
	width := uint32(size) * 8

	var v uint32

	var err error

	seg, off := x.modrm.seg, uint32(0)

	switch {
	case !x.modrm.Mem():
		v = c.regs.Get(size, int(x.modrm.RM))
	case wide:
		// signed bit offset selects the operand relative to the address
		s := int32(signExtend(bit, size))
		off = c.offset(x) + uint32((s>>5)*4)
		if size == 2 {
			off = c.offset(x) + uint32((s>>4)*2)
		}

		if !x.modrm.addr32 {
			off &= 0xffff
		}

		v, err = c.read(x, seg, off, size)
	default:
		off = c.offset(x)
		v, err = c.read(x, seg, off, size)
	}

	if err != nil {
		return Faulted, err
	}

	m := uint32(1) << (bit % width)
	c.setFlag(x86.EFLAGSxCF, v&m != 0)

	switch act {
	case btTest:
		return c.retire(x, costBit)
	case btSet:
		v |= m
	case btReset:
		v &^= m
	case btComplement:
		v ^= m
	}

	if !x.modrm.Mem() {
		c.regs.Set(size, int(x.modrm.RM), v)
	} else if err := c.write(x, seg, off, size, v); err != nil {
		return Faulted, err
	}

	return c.retire(x, costBit)
}

func setcc(n uint8) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		var v uint32
		if c.cond(n) {
			v = 1
		}

		if err := c.writeRM(x, 1, v); err != nil {
			return Faulted, err
		}

		return c.retire(x, pickRM(x, costRR, costStore))
	}
}

func xadd(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		src := c.readReg(x, size)

		old, err := c.readRM(x, size)
		if err != nil {
			return Faulted, err
		}

		if err := c.writeRM(x, size, c.add(old, src, 0, size)); err != nil {
			return Faulted, err
		}

		// with both operands naming one register the sum stays
		if x.modrm.Mem() || x.modrm.RM != x.modrm.Reg {
			c.writeReg(x, size, old)
		}

		return c.retire(x, costXadd)
	}
}

func cmpxchg(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		acc := c.regs.Get(size, x86.EAX)

		v, err := c.readRM(x, size)
		if err != nil {
			return Faulted, err
		}

		c.sub(acc, v, 0, size)

		if c.flag(x86.EFLAGSxZF) {
			err = c.writeRM(x, size, c.readReg(x, size))
		} else {
			// the destination is written back either way
			err = c.writeRM(x, size, v)
			if err == nil {
				c.regs.Set(size, x86.EAX, v)
			}
		}

		if err != nil {
			return Faulted, err
		}

		return c.retire(x, costXadd)
	}
}

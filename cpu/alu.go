package cpu

import (
	"math/bits"

	"github.com/bobuhiro11/gox86/x86"
)

// ALU operations in the order of the opcode and group /reg encodings.
const (
	aluADD = iota
	aluOR
	aluADC
	aluSBB
	aluAND
	aluSUB
	aluXOR
	aluCMP
)

func mask(size int) uint32 {
	switch size {
	case 1:
		return 0xff
	case 2:
		return 0xffff
	}

	return 0xffffffff
}

func signBit(size int) uint32 {
	return 1 << (uint(size)*8 - 1)
}

func (c *CPU) flag(f uint32) bool {
	return c.regs.EFLAGS&f != 0
}

func (c *CPU) setFlag(f uint32, on bool) {
	if on {
		c.regs.EFLAGS |= f
	} else {
		c.regs.EFLAGS &^= f
	}
}

// setSZP sets the sign, zero and parity flags from a result.
func (c *CPU) setSZP(r uint32, size int) {
	r &= mask(size)
	c.setFlag(x86.EFLAGSxZF, r == 0)
	c.setFlag(x86.EFLAGSxSF, r&signBit(size) != 0)
	c.setFlag(x86.EFLAGSxPF, bits.OnesCount8(uint8(r))%2 == 0)
}

func (c *CPU) add(a, b, carry uint32, size int) uint32 {
	m := mask(size)
	wide := uint64(a&m) + uint64(b&m) + uint64(carry)
	r := uint32(wide) & m

	c.setFlag(x86.EFLAGSxCF, wide > uint64(m))
	c.setFlag(x86.EFLAGSxOF, (a^r)&(b^r)&signBit(size) != 0)
	c.setFlag(x86.EFLAGSxAF, (a^b^r)&0x10 != 0)
	c.setSZP(r, size)

	return r
}

func (c *CPU) sub(a, b, borrow uint32, size int) uint32 {
	m := mask(size)
	r := (a - b - borrow) & m

	c.setFlag(x86.EFLAGSxCF, uint64(a&m) < uint64(b&m)+uint64(borrow))
	c.setFlag(x86.EFLAGSxOF, (a^b)&(a^r)&signBit(size) != 0)
	c.setFlag(x86.EFLAGSxAF, (a^b^r)&0x10 != 0)
	c.setSZP(r, size)

	return r
}

func (c *CPU) logic(r uint32, size int) uint32 {
	r &= mask(size)
	c.regs.EFLAGS &^= x86.EFLAGSxCF | x86.EFLAGSxOF | x86.EFLAGSxAF
	c.setSZP(r, size)

	return r
}

func (c *CPU) carry() uint32 {
	if c.flag(x86.EFLAGSxCF) {
		return 1
	}

	return 0
}

// alu applies one of the eight group 1 operations and sets the flags.
func (c *CPU) alu(op int, a, b uint32, size int) uint32 {
	switch op {
	case aluADD:
		return c.add(a, b, 0, size)
	case aluOR:
		return c.logic(a|b, size)
	case aluADC:
		return c.add(a, b, c.carry(), size)
	case aluSBB:
		return c.sub(a, b, c.carry(), size)
	case aluAND:
		return c.logic(a&b, size)
	case aluSUB, aluCMP:
		return c.sub(a, b, 0, size)
	}

	return c.logic(a^b, size)
}

// inc and dec leave CF alone.
func (c *CPU) inc(v uint32, size int) uint32 {
	cf := c.flag(x86.EFLAGSxCF)
	r := c.add(v, 1, 0, size)
	c.setFlag(x86.EFLAGSxCF, cf)

	return r
}

func (c *CPU) dec(v uint32, size int) uint32 {
	cf := c.flag(x86.EFLAGSxCF)
	r := c.sub(v, 1, 0, size)
	c.setFlag(x86.EFLAGSxCF, cf)

	return r
}

// cond evaluates condition code n of Jcc, SETcc and friends.
func (c *CPU) cond(n uint8) bool {
	var r bool

	switch n >> 1 {
	case 0:
		r = c.flag(x86.EFLAGSxOF)
	case 1:
		r = c.flag(x86.EFLAGSxCF)
	case 2:
		r = c.flag(x86.EFLAGSxZF)
	case 3:
		r = c.flag(x86.EFLAGSxCF) || c.flag(x86.EFLAGSxZF)
	case 4:
		r = c.flag(x86.EFLAGSxSF)
	case 5:
		r = c.flag(x86.EFLAGSxPF)
	case 6:
		r = c.flag(x86.EFLAGSxSF) != c.flag(x86.EFLAGSxOF)
	case 7:
		r = c.flag(x86.EFLAGSxZF) || c.flag(x86.EFLAGSxSF) != c.flag(x86.EFLAGSxOF)
	}

	if n&1 != 0 {
		return !r
	}

	return r
}

// shift applies a group 2 rotate or shift. count is already masked.
func (c *CPU) shift(op uint8, v uint32, count uint, size int) uint32 {
	if count == 0 {
		return v
	}

	m := mask(size)
	width := uint(size) * 8
	v &= m

	var r uint32

	switch op {
	case 0: // ROL
		n := count % width
		r = (v<<n | v>>(width-n)) & m
		c.setFlag(x86.EFLAGSxCF, r&1 != 0)
		c.setFlag(x86.EFLAGSxOF, (r&signBit(size) != 0) != (r&1 != 0))

		return r
	case 1: // ROR
		n := count % width
		r = (v>>n | v<<(width-n)) & m
		c.setFlag(x86.EFLAGSxCF, r&signBit(size) != 0)
		c.setFlag(x86.EFLAGSxOF, (r^r<<1)&signBit(size) != 0)

		return r
	case 2, 3: // RCL, RCR
		r = v
		for i := uint(0); i < count%(width+1); i++ {
			cf := c.carry()
			if op == 2 {
				c.setFlag(x86.EFLAGSxCF, r&signBit(size) != 0)
				r = (r<<1 | cf) & m
			} else {
				c.setFlag(x86.EFLAGSxCF, r&1 != 0)
				r = r>>1 | cf<<(width-1)
			}
		}

		c.setFlag(x86.EFLAGSxOF, (r^r<<1)&signBit(size) != 0)

		return r
	case 4, 6: // SHL, SAL
		wide := uint64(v) << count
		r = uint32(wide) & m
		c.setFlag(x86.EFLAGSxCF, wide>>width&1 != 0)
		c.setFlag(x86.EFLAGSxOF, (r&signBit(size) != 0) != c.flag(x86.EFLAGSxCF))
	case 5: // SHR
		r = uint32(uint64(v) >> count)
		c.setFlag(x86.EFLAGSxCF, uint64(v)>>(count-1)&1 != 0)
		c.setFlag(x86.EFLAGSxOF, v&signBit(size) != 0)
	case 7: // SAR
		s := int64(int32(v<<(32-width))) >> (32 - width)
		r = uint32(s>>count) & m
		c.setFlag(x86.EFLAGSxCF, s>>(count-1)&1 != 0)
		c.setFlag(x86.EFLAGSxOF, false)
	}

	c.setSZP(r, size)

	return r
}

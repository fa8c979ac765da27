package cpu

import "github.com/bobuhiro11/gox86/x86"

// ModRM is a decoded addressing form. The offset is not computed at decode
// time: it is evaluated against the registers when the operand is used, so
// POP r/m sees the incremented stack pointer.
type ModRM struct {
	Mod, Reg, RM uint8

	base  int
	index int
	scale uint8
	disp  uint32
	seg   x86.SegReg

	// raw and sib feed the timing model; -1 when absent.
	raw    int
	sib    int
	addr32 bool
}

// Mem reports a memory operand.
func (m *ModRM) Mem() bool {
	return m.Mod != 3
}

type form16 struct {
	base, index int
	stack       bool
}

//nolint:gochecknoglobals
var forms16 = [8]form16{
	{x86.EBX, x86.ESI, false},
	{x86.EBX, x86.EDI, false},
	{x86.EBP, x86.ESI, true},
	{x86.EBP, x86.EDI, true},
	{x86.ESI, -1, false},
	{x86.EDI, -1, false},
	{x86.EBP, -1, true},
	{x86.EBX, -1, false},
}

// decodeModRM fetches the ModRM byte and any SIB and displacement bytes.
func (c *CPU) decodeModRM(x *Context) error {
	b, err := c.fetch8(x)
	if err != nil {
		return err
	}

	m := &x.modrm
	*m = ModRM{
		Mod: b >> 6, Reg: b >> 3 & 7, RM: b & 7,
		base: -1, index: -1, seg: x86.DS,
		raw: int(b), sib: -1, addr32: x.addr32,
	}

	if m.Mod == 3 {
		return nil
	}

	if x.addr32 {
		err = c.decode32(x, m)
	} else {
		err = c.decode16(x, m)
	}

	if err != nil {
		return err
	}

	if x.override {
		m.seg = x.seg
	}

	return nil
}

func (c *CPU) decode16(x *Context, m *ModRM) error {
	f := forms16[m.RM]
	m.base, m.index = f.base, f.index

	if f.stack {
		m.seg = x86.SS
	}

	var err error

	switch m.Mod {
	case 0:
		if m.RM == 6 {
			m.base = -1
			m.seg = x86.DS
			m.disp, err = c.fetchDisp(x, 2)
		}
	case 1:
		m.disp, err = c.fetchDisp(x, 1)
	case 2:
		m.disp, err = c.fetchDisp(x, 2)
	}

	return err
}

func (c *CPU) decode32(x *Context, m *ModRM) error {
	switch {
	case m.RM == 4:
		sib, err := c.fetch8(x)
		if err != nil {
			return err
		}

		x.dispLen++
		m.sib = int(sib)

		if idx := int(sib >> 3 & 7); idx != x86.ESP {
			m.index = idx
			m.scale = sib >> 6
		}

		if base := int(sib & 7); base != x86.EBP || m.Mod != 0 {
			m.base = base
		} else {
			d, err := c.fetchDisp(x, 4)
			if err != nil {
				return err
			}

			m.disp = d
		}
	case m.RM == 5 && m.Mod == 0:
		d, err := c.fetchDisp(x, 4)
		if err != nil {
			return err
		}

		m.disp = d
	default:
		m.base = int(m.RM)
	}

	if m.base == x86.ESP || m.base == x86.EBP {
		m.seg = x86.SS
	}

	var err error

	switch m.Mod {
	case 1:
		m.disp, err = c.fetchDisp(x, 1)
	case 2:
		m.disp, err = c.fetchDisp(x, 4)
	}

	return err
}

func (c *CPU) fetchDisp(x *Context, size int) (uint32, error) {
	v, err := c.fetchRel(x, size)
	if err != nil {
		return 0, err
	}

	x.dispLen += size

	return v, nil
}

// offset evaluates the decoded addressing form.
func (c *CPU) offset(x *Context) uint32 {
	m := &x.modrm
	off := m.disp

	if m.base >= 0 {
		off += c.regs.GPR[m.base]
	}

	if m.index >= 0 {
		off += c.regs.GPR[m.index] << m.scale
	}

	if !m.addr32 {
		off &= 0xffff
	}

	return off
}

// readRM reads the r/m operand.
func (c *CPU) readRM(x *Context, size int) (uint32, error) {
	if !x.modrm.Mem() {
		return c.regs.Get(size, int(x.modrm.RM)), nil
	}

	return c.read(x, x.modrm.seg, c.offset(x), size)
}

// writeRM writes the r/m operand.
func (c *CPU) writeRM(x *Context, size int, v uint32) error {
	if !x.modrm.Mem() {
		c.regs.Set(size, int(x.modrm.RM), v)

		return nil
	}

	return c.write(x, x.modrm.seg, c.offset(x), size, v)
}

func (c *CPU) readReg(x *Context, size int) uint32 {
	return c.regs.Get(size, int(x.modrm.Reg))
}

func (c *CPU) writeReg(x *Context, size int, v uint32) {
	c.regs.Set(size, int(x.modrm.Reg), v)
}

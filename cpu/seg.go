package cpu

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/gox86/x86"
)

var (
	errGate       = errors.New("control transfer through a gate")
	errOuterLevel = errors.New("control transfer to another privilege level")
	errTaskSwitch = errors.New("task switch")
)

// descriptor reads the raw descriptor named by sel from the GDT or the LDT
// and returns it with its linear address.
func (c *CPU) descriptor(sel uint16) (uint64, uint32, error) {
	off := uint32(sel & x86.SelectorIndex)
	code := sel & x86.SelectorNullMask

	var base, limit uint32

	if sel&x86.SelectorTI != 0 {
		ldt := &c.sregs.LDT
		if !ldt.Valid || ldt.Selector&x86.SelectorNullMask == 0 {
			return 0, 0, x86.GP(code)
		}

		base, limit = ldt.Base, ldt.Limit
	} else {
		base, limit = c.sregs.GDT.Base, uint32(c.sregs.GDT.Limit)
	}

	if off+7 > limit {
		return 0, 0, x86.GP(code)
	}

	addr := (base + off) & c.addrMask

	lo, err := c.bus.Mem.ReadL(addr)
	if err != nil {
		return 0, 0, err
	}

	hi, err := c.bus.Mem.ReadL(addr + 4)
	if err != nil {
		return 0, 0, err
	}

	return uint64(hi)<<32 | uint64(lo), addr, nil
}

// markAccessed sets the accessed bit of a descriptor in memory.
func (c *CPU) markAccessed(d *x86.Segment, addr uint32) error {
	if d.Access&x86.AccessAccessed != 0 {
		return nil
	}

	d.Access |= x86.AccessAccessed

	return c.bus.Mem.WriteB(addr+5, d.Access)
}

// loadSeg loads a data or stack segment register. The cache is replaced
// only when every check passed.
func (c *CPU) loadSeg(seg x86.SegReg, sel uint16) error {
	s := &c.sregs.Seg[seg]

	if !c.protected() || c.v86() {
		s.Real(sel, c.v86())

		return nil
	}

	code := sel & x86.SelectorNullMask

	if code == 0 {
		if seg == x86.SS {
			return x86.GP(0)
		}

		*s = x86.Segment{Selector: sel}

		return nil
	}

	raw, addr, err := c.descriptor(sel)
	if err != nil {
		return err
	}

	var d x86.Segment

	d.Load(sel, raw, c.model.Is386())

	cpl, rpl, dpl := c.CPL(), uint8(sel&x86.SelectorRPL), d.DPL()

	if seg == x86.SS {
		if rpl != cpl || dpl != cpl || !d.Writable() {
			return x86.GP(code)
		}

		if !d.Present() {
			return x86.StackFault(code)
		}
	} else {
		if d.System() || !d.Readable() {
			return x86.GP(code)
		}

		if !d.Conforming() && (rpl > dpl || cpl > dpl) {
			return x86.GP(code)
		}

		if !d.Present() {
			return x86.NP(code)
		}
	}

	if err := c.markAccessed(&d, addr); err != nil {
		return err
	}

	*s = d

	return nil
}

// loadCS loads the code segment for a same level far JMP, CALL or RET.
// Gates, task switches and privilege changes are not emulated.
func (c *CPU) loadCS(sel uint16, ret bool) error {
	s := &c.sregs.Seg[x86.CS]

	if !c.protected() || c.v86() {
		s.Real(sel, c.v86())

		return nil
	}

	code := sel & x86.SelectorNullMask
	if code == 0 {
		return x86.GP(0)
	}

	raw, addr, err := c.descriptor(sel)
	if err != nil {
		return err
	}

	var d x86.Segment

	d.Load(sel, raw, c.model.Is386())

	if d.System() {
		return fmt.Errorf("selector %#04x type %#x: %w", sel, d.Access&0x1f, errGate)
	}

	cpl, rpl, dpl := c.CPL(), uint8(sel&x86.SelectorRPL), d.DPL()

	switch {
	case !d.Code():
		return x86.GP(code)
	case ret && rpl < cpl:
		return x86.GP(code)
	case ret && rpl > cpl:
		return fmt.Errorf("return to level %d from %d: %w", rpl, cpl, errOuterLevel)
	case d.Conforming() && dpl > cpl:
		return x86.GP(code)
	case !d.Conforming() && (rpl > cpl || dpl != cpl):
		return x86.GP(code)
	case !d.Present():
		return x86.NP(code)
	}

	if err := c.markAccessed(&d, addr); err != nil {
		return err
	}

	d.Selector = code | uint16(cpl)
	*s = d

	return nil
}

// LoadSegment loads a segment register as a MOV or POP would.
func (c *CPU) LoadSegment(seg x86.SegReg, sel uint16) error {
	if seg == x86.CS {
		return c.loadCS(sel, false)
	}

	return c.loadSeg(seg, sel)
}

// loadSystem loads LDTR or TR from a system descriptor of the given types.
func (c *CPU) loadSystem(s *x86.Segment, sel uint16, types ...uint8) (uint32, error) {
	code := sel & x86.SelectorNullMask
	if sel&x86.SelectorTI != 0 {
		return 0, x86.GP(code)
	}

	raw, addr, err := c.descriptor(sel)
	if err != nil {
		return 0, err
	}

	var d x86.Segment

	d.Load(sel, raw, c.model.Is386())

	ok := false

	for _, t := range types {
		if d.System() && d.Access&0x0f == t {
			ok = true
		}
	}

	if !ok {
		return 0, x86.GP(code)
	}

	if !d.Present() {
		return 0, x86.NP(code)
	}

	*s = d

	return addr, nil
}

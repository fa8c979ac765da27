package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/x86"
)

type checks uint8

const (
	checkLimit checks = 1 << iota
	checkRights
)

// accessChecks lists the segment checks applied in each mode. The 8086
// has no descriptor caches and checks nothing.
//
//nolint:gochecknoglobals
var accessChecks = [...]checks{
	x86.Real:                checkLimit,
	x86.V86:                 checkLimit,
	x86.ProtectedUser:       checkLimit | checkRights,
	x86.ProtectedSupervisor: checkLimit | checkRights,
}

func (c *CPU) checks() checks {
	if c.model.Family == cpuid.F8086 {
		return 0
	}

	return accessChecks[c.Mode()]
}

func segFault(seg x86.SegReg) *x86.Fault {
	if seg == x86.SS {
		return x86.StackFault(0)
	}

	return x86.GP(0)
}

// linear validates an access of size bytes at seg:off and returns its
// linear address.
func (c *CPU) linear(seg x86.SegReg, off uint32, size int, write bool) (uint32, error) {
	s := &c.sregs.Seg[seg]
	ch := c.checks()

	if ch&checkRights != 0 {
		if !s.Valid {
			return 0, x86.GP(0)
		}

		if write && !s.Writable() || !write && !s.Readable() {
			return 0, segFault(seg)
		}
	}

	if ch&checkLimit != 0 {
		end := uint64(off) + uint64(size) - 1
		if off < s.LimitLow || end > uint64(s.LimitHigh) {
			return 0, segFault(seg)
		}
	}

	return (s.Base + off) & c.addrMask, nil
}

// codeAddr validates an instruction fetch at CS:eip. Fetches only check
// the limit.
func (c *CPU) codeAddr(eip uint32) (uint32, error) {
	cs := &c.sregs.Seg[x86.CS]

	if c.checks()&checkLimit != 0 && eip > cs.LimitHigh {
		return 0, x86.GP(0)
	}

	return (cs.Base + eip) & c.addrMask, nil
}

func (c *CPU) read(x *Context, seg x86.SegReg, off uint32, size int) (uint32, error) {
	addr, err := c.linear(seg, off, size, false)
	if err != nil {
		return 0, err
	}

	x.ea = addr

	return c.readLinear(x, addr, size)
}

func (c *CPU) write(x *Context, seg x86.SegReg, off uint32, size int, v uint32) error {
	addr, err := c.linear(seg, off, size, true)
	if err != nil {
		return err
	}

	x.ea = addr

	return c.writeLinear(x, addr, size, v)
}

func (c *CPU) readLinear(x *Context, addr uint32, size int) (uint32, error) {
	switch size {
	case 1:
		x.reads++
		v, err := c.bus.Mem.ReadB(addr)

		return uint32(v), err
	case 2:
		x.reads++
		v, err := c.bus.Mem.ReadW(addr)

		return uint32(v), err
	}

	x.readsL++

	return c.bus.Mem.ReadL(addr)
}

func (c *CPU) writeLinear(x *Context, addr uint32, size int, v uint32) error {
	switch size {
	case 1:
		x.writes++

		return c.bus.Mem.WriteB(addr, uint8(v))
	case 2:
		x.writes++

		return c.bus.Mem.WriteW(addr, uint16(v))
	}

	x.writesL++

	return c.bus.Mem.WriteL(addr, v)
}

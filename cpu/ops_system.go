package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/x86"
)

func registerSystem(t *Table) {
	t.all(0xf4, hlt)
	t.all(0xfa, cli)
	t.all(0xfb, sti)
	t.all(0xfc, flagOp(x86.EFLAGSxDF, false))
	t.all(0xfd, flagOp(x86.EFLAGSxDF, true))
	t.all(0xf8, flagOp(x86.EFLAGSxCF, false))
	t.all(0xf9, flagOp(x86.EFLAGSxCF, true))
	t.all(0xf5, cmc)
	t.all(0x9b, nop)
	t.sized(0x9c, pushf)
	t.sized(0x9d, popf)

	if !t.at(cpuid.F286) {
		return
	}

	t.sized(0x101, group7)
	t.all(0x100, group6)
	t.all(0x106, clts)

	if t.at(cpuid.F386) {
		t.all(0x120, movFromCR)
		t.all(0x122, movToCR)
	}

	if t.at(cpuid.F586) {
		t.all(0x1a2, cpuidOp)
		t.all(0x131, rdtsc)
		t.all(0x132, rdmsr)
		t.all(0x130, wrmsr)
		t.all(0x134, sysenter)
		t.all(0x135, sysexit)
		t.all(0x105, syscall)
		t.all(0x107, sysret)
	}
}

// privileged reports whether CPL 0 instructions may run.
func (c *CPU) privileged() bool {
	return !c.protected() || (!c.v86() && c.CPL() == 0)
}

// ioAllowed reports whether CLI, STI and port I/O are allowed without a
// fault. There is no TSS, so virtual-8086 code needs IOPL 3.
func (c *CPU) ioAllowed() bool {
	switch {
	case !c.protected():
		return true
	case c.v86():
		return c.iopl() == 3
	}

	return c.CPL() <= c.iopl()
}

func hlt(c *CPU, x *Context) (Result, error) {
	if !c.privileged() {
		return Faulted, x86.GP(0)
	}

	c.halted = true

	if _, err := c.retire(x, costHlt); err != nil {
		return Faulted, err
	}

	return Halted, nil
}

func cli(c *CPU, x *Context) (Result, error) {
	if !c.ioAllowed() {
		return Faulted, x86.GP(0)
	}

	c.setFlag(x86.EFLAGSxIF, false)

	return c.retire(x, costCli)
}

// sti enables interrupts after the next instruction.
func sti(c *CPU, x *Context) (Result, error) {
	if !c.ioAllowed() {
		return Faulted, x86.GP(0)
	}

	if !c.flag(x86.EFLAGSxIF) {
		c.shadow = true
	}

	c.setFlag(x86.EFLAGSxIF, true)

	return c.retire(x, costCli)
}

func flagOp(f uint32, on bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		c.setFlag(f, on)

		return c.retire(x, costFlag)
	}
}

func cmc(c *CPU, x *Context) (Result, error) {
	c.regs.EFLAGS ^= x86.EFLAGSxCF

	return c.retire(x, costFlag)
}

// writeFlags stores a FLAGS image the way POPF and IRET do: IOPL only
// changes at CPL 0 and IF only when CPL <= IOPL. VM and RF are never
// written.
func (c *CPU) writeFlags(v uint32, size int) {
	writable := uint32(x86.EFLAGSxArith | x86.EFLAGSxTF | x86.EFLAGSxDF | x86.EFLAGSxNT)

	switch {
	case !c.protected():
		writable |= x86.EFLAGSxIF | x86.EFLAGSxIOPL
	case c.v86():
		writable |= x86.EFLAGSxIF
	case c.CPL() == 0:
		writable |= x86.EFLAGSxIF | x86.EFLAGSxIOPL
	case c.CPL() <= c.iopl():
		writable |= x86.EFLAGSxIF
	}

	switch c.model.Family {
	case cpuid.F8086:
		writable &^= x86.EFLAGSxIOPL | x86.EFLAGSxNT
	case cpuid.F286, cpuid.F386:
	case cpuid.F486:
		writable |= x86.EFLAGSxAC
	default:
		writable |= x86.EFLAGSxAC | x86.EFLAGSxID
	}

	if size == 2 {
		writable &= 0xffff
	}

	c.regs.EFLAGS = c.regs.EFLAGS&^writable | v&writable | x86.EFLAGSxFixed
}

func pushf(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if c.v86() && c.iopl() < 3 {
			return Faulted, x86.GP(0)
		}

		v := c.regs.EFLAGS &^ (x86.EFLAGSxVM | x86.EFLAGSxRF)
		if c.model.Family == cpuid.F8086 {
			v |= 0xf000
		}

		if err := c.pushSized(x, size, v); err != nil {
			return Faulted, err
		}

		return c.retire(x, costPushF)
	}
}

func popf(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if c.v86() && c.iopl() < 3 {
			return Faulted, x86.GP(0)
		}

		v, err := c.popSized(x, size)
		if err != nil {
			return Faulted, err
		}

		c.writeFlags(v, size)

		return c.retire(x, costPopF)
	}
}

func clts(c *CPU, x *Context) (Result, error) {
	if !c.privileged() {
		return Faulted, x86.GP(0)
	}

	c.sregs.CR0 &^= x86.CR0xTS

	return c.retire(x, costFlag)
}

// group6 is SLDT, STR, LLDT and LTR.
func group6(c *CPU, x *Context) (Result, error) {
	if err := c.decodeModRM(x); err != nil {
		return Faulted, err
	}

	if !c.protected() || c.v86() {
		return Faulted, x86.GP(0)
	}

	switch x.modrm.Reg {
	case 0:
		if err := c.writeRM(x, 2, uint32(c.sregs.LDT.Selector)); err != nil {
			return Faulted, err
		}
	case 1:
		if err := c.writeRM(x, 2, uint32(c.sregs.TR.Selector)); err != nil {
			return Faulted, err
		}
	case 2, 3:
		if c.CPL() != 0 {
			return Faulted, x86.GP(0)
		}

		v, err := c.readRM(x, 2)
		if err != nil {
			return Faulted, err
		}

		if x.modrm.Reg == 2 {
			err = c.lldt(uint16(v))
		} else {
			err = c.ltr(uint16(v))
		}

		if err != nil {
			return Faulted, err
		}
	default:
		return Faulted, x86.GP(0)
	}

	return c.retire(x, costDesc)
}

func (c *CPU) lldt(sel uint16) error {
	if sel&x86.SelectorNullMask == 0 {
		c.sregs.LDT = x86.Segment{Selector: sel}

		return nil
	}

	_, err := c.loadSystem(&c.sregs.LDT, sel, 0x2)

	return err
}

// ltr loads the task register and marks the TSS busy.
func (c *CPU) ltr(sel uint16) error {
	if sel&x86.SelectorNullMask == 0 {
		return x86.GP(0)
	}

	var tr x86.Segment

	addr, err := c.loadSystem(&tr, sel, 0x1, 0x9)
	if err != nil {
		return err
	}

	tr.Access |= 0x2
	if err := c.bus.Mem.WriteB(addr+5, tr.Access); err != nil {
		return err
	}

	c.sregs.TR = tr

	return nil
}

// group7 is SGDT, SIDT, LGDT, LIDT, SMSW and LMSW.
func group7(size int) handler {
	return func(c *CPU, x *Context) (Result, error) {
		if err := c.decodeModRM(x); err != nil {
			return Faulted, err
		}

		var err error

		switch x.modrm.Reg {
		case 0:
			err = c.storeTable(x, &c.sregs.GDT)
		case 1:
			err = c.storeTable(x, &c.sregs.IDT)
		case 2:
			err = c.loadTable(x, &c.sregs.GDT, size)
		case 3:
			err = c.loadTable(x, &c.sregs.IDT, size)
		case 4:
			width := 2
			if !x.modrm.Mem() {
				width = size
			}

			err = c.writeRM(x, width, c.sregs.CR0)
		case 6:
			err = c.lmsw(x)
		default:
			err = x86.GP(0)
		}

		if err != nil {
			return Faulted, err
		}

		return c.retire(x, costDesc)
	}
}

func (c *CPU) storeTable(x *Context, d *x86.Descriptor) error {
	if !x.modrm.Mem() {
		return x86.GP(0)
	}

	base := d.Base
	if !c.model.Is386() {
		base |= 0xff000000
	}

	off := c.offset(x)

	if err := c.write(x, x.modrm.seg, off, 2, uint32(d.Limit)); err != nil {
		return err
	}

	return c.write(x, x.modrm.seg, off+2, 4, base)
}

func (c *CPU) loadTable(x *Context, d *x86.Descriptor, size int) error {
	if !x.modrm.Mem() || !c.privileged() {
		return x86.GP(0)
	}

	off := c.offset(x)

	limit, err := c.read(x, x.modrm.seg, off, 2)
	if err != nil {
		return err
	}

	base, err := c.read(x, x.modrm.seg, off+2, 4)
	if err != nil {
		return err
	}

	if size == 2 {
		base &= 0x00ffffff
	}

	*d = x86.Descriptor{Base: base, Limit: uint16(limit)}

	return nil
}

// lmsw writes the low four bits of CR0. It can set PE but not clear it.
func (c *CPU) lmsw(x *Context) error {
	if !c.privileged() {
		return x86.GP(0)
	}

	v, err := c.readRM(x, 2)
	if err != nil {
		return err
	}

	pe := c.sregs.CR0 & x86.CR0xPE
	c.sregs.CR0 = c.sregs.CR0&^0xf | v&0xf | pe
	c.clock.Flush()

	return nil
}

func movFromCR(c *CPU, x *Context) (Result, error) {
	if err := c.decodeModRM(x); err != nil {
		return Faulted, err
	}

	if !c.privileged() {
		return Faulted, x86.GP(0)
	}

	var v uint32

	switch x.modrm.Reg {
	case 0:
		v = c.sregs.CR0
	case 2:
		v = c.sregs.CR2
	case 3:
		v = c.sregs.CR3
	case 4:
		if c.model.Family < cpuid.F586 {
			return Faulted, x86.GP(0)
		}

		v = c.sregs.CR4
	default:
		return Faulted, x86.GP(0)
	}

	c.regs.Set32(int(x.modrm.RM), v)

	return c.retire(x, costCR)
}

func movToCR(c *CPU, x *Context) (Result, error) {
	if err := c.decodeModRM(x); err != nil {
		return Faulted, err
	}

	if !c.privileged() {
		return Faulted, x86.GP(0)
	}

	v := c.regs.Get32(int(x.modrm.RM))

	switch x.modrm.Reg {
	case 0:
		if v&x86.CR0xPG != 0 && v&x86.CR0xPE == 0 {
			return Faulted, x86.GP(0)
		}

		c.sregs.CR0 = v | x86.CR0xET
	case 2:
		c.sregs.CR2 = v
	case 3:
		c.sregs.CR3 = v
	case 4:
		if c.model.Family < cpuid.F586 {
			return Faulted, x86.GP(0)
		}

		c.sregs.CR4 = v
	default:
		return Faulted, x86.GP(0)
	}

	return c.branch(x, costCR)
}

func cpuidOp(c *CPU, x *Context) (Result, error) {
	eax, ebx, ecx, edx := cpuid.Leaf(c.model, c.regs.GPR[x86.EAX])
	c.regs.GPR[x86.EAX] = eax
	c.regs.GPR[x86.EBX] = ebx
	c.regs.GPR[x86.ECX] = ecx
	c.regs.GPR[x86.EDX] = edx

	return c.retire(x, costCPUID)
}

// tsc is the time stamp counter: the cycle counter plus the offset set
// by writing the TSC MSR.
func (c *CPU) tsc() uint64 {
	return c.clock.Cycles() + c.msrs.TSC
}

func rdtsc(c *CPU, x *Context) (Result, error) {
	if !c.model.Has(cpuid.TSC) {
		return Faulted, x86.GP(0)
	}

	v := c.tsc()
	c.regs.GPR[x86.EAX] = uint32(v)
	c.regs.GPR[x86.EDX] = uint32(v >> 32)

	return c.retire(x, costRdtsc)
}

func rdmsr(c *CPU, x *Context) (Result, error) {
	if !c.model.Has(cpuid.MSR) || !c.privileged() {
		return Faulted, x86.GP(0)
	}

	index := c.regs.GPR[x86.ECX]

	v, ok := c.msrs.Read(index)
	if !ok {
		return Faulted, x86.GP(0)
	}

	if index == x86.MSRTSC {
		v = c.tsc()
	}

	c.regs.GPR[x86.EAX] = uint32(v)
	c.regs.GPR[x86.EDX] = uint32(v >> 32)

	return c.retire(x, costMSR)
}

func wrmsr(c *CPU, x *Context) (Result, error) {
	if !c.model.Has(cpuid.MSR) || !c.privileged() {
		return Faulted, x86.GP(0)
	}

	index := c.regs.GPR[x86.ECX]
	v := uint64(c.regs.GPR[x86.EDX])<<32 | uint64(c.regs.GPR[x86.EAX])

	if index == x86.MSRTSC {
		v -= c.clock.Cycles()
	}

	if !c.msrs.Write(index, v) {
		return Faulted, x86.GP(0)
	}

	return c.retire(x, costMSR)
}

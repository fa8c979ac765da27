package cpu

import (
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/timing"
	"github.com/bobuhiro11/gox86/x86"
)

// Transition is one of the fast system call instructions.
type Transition uint8

const (
	Sysenter Transition = iota
	Sysexit
	Syscall
	Sysret
)

func (t Transition) String() string {
	switch t {
	case Sysenter:
		return "sysenter"
	case Sysexit:
		return "sysexit"
	case Syscall:
		return "syscall"
	case Sysret:
		return "sysret"
	}

	return "unknown"
}

// FlagUpdate is the EFLAGS change made by a transition.
type FlagUpdate struct {
	Clear uint32
	Set   uint32
}

// TransitionFlags lists the EFLAGS updates of each transition. Entries
// mask interrupts and leave virtual-8086 mode; SYSRET enables interrupts
// again; SYSEXIT leaves EFLAGS alone.
//
//nolint:gochecknoglobals
var TransitionFlags = map[Transition]FlagUpdate{
	Sysenter: {Clear: x86.EFLAGSxVM | x86.EFLAGSxIF | x86.EFLAGSxRF},
	Sysexit:  {},
	Syscall:  {Clear: x86.EFLAGSxVM | x86.EFLAGSxIF | x86.EFLAGSxRF},
	Sysret:   {Set: x86.EFLAGSxIF},
}

const (
	flatCode     = x86.AccessPresent | x86.AccessNonSystem | x86.AccessCode | x86.AccessRW | x86.AccessAccessed
	flatData     = x86.AccessPresent | x86.AccessNonSystem | x86.AccessRW | x86.AccessAccessed
	flatUserCode = flatCode | x86.AccessDPL
	flatUserData = flatData | x86.AccessDPL
)

//nolint:gochecknoglobals
var costFast = timing.Cost{0, 0, 0, 0, 27, 9}

// enterFlat switches to the synthesized flat code and stack segments.
// No descriptor table is read.
func (c *CPU) enterFlat(t Transition, cs, ss uint16, codeAccess, dataAccess uint8) {
	u := TransitionFlags[t]
	c.regs.EFLAGS = c.regs.EFLAGS&^u.Clear | u.Set

	c.sregs.Seg[x86.CS].Flatten(cs, codeAccess)
	c.sregs.Seg[x86.SS].Flatten(ss, dataAccess)
}

func sysenter(c *CPU, x *Context) (Result, error) {
	if !c.model.Has(cpuid.SEP) || !c.protected() {
		return Faulted, x86.GP(0)
	}

	sel := uint16(c.msrs.SysenterCS)
	if sel&x86.SelectorIndex == 0 {
		return Faulted, x86.GP(0)
	}

	c.enterFlat(Sysenter, sel&x86.SelectorNullMask, (sel+8)&x86.SelectorNullMask, flatCode, flatData)
	c.regs.GPR[x86.ESP] = c.msrs.SysenterESP
	c.regs.EIP = c.msrs.SysenterEIP

	return c.branch(x, costFast)
}

func sysexit(c *CPU, x *Context) (Result, error) {
	if !c.model.Has(cpuid.SEP) {
		return Faulted, x86.GP(0)
	}

	sel := uint16(c.msrs.SysenterCS)

	switch {
	case sel&x86.SelectorIndex == 0, !c.protected(), c.CPL() != 0:
		return Faulted, x86.GP(0)
	}

	c.enterFlat(Sysexit, (sel+16)&x86.SelectorNullMask|3, (sel+24)&x86.SelectorNullMask|3, flatUserCode, flatUserData)
	c.regs.GPR[x86.ESP] = c.regs.GPR[x86.ECX]
	c.regs.EIP = c.regs.GPR[x86.EDX]

	return c.branch(x, costFast)
}

func syscall(c *CPU, x *Context) (Result, error) {
	if !c.model.HasExt(cpuid.SYSCALL) || !c.protected() {
		return Faulted, x86.GP(0)
	}

	sel := c.msrs.SyscallSelector()
	if sel&x86.SelectorIndex == 0 {
		return Faulted, x86.GP(0)
	}

	c.regs.GPR[x86.ECX] = c.regs.EIP
	c.enterFlat(Syscall, sel&x86.SelectorNullMask, (sel+8)&x86.SelectorNullMask, flatCode, flatData)
	c.regs.EIP = c.msrs.SyscallEIP()

	return c.branch(x, costFast)
}

func sysret(c *CPU, x *Context) (Result, error) {
	if !c.model.HasExt(cpuid.SYSCALL) {
		return Faulted, x86.GP(0)
	}

	sel := c.msrs.SysretSelector()

	switch {
	case !c.protected(), sel&x86.SelectorIndex == 0, c.CPL() != 0:
		return Faulted, x86.GP(0)
	}

	c.enterFlat(Sysret, sel&x86.SelectorNullMask|3, (sel+8)&x86.SelectorNullMask|3, flatUserCode, flatUserData)
	c.regs.EIP = c.regs.GPR[x86.ECX]

	// the instruction after SYSRET always executes before an interrupt
	c.shadow = true

	return c.branch(x, costFast)
}

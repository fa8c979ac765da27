package cpu

import (
	"github.com/bobuhiro11/gox86/timing"
	"github.com/bobuhiro11/gox86/x86"
)

// RepMode is the repeat prefix state of an instruction.
type RepMode uint8

const (
	RepNone RepMode = iota
	// RepE is the F3 prefix: REP, or REPE for compares.
	RepE
	// RepNE is the F2 prefix.
	RepNE
)

// Context is the decode state of one instruction. It is created when the
// instruction starts and dropped when it retires or faults.
type Context struct {
	op32     bool
	addr32   bool
	seg      x86.SegReg
	override bool
	rep      RepMode
	lock     bool

	// inPair marks the instruction executed inline after a stack segment
	// load; a second load does not extend the pair.
	inPair bool
	// handled is set when a fault was already rolled back and delivered
	// by a nested instruction.
	handled bool

	length   int
	prefixes int
	dispLen  int

	modrm ModRM
	// ea is the linear address of the last memory operand.
	ea uint32

	reads, readsL, writes, writesL int

	eip    uint32
	eflags uint32
	cs     x86.Segment
	esp    uint32
	ebp    uint32
}

func (c *CPU) newContext() *Context {
	big := c.sregs.Seg[x86.CS].Big()

	return &Context{
		op32:   big,
		addr32: big,
		seg:    x86.DS,
		modrm:  ModRM{raw: timing.NoModRM, sib: -1},
		eip:    c.regs.EIP,
		eflags: c.regs.EFLAGS,
		cs:     c.sregs.Seg[x86.CS],
		esp:    c.regs.GPR[x86.ESP],
		ebp:    c.regs.GPR[x86.EBP],
	}
}

// rollback restores the state captured when the instruction started.
func (x *Context) rollback(c *CPU) {
	c.regs.EIP = x.eip
	c.regs.EFLAGS = x.eflags
	c.sregs.Seg[x86.CS] = x.cs
	c.regs.GPR[x86.ESP] = x.esp
	c.regs.GPR[x86.EBP] = x.ebp
}

// size is the operand size in bytes.
func (x *Context) size() int {
	if x.op32 {
		return 4
	}

	return 2
}

// dataSeg is the segment of implicit data operands.
func (x *Context) dataSeg() x86.SegReg {
	if x.override {
		return x.seg
	}

	return x86.DS
}

// retire charges the instruction against the timing model.
func (c *CPU) retire(x *Context, cost timing.Cost) (Result, error) {
	return c.retireCycles(x, c.clock.Pick(cost))
}

func (c *CPU) retireCycles(x *Context, cycles int) (Result, error) {
	c.clock.Run(timing.Run{
		Cycles:  cycles,
		Bytes:   x.length - x.prefixes - x.dispLen,
		ModRM:   x.modrm.raw,
		SIB:     x.modrm.sib,
		EA32:    x.modrm.addr32,
		Reads:   x.reads,
		ReadsL:  x.readsL,
		Writes:  x.writes,
		WritesL: x.writesL,
	})

	return Retired, nil
}

// branch retires a control transfer, which empties the prefetch queue.
func (c *CPU) branch(x *Context, cost timing.Cost) (Result, error) {
	res, err := c.retire(x, cost)
	c.clock.Flush()

	return res, err
}

// multi retires a multi element operation. Before the 486 each element
// adds its own cost; later generations charge the base cost only.
func (c *CPU) multi(x *Context, base, each timing.Cost, n int) (Result, error) {
	cycles := c.clock.Pick(base)
	if !c.clock.Fixed() {
		cycles += n * c.clock.Pick(each)
	}

	return c.retireCycles(x, cycles)
}

package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bobuhiro11/gox86/x86"
	"golang.org/x/arch/x86/x86asm"
)

// ErrBadRegister indicates a bad register was used.
var ErrBadRegister = errors.New("bad register")

// maxInstLen is the longest x86 instruction.
const maxInstLen = 15

// GetReg returns the value of a general purpose register named by x86asm.
func GetReg(r *x86.Regs, reg x86asm.Reg) (uint32, error) {
	switch {
	case reg >= x86asm.EAX && reg <= x86asm.EDI:
		return r.Get32(int(reg - x86asm.EAX)), nil
	case reg >= x86asm.AX && reg <= x86asm.DI:
		return uint32(r.Get16(int(reg - x86asm.AX))), nil
	case reg >= x86asm.AL && reg <= x86asm.BL:
		return uint32(r.Get8(int(reg - x86asm.AL))), nil
	case reg >= x86asm.AH && reg <= x86asm.BH:
		return uint32(r.Get8(int(reg-x86asm.AH) + 4)), nil
	}

	return 0, fmt.Errorf("%v: %w", reg, ErrBadRegister)
}

// segReg maps an x86asm segment register to ours.
func segReg(reg x86asm.Reg) (x86.SegReg, bool) {
	switch reg {
	case x86asm.ES:
		return x86.ES, true
	case x86asm.CS:
		return x86.CS, true
	case x86asm.SS:
		return x86.SS, true
	case x86asm.DS:
		return x86.DS, true
	case x86asm.FS:
		return x86.FS, true
	case x86asm.GS:
		return x86.GS, true
	}

	return 0, false
}

// Pointer returns the linear address of the memory operand args[arg].
func (m *Machine) Pointer(inst *x86asm.Inst, r *x86.Regs, s *x86.Sregs, arg int) (uint32, error) {
	if arg < 0 || arg >= len(inst.Args) || inst.Args[arg] == nil {
		return 0, fmt.Errorf("arg %d of %v: %w", arg, inst.Op, ErrBadRegister)
	}

	mem, ok := inst.Args[arg].(x86asm.Mem)
	if !ok {
		return 0, fmt.Errorf("arg %d of %v is %v, not memory: %w", arg, inst.Op, inst.Args[arg], ErrBadRegister)
	}

	// A Mem is Segment:[Base+Scale*Index+Disp].
	addr := uint32(mem.Disp)

	if mem.Base != 0 {
		b, err := GetReg(r, mem.Base)
		if err != nil {
			return 0, fmt.Errorf("base reg %v in %v: %w", mem.Base, mem, err)
		}

		addr += b
	}

	if mem.Index != 0 {
		x, err := GetReg(r, mem.Index)
		if err != nil {
			return 0, fmt.Errorf("index reg %v in %v: %w", mem.Index, mem, err)
		}

		addr += uint32(mem.Scale) * x
	}

	if inst.AddrSize == 16 {
		addr &= 0xffff
	}

	seg := x86.DS
	if mem.Base == x86asm.BP || mem.Base == x86asm.EBP || mem.Base == x86asm.ESP || mem.Base == x86asm.SP {
		seg = x86.SS
	}

	if sr, ok := segReg(mem.Segment); ok {
		seg = sr
	}

	return s.Seg[seg].Base + addr, nil
}

// Inst retrieves the instruction of CPU i at CS:EIP.
// It returns an x86asm.Inst, the registers, a string in GNU syntax, and
// an error.
func (m *Machine) Inst(i int) (*x86asm.Inst, *x86.Regs, string, error) {
	c, err := m.CPU(i)
	if err != nil {
		return nil, nil, "", fmt.Errorf("Inst: %w", err)
	}

	r, s := c.Regs(), c.Sregs()
	pc := s.Seg[x86.CS].Base + r.EIP

	insn := make([]byte, maxInstLen)
	if _, err := m.ReadBytes(i, insn, pc); err != nil {
		return nil, nil, "", fmt.Errorf("reading PC at %#x: %w", pc, err)
	}

	d, err := x86asm.Decode(insn, codeMode(&s))
	if err != nil {
		return nil, nil, "", fmt.Errorf("decoding % x: %w", insn, err)
	}

	return &d, &r, x86asm.GNUSyntax(d, uint64(r.EIP), nil), nil
}

// codeMode is the decoder mode of the current code segment.
func codeMode(s *x86.Sregs) int {
	if s.CR0&x86.CR0xPE != 0 && s.Seg[x86.CS].Big() {
		return 32
	}

	return 16
}

// CodeMode returns 16 or 32, the operand size of CPU i's code segment.
func (m *Machine) CodeMode(i int) (int, error) {
	c, err := m.CPU(i)
	if err != nil {
		return 0, err
	}

	s := c.Sregs()

	return codeMode(&s), nil
}

// Asm returns a string for the given instruction at the given pc.
func Asm(d *x86asm.Inst, pc uint64) string {
	return "\"" + x86asm.GNUSyntax(*d, pc, nil) + "\""
}

// Disasm decodes n instructions from linear address addr in the given
// mode (16 or 32). syntax is "gnu" or "intel". Undecodable bytes are
// shown as a one byte "(bad)".
func (m *Machine) Disasm(addr uint32, n, mode int, syntax string) ([]string, error) {
	lines := make([]string, 0, n)

	for ; n > 0; n-- {
		insn := make([]byte, maxInstLen)
		if _, err := m.mem.ReadAt(insn, int64(addr)); err != nil && !errors.Is(err, io.EOF) {
			return lines, err
		}

		text := "(bad)"
		size := 1

		if d, err := x86asm.Decode(insn, mode); err == nil {
			size = d.Len

			if syntax == "intel" {
				text = x86asm.IntelSyntax(d, uint64(addr), nil)
			} else {
				text = x86asm.GNUSyntax(d, uint64(addr), nil)
			}
		}

		lines = append(lines, fmt.Sprintf("%08x  %-30x %s", addr, insn[:size], text))
		addr += uint32(size)
	}

	return lines, nil
}

// WriteWord writes a dword into CPU i's linear address space.
func (m *Machine) WriteWord(i int, addr uint32, word uint32) error {
	if _, err := m.CPU(i); err != nil {
		return err
	}

	var b [4]byte

	binary.LittleEndian.PutUint32(b[:], word)
	_, err := m.mem.WriteAt(b[:], int64(addr))

	return err
}

// ReadBytes reads bytes from CPU i's linear address space. Paging is not
// emulated so linear addresses are physical.
func (m *Machine) ReadBytes(i int, b []byte, addr uint32) (int, error) {
	if _, err := m.CPU(i); err != nil {
		return -1, err
	}

	n, err := m.mem.ReadAt(b, int64(addr))
	if n > 0 {
		return n, nil
	}

	return n, err
}

// ReadWord reads a dword from CPU i's linear address space.
func (m *Machine) ReadWord(i int, addr uint32) (uint32, error) {
	var b [4]byte
	if _, err := m.ReadBytes(i, b[:], addr); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}

package x86

// General purpose register indices, in ModRM encoding order.
const (
	EAX = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

// Regs is the general purpose register file plus EIP and EFLAGS.
// Every register is addressable as an 8, 16 or 32-bit view.
type Regs struct {
	GPR    [8]uint32
	EIP    uint32
	EFLAGS uint32
}

// Get32 returns the full 32-bit register i.
func (r *Regs) Get32(i int) uint32 {
	return r.GPR[i&7]
}

// Set32 writes the full 32-bit register i.
func (r *Regs) Set32(i int, v uint32) {
	r.GPR[i&7] = v
}

// Get16 returns the low word of register i.
func (r *Regs) Get16(i int) uint16 {
	return uint16(r.GPR[i&7])
}

// Set16 writes the low word of register i and keeps the high word.
func (r *Regs) Set16(i int, v uint16) {
	r.GPR[i&7] = r.GPR[i&7]&0xffff0000 | uint32(v)
}

// Get8 uses the byte register encoding: 0-3 are AL, CL, DL, BL and
// 4-7 are AH, CH, DH, BH.
func (r *Regs) Get8(i int) uint8 {
	i &= 7
	if i < 4 {
		return uint8(r.GPR[i])
	}

	return uint8(r.GPR[i-4] >> 8)
}

// Set8 writes a byte register, see Get8 for the encoding.
func (r *Regs) Set8(i int, v uint8) {
	i &= 7
	if i < 4 {
		r.GPR[i] = r.GPR[i]&0xffffff00 | uint32(v)

		return
	}

	r.GPR[i-4] = r.GPR[i-4]&0xffff00ff | uint32(v)<<8
}

// Get returns register i truncated to size bytes (1, 2 or 4).
func (r *Regs) Get(size, i int) uint32 {
	switch size {
	case 1:
		return uint32(r.Get8(i))
	case 2:
		return uint32(r.Get16(i))
	default:
		return r.Get32(i)
	}
}

// Set writes the size byte view of register i.
func (r *Regs) Set(size, i int, v uint32) {
	switch size {
	case 1:
		r.Set8(i, uint8(v))
	case 2:
		r.Set16(i, uint16(v))
	default:
		r.Set32(i, v)
	}
}

// Sregs holds the segment registers with their descriptor caches, the
// descriptor table registers and the control registers.
type Sregs struct {
	Seg [NumSegs]Segment
	LDT Segment
	TR  Segment
	GDT Descriptor
	IDT Descriptor
	CR0 uint32
	CR2 uint32
	CR3 uint32
	CR4 uint32
}

// Descriptor is a GDTR or IDTR value.
type Descriptor struct {
	Base  uint32
	Limit uint16
}

// Mode is the privilege state of the processor.
type Mode uint8

const (
	Real Mode = iota
	V86
	ProtectedUser
	ProtectedSupervisor
)

func (m Mode) String() string {
	switch m {
	case Real:
		return "real"
	case V86:
		return "v86"
	case ProtectedUser:
		return "protected-user"
	case ProtectedSupervisor:
		return "protected-supervisor"
	}

	return "unknown"
}

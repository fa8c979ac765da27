package timing

// NoModRM marks an instruction without a ModRM byte.
const NoModRM = -1

// Run describes a completed instruction for the queue model.
type Run struct {
	// Cycles is the base execution cost of the instruction.
	Cycles int
	// Bytes is the opcode and immediate length, without ModRM and
	// displacement bytes, which are derived from ModRM.
	Bytes int
	ModRM int
	SIB   int
	EA32  bool
	// Memory accesses by width: byte/word and dword.
	Reads   int
	ReadsL  int
	Writes  int
	WritesL int
}

// eaBytes returns the number of ModRM displacement and SIB bytes implied
// by the addressing form.
func eaBytes(modrm, sib int, ea32 bool) int {
	if modrm == NoModRM {
		return 0
	}

	mod := modrm & 0xc0

	if !ea32 {
		switch {
		case modrm&0xc7 == 0x06:
			return 2
		case mod != 0xc0:
			return mod >> 6
		}

		return 0
	}

	if modrm&7 == 4 && mod != 0xc0 {
		switch {
		case mod == 0x00 && sib&7 == 5:
			return 5
		case mod == 0x40:
			return 2
		case mod == 0x80:
			return 5
		}

		return 1
	}

	switch {
	case modrm&0xc7 == 0x05:
		return 4
	case mod == 0x40:
		return 1
	case mod == 0x80:
		return 4
	}

	return 0
}

// Run charges the base cost of an instruction and accounts for the queue.
// Bytes the queue does not hold are fetched with a stall; cycles the
// instruction spends without using the bus refill the queue.
func (m *Model) Run(r Run) {
	m.Charge(r.Cycles)

	if !m.Enabled() {
		return
	}

	c := m.cfg
	mem := r.Reads*c.ReadCycles + r.ReadsL*c.ReadLCycles + r.Writes*c.WriteCycles + r.WritesL*c.WriteLCycles

	instr := r.Cycles
	if instr < mem {
		instr = mem
	}

	m.bytes -= m.prefixes
	m.bytes -= r.Bytes
	m.bytes -= eaBytes(r.ModRM, r.SIB, r.EA32)

	for m.bytes < 0 {
		m.bytes += c.PrefetchWidth
		m.Charge(c.PrefetchCycles)
	}

	instr -= mem

	for instr >= c.PrefetchCycles {
		m.bytes += c.PrefetchWidth
		instr -= c.PrefetchCycles
	}

	m.prefixes = 0

	if m.bytes > c.QueueSize {
		m.bytes = c.QueueSize
	}
}

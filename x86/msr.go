package x86

// MSR indices understood by the core.
const (
	MSRTSC         = 0x10
	MSRSysenterCS  = 0x174
	MSRSysenterESP = 0x175
	MSRSysenterEIP = 0x176
	MSREFER        = 0xc0000080
	MSRSTAR        = 0xc0000081
)

// MSRs holds the model-specific registers used by the fast system call
// instructions. They are written by privileged guest code through WRMSR
// and only read by the transition logic.
type MSRs struct {
	SysenterCS  uint32
	SysenterESP uint32
	SysenterEIP uint32
	// STAR packs the SYSCALL target EIP in bits 31:0, the SYSCALL CS/SS
	// base selector in bits 47:32 and the SYSRET base selector in 63:48.
	STAR uint64
	EFER uint64
	TSC  uint64
}

// MSRList is the list of MSR indices accepted by Read and Write.
//
//nolint:gochecknoglobals
var MSRList = []uint32{MSRTSC, MSRSysenterCS, MSRSysenterESP, MSRSysenterEIP, MSREFER, MSRSTAR}

// Read returns the MSR at index. ok is false for an unknown index.
func (m *MSRs) Read(index uint32) (v uint64, ok bool) {
	switch index {
	case MSRTSC:
		return m.TSC, true
	case MSRSysenterCS:
		return uint64(m.SysenterCS), true
	case MSRSysenterESP:
		return uint64(m.SysenterESP), true
	case MSRSysenterEIP:
		return uint64(m.SysenterEIP), true
	case MSREFER:
		return m.EFER, true
	case MSRSTAR:
		return m.STAR, true
	}

	return 0, false
}

// Write stores v at index. ok is false for an unknown index.
func (m *MSRs) Write(index uint32, v uint64) (ok bool) {
	switch index {
	case MSRTSC:
		m.TSC = v
	case MSRSysenterCS:
		m.SysenterCS = uint32(v)
	case MSRSysenterESP:
		m.SysenterESP = uint32(v)
	case MSRSysenterEIP:
		m.SysenterEIP = uint32(v)
	case MSREFER:
		m.EFER = v & EFERxSCE
	case MSRSTAR:
		m.STAR = v
	default:
		return false
	}

	return true
}

// SyscallEIP is the SYSCALL target from STAR.
func (m *MSRs) SyscallEIP() uint32 { return uint32(m.STAR) }

// SyscallSelector is the SYSCALL CS base from STAR.
func (m *MSRs) SyscallSelector() uint16 { return uint16(m.STAR >> 32) }

// SysretSelector is the SYSRET CS base from STAR.
func (m *MSRs) SysretSelector() uint16 { return uint16(m.STAR >> 48) }

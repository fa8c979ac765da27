package x86

const (
	// golangci-lint does not like these names, but they read like the manuals.
	// EFLAGS bits.
	EFLAGSxCF   = 1
	EFLAGSxPF   = (1 << 2)
	EFLAGSxAF   = (1 << 4)
	EFLAGSxZF   = (1 << 6)
	EFLAGSxSF   = (1 << 7)
	EFLAGSxTF   = (1 << 8)
	EFLAGSxIF   = (1 << 9)
	EFLAGSxDF   = (1 << 10)
	EFLAGSxOF   = (1 << 11)
	EFLAGSxIOPL = (3 << 12)
	EFLAGSxNT   = (1 << 14)
	EFLAGSxRF   = (1 << 16)
	EFLAGSxVM   = (1 << 17)
	EFLAGSxAC   = (1 << 18)
	EFLAGSxID   = (1 << 21)

	// EFLAGSxFixed is the reserved bit 1, always set.
	EFLAGSxFixed = (1 << 1)

	// Arithmetic flags, freely written by ALU operations.
	EFLAGSxArith = EFLAGSxCF | EFLAGSxPF | EFLAGSxAF | EFLAGSxZF | EFLAGSxSF | EFLAGSxOF

	// CR0 bits.
	CR0xPE = 1
	CR0xMP = (1 << 1)
	CR0xEM = (1 << 2)
	CR0xTS = (1 << 3)
	CR0xET = (1 << 4)
	CR0xNE = (1 << 5)
	CR0xWP = (1 << 16)
	CR0xAM = (1 << 18)
	CR0xNW = (1 << 29)
	CR0xCD = (1 << 30)
	CR0xPG = (1 << 31)

	EFERxSCE = 1
)

// Descriptor access byte bits.
const (
	AccessAccessed   = 0x01
	AccessRW         = 0x02 // readable code / writable data
	AccessDC         = 0x04 // conforming code / expand-down data
	AccessCode       = 0x08
	AccessNonSystem  = 0x10
	AccessDPL        = 0x60
	AccessPresent    = 0x80
	ARHighGranular   = 0x80
	ARHighBig        = 0x40
	ARHighLimitHigh  = 0x0f
	SelectorRPL      = 0x03
	SelectorTI       = 0x04
	SelectorIndex    = 0xfff8
	SelectorNullMask = 0xfffc
)

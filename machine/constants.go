package machine

// InitialMemoryLayout   GuestPhysAddr
//
//	0x00000000    +------------------+
//	              |  IVT             |
//	0x00000400    +------------------+
//	              |  BIOS data       |
//	0x00000800    +------------------+
//	              |  flat GDT        |
//	0x00000828    +------------------+
//	              |                  |
//	0x00001000    +------------------+ default image load address
//	              |                  |
//	MemSize       +------------------+
const (
	ivtAddr = 0x0
	gdtAddr = 0x800

	DefaultImageAddr = 0x1000

	// picBase is the vector of IRQ 0 as the BIOS programs the master PIC.
	picBase = 0x08

	MinMemSize = 1 << 16
)

// Selectors of the flat GDT written by SetupFlat.
const (
	KernelCS = 0x08
	KernelDS = 0x10
	UserCS   = 0x1b
	UserDS   = 0x23
)

const (
	accessKernelCode = 0x9b
	accessKernelData = 0x93
	accessUserCode   = 0xfb
	accessUserData   = 0xf3

	// G and D/B.
	flagsFlat = 0xc
)

// I/O directions index the second dimension of the port table.
const (
	ioIn = iota
	ioOut
)

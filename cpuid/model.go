package cpuid

import (
	"errors"
	"fmt"
	"strings"
)

var errUnknownModel = errors.New("unknown cpu model")

// Family is a processor generation. Instruction availability, dispatch
// tables and timing are selected by family.
type Family uint8

const (
	F8086 Family = iota
	F286
	F386
	F486
	F586
	F686

	NumFamilies
)

func (f Family) String() string {
	switch f {
	case F8086:
		return "8086"
	case F286:
		return "286"
	case F386:
		return "386"
	case F486:
		return "486"
	case F586:
		return "586"
	case F686:
		return "686"
	}

	return "unknown"
}

// Model describes one emulated processor.
type Model struct {
	Name   string
	Vendor string
	Family Family
	// Signature is returned in EAX by CPUID leaf 1 and in EDX after reset.
	Signature   uint32
	Features    uint32
	ExtFeatures uint32
	// Bus16 selects a 16-bit (or 8-bit for the 8088) external data bus.
	Bus16 bool
	Bus8  bool
	// Memory timings in CPU cycles per access, as seen with caches disabled.
	MemReadCycles  int
	MemWriteCycles int
	// Cached models have an internal cache; the prefetch queue model is off.
	Cached bool
}

// Models is the list of processors the emulator knows about.
//
//nolint:gochecknoglobals
var Models = []Model{
	{Name: "8088", Vendor: "GenuineIntel", Family: F8086, Bus8: true, MemReadCycles: 4, MemWriteCycles: 4},
	{Name: "8086", Vendor: "GenuineIntel", Family: F8086, Bus16: true, MemReadCycles: 4, MemWriteCycles: 4},
	{Name: "286", Vendor: "GenuineIntel", Family: F286, Bus16: true, MemReadCycles: 2, MemWriteCycles: 2},
	{Name: "386SX", Vendor: "GenuineIntel", Family: F386, Signature: 0x2308, Bus16: true, MemReadCycles: 4, MemWriteCycles: 4},
	{Name: "386DX", Vendor: "GenuineIntel", Family: F386, Signature: 0x0308, MemReadCycles: 6, MemWriteCycles: 6},
	{
		Name: "486DX2", Vendor: "GenuineIntel", Family: F486, Signature: 0x0435,
		Features: Bits(FPU), MemReadCycles: 8, MemWriteCycles: 8, Cached: true,
	},
	{
		Name: "Pentium", Vendor: "GenuineIntel", Family: F586, Signature: 0x0524,
		Features:      Bits(FPU, VME, DE, PSE, TSC, MSR, MCE, CX8),
		MemReadCycles: 7, MemWriteCycles: 7, Cached: true,
	},
	{
		Name: "PentiumPro", Vendor: "GenuineIntel", Family: F686, Signature: 0x0617,
		Features:      Bits(FPU, VME, DE, PSE, TSC, MSR, PAE, MCE, CX8, APIC, MTRR, PGE, MCA, CMOV),
		MemReadCycles: 18, MemWriteCycles: 18, Cached: true,
	},
	{
		Name: "PentiumII", Vendor: "GenuineIntel", Family: F686, Signature: 0x0634,
		Features: Bits(FPU, VME, DE, PSE, TSC, MSR, PAE, MCE, CX8, APIC, SEP, MTRR, PGE,
			MCA, CMOV, PAT, MMX),
		MemReadCycles: 27, MemWriteCycles: 27, Cached: true,
	},
	{
		Name: "K6-2", Vendor: "AuthenticAMD", Family: F586, Signature: 0x0580,
		Features:      Bits(FPU, VME, DE, PSE, TSC, MSR, MCE, CX8, PGE, MMX),
		ExtFeatures:   Bits(SYSCALL, AMD3DNOW),
		MemReadCycles: 27, MemWriteCycles: 27, Cached: true,
	},
}

// Lookup finds a model by case-insensitive name.
func Lookup(name string) (*Model, error) {
	for i := range Models {
		if strings.EqualFold(Models[i].Name, name) {
			return &Models[i], nil
		}
	}

	return nil, fmt.Errorf("%q: %w", name, errUnknownModel)
}

// Has reports whether the model advertises a leaf 1 EDX feature.
func (m *Model) Has(f F1Edx) bool {
	return m.Features&(1<<uint(f)) != 0
}

// HasExt reports whether the model advertises an extended leaf feature.
func (m *Model) HasExt(f ExtF1Edx) bool {
	return m.ExtFeatures&(1<<uint(f)) != 0
}

// Is386 reports a 32-bit capable model.
func (m *Model) Is386() bool {
	return m.Family >= F386
}

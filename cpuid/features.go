package cpuid

import "fmt"

// Feature bits reported by CPUID. The offsets follow
// arch/x86/include/asm/cpufeatures.h [1] in Linux.
//
// [1] https://github.com/torvalds/linux/blob/v4.20/arch/x86/include/asm/cpufeatures.h#L29

// The unifed interface which contains all CPU features.
type Feature interface {
	F1Edx | ExtF1Edx

	fmt.Stringer
}

type (
	F1Edx    uint32
	ExtF1Edx uint32
)

const (
	FPU   F1Edx = 0  /* Onboard FPU */
	VME   F1Edx = 1  /* Virtual Mode Extensions */
	DE    F1Edx = 2  /* Debugging Extensions */
	PSE   F1Edx = 3  /* Page Size Extensions */
	TSC   F1Edx = 4  /* Time Stamp Counter */
	MSR   F1Edx = 5  /* Model-Specific Registers */
	PAE   F1Edx = 6  /* Physical Address Extensions */
	MCE   F1Edx = 7  /* Machine Check Exception */
	CX8   F1Edx = 8  /* CMPXCHG8 instruction */
	APIC  F1Edx = 9  /* Onboard APIC */
	SEP   F1Edx = 11 /* SYSENTER/SYSEXIT */
	MTRR  F1Edx = 12 /* Memory Type Range Registers */
	PGE   F1Edx = 13 /* Page Global Enable */
	MCA   F1Edx = 14 /* Machine Check Architecture */
	CMOV  F1Edx = 15 /* CMOV instructions (plus FCMOVcc, FCOMI with FPU) */
	PAT   F1Edx = 16 /* Page Attribute Table */
	PSE36 F1Edx = 17 /* 36-bit PSEs */
	MMX   F1Edx = 23 /* Multimedia Extensions */
	FXSR  F1Edx = 24 /* FXSAVE/FXRSTOR, CR4.OSFXSR */
)

const (
	SYSCALL  ExtF1Edx = 11 /* SYSCALL/SYSRET */
	MMXEXT   ExtF1Edx = 22 /* AMD MMX extensions */
	AMD3DNOW ExtF1Edx = 31 /* 3DNow! */
)

//nolint:gochecknoglobals
var AllF1Edx = []F1Edx{
	FPU, VME, DE, PSE, TSC, MSR, PAE, MCE, CX8, APIC, SEP, MTRR, PGE, MCA,
	CMOV, PAT, PSE36, MMX, FXSR,
}

//nolint:gochecknoglobals
var AllExtF1Edx = []ExtF1Edx{SYSCALL, MMXEXT, AMD3DNOW}

var f1EdxNames = map[F1Edx]string{ //nolint:gochecknoglobals
	FPU: "FPU", VME: "VME", DE: "DE", PSE: "PSE", TSC: "TSC", MSR: "MSR",
	PAE: "PAE", MCE: "MCE", CX8: "CX8", APIC: "APIC", SEP: "SEP", MTRR: "MTRR",
	PGE: "PGE", MCA: "MCA", CMOV: "CMOV", PAT: "PAT", PSE36: "PSE36",
	MMX: "MMX", FXSR: "FXSR",
}

var extF1EdxNames = map[ExtF1Edx]string{ //nolint:gochecknoglobals
	SYSCALL: "SYSCALL", MMXEXT: "MMXEXT", AMD3DNOW: "3DNOW",
}

func (f F1Edx) String() string {
	if s, ok := f1EdxNames[f]; ok {
		return s
	}

	return fmt.Sprintf("F1Edx(%d)", uint32(f))
}

func (f ExtF1Edx) String() string {
	if s, ok := extF1EdxNames[f]; ok {
		return s
	}

	return fmt.Sprintf("ExtF1Edx(%d)", uint32(f))
}

// Bits returns the register value with every listed feature set.
func Bits[T Feature](features ...T) uint32 {
	var reg uint32
	for _, f := range features {
		reg |= 1 << uint(f)
	}

	return reg
}

// Enabled splits features into those set and those clear in reg.
func Enabled[T Feature](features []T, reg uint32) (enabled, disabled []T) {
	for _, f := range features {
		if reg&(1<<uint(f)) != 0 {
			enabled = append(enabled, f)
		} else {
			disabled = append(disabled, f)
		}
	}

	return enabled, disabled
}

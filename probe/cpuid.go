// Package probe reports what the emulated processors look like to a guest.
package probe

import (
	"fmt"
	"io"

	"github.com/bobuhiro11/gox86/cpuid"
)

// Models prints one line per known processor model.
func Models(w io.Writer) {
	for i := range cpuid.Models {
		m := &cpuid.Models[i]

		cpuidLeaf := "no"
		if m.Family >= cpuid.F586 {
			cpuidLeaf = "yes"
		}

		fmt.Fprintf(w, "%-12s %-14s family %-4s cpuid %s\n", m.Name, m.Vendor, m.Family, cpuidLeaf)
	}
}

// CPUID prints the CPUID leaves the named model returns and decodes the
// feature registers.
func CPUID(w io.Writer, name string) error {
	m, err := cpuid.Lookup(name)
	if err != nil {
		return err
	}

	printCPUID(w, m)

	return nil
}

func printCPUID(w io.Writer, m *cpuid.Model) {
	eax, ebx, ecx, edx := cpuid.Leaf(m, cpuid.LeafVendor)
	fmt.Fprintf(w, "%s: max leaf %d, vendor %s\n\n", m.Name, eax, cpuid.Vendor(ebx, ecx, edx))

	eax, _, _, edx = cpuid.Leaf(m, cpuid.LeafFeatures)
	fmt.Fprintf(w, "F_1_Eax: %#010x\n", eax)
	fmt.Fprintf(w, "F_1_Edx.\n")
	printFeatures(w, cpuid.AllF1Edx, edx)

	if top, _, _, _ := cpuid.Leaf(m, cpuid.LeafExtMax); top < cpuid.LeafExtFeatures {
		return
	}

	_, _, _, edx = cpuid.Leaf(m, cpuid.LeafExtFeatures)
	fmt.Fprintf(w, "F_80000001_Edx.\n")
	printFeatures(w, cpuid.AllExtF1Edx, edx)
}

func printFeatures[T cpuid.Feature](w io.Writer, features []T, reg uint32) {
	enabled, disabled := cpuid.Enabled(features, reg)

	fmt.Fprintf(w, "* Enabled:")

	for _, f := range enabled {
		fmt.Fprintf(w, " %s", f.String())
	}

	fmt.Fprintf(w, "\n* Disabled:")

	for _, f := range disabled {
		fmt.Fprintf(w, " %s", f.String())
	}

	fmt.Fprintf(w, "\n\n")
}

package cpuid

import "encoding/binary"

const (
	LeafVendor      = 0
	LeafFeatures    = 1
	LeafExtMax      = 0x80000000
	LeafExtFeatures = 0x80000001
)

// Leaf returns the registers the CPUID instruction produces on model m.
// Unknown leaves return zeroes.
func Leaf(m *Model, leaf uint32) (eax, ebx, ecx, edx uint32) {
	switch leaf {
	case LeafVendor:
		var v [12]byte

		copy(v[:], m.Vendor)

		return LeafFeatures,
			binary.LittleEndian.Uint32(v[0:4]),
			binary.LittleEndian.Uint32(v[8:12]),
			binary.LittleEndian.Uint32(v[4:8])
	case LeafFeatures:
		return m.Signature, 0, 0, m.Features
	case LeafExtMax:
		if m.ExtFeatures == 0 {
			return 0, 0, 0, 0
		}

		return LeafExtFeatures, 0, 0, 0
	case LeafExtFeatures:
		return m.Signature, 0, 0, m.ExtFeatures
	}

	return 0, 0, 0, 0
}

// Vendor decodes the vendor string from leaf 0 registers.
func Vendor(ebx, ecx, edx uint32) string {
	s := []rune{}
	for _, x := range []uint32{ebx, edx, ecx} {
		s = append(s, rune(x>>0)&0xff)
		s = append(s, rune(x>>8)&0xff)
		s = append(s, rune(x>>16)&0xff)
		s = append(s, rune(x>>24)&0xff)
	}

	return string(s)
}

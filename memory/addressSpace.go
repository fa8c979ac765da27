package memory

import (
	"errors"
)

var errAddrSpaceOccupied = errors.New("address space occopied")

type RegionType uint8

const (
	RAM RegionType = 0 + iota
	ROM
)

func (t RegionType) String() string {
	if t == ROM {
		return "rom"
	}

	return "ram"
}

// AddressSpace is a named physical range. Child ranges must not overlap.
type AddressSpace struct {
	Name      string
	Start     uint64
	Size      uint32
	Type      RegionType
	Addresses []*AddressSpace
}

func NewAddressSpace(name string, start uint64, size uint32) *AddressSpace {
	return &AddressSpace{
		Name:  name,
		Start: start,
		Size:  size,
	}
}

func (a *AddressSpace) AddAddress(addr *AddressSpace) error {
	if !a.IsFree(addr) {
		return errAddrSpaceOccupied
	}

	a.Addresses = append(a.Addresses, addr)

	return nil
}

// Contains reports whether addr lies inside the range.
func (a *AddressSpace) Contains(addr uint64) bool {
	return addr >= a.Start && addr < a.Start+uint64(a.Size)
}

// Overlaps reports whether the two ranges share at least one byte.
func (a *AddressSpace) Overlaps(b *AddressSpace) bool {
	return a.Start < b.Start+uint64(b.Size) && b.Start < a.Start+uint64(a.Size)
}

func (a *AddressSpace) IsFree(ad *AddressSpace) bool {
	for _, addr := range a.Addresses {
		if addr.Overlaps(ad) {
			return false
		}
	}

	return true
}

// Lookup returns the child range holding addr, or nil.
func (a *AddressSpace) Lookup(addr uint64) *AddressSpace {
	for _, r := range a.Addresses {
		if r.Contains(addr) {
			return r
		}
	}

	return nil
}

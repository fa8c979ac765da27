package x86

// SegReg names a segment register in ModRM sreg encoding order.
type SegReg int

const (
	ES SegReg = iota
	CS
	SS
	DS
	FS
	GS

	NumSegs = 6
)

func (s SegReg) String() string {
	switch s {
	case ES:
		return "es"
	case CS:
		return "cs"
	case SS:
		return "ss"
	case DS:
		return "ds"
	case FS:
		return "fs"
	case GS:
		return "gs"
	}

	return "??"
}

// Segment is a segment register together with its descriptor cache.
//
// LimitLow and LimitHigh are the lowest and highest valid offsets. They are
// derived from Limit and the access rights by Recalc; for expand-down data
// segments the valid range lies above the limit.
type Segment struct {
	Selector  uint16
	Base      uint32
	Limit     uint32
	LimitLow  uint32
	LimitHigh uint32
	Access    uint8
	ARHigh    uint8
	// Valid is false for a protected-mode segment loaded with a null selector.
	Valid bool
}

func (s *Segment) Present() bool    { return s.Access&AccessPresent != 0 }
func (s *Segment) DPL() uint8       { return (s.Access & AccessDPL) >> 5 }
func (s *Segment) RPL() uint8       { return uint8(s.Selector & SelectorRPL) }
func (s *Segment) System() bool     { return s.Access&AccessNonSystem == 0 }
func (s *Segment) Code() bool       { return !s.System() && s.Access&AccessCode != 0 }
func (s *Segment) Conforming() bool { return s.Code() && s.Access&AccessDC != 0 }
func (s *Segment) Big() bool        { return s.ARHigh&ARHighBig != 0 }
func (s *Segment) Granular() bool   { return s.ARHigh&ARHighGranular != 0 }

// Readable reports whether data may be read through the segment.
func (s *Segment) Readable() bool {
	return !s.Code() || s.Access&AccessRW != 0
}

// Writable reports whether data may be written through the segment.
func (s *Segment) Writable() bool {
	return !s.System() && !s.Code() && s.Access&AccessRW != 0
}

// ExpandDown reports an expand-down data segment.
func (s *Segment) ExpandDown() bool {
	return !s.System() && !s.Code() && s.Access&AccessDC != 0
}

// Flat reports a segment with base 0 covering the whole 4GiB space.
func (s *Segment) Flat() bool {
	return s.Base == 0 && s.LimitLow == 0 && s.LimitHigh == 0xffffffff
}

// Recalc derives LimitLow and LimitHigh from Limit and the access rights.
func (s *Segment) Recalc() {
	if !s.ExpandDown() {
		s.LimitLow = 0
		s.LimitHigh = s.Limit

		return
	}

	s.LimitLow = s.Limit + 1
	if s.Big() {
		s.LimitHigh = 0xffffffff
	} else {
		s.LimitHigh = 0xffff
	}
}

// Load fills the cache from a raw 8-byte descriptor. A 286 only has a
// 24-bit base and no granularity or size bits.
func (s *Segment) Load(sel uint16, desc uint64, is386 bool) {
	lo, hi := uint32(desc), uint32(desc>>32)

	s.Selector = sel
	s.Limit = lo&0xffff | hi&0x000f0000
	s.Base = lo>>16 | (hi&0xff)<<16 | hi&0xff000000
	s.Access = uint8(hi >> 8)
	s.ARHigh = uint8(hi >> 16)

	if !is386 {
		s.Base &= 0x00ffffff
		s.Limit &= 0xffff
		s.ARHigh = 0
	}

	if s.Granular() {
		s.Limit = s.Limit<<12 | 0xfff
	}

	s.Valid = true
	s.Recalc()
}

// Descriptor packs the cache back into the raw descriptor layout.
func (s *Segment) Descriptor() uint64 {
	limit := s.Limit
	if s.Granular() {
		limit >>= 12
	}

	return PackDescriptor(s.Base, limit, s.Access, s.ARHigh>>4)
}

// Real loads the segment the way real and virtual-8086 mode do: the base
// is the selector shifted by four and the cached rights are untouched
// except in V86 mode, where they become a writable DPL 3 data segment.
func (s *Segment) Real(sel uint16, v86 bool) {
	s.Selector = sel
	s.Base = uint32(sel) << 4
	s.Valid = true

	if v86 {
		s.Limit = 0xffff
		s.Access = AccessPresent | AccessDPL | AccessNonSystem | AccessRW | AccessAccessed
		s.ARHigh = 0
		s.Recalc()
	}
}

// Reset puts the segment into its power-on state.
func (s *Segment) Reset(sel uint16, base uint32, code bool) {
	s.Selector = sel
	s.Base = base
	s.Limit = 0xffff
	s.Access = AccessPresent | AccessNonSystem | AccessRW | AccessAccessed
	s.ARHigh = 0
	s.Valid = true

	if code {
		s.Access |= AccessCode
	}

	s.Recalc()
}

// Flatten synthesizes a flat 4GiB cache, as the fast system call
// instructions do instead of reading a descriptor table.
func (s *Segment) Flatten(sel uint16, access uint8) {
	s.Selector = sel
	s.Base = 0
	s.Limit = 0xffffffff
	s.Access = access
	s.ARHigh = ARHighGranular | ARHighBig | ARHighLimitHigh
	s.Valid = true
	s.Recalc()
}

// PackDescriptor builds a raw segment descriptor. flags holds the G, D/B,
// L and AVL bits in its low nibble.
func PackDescriptor(base, limit uint32, access, flags uint8) uint64 {
	lo := limit&0xffff | base<<16
	hi := base>>16&0xff | uint32(access)<<8 | limit&0x000f0000 | uint32(flags&0xf)<<20 | base&0xff000000

	return uint64(hi)<<32 | uint64(lo)
}

package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bobuhiro11/gox86/x86"
)

var (
	errBadSize    = errors.New("memory size must be a positive multiple of 4KiB")
	errOutOfRange = errors.New("access beyond guest memory")
)

// Access is a kind of memory access, used to select injected faults.
type Access uint8

const (
	Read Access = 1 << iota
	Write
	Fetch

	Any = Read | Write | Fetch
)

const pageSize = 0x1000

// Memory is guest physical memory. It also serves as the MMU of the core:
// paging is not emulated, so linear addresses are physical addresses, and
// the only page faults are the ones injected with InjectFault.
type Memory struct {
	ram    []byte
	space  *AddressSpace
	roms   map[*AddressSpace][]byte
	faults map[uint32]Access
}

// New allocates size bytes of zeroed RAM at physical address 0.
func New(size int) (*Memory, error) {
	if size <= 0 || size%pageSize != 0 {
		return nil, fmt.Errorf("%d: %w", size, errBadSize)
	}

	m := &Memory{
		ram:    make([]byte, size),
		space:  NewAddressSpace("phys", 0, 0xffffffff),
		roms:   map[*AddressSpace][]byte{},
		faults: map[uint32]Access{},
	}

	ram := NewAddressSpace("phys-ram", 0, uint32(size))
	ram.Type = RAM

	if err := m.space.AddAddress(ram); err != nil {
		return nil, err
	}

	return m, nil
}

// Size returns the RAM size in bytes.
func (m *Memory) Size() int {
	return len(m.ram)
}

// Bytes returns the RAM backing store.
func (m *Memory) Bytes() []byte {
	return m.ram
}

// Regions returns the mapped physical ranges.
func (m *Memory) Regions() []*AddressSpace {
	return m.space.Addresses
}

// MapROM maps a read-only image at addr. The range must not overlap RAM or
// another ROM.
func (m *Memory) MapROM(name string, addr uint32, data []byte) error {
	r := NewAddressSpace(name, uint64(addr), uint32(len(data)))
	r.Type = ROM

	if err := m.space.AddAddress(r); err != nil {
		return fmt.Errorf("%s at %#x: %w", name, addr, err)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.roms[r] = buf

	return nil
}

// InjectFault makes every access of kind a touching addr fail with a page
// fault. It stands in for the paging unit in tests and in the debugger.
func (m *Memory) InjectFault(addr uint32, a Access) {
	m.faults[addr] |= a
}

// ClearFaults removes all injected faults.
func (m *Memory) ClearFaults() {
	m.faults = map[uint32]Access{}
}

func (m *Memory) check(addr uint32, size int, a Access) error {
	if len(m.faults) == 0 {
		return nil
	}

	for i := 0; i < size; i++ {
		if m.faults[addr+uint32(i)]&a != 0 {
			var code uint32
			if a == Write {
				code = x86.PFxWrite
			}

			return x86.PF(addr+uint32(i), code)
		}
	}

	return nil
}

func (m *Memory) load(addr uint32) byte {
	if int64(addr) < int64(len(m.ram)) {
		return m.ram[addr]
	}

	if r := m.space.Lookup(uint64(addr)); r != nil && r.Type == ROM {
		return m.roms[r][uint64(addr)-r.Start]
	}

	// open bus
	return 0xff
}

func (m *Memory) store(addr uint32, v byte) {
	if int64(addr) < int64(len(m.ram)) {
		m.ram[addr] = v
	}
}

func (m *Memory) read(addr uint32, b []byte, a Access) error {
	if err := m.check(addr, len(b), a); err != nil {
		return err
	}

	for i := range b {
		b[i] = m.load(addr + uint32(i))
	}

	return nil
}

func (m *Memory) write(addr uint32, b []byte) error {
	if err := m.check(addr, len(b), Write); err != nil {
		return err
	}

	for i := range b {
		m.store(addr+uint32(i), b[i])
	}

	return nil
}

func (m *Memory) ReadB(addr uint32) (uint8, error) {
	var b [1]byte
	err := m.read(addr, b[:], Read)

	return b[0], err
}

func (m *Memory) ReadW(addr uint32) (uint16, error) {
	var b [2]byte
	err := m.read(addr, b[:], Read)

	return binary.LittleEndian.Uint16(b[:]), err
}

func (m *Memory) ReadL(addr uint32) (uint32, error) {
	var b [4]byte
	err := m.read(addr, b[:], Read)

	return binary.LittleEndian.Uint32(b[:]), err
}

func (m *Memory) WriteB(addr uint32, v uint8) error {
	return m.write(addr, []byte{v})
}

func (m *Memory) WriteW(addr uint32, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)

	return m.write(addr, b[:])
}

func (m *Memory) WriteL(addr uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)

	return m.write(addr, b[:])
}

// Fetch reads instruction bytes.
func (m *Memory) Fetch(addr uint32, b []byte) error {
	return m.read(addr, b, Fetch)
}

// ReadAt implements io.ReaderAt over RAM, without fault injection.
func (m *Memory) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.ram)) {
		return 0, fmt.Errorf("read %d bytes at %#x: %w", len(b), off, errOutOfRange)
	}

	n := copy(b, m.ram[off:])
	if n < len(b) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt implements io.WriterAt over RAM, without fault injection.
func (m *Memory) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(b)) > int64(len(m.ram)) {
		return 0, fmt.Errorf("write %d bytes at %#x: %w", len(b), off, errOutOfRange)
	}

	return copy(m.ram[off:], b), nil
}

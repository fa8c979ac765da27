// Package pci implements PCI Configuration Space Access Mechanism #1 on
// ports 0xCF8-0xCFF with a host bridge in slot 0 of bus 0.
//
// refs
// https://wiki.osdev.org/PCI
// http://www2.comp.ufscar.br/~helio/boot-int/pci.html
package pci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	ConfAddrPort = 0xcf8
	ConfDataPort = 0xcfc
	NumPorts     = 8
)

var errDataLenInvalid = errors.New("invalid data size on port")

type address uint32

func (a address) getRegisterOffset() uint32 {
	return uint32(a) & 0xfc
}

func (a address) getFunctionNumber() uint32 {
	return (uint32(a) >> 8) & 0x7
}

func (a address) getDeviceNumber() uint32 {
	return (uint32(a) >> 11) & 0x1f
}

func (a address) getBusNumber() uint32 {
	return (uint32(a) >> 16) & 0xff
}

func (a address) isEnable() bool {
	return uint32(a)&(1<<31) != 0
}

type PCI struct {
	mu      sync.Mutex
	addr    address
	devices []*configSpace
}

func New() *PCI {
	return &PCI{devices: []*configSpace{newHostBridge()}}
}

func (p *PCI) IOPort() uint64 {
	return ConfAddrPort
}

func (p *PCI) Size() uint64 {
	return NumPorts
}

// Read implements device.IODevice. Functions that do not exist read as
// all ones.
func (p *PCI) Read(port uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < ConfDataPort {
		if port != ConfAddrPort || len(data) != 4 {
			fill(data)

			return nil
		}

		binary.LittleEndian.PutUint32(data, uint32(p.addr))

		return nil
	}

	cs, offset := p.selected(port, len(data))
	if cs == nil {
		fill(data)

		return nil
	}

	copy(data, cs[offset:])

	return nil
}

// Write implements device.IODevice. Read-only configuration registers
// ignore writes.
func (p *PCI) Write(port uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < ConfDataPort {
		if port == ConfAddrPort && len(data) == 4 {
			p.addr = address(binary.LittleEndian.Uint32(data))
		}

		return nil
	}

	cs, offset := p.selected(port, len(data))
	if cs == nil {
		return nil
	}

	cs.write(offset, data)

	return nil
}

// selected returns the configuration space the address latch points at
// and the byte offset of a data port access.
func (p *PCI) selected(port uint64, size int) (*configSpace, uint32) {
	offset := p.addr.getRegisterOffset() + uint32(port-ConfDataPort)

	// see pci_conf1_read in linux/arch/x86/pci/direct.c
	if !p.addr.isEnable() || offset+uint32(size) > configSpaceSize {
		return nil, 0
	}

	if p.addr.getBusNumber() != 0 || p.addr.getFunctionNumber() != 0 {
		return nil, 0
	}

	slot := int(p.addr.getDeviceNumber())
	if slot >= len(p.devices) {
		return nil, 0
	}

	return p.devices[slot], offset
}

// Addr returns the configuration address latch.
func (p *PCI) Addr() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return uint32(p.addr)
}

// SetAddr restores the configuration address latch.
func (p *PCI) SetAddr(a uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.addr = address(a)
}

// Header returns a copy of the configuration space of slot.
func (p *PCI) Header(slot int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot < 0 || slot >= len(p.devices) {
		return nil, fmt.Errorf("slot %d: %w", slot, errNoDevice)
	}

	return append([]byte(nil), p.devices[slot][:]...), nil
}

func fill(data []byte) {
	for i := range data {
		data[i] = 0xff
	}
}

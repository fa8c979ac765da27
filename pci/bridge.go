package pci

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const configSpaceSize = 256

var errNoDevice = errors.New("no pci device")

type deviceHeader struct {
	VendorID                uint16
	DeviceID                uint16
	Command                 uint16
	Status                  uint16
	RevisionID              uint8
	ClassCode               [3]uint8
	CacheLineSize           uint8
	LatencyTimer            uint8
	HeaderType              uint8
	BIST                    uint8
	BaseAddressRegister     [6]uint32
	CardbusCISPointer       uint32
	SubsystemVendorID       uint16
	SubsystemID             uint16
	ExpansionROMBaseAddress uint32
	CapabilitiesPointer     uint8
	Reserved                [7]uint8
	InterruptLine           uint8
	InterruptPin            uint8
	MinGnt                  uint8
	MaxLat                  uint8
}

type configSpace [configSpaceSize]byte

func (h *deviceHeader) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}

// newHostBridge returns 00:00.0, an i440FX host bridge.
func newHostBridge() *configSpace {
	h := deviceHeader{
		VendorID:   0x8086,
		DeviceID:   0x1237,
		Command:    0x0006,
		Status:     0x0280,
		RevisionID: 0x02,
		// class 06 (bridge), subclass 00 (host)
		ClassCode: [3]uint8{0x00, 0x00, 0x06},
	}

	b, err := h.Bytes()
	if err != nil {
		panic(err)
	}

	cs := &configSpace{}
	copy(cs[:], b)

	return cs
}

// writable reports the header bytes software may change.
func writable(offset uint32) bool {
	switch offset {
	case 0x04, 0x05, // command
		0x0c, 0x0d, // cache line size, latency timer
		0x3c: // interrupt line
		return true
	}

	return offset >= 0x40
}

func (cs *configSpace) write(offset uint32, data []byte) {
	for i, b := range data {
		if o := offset + uint32(i); writable(o) {
			cs[o] = b
		}
	}
}

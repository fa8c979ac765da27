package machine

import (
	"errors"
	"fmt"
	"io"

	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/sirupsen/logrus"
)

const (
	maxBIOSSize = 1 << 16
	legacyTop   = 1 << 20
)

var errBIOSSize = errors.New("BIOS image must be between 1 byte and 64KiB")

// busTop is one past the highest physical address the model can drive.
func (m *Machine) busTop() uint64 {
	switch m.model.Family {
	case cpuid.F8086:
		return 1 << 20
	case cpuid.F286:
		return 1 << 24
	}

	return 1 << 32
}

// LoadBIOS places a firmware image so that it ends at the top of the
// address space, where the reset vector points. Models with more than 20
// address lines also get a copy just below 1MiB when RAM reaches that far.
func (m *Machine) LoadBIOS(r io.Reader) error {
	b, err := io.ReadAll(io.LimitReader(r, maxBIOSSize+1))
	if err != nil {
		return fmt.Errorf("read BIOS: %w", err)
	}

	if len(b) == 0 || len(b) > maxBIOSSize {
		return fmt.Errorf("%d bytes: %w", len(b), errBIOSSize)
	}

	top := m.busTop()
	start := top - uint64(len(b))

	if top <= uint64(m.mem.Size()) {
		if _, err := m.mem.WriteAt(b, int64(start)); err != nil {
			return err
		}
	} else if err := m.mem.MapROM("bios", uint32(start), b); err != nil {
		return err
	}

	if top != legacyTop && m.mem.Size() >= legacyTop {
		if _, err := m.mem.WriteAt(b, int64(legacyTop-len(b))); err != nil {
			return err
		}
	}

	m.log.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("%#x", start),
		"size": len(b),
	}).Debug("BIOS loaded")

	return nil
}

package machine

// state.go – machine snapshot helpers for snapshots and migration.
// Each Save* method captures state into migration.* types.
// Each Restore* method applies previously captured state back.

import (
	"errors"
	"fmt"
	"io"

	"github.com/bobuhiro11/gox86/migration"
	"github.com/bobuhiro11/gox86/serial"
)

var errSnapshotMismatch = errors.New("snapshot does not match the machine")

// SaveCPUState captures the full architectural state of CPU i.
func (m *Machine) SaveCPUState(i int) (*migration.CPUState, error) {
	c, err := m.CPU(i)
	if err != nil {
		return nil, err
	}

	return &migration.CPUState{
		Regs:   c.Regs(),
		Sregs:  c.Sregs(),
		MSRs:   c.MSRs(),
		Cycles: c.Cycles(),
		Halted: c.Halted(),
		Steps:  m.steps[i].Load(),
	}, nil
}

// RestoreCPUState applies a previously saved CPU state.
func (m *Machine) RestoreCPUState(i int, state *migration.CPUState) error {
	c, err := m.CPU(i)
	if err != nil {
		return err
	}

	c.SetRegs(state.Regs)
	c.SetSregs(state.Sregs)
	c.SetMSRs(state.MSRs)
	c.SetCycles(state.Cycles)
	c.SetHalted(state.Halted)
	m.steps[i].Store(state.Steps)

	return nil
}

// SaveDeviceState captures state for all emulated devices.
func (m *Machine) SaveDeviceState() (*migration.DeviceState, error) {
	ds := &migration.DeviceState{}

	if m.serial != nil {
		st := m.serial.GetState()
		ds.Serial = &migration.SerialState{
			IER: st.IER, LCR: st.LCR, MCR: st.MCR, SCR: st.SCR, DLL: st.DLL, DLM: st.DLM,
		}
	}

	ds.PostCode = m.PostCodes()

	if m.pci != nil {
		ds.PCIAddr = m.pci.Addr()
	}

	return ds, nil
}

// RestoreDeviceState applies previously captured device state. Device
// state for a device this machine does not have is ignored.
func (m *Machine) RestoreDeviceState(ds *migration.DeviceState) error {
	if m.serial != nil && ds.Serial != nil {
		m.serial.SetState(serial.State{
			IER: ds.Serial.IER, LCR: ds.Serial.LCR, MCR: ds.Serial.MCR,
			SCR: ds.Serial.SCR, DLL: ds.Serial.DLL, DLM: ds.Serial.DLM,
		})
	}

	if m.pci != nil {
		m.pci.SetAddr(ds.PCIAddr)
	}

	return nil
}

// Snapshot collects the machine state except memory.
func (m *Machine) Snapshot() (*migration.Snapshot, error) {
	snap := &migration.Snapshot{
		Model:   m.model.Name,
		NCPUs:   len(m.cpus),
		MemSize: m.mem.Size(),
		CPUs:    make([]migration.CPUState, len(m.cpus)),
		Pending: make([][]uint8, len(m.cpus)),
	}

	for i := range m.cpus {
		s, err := m.SaveCPUState(i)
		if err != nil {
			return nil, fmt.Errorf("SaveCPUState %d: %w", i, err)
		}

		snap.CPUs[i] = *s
		snap.Pending[i] = m.irqs[i].snapshot()
	}

	ds, err := m.SaveDeviceState()
	if err != nil {
		return nil, fmt.Errorf("SaveDeviceState: %w", err)
	}

	snap.Devices = *ds

	return snap, nil
}

// Restore applies a snapshot taken on a machine of the same shape.
func (m *Machine) Restore(snap *migration.Snapshot) error {
	if snap.Model != m.model.Name || snap.NCPUs != len(m.cpus) || snap.MemSize != m.mem.Size() {
		return fmt.Errorf("%s with %d cpus and %d bytes, machine is %s with %d cpus and %d bytes: %w",
			snap.Model, snap.NCPUs, snap.MemSize, m.model.Name, len(m.cpus), m.mem.Size(), errSnapshotMismatch)
	}

	for i := range snap.CPUs {
		if err := m.RestoreCPUState(i, &snap.CPUs[i]); err != nil {
			return err
		}

		if i < len(snap.Pending) {
			m.irqs[i].restore(snap.Pending[i])
		}
	}

	return m.RestoreDeviceState(&snap.Devices)
}

// SaveMemory writes the full guest physical memory to w as a raw byte stream.
func (m *Machine) SaveMemory(w io.Writer) error {
	_, err := w.Write(m.mem.Bytes())

	return err
}

// RestoreMemory reads the memory size worth of bytes from r into guest
// memory.
func (m *Machine) RestoreMemory(r io.Reader) error {
	_, err := io.ReadFull(r, m.mem.Bytes())

	return err
}

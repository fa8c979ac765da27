package iodev

import "github.com/sirupsen/logrus"

// ShutdownPort is where guests signal that they are done, following the
// ACPI shutdown device convention used by EDK2 under Cloud Hypervisor.
const ShutdownPort = uint64(0x600)

const (
	// S5 sleep type with the sleep enable bit, as the DSDT encodes it.
	shutdownValue = 5<<2 | 1<<5
	rebootValue   = 1
)

// ShutdownDevice calls Exit when the guest writes the S5 value and Reset
// when it writes 1.
type ShutdownDevice struct {
	Port  uint64
	Exit  func()
	Reset func()
}

func NewShutdownDevice(exit, reset func()) *ShutdownDevice {
	return &ShutdownDevice{
		Port:  ShutdownPort,
		Exit:  exit,
		Reset: reset,
	}
}

func (a *ShutdownDevice) Read(base uint64, data []byte) error {
	for i := range data {
		data[i] = 0
	}

	return nil
}

func (a *ShutdownDevice) Write(base uint64, data []byte) error {
	switch data[0] {
	case rebootValue:
		logrus.Info("guest reboot signaled")

		if a.Reset != nil {
			a.Reset()
		}
	case shutdownValue:
		logrus.Info("guest shutdown signaled")

		if a.Exit != nil {
			a.Exit()
		}
	}

	return nil
}

func (a *ShutdownDevice) IOPort() uint64 {
	return a.Port
}

func (a *ShutdownDevice) Size() uint64 {
	return 0x8
}

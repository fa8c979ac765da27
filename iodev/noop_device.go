// Package iodev holds the trivial port devices that claim legacy port
// ranges without modeling them.
package iodev

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NoopDevice claims a port range of a chipset part that is not emulated.
// Reads return all ones. Writes are dropped and traced on Log when set.
type NoopDevice struct {
	Name  string
	Port  uint64
	Psize uint64
	Log   *logrus.Entry
}

func (n *NoopDevice) Read(port uint64, data []byte) error {
	for i := range data {
		data[i] = 0xff
	}

	return nil
}

func (n *NoopDevice) Write(port uint64, data []byte) error {
	if n.Log != nil {
		n.Log.WithFields(logrus.Fields{
			"device": n.Name,
			"port":   fmt.Sprintf("%#x", port),
			"data":   fmt.Sprintf("% x", data),
		}).Trace("ignored port write")
	}

	return nil
}

func (n *NoopDevice) IOPort() uint64 {
	return n.Port
}

func (n *NoopDevice) Size() uint64 {
	return n.Psize
}

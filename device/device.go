// Package device holds the port-mapped devices a machine can attach to
// its I/O port table.
package device

import "errors"

var errDataLenInvalid = errors.New("invalid data size on port")

// IODevice describes the interface a port-mapped device must implement.
// port is the absolute port number; len(data) is the access width.
type IODevice interface {
	Read(port uint64, data []byte) error
	Write(port uint64, data []byte) error
	IOPort() uint64
	Size() uint64
}

package device

import (
	"fmt"
	"io"
	"sync"
)

const PostCodePort = 0x80

// PostCodeDevice is the POST diagnostic port. Guests write progress codes
// or, as debug consoles do, plain characters to it.
type PostCodeDevice struct {
	mu    sync.Mutex
	w     io.Writer
	codes []byte
}

// NewPostCode creates a post code port echoing to w. w may be nil.
func NewPostCode(w io.Writer) *PostCodeDevice {
	return &PostCodeDevice{w: w}
}

func (p *PostCodeDevice) Read(port uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range data {
		data[i] = 0xff
	}

	if len(p.codes) > 0 {
		data[0] = p.codes[len(p.codes)-1]
	}

	return nil
}

func (p *PostCodeDevice) Write(port uint64, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("post code write of %d bytes: %w", len(data), errDataLenInvalid)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.codes = append(p.codes, data[0])

	if p.w == nil {
		return nil
	}

	var err error
	if data[0] == '\000' {
		_, err = fmt.Fprintf(p.w, "\r\n")
	} else {
		_, err = fmt.Fprintf(p.w, "%c", data[0])
	}

	return err
}

// Codes returns every byte written so far.
func (p *PostCodeDevice) Codes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]byte(nil), p.codes...)
}

func (p *PostCodeDevice) IOPort() uint64 {
	return PostCodePort
}

func (p *PostCodeDevice) Size() uint64 {
	return 0x1
}

package device_test

import (
	"bytes"
	"testing"

	"github.com/bobuhiro11/gox86/device"
)

func TestPostCode(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	p := device.NewPostCode(&out)

	for _, b := range []byte("ok\000") {
		if err := p.Write(device.PostCodePort, []byte{b}); err != nil {
			t.Fatalf("Write(%#x): %v", b, err)
		}
	}

	if got, want := out.String(), "ok\r\n"; got != want {
		t.Fatalf("output: got %q, want %q", got, want)
	}

	if err := p.Write(device.PostCodePort, []byte{1, 2}); err == nil {
		t.Fatalf("Write of two bytes: got nil, want error")
	}

	data := []byte{0}
	if err := p.Read(device.PostCodePort, data); err != nil || data[0] != 0 {
		t.Fatalf("Read: got %#x, %v, want the last code 0", data[0], err)
	}

	if got := p.Codes(); !bytes.Equal(got, []byte("ok\000")) {
		t.Fatalf("Codes: got %q", got)
	}
}

package term_test

import (
	"os"
	"testing"

	"github.com/bobuhiro11/gox86/term"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}

	defer r.Close()
	defer w.Close()

	if term.IsTerminal(int(r.Fd())) {
		t.Fatalf("IsTerminal: got true for a pipe")
	}
}

func TestSetRawModeNotTerminal(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "tty")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}

	defer f.Close()

	restore, err := term.SetRawMode(int(f.Fd()))
	if err == nil {
		t.Fatalf("SetRawMode: got nil error for a regular file")
	}

	restore()
}

func TestWidth(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "tty")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}

	defer f.Close()

	if w := term.Width(int(f.Fd())); w != 80 {
		t.Fatalf("Width: got %d, want 80", w)
	}
}

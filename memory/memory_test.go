package memory_test

import (
	"testing"

	"github.com/bobuhiro11/gox86/memory"
	"github.com/bobuhiro11/gox86/x86"
)

func TestReadWrite(t *testing.T) {
	t.Parallel()

	m, err := memory.New(1 << 20)
	if err != nil {
		t.Fatalf("New: got %v, want nil", err)
	}

	if err := m.WriteL(0x1000, 0xdeadbeef); err != nil {
		t.Fatalf("WriteL: got %v, want nil", err)
	}

	if v, err := m.ReadW(0x1002); err != nil || v != 0xdead {
		t.Fatalf("ReadW(0x1002): got (%#x, %v), want (0xdead, nil)", v, err)
	}

	if v, err := m.ReadB(0x1000); err != nil || v != 0xef {
		t.Fatalf("ReadB(0x1000): got (%#x, %v), want (0xef, nil)", v, err)
	}

	// beyond RAM: open bus, writes dropped
	if err := m.WriteB(1<<20, 0x12); err != nil {
		t.Fatalf("WriteB beyond RAM: got %v, want nil", err)
	}

	if v, _ := m.ReadB(1 << 20); v != 0xff {
		t.Fatalf("ReadB beyond RAM: got %#x, want 0xff", v)
	}
}

func TestROM(t *testing.T) {
	t.Parallel()

	m, err := memory.New(1 << 16)
	if err != nil {
		t.Fatal(err)
	}

	bios := []byte{0xea, 0x00, 0x7c, 0x00, 0x00}
	if err := m.MapROM("bios", 0xfffffff0, bios); err != nil {
		t.Fatalf("MapROM: got %v, want nil", err)
	}

	if err := m.MapROM("overlap", 0xfffffff4, bios); err == nil {
		t.Fatalf("MapROM overlapping: got nil, want error")
	}

	if err := m.WriteB(0xfffffff0, 0x90); err != nil {
		t.Fatal(err)
	}

	b := make([]byte, len(bios))
	if err := m.Fetch(0xfffffff0, b); err != nil {
		t.Fatal(err)
	}

	if string(b) != string(bios) {
		t.Fatalf("Fetch: got %x, want %x", b, bios)
	}
}

func TestInjectFault(t *testing.T) {
	t.Parallel()

	m, err := memory.New(1 << 16)
	if err != nil {
		t.Fatal(err)
	}

	m.InjectFault(0x2001, memory.Write)

	// reads are unaffected
	if _, err := m.ReadW(0x2000); err != nil {
		t.Fatalf("ReadW: got %v, want nil", err)
	}

	err = m.WriteW(0x2000, 0x1234)

	f, ok := x86.IsFault(err)
	if !ok {
		t.Fatalf("WriteW: got %v, want page fault", err)
	}

	if f.Vector != x86.VectorPF || f.Addr != 0x2001 || f.ErrorCode&x86.PFxWrite == 0 {
		t.Fatalf("WriteW: got %+v, want #PF at 0x2001 on write", f)
	}

	if v, _ := m.ReadW(0x2000); v != 0 {
		t.Fatalf("faulting write changed memory: %#x", v)
	}

	m.ClearFaults()

	if err := m.WriteW(0x2000, 0x1234); err != nil {
		t.Fatalf("WriteW after ClearFaults: got %v, want nil", err)
	}
}

func TestBadSize(t *testing.T) {
	t.Parallel()

	if _, err := memory.New(100); err == nil {
		t.Fatalf("New(100): got nil, want error")
	}
}

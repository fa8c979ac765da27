package machine_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/bobuhiro11/gox86/machine"
	"github.com/bobuhiro11/gox86/x86"
	"github.com/google/go-cmp/cmp"
)

const (
	memSize  = 1 << 20
	codeSeg  = 0x100
	codeAddr = codeSeg << 4
)

func newMachine(t *testing.T, model string, opts ...machine.Option) *machine.Machine {
	t.Helper()

	m, err := machine.New(model, 1, memSize, opts...)
	if err != nil {
		t.Fatalf("New(%q): %v", model, err)
	}

	return m
}

// load places code at codeSeg:0 and starts CPU 0 there in real mode.
func load(t *testing.T, m *machine.Machine, code ...byte) {
	t.Helper()

	if err := m.LoadImage(bytes.NewReader(code), codeAddr); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}

	if err := m.SetEntry(0, codeSeg, 0, 0xfffe); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
}

func run(t *testing.T, m *machine.Machine) {
	t.Helper()

	if err := m.RunInfiniteLoop(0); err != nil {
		t.Fatalf("RunInfiniteLoop: %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		model string
		ncpus int
		mem   int
	}{
		{name: "unknown model", model: "Z80", ncpus: 1, mem: memSize},
		{name: "tiny memory", model: "8086", ncpus: 1, mem: 4096},
		{name: "no cpus", model: "8086", mem: memSize},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := machine.New(tt.model, tt.ncpus, tt.mem); err == nil {
				t.Fatalf("New: got nil, want error")
			}
		})
	}

	m := newMachine(t, "486DX2")
	if _, err := m.CPU(1); err == nil {
		t.Fatalf("CPU(1): got nil, want error")
	}

	if m.NCPUs() != 1 || m.Model().Name != "486DX2" {
		t.Fatalf("machine: got %d cpus of %s", m.NCPUs(), m.Model().Name)
	}
}

func TestPostCode(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	m := newMachine(t, "8086", machine.WithPostCode(&out))
	// mov al, 'h'; out 0x80, al; mov al, 'i'; out 0x80, al; hlt
	load(t, m, 0xb0, 'h', 0xe6, 0x80, 0xb0, 'i', 0xe6, 0x80, 0xf4)
	run(t, m)

	if got := string(m.PostCodes()); got != "hi" {
		t.Fatalf("PostCodes: got %q, want %q", got, "hi")
	}

	if out.String() != "hi" {
		t.Fatalf("output: got %q, want %q", out.String(), "hi")
	}

	if n := m.Steps(0); n != 5 {
		t.Fatalf("Steps: got %d, want 5", n)
	}
}

func TestSerialConsole(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	m := newMachine(t, "286", machine.WithConsole(&out))
	// mov dx, 0x3f8; mov al, 'A'; out dx, al; hlt
	load(t, m, 0xba, 0xf8, 0x03, 0xb0, 'A', 0xee, 0xf4)
	run(t, m)

	if out.String() != "A" {
		t.Fatalf("console: got %q, want %q", out.String(), "A")
	}

	if err := m.SendInput('x'); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	if err := newMachine(t, "286").SendInput('x'); err == nil {
		t.Fatalf("SendInput without a console: got nil, want error")
	}
}

func TestUnclaimedPort(t *testing.T) {
	t.Parallel()

	m := newMachine(t, "8086", machine.WithPostCode(nil))
	// mov dx, 0x300; in al, dx; out 0x80, al; hlt
	load(t, m, 0xba, 0x00, 0x03, 0xec, 0xe6, 0x80, 0xf4)
	run(t, m)

	if got := m.PostCodes(); !bytes.Equal(got, []byte{0xff}) {
		t.Fatalf("PostCodes: got % x, want ff", got)
	}
}

func TestPCIHostBridge(t *testing.T) {
	t.Parallel()

	for model, want := range map[string][]byte{
		"Pentium": {0x86, 0x37},
		"386DX":   {0xff, 0xff},
	} {
		m := newMachine(t, model, machine.WithPostCode(nil))
		load(t, m,
			0x66, 0xb8, 0x00, 0x00, 0x00, 0x80, // mov eax, 0x80000000
			0xba, 0xf8, 0x0c, // mov dx, 0xcf8
			0x66, 0xef, // out dx, eax
			0xb2, 0xfc, // mov dl, 0xfc
			0x66, 0xed, // in eax, dx
			0xe6, 0x80, // out 0x80, al
			0x66, 0xc1, 0xe8, 0x10, // shr eax, 16
			0xe6, 0x80, // out 0x80, al
			0xf4, // hlt
		)
		run(t, m)

		if got := m.PostCodes(); !bytes.Equal(got, want) {
			t.Fatalf("%s PostCodes: got % x, want % x", model, got, want)
		}
	}
}

func TestShutdownPort(t *testing.T) {
	t.Parallel()

	m := newMachine(t, "386DX")
	// mov dx, 0x600; mov al, 0x34; out dx, al; jmp $
	load(t, m, 0xba, 0x00, 0x06, 0xb0, 0x34, 0xee, 0xeb, 0xfe)
	run(t, m)

	if !m.Stopped() {
		t.Fatalf("Stopped: got false, want true")
	}

	m.Resume()

	if ok, err := m.RunOnce(0); !ok || err != nil {
		t.Fatalf("RunOnce after Resume: got %v, %v, want true", ok, err)
	}
}

func TestMaxSteps(t *testing.T) {
	t.Parallel()

	m := newMachine(t, "8088", machine.WithMaxSteps(10), machine.WithTrace(3))
	load(t, m, 0xeb, 0xfe)
	run(t, m)

	if n := m.Steps(0); n != 10 {
		t.Fatalf("Steps: got %d, want 10", n)
	}
}

func writeVector(t *testing.T, m *machine.Machine, v uint8, cs, ip uint16) {
	t.Helper()

	if err := m.WriteWord(0, uint32(v)*4, uint32(cs)<<16|uint32(ip)); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
}

func TestSoftwareInterrupt(t *testing.T) {
	t.Parallel()

	m := newMachine(t, "8086", machine.WithPostCode(nil))
	// int 0x21; hlt
	load(t, m, 0xcd, 0x21, 0xf4)
	writeVector(t, m, 0x21, 0, 0x2000)

	// mov al, 'x'; out 0x80, al; iret
	if err := m.LoadImage(bytes.NewReader([]byte{0xb0, 'x', 0xe6, 0x80, 0xcf}), 0x2000); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}

	run(t, m)

	if got := string(m.PostCodes()); got != "x" {
		t.Fatalf("PostCodes: got %q, want %q", got, "x")
	}

	c, _ := m.CPU(0)

	r, s := c.Regs(), c.Sregs()
	if s.Seg[x86.CS].Selector != codeSeg || r.EIP != 3 || r.GPR[x86.ESP] != 0xfffe {
		t.Fatalf("after IRET and HLT: got %04x:%04x SP %#x", s.Seg[x86.CS].Selector, r.EIP, r.GPR[x86.ESP])
	}
}

func TestExternalInterrupt(t *testing.T) {
	t.Parallel()

	m := newMachine(t, "286", machine.WithPostCode(nil))
	// sti; nop; jmp $
	load(t, m, 0xfb, 0x90, 0xeb, 0xfe)
	writeVector(t, m, 0x08, 0, 0x2000)

	// mov al, 'i'; out 0x80, al; hlt
	if err := m.LoadImage(bytes.NewReader([]byte{0xb0, 'i', 0xe6, 0x80, 0xf4}), 0x2000); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}

	if err := m.InjectIRQ(0, 0x08); err != nil {
		t.Fatalf("InjectIRQ: %v", err)
	}

	if err := m.InjectIRQ(3, 0x08); err == nil {
		t.Fatalf("InjectIRQ(3): got nil, want error")
	}

	run(t, m)

	if got := string(m.PostCodes()); got != "i" {
		t.Fatalf("PostCodes: got %q, want %q", got, "i")
	}

	// FLAGS, CS and the IP after the nop
	ip, err := m.ReadWord(0, codeAddr+0xfffe-6)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}

	if ip&0xffff != 2 || ip>>16 != codeSeg {
		t.Fatalf("pushed CS:IP: got %#x, want %04x:0002", ip, codeSeg)
	}
}

func TestProtectedModeInterrupt(t *testing.T) {
	t.Parallel()

	m := newMachine(t, "386DX")

	if err := m.LoadImage(bytes.NewReader([]byte{0xcd, 0x21}), 0x10000); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}

	if err := m.SetupFlat(0, 0x10000, 0x9000); err != nil {
		t.Fatalf("SetupFlat: %v", err)
	}

	if _, err := m.RunOnce(0); !errors.Is(err, machine.ErrNoIDT) {
		t.Fatalf("RunOnce: got %v, want %v", err, machine.ErrNoIDT)
	}
}

func TestSetupFlat(t *testing.T) {
	t.Parallel()

	if err := newMachine(t, "286").SetupFlat(0, 0, 0); err == nil {
		t.Fatalf("SetupFlat on a 286: got nil, want error")
	}

	m := newMachine(t, "PentiumII")
	if err := m.SetupFlat(0, 0x1000, 0x9000); err != nil {
		t.Fatalf("SetupFlat: %v", err)
	}

	c, _ := m.CPU(0)

	if err := c.LoadSegment(x86.ES, machine.UserDS); err != nil {
		t.Fatalf("LoadSegment(ES, %#x): %v", machine.UserDS, err)
	}

	s := c.Sregs()
	if cs := s.Seg[x86.CS]; cs.Selector != machine.KernelCS || !cs.Big() || !cs.Code() {
		t.Fatalf("CS: got %+v", cs)
	}

	if es := s.Seg[x86.ES]; es.Base != 0 || es.LimitHigh != 0xffffffff || es.DPL() != 3 {
		t.Fatalf("ES: got %+v", es)
	}

	if c.Mode() != x86.ProtectedSupervisor {
		t.Fatalf("Mode: got %v", c.Mode())
	}
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	src := newMachine(t, "Pentium", machine.WithConsole(&bytes.Buffer{}))
	// mov ax, 0x1234; mov dx, 0x3fb; mov al, 3; out dx, al; jmp $
	load(t, src, 0xb8, 0x34, 0x12, 0xba, 0xfb, 0x03, 0xb0, 0x03, 0xee, 0xeb, 0xfe)

	for i := 0; i < 5; i++ {
		if _, err := src.RunOnce(0); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	if err := src.InjectIRQ(0, 0x0c); err != nil {
		t.Fatalf("InjectIRQ: %v", err)
	}

	snap, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var mem bytes.Buffer
	if err := src.SaveMemory(&mem); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	dst := newMachine(t, "Pentium", machine.WithConsole(&bytes.Buffer{}))
	if err := dst.RestoreMemory(&mem); err != nil {
		t.Fatalf("RestoreMemory: %v", err)
	}

	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := dst.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if diff := cmp.Diff(snap, got); diff != "" {
		t.Fatalf("restored state (-saved +restored):\n%s", diff)
	}

	if got.Devices.Serial == nil || got.Devices.Serial.LCR != 3 {
		t.Fatalf("serial state: got %+v", got.Devices.Serial)
	}

	if err := newMachine(t, "K6-2").Restore(snap); err == nil {
		t.Fatalf("Restore onto another model: got nil, want error")
	}
}

func TestInst(t *testing.T) {
	t.Parallel()

	m := newMachine(t, "386DX")
	// mov ax, 0x1234; mov ax, [bx+2]
	load(t, m, 0xb8, 0x34, 0x12, 0x8b, 0x47, 0x02)

	_, _, s, err := m.Inst(0)
	if err != nil {
		t.Fatalf("Inst: %v", err)
	}

	if want := "mov $0x1234,%ax"; s != want {
		t.Fatalf("Inst: got %q, want %q", s, want)
	}

	if _, _, _, err := m.Inst(1024); err == nil {
		t.Fatalf("Inst(1024): got nil, want error")
	}

	if _, err := m.RunOnce(0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	c, _ := m.CPU(0)
	r := c.Regs()
	r.GPR[x86.EBX] = 0x100
	c.SetRegs(r)

	inst, regs, _, err := m.Inst(0)
	if err != nil {
		t.Fatalf("Inst: %v", err)
	}

	s2 := c.Sregs()

	addr, err := m.Pointer(inst, regs, &s2, 1)
	if err != nil {
		t.Fatalf("Pointer: %v", err)
	}

	if addr != codeAddr+0x102 {
		t.Fatalf("Pointer: got %#x, want %#x", addr, codeAddr+0x102)
	}

	if _, err := m.Pointer(inst, regs, &s2, 0); err == nil {
		t.Fatalf("Pointer to a register operand: got nil, want error")
	}

	lines, err := m.Disasm(codeAddr, 2, 16, "intel")
	if err != nil {
		t.Fatalf("Disasm: %v", err)
	}

	if len(lines) != 2 || !strings.Contains(lines[0], "mov ax, 0x1234") {
		t.Fatalf("Disasm: got %q", lines)
	}

	if got := machine.Asm(inst, 3); !strings.HasPrefix(got, "\"mov") {
		t.Fatalf("Asm: got %s", got)
	}
}

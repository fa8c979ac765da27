package cpu_test

import (
	"testing"

	"github.com/bobuhiro11/gox86/cpu"
	"github.com/bobuhiro11/gox86/x86"
)

func TestLoadSegment(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name   string
		seg    x86.SegReg
		sel    uint16
		vector x86.Vector
		code   uint32
		fault  bool
	}{
		{name: "data", seg: x86.DS, sel: 0x28},
		{name: "null data", seg: x86.ES, sel: 0x0003},
		{name: "not present", seg: x86.DS, sel: 0x30, fault: true, vector: x86.VectorNP, code: 0x30},
		{name: "execute-only code", seg: x86.DS, sel: 0x38, fault: true, vector: x86.VectorGP, code: 0x38},
		{name: "system descriptor", seg: x86.FS, sel: 0x40, fault: true, vector: x86.VectorGP, code: 0x40},
		{name: "beyond the GDT limit", seg: x86.DS, sel: 0x50, fault: true, vector: x86.VectorGP, code: 0x50},
		{name: "null stack", seg: x86.SS, sel: 0, fault: true, vector: x86.VectorGP, code: 0},
		{name: "code as stack", seg: x86.SS, sel: 0x08, fault: true, vector: x86.VectorGP, code: 0x08},
		{name: "stack with wrong RPL", seg: x86.SS, sel: 0x13, fault: true, vector: x86.VectorGP, code: 0x10},
		{name: "ring 3 data from ring 0", seg: x86.GS, sel: 0x23},
		{name: "LDT without an LDT", seg: x86.DS, sel: 0x0c, fault: true, vector: x86.VectorGP, code: 0x0c},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(t, "386DX")
			r.protect(t, 0)
			before := r.cpu.Sregs().Seg[tt.seg]

			err := r.cpu.LoadSegment(tt.seg, tt.sel)

			if !tt.fault {
				if err != nil {
					t.Fatalf("LoadSegment(%v, %#x): %v", tt.seg, tt.sel, err)
				}

				return
			}

			f, ok := x86.IsFault(err)
			if !ok || f.Vector != tt.vector || f.ErrorCode != tt.code {
				t.Fatalf("LoadSegment(%v, %#x): got %v, want %v(%#x)", tt.seg, tt.sel, err, tt.vector, tt.code)
			}

			if after := r.cpu.Sregs().Seg[tt.seg]; after != before {
				t.Fatalf("cache changed on fault: got %+v, want %+v", after, before)
			}
		})
	}
}

func TestLoadSegmentRoundTrip(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")
	r.protect(t, 0)

	if err := r.cpu.LoadSegment(x86.DS, 0x28); err != nil {
		t.Fatalf("LoadSegment: %v", err)
	}

	ds := r.cpu.Sregs().Seg[x86.DS]
	want := x86.PackDescriptor(0x12345600, 0xfff, 0x93, 0x4)

	if got := ds.Descriptor(); got != want {
		t.Fatalf("Descriptor: got %#016x, want %#016x", got, want)
	}

	// the accessed bit is written back to the table
	access, err := r.mem.ReadB(gdtBase + 0x28 + 5)
	if err != nil {
		t.Fatalf("ReadB: %v", err)
	}

	if access != 0x93 {
		t.Fatalf("access byte: got %#x, want 0x93", access)
	}

	if ds.Base != 0x12345600 || ds.LimitHigh != 0xfff || !ds.Valid {
		t.Fatalf("DS: got %+v", ds)
	}
}

func TestNullSegmentAccess(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")
	r.protect(t, 0)
	// mov es, ax with a null selector, then mov eax, es:[ebx]
	r.code(t, 0x8e, 0xc0, 0x26, 0x8b, 0x03)

	if res := r.step(t); res != cpu.Retired {
		t.Fatalf("MOV ES: got %v, want retired", res)
	}

	if res := r.step(t); res != cpu.Faulted {
		t.Fatalf("access through null ES: got %v, want faulted", res)
	}

	if f := r.cpu.LastFault(); f.Vector != x86.VectorGP {
		t.Fatalf("LastFault: got %v, want #GP(0)", f)
	}
}

func TestRealModeLoadKeepsLimit(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")

	s := r.cpu.Sregs()
	s.Seg[x86.DS].Limit = 0xffffffff
	s.Seg[x86.DS].Recalc()
	r.cpu.SetSregs(s)

	if err := r.cpu.LoadSegment(x86.DS, 0x1234); err != nil {
		t.Fatalf("LoadSegment: %v", err)
	}

	ds := r.cpu.Sregs().Seg[x86.DS]
	if ds.Base != 0x12340 || ds.Limit != 0xffffffff {
		t.Fatalf("DS: got base %#x limit %#x, want 0x12340 0xffffffff", ds.Base, ds.Limit)
	}
}

func TestFarJumpProtected(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		sel   uint16
		cpl   uint8
		fault bool
		host  bool
	}{
		{name: "same level", sel: 0x08},
		{name: "data segment", sel: 0x10, fault: true},
		{name: "ring 0 from ring 3", sel: 0x08, cpl: 3, fault: true},
		{name: "through a system descriptor", sel: 0x48, host: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(t, "386DX")
			r.protect(t, tt.cpl)
			// jmp far sel:0x2000
			r.code(t, 0xea, 0x00, 0x20, 0x00, 0x00, byte(tt.sel), byte(tt.sel>>8))

			res, err := r.cpu.Step()

			switch {
			case tt.host:
				if err == nil {
					t.Fatalf("Step: got nil error, want a host error")
				}
			case tt.fault:
				if err != nil || res != cpu.Faulted {
					t.Fatalf("Step: got %v, %v, want faulted", res, err)
				}
			default:
				if err != nil || res != cpu.Retired {
					t.Fatalf("Step: got %v, %v, want retired", res, err)
				}

				if eip := r.cpu.Regs().EIP; eip != 0x2000 {
					t.Fatalf("EIP: got %#x, want 0x2000", eip)
				}
			}
		})
	}
}

func TestLoadSystemRegisters(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")
	r.protect(t, 0)
	r.regs(func(regs *x86.Regs) {
		regs.GPR[x86.EAX] = 0x40
		regs.GPR[x86.ECX] = 0x48
	})
	// lldt ax; ltr cx; sldt dx
	r.code(t, 0x0f, 0x00, 0xd0, 0x0f, 0x00, 0xd9, 0x0f, 0x00, 0xc2)

	for i := 0; i < 3; i++ {
		if res := r.step(t); res != cpu.Retired {
			t.Fatalf("step %d: got %v, want retired", i, res)
		}
	}

	s := r.cpu.Sregs()
	if s.LDT.Base != 0x2000 || s.LDT.Limit != 0x17 {
		t.Fatalf("LDT: got %+v", s.LDT)
	}

	if s.TR.Base != 0x3000 || s.TR.Access&0x0f != 0xb {
		t.Fatalf("TR: got %+v, want a busy TSS at 0x3000", s.TR)
	}

	if dx := r.cpu.Regs().GPR[x86.EDX] & 0xffff; dx != 0x40 {
		t.Fatalf("SLDT: got %#x, want 0x40", dx)
	}
}

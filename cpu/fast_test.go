package cpu_test

import (
	"testing"

	"github.com/bobuhiro11/gox86/cpu"
	"github.com/bobuhiro11/gox86/x86"
	"github.com/google/go-cmp/cmp"
)

func TestSysenter(t *testing.T) {
	t.Parallel()

	r := newRig(t, "PentiumII")
	r.protect(t, 0)
	r.code(t, 0x0f, 0x34)
	r.cpu.SetMSRs(x86.MSRs{SysenterCS: 0x0008, SysenterEIP: 0x00100000, SysenterESP: 0x9000})
	r.regs(func(regs *x86.Regs) { regs.EFLAGS |= x86.EFLAGSxIF })

	if res := r.step(t); res != cpu.Retired {
		t.Fatalf("SYSENTER: got %v, want retired", res)
	}

	regs, s := r.cpu.Regs(), r.cpu.Sregs()

	if regs.EIP != 0x00100000 || regs.GPR[x86.ESP] != 0x9000 {
		t.Fatalf("EIP, ESP: got %#x %#x, want 0x100000 0x9000", regs.EIP, regs.GPR[x86.ESP])
	}

	if cs := s.Seg[x86.CS]; cs.Selector != 0x08 || cs.Base != 0 || cs.LimitHigh != 0xffffffff || !cs.Big() {
		t.Fatalf("CS: got %+v, want flat 32-bit 0x08", cs)
	}

	if ss := s.Seg[x86.SS]; ss.Selector != 0x10 || !ss.Flat() || !ss.Writable() {
		t.Fatalf("SS: got %+v, want flat writable 0x10", ss)
	}

	if regs.EFLAGS&x86.EFLAGSxIF != 0 {
		t.Fatalf("EFLAGS: got %#x, want IF clear", regs.EFLAGS)
	}

	if r.cpu.CPL() != 0 {
		t.Fatalf("CPL: got %d, want 0", r.cpu.CPL())
	}
}

func TestSysexit(t *testing.T) {
	t.Parallel()

	r := newRig(t, "PentiumII")
	r.protect(t, 0)
	r.code(t, 0x0f, 0x35)
	r.cpu.SetMSRs(x86.MSRs{SysenterCS: 0x0008})
	r.regs(func(regs *x86.Regs) {
		regs.GPR[x86.ECX] = 0x7000
		regs.GPR[x86.EDX] = 0x4000
	})

	r.step(t)

	regs, s := r.cpu.Regs(), r.cpu.Sregs()

	if regs.EIP != 0x4000 || regs.GPR[x86.ESP] != 0x7000 {
		t.Fatalf("EIP, ESP: got %#x %#x, want 0x4000 0x7000", regs.EIP, regs.GPR[x86.ESP])
	}

	if s.Seg[x86.CS].Selector != 0x1b || s.Seg[x86.SS].Selector != 0x23 {
		t.Fatalf("CS, SS: got %#x %#x, want 0x1b 0x23", s.Seg[x86.CS].Selector, s.Seg[x86.SS].Selector)
	}

	if r.cpu.CPL() != 3 || r.cpu.Mode() != x86.ProtectedUser {
		t.Fatalf("CPL: got %d (%v), want 3", r.cpu.CPL(), r.cpu.Mode())
	}
}

func TestSyscallSysret(t *testing.T) {
	t.Parallel()

	r := newRig(t, "K6-2")
	r.protect(t, 3)
	r.code(t, 0x0f, 0x05)
	// SYSCALL to 0x10:0x5000, SYSRET back through 0x18
	r.cpu.SetMSRs(x86.MSRs{STAR: 0x0018_0008_00005000})
	r.regs(func(regs *x86.Regs) { regs.EFLAGS |= x86.EFLAGSxIF })

	if _, err := r.mem.WriteAt([]byte{0x0f, 0x07}, 0x5000); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	r.step(t)

	regs := r.cpu.Regs()
	if regs.EIP != 0x5000 || regs.GPR[x86.ECX] != codeBase+2 {
		t.Fatalf("SYSCALL: got EIP %#x ECX %#x, want 0x5000 %#x", regs.EIP, regs.GPR[x86.ECX], codeBase+2)
	}

	if r.cpu.CPL() != 0 || regs.EFLAGS&x86.EFLAGSxIF != 0 {
		t.Fatalf("SYSCALL: got CPL %d EFLAGS %#x, want CPL 0 with IF clear", r.cpu.CPL(), regs.EFLAGS)
	}

	r.pic.pending = []uint8{0x21}
	r.step(t)

	regs = r.cpu.Regs()
	if regs.EIP != codeBase+2 || r.cpu.CPL() != 3 || regs.EFLAGS&x86.EFLAGSxIF == 0 {
		t.Fatalf("SYSRET: got EIP %#x CPL %d EFLAGS %#x", regs.EIP, r.cpu.CPL(), regs.EFLAGS)
	}

	// the instruction after SYSRET runs before the pending interrupt
	if len(r.exc.vectors) != 0 {
		t.Fatalf("interrupt taken right after SYSRET")
	}
}

func TestFastTransitionFaults(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name      string
		model     string
		protected bool
		cpl       uint8
		code      []byte
		msrs      x86.MSRs
	}{
		{name: "sysenter with null CS", model: "PentiumII", protected: true, code: []byte{0x0f, 0x34}},
		{
			name: "sysenter in real mode", model: "PentiumII", code: []byte{0x0f, 0x34},
			msrs: x86.MSRs{SysenterCS: 0x08},
		},
		{name: "sysexit with null CS", model: "PentiumII", protected: true, code: []byte{0x0f, 0x35}},
		{
			name: "sysexit from ring 3", model: "PentiumII", protected: true, cpl: 3, code: []byte{0x0f, 0x35},
			msrs: x86.MSRs{SysenterCS: 0x08},
		},
		{name: "syscall with null STAR", model: "K6-2", protected: true, code: []byte{0x0f, 0x05}},
		{name: "sysret with null STAR", model: "K6-2", protected: true, code: []byte{0x0f, 0x07}},
		{
			name: "sysret from ring 3", model: "K6-2", protected: true, cpl: 3, code: []byte{0x0f, 0x07},
			msrs: x86.MSRs{STAR: 0x0018_0008_00000000},
		},
		{name: "sysenter without SEP", model: "Pentium", protected: true, code: []byte{0x0f, 0x34}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(t, tt.model)
			if tt.protected {
				r.protect(t, tt.cpl)
			}

			r.code(t, tt.code...)
			r.cpu.SetMSRs(tt.msrs)

			regs, sregs := r.cpu.Regs(), r.cpu.Sregs()

			if res := r.step(t); res != cpu.Faulted {
				t.Fatalf("Step: got %v, want faulted", res)
			}

			if len(r.exc.faults) != 1 {
				t.Fatalf("faults: got %d, want 1", len(r.exc.faults))
			}

			if f := r.exc.faults[0]; f.Vector != x86.VectorGP || f.ErrorCode != 0 {
				t.Fatalf("fault: got %v, want #GP(0)", f)
			}

			if diff := cmp.Diff(regs, r.cpu.Regs()); diff != "" {
				t.Fatalf("registers changed (-before +after):\n%s", diff)
			}

			if diff := cmp.Diff(sregs, r.cpu.Sregs()); diff != "" {
				t.Fatalf("segment registers changed (-before +after):\n%s", diff)
			}
		})
	}
}

func TestTransitionFlags(t *testing.T) {
	t.Parallel()

	for tr, want := range map[cpu.Transition]bool{
		cpu.Sysenter: false,
		cpu.Syscall:  false,
		cpu.Sysret:   true,
	} {
		u := cpu.TransitionFlags[tr]
		got := (x86.EFLAGSxIF&^u.Clear | u.Set) != 0

		if got != want {
			t.Errorf("%v: IF after transition got %v, want %v", tr, got, want)
		}
	}

	if u := cpu.TransitionFlags[cpu.Sysexit]; u != (cpu.FlagUpdate{}) {
		t.Errorf("sysexit: got %+v, want no flag change", u)
	}
}

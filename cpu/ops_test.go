package cpu_test

import (
	"testing"

	"github.com/bobuhiro11/gox86/cpu"
	"github.com/bobuhiro11/gox86/cpuid"
	"github.com/bobuhiro11/gox86/memory"
	"github.com/bobuhiro11/gox86/x86"
	"github.com/google/go-cmp/cmp"
)

func TestRepMovs(t *testing.T) {
	t.Parallel()

	r := newRig(t, "8086")
	r.code(t, 0xf3, 0xa4)
	r.regs(func(regs *x86.Regs) {
		regs.GPR[x86.ECX] = 5
		regs.GPR[x86.ESI] = 0x3000
		regs.GPR[x86.EDI] = 0x4000
	})

	if _, err := r.mem.WriteAt([]byte("hello"), 0x3000); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	r.step(t)

	got := make([]byte, 5)
	if _, err := r.mem.ReadAt(got, 0x4000); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("copied: got %q, want %q", got, "hello")
	}

	regs := r.cpu.Regs()
	if regs.GPR[x86.ECX] != 0 || regs.GPR[x86.ESI] != 0x3005 || regs.GPR[x86.EDI] != 0x4005 {
		t.Fatalf("CX SI DI: got %#x %#x %#x", regs.GPR[x86.ECX], regs.GPR[x86.ESI], regs.GPR[x86.EDI])
	}

	if regs.EIP != codeBase+2 {
		t.Fatalf("EIP: got %#x, want %#x", regs.EIP, codeBase+2)
	}
}

func TestRepStosFaultKeepsProgress(t *testing.T) {
	t.Parallel()

	r := newRig(t, "286")
	r.code(t, 0xf3, 0xab)
	r.regs(func(regs *x86.Regs) {
		regs.GPR[x86.EAX] = 0x5555
		regs.GPR[x86.ECX] = 4
		regs.GPR[x86.EDI] = 0x4000
	})
	r.mem.InjectFault(0x4004, memory.Write)

	if res := r.step(t); res != cpu.Faulted {
		t.Fatalf("REP STOSW: got %v, want faulted", res)
	}

	regs := r.cpu.Regs()
	if regs.GPR[x86.ECX] != 2 || regs.GPR[x86.EDI] != 0x4004 || regs.EIP != codeBase {
		t.Fatalf("after fault: got CX %d DI %#x EIP %#x, want 2 0x4004 %#x",
			regs.GPR[x86.ECX], regs.GPR[x86.EDI], regs.EIP, codeBase)
	}

	r.mem.ClearFaults()

	if res := r.step(t); res != cpu.Retired {
		t.Fatalf("restart: got %v, want retired", res)
	}

	if regs := r.cpu.Regs(); regs.GPR[x86.ECX] != 0 || regs.GPR[x86.EDI] != 0x4008 {
		t.Fatalf("after restart: got CX %d DI %#x, want 0 0x4008", regs.GPR[x86.ECX], regs.GPR[x86.EDI])
	}

	for addr := uint32(0x4000); addr < 0x4008; addr += 2 {
		if v := r.word(t, addr); v != 0x5555 {
			t.Fatalf("[%#x]: got %#x, want 0x5555", addr, v)
		}
	}
}

func TestRepCompare(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		code []byte
		al   uint32
		cx   uint32
		di   uint32
		zf   bool
	}{
		{name: "repe cmpsb", code: []byte{0xf3, 0xa6}, cx: 6, di: 0x4004},
		{name: "repne scasb", code: []byte{0xf2, 0xae}, al: 'c', cx: 7, di: 0x4003, zf: true},
		{name: "repne scasb not found", code: []byte{0xf2, 0xae}, al: 'z', cx: 0, di: 0x400a},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(t, "386DX")
			r.code(t, tt.code...)
			r.regs(func(regs *x86.Regs) {
				regs.GPR[x86.EAX] = tt.al
				regs.GPR[x86.ECX] = 10
				regs.GPR[x86.ESI] = 0x3000
				regs.GPR[x86.EDI] = 0x4000
			})

			if _, err := r.mem.WriteAt([]byte("abcXefghij"), 0x3000); err != nil {
				t.Fatalf("WriteAt: %v", err)
			}

			if _, err := r.mem.WriteAt([]byte("abcYefghij"), 0x4000); err != nil {
				t.Fatalf("WriteAt: %v", err)
			}

			r.step(t)

			regs := r.cpu.Regs()
			if regs.GPR[x86.ECX] != tt.cx || regs.GPR[x86.EDI] != tt.di {
				t.Fatalf("CX DI: got %d %#x, want %d %#x", regs.GPR[x86.ECX], regs.GPR[x86.EDI], tt.cx, tt.di)
			}

			if zf := regs.EFLAGS&x86.EFLAGSxZF != 0; zf != tt.zf {
				t.Fatalf("ZF: got %v, want %v", zf, tt.zf)
			}
		})
	}
}

func TestStringDirection(t *testing.T) {
	t.Parallel()

	r := newRig(t, "8086")
	// std; lodsw; cld; lodsb
	r.code(t, 0xfd, 0xad, 0xfc, 0xac)
	r.regs(func(regs *x86.Regs) { regs.GPR[x86.ESI] = 0x3002 })

	if err := r.mem.WriteW(0x3002, 0x1234); err != nil {
		t.Fatalf("WriteW: %v", err)
	}

	r.step(t)
	r.step(t)

	if regs := r.cpu.Regs(); regs.GPR[x86.ESI] != 0x3000 || regs.GPR[x86.EAX] != 0x1234 {
		t.Fatalf("LODSW backwards: got SI %#x AX %#x", regs.GPR[x86.ESI], regs.GPR[x86.EAX])
	}

	r.step(t)
	r.step(t)

	if si := r.cpu.Regs().GPR[x86.ESI]; si != 0x3001 {
		t.Fatalf("LODSB forwards: got SI %#x, want 0x3001", si)
	}
}

func TestPortIO(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")
	// out 0x80, al; in ax, dx; out dx, al
	r.code(t, 0xe6, 0x80, 0xed, 0xee)
	r.io.in[0x3f8] = 0xbeef
	r.regs(func(regs *x86.Regs) {
		regs.GPR[x86.EAX] = 0x42
		regs.GPR[x86.EDX] = 0x3f8
	})

	r.step(t)
	r.step(t)

	if ax := r.cpu.Regs().GPR[x86.EAX]; ax != 0xbeef {
		t.Fatalf("IN: got %#x, want 0xbeef", ax)
	}

	r.step(t)

	if diff := cmp.Diff([]uint32{0x80_0042, 0x3f8_00ef}, r.io.out); diff != "" {
		t.Fatalf("OUT (-want +got):\n%s", diff)
	}
}

func TestIOPrivilege(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		cpl   uint8
		flags uint32
		code  []byte
		want  cpu.Result
	}{
		{name: "in at ring 3", cpl: 3, code: []byte{0xe4, 0x60}, want: cpu.Faulted},
		{name: "in at ring 3 with IOPL 3", cpl: 3, flags: x86.EFLAGSxIOPL, code: []byte{0xe4, 0x60}, want: cpu.Retired},
		{name: "cli at ring 3", cpl: 3, code: []byte{0xfa}, want: cpu.Faulted},
		{name: "cli at ring 0", code: []byte{0xfa}, want: cpu.Retired},
		{name: "hlt at ring 3", cpl: 3, code: []byte{0xf4}, want: cpu.Faulted},
		{name: "outsb at ring 3", cpl: 3, code: []byte{0x6e}, want: cpu.Faulted},
		{name: "in from virtual-8086 mode", flags: x86.EFLAGSxVM, code: []byte{0xe4, 0x60}, want: cpu.Faulted},
		{name: "pushf in virtual-8086 mode", flags: x86.EFLAGSxVM, code: []byte{0x9c}, want: cpu.Faulted},
		{
			name: "pushf in virtual-8086 mode with IOPL 3", flags: x86.EFLAGSxVM | x86.EFLAGSxIOPL,
			code: []byte{0x9c}, want: cpu.Retired,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(t, "386DX")
			r.protect(t, tt.cpl)

			if tt.flags&x86.EFLAGSxVM != 0 {
				// virtual-8086 segments behave like real mode ones
				s := r.cpu.Sregs()
				for i := range s.Seg {
					s.Seg[i].Real(0, true)
				}

				r.cpu.SetSregs(s)
			}

			r.code(t, tt.code...)
			r.regs(func(regs *x86.Regs) { regs.EFLAGS |= tt.flags })

			if res := r.step(t); res != tt.want {
				t.Fatalf("Step: got %v, want %v", res, tt.want)
			}

			if tt.want == cpu.Faulted {
				if f := r.cpu.LastFault(); f.Vector != x86.VectorGP {
					t.Fatalf("LastFault: got %v, want #GP", f)
				}
			}
		})
	}
}

func TestPopfPrivilege(t *testing.T) {
	t.Parallel()

	const image = x86.EFLAGSxCF | x86.EFLAGSxIF | x86.EFLAGSxIOPL | x86.EFLAGSxVM

	for _, tt := range []struct {
		name      string
		protected bool
		cpl       uint8
		code      []byte
		want      uint32
	}{
		{name: "real mode", code: []byte{0x66, 0x9d}, want: x86.EFLAGSxCF | x86.EFLAGSxIF | x86.EFLAGSxIOPL},
		{name: "ring 0", protected: true, code: []byte{0x9d}, want: x86.EFLAGSxCF | x86.EFLAGSxIF | x86.EFLAGSxIOPL},
		{name: "ring 3", protected: true, cpl: 3, code: []byte{0x9d}, want: x86.EFLAGSxCF},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(t, "386DX")
			if tt.protected {
				r.protect(t, tt.cpl)
			}

			// POPFD: 32-bit code segments need no operand size prefix
			r.code(t, tt.code...)

			if err := r.mem.WriteL(stackTop, image); err != nil {
				t.Fatalf("WriteL: %v", err)
			}

			r.step(t)

			got := r.cpu.Regs().EFLAGS &^ x86.EFLAGSxFixed
			if got != tt.want {
				t.Fatalf("EFLAGS: got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestCPUID(t *testing.T) {
	t.Parallel()

	r := newRig(t, "Pentium")
	r.code(t, 0x0f, 0xa2)
	r.step(t)

	eax, ebx, ecx, edx := cpuid.Leaf(r.cpu.Model(), 0)
	regs := r.cpu.Regs()
	got := []uint32{regs.GPR[x86.EAX], regs.GPR[x86.EBX], regs.GPR[x86.ECX], regs.GPR[x86.EDX]}

	if diff := cmp.Diff([]uint32{eax, ebx, ecx, edx}, got); diff != "" {
		t.Fatalf("CPUID leaf 0 (-want +got):\n%s", diff)
	}

	if v := cpuid.Vendor(ebx, ecx, edx); v != "GenuineIntel" {
		t.Fatalf("vendor: got %q, want GenuineIntel", v)
	}
}

func TestMSRAccess(t *testing.T) {
	t.Parallel()

	r := newRig(t, "Pentium")
	// wrmsr; rdmsr; rdmsr
	r.code(t, 0x0f, 0x30, 0x0f, 0x32, 0x0f, 0x32)
	r.regs(func(regs *x86.Regs) {
		regs.GPR[x86.ECX] = x86.MSRSysenterCS
		regs.GPR[x86.EAX] = 0x08
	})

	r.step(t)

	if cs := r.cpu.MSRs().SysenterCS; cs != 0x08 {
		t.Fatalf("SysenterCS: got %#x, want 0x8", cs)
	}

	r.regs(func(regs *x86.Regs) { regs.GPR[x86.EAX] = 0 })
	r.step(t)

	if eax := r.cpu.Regs().GPR[x86.EAX]; eax != 0x08 {
		t.Fatalf("RDMSR: got %#x, want 0x8", eax)
	}

	r.regs(func(regs *x86.Regs) { regs.GPR[x86.ECX] = 0x1234 })

	if res := r.step(t); res != cpu.Faulted {
		t.Fatalf("RDMSR of an unknown index: got %v, want faulted", res)
	}
}

func TestTimeStampCounter(t *testing.T) {
	t.Parallel()

	r := newRig(t, "Pentium")
	// wrmsr to the TSC; rdtsc
	r.code(t, 0x0f, 0x30, 0x0f, 0x31)
	r.regs(func(regs *x86.Regs) {
		regs.GPR[x86.ECX] = x86.MSRTSC
		regs.GPR[x86.EAX] = 0
		regs.GPR[x86.EDX] = 1
	})

	r.step(t)
	r.step(t)

	regs := r.cpu.Regs()
	if regs.GPR[x86.EDX] != 1 || regs.GPR[x86.EAX] == 0 || regs.GPR[x86.EAX] > 1000 {
		t.Fatalf("RDTSC: got %#x:%#x, want a little above 1:0", regs.GPR[x86.EDX], regs.GPR[x86.EAX])
	}
}

func TestControlRegisters(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")
	// mov eax, cr0; or al, 1; mov cr0, eax; jmp short $+2
	r.code(t, 0x0f, 0x20, 0xc0, 0x0c, 0x01, 0x0f, 0x22, 0xc0, 0xeb, 0x00)

	r.step(t)

	if eax := r.cpu.Regs().GPR[x86.EAX]; eax&x86.CR0xET == 0 {
		t.Fatalf("CR0: got %#x, want ET set", eax)
	}

	r.step(t)
	r.step(t)

	if r.cpu.Mode() != x86.ProtectedSupervisor {
		t.Fatalf("Mode: got %v, want protected-supervisor", r.cpu.Mode())
	}

	// the real mode code segment cache still works
	if res := r.step(t); res != cpu.Retired {
		t.Fatalf("JMP: got %v, want retired", res)
	}
}

func TestDescriptorTables(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")
	// lgdt [0x3000]; sgdt [0x3010]
	r.code(t, 0x0f, 0x01, 0x16, 0x00, 0x30, 0x0f, 0x01, 0x06, 0x10, 0x30)

	if _, err := r.mem.WriteAt([]byte{0x27, 0x00, 0x78, 0x56, 0x34, 0x12}, 0x3000); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	r.step(t)

	// a 16-bit operand loads a 24-bit base
	if gdt := r.cpu.Sregs().GDT; gdt != (x86.Descriptor{Base: 0x345678, Limit: 0x27}) {
		t.Fatalf("GDTR: got %+v", gdt)
	}

	r.step(t)

	got := make([]byte, 6)
	if _, err := r.mem.ReadAt(got, 0x3010); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	if diff := cmp.Diff([]byte{0x27, 0x00, 0x78, 0x56, 0x34, 0x00}, got); diff != "" {
		t.Fatalf("SGDT (-want +got):\n%s", diff)
	}
}

func TestSoftwareInterruptAndIret(t *testing.T) {
	t.Parallel()

	r := newRig(t, "8086")
	// int 0x21; iret
	r.code(t, 0xcd, 0x21, 0xcf)

	r.step(t)

	if diff := cmp.Diff([]uint8{0x21}, r.exc.vectors); diff != "" {
		t.Fatalf("vectors (-want +got):\n%s", diff)
	}

	if !r.exc.soft[0] || r.exc.eips[0] != codeBase+2 {
		t.Fatalf("INT: got soft %v at %#x, want soft at %#x", r.exc.soft[0], r.exc.eips[0], codeBase+2)
	}

	// frame for IRET: IP, CS, FLAGS
	for i, v := range []uint16{0x2000, 0x0100, x86.EFLAGSxCF | x86.EFLAGSxIF} {
		if err := r.mem.WriteW(stackTop+2*uint32(i), v); err != nil {
			t.Fatalf("WriteW: %v", err)
		}
	}

	r.step(t)

	regs, cs := r.cpu.Regs(), r.cpu.Sregs().Seg[x86.CS]
	if regs.EIP != 0x2000 || cs.Selector != 0x100 || cs.Base != 0x1000 {
		t.Fatalf("IRET: got %04x:%04x, want 0100:2000", cs.Selector, regs.EIP)
	}

	if regs.EFLAGS&(x86.EFLAGSxCF|x86.EFLAGSxIF) != x86.EFLAGSxCF|x86.EFLAGSxIF {
		t.Fatalf("EFLAGS: got %#x, want CF and IF", regs.EFLAGS)
	}

	if regs.GPR[x86.ESP] != stackTop+6 {
		t.Fatalf("SP: got %#x, want %#x", regs.GPR[x86.ESP], stackTop+6)
	}
}

func TestDivideError(t *testing.T) {
	t.Parallel()

	r := newRig(t, "386DX")
	// div bl
	r.code(t, 0xf6, 0xf3)
	r.regs(func(regs *x86.Regs) { regs.GPR[x86.EAX] = 0x1234 })

	if res := r.step(t); res != cpu.Faulted {
		t.Fatalf("DIV: got %v, want faulted", res)
	}

	if f := r.cpu.LastFault(); f.Vector != x86.VectorDE || f.HasCode {
		t.Fatalf("LastFault: got %v, want #DE", f)
	}

	if regs := r.cpu.Regs(); regs.EIP != codeBase || regs.GPR[x86.EAX] != 0x1234 {
		t.Fatalf("state: got EIP %#x AX %#x, want unchanged", regs.EIP, regs.GPR[x86.EAX])
	}
}

func TestControlFlow(t *testing.T) {
	t.Parallel()

	r := newRig(t, "286")
	r.code(t,
		0xe8, 0x05, 0x00, // call +5
		0xb9, 0x03, 0x00, // mov cx, 3
		0xe2, 0xfe, // loop $
		0x31, 0xc0, // xor ax, ax
		0x74, 0x01, // jz +1
		0xf4, // hlt
		0xc3, // ret
	)

	want := []uint32{
		codeBase + 8,  // call
		codeBase + 10, // xor
		codeBase + 13, // jz taken
		codeBase + 3,  // ret
		codeBase + 6,  // mov
		codeBase + 6,  // loop
		codeBase + 6,  // loop
		codeBase + 8,  // loop falls through
	}

	for i, eip := range want {
		r.step(t)

		if got := r.cpu.Regs().EIP; got != eip {
			t.Fatalf("step %d: got EIP %#x, want %#x", i, got, eip)
		}
	}

	if sp := r.cpu.Regs().GPR[x86.ESP]; sp != stackTop {
		t.Fatalf("SP: got %#x, want %#x", sp, stackTop)
	}
}

func TestBranchBeyondLimitRollsBack(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		code []byte
		zf   bool
	}{
		{name: "loop", code: []byte{0xe2, 0x7f}},
		{name: "loope", code: []byte{0xe1, 0x7f}, zf: true},
		{name: "call", code: []byte{0xe8, 0x00, 0x01, 0x00, 0x00}},
		{name: "jmp", code: []byte{0xeb, 0x7f}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(t, "386DX")
			r.protect(t, 0)

			s := r.cpu.Sregs()
			s.Seg[x86.CS].Load(0x08, x86.PackDescriptor(0, codeBase+0x10, 0x9b, 0x4), true)
			r.cpu.SetSregs(s)

			r.code(t, tt.code...)
			r.regs(func(regs *x86.Regs) {
				regs.GPR[x86.ECX] = 5
				if tt.zf {
					regs.EFLAGS |= x86.EFLAGSxZF
				}
			})

			before := r.cpu.Regs()

			if res := r.step(t); res != cpu.Faulted {
				t.Fatalf("Step: got %v, want faulted", res)
			}

			if diff := cmp.Diff(before, r.cpu.Regs()); diff != "" {
				t.Fatalf("registers changed (-before +after):\n%s", diff)
			}

			if len(r.exc.faults) != 1 || r.exc.faults[0].Vector != x86.VectorGP {
				t.Fatalf("faults: got %v, want one #GP", r.exc.faults)
			}
		})
	}
}

func TestArithmeticFlags(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		model string
		code  []byte
		ax    uint32
		bx    uint32
		want  uint32
		// wantBX is checked when non-zero
		wantBX uint32
		flags  uint32
		// only restricts the checked flags
		only uint32
	}{
		{name: "add carry", code: []byte{0x00, 0xd8}, ax: 0xff, bx: 0x01, want: 0x00,
			flags: x86.EFLAGSxCF | x86.EFLAGSxZF | x86.EFLAGSxAF | x86.EFLAGSxPF},
		{name: "sub borrow", code: []byte{0x28, 0xd8}, ax: 0x00, bx: 0x01, want: 0xff,
			flags: x86.EFLAGSxCF | x86.EFLAGSxSF | x86.EFLAGSxAF | x86.EFLAGSxPF},
		{name: "add overflow", code: []byte{0x00, 0xd8}, ax: 0x7f, bx: 0x01, want: 0x80,
			flags: x86.EFLAGSxOF | x86.EFLAGSxSF | x86.EFLAGSxAF},
		{name: "shl", code: []byte{0xd0, 0xe0}, ax: 0x81, want: 0x02, flags: x86.EFLAGSxCF | x86.EFLAGSxOF},
		{name: "imul", code: []byte{0xf6, 0xeb}, ax: 0xff, bx: 0x02, want: 0xfffe, only: x86.EFLAGSxCF | x86.EFLAGSxOF},
		// xadd ax, ax keeps the sum
		{name: "xadd same register", model: "486DX2", code: []byte{0x0f, 0xc1, 0xc0}, ax: 3, want: 6},
		// xadd ax, bx
		{name: "xadd register", model: "486DX2", code: []byte{0x0f, 0xc1, 0xd8}, ax: 3, bx: 4, want: 7, wantBX: 3},
		// cmpxchg ax, bx with ax as both accumulator and destination
		{name: "cmpxchg equal", model: "486DX2", code: []byte{0x0f, 0xb1, 0xd8}, ax: 3, bx: 9, want: 9, wantBX: 9,
			flags: x86.EFLAGSxZF},
		// cmpxchg bx, ax
		{name: "cmpxchg differ", model: "486DX2", code: []byte{0x0f, 0xb1, 0xc3}, ax: 3, bx: 9, want: 9, wantBX: 9,
			flags: x86.EFLAGSxCF | x86.EFLAGSxSF},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			model := tt.model
			if model == "" {
				model = "386DX"
			}

			r := newRig(t, model)
			r.code(t, tt.code...)
			r.regs(func(regs *x86.Regs) {
				regs.GPR[x86.EAX] = tt.ax
				regs.GPR[x86.EBX] = tt.bx
			})

			r.step(t)

			regs := r.cpu.Regs()
			if regs.GPR[x86.EAX] != tt.want {
				t.Fatalf("result: got %#x, want %#x", regs.GPR[x86.EAX], tt.want)
			}

			if tt.wantBX != 0 && regs.GPR[x86.EBX] != tt.wantBX {
				t.Fatalf("BX: got %#x, want %#x", regs.GPR[x86.EBX], tt.wantBX)
			}

			checked := uint32(x86.EFLAGSxCF | x86.EFLAGSxZF | x86.EFLAGSxSF | x86.EFLAGSxOF)
			if tt.only != 0 {
				checked = tt.only
			}

			if got := regs.EFLAGS & checked; got != tt.flags&checked {
				t.Fatalf("flags: got %#x, want %#x", got, tt.flags&checked)
			}
		})
	}
}

// Package monitor is an interactive debugger for a machine: stepping,
// breakpoints, register and memory inspection, and snapshots.
package monitor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/beevik/cmd"
	"github.com/bobuhiro11/gox86/machine"
	"github.com/bobuhiro11/gox86/x86"
)

var (
	errQuit   = errors.New("exiting program")
	errNoSnap = errors.New("snapshots are not available")
)

type state int32

const (
	stateProcessingCommands state = iota
	stateRunning
	stateBreakpoint
	stateInterrupted
)

// Snapshotter saves and restores the machine the monitor is attached to.
type Snapshotter interface {
	SaveSnapshot(path string) error
	LoadSnapshot(path string) error
}

// Host reads monitor commands and applies them to a machine.
type Host struct {
	m    *machine.Machine
	snap Snapshotter
	cpu  int

	input       *bufio.Scanner
	output      *bufio.Writer
	interactive bool
	lastCmd     *cmd.Command
	lastArgs    []string
	width       int

	settings    *settings
	breakpoints map[uint32]struct{}
	state       atomic.Int32
}

// New creates a monitor for m. s may be nil, which disables the snapshot
// commands.
func New(m *machine.Machine, s Snapshotter) *Host {
	return &Host{
		m:           m,
		snap:        s,
		width:       80,
		settings:    newSettings(),
		breakpoints: map[uint32]struct{}{},
	}
}

// SetWidth sets the terminal width used to lay out memory dumps.
func (h *Host) SetWidth(cols int) {
	h.width = cols
}

// RunCommands accepts monitor commands from a reader and outputs the
// results to a writer. If the commands are interactive, a prompt is
// displayed while the host waits for the next command to be entered.
func (h *Host) RunCommands(r io.Reader, w io.Writer, interactive bool) {
	h.input = bufio.NewScanner(r)
	h.output = bufio.NewWriter(w)
	h.interactive = interactive

	h.displayInst()

	for {
		h.prompt()

		line, err := h.getLine()
		if err != nil {
			break
		}

		var (
			c    *cmd.Command
			args []string
		)

		switch {
		case line != "":
			n, a, err := cmds.Lookup(line)

			switch {
			case errors.Is(err, cmd.ErrNotFound):
				h.println("Command not found.")

				continue
			case errors.Is(err, cmd.ErrAmbiguous):
				h.println("Command is ambiguous.")

				continue
			case err != nil:
				h.printf("ERROR: %v.\n", err)

				continue
			}

			// a bare subtree name lists its commands
			if t, ok := n.(*cmd.Tree); ok {
				t.DisplayHelp(h.output)
				h.flush()

				continue
			}

			c, args = n.(*cmd.Command), a
		case h.lastCmd != nil:
			c, args = h.lastCmd, h.lastArgs
		default:
			continue
		}

		h.lastCmd, h.lastArgs = c, args

		handler, ok := c.Data.(func(*Host, *cmd.Command, []string) error)
		if !ok {
			continue
		}

		if err := handler(h, c, args); err != nil {
			break
		}
	}

	h.flush()
}

// Break interrupts a running CPU.
func (h *Host) Break() {
	h.state.CompareAndSwap(int32(stateRunning), int32(stateInterrupted))
}

func (h *Host) printf(format string, args ...any) {
	fmt.Fprintf(h.output, format, args...)
	h.flush()
}

func (h *Host) println(args ...any) {
	fmt.Fprintln(h.output, args...)
	h.flush()
}

func (h *Host) flush() {
	h.output.Flush()
}

func (h *Host) getLine() (string, error) {
	if h.input.Scan() {
		return strings.TrimSpace(h.input.Text()), nil
	}

	if h.input.Err() != nil {
		return "", h.input.Err()
	}

	return "", io.EOF
}

func (h *Host) prompt() {
	if h.interactive {
		h.printf("* ")
	}
}

func (h *Host) displayHelpText(c *cmd.Command) {
	if c.Usage != "" {
		h.printf("Syntax: %s\n", c.Usage)
	} else {
		h.println("<no help text>")
	}
}

// parseNum parses an address or value. HexMode makes bare numbers
// hexadecimal; otherwise Go number prefixes apply.
func (h *Host) parseNum(s string) (uint32, error) {
	base := 0

	if h.settings.HexMode {
		base = 16
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "$")
	}

	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}

	return uint32(v), nil
}

// pc is the linear address of CS:EIP.
func (h *Host) pc() uint32 {
	c, _ := h.m.CPU(h.cpu)

	return c.Sregs().Seg[x86.CS].Base + c.Regs().EIP
}

func (h *Host) displayInst() {
	if !h.interactive {
		return
	}

	h.println(h.instLine())
}

func (h *Host) instLine() string {
	c, _ := h.m.CPU(h.cpu)
	cs := c.Sregs().Seg[x86.CS].Selector

	_, r, s, err := h.m.Inst(h.cpu)
	if err != nil {
		return fmt.Sprintf("%04x:%08x  %v", cs, c.Regs().EIP, err)
	}

	return fmt.Sprintf("%04x:%08x  %s", cs, r.EIP, s)
}

func (h *Host) cmdBreakpointList(_ *cmd.Command, _ []string) error {
	addrs := make([]uint32, 0, len(h.breakpoints))
	for a := range h.breakpoints {
		addrs = append(addrs, a)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	h.println("Addr")
	h.println("--------")

	for _, a := range addrs {
		h.printf("%08x\n", a)
	}

	return nil
}

func (h *Host) cmdBreakpointAdd(c *cmd.Command, args []string) error {
	if len(args) < 1 {
		h.displayHelpText(c)

		return nil
	}

	addr, err := h.parseNum(args[0])
	if err != nil {
		h.printf("%v\n", err)

		return nil
	}

	h.breakpoints[addr] = struct{}{}
	h.printf("Breakpoint added at %#08x.\n", addr)

	return nil
}

func (h *Host) cmdBreakpointRemove(c *cmd.Command, args []string) error {
	if len(args) < 1 {
		h.displayHelpText(c)

		return nil
	}

	addr, err := h.parseNum(args[0])
	if err != nil {
		h.printf("%v\n", err)

		return nil
	}

	if _, ok := h.breakpoints[addr]; !ok {
		h.printf("No breakpoint was set on %#08x.\n", addr)

		return nil
	}

	delete(h.breakpoints, addr)
	h.printf("Breakpoint at %#08x removed.\n", addr)

	return nil
}

func (h *Host) cmdCPU(c *cmd.Command, args []string) error {
	if len(args) < 1 {
		h.printf("CPU %d of %d.\n", h.cpu, h.m.NCPUs())

		return nil
	}

	i, err := h.parseNum(args[0])
	if err != nil {
		h.printf("%v\n", err)

		return nil
	}

	if int(i) >= h.m.NCPUs() {
		h.printf("No CPU %d.\n", i)

		return nil
	}

	h.cpu = int(i)
	h.settings.NextDisasmAddr = 0
	h.displayInst()

	return nil
}

func (h *Host) cmdDisassemble(c *cmd.Command, args []string) error {
	addr := h.settings.NextDisasmAddr
	if addr == 0 {
		addr = h.pc()
	}

	if len(args) > 0 && args[0] != "$" {
		a, err := h.parseNum(args[0])
		if err != nil {
			h.printf("%v\n", err)

			return nil
		}

		addr = a
	}

	lines := h.settings.DisasmLines

	if len(args) > 1 {
		n, err := h.parseNum(args[1])
		if err != nil {
			h.printf("%v\n", err)

			return nil
		}

		lines = int(n)
	}

	mode, err := h.m.CodeMode(h.cpu)
	if err != nil {
		return err
	}

	out, err := h.m.Disasm(addr, lines, mode, h.settings.Syntax)
	if err != nil {
		h.printf("%v\n", err)
	}

	for _, l := range out {
		h.println(l)

		addr += uint32(len(strings.Fields(l)[1]) / 2)
	}

	h.settings.NextDisasmAddr = addr

	h.lastArgs = []string{"$", strconv.Itoa(lines)}

	return nil
}

func (h *Host) cmdHelp(_ *cmd.Command, args []string) error {
	defer h.flush()

	if len(args) == 0 {
		cmds.DisplayHelp(h.output)

		return nil
	}

	n, _, err := cmds.Lookup(strings.Join(args, " "))
	if err != nil {
		h.printf("%v\n", err)

		return nil
	}

	c, ok := n.(*cmd.Command)
	if !ok {
		n.DisplayHelp(h.output)

		return nil
	}

	if c.Usage != "" {
		h.printf("Syntax: %s\n\n", c.Usage)
	}

	c.DisplayDescription(h.output)
	c.DisplayShortcuts(h.output)

	return nil
}

func (h *Host) cmdInterrupt(c *cmd.Command, args []string) error {
	if len(args) < 1 {
		h.displayHelpText(c)

		return nil
	}

	v, err := h.parseNum(args[0])
	if err != nil || v > 0xff {
		h.printf("Invalid vector %q.\n", args[0])

		return nil
	}

	if err := h.m.InjectIRQ(h.cpu, uint8(v)); err != nil {
		h.printf("%v\n", err)

		return nil
	}

	h.printf("Interrupt %#02x queued on CPU %d.\n", v, h.cpu)

	return nil
}

func (h *Host) cmdMemoryDump(c *cmd.Command, args []string) error {
	if len(args) < 1 {
		h.displayHelpText(c)

		return nil
	}

	var addr uint32

	switch args[0] {
	case "$":
		addr = h.settings.NextMemDumpAddr
	case ".":
		addr = h.pc()
	default:
		a, err := h.parseNum(args[0])
		if err != nil {
			h.printf("%v\n", err)

			return nil
		}

		addr = a
	}

	n := uint32(h.settings.MemDumpBytes)

	if len(args) > 1 {
		v, err := h.parseNum(args[1])
		if err != nil {
			h.printf("%v\n", err)

			return nil
		}

		n = v
	}

	h.dumpMemory(addr, n)

	h.settings.NextMemDumpAddr = addr + n
	h.lastArgs = []string{"$", strconv.FormatUint(uint64(n), 10)}

	return nil
}

// dumpMemory prints n bytes from addr, 16 per line on wide terminals and
// 8 otherwise.
func (h *Host) dumpMemory(addr, n uint32) {
	perLine := uint32(16)
	if h.width < 80 {
		perLine = 8
	}

	b := make([]byte, n)

	got, err := h.m.ReadBytes(h.cpu, b, addr)
	if err != nil {
		h.printf("%v\n", err)

		return
	}

	b = b[:got]

	for off := 0; off < len(b); off += int(perLine) {
		end := min(off+int(perLine), len(b))
		row := b[off:end]

		var hex, ascii strings.Builder

		for i := uint32(0); i < perLine; i++ {
			if int(i) < len(row) {
				fmt.Fprintf(&hex, "%02x ", row[i])
				ascii.WriteByte(printable(row[i]))
			} else {
				hex.WriteString("   ")
			}
		}

		h.printf("%08x  %s |%s|\n", addr+uint32(off), hex.String(), ascii.String())
	}
}

func printable(b byte) byte {
	if b < 0x20 || b > 0x7e {
		return '.'
	}

	return b
}

func (h *Host) cmdMemoryWrite(c *cmd.Command, args []string) error {
	if len(args) < 2 {
		h.displayHelpText(c)

		return nil
	}

	addr, err := h.parseNum(args[0])
	if err != nil {
		h.printf("%v\n", err)

		return nil
	}

	v, err := h.parseNum(args[1])
	if err != nil {
		h.printf("%v\n", err)

		return nil
	}

	if err := h.m.WriteWord(h.cpu, addr, v); err != nil {
		h.printf("%v\n", err)

		return nil
	}

	h.printf("Wrote %#08x at %#08x.\n", v, addr)

	return nil
}

func (h *Host) cmdQuit(_ *cmd.Command, _ []string) error {
	return errQuit
}

var gprNames = [8]string{"EAX", "ECX", "EDX", "EBX", "ESP", "EBP", "ESI", "EDI"} //nolint:gochecknoglobals

func (h *Host) cmdRegisters(_ *cmd.Command, _ []string) error {
	c, _ := h.m.CPU(h.cpu)
	r := c.Regs()

	for i, name := range gprNames {
		h.printf("%s=%08x", name, r.GPR[i])

		if i%4 == 3 {
			h.println()
		} else {
			h.printf(" ")
		}
	}

	h.printf("EIP=%08x EFLAGS=%08x CPL=%d mode=%v\n", r.EIP, r.EFLAGS, c.CPL(), c.Mode())
	h.printf("cycles=%d queue=%d steps=%d halted=%v\n",
		c.Cycles(), c.Timing().Queue(), h.m.Steps(h.cpu), c.Halted())
	h.println(h.instLine())

	return nil
}

func (h *Host) cmdSegments(_ *cmd.Command, _ []string) error {
	c, _ := h.m.CPU(h.cpu)
	s := c.Sregs()

	h.println("Seg Sel  Base     Limit    Access")

	for i, seg := range s.Seg {
		h.printf("%-3v %04x %08x %08x %02x%02x\n",
			x86.SegReg(i), seg.Selector, seg.Base, seg.Limit, seg.ARHigh, seg.Access)
	}

	h.printf("LDT %04x %08x %08x\n", s.LDT.Selector, s.LDT.Base, s.LDT.Limit)
	h.printf("TR  %04x %08x %08x\n", s.TR.Selector, s.TR.Base, s.TR.Limit)
	h.printf("GDT      %08x %04x\n", s.GDT.Base, s.GDT.Limit)
	h.printf("IDT      %08x %04x\n", s.IDT.Base, s.IDT.Limit)
	h.printf("CR0=%08x CR2=%08x CR3=%08x CR4=%08x\n", s.CR0, s.CR2, s.CR3, s.CR4)

	return nil
}

func (h *Host) cmdRun(_ *cmd.Command, _ []string) error {
	h.printf("Running from %#08x. Press ctrl-C to break.\n", h.pc())

	h.state.Store(int32(stateRunning))
	defer h.state.Store(int32(stateProcessingCommands))

	limit := h.settings.StepLimit

	for n := 0; limit == 0 || n < limit; n++ {
		more, err := h.m.RunOnce(h.cpu)
		if err != nil {
			h.printf("Host fault: %v\n", err)

			break
		}

		if !more {
			h.println("CPU stopped.")

			break
		}

		if _, ok := h.breakpoints[h.pc()]; ok {
			h.state.Store(int32(stateBreakpoint))
			h.printf("Breakpoint hit at %#08x.\n", h.pc())
		}

		if state(h.state.Load()) != stateRunning {
			break
		}
	}

	h.settings.NextDisasmAddr = 0
	h.println(h.instLine())

	return nil
}

func (h *Host) cmdSet(c *cmd.Command, args []string) error {
	switch len(args) {
	case 0:
		h.println("Variables:")
		h.settings.Display(h.output)
		h.flush()

		return nil
	case 1:
		h.displayHelpText(c)

		return nil
	}

	key, value := strings.ToLower(args[0]), strings.Join(args[1:], " ")

	if h.setRegister(key, value) {
		return nil
	}

	var err error

	switch h.settings.Kind(key) {
	case reflect.Invalid:
		err = fmt.Errorf("setting %q not found", key)
	case reflect.String:
		err = h.settings.Set(key, value)
	case reflect.Bool:
		var b bool

		if b, err = strconv.ParseBool(value); err == nil {
			err = h.settings.Set(key, b)
		}
	default:
		var v uint32

		if v, err = h.parseNum(value); err == nil {
			err = h.settings.Set(key, v)
		}
	}

	if err != nil {
		h.printf("%v\n", err)

		return nil
	}

	h.println("Setting updated.")

	return nil
}

// setRegister handles "set <register> <value>". It reports whether key
// named a register.
func (h *Host) setRegister(key, value string) bool {
	c, _ := h.m.CPU(h.cpu)
	r := c.Regs()

	var dst *uint32

	switch key {
	case "eip":
		dst = &r.EIP
	case "eflags":
		dst = &r.EFLAGS
	default:
		for i, name := range gprNames {
			if strings.EqualFold(name, key) {
				dst = &r.GPR[i]
			}
		}
	}

	if dst == nil {
		return false
	}

	v, err := h.parseNum(value)
	if err != nil {
		h.printf("%v\n", err)

		return true
	}

	*dst = v
	if key == "eflags" {
		*dst |= x86.EFLAGSxFixed
	}

	c.SetRegs(r)
	h.printf("Register %s set to %#08x.\n", strings.ToUpper(key), *dst)

	return true
}

func (h *Host) cmdSnapshotSave(c *cmd.Command, args []string) error {
	return h.snapshot(c, args, "saved to", func(s Snapshotter, path string) error { return s.SaveSnapshot(path) })
}

func (h *Host) cmdSnapshotLoad(c *cmd.Command, args []string) error {
	return h.snapshot(c, args, "loaded from", func(s Snapshotter, path string) error { return s.LoadSnapshot(path) })
}

func (h *Host) snapshot(c *cmd.Command, args []string, verb string, f func(Snapshotter, string) error) error {
	if len(args) < 1 {
		h.displayHelpText(c)

		return nil
	}

	if h.snap == nil {
		h.printf("%v\n", errNoSnap)

		return nil
	}

	if err := f(h.snap, args[0]); err != nil {
		h.printf("%v\n", err)

		return nil
	}

	h.printf("Snapshot %s %s.\n", verb, args[0])

	return nil
}

func (h *Host) cmdStep(c *cmd.Command, args []string) error {
	count := 1

	if len(args) > 0 {
		n, err := h.parseNum(args[0])
		if err != nil {
			h.printf("%v\n", err)

			return nil
		}

		count = int(n)
	}

	for i := 0; i < count; i++ {
		more, err := h.m.RunOnce(h.cpu)
		if err != nil {
			h.printf("Host fault: %v\n", err)

			break
		}

		if count-i <= h.settings.MaxStepLines {
			h.println(h.instLine())
		}

		if !more {
			h.println("CPU stopped.")

			break
		}
	}

	h.settings.NextDisasmAddr = 0

	return nil
}

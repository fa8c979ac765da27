package flag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/gox86/machine"
	"github.com/bobuhiro11/gox86/monitor"
	"github.com/bobuhiro11/gox86/probe"
	"github.com/bobuhiro11/gox86/term"
	"github.com/bobuhiro11/gox86/vmm"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
)

var (
	errProfile = errors.New("unknown profile mode")
	errBits    = errors.New("code size must be 16 or 32")
)

// Globals are flags shared by every command.
type Globals struct {
	Config      kong.ConfigFlag `help:"TOML file with flag values." placeholder:"FILE"`
	LogLevel    string          `help:"Log level." enum:"trace,debug,info,warn,error" default:"info" name:"log-level"`
	LogJSON     bool            `help:"Log as JSON." name:"log-json"`
	Profile     string          `help:"Profile the emulator." enum:"none,cpu,mem,block,mutex,trace" default:"none"`
	ProfilePath string          `help:"Directory for profile output." default:"." name:"profile-path"`

	In      io.Reader           `kong:"-"`
	Out     io.Writer           `kong:"-"`
	profile interface{ Stop() } `kong:"-"`
}

// MachineFlags describe the machine a command builds.
type MachineFlags struct {
	CPU      string   `help:"CPU model, see the probe command." default:"386DX" name:"cpu"`
	NCPUs    int      `help:"Number of CPUs." short:"c" default:"1" name:"ncpus"`
	Mem      string   `help:"Memory size as number[gGmMkK], defaults to M." short:"m" default:"1" name:"mem"`
	Mode     string   `help:"Entry mode." enum:"reset,real,protected" default:"reset" name:"mode"`
	BIOS     string   `help:"Firmware image placed at the top of the address space." type:"existingfile" name:"bios"`
	Image    []string `help:"Raw image as path@address." short:"i" name:"image"`
	Entry    string   `help:"Entry point as segment:offset in real mode or offset in protected mode." default:"0" name:"entry"`
	Stack    string   `help:"Initial stack pointer." default:"0xfffe" name:"stack"`
	Trace    string   `help:"Instructions between trace lines, 0 disables tracing." short:"T" default:"0" name:"trace"`
	MaxSteps int      `help:"Stop every CPU after this many instructions, 0 for no limit." name:"max-steps"`
	PostCode bool     `help:"Print POST codes written to port 0x80." name:"post-code"`
	NoSerial bool     `help:"Detach the serial console." name:"no-serial"`
}

type CLI struct {
	Globals

	Run      RunCMD      `cmd:"" help:"Boot a machine."`
	Monitor  MonitorCMD  `cmd:"" help:"Debug a machine interactively."`
	Disasm   DisasmCMD   `cmd:"" help:"Disassemble a raw image."`
	Probe    ProbeCMD    `cmd:"" help:"List CPU models or show the CPUID leaves of one."`
	Incoming IncomingCMD `cmd:"" help:"Wait for a machine migrated from another process."`
	Migrate  MigrateCMD  `cmd:"" help:"Migrate a running machine to another host."`
	Stop     StopCMD     `cmd:"" help:"Stop a running machine."`
}

type RunCMD struct {
	MachineFlags

	Save    string `help:"Write a snapshot when the machine stops." placeholder:"FILE"`
	Restore string `help:"Start from a snapshot instead of the images." type:"existingfile" placeholder:"FILE"`
	Control bool   `help:"Serve the control socket used by migrate and stop."`
}

type MonitorCMD struct {
	MachineFlags

	Restore string   `help:"Start from a snapshot instead of the images." type:"existingfile" placeholder:"FILE"`
	Script  []string `help:"Run monitor commands from a file before reading stdin." type:"existingfile"`
}

type DisasmCMD struct {
	File   string `arg:"" type:"existingfile" help:"Raw image."`
	Addr   string `help:"Address the image is loaded at." default:"0"`
	Bits   int    `help:"Code size, 16 or 32." default:"16"`
	Syntax string `help:"Assembler syntax." enum:"gnu,intel" default:"gnu"`
	Lines  int    `help:"Number of instructions, 0 for the whole image." short:"n"`
}

type ProbeCMD struct {
	CPU string `arg:"" optional:"" help:"CPU model."`
}

type IncomingCMD struct {
	MachineFlags

	Listen string `arg:"" help:"TCP address to listen on."`
}

type MigrateCMD struct {
	PID  int    `arg:"" help:"Process ID of the running machine."`
	Addr string `arg:"" help:"Address of the incoming machine."`
}

type StopCMD struct {
	PID int `arg:"" help:"Process ID of the running machine."`
}

func options(out io.Writer) []kong.Option {
	return []kong.Option{
		kong.Name("gox86"),
		kong.Description("gox86 is an x86 emulator from the 8086 to the Pentium II"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		kong.Configuration(TOMLLoader),
		kong.Writers(out, out),
	}
}

// ParseArgs parses args without running the selected command.
func ParseArgs(args []string, out io.Writer, opts ...kong.Option) (*kong.Context, *CLI, error) {
	c := &CLI{}

	parser, err := kong.New(c, append(options(out), opts...)...)
	if err != nil {
		return nil, nil, err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return nil, nil, err
	}

	c.In = os.Stdin
	c.Out = out

	return ctx, c, nil
}

func Parse() error {
	ctx, c, err := ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		return err
	}

	if err := c.Globals.start(); err != nil {
		return err
	}

	defer c.Globals.stop()

	return ctx.Run(&c.Globals)
}

func (g *Globals) start() error {
	level, err := logrus.ParseLevel(g.LogLevel)
	if err != nil {
		return err
	}

	logrus.SetLevel(level)

	if g.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var mode func(*profile.Profile)

	switch g.Profile {
	case "none", "":
		return nil
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfile
	case "block":
		mode = profile.BlockProfile
	case "mutex":
		mode = profile.MutexProfile
	case "trace":
		mode = profile.TraceProfile
	default:
		return fmt.Errorf("%q: %w", g.Profile, errProfile)
	}

	g.profile = profile.Start(mode, profile.ProfilePath(g.ProfilePath), profile.NoShutdownHook)

	return nil
}

func (g *Globals) stop() {
	if g.profile != nil {
		g.profile.Stop()
	}
}

// Config turns the flags into a machine configuration whose console and
// POST codes go to out.
func (f *MachineFlags) Config(out io.Writer) (vmm.Config, error) {
	memSize, err := ParseSize(f.Mem, "m")
	if err != nil {
		return vmm.Config{}, err
	}

	traceC, err := ParseSize(f.Trace, "")
	if err != nil {
		return vmm.Config{}, err
	}

	cs, eip, err := ParseEntry(f.Entry)
	if err != nil {
		return vmm.Config{}, err
	}

	_, esp, err := ParseEntry(f.Stack)
	if err != nil {
		return vmm.Config{}, err
	}

	c := vmm.Config{
		CPU:        f.CPU,
		NCPUs:      f.NCPUs,
		MemSize:    memSize,
		Mode:       f.Mode,
		BIOS:       f.BIOS,
		Entry:      vmm.Entry{CS: cs, EIP: eip, ESP: esp},
		TraceCount: traceC,
		MaxSteps:   f.MaxSteps,
		PostCode:   f.PostCode,
		Serial:     !f.NoSerial,
		Output:     out,
	}

	for _, s := range f.Image {
		img, err := ParseImage(s)
		if err != nil {
			return vmm.Config{}, err
		}

		c.Images = append(c.Images, img)
	}

	return c, nil
}

// prepare builds the machine and loads either the images or a snapshot.
func (f *MachineFlags) prepare(out io.Writer, snapshot string) (*vmm.VMM, error) {
	c, err := f.Config(out)
	if err != nil {
		return nil, err
	}

	v := vmm.New(c)

	if err := v.Init(); err != nil {
		return nil, err
	}

	if snapshot != "" {
		return v, v.LoadSnapshot(snapshot)
	}

	return v, v.Setup()
}

func (r *RunCMD) Run(g *Globals) error {
	v, err := r.prepare(g.Out, r.Restore)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.Control {
		path := vmm.ControlSocketPath(os.Getpid())
		if err := v.StartControlSocket(ctx, path); err != nil {
			return err
		}

		logrus.WithField("path", path).Info("control socket ready")
	}

	if err := v.Boot(ctx); err != nil {
		return err
	}

	if r.Save != "" {
		return v.SaveSnapshot(r.Save)
	}

	return nil
}

func (m *MonitorCMD) Run(g *Globals) error {
	v, err := m.prepare(g.Out, m.Restore)
	if err != nil {
		return err
	}

	h := monitor.New(v.Machine, v)

	for _, path := range m.Script {
		f, err := os.Open(path)
		if err != nil {
			return err
		}

		h.RunCommands(f, g.Out, false)
		f.Close()
	}

	interactive := false
	if f, ok := g.In.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	if interactive {
		h.SetWidth(term.Width(int(os.Stdout.Fd())))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	defer func() {
		signal.Stop(sig)
		close(sig)
	}()

	go func() {
		for range sig {
			h.Break()
		}
	}()

	h.RunCommands(g.In, g.Out, interactive)

	return nil
}

func (d *DisasmCMD) Run(g *Globals) error {
	if d.Bits != 16 && d.Bits != 32 {
		return fmt.Errorf("%d: %w", d.Bits, errBits)
	}

	addr64, err := strconv.ParseUint(d.Addr, 0, 32)
	if err != nil {
		return fmt.Errorf("address %q: %w", d.Addr, err)
	}

	addr := uint32(addr64)

	code, err := os.ReadFile(d.File)
	if err != nil {
		return err
	}

	memSize := 1 << 20
	for uint64(memSize) < addr64+uint64(len(code)) {
		memSize <<= 1
	}

	m, err := machine.New("386DX", 1, memSize)
	if err != nil {
		return err
	}

	if err := m.LoadImage(bytes.NewReader(code), addr); err != nil {
		return err
	}

	n := d.Lines
	if n == 0 {
		// every instruction is at least one byte long
		n = len(code)
	}

	lines, err := m.Disasm(addr, n, d.Bits, d.Syntax)
	if err != nil {
		return err
	}

	end := addr64 + uint64(len(code))

	for _, l := range lines {
		var at uint64
		if _, err := fmt.Sscanf(l, "%08x", &at); err == nil && at >= end {
			break
		}

		fmt.Fprintln(g.Out, l)
	}

	return nil
}

func (p *ProbeCMD) Run(g *Globals) error {
	if p.CPU == "" {
		probe.Models(g.Out)

		return nil
	}

	return probe.CPUID(g.Out, p.CPU)
}

func (i *IncomingCMD) Run(g *Globals) error {
	c, err := i.Config(g.Out)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return vmm.New(c).Incoming(ctx, i.Listen)
}

func (m *MigrateCMD) Run(g *Globals) error {
	reply, err := vmm.SendControl(vmm.ControlSocketPath(m.PID), "MIGRATE "+m.Addr)
	if err != nil {
		return err
	}

	fmt.Fprintln(g.Out, reply)

	return nil
}

func (s *StopCMD) Run(g *Globals) error {
	reply, err := vmm.SendControl(vmm.ControlSocketPath(s.PID), "STOP")
	if err != nil {
		return err
	}

	fmt.Fprintln(g.Out, reply)

	return nil
}

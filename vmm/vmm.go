// Package vmm wires a machine to the host: images, the console, the CPU
// goroutines, snapshots and migration.
package vmm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bobuhiro11/gox86/machine"
	"github.com/bobuhiro11/gox86/term"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Entry modes.
const (
	ModeReset     = "reset"
	ModeReal      = "real"
	ModeProtected = "protected"
)

// ctrlA followed by 'x' stops the machine from the console.
const ctrlA = 0x1

var errBadMode = errors.New("unknown entry mode")

// Image is a raw binary loaded at a physical address.
type Image struct {
	Path string
	Addr uint32
}

// Entry is where the CPUs start in the real and protected modes.
type Entry struct {
	CS  uint16
	EIP uint32
	ESP uint32
}

type Config struct {
	CPU     string
	NCPUs   int
	MemSize int

	// Mode selects how the CPUs start: from the reset vector, at Entry in
	// real mode, or at Entry.EIP in flat 32-bit protected mode.
	Mode   string
	BIOS   string
	Images []Image
	Entry  Entry

	TraceCount int
	MaxSteps   int

	PostCode bool
	Serial   bool

	// Output receives console and POST code output. Input feeds the
	// console; when nil and stdin is a terminal, stdin is used.
	Output io.Writer
	Input  io.Reader
}

type VMM struct {
	*machine.Machine
	Config

	log     *logrus.Entry
	running sync.WaitGroup
}

func New(c Config) *VMM {
	if c.Output == nil {
		c.Output = os.Stdout
	}

	return &VMM{
		Machine: nil,
		Config:  c,
		log:     logrus.WithField("component", "vmm"),
	}
}

// Init instantiates a machine.
func (v *VMM) Init() error {
	opts := []machine.Option{
		machine.WithLogger(logrus.NewEntry(logrus.StandardLogger())),
		machine.WithTrace(v.TraceCount),
		machine.WithMaxSteps(v.MaxSteps),
	}

	if v.Serial {
		opts = append(opts, machine.WithConsole(v.Output))
	}

	if v.PostCode {
		opts = append(opts, machine.WithPostCode(v.Output))
	}

	m, err := machine.New(v.Config.CPU, v.Config.NCPUs, v.Config.MemSize, opts...)
	if err != nil {
		return err
	}

	v.Machine = m

	return nil
}

// Setup loads the firmware and images and sets the entry state of every
// CPU. All CPUs start at the same place.
func (v *VMM) Setup() error {
	if v.BIOS != "" {
		if err := v.loadFile(v.BIOS, v.Machine.LoadBIOS); err != nil {
			return err
		}
	}

	for _, img := range v.Images {
		err := v.loadFile(img.Path, func(r io.Reader) error {
			return v.Machine.LoadImage(r, img.Addr)
		})
		if err != nil {
			return err
		}
	}

	for i := 0; i < v.Config.NCPUs; i++ {
		var err error

		switch v.Mode {
		case ModeReset, "":
		case ModeReal:
			err = v.SetEntry(i, v.Entry.CS, v.Entry.EIP, v.Entry.ESP)
		case ModeProtected:
			err = v.SetupFlat(i, v.Entry.EIP, v.Entry.ESP)
		default:
			return fmt.Errorf("%q: %w", v.Mode, errBadMode)
		}

		if err != nil {
			return fmt.Errorf("cpu %d: %w", i, err)
		}
	}

	return nil
}

func (v *VMM) loadFile(path string, load func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close()

	if err := load(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	return nil
}

// Boot runs every CPU on its own goroutine until all of them stop or ctx
// is cancelled. The first host fault stops the other CPUs and is returned.
func (v *VMM) Boot(ctx context.Context) error {
	v.Resume()

	g, ctx := errgroup.WithContext(ctx)

	for cpu := 0; cpu < v.Config.NCPUs; cpu++ {
		v.log.Infof("Start CPU %d of %d", cpu, v.Config.NCPUs)
		v.running.Add(1)

		i := cpu

		g.Go(func() error {
			defer v.running.Done()

			if err := v.RunInfiniteLoop(i); err != nil {
				v.Stop()

				return err
			}

			v.log.WithField("steps", v.Steps(i)).Infof("CPU %d exits", i)

			return nil
		})
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			v.Stop()
		case <-done:
		}
	}()

	if v.Serial {
		restore, err := v.startConsole()
		if err != nil {
			v.Stop()
			_ = g.Wait()

			return err
		}

		defer restore()
	}

	err := g.Wait()

	v.log.Info("All cpus done")

	return err
}

// startConsole feeds the console input to the UART.
func (v *VMM) startConsole() (func(), error) {
	in, restore := v.Input, func() {}

	if in == nil {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			v.log.Warn("this is not terminal and does not accept input")

			return restore, nil
		}

		var err error

		if restore, err = term.SetRawMode(fd); err != nil {
			return restore, err
		}

		in = os.Stdin
	}

	go v.feed(bufio.NewReader(in))

	return restore, nil
}

func (v *VMM) feed(in *bufio.Reader) {
	var before byte

	for {
		b, err := in.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				v.log.WithError(err).Warn("console input")
			}

			return
		}

		if before == ctrlA && b == 'x' {
			v.Stop()

			return
		}

		if err := v.SendInput(b); err != nil {
			v.log.WithError(err).Warn("SendInput")

			return
		}

		before = b
	}
}

// Pause stops the CPUs and waits for their goroutines to return.
func (v *VMM) Pause() {
	v.Stop()
	v.running.Wait()
}

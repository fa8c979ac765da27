package vmm

// migrate.go - snapshots and migration: source (MigrateTo) and destination
// (Incoming).
//
// Source side (MigrateTo):
//  1. Pause all CPUs and wait for their goroutines to return.
//  2. Send the full memory.
//  3. Send the Snapshot (CPU state, pending interrupts, device state).
//  4. Send MsgDone and wait for MsgReady from the destination.
//
// Destination side (Incoming):
//  1. Allocate a machine with the same parameters (no image load).
//  2. Accept the TCP connection.
//  3. Receive memory and the Snapshot and apply them.
//  4. Send MsgReady.
//  5. Boot.
//
// A snapshot file is the same message stream without the final handshake.

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/bobuhiro11/gox86/migration"
)

const dialTimeout = 30 * time.Second

var (
	errExpectedMsgReady      = errors.New("expected MsgReady")
	errMsgDoneBeforeSnapshot = errors.New("received MsgDone before Snapshot")
	errUnexpectedMessageType = errors.New("unexpected message type")
	errControl               = errors.New("control command failed")
)

// ControlSocketPath returns the Unix socket path for the given PID.
func ControlSocketPath(pid int) string {
	return fmt.Sprintf("/tmp/gox86-%d.sock", pid)
}

// StartControlSocket listens on a Unix domain socket at path and handles
// control commands sent by the `gox86 migrate` and `gox86 stop`
// subcommands. The listener is closed when ctx is done.
//
// Supported commands (newline-terminated):
//
//	MIGRATE <addr>   - migrate to <addr> (host:port)
//	STOP             - stop all CPUs
func (v *VMM) StartControlSocket(ctx context.Context, path string) error {
	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	go func() {
		defer os.Remove(path)

		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}

			go v.handleControl(conn)
		}
	}()

	return nil
}

func (v *VMM) handleControl(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, "MIGRATE "):
		addr := strings.TrimSpace(strings.TrimPrefix(line, "MIGRATE "))

		if err := v.MigrateTo(addr); err != nil {
			v.log.WithError(err).Errorf("migration to %q failed", addr)
			_, _ = conn.Write([]byte("ERROR " + err.Error() + "\n"))

			return
		}

		_, _ = conn.Write([]byte("OK\n"))
	case line == "STOP":
		v.Pause()
		_, _ = conn.Write([]byte("OK\n"))
	default:
		_, _ = conn.Write([]byte("ERROR unknown command\n"))
	}
}

// SendControl sends one command to the control socket at path and returns
// the reply.
func SendControl(path, command string) (string, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return "", err
	}

	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return "", err
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if msg, ok := strings.CutPrefix(reply, "ERROR "); ok {
		return reply, fmt.Errorf("%s: %w", msg, errControl)
	}

	return reply, nil
}

// MigrateTo pauses the machine and sends its state to the given TCP
// address (host:port). The source stays paused afterwards.
func (v *VMM) MigrateTo(addr string) error {
	v.log.Infof("migration: connecting to %s", addr)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	defer conn.Close()

	v.log.Info("migration: pausing CPUs")
	v.Pause()

	if err := v.send(migration.NewSender(conn)); err != nil {
		return err
	}

	t, _, err := migration.NewReceiver(conn).Next()
	if err != nil {
		return fmt.Errorf("waiting for MsgReady: %w", err)
	}

	if t != migration.MsgReady {
		return fmt.Errorf("%w: got %v", errExpectedMsgReady, t)
	}

	v.log.Info("migration: complete - destination is running")

	return nil
}

// Incoming listens on listenAddr for an incoming migration and, once the
// full machine state is received, boots it.
func (v *VMM) Incoming(ctx context.Context, listenAddr string) error {
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	defer l.Close()

	return v.IncomingFrom(ctx, l)
}

// IncomingFrom accepts one migration on l.
func (v *VMM) IncomingFrom(ctx context.Context, l net.Listener) error {
	v.log.Infof("migration: waiting for incoming connection on %s", l.Addr())

	conn, err := l.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	defer conn.Close()

	if v.Machine == nil {
		if err := v.Init(); err != nil {
			return fmt.Errorf("Init: %w", err)
		}
	}

	if err := v.receive(migration.NewReceiver(conn)); err != nil {
		return err
	}

	if err := migration.NewSender(conn).SendReady(); err != nil {
		return err
	}

	v.log.Info("migration: state restored, starting machine")

	return v.Boot(ctx)
}

// SaveSnapshot writes memory and machine state to path. The CPUs must
// not be running.
func (v *VMM) SaveSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)

	if err := v.send(migration.NewSender(w)); err != nil {
		f.Close()

		return err
	}

	if err := w.Flush(); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}

// LoadSnapshot replaces the machine state with the one saved in path,
// creating the machine first if needed.
func (v *VMM) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close()

	if v.Machine == nil {
		if err := v.Init(); err != nil {
			return err
		}
	}

	return v.receive(migration.NewReceiver(bufio.NewReader(f)))
}

func (v *VMM) send(s *migration.Sender) error {
	err := s.SendHello(&migration.Hello{
		Version: migration.Version,
		Model:   v.Model().Name,
		NCPUs:   v.Machine.NCPUs(),
		MemSize: v.Mem().Size(),
	})
	if err != nil {
		return fmt.Errorf("SendHello: %w", err)
	}

	var mem bytes.Buffer

	if err := v.SaveMemory(&mem); err != nil {
		return fmt.Errorf("SaveMemory: %w", err)
	}

	v.log.Infof("migration: sending full memory (%d KiB)", mem.Len()>>10)

	if err := s.SendMemoryFull(mem.Bytes()); err != nil {
		return fmt.Errorf("SendMemoryFull: %w", err)
	}

	snap, err := v.Snapshot()
	if err != nil {
		return err
	}

	if err := s.SendSnapshot(snap); err != nil {
		return fmt.Errorf("SendSnapshot: %w", err)
	}

	return s.SendDone()
}

func (v *VMM) receive(r *migration.Receiver) error {
	msgType, payload, err := r.Next()
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}

	if msgType != migration.MsgHello {
		return fmt.Errorf("%w: %v before hello", errUnexpectedMessageType, msgType)
	}

	hello, err := migration.DecodeHello(payload)
	if err != nil {
		return err
	}

	if err := hello.Check(v.Model().Name, v.Machine.NCPUs(), v.Mem().Size()); err != nil {
		return err
	}

	var snap *migration.Snapshot

	for {
		msgType, payload, err := r.Next()
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		switch msgType {
		case migration.MsgMemoryFull:
			v.log.Infof("migration: receiving full memory (%d KiB)", len(payload)>>10)

			if err := v.RestoreMemory(bytes.NewReader(payload)); err != nil {
				return fmt.Errorf("RestoreMemory: %w", err)
			}

		case migration.MsgSnapshot:
			snap, err = migration.DecodeSnapshot(payload)
			if err != nil {
				return err
			}

		case migration.MsgDone:
			if snap == nil {
				return errMsgDoneBeforeSnapshot
			}

			if err := v.Restore(snap); err != nil {
				return fmt.Errorf("Restore: %w", err)
			}

			return nil

		default:
			return fmt.Errorf("%w: %v", errUnexpectedMessageType, msgType)
		}
	}
}

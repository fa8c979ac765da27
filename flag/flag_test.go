package flag_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/gox86/flag"
	"github.com/bobuhiro11/gox86/vmm"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		s, unit string
		want    int
	}{
		{"1", "g", 1 << 30},
		{"4m", "g", 4 << 20},
		{"0x10K", "", 16 << 10},
		{"640k", "m", 640 << 10},
		{"123", "", 123},
	} {
		got, err := flag.ParseSize(tt.s, tt.unit)
		require.NoError(t, err, tt.s)
		require.Equal(t, tt.want, got, tt.s)
	}

	for _, s := range []string{"", "m", "1x", "-1"} {
		_, err := flag.ParseSize(s, "")
		require.Error(t, err, s)
	}
}

func TestParseImage(t *testing.T) {
	t.Parallel()

	img, err := flag.ParseImage("dir/boot@1.bin@0x7c00")
	require.NoError(t, err)
	require.Equal(t, vmm.Image{Path: "dir/boot@1.bin", Addr: 0x7c00}, img)

	for _, s := range []string{"boot.bin", "@0x100", "boot.bin@", "boot.bin@0x100000000"} {
		_, err := flag.ParseImage(s)
		require.Error(t, err, s)
	}
}

func TestParseEntry(t *testing.T) {
	t.Parallel()

	cs, eip, err := flag.ParseEntry("0xf000:0xfff0")
	require.NoError(t, err)
	require.Equal(t, uint16(0xf000), cs)
	require.Equal(t, uint32(0xfff0), eip)

	cs, eip, err = flag.ParseEntry("0x100000")
	require.NoError(t, err)
	require.Equal(t, uint16(0), cs)
	require.Equal(t, uint32(0x100000), eip)

	for _, s := range []string{"0x10000:0", "x:0", "0:y", ""} {
		_, _, err := flag.ParseEntry(s)
		require.Error(t, err, s)
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	ctx, c, err := flag.ParseArgs([]string{
		"run",
		"--cpu", "486DX2",
		"-c", "2",
		"-m", "4",
		"--mode", "real",
		"-i", "boot.bin@0x7c00",
		"--entry", "0:0x7c00",
		"--post-code",
		"--no-serial",
	}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "run", ctx.Command())

	cfg, err := c.Run.Config(io.Discard)
	require.NoError(t, err)

	require.Equal(t, "486DX2", cfg.CPU)
	require.Equal(t, 2, cfg.NCPUs)
	require.Equal(t, 4<<20, cfg.MemSize)
	require.Equal(t, vmm.ModeReal, cfg.Mode)
	require.Equal(t, []vmm.Image{{Path: "boot.bin", Addr: 0x7c00}}, cfg.Images)
	require.Equal(t, vmm.Entry{CS: 0, EIP: 0x7c00, ESP: 0xfffe}, cfg.Entry)
	require.True(t, cfg.PostCode)
	require.False(t, cfg.Serial)

	_, _, err = flag.ParseArgs([]string{"run", "--mode", "long"}, io.Discard)
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gox86.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
cpu = "Pentium"
ncpus = 2
image = ["boot.bin@0x7c00", "kernel.bin@0x10000"]
post_code = true

[run]
max_steps = 100
`), 0o600))

	_, c, err := flag.ParseArgs([]string{"--config", path, "run"}, io.Discard)
	require.NoError(t, err)

	require.Equal(t, "Pentium", c.Run.CPU)
	require.Equal(t, 2, c.Run.NCPUs)
	require.Equal(t, []string{"boot.bin@0x7c00", "kernel.bin@0x10000"}, c.Run.Image)
	require.True(t, c.Run.PostCode)
	require.Equal(t, 100, c.Run.MaxSteps)

	_, c, err = flag.ParseArgs([]string{"--config", path, "run", "--cpu", "286"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "286", c.Run.CPU)
}

func TestTOMLLoaderValidate(t *testing.T) {
	t.Parallel()

	parser, err := kong.New(&flag.CLI{})
	require.NoError(t, err)

	for doc, ok := range map[string]bool{
		`cpu = "386DX"`:               true,
		"[monitor]\nscript = [\"a\"]": true,
		`bogus = 1`:                   false,
		"[run]\nscript = [\"a\"]":     false,
	} {
		r, err := flag.TOMLLoader(strings.NewReader(doc))
		require.NoError(t, err)

		if ok {
			require.NoError(t, r.Validate(parser.Model), doc)
		} else {
			require.Error(t, r.Validate(parser.Model), doc)
		}
	}

	_, err = flag.TOMLLoader(strings.NewReader("cpu = "))
	require.Error(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	ctx, c, err := flag.ParseArgs(args, &out)
	require.NoError(t, err)

	c.In = strings.NewReader("")

	err = ctx.Run(&c.Globals)

	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	image := filepath.Join(dir, "image.bin")
	snap := filepath.Join(dir, "image.snap")

	// mov al, 'O'; out 0x80, al; mov al, 'K'; out 0x80, al; cli; hlt
	code := []byte{0xb0, 0x4f, 0xe6, 0x80, 0xb0, 0x4b, 0xe6, 0x80, 0xfa, 0xf4}
	require.NoError(t, os.WriteFile(image, code, 0o600))

	out, err := run(t, "run", "--mode", "real", "--entry", "0x100:0", "-i", image+"@0x1000",
		"--post-code", "--no-serial", "--save", snap)
	require.NoError(t, err)
	require.Equal(t, "OK", out)

	_, err = os.Stat(snap)
	require.NoError(t, err)

	script := filepath.Join(dir, "script")
	require.NoError(t, os.WriteFile(script, []byte("registers\n"), 0o600))

	out, err = run(t, "monitor", "--restore", snap, "--no-serial", "--script", script)
	require.NoError(t, err)
	require.Contains(t, out, "EAX=0000004b")
}

func TestDisasmCommand(t *testing.T) {
	t.Parallel()

	image := filepath.Join(t.TempDir(), "image.bin")
	// mov ax, 0x1234; inc ax
	require.NoError(t, os.WriteFile(image, []byte{0xb8, 0x34, 0x12, 0x40}, 0o600))

	out, err := run(t, "disasm", image)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out, "\n"))
	require.Contains(t, out, "mov $0x1234,%ax")
	require.Contains(t, out, "inc %ax")

	out, err = run(t, "disasm", "--syntax", "intel", "--addr", "0x7c00", "-n", "1", image)
	require.NoError(t, err)
	require.Contains(t, out, "00007c00")
	require.Contains(t, out, "mov ax, 0x1234")
	require.NotContains(t, out, "inc")
}

func TestProbeCommand(t *testing.T) {
	t.Parallel()

	out, err := run(t, "probe")
	require.NoError(t, err)
	require.Contains(t, out, "PentiumII")

	out, err = run(t, "probe", "k6-2")
	require.NoError(t, err)
	require.Contains(t, out, "AuthenticAMD")

	_, err = run(t, "probe", "z80")
	require.Error(t, err)
}

func TestStopCommand(t *testing.T) {
	t.Parallel()

	_, err := run(t, "stop", "1073741824")
	require.Error(t, err)
}

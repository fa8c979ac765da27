package flag

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/gox86/vmm"
)

var (
	errImage      = errors.New("want path@address")
	errEntry      = errors.New("want segment:offset or offset")
	errUnknownKey = errors.New("unknown configuration key")
)

// ParseSize parses a size string as number[gGmMkK]. The multiplier is optional,
// and if not set, the unit passed in is used. The number can be any base and
// size.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	switch unit {
	case "G", "g":
		return int(amt) << 30, nil
	case "M", "m":
		return int(amt) << 20, nil
	case "K", "k":
		return int(amt) << 10, nil
	case "":
		return int(amt), nil
	}

	return -1, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
}

// ParseImage parses path@address. The address can be any base.
func ParseImage(s string) (vmm.Image, error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 {
		return vmm.Image{}, fmt.Errorf("image %q: %w", s, errImage)
	}

	addr, err := strconv.ParseUint(s[i+1:], 0, 32)
	if err != nil {
		return vmm.Image{}, fmt.Errorf("image %q: %w", s, err)
	}

	return vmm.Image{Path: s[:i], Addr: uint32(addr)}, nil
}

// ParseEntry parses segment:offset for real mode or a bare offset. The
// segment of a bare offset is zero.
func ParseEntry(s string) (uint16, uint32, error) {
	seg, off, found := strings.Cut(s, ":")
	if !found {
		seg, off = "0", s
	}

	cs, err := strconv.ParseUint(seg, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("entry %q: %w", s, errEntry)
	}

	eip, err := strconv.ParseUint(off, 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("entry %q: %w", s, errEntry)
	}

	return uint16(cs), uint32(eip), nil
}

// tomlResolver supplies flag values from a TOML document. Top level keys
// apply to every command; a table named after a command applies to that
// command only. Keys are flag names, with '-' or '_'.
type tomlResolver map[string]any

// TOMLLoader is a kong configuration loader for TOML files.
func TOMLLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if _, err := toml.NewDecoder(r).Decode(&values); err != nil {
		return nil, err
	}

	return tomlResolver(normalize(values)), nil
}

func normalize(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))

	for k, v := range values {
		if t, ok := v.(map[string]any); ok {
			v = normalize(t)
		}

		out[strings.ReplaceAll(k, "_", "-")] = v
	}

	return out
}

func (r tomlResolver) Validate(app *kong.Application) error {
	known := map[string]bool{}

	var walk func(n *kong.Node, table map[string]any) error

	walk = func(n *kong.Node, table map[string]any) error {
		flags := map[string]bool{}
		for _, f := range n.Flags {
			flags[f.Name] = true
			known[f.Name] = true
		}

		for _, c := range n.Children {
			t, _ := r[c.Name].(map[string]any)
			if err := walk(c, t); err != nil {
				return err
			}
		}

		for k := range table {
			if !flags[k] {
				return fmt.Errorf("[%s] %s: %w", n.Name, k, errUnknownKey)
			}
		}

		return nil
	}

	if err := walk(app.Node, nil); err != nil {
		return err
	}

	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if _, ok := r[k].(map[string]any); ok {
			continue
		}

		if !known[k] {
			return fmt.Errorf("%s: %w", k, errUnknownKey)
		}
	}

	return nil
}

func (r tomlResolver) Resolve(_ *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
	if parent != nil && parent.Command != nil {
		if t, ok := r[parent.Command.Name].(map[string]any); ok {
			if v, ok := t[flag.Name]; ok {
				return flagValue(v), nil
			}
		}
	}

	v, ok := r[flag.Name]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	if _, ok := v.(map[string]any); ok {
		return nil, nil //nolint:nilnil
	}

	return flagValue(v), nil
}

// flagValue renders a TOML value the way it would appear on the command
// line. Arrays become comma separated lists.
func flagValue(v any) string {
	if a, ok := v.([]any); ok {
		s := make([]string, len(a))
		for i := range a {
			s[i] = fmt.Sprint(a[i])
		}

		return strings.Join(s, ",")
	}

	return fmt.Sprint(v)
}

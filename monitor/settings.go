package monitor

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/beevik/prefixtree/v2"
)

var errSettingType = errors.New("invalid type")

type settings struct {
	HexMode         bool   `doc:"hexadecimal input mode"`
	Syntax          string `doc:"disassembly syntax, gnu or intel"`
	MemDumpBytes    int    `doc:"default number of memory bytes to dump"`
	DisasmLines     int    `doc:"default number of lines to disassemble"`
	MaxStepLines    int    `doc:"max lines to disassemble when stepping"`
	StepLimit       int    `doc:"instructions a run may execute, 0 for no limit"`
	NextDisasmAddr  uint32 `doc:"address of next disassembly"`
	NextMemDumpAddr uint32 `doc:"address of next memory dump"`
}

func newSettings() *settings {
	return &settings{
		Syntax:       "gnu",
		MemDumpBytes: 64,
		DisasmLines:  10,
		MaxStepLines: 20,
	}
}

type settingsField struct {
	name  string
	index int
	kind  reflect.Kind
	typ   reflect.Type
	doc   string
}

//nolint:gochecknoglobals
var (
	settingsTree   = prefixtree.New[*settingsField]()
	settingsFields []settingsField
)

func init() {
	t := reflect.TypeOf(settings{})
	settingsFields = make([]settingsField, t.NumField())

	for i := range settingsFields {
		f := t.Field(i)
		settingsFields[i] = settingsField{
			name:  f.Name,
			index: i,
			kind:  f.Type.Kind(),
			typ:   f.Type,
			doc:   f.Tag.Get("doc"),
		}
		settingsTree.Add(strings.ToLower(f.Name), &settingsFields[i])
	}
}

// Display writes every setting with its value and description.
func (s *settings) Display(w io.Writer) {
	value := reflect.ValueOf(s).Elem()

	for i, f := range settingsFields {
		v := value.Field(i)

		var line string

		switch f.kind {
		case reflect.String:
			line = fmt.Sprintf("    %-16s %q", f.name, v.String())
		case reflect.Uint32:
			line = fmt.Sprintf("    %-16s %#08x", f.name, uint32(v.Uint()))
		default:
			line = fmt.Sprintf("    %-16s %v", f.name, v)
		}

		fmt.Fprintf(w, "%-34s (%s)\n", line, f.doc)
	}
}

// Kind returns the kind of the setting key names, or reflect.Invalid when
// no unique setting starts with key.
func (s *settings) Kind(key string) reflect.Kind {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return reflect.Invalid
	}

	return f.kind
}

// Set assigns value to the setting key names. Numbers convert to any
// numeric setting; strings only to string settings.
func (s *settings) Set(key string, value any) error {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}

	in := reflect.ValueOf(value)
	isString := in.Kind() == reflect.String

	if isString != (f.kind == reflect.String) || !in.Type().ConvertibleTo(f.typ) {
		return fmt.Errorf("%s from %T: %w", f.name, value, errSettingType)
	}

	reflect.ValueOf(s).Elem().Field(f.index).Set(in.Convert(f.typ))

	return nil
}

package cpu

import (
	"fmt"

	"github.com/bobuhiro11/gox86/x86"
)

func registerIO(t *Table) {
	t.all(0xe4, in(1, false))
	t.sized(0xe5, func(size int) handler { return in(size, false) })
	t.all(0xec, in(1, true))
	t.sized(0xed, func(size int) handler { return in(size, true) })
	t.all(0xe6, out(1, false))
	t.sized(0xe7, func(size int) handler { return out(size, false) })
	t.all(0xee, out(1, true))
	t.sized(0xef, func(size int) handler { return out(size, true) })
}

// port returns the port operand: DX, or an immediate byte.
func (c *CPU) port(x *Context, dx bool) (uint16, error) {
	if dx {
		return c.regs.Get16(x86.EDX), nil
	}

	v, err := c.fetch8(x)

	return uint16(v), err
}

// portIn reads size bytes from port. An unconnected bus floats high.
func (c *CPU) portIn(port uint16, size int) (uint32, error) {
	if !c.ioAllowed() {
		return 0, x86.GP(0)
	}

	if c.bus.IO == nil {
		return mask(size), nil
	}

	v, err := c.bus.IO.In(port, size)
	if err != nil {
		return 0, fmt.Errorf("in %#x: %w", port, err)
	}

	return v & mask(size), nil
}

func (c *CPU) portOut(port uint16, size int, v uint32) error {
	if !c.ioAllowed() {
		return x86.GP(0)
	}

	if c.bus.IO == nil {
		return nil
	}

	if err := c.bus.IO.Out(port, size, v&mask(size)); err != nil {
		return fmt.Errorf("out %#x: %w", port, err)
	}

	return nil
}

func in(size int, dx bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		p, err := c.port(x, dx)
		if err != nil {
			return Faulted, err
		}

		v, err := c.portIn(p, size)
		if err != nil {
			return Faulted, err
		}

		c.regs.Set(size, x86.EAX, v)

		return c.retire(x, costIn)
	}
}

func out(size int, dx bool) handler {
	return func(c *CPU, x *Context) (Result, error) {
		p, err := c.port(x, dx)
		if err != nil {
			return Faulted, err
		}

		if err := c.portOut(p, size, c.regs.Get(size, x86.EAX)); err != nil {
			return Faulted, err
		}

		return c.retire(x, costOut)
	}
}

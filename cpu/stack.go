package cpu

import "github.com/bobuhiro11/gox86/x86"

type word interface {
	~uint16 | ~uint32
}

func widthOf[T word]() int {
	if uint64(^T(0)) > 0xffff {
		return 4
	}

	return 2
}

// sp returns the stack pointer in the width of the stack segment.
func (c *CPU) sp() uint32 {
	if c.sregs.Seg[x86.SS].Big() {
		return c.regs.GPR[x86.ESP]
	}

	return c.regs.GPR[x86.ESP] & 0xffff
}

// wrapSP truncates a stack pointer to the stack width.
func (c *CPU) wrapSP(v uint32) uint32 {
	if c.sregs.Seg[x86.SS].Big() {
		return v
	}

	return v & 0xffff
}

// setSP commits a stack pointer. A 16-bit stack keeps the upper half of ESP.
func (c *CPU) setSP(v uint32) {
	if c.sregs.Seg[x86.SS].Big() {
		c.regs.GPR[x86.ESP] = v

		return
	}

	c.regs.Set16(x86.ESP, uint16(v))
}

// advanceSP returns ESP with n added under the current stack width.
func (c *CPU) advanceSP(n uint32) uint32 {
	esp := c.regs.GPR[x86.ESP]
	if c.sregs.Seg[x86.SS].Big() {
		return esp + n
	}

	return esp&0xffff0000 | (esp+n)&0xffff
}

// push stores v below the stack pointer. ESP is only updated once the
// write succeeded.
func push[T word](c *CPU, x *Context, v T) error {
	size := widthOf[T]()
	sp := c.wrapSP(c.sp() - uint32(size))

	if err := c.write(x, x86.SS, sp, size, uint32(v)); err != nil {
		return err
	}

	c.setSP(sp)

	return nil
}

// pop loads the value at the stack pointer. ESP is only updated once the
// read succeeded.
func pop[T word](c *CPU, x *Context) (T, error) {
	size := widthOf[T]()
	sp := c.sp()

	v, err := c.read(x, x86.SS, sp, size)
	if err != nil {
		return 0, err
	}

	c.setSP(c.wrapSP(sp + uint32(size)))

	return T(v), nil
}

// pushSized pushes the low size bytes of v.
func (c *CPU) pushSized(x *Context, size int, v uint32) error {
	if size == 4 {
		return push(c, x, v)
	}

	return push(c, x, uint16(v))
}

func (c *CPU) popSized(x *Context, size int) (uint32, error) {
	if size == 4 {
		return pop[uint32](c, x)
	}

	v, err := pop[uint16](c, x)

	return uint32(v), err
}

// peekStack reads the i-th element of size bytes above the stack pointer
// without moving it.
func (c *CPU) peekStack(x *Context, size, i int) (uint32, error) {
	return c.read(x, x86.SS, c.wrapSP(c.sp()+uint32(i*size)), size)
}

// Push16 pushes a word, for exception delivery.
func (c *CPU) Push16(v uint16) error {
	return push(c, c.newContext(), v)
}

// Push32 pushes a dword, for exception delivery.
func (c *CPU) Push32(v uint32) error {
	return push(c, c.newContext(), v)
}

// Pop16 pops a word.
func (c *CPU) Pop16() (uint16, error) {
	return pop[uint16](c, c.newContext())
}

// Pop32 pops a dword.
func (c *CPU) Pop32() (uint32, error) {
	return pop[uint32](c, c.newContext())
}

// pusha stores the eight general registers, ESP as it was before the
// instruction. The stack pointer is committed after the last write.
func pusha[T word](c *CPU, x *Context) error {
	size := uint32(widthOf[T]())
	sp := c.sp()

	for i := x86.EAX; i <= x86.EDI; i++ {
		sp = c.wrapSP(sp - size)

		if err := c.write(x, x86.SS, sp, int(size), c.regs.GPR[i]); err != nil {
			return err
		}
	}

	c.setSP(sp)

	return nil
}

// popa loads the general registers except ESP. Nothing is committed until
// every read succeeded.
func popa[T word](c *CPU, x *Context) error {
	size := uint32(widthOf[T]())
	sp := c.sp()

	var vals [8]uint32

	for i := x86.EDI; i >= x86.EAX; i-- {
		v, err := c.read(x, x86.SS, sp, int(size))
		if err != nil {
			return err
		}

		vals[i] = v
		sp = c.wrapSP(sp + size)
	}

	for i, v := range vals {
		if i == x86.ESP {
			continue
		}

		c.regs.Set(int(size), i, v)
	}

	c.setSP(sp)

	return nil
}

// enter builds a stack frame with level nesting levels, copying level-1
// frame pointers from the enclosing frame. On a fault neither ESP nor EBP
// has been modified.
func enter[T word](c *CPU, x *Context, alloc uint16, level uint8) error {
	size := uint32(widthOf[T]())
	level &= 31

	sp := c.wrapSP(c.sp() - size)
	if err := c.write(x, x86.SS, sp, int(size), c.regs.GPR[x86.EBP]); err != nil {
		return err
	}

	frame := sp
	bp := c.regs.GPR[x86.EBP]

	if level > 0 {
		for i := uint8(1); i < level; i++ {
			bp = c.wrapSP(bp - size)

			v, err := c.read(x, x86.SS, bp, int(size))
			if err != nil {
				return err
			}

			sp = c.wrapSP(sp - size)
			if err := c.write(x, x86.SS, sp, int(size), v); err != nil {
				return err
			}
		}

		sp = c.wrapSP(sp - size)
		if err := c.write(x, x86.SS, sp, int(size), frame); err != nil {
			return err
		}
	}

	if size == 4 {
		c.regs.GPR[x86.EBP] = frame
	} else {
		c.regs.Set16(x86.EBP, uint16(frame))
	}

	c.setSP(c.wrapSP(sp - uint32(alloc)))

	return nil
}

// leave releases the frame set up by enter.
func leave[T word](c *CPU, x *Context) error {
	size := widthOf[T]()
	sp := c.wrapSP(c.regs.GPR[x86.EBP])

	v, err := c.read(x, x86.SS, sp, size)
	if err != nil {
		return err
	}

	c.setSP(c.wrapSP(sp + uint32(size)))
	c.regs.Set(size, x86.EBP, v)

	return nil
}

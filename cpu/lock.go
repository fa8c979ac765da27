package cpu

// lockable reports whether LOCK may prefix opcode op with the given ModRM
// byte. Only read-modify-write forms with a memory destination qualify.
func lockable(op uint16, modrm uint8) bool {
	if modrm >= 0xc0 {
		return false
	}

	reg := modrm >> 3 & 7

	switch op {
	case 0x80, 0x81, 0x82, 0x83:
		return reg != 7
	case 0x86, 0x87:
		return true
	case 0xf6, 0xf7:
		return reg == 2 || reg == 3
	case 0xfe, 0xff:
		return reg <= 1
	case 0x1ab, 0x1b3, 0x1bb:
		return true
	case 0x1ba:
		return reg >= 5
	case 0x1b0, 0x1b1, 0x1c0, 0x1c1:
		return true
	case 0x1c7:
		return reg == 1
	}

	// ADD, OR, ADC, SBB, AND, SUB and XOR with an r/m destination
	return op < 0x38 && op&7 <= 1
}

// lockHasModRM lists the opcodes lockable can accept at all; the others
// are rejected without reading ahead.
func lockHasModRM(op uint16) bool {
	switch op {
	case 0x80, 0x81, 0x82, 0x83, 0x86, 0x87, 0xf6, 0xf7, 0xfe, 0xff,
		0x1ab, 0x1b3, 0x1bb, 0x1ba, 0x1b0, 0x1b1, 0x1c0, 0x1c1, 0x1c7:
		return true
	}

	return op < 0x38 && op&7 <= 1
}

func (c *CPU) lockAllowed(_ *Context, op uint16) (bool, error) {
	if !lockHasModRM(op) {
		return false, nil
	}

	modrm, err := c.peek8()
	if err != nil {
		return false, err
	}

	return lockable(op, modrm), nil
}

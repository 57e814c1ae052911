package xyscreens

// Commands for the XY Screens RS-485 protocol. Every command is the fixed
// prefix byte, the device address and a one byte opcode. The device never
// responds.

const commandPrefix = 0xFF

const (
	opUp        = 0xDD
	opStop      = 0xCC
	opDown      = 0xEE
	opMicroUp   = 0xC9
	opMicroDown = 0xE9
	opProgram   = 0xAA
)

// Commands builds wire payloads for a screen at a fixed address.
type Commands struct {
	address []byte
}

func NewCommands(address []byte) Commands {
	return Commands{address: address}
}

func (c Commands) command(op byte) []byte {
	payload := make([]byte, 0, len(c.address)+2)
	payload = append(payload, commandPrefix)
	payload = append(payload, c.address...)
	return append(payload, op)
}

// Up starts moving the screen up.
func (c Commands) Up() []byte {
	return c.command(opUp)
}

// Stop halts the screen.
func (c Commands) Stop() []byte {
	return c.command(opStop)
}

// Down starts moving the screen down.
func (c Commands) Down() []byte {
	return c.command(opDown)
}

// MicroUp moves the screen up one step.
func (c Commands) MicroUp() []byte {
	return c.command(opMicroUp)
}

// MicroDown moves the screen down one step.
func (c Commands) MicroDown() []byte {
	return c.command(opMicroDown)
}

// Program puts the screen in address programming mode.
func (c Commands) Program() []byte {
	return c.command(opProgram)
}

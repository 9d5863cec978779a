package shell

import (
	"boxos/kernel/cpu"
	"boxos/kernel/irq"
)

const keyboardDataPort = 0x60

const (
	scancodeLeftShift  = 0x2A
	scancodeRightShift = 0x36
	scancodeReleaseBit = 0x80
)

// scancodeASCII maps a PS/2 scancode-set-1 make code to its unshifted ASCII
// value. Only the keys the command grammar actually needs are populated;
// anything else decodes to 0 and is silently dropped.
var scancodeASCII = map[byte]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0A: '9', 0x0B: '0',
	0x0C: '-', 0x0E: '\b', 0x0F: '\t',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1C: '\n',
	0x1E: 'a', 0x1F: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l', 0x27: ';',
	0x2C: 'z', 0x2D: 'x', 0x2E: 'c', 0x2F: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm', 0x33: ',', 0x34: '.', 0x35: '/',
	0x39: ' ',
}

// scancodeASCIIShifted overrides scancodeASCII entries for the keys the
// shell grammar cares about while shift is held: the tag-literal colon
// (shift+';') and the underscore (shift+'-').
var scancodeASCIIShifted = map[byte]byte{
	0x27: ':',
	0x0C: '_',
}

// keyboard translates PS/2 scancode-set-1 bytes into ASCII and feeds the
// result into a shared ring buffer for the shell's command loop to drain.
type keyboard struct {
	in      ring
	inPort  func(uint16) uint8
	shifted bool
}

func newKeyboard() *keyboard {
	return &keyboard{inPort: cpu.In8}
}

// attach registers the keyboard IRQ handler. Call once during boot.
func (k *keyboard) attach() {
	irq.HandleIRQ(irq.IRQKeyboard, k.handleIRQ)
}

func (k *keyboard) handleIRQ() {
	code := k.inPort(keyboardDataPort)
	released := code&scancodeReleaseBit != 0
	makeCode := code &^ scancodeReleaseBit

	if makeCode == scancodeLeftShift || makeCode == scancodeRightShift {
		k.shifted = !released
		return
	}
	if released {
		return
	}

	if k.shifted {
		if ch, ok := scancodeASCIIShifted[makeCode]; ok {
			k.in.push(ch)
			return
		}
	}
	if ch, ok := scancodeASCII[makeCode]; ok && ch != 0 {
		k.in.push(ch)
	}
}

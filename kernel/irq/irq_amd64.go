package irq

import (
	"boxos/kernel/kfmt"
	"boxos/kernel/pic"
)

// IRQNum identifies one of the 16 legacy interrupt lines (0-15), prior to
// remapping onto interrupt vectors 32-47.
type IRQNum uint8

// Legacy IRQ line assignments referenced by spec.md §6.
const (
	IRQTimer    = IRQNum(0)
	IRQKeyboard = IRQNum(1)
	IRQCascade  = IRQNum(2)
)

// irqLineCount mirrors the 16 legacy interrupt lines.
const irqLineCount = 16

// maxUnhandledIRQLogs bounds how many times an IRQ line with no registered
// handler is logged, per spec.md §4.3 ("others -> log only the first three
// occurrences to avoid spam").
const maxUnhandledIRQLogs = 3

// IRQHandler handles a hardware interrupt line. Handlers run with the
// corresponding line masked on the owning PIC until Dispatch sends EOI.
type IRQHandler func()

var (
	irqHandlers [irqLineCount]IRQHandler
	irqCounts   [irqLineCount]uint64
	unhandledLogCounts [irqLineCount]uint8

	eoiFn = pic.EOI
)

// HandleIRQ registers a handler for the given legacy IRQ line.
func HandleIRQ(irqNum IRQNum, handler IRQHandler) {
	irqHandlers[irqNum] = handler
}

// IRQCount returns the number of times the given IRQ line has been
// dispatched.
func IRQCount(irqNum IRQNum) uint64 {
	return irqCounts[irqNum]
}

// DispatchIRQ is invoked by the common interrupt stub for vectors 32-47. It
// increments the line's counter, invokes any registered handler, and always
// sends EOI -- even when the driver has no handler registered -- per
// spec.md §4.3's invariant that EOI is sent on every IRQ path.
func DispatchIRQ(irqNum uint8) {
	num := IRQNum(irqNum)
	irqCounts[num]++

	if handler := irqHandlers[num]; handler != nil {
		handler()
	} else if unhandledLogCounts[num] < maxUnhandledIRQLogs {
		unhandledLogCounts[num]++
		kfmt.Printf("irq: no handler registered for line %d\n", irqNum)
	}

	eoiFn(irqNum)
}

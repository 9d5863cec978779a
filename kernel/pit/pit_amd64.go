// Package pit drives channel 0 of the legacy 8253/8254 Programmable Interval
// Timer as a rate generator feeding the scheduler's preemption tick.
package pit

import "boxos/kernel/cpu"

const (
	channel0DataPort = 0x40
	commandPort      = 0x43

	// baseFrequency is the PIT's fixed input clock.
	baseFrequency = 1193182

	// modeRateGenerator (mode 2), channel 0, lobyte/hibyte access.
	modeRateGenerator = 0x34

	// DefaultFrequencyHz is used unless Init is called with an explicit rate.
	DefaultFrequencyHz = 100
)

var (
	out8Fn = cpu.Out8

	// ticks counts every PIT interrupt since Init; it is the monotonic
	// counter referenced by spec.md §4.2.
	ticks uint64

	// tickHookFn is invoked after the tick counter is incremented; it is
	// swapped in by the scheduler to receive preemption notifications.
	tickHookFn func()
)

// Init programs channel 0 in rate-generator mode for the requested
// frequency. A frequency of 0 falls back to DefaultFrequencyHz.
func Init(frequencyHz uint32) {
	if frequencyHz == 0 {
		frequencyHz = DefaultFrequencyHz
	}

	divisor := uint16(baseFrequency / frequencyHz)

	out8Fn(commandPort, modeRateGenerator)
	out8Fn(channel0DataPort, uint8(divisor&0xff))
	out8Fn(channel0DataPort, uint8(divisor>>8))
}

// SetTickHook registers a function to be invoked on every tick, after the
// monotonic counter has been incremented. Passing nil disables the hook.
func SetTickHook(hook func()) {
	tickHookFn = hook
}

// Tick is invoked by the IRQ0 handler on every PIT interrupt. It increments
// the monotonic tick counter and then invokes the registered tick hook
// (normally the scheduler's preemption entry point).
func Tick() {
	ticks++
	if tickHookFn != nil {
		tickHookFn()
	}
}

// Ticks returns the number of PIT interrupts observed since Init.
func Ticks() uint64 {
	return ticks
}

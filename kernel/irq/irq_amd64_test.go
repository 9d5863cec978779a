package irq

import "testing"

func resetIRQState() {
	for i := range irqHandlers {
		irqHandlers[i] = nil
		irqCounts[i] = 0
		unhandledLogCounts[i] = 0
	}
}

func TestDispatchIRQWithHandler(t *testing.T) {
	defer func() { eoiFn = nil }()
	resetIRQState()
	defer resetIRQState()

	var eoiLine uint8 = 255
	eoiFn = func(irq uint8) { eoiLine = irq }

	called := 0
	HandleIRQ(IRQTimer, func() { called++ })

	DispatchIRQ(uint8(IRQTimer))
	DispatchIRQ(uint8(IRQTimer))

	if called != 2 {
		t.Errorf("expected handler to run twice; ran %d times", called)
	}
	if IRQCount(IRQTimer) != 2 {
		t.Errorf("expected IRQCount to be 2; got %d", IRQCount(IRQTimer))
	}
	if eoiLine != uint8(IRQTimer) {
		t.Errorf("expected EOI to be sent for line %d; got %d", IRQTimer, eoiLine)
	}
}

func TestDispatchIRQWithoutHandler(t *testing.T) {
	defer func() { eoiFn = nil }()
	resetIRQState()
	defer resetIRQState()

	eoiCalls := 0
	eoiFn = func(irq uint8) { eoiCalls++ }

	for i := 0; i < maxUnhandledIRQLogs+2; i++ {
		DispatchIRQ(uint8(IRQCascade))
	}

	if IRQCount(IRQCascade) != uint64(maxUnhandledIRQLogs+2) {
		t.Errorf("expected counter to track every dispatch regardless of handler presence")
	}
	if eoiCalls != maxUnhandledIRQLogs+2 {
		t.Errorf("expected EOI to be sent on every IRQ path even without a handler; got %d calls", eoiCalls)
	}
	if unhandledLogCounts[IRQCascade] != maxUnhandledIRQLogs {
		t.Errorf("expected unhandled log count to saturate at %d; got %d", maxUnhandledIRQLogs, unhandledLogCounts[IRQCascade])
	}
}

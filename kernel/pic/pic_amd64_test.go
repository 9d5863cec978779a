package pic

import "testing"

func mockPorts(t *testing.T) *map[uint16]uint8 {
	writes := make(map[uint16]uint8)

	origIn8, origOut8, origWait := in8Fn, out8Fn, waitFn
	t.Cleanup(func() {
		in8Fn, out8Fn, waitFn = origIn8, origOut8, origWait
	})

	out8Fn = func(port uint16, v uint8) { writes[port] = v }
	in8Fn = func(port uint16) uint8 { return writes[port] }
	waitFn = func() {}

	return &writes
}

func TestInit(t *testing.T) {
	writes := mockPorts(t)

	Init()

	if got := (*writes)[masterDataPort]; got != 0xff {
		t.Errorf("expected master mask to be fully masked after init; got %#x", got)
	}
	if got := (*writes)[slaveDataPort]; got != 0xff {
		t.Errorf("expected slave mask to be fully masked after init; got %#x", got)
	}
}

func TestEnableDisable(t *testing.T) {
	mockPorts(t)
	Init()

	Enable(0)
	if masterMask&1 != 0 {
		t.Error("expected IRQ0 to be unmasked")
	}

	Enable(8)
	if slaveMask&1 != 0 {
		t.Error("expected IRQ8 to be unmasked")
	}
	if masterMask&(1<<cascadeIRQ) != 0 {
		t.Error("expected master cascade line to be unmasked when a slave IRQ is enabled")
	}

	Disable(0)
	if masterMask&1 == 0 {
		t.Error("expected IRQ0 to be masked again")
	}
}

func TestEOI(t *testing.T) {
	writes := mockPorts(t)

	EOI(1)
	if _, ok := (*writes)[slaveCommandPort]; ok {
		t.Error("expected no EOI sent to slave for a master-only IRQ")
	}
	if (*writes)[masterCommandPort] != eoiCommand {
		t.Error("expected EOI sent to master")
	}

	delete(*writes, masterCommandPort)
	EOI(10)
	if (*writes)[slaveCommandPort] != eoiCommand || (*writes)[masterCommandPort] != eoiCommand {
		t.Error("expected EOI sent to both chips for a slave IRQ")
	}
}

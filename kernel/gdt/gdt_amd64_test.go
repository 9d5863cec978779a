package gdt

import "testing"

func TestInstallDescriptors(t *testing.T) {
	installDescriptors()

	specs := []struct {
		name   string
		got    entry
		access uint8
	}{
		{"kernelCode", table.kernelCode, accessPresent | accessDescriptor | accessExecutable | accessRW},
		{"kernelData", table.kernelData, accessPresent | accessDescriptor | accessRW},
		{"userCode", table.userCode, accessPresent | accessRing3 | accessDescriptor | accessExecutable | accessRW},
		{"userData", table.userData, accessPresent | accessRing3 | accessDescriptor | accessRW},
	}

	for _, spec := range specs {
		if spec.got.access != spec.access {
			t.Errorf("%s: expected access byte %#x; got %#x", spec.name, spec.access, spec.got.access)
		}
	}

	if table.kernelCode.flagsLimit>>4 != flagLongMode {
		t.Error("expected kernel code segment to carry the long-mode flag")
	}
}

func TestInstallTSS(t *testing.T) {
	ring0Stack := uintptr(0xffff80000badc0de)
	istStacks := [4]uintptr{0x1000, 0x2000, 0x3000, 0x4000}

	installTSS(ring0Stack, istStacks)

	if tssInstance.rsp0 != uint64(ring0Stack) {
		t.Errorf("expected rsp0 to be %x; got %x", ring0Stack, tssInstance.rsp0)
	}

	gotIST := []uint64{tssInstance.ist1, tssInstance.ist2, tssInstance.ist3, tssInstance.ist4}
	for i, want := range istStacks {
		if gotIST[i] != uint64(want) {
			t.Errorf("IST%d: expected %x; got %x", i+1, want, gotIST[i])
		}
	}

	if tssInstance.ist5 != 0 || tssInstance.ist6 != 0 || tssInstance.ist7 != 0 {
		t.Error("expected IST5-7 to remain zero per the authoritative spec defect")
	}

	if table.tss.low.access != accessPresent|accessTSS {
		t.Errorf("expected TSS descriptor access byte %#x; got %#x", accessPresent|accessTSS, table.tss.low.access)
	}
}

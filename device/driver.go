package device

import (
	"boxos/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Any diagnostic output
	// produced while probing the hardware is written to w.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn attempts to detect a particular piece of hardware. It returns a
// ready-to-initialize Driver instance if the hardware is present or nil
// otherwise.
type ProbeFn func() Driver

// Detection order constants control the relative order in which registered
// drivers are probed by the hal package. Lower values run first.
const (
	DetectOrderEarly = iota
	DetectOrderBeforeACPI
	DetectOrderACPI
	DetectOrderLast
)

// DriverInfo bundles a probe function together with its detection order.
type DriverInfo struct {
	// Order controls when Probe is invoked relative to other registered
	// drivers.
	Order int

	// Probe is invoked by the hal package to detect this driver's
	// hardware.
	Probe ProbeFn
}

// DriverInfoList implements sort.Interface, ordering entries by Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int      { return len(l) }
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }
func (l DriverInfoList) Less(i, j int) bool {
	return l[i].Order < l[j].Order
}

// registeredDrivers accumulates the driver probes registered via
// RegisterDriver. Drivers typically register themselves from an init()
// function in their package.
var registeredDrivers DriverInfoList

// RegisterDriver adds a driver probe entry to the global registry consulted
// by hal.DetectHardware.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the currently registered driver probes.
func DriverList() DriverInfoList {
	return registeredDrivers
}

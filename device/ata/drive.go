// Package ata implements a PIO-mode driver for the primary ATA bus,
// addressing disks with 28-bit LBA. DMA and ATAPI devices are out of scope;
// every transfer is a polled, interrupt-free busy-wait on the status
// register.
package ata

import (
	"boxos/device"
	"boxos/kernel"
	"boxos/kernel/cpu"
	"io"
)

const (
	dataPort        = 0x1F0
	errorPort       = 0x1F1 // read
	featuresPort    = 0x1F1 // write
	sectorCountPort = 0x1F2
	lbaLowPort      = 0x1F3
	lbaMidPort      = 0x1F4
	lbaHighPort     = 0x1F5
	drivePort       = 0x1F6
	statusPort      = 0x1F7 // read
	commandPort     = 0x1F7 // write
	controlPort     = 0x3F6
)

const (
	statusERR = 1 << 0
	statusDRQ = 1 << 3
	statusSRV = 1 << 4
	statusDF  = 1 << 5
	statusRDY = 1 << 6
	statusBSY = 1 << 7
)

const (
	errAMNF  = 1 << 0 // address mark not found
	errTK0NF = 1 << 1 // track 0 not found
	errABRT  = 1 << 2 // command aborted
	errMCR   = 1 << 3 // media change requested
	errIDNF  = 1 << 4 // id (sector) not found
	errMC    = 1 << 5 // media changed
	errUNC   = 1 << 6 // uncorrectable data error
	errBBK   = 1 << 7 // bad block detected
)

const (
	cmdReadSectors  = 0x20
	cmdWriteSectors = 0x30
	cmdCacheFlush   = 0xE7
	cmdIdentify     = 0xEC
)

const (
	selectMaster = 0xE0 // bits 6,5 set per ATA convention; bit 4 selects drive
	selectSlave  = 0xF0

	softResetBit = 1 << 2

	// maxBusyLoops bounds the busy-wait spin used as a crude timeout; there
	// is no interrupt-driven completion signal in PIO mode.
	maxBusyLoops = 1_000_000

	// maxRetries is the number of attempts a single Read/Write performs
	// before giving up.
	maxRetries = 3

	// MaxSectorsPerCommand is the largest sector count a single PIO
	// command accepts (0 in the count register means 256).
	MaxSectorsPerCommand = 256
)

// DecodedError classifies the ATA ERROR register after a failed command.
type DecodedError struct {
	AddressMarkNotFound bool
	Track0NotFound      bool
	Aborted             bool
	MediaChangeRequest  bool
	IDNotFound          bool
	MediaChanged        bool
	Uncorrectable       bool
	BadBlock            bool
}

func decodeError(reg uint8) DecodedError {
	return DecodedError{
		AddressMarkNotFound: reg&errAMNF != 0,
		Track0NotFound:      reg&errTK0NF != 0,
		Aborted:             reg&errABRT != 0,
		MediaChangeRequest:  reg&errMCR != 0,
		IDNotFound:          reg&errIDNF != 0,
		MediaChanged:        reg&errMC != 0,
		Uncorrectable:       reg&errUNC != 0,
		BadBlock:            reg&errBBK != 0,
	}
}

var (
	errNoDevice   = &kernel.Error{Module: "ata", Message: "no device present on the primary bus"}
	errTimeout    = &kernel.Error{Module: "ata", Message: "timed out waiting for the drive"}
	errIO         = &kernel.Error{Module: "ata", Message: "I/O error reported by drive"}
	errBadCount   = &kernel.Error{Module: "ata", Message: "sector count must be 1..256"}
	errDriveFault = &kernel.Error{Module: "ata", Message: "drive fault (DF) reported"}
)

// Drive implements device.Driver for the primary-master ATA disk.
type Drive struct {
	sectors uint64 // total addressable 28-bit LBA sectors, from IDENTIFY

	in8Fn   func(uint16) uint8
	out8Fn  func(uint16, uint8)
	in16Fn  func(uint16) uint16
	out16Fn func(uint16, uint16)
	waitFn  func()
}

// New constructs a Drive bound to the real I/O port primitives. probeForATA
// uses this to build the instance handed to device.RegisterDriver.
func New() *Drive {
	return &Drive{
		in8Fn:   cpu.In8,
		out8Fn:  cpu.Out8,
		in16Fn:  cpu.In16,
		out16Fn: cpu.Out16,
		waitFn:  cpu.IOWait,
	}
}

// DriverName returns the name of this driver.
func (d *Drive) DriverName() string { return "ata" }

// DriverVersion returns the version of this driver.
func (d *Drive) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit performs a software reset and IDENTIFYs the primary-master
// drive. A floating bus or the absence of an ATA device is reported through
// w rather than treated as fatal, since the kernel may legitimately boot
// without a disk attached.
func (d *Drive) DriverInit(w io.Writer) *kernel.Error {
	d.softReset()

	if !d.selectAndWait(selectMaster) {
		io.WriteString(w, "ata: primary-master select timed out\n")
		return errNoDevice
	}

	id, err := d.identify()
	if err != nil {
		io.WriteString(w, "ata: no device on primary-master: "+err.Message+"\n")
		return err
	}

	d.sectors = id.lba28Sectors
	io.WriteString(w, "ata: primary-master ready\n")
	return nil
}

// Sectors returns the total number of addressable 28-bit LBA sectors.
func (d *Drive) Sectors() uint64 { return d.sectors }

// softReset pulses SRST on the device control register, performed once at
// driver init.
func (d *Drive) softReset() {
	d.out8Fn(controlPort, softResetBit)
	d.waitFn()
	d.out8Fn(controlPort, 0)
	d.waitFn()
	d.waitForBSYClear()
}

func (d *Drive) selectAndWait(selector uint8) bool {
	d.out8Fn(drivePort, selector)
	d.waitFn()
	return d.waitForBSYClear()
}

func (d *Drive) waitForBSYClear() bool {
	for i := 0; i < maxBusyLoops; i++ {
		if d.in8Fn(statusPort)&statusBSY == 0 {
			return true
		}
	}
	return false
}

func (d *Drive) waitForDRQ() (ok bool, status uint8) {
	for i := 0; i < maxBusyLoops; i++ {
		s := d.in8Fn(statusPort)
		if s&statusBSY != 0 {
			continue
		}
		if s&statusERR != 0 || s&statusDF != 0 {
			return false, s
		}
		if s&statusDRQ != 0 {
			return true, s
		}
	}
	return false, 0
}

type identifyData struct {
	lba28Sectors uint64
}

// identify issues IDENTIFY DEVICE and detects a floating bus: status 0x00
// or 0xFF, or a non-zero LBA mid/high byte, means no ATA device is present
// on the line.
func (d *Drive) identify() (identifyData, *kernel.Error) {
	d.out8Fn(sectorCountPort, 0)
	d.out8Fn(lbaLowPort, 0)
	d.out8Fn(lbaMidPort, 0)
	d.out8Fn(lbaHighPort, 0)
	d.out8Fn(commandPort, cmdIdentify)

	status := d.in8Fn(statusPort)
	if status == 0x00 || status == 0xFF {
		return identifyData{}, errNoDevice
	}

	if d.in8Fn(lbaMidPort) != 0 || d.in8Fn(lbaHighPort) != 0 {
		return identifyData{}, errNoDevice
	}

	if !d.waitForBSYClear() {
		return identifyData{}, errTimeout
	}

	ok, s := d.waitForDRQ()
	if !ok {
		if s&statusERR != 0 {
			return identifyData{}, errIO
		}
		return identifyData{}, errTimeout
	}

	var words [256]uint16
	for i := range words {
		words[i] = d.in16Fn(dataPort)
	}

	lba28 := uint64(words[60]) | uint64(words[61])<<16
	return identifyData{lba28Sectors: lba28}, nil
}

// selectLBA programs the drive/head, sector count and LBA registers for a
// 28-bit LBA command addressing count sectors starting at lba.
func (d *Drive) selectLBA(lba uint32, count uint8) {
	d.out8Fn(drivePort, selectMaster|uint8((lba>>24)&0x0F))
	d.waitFn()
	d.out8Fn(sectorCountPort, count)
	d.out8Fn(lbaLowPort, uint8(lba))
	d.out8Fn(lbaMidPort, uint8(lba>>8))
	d.out8Fn(lbaHighPort, uint8(lba>>16))
}

// sectorCountRegister encodes count sectors into the single-byte sector
// count register, where 0 means 256 per the ATA convention.
func sectorCountRegister(count int) uint8 {
	if count == MaxSectorsPerCommand {
		return 0
	}
	return uint8(count)
}

// ReadSectors reads count consecutive 512-byte sectors starting at lba into
// buf, retrying up to maxRetries times on a decoded I/O error. len(buf) must
// be exactly count*512.
func (d *Drive) ReadSectors(lba uint32, count int, buf []byte) *kernel.Error {
	if count < 1 || count > MaxSectorsPerCommand {
		return errBadCount
	}
	if len(buf) != count*512 {
		return errBadCount
	}

	var lastErr *kernel.Error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if !d.waitForBSYClear() {
			lastErr = errTimeout
			continue
		}
		d.selectLBA(lba, sectorCountRegister(count))
		d.out8Fn(commandPort, cmdReadSectors)

		offset := 0
		failed := false
		for s := 0; s < count; s++ {
			ok, status := d.waitForDRQ()
			if !ok {
				if status&statusDF != 0 {
					lastErr = errDriveFault
				} else if status&statusERR != 0 {
					lastErr = decodedIOError(d.in8Fn(errorPort))
				} else {
					lastErr = errTimeout
				}
				failed = true
				break
			}
			for w := 0; w < 256; w++ {
				word := d.in16Fn(dataPort)
				buf[offset] = uint8(word)
				buf[offset+1] = uint8(word >> 8)
				offset += 2
			}
		}

		if !failed {
			return nil
		}
	}

	return lastErr
}

// WriteSectors writes count consecutive 512-byte sectors starting at lba
// from buf, retrying up to maxRetries times and flushing the write cache
// after every successful write command.
func (d *Drive) WriteSectors(lba uint32, count int, buf []byte) *kernel.Error {
	if count < 1 || count > MaxSectorsPerCommand {
		return errBadCount
	}
	if len(buf) != count*512 {
		return errBadCount
	}

	var lastErr *kernel.Error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if !d.waitForBSYClear() {
			lastErr = errTimeout
			continue
		}
		d.selectLBA(lba, sectorCountRegister(count))
		d.out8Fn(commandPort, cmdWriteSectors)

		offset := 0
		failed := false
		for s := 0; s < count; s++ {
			ok, status := d.waitForDRQ()
			if !ok {
				if status&statusDF != 0 {
					lastErr = errDriveFault
				} else if status&statusERR != 0 {
					lastErr = decodedIOError(d.in8Fn(errorPort))
				} else {
					lastErr = errTimeout
				}
				failed = true
				break
			}
			for w := 0; w < 256; w++ {
				word := uint16(buf[offset]) | uint16(buf[offset+1])<<8
				d.out16Fn(dataPort, word)
				offset += 2
			}
		}

		if failed {
			continue
		}

		if !d.flushCache() {
			lastErr = errTimeout
			continue
		}
		return nil
	}

	return lastErr
}

func (d *Drive) flushCache() bool {
	d.out8Fn(commandPort, cmdCacheFlush)
	return d.waitForBSYClear()
}

// decodedIOError wraps the decoded ERROR register in a *kernel.Error whose
// message names the first set condition in the order checked below; the
// other bits of the DecodedError are not returned.
func decodedIOError(reg uint8) *kernel.Error {
	dec := decodeError(reg)
	msg := "I/O error"
	switch {
	case dec.IDNotFound:
		msg = "sector id not found"
	case dec.Uncorrectable:
		msg = "uncorrectable data error"
	case dec.BadBlock:
		msg = "bad block"
	case dec.AddressMarkNotFound:
		msg = "address mark not found"
	case dec.Track0NotFound:
		msg = "track 0 not found"
	case dec.Aborted:
		msg = "command aborted"
	case dec.MediaChangeRequest:
		msg = "media change requested"
	case dec.MediaChanged:
		msg = "media changed"
	}
	return &kernel.Error{Module: "ata", Message: msg}
}

func probeForATA() device.Driver {
	return New()
}

func init() {
	device.RegisterDriver(&device.DriverInfo{Order: device.DetectOrderEarly, Probe: probeForATA})
}

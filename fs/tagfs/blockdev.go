package tagfs

import (
	"boxos/device/ata"
	"boxos/kernel"
)

// ataBlockDevice adapts the sector-oriented ata.Drive to TagFS's 4-KiB
// block granularity: one block is SectorsPerBlock consecutive 512-byte
// sectors.
type ataBlockDevice struct {
	drive *ata.Drive
}

// NewATABlockDevice wraps drive as a tagfs.BlockDevice.
func NewATABlockDevice(drive *ata.Drive) BlockDevice {
	return &ataBlockDevice{drive: drive}
}

func (d *ataBlockDevice) ReadBlock(block uint32, buf []byte) *kernel.Error {
	return d.drive.ReadSectors(block*SectorsPerBlock, SectorsPerBlock, buf)
}

func (d *ataBlockDevice) WriteBlock(block uint32, buf []byte) *kernel.Error {
	return d.drive.WriteSectors(block*SectorsPerBlock, SectorsPerBlock, buf)
}

func (d *ataBlockDevice) Blocks() uint32 {
	return uint32(d.drive.Sectors() / SectorsPerBlock)
}

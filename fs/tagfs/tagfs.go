// Package tagfs implements a tag-addressed filesystem: inodes carry an
// unordered set of (key, value) tags instead of path components, and
// listings are tag-intersection queries rather than directory walks. The
// on-disk layout is block 0 (superblock), the block-allocation bitmap, the
// packed inode table, then the data region, all in 4-KiB blocks.
package tagfs

import (
	"boxos/kernel"
	"encoding/binary"
)

const (
	// BlockSize is the filesystem's block granularity.
	BlockSize = 4096

	// SectorsPerBlock is the number of 512-byte ATA sectors per block.
	SectorsPerBlock = BlockSize / 512

	// Magic identifies a formatted TagFS superblock ("TAGF").
	Magic = 0x54414746

	// Version is the on-disk format version written by Format.
	Version = 1

	// MaxDirectBlocks bounds a file's size to MaxDirectBlocks*BlockSize
	// bytes; there are no indirect block pointers.
	MaxDirectBlocks = 12

	// MaxFileSize is the largest payload Create accepts.
	MaxFileSize = MaxDirectBlocks * BlockSize

	// MaxTagsPerFile bounds an inode's tag set.
	MaxTagsPerFile = 8

	// KeySize and ValueSize bound a tag's key and value, in bytes.
	KeySize   = 16
	ValueSize = 32

	// DefaultTotalInodes is the inode table size used by Format when the
	// caller does not request a different budget.
	DefaultTotalInodes = 1024

	// tombstoneSize is the sentinel Size value carried by every
	// unallocated inode slot, per the on-disk invariant that distinguishes
	// a never-allocated/erased record from a zero-length file.
	tombstoneSize = ^uint64(0)
)

// Tag reserved keys with semantic meaning.
const (
	TagName    = "name"
	TagOwner   = "owner"
	TagTrashed = "trashed"

	trashedValue = "true"
)

var (
	errCorruptSuperblock = &kernel.Error{Module: "tagfs", Message: "superblock magic mismatch"}
	errNoSpace           = &kernel.Error{Module: "tagfs", Message: "device too small for a TagFS layout"}
)

// BlockDevice is the block-I/O contract TagFS needs from the underlying
// disk: fixed-size, whole-block reads and writes addressed by block number.
type BlockDevice interface {
	ReadBlock(block uint32, buf []byte) *kernel.Error
	WriteBlock(block uint32, buf []byte) *kernel.Error
	Blocks() uint32
}

// Superblock is the block-0 persistent header describing the filesystem
// layout.
type Superblock struct {
	Magic           uint32
	Version         uint32
	TotalBlocks     uint32
	FreeBlocks      uint32
	TotalInodes     uint32
	FreeInodes      uint32
	BitmapStart     uint32
	InodeTableStart uint32
	DataRegionStart uint32
}

const superblockWireSize = 4*2 + 4*7

func (s *Superblock) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], s.Magic)
	binary.LittleEndian.PutUint32(buf[4:], s.Version)
	binary.LittleEndian.PutUint32(buf[8:], s.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[12:], s.FreeBlocks)
	binary.LittleEndian.PutUint32(buf[16:], s.TotalInodes)
	binary.LittleEndian.PutUint32(buf[20:], s.FreeInodes)
	binary.LittleEndian.PutUint32(buf[24:], s.BitmapStart)
	binary.LittleEndian.PutUint32(buf[28:], s.InodeTableStart)
	binary.LittleEndian.PutUint32(buf[32:], s.DataRegionStart)
}

func unmarshalSuperblock(buf []byte) Superblock {
	return Superblock{
		Magic:           binary.LittleEndian.Uint32(buf[0:]),
		Version:         binary.LittleEndian.Uint32(buf[4:]),
		TotalBlocks:     binary.LittleEndian.Uint32(buf[8:]),
		FreeBlocks:      binary.LittleEndian.Uint32(buf[12:]),
		TotalInodes:     binary.LittleEndian.Uint32(buf[16:]),
		FreeInodes:      binary.LittleEndian.Uint32(buf[20:]),
		BitmapStart:     binary.LittleEndian.Uint32(buf[24:]),
		InodeTableStart: binary.LittleEndian.Uint32(buf[28:]),
		DataRegionStart: binary.LittleEndian.Uint32(buf[32:]),
	}
}

// Context is the mounted, in-memory filesystem state: the superblock, the
// block-allocation bitmap and the full inode table. This state is only
// ever touched from task context, never from an IRQ handler, so no lock
// guards it.
type Context struct {
	dev BlockDevice
	sb  Superblock

	bitmap []byte
	inodes []FileInode

	contextTags []Tag
}

func bitmapBlockCount(totalBlocks uint32) uint32 {
	bits := totalBlocks
	bytesNeeded := (bits + 7) / 8
	return (bytesNeeded + BlockSize - 1) / BlockSize
}

// inodeTableBlockCount must agree with inodesPerBlock: inode records never
// span a block boundary, so the reserved range is sized in whole blocks of
// inodesPerBlock records each, not by raw byte count.
func inodeTableBlockCount(totalInodes uint32) uint32 {
	return (totalInodes + inodesPerBlock - 1) / inodesPerBlock
}

// layout computes the block ranges for a fresh filesystem of the given size.
func layout(totalBlocks, totalInodes uint32) (sb Superblock, ok bool) {
	bitmapBlocks := bitmapBlockCount(totalBlocks)
	inodeBlocks := inodeTableBlockCount(totalInodes)

	bitmapStart := uint32(1)
	inodeTableStart := bitmapStart + bitmapBlocks
	dataRegionStart := inodeTableStart + inodeBlocks

	if dataRegionStart >= totalBlocks {
		return Superblock{}, false
	}

	return Superblock{
		Magic:           Magic,
		Version:         Version,
		TotalBlocks:     totalBlocks,
		FreeBlocks:      totalBlocks - dataRegionStart,
		TotalInodes:     totalInodes,
		FreeInodes:      totalInodes,
		BitmapStart:     bitmapStart,
		InodeTableStart: inodeTableStart,
		DataRegionStart: dataRegionStart,
	}, true
}

// Format lays out a brand new filesystem on dev and persists it.
func Format(dev BlockDevice, totalInodes uint32) (*Context, *kernel.Error) {
	sb, ok := layout(dev.Blocks(), totalInodes)
	if !ok {
		return nil, errNoSpace
	}

	c := &Context{
		dev:     dev,
		sb:      sb,
		bitmap:  make([]byte, bitmapBlockCount(sb.TotalBlocks)*BlockSize),
		inodes:  make([]FileInode, totalInodes),
	}
	for i := range c.inodes {
		c.inodes[i].Size = tombstoneSize
	}
	// The superblock and bitmap/inode-table blocks themselves are never
	// allocatable as data blocks.
	for b := uint32(0); b < sb.DataRegionStart; b++ {
		setBit(c.bitmap, b)
	}

	if err := c.persistSuperblock(); err != nil {
		return nil, err
	}
	if err := c.persistBitmap(); err != nil {
		return nil, err
	}
	if err := c.persistAllInodes(); err != nil {
		return nil, err
	}
	return c, nil
}

// Mount reads the superblock from block 0 and loads the bitmap and inode
// table. A magic mismatch formats a fresh filesystem when forceFormat is
// set, and is otherwise fatal.
func Mount(dev BlockDevice, forceFormat bool) (*Context, *kernel.Error) {
	buf := make([]byte, BlockSize)
	if err := dev.ReadBlock(0, buf); err != nil {
		return nil, err
	}
	sb := unmarshalSuperblock(buf)

	if sb.Magic != Magic {
		if forceFormat {
			return Format(dev, DefaultTotalInodes)
		}
		panicHookFn(errCorruptSuperblock)
		return nil, errCorruptSuperblock
	}

	c := &Context{
		dev:     dev,
		sb:      sb,
		bitmap:  make([]byte, bitmapBlockCount(sb.TotalBlocks)*BlockSize),
		inodes:  make([]FileInode, sb.TotalInodes),
	}

	for b := uint32(0); b < bitmapBlockCount(sb.TotalBlocks); b++ {
		blk := make([]byte, BlockSize)
		if err := dev.ReadBlock(sb.BitmapStart+b, blk); err != nil {
			return nil, err
		}
		copy(c.bitmap[b*BlockSize:], blk)
	}

	for i := range c.inodes {
		if err := c.loadInode(i); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Context) persistSuperblock() *kernel.Error {
	buf := make([]byte, BlockSize)
	c.sb.marshal(buf)
	return c.dev.WriteBlock(0, buf)
}

func (c *Context) persistBitmap() *kernel.Error {
	blocks := bitmapBlockCount(c.sb.TotalBlocks)
	for b := uint32(0); b < blocks; b++ {
		buf := make([]byte, BlockSize)
		copy(buf, c.bitmap[b*BlockSize:(b+1)*BlockSize])
		if err := c.dev.WriteBlock(c.sb.BitmapStart+b, buf); err != nil {
			return err
		}
	}
	return nil
}

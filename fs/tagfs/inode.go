package tagfs

import (
	"boxos/kernel"
	"boxos/kernel/kfmt"
	"encoding/binary"
)

// kernelPanic is the default panicHookFn: it halts the kernel via kfmt.Panic.
// Tests substitute a non-halting stand-in.
func kernelPanic(e interface{}) {
	kfmt.Panic(e)
}

// panicHookFn is invoked on a fatal TagFS condition (currently: an
// unmountable superblock without force_format). Mocked by tests.
var panicHookFn = kernelPanic

// Tag is a bounded (key, value) pair attached to an inode.
type Tag struct {
	Key   string
	Value string
}

// FileInode is a TagFS file record. inode_id == 0 means the slot is
// unallocated; size == tombstoneSize accompanies every unallocated slot.
type FileInode struct {
	InodeID  uint64
	Size     uint64
	Blocks   [MaxDirectBlocks]uint32
	Tags     [MaxTagsPerFile]Tag
	TagCount uint32
}

const inodeRecordSize = 8 + 8 + 4 + 4 + MaxDirectBlocks*4 + MaxTagsPerFile*(KeySize+ValueSize)

// inodesPerBlock is the number of whole inode records that fit in one block.
// Records never span a block boundary, so inodeTableBlockCount must size the
// inode table using this same truncated count.
const inodesPerBlock = BlockSize / inodeRecordSize

// Allocated reports whether the inode slot holds a live file.
func (fi *FileInode) Allocated() bool {
	return fi.InodeID != 0
}

// tagSlice returns the inode's live tags (TagCount entries).
func (fi *FileInode) tagSlice() []Tag {
	return fi.Tags[:fi.TagCount]
}

func (fi *FileInode) hasTag(key string) (Tag, bool) {
	for _, t := range fi.tagSlice() {
		if t.Key == key {
			return t, true
		}
	}
	return Tag{}, false
}

// IsTrashed reports whether the inode carries trashed=true.
func (fi *FileInode) IsTrashed() bool {
	t, ok := fi.hasTag(TagTrashed)
	return ok && t.Value == trashedValue
}

func marshalInode(fi *FileInode, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], fi.InodeID)
	binary.LittleEndian.PutUint64(buf[8:], fi.Size)
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(nonZeroBlocks(fi.Blocks))))
	binary.LittleEndian.PutUint32(buf[20:], fi.TagCount)

	off := 24
	for i := 0; i < MaxDirectBlocks; i++ {
		binary.LittleEndian.PutUint32(buf[off:], fi.Blocks[i])
		off += 4
	}

	for i := 0; i < MaxTagsPerFile; i++ {
		var keyBuf [KeySize]byte
		var valBuf [ValueSize]byte
		if i < int(fi.TagCount) {
			copy(keyBuf[:], []byte(fi.Tags[i].Key))
			copy(valBuf[:], []byte(fi.Tags[i].Value))
		}
		copy(buf[off:off+KeySize], keyBuf[:])
		off += KeySize
		copy(buf[off:off+ValueSize], valBuf[:])
		off += ValueSize
	}
}

func nonZeroBlocks(blocks [MaxDirectBlocks]uint32) []uint32 {
	// block_count on disk tracks how many direct pointers are in use; a
	// pointer of 0 is only ever valid at index 0 for an empty file, so the
	// count is simply the number of leading non-free slots.
	n := 0
	for _, b := range blocks {
		if b == 0 {
			break
		}
		n++
	}
	return blocks[:n]
}

func unmarshalInode(buf []byte) FileInode {
	var fi FileInode
	fi.InodeID = binary.LittleEndian.Uint64(buf[0:])
	fi.Size = binary.LittleEndian.Uint64(buf[8:])
	_ = binary.LittleEndian.Uint32(buf[16:]) // block_count, re-derived from Blocks on demand
	fi.TagCount = binary.LittleEndian.Uint32(buf[20:])

	off := 24
	for i := 0; i < MaxDirectBlocks; i++ {
		fi.Blocks[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}

	for i := 0; i < MaxTagsPerFile; i++ {
		key := cstring(buf[off : off+KeySize])
		off += KeySize
		val := cstring(buf[off : off+ValueSize])
		off += ValueSize
		if i < int(fi.TagCount) {
			fi.Tags[i] = Tag{Key: key, Value: val}
		}
	}

	return fi
}

// cstring trims a fixed-size, NUL-padded byte field down to its string
// contents.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// BlockCount returns the number of direct block pointers in use.
func (fi *FileInode) BlockCount() int {
	return len(nonZeroBlocks(fi.Blocks))
}

func (c *Context) inodeBlockAndOffset(idx int) (block uint32, offset int) {
	perBlock := inodesPerBlock
	block = c.sb.InodeTableStart + uint32(idx/perBlock)
	offset = (idx % perBlock) * inodeRecordSize
	return
}

func (c *Context) loadInode(idx int) *kernel.Error {
	block, offset := c.inodeBlockAndOffset(idx)
	buf := make([]byte, BlockSize)
	if err := c.dev.ReadBlock(block, buf); err != nil {
		return err
	}
	c.inodes[idx] = unmarshalInode(buf[offset : offset+inodeRecordSize])
	return nil
}

// persistInodeBlock re-marshals every inode sharing idx's on-disk block and
// writes it through to the device.
func (c *Context) persistInodeBlock(idx int) *kernel.Error {
	perBlock := inodesPerBlock
	block, _ := c.inodeBlockAndOffset(idx)
	base := (idx / perBlock) * perBlock

	buf := make([]byte, BlockSize)
	for i := 0; i < perBlock && base+i < len(c.inodes); i++ {
		marshalInode(&c.inodes[base+i], buf[i*inodeRecordSize:(i+1)*inodeRecordSize])
	}
	return c.dev.WriteBlock(block, buf)
}

func (c *Context) persistAllInodes() *kernel.Error {
	perBlock := inodesPerBlock
	for base := 0; base < len(c.inodes); base += perBlock {
		if err := c.persistInodeBlock(base); err != nil {
			return err
		}
	}
	return nil
}

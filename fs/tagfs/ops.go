package tagfs

import "boxos/kernel"

var (
	errInodeTableFull  = &kernel.Error{Module: "tagfs", Message: "inode table full"}
	errBlockBitmapFull = &kernel.Error{Module: "tagfs", Message: "block bitmap full"}
	errTagOverflow     = &kernel.Error{Module: "tagfs", Message: "tag count overflow"}
	errTagTooLong      = &kernel.Error{Module: "tagfs", Message: "tag key or value too long"}
	errDuplicateName   = &kernel.Error{Module: "tagfs", Message: "duplicate name tag"}
	errMissingName     = &kernel.Error{Module: "tagfs", Message: "name tag is required"}
	errFileTooLarge    = &kernel.Error{Module: "tagfs", Message: "file exceeds the maximum direct-block size"}
	errUnknownInode    = &kernel.Error{Module: "tagfs", Message: "unknown inode id"}
	errNameRequired    = &kernel.Error{Module: "tagfs", Message: "the name tag cannot be removed"}
)

func validateTag(t Tag) *kernel.Error {
	if len(t.Key) > KeySize || len(t.Value) > ValueSize {
		return errTagTooLong
	}
	return nil
}

// findByID returns the slot index of the inode with the given ID, or -1.
func (c *Context) findByID(id uint64) int {
	for i := range c.inodes {
		if c.inodes[i].InodeID == id {
			return i
		}
	}
	return -1
}

func (c *Context) nameInUse(name string) bool {
	for i := range c.inodes {
		fi := &c.inodes[i]
		if !fi.Allocated() || fi.IsTrashed() {
			continue
		}
		if t, ok := fi.hasTag(TagName); ok && t.Value == name {
			return true
		}
	}
	return false
}

// Create allocates an inode carrying tags and an optional data payload,
// persisting the inode record, the block bitmap and the superblock.
func (c *Context) Create(tags []Tag, data []byte) (uint64, *kernel.Error) {
	if len(tags) > MaxTagsPerFile {
		return 0, errTagOverflow
	}
	var name string
	haveName := false
	for _, t := range tags {
		if err := validateTag(t); err != nil {
			return 0, err
		}
		if t.Key == TagName {
			name, haveName = t.Value, true
		}
	}
	if !haveName {
		return 0, errMissingName
	}
	if c.nameInUse(name) {
		return 0, errDuplicateName
	}
	if len(data) > MaxFileSize {
		return 0, errFileTooLarge
	}

	slot := -1
	for i := range c.inodes {
		if !c.inodes[i].Allocated() {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, errInodeTableFull
	}

	blockCount := (len(data) + BlockSize - 1) / BlockSize
	var blocks []uint32
	var err *kernel.Error
	if blockCount > 0 {
		blocks, err = c.allocBlocks(blockCount)
		if err != nil {
			return 0, err
		}
	}

	for i, b := range blocks {
		buf := make([]byte, BlockSize)
		start := i * BlockSize
		end := start + BlockSize
		if end > len(data) {
			end = len(data)
		}
		copy(buf, data[start:end])
		if err := c.dev.WriteBlock(b, buf); err != nil {
			c.freeBlocks(blocks)
			return 0, err
		}
	}

	fi := FileInode{
		InodeID:  uint64(slot) + 1,
		Size:     uint64(len(data)),
		TagCount: uint32(len(tags)),
	}
	copy(fi.Tags[:], tags)
	copy(fi.Blocks[:], blocks)
	c.inodes[slot] = fi

	c.sb.FreeInodes--
	if err := c.persistInodeBlock(slot); err != nil {
		return 0, err
	}
	if err := c.persistBitmap(); err != nil {
		return 0, err
	}
	if err := c.persistSuperblock(); err != nil {
		return 0, err
	}

	return fi.InodeID, nil
}

// Tags returns a copy of an inode's tag set.
func (c *Context) Tags(id uint64) ([]Tag, *kernel.Error) {
	slot := c.findByID(id)
	if slot == -1 {
		return nil, errUnknownInode
	}
	return append([]Tag(nil), c.inodes[slot].tagSlice()...), nil
}

// ReadContent concatenates an inode's data blocks up to its recorded size.
func (c *Context) ReadContent(id uint64) ([]byte, *kernel.Error) {
	slot := c.findByID(id)
	if slot == -1 {
		return nil, errUnknownInode
	}
	fi := &c.inodes[slot]

	out := make([]byte, 0, fi.Size)
	remaining := fi.Size
	for _, b := range nonZeroBlocks(fi.Blocks) {
		buf := make([]byte, BlockSize)
		if err := c.dev.ReadBlock(b, buf); err != nil {
			return nil, err
		}
		n := uint64(BlockSize)
		if remaining < n {
			n = remaining
		}
		out = append(out, buf[:n]...)
		remaining -= n
	}
	return out, nil
}

// AddTag inserts or updates a tag on an inode. Setting the name tag is
// subject to the uniqueness invariant against other non-trashed inodes.
func (c *Context) AddTag(id uint64, tag Tag) *kernel.Error {
	if err := validateTag(tag); err != nil {
		return err
	}
	slot := c.findByID(id)
	if slot == -1 {
		return errUnknownInode
	}
	fi := &c.inodes[slot]

	if tag.Key == TagName {
		for i := range c.inodes {
			if i == slot {
				continue
			}
			other := &c.inodes[i]
			if !other.Allocated() || other.IsTrashed() {
				continue
			}
			if t, ok := other.hasTag(TagName); ok && t.Value == tag.Value {
				return errDuplicateName
			}
		}
	}

	for i := 0; i < int(fi.TagCount); i++ {
		if fi.Tags[i].Key == tag.Key {
			fi.Tags[i].Value = tag.Value
			return c.persistInodeBlock(slot)
		}
	}

	if fi.TagCount >= MaxTagsPerFile {
		return errTagOverflow
	}
	fi.Tags[fi.TagCount] = tag
	fi.TagCount++
	return c.persistInodeBlock(slot)
}

// RemoveTag deletes a tag by key. The name tag is required on every
// allocated inode and cannot be removed.
func (c *Context) RemoveTag(id uint64, key string) *kernel.Error {
	if key == TagName {
		return errNameRequired
	}
	slot := c.findByID(id)
	if slot == -1 {
		return errUnknownInode
	}
	fi := &c.inodes[slot]

	for i := 0; i < int(fi.TagCount); i++ {
		if fi.Tags[i].Key == key {
			copy(fi.Tags[i:fi.TagCount-1], fi.Tags[i+1:fi.TagCount])
			fi.TagCount--
			fi.Tags[fi.TagCount] = Tag{}
			return c.persistInodeBlock(slot)
		}
	}
	return nil
}

// Trash marks an inode as logically deleted.
func (c *Context) Trash(id uint64) *kernel.Error {
	return c.addSystemTag(id, Tag{Key: TagTrashed, Value: trashedValue})
}

// Restore clears an inode's trashed tag.
func (c *Context) Restore(id uint64) *kernel.Error {
	slot := c.findByID(id)
	if slot == -1 {
		return errUnknownInode
	}
	fi := &c.inodes[slot]
	for i := 0; i < int(fi.TagCount); i++ {
		if fi.Tags[i].Key == TagTrashed {
			copy(fi.Tags[i:fi.TagCount-1], fi.Tags[i+1:fi.TagCount])
			fi.TagCount--
			fi.Tags[fi.TagCount] = Tag{}
			return c.persistInodeBlock(slot)
		}
	}
	return nil
}

// addSystemTag upserts a tag without the name-uniqueness check AddTag
// applies, for internal lifecycle tags like trashed.
func (c *Context) addSystemTag(id uint64, tag Tag) *kernel.Error {
	slot := c.findByID(id)
	if slot == -1 {
		return errUnknownInode
	}
	fi := &c.inodes[slot]
	for i := 0; i < int(fi.TagCount); i++ {
		if fi.Tags[i].Key == tag.Key {
			fi.Tags[i].Value = tag.Value
			return c.persistInodeBlock(slot)
		}
	}
	if fi.TagCount >= MaxTagsPerFile {
		return errTagOverflow
	}
	fi.Tags[fi.TagCount] = tag
	fi.TagCount++
	return c.persistInodeBlock(slot)
}

// Erase releases an inode's data blocks and zeroes its slot.
func (c *Context) Erase(id uint64) *kernel.Error {
	slot := c.findByID(id)
	if slot == -1 {
		return errUnknownInode
	}
	fi := &c.inodes[slot]

	blocks := append([]uint32(nil), nonZeroBlocks(fi.Blocks)...)
	c.freeBlocks(blocks)

	c.inodes[slot] = FileInode{Size: tombstoneSize}
	c.sb.FreeInodes++

	if err := c.persistInodeBlock(slot); err != nil {
		return err
	}
	if err := c.persistBitmap(); err != nil {
		return err
	}
	return c.persistSuperblock()
}

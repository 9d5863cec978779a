package tagfs

import (
	"bytes"
	"testing"
)

func TestCreateReadContentRoundtrip(t *testing.T) {
	c, _ := mountFresh(t, 256, 16)

	data := []byte("hello, tagfs")
	id, err := c.Create([]Tag{{Key: TagName, Value: "hi.txt"}, {Key: "type", Value: "text"}}, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1 {
		t.Errorf("expected the first inode to be id 1; got %d", id)
	}

	got, err := c.ReadContent(id)
	if err != nil {
		t.Fatalf("unexpected error reading content: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %q; got %q", data, got)
	}
}

func TestCreateRequiresName(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	if _, err := c.Create([]Tag{{Key: "type", Value: "text"}}, nil); err != errMissingName {
		t.Errorf("expected errMissingName; got %v", err)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	if _, err := c.Create([]Tag{{Key: TagName, Value: "dup"}}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Create([]Tag{{Key: TagName, Value: "dup"}}, nil); err != errDuplicateName {
		t.Errorf("expected errDuplicateName; got %v", err)
	}
}

func TestCreateRejectsOversizedFile(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	_, err := c.Create([]Tag{{Key: TagName, Value: "big"}}, make([]byte, MaxFileSize+1))
	if err != errFileTooLarge {
		t.Errorf("expected errFileTooLarge; got %v", err)
	}
}

func TestCreateFailsWhenInodeTableFull(t *testing.T) {
	c, _ := mountFresh(t, 512, 2)

	if _, err := c.Create([]Tag{{Key: TagName, Value: "a"}}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Create([]Tag{{Key: TagName, Value: "b"}}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Create([]Tag{{Key: TagName, Value: "c"}}, nil); err != errInodeTableFull {
		t.Errorf("expected errInodeTableFull; got %v", err)
	}
}

func TestAddTagThenRemoveTagIsIdentity(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	id, _ := c.Create([]Tag{{Key: TagName, Value: "f"}}, nil)
	before := append([]Tag(nil), c.inodes[c.findByID(id)].tagSlice()...)

	if err := c.AddTag(id, Tag{Key: "owner", Value: "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.RemoveTag(id, "owner"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := c.inodes[c.findByID(id)].tagSlice()
	if len(before) != len(after) {
		t.Fatalf("expected tag set to return to its original size; got %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("expected tag %d to match; got %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestAddTagRejectsOverflow(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	id, _ := c.Create([]Tag{{Key: TagName, Value: "f"}}, nil)
	for i := 0; i < MaxTagsPerFile-1; i++ {
		if err := c.AddTag(id, Tag{Key: string(rune('a' + i)), Value: "v"}); err != nil {
			t.Fatalf("unexpected error adding tag %d: %v", i, err)
		}
	}

	if err := c.AddTag(id, Tag{Key: "overflow", Value: "v"}); err != errTagOverflow {
		t.Errorf("expected errTagOverflow; got %v", err)
	}
}

func TestRemoveTagRejectsName(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	id, _ := c.Create([]Tag{{Key: TagName, Value: "f"}}, nil)
	if err := c.RemoveTag(id, TagName); err != errNameRequired {
		t.Errorf("expected errNameRequired; got %v", err)
	}
}

func TestTrashRestoreIsIdentityOnListing(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	id, _ := c.Create([]Tag{{Key: TagName, Value: "f"}, {Key: "type", Value: "text"}}, nil)

	before := c.Query([]Tag{{Key: "type", Value: "text"}}, 0)

	if err := c.Trash(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Query([]Tag{{Key: "type", Value: "text"}}, 0); len(got) != 0 {
		t.Errorf("expected trashed inode to be excluded from listing; got %v", got)
	}
	if err := c.Restore(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := c.Query([]Tag{{Key: "type", Value: "text"}}, 0)
	if len(before) != len(after) || before[0] != after[0] {
		t.Errorf("expected restore to reproduce the original listing; got %v vs %v", before, after)
	}
}

func TestEraseReleasesBlocksAndSlot(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	freeBefore := c.sb.FreeBlocks
	id, err := c.Create([]Tag{{Key: TagName, Value: "f"}}, make([]byte, BlockSize*2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.sb.FreeBlocks != freeBefore-2 {
		t.Fatalf("expected 2 blocks to be consumed; got free=%d", c.sb.FreeBlocks)
	}

	if err := c.Erase(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.sb.FreeBlocks != freeBefore {
		t.Errorf("expected erase to release both blocks; got free=%d want=%d", c.sb.FreeBlocks, freeBefore)
	}
	if c.findByID(id) != -1 {
		t.Error("expected the inode slot to no longer be findable by its old id")
	}
}

func TestReadContentOnUnknownInodeFails(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	if _, err := c.ReadContent(999); err != errUnknownInode {
		t.Errorf("expected errUnknownInode; got %v", err)
	}
}

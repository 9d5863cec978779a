package tagfs

import "testing"

func idsEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryEmptyPredicateReturnsAllNonTrashed(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	a, _ := c.Create([]Tag{{Key: TagName, Value: "a"}}, nil)
	b, _ := c.Create([]Tag{{Key: TagName, Value: "b"}}, nil)
	c.Trash(b)

	got := c.Query(nil, 0)
	if !idsEqual(got, []uint64{a}) {
		t.Errorf("expected only the non-trashed inode %d; got %v", a, got)
	}
}

func TestQueryTrashedPredicateReturnsOnlyTrashed(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	_, _ = c.Create([]Tag{{Key: TagName, Value: "a"}}, nil)
	b, _ := c.Create([]Tag{{Key: TagName, Value: "b"}}, nil)
	c.Trash(b)

	got := c.Query([]Tag{{Key: TagTrashed, Value: "true"}}, 0)
	if !idsEqual(got, []uint64{b}) {
		t.Errorf("expected only the trashed inode %d; got %v", b, got)
	}
}

func TestQueryIntersectionAndTieBreak(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	id1, _ := c.Create([]Tag{{Key: TagName, Value: "a"}, {Key: "type", Value: "text"}, {Key: "owner", Value: "x"}}, nil)
	id2, _ := c.Create([]Tag{{Key: TagName, Value: "b"}, {Key: "type", Value: "text"}, {Key: "owner", Value: "y"}}, nil)
	_, _ = c.Create([]Tag{{Key: TagName, Value: "c"}, {Key: "type", Value: "image"}}, nil)

	got := c.Query([]Tag{{Key: "type", Value: "text"}}, 0)
	if !idsEqual(got, []uint64{id1, id2}) {
		t.Errorf("expected ascending inode_id tie-break [%d %d]; got %v", id1, id2, got)
	}
}

func TestQueryRespectsCap(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	for i := 0; i < 4; i++ {
		c.Create([]Tag{{Key: TagName, Value: string(rune('a' + i))}}, nil)
	}

	got := c.Query(nil, 2)
	if len(got) != 2 {
		t.Errorf("expected cap to bound the result to 2; got %d", len(got))
	}
}

func TestContextFilterAppliesToQuery(t *testing.T) {
	c, _ := mountFresh(t, 64, 8)

	id1, _ := c.Create([]Tag{{Key: TagName, Value: "a"}, {Key: "project", Value: "x"}}, nil)
	_, _ = c.Create([]Tag{{Key: TagName, Value: "b"}, {Key: "project", Value: "y"}}, nil)

	c.ContextSet([]Tag{{Key: "project", Value: "x"}})
	got := c.QueryWithContext(nil, 0)
	if !idsEqual(got, []uint64{id1}) {
		t.Errorf("expected context filter to narrow to %d; got %v", id1, got)
	}

	if !c.ContextMatches(id1) {
		t.Error("expected id1 to match the active context")
	}

	c.ContextClear()
	got = c.QueryWithContext(nil, 0)
	if len(got) != 2 {
		t.Errorf("expected context clear to restore both inodes; got %v", got)
	}
}

package tagfs

// tagSetContains reports whether tags carries every (key, value) pair in
// predicate (AND-semantics, superset match).
func tagSetContains(tags []Tag, predicate []Tag) bool {
	for _, want := range predicate {
		found := false
		for _, have := range tags {
			if have.Key == want.Key && have.Value == want.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func predicateWantsTrashed(predicate []Tag) bool {
	for _, t := range predicate {
		if t.Key == TagTrashed && t.Value == trashedValue {
			return true
		}
	}
	return false
}

// Query scans the inode table in ascending inode_id order, returning the IDs
// of every inode whose tag set is a superset of predicate. An empty
// predicate matches every non-trashed inode; a predicate that asks for
// trashed=true matches trashed inodes instead. The result is capped at cap
// entries; cap <= 0 means unbounded.
func (c *Context) Query(predicate []Tag, cap int) []uint64 {
	wantTrashed := predicateWantsTrashed(predicate)

	var result []uint64
	for i := range c.inodes {
		fi := &c.inodes[i]
		if !fi.Allocated() {
			continue
		}
		if fi.IsTrashed() && !wantTrashed {
			continue
		}
		if !tagSetContains(fi.tagSlice(), predicate) {
			continue
		}
		result = append(result, fi.InodeID)
		if cap > 0 && len(result) >= cap {
			break
		}
	}
	return result
}

// ContextSet installs a process-wide tag filter implicitly AND-ed into
// every subsequent listing query.
func (c *Context) ContextSet(tags []Tag) {
	c.contextTags = append([]Tag(nil), tags...)
}

// ContextClear removes the process-wide tag filter.
func (c *Context) ContextClear() {
	c.contextTags = nil
}

// ContextMatches reports whether an inode satisfies the active context
// filter.
func (c *Context) ContextMatches(id uint64) bool {
	slot := c.findByID(id)
	if slot == -1 {
		return false
	}
	return tagSetContains(c.inodes[slot].tagSlice(), c.contextTags)
}

// QueryWithContext runs Query with the active context filter AND-ed into
// predicate.
func (c *Context) QueryWithContext(predicate []Tag, cap int) []uint64 {
	combined := append(append([]Tag(nil), c.contextTags...), predicate...)
	return c.Query(combined, cap)
}

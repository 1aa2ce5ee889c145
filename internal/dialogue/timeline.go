// internal/dialogue/timeline.go
package dialogue

import (
	"sort"

	"github.com/user/lifeline/internal/types"
)

// Timeline is the ordered, deduplicated sequence of conversation entries.
// Entries are ordered by timestamp, ties broken by insertion order; nothing
// is ever removed or edited. Timeline is not safe for concurrent use; the
// owning session serializes access.
type Timeline struct {
	entries []types.ConversationEntry
	seen    map[types.EntryID]struct{}
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		seen: make(map[types.EntryID]struct{}),
	}
}

// Append adds a locally originated entry unconditionally at its timestamp
// position. Optimistic entries go through here.
func (t *Timeline) Append(e types.ConversationEntry) {
	t.insert(e)
}

// MergeIncoming inserts backend-confirmed or peer entries, skipping any
// whose ID is already present. Repeated delivery of the same entry is a
// no-op, so the merge is replay-safe. Returns the entries that were
// actually inserted, in the order they were offered.
func (t *Timeline) MergeIncoming(entries []types.ConversationEntry) []types.ConversationEntry {
	var added []types.ConversationEntry
	for _, e := range entries {
		if _, dup := t.seen[e.ID]; dup {
			continue
		}
		t.insert(e)
		added = append(added, e)
	}
	return added
}

// insert places e after every existing entry whose timestamp is not later
// than e's, which preserves insertion order among equal timestamps.
func (t *Timeline) insert(e types.ConversationEntry) {
	pos := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Timestamp.After(e.Timestamp)
	})
	t.entries = append(t.entries, types.ConversationEntry{})
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = e
	t.seen[e.ID] = struct{}{}
}

// Contains reports whether an entry with the given ID is present.
func (t *Timeline) Contains(id types.EntryID) bool {
	_, ok := t.seen[id]
	return ok
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the ordered entries.
func (t *Timeline) Entries() []types.ConversationEntry {
	out := make([]types.ConversationEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

package poll

import "livepoll/pkg/types"

// History keeps closed snapshots most-recent-first, evicting the oldest past capacity
type History struct {
	capacity  int
	snapshots []types.ResultsSnapshot
}

// NewHistory creates an empty history holding at most capacity snapshots
func NewHistory(capacity int) *History {
	return &History{
		capacity:  capacity,
		snapshots: make([]types.ResultsSnapshot, 0, capacity+1),
	}
}

// Prepend adds the newest snapshot at the front
func (h *History) Prepend(snapshot types.ResultsSnapshot) {
	h.snapshots = append(h.snapshots, types.ResultsSnapshot{})
	copy(h.snapshots[1:], h.snapshots)
	h.snapshots[0] = snapshot
	if len(h.snapshots) > h.capacity {
		h.snapshots = h.snapshots[:h.capacity]
	}
}

// List returns a copy, most recent first
func (h *History) List() []types.ResultsSnapshot {
	list := make([]types.ResultsSnapshot, len(h.snapshots))
	copy(list, h.snapshots)
	return list
}

// Len returns the number of retained snapshots
func (h *History) Len() int {
	return len(h.snapshots)
}

package engine

import (
	"sort"
	"time"

	"github.com/google/btree"
)

// ObservedPath is one reception of a logical transmission.
type ObservedPath struct {
	Nodes       []string  `json:"nodes"`
	Destination string    `json:"destination,omitempty"`
	SNR         *float64  `json:"snr,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// PendingView is a read-only summary of an open aggregation entry.
type PendingView struct {
	Key       string         `json:"key"`
	Class     Classification `json:"class"`
	FirstSeen time.Time      `json:"first_seen"`
	Deadline  time.Time      `json:"deadline"`
	Paths     int            `json:"paths"`
}

type pending struct {
	key       string
	class     Classification
	firstSeen time.Time
	deadline  time.Time
	seq       uint64
	paths     []ObservedPath
}

// deadlineItem orders entries by (deadline, seq). seq makes items unique
// even when two entries expire at the same instant.
type deadlineItem struct {
	deadline time.Time
	seq      uint64
	key      string
}

func lessDeadline(a, b deadlineItem) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.seq < b.seq
}

// window groups receptions by grouping key inside a fixed time window. The
// deadline of an entry is set once, at first sighting, and never extended.
type window struct {
	length  time.Duration
	max     int
	entries map[string]*pending
	queue   *btree.BTreeG[deadlineItem]
	seq     uint64
}

func newWindow(length time.Duration, max int) *window {
	return &window{
		length:  length,
		max:     max,
		entries: make(map[string]*pending),
		queue:   btree.NewG(8, lessDeadline),
	}
}

// Add appends a reception. It reports whether a new entry was opened and how
// many entries were evicted to make room.
func (w *window) Add(key string, class Classification, path ObservedPath, now time.Time) (bool, int) {
	if p, ok := w.entries[key]; ok {
		p.paths = append(p.paths, path)
		return false, 0
	}

	evicted := 0
	if len(w.entries) >= w.max {
		evicted = w.evictOldest(len(w.entries) / 2)
	}

	w.seq++
	p := &pending{
		key:       key,
		class:     class,
		firstSeen: now,
		deadline:  now.Add(w.length),
		seq:       w.seq,
		paths:     []ObservedPath{path},
	}
	w.entries[key] = p
	w.queue.ReplaceOrInsert(deadlineItem{deadline: p.deadline, seq: p.seq, key: key})
	return true, evicted
}

// evictOldest drops the n entries with the earliest first sighting and
// cancels their deadlines. Evicted entries are never published.
func (w *window) evictOldest(n int) int {
	if n < 1 {
		n = 1
	}
	all := make([]*pending, 0, len(w.entries))
	for _, p := range w.entries {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].firstSeen.Equal(all[j].firstSeen) {
			return all[i].firstSeen.Before(all[j].firstSeen)
		}
		return all[i].seq < all[j].seq
	})
	if n > len(all) {
		n = len(all)
	}
	for _, p := range all[:n] {
		w.cancel(p)
	}
	return n
}

func (w *window) cancel(p *pending) {
	w.queue.Delete(deadlineItem{deadline: p.deadline, seq: p.seq, key: p.key})
	delete(w.entries, p.key)
}

// Due removes and returns every entry whose deadline is at or before now,
// in deadline order.
func (w *window) Due(now time.Time) []*pending {
	var due []*pending
	for {
		item, ok := w.queue.Min()
		if !ok || item.deadline.After(now) {
			break
		}
		w.queue.DeleteMin()
		p, ok := w.entries[item.key]
		if !ok || p.seq != item.seq {
			continue
		}
		delete(w.entries, item.key)
		due = append(due, p)
	}
	return due
}

// NextDeadline returns the earliest scheduled deadline.
func (w *window) NextDeadline() (time.Time, bool) {
	item, ok := w.queue.Min()
	if !ok {
		return time.Time{}, false
	}
	return item.deadline, true
}

// Clear cancels every deadline, then drops every entry.
func (w *window) Clear() int {
	n := len(w.entries)
	w.queue.Clear(false)
	w.entries = make(map[string]*pending)
	return n
}

func (w *window) Len() int {
	return len(w.entries)
}

// Scheduled returns the number of live deadlines.
func (w *window) Scheduled() int {
	return w.queue.Len()
}

// Views lists the open entries ordered by deadline.
func (w *window) Views() []PendingView {
	out := make([]PendingView, 0, len(w.entries))
	w.queue.Ascend(func(item deadlineItem) bool {
		if p, ok := w.entries[item.key]; ok && p.seq == item.seq {
			out = append(out, PendingView{
				Key:       p.key,
				Class:     p.class,
				FirstSeen: p.firstSeen,
				Deadline:  p.deadline,
				Paths:     len(p.paths),
			})
		}
		return true
	})
	return out
}

package engine

import (
	"container/heap"
	"time"
)

type dueItem struct {
	id    string
	due   time.Time
	index int
}

// dueQueue is a min-heap on due time.
type dueQueue []*dueItem

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].id < q[j].id
	}
	return q[i].due.Before(q[j].due)
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	it := x.(*dueItem)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// schedule holds at most one entry per position id.
type schedule struct {
	q     dueQueue
	items map[string]*dueItem
}

func newSchedule() *schedule {
	return &schedule{items: make(map[string]*dueItem)}
}

// set inserts id or moves an existing entry to the earlier of both due times.
func (s *schedule) set(id string, due time.Time) {
	if it, ok := s.items[id]; ok {
		if due.Before(it.due) {
			it.due = due
			heap.Fix(&s.q, it.index)
		}
		return
	}
	it := &dueItem{id: id, due: due}
	heap.Push(&s.q, it)
	s.items[id] = it
}

func (s *schedule) remove(id string) {
	it, ok := s.items[id]
	if !ok {
		return
	}
	heap.Remove(&s.q, it.index)
	delete(s.items, id)
}

// popDue removes and returns every id due at or before now, earliest first.
func (s *schedule) popDue(now time.Time) []string {
	var ids []string
	for s.q.Len() > 0 && !s.q[0].due.After(now) {
		it := heap.Pop(&s.q).(*dueItem)
		delete(s.items, it.id)
		ids = append(ids, it.id)
	}
	return ids
}

// next reports the earliest due time.
func (s *schedule) next() (time.Time, bool) {
	if s.q.Len() == 0 {
		return time.Time{}, false
	}
	return s.q[0].due, true
}

func (s *schedule) ids() []string {
	out := make([]string, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	return out
}

func (s *schedule) len() int {
	return s.q.Len()
}

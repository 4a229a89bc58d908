package server

import (
	"container/heap"
)

// backendAssignment tracks the bytes assigned to one backend host during
// a single plan node's scheduling. Heap order is (assignedBytes ASC,
// randomRank ASC); the random rank breaks ties so that equally loaded
// backends are picked in a random but per-invocation-stable order.
type backendAssignment struct {
	assignedBytes int64
	randomRank    int
	ip            string
	index         int // position in the heap slice, maintained by heapImpl
}

type heapImpl []*backendAssignment

func (h heapImpl) Len() int { return len(h) }
func (h heapImpl) Less(i, j int) bool {
	if h[i].assignedBytes != h[j].assignedBytes {
		return h[i].assignedBytes < h[j].assignedBytes
	}
	return h[i].randomRank < h[j].randomRank
}
func (h heapImpl) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *heapImpl) Push(x interface{}) {
	ba := x.(*backendAssignment)
	ba.index = len(*h)
	*h = append(*h, ba)
}
func (h *heapImpl) Pop() interface{} {
	old := *h
	n := len(old)
	ba := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ba
}

// addressableAssignmentHeap is a min-heap of backend assignments with
// O(log n) increase-key by IP. Each plan node gets its own heap, so it is
// never shared across scheduling invocations.
type addressableAssignmentHeap struct {
	entries heapImpl
	handles map[string]*backendAssignment
}

func newAddressableAssignmentHeap() *addressableAssignmentHeap {
	return &addressableAssignmentHeap{handles: make(map[string]*backendAssignment)}
}

// InsertOrUpdate inserts the IP with the given bytes, or adds the bytes
// to its existing key. Keys only ever grow; no decrease-key is needed.
func (h *addressableAssignmentHeap) InsertOrUpdate(ip string, assignedBytes int64, rank int) {
	if ba, ok := h.handles[ip]; ok {
		ba.assignedBytes += assignedBytes
		heap.Fix(&h.entries, ba.index)
		return
	}
	ba := &backendAssignment{assignedBytes: assignedBytes, randomRank: rank, ip: ip}
	h.handles[ip] = ba
	heap.Push(&h.entries, ba)
}

// Top returns the least-loaded entry, or nil if the heap is empty.
func (h *addressableAssignmentHeap) Top() *backendAssignment {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0]
}

// AssignedBytes returns the bytes assigned to the IP so far.
func (h *addressableAssignmentHeap) AssignedBytes(ip string) (int64, bool) {
	ba, ok := h.handles[ip]
	if !ok {
		return 0, false
	}
	return ba.assignedBytes, true
}

func (h *addressableAssignmentHeap) Len() int {
	return len(h.entries)
}

package sched

// handleHeap orders handles by deadline. Guarded by Scheduler.mu.
type handleHeap []*Handle

func (hh handleHeap) Len() int { return len(hh) }

func (hh handleHeap) Less(i, j int) bool {
	return hh[i].deadline.Load() < hh[j].deadline.Load()
}

func (hh handleHeap) Swap(i, j int) {
	hh[i], hh[j] = hh[j], hh[i]
	hh[i].index = i
	hh[j].index = j
}

func (hh *handleHeap) Push(x any) {
	h := x.(*Handle)
	h.index = len(*hh)
	*hh = append(*hh, h)
}

func (hh *handleHeap) Pop() any {
	old := *hh
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*hh = old[:n-1]
	return h
}

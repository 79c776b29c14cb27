package occupancy

import "sort"

// sequencePool hands out per-space display numbers for occupied spots.
// acquire returns the lowest number not currently in use, so after a
// departure the freed number goes to the next arrival. Numbers start
// at 1.
type sequencePool struct {
	inUse map[int]bool
}

func newSequencePool() *sequencePool {
	return &sequencePool{inUse: make(map[int]bool)}
}

func (p *sequencePool) acquire() int {
	n := 1
	for p.inUse[n] {
		n++
	}
	p.inUse[n] = true
	return n
}

func (p *sequencePool) release(n int) {
	delete(p.inUse, n)
}

// active returns the numbers currently in use, ascending. For tests and
// debugging.
func (p *sequencePool) active() []int {
	out := make([]int, 0, len(p.inUse))
	for n := range p.inUse {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

package cache

// segList is an intrusive doubly-linked list ordering entries by recency
// within one segment (probation, protected, or free). head is the LRU end,
// tail is the MRU end, matching spec.md §4.1's "move to MRU end" /
// "evict LRU of ..." language.
type segList struct {
	head, tail *entry
	size       int
}

func (l *segList) pushMRU(n *entry) {
	n.segPrev = l.tail
	n.segNext = nil
	if l.tail != nil {
		l.tail.segNext = n
	} else {
		l.head = n
	}
	l.tail = n
	l.size++
}

func (l *segList) remove(n *entry) {
	if n.segPrev != nil {
		n.segPrev.segNext = n.segNext
	} else if l.head == n {
		l.head = n.segNext
	}
	if n.segNext != nil {
		n.segNext.segPrev = n.segPrev
	} else if l.tail == n {
		l.tail = n.segPrev
	}
	n.segPrev, n.segNext = nil, nil
	l.size--
}

// popLRU removes and returns the LRU (head) entry, or nil if empty.
func (l *segList) popLRU() *entry {
	n := l.head
	if n == nil {
		return nil
	}
	l.remove(n)
	return n
}

// moveToMRU is remove-then-pushMRU, used on a protected-segment re-hit.
func (l *segList) moveToMRU(n *entry) {
	l.remove(n)
	l.pushMRU(n)
}

// unitList is the analogous intrusive list for a unit's cache back-references
// (spec.md §3 "Unit ... one per-unit list of cache back-references"),
// threaded through separate link fields so an entry can be in a segList and a
// unitList simultaneously.
type unitList struct {
	head, tail *entry
	size       int
}

func (l *unitList) push(n *entry) {
	n.unitPrev = l.tail
	n.unitNext = nil
	if l.tail != nil {
		l.tail.unitNext = n
	} else {
		l.head = n
	}
	l.tail = n
	l.size++
	n.inUnitList = true
}

func (l *unitList) remove(n *entry) {
	if !n.inUnitList {
		return
	}
	if n.unitPrev != nil {
		n.unitPrev.unitNext = n.unitNext
	} else if l.head == n {
		l.head = n.unitNext
	}
	if n.unitNext != nil {
		n.unitNext.unitPrev = n.unitPrev
	} else if l.tail == n {
		l.tail = n.unitPrev
	}
	n.unitPrev, n.unitNext = nil, nil
	n.inUnitList = false
	l.size--
}

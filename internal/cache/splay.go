package cache

// splayTree is a bottom-up splay tree (Sleator & Tarjan) keyed by Key,
// indexing entries independently of their segList/unitList membership
// (spec.md §4.1 "indexed by a splay tree"). One splayTree exists per segment
// so probation and protected entries are never compared against each other.
type splayTree struct {
	root *entry
}

func (t *splayTree) rotateLeft(x *entry) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x.parent.left == x {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *splayTree) rotateRight(x *entry) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x.parent.right == x {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

// splay moves x to the root via zig/zig-zig/zig-zag steps.
func (t *splayTree) splay(x *entry) {
	for x.parent != nil {
		p := x.parent
		g := p.parent
		switch {
		case g == nil:
			if p.left == x {
				t.rotateRight(p)
			} else {
				t.rotateLeft(p)
			}
		case p.left == x && g.left == p: // zig-zig
			t.rotateRight(g)
			t.rotateRight(p)
		case p.right == x && g.right == p: // zig-zig
			t.rotateLeft(g)
			t.rotateLeft(p)
		case p.left == x && g.right == p: // zig-zag
			t.rotateRight(p)
			t.rotateLeft(g)
		default: // p.right == x && g.left == p
			t.rotateLeft(p)
			t.rotateRight(g)
		}
	}
}

// find returns the entry for key, splaying it to the root on a hit. On a
// miss it splays the last node visited to the root (standard splay-tree
// access behavior) and returns nil.
func (t *splayTree) find(key Key) *entry {
	n := t.root
	var last *entry
	for n != nil {
		last = n
		switch {
		case key < n.key:
			n = n.left
		case key > n.key:
			n = n.right
		default:
			t.splay(n)
			return n
		}
	}
	if last != nil {
		t.splay(last)
	}
	return nil
}

// insert adds n, whose key must not already be present, and splays it to
// the root. n's left/right/parent must be zero on entry.
func (t *splayTree) insert(n *entry) {
	if t.root == nil {
		t.root = n
		return
	}
	cur := t.root
	for {
		switch {
		case n.key < cur.key:
			if cur.left == nil {
				cur.left = n
				n.parent = cur
				t.splay(n)
				return
			}
			cur = cur.left
		case n.key > cur.key:
			if cur.right == nil {
				cur.right = n
				n.parent = cur
				t.splay(n)
				return
			}
			cur = cur.right
		default:
			// duplicate key: caller's responsibility to check find() first.
			return
		}
	}
}

// remove detaches n from the tree. n must currently be linked in this tree.
func (t *splayTree) remove(n *entry) {
	t.splay(n)
	// n is now root.
	if n.left == nil {
		t.root = n.right
		if t.root != nil {
			t.root.parent = nil
		}
	} else if n.right == nil {
		t.root = n.left
		t.root.parent = nil
	} else {
		left := n.left
		left.parent = nil
		right := n.right
		right.parent = nil
		// Find max of left subtree via a second splay, then hang right under it.
		sub := &splayTree{root: left}
		max := left
		for max.right != nil {
			max = max.right
		}
		sub.splay(max)
		sub.root.right = right
		right.parent = sub.root
		t.root = sub.root
	}
	n.left, n.right, n.parent = nil, nil, nil
}

package repository

import (
	"iter"
	"math/rand/v2"
)

// Key is the ordering key of the order index: score ascending, then member
// ascending. Rank 1 on the leaderboard is therefore the LAST key in this
// order.
type Key struct {
	Score  float64
	Member string
}

// less reports whether a sorts before b.
func (a Key) less(b Key) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

func (a Key) equal(b Key) bool {
	return a.Score == b.Score && a.Member == b.Member
}

// treap node augmented with the size of its subtree.
type node struct {
	key   Key
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, k Key, prio uint64, dup *bool) *node {
	if n == nil {
		return &node{key: k, prio: prio, size: 1}
	}
	switch {
	case k.equal(n.key):
		*dup = true
		return n
	case k.less(n.key):
		n.left = insert(n.left, k, prio, dup)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	default:
		n.right = insert(n.right, k, prio, dup)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, k Key, found *bool) *node {
	if n == nil {
		return nil
	}
	switch {
	case k.equal(n.key):
		*found = true
		// Rotate the higher-priority child up until the target is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, k, found)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, k, found)
		}
	case k.less(n.key):
		n.left = deleteNode(n.left, k, found)
	default:
		n.right = deleteNode(n.right, k, found)
	}
	fix(n)
	return n
}

// orderIndex is an order-statistics treap over Keys. It is not safe for
// concurrent use; TreapStore serializes access.
type orderIndex struct {
	root *node
	rand func() uint64
}

func newOrderIndex() *orderIndex {
	return &orderIndex{rand: rand.Uint64}
}

func (t *orderIndex) len() int { return nsize(t.root) }

func (t *orderIndex) insert(k Key) error {
	var dup bool
	t.root = insert(t.root, k, t.rand(), &dup)
	if dup {
		return ErrDuplicateKey
	}
	return nil
}

func (t *orderIndex) remove(k Key) error {
	var found bool
	t.root = deleteNode(t.root, k, &found)
	if !found {
		return ErrNotFound
	}
	return nil
}

// rankOf returns the 0-based ascending position of k.
func (t *orderIndex) rankOf(k Key) (int, error) {
	rank := 0
	n := t.root
	for n != nil {
		switch {
		case k.equal(n.key):
			return rank + nsize(n.left), nil
		case k.less(n.key):
			n = n.left
		default:
			rank += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0, ErrNotFound
}

// entryAtRank returns the key at 0-based ascending position r.
func (t *orderIndex) entryAtRank(r int) (Key, error) {
	if r < 0 || r >= t.len() {
		return Key{}, ErrOutOfRange
	}
	n := t.root
	for n != nil {
		ls := nsize(n.left)
		switch {
		case r < ls:
			n = n.left
		case r == ls:
			return n.key, nil
		default:
			r -= ls + 1
			n = n.right
		}
	}
	return Key{}, ErrOutOfRange
}

// countBelow returns the number of keys whose score is strictly below score.
func (t *orderIndex) countBelow(score float64) int {
	count := 0
	n := t.root
	for n != nil {
		if n.key.Score < score {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// rangeByRank yields the keys at ascending positions lo..hi inclusive.
// Bounds are clamped to [0, len); an empty window yields nothing.
// Each call to the returned sequence walks the tree afresh.
func (t *orderIndex) rangeByRank(lo, hi int) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		lo, hi := max(lo, 0), min(hi, t.len()-1)
		if lo > hi {
			return
		}
		stack := t.seekRank(lo)
		for i := lo; i <= hi && len(stack) > 0; i++ {
			var k Key
			stack, k = next(stack)
			if !yield(k) {
				return
			}
		}
	}
}

// rangeByScore yields the keys with min <= score <= max in ascending order.
func (t *orderIndex) rangeByScore(minScore, maxScore float64) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		if minScore > maxScore {
			return
		}
		stack := t.seekScore(minScore)
		for len(stack) > 0 {
			var k Key
			stack, k = next(stack)
			if k.Score > maxScore {
				return
			}
			if !yield(k) {
				return
			}
		}
	}
}

// seekRank builds the in-order stack whose top is the node at position r.
func (t *orderIndex) seekRank(r int) []*node {
	var stack []*node
	n := t.root
	for n != nil {
		ls := nsize(n.left)
		switch {
		case r < ls:
			stack = append(stack, n)
			n = n.left
		case r == ls:
			return append(stack, n)
		default:
			r -= ls + 1
			n = n.right
		}
	}
	return stack
}

// seekScore builds the in-order stack whose top is the first node with
// score >= minScore.
func (t *orderIndex) seekScore(minScore float64) []*node {
	var stack []*node
	n := t.root
	for n != nil {
		if n.key.Score >= minScore {
			stack = append(stack, n)
			n = n.left
		} else {
			n = n.right
		}
	}
	return stack
}

// next pops the in-order successor off stack.
func next(stack []*node) ([]*node, Key) {
	n := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	for c := n.right; c != nil; c = c.left {
		stack = append(stack, c)
	}
	return stack, n.key
}

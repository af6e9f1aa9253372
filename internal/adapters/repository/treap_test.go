package repository

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqPriorities returns a deterministic priority source.
func seqPriorities(seed int64) func() uint64 {
	r := rand.New(rand.NewSource(seed))
	return r.Uint64
}

func collect(seq func(func(Key) bool)) []Key {
	var out []Key
	for k := range seq {
		out = append(out, k)
	}
	return out
}

func sortedKeys(keys []Key) []Key {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b Key) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		}
		return 0
	})
	return out
}

func TestOrderIndex_InsertRemove(t *testing.T) {
	idx := newOrderIndex()
	idx.rand = seqPriorities(1)

	require.NoError(t, idx.insert(Key{Score: 10, Member: "a"}))
	require.NoError(t, idx.insert(Key{Score: 10, Member: "b"}))
	require.NoError(t, idx.insert(Key{Score: 5, Member: "c"}))
	assert.Equal(t, 3, idx.len())

	err := idx.insert(Key{Score: 10, Member: "a"})
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 3, idx.len())

	require.NoError(t, idx.remove(Key{Score: 10, Member: "a"}))
	require.ErrorIs(t, idx.remove(Key{Score: 10, Member: "a"}), ErrNotFound)
	require.ErrorIs(t, idx.remove(Key{Score: 11, Member: "b"}), ErrNotFound)
	assert.Equal(t, 2, idx.len())
}

func TestOrderIndex_TieBreakByMember(t *testing.T) {
	idx := newOrderIndex()
	for _, m := range []string{"carol", "alice", "bob"} {
		require.NoError(t, idx.insert(Key{Score: 1, Member: m}))
	}
	got := collect(idx.rangeByRank(0, 2))
	assert.Equal(t, []Key{{1, "alice"}, {1, "bob"}, {1, "carol"}}, got)
}

func TestOrderIndex_RankAndSelect(t *testing.T) {
	idx := newOrderIndex()
	idx.rand = seqPriorities(7)
	r := rand.New(rand.NewSource(42))

	var keys []Key
	for i := 0; i < 500; i++ {
		k := Key{Score: float64(r.Intn(50)), Member: fmt.Sprintf("m%03d", i)}
		keys = append(keys, k)
		require.NoError(t, idx.insert(k))
	}
	want := sortedKeys(keys)

	for pos, k := range want {
		got, err := idx.rankOf(k)
		require.NoError(t, err)
		require.Equal(t, pos, got, "rankOf(%v)", k)

		at, err := idx.entryAtRank(pos)
		require.NoError(t, err)
		require.Equal(t, k, at)
	}

	_, err := idx.rankOf(Key{Score: 99, Member: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = idx.entryAtRank(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = idx.entryAtRank(len(want))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestOrderIndex_RangeByRankClamps(t *testing.T) {
	idx := newOrderIndex()
	for i := 0; i < 5; i++ {
		require.NoError(t, idx.insert(Key{Score: float64(i), Member: "m"}))
	}

	tests := []struct {
		name   string
		lo, hi int
		want   []float64
	}{
		{"full", 0, 4, []float64{0, 1, 2, 3, 4}},
		{"inner", 1, 3, []float64{1, 2, 3}},
		{"past the end", 3, 100, []float64{3, 4}},
		{"before the start", -10, 1, []float64{0, 1}},
		{"inverted", 3, 2, nil},
		{"entirely outside", 10, 20, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []float64
			for k := range idx.rangeByRank(tt.lo, tt.hi) {
				got = append(got, k.Score)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderIndex_RangeIsRestartable(t *testing.T) {
	idx := newOrderIndex()
	for i := 0; i < 10; i++ {
		require.NoError(t, idx.insert(Key{Score: float64(i), Member: "x"}))
	}
	seq := idx.rangeByRank(2, 6)

	first := collect(seq)
	second := collect(seq)
	assert.Equal(t, first, second)
	assert.Len(t, first, 5)

	// Early exit must not disturb later traversals.
	for k := range seq {
		if k.Score == 3 {
			break
		}
	}
	assert.Equal(t, first, collect(seq))
}

func TestOrderIndex_RangeByScore(t *testing.T) {
	idx := newOrderIndex()
	idx.rand = seqPriorities(3)
	r := rand.New(rand.NewSource(9))
	var keys []Key
	for i := 0; i < 300; i++ {
		k := Key{Score: float64(r.Intn(100)) / 4, Member: fmt.Sprintf("p%d", i)}
		keys = append(keys, k)
		require.NoError(t, idx.insert(k))
	}
	all := sortedKeys(keys)

	bounds := [][2]float64{{0, 25}, {3.25, 3.25}, {5, 10.5}, {-10, -1}, {24, 1000}, {7.1, 7.2}}
	for _, b := range bounds {
		var want []Key
		for _, k := range all {
			if k.Score >= b[0] && k.Score <= b[1] {
				want = append(want, k)
			}
		}
		got := collect(idx.rangeByScore(b[0], b[1]))
		assert.Equal(t, want, got, "range [%g, %g]", b[0], b[1])

		below := 0
		for _, k := range all {
			if k.Score < b[0] {
				below++
			}
		}
		assert.Equal(t, below, idx.countBelow(b[0]))
	}

	assert.Empty(t, collect(idx.rangeByScore(5, 4)))
}

func TestOrderIndex_RandomizedAgainstModel(t *testing.T) {
	idx := newOrderIndex()
	idx.rand = seqPriorities(11)
	r := rand.New(rand.NewSource(5))
	model := map[Key]bool{}

	for step := 0; step < 5000; step++ {
		k := Key{Score: float64(r.Intn(20)), Member: fmt.Sprintf("k%d", r.Intn(40))}
		if r.Intn(3) == 0 {
			err := idx.remove(k)
			if model[k] {
				require.NoError(t, err)
				delete(model, k)
			} else {
				require.ErrorIs(t, err, ErrNotFound)
			}
			continue
		}
		err := idx.insert(k)
		if model[k] {
			require.ErrorIs(t, err, ErrDuplicateKey)
		} else {
			require.NoError(t, err)
			model[k] = true
		}
		require.Equal(t, len(model), idx.len())
	}

	var keys []Key
	for k := range model {
		keys = append(keys, k)
	}
	assert.Equal(t, sortedKeys(keys), collect(idx.rangeByRank(0, idx.len()-1)))
	checkSizes(t, idx.root)
}

// checkSizes verifies every node's size augmentation and heap property.
func checkSizes(t *testing.T, n *node) int {
	t.Helper()
	if n == nil {
		return 0
	}
	l := checkSizes(t, n.left)
	r := checkSizes(t, n.right)
	require.Equal(t, 1+l+r, n.size, "size of %v", n.key)
	if n.left != nil {
		require.LessOrEqual(t, n.left.prio, n.prio)
	}
	if n.right != nil {
		require.LessOrEqual(t, n.right.prio, n.prio)
	}
	return n.size
}

func TestMemberIndex(t *testing.T) {
	m := newMemberIndex()
	_, err := m.get("x")
	require.ErrorIs(t, err, ErrNotFound)

	prev, existed := m.put("x", 3)
	assert.False(t, existed)
	assert.Zero(t, prev)

	prev, existed = m.put("x", 7)
	assert.True(t, existed)
	assert.Equal(t, 3.0, prev)

	score, err := m.get("x")
	require.NoError(t, err)
	assert.Equal(t, 7.0, score)

	prev, err = m.delete("x")
	require.NoError(t, err)
	assert.Equal(t, 7.0, prev)
	_, err = m.delete("x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, m.len())
}

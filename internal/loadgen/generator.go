package loadgen

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
)

// Scores are drawn from a small grid so equal scores are common and the
// member tie-break is exercised.
const (
	scoreSteps = 200
	scoreUnit  = 0.5
)

// generate returns n members with unique uuid ids and random scores.
func generate(n int, seed uint64) []Entry {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			Member: uuid.NewString(),
			Score:  float64(r.IntN(scoreSteps)) * scoreUnit,
		}
	}
	return out
}

// rank sorts entries by score descending then member ascending and assigns
// ranks from 1.
func rank(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Member, b.Member)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// batches splits members into upsert event batches of size.
func batches(members []Entry, size int) [][]event {
	var out [][]event
	for start := 0; start < len(members); start += size {
		chunk := members[start:min(start+size, len(members))]
		b := make([]event, len(chunk))
		for i, m := range chunk {
			b[i] = event{ID: uuid.NewString(), Member: m.Member, Op: "upsert", Value: m.Score}
		}
		out = append(out, b)
	}
	return out
}

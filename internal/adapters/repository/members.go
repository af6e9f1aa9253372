package repository

// memberIndex maps a member to its current score.
type memberIndex struct {
	scores map[string]float64
}

func newMemberIndex() *memberIndex {
	return &memberIndex{scores: make(map[string]float64)}
}

func (m *memberIndex) len() int { return len(m.scores) }

func (m *memberIndex) get(member string) (float64, error) {
	score, ok := m.scores[member]
	if !ok {
		return 0, ErrNotFound
	}
	return score, nil
}

// put stores score and returns the previous one, if any.
func (m *memberIndex) put(member string, score float64) (float64, bool) {
	prev, ok := m.scores[member]
	m.scores[member] = score
	return prev, ok
}

func (m *memberIndex) delete(member string) (float64, error) {
	prev, ok := m.scores[member]
	if !ok {
		return 0, ErrNotFound
	}
	delete(m.scores, member)
	return prev, nil
}

package repository

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithName sets the board name used in metrics, logs and invariant reports.
func WithName(name string) Option {
	return func(s *TreapStore) {
		if name != "" {
			s.name = name
		}
	}
}

// WithAllowInfinity controls whether ±Inf scores are accepted. NaN is
// always rejected.
func WithAllowInfinity(allow bool) Option {
	return func(s *TreapStore) {
		s.allowInf = allow
	}
}

// withPriorities replaces the treap priority source; tests use it to get
// reproducible tree shapes.
func withPriorities(src func() uint64) Option {
	return func(s *TreapStore) {
		if src != nil {
			s.priorities = src
		}
	}
}

package api

import (
	"time"

	"github.com/okian/ladder/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithMaxQueryCount caps the count query parameter.
func WithMaxQueryCount(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.limits.maxCount = n
		}
	}
}

// WithDefaultTopCount sets the count used by /top when none is given.
func WithDefaultTopCount(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.limits.defaultTop = n
		}
	}
}

// WithDefaultAroundRadius sets the radius used by /around when none is given.
func WithDefaultAroundRadius(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.limits.defaultAround = n
		}
	}
}

// WithRequestTimeout bounds each request's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithLogger sets the logger used for panics and server errors.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

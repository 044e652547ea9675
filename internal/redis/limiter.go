package redis

import "context"

// ServiceLimiter binds a RateLimiter to a single fixed key, gating calls to
// one upstream service rather than per-client traffic.
type ServiceLimiter struct {
	limiter *RateLimiter
	key     string
}

// NewServiceLimiter creates a fixed-key limiter for the named service.
func NewServiceLimiter(limiter *RateLimiter, service string) *ServiceLimiter {
	return &ServiceLimiter{limiter: limiter, key: service}
}

// Allow reports whether one more call to the service may proceed now.
func (s *ServiceLimiter) Allow(ctx context.Context) (bool, error) {
	result, err := s.limiter.Allow(ctx, s.key)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/verify"
)

// ProtectedClassifier wraps a verify.Classifier with a circuit breaker.
// When the verification API is down, evaluations fail fast with
// ErrCircuitOpen instead of burning the full retry budget per message.
type ProtectedClassifier struct {
	inner   verify.Classifier
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedClassifier wraps inner with the given breaker.
func NewProtectedClassifier(inner verify.Classifier, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedClassifier {
	return &ProtectedClassifier{
		inner:   inner,
		breaker: breaker,
		logger:  logger,
	}
}

// Classify forwards to the inner classifier when the circuit allows it.
func (p *ProtectedClassifier) Classify(ctx context.Context, req verify.ClassifyRequest) (*verify.Verdict, error) {
	if !p.breaker.Allow() {
		p.logger.Debug("classification rejected, circuit open",
			zap.String("breaker", p.breaker.config.Name),
		)
		return nil, ErrCircuitOpen
	}

	verdict, err := p.inner.Classify(ctx, req)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return verdict, nil
}

// Stats exposes the underlying breaker state for the admin API.
func (p *ProtectedClassifier) Stats() Stats {
	return p.breaker.Stats()
}

package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/metrics"
)

// CallLimiter gates outbound classifier calls against the service's rate
// limit. A rejected call is retried like a transient failure.
type CallLimiter interface {
	Allow(ctx context.Context) (bool, error)
}

// GateConfig holds retry policy for the verification gate.
type GateConfig struct {
	MaxAttempts int           // bounded retries per candidate
	BaseBackoff time.Duration // doubled after each failed attempt
	CallTimeout time.Duration // per-attempt budget, separate from the message budget
}

// DefaultGateConfig returns the retry policy used in production.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		CallTimeout: 20 * time.Second,
	}
}

// Gate wraps the classifier with bounded retry and a deterministic fail-closed
// fallback. Verify never returns an error: on exhausted retries the candidate
// is rejected with zero confidence rather than silently matched or dropped.
type Gate struct {
	classifier Classifier
	limiter    CallLimiter // nil disables rate limiting
	config     GateConfig
	logger     *zap.Logger
}

// NewGate creates a verification gate
func NewGate(classifier Classifier, limiter CallLimiter, cfg GateConfig, logger *zap.Logger) *Gate {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}

	return &Gate{
		classifier: classifier,
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
	}
}

// FallbackReasoning is attached to candidates rejected because the
// verification service was unavailable.
const FallbackReasoning = "verification service unavailable, failing closed without notifying"

// Verify runs the classifier with retries. Transient failures (network,
// non-2xx, malformed output, rate limit) back off exponentially; once
// attempts are exhausted the gate fails closed with confidence zero.
func (g *Gate) Verify(ctx context.Context, req ClassifyRequest) Verdict {
	backoff := g.config.BaseBackoff

	var lastErr error
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.RecordVerificationRetry()
			select {
			case <-ctx.Done():
				// Overall budget exhausted mid-backoff
				return g.fallback(ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if g.limiter != nil {
			allowed, err := g.limiter.Allow(ctx)
			if err != nil {
				g.logger.Warn("rate limiter check failed, allowing call", zap.Error(err))
			} else if !allowed {
				lastErr = fmt.Errorf("classifier rate limit exceeded")
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
		verdict, err := g.classifier.Classify(callCtx, req)
		cancel()

		if err == nil {
			return *verdict
		}

		lastErr = err
		g.logger.Warn("verification attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.config.MaxAttempts),
			zap.Error(err),
		)
	}

	return g.fallback(lastErr)
}

func (g *Gate) fallback(cause error) Verdict {
	metrics.RecordVerificationFallback()
	g.logger.Error("verification exhausted retries, failing closed",
		zap.Error(cause),
	)

	return Verdict{
		Confidence: 0,
		Reasoning:  FallbackReasoning,
	}
}

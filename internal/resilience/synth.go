package resilience

import (
	"context"
	"io"
)

// Synthesizer streams synthesized speech. *tts.Client satisfies it.
type Synthesizer interface {
	Stream(ctx context.Context, model, text string) (io.ReadCloser, error)
}

// GuardedSynthesizer wraps a Synthesizer with a circuit breaker. When the
// backend keeps failing, Stream returns [ErrCircuitOpen] immediately so say
// actions fail fast instead of queueing behind synthesis timeouts.
type GuardedSynthesizer struct {
	next    Synthesizer
	breaker *CircuitBreaker
}

// GuardSynthesizer wraps next with a breaker built from cfg.
func GuardSynthesizer(next Synthesizer, cfg CircuitBreakerConfig) *GuardedSynthesizer {
	if cfg.Name == "" {
		cfg.Name = "tts"
	}
	return &GuardedSynthesizer{next: next, breaker: NewCircuitBreaker(cfg)}
}

var _ Synthesizer = (*GuardedSynthesizer)(nil)

// Stream forwards to the wrapped synthesizer when the breaker allows it.
func (g *GuardedSynthesizer) Stream(ctx context.Context, model, text string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := g.breaker.Execute(func() error {
		b, err := g.next.Stream(ctx, model, text)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// State exposes the breaker state for health reporting.
func (g *GuardedSynthesizer) State() State { return g.breaker.State() }

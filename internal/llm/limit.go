package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// NewLimiter returns a limiter allowing rps requests per second with a burst of one.
// A non-positive rps disables limiting.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

type limited struct {
	next    Completer
	limiter *rate.Limiter
}

// Limit wraps c so every call first waits on l
func Limit(c Completer, l *rate.Limiter) Completer {
	if l == nil {
		return c
	}
	return &limited{next: c, limiter: l}
}

func (l *limited) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return l.next.Complete(ctx, req)
}

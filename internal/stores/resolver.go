package stores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrEmptyStoreName is returned for an empty or whitespace store name
var ErrEmptyStoreName = errors.New("empty store name")

// aliaser is a Source with exact alias lookups
type aliaser interface {
	Lookup(raw string) (string, bool)
}

// Resolver applies a Normalizer against a Source. When the source is a
// Claimer, choosing and recording a new canonical name is one atomic step.
// Otherwise resolution is serialized within this process.
type Resolver struct {
	normalizer Normalizer
	analyzer   Normalizer
	source     Source
	mu         sync.Mutex
}

// NewResolver creates a Resolver. Analyze uses the same threshold until
// WithAnalysisThreshold says otherwise.
func NewResolver(normalizer Normalizer, source Source) *Resolver {
	return &Resolver{normalizer: normalizer, analyzer: normalizer, source: source}
}

// WithAnalysisThreshold sets the threshold Analyze reports against
func (r *Resolver) WithAnalysisThreshold(threshold int) *Resolver {
	r.analyzer = NewNormalizer(threshold)
	return r
}

// Threshold returns the match threshold in use
func (r *Resolver) Threshold() int {
	return r.normalizer.threshold()
}

// Resolve maps raw onto a canonical store name
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	return r.ResolveAndCommit(ctx, raw, nil)
}

// ResolveAndCommit maps raw onto a canonical store name and runs commit with
// it. A new canonical name is recorded only if commit succeeds.
func (r *Resolver) ResolveAndCommit(ctx context.Context, raw string, commit Commit) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyStoreName
	}
	if commit == nil {
		commit = func(context.Context, string) error { return nil }
	}

	if a, ok := r.source.(aliaser); ok {
		if name, hit := a.Lookup(raw); hit {
			slog.Debug("Store alias matched", "raw", raw, "store", name)
			if err := commit(ctx, name); err != nil {
				return "", err
			}
			return name, nil
		}
	}

	decide := func(known []string) (string, error) {
		name, matched, ok := r.normalizer.resolve(raw, known)
		if !ok {
			return "", ErrEmptyStoreName
		}
		if matched {
			slog.Debug("Store matched known name", "raw", raw, "store", name)
		} else {
			slog.Info("New canonical store", "raw", raw, "store", name, "known", len(known))
		}
		return name, nil
	}

	if c, ok := r.source.(Claimer); ok {
		name, err := c.ClaimStoreName(ctx, decide, commit)
		if err != nil {
			return "", fmt.Errorf("claiming store name: %w", err)
		}
		return name, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	known, err := r.source.KnownStoreNames(ctx)
	if err != nil {
		return "", fmt.Errorf("listing known stores: %w", err)
	}
	name, err := decide(known)
	if err != nil {
		return "", err
	}
	if err := commit(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// KnownStoreNames lists the canonical names of the underlying source
func (r *Resolver) KnownStoreNames(ctx context.Context) ([]string, error) {
	return r.source.KnownStoreNames(ctx)
}

// Analyze reports the topK known names closest to raw without changing anything
func (r *Resolver) Analyze(ctx context.Context, raw string, topK int) (Analysis, error) {
	known, err := r.source.KnownStoreNames(ctx)
	if err != nil {
		return Analysis{}, fmt.Errorf("listing known stores: %w", err)
	}
	return r.analyzer.Analyze(raw, known, topK), nil
}

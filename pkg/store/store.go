// Package store is the two-tier settings store: every operation is tried on
// the primary ("sync") tier first and, if that tier errors, repeated verbatim on
// the fallback ("local") tier. Tiers are independent; nothing is rolled back
// across them.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/b/webapp-overlay/pkg/perf"
)

var (
	// ErrUnavailable is returned by a tier that cannot currently serve requests.
	ErrUnavailable = errors.New("storage tier unavailable")
	// ErrQuotaExceeded is returned when a single item is larger than the tier allows.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Tier is one storage backend.
type Tier interface {
	Name() string
	// Get returns the present subset of keys. Missing keys are simply absent.
	Get(ctx context.Context, keys []string) (Values, error)
	// Set writes every key in values. Keys not in values are left untouched.
	Set(ctx context.Context, values Values) error
}

// TierError records which tier failed an operation.
type TierError struct {
	Tier string
	Op   string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Tier, e.Op, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

// Store wraps a primary and a fallback tier.
type Store struct {
	primary  Tier
	fallback Tier
	log      *log.Logger
}

// New creates a Store. fallback may be nil, in which case primary errors are
// returned directly.
func New(primary, fallback Tier) *Store {
	return &Store{
		primary:  primary,
		fallback: fallback,
		log:      log.New(io.Discard, "", 0),
	}
}

// SetLogger routes fallback notices to l.
func (s *Store) SetLogger(l *log.Logger) {
	if l != nil {
		s.log = l
	}
}

// Primary returns the primary tier.
func (s *Store) Primary() Tier { return s.primary }

// Fallback returns the fallback tier (may be nil).
func (s *Store) Fallback() Tier { return s.fallback }

// Get reads keys from the primary tier, falling back on error. It fails only
// when both tiers fail.
func (s *Store) Get(ctx context.Context, keys ...string) (Values, error) {
	vals, err := getTier(ctx, s.primary, keys)
	if err == nil {
		return vals, nil
	}
	if s.fallback == nil {
		return nil, err
	}
	s.log.Printf("store: %v, falling back to %s", err, s.fallback.Name())

	vals, ferr := getTier(ctx, s.fallback, keys)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return vals, nil
}

// Set writes values to the primary tier, falling back on error.
func (s *Store) Set(ctx context.Context, values Values) error {
	_, err := s.SetVia(ctx, values)
	return err
}

// SetVia is Set that also reports the name of the tier that accepted the write.
func (s *Store) SetVia(ctx context.Context, values Values) (string, error) {
	if len(values) == 0 {
		return s.primary.Name(), nil
	}
	err := setTier(ctx, s.primary, values)
	if err == nil {
		return s.primary.Name(), nil
	}
	if s.fallback == nil {
		return "", err
	}
	s.log.Printf("store: %v, falling back to %s", err, s.fallback.Name())

	if ferr := setTier(ctx, s.fallback, values); ferr != nil {
		return "", errors.Join(err, ferr)
	}
	return s.fallback.Name(), nil
}

// SetIfAbsent writes each key of defaults that is not already present, key by
// key rather than as an object: existing values are never overwritten. It
// returns the keys it wrote.
func (s *Store) SetIfAbsent(ctx context.Context, defaults Values) ([]string, error) {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	existing, err := s.Get(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read existing settings: %w", err)
	}

	missing := make(Values)
	written := make([]string, 0, len(defaults))
	for k, v := range defaults {
		if existing.Has(k) {
			continue
		}
		missing[k] = v
		written = append(written, k)
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := s.Set(ctx, missing); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return written, nil
}

func getTier(ctx context.Context, t Tier, keys []string) (Values, error) {
	span := perf.Start("store.get " + t.Name())
	vals, err := t.Get(ctx, keys)
	span.End(err)
	if err != nil {
		return nil, &TierError{Tier: t.Name(), Op: "get", Err: err}
	}
	if vals == nil {
		vals = Values{}
	}
	return vals, nil
}

func setTier(ctx context.Context, t Tier, values Values) error {
	span := perf.Start("store.set " + t.Name())
	err := t.Set(ctx, values)
	span.End(err)
	if err != nil {
		return &TierError{Tier: t.Name(), Op: "set", Err: err}
	}
	return nil
}

// Package discovery turns recent deposits to the pot address into a player set.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trivia-pot/internal/ledger"
	"trivia-pot/internal/logger"
	"trivia-pot/internal/seen"
)

const (
	DefaultLimit          = 10
	DefaultPacing         = 500 * time.Millisecond
	DefaultRateLimitPause = 2 * time.Second
	// DefaultRateLimitRetries bounds how often one signature is retried when the
	// node throttles us. A signature that exhausts it stays unmarked.
	DefaultRateLimitRetries = 5
)

// Scanner finds players by inspecting the latest transactions sent to the pot.
type Scanner struct {
	ledger   ledger.Client
	seen     seen.Cache
	address  string
	minEntry uint64
	log      logger.Logger

	limit            int
	pacing           time.Duration
	rateLimitPause   time.Duration
	rateLimitRetries int
	sleep            func(context.Context, time.Duration) error
}

type Option func(*Scanner)

// WithLimit sets how many recent signatures are inspected per scan.
func WithLimit(n int) Option {
	return func(s *Scanner) { s.limit = n }
}

// WithPacing sets the pause between per-signature lookups.
func WithPacing(d time.Duration) Option {
	return func(s *Scanner) { s.pacing = d }
}

func WithRateLimitPause(d time.Duration, retries int) Option {
	return func(s *Scanner) {
		s.rateLimitPause = d
		s.rateLimitRetries = retries
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// WithSleep replaces the context-aware sleep used for pacing.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scanner) { s.sleep = fn }
}

func NewScanner(client ledger.Client, cache seen.Cache, address string, minEntry uint64, opts ...Option) *Scanner {
	s := &Scanner{
		ledger:           client,
		seen:             cache,
		address:          address,
		minEntry:         minEntry,
		log:              logger.Nop(),
		limit:            DefaultLimit,
		pacing:           DefaultPacing,
		rateLimitPause:   DefaultRateLimitPause,
		rateLimitRetries: DefaultRateLimitRetries,
		sleep:            Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns the senders of qualifying deposits among the latest signatures
// that have not been inspected before. Every inspected signature is marked seen,
// whether or not it qualified. When the scan aborts, the senders of signatures
// already marked are returned together with the error.
func (s *Scanner) Scan(ctx context.Context) ([]string, error) {
	sigs, err := s.ledger.RecentSignatures(ctx, s.address, s.limit)
	if err != nil {
		return nil, fmt.Errorf("list recent signatures: %w", err)
	}

	players := make(map[string]struct{})
	inspected := 0
	for _, sig := range sigs {
		ok, err := s.seen.Has(ctx, sig)
		if err != nil {
			return senders(players), fmt.Errorf("check signature %s: %w", sig, err)
		}
		if ok {
			continue
		}

		if inspected > 0 {
			if err := s.sleep(ctx, s.pacing); err != nil {
				return senders(players), err
			}
		}
		inspected++

		tx, err := s.fetch(ctx, sig)
		if errors.Is(err, ledger.ErrRateLimited) {
			// Still throttled after retries: leave it for the next scan.
			s.log.Info("signature skipped after repeated rate limiting", "sig", sig)
			continue
		}
		if ctx.Err() != nil {
			return senders(players), ctx.Err()
		}

		if markErr := s.seen.Mark(ctx, sig); markErr != nil {
			return senders(players), fmt.Errorf("mark signature %s: %w", sig, markErr)
		}

		if err != nil {
			if !errors.Is(err, ledger.ErrNotFound) {
				s.log.Error("failed to inspect signature", "sig", sig, "err", err)
			}
			continue
		}

		if sender, ok := s.qualifyingSender(tx); ok {
			players[sender] = struct{}{}
		}
	}

	out := senders(players)
	s.log.Debug("scan finished", "signatures", len(sigs), "inspected", inspected, "players", len(out))
	return out, nil
}

func senders(players map[string]struct{}) []string {
	out := make([]string, 0, len(players))
	for p := range players {
		out = append(out, p)
	}
	return out
}

// fetch loads one transaction, pausing and retrying while rate limited.
func (s *Scanner) fetch(ctx context.Context, sig string) (*ledger.Transaction, error) {
	for attempt := 0; ; attempt++ {
		tx, err := s.ledger.Transaction(ctx, sig)
		if !errors.Is(err, ledger.ErrRateLimited) || attempt >= s.rateLimitRetries {
			return tx, err
		}
		s.log.Debug("rate limited, pausing", "sig", sig, "attempt", attempt+1)
		if err := s.sleep(ctx, s.rateLimitPause); err != nil {
			return nil, err
		}
	}
}

// qualifyingSender returns the fee payer of tx when the pot received at least
// the entry fee in it.
func (s *Scanner) qualifyingSender(tx *ledger.Transaction) (string, bool) {
	if tx == nil || len(tx.AccountKeys) == 0 {
		return "", false
	}
	idx := -1
	for i, k := range tx.AccountKeys {
		if k == s.address {
			idx = i
			break
		}
	}
	// Index 0 is the fee payer; the pot paying is never a deposit.
	if idx <= 0 || idx >= len(tx.PreBalances) || idx >= len(tx.PostBalances) {
		return "", false
	}
	pre, post := tx.PreBalances[idx], tx.PostBalances[idx]
	if post <= pre || post-pre < s.minEntry {
		return "", false
	}
	sender := tx.AccountKeys[0]
	if sender == s.address {
		return "", false
	}
	return sender, true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

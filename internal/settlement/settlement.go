// Package settlement pays out prizes and waits for the ledger to confirm them.
//
// A payout is submitted at most once per attempt: once a transfer has a
// signature, the settler only ever polls that signature. The signature is also
// journaled before polling starts, so a later call for the same round and
// destination resumes polling instead of paying twice. Records the journal
// failed to store are held in memory until a later Save succeeds.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trivia-pot/internal/ledger"
	"trivia-pot/internal/logger"
)

const (
	DefaultRetries  = 5
	DefaultInterval = 10 * time.Second

	ReasonConfirmationTimeout = "confirmation timeout"
	ReasonTransferFailed      = "transfer failed on ledger"
	ReasonSubmitFailed        = "transfer could not be submitted"
)

// Attempt is the in-flight state of one payout.
type Attempt struct {
	RoundID     string
	To          string
	Amount      uint64
	Signature   string
	Submissions int
	Polls       int
}

// Result is the terminal outcome of Pay. Amount is what the transfer carries,
// which differs from the requested amount when an earlier transfer is resumed.
type Result struct {
	Confirmed bool
	Signature string
	Amount    uint64
	Reason    string
}

type Settler struct {
	ledger   ledger.Client
	journal  Journal
	log      logger.Logger
	retries  int
	interval time.Duration
	sleep    func(context.Context, time.Duration) error

	mu      sync.Mutex
	unsaved map[string]Record // keyed by journalKey
}

type Option func(*Settler)

func WithRetries(n int, interval time.Duration) Option {
	return func(s *Settler) {
		s.retries = n
		s.interval = interval
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Settler) { s.log = l }
}

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Settler) { s.sleep = fn }
}

func NewSettler(client ledger.Client, journal Journal, opts ...Option) *Settler {
	s := &Settler{
		ledger:   client,
		journal:  journal,
		log:      logger.Nop(),
		retries:  DefaultRetries,
		interval: DefaultInterval,
		sleep:    sleep,
		unsaved:  make(map[string]Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pay transfers amount to the destination for the given round and waits for
// confirmation.
func (s *Settler) Pay(ctx context.Context, roundID, to string, amount uint64) Result {
	a := &Attempt{RoundID: roundID, To: to, Amount: amount}

	rec, held := s.held(roundID, to)
	if !held {
		var err error
		rec, err = s.journal.Lookup(ctx, roundID, to)
		if err != nil {
			// Without the journal we cannot rule out an earlier submission.
			s.log.Error("payout journal unavailable", "round", roundID, "err", err)
			return Result{Reason: ReasonSubmitFailed}
		}
	}
	if rec != nil {
		switch {
		case rec.Outcome == OutcomeConfirmed:
			s.log.Info("payout already confirmed", "round", roundID, "sig", rec.Signature)
			return Result{Confirmed: true, Signature: rec.Signature, Amount: rec.Amount}
		case rec.Outcome == OutcomePending && rec.Signature != "":
			s.log.Info("resuming payout", "round", roundID, "sig", rec.Signature, "unsaved", held)
			a.Signature = rec.Signature
			a.Submissions = rec.Submissions
			a.Amount = rec.Amount
		}
	}

	return s.Settle(ctx, a)
}

// held returns the record for the pair that the journal has not stored yet.
func (s *Settler) held(roundID, to string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.unsaved[journalKey(roundID, to)]
	if !ok {
		return nil, false
	}
	return &rec, true
}

// save journals rec. A record with a signature that cannot be stored is kept
// in memory so Pay never submits a second transfer for the pair.
func (s *Settler) save(ctx context.Context, rec Record) error {
	err := s.journal.Save(ctx, rec)
	key := journalKey(rec.RoundID, rec.Destination)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		delete(s.unsaved, key)
	case rec.Signature != "":
		s.unsaved[key] = rec
	}
	return err
}

// Settle drives a to a terminal result. If a already carries a signature, no
// new transfer is submitted.
func (s *Settler) Settle(ctx context.Context, a *Attempt) Result {
	if a.Signature == "" {
		if res, ok := s.submit(ctx, a); !ok {
			return res
		}
	}

	for a.Polls < s.retries {
		if err := s.sleep(ctx, s.interval); err != nil {
			return s.finish(ctx, a, OutcomePending, ReasonConfirmationTimeout)
		}
		a.Polls++

		st, err := s.ledger.SignatureStatus(ctx, a.Signature)
		if err != nil {
			s.log.Info("status poll failed", "sig", a.Signature, "poll", a.Polls, "err", err)
			continue
		}
		switch st {
		case ledger.StatusConfirmed, ledger.StatusFinalized:
			return s.finish(ctx, a, OutcomeConfirmed, "")
		case ledger.StatusFailed:
			return s.finish(ctx, a, OutcomeFailed, ReasonTransferFailed)
		default:
			s.log.Debug("payout pending", "sig", a.Signature, "poll", a.Polls)
		}
	}

	// The transfer may still land; the journal keeps it pending so nobody pays twice.
	return s.finish(ctx, a, OutcomePending, ReasonConfirmationTimeout)
}

// submit sends the transfer, retrying only submissions that timed out.
func (s *Settler) submit(ctx context.Context, a *Attempt) (Result, bool) {
	for {
		a.Submissions++
		sig, err := s.ledger.SubmitTransfer(ctx, a.To, a.Amount)
		if err == nil {
			a.Signature = sig
			s.log.Info("payout submitted", "round", a.RoundID, "to", a.To, "amount", a.Amount, "sig", sig)
			if jerr := s.save(ctx, s.record(a, OutcomePending, "")); jerr != nil {
				s.log.Error("failed to journal submitted payout", "sig", sig, "err", jerr)
			}
			return Result{}, true
		}

		if !ledger.IsTimeout(err) || a.Submissions >= s.retries {
			s.log.Error("payout submission failed", "round", a.RoundID, "submissions", a.Submissions, "err", err)
			return s.finish(ctx, a, OutcomeFailed, ReasonSubmitFailed), false
		}
		s.log.Info("payout submission timed out, retrying", "round", a.RoundID, "submissions", a.Submissions)
		if serr := s.sleep(ctx, s.interval); serr != nil {
			return s.finish(ctx, a, OutcomeFailed, ReasonSubmitFailed), false
		}
	}
}

func (s *Settler) finish(ctx context.Context, a *Attempt, outcome Outcome, reason string) Result {
	// Record even if ctx was cancelled; this is the only trace of the transfer.
	jctx := context.WithoutCancel(ctx)
	if err := s.save(jctx, s.record(a, outcome, reason)); err != nil {
		s.log.Error("failed to journal payout outcome", "round", a.RoundID, "outcome", outcome, "err", err)
	}
	if outcome == OutcomeConfirmed {
		return Result{Confirmed: true, Signature: a.Signature, Amount: a.Amount}
	}
	return Result{Signature: a.Signature, Amount: a.Amount, Reason: reason}
}

func (s *Settler) record(a *Attempt, outcome Outcome, reason string) Record {
	return Record{
		RoundID:     a.RoundID,
		Destination: a.To,
		Amount:      a.Amount,
		Signature:   a.Signature,
		Outcome:     outcome,
		Reason:      reason,
		Submissions: a.Submissions,
		UpdatedAt:   time.Now().UTC(),
	}
}

// Reconcile re-checks journaled payouts whose fate was unknown and records
// late confirmations or failures. It returns the records it resolved.
func (s *Settler) Reconcile(ctx context.Context) ([]Record, error) {
	pending, err := s.journal.Unresolved(ctx)
	if err != nil {
		return nil, err
	}
	var resolved []Record
	var errs []error
	for _, rec := range pending {
		st, err := s.ledger.SignatureStatus(ctx, rec.Signature)
		if err != nil {
			errs = append(errs, fmt.Errorf("status of %s: %w", rec.Signature, err))
			continue
		}
		switch st {
		case ledger.StatusConfirmed, ledger.StatusFinalized:
			rec.Outcome = OutcomeConfirmed
			rec.Reason = ""
		case ledger.StatusFailed:
			rec.Outcome = OutcomeFailed
			rec.Reason = ReasonTransferFailed
		default:
			continue
		}
		rec.UpdatedAt = time.Now().UTC()
		if err := s.save(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Info("reconciled payout", "round", rec.RoundID, "sig", rec.Signature, "outcome", rec.Outcome)
		resolved = append(resolved, rec)
	}
	return resolved, errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package ledger describes the public ledger the pot lives on and provides a
// Solana implementation of it.
package ledger

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrRateLimited is returned when the node asks us to slow down.
	ErrRateLimited = errors.New("ledger: rate limited")
	// ErrNotFound is returned for transactions the node does not know (yet).
	ErrNotFound = errors.New("ledger: not found")
	// ErrWalletMismatch means the signing key does not belong to the pot.
	ErrWalletMismatch = errors.New("ledger: wallet key does not match pot address")
)

// Status is the confirmation state of a submitted transaction.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFinalized
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusFinalized:
		return "finalized"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Transaction holds the balance view of a transaction: AccountKeys[i] had
// PreBalances[i] before and PostBalances[i] after it executed.
type Transaction struct {
	Signature    string
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
}

// Client is everything the round engine needs from the ledger. Amounts are in
// lamports. Implementations bound every call with a timeout.
type Client interface {
	// RecentSignatures returns up to limit signatures touching address, newest first.
	RecentSignatures(ctx context.Context, address string, limit int) ([]string, error)
	// Transaction returns ErrNotFound when the node has no record of sig.
	Transaction(ctx context.Context, sig string) (*Transaction, error)
	Balance(ctx context.Context, address string) (uint64, error)
	// SubmitTransfer sends amount from the pot wallet to to and returns the signature.
	SubmitTransfer(ctx context.Context, to string, amount uint64) (string, error)
	SignatureStatus(ctx context.Context, sig string) (Status, error)
}

// IsTimeout reports whether err looks like a transient timeout worth retrying.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}

// isRateLimit matches the ways RPC providers report throttling.
func isRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

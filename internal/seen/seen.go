// Package seen remembers which ledger signatures have already been inspected,
// so a deposit is never counted twice across scans or restarts.
//
// Every backend keeps a bounded window of the most recent Window signatures.
// Membership is exact inside the window; a signature evicted from it may be
// reported as unseen again.
package seen

import "context"

// Window is the number of most recent signatures retained.
const Window = 1000

// Cache is the processed-signature window.
type Cache interface {
	Has(ctx context.Context, sig string) (bool, error)
	Mark(ctx context.Context, sig string) error
}

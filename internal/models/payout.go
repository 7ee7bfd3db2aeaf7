package models

import "time"

// PayoutAttempt is the durable record of a prize transfer for one round/destination.
// A row with a Signature and Outcome "pending" means the transfer was submitted
// and its fate is not yet known.
type PayoutAttempt struct {
	ID          uint   `gorm:"primaryKey"`
	RoundID     string `gorm:"size:64;index:ux_round_dest,unique;not null"`
	Destination string `gorm:"size:64;index:ux_round_dest,unique;not null"`
	Amount      uint64
	Signature   string `gorm:"size:128;index"`
	Outcome     string `gorm:"size:16;index"` // "pending", "confirmed" or "failed"
	Reason      string `gorm:"size:256"`
	Submissions int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

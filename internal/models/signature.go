// Package models defines the database models for the trivia pot.
package models

import "time"

// SeenSignature is one entry of the processed-signature window. Seq orders the
// window so the oldest rows can be trimmed.
type SeenSignature struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement"`
	Signature string    `gorm:"size:128;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"index"`
}

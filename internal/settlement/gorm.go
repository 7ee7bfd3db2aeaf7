package settlement

import (
	"context"
	"errors"
	"fmt"

	"trivia-pot/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormJournal keeps payout records in the payout_attempts table.
type GormJournal struct {
	db *gorm.DB
}

func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{db: db}
}

func (j *GormJournal) Lookup(ctx context.Context, roundID, destination string) (*Record, error) {
	var row models.PayoutAttempt
	err := j.db.WithContext(ctx).
		Where("round_id = ? AND destination = ?", roundID, destination).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup payout: %w", err)
	}
	rec := fromModel(row)
	return &rec, nil
}

func (j *GormJournal) Save(ctx context.Context, rec Record) error {
	row := models.PayoutAttempt{
		RoundID:     rec.RoundID,
		Destination: rec.Destination,
		Amount:      rec.Amount,
		Signature:   rec.Signature,
		Outcome:     string(rec.Outcome),
		Reason:      rec.Reason,
		Submissions: rec.Submissions,
	}
	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "destination"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "signature", "outcome", "reason", "submissions", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save payout: %w", err)
	}
	return nil
}

func (j *GormJournal) Unresolved(ctx context.Context) ([]Record, error) {
	var rows []models.PayoutAttempt
	err := j.db.WithContext(ctx).
		Where("outcome = ? AND signature <> ''", string(OutcomePending)).
		Order("updated_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list unresolved payouts: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModel(r))
	}
	return out, nil
}

func fromModel(r models.PayoutAttempt) Record {
	return Record{
		RoundID:     r.RoundID,
		Destination: r.Destination,
		Amount:      r.Amount,
		Signature:   r.Signature,
		Outcome:     Outcome(r.Outcome),
		Reason:      r.Reason,
		Submissions: r.Submissions,
		UpdatedAt:   r.UpdatedAt,
	}
}

package seen

import (
	"context"
	"fmt"

	"trivia-pot/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLog keeps the window in the seen_signatures table.
type GormLog struct {
	db     *gorm.DB
	window int
}

func NewGormLog(db *gorm.DB) *GormLog {
	return &GormLog{db: db, window: Window}
}

func (l *GormLog) Has(ctx context.Context, sig string) (bool, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.SeenSignature{}).Where("signature = ?", sig).Count(&n).Error; err != nil {
		return false, fmt.Errorf("lookup signature: %w", err)
	}
	return n > 0, nil
}

func (l *GormLog) Mark(ctx context.Context, sig string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := models.SeenSignature{Signature: sig}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
			return fmt.Errorf("insert signature: %w", err)
		}
		// Drop everything older than the newest window rows.
		var cutoff models.SeenSignature
		err := tx.Order("seq DESC").Offset(l.window - 1).Limit(1).Find(&cutoff).Error
		if err != nil {
			return fmt.Errorf("find window cutoff: %w", err)
		}
		if cutoff.Seq == 0 {
			return nil
		}
		if err := tx.Where("seq < ?", cutoff.Seq).Delete(&models.SeenSignature{}).Error; err != nil {
			return fmt.Errorf("trim signatures: %w", err)
		}
		return nil
	})
}

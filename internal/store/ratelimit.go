package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/ratelimit"
)

// Hit implements ratelimit.Store on the rate_limit_windows table. The window
// row is read, evaluated and written inside one transaction holding a row
// lock (PostgreSQL) or the single SQLite writer.
func (s *Store) Hit(ctx context.Context, sessionID string, now time.Time, limit ratelimit.Limit) (ratelimit.Decision, error) {
	var decision ratelimit.Decision

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, found, err := s.lockWindow(tx, sessionID)
		if err != nil {
			return err
		}

		if !found {
			next, d := ratelimit.Evaluate(nil, now, limit)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.RateLimitWindow{
				SessionID:    sessionID,
				MessageCount: next.Count,
				WindowStart:  next.Start,
			})
			if res.Error != nil {
				return fmt.Errorf("failed to create rate limit window: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				decision = d
				return nil
			}
			// Another request created the window first.
			row, found, err = s.lockWindow(tx, sessionID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("rate limit window for %q vanished", sessionID)
			}
		}

		next, d := ratelimit.Evaluate(&ratelimit.Window{Count: row.MessageCount, Start: row.WindowStart}, now, limit)
		decision = d
		if !d.Allowed {
			return nil
		}

		err = tx.Model(&model.RateLimitWindow{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"message_count": next.Count,
				"window_start":  next.Start,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update rate limit window: %w", err)
		}
		return nil
	})
	if err != nil {
		return ratelimit.Decision{}, err
	}

	return decision, nil
}

// GetRateLimitWindow returns the stored window for a session.
func (s *Store) GetRateLimitWindow(ctx context.Context, sessionID string) (*model.RateLimitWindow, error) {
	var row model.RateLimitWindow
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to read rate limit window: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *Store) lockWindow(tx *gorm.DB, sessionID string) (model.RateLimitWindow, bool, error) {
	var row model.RateLimitWindow

	q := tx
	if s.IsPostgres() {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	res := q.Where("session_id = ?", sessionID).Limit(1).Find(&row)
	if res.Error != nil {
		return row, false, fmt.Errorf("failed to read rate limit window: %w", res.Error)
	}
	return row, res.RowsAffected > 0, nil
}

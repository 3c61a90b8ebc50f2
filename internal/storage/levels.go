package storage

import (
	"context"
	"database/sql"
	"errors"
)

type UserLevel struct {
	UserID string
	XP     int
	Level  int
}

// NextLevelXP is the XP total required to advance past the given level.
func NextLevelXP(level int) int {
	return 5*level*level + 50*level + 100
}

// GetUserLevel returns the record for a user; ok is false when the user has
// never earned XP.
func (s *Store) GetUserLevel(ctx context.Context, userID string) (UserLevel, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, xp, level FROM users WHERE user_id = ?`, userID)

	var record UserLevel
	err := row.Scan(&record.UserID, &record.XP, &record.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserLevel{}, false, nil
		}
		return UserLevel{}, false, err
	}
	return record, true, nil
}

// AwardXP adds delta XP to the user inside one transaction, creating the
// record on first award. The level-up threshold is computed from the level
// before the increment, and a single award advances the level by at most 1
// even when the new total overshoots the next threshold as well.
func (s *Store) AwardXP(ctx context.Context, userID string, delta int) (record UserLevel, leveledUp bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UserLevel{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record = UserLevel{UserID: userID}
	row := tx.QueryRowContext(ctx, `SELECT xp, level FROM users WHERE user_id = ?`, userID)
	scanErr := row.Scan(&record.XP, &record.Level)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return UserLevel{}, false, err
	}

	record.XP += delta
	if record.XP >= NextLevelXP(record.Level) {
		record.Level++
		leveledUp = true
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (user_id, xp, level) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			xp = excluded.xp,
			level = excluded.level
	`, record.UserID, record.XP, record.Level)
	if err != nil {
		return UserLevel{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return UserLevel{}, false, err
	}
	return record, leveledUp, nil
}

package reputation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kindkart/kindkart/internal/idgen"
	"github.com/kindkart/kindkart/internal/retry"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PostgresStore persists reputation data in PostgreSQL. ApplyCredit locks
// the user's row for the read-clamp-write cycle.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed reputation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const reputationColumns = `user_id, total_credits, community_credits, helper_credits,
	requester_credits, level, created_at, updated_at`

func (p *PostgresStore) GetOrCreate(ctx context.Context, userID string, at time.Time) (*Reputation, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputations (user_id, created_at, updated_at) VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, at)
	if err != nil {
		return nil, fmt.Errorf("create reputation: %w", err)
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+reputationColumns+` FROM reputations WHERE user_id = $1`, userID)
	return scanReputation(row)
}

func (p *PostgresStore) ApplyCredit(ctx context.Context, userID, action, ref string, cat Category, points int64, at time.Time) (*Reputation, *CreditEvent, error) {
	var (
		rep *Reputation
		ev  *CreditEvent
	)
	err := retry.Do(ctx, 3, 20*time.Millisecond, func() error {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reputations (user_id, created_at, updated_at) VALUES ($1, $2, $2)
			ON CONFLICT (user_id) DO NOTHING`, userID, at); err != nil {
			return classify(err)
		}

		r, err := scanReputation(tx.QueryRowContext(ctx,
			`SELECT `+reputationColumns+` FROM reputations WHERE user_id = $1 FOR UPDATE`, userID))
		if err != nil {
			return classify(err)
		}

		// The row lock above serializes this check with other credits for
		// the same user; the unique index backs it up.
		if ref != "" {
			var seen bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM credit_events
				WHERE user_id = $1 AND action = $2 AND reference = $3)`,
				userID, action, ref).Scan(&seen); err != nil {
				return classify(err)
			}
			if seen {
				return retry.Permanent(ErrDuplicateCredit)
			}
		}
		delta := r.apply(cat, points, at)

		if _, err := tx.ExecContext(ctx, `
			UPDATE reputations SET
				total_credits = $2, community_credits = $3, helper_credits = $4,
				requester_credits = $5, level = $6, updated_at = $7
			WHERE user_id = $1`,
			r.UserID, r.TotalCredits, r.CommunityCredits, r.HelperCredits,
			r.RequesterCredits, r.Level, r.UpdatedAt); err != nil {
			return classify(err)
		}

		e := &CreditEvent{
			ID:        idgen.WithPrefix("crd_"),
			UserID:    userID,
			Action:    action,
			Reference: ref,
			Category:  cat,
			Points:    delta,
			CreatedAt: at,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credit_events (id, user_id, action, reference, category, points, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.UserID, e.Action, nullString(e.Reference), string(e.Category), e.Points, e.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return retry.Permanent(ErrDuplicateCredit)
			}
			return classify(err)
		}
		if err := tx.Commit(); err != nil {
			return classify(err)
		}
		rep, ev = r, e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rep, ev, nil
}

func (p *PostgresStore) ListByUsers(ctx context.Context, userIDs []string) ([]*Reputation, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+reputationColumns+` FROM reputations WHERE user_id = ANY($1)`, pq.StringArray(userIDs))
	if err != nil {
		return nil, err
	}
	return collectReputations(rows)
}

func (p *PostgresStore) Top(ctx context.Context, userIDs []string, limit int) ([]*Reputation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+reputationColumns+` FROM reputations
		WHERE $1::text[] IS NULL OR user_id = ANY($1)
		ORDER BY total_credits DESC, user_id ASC
		LIMIT NULLIF($2::int, 0)`, pq.StringArray(userIDs), limit)
	if err != nil {
		return nil, err
	}
	return collectReputations(rows)
}

func (p *PostgresStore) SumPointsSince(ctx context.Context, since time.Time, userIDs []string, limit int) ([]Score, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, SUM(points)::bigint AS pts FROM credit_events
		WHERE created_at >= $1 AND ($2::text[] IS NULL OR user_id = ANY($2))
		GROUP BY user_id
		ORDER BY pts DESC, user_id ASC
		LIMIT NULLIF($3::int, 0)`, since, pq.StringArray(userIDs), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Score
	for rows.Next() {
		var s Score
		if err := rows.Scan(&s.UserID, &s.Points); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreditEvents(ctx context.Context, userID string, actions []string) ([]*CreditEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, action, reference, category, points, created_at
		FROM credit_events
		WHERE user_id = $1 AND action = ANY($2)
		ORDER BY created_at ASC, id ASC`, userID, pq.StringArray(actions))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*CreditEvent
	for rows.Next() {
		e := &CreditEvent{}
		var ref sql.NullString
		var cat string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &ref, &cat, &e.Points, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = ref.String
		e.Category = Category(cat)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AwardBadge(ctx context.Context, a *BadgeAssignment) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id, context, earned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, badge_id) DO NOTHING`,
		a.UserID, a.BadgeID, nullString(a.Context), a.EarnedAt)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) Badges(ctx context.Context, userID string) ([]*BadgeAssignment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, badge_id, context, earned_at FROM user_badges
		WHERE user_id = $1 ORDER BY earned_at ASC, badge_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*BadgeAssignment
	for rows.Next() {
		b := &BadgeAssignment{}
		var note sql.NullString
		if err := rows.Scan(&b.UserID, &b.BadgeID, &note, &b.EarnedAt); err != nil {
			return nil, err
		}
		b.Context = note.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) BadgeCounts(ctx context.Context, userIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*) FROM user_badges
		WHERE user_id = ANY($1) GROUP BY user_id`, pq.StringArray(userIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertAchievement(ctx context.Context, a *Achievement) (*Achievement, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO achievements (user_id, achievement_id, category, progress, max_progress, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $4::int >= $5::int, $6)
		ON CONFLICT (user_id, achievement_id) DO UPDATE SET
			progress   = GREATEST(achievements.progress, EXCLUDED.progress),
			completed  = achievements.completed OR GREATEST(achievements.progress, EXCLUDED.progress) >= achievements.max_progress,
			updated_at = CASE WHEN EXCLUDED.progress > achievements.progress
			                  THEN EXCLUDED.updated_at ELSE achievements.updated_at END
		RETURNING user_id, achievement_id, category, progress, max_progress, completed, updated_at`,
		a.UserID, a.AchievementID, a.Category, a.Progress, a.MaxProgress, a.UpdatedAt)
	return scanAchievement(row)
}

func (p *PostgresStore) Achievements(ctx context.Context, userID string) ([]*Achievement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, achievement_id, category, progress, max_progress, completed, updated_at
		FROM achievements WHERE user_id = $1 ORDER BY achievement_id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// classify marks everything except lock conflicts as permanent.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == pgDeadlockDetected || pqErr.Code == pgSerializationFailure) {
		return err
	}
	return retry.Permanent(err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReputation(s scanner) (*Reputation, error) {
	r := &Reputation{}
	err := s.Scan(&r.UserID, &r.TotalCredits, &r.CommunityCredits, &r.HelperCredits,
		&r.RequesterCredits, &r.Level, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func collectReputations(rows *sql.Rows) ([]*Reputation, error) {
	defer func() { _ = rows.Close() }()

	var out []*Reputation
	for rows.Next() {
		r, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAchievement(s scanner) (*Achievement, error) {
	a := &Achievement{}
	err := s.Scan(&a.UserID, &a.AchievementID, &a.Category, &a.Progress,
		&a.MaxProgress, &a.Completed, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

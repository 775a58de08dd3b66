package requests

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore reads help requests from the shared application database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed request store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const requestColumns = `id, title, requester_id, helper_id, community_id, status,
	attachments, accepted_at, completed_at, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*HelpRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM help_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) GetMany(ctx context.Context, ids []string) (map[string]*HelpRequest, error) {
	out := make(map[string]*HelpRequest, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM help_requests WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	return SetStatusTx(ctx, p.db, id, status, at)
}

// SetStatusTx applies a status change using any executor, so the ledger can
// run it inside its own transaction.
func SetStatusTx(ctx context.Context, exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, id string, status Status, at time.Time) error {
	result, err := exec.ExecContext(ctx, `
		UPDATE help_requests SET
			status = $2::text,
			updated_at = $3,
			completed_at = CASE WHEN $2::text = 'completed' THEN COALESCE(completed_at, $3) ELSE completed_at END
		WHERE id = $1`,
		id, string(status), at)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MarkCompleted(ctx context.Context, id, proof string, at time.Time) (*HelpRequest, error) {
	proof = strings.TrimSpace(proof)
	row := p.db.QueryRowContext(ctx, `
		UPDATE help_requests SET
			status = 'completed',
			updated_at = $3,
			completed_at = COALESCE(completed_at, $3),
			attachments = CASE WHEN $2::text = '' THEN attachments ELSE array_append(attachments, $2::text) END
		WHERE id = $1
		RETURNING `+requestColumns,
		id, proof, at)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) HelperStats(ctx context.Context, userID string) (HelperStats, error) {
	var stats HelperStats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*),
			COUNT(*) FILTER (WHERE accepted_at IS NOT NULL AND accepted_at - created_at <= $2::float8 * INTERVAL '1 second')
		FROM help_requests
		WHERE helper_id = $1 AND status <> 'open'`,
		userID, FastResponseWindow.Seconds(),
	).Scan(&stats.Completed, &stats.Assigned, &stats.FastResponses)
	return stats, err
}

func (p *PostgresStore) CountCompletedAsRequester(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM help_requests WHERE requester_id = $1 AND status = 'completed'`,
		userID).Scan(&n)
	return n, err
}

func (p *PostgresStore) CompletedHelpsByUser(ctx context.Context, userIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(userIDs))
	for _, id := range userIDs {
		out[id] = 0
	}
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT helper_id, COUNT(*)
		FROM help_requests
		WHERE status = 'completed' AND helper_id = ANY($1)
		GROUP BY helper_id`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*HelpRequest, error) {
	r := &HelpRequest{}
	var (
		status      string
		helperID    sql.NullString
		communityID sql.NullString
		acceptedAt  sql.NullTime
		completedAt sql.NullTime
	)
	err := s.Scan(
		&r.ID, &r.Title, &r.RequesterID, &helperID, &communityID, &status,
		pq.Array(&r.Attachments), &acceptedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.HelperID = helperID.String
	r.CommunityID = communityID.String
	if acceptedAt.Valid {
		r.AcceptedAt = &acceptedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

package community

import (
	"context"
	"database/sql"
)

// PostgresStore reads communities from the shared application database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Get(ctx context.Context, id string) (*Community, error) {
	c := &Community{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, creator_id, created_at FROM communities WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CreatorID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *PostgresStore) CountCreatedBy(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM communities WHERE creator_id = $1`, userID).Scan(&n)
	return n, err
}

func (p *PostgresStore) MemberIDs(ctx context.Context, communityID string) ([]string, error) {
	if _, err := p.Get(ctx, communityID); err != nil {
		return nil, err
	}
	return p.queryIDs(ctx, `
		SELECT user_id FROM community_members
		WHERE community_id = $1 AND status = 'approved'
		ORDER BY user_id`, communityID)
}

func (p *PostgresStore) CommunitiesOf(ctx context.Context, userID string) ([]string, error) {
	return p.queryIDs(ctx, `
		SELECT community_id FROM community_members
		WHERE user_id = $1 AND status = 'approved'
		ORDER BY community_id`, userID)
}

func (p *PostgresStore) queryIDs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

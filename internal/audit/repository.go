package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit entries, newest first.
type Repository interface {
	Entries(ctx context.Context, q Query) ([]Entry, error)
}

// PGRepository reads audit_logs on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Entries implements Repository.
func (r *PGRepository) Entries(ctx context.Context, q Query) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.occurred_at, COALESCE(a.actor_id, 0), COALESCE(u.email, ''),
			a.action, a.entity, a.entity_id, a.meta
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.actor_id
		WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
		  AND ($3::bigint = 0 OR a.actor_id = $3)
		  AND ($4::text = '' OR a.entity = $4)
		  AND ($5::text = '' OR a.entity_id = $5)
		  AND ($6::text = '' OR a.action LIKE $6 || '%')
		ORDER BY a.occurred_at DESC, a.id DESC
		LIMIT $7 OFFSET $8`,
		timestamptz(q.From), timestamptz(q.To), q.ActorID, q.Entity, q.EntityID, q.Action, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.At, &e.ActorID, &e.ActorEmail, &e.Action, &e.Entity, &e.EntityID, &meta); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta of entry %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

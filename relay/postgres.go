package relay

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chee/typewriter/crdt"
)

const schema = `
CREATE TABLE IF NOT EXISTS typewriter_changes (
	id     BIGSERIAL PRIMARY KEY,
	doc_id TEXT   NOT NULL,
	actor  TEXT   NOT NULL,
	seq    BIGINT NOT NULL,
	data   BYTEA  NOT NULL,
	UNIQUE (doc_id, actor, seq)
)`

// PostgresLog is a ChangeLog stored in one Postgres table. Rows keep insert
// order through their serial id.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog makes sure the table exists.
func NewPostgresLog(ctx context.Context, pool *pgxpool.Pool) (*PostgresLog, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresLog{pool: pool}, nil
}

func (l *PostgresLog) Append(ctx context.Context, doc string, changes []*crdt.Change) error {
	batch := &pgx.Batch{}
	for _, c := range changes {
		data, err := crdt.EncodeChange(c)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO typewriter_changes (doc_id, actor, seq, data) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (doc_id, actor, seq) DO NOTHING`,
			doc, c.Actor, int64(c.Seq), data,
		)
	}
	return l.pool.SendBatch(ctx, batch).Close()
}

func (l *PostgresLog) Load(ctx context.Context, doc string) ([]*crdt.Change, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT data FROM typewriter_changes WHERE doc_id = $1 ORDER BY id`, doc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []*crdt.Change
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		c, err := crdt.DecodeChange(data)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Package remote implements the remote store contract: checkpointed
// row fetch, last-writer-wins upsert and single-row lookup against the
// authoritative Postgres backend.
package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
)

// Row is one remote row in flat snake_case form.
type Row map[string]any

// ID returns the row's primary key.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Deleted reports the soft-delete flag.
func (r Row) Deleted() bool {
	d, _ := r["deleted"].(bool)
	return d
}

// UpdatedAt returns the row's modification timestamp.
func (r Row) UpdatedAt() string {
	s, _ := r["updated_at"].(string)
	return s
}

// Client is the narrow remote-store contract the replication engines
// consume. Upsert returns errs.ErrRemoteConflict when the remote row is
// newer than the pushed one (write-write conflict under LWW).
type Client interface {
	FetchSince(ctx context.Context, table string, cp model.Checkpoint, limit uint64) ([]Row, error)
	Upsert(ctx context.Context, table string, row Row) error
	FetchByID(ctx context.Context, table, id string) (Row, error)
}

type client struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewClient wraps an open remote database handle.
func NewClient(db *sqlx.DB, log *zap.Logger) Client {
	return &client{
		db:  db,
		log: log.Named("remote"),
	}
}

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// FetchSince returns up to limit rows strictly after the checkpoint in
// (updated_at, id) order. The id tie-break keeps rows sharing a
// timestamp from being skipped or re-fetched forever.
func (c *client) FetchSince(ctx context.Context, table string, cp model.Checkpoint, limit uint64) ([]Row, error) {
	query, args, err := fetchSinceSQL(table, cp, limit)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryxContext(ctx, query, args...)
	if err != nil {
		c.log.Debug("FetchSince", zap.String("q", query), zap.Any("args", args), zap.Error(err))
		return nil, errors.Wrapf(err, "fetch %s", table)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		raw := map[string]any{}
		if err := rows.MapScan(raw); err != nil {
			return nil, errors.Wrapf(err, "scan %s", table)
		}
		out = append(out, normalize(raw))
	}
	return out, rows.Err()
}

func fetchSinceSQL(table string, cp model.Checkpoint, limit uint64) (string, []any, error) {
	q := qb.Select("*").From(table)
	if !cp.IsZero() {
		q = q.Where(sq.Or{
			sq.Gt{"updated_at": cp.LastModifiedAt},
			sq.And{
				sq.Eq{"updated_at": cp.LastModifiedAt},
				sq.Gt{"id": cp.LastID},
			},
		})
	}
	return q.OrderBy("updated_at ASC", "id ASC").Limit(limit).ToSql()
}

// Upsert writes the row by primary key. The guard clause only lets the
// write through when the stored row is not newer, so a zero-row result
// means the push lost the race.
func (c *client) Upsert(ctx context.Context, table string, row Row) error {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	vals := make([]any, 0, len(cols))
	sets := make([]string, 0, len(cols))
	for _, col := range cols {
		vals = append(vals, row[col])
		if col != "id" {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query, args, err := qb.Insert(table).
		Columns(cols...).
		Values(vals...).
		Suffix(fmt.Sprintf("ON CONFLICT (id) DO UPDATE SET %s WHERE %s.updated_at <= EXCLUDED.updated_at",
			strings.Join(sets, ", "), table)).
		ToSql()
	if err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConflict(err) {
			return errs.ErrRemoteConflict
		}
		return errors.Wrapf(err, "upsert %s", table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "upsert %s", table)
	}
	if n == 0 {
		return errs.ErrRemoteConflict
	}
	return nil
}

// FetchByID returns the authoritative row, or errs.ErrNotFound.
func (c *client) FetchByID(ctx context.Context, table, id string) (Row, error) {
	query, args, err := qb.Select("*").From(table).Where(sq.Eq{"id": id}).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s by id", table)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	raw := map[string]any{}
	if err := rows.MapScan(raw); err != nil {
		return nil, errors.Wrapf(err, "scan %s", table)
	}
	return normalize(raw), nil
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) ||
		pgErr.Code == pgerrcode.SerializationFailure
}

// normalize flattens driver types into the wire shape the mapper and
// store expect: timestamps as TimeFormat strings, bytes as strings,
// NULL columns dropped.
func normalize(raw map[string]any) Row {
	out := make(Row, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
			continue
		case time.Time:
			out[k] = model.FormatTime(t)
		case []byte:
			out[k] = string(t)
		default:
			out[k] = v
		}
	}
	return out
}

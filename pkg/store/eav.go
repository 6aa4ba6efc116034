package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the narrow surface the accessor needs from a pgx pool. Tests
// substitute fakes; production passes *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Row is the single universal entity: every object, type and attribute in a
// database is one of these.
type Row struct {
	ID  int64
	Up  int64
	Ord int64
	T   int64
	Val string
}

// ErrBadIdentifier is returned when a table name fails the identifier guard.
// Values never take this path; they always travel as bind parameters.
var ErrBadIdentifier = errors.New("store: invalid identifier")

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	return nil
}

// Accessor is the query layer over one recursive (id, up, ord, t, val) table.
type Accessor struct {
	DB DB
}

// Filter narrows ListChildren results.
type Filter struct {
	Type   int64  // 0 = any
	Search string // case-insensitive substring on val
	Limit  int64  // 0 = no limit
	Offset int64
}

// Insert adds a row with the next id and returns it. The id subselect and the
// insert are one statement, so ids stay monotonic under the pool.
func (a *Accessor) Insert(ctx context.Context, table string, up, ord, t int64, val string) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if ord <= 0 {
		ord = 1
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, up, ord, t, val)
		SELECT COALESCE(MAX(id),0)+1, $1, $2, $3, $4 FROM %s RETURNING id`, table, table)
	var id int64
	if err := a.DB.QueryRow(ctx, q, up, ord, t, val).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return id, nil
}

// InsertWithID adds a row preserving its id. Used by restore, which replays
// ids straight from a dump.
func (a *Accessor) InsertWithID(ctx context.Context, table string, r Row) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, up, ord, t, val) VALUES ($1,$2,$3,$4,$5)`, table)
	if _, err := a.DB.Exec(ctx, q, r.ID, r.Up, r.Ord, r.T, r.Val); err != nil {
		return fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return nil
}

func (a *Accessor) UpdateValue(ctx context.Context, table string, id int64, val string) (bool, error) {
	return a.updateColumn(ctx, table, id, "val", val)
}

func (a *Accessor) UpdateType(ctx context.Context, table string, id, t int64) (bool, error) {
	return a.updateColumn(ctx, table, id, "t", t)
}

func (a *Accessor) UpdateUp(ctx context.Context, table string, id, up int64) (bool, error) {
	return a.updateColumn(ctx, table, id, "up", up)
}

func (a *Accessor) UpdateOrd(ctx context.Context, table string, id, ord int64) (bool, error) {
	return a.updateColumn(ctx, table, id, "ord", ord)
}

func (a *Accessor) updateColumn(ctx context.Context, table string, id int64, column string, value any) (bool, error) {
	if err := checkIdent(table); err != nil {
		return false, err
	}
	if err := checkIdent(column); err != nil {
		return false, err
	}
	q := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`, table, column)
	tag, err := a.DB.Exec(ctx, q, value, id)
	if err != nil {
		return false, fmt.Errorf("store: update %s.%s: %w", table, column, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (a *Accessor) Delete(ctx context.Context, table string, id int64) (bool, error) {
	if err := checkIdent(table); err != nil {
		return false, err
	}
	tag, err := a.DB.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return false, fmt.Errorf("store: delete from %s: %w", table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteChildren removes direct children only. Deep cascade is the caller's
// business via repeated calls.
func (a *Accessor) DeleteChildren(ctx context.Context, table string, up int64) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	tag, err := a.DB.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE up = $1`, table), up)
	if err != nil {
		return 0, fmt.Errorf("store: delete children in %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// GetByID returns the row or (nil, nil) when absent.
func (a *Accessor) GetByID(ctx context.Context, table string, id int64) (*Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE id = $1`, table)
	return a.scanOne(a.DB.QueryRow(ctx, q, id), table)
}

// GetRequisiteByType returns the first child of up with type t, by (ord, id).
// A MULTI requisite with several values is not distinguishable through this
// call; callers needing all values list children directly.
func (a *Accessor) GetRequisiteByType(ctx context.Context, table string, up, t int64) (*Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE up = $1 AND t = $2 ORDER BY ord, id LIMIT 1`, table)
	return a.scanOne(a.DB.QueryRow(ctx, q, up, t), table)
}

// FindByTypeValue returns the first row of type t whose val matches
// case-insensitively.
func (a *Accessor) FindByTypeValue(ctx context.Context, table string, t int64, val string) (*Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE t = $1 AND LOWER(val) = LOWER($2) ORDER BY id LIMIT 1`, table)
	return a.scanOne(a.DB.QueryRow(ctx, q, t, val), table)
}

func (a *Accessor) scanOne(row pgx.Row, table string) (*Row, error) {
	var r Row
	if err := row.Scan(&r.ID, &r.Up, &r.Ord, &r.T, &r.Val); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan %s: %w", table, err)
	}
	return &r, nil
}

// NextOrder returns max(ord)+1 among children of up, 1 when there are none.
// Advisory only; a concurrent insert may produce a duplicate ord and that is
// tolerated. Do not add a unique index on (up, ord).
func (a *Accessor) NextOrder(ctx context.Context, table string, up int64) (int64, error) {
	return a.nextOrder(ctx, table, up, 0)
}

// NextOrderOfType scopes NextOrder to children of one type.
func (a *Accessor) NextOrderOfType(ctx context.Context, table string, up, t int64) (int64, error) {
	return a.nextOrder(ctx, table, up, t)
}

func (a *Accessor) nextOrder(ctx context.Context, table string, up, t int64) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	var q string
	var args []any
	if t != 0 {
		q = fmt.Sprintf(`SELECT COALESCE(MAX(ord),0)+1 FROM %s WHERE up = $1 AND t = $2`, table)
		args = []any{up, t}
	} else {
		q = fmt.Sprintf(`SELECT COALESCE(MAX(ord),0)+1 FROM %s WHERE up = $1`, table)
		args = []any{up}
	}
	var next int64
	if err := a.DB.QueryRow(ctx, q, args...).Scan(&next); err != nil {
		return 0, fmt.Errorf("store: next order in %s: %w", table, err)
	}
	return next, nil
}

// ListChildren returns children of up ordered by (ord, id).
func (a *Accessor) ListChildren(ctx context.Context, table string, up int64, f Filter) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	var b strings.Builder
	args := []any{up}
	fmt.Fprintf(&b, `SELECT id, up, ord, t, val FROM %s WHERE up = $1`, table)
	if f.Type != 0 {
		args = append(args, f.Type)
		fmt.Fprintf(&b, ` AND t = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		fmt.Fprintf(&b, ` AND val ILIKE $%d`, len(args))
	}
	b.WriteString(` ORDER BY ord, id`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, ` OFFSET $%d`, len(args))
	}
	return a.list(ctx, b.String(), table, args...)
}

// CountChildren counts children of up under the same filter.
func (a *Accessor) CountChildren(ctx context.Context, table string, up int64, f Filter) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	var b strings.Builder
	args := []any{up}
	fmt.Fprintf(&b, `SELECT COUNT(*) FROM %s WHERE up = $1`, table)
	if f.Type != 0 {
		args = append(args, f.Type)
		fmt.Fprintf(&b, ` AND t = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		fmt.Fprintf(&b, ` AND val ILIKE $%d`, len(args))
	}
	var n int64
	if err := a.DB.QueryRow(ctx, b.String(), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count children in %s: %w", table, err)
	}
	return n, nil
}

// ListTypeDefs returns type-definition rows (up = 0), optionally only those
// whose own type is t (the reverse-reference lookup of the grant resolver).
func (a *Accessor) ListTypeDefs(ctx context.Context, table string, t int64) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if t != 0 {
		q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE up = 0 AND t = $1 ORDER BY ord, id`, table)
		return a.list(ctx, q, table, t)
	}
	q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE up = 0 ORDER BY ord, id`, table)
	return a.list(ctx, q, table)
}

// ListByValue returns rows whose val equals exactly, oldest first. Used to
// find references pointing at an object id.
func (a *Accessor) ListByValue(ctx context.Context, table, val string, limit int64) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE val = $1 ORDER BY id`, table)
	args := []any{val}
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $2`
	}
	return a.list(ctx, q, table, args...)
}

// ListByType pages through rows of one type in id order, limit rows starting
// after afterID.
func (a *Accessor) ListByType(ctx context.Context, table string, t, afterID, limit int64) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE t = $1 AND id > $2 ORDER BY id LIMIT $3`, table)
	return a.list(ctx, q, table, t, afterID, limit)
}

// PageRows scans the whole table in id order, limit rows starting after
// afterID. Dump and CSV export page through this instead of materializing
// the table.
func (a *Accessor) PageRows(ctx context.Context, table string, afterID, limit int64) ([]Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, up, ord, t, val FROM %s WHERE id > $1 ORDER BY id LIMIT $2`, table)
	return a.list(ctx, q, table, afterID, limit)
}

func (a *Accessor) list(ctx context.Context, q, table string, args ...any) ([]Row, error) {
	rows, err := a.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", table, err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Up, &r.Ord, &r.T, &r.Val); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", table, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate %s: %w", table, err)
	}
	return out, nil
}

// CreateTable creates the five-column table when missing.
func (a *Accessor) CreateTable(ctx context.Context, table string) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		up BIGINT NOT NULL DEFAULT 0,
		ord BIGINT NOT NULL DEFAULT 1,
		t BIGINT NOT NULL DEFAULT 0,
		val TEXT NOT NULL DEFAULT ''
	)`, table)
	if _, err := a.DB.Exec(ctx, q); err != nil {
		return fmt.Errorf("store: create %s: %w", table, err)
	}
	return nil
}

// Truncate empties a table before a restore replays a dump into it.
func (a *Accessor) Truncate(ctx context.Context, table string) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if _, err := a.DB.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("store: truncate %s: %w", table, err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

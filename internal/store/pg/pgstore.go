package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ucaep.org/internal/content"
	"ucaep.org/internal/ids"
)

// Store implements content.Store on a single records table:
//
//	records(id, kind, status, fields jsonb, created_at, updated_at)
//
// status is a dedicated column because it is the field most often filtered
// on; every other payload field lives in the jsonb column under its
// snake_case name. When the live schema no longer carries the status column
// the operation is retried with the column omitted and the result is marked
// degraded instead of failing hard.
type Store struct {
	db *sql.DB
}

var _ content.Store = (*Store)(nil)

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Create(ctx context.Context, kind content.Kind, fields content.Fields) (content.Record, error) {
	if _, err := content.ParseKind(string(kind)); err != nil {
		return content.Record{}, err
	}
	raw := content.Denormalize(fields)
	status, _ := raw["status"].(string)
	delete(raw, "status")
	payload, err := json.Marshal(raw)
	if err != nil {
		return content.Record{}, &content.TransportError{Op: "create", Kind: kind, Err: err}
	}

	id := ids.New()
	var created, updated time.Time
	err = s.db.QueryRowContext(ctx, `
		insert into records(id, kind, status, fields, created_at, updated_at)
		values ($1, $2, nullif($3,''), $4, now(), now())
		returning created_at, updated_at
	`, id, string(kind), status, payload).Scan(&created, &updated)

	degraded := false
	if isUndefinedColumn(err) {
		degraded = true
		err = s.db.QueryRowContext(ctx, `
			insert into records(id, kind, fields, created_at, updated_at)
			values ($1, $2, $3, now(), now())
			returning created_at, updated_at
		`, id, string(kind), payload).Scan(&created, &updated)
	}
	if err != nil {
		return content.Record{}, &content.TransportError{Op: "create", Kind: kind, Err: err}
	}

	rec := content.Record{
		ID:        id,
		Kind:      kind,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
		Fields:    content.Normalize(raw),
	}
	if degraded {
		rec.Degraded = []string{"status"}
	} else if status != "" {
		rec.Fields["status"] = status
	}
	return rec, nil
}

func (s *Store) FetchAll(ctx context.Context, kind content.Kind, opts content.ListOptions) ([]content.Record, error) {
	recs, err := s.list(ctx, kind, opts, true)
	if isUndefinedColumn(err) {
		return s.list(ctx, kind, opts, false)
	}
	return recs, err
}

func (s *Store) list(ctx context.Context, kind content.Kind, opts content.ListOptions, withStatus bool) ([]content.Record, error) {
	cols := "id, status, fields, created_at, updated_at"
	if !withStatus {
		cols = "id, fields, created_at, updated_at"
	}

	var (
		where = []string{"kind = $1"}
		args  = []any{string(kind)}
	)
	for key, want := range opts.Filters {
		if want == nil {
			continue
		}
		if sv, ok := want.(string); ok && sv == "" {
			continue
		}
		args = append(args, fmt.Sprint(want))
		column := content.ColumnName(key)
		if column == "status" && withStatus {
			where = append(where, fmt.Sprintf("status = $%d", len(args)))
			continue
		}
		where = append(where, fmt.Sprintf("fields->>'%s' = $%d", column, len(args)))
	}

	query := fmt.Sprintf("select %s from records where %s", cols, strings.Join(where, " and "))
	query += " order by " + orderClause(opts, withStatus)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isUndefinedColumn(err) {
			return nil, err
		}
		return nil, &content.TransportError{Op: "fetch_all", Kind: kind, Err: err}
	}
	defer rows.Close()

	var out []content.Record
	for rows.Next() {
		rec, err := scanRecord(rows, kind, withStatus)
		if err != nil {
			return nil, &content.TransportError{Op: "fetch_all", Kind: kind, Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &content.TransportError{Op: "fetch_all", Kind: kind, Err: err}
	}
	return out, nil
}

func (s *Store) FetchByID(ctx context.Context, kind content.Kind, id string) (content.Record, error) {
	rec, err := s.fetchOne(ctx, kind, id, true)
	if isUndefinedColumn(err) {
		return s.fetchOne(ctx, kind, id, false)
	}
	return rec, err
}

func (s *Store) fetchOne(ctx context.Context, kind content.Kind, id string, withStatus bool) (content.Record, error) {
	cols := "id, status, fields, created_at, updated_at"
	if !withStatus {
		cols = "id, fields, created_at, updated_at"
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("select %s from records where kind = $1 and id = $2", cols),
		string(kind), id)
	rec, err := scanRecord(row, kind, withStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Record{}, content.ErrNotFound
	}
	if err != nil {
		if isUndefinedColumn(err) {
			return content.Record{}, err
		}
		return content.Record{}, &content.TransportError{Op: "fetch_by_id", Kind: kind, Err: err}
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, kind content.Kind, id string, fields content.Fields) (content.Record, error) {
	rec, err := s.update(ctx, kind, id, fields, true)
	if isUndefinedColumn(err) {
		// A drifted schema aborts the transaction; retry fresh without the column.
		rec, err = s.update(ctx, kind, id, fields, false)
		if err == nil {
			rec.Degraded = []string{"status"}
		}
	}
	return rec, err
}

func (s *Store) update(ctx context.Context, kind content.Kind, id string, fields content.Fields, withStatus bool) (content.Record, error) {
	raw := content.Denormalize(fields)
	status, hasStatus := raw["status"].(string)
	delete(raw, "status")
	if !withStatus {
		hasStatus = false
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return content.Record{}, &content.TransportError{Op: "update", Kind: kind, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var existing []byte
	err = tx.QueryRowContext(ctx,
		`select fields from records where kind = $1 and id = $2 for update`,
		string(kind), id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Record{}, content.ErrNotFound
	}
	if err != nil {
		return content.Record{}, &content.TransportError{Op: "update", Kind: kind, Err: err}
	}

	merged := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range raw {
		merged[k] = v
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return content.Record{}, &content.TransportError{Op: "update", Kind: kind, Err: err}
	}

	var created, updated time.Time
	if hasStatus {
		err = tx.QueryRowContext(ctx, `
			update records set status = nullif($3,''), fields = $4, updated_at = now()
			where kind = $1 and id = $2
			returning created_at, updated_at
		`, string(kind), id, status, payload).Scan(&created, &updated)
	} else {
		err = tx.QueryRowContext(ctx, `
			update records set fields = $3, updated_at = now()
			where kind = $1 and id = $2
			returning created_at, updated_at
		`, string(kind), id, payload).Scan(&created, &updated)
	}
	if err != nil {
		if isUndefinedColumn(err) {
			return content.Record{}, err
		}
		return content.Record{}, &content.TransportError{Op: "update", Kind: kind, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return content.Record{}, &content.TransportError{Op: "update", Kind: kind, Err: err}
	}

	rec := content.Record{
		ID:        id,
		Kind:      kind,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
		Fields:    content.Normalize(merged),
	}
	if hasStatus && status != "" {
		rec.Fields["status"] = status
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, kind content.Kind, id string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from records where kind = $1 and id = $2`, string(kind), id)
	if err != nil {
		return &content.TransportError{Op: "delete", Kind: kind, Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &content.TransportError{Op: "delete", Kind: kind, Err: err}
	}
	if affected == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (s *Store) Search(ctx context.Context, kind content.Kind, term string, fields []string) ([]content.Record, error) {
	term = strings.TrimSpace(term)
	if term == "" || len(fields) == 0 {
		return s.FetchAll(ctx, kind, content.ListOptions{})
	}
	recs, err := s.search(ctx, kind, term, fields, true)
	if isUndefinedColumn(err) {
		return s.search(ctx, kind, term, fields, false)
	}
	return recs, err
}

func (s *Store) search(ctx context.Context, kind content.Kind, term string, fields []string, withStatus bool) ([]content.Record, error) {
	cols := "id, status, fields, created_at, updated_at"
	if !withStatus {
		cols = "id, fields, created_at, updated_at"
	}
	var clauses []string
	for _, f := range fields {
		clauses = append(clauses, fmt.Sprintf("fields->>'%s' ilike $2", content.ColumnName(f)))
	}
	query := fmt.Sprintf(`
		select %s
		from records
		where kind = $1 and (%s)
		order by created_at desc
	`, cols, strings.Join(clauses, " or "))

	rows, err := s.db.QueryContext(ctx, query, string(kind), "%"+term+"%")
	if err != nil {
		if isUndefinedColumn(err) {
			return nil, err
		}
		return nil, &content.TransportError{Op: "search", Kind: kind, Err: err}
	}
	defer rows.Close()

	var out []content.Record
	for rows.Next() {
		rec, err := scanRecord(rows, kind, withStatus)
		if err != nil {
			return nil, &content.TransportError{Op: "search", Kind: kind, Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &content.TransportError{Op: "search", Kind: kind, Err: err}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, kind content.Kind, withStatus bool) (content.Record, error) {
	var (
		id      string
		status  sql.NullString
		payload []byte
		created time.Time
		updated time.Time
	)
	var err error
	if withStatus {
		err = row.Scan(&id, &status, &payload, &created, &updated)
	} else {
		err = row.Scan(&id, &payload, &created, &updated)
	}
	if err != nil {
		return content.Record{}, err
	}

	raw := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &raw); err != nil {
			raw = map[string]any{}
		}
	}
	rec := content.Record{
		ID:        id,
		Kind:      kind,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
		Fields:    content.Normalize(raw),
	}
	if withStatus {
		if status.Valid && status.String != "" {
			rec.Fields["status"] = status.String
		}
	} else {
		rec.Degraded = []string{"status"}
	}
	return rec, nil
}

func orderClause(opts content.ListOptions, withStatus bool) string {
	dir := "asc"
	if opts.Descending {
		dir = "desc"
	}
	switch content.ColumnName(opts.OrderBy) {
	case "", "created_at":
		return "created_at " + dir
	case "updated_at":
		return "updated_at " + dir
	case "id":
		return "id " + dir
	case "status":
		if withStatus {
			return "status " + dir
		}
		return "fields->>'status' " + dir
	default:
		return fmt.Sprintf("fields->>'%s' %s", content.ColumnName(opts.OrderBy), dir)
	}
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42703"
}

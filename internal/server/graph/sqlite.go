package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDangling is returned when an edge no longer has both endpoints.
var ErrDangling = errors.New("edge lost an endpoint")

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLite opens (and if needed creates) a SQLite store. Use ":memory:" for a
// throwaway store.
func NewSQLite(ctx context.Context, dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// A single connection serializes writers, which keeps the exact-index
	// uniqueness check and the following insert under one lock. It is also
	// what keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	inMemory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
	for _, pragma := range allPragmas(inMemory) {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	// Create schema
	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	log.Debug().Str("path", dbPath).Msg("sqlite store opened")
	return &SQLiteStore{db: db, log: log}, nil
}

// Backend implements Store.
func (s *SQLiteStore) Backend() string { return "sqlite" }

// Close closes the SQLite connection
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// Begin implements Store.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sqlite transaction: %w", err)
	}
	return &sqliteTx{tx: tx, log: s.log}, nil
}

type sqliteTx struct {
	tx  *sql.Tx
	log zerolog.Logger
}

func (t *sqliteTx) CreateNode(ctx context.Context) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO elements (kind) VALUES (?)`, int(KindNode))
	if err != nil {
		return 0, fmt.Errorf("inserting node: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) CreateNodeAt(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO elements (id, kind) VALUES (?, ?)`, id, int(KindNode)); err != nil {
		return fmt.Errorf("inserting node %d: %w", id, err)
	}
	return nil
}

func (t *sqliteTx) CreateEdge(ctx context.Context, end1, end2 Endpoint) (int64, error) {
	for _, end := range []Endpoint{end1, end2} {
		kind, err := t.kindOf(ctx, end.ID)
		if err != nil {
			return 0, err
		}
		if kind != end.Kind {
			return 0, fmt.Errorf("endpoint %d is a %s, not a %s", end.ID, kind, end.Kind)
		}
	}

	res, err := t.tx.ExecContext(ctx, `INSERT INTO elements (kind) VALUES (?)`, int(KindEdge))
	if err != nil {
		return 0, fmt.Errorf("inserting edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO endpoints (edge_id, position, player_id, player_kind, role)
		VALUES (?, ?, ?, ?, ?)
	`
	for i, end := range []Endpoint{end1, end2} {
		if _, err := t.tx.ExecContext(ctx, query, id, i+1, end.ID, int(end.Kind), end.Role); err != nil {
			return 0, fmt.Errorf("inserting endpoint: %w", err)
		}
	}
	return id, nil
}

func (t *sqliteTx) kindOf(ctx context.Context, id int64) (Kind, error) {
	var kind int
	err := t.tx.QueryRowContext(ctx, `SELECT kind FROM elements WHERE id = ?`, id).Scan(&kind)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("element %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("fetching element %d: %w", id, err)
	}
	return Kind(kind), nil
}

func (t *sqliteTx) Fetch(ctx context.Context, id int64) (*Element, error) {
	kind, err := t.kindOf(ctx, id)
	if err != nil {
		return nil, err
	}
	el := &Element{ID: id, Kind: kind}
	if kind != KindEdge {
		return el, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT position, player_id, player_kind, role
		FROM endpoints
		WHERE edge_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("fetching endpoints of %d: %w", id, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var pos, playerKind int
		var end Endpoint
		if err := rows.Scan(&pos, &end.ID, &playerKind, &end.Role); err != nil {
			return nil, err
		}
		if pos < 1 || pos > 2 {
			return nil, fmt.Errorf("edge %d has endpoint at position %d", id, pos)
		}
		end.Kind = Kind(playerKind)
		el.Ends[pos-1] = end
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("edge %d has %d endpoints: %w", id, n, ErrDangling)
	}
	return el, nil
}

func (t *sqliteTx) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := t.kindOf(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTx) Delete(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting element %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("element %d: %w", id, ErrNotFound)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM endpoints WHERE edge_id = ? OR player_id = ?`, id, id); err != nil {
		return fmt.Errorf("deleting endpoints of %d: %w", id, err)
	}
	for _, table := range []string{"properties", "exact_index", "fulltext_index"} {
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE element_id = ?", id); err != nil {
			return fmt.Errorf("cleaning %s of %d: %w", table, id, err)
		}
	}
	return nil
}

func (t *sqliteTx) SetRole(ctx context.Context, edgeID int64, position int, role string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE endpoints SET role = ? WHERE edge_id = ? AND position = ?`, role, edgeID, position)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("endpoint %d/%d: %w", edgeID, position, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) SetProperty(ctx context.Context, id int64, key string, value any) error {
	typ, text, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	query := `
		INSERT INTO properties (element_id, key, value_type, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(element_id, key) DO UPDATE SET
		  value_type=excluded.value_type,
		  value=excluded.value
	`
	if _, err := t.tx.ExecContext(ctx, query, id, key, typ, text); err != nil {
		return fmt.Errorf("storing property %q of %d: %w", key, id, err)
	}
	return nil
}

func (t *sqliteTx) Property(ctx context.Context, id int64, key string) (any, bool, error) {
	var typ, text string
	err := t.tx.QueryRowContext(ctx,
		`SELECT value_type, value FROM properties WHERE element_id = ? AND key = ?`, id, key).Scan(&typ, &text)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetching property %q of %d: %w", key, id, err)
	}
	v, err := decodeValue(typ, text)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *sqliteTx) Properties(ctx context.Context, id int64) (map[string]any, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT key, value_type, value FROM properties WHERE element_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("fetching properties of %d: %w", id, err)
	}
	defer rows.Close()

	props := make(map[string]any)
	for rows.Next() {
		var key, typ, text string
		if err := rows.Scan(&key, &typ, &text); err != nil {
			return nil, err
		}
		v, err := decodeValue(typ, text)
		if err != nil {
			return nil, err
		}
		props[key] = v
	}
	return props, rows.Err()
}

func (t *sqliteTx) RemoveProperty(ctx context.Context, id int64, key string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM properties WHERE element_id = ? AND key = ?`, id, key)
	return err
}

func (t *sqliteTx) IndexPut(ctx context.Context, index, key string, value any, id int64) error {
	typ, text, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, key, err)
	}
	query := `
		INSERT OR IGNORE INTO exact_index (index_name, key, value_type, value, element_id)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := t.tx.ExecContext(ctx, query, index, key, typ, text, id); err != nil {
		return fmt.Errorf("indexing %s/%s: %w", index, key, err)
	}
	return nil
}

func (t *sqliteTx) IndexRemove(ctx context.Context, index, key string, id int64) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM exact_index WHERE index_name = ? AND key = ? AND element_id = ?`, index, key, id)
	if err != nil {
		return fmt.Errorf("unindexing %s/%s: %w", index, key, err)
	}
	return nil
}

func (t *sqliteTx) IndexGet(ctx context.Context, index, key string, value any) ([]int64, error) {
	typ, text, err := encodeValue(value)
	if err != nil {
		return nil, fmt.Errorf("index %s/%s: %w", index, key, err)
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT element_id FROM exact_index
		WHERE index_name = ? AND key = ? AND value_type = ? AND value = ?
		ORDER BY element_id
	`, index, key, typ, text)
	if err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", index, key, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (t *sqliteTx) FulltextPut(ctx context.Context, index, key, text string, id int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO fulltext_index (index_name, key, element_id, body) VALUES (?, ?, ?, ?)`,
		index, key, id, text)
	if err != nil {
		return fmt.Errorf("fulltext indexing %s/%s: %w", index, key, err)
	}
	return nil
}

func (t *sqliteTx) FulltextRemove(ctx context.Context, index, key string, id int64) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM fulltext_index WHERE index_name = ? AND key = ? AND element_id = ?`, index, key, id)
	if err != nil {
		return fmt.Errorf("fulltext unindexing %s/%s: %w", index, key, err)
	}
	return nil
}

// FulltextQuery matches every whitespace-separated term as a prefix.
func (t *sqliteTx) FulltextQuery(ctx context.Context, index, key, query string) ([]int64, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}
	for i, term := range terms {
		// Escape special FTS5 characters and quote each term
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"*`
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT element_id FROM fulltext_index
		WHERE fulltext_index MATCH ? AND index_name = ? AND key = ?
		ORDER BY element_id
	`, strings.Join(terms, " "), index, key)
	if err != nil {
		if !isFTSSyntaxError(err) {
			return nil, fmt.Errorf("fulltext query %s/%s: %w", index, key, err)
		}
		t.log.Debug().Err(err).Str("query", query).Msg("fts5 rejected query, falling back to LIKE")
		return t.fulltextLike(ctx, index, key, query)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// isFTSSyntaxError reports whether FTS5 refused to parse a MATCH expression.
// Other failures (cancellation, I/O) are real errors.
func isFTSSyntaxError(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_ERROR {
		return false
	}
	return strings.Contains(se.Error(), "fts5")
}

// Lock implements Tx. The single connection already serializes writers.
func (t *sqliteTx) Lock(ctx context.Context, name string) error { return nil }

// fulltextLike is a fallback search using LIKE
func (t *sqliteTx) fulltextLike(ctx context.Context, index, key, query string) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT element_id FROM fulltext_index
		WHERE index_name = ? AND key = ? AND body LIKE ?
		ORDER BY element_id
	`, index, key, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("fulltext query %s/%s: %w", index, key, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (t *sqliteTx) Edges(ctx context.Context, id int64, filter AdjacencyFilter) ([]*Element, error) {
	query := `
		SELECT DISTINCT a.edge_id
		FROM endpoints a
		JOIN endpoints b ON b.edge_id = a.edge_id AND b.position <> a.position
		WHERE a.player_id = ?
	`
	args := []any{id}
	if filter.Role != "" {
		query += " AND a.role = ?"
		args = append(args, filter.Role)
	}
	if filter.OthersKind != 0 {
		query += " AND b.player_kind = ?"
		args = append(args, int(filter.OthersKind))
	}
	query += " ORDER BY a.edge_id"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("enumerating edges of %d: %w", id, err)
	}
	ids, err := scanIDs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	edges := make([]*Element, 0, len(ids))
	for _, edgeID := range ids {
		el, err := t.Fetch(ctx, edgeID)
		if err != nil {
			return nil, err
		}
		edges = append(edges, el)
	}
	return edges, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// encodeValue renders a storable value as a (type tag, text) pair so that
// values of different types never compare equal in the index.
func encodeValue(v any) (string, string, error) {
	n, err := Normalize(v)
	if err != nil {
		return "", "", err
	}
	switch x := n.(type) {
	case string:
		return "s", x, nil
	case int64:
		return "i", strconv.FormatInt(x, 10), nil
	case float64:
		return "f", strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return "b", strconv.FormatBool(x), nil
	}
	return "", "", fmt.Errorf("unsupported value type %T", n)
}

func decodeValue(typ, text string) (any, error) {
	switch typ {
	case "s":
		return text, nil
	case "i":
		return strconv.ParseInt(text, 10, 64)
	case "f":
		return strconv.ParseFloat(text, 64)
	case "b":
		return strconv.ParseBool(text)
	}
	return nil, fmt.Errorf("unknown value type tag %q", typ)
}

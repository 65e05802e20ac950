package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
)

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore implements Store on Neo4j. Every element is an :Element node;
// an edge element points at its two players through :END relationships
// carrying position and role, so edges can be players themselves.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	log      zerolog.Logger
}

const neo4jPropPrefix = "p_"

var neo4jSchema = []string{
	`CREATE CONSTRAINT element_id IF NOT EXISTS FOR (n:Element) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT lock_name IF NOT EXISTS FOR (l:Lock) REQUIRE l.name IS UNIQUE`,
	`CREATE INDEX index_entry_lookup IF NOT EXISTS FOR (e:IndexEntry) ON (e.index, e.key, e.vtype, e.value)`,
	`CREATE INDEX index_entry_element IF NOT EXISTS FOR (e:IndexEntry) ON (e.element)`,
	`CREATE INDEX fulltext_entry_element IF NOT EXISTS FOR (e:FulltextEntry) ON (e.element)`,
}

// NewNeo4j connects to Neo4j and creates constraints and indexes.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig, log zerolog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	s := &Neo4jStore{driver: driver, database: database, log: log}

	session := driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})
	defer session.Close(ctx)
	for _, stmt := range neo4jSchema {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			_ = driver.Close(ctx)
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	log.Debug().Str("uri", cfg.URI).Str("database", database).Msg("neo4j store opened")
	return s, nil
}

// Backend implements Store.
func (s *Neo4jStore) Backend() string { return "neo4j" }

// Close closes the Neo4j connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Begin implements Store with an explicit write transaction.
func (s *Neo4jStore) Begin(ctx context.Context) (Tx, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, fmt.Errorf("beginning neo4j transaction: %w", err)
	}
	return &neo4jTx{session: session, tx: tx}, nil
}

type neo4jTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

func (t *neo4jTx) collect(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func (t *neo4jTx) single(ctx context.Context, query string, params map[string]any) (*neo4j.Record, error) {
	records, err := t.collect(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (t *neo4jTx) ids(ctx context.Context, query string, params map[string]any) ([]int64, error) {
	records, err := t.collect(ctx, query, params)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		id, _, err := neo4j.GetRecordValue[int64](rec, "id")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// nextID takes the next id from the counter node. The write lock on the
// counter serializes concurrent creators.
func (t *neo4jTx) nextID(ctx context.Context) (int64, error) {
	rec, err := t.single(ctx, `
		MERGE (c:Counter {name: 'element'})
		ON CREATE SET c.next = 1
		SET c.next = c.next + 1
		RETURN c.next - 1 AS id
	`, nil)
	if err != nil {
		return 0, fmt.Errorf("allocating id: %w", err)
	}
	id, _, err := neo4j.GetRecordValue[int64](rec, "id")
	return id, err
}

func (t *neo4jTx) CreateNode(ctx context.Context) (int64, error) {
	id, err := t.nextID(ctx)
	if err != nil {
		return 0, err
	}
	_, err = t.collect(ctx, `CREATE (n:Element {id: $id, kind: $kind})`,
		map[string]any{"id": id, "kind": int64(KindNode)})
	if err != nil {
		return 0, fmt.Errorf("creating node: %w", err)
	}
	return id, nil
}

func (t *neo4jTx) CreateNodeAt(ctx context.Context, id int64) error {
	_, err := t.collect(ctx, `
		MERGE (c:Counter {name: 'element'})
		ON CREATE SET c.next = $id + 1
		ON MATCH SET c.next = CASE WHEN c.next > $id THEN c.next ELSE $id + 1 END
		CREATE (n:Element {id: $id, kind: $kind})
	`, map[string]any{"id": id, "kind": int64(KindNode)})
	if err != nil {
		return fmt.Errorf("creating node %d: %w", id, err)
	}
	return nil
}

func (t *neo4jTx) CreateEdge(ctx context.Context, end1, end2 Endpoint) (int64, error) {
	for _, end := range []Endpoint{end1, end2} {
		kind, err := t.kindOf(ctx, end.ID)
		if err != nil {
			return 0, err
		}
		if kind != end.Kind {
			return 0, fmt.Errorf("endpoint %d is a %s, not a %s", end.ID, kind, end.Kind)
		}
	}

	id, err := t.nextID(ctx)
	if err != nil {
		return 0, err
	}
	query := `
		MATCH (p1:Element {id: $p1}), (p2:Element {id: $p2})
		CREATE (e:Element {id: $id, kind: $kind})
		CREATE (e)-[:END {position: 1, role: $role1}]->(p1)
		CREATE (e)-[:END {position: 2, role: $role2}]->(p2)
	`
	params := map[string]any{
		"id":    id,
		"kind":  int64(KindEdge),
		"p1":    end1.ID,
		"p2":    end2.ID,
		"role1": end1.Role,
		"role2": end2.Role,
	}
	if _, err := t.collect(ctx, query, params); err != nil {
		return 0, fmt.Errorf("creating edge: %w", err)
	}
	return id, nil
}

func (t *neo4jTx) kindOf(ctx context.Context, id int64) (Kind, error) {
	rec, err := t.single(ctx, `MATCH (n:Element {id: $id}) RETURN n.kind AS kind`, map[string]any{"id": id})
	if err != nil {
		return 0, fmt.Errorf("fetching element %d: %w", id, err)
	}
	if rec == nil {
		return 0, fmt.Errorf("element %d: %w", id, ErrNotFound)
	}
	kind, _, err := neo4j.GetRecordValue[int64](rec, "kind")
	if err != nil {
		return 0, err
	}
	return Kind(kind), nil
}

func (t *neo4jTx) Fetch(ctx context.Context, id int64) (*Element, error) {
	kind, err := t.kindOf(ctx, id)
	if err != nil {
		return nil, err
	}
	el := &Element{ID: id, Kind: kind}
	if kind != KindEdge {
		return el, nil
	}

	records, err := t.collect(ctx, `
		MATCH (:Element {id: $id})-[r:END]->(p:Element)
		RETURN r.position AS position, r.role AS role, p.id AS player, p.kind AS kind
		ORDER BY r.position
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("fetching endpoints of %d: %w", id, err)
	}
	if len(records) != 2 {
		return nil, fmt.Errorf("edge %d has %d endpoints: %w", id, len(records), ErrDangling)
	}
	for _, rec := range records {
		pos, _, err := neo4j.GetRecordValue[int64](rec, "position")
		if err != nil {
			return nil, err
		}
		if pos < 1 || pos > 2 {
			return nil, fmt.Errorf("edge %d has endpoint at position %d", id, pos)
		}
		role, _, err := neo4j.GetRecordValue[string](rec, "role")
		if err != nil {
			return nil, err
		}
		player, _, err := neo4j.GetRecordValue[int64](rec, "player")
		if err != nil {
			return nil, err
		}
		playerKind, _, err := neo4j.GetRecordValue[int64](rec, "kind")
		if err != nil {
			return nil, err
		}
		el.Ends[pos-1] = Endpoint{ID: player, Kind: Kind(playerKind), Role: role}
	}
	return el, nil
}

func (t *neo4jTx) Exists(ctx context.Context, id int64) (bool, error) {
	rec, err := t.single(ctx, `MATCH (n:Element {id: $id}) RETURN count(n) AS n`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	n, _, err := neo4j.GetRecordValue[int64](rec, "n")
	return n > 0, err
}

func (t *neo4jTx) Delete(ctx context.Context, id int64) error {
	rec, err := t.single(ctx, `
		MATCH (n:Element {id: $id})
		DETACH DELETE n
		RETURN count(*) AS n
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("deleting element %d: %w", id, err)
	}
	n, _, err := neo4j.GetRecordValue[int64](rec, "n")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("element %d: %w", id, ErrNotFound)
	}

	_, err = t.collect(ctx, `
		MATCH (e) WHERE (e:IndexEntry OR e:FulltextEntry) AND e.element = $id
		DELETE e
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("cleaning index entries of %d: %w", id, err)
	}
	return nil
}

func (t *neo4jTx) SetRole(ctx context.Context, edgeID int64, position int, role string) error {
	rec, err := t.single(ctx, `
		MATCH (:Element {id: $id})-[r:END {position: $position}]->()
		SET r.role = $role
		RETURN count(r) AS n
	`, map[string]any{"id": edgeID, "position": int64(position), "role": role})
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	n, _, err := neo4j.GetRecordValue[int64](rec, "n")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("endpoint %d/%d: %w", edgeID, position, ErrNotFound)
	}
	return nil
}

// Property keys are stored with a prefix so they never collide with the
// element's own id and kind. A null entry in a += map removes the property.
func (t *neo4jTx) SetProperty(ctx context.Context, id int64, key string, value any) error {
	v, err := Normalize(value)
	if err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	_, err = t.collect(ctx, `MATCH (n:Element {id: $id}) SET n += $props`,
		map[string]any{"id": id, "props": map[string]any{neo4jPropPrefix + key: v}})
	if err != nil {
		return fmt.Errorf("storing property %q of %d: %w", key, id, err)
	}
	return nil
}

func (t *neo4jTx) Property(ctx context.Context, id int64, key string) (any, bool, error) {
	rec, err := t.single(ctx, `MATCH (n:Element {id: $id}) RETURN n[$key] AS value`,
		map[string]any{"id": id, "key": neo4jPropPrefix + key})
	if err != nil {
		return nil, false, fmt.Errorf("fetching property %q of %d: %w", key, id, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	v, ok := rec.Get("value")
	if !ok || v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (t *neo4jTx) Properties(ctx context.Context, id int64) (map[string]any, error) {
	rec, err := t.single(ctx, `MATCH (n:Element {id: $id}) RETURN properties(n) AS props`,
		map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("fetching properties of %d: %w", id, err)
	}
	props := make(map[string]any)
	if rec == nil {
		return props, nil
	}
	raw, _, err := neo4j.GetRecordValue[map[string]any](rec, "props")
	if err != nil {
		return nil, err
	}
	for k, v := range raw {
		if key, ok := strings.CutPrefix(k, neo4jPropPrefix); ok {
			props[key] = v
		}
	}
	return props, nil
}

func (t *neo4jTx) RemoveProperty(ctx context.Context, id int64, key string) error {
	_, err := t.collect(ctx, `MATCH (n:Element {id: $id}) SET n += $props`,
		map[string]any{"id": id, "props": map[string]any{neo4jPropPrefix + key: nil}})
	return err
}

func (t *neo4jTx) IndexPut(ctx context.Context, index, key string, value any, id int64) error {
	typ, text, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, key, err)
	}
	_, err = t.collect(ctx, `
		MERGE (:IndexEntry {index: $index, key: $key, vtype: $vtype, value: $value, element: $id})
	`, map[string]any{"index": index, "key": key, "vtype": typ, "value": text, "id": id})
	if err != nil {
		return fmt.Errorf("indexing %s/%s: %w", index, key, err)
	}
	return nil
}

func (t *neo4jTx) IndexRemove(ctx context.Context, index, key string, id int64) error {
	_, err := t.collect(ctx, `
		MATCH (e:IndexEntry {index: $index, key: $key, element: $id})
		DELETE e
	`, map[string]any{"index": index, "key": key, "id": id})
	if err != nil {
		return fmt.Errorf("unindexing %s/%s: %w", index, key, err)
	}
	return nil
}

func (t *neo4jTx) IndexGet(ctx context.Context, index, key string, value any) ([]int64, error) {
	typ, text, err := encodeValue(value)
	if err != nil {
		return nil, fmt.Errorf("index %s/%s: %w", index, key, err)
	}
	ids, err := t.ids(ctx, `
		MATCH (e:IndexEntry {index: $index, key: $key, vtype: $vtype, value: $value})
		RETURN DISTINCT e.element AS id
		ORDER BY id
	`, map[string]any{"index": index, "key": key, "vtype": typ, "value": text})
	if err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", index, key, err)
	}
	return ids, nil
}

func (t *neo4jTx) FulltextPut(ctx context.Context, index, key, text string, id int64) error {
	_, err := t.collect(ctx, `
		CREATE (:FulltextEntry {index: $index, key: $key, element: $id, body: $body})
	`, map[string]any{"index": index, "key": key, "id": id, "body": text})
	if err != nil {
		return fmt.Errorf("fulltext indexing %s/%s: %w", index, key, err)
	}
	return nil
}

func (t *neo4jTx) FulltextRemove(ctx context.Context, index, key string, id int64) error {
	_, err := t.collect(ctx, `
		MATCH (e:FulltextEntry {index: $index, key: $key, element: $id})
		DELETE e
	`, map[string]any{"index": index, "key": key, "id": id})
	if err != nil {
		return fmt.Errorf("fulltext unindexing %s/%s: %w", index, key, err)
	}
	return nil
}

// FulltextQuery matches entries containing every term, case-insensitively.
func (t *neo4jTx) FulltextQuery(ctx context.Context, index, key, query string) ([]int64, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	ids, err := t.ids(ctx, `
		MATCH (e:FulltextEntry {index: $index, key: $key})
		WHERE all(term IN $terms WHERE toLower(e.body) CONTAINS term)
		RETURN DISTINCT e.element AS id
		ORDER BY id
	`, map[string]any{"index": index, "key": key, "terms": terms})
	if err != nil {
		return nil, fmt.Errorf("fulltext query %s/%s: %w", index, key, err)
	}
	return ids, nil
}

func (t *neo4jTx) Edges(ctx context.Context, id int64, filter AdjacencyFilter) ([]*Element, error) {
	query := `
		MATCH (e:Element)-[r:END]->(:Element {id: $id})
		MATCH (e)-[o:END]->(other:Element)
		WHERE o.position <> r.position
	`
	params := map[string]any{"id": id}
	if filter.Role != "" {
		query += " AND r.role = $role"
		params["role"] = filter.Role
	}
	if filter.OthersKind != 0 {
		query += " AND other.kind = $kind"
		params["kind"] = int64(filter.OthersKind)
	}
	query += " RETURN DISTINCT e.id AS id ORDER BY id"

	ids, err := t.ids(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("enumerating edges of %d: %w", id, err)
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

// Lock writes to the named lock node; Neo4j keeps the write lock until the
// transaction ends. The unique constraint makes concurrent MERGEs of a new
// lock node wait for each other instead of creating two.
func (t *neo4jTx) Lock(ctx context.Context, name string) error {
	_, err := t.collect(ctx, `
		MERGE (l:Lock {name: $name})
		SET l.taken = timestamp()
	`, map[string]any{"name": name})
	if err != nil {
		return fmt.Errorf("taking lock %s: %w", name, err)
	}
	return nil
}

func (t *neo4jTx) Commit(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.tx.Commit(ctx)
}

func (t *neo4jTx) Rollback(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.tx.Rollback(ctx)
}

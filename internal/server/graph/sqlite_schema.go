package graph

// SQLite schema DDL constants

const schemaElements = `
CREATE TABLE IF NOT EXISTS elements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind INTEGER NOT NULL
)`

// Two rows per edge, one per player position.
const schemaEndpoints = `
CREATE TABLE IF NOT EXISTS endpoints (
    edge_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    player_id INTEGER NOT NULL,
    player_kind INTEGER NOT NULL,
    role TEXT NOT NULL,
    PRIMARY KEY (edge_id, position)
)`

const schemaProperties = `
CREATE TABLE IF NOT EXISTS properties (
    element_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    value_type TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (element_id, key)
)`

const schemaExactIndex = `
CREATE TABLE IF NOT EXISTS exact_index (
    index_name TEXT NOT NULL,
    key TEXT NOT NULL,
    value_type TEXT NOT NULL,
    value TEXT NOT NULL,
    element_id INTEGER NOT NULL,
    UNIQUE(index_name, key, value_type, value, element_id)
)`

// FTS5 virtual table for full-text search
const schemaFulltext = `
CREATE VIRTUAL TABLE IF NOT EXISTS fulltext_index USING fts5(
    index_name UNINDEXED,
    key UNINDEXED,
    element_id UNINDEXED,
    body
)`

// Index definitions
const indexEndpointsPlayer = `CREATE INDEX IF NOT EXISTS idx_endpoints_player ON endpoints(player_id)`
const indexExactLookup = `CREATE INDEX IF NOT EXISTS idx_exact_lookup ON exact_index(index_name, key, value_type, value)`
const indexExactElement = `CREATE INDEX IF NOT EXISTS idx_exact_element ON exact_index(element_id)`

// SQLite pragmas
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`
const pragmaWAL = `PRAGMA journal_mode=WAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaElements,
		schemaEndpoints,
		schemaProperties,
		schemaExactIndex,
		schemaFulltext,
		indexEndpointsPlayer,
		indexExactLookup,
		indexExactElement,
	}
}

// allPragmas returns all pragma statements. WAL is skipped for in-memory
// databases, which do not support it.
func allPragmas(inMemory bool) []string {
	pragmas := []string{pragmaFK, pragmaBusyTimeout, pragmaSynchronous}
	if !inMemory {
		pragmas = append(pragmas, pragmaWAL)
	}
	return pragmas
}

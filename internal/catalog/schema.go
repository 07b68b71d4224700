// Package catalog persists relation and partitioning metadata in catalog.db.
package catalog

// The catalog is a SQLite database serving as the source of truth for all
// relation metadata: the relations themselves, their column layouts, the
// partitioning configuration of parent tables and the parent/bound record
// of every partition.

// CreateRelationsTableSQL creates the table of known relations.
const CreateRelationsTableSQL = `
CREATE TABLE IF NOT EXISTS relations (
    relid INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
)`

// CreateColumnsTableSQL creates the per-relation column layout table.
// Positions are 1-based and unique within a relation.
const CreateColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS columns (
    relid INTEGER NOT NULL,
    pos INTEGER NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    not_null INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (relid, pos),
    FOREIGN KEY (relid) REFERENCES relations(relid) ON DELETE CASCADE
)`

// CreatePartitionedTablesTableSQL creates the partitioning configuration
// table. One row per partitioned parent: the strategy, the source text of
// the partitioning expression and its compiled form (snappy-compressed
// JSON, refreshed lazily when absent or stale).
const CreatePartitionedTablesTableSQL = `
CREATE TABLE IF NOT EXISTS partitioned_tables (
    relid INTEGER PRIMARY KEY,
    parttype INTEGER NOT NULL,
    expr TEXT NOT NULL,
    cooked_expr BLOB,
    enable_parent INTEGER NOT NULL DEFAULT 0,
    collation TEXT NOT NULL DEFAULT '',
    type_modifier INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (relid) REFERENCES relations(relid) ON DELETE CASCADE
)`

// CreatePartitionsTableSQL creates the partition membership table. Range
// bounds are stored as JSON bound specs; hash partitions carry their slot
// index instead. A pending partition is mid-attach and not yet usable.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS partitions (
    relid INTEGER PRIMARY KEY,
    parent_relid INTEGER NOT NULL,
    range_min TEXT,
    range_max TEXT,
    hash_index INTEGER,
    pending INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (relid) REFERENCES relations(relid) ON DELETE CASCADE,
    FOREIGN KEY (parent_relid) REFERENCES partitioned_tables(relid) ON DELETE CASCADE
)`

// CreatePartitionsIndexesSQL creates indexes for parent-side enumeration.
var CreatePartitionsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_partitions_parent ON partitions(parent_relid)`,

	// Hash slot lookups within one parent
	`CREATE INDEX IF NOT EXISTS idx_partitions_hash ON partitions(parent_relid, hash_index)
		WHERE hash_index IS NOT NULL`,
}

// AnalyzeSQL keeps the SQLite query planner informed about index statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRelationsTableSQL,
		CreateColumnsTableSQL,
		CreatePartitionedTablesTableSQL,
		CreatePartitionsTableSQL,
	}
	statements = append(statements, CreatePartitionsIndexesSQL...)
	return statements
}

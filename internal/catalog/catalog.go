package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/internal/expr"
	"github.com/relmeta/relmeta/pkg/types"
)

// Notifier receives catalog-change notifications for relations touched by
// DDL. The transaction manager implements it.
type Notifier interface {
	NotifyRelation(relid types.RelationID)
}

// PartitioningConfig is the stored partitioning setup of one parent table.
type PartitioningConfig struct {
	Relid        types.RelationID
	Kind         types.PartitionKind
	Expr         string
	CookedExpr   []byte // decompressed; nil when never cooked
	EnableParent bool
	Collation    types.Collation
	TypeModifier int32
}

// ChildRecord is one partition row under a parent. Range bounds stay in
// their stored spec form; the caller decodes them once it knows the
// parent's expression type.
type ChildRecord struct {
	Relid        types.RelationID
	RangeMinSpec *string
	RangeMaxSpec *string
	HashIndex    *int
	Pending      bool
}

// ParentRecord is the parent-side answer for one partition.
type ParentRecord struct {
	Parent  types.RelationID
	Pending bool
}

// Catalog is the metadata store consulted by the descriptor cache.
type Catalog interface {
	expr.SchemaResolver

	// RelationExists reports whether the relation is present at all.
	RelationExists(ctx context.Context, relid types.RelationID) (bool, error)

	// PartitioningConfig returns the partitioning setup of a parent, or a
	// NOT_FOUND error if the relation is not partitioned.
	PartitioningConfig(ctx context.Context, relid types.RelationID) (*PartitioningConfig, error)

	// Children lists the partition rows under a parent.
	Children(ctx context.Context, parent types.RelationID) ([]ChildRecord, error)

	// ParentOf returns the parent of a partition, or a NOT_FOUND error if
	// the relation is not registered as anyone's partition.
	ParentOf(ctx context.Context, child types.RelationID) (ParentRecord, error)

	// StoreCookedExpr persists the compiled partitioning expression so
	// later descriptor builds skip re-parsing.
	StoreCookedExpr(ctx context.Context, relid types.RelationID, cooked []byte) error

	// Close closes the catalog database connections.
	Close() error
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db       *sql.DB // Write connection (single writer)
	readDB   *sql.DB // Read connection pool (concurrent readers)
	dbPath   string
	mu       sync.Mutex // Write-only lock (reads don't need this)
	notifier Notifier
	log      zerolog.Logger

	insertRelationStmt  *sql.Stmt
	insertColumnStmt    *sql.Stmt
	attachPartitionStmt *sql.Stmt
}

type nopNotifier struct{}

func (nopNotifier) NotifyRelation(types.RelationID) {}

// NewCatalog opens (creating if needed) the catalog database.
func NewCatalog(dbPath string, notifier Notifier, log zerolog.Logger) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	if notifier == nil {
		notifier = nopNotifier{}
	}

	catalog := &SQLiteCatalog{
		db:       db,
		readDB:   readDB,
		dbPath:   dbPath,
		notifier: notifier,
		log:      log,
	}

	if err := catalog.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	if err := catalog.prepareStatements(); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}

	return catalog, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (c *SQLiteCatalog) prepareStatements() error {
	var err error
	c.insertRelationStmt, err = c.db.Prepare(
		`INSERT INTO relations (relid, name, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: failed to prepare relation insert: %w", err)
	}
	c.insertColumnStmt, err = c.db.Prepare(
		`INSERT INTO columns (relid, pos, name, type, not_null) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: failed to prepare column insert: %w", err)
	}
	c.attachPartitionStmt, err = c.db.Prepare(
		`INSERT INTO partitions (relid, parent_relid, range_min, range_max, hash_index, pending)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: failed to prepare partition insert: %w", err)
	}
	return nil
}

// CreateRelation registers a relation and its column layout.
func (c *SQLiteCatalog) CreateRelation(ctx context.Context, relid types.RelationID, name string, columns []expr.Column) error {
	if !relid.Valid() {
		return errors.NewValidationError(errors.CodeInvalidState, "invalid relation id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, c.insertRelationStmt).ExecContext(ctx,
		relid, name, time.Now().Unix()); err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to insert relation", err)
	}
	for _, col := range columns {
		if _, err := tx.StmtContext(ctx, c.insertColumnStmt).ExecContext(ctx,
			relid, col.Pos, col.Name, col.Type.String(), col.NotNull); err != nil {
			return errors.NewCatalogError(errors.CodeCatalogIO, "failed to insert column", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to commit relation", err)
	}

	c.notifier.NotifyRelation(relid)
	return nil
}

// DropRelation removes a relation. Its columns, partitioning config and
// partition membership rows cascade away. Descendant partition rows under a
// dropped parent are removed explicitly since they reference the config
// table, and their relations are notified so cached descriptors refresh.
func (c *SQLiteCatalog) DropRelation(ctx context.Context, relid types.RelationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Collect everyone affected before the rows disappear.
	touched := []types.RelationID{relid}
	if parent, pending, err := c.parentRow(ctx, c.db, relid); err == nil && !pending {
		touched = append(touched, parent)
	} else if err != nil && !errors.IsNotFound(err) {
		return err
	}
	children, err := c.childRows(ctx, c.db, relid)
	if err != nil {
		return err
	}
	for _, ch := range children {
		touched = append(touched, ch.Relid)
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM relations WHERE relid = ?`, relid); err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to drop relation", err)
	}

	for _, id := range touched {
		c.notifier.NotifyRelation(id)
	}
	return nil
}

// ConfigurePartitioning marks a relation as partitioned.
func (c *SQLiteCatalog) ConfigurePartitioning(ctx context.Context, relid types.RelationID, kind types.PartitionKind, source string, enableParent bool, collation types.Collation, modifier int32) error {
	if kind != types.KindHash && kind != types.KindRange {
		return errors.NewValidationError(errors.CodeUnknownPartitioningKind,
			fmt.Sprintf("cannot partition by %s", kind))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO partitioned_tables (relid, parttype, expr, enable_parent, collation, type_modifier)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(relid) DO UPDATE SET
		     parttype = excluded.parttype,
		     expr = excluded.expr,
		     cooked_expr = NULL,
		     enable_parent = excluded.enable_parent,
		     collation = excluded.collation,
		     type_modifier = excluded.type_modifier`,
		relid, int(kind), source, enableParent, string(collation), modifier)
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to configure partitioning", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewCatalogError(errors.CodeCatalogIO, "partitioning config not stored", nil)
	}

	c.notifier.NotifyRelation(relid)
	return nil
}

// SetEnableParent flips whether the parent itself absorbs rows that fit no
// partition.
func (c *SQLiteCatalog) SetEnableParent(ctx context.Context, relid types.RelationID, enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE partitioned_tables SET enable_parent = ? WHERE relid = ?`, enable, relid)
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to update enable_parent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError(fmt.Sprintf("relation %s is not partitioned", relid))
	}

	c.notifier.NotifyRelation(relid)
	return nil
}

// RemovePartitioning drops the partitioning config of a parent. Partition
// membership rows cascade away; former partitions are notified.
func (c *SQLiteCatalog) RemovePartitioning(ctx context.Context, relid types.RelationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	children, err := c.childRows(ctx, c.db, relid)
	if err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM partitioned_tables WHERE relid = ?`, relid)
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to remove partitioning", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError(fmt.Sprintf("relation %s is not partitioned", relid))
	}

	c.notifier.NotifyRelation(relid)
	for _, ch := range children {
		c.notifier.NotifyRelation(ch.Relid)
	}
	return nil
}

// AttachRangePartition records a child covering [min, max) under a
// range-partitioned parent. valueType selects the bound encoding and must
// match the parent's expression type.
func (c *SQLiteCatalog) AttachRangePartition(ctx context.Context, parent, child types.RelationID, min, max types.Bound, valueType types.TypeID, pending bool) error {
	minSpec, err := EncodeBound(min, valueType)
	if err != nil {
		return err
	}
	maxSpec, err := EncodeBound(max, valueType)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireKind(ctx, parent, types.KindRange); err != nil {
		return err
	}
	if _, err := c.attachPartitionStmt.ExecContext(ctx,
		child, parent, minSpec, maxSpec, nil, pending); err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to attach range partition", err)
	}

	c.notifier.NotifyRelation(parent)
	c.notifier.NotifyRelation(child)
	return nil
}

// AttachHashPartition records a child owning one hash slot under a
// hash-partitioned parent.
func (c *SQLiteCatalog) AttachHashPartition(ctx context.Context, parent, child types.RelationID, hashIndex int, pending bool) error {
	if hashIndex < 0 {
		return errors.NewValidationError(errors.CodeInvalidState, "hash index must be non-negative")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireKind(ctx, parent, types.KindHash); err != nil {
		return err
	}
	if _, err := c.attachPartitionStmt.ExecContext(ctx,
		child, parent, nil, nil, hashIndex, pending); err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to attach hash partition", err)
	}

	c.notifier.NotifyRelation(parent)
	c.notifier.NotifyRelation(child)
	return nil
}

// SetPartitionPending flips the mid-attach flag of a partition.
func (c *SQLiteCatalog) SetPartitionPending(ctx context.Context, child types.RelationID, pending bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var parent types.RelationID
	err := c.db.QueryRowContext(ctx,
		`UPDATE partitions SET pending = ? WHERE relid = ? RETURNING parent_relid`,
		pending, child).Scan(&parent)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError(fmt.Sprintf("relation %s is not a partition", child))
	}
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to update pending flag", err)
	}

	c.notifier.NotifyRelation(parent)
	c.notifier.NotifyRelation(child)
	return nil
}

// DetachPartition removes a child's membership row. The relation itself
// survives as a standalone table.
func (c *SQLiteCatalog) DetachPartition(ctx context.Context, child types.RelationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var parent types.RelationID
	err := c.db.QueryRowContext(ctx,
		`DELETE FROM partitions WHERE relid = ? RETURNING parent_relid`, child).Scan(&parent)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError(fmt.Sprintf("relation %s is not a partition", child))
	}
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to detach partition", err)
	}

	c.notifier.NotifyRelation(parent)
	c.notifier.NotifyRelation(child)
	return nil
}

// StoreCookedExpr caches the compiled partitioning expression. The blob is
// snappy-compressed at rest.
func (c *SQLiteCatalog) StoreCookedExpr(ctx context.Context, relid types.RelationID, cooked []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE partitioned_tables SET cooked_expr = ? WHERE relid = ?`,
		snappy.Encode(nil, cooked), relid)
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to store cooked expression", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError(fmt.Sprintf("relation %s is not partitioned", relid))
	}
	return nil
}

// RelationExists reports whether the relation row is present.
func (c *SQLiteCatalog) RelationExists(ctx context.Context, relid types.RelationID) (bool, error) {
	var one int
	err := c.readDB.QueryRowContext(ctx,
		`SELECT 1 FROM relations WHERE relid = ?`, relid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewCatalogError(errors.CodeCatalogIO, "failed to check relation", err)
	}
	return true, nil
}

// ColumnsOf returns the column layout of a relation in position order.
func (c *SQLiteCatalog) ColumnsOf(ctx context.Context, relid types.RelationID) ([]expr.Column, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT pos, name, type, not_null FROM columns WHERE relid = ? ORDER BY pos`, relid)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogIO, "failed to read columns", err)
	}
	defer rows.Close()

	var columns []expr.Column
	for rows.Next() {
		var col expr.Column
		var typeName string
		if err := rows.Scan(&col.Pos, &col.Name, &typeName, &col.NotNull); err != nil {
			return nil, errors.NewCatalogError(errors.CodeCatalogIO, "failed to scan column", err)
		}
		col.Type, err = types.ParseTypeID(typeName)
		if err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnknownType, "bad column type in catalog", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogIO, "failed to read columns", err)
	}
	if len(columns) == 0 {
		return nil, errors.NewCatalogError(errors.CodeRelationGone,
			fmt.Sprintf("relation %s has no columns", relid), nil)
	}
	return columns, nil
}

// PartitioningConfig returns the partitioning setup of a parent.
func (c *SQLiteCatalog) PartitioningConfig(ctx context.Context, relid types.RelationID) (*PartitioningConfig, error) {
	cfg := &PartitioningConfig{Relid: relid}
	var parttype int
	var cookedRaw []byte
	var collation string
	err := c.readDB.QueryRowContext(ctx,
		`SELECT parttype, expr, cooked_expr, enable_parent, collation, type_modifier
		 FROM partitioned_tables WHERE relid = ?`, relid).
		Scan(&parttype, &cfg.Expr, &cookedRaw, &cfg.EnableParent, &collation, &cfg.TypeModifier)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(fmt.Sprintf("relation %s is not partitioned", relid))
	}
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogIO, "failed to read partitioning config", err)
	}

	cfg.Kind, err = types.ParsePartitionKind(parttype)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeUnknownPartitioningKind, err.Error())
	}
	cfg.Collation = types.Collation(collation)
	if len(cookedRaw) > 0 {
		cfg.CookedExpr, err = snappy.Decode(nil, cookedRaw)
		if err != nil {
			// Treat a corrupt cached blob as absent; the builder re-cooks
			// from source text.
			c.log.Warn().Uint32("relid", uint32(relid)).Err(err).
				Msg("discarding undecodable cooked expression")
			cfg.CookedExpr = nil
		}
	}
	return cfg, nil
}

// Children lists the partition rows under a parent.
func (c *SQLiteCatalog) Children(ctx context.Context, parent types.RelationID) ([]ChildRecord, error) {
	return c.childRows(ctx, c.readDB, parent)
}

// ParentOf returns the parent of a partition.
func (c *SQLiteCatalog) ParentOf(ctx context.Context, child types.RelationID) (ParentRecord, error) {
	parent, pending, err := c.parentRow(ctx, c.readDB, child)
	if err != nil {
		return ParentRecord{}, err
	}
	return ParentRecord{Parent: parent, Pending: pending}, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range []*sql.Stmt{c.insertRelationStmt, c.insertColumnStmt, c.attachPartitionStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return fmt.Errorf("catalog: failed to close read database: %w", err)
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: failed to close database: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) requireKind(ctx context.Context, parent types.RelationID, want types.PartitionKind) error {
	var parttype int
	err := c.db.QueryRowContext(ctx,
		`SELECT parttype FROM partitioned_tables WHERE relid = ?`, parent).Scan(&parttype)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError(fmt.Sprintf("relation %s is not partitioned", parent))
	}
	if err != nil {
		return errors.NewCatalogError(errors.CodeCatalogIO, "failed to read partitioning config", err)
	}
	kind, err := types.ParsePartitionKind(parttype)
	if err != nil {
		return errors.NewValidationError(errors.CodeUnknownPartitioningKind, err.Error())
	}
	if kind != want {
		return errors.NewValidationError(errors.CodeInconsistentPartitioning,
			fmt.Sprintf("relation %s is partitioned by %s, not %s", parent, kind, want))
	}
	return nil
}

func (c *SQLiteCatalog) childRows(ctx context.Context, db *sql.DB, parent types.RelationID) ([]ChildRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT relid, range_min, range_max, hash_index, pending
		 FROM partitions WHERE parent_relid = ? ORDER BY relid`, parent)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogIO, "failed to read partitions", err)
	}
	defer rows.Close()

	var children []ChildRecord
	for rows.Next() {
		var ch ChildRecord
		if err := rows.Scan(&ch.Relid, &ch.RangeMinSpec, &ch.RangeMaxSpec, &ch.HashIndex, &ch.Pending); err != nil {
			return nil, errors.NewCatalogError(errors.CodeCatalogIO, "failed to scan partition", err)
		}
		children = append(children, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeCatalogIO, "failed to read partitions", err)
	}
	return children, nil
}

func (c *SQLiteCatalog) parentRow(ctx context.Context, db *sql.DB, child types.RelationID) (types.RelationID, bool, error) {
	var parent types.RelationID
	var pending bool
	err := db.QueryRowContext(ctx,
		`SELECT parent_relid, pending FROM partitions WHERE relid = ?`, child).
		Scan(&parent, &pending)
	if err == sql.ErrNoRows {
		return types.InvalidRelation, false, errors.NewNotFoundError(
			fmt.Sprintf("relation %s is not a partition", child))
	}
	if err != nil {
		return types.InvalidRelation, false, errors.NewCatalogError(errors.CodeCatalogIO, "failed to read parent", err)
	}
	return parent, pending, nil
}

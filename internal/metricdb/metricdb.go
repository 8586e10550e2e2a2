// Package metricdb wraps a sqlite table store with a lazily migrated schema.
//
// Every store is a pair of files: <name>.db holding the data and <name>.yaml
// describing the tables it should contain. On open, missing tables are
// created and missing columns are appended; existing columns and data are
// never dropped or rewritten. Malformed queries are returned as errors and
// are treated as fatal by callers, since they indicate a logic or schema
// bug rather than a transient condition.
package metricdb

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

// idColumn is the conventional primary key column name.
const idColumn = "id"

// Row is a single result row, keyed by column name.
type Row map[string]any

// DB is a schema-evolving store backed by a single sqlite file.
type DB struct {
	sql    *sql.DB
	schema *Schema
	name   string
	logger *slog.Logger
}

// Open opens or creates the store <name>.db under dir, loading the parallel
// <name>.yaml schema descriptor and migrating the tables to match it.
func Open(dir, name string) (*DB, error) {
	schema, err := LoadSchema(filepath.Join(dir, name+".yaml"))
	if err != nil {
		return nil, err
	}

	return OpenWithSchema(filepath.Join(dir, name+".db"), name, schema)
}

// OpenWithSchema opens the store at path with an already loaded schema.
func OpenWithSchema(path, name string, schema *Schema) (*DB, error) {
	rawDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}

	// Single-process, single-writer store. One pooled connection keeps
	// BEGIN/COMMIT pairs on the same sqlite handle.
	rawDB.SetMaxOpenConns(1)

	db := &DB{
		sql:    rawDB,
		schema: schema,
		name:   name,
		logger: slog.Default().With("store", name),
	}

	migrateErr := db.migrate()
	if migrateErr != nil {
		rawDB.Close()

		return nil, migrateErr
	}

	return db, nil
}

// Name returns the store name.
func (db *DB) Name() string {
	return db.name
}

// Schema returns the loaded schema descriptor.
func (db *DB) Schema() *Schema {
	return db.schema
}

// Query runs an arbitrary read query and returns all rows as mappings.
func (db *DB) Query(query string, args ...any) ([]Row, error) {
	rows, err := db.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	var results []Row

	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))

		for i := range values {
			targets[i] = &values[i]
		}

		scanErr := rows.Scan(targets...)
		if scanErr != nil {
			return nil, fmt.Errorf("scan row: %w", scanErr)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}

		results = append(results, row)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate rows: %w", rowsErr)
	}

	return results, nil
}

// Execute runs an arbitrary write or DDL statement.
func (db *DB) Execute(command string, args ...any) error {
	_, err := db.sql.Exec(command, args...)
	if err != nil {
		return fmt.Errorf("execute %q: %w", command, err)
	}

	return nil
}

// Lookup runs a single-field SELECT and returns the first value, or nil
// when there are no matching rows.
func (db *DB) Lookup(field, table, clause string) (any, error) {
	values, err := db.LookupAll(field, table, clause+" LIMIT 1")
	if err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return nil, nil
	}

	return values[0], nil
}

// LookupAll runs a single-field SELECT and returns the column values.
func (db *DB) LookupAll(field, table, clause string) ([]any, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s %s", field, table, clause))
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(rows))
	for _, row := range rows {
		// A computed field like count(*) keeps the expression as its column name.
		values = append(values, row[field])
	}

	return values, nil
}

// LookupInts is LookupAll narrowed to integer values; nil values are skipped.
func (db *DB) LookupInts(field, table, clause string) ([]int64, error) {
	values, err := db.LookupAll(field, table, clause)
	if err != nil {
		return nil, err
	}

	ints := make([]int64, 0, len(values))

	for _, v := range values {
		n, ok := asInt64(v)
		if ok {
			ints = append(ints, n)
		}
	}

	return ints, nil
}

// Count returns the number of rows matching the clause.
func (db *DB) Count(table, clause string) (int, error) {
	value, err := db.Lookup("count(*)", table, clause)
	if err != nil {
		return 0, err
	}

	n, ok := asInt64(value)
	if !ok {
		return 0, fmt.Errorf("count %s: unexpected value %v", table, value)
	}

	return int(n), nil
}

// DictLookup returns a mapping of keyField to valueField over the query.
func (db *DB) DictLookup(keyField, valueField, table, clause string) (map[any]any, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT %s, %s FROM %s %s", keyField, valueField, table, clause))
	if err != nil {
		return nil, err
	}

	result := make(map[any]any, len(rows))
	for _, row := range rows {
		result[row[keyField]] = row[valueField]
	}

	return result, nil
}

// UniqueCounts maps each distinct value of identField to its row count.
func (db *DB) UniqueCounts(table, identField string) (map[any]any, error) {
	return db.DictLookup(identField, "count(*)", table, "GROUP BY "+identField)
}

// Insert appends a new row. The caller supplies every needed column,
// including the primary key when the table has one.
func (db *DB) Insert(table string, row Row) error {
	keys := sortedKeys(row)

	placeholders := make([]string, len(keys))
	values := make([]any, len(keys))

	for i, k := range keys {
		placeholders[i] = "?"
		values[i] = row[k]
	}

	command := fmt.Sprintf("INSERT INTO %s (%s) VALUES(%s)",
		table, strings.Join(keys, ", "), strings.Join(placeholders, ", "))

	return db.Execute(command, values...)
}

// Update upserts a row matched by the given key columns (default "id").
// When a match exists, only the columns present in row are overwritten;
// absent columns keep their stored values. When no row matches, the row
// is inserted as-is.
func (db *DB) Update(table string, row Row, keyColumns ...string) error {
	if len(keyColumns) == 0 {
		keyColumns = []string{idColumn}
	}

	clauses := make([]string, len(keyColumns))
	keyValues := make([]any, len(keyColumns))

	for i, key := range keyColumns {
		clauses[i] = key + "=?"
		keyValues[i] = row[key]
	}

	where := "WHERE " + strings.Join(clauses, " AND ")

	matches, err := db.countWhere(table, where, keyValues)
	if err != nil {
		return err
	}

	if matches == 0 {
		return db.Insert(table, row)
	}

	assignments := make([]string, 0, len(row))
	values := make([]any, 0, len(row)+len(keyValues))

	for _, k := range sortedKeys(row) {
		if contains(keyColumns, k) {
			continue
		}

		assignments = append(assignments, k+"=?")
		values = append(values, row[k])
	}

	if len(assignments) == 0 {
		return nil
	}

	values = append(values, keyValues...)
	command := fmt.Sprintf("UPDATE %s SET %s %s", table, strings.Join(assignments, ", "), where)

	return db.Execute(command, values...)
}

// GetOrCreateID returns the id of the row matching all of match, inserting
// a new row with the smallest free non-negative id when none exists.
func (db *DB) GetOrCreateID(table string, match Row) (int64, error) {
	keys := sortedKeys(match)

	clauses := make([]string, len(keys))
	values := make([]any, len(keys))

	for i, k := range keys {
		clauses[i] = k + "=?"
		values[i] = match[k]
	}

	rows, err := db.Query(
		fmt.Sprintf("SELECT id FROM %s WHERE %s LIMIT 1", table, strings.Join(clauses, " AND ")),
		values...,
	)
	if err != nil {
		return 0, err
	}

	if len(rows) > 0 {
		id, ok := asInt64(rows[0][idColumn])
		if !ok {
			return 0, fmt.Errorf("get id from %s: unexpected value %v", table, rows[0][idColumn])
		}

		return id, nil
	}

	id, err := db.NextID(table)
	if err != nil {
		return 0, err
	}

	inserted := make(Row, len(match)+1)
	for k, v := range match {
		inserted[k] = v
	}

	inserted[idColumn] = id

	insertErr := db.Insert(table, inserted)
	if insertErr != nil {
		return 0, insertErr
	}

	return id, nil
}

// NextID returns the smallest non-negative id not already used in the table.
func (db *DB) NextID(table string) (int64, error) {
	used, err := db.LookupInts(idColumn, table, "")
	if err != nil {
		return 0, err
	}

	inUse := make(map[int64]bool, len(used))
	for _, id := range used {
		inUse[id] = true
	}

	var next int64
	for inUse[next] {
		next++
	}

	return next, nil
}

// RenameColumn renames a column by rebuilding the table. This is the one
// schema operation that is never applied automatically.
func (db *DB) RenameColumn(table, oldColumn, newColumn string) error {
	columns, ok := db.schema.Tables[table]
	if !ok {
		return fmt.Errorf("rename column: unknown table %s", table)
	}

	oldFields := strings.Join(columns, ", ")

	renamed := make([]string, len(columns))
	for i, col := range columns {
		if col == oldColumn {
			renamed[i] = newColumn
		} else {
			renamed[i] = col
		}
	}

	db.schema.Tables[table] = renamed
	newFields := strings.Join(renamed, ", ")

	steps := []string{
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s_x", table, table),
		db.createTableStatement(table),
		fmt.Sprintf("INSERT INTO %s(%s) SELECT %s FROM %s_x", table, newFields, oldFields, table),
		fmt.Sprintf("DROP TABLE %s_x", table),
	}

	for _, step := range steps {
		err := db.Execute(step)
		if err != nil {
			return err
		}
	}

	return nil
}

// Reset drops and recreates the given tables, or every declared table when
// none are named.
func (db *DB) Reset(tables ...string) error {
	if len(tables) == 0 {
		tables = db.schema.TableNames()
	}

	for _, table := range tables {
		err := db.Execute("DROP TABLE IF EXISTS " + table)
		if err != nil {
			return err
		}
	}

	return db.migrate()
}

// Close releases the underlying handle. Writes are committed per statement.
func (db *DB) Close() error {
	err := db.sql.Close()
	if err != nil {
		return fmt.Errorf("close store %s: %w", db.name, err)
	}

	return nil
}

// TableSizes returns the row count of every declared table, sorted by name.
// Used for the end-of-run sanity summary.
func (db *DB) TableSizes() ([]TableSize, error) {
	names := db.schema.TableNames()
	sort.Strings(names)

	sizes := make([]TableSize, 0, len(names))

	for _, name := range names {
		count, err := db.Count(name, "")
		if err != nil {
			return nil, err
		}

		sizes = append(sizes, TableSize{Table: name, Rows: count})
	}

	return sizes, nil
}

// TableSize is a table name with its current row count.
type TableSize struct {
	Table string
	Rows  int
}

// Transaction runs fn inside a sqlite transaction. An error from fn rolls
// every write in the batch back, so interrupted multi-row units (a
// commit's metadata plus its change set) never land partially.
func (db *DB) Transaction(fn func() error) error {
	err := db.Execute("BEGIN")
	if err != nil {
		return err
	}

	fnErr := fn()
	if fnErr != nil {
		rollbackErr := db.Execute("ROLLBACK")
		if rollbackErr != nil {
			return fmt.Errorf("rollback after %v: %w", fnErr, rollbackErr)
		}

		return fnErr
	}

	return db.Execute("COMMIT")
}

// migrate creates missing tables and appends missing columns.
func (db *DB) migrate() error {
	for table := range db.schema.Tables {
		exists, err := db.tableExists(table)
		if err != nil {
			return err
		}

		if !exists {
			createErr := db.Execute(db.createTableStatement(table))
			if createErr != nil {
				return createErr
			}

			continue
		}

		updateErr := db.appendMissingColumns(table)
		if updateErr != nil {
			return updateErr
		}
	}

	return nil
}

// tableExists reports whether the table is present in the database file.
func (db *DB) tableExists(table string) (bool, error) {
	count, err := db.Count("sqlite_master", fmt.Sprintf("WHERE type='table' AND name='%s'", table))
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// createTableStatement builds the CREATE TABLE statement for a declared table.
func (db *DB) createTableStatement(table string) string {
	columns := db.schema.Tables[table]
	defs := make([]string, 0, len(columns))

	for _, col := range columns {
		def := col + " " + db.schema.ColumnType(col)
		if col == idColumn {
			def += " PRIMARY KEY"
		}

		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
}

// appendMissingColumns adds declared columns the live table lacks.
// Added columns are nullable and never backfilled.
func (db *DB) appendMissingColumns(table string) error {
	existing, err := db.tableColumns(table)
	if err != nil {
		return err
	}

	for _, col := range db.schema.Tables[table] {
		if existing[col] {
			continue
		}

		db.logger.Info("adding column", "table", table, "column", col)

		alterErr := db.Execute(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col, db.schema.ColumnType(col)))
		if alterErr != nil {
			return alterErr
		}
	}

	return nil
}

// tableColumns returns the set of columns the live table actually has.
func (db *DB) tableColumns(table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return nil, err
	}

	columns := make(map[string]bool, len(rows))

	for _, row := range rows {
		name, ok := row["name"].(string)
		if ok {
			columns[name] = true
		}
	}

	return columns, nil
}

// countWhere counts rows with a parameterized clause.
func (db *DB) countWhere(table, where string, args []any) (int, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT count(*) AS n FROM %s %s", table, where), args...)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	n, ok := asInt64(rows[0]["n"])
	if !ok {
		return 0, fmt.Errorf("count %s: unexpected value %v", table, rows[0]["n"])
	}

	return int(n), nil
}

// normalizeValue converts driver byte slices to strings for mapping rows.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}

// asInt64 coerces the numeric types the sqlite driver produces.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// sortedKeys returns the row's column names in deterministic order.
func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// contains reports whether list includes value.
func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}

	return false
}

package metricdb_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/rosmetrics/internal/metricdb"
)

const storeSchema = `
tables:
  items: [id, name, weight]
special_types:
  id: integer
  weight: integer
`

func openStore(t *testing.T, dir string) *metricdb.DB {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(storeSchema), 0o644))

	db, err := metricdb.Open(dir, "test")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestInsertAndQuery(t *testing.T) {
	db := openStore(t, t.TempDir())

	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt", "weight": 5}))
	require.NoError(t, db.Insert("items", metricdb.Row{"id": 1, "name": "nut", "weight": 2}))

	rows, err := db.Query("SELECT name, weight FROM items ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "bolt", rows[0]["name"])
	assert.Equal(t, int64(5), rows[0]["weight"])
}

func TestUpdateUpsertsAndKeepsAbsentColumns(t *testing.T) {
	db := openStore(t, t.TempDir())

	// No match inserts the row as-is.
	require.NoError(t, db.Update("items", metricdb.Row{"id": 0, "name": "bolt", "weight": 5}))

	// A sparse update overwrites only the named columns.
	require.NoError(t, db.Update("items", metricdb.Row{"id": 0, "name": "screw"}))

	rows, err := db.Query("SELECT name, weight FROM items WHERE id=0")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "screw", rows[0]["name"])
	assert.Equal(t, int64(5), rows[0]["weight"])
}

func TestUpdateWithCustomKeyColumns(t *testing.T) {
	db := openStore(t, t.TempDir())

	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt", "weight": 5}))
	require.NoError(t, db.Update("items", metricdb.Row{"name": "bolt", "weight": 9}, "name"))

	weight, err := db.Lookup("weight", "items", "WHERE name='bolt'")
	require.NoError(t, err)
	assert.Equal(t, int64(9), weight)
}

func TestGetOrCreateIDFillsSmallestFreeID(t *testing.T) {
	db := openStore(t, t.TempDir())

	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt"}))
	require.NoError(t, db.Insert("items", metricdb.Row{"id": 2, "name": "washer"}))

	// A new row fills the gap.
	id, err := db.GetOrCreateID("items", metricdb.Row{"name": "nut"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	// An existing match returns its id untouched.
	id, err = db.GetOrCreateID("items", metricdb.Row{"name": "washer"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	count, err := db.Count("items", "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := openStore(t, t.TempDir())

	failure := errors.New("boom")

	err := db.Transaction(func() error {
		insertErr := db.Insert("items", metricdb.Row{"id": 0, "name": "bolt"})
		if insertErr != nil {
			return insertErr
		}

		return failure
	})
	require.ErrorIs(t, err, failure)

	count, err := db.Count("items", "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTransactionCommits(t *testing.T) {
	db := openStore(t, t.TempDir())

	err := db.Transaction(func() error {
		return db.Insert("items", metricdb.Row{"id": 0, "name": "bolt"})
	})
	require.NoError(t, err)

	count, err := db.Count("items", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReopenAppendsMissingColumns(t *testing.T) {
	dir := t.TempDir()

	narrow := `
tables:
  items: [id, name]
special_types:
  id: integer
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(narrow), 0o644))

	db, err := metricdb.Open(dir, "test")
	require.NoError(t, err)
	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt"}))
	require.NoError(t, db.Close())

	// The widened descriptor grows the live table; existing rows keep
	// their data with the new column null.
	db = openStore(t, dir)

	rows, err := db.Query("SELECT name, weight FROM items WHERE id=0")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "bolt", rows[0]["name"])
	assert.Nil(t, rows[0]["weight"])
}

func TestUniqueCounts(t *testing.T) {
	db := openStore(t, t.TempDir())

	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt"}))
	require.NoError(t, db.Insert("items", metricdb.Row{"id": 1, "name": "bolt"}))
	require.NoError(t, db.Insert("items", metricdb.Row{"id": 2, "name": "nut"}))

	counts, err := db.UniqueCounts("items", "name")
	require.NoError(t, err)

	assert.Equal(t, int64(2), counts["bolt"])
	assert.Equal(t, int64(1), counts["nut"])
}

func TestTableSizes(t *testing.T) {
	db := openStore(t, t.TempDir())

	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt"}))

	sizes, err := db.TableSizes()
	require.NoError(t, err)
	require.Len(t, sizes, 1)

	assert.Equal(t, "items", sizes[0].Table)
	assert.Equal(t, 1, sizes[0].Rows)
}

func TestResetDropsData(t *testing.T) {
	db := openStore(t, t.TempDir())

	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt"}))
	require.NoError(t, db.Reset("items"))

	count, err := db.Count("items", "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRenameColumn(t *testing.T) {
	db := openStore(t, t.TempDir())

	require.NoError(t, db.Insert("items", metricdb.Row{"id": 0, "name": "bolt", "weight": 5}))
	require.NoError(t, db.RenameColumn("items", "name", "label"))

	label, err := db.Lookup("label", "items", "WHERE id=0")
	require.NoError(t, err)
	assert.Equal(t, "bolt", label)

	weight, err := db.Lookup("weight", "items", "WHERE id=0")
	require.NoError(t, err)
	assert.Equal(t, int64(5), weight)
}

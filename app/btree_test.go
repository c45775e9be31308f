package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPager(t *testing.T, path string) *Pager {
	t.Helper()
	pager, err := NewPager(path)
	require.NoError(t, err)
	t.Cleanup(func() { pager.Close() })
	return pager
}

func applesColumns(t *testing.T) []Column {
	t.Helper()
	columns, err := extractColumns("CREATE TABLE apples (id integer primary key, name text, color text)")
	require.NoError(t, err)
	return columns
}

func TestScanTableSinglePage(t *testing.T) {
	pager := openTestPager(t, buildSampleDatabase(t))
	bt := NewBTree(pager)

	cells, err := bt.ScanTable(context.Background(), 2, applesColumns(t), nil)
	require.NoError(t, err)
	require.Len(t, cells, 4)

	rowIDs := make([]int64, len(cells))
	for i, cell := range cells {
		rowIDs[i] = cell.RowID
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, rowIDs)
}

func TestScanTableMultiPageVisitsChildrenInOrder(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cells, err := bt.ScanTable(context.Background(), 2, applesColumns(t), nil)
	require.NoError(t, err)
	require.Len(t, cells, 5)

	rowIDs := make([]int64, len(cells))
	for i, cell := range cells {
		rowIDs[i] = cell.RowID
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, rowIDs)

	// Interior separator property: every row in the left subtree has a
	// row-id at or below the separator key
	for _, cell := range cells[:3] {
		assert.LessOrEqual(t, cell.RowID, int64(3))
	}
}

func TestScanTableWithPredicate(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cmp := &Comparison{Column: "color", Operator: OpEquals, Value: "Red"}
	cells, err := bt.ScanTable(context.Background(), 2, applesColumns(t), cmp)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, int64(2), cells[0].RowID)
	assert.Equal(t, int64(5), cells[1].RowID)
}

func TestScanTablePredicateUnknownColumnIsFatal(t *testing.T) {
	pager := openTestPager(t, buildSampleDatabase(t))
	bt := NewBTree(pager)

	cmp := &Comparison{Column: "flavour", Operator: OpEquals, Value: "sweet"}
	_, err := bt.ScanTable(context.Background(), 2, applesColumns(t), cmp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrColumnNotFound))
}

func TestScanTablePredicateByName(t *testing.T) {
	pager := openTestPager(t, buildSampleDatabase(t))
	bt := NewBTree(pager)

	cmp := &Comparison{Column: "name", Operator: OpEquals, Value: "Fuji"}
	cells, err := bt.ScanTable(context.Background(), 2, applesColumns(t), cmp)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, int64(2), cells[0].RowID)
}

func TestScanTablePredicateSeesStoredNull(t *testing.T) {
	pager := openTestPager(t, buildSampleDatabase(t))
	bt := NewBTree(pager)

	// An INTEGER PRIMARY KEY column stores Null; row-id aliasing happens at
	// projection, so the predicate matches the literal "null" on every row
	cmp := &Comparison{Column: "id", Operator: OpEquals, Value: "null"}
	cells, err := bt.ScanTable(context.Background(), 2, applesColumns(t), cmp)
	require.NoError(t, err)
	assert.Len(t, cells, 4)
}

func TestScanTableOnIndexPageIsStructuralError(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	_, err := bt.ScanTable(context.Background(), 3, applesColumns(t), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrongPageType))
}

func TestLookupRows(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cells, err := bt.LookupRows(context.Background(), 2, []int64{4, 1})
	require.NoError(t, err)
	require.Len(t, cells, 2)

	found := map[int64]string{}
	for _, cell := range cells {
		found[cell.RowID] = cell.Record.Values[1].String()
	}
	assert.Equal(t, "Granny Smith", found[1])
	assert.Equal(t, "Golden Delicious", found[4])
}

func TestLookupRowsCrossesPageBoundary(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	// Row 3 sits on the left leaf, row 5 on the rightmost one
	cells, err := bt.LookupRows(context.Background(), 2, []int64{3, 5})
	require.NoError(t, err)
	require.Len(t, cells, 2)
}

func TestLookupRowsMissingRowIDTerminates(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cells, err := bt.LookupRows(context.Background(), 2, []int64{2, 999})
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, int64(2), cells[0].RowID)
}

func TestLookupRowsEmptySet(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cells, err := bt.LookupRows(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Empty(t, cells)
}

func TestSearchIndexLeafMatches(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cmp := &Comparison{Column: "color", Operator: OpEquals, Value: "Yellow"}
	entries, err := bt.SearchIndex(context.Background(), 3, cmp)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	rowid, err := entries[0].RowID()
	require.NoError(t, err)
	assert.Equal(t, int64(4), rowid)
}

func TestSearchIndexDuplicateKeys(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cmp := &Comparison{Column: "color", Operator: OpEquals, Value: "Red"}
	entries, err := bt.SearchIndex(context.Background(), 3, cmp)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSearchIndexCollectsInteriorEntry(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	// "Light Green" lives in the interior cell itself
	cmp := &Comparison{Column: "color", Operator: OpEquals, Value: "Light Green"}
	entries, err := bt.SearchIndex(context.Background(), 3, cmp)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	rowid, err := entries[0].RowID()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowid)
}

func TestSearchIndexNoMatch(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cmp := &Comparison{Column: "color", Operator: OpEquals, Value: "Aqua"}
	entries, err := bt.SearchIndex(context.Background(), 3, cmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSearchIndexOnTablePageIsStructuralError(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)

	cmp := &Comparison{Column: "color", Operator: OpEquals, Value: "Red"}
	_, err := bt.SearchIndex(context.Background(), 2, cmp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrongPageType))
}

// The index probe must agree with a full scan under the same predicate.
func TestIndexProbeMatchesFullScan(t *testing.T) {
	pager := openTestPager(t, buildIndexedDatabase(t))
	bt := NewBTree(pager)
	ctx := context.Background()

	for _, color := range []string{"Red", "Yellow", "Light Green", "Blush Red", "Aqua"} {
		cmp := &Comparison{Column: "color", Operator: OpEquals, Value: color}

		scanned, err := bt.ScanTable(ctx, 2, applesColumns(t), cmp)
		require.NoError(t, err)

		entries, err := bt.SearchIndex(ctx, 3, cmp)
		require.NoError(t, err)
		probeIDs := make(map[int64]bool)
		for i := range entries {
			rowid, err := entries[i].RowID()
			require.NoError(t, err)
			probeIDs[rowid] = true
		}

		scanIDs := make(map[int64]bool)
		for _, cell := range scanned {
			scanIDs[cell.RowID] = true
		}
		assert.Equal(t, scanIDs, probeIDs, "color %q", color)
	}
}

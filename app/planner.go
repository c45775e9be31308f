package main

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// QueryEngine resolves a parsed query against the schema and drives the
// B-tree traversals to produce a formatted result.
type QueryEngine struct {
	pager     *Pager
	btree     *BTree
	formatter OutputFormatter
	log       *logrus.Entry
}

// NewQueryEngine creates an engine over an open pager
func NewQueryEngine(pager *Pager, formatter OutputFormatter) *QueryEngine {
	return &QueryEngine{
		pager:     pager,
		btree:     NewBTree(pager),
		formatter: formatter,
		log:       logrus.WithField("component", "planner"),
	}
}

// RunQuery executes a parsed SELECT and returns the formatted result. A
// failed query leaves the pager usable for the next one.
func (e *QueryEngine) RunQuery(ctx context.Context, query *SelectQuery) (string, error) {
	record, err := e.findTableRecord(query.Table)
	if err != nil {
		return "", err
	}
	table, err := NewSchemaObject(record)
	if err != nil {
		return "", err
	}

	if query.HasCountAll() {
		return e.countAll(ctx, table)
	}

	projection, err := e.projectionIndexes(table, query)
	if err != nil {
		return "", err
	}

	cells, err := e.fetchCells(ctx, table, query)
	if err != nil {
		return "", err
	}

	names := make([]string, len(projection))
	rows := make([]*Row, 0, len(cells))
	for i, colIdx := range projection {
		names[i] = table.Columns[colIdx].Name
	}
	for i := range cells {
		rows = append(rows, projectCell(table, projection, &cells[i]))
	}

	return e.formatter.FormatRows(names, rows), nil
}

// findTableRecord looks the table up in the schema table by tbl_name
func (e *QueryEngine) findTableRecord(tableName string) (*SchemaRecord, error) {
	for i := range e.pager.SchemaTable() {
		record := &e.pager.SchemaTable()[i]
		if record.Type == ObjectTypeTable && record.TblName == tableName {
			return record, nil
		}
	}
	return nil, NewDatabaseError("find_table", ErrTableNotFound, map[string]interface{}{
		"table_name": tableName,
	})
}

// countAll answers COUNT(*) from the root page header. Tables spanning more
// than one page are a known feature boundary.
func (e *QueryEngine) countAll(ctx context.Context, table *SchemaObject) (string, error) {
	page, err := e.pager.ReadPage(ctx, table.RootPage)
	if err != nil {
		return "", err
	}
	if !page.Header.IsLeafTable() {
		return "", NewDatabaseError("count_all", ErrUnimplemented, map[string]interface{}{
			"reason": "count on tables that span multiple pages",
			"table":  table.TblName,
		})
	}
	return e.formatter.FormatCount(int(page.Header.CellCount)), nil
}

// projectionIndexes resolves the select list into an ordered, deduplicated
// list of column positions. `*` contributes every column in declared order;
// COUNT(*) entries are ignored at this stage.
func (e *QueryEngine) projectionIndexes(table *SchemaObject, query *SelectQuery) ([]int, error) {
	set := newOrderedSet()
	for _, col := range query.Columns {
		switch col.Kind {
		case ColumnRegular:
			idx, err := findColumnIndex(table.Columns, col.Name)
			if err != nil {
				return nil, err
			}
			set.push(idx)
		case ColumnAll:
			for i := range table.Columns {
				set.push(i)
			}
		}
	}
	return set.items, nil
}

// fetchCells picks the access path: an index probe composed with a row-id
// lookup when an index covers the filtered column, a full scan otherwise.
func (e *QueryEngine) fetchCells(ctx context.Context, table *SchemaObject, query *SelectQuery) ([]TableLeafCell, error) {
	if query.Where == nil {
		return e.btree.ScanTable(ctx, table.RootPage, table.Columns, nil)
	}

	index := e.findIndex(query)
	if index == nil {
		e.log.WithFields(logrus.Fields{
			"table":  query.Table,
			"column": query.Where.Column,
		}).Debug("no usable index, full scan")
		return e.btree.ScanTable(ctx, table.RootPage, table.Columns, query.Where)
	}

	e.log.WithFields(logrus.Fields{
		"table": query.Table,
		"index": index.Name,
	}).Debug("index probe")

	entries, err := e.btree.SearchIndex(ctx, index.RootPage, query.Where)
	if err != nil {
		return nil, err
	}

	rowIDs := newOrderedSet()
	for i := range entries {
		rowid, err := entries[i].RowID()
		if err != nil {
			return nil, err
		}
		rowIDs.push(int(rowid))
	}

	ids := make([]int64, len(rowIDs.items))
	for i, id := range rowIDs.items {
		ids[i] = int64(id)
	}
	return e.btree.LookupRows(ctx, table.RootPage, ids)
}

// findIndex scans the schema for an index on the queried table whose first
// indexed column matches the filtered column.
func (e *QueryEngine) findIndex(query *SelectQuery) *SchemaObject {
	for i := range e.pager.SchemaTable() {
		record := &e.pager.SchemaTable()[i]
		if record.Type != ObjectTypeIndex || record.TblName != query.Table {
			continue
		}
		index, err := NewSchemaObject(record)
		if err != nil {
			e.log.WithField("index", record.Name).WithError(err).Debug("skipping unparseable index")
			continue
		}
		if len(index.Columns) > 0 && strings.EqualFold(index.Columns[0].Name, query.Where.Column) {
			return index
		}
	}
	return nil
}

// projectCell takes the projected column values out of a cell, substituting
// the row-id for a stored Null on an INTEGER PRIMARY KEY column.
func projectCell(table *SchemaObject, projection []int, cell *TableLeafCell) *Row {
	values := make([]Value, len(projection))
	for i, colIdx := range projection {
		var v Value
		if colIdx < len(cell.Record.Values) {
			v = cell.Record.Values[colIdx]
		} else {
			v = NewSQLiteValue(SerialTypeNull, nil)
		}
		if v.IsNull() && table.IsIntegerPrimaryKey(colIdx) {
			v = newRowidValue(cell.RowID)
		}
		values[i] = v
	}
	return &Row{Values: values}
}

// orderedSet keeps ints unique while preserving insertion order
type orderedSet struct {
	seen  map[int]struct{}
	items []int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[int]struct{})}
}

func (s *orderedSet) push(v int) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

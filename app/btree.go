package main

import (
	"context"

	"github.com/sirupsen/logrus"
)

// BTree provides the three traversal primitives over the pager: full table
// scan, row-id lookup in a table tree, and value-keyed search in an index
// tree. Recursion depth is bounded by the tree height.
type BTree struct {
	pager *Pager
	log   *logrus.Entry
}

// NewBTree creates a traversal helper over the pager
func NewBTree(pager *Pager) *BTree {
	return &BTree{
		pager: pager,
		log:   logrus.WithField("component", "btree"),
	}
}

// recordFilter builds the leaf predicate for a comparison against the named
// column. A missing column is fatal; a per-row comparison failure (e.g. a
// non-numeric literal against an Int column) excludes that row only.
func recordFilter(columns []Column, cmp *Comparison) (func(*Record) bool, error) {
	idx, err := findColumnIndex(columns, cmp.Column)
	if err != nil {
		return nil, err
	}
	return func(rec *Record) bool {
		if idx >= len(rec.Values) {
			return false
		}
		equal, err := checkEquality(rec.Values[idx], cmp.Value)
		if err != nil {
			return false
		}
		return equal
	}, nil
}

// ScanTable walks the table tree rooted at rootPage in cell-pointer order,
// collecting leaf cells. When cmp is non-nil the predicate is applied at the
// leaves against the ordered column list.
func (bt *BTree) ScanTable(ctx context.Context, rootPage uint32, columns []Column, cmp *Comparison) ([]TableLeafCell, error) {
	var filter func(*Record) bool
	if cmp != nil {
		var err error
		filter, err = recordFilter(columns, cmp)
		if err != nil {
			return nil, err
		}
	}

	var results []TableLeafCell
	if err := bt.scanTablePage(ctx, rootPage, filter, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (bt *BTree) scanTablePage(ctx context.Context, pageNum uint32, filter func(*Record) bool, results *[]TableLeafCell) error {
	page, err := bt.pager.ReadPage(ctx, pageNum)
	if err != nil {
		return err
	}

	switch {
	case page.Header.IsLeafTable():
		cells, err := page.tableLeafCells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if filter == nil || filter(&cell.Record) {
				*results = append(*results, cell)
			}
		}
		return nil

	case page.Header.IsInteriorTable():
		cells, err := page.tableInteriorCells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if err := bt.scanTablePage(ctx, cell.LeftChild, filter, results); err != nil {
				return err
			}
		}
		return bt.scanTablePage(ctx, page.Header.RightmostPointer, filter, results)

	default:
		return wrongPageType("scan_table", page)
	}
}

// LookupRows fetches the cells for the given row-ids from the table tree
// rooted at rootPage. The pending set is shared mutable state threaded
// through the recursion; entries are removed only at leaves. Row-ids absent
// from the tree are dropped once a full descent makes no progress.
func (bt *BTree) LookupRows(ctx context.Context, rootPage uint32, rowIDs []int64) ([]TableLeafCell, error) {
	pending := make(map[int64]struct{}, len(rowIDs))
	for _, id := range rowIDs {
		pending[id] = struct{}{}
	}

	var results []TableLeafCell
	for len(pending) > 0 {
		before := len(pending)
		if err := bt.lookupPage(ctx, rootPage, pending, &results); err != nil {
			return nil, err
		}
		if len(pending) == before {
			bt.log.WithField("missing", len(pending)).Debug("row-ids not present in table tree")
			break
		}
	}
	return results, nil
}

func (bt *BTree) lookupPage(ctx context.Context, pageNum uint32, pending map[int64]struct{}, results *[]TableLeafCell) error {
	if len(pending) == 0 {
		return nil
	}

	page, err := bt.pager.ReadPage(ctx, pageNum)
	if err != nil {
		return err
	}

	switch {
	case page.Header.IsLeafTable():
		cells, err := page.tableLeafCells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if _, ok := pending[cell.RowID]; ok {
				*results = append(*results, cell)
				delete(pending, cell.RowID)
			}
		}
		return nil

	case page.Header.IsInteriorTable():
		cells, err := page.tableInteriorCells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if len(pending) == 0 {
				return nil
			}
			if anyRowIDAtMost(pending, cell.RowID) {
				if err := bt.lookupPage(ctx, cell.LeftChild, pending, results); err != nil {
					return err
				}
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if len(cells) == 0 || anyRowIDAtLeast(pending, cells[len(cells)-1].RowID) {
			return bt.lookupPage(ctx, page.Header.RightmostPointer, pending, results)
		}
		return nil

	default:
		return wrongPageType("lookup_rows", page)
	}
}

// anyRowIDAtMost reports whether some pending row-id is <= key, meaning the
// subtree left of the separator may hold it.
func anyRowIDAtMost(pending map[int64]struct{}, key int64) bool {
	for id := range pending {
		if id <= key {
			return true
		}
	}
	return false
}

// anyRowIDAtLeast reports whether some pending row-id is >= key, meaning the
// rightmost subtree may hold it.
func anyRowIDAtLeast(pending map[int64]struct{}, key int64) bool {
	for id := range pending {
		if id >= key {
			return true
		}
	}
	return false
}

// SearchIndex collects the index entries whose first indexed column equals
// the comparison literal, descending the index tree rooted at rootPage. Every
// subtree whose separator key orders at or above the target is visited, and
// interior entries are tested too: an interior index cell is a real entry.
func (bt *BTree) SearchIndex(ctx context.Context, rootPage uint32, cmp *Comparison) ([]IndexLeafCell, error) {
	var results []IndexLeafCell
	if err := bt.searchIndexPage(ctx, rootPage, cmp, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (bt *BTree) searchIndexPage(ctx context.Context, pageNum uint32, cmp *Comparison, results *[]IndexLeafCell) error {
	page, err := bt.pager.ReadPage(ctx, pageNum)
	if err != nil {
		return err
	}

	switch {
	case page.Header.IsLeafIndex():
		cells, err := page.indexLeafCells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			if indexEntryMatches(&cell.Record, cmp) {
				*results = append(*results, cell)
			}
		}
		return nil

	case page.Header.IsInteriorIndex():
		cells, err := page.indexInteriorCells()
		if err != nil {
			return err
		}
		for _, cell := range cells {
			key := firstKey(&cell.Record)
			if key == nil {
				continue
			}
			ge, err := greaterOrEqual(key, cmp.Value)
			if err != nil || !ge {
				// A subtree bounded by an incomparable or smaller
				// separator cannot contain the target.
				continue
			}
			if err := bt.searchIndexPage(ctx, cell.LeftChild, cmp, results); err != nil {
				return err
			}
			if indexEntryMatches(&cell.Record, cmp) {
				*results = append(*results, IndexLeafCell{
					PayloadSize: cell.PayloadSize,
					Record:      cell.Record,
				})
			}
		}
		if len(cells) == 0 {
			return bt.searchIndexPage(ctx, page.Header.RightmostPointer, cmp, results)
		}
		lastKey := firstKey(&cells[len(cells)-1].Record)
		if lastKey != nil {
			ge, geErr := greaterOrEqual(lastKey, cmp.Value)
			eq, eqErr := checkEquality(lastKey, cmp.Value)
			descend := (geErr == nil && !ge) || (eqErr == nil && eq)
			if descend {
				return bt.searchIndexPage(ctx, page.Header.RightmostPointer, cmp, results)
			}
		}
		return nil

	default:
		return wrongPageType("search_index", page)
	}
}

// firstKey returns the first indexed column of an index entry record.
func firstKey(rec *Record) Value {
	if len(rec.Values) == 0 {
		return nil
	}
	return rec.Values[0]
}

// indexEntryMatches tests the entry's first indexed column for equality with
// the literal; comparison errors exclude the entry.
func indexEntryMatches(rec *Record, cmp *Comparison) bool {
	key := firstKey(rec)
	if key == nil {
		return false
	}
	equal, err := checkEquality(key, cmp.Value)
	if err != nil {
		return false
	}
	return equal
}

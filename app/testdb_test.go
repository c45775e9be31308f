package main

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Helpers that assemble database images byte-by-byte so decode and traversal
// tests run against real on-disk layout without binary fixtures.

const testPageSize = 4096

func encodeVarint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	// Collect 7-bit groups, most significant first
	var groups []byte
	for v > 0 {
		groups = append([]byte{byte(v & 0x7F)}, groups...)
		v >>= 7
	}
	for i := 0; i < len(groups)-1; i++ {
		groups[i] |= 0x80
	}
	return groups
}

// encodeValue picks a serial type for a test value and encodes its payload
func encodeValue(t *testing.T, v interface{}) (uint64, []byte) {
	t.Helper()
	switch val := v.(type) {
	case nil:
		return SerialTypeNull, nil
	case int:
		return encodeValue(t, int64(val))
	case int64:
		if val >= -128 && val <= 127 {
			return SerialTypeInt8, []byte{byte(val)}
		}
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, uint64(val))
		return SerialTypeInt64, data
	case float64:
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, math.Float64bits(val))
		return SerialTypeFloat64, data
	case string:
		return 13 + 2*uint64(len(val)), []byte(val)
	case []byte:
		return 12 + 2*uint64(len(val)), val
	default:
		t.Fatalf("unsupported test value %T", v)
		return 0, nil
	}
}

func encodeRecord(t *testing.T, values []interface{}) []byte {
	t.Helper()
	var types []byte
	var body []byte
	for _, v := range values {
		serialType, data := encodeValue(t, v)
		types = append(types, encodeVarint(serialType)...)
		body = append(body, data...)
	}
	// Header size varint includes itself; one byte is enough for tests
	header := append(encodeVarint(uint64(len(types)+1)), types...)
	return append(header, body...)
}

func encodeTableLeafCell(t *testing.T, rowid int64, values []interface{}) []byte {
	t.Helper()
	record := encodeRecord(t, values)
	cell := encodeVarint(uint64(len(record)))
	cell = append(cell, encodeVarint(uint64(rowid))...)
	return append(cell, record...)
}

func encodeTableInteriorCell(leftChild uint32, key int64) []byte {
	cell := make([]byte, 4)
	binary.BigEndian.PutUint32(cell, leftChild)
	return append(cell, encodeVarint(uint64(key))...)
}

func encodeIndexLeafCell(t *testing.T, values []interface{}) []byte {
	t.Helper()
	record := encodeRecord(t, values)
	cell := encodeVarint(uint64(len(record)))
	return append(cell, record...)
}

func encodeIndexInteriorCell(t *testing.T, leftChild uint32, values []interface{}) []byte {
	t.Helper()
	record := encodeRecord(t, values)
	cell := make([]byte, 4)
	binary.BigEndian.PutUint32(cell, leftChild)
	cell = append(cell, encodeVarint(uint64(len(record)))...)
	return append(cell, record...)
}

// buildPage lays out a page: header at headerOffset (100 on page 1), cell
// pointer array after it, cells packed from the end of the page in the given
// order.
func buildPage(t *testing.T, pageType byte, rightmost uint32, cells [][]byte, headerOffset int) []byte {
	t.Helper()
	page := make([]byte, testPageSize)

	page[headerOffset] = pageType
	binary.BigEndian.PutUint16(page[headerOffset+3:], uint16(len(cells)))

	headerSize := 8
	if pageType == PageTypeTableInterior || pageType == PageTypeIndexInterior {
		headerSize = 12
		binary.BigEndian.PutUint32(page[headerOffset+8:], rightmost)
	}

	content := testPageSize
	for i, cell := range cells {
		content -= len(cell)
		if content <= headerOffset+headerSize+2*len(cells) {
			t.Fatalf("test page overflow: %d cells", len(cells))
		}
		copy(page[content:], cell)
		binary.BigEndian.PutUint16(page[headerOffset+headerSize+2*i:], uint16(content))
	}
	binary.BigEndian.PutUint16(page[headerOffset+5:], uint16(content))

	return page
}

// buildDatabase writes pages out as a database file, stamping the 100-byte
// header into page 1, and returns its path.
func buildDatabase(t *testing.T, pages [][]byte) string {
	t.Helper()

	header := make([]byte, databaseHeaderSize)
	copy(header, sqliteMagic)
	binary.BigEndian.PutUint16(header[16:], testPageSize)

	image := make([]byte, 0, len(pages)*testPageSize)
	for i, page := range pages {
		if len(page) != testPageSize {
			t.Fatalf("page %d has size %d", i+1, len(page))
		}
		image = append(image, page...)
	}
	copy(image, header)

	path := filepath.Join(t.TempDir(), "test.db")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("write test database: %v", err)
	}
	return path
}

func schemaCell(t *testing.T, rowid int64, objType, name, tblName string, rootPage int64, sql string) []byte {
	t.Helper()
	return encodeTableLeafCell(t, rowid, []interface{}{objType, name, tblName, rootPage, sql})
}

// buildSampleDatabase lays out the single-page apples table:
//
//	page 1: sqlite_schema
//	page 2: apples leaf (4 rows, INTEGER PRIMARY KEY stored as Null)
func buildSampleDatabase(t *testing.T) string {
	t.Helper()

	schema := buildPage(t, PageTypeTableLeaf, 0, [][]byte{
		schemaCell(t, 1, "table", "apples", "apples", 2,
			"CREATE TABLE apples (id integer primary key, name text, color text)"),
	}, databaseHeaderSize)

	apples := buildPage(t, PageTypeTableLeaf, 0, [][]byte{
		encodeTableLeafCell(t, 1, []interface{}{nil, "Granny Smith", "Light Green"}),
		encodeTableLeafCell(t, 2, []interface{}{nil, "Fuji", "Red"}),
		encodeTableLeafCell(t, 3, []interface{}{nil, "Honeycrisp", "Blush Red"}),
		encodeTableLeafCell(t, 4, []interface{}{nil, "Golden Delicious", "Yellow"}),
	}, 0)

	return buildDatabase(t, [][]byte{schema, apples})
}

// buildIndexedDatabase lays out a multi-page table with an index on color:
//
//	page 1: sqlite_schema (apples table rooted at 2, idx_apples_color at 3)
//	page 2: table interior, separator row-id 3 -> page 4, rightmost -> page 5
//	page 3: index interior, separator ("Light Green", 1) -> page 6,
//	        rightmost -> page 7; the separator is itself a live entry
//	page 4: table leaf rows 1..3
//	page 5: table leaf rows 4..5
//	page 6: index leaf entries below "Light Green"
//	page 7: index leaf entries above it, with a duplicated "Red" key
func buildIndexedDatabase(t *testing.T) string {
	t.Helper()

	schema := buildPage(t, PageTypeTableLeaf, 0, [][]byte{
		schemaCell(t, 1, "table", "apples", "apples", 2,
			"CREATE TABLE apples (id integer primary key, name text, color text)"),
		schemaCell(t, 2, "index", "idx_apples_color", "apples", 3,
			"CREATE INDEX idx_apples_color ON apples (color)"),
	}, databaseHeaderSize)

	tableRoot := buildPage(t, PageTypeTableInterior, 5, [][]byte{
		encodeTableInteriorCell(4, 3),
	}, 0)

	indexRoot := buildPage(t, PageTypeIndexInterior, 7, [][]byte{
		encodeIndexInteriorCell(t, 6, []interface{}{"Light Green", int64(1)}),
	}, 0)

	leafLow := buildPage(t, PageTypeTableLeaf, 0, [][]byte{
		encodeTableLeafCell(t, 1, []interface{}{nil, "Granny Smith", "Light Green"}),
		encodeTableLeafCell(t, 2, []interface{}{nil, "Fuji", "Red"}),
		encodeTableLeafCell(t, 3, []interface{}{nil, "Honeycrisp", "Blush Red"}),
	}, 0)

	leafHigh := buildPage(t, PageTypeTableLeaf, 0, [][]byte{
		encodeTableLeafCell(t, 4, []interface{}{nil, "Golden Delicious", "Yellow"}),
		encodeTableLeafCell(t, 5, []interface{}{nil, "Fuji Two", "Red"}),
	}, 0)

	indexLow := buildPage(t, PageTypeIndexLeaf, 0, [][]byte{
		encodeIndexLeafCell(t, []interface{}{"Blush Red", int64(3)}),
	}, 0)

	indexHigh := buildPage(t, PageTypeIndexLeaf, 0, [][]byte{
		encodeIndexLeafCell(t, []interface{}{"Red", int64(2)}),
		encodeIndexLeafCell(t, []interface{}{"Red", int64(5)}),
		encodeIndexLeafCell(t, []interface{}{"Yellow", int64(4)}),
	}, 0)

	return buildDatabase(t, [][]byte{schema, tableRoot, indexRoot, leafLow, leafHigh, indexLow, indexHigh})
}

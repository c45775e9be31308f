package main

import (
	"bytes"
	"encoding/binary"
)

// DatabaseHeader represents the 100-byte SQLite database file header
type DatabaseHeader struct {
	MagicNumber     [16]byte
	PageSize        uint16
	FileFormatWrite uint8
	FileFormatRead  uint8
	ReservedBytes   uint8
	MaxPayload      uint8
	MinPayload      uint8
	LeafPayload     uint8
	FileChangeCount uint32
	DatabaseSize    uint32
	FirstFreePage   uint32
	FreePageCount   uint32
	SchemaCookie    uint32
	SchemaFormat    uint32
	DefaultCache    uint32
	LargestBTree    uint32
	TextEncoding    uint32
	UserVersion     uint32
	IncrVacuum      uint32
	AppID           uint32
	Reserved        [20]byte
	VersionValid    uint32
	SQLiteVersion   uint32
}

var sqliteMagic = []byte("SQLite format 3\x00")

// IsValidMagicNumber checks the 16-byte magic string
func (h *DatabaseHeader) IsValidMagicNumber() bool {
	return bytes.Equal(h.MagicNumber[:], sqliteMagic)
}

// ActualPageSize returns the page size in bytes. The stored value 1 encodes
// a 65536-byte page.
func (h *DatabaseHeader) ActualPageSize() int {
	if h.PageSize == 1 {
		return 65536
	}
	return int(h.PageSize)
}

// B-tree page types
const (
	PageTypeIndexInterior = 0x02
	PageTypeTableInterior = 0x05
	PageTypeIndexLeaf     = 0x0a
	PageTypeTableLeaf     = 0x0d
)

// databaseHeaderSize is the byte length of the file header on page 1.
const databaseHeaderSize = 100

// PageHeader represents a B-tree page header. RightmostPointer is only
// meaningful on interior pages.
type PageHeader struct {
	PageType         uint8
	FirstFreeblock   uint16
	CellCount        uint16
	CellContentStart uint16
	FragmentedBytes  uint8
	RightmostPointer uint32
}

// IsLeafTable reports a table leaf page (0x0d)
func (h *PageHeader) IsLeafTable() bool { return h.PageType == PageTypeTableLeaf }

// IsInteriorTable reports a table interior page (0x05)
func (h *PageHeader) IsInteriorTable() bool { return h.PageType == PageTypeTableInterior }

// IsLeafIndex reports an index leaf page (0x0a)
func (h *PageHeader) IsLeafIndex() bool { return h.PageType == PageTypeIndexLeaf }

// IsInteriorIndex reports an index interior page (0x02)
func (h *PageHeader) IsInteriorIndex() bool { return h.PageType == PageTypeIndexInterior }

// IsInterior reports any interior page
func (h *PageHeader) IsInterior() bool { return h.IsInteriorTable() || h.IsInteriorIndex() }

// Size returns the encoded header length: 12 bytes on interior pages, 8 on
// leaves.
func (h *PageHeader) Size() int {
	if h.IsInterior() {
		return 12
	}
	return 8
}

// decodePageHeader parses a page header from buf at offset. It rejects
// unknown page-type bytes and reads the rightmost pointer on interior pages.
func decodePageHeader(buf []byte, offset int) (PageHeader, error) {
	if offset+8 > len(buf) {
		return PageHeader{}, NewDatabaseError("decode_page_header", ErrTruncated, map[string]interface{}{
			"offset": offset,
		})
	}

	header := PageHeader{
		PageType:         buf[offset],
		FirstFreeblock:   binary.BigEndian.Uint16(buf[offset+1 : offset+3]),
		CellCount:        binary.BigEndian.Uint16(buf[offset+3 : offset+5]),
		CellContentStart: binary.BigEndian.Uint16(buf[offset+5 : offset+7]),
		FragmentedBytes:  buf[offset+7],
	}

	switch header.PageType {
	case PageTypeTableLeaf, PageTypeIndexLeaf:
	case PageTypeTableInterior, PageTypeIndexInterior:
		if offset+12 > len(buf) {
			return PageHeader{}, NewDatabaseError("decode_page_header", ErrTruncated, map[string]interface{}{
				"offset": offset,
			})
		}
		header.RightmostPointer = binary.BigEndian.Uint32(buf[offset+8 : offset+12])
	default:
		return PageHeader{}, NewDatabaseError("decode_page_header", ErrInvalidPageType, map[string]interface{}{
			"page_type": header.PageType,
		})
	}

	return header, nil
}

// Page is a decoded B-tree page. Data is the full page-sized buffer owned by
// the pager's cache; cell offsets in CellPointers index into Data.
type Page struct {
	Number       uint32
	Header       PageHeader
	CellPointers []uint16
	Data         []byte
}

// decodePage parses the page header and cell pointer array from a page-sized
// buffer. On page 1 the header sits after the 100-byte database header and
// cell pointers are already relative to the start of the buffer.
func decodePage(buf []byte, pageNum uint32) (*Page, error) {
	headerOffset := 0
	if pageNum == 1 {
		headerOffset = databaseHeaderSize
	}

	header, err := decodePageHeader(buf, headerOffset)
	if err != nil {
		return nil, err
	}

	ptrOffset := headerOffset + header.Size()
	count := int(header.CellCount)
	if ptrOffset+2*count > len(buf) {
		return nil, NewDatabaseError("decode_cell_pointers", ErrTruncated, map[string]interface{}{
			"page":       pageNum,
			"cell_count": count,
		})
	}

	pointers := make([]uint16, count)
	for i := 0; i < count; i++ {
		ptr := binary.BigEndian.Uint16(buf[ptrOffset+2*i : ptrOffset+2*i+2])
		if ptr == 0 || int(ptr) >= len(buf) {
			return nil, NewDatabaseError("decode_cell_pointers", ErrInvalidCellPointer, map[string]interface{}{
				"page":          pageNum,
				"pointer_index": i,
				"pointer_value": ptr,
			})
		}
		pointers[i] = ptr
	}

	return &Page{
		Number:       pageNum,
		Header:       header,
		CellPointers: pointers,
		Data:         buf,
	}, nil
}

// Cell variants. Every decoded cell owns its values.

// TableLeafCell = payload-size varint, row-id varint, record
type TableLeafCell struct {
	PayloadSize uint64
	RowID       int64
	Record      Record
}

// TableInteriorCell = left-child page number (u32), row-id key varint.
// Keys in the left subtree are <= RowID.
type TableInteriorCell struct {
	LeftChild uint32
	RowID     int64
}

// IndexLeafCell = payload-size varint, record. The record's last column is
// the table row-id.
type IndexLeafCell struct {
	PayloadSize uint64
	Record      Record
}

// IndexInteriorCell = left-child page number (u32), payload-size varint,
// record. The record is a real index entry, not just a separator.
type IndexInteriorCell struct {
	LeftChild   uint32
	PayloadSize uint64
	Record      Record
}

// rowIDFromRecord extracts the table row-id stored as the final column of an
// index entry record.
func rowIDFromRecord(rec *Record) (int64, error) {
	if len(rec.Values) == 0 {
		return 0, NewDatabaseError("index_cell_rowid", ErrInvalidDatabase, nil)
	}
	last := rec.Values[len(rec.Values)-1]
	rowid, err := last.Int64()
	if err != nil {
		return 0, NewDatabaseError("index_cell_rowid", err, map[string]interface{}{
			"value_type": last.Type(),
		})
	}
	return rowid, nil
}

// RowID returns the table row-id carried in the entry's final column.
func (c *IndexLeafCell) RowID() (int64, error) { return rowIDFromRecord(&c.Record) }

// RowID returns the table row-id carried in the entry's final column.
func (c *IndexInteriorCell) RowID() (int64, error) { return rowIDFromRecord(&c.Record) }

func decodeTableLeafCell(data []byte, offset int) (TableLeafCell, error) {
	payloadSize, n, err := readVarint(data, offset)
	if err != nil {
		return TableLeafCell{}, err
	}
	offset += n
	rowid, n, err := readVarint(data, offset)
	if err != nil {
		return TableLeafCell{}, err
	}
	offset += n

	if offset+int(payloadSize) > len(data) {
		return TableLeafCell{}, NewDatabaseError("decode_table_leaf_cell", ErrTruncated, map[string]interface{}{
			"payload_size": payloadSize,
			"offset":       offset,
		})
	}
	record, _, err := decodeRecord(data[:offset+int(payloadSize)], offset)
	if err != nil {
		return TableLeafCell{}, err
	}

	return TableLeafCell{
		PayloadSize: payloadSize,
		RowID:       int64(rowid),
		Record:      record,
	}, nil
}

func decodeTableInteriorCell(data []byte, offset int) (TableInteriorCell, error) {
	if offset+4 > len(data) {
		return TableInteriorCell{}, NewDatabaseError("decode_table_interior_cell", ErrTruncated, map[string]interface{}{
			"offset": offset,
		})
	}
	leftChild := binary.BigEndian.Uint32(data[offset : offset+4])
	rowid, _, err := readVarint(data, offset+4)
	if err != nil {
		return TableInteriorCell{}, err
	}
	return TableInteriorCell{LeftChild: leftChild, RowID: int64(rowid)}, nil
}

func decodeIndexLeafCell(data []byte, offset int) (IndexLeafCell, error) {
	payloadSize, n, err := readVarint(data, offset)
	if err != nil {
		return IndexLeafCell{}, err
	}
	offset += n

	if offset+int(payloadSize) > len(data) {
		return IndexLeafCell{}, NewDatabaseError("decode_index_leaf_cell", ErrTruncated, map[string]interface{}{
			"payload_size": payloadSize,
			"offset":       offset,
		})
	}
	record, _, err := decodeRecord(data[:offset+int(payloadSize)], offset)
	if err != nil {
		return IndexLeafCell{}, err
	}

	return IndexLeafCell{PayloadSize: payloadSize, Record: record}, nil
}

func decodeIndexInteriorCell(data []byte, offset int) (IndexInteriorCell, error) {
	if offset+4 > len(data) {
		return IndexInteriorCell{}, NewDatabaseError("decode_index_interior_cell", ErrTruncated, map[string]interface{}{
			"offset": offset,
		})
	}
	leftChild := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	payloadSize, n, err := readVarint(data, offset)
	if err != nil {
		return IndexInteriorCell{}, err
	}
	offset += n

	if offset+int(payloadSize) > len(data) {
		return IndexInteriorCell{}, NewDatabaseError("decode_index_interior_cell", ErrTruncated, map[string]interface{}{
			"payload_size": payloadSize,
			"offset":       offset,
		})
	}
	record, _, err := decodeRecord(data[:offset+int(payloadSize)], offset)
	if err != nil {
		return IndexInteriorCell{}, err
	}

	return IndexInteriorCell{LeftChild: leftChild, PayloadSize: payloadSize, Record: record}, nil
}

// Typed cell accessors. Each checks the page type so a structural mismatch
// surfaces as ErrWrongPageType instead of a garbage decode.

func (p *Page) tableLeafCells() ([]TableLeafCell, error) {
	if !p.Header.IsLeafTable() {
		return nil, wrongPageType("table_leaf_cells", p)
	}
	cells := make([]TableLeafCell, 0, len(p.CellPointers))
	for _, ptr := range p.CellPointers {
		cell, err := decodeTableLeafCell(p.Data, int(ptr))
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func (p *Page) tableInteriorCells() ([]TableInteriorCell, error) {
	if !p.Header.IsInteriorTable() {
		return nil, wrongPageType("table_interior_cells", p)
	}
	cells := make([]TableInteriorCell, 0, len(p.CellPointers))
	for _, ptr := range p.CellPointers {
		cell, err := decodeTableInteriorCell(p.Data, int(ptr))
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func (p *Page) indexLeafCells() ([]IndexLeafCell, error) {
	if !p.Header.IsLeafIndex() {
		return nil, wrongPageType("index_leaf_cells", p)
	}
	cells := make([]IndexLeafCell, 0, len(p.CellPointers))
	for _, ptr := range p.CellPointers {
		cell, err := decodeIndexLeafCell(p.Data, int(ptr))
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func (p *Page) indexInteriorCells() ([]IndexInteriorCell, error) {
	if !p.Header.IsInteriorIndex() {
		return nil, wrongPageType("index_interior_cells", p)
	}
	cells := make([]IndexInteriorCell, 0, len(p.CellPointers))
	for _, ptr := range p.CellPointers {
		cell, err := decodeIndexInteriorCell(p.Data, int(ptr))
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func wrongPageType(op string, p *Page) error {
	return NewDatabaseError(op, ErrWrongPageType, map[string]interface{}{
		"page":      p.Number,
		"page_type": p.Header.PageType,
	})
}

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Pager materialises fixed-size pages from the database file into decoded
// Page structures and caches them by page number. It pre-loads the database
// header, the root page, and the sqlite_schema table.
type Pager struct {
	file        *os.File
	header      *DatabaseHeader
	pageSize    int
	rootPage    *Page
	schemaTable []SchemaRecord
	cache       map[uint32]*Page
	cacheOrder  []uint32
	cacheCap    int
	resourceMgr *ResourceManager
	log         *logrus.Entry
}

// NewPager opens a database file, validates its header, and loads the schema
// table from page 1.
func NewPager(filePath string, options ...EngineOption) (*Pager, error) {
	cfg := DefaultEngineConfig()
	for _, opt := range options {
		opt(cfg)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, NewDatabaseError("open_database_file", err, map[string]interface{}{
			"file_path": filePath,
		})
	}

	resourceMgr := NewResourceManager()
	resourceMgr.Add(file)

	p := &Pager{
		file:        file,
		cache:       make(map[uint32]*Page),
		cacheCap:    cfg.PageCacheSize,
		resourceMgr: resourceMgr,
		log:         logrus.WithField("component", "pager"),
	}

	if err := p.parseHeader(); err != nil {
		resourceMgr.Close()
		return nil, err
	}
	if err := p.loadSchema(context.Background()); err != nil {
		resourceMgr.Close()
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"page_size":      p.pageSize,
		"schema_objects": len(p.schemaTable),
	}).Debug("database opened")

	return p, nil
}

// Close releases the underlying file handle
func (p *Pager) Close() error {
	return p.resourceMgr.Close()
}

// Header returns the parsed database header
func (p *Pager) Header() *DatabaseHeader {
	return p.header
}

// PageSize returns the database page size in bytes
func (p *Pager) PageSize() int {
	return p.pageSize
}

// RootPage returns the decoded page 1, the sqlite_schema root
func (p *Pager) RootPage() *Page {
	return p.rootPage
}

// SchemaTable returns the materialised sqlite_schema rows
func (p *Pager) SchemaTable() []SchemaRecord {
	return p.schemaTable
}

// parseHeader reads and validates the 100-byte database header
func (p *Pager) parseHeader() error {
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return NewDatabaseError("seek_database_header", err, nil)
	}

	header := &DatabaseHeader{}
	if err := binary.Read(p.file, binary.BigEndian, header); err != nil {
		return NewDatabaseError("read_database_header", err, nil)
	}

	if !header.IsValidMagicNumber() {
		return NewDatabaseError("validate_magic_number", ErrInvalidDatabase, map[string]interface{}{
			"magic": string(bytes.TrimRight(header.MagicNumber[:], "\x00")),
		})
	}

	pageSize := header.ActualPageSize()
	if pageSize < 512 || pageSize > 65536 || pageSize&(pageSize-1) != 0 {
		return NewDatabaseError("validate_page_size", ErrInvalidDatabase, map[string]interface{}{
			"page_size": pageSize,
		})
	}

	p.header = header
	p.pageSize = pageSize
	return nil
}

// ReadPage reads and decodes the 1-indexed page n, serving repeats from the
// cache. Page buffers are owned by the cache; callers must not mutate the
// returned page.
func (p *Pager) ReadPage(ctx context.Context, pageNum uint32) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewDatabaseError("read_page", err, map[string]interface{}{
			"page": pageNum,
		})
	}
	if pageNum == 0 {
		return nil, NewDatabaseError("read_page", ErrInvalidDatabase, map[string]interface{}{
			"page": pageNum,
		})
	}

	if page, ok := p.cache[pageNum]; ok {
		p.log.WithField("page", pageNum).Trace("page cache hit")
		return page, nil
	}

	offset := int64(pageNum-1) * int64(p.pageSize)
	buf := make([]byte, p.pageSize)
	n, err := p.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, NewDatabaseError("read_page", err, map[string]interface{}{
			"page":   pageNum,
			"offset": offset,
		})
	}
	if n != p.pageSize {
		return nil, NewDatabaseError("read_page", ErrTruncated, map[string]interface{}{
			"page":     pageNum,
			"expected": p.pageSize,
			"got":      n,
		})
	}

	page, err := decodePage(buf, pageNum)
	if err != nil {
		return nil, err
	}

	p.insert(pageNum, page)
	return page, nil
}

// insert adds a page to the cache, evicting the oldest entry when a cap is
// configured.
func (p *Pager) insert(pageNum uint32, page *Page) {
	if p.cacheCap > 0 && len(p.cache) >= p.cacheCap {
		oldest := p.cacheOrder[0]
		p.cacheOrder = p.cacheOrder[1:]
		delete(p.cache, oldest)
		p.log.WithField("page", oldest).Trace("page cache eviction")
	}
	p.cache[pageNum] = page
	p.cacheOrder = append(p.cacheOrder, pageNum)
}

// loadSchema decodes every cell on page 1 as a table-leaf cell and builds
// the schema table. A sqlite_schema tree that spills past page 1 is a known
// feature boundary.
func (p *Pager) loadSchema(ctx context.Context) error {
	rootPage, err := p.ReadPage(ctx, 1)
	if err != nil {
		return err
	}
	p.rootPage = rootPage

	if !rootPage.Header.IsLeafTable() {
		return NewDatabaseError("load_schema", ErrUnimplemented, map[string]interface{}{
			"reason":    "sqlite_schema spans multiple pages",
			"page_type": rootPage.Header.PageType,
		})
	}

	cells, err := rootPage.tableLeafCells()
	if err != nil {
		return err
	}

	p.schemaTable = make([]SchemaRecord, 0, len(cells))
	for i, cell := range cells {
		record, err := NewSchemaRecord(&cell)
		if err != nil {
			return NewDatabaseError("parse_schema_record", err, map[string]interface{}{
				"cell_index": i,
			})
		}
		p.schemaTable = append(p.schemaTable, *record)
	}

	return nil
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// SqliteEngine ties the pager, the query engine, and the dot-commands
// together behind a single command entry point.
type SqliteEngine struct {
	pager     *Pager
	query     *QueryEngine
	formatter OutputFormatter
	log       *logrus.Entry
}

// NewSqliteEngine opens the database file and wires up the engine
func NewSqliteEngine(dbPath string, options ...EngineOption) (*SqliteEngine, error) {
	cfg := DefaultEngineConfig()
	for _, opt := range options {
		opt(cfg)
	}

	formatter, err := NewFormatter(cfg.Output)
	if err != nil {
		return nil, err
	}

	pager, err := NewPager(dbPath, options...)
	if err != nil {
		return nil, err
	}

	return &SqliteEngine{
		pager:     pager,
		query:     NewQueryEngine(pager, formatter),
		formatter: formatter,
		log:       logrus.WithField("component", "engine"),
	}, nil
}

// Close releases the engine's resources
func (e *SqliteEngine) Close() error {
	return e.pager.Close()
}

// ExecuteCommand runs a dot-command or SQL query and returns its output. A
// query failure does not poison the pager; the engine stays usable.
func (e *SqliteEngine) ExecuteCommand(ctx context.Context, command string) (string, error) {
	switch command {
	case ".dbinfo":
		return e.dbInfo(), nil
	case ".tables":
		return e.tableNames(), nil
	case ".indexes":
		return e.indexNames(), nil
	default:
		return e.runSQL(ctx, command)
	}
}

// dbInfo reports the page size and the cell count of the sqlite_schema root
func (e *SqliteEngine) dbInfo() string {
	return fmt.Sprintf("database page size: %v\nnumber of tables: %v",
		e.pager.PageSize(), e.pager.RootPage().Header.CellCount)
}

// tableNames lists user tables, skipping internal objects whose table name
// starts with "sql".
func (e *SqliteEngine) tableNames() string {
	var names []string
	for _, record := range e.pager.SchemaTable() {
		if record.Type == ObjectTypeTable && !strings.HasPrefix(record.TblName, "sql") {
			names = append(names, record.TblName)
		}
	}
	return strings.Join(names, " ")
}

// indexNames lists index objects from the schema
func (e *SqliteEngine) indexNames() string {
	var names []string
	for _, record := range e.pager.SchemaTable() {
		if record.Type == ObjectTypeIndex {
			names = append(names, record.Name)
		}
	}
	return strings.Join(names, " ")
}

func (e *SqliteEngine) runSQL(ctx context.Context, sql string) (string, error) {
	query, err := ParseQuery(sql)
	if err != nil {
		return "", err
	}

	e.log.WithFields(logrus.Fields{
		"table":    query.Table,
		"filtered": query.Where != nil,
	}).Debug("executing query")

	return e.query.RunQuery(ctx, query)
}

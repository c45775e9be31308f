package main

import (
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Schema object types stored in the first column of a sqlite_schema row
const (
	ObjectTypeTable   = "table"
	ObjectTypeIndex   = "index"
	ObjectTypeView    = "view"
	ObjectTypeTrigger = "trigger"
)

// SchemaRecord represents a row of the sqlite_schema table
type SchemaRecord struct {
	Type     string // "table", "index", "view", "trigger"
	Name     string // object name
	TblName  string // table the object belongs to
	RootPage uint32 // root page number, 1-indexed
	SQL      string // original CREATE statement
}

// NewSchemaRecord interprets a table-leaf cell from page 1 as a schema row.
func NewSchemaRecord(cell *TableLeafCell) (*SchemaRecord, error) {
	values := cell.Record.Values
	if len(values) < 5 {
		return nil, NewDatabaseError("new_schema_record", ErrInvalidSchema, map[string]interface{}{
			"column_count": len(values),
		})
	}

	rootPage := int64(0)
	if !values[3].IsNull() {
		page, err := values[3].Int64()
		if err != nil {
			return nil, NewDatabaseError("new_schema_record", err, nil)
		}
		rootPage = page
	}

	return &SchemaRecord{
		Type:     values[0].String(),
		Name:     values[1].String(),
		TblName:  values[2].String(),
		RootPage: uint32(rootPage),
		SQL:      values[4].String(),
	}, nil
}

// SchemaObject carries a schema row plus the ordered column definitions
// parsed from its CREATE statement.
type SchemaObject struct {
	Name     string
	TblName  string
	RootPage uint32
	Columns  []Column
}

// NewSchemaObject builds a SchemaObject from a schema record. For tables the
// columns come from the CREATE TABLE column list; for indexes they are the
// indexed columns in declaration order.
func NewSchemaObject(record *SchemaRecord) (*SchemaObject, error) {
	var columns []Column
	var err error
	if record.Type == ObjectTypeIndex {
		columns, err = extractIndexColumns(record.SQL)
	} else {
		columns, err = extractColumns(record.SQL)
	}
	if err != nil {
		return nil, err
	}

	return &SchemaObject{
		Name:     record.Name,
		TblName:  record.TblName,
		RootPage: record.RootPage,
		Columns:  columns,
	}, nil
}

// ColumnNames returns the ordered column names
func (obj *SchemaObject) ColumnNames() []string {
	names := make([]string, len(obj.Columns))
	for i, col := range obj.Columns {
		names[i] = col.Name
	}
	return names
}

// IsIntegerPrimaryKey reports whether the column at idx is declared INTEGER
// PRIMARY KEY, in which case its stored value is Null and aliases the row-id.
func (obj *SchemaObject) IsIntegerPrimaryKey(idx int) bool {
	if idx < 0 || idx >= len(obj.Columns) {
		return false
	}
	typeDef := obj.Columns[idx].TypeDef
	return strings.Contains(typeDef, "primary key") && strings.Contains(typeDef, "int")
}

// findColumnIndex returns the position of name in the ordered column list.
func findColumnIndex(columns []Column, name string) (int, error) {
	for i, col := range columns {
		if strings.EqualFold(col.Name, name) {
			return i, nil
		}
	}
	return 0, NewDatabaseError("find_column", ErrColumnNotFound, map[string]interface{}{
		"column_name": name,
	})
}

// columnListPattern captures the parenthesised column list of a CREATE
// statement. The simple splitter does not survive commas embedded in type
// parameters like DECIMAL(10,2).
var columnListPattern = regexp.MustCompile(`\((.*)\)`)

// extractColumns parses the column list of a CREATE TABLE statement. The DDL
// is handed to sqlparser after normalisation; the whitespace splitter covers
// statements sqlparser rejects and supplies the raw constraint clauses.
func extractColumns(createSQL string) ([]Column, error) {
	splitCols, splitErr := splitColumnDefs(createSQL)

	if cols, err := parseCreateTable(createSQL); err == nil {
		if splitErr == nil && len(splitCols) == len(cols) {
			for i := range cols {
				cols[i].TypeDef = splitCols[i].TypeDef
			}
		}
		return cols, nil
	}

	if splitErr != nil {
		return nil, splitErr
	}
	return splitCols, nil
}

// parseCreateTable extracts column definitions via sqlparser.
func parseCreateTable(createSQL string) ([]Column, error) {
	stmt, err := sqlparser.Parse(normalizeSQLiteToMySQL(createSQL))
	if err != nil {
		return nil, NewDatabaseError("parse_schema_sql", err, map[string]interface{}{
			"schema_sql": createSQL,
		})
	}

	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok || ddl.Action != "create" || ddl.TableSpec == nil {
		return nil, NewDatabaseError("parse_schema_sql", ErrInvalidSchema, map[string]interface{}{
			"schema_sql": createSQL,
		})
	}

	columns := make([]Column, len(ddl.TableSpec.Columns))
	for i, col := range ddl.TableSpec.Columns {
		typeDef := strings.ToLower(col.Type.Type)
		if bool(col.Type.Autoincrement) {
			typeDef += " primary key autoincrement"
		}
		columns[i] = Column{
			Name:    strings.ToLower(col.Name.String()),
			TypeDef: typeDef,
			Index:   i,
		}
	}
	return columns, nil
}

// normalizeSQLiteToMySQL converts SQLite-specific syntax into a form the
// MySQL-dialect sqlparser accepts.
func normalizeSQLiteToMySQL(sql string) string {
	normalized := strings.ReplaceAll(sql, `"`, "")
	normalized = strings.ReplaceAll(normalized, "primary key autoincrement", "AUTO_INCREMENT PRIMARY KEY")
	normalized = strings.ReplaceAll(normalized, "PRIMARY KEY AUTOINCREMENT", "AUTO_INCREMENT PRIMARY KEY")
	return strings.TrimSpace(normalized)
}

// splitColumnDefs is the best-effort extraction: find the parenthesised
// list, split on commas, first token is the name and the remainder is the
// lowercased, whitespace-normalised type/constraint clause.
func splitColumnDefs(createSQL string) ([]Column, error) {
	normalized := strings.TrimSpace(strings.Join(strings.Fields(createSQL), " "))

	match := columnListPattern.FindStringSubmatch(normalized)
	if match == nil {
		return nil, NewDatabaseError("split_column_defs", ErrInvalidSchema, map[string]interface{}{
			"schema_sql": createSQL,
		})
	}

	defs := strings.Split(match[1], ",")
	columns := make([]Column, 0, len(defs))
	for i, def := range defs {
		parts := strings.SplitN(strings.TrimSpace(def), " ", 2)
		if parts[0] == "" {
			return nil, NewDatabaseError("split_column_defs", ErrInvalidSchema, map[string]interface{}{
				"definition": def,
			})
		}
		typeDef := ""
		if len(parts) == 2 {
			typeDef = strings.ToLower(strings.TrimSpace(parts[1]))
		}
		columns = append(columns, Column{
			Name:    strings.ToLower(strings.Trim(parts[0], `"`)),
			TypeDef: typeDef,
			Index:   i,
		})
	}
	return columns, nil
}

// extractIndexColumns parses the indexed column list of a CREATE INDEX
// statement, in declaration order.
func extractIndexColumns(createSQL string) ([]Column, error) {
	normalized := strings.Join(strings.Fields(createSQL), " ")
	match := columnListPattern.FindStringSubmatch(normalized)
	if match == nil {
		return nil, NewDatabaseError("extract_index_columns", ErrInvalidSchema, map[string]interface{}{
			"schema_sql": createSQL,
		})
	}

	names := strings.Split(match[1], ",")
	columns := make([]Column, 0, len(names))
	for i, name := range names {
		trimmed := strings.ToLower(strings.Trim(strings.TrimSpace(name), `"`))
		if trimmed == "" {
			return nil, NewDatabaseError("extract_index_columns", ErrInvalidSchema, map[string]interface{}{
				"schema_sql": createSQL,
			})
		}
		columns = append(columns, Column{Name: trimmed, Index: i})
	}
	return columns, nil
}

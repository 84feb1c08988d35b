// Package recording persists finalized profiling results into a SQLite
// database. It consumes the stats structure the profiling engine produces
// and performs no cross-session aggregation.
package recording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// A Recorder stores flat struct entries into named tables.
type Recorder interface {
	// CreateTable creates a table shaped after sampleEntry's fields.
	CreateTable(tableName string, sampleEntry any)

	// Insert buffers one entry for the named table.
	Insert(tableName string, entry any)

	// ListTables returns the names of all created tables.
	ListTables() []string

	// Flush writes all buffered entries to the database.
	Flush()

	// Close flushes and releases the database.
	Close() error
}

const defaultBatchSize = 100000

// NewRecorder creates a Recorder backed by a SQLite file at path. An empty
// path picks a unique file name in the working directory.
func NewRecorder(path string) Recorder {
	if path == "" {
		path = "loopscope_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	return newRecorderWithDB(db)
}

// NewRecorderWithDB creates a Recorder over an existing database handle.
func NewRecorderWithDB(db *sql.DB) Recorder {
	return newRecorderWithDB(db)
}

func newRecorderWithDB(db *sql.DB) Recorder {
	r := &sqliteRecorder{
		db:        db,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { r.Flush() })

	return r
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteRecorder struct {
	db        *sql.DB
	tables    map[string]*table
	batchSize int
	buffered  int
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	mustBeFlatStruct(sampleEntry)

	fields := strings.Join(structs.Names(sampleEntry), ",\n\t")
	r.mustExecute(
		"CREATE TABLE " + tableName + " (\n\t" + fields + "\n);")

	r.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}
}

func (r *sqliteRecorder) Insert(tableName string, entry any) {
	t, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	t.entries = append(t.entries, entry)

	r.buffered++
	if r.buffered >= r.batchSize {
		r.Flush()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}

func (r *sqliteRecorder) Flush() {
	if r.buffered == 0 {
		return
	}

	r.mustExecute("BEGIN TRANSACTION")
	defer r.mustExecute("COMMIT TRANSACTION")

	for tableName, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		stmt := r.prepareInsert(tableName, t.entries[0])
		for _, entry := range t.entries {
			values := fieldValues(entry)
			if _, err := stmt.Exec(values...); err != nil {
				panic(err)
			}
		}
		stmt.Close()

		t.entries = nil
	}

	r.buffered = 0
}

func (r *sqliteRecorder) Close() error {
	r.Flush()
	return r.db.Close()
}

func (r *sqliteRecorder) mustExecute(query string) sql.Result {
	res, err := r.db.Exec(query)
	if err != nil {
		panic(fmt.Errorf("executing %q: %w", query, err))
	}
	return res
}

func (r *sqliteRecorder) prepareInsert(tableName string, sampleEntry any) *sql.Stmt {
	placeholders := make([]string, len(structs.Names(sampleEntry)))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmt, err := r.db.Prepare(
		"INSERT INTO " + tableName +
			" VALUES (" + strings.Join(placeholders, ", ") + ")")
	if err != nil {
		panic(err)
	}

	return stmt
}

func fieldValues(entry any) []any {
	v := reflect.ValueOf(entry)
	values := make([]any, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		values = append(values, v.Field(i).Interface())
	}
	return values
}

func mustBeFlatStruct(entry any) {
	t := reflect.TypeOf(entry)
	if t.Kind() != reflect.Struct {
		panic("table entries must be structs")
	}

	for i := 0; i < t.NumField(); i++ {
		switch t.Field(i).Type.Kind() {
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16,
			reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64,
			reflect.String:
		default:
			panic(fmt.Sprintf(
				"field %s has unsupported type %s",
				t.Field(i).Name, t.Field(i).Type))
		}
	}
}

// Package datarecording stores simulation records in databases.
//
// A record is a flat struct. Every exported field becomes a column named
// after the field; only scalar fields (booleans, numbers, and strings) are
// accepted.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a table whose columns follow the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables created so far.
	ListTables() []string

	// Flush writes the buffered entries.
	Flush()
}

const defaultBatchSize = 100000

// New creates a DataRecorder that writes into the SQLite file
// path + ".sqlite3". An empty path picks a unique name. The file must not
// exist yet. Buffered entries are flushed when the program exits through
// atexit.
func New(path string) DataRecorder {
	if path == "" {
		path = "memsim_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	return NewWithDB(db)
}

// NewWithDB creates a DataRecorder that writes into an open SQLite
// database.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		DB:        db,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	name       string
	structType reflect.Type
	entries    []any
}

type sqliteWriter struct {
	*sql.DB

	lock       sync.Mutex
	tables     map[string]*table
	tableOrder []string
	batchSize  int
	entryCount int
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

// columnsOf returns the exported scalar fields of a record type. It panics
// on any other field, so that bad records fail at CreateTable.
func columnsOf(t reflect.Type) []reflect.StructField {
	if t.Kind() != reflect.Struct {
		panic(fmt.Errorf("entry of type %s is not a struct", t))
	}

	fields := make([]reflect.StructField, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)

		if !f.IsExported() {
			panic(fmt.Errorf("field %s of %s is not exported", f.Name, t))
		}

		if !isAllowedKind(f.Type.Kind()) {
			panic(fmt.Errorf("field %s of %s has unsupported type %s",
				f.Name, t, f.Type))
		}

		fields = append(fields, f)
	}

	if len(fields) == 0 {
		panic(fmt.Errorf("entry of type %s has no field", t))
	}

	return fields
}

func valuesOf(entry any) []any {
	v := reflect.ValueOf(entry)
	values := make([]any, v.NumField())

	for i := range values {
		values[i] = v.Field(i).Interface()
	}

	return values
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	t := reflect.TypeOf(sampleEntry)
	fields := columnsOf(t)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	w.mustExecute("CREATE TABLE " + tableName +
		" (\n\t" + strings.Join(names, ", \n\t") + "\n);")

	w.tables[tableName] = &table{name: tableName, structType: t}
	w.tableOrder = append(w.tableOrder, tableName)
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()

	t, exists := w.tables[tableName]
	if !exists {
		w.lock.Unlock()
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		w.lock.Unlock()
		panic(fmt.Sprintf("table %s stores %s, not %T",
			tableName, t.structType, entry))
	}

	t.entries = append(t.entries, entry)
	w.entryCount++
	full := w.entryCount >= w.batchSize

	w.lock.Unlock()

	if full {
		w.Flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	return append([]string(nil), w.tableOrder...)
}

func (w *sqliteWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.entryCount == 0 {
		return
	}

	tx, err := w.Begin()
	if err != nil {
		panic(err)
	}

	for _, name := range w.tableOrder {
		t := w.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		w.insertAll(tx, t)
		t.entries = nil
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	w.entryCount = 0
}

func (w *sqliteWriter) insertAll(tx *sql.Tx, t *table) {
	marks := strings.TrimSuffix(
		strings.Repeat("?, ", t.structType.NumField()), ", ")

	stmt, err := tx.Prepare("INSERT INTO " + t.name + " VALUES (" + marks + ")")
	if err != nil {
		panic(err)
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		if _, err := stmt.Exec(valuesOf(entry)...); err != nil {
			panic(err)
		}
	}
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

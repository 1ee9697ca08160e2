// Package layoutdb records linked dispatch table layouts in SQLite so
// layouts can be compared across runs and inspected offline.
package layoutdb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/classlink/linker"
)

var log = commonlog.GetLogger("classlink.layoutdb")

// ErrLayoutNotFound indicates no layout is recorded for the class.
var ErrLayoutNotFound = errors.New("layout not found")

var schema = []string{`
CREATE TABLE IF NOT EXISTS classes (
	context    TEXT NOT NULL,
	descriptor TEXT NOT NULL,
	file       TEXT NOT NULL,
	super      TEXT NOT NULL,
	PRIMARY KEY (context, descriptor)
)`, `
CREATE TABLE IF NOT EXISTS vtable_slots (
	context    TEXT NOT NULL,
	descriptor TEXT NOT NULL,
	slot       INTEGER NOT NULL,
	method     TEXT NOT NULL,
	PRIMARY KEY (context, descriptor, slot)
)`, `
CREATE TABLE IF NOT EXISTS itable_slots (
	context    TEXT NOT NULL,
	descriptor TEXT NOT NULL,
	entry      INTEGER NOT NULL,
	iface      TEXT NOT NULL,
	slot       INTEGER NOT NULL,
	method     TEXT NOT NULL,
	PRIMARY KEY (context, descriptor, entry, slot)
)`}

// Layout is the recorded shape of one linked class.
type Layout struct {
	Context    string
	Descriptor string
	File       string
	Super      string
	VTable     []string
	ITable     []Entry
}

// Entry is one itable entry. An empty Methods slice is an entry with
// no slots, as in interface itables.
type Entry struct {
	Interface string
	Methods   []string
}

// Snapshot captures the layout of c as recorded under context.
func Snapshot(context string, c *linker.Class) *Layout {
	l := &Layout{Context: context, Descriptor: c.Descriptor()}
	if f := c.File(); f != nil {
		l.File = f.Filename()
	}
	if s := c.Superclass(); s != nil {
		l.Super = s.Descriptor()
	}
	for _, m := range c.VTable().Methods() {
		l.VTable = append(l.VTable, m.String())
	}
	for _, e := range c.ITable().Entries() {
		entry := Entry{Interface: e.Interface.Descriptor()}
		for _, m := range e.Methods {
			entry.Methods = append(entry.Methods, m.String())
		}
		l.ITable = append(l.ITable, entry)
	}
	return l
}

// Equal reports whether two layouts describe the same tables.
func (l *Layout) Equal(o *Layout) bool {
	if l.Descriptor != o.Descriptor || l.Super != o.Super ||
		len(l.VTable) != len(o.VTable) || len(l.ITable) != len(o.ITable) {
		return false
	}
	for i := range l.VTable {
		if l.VTable[i] != o.VTable[i] {
			return false
		}
	}
	for i, e := range l.ITable {
		oe := o.ITable[i]
		if e.Interface != oe.Interface || len(e.Methods) != len(oe.Methods) {
			return false
		}
		for j := range e.Methods {
			if e.Methods[j] != oe.Methods[j] {
				return false
			}
		}
	}
	return true
}

// Store handles SQLite storage for layouts.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the layout database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}
	log.Debugf("opened layout database %s", path)
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores the layout of c under context, replacing any earlier one.
func (s *Store) Record(context string, c *linker.Class) error {
	return s.Put(Snapshot(context, c))
}

// Put stores l, replacing any layout recorded for the same class.
func (s *Store) Put(l *Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"classes", "vtable_slots", "itable_slots"} {
		q := "DELETE FROM " + table + " WHERE context = ? AND descriptor = ?"
		if _, err := tx.Exec(q, l.Context, l.Descriptor); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO classes (context, descriptor, file, super) VALUES (?, ?, ?, ?)",
		l.Context, l.Descriptor, l.File, l.Super,
	); err != nil {
		return fmt.Errorf("saving class: %w", err)
	}
	for i, m := range l.VTable {
		if _, err := tx.Exec(
			"INSERT INTO vtable_slots (context, descriptor, slot, method) VALUES (?, ?, ?, ?)",
			l.Context, l.Descriptor, i, m,
		); err != nil {
			return fmt.Errorf("saving vtable slot %d: %w", i, err)
		}
	}
	for i, e := range l.ITable {
		// Slot -1 keeps entries without slots.
		if len(e.Methods) == 0 {
			if _, err := tx.Exec(
				"INSERT INTO itable_slots (context, descriptor, entry, iface, slot, method) VALUES (?, ?, ?, ?, -1, '')",
				l.Context, l.Descriptor, i, e.Interface,
			); err != nil {
				return fmt.Errorf("saving itable entry %d: %w", i, err)
			}
			continue
		}
		for j, m := range e.Methods {
			if _, err := tx.Exec(
				"INSERT INTO itable_slots (context, descriptor, entry, iface, slot, method) VALUES (?, ?, ?, ?, ?, ?)",
				l.Context, l.Descriptor, i, e.Interface, j, m,
			); err != nil {
				return fmt.Errorf("saving itable slot %d.%d: %w", i, j, err)
			}
		}
	}
	return tx.Commit()
}

// Layout retrieves the layout recorded for descriptor under context.
func (s *Store) Layout(context, descriptor string) (*Layout, error) {
	l := &Layout{Context: context, Descriptor: descriptor}
	err := s.db.QueryRow(
		"SELECT file, super FROM classes WHERE context = ? AND descriptor = ?",
		context, descriptor,
	).Scan(&l.File, &l.Super)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLayoutNotFound
		}
		return nil, fmt.Errorf("querying class: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT method FROM vtable_slots WHERE context = ? AND descriptor = ? ORDER BY slot",
		context, descriptor,
	)
	if err != nil {
		return nil, fmt.Errorf("querying vtable: %w", err)
	}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning vtable: %w", err)
		}
		l.VTable = append(l.VTable, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading vtable: %w", err)
	}

	rows, err = s.db.Query(
		"SELECT entry, iface, slot, method FROM itable_slots WHERE context = ? AND descriptor = ? ORDER BY entry, slot",
		context, descriptor,
	)
	if err != nil {
		return nil, fmt.Errorf("querying itable: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry, slot   int
			iface, method string
		)
		if err := rows.Scan(&entry, &iface, &slot, &method); err != nil {
			return nil, fmt.Errorf("scanning itable: %w", err)
		}
		for len(l.ITable) <= entry {
			l.ITable = append(l.ITable, Entry{})
		}
		l.ITable[entry].Interface = iface
		if slot >= 0 {
			l.ITable[entry].Methods = append(l.ITable[entry].Methods, method)
		}
	}
	return l, rows.Err()
}

// Classes returns the descriptors recorded under context, sorted.
func (s *Store) Classes(context string) ([]string, error) {
	rows, err := s.db.Query("SELECT descriptor FROM classes WHERE context = ? ORDER BY descriptor", context)
	if err != nil {
		return nil, fmt.Errorf("querying classes: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning classes: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Compare checks the layout of c against the recorded one. It returns
// ErrLayoutNotFound if nothing was recorded.
func (s *Store) Compare(context string, c *linker.Class) (bool, error) {
	want, err := s.Layout(context, c.Descriptor())
	if err != nil {
		return false, err
	}
	return Snapshot(context, c).Equal(want), nil
}

package records

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeDB is a scripted database/sql driver. Queries are answered by the
// first rule whose match is a substring of the query text; every statement
// executed is kept in calls.
type fakeDB struct {
	mu         sync.Mutex
	rules      []rule
	failOn     string
	calls      []call
	nextID     int
	committed  bool
	rolledBack bool
}

type rule struct {
	match string
	cols  []string
	rows  [][]driver.Value
}

type call struct {
	query string
	args  []driver.Value
}

func newFakeStore(t *testing.T, db *fakeDB) *Store {
	t.Helper()
	conn := sql.OpenDB(db)
	t.Cleanup(func() { conn.Close() })
	return &Store{db: conn, log: zap.NewNop()}
}

func (f *fakeDB) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.query)
	}
	return out
}

func (f *fakeDB) record(query string, args []driver.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{query: query, args: args})
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return errors.New("simulated failure")
	}
	return nil
}

func (f *fakeDB) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: f}, nil }
func (f *fakeDB) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through sql.OpenDB")
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) { return &fakeStmt{db: c.db, query: query}, nil }
func (c *fakeConn) Close() error                              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)                 { return &fakeTx{db: c.db}, nil }

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rolledBack = true
	return nil
}

type fakeStmt struct {
	db    *fakeDB
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	if err := s.db.record(s.query, args); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	if err := s.db.record(s.query, args); err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if strings.Contains(s.query, "RETURNING id") {
		s.db.nextID++
		return &fakeRows{cols: []string{"id"}, rows: [][]driver.Value{{fmt.Sprintf("routine-%d", s.db.nextID)}}}, nil
	}
	for _, r := range s.db.rules {
		if strings.Contains(s.query, r.match) {
			return &fakeRows{cols: r.cols, rows: r.rows}, nil
		}
	}
	return &fakeRows{}, nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

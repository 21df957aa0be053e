package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"
)

// recordingDriver hands out connections that log every statement, so tests
// can check which session a statement ran on.
type recordingDriver struct {
	mu    sync.Mutex
	conns []*recordingConn
}

type recordingConn struct {
	mu    sync.Mutex
	execs []string
}

func (d *recordingDriver) Open(string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &recordingConn{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("begin not supported")
}

func (c *recordingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	return driver.RowsAffected(1), nil
}

func (c *recordingConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

var shardStub = &recordingDriver{}

func init() {
	sql.Register("shardstub", shardStub)
}

// Advisory locks are session-scoped: the lock, the guarded work's
// serialization point, and the unlock must all run on one connection. A
// statement from the pool sneaking onto the lock session, or the unlock
// landing on another session, would leak the lock.
func TestWithShardPinsAdvisoryLockSession(t *testing.T) {
	db, err := sql.Open("shardstub", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(4)

	pg := NewPostgresStore(db)
	err = pg.WithShard("transport|athens", func() error {
		// Pool traffic inside the critical section must not reuse the
		// lock-holding session.
		_, execErr := db.ExecContext(context.Background(), "SELECT 1")
		return execErr
	})
	if err != nil {
		t.Fatalf("with shard: %v", err)
	}

	shardStub.mu.Lock()
	conns := append([]*recordingConn(nil), shardStub.conns...)
	shardStub.mu.Unlock()

	var lockConn *recordingConn
	for _, conn := range conns {
		for _, statement := range conn.statements() {
			if strings.Contains(statement, "pg_advisory_lock") {
				lockConn = conn
			}
		}
	}
	if lockConn == nil {
		t.Fatalf("advisory lock never executed")
	}

	statements := lockConn.statements()
	if len(statements) != 2 ||
		!strings.Contains(statements[0], "pg_advisory_lock") ||
		!strings.Contains(statements[1], "pg_advisory_unlock") {
		t.Fatalf("lock session ran %q, want exactly lock then unlock", statements)
	}
}

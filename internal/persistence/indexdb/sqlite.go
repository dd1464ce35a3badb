// Package indexdb keeps a queryable SQLite index of submitted commands and
// accepted deltas. A secondary read model for inspection and tooling; the
// replication core never reads it back.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"vigilkeep.gg/internal/sim/authority"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqDelta
)

type req struct {
	kind reqKind

	audit authority.AuditRecord
	delta authority.DeltaRecord
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: bursty delta streams (area casts, drain ticks)
		// must not stall the authority loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commands (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			issuer TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_entity ON commands(entity_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_issuer ON commands(issuer, seq);`,
		`CREATE TABLE IF NOT EXISTS deltas (
			entity_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			field TEXT NOT NULL,
			old_json TEXT,
			new_json TEXT,
			PRIMARY KEY (entity_id, version)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deltas_field ON deltas(entity_id, field, version);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// WriteAudit implements authority.AuditLogger. Non-blocking: a full queue
// drops the row rather than stalling the authority.
func (s *SQLiteIndex) WriteAudit(rec authority.AuditRecord) error {
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: rec}:
	default:
	}
	return nil
}

// WriteDelta implements authority.DeltaLogger.
func (s *SQLiteIndex) WriteDelta(rec authority.DeltaRecord) error {
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqDelta, delta: rec}:
	default:
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqAudit:
			s.insertAudit(r.audit)
		case reqDelta:
			s.insertDelta(r.delta)
		}
	}
}

func (s *SQLiteIndex) insertAudit(rec authority.AuditRecord) {
	_, _ = s.db.Exec(
		`INSERT INTO commands (tick, recorded_at, issuer, entity_id, kind, ok, code)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Tick, time.Now().UTC().Format(time.RFC3339Nano),
		rec.Issuer, rec.EntityID, rec.Kind, boolInt(rec.OK), rec.Code,
	)
}

func (s *SQLiteIndex) insertDelta(rec authority.DeltaRecord) {
	_, _ = s.db.Exec(
		`INSERT OR IGNORE INTO deltas (entity_id, version, tick, recorded_at, field, old_json, new_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityID, rec.Version, rec.Tick,
		time.Now().UTC().Format(time.RFC3339Nano),
		rec.Field, jsonText(rec.Old), jsonText(rec.New),
	)
}

// Flush waits for queued rows to land. Test helper.
func (s *SQLiteIndex) Flush() {
	for len(s.ch) > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	// One more round trip so the row in flight commits too.
	time.Sleep(5 * time.Millisecond)
}

// CommandStats returns accepted/rejected counts per command kind.
func (s *SQLiteIndex) CommandStats() (map[string][2]int, error) {
	rows, err := s.db.Query(`SELECT kind, ok, COUNT(*) FROM commands GROUP BY kind, ok`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][2]int{}
	for rows.Next() {
		var kind string
		var ok, n int
		if err := rows.Scan(&kind, &ok, &n); err != nil {
			return nil, err
		}
		c := out[kind]
		if ok != 0 {
			c[0] = n
		} else {
			c[1] = n
		}
		out[kind] = c
	}
	return out, rows.Err()
}

// LatestVersion returns the highest recorded delta version for an entity.
func (s *SQLiteIndex) LatestVersion(entityID string) (uint64, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM deltas WHERE entity_id = ?`, entityID).Scan(&v)
	if err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return uint64(v.Int64), nil
}

func jsonText(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package recorder keeps a sqlite log of every applied server state, for
// inspecting desyncs after the fact.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zeusync/statesync/internal/core/gamestate/manager"
	"github.com/zeusync/statesync/internal/core/observability/log"
)

// Row is one applied state.
type Row struct {
	FromTick    uint32    `json:"from_tick"`
	ToTick      uint32    `json:"to_tick"`
	Bootstrap   bool      `json:"bootstrap"`
	Entities    int       `json:"entities"`
	Deletions   int       `json:"deletions"`
	Created     int       `json:"created"`
	Detached    int       `json:"detached"`
	PayloadSize int       `json:"payload_size"`
	LastInput   uint32    `json:"last_input"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type Recorder struct {
	db     *sql.DB
	logger log.Log
	now    func() time.Time

	mu      sync.RWMutex
	ch      chan Row
	wg      sync.WaitGroup
	once    sync.Once
	closed  bool
	pending atomic.Int64
	dropped atomic.Uint64
}

// Open creates the database at path if needed. ":memory:" keeps it in memory.
func Open(path string, logger log.Log) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err = initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := &Recorder{
		db:     db,
		logger: log.OrNop(logger).With(log.String("component", "net_recorder")),
		now:    time.Now,
		ch:     make(chan Row, 4096),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	return r, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS applied_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_tick INTEGER NOT NULL,
			to_tick INTEGER NOT NULL,
			bootstrap INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			deletions INTEGER NOT NULL,
			created INTEGER NOT NULL,
			detached INTEGER NOT NULL,
			payload_size INTEGER NOT NULL,
			last_input INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS applied_states_to_tick ON applied_states(to_tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// OnStateApplied queues ev for writing. It never blocks; rows are dropped when
// the writer falls behind. Use it as a manager subscriber.
func (r *Recorder) OnStateApplied(ev manager.StateApplied) error {
	if ev.Snapshot == nil {
		return nil
	}

	detached := 0
	for _, d := range ev.Detached {
		detached += len(d.Entities)
	}
	row := Row{
		FromTick:    uint32(ev.Snapshot.FromTick),
		ToTick:      uint32(ev.Snapshot.ToTick),
		Bootstrap:   ev.Bootstrap,
		Entities:    len(ev.Snapshot.EntityStates),
		Deletions:   len(ev.Snapshot.EntityDeletions),
		Created:     len(ev.Created),
		Detached:    detached,
		PayloadSize: ev.Snapshot.PayloadSize,
		LastInput:   ev.Snapshot.LastProcessedInput,
		RecordedAt:  r.now(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}

	r.pending.Add(1)
	select {
	case r.ch <- row:
	default:
		r.pending.Add(-1)
		r.dropped.Add(1)
	}
	return nil
}

// Dropped counts rows lost because the writer fell behind.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) loop() {
	insert, err := r.db.Prepare(`INSERT INTO applied_states(from_tick,to_tick,bootstrap,entities,deletions,created,detached,payload_size,last_input,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		r.logger.Error("Failed to prepare insert", log.Error(err))
		for range r.ch {
			r.pending.Add(-1)
			r.dropped.Add(1)
		}
		return
	}
	defer func() { _ = insert.Close() }()

	for row := range r.ch {
		_, err = insert.Exec(row.FromTick, row.ToTick, row.Bootstrap, row.Entities, row.Deletions,
			row.Created, row.Detached, row.PayloadSize, row.LastInput, row.RecordedAt.UnixNano())
		if err != nil {
			r.logger.Warn("Failed to record applied state", log.Uint32("to_tick", row.ToTick), log.Error(err))
		}
		r.pending.Add(-1)
	}
}

// Recent returns up to limit rows, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT from_tick,to_tick,bootstrap,entities,deletions,created,detached,payload_size,last_input,recorded_at
		FROM applied_states ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row Row
			at  int64
		)
		if err = rows.Scan(&row.FromTick, &row.ToTick, &row.Bootstrap, &row.Entities, &row.Deletions,
			&row.Created, &row.Detached, &row.PayloadSize, &row.LastInput, &at); err != nil {
			return nil, err
		}
		row.RecordedAt = time.Unix(0, at)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Flush waits until every queued row is written, or ctx is done.
func (r *Recorder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for r.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting rows, writes what is queued and closes the database.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
		r.wg.Wait()
		err = r.db.Close()
	})
	return err
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dialect adapts SQLSink to one database/sql driver.
type Dialect struct {
	// Driver is the registered database/sql driver name.
	Driver string
	// Schema statements run once at open, in order.
	Schema []string
	// Bind returns the placeholder for the n-th (1-based) argument.
	Bind func(n int) string
	// Order is the tie-breaker column for equal timestamps.
	Order string
	// MaxConns caps open connections; 0 leaves the driver default.
	MaxConns int
}

// SQLSink appends events to a server_history table and reads them back.
type SQLSink struct {
	db     *sql.DB
	insert string
	list   string
}

// OpenSQL opens dsn with d and applies its schema.
func OpenSQL(ctx context.Context, d Dialect, dsn string) (*SQLSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty " + d.Driver + " DSN")
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.MaxConns > 0 {
		db.SetMaxOpenConns(d.MaxConns)
	}
	for _, q := range d.Schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s schema: %w", d.Driver, err)
		}
	}
	binds := make([]string, 7)
	for i := range binds {
		binds[i] = d.Bind(i + 1)
	}
	return &SQLSink{
		db: db,
		insert: `INSERT INTO server_history(timestamp, event, server, run, status, players, message)
			VALUES(` + strings.Join(binds, ", ") + `)`,
		list: `SELECT timestamp, event, server, run, status, players, COALESCE(message, '')
			FROM server_history ORDER BY timestamp DESC, ` + d.Order + ` DESC LIMIT ` + d.Bind(1),
	}, nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	r := e.Record
	var msg any
	if r.Message != "" {
		msg = r.Message
	}
	_, err := s.db.ExecContext(ctx, s.insert,
		e.OccurredAt.UTC(), string(e.Type), r.Server, int64(r.Run), r.Status, int64(r.Players), msg)
	return err
}

// List returns up to limit events, newest first. limit <= 0 means 100.
func (s *SQLSink) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.list, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e            Event
			ts           time.Time
			typ          string
			run, players int64
		)
		if err := rows.Scan(&ts, &typ, &e.Record.Server, &run, &e.Record.Status, &players, &e.Record.Message); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.OccurredAt = ts.UTC()
		e.Record.Run = uint64(run)
		e.Record.Players = uint32(players)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error { return s.db.Close() }

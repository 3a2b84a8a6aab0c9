// Package clickhouse stores lifecycle history in a ClickHouse MergeTree table.
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/loykin/craftvisor/internal/history"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Options selects the server and table. Empty fields take ClickHouse
// defaults.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

type Sink struct {
	conn  driver.Conn
	table string
}

// New connects over the native protocol and pings the server.
func New(o Options) (*Sink, error) {
	if o.Addr == "" {
		o.Addr = "localhost:9000"
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.Table == "" {
		o.Table = "server_history"
	}
	if !tableName.MatchString(o.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", o.Table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:        []string{o.Addr},
		Auth:        clickhouse.Auth{Database: o.Database, Username: o.Username, Password: o.Password},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse %s: %w", o.Addr, err)
	}
	return &Sink{conn: conn, table: o.Table}, nil
}

// EnsureTable creates the history table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		type LowCardinality(String),
		occurred_at DateTime64(6, 'UTC'),
		server LowCardinality(String),
		run UInt64,
		status LowCardinality(String),
		players UInt32,
		message String
	) ENGINE = MergeTree()
	ORDER BY (server, occurred_at)`)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	err := s.conn.Exec(ctx,
		`INSERT INTO `+s.table+` (type, occurred_at, server, run, status, players, message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.OccurredAt.UTC(), r.Server, r.Run, r.Status, r.Players, r.Message)
	if err != nil {
		return fmt.Errorf("insert into ClickHouse %s: %w", s.table, err)
	}
	return nil
}

// List returns up to limit events, newest first. limit <= 0 means 100.
func (s *Sink) List(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx,
		`SELECT type, occurred_at, server, run, status, players, message FROM `+s.table+
			` ORDER BY occurred_at DESC LIMIT ?`, uint64(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e   history.Event
			typ string
		)
		if err := rows.Scan(&typ, &e.OccurredAt, &e.Record.Server, &e.Record.Run, &e.Record.Status, &e.Record.Players, &e.Record.Message); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error { return s.conn.Close() }

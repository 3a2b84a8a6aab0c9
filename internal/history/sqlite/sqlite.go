// Package sqlite stores lifecycle history in a SQLite file.
package sqlite

import (
	"context"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/craftvisor/internal/history"
)

var dialect = history.Dialect{
	Driver: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS server_history(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			server TEXT NOT NULL,
			run INTEGER NOT NULL,
			status TEXT NOT NULL,
			players INTEGER NOT NULL,
			message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_server_history_ts ON server_history(timestamp)`,
	},
	Bind:  func(int) string { return "?" },
	Order: "rowid",
	// every :memory: connection is its own database
	MaxConns: 1,
}

type Sink struct {
	*history.SQLSink
}

// New opens "sqlite:///path/file.db", "sqlite://:memory:", a bare path or
// ":memory:".
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if len(dsn) >= len("sqlite://") && strings.EqualFold(dsn[:len("sqlite://")], "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	s, err := history.OpenSQL(context.Background(), dialect, dsn)
	if err != nil {
		return nil, err
	}
	return &Sink{s}, nil
}

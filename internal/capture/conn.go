package capture

import (
	"context"
	"database/sql"
)

// Conn decorates a session's active connection. It implements Executor.
type Conn struct {
	session  *Session
	category string
}

// WithCategory returns a Conn tagging its statements with category, so
// introspection queries can be kept out of artifacts.
func (c *Conn) WithCategory(category string) *Conn {
	return &Conn{session: c.session, category: category}
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := c.prepare(query)
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := c.prepare(query)
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

func (c *Conn) prepare(query string) (Executor, error) {
	conn := c.session.Connection()
	if conn == nil {
		return nil, ErrNoConnection
	}
	if err := c.session.Capture(query, c.category); err != nil {
		return nil, err
	}
	return conn, nil
}

var _ Executor = (*Conn)(nil)
var _ Executor = (*Session)(nil)

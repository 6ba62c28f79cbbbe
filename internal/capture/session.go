package capture

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrNoConnection = errors.New("capture session has no active connection")

// Executor is the statement execution contract shared by *sql.DB, *sql.Tx
// and *sql.Conn.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Pool hands out dedicated connections. *sql.DB satisfies it.
type Pool interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// NamedPool is a pool whose name labels the statements run against it.
type NamedPool struct {
	Name string
	Pool Pool
}

// Session is the capture state of one execution context: where captured SQL
// goes, whether capture is enabled, and which connection statements run on.
// A Session must not be shared between goroutines.
type Session struct {
	stream  io.Writer
	enabled bool
	conn    Executor
	logger  log.FieldLogger
}

func NewSession(conn Executor, logger log.FieldLogger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		enabled: true,
		conn:    conn,
		logger:  logger,
	}
}

// SetStream installs w as the capture stream and returns the previous one.
// Callers restore the previous stream when they are done.
func (s *Session) SetStream(w io.Writer) io.Writer {
	prev := s.stream
	s.stream = w
	return prev
}

func (s *Session) Stream() io.Writer {
	return s.stream
}

// Enabled is true unless capture was disabled by an enclosing RunDisabled.
func (s *Session) Enabled() bool {
	return s.enabled
}

// RunDisabled runs fn with capture turned off. Statements run by fn still
// reach the database.
func (s *Session) RunDisabled(fn func() error) error {
	return s.runWith(false, fn)
}

// RunEnabled runs fn with capture turned on, e.g. inside a RunDisabled block.
func (s *Session) RunEnabled(fn func() error) error {
	return s.runWith(true, fn)
}

func (s *Session) runWith(enabled bool, fn func() error) error {
	prev := s.setEnabled(enabled)
	defer s.setEnabled(prev)
	return fn()
}

func (s *Session) setEnabled(enabled bool) bool {
	prev := s.enabled
	s.enabled = enabled
	return prev
}

// Connection returns the connection statements are currently sent to.
func (s *Session) Connection() Executor {
	return s.conn
}

// SwitchConnection runs fn with conn as the active connection. Statements
// issued inside fn are still captured to the current stream; when label is
// not empty they are framed by BEGIN/END comments.
func (s *Session) SwitchConnection(conn Executor, label string, fn func() error) error {
	prev := s.conn
	s.conn = conn
	defer func() { s.conn = prev }()

	if err := s.frame("BEGIN", label); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return s.frame("END", label)
}

// UsingPool borrows a connection from p for the duration of fn. The label
// defaults to the pool name.
func (s *Session) UsingPool(ctx context.Context, p NamedPool, label string, fn func() error) (err error) {
	if label == "" {
		label = p.Name
	}
	conn, err := p.Pool.Conn(ctx)
	if err != nil {
		return errors.Wrapf(err, "acquire connection from %s", p.Name)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "release connection to %s", p.Name)
		}
	}()
	return s.SwitchConnection(conn, label, fn)
}

func (s *Session) frame(marker, label string) error {
	if label == "" || s.stream == nil {
		return nil
	}
	if _, err := fmt.Fprintf(s.stream, "-- %s %s\n\n", marker, label); err != nil {
		return errors.Wrap(err, "write capture framing")
	}
	return nil
}

// Capture writes stmt to the active stream unless capture is disabled, no
// stream is installed or the statement is filtered out.
func (s *Session) Capture(stmt, category string) error {
	if s.stream == nil || !s.enabled {
		return nil
	}
	text, ok := Format(stmt, category)
	if !ok {
		s.logger.WithField("category", category).Debug("statement suppressed")
		return nil
	}
	if _, err := io.WriteString(s.stream, text); err != nil {
		return errors.Wrap(err, "write captured statement")
	}
	return nil
}

// Conn returns an executor that captures every statement before running it
// on the active connection.
func (s *Session) Conn() *Conn {
	return &Conn{session: s}
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.Conn().ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.Conn().QueryContext(ctx, query, args...)
}

type sessionKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

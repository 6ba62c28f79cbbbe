package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gomigrator/internal/domain"
)

const (
	headerFormat = "--\n-- %s : %d\n--\n\n"
	footerFormat = "INSERT INTO schema_versions (VERSION) VALUES %d;\n"
)

// Config turns capture on. It is read-only once the interceptor is built.
type Config struct {
	Directory    string
	StartingWith int64
}

// Interceptor wraps each migration run and records the SQL of captured runs
// into one artifact per migration. A nil config disables capture.
type Interceptor struct {
	config *Config
	logger log.FieldLogger
	create func(path string) (io.WriteCloser, error)
}

func createFile(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func NewInterceptor(config *Config, logger log.FieldLogger) *Interceptor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Interceptor{config: config, logger: logger, create: createFile}
}

var (
	snakeName      = regexp.MustCompile(`^[a-z0-9_]+$`)
	acronymWord    = regexp.MustCompile(`([A-Z\d]+)([A-Z][a-z])`)
	lowerUpper     = regexp.MustCompile(`([a-z\d])([A-Z])`)
	nameSeparators = strings.NewReplacer("-", "_", " ", "_")
)

// underscore lower-snake-cases a CamelCase name. Digits stay attached to the
// word before them; names that are already snake_case are returned as is.
func underscore(name string) string {
	if snakeName.MatchString(name) {
		return name
	}
	name = acronymWord.ReplaceAllString(name, "${1}_${2}")
	name = lowerUpper.ReplaceAllString(name, "${1}_${2}")
	return strings.ToLower(nameSeparators.Replace(name))
}

// ArtifactName is the file name of the artifact for m.
func ArtifactName(m domain.Migration) string {
	return fmt.Sprintf("%d_%s.sql", m.Version, underscore(m.Name))
}

// ArtifactPath returns the artifact location of m, or "" when capture is off.
func (i *Interceptor) ArtifactPath(m domain.Migration) string {
	if i.config == nil {
		return ""
	}
	return filepath.Join(i.config.Directory, ArtifactName(m))
}

func (i *Interceptor) captures(m domain.Migration, dir domain.Direction) bool {
	return i.config != nil && dir == domain.Up && m.Version >= i.config.StartingWith
}

// Run is one migration direction in flight. End must be called exactly once.
type Run struct {
	Session *Session

	migration   domain.Migration
	path        string
	file        io.WriteCloser
	prevStream  io.Writer
	prevEnabled bool
	logger      log.FieldLogger
}

// Begin starts a run of m in direction dir on conn. Captured runs get their
// artifact opened and headed; other runs have any stale artifact removed.
func (i *Interceptor) Begin(conn Executor, m domain.Migration, dir domain.Direction) (*Run, error) {
	logger := i.logger.WithFields(log.Fields{
		"version":   m.Version,
		"name":      m.Name,
		"direction": dir,
	})
	run := &Run{
		Session:   NewSession(conn, logger),
		migration: m,
		path:      i.ArtifactPath(m),
		logger:    logger,
	}
	if run.path == "" {
		return run, nil
	}
	logger = logger.WithField("artifact", run.path)
	run.logger = logger

	if !i.captures(m, dir) {
		err := os.Remove(run.path)
		switch {
		case err == nil:
			logger.Info("removed stale migration sql")
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "remove stale artifact %s", run.path)
		}
		return run, nil
	}

	if err := os.MkdirAll(i.config.Directory, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create capture directory %s", i.config.Directory)
	}
	f, err := i.create(run.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open artifact %s", run.path)
	}
	if _, err := fmt.Fprintf(f, headerFormat, m.Name, m.Version); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "write header to %s", run.path)
	}
	run.file = f
	run.prevStream = run.Session.SetStream(f)
	run.prevEnabled = run.Session.setEnabled(true)
	logger.Debug("capturing migration sql")
	return run, nil
}

// Captured reports whether statements of this run go to an artifact.
func (r *Run) Captured() bool {
	return r.file != nil
}

// End finishes the run. runErr is the outcome of the migration itself: on
// success the footer is written; on failure the artifact keeps what was
// captured so far and runErr is returned unchanged.
func (r *Run) End(runErr error) error {
	if r.file == nil {
		return runErr
	}
	f := r.file
	r.file = nil
	r.Session.SetStream(r.prevStream)
	r.Session.setEnabled(r.prevEnabled)

	var err error
	if runErr == nil {
		if _, werr := fmt.Fprintf(f, footerFormat, r.migration.Version); werr != nil {
			err = errors.Wrapf(werr, "write footer to %s", r.path)
		}
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = errors.Wrapf(cerr, "close artifact %s", r.path)
	}
	if runErr != nil {
		r.logger.WithError(runErr).Warn("migration failed, artifact left incomplete")
		return runErr
	}
	if err == nil {
		r.logger.Info("captured migration sql")
	}
	return err
}

// Wrap runs work exactly once as direction dir of m and returns its error
// unchanged. The session handed to work is also carried by its context.
func (i *Interceptor) Wrap(ctx context.Context, conn Executor, m domain.Migration, dir domain.Direction,
	work func(ctx context.Context, s *Session) error) (err error) {
	run, err := i.Begin(conn, m, dir)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = run.End(errors.Errorf("migration %d panicked: %v", m.Version, p))
			panic(p)
		}
	}()
	return run.End(work(NewContext(ctx, run.Session), run.Session))
}

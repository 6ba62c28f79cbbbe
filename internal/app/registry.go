package app

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"gomigrator/internal/capture"
	"gomigrator/internal/domain"
)

// StepFunc is the body of one direction of a Go migration. Statements must
// be issued through s so they are captured.
type StepFunc func(ctx context.Context, s *capture.Session) error

// GoMigration is a migration written in Go.
type GoMigration struct {
	Version int64
	Name    string
	Up      StepFunc
	Down    StepFunc
}

// Registry holds Go migrations, usually registered from init functions.
type Registry struct {
	mu         sync.Mutex
	migrations map[int64]GoMigration
}

var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{migrations: make(map[int64]GoMigration)}
}

// Register adds m to the default registry and panics on a duplicate version.
func Register(m GoMigration) {
	if err := DefaultRegistry.Add(m); err != nil {
		panic(err)
	}
}

func (r *Registry) Add(m GoMigration) error {
	if m.Up == nil {
		return errors.Errorf("go migration %d (%s) has no up step", m.Version, m.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.migrations[m.Version]; ok {
		return errors.Wrapf(domain.ErrDuplicateVersion, "go migration %d", m.Version)
	}
	r.migrations[m.Version] = m
	return nil
}

func (r *Registry) list() []GoMigration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GoMigration, 0, len(r.migrations))
	for _, m := range r.migrations {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

package domain

import (
	"errors"
)

var (
	ErrSchemaTableEmpty = errors.New("schema_migrations table is empty")
	ErrNothingToUndo    = errors.New("nothing to undo")
	ErrDuplicateVersion = errors.New("duplicate migration version")
)

// Direction is the way a migration is run.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migration identifies one migration. It is never mutated once a run starts.
type Migration struct {
	Version int64
	Name    string
}

type SchemaMigration struct {
	Version int64
}

// MigrationStatus is one line of the status report.
type MigrationStatus struct {
	Migration
	Applied  bool
	Artifact string
}

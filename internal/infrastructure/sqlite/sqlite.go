package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"gomigrator/internal/domain"
)

type SchemaRepository struct {
	db *sql.DB
}

func NewSchemaRepository(db *sql.DB) domain.SchemaRepository {
	return &SchemaRepository{db: db}
}

func (repo *SchemaRepository) DB() *sql.DB {
	return repo.db
}

func (repo *SchemaRepository) Init(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS schema_migrations (id INTEGER NOT NULL PRIMARY KEY, version INTEGER NOT NULL);`
	_, err := repo.db.ExecContext(ctx, query)
	return errors.Wrap(err, "create schema_migrations table")
}

func (repo *SchemaRepository) Find(ctx context.Context) (domain.SchemaMigration, error) {
	var version domain.SchemaMigration
	err := repo.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations WHERE id = ?;`, 1).Scan(&version.Version)
	switch err {
	case nil:
		return version, nil
	case sql.ErrNoRows:
		return version, domain.ErrSchemaTableEmpty
	default:
		return version, errors.Wrap(err, "find schema version")
	}
}

func (repo *SchemaRepository) Update(ctx context.Context, schemaMigration domain.SchemaMigration) error {
	_, err := repo.db.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations (id, version) VALUES (?, ?);`,
		1, schemaMigration.Version)
	return errors.Wrapf(err, "record schema version %d", schemaMigration.Version)
}

func (repo *SchemaRepository) Delete(ctx context.Context) error {
	_, err := repo.db.ExecContext(ctx, `DELETE FROM schema_migrations WHERE id = ?;`, 1)
	return errors.Wrap(err, "clear schema version")
}

package domain

import (
	"context"
	"database/sql"
)

type SchemaRepository interface {
	Init(ctx context.Context) error
	Find(ctx context.Context) (SchemaMigration, error)
	Update(ctx context.Context, schemaMigration SchemaMigration) error
	Delete(ctx context.Context) error
	DB() *sql.DB
}

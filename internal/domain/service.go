package domain

import "context"

type MigrationService interface {
	Init(ctx context.Context) error
	Create(name string) error
	Up(ctx context.Context, target int64) error
	Down(ctx context.Context) error
	Redo(ctx context.Context) error
	Status(ctx context.Context) ([]MigrationStatus, error)
	GetVersion(ctx context.Context) (int64, error)
}

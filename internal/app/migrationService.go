package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gomigrator/internal/capture"
	"gomigrator/internal/domain"
)

const versionLayout = "20060102150405"

type MigrationService struct {
	repo         domain.SchemaRepository
	migrationDir string
	interceptor  *capture.Interceptor
	registry     *Registry
	logger       log.FieldLogger
	now          func() time.Time
}

func NewMigrationService(repository domain.SchemaRepository, migrationDir string, interceptor *capture.Interceptor,
	registry *Registry, logger log.FieldLogger) *MigrationService {
	if interceptor == nil {
		interceptor = capture.NewInterceptor(nil, logger)
	}
	if registry == nil {
		registry = DefaultRegistry
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &MigrationService{
		repo:         repository,
		migrationDir: migrationDir,
		interceptor:  interceptor,
		registry:     registry,
		logger:       logger,
		now:          time.Now,
	}
}

var _ domain.MigrationService = (*MigrationService)(nil)

func (s *MigrationService) Init(ctx context.Context) error {
	return s.repo.Init(ctx)
}

// Create writes an empty up/down pair of SQL migration files.
func (s *MigrationService) Create(name string) error {
	version := s.now().Format(versionLayout)
	base := fmt.Sprintf("%s_%s", version, strcase.ToSnake(name))
	if err := os.MkdirAll(s.migrationDir, 0o755); err != nil {
		return errors.Wrapf(err, "create migration dir %s", s.migrationDir)
	}
	for _, dir := range []domain.Direction{domain.Up, domain.Down} {
		path := filepath.Join(s.migrationDir, fmt.Sprintf("%s.%s.sql", base, dir))
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return errors.Wrap(err, "unable to create migration file")
		}
		if err := file.Close(); err != nil {
			return errors.Wrap(err, "unable to create migration file")
		}
		s.logger.WithField("file", path).Info("generated new migration file")
	}
	return nil
}

// GetVersion returns the recorded schema version, 0 when nothing is applied.
func (s *MigrationService) GetVersion(ctx context.Context) (int64, error) {
	current, err := s.repo.Find(ctx)
	if err != nil {
		if errors.Cause(err) == domain.ErrSchemaTableEmpty {
			return 0, nil
		}
		return 0, err
	}
	return current.Version, nil
}

// Up applies every migration newer than the recorded version, stopping after
// target when target is not 0.
func (s *MigrationService) Up(ctx context.Context, target int64) error {
	current, err := s.GetVersion(ctx)
	if err != nil {
		return err
	}
	migrations, err := s.loadMigrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if target > 0 && m.Version > target {
			break
		}
		if err := s.execMigration(ctx, m, domain.Up); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, domain.SchemaMigration{Version: m.Version}); err != nil {
			return err
		}
		applied++
	}
	s.logger.WithField("count", applied).Info("migrations applied")
	return nil
}

// Down reverts the last applied migration.
func (s *MigrationService) Down(ctx context.Context) error {
	current, err := s.GetVersion(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return domain.ErrNothingToUndo
	}
	migrations, err := s.loadMigrations()
	if err != nil {
		return err
	}

	var (
		last     *migration
		previous int64
	)
	for i := range migrations {
		if migrations[i].Version == current {
			last = &migrations[i]
			break
		}
		previous = migrations[i].Version
	}
	if last == nil {
		return errors.Errorf("no migration found for applied version %d", current)
	}
	if last.down == nil {
		return errors.Errorf("migration %d (%s) has no down step", last.Version, last.Name)
	}
	if err := s.execMigration(ctx, *last, domain.Down); err != nil {
		return err
	}
	if previous == 0 {
		return s.repo.Delete(ctx)
	}
	return s.repo.Update(ctx, domain.SchemaMigration{Version: previous})
}

// Redo reverts and reapplies the last applied migration.
func (s *MigrationService) Redo(ctx context.Context) error {
	current, err := s.GetVersion(ctx)
	if err != nil {
		return err
	}
	if err := s.Down(ctx); err != nil {
		return err
	}
	return s.Up(ctx, current)
}

func (s *MigrationService) Status(ctx context.Context) ([]domain.MigrationStatus, error) {
	current, err := s.GetVersion(ctx)
	if err != nil {
		return nil, err
	}
	migrations, err := s.loadMigrations()
	if err != nil {
		return nil, err
	}
	statuses := make([]domain.MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		status := domain.MigrationStatus{Migration: m.Migration, Applied: m.Version <= current}
		if path := s.interceptor.ArtifactPath(m.Migration); path != "" {
			if _, err := os.Stat(path); err == nil {
				status.Artifact = path
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *MigrationService) execMigration(ctx context.Context, m migration, dir domain.Direction) error {
	logger := s.logger.WithFields(log.Fields{"version": m.Version, "name": m.Name, "direction": dir})
	logger.Info("running migration")
	err := s.interceptor.Wrap(ctx, s.repo.DB(), m.Migration, dir, m.step(dir))
	if err != nil {
		logger.WithError(err).Error("migration failed")
	}
	return err
}

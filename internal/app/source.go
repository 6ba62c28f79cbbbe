package app

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"gomigrator/internal/capture"
	"gomigrator/internal/domain"
)

var migrationFile = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

type migration struct {
	domain.Migration
	up   StepFunc
	down StepFunc
}

func (m migration) step(dir domain.Direction) StepFunc {
	if dir == domain.Up {
		return m.up
	}
	return m.down
}

// sqlStep runs the content of a migration file as one statement. Empty files
// are a no-op.
func sqlStep(path string) StepFunc {
	return func(ctx context.Context, s *capture.Session) error {
		content, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read migration file %s", path)
		}
		query := strings.TrimSpace(string(content))
		if query == "" {
			return nil
		}
		if _, err := s.ExecContext(ctx, query); err != nil {
			return errors.Wrapf(err, "exec migration file %s", filepath.Base(path))
		}
		return nil
	}
}

func (s *MigrationService) loadMigrations() ([]migration, error) {
	byVersion := make(map[int64]*migration)

	entries, err := os.ReadDir(s.migrationDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read migration dir %s", s.migrationDir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse version of %s", entry.Name())
		}
		m, ok := byVersion[version]
		if !ok {
			m = &migration{Migration: domain.Migration{Version: version, Name: match[2]}}
			byVersion[version] = m
		} else if m.Name != match[2] {
			return nil, errors.Wrapf(domain.ErrDuplicateVersion, "%s conflicts with %s", entry.Name(), m.Name)
		}
		step := sqlStep(filepath.Join(s.migrationDir, entry.Name()))
		if match[3] == string(domain.Up) {
			m.up = step
		} else {
			m.down = step
		}
	}

	for _, g := range s.registry.list() {
		if _, ok := byVersion[g.Version]; ok {
			return nil, errors.Wrapf(domain.ErrDuplicateVersion, "go migration %d", g.Version)
		}
		byVersion[g.Version] = &migration{
			Migration: domain.Migration{Version: g.Version, Name: g.Name},
			up:        g.Up,
			down:      g.Down,
		}
	}

	all := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == nil {
			return nil, errors.Errorf("migration %d (%s) has no up step", m.Version, m.Name)
		}
		all = append(all, *m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Version < all[j].Version })
	return all, nil
}

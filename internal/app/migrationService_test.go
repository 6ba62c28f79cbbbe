package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gomigrator/internal/capture"
	"gomigrator/internal/domain"
	"gomigrator/internal/infrastructure/sqlite"
)

type fixture struct {
	db           *sql.DB
	service      *MigrationService
	registry     *Registry
	migrationDir string
	captureDir   string
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newFixture(t *testing.T, startingWith int64) *fixture {
	t.Helper()
	f := &fixture{
		db:           newTestDB(t),
		registry:     NewRegistry(),
		migrationDir: t.TempDir(),
		captureDir:   filepath.Join(t.TempDir(), "migration_sql"),
	}
	interceptor := capture.NewInterceptor(&capture.Config{Directory: f.captureDir, StartingWith: startingWith}, nil)
	f.service = NewMigrationService(sqlite.NewSchemaRepository(f.db), f.migrationDir, interceptor, f.registry, nil)
	require.NoError(t, f.service.Init(context.Background()))
	return f
}

func (f *fixture) writeMigration(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.migrationDir, name), []byte(content), 0o644))
}

func (f *fixture) artifact(version int64, name string) string {
	return filepath.Join(f.captureDir, capture.ArtifactName(domain.Migration{Version: version, Name: name}))
}

func (f *fixture) version(t *testing.T) int64 {
	t.Helper()
	v, err := f.service.GetVersion(context.Background())
	require.NoError(t, err)
	return v
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var found string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestMigrationService_UpAndDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.writeMigration(t, "20181008000000_create_users.up.sql", "CREATE TABLE users (id INTEGER PRIMARY KEY)\n")
	f.writeMigration(t, "20181008000000_create_users.down.sql", "DROP TABLE users;")
	f.writeMigration(t, "20181009000000_create_posts.up.sql", "CREATE TABLE posts (id INTEGER PRIMARY KEY);")
	f.writeMigration(t, "20181009000000_create_posts.down.sql", "DROP TABLE posts;")
	f.writeMigration(t, "README.md", "not a migration")

	require.NoError(t, f.service.Up(ctx, 0))

	assert.Equal(t, int64(20181009000000), f.version(t))
	assert.True(t, tableExists(t, f.db, "users"))
	assert.True(t, tableExists(t, f.db, "posts"))
	assert.Equal(t, "--\n-- create_users : 20181008000000\n--\n\n"+
		"CREATE TABLE users (id INTEGER PRIMARY KEY);\n\n"+
		"INSERT INTO schema_versions (VERSION) VALUES 20181008000000;\n",
		readFile(t, f.artifact(20181008000000, "create_users")))
	assert.FileExists(t, f.artifact(20181009000000, "create_posts"))

	require.NoError(t, f.service.Down(ctx))

	assert.Equal(t, int64(20181008000000), f.version(t))
	assert.False(t, tableExists(t, f.db, "posts"))
	assert.NoFileExists(t, f.artifact(20181009000000, "create_posts"))
	assert.FileExists(t, f.artifact(20181008000000, "create_users"))

	require.NoError(t, f.service.Down(ctx))

	assert.Zero(t, f.version(t))
	assert.NoFileExists(t, f.artifact(20181008000000, "create_users"))
	assert.Equal(t, domain.ErrNothingToUndo, f.service.Down(ctx))
}

func TestMigrationService_UpToTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.writeMigration(t, "1_one.up.sql", "CREATE TABLE one (id INTEGER)")
	f.writeMigration(t, "2_two.up.sql", "CREATE TABLE two (id INTEGER)")

	require.NoError(t, f.service.Up(ctx, 1))
	assert.Equal(t, int64(1), f.version(t))
	assert.False(t, tableExists(t, f.db, "two"))

	require.NoError(t, f.service.Up(ctx, 0))
	assert.Equal(t, int64(2), f.version(t))
}

func TestMigrationService_ThresholdSkipsOldMigrations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20170101000000)
	f.writeMigration(t, "20160101000000_legacy.up.sql", "CREATE TABLE legacy (id INTEGER)")
	f.writeMigration(t, "20180101000000_fresh.up.sql", "CREATE TABLE fresh (id INTEGER)")

	require.NoError(t, f.service.Up(ctx, 0))

	assert.NoFileExists(t, f.artifact(20160101000000, "legacy"))
	assert.FileExists(t, f.artifact(20180101000000, "fresh"))
	assert.True(t, tableExists(t, f.db, "legacy"))
}

func TestMigrationService_GoMigration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	other := newTestDB(t)
	require.NoError(t, f.registry.Add(GoMigration{
		Version: 20181010000000,
		Name:    "SeedAndSplit",
		Up: func(ctx context.Context, s *capture.Session) error {
			if _, err := s.ExecContext(ctx, "CREATE TABLE settings (key TEXT, value TEXT)"); err != nil {
				return err
			}
			if err := s.RunDisabled(func() error {
				_, err := s.ExecContext(ctx, "INSERT INTO settings VALUES ('host', 'local')")
				return err
			}); err != nil {
				return err
			}
			return s.UsingPool(ctx, capture.NamedPool{Name: "Analytics", Pool: other}, "", func() error {
				_, err := s.ExecContext(ctx, "CREATE TABLE events (id INTEGER)")
				return err
			})
		},
		Down: func(ctx context.Context, s *capture.Session) error {
			_, err := s.ExecContext(ctx, "DROP TABLE settings")
			return err
		},
	}))

	require.NoError(t, f.service.Up(ctx, 0))

	assert.Equal(t, "--\n-- SeedAndSplit : 20181010000000\n--\n\n"+
		"CREATE TABLE settings (key TEXT, value TEXT);\n\n"+
		"-- BEGIN Analytics\n\n"+
		"CREATE TABLE events (id INTEGER);\n\n"+
		"-- END Analytics\n\n"+
		"INSERT INTO schema_versions (VERSION) VALUES 20181010000000;\n",
		readFile(t, f.artifact(20181010000000, "SeedAndSplit")))
	assert.True(t, tableExists(t, other, "events"))
	assert.False(t, tableExists(t, f.db, "events"))

	var value string
	require.NoError(t, f.db.QueryRow("SELECT value FROM settings WHERE key = 'host'").Scan(&value))
	assert.Equal(t, "local", value)
}

func TestMigrationService_FailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.writeMigration(t, "1_ok.up.sql", "CREATE TABLE ok (id INTEGER)")
	f.writeMigration(t, "2_broken.up.sql", "CREATE TABLE ok (id INTEGER)")

	err := f.service.Up(ctx, 0)

	require.Error(t, err)
	assert.Equal(t, int64(1), f.version(t))
	assert.Equal(t, "--\n-- broken : 2\n--\n\nCREATE TABLE ok (id INTEGER);\n\n", readFile(t, f.artifact(2, "broken")))
}

func TestMigrationService_Redo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.writeMigration(t, "1_one.up.sql", "CREATE TABLE one (id INTEGER)")
	f.writeMigration(t, "1_one.down.sql", "DROP TABLE one")

	require.NoError(t, f.service.Up(ctx, 0))
	require.NoError(t, f.service.Redo(ctx))

	assert.Equal(t, int64(1), f.version(t))
	assert.True(t, tableExists(t, f.db, "one"))
	assert.FileExists(t, f.artifact(1, "one"))
}

func TestMigrationService_DownWithoutDownStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.writeMigration(t, "1_one.up.sql", "CREATE TABLE one (id INTEGER)")
	require.NoError(t, f.service.Up(ctx, 0))

	assert.Error(t, f.service.Down(ctx))
	assert.Equal(t, int64(1), f.version(t))
}

func TestMigrationService_Status(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.writeMigration(t, "1_one.up.sql", "CREATE TABLE one (id INTEGER)")
	f.writeMigration(t, "2_two.up.sql", "CREATE TABLE two (id INTEGER)")
	require.NoError(t, f.service.Up(ctx, 1))

	statuses, err := f.service.Status(ctx)
	require.NoError(t, err)

	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, f.artifact(1, "one"), statuses[0].Artifact)
	assert.False(t, statuses[1].Applied)
	assert.Empty(t, statuses[1].Artifact)
}

func TestMigrationService_DuplicateVersion(t *testing.T) {
	f := newFixture(t, 0)
	f.writeMigration(t, "1_one.up.sql", "CREATE TABLE one (id INTEGER)")
	require.NoError(t, f.registry.Add(GoMigration{Version: 1, Name: "Other", Up: func(context.Context, *capture.Session) error {
		return nil
	}}))

	err := f.service.Up(context.Background(), 0)
	assert.Equal(t, domain.ErrDuplicateVersion, errors.Cause(err))
}

func TestMigrationService_Create(t *testing.T) {
	f := newFixture(t, 0)
	f.service.now = func() time.Time { return time.Date(2018, 10, 8, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, f.service.Create("AddUsers"))

	assert.FileExists(t, filepath.Join(f.migrationDir, "20181008000000_add_users.up.sql"))
	assert.FileExists(t, filepath.Join(f.migrationDir, "20181008000000_add_users.down.sql"))
	assert.Error(t, f.service.Create("AddUsers"))
}

func TestRegistry_Add(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *capture.Session) error { return nil }

	require.NoError(t, r.Add(GoMigration{Version: 1, Name: "one", Up: noop}))
	assert.Equal(t, domain.ErrDuplicateVersion, errors.Cause(r.Add(GoMigration{Version: 1, Name: "again", Up: noop})))
	assert.Error(t, r.Add(GoMigration{Version: 2, Name: "no_up"}))
}

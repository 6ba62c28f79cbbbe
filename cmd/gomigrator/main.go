package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/stdlib"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"gomigrator/internal/app"
	"gomigrator/internal/capture"
	"gomigrator/internal/config"
	"gomigrator/internal/domain"
	"gomigrator/internal/infrastructure/postgres"
	"gomigrator/internal/infrastructure/sqlite"
)

func main() {
	driver := flag.String("driver", "postgres", "database driver: postgres, pgx or sqlite")
	dsn := flag.String("dsn", "host=localhost port=5432 user=postgres password=postgres dbname=migrationtest sslmode=disable", "database dsn")
	migrationDir := flag.String("migrationDir", "migrations", "directory holding migration files")
	captureConfig := flag.String("capture-config", "", "optional yaml file with sql capture settings")
	retries := flag.Int("retries", 10, "attempts to reach the database before giving up")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = printHelp
	flag.Parse()

	if flag.NArg() < 1 {
		printHelp()
		os.Exit(2)
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	if err := run(logger, *driver, *dsn, *migrationDir, *captureConfig, *retries, flag.Args()); err != nil {
		logger.WithError(err).Error("gomigrator failed")
		os.Exit(1)
	}
}

func run(logger *log.Logger, driver, dsn, migrationDir, captureConfig string, retries int, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(captureConfig)
	if err != nil {
		return err
	}
	command := args[0]
	if command == "create" {
		if len(args) < 2 {
			printHelp()
			return errors.New("create needs a migration name")
		}
		service := app.NewMigrationService(nil, migrationDir, nil, app.DefaultRegistry, logger)
		return service.Create(args[1])
	}

	logger.Print("Starting the service...")
	db, err := initDB(logger, driver, dsn, retries)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	repo, err := newRepository(driver, db)
	if err != nil {
		return err
	}
	interceptor := capture.NewInterceptor(cfg.Interceptor(), logger)
	migrationService := app.NewMigrationService(repo, migrationDir, interceptor, app.DefaultRegistry, logger)
	if err := migrationService.Init(ctx); err != nil {
		return err
	}

	switch command {
	case "up":
		var target int64
		if len(args) > 1 {
			target, err = strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid target version %q", args[1])
			}
		}
		return migrationService.Up(ctx, target)
	case "down":
		return migrationService.Down(ctx)
	case "redo":
		return migrationService.Redo(ctx)
	case "status":
		statuses, err := migrationService.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", s.Version, s.Name, state, s.Artifact)
		}
		return nil
	case "dbversion":
		version, err := migrationService.GetVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	default:
		printHelp()
		return errors.Errorf("unknown command %q", command)
	}
}

func newRepository(driver string, db *sql.DB) (domain.SchemaRepository, error) {
	switch driver {
	case "postgres", "pgx":
		return postgres.NewSchemaRepository(db), nil
	case "sqlite":
		return sqlite.NewSchemaRepository(db), nil
	default:
		return nil, errors.Errorf("unsupported driver %q", driver)
	}
}

func printHelp() {
	fmt.Fprintln(os.Stderr, "usage:  gomigrator [flags] <up [version]|down|redo|status|dbversion>|<create> <name>")
	flag.PrintDefaults()
}

func initDB(logger *log.Logger, driver, dsn string, retries int) (*sql.DB, error) {
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, errors.Wrapf(err, "can't open %s connection", driver)
		}
		err = db.Ping()
		if err == nil {
			return db, nil
		}
		_ = db.Close()
		lastErr = err
		logger.WithField("attempt", attempt).Info(errors.Wrapf(err, "can't ping %s database", driver))
		time.Sleep(time.Second)
	}
	return nil, errors.Wrapf(lastErr, "database unreachable after %d attempts", retries)
}

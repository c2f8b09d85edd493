package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where cmd/migrate reads and writes migrations when it runs
// from the repository root.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

type Command string

const (
	CommandUp       Command = "up"
	CommandDown     Command = "down"
	CommandStatus   Command = "status"
	CommandVersion  Command = "version"
	CommandCreate   Command = "create"
	CommandValidate Command = "validate"
)

// Source points goose at a migrations directory, optionally inside FS.
// A nil FS reads from disk.
type Source struct {
	FS  fs.FS
	Dir string
}

func DirSource(dir string) Source {
	return Source{Dir: dir}
}

// EmbeddedSource serves the migrations compiled into the binary.
func EmbeddedSource() Source {
	return Source{FS: embedded, Dir: "migrations"}
}

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// Run executes cmd against db. CommandVersion takes the target version
// (YYYYMMDDHHMMSS) as its only argument.
func Run(ctx context.Context, db *sql.DB, src Source, cmd Command, args ...string) error {
	if db == nil {
		return errors.New("db is required")
	}
	if src.Dir == "" {
		return errors.New("migrations dir is required")
	}

	return withGoose(src, func() error {
		switch cmd {
		case CommandUp, CommandDown, CommandStatus:
			if err := goose.RunContext(ctx, string(cmd), db, src.Dir, args...); err != nil {
				return fmt.Errorf("goose %s: %w", cmd, err)
			}
			return nil
		case CommandVersion:
			if len(args) != 1 || args[0] == "" {
				return errors.New("target version is required")
			}
			return migrateTo(ctx, db, src.Dir, args[0])
		default:
			return fmt.Errorf("unsupported migrate command %q", cmd)
		}
	})
}

// CurrentVersion reports the schema version recorded by goose.
func CurrentVersion(db *sql.DB) (int64, error) {
	var version int64
	err := withGoose(Source{}, func() error {
		v, err := goose.GetDBVersion(db)
		version = v
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get db version: %w", err)
	}
	return version, nil
}

func migrateTo(ctx context.Context, db *sql.DB, dir, targetVersion string) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	current, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current < target:
		err = goose.UpToContext(ctx, db, dir, target)
	case current > target:
		err = goose.DownToContext(ctx, db, dir, target)
	}
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func withGoose(src Source, fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(src.FS)
	defer goose.SetBaseFS(nil)

	return fn()
}

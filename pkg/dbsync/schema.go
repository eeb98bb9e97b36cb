package dbsync

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Phase is a named set of schema migrations, each phase is a sub directory of the changelog directory
type Phase string

const (
	// CreateSchema creates bare tables and columns
	CreateSchema Phase = "createSchema"
	// CreateView creates the views
	CreateView Phase = "createView"
	// CreateIndex adds indices, constraints and foreign keys once the data is loaded
	CreateIndex Phase = "createIndex"
)

// MigrationsTable is where the migration engine records the applied versions of the phase
func (p Phase) MigrationsTable() string {
	return "schema_migrations_" + strings.ToLower(string(p))
}

// SchemaMigrator applies the migrations of a phase to the target and/or renders them to the output
type SchemaMigrator struct {
	dir    string
	target *DataSource
	sink   *Sink
	logger *logrus.Entry
}

func NewSchemaMigrator(dir string, target *DataSource, sink *Sink, logger *logrus.Entry) *SchemaMigrator {
	return &SchemaMigrator{dir: dir, target: target, sink: sink, logger: logger.WithField("task", "schema")}
}

// Apply runs one phase, phases without migrations are skipped
func (m *SchemaMigrator) Apply(ctx context.Context, phase Phase) error {
	logger := m.logger.WithField("phase", string(phase))
	if m.dir == "" {
		logger.Warnf("no changelog directory, skipping %s", phase)
		return nil
	}
	dir := filepath.Join(m.dir, string(phase))
	empty, err := m.isEmpty(dir)
	if err != nil {
		return err
	}
	if empty {
		logger.Infof("no migrations in %s, skipping", dir)
		return nil
	}

	if m.sink.HasOutput() {
		err := m.render(phase, dir)
		if err != nil {
			return errors.Wrapf(err, "could not render %s", phase)
		}
	}
	if m.sink.Executes() {
		err := m.migrate(ctx, phase, dir)
		if err != nil {
			return errors.Wrapf(err, "could not apply %s", phase)
		}
	}
	logger.Infof("%s done", phase)
	return nil
}

func (m *SchemaMigrator) isEmpty(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	if !info.IsDir() {
		return false, errors.Errorf("%s is not a directory", dir)
	}
	src, err := iofs.New(os.DirFS(dir), ".")
	if err != nil {
		return false, errors.Wrapf(err, "could not read migrations in %s", dir)
	}
	defer src.Close()
	_, err = src.First()
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	return false, errors.WithStack(err)
}

// render appends every up migration of the phase to the output in version order
func (m *SchemaMigrator) render(phase Phase, dir string) error {
	src, err := iofs.New(os.DirFS(dir), ".")
	if err != nil {
		return errors.WithStack(err)
	}
	defer src.Close()

	err = m.sink.Comment(string(phase))
	if err != nil {
		return err
	}
	version, err := src.First()
	for err == nil {
		err = m.renderVersion(src, version)
		if err != nil {
			return err
		}
		version, err = src.Next(version)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.WithStack(err)
}

func (m *SchemaMigrator) renderVersion(src source.Driver, version uint) error {
	body, identifier, err := src.ReadUp(version)
	if errors.Is(err, os.ErrNotExist) {
		// down only migration
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	defer body.Close()
	script, err := io.ReadAll(body)
	if err != nil {
		return errors.WithStack(err)
	}
	stmt := strings.TrimSuffix(strings.TrimSpace(string(script)), ";")
	if stmt == "" {
		return nil
	}
	err = m.sink.Comment(identifier)
	if err != nil {
		return err
	}
	return m.sink.Write(stmt)
}

// migrate runs the phase on its own pool since the migration engine closes it when done
func (m *SchemaMigrator) migrate(ctx context.Context, phase Phase, dir string) error {
	db, err := m.target.Config.DB()
	if err != nil {
		return err
	}
	driver, err := m.databaseDriver(db, phase)
	if err != nil {
		_ = db.Close()
		return err
	}
	src, err := iofs.New(os.DirFS(dir), ".")
	if err != nil {
		_ = driver.Close()
		return errors.WithStack(err)
	}
	mig, err := migrate.NewWithInstance("iofs", src, m.target.Dialect.String(), driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return errors.WithStack(err)
	}
	defer mig.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mig.GracefulStop <- true
		case <-done:
		}
	}()

	err = mig.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.WithField("phase", string(phase)).Infof("%s is up to date", phase)
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	version, _, err := mig.Version()
	if err != nil {
		return errors.WithStack(err)
	}
	m.logger.WithField("phase", string(phase)).WithField("version", version).Infof("applied %s", phase)
	return nil
}

func (m *SchemaMigrator) databaseDriver(db *sql.DB, phase Phase) (database.Driver, error) {
	switch m.target.Dialect {
	case Postgres:
		return migratepgx.WithInstance(db, &migratepgx.Config{
			MigrationsTable: phase.MigrationsTable(),
		})
	case MySQL:
		return migratemysql.WithInstance(db, &migratemysql.Config{
			MigrationsTable: phase.MigrationsTable(),
		})
	case SQLite:
		return migratesqlite.WithInstance(db, &migratesqlite.Config{
			MigrationsTable: phase.MigrationsTable(),
		})
	}
	return nil, &UnsupportedDialectError{Dialect: m.target.Dialect.String(), Operation: "schema migration"}
}

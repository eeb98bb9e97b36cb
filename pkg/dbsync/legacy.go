package dbsync

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mightyguava/autotx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const legacyChangelogTable = "changelog"

// LegacyUpgrader brings a source that still uses the legacy changelog table up to date
// by applying the delta scripts that are not recorded in it yet
type LegacyUpgrader struct {
	source    *DataSource
	deltasDir string
	logger    *logrus.Entry
}

func NewLegacyUpgrader(source *DataSource, deltasDir string, logger *logrus.Entry) *LegacyUpgrader {
	return &LegacyUpgrader{source: source, deltasDir: deltasDir, logger: logger.WithField("task", "legacy")}
}

// Upgrade returns the number of deltas applied
func (u *LegacyUpgrader) Upgrade(ctx context.Context) (int, error) {
	exists, err := tableExists(ctx, u.source.Dialect, u.source.DB, legacyChangelogTable)
	if err != nil {
		return 0, err
	}
	if !exists {
		u.logger.Debugf("no %s table, nothing to upgrade", legacyChangelogTable)
		return 0, nil
	}
	if !dialects[u.source.Dialect].legacyUpgrade {
		u.logger.Warnf("found %s table but legacy upgrade is not supported for %s", legacyChangelogTable, u.source.Dialect)
		return 0, nil
	}
	if u.deltasDir == "" {
		u.logger.Warnf("found %s table but no legacy deltas directory was given, skipping upgrade", legacyChangelogTable)
		return 0, nil
	}

	applied, err := u.appliedChanges(ctx)
	if err != nil {
		return 0, err
	}

	src, err := iofs.New(os.DirFS(u.deltasDir), ".")
	if err != nil {
		return 0, errors.Wrapf(err, "could not read legacy deltas in %s", u.deltasDir)
	}
	defer src.Close()

	count := 0
	version, err := src.First()
	for err == nil {
		if !applied[int64(version)] {
			err = u.apply(ctx, src, version)
			if err != nil {
				return count, err
			}
			count++
		}
		version, err = src.Next(version)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return count, errors.WithStack(err)
	}
	u.logger.Infof("applied %d legacy deltas", count)
	return count, nil
}

func (u *LegacyUpgrader) appliedChanges(ctx context.Context) (map[int64]bool, error) {
	rows, err := u.source.DB.QueryContext(ctx, "SELECT change_number FROM "+u.source.Dialect.QuoteIdentifier(legacyChangelogTable))
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", legacyChangelogTable)
	}
	defer rows.Close()
	applied := make(map[int64]bool)
	for rows.Next() {
		var changeNumber int64
		err := rows.Scan(&changeNumber)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		applied[changeNumber] = true
	}
	return applied, errors.WithStack(rows.Err())
}

func (u *LegacyUpgrader) apply(ctx context.Context, src source.Driver, version uint) error {
	body, identifier, err := src.ReadUp(version)
	if err != nil {
		return errors.Wrapf(err, "could not read legacy delta %d", version)
	}
	defer body.Close()
	script, err := io.ReadAll(body)
	if err != nil {
		return errors.WithStack(err)
	}
	dialect := u.source.Dialect
	record := fmt.Sprintf("INSERT INTO %s (change_number, complete_dt, applied_by, description) VALUES (%s, %s, %s, %s)",
		dialect.QuoteIdentifier(legacyChangelogTable), dialect.Placeholder(1),
		dialect.TimestampLiteral(), dialect.UserLiteral(), dialect.Placeholder(2))

	u.logger.WithField("change_number", version).Infof("applying legacy delta %s", identifier)
	err = autotx.Transact(ctx, u.source.DB, func(tx *sql.Tx) error {
		if stmt := strings.TrimSpace(string(script)); stmt != "" {
			_, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return errors.Wrapf(err, "could not execute: %s", truncate(stmt))
			}
		}
		_, err := tx.ExecContext(ctx, record, int64(version), identifier)
		return errors.WithStack(err)
	})
	return errors.Wrapf(err, "legacy delta %d failed", version)
}

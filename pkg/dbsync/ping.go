package dbsync

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Ping struct {
	SourceTargetConfig

	Table string `help:"If set count the rows of this table" optional:""`
}

func (cmd *Ping) Run() error {
	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Second*30)
	defer cancelFunc()

	if !cmd.Source.IsSet() && !cmd.Target.IsSet() {
		return &ValidationError{Message: "nothing to ping, give a source and/or a target"}
	}

	if cmd.Source.IsSet() {
		log.Infof("pinging source")
		err := cmd.pingDatabase(ctx, "source", cmd.Source)
		if err != nil {
			return errors.WithStack(err)
		}
		log.Infof("success")
	}

	if cmd.Target.IsSet() {
		log.Infof("pinging target")
		err := cmd.pingDatabase(ctx, "target", cmd.Target)
		if err != nil {
			return errors.WithStack(err)
		}
		log.Infof("success")
	}

	return nil
}

func (cmd *Ping) pingDatabase(ctx context.Context, name string, config DBConfig) error {
	ds, err := OpenDataSource(ctx, name, config, 1)
	if err != nil {
		return err
	}
	defer ds.Close()

	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return &ConnectionError{Datasource: name, Err: err}
	}
	defer tx.Rollback()

	var now string
	err = tx.QueryRowContext(ctx, "SELECT CURRENT_TIMESTAMP").Scan(&now)
	if err != nil {
		return errors.WithStack(err)
	}
	log.WithField("datasource", name).Infof("%s (%s) time is %s", name, ds.Dialect, now)

	if cmd.Table != "" {
		count, err := countRows(ctx, ds.Dialect, tx, cmd.Table)
		if err != nil {
			return err
		}
		log.WithField("datasource", name).Infof("%s has %d rows", cmd.Table, count)
	}

	err = tx.Rollback()
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

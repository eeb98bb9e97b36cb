package dbsync

import (
	"context"
	"database/sql"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// DataSource is an open pool with its dialect detected once up front
type DataSource struct {
	Name    string
	Config  DBConfig
	Dialect Dialect
	DB      *sql.DB

	collector prometheus.Collector
}

// OpenDataSource opens and pings a pool of at most maxOpenConns connections
func OpenDataSource(ctx context.Context, name string, config DBConfig, maxOpenConns int) (*DataSource, error) {
	dialect, err := config.Dialect()
	if err != nil {
		return nil, err
	}
	if config.Driver == "" {
		logrus.WithField("datasource", name).Infof("no driver given, using %s driver for %s", dialect.DriverName(), config)
	}
	db, err := config.DB()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// Refresh connections regularly so they don't go stale
	db.SetConnMaxLifetime(time.Minute)
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err = db.PingContext(pingCtx)
	if err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Datasource: name, Err: err}
	}

	ds := NewDataSource(name, dialect, db)
	ds.Config = config
	ds.collector = sqlstats.NewStatsCollector(name, db)
	err = prometheus.Register(ds.collector)
	if err != nil {
		// Already registered by an earlier run in the same process
		ds.collector = nil
	}
	return ds, nil
}

// NewDataSource wraps an already open pool
func NewDataSource(name string, dialect Dialect, db *sql.DB) *DataSource {
	return &DataSource{Name: name, Dialect: dialect, DB: db}
}

// Conn checks a connection out of the pool, blocking until one is free
func (d *DataSource) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Datasource: d.Name, Err: err}
	}
	return conn, nil
}

func (d *DataSource) Close() error {
	if d.collector != nil {
		prometheus.Unregister(d.collector)
	}
	return errors.WithStack(d.DB.Close())
}

func (d *DataSource) String() string {
	return d.Name + " (" + d.Dialect.String() + ")"
}

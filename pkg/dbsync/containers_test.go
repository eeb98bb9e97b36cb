package dbsync

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// yep, globals, we should only have one container per database kind per test run
var postgresContainer *DatabaseContainer
var mysqlContainer *DatabaseContainer

var containersLock sync.Mutex
var databaseCounter atomic.Int32

type DatabaseContainer struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource
	config   DBConfig
}

func (c *DatabaseContainer) Close() error {
	return c.pool.Purge(c.resource)
}

func (c *DatabaseContainer) Config() DBConfig {
	return c.config
}

// withDatabase returns the config pointing at another database on the same server
func (c *DatabaseContainer) withDatabase(database string) DBConfig {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		panic(err)
	}
	u.Path = "/" + database
	config := c.config
	config.URL = u.String()
	return config
}

func startContainer(options *dockertest.RunOptions, port string, urlFor func(hostPort string) string) (*DatabaseContainer, error) {
	// uses a sensible default on windows (tcp/http) and linux/osx (socket)
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	err = pool.Client.Ping()
	if err != nil {
		return nil, errors.Wrapf(err, "docker is not available")
	}
	pool.MaxWait = 2 * time.Minute

	// pulls an image, creates a container based on it and runs it
	resource, err := pool.RunWithOptions(options)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	err = resource.Expire(15 * 60)
	if err != nil {
		_ = pool.Purge(resource)
		return nil, errors.WithStack(err)
	}

	config := DBConfig{URL: urlFor("localhost:" + resource.GetPort(port))}

	// exponential backoff-Retry, because the application in the container might not be ready to accept connections yet
	if err := pool.Retry(func() error {
		db, err := config.DB()
		if err != nil {
			return errors.WithStack(err)
		}
		defer db.Close()
		return db.Ping()
	}); err != nil {
		_ = pool.Purge(resource)
		return nil, errors.WithStack(err)
	}
	return &DatabaseContainer{pool: pool, resource: resource, config: config}, nil
}

func startPostgres() (*DatabaseContainer, error) {
	log.Debugf("starting Postgres")
	return startContainer(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15",
		Env:        []string{"POSTGRES_PASSWORD=secret"},
	}, "5432/tcp", func(hostPort string) string {
		return "postgres://postgres:secret@" + hostPort + "/postgres?sslmode=disable"
	})
}

func startMysql() (*DatabaseContainer, error) {
	log.Debugf("starting MySQL")
	return startContainer(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0",
		Platform:   "linux/x86_64",
		Env:        []string{"MYSQL_ROOT_PASSWORD=secret"},
	}, "3306/tcp", func(hostPort string) string {
		return "mysql://root:secret@" + hostPort + "/mysql"
	})
}

// freshDatabase creates an empty database on the (lazily started) container
func freshDatabase(t *testing.T, container **DatabaseContainer, start func() (*DatabaseContainer, error)) DBConfig {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	containersLock.Lock()
	defer containersLock.Unlock()
	if *container == nil {
		c, err := start()
		if err != nil {
			t.Skipf("could not start container: %v", err)
		}
		*container = c
	}

	name := fmt.Sprintf("dbsync_%d", databaseCounter.Inc())
	db, err := (*container).config.DB()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer db.Close()
	_, err = db.ExecContext(context.Background(), "CREATE DATABASE "+name)
	if err != nil {
		t.Fatalf("could not create database %s: %+v", name, err)
	}
	return (*container).withDatabase(name)
}

func postgresDatabase(t *testing.T) DBConfig {
	return freshDatabase(t, &postgresContainer, startPostgres)
}

func mysqlDatabase(t *testing.T) DBConfig {
	return freshDatabase(t, &mysqlContainer, startMysql)
}

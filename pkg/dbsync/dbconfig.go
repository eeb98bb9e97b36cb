package dbsync

import (
	"database/sql"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	// database/sql drivers for the supported dialects
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type DBConfig struct {
	URL            string `help:"Datasource url, postgres://, mysql:// or sqlite:<path>" name:"url" optional:""`
	Driver         string `help:"Driver name, defaults to the one matching the url scheme" optional:""`
	User           string `help:"User, overrides the user in the url" optional:""`
	Password       string `help:"Password, overrides the password in the url" optional:""`
	DatasourceFile string `help:"YAML file with url, driver, user and password keys" optional:"" type:"path"`
}

type datasourceFile struct {
	URL      string `yaml:"url"`
	Driver   string `yaml:"driver"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// IsSet is true if anything identifies a database
func (c DBConfig) IsSet() bool {
	return c.URL != "" || c.DatasourceFile != ""
}

// resolve fills values not given as flags from the datasource file
func (c DBConfig) resolve() (DBConfig, error) {
	if c.DatasourceFile == "" {
		return c, nil
	}
	data, err := os.ReadFile(c.DatasourceFile) // nolint: gosec
	if err != nil {
		return c, errors.Wrapf(err, "could not open database configuration file %q", c.DatasourceFile)
	}
	file := datasourceFile{}
	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return c, errors.Wrapf(err, "invalid configuration file %q", c.DatasourceFile)
	}
	if c.URL == "" {
		c.URL = file.URL
	}
	if c.Driver == "" {
		c.Driver = file.Driver
	}
	if c.User == "" {
		c.User = file.User
	}
	if c.Password == "" {
		c.Password = file.Password
	}
	return c, nil
}

// Dialect detects the dialect from the url and checks it against the driver, if one was given
func (c DBConfig) Dialect() (Dialect, error) {
	c, err := c.resolve()
	if err != nil {
		return UnknownDialect, err
	}
	if c.URL == "" {
		return UnknownDialect, &ValidationError{Message: "datasource url is required"}
	}
	dialect, err := dialectFromURL(c.URL)
	if err != nil {
		return UnknownDialect, errors.WithStack(err)
	}
	if c.Driver != "" {
		driverDialect, err := ParseDialect(c.Driver)
		if err != nil {
			return UnknownDialect, &ValidationError{Message: "unknown driver: " + c.Driver}
		}
		if driverDialect != dialect {
			return UnknownDialect, &ValidationError{
				Message: "driver " + c.Driver + " can't be used with url " + c.String()}
		}
	}
	return dialect, nil
}

// DSN is the data source name handed to the database/sql driver
func (c DBConfig) DSN() (string, error) {
	c, err := c.resolve()
	if err != nil {
		return "", err
	}
	dialect, err := c.Dialect()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid datasource url")
	}
	switch dialect {
	case Postgres:
		u.Scheme = "postgres"
		if c.User != "" || c.Password != "" {
			user := c.User
			if user == "" && u.User != nil {
				user = u.User.Username()
			}
			u.User = url.UserPassword(user, c.Password)
		}
		return u.String(), nil
	case MySQL:
		config := mysql.NewConfig()
		if u.User != nil {
			config.User = u.User.Username()
			config.Passwd, _ = u.User.Password()
		}
		if c.User != "" {
			config.User = c.User
		}
		if c.Password != "" {
			config.Passwd = c.Password
		}
		port := u.Port()
		if port == "" {
			port = "3306"
		}
		config.Net = "tcp"
		config.Addr = net.JoinHostPort(u.Hostname(), port)
		config.DBName = strings.TrimPrefix(u.Path, "/")
		config.ParseTime = true
		config.MultiStatements = true
		for key, values := range u.Query() {
			if config.Params == nil {
				config.Params = make(map[string]string)
			}
			config.Params[key] = values[len(values)-1]
		}
		return config.FormatDSN(), nil
	case SQLite:
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return "", &ValidationError{Message: "sqlite url has no path: " + c.URL}
		}
		return "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", nil
	}
	return "", &UnsupportedDialectError{Dialect: dialect.String(), Operation: "connecting"}
}

// DB opens a pool, it doesn't connect until it is used
func (c DBConfig) DB() (*sql.DB, error) {
	dialect, err := c.Dialect()
	if err != nil {
		return nil, err
	}
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return db, nil
}

func (c DBConfig) String() string {
	if c.URL == "" {
		return c.DatasourceFile
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

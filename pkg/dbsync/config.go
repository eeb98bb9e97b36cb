package dbsync

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type SourceTargetConfig struct {
	Source DBConfig `help:"Database config of source to be copied from" prefix:"source-db-" embed:""`
	Target DBConfig `help:"Database config of target to be copied to" prefix:"target-db-" embed:""`
}

type TableConfig struct {
	BatchSize int `toml:"batch_size" help:"Rows per INSERT statement for this table"`
}

type Config struct {
	Tables map[string]TableConfig `toml:"table"`
}

// CopyConfig controls the read side of a copy
type CopyConfig struct {
	SourceTargetConfig

	BatchSize      int           `help:"Rows per batch and per INSERT statement" default:"100000"`
	Threads        int           `help:"Number of tables copied concurrently, 0 means min(8, number of CPUs)" short:"t" default:"0"`
	QueueSize      int           `help:"Number of table copies that can wait for a free worker" default:"2"`
	ExportTimeout  time.Duration `help:"How long to wait for all tables to be copied" default:"30m"`
	ReadTimeout    time.Duration `help:"Timeout for reading a single batch" default:"5m"`
	ReadRetries    uint64        `help:"How many times to retry reading a single batch (with backoff)" default:"3"`
	SourcePoolSize int           `help:"Max open connections to the source, never fewer than threads" default:"0"`

	ThroughputLoggingFrequency time.Duration `help:"How often to log throughput" default:"10s"`

	ConfigFile string `help:"TOML formatted config file" short:"f" optional:"" type:"path"`

	Config Config `kong:"-"`
}

// LoadConfig loads the ConfigFile if specified
func (c *CopyConfig) LoadConfig() error {
	if c.ConfigFile == "" {
		return nil
	}
	_, err := toml.DecodeFile(c.ConfigFile, &c.Config)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// batchSizeFor returns the per table override or the default batch size
func (c *CopyConfig) batchSizeFor(table string) int {
	if tableConfig, ok := c.Config.Tables[table]; ok && tableConfig.BatchSize > 0 {
		return tableConfig.BatchSize
	}
	return c.BatchSize
}

package dbsync

import (
	"context"
	"io"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const maxDefaultThreads = 8

// Export copies all tables of the source into the empty target and/or an SQL file
type Export struct {
	CopyConfig

	Output          string        `help:"Write the statements to this file, gzip compressed if it ends in .gz" short:"o" optional:"" type:"path"`
	Insert          bool          `help:"Execute the statements against the target" short:"i" default:"false"`
	Progress        bool          `help:"Show a progress bar" short:"p" default:"false"`
	WriteRetries    int           `help:"How many times to retry executing a statement on the target" default:"3"`
	WriteTimeout    time.Duration `help:"Timeout for executing a single statement on the target" default:"5m"`
	TargetPoolSize  int           `help:"Max open connections to the target, 0 means the number of threads" default:"0"`
	ChangelogDir    string        `help:"Directory with createSchema, createView and createIndex migration directories" optional:"" type:"path"`
	LegacyDeltasDir string        `help:"Directory with delta scripts for sources that still use the legacy changelog table" optional:"" type:"path"`
}

// Run runs the export
func (cmd *Export) Run() error {
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := cmd.run(ctx)
	logCommandResult("export", start, err)
	return err
}

func (cmd *Export) validate() error {
	if cmd.Output == "" && !cmd.Insert {
		return &ValidationError{Message: "at least one of --output or --insert is required"}
	}
	if cmd.BatchSize <= 0 {
		return &ValidationError{Message: "--batch-size must be positive"}
	}
	if cmd.QueueSize <= 0 {
		return &ValidationError{Message: "--queue-size must be positive"}
	}
	if cmd.Threads < 0 {
		return &ValidationError{Message: "--threads can't be negative"}
	}
	if !cmd.Source.IsSet() {
		return &ValidationError{Message: "source database is required"}
	}
	if !cmd.Target.IsSet() {
		return &ValidationError{Message: "target database is required"}
	}
	return nil
}

func (cmd *Export) threads() int {
	if cmd.Threads > 0 {
		return cmd.Threads
	}
	return lo.Min([]int{maxDefaultThreads, runtime.NumCPU()})
}

func (cmd *Export) run(ctx context.Context) error {
	err := cmd.validate()
	if err != nil {
		return err
	}
	err = cmd.LoadConfig()
	if err != nil {
		return err
	}
	logger := logrus.WithField("command", "export")
	threads := cmd.threads()

	source, err := OpenDataSource(ctx, "source", cmd.Source, lo.Max([]int{cmd.SourcePoolSize, threads}))
	if err != nil {
		return err
	}
	defer source.Close()
	logger.Infof("Using dialect %s for source database.", source.Dialect)

	targetDialect, err := cmd.Target.Dialect()
	if err != nil {
		return err
	}
	targetPoolSize := cmd.TargetPoolSize
	if targetPoolSize == 0 {
		targetPoolSize = threads
	}
	if targetDialect == SQLite {
		// a single writer, concurrent write transactions would only wait for each other
		targetPoolSize = 1
	}
	target, err := OpenDataSource(ctx, "target", cmd.Target, targetPoolSize)
	if err != nil {
		return err
	}
	defer target.Close()
	logger.Infof("Using dialect %s for target database.", target.Dialect)

	_, err = NewLegacyUpgrader(source, cmd.LegacyDeltasDir, logger).Upgrade(ctx)
	if err != nil {
		return err
	}

	existing, err := ListTables(ctx, target.Dialect, target.DB)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return &TargetNotEmptyError{Tables: existing}
	}

	var out io.WriteCloser
	var sinkOut io.Writer
	if cmd.Output != "" {
		out, err = OpenOutput(cmd.Output)
		if err != nil {
			return err
		}
		defer func() {
			if out != nil {
				_ = out.Close()
			}
		}()
		sinkOut = out
	}
	var executor *DataSource
	if cmd.Insert {
		executor = target
	}
	sink := NewSink(sinkOut, executor, cmd.WriteRetries, logger).WithTimeout(cmd.WriteTimeout)

	inventory, err := LoadInventory(ctx, source)
	if err != nil {
		return err
	}
	for _, table := range inventory.Tables {
		logger.WithField("table", table.Name).Infof("table %s has %d rows", table.Name, table.RowCount)
	}
	logger.Infof("copying %d tables with %d rows using %d threads", len(inventory.Tables), inventory.TotalRows(), threads)

	migrator := NewSchemaMigrator(cmd.ChangelogDir, target, sink, logger)
	for _, phase := range []Phase{CreateSchema, CreateView} {
		err = migrator.Apply(ctx, phase)
		if err != nil {
			return err
		}
	}

	progress := NewProgress(inventory.TotalRows(), cmd.ThroughputLoggingFrequency, cmd.Progress, logger)
	run := &RunContext{
		Source:       source,
		Target:       target,
		Sink:         sink,
		Progress:     progress,
		Logger:       logger,
		ReadRetry:    RetryOptions{MaxRetries: cmd.ReadRetries, Timeout: cmd.ReadTimeout},
		BatchSizeFor: cmd.batchSizeFor,
	}
	err = cmd.copyTables(ctx, run, inventory, threads)
	progress.Close()
	if err != nil {
		return err
	}
	logger.Infof("copied %d rows in %d batches", progress.Rows(), progress.Batches())

	err = ResetSequences(ctx, run, inventory)
	if err != nil {
		return err
	}
	err = migrator.Apply(ctx, CreateIndex)
	if err != nil {
		return err
	}

	if out != nil {
		err = out.Close()
		out = nil
		if err != nil {
			return errors.Wrapf(err, "could not close %s", cmd.Output)
		}
		logger.Infof("wrote %d statements to %s", sink.Writes(), cmd.Output)
	}

	if !cmd.Insert {
		return nil
	}
	return VerifyCounts(ctx, target, inventory, logger)
}

func (cmd *Export) copyTables(ctx context.Context, run *RunContext, inventory *Inventory, threads int) error {
	tasks := lo.Map(inventory.Tables, func(table *Table, _ int) Task {
		return Task{Name: table.Name, Run: NewTableCopier(run, table).Run}
	})
	scheduler := &Scheduler{
		Threads:   threads,
		QueueSize: cmd.QueueSize,
		Timeout:   cmd.ExportTimeout,
		Logger:    run.Logger,
	}
	return scheduler.Run(ctx, tasks)
}

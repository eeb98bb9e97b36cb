package dbsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	tablesTotalMetric = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tables_total",
			Help: "How many tables are being copied.",
		},
	)
	tablesDoneMetric = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tables_done",
			Help: "How many tables are done.",
		},
	)
	tablesSubmittedMetric = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tables_submitted",
			Help: "How many tables have been handed to the workers or queued for them.",
		},
	)
)

func init() {
	prometheus.MustRegister(tablesTotalMetric)
	prometheus.MustRegister(tablesDoneMetric)
	prometheus.MustRegister(tablesSubmittedMetric)
}

// cancelGracePeriod is how long a timed out run waits for workers to notice the cancellation
const cancelGracePeriod = 10 * time.Second

// Task is one table copy
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs tasks on a fixed number of workers fed by a small queue,
// submitting blocks while the queue is full
type Scheduler struct {
	Threads   int
	QueueSize int
	// Timeout is how long to wait for the tasks once the last one is submitted, no limit if zero
	Timeout time.Duration
	Logger  *logrus.Entry
}

// Run runs all tasks to completion, the first failure cancels the rest
func (s *Scheduler) Run(ctx context.Context, tasks []Task) error {
	if s.Threads <= 0 {
		return errors.Errorf("need more parallelism")
	}
	if s.QueueSize <= 0 {
		return errors.Errorf("queue size must be positive: %d", s.QueueSize)
	}
	logger := s.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("task", "scheduler")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := newTableTracker(tasks, logger)
	tablesTotalMetric.Set(float64(len(tasks)))
	tablesDoneMetric.Set(0)
	tablesSubmittedMetric.Set(0)

	queue := make(chan Task, s.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.Threads; i++ {
		g.Go(func() error {
			for task := range queue {
				if gctx.Err() != nil {
					continue
				}
				err := task.Run(gctx)
				if err != nil {
					logger.WithField("table", task.Name).WithError(err).Errorf("table %s failed: %v", task.Name, err)
					return errors.WithStack(err)
				}
				tracker.done(task.Name)
			}
			return nil
		})
	}

	submitted := make(chan struct{})
	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case queue <- task:
				tablesSubmittedMetric.Inc()
			case <-gctx.Done():
				return
			}
		}
		close(submitted)
	}()

	finished := make(chan error, 1)
	go func() {
		finished <- g.Wait()
	}()

	select {
	case err := <-finished:
		return err
	case <-submitted:
	}
	logger.Infof("all %d tables submitted, waiting for %d tables to finish", len(tasks), len(tracker.pending()))

	var timeout <-chan time.Time
	if s.Timeout > 0 {
		timer := time.NewTimer(s.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-finished:
		return err
	case <-timeout:
		pending := tracker.pending()
		logger.Errorf("timed out after %v waiting for tables: %s", s.Timeout, strings.Join(pending, ","))
		cancel()
		select {
		case <-finished:
		case <-time.After(cancelGracePeriod):
			logger.Warnf("tables still running %v after cancelling", cancelGracePeriod)
		}
		return &TimeoutError{Timeout: s.Timeout, Pending: pending}
	}
}

// tableTracker keeps track of the tables that are not done yet
type tableTracker struct {
	mu     sync.Mutex
	left   []string
	logger *logrus.Entry
}

func newTableTracker(tasks []Task, logger *logrus.Entry) *tableTracker {
	left := make([]string, 0, len(tasks))
	for _, task := range tasks {
		left = append(left, task.Name)
	}
	return &tableTracker{left: left, logger: logger}
}

func (t *tableTracker) done(table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.left = removeElement(t.left, table)
	tablesDoneMetric.Inc()
	t.logger.Infof("table done: %v tables left: %v", table, strings.Join(t.left, ","))
}

func (t *tableTracker) pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.left...)
}

func removeElement[T comparable](slice []T, element T) []T {
	for i, e := range slice {
		if e == element {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}

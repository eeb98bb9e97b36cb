package dbsync

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/atomic"
)

// ProgressCounter counts copied rows across all workers, it is only used for reporting
type ProgressCounter struct {
	rows    atomic.Int64
	batches atomic.Int64
}

func (c *ProgressCounter) Add(rows int64) {
	c.rows.Add(rows)
	c.batches.Inc()
}

func (c *ProgressCounter) Rows() int64 {
	return c.rows.Load()
}

func (c *ProgressCounter) Batches() int64 {
	return c.batches.Load()
}

// ThroughputLogger periodically logs the rows per second of a ProgressCounter
type ThroughputLogger struct {
	name      string
	frequency time.Duration
	total     int64
	counter   *ProgressCounter
	logger    *logrus.Entry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewThroughputLogger(name string, frequency time.Duration, total int64, counter *ProgressCounter, logger *logrus.Entry) *ThroughputLogger {
	t := &ThroughputLogger{
		name:      name,
		frequency: frequency,
		total:     total,
		counter:   counter,
		logger:    logger.WithField("task", name),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if frequency > 0 {
		go t.run()
	} else {
		close(t.done)
	}
	return t
}

func (t *ThroughputLogger) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.frequency)
	defer ticker.Stop()
	last := t.counter.Rows()
	lastTime := time.Now()
	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			rows := t.counter.Rows()
			elapsed := now.Sub(lastTime).Seconds()
			rate := float64(rows-last) / elapsed
			if t.total > 0 {
				t.logger.Infof("%s throughput: %s rows/s, %s of %s rows (%.1f%%)",
					t.name, humanize.Commaf(rate), humanize.Comma(rows), humanize.Comma(t.total),
					100*float64(rows)/float64(t.total))
			} else {
				t.logger.Infof("%s throughput: %s rows/s, %s rows", t.name, humanize.Commaf(rate), humanize.Comma(rows))
			}
			last = rows
			lastTime = now
		}
	}
}

func (t *ThroughputLogger) Close() {
	t.once.Do(func() {
		close(t.stop)
	})
	<-t.done
}

// Progress reports copied rows as log lines and optionally as a terminal progress bar
type Progress struct {
	counter    *ProgressCounter
	throughput *ThroughputLogger
	bars       *mpb.Progress
	bar        *mpb.Bar
}

// NewProgress starts reporting progress towards total rows
func NewProgress(total int64, frequency time.Duration, showBar bool, logger *logrus.Entry) *Progress {
	return newProgress(total, frequency, showBar, os.Stderr, logger)
}

func newProgress(total int64, frequency time.Duration, showBar bool, out io.Writer, logger *logrus.Entry) *Progress {
	counter := &ProgressCounter{}
	p := &Progress{
		counter:    counter,
		throughput: NewThroughputLogger("copy", frequency, total, counter, logger),
	}
	if showBar {
		p.bars = mpb.New(mpb.WithOutput(out), mpb.WithWidth(60))
		p.bar = p.bars.AddBar(total,
			mpb.PrependDecorators(
				decor.Name("rows"),
				decor.CountersNoUnit(" %d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.OnComplete(
					decor.NewPercentage("%.2f", decor.WCSyncSpaceR), "completed",
				),
				decor.OnComplete(
					decor.AverageETA(decor.ET_STYLE_GO), "",
				),
			),
		)
	}
	return p
}

// Record is called by every worker after each batch
func (p *Progress) Record(table string, rows int) {
	p.counter.Add(int64(rows))
	if p.bar != nil {
		p.bar.IncrInt64(int64(rows))
	}
}

func (p *Progress) Rows() int64 {
	return p.counter.Rows()
}

func (p *Progress) Batches() int64 {
	return p.counter.Batches()
}

func (p *Progress) Close() {
	p.throughput.Close()
	if p.bar != nil {
		// complete the bar even if the row counts drifted since the inventory
		p.bar.SetTotal(-1, true)
		p.bars.Wait()
	}
}

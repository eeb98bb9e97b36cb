package dbsync

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	verificationMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_mismatches",
			Help: "Tables whose target row count differs from the source, partitioned by table.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(verificationMismatches)
}

// VerifyCounts compares the inventory row counts with the rows now in the target,
// every mismatch is collected into a single VerificationError
func VerifyCounts(ctx context.Context, target *DataSource, inventory *Inventory, logger *logrus.Entry) error {
	logger = logger.WithField("task", "verify")
	var mismatches []Mismatch
	for _, table := range inventory.Tables {
		// Named the way the exported INSERTs created and filled it
		actual, err := countRowsNamed(ctx, target.DB, target.Dialect.RenderName(table.Name), table.Name)
		if err != nil {
			return errors.WithStack(err)
		}
		if actual != table.RowCount {
			mismatch := Mismatch{Table: table.Name, Expected: table.RowCount, Actual: actual}
			verificationMismatches.WithLabelValues(table.Name).Inc()
			logger.WithField("table", table.Name).Error(mismatch.String())
			mismatches = append(mismatches, mismatch)
		}
	}
	if len(mismatches) > 0 {
		return &VerificationError{Mismatches: mismatches}
	}
	logger.Infof("All good!")
	return nil
}

// Verify compares the current source row counts with the target
type Verify struct {
	SourceTargetConfig
}

func (cmd *Verify) Run() error {
	start := time.Now()
	ctx := context.Background()
	err := cmd.run(ctx)
	logCommandResult("verify", start, err)
	return err
}

func (cmd *Verify) run(ctx context.Context) error {
	source, err := OpenDataSource(ctx, "source", cmd.Source, 1)
	if err != nil {
		return err
	}
	defer source.Close()
	target, err := OpenDataSource(ctx, "target", cmd.Target, 1)
	if err != nil {
		return err
	}
	defer target.Close()

	inventory, err := LoadInventory(ctx, source)
	if err != nil {
		return err
	}
	return VerifyCounts(ctx, target, inventory, logrus.NewEntry(logrus.StandardLogger()))
}

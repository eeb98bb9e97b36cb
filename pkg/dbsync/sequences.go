package dbsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ResetSequences moves each table's id sequence past the copied ids, a no-op for databases that track it themselves
func ResetSequences(ctx context.Context, run *RunContext, inventory *Inventory) error {
	dialect := run.TargetDialect()
	behavior, ok := dialects[dialect]
	if !ok {
		return &UnsupportedDialectError{Dialect: dialect.String(), Operation: "sequence reset"}
	}
	logger := run.Logger.WithField("task", "sequences")
	if behavior.sequenceReset == "" {
		logger.Infof("%s maintains sequences itself, nothing to reset", dialect)
		return nil
	}
	err := run.Sink.Comment("Setting sequences")
	if err != nil {
		return err
	}
	for _, table := range inventory.Tables {
		stmt := fmt.Sprintf(behavior.sequenceReset, strings.ToLower(table.Name), dialect.RenderName(table.Name))
		err := run.Sink.Emit(ctx, stmt)
		if err != nil {
			return errors.Wrapf(err, "could not reset sequence of %s", table.Name)
		}
	}
	logger.Infof("reset sequences of %d tables", len(inventory.Tables))
	return nil
}

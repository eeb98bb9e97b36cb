package dbsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// ListInventory prints the tables of the source that would be copied and their row counts
type ListInventory struct {
	Source DBConfig `help:"Database config of source to be copied from" prefix:"source-db-" embed:""`

	out io.Writer `kong:"-"`
}

func (cmd *ListInventory) Run() error {
	start := time.Now()
	err := cmd.run(context.Background())
	logCommandResult("inventory", start, err)
	return err
}

func (cmd *ListInventory) run(ctx context.Context) error {
	if !cmd.Source.IsSet() {
		return &ValidationError{Message: "source database is required"}
	}
	source, err := OpenDataSource(ctx, "source", cmd.Source, 1)
	if err != nil {
		return err
	}
	defer source.Close()

	inventory, err := LoadInventory(ctx, source)
	if err != nil {
		return err
	}
	out := cmd.out
	if out == nil {
		out = os.Stdout
	}
	for _, table := range inventory.Tables {
		_, err = fmt.Fprintf(out, "%s\t%d\n", table.Name, table.RowCount)
		if err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "%d tables, %s rows\n", len(inventory.Tables), humanize.Comma(inventory.TotalRows()))
	return err
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coredatabase "github.com/juju/healthmigration/core/database"
	"github.com/juju/healthmigration/domain/schema"
	"github.com/juju/healthmigration/internal/database"
)

// SQLiteSuite is used to provide a database, pre-populated with the health
// data schema, to tests.
type SQLiteSuite struct {
	jujutesting.IsolationSuite

	db *database.DB
}

// SetUpTest opens a fresh database in a temporary directory and applies
// the schema to it.
func (s *SQLiteSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	db, err := database.Open(filepath.Join(c.MkDir(), "health.db"))
	c.Assert(err, jc.ErrorIsNil)
	s.db = db

	err = database.ApplyDDL(context.Background(), db, schema.HealthDDL())
	c.Assert(err, jc.ErrorIsNil)
}

// TearDownTest closes the database.
func (s *SQLiteSuite) TearDownTest(c *gc.C) {
	if s.db != nil {
		c.Check(s.db.Close(), jc.ErrorIsNil)
		s.db = nil
	}
	s.IsolationSuite.TearDownTest(c)
}

// TxnRunner returns the transaction runner for the test database.
func (s *SQLiteSuite) TxnRunner() coredatabase.TxnRunner {
	return s.db
}

// TxnRunnerFactory returns a factory yielding the test database.
func (s *SQLiteSuite) TxnRunnerFactory() coredatabase.TxnRunnerFactory {
	return s.db.Factory()
}

// CountRows returns the number of rows in the given table.
func (s *SQLiteSuite) CountRows(c *gc.C, table string) int {
	var n int
	err := s.db.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n)
	})
	c.Assert(err, jc.ErrorIsNil)
	return n
}

// DumpTable dumps the contents of the given table to stdout.
// This is useful for debugging tests. It is not intended for use
// in production code.
func (s *SQLiteSuite) DumpTable(c *gc.C, table string, extraTables ...string) {
	for _, t := range append([]string{table}, extraTables...) {
		buffer := new(bytes.Buffer)
		writer := tabwriter.NewWriter(buffer, 0, 8, 4, ' ', 0)

		err := s.db.StdTxn(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q", t))
			if err != nil {
				return err
			}
			defer rows.Close()

			cols, err := rows.Columns()
			if err != nil {
				return err
			}
			for _, col := range cols {
				fmt.Fprintf(writer, "%s\t", col)
			}
			fmt.Fprintln(writer)

			vals := make([]any, len(cols))
			for i := range vals {
				vals[i] = new(any)
			}
			for rows.Next() {
				if err := rows.Scan(vals...); err != nil {
					return err
				}
				for _, val := range vals {
					fmt.Fprintf(writer, "%v\t", *val.(*any))
				}
				fmt.Fprintln(writer)
			}
			return rows.Err()
		})
		c.Assert(err, jc.ErrorIsNil)
		writer.Flush()

		fmt.Fprintf(os.Stdout, "Table - %s:\n", t)

		var width int
		scanner := bufio.NewScanner(bytes.NewBuffer(buffer.Bytes()))
		for scanner.Scan() {
			if num := len(scanner.Text()); num > width {
				width = num
			}
		}

		fmt.Fprintln(os.Stdout, strings.Repeat("-", width))
		fmt.Fprintln(os.Stdout, buffer.String())
		fmt.Fprintln(os.Stdout, strings.Repeat("-", width))
		fmt.Fprintln(os.Stdout)
	}
}

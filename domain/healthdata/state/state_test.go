// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/healthmigration/domain/healthdata"
	databasetesting "github.com/juju/healthmigration/internal/database/testing"
)

type stateSuite struct {
	databasetesting.SQLiteSuite

	state *State
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.SQLiteSuite.SetUpTest(c)
	s.state = NewState(s.TxnRunnerFactory())
}

func (s *stateSuite) TestInsertAllThenRead(c *gc.C) {
	ctx := context.Background()
	reqs := []healthdata.InsertRequest{{
		UUID:         "a",
		RecordType:   "steps",
		DataCategory: 1,
		PackageName:  "a.pkg",
		Data:         []byte("one"),
	}, {
		UUID:           "b",
		RecordType:     "heart-rate",
		DataCategory:   2,
		PackageName:    "b.pkg",
		ClientRecordID: "client-1",
		Data:           []byte("two"),
	}}

	err := s.state.InsertAll(ctx, reqs, time.Now())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.CountRows(c, "health_record"), gc.Equals, 2)

	records, err := s.state.RecordsByCategory(ctx, 2)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records, jc.DeepEquals, []healthdata.InsertRequest{reqs[1]})
}

func (s *stateSuite) TestInsertAllOverwrites(c *gc.C) {
	ctx := context.Background()
	req := healthdata.InsertRequest{UUID: "a", RecordType: "steps", DataCategory: 1, PackageName: "a.pkg", Data: []byte("one")}
	c.Assert(s.state.InsertAll(ctx, []healthdata.InsertRequest{req}, time.Now()), jc.ErrorIsNil)

	req.Data = []byte("two")
	c.Assert(s.state.InsertAll(ctx, []healthdata.InsertRequest{req}, time.Now()), jc.ErrorIsNil)

	records, err := s.state.RecordsByCategory(ctx, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1)
	c.Check(records[0].Data, jc.DeepEquals, []byte("two"))
}

func (s *stateSuite) TestInsertAllIsAtomic(c *gc.C) {
	ctx := context.Background()

	// The second row has no record type.
	err := s.state.InsertAll(ctx, []healthdata.InsertRequest{
		{UUID: "a", RecordType: "steps", DataCategory: 1, PackageName: "a.pkg", Data: []byte("one")},
		{UUID: "b", DataCategory: 1, PackageName: "a.pkg", Data: []byte("two")},
	}, time.Now())
	c.Assert(err, gc.ErrorMatches, `inserting 2 records: inserting record "b": .*`)
	c.Check(s.CountRows(c, "health_record"), gc.Equals, 0)
}

func (s *stateSuite) TestRecordsByCategoryEmpty(c *gc.C) {
	records, err := s.state.RecordsByCategory(context.Background(), 9)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records, gc.HasLen, 0)
}

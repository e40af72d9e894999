// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jobrunner

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"
)

type runnerSuite struct {
	jujutesting.IsolationSuite

	clock *testclock.Clock
}

var _ = gc.Suite(&runnerSuite{})

func (s *runnerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
}

func (s *runnerSuite) newRunner(c *gc.C) *Runner {
	r, err := NewRunner(Config{
		Clock:  s.clock,
		Logger: loggo.GetLogger("test"),
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { workertest.CleanKill(c, r) })
	return r
}

func signal(ch chan<- string, name string) func(context.Context) error {
	return func(context.Context) error {
		ch <- name
		return nil
	}
}

func (s *runnerSuite) expectRun(c *gc.C, ch <-chan string, name string) {
	select {
	case got := <-ch:
		c.Assert(got, gc.Equals, name)
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for job %q", name)
	}
}

func (s *runnerSuite) expectNoRun(c *gc.C, ch <-chan string) {
	select {
	case got := <-ch:
		c.Fatalf("unexpected run of job %q", got)
	case <-time.After(shortWait):
	}
}

func (s *runnerSuite) TestConfigValidate(c *gc.C) {
	_, err := NewRunner(Config{Logger: loggo.GetLogger("test")})
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = NewRunner(Config{Clock: s.clock})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *runnerSuite) TestScheduleValidation(c *gc.C) {
	r := s.newRunner(c)
	c.Check(r.MinPeriodicInterval(), gc.Equals, DefaultMinPeriodicInterval)

	run := func(context.Context) error { return nil }
	key := Key{Namespace: "ns", ID: "1"}
	for i, job := range []Job{
		{Key: Key{Namespace: "ns"}, Run: run},
		{Key: key},
		{Key: key, Run: run, Periodic: time.Minute},
		{Key: key, Run: run, Periodic: -time.Hour},
		{Key: key, Run: run, MinLatency: -time.Second},
	} {
		c.Logf("test %d", i)
		c.Check(r.Schedule(job), jc.ErrorIs, SchedulingFailure)
	}
	c.Check(r.Pending("ns"), gc.HasLen, 0)
}

func (s *runnerSuite) TestOneShotRunsOnce(c *gc.C) {
	r := s.newRunner(c)
	ran := make(chan string, 10)

	err := r.Schedule(Job{
		Key:        Key{Namespace: "ns", ID: "once"},
		MinLatency: time.Hour,
		Run:        signal(ran, "once"),
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(r.Pending("ns"), gc.HasLen, 1)

	c.Assert(s.clock.WaitAdvance(time.Hour, longWait, 1), jc.ErrorIsNil)
	s.expectRun(c, ran, "once")
	c.Check(r.Pending("ns"), gc.HasLen, 0)

	s.clock.Advance(24 * time.Hour)
	s.expectNoRun(c, ran)
}

func (s *runnerSuite) TestPeriodicRunsRepeatedly(c *gc.C) {
	r := s.newRunner(c)
	ran := make(chan string, 10)

	err := r.Schedule(Job{
		Key:        Key{Namespace: "ns", ID: "tick"},
		Periodic:   time.Hour,
		MinLatency: time.Hour,
		Run:        signal(ran, "tick"),
	})
	c.Assert(err, jc.ErrorIsNil)

	for i := 0; i < 3; i++ {
		c.Assert(s.clock.WaitAdvance(time.Hour, longWait, 1), jc.ErrorIsNil)
		s.expectRun(c, ran, "tick")
	}
	c.Check(r.Pending("ns"), gc.HasLen, 1)
}

func (s *runnerSuite) TestFailingJobKeepsRunner(c *gc.C) {
	r := s.newRunner(c)
	ran := make(chan string, 10)

	err := r.Schedule(Job{
		Key:        Key{Namespace: "ns", ID: "bad"},
		MinLatency: time.Minute,
		Run: func(context.Context) error {
			ran <- "bad"
			return errors.New("boom")
		},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.clock.WaitAdvance(time.Minute, longWait, 1), jc.ErrorIsNil)
	s.expectRun(c, ran, "bad")

	err = r.Schedule(Job{
		Key:        Key{Namespace: "ns", ID: "good"},
		MinLatency: time.Minute,
		Run:        signal(ran, "good"),
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.clock.WaitAdvance(time.Minute, longWait, 1), jc.ErrorIsNil)
	s.expectRun(c, ran, "good")
}

func (s *runnerSuite) TestScheduleReplacesSameKey(c *gc.C) {
	r := s.newRunner(c)
	ran := make(chan string, 10)
	key := Key{Namespace: "ns", ID: "job"}

	c.Assert(r.Schedule(Job{Key: key, MinLatency: time.Hour, Run: signal(ran, "first")}), jc.ErrorIsNil)
	c.Assert(r.Schedule(Job{Key: key, MinLatency: time.Hour, Run: signal(ran, "second")}), jc.ErrorIsNil)
	c.Check(r.Pending("ns"), gc.HasLen, 1)

	c.Assert(s.clock.WaitAdvance(time.Hour, longWait, 1), jc.ErrorIsNil)
	s.expectRun(c, ran, "second")
	s.expectNoRun(c, ran)
}

func (s *runnerSuite) TestCancelAll(c *gc.C) {
	r := s.newRunner(c)
	ran := make(chan string, 10)

	c.Assert(r.Schedule(Job{Key: Key{Namespace: "a", ID: "2"}, MinLatency: time.Hour, Run: signal(ran, "a2")}), jc.ErrorIsNil)
	c.Assert(r.Schedule(Job{Key: Key{Namespace: "a", ID: "1"}, MinLatency: time.Hour, Run: signal(ran, "a1")}), jc.ErrorIsNil)
	c.Assert(r.Schedule(Job{Key: Key{Namespace: "b", ID: "1"}, MinLatency: time.Hour, Run: signal(ran, "b1")}), jc.ErrorIsNil)

	pending := r.Pending("a")
	c.Assert(pending, gc.HasLen, 2)
	c.Check(pending[0].Key.ID, gc.Equals, "1")
	c.Check(pending[1].Key.ID, gc.Equals, "2")

	r.CancelAll("a")
	c.Check(r.Pending("a"), gc.HasLen, 0)
	c.Check(r.Pending("b"), gc.HasLen, 1)

	c.Assert(s.clock.WaitAdvance(time.Hour, longWait, 1), jc.ErrorIsNil)
	s.expectRun(c, ran, "b1")
	s.expectNoRun(c, ran)
}

func (s *runnerSuite) TestScheduleAfterKill(c *gc.C) {
	r, err := NewRunner(Config{
		Clock:  s.clock,
		Logger: loggo.GetLogger("test"),
	})
	c.Assert(err, jc.ErrorIsNil)
	workertest.CleanKill(c, r)

	err = r.Schedule(Job{
		Key: Key{Namespace: "ns", ID: "late"},
		Run: func(context.Context) error { return nil },
	})
	c.Check(err, jc.ErrorIs, SchedulingFailure)
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jobrunner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
)

// DefaultMinPeriodicInterval is the shortest interval a periodic job may
// be scheduled at, unless configured otherwise.
const DefaultMinPeriodicInterval = 15 * time.Minute

// Logger is the logging interface used by the runner.
type Logger interface {
	Errorf(string, ...any)
	Debugf(string, ...any)
}

// Config holds the dependencies of a Runner.
type Config struct {
	Clock  clock.Clock
	Logger Logger

	// MinPeriodicInterval overrides DefaultMinPeriodicInterval when set.
	MinPeriodicInterval time.Duration
}

// Validate returns an error if the config cannot be used to start a
// Runner.
func (c Config) Validate() error {
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.MinPeriodicInterval < 0 {
		return errors.NotValidf("negative MinPeriodicInterval")
	}
	return nil
}

type entry struct {
	job   Job
	gen   uint64
	timer clock.Timer
}

type firing struct {
	key Key
	gen uint64
}

// Runner is a worker running scheduled jobs one at a time. Scheduling a
// job under an existing key replaces it.
type Runner struct {
	catacomb catacomb.Catacomb

	clock       clock.Clock
	logger      Logger
	minPeriodic time.Duration

	fired chan firing

	mu      sync.Mutex
	gen     uint64
	entries map[Key]*entry
}

// NewRunner starts a new job runner.
func NewRunner(config Config) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	minPeriodic := config.MinPeriodicInterval
	if minPeriodic == 0 {
		minPeriodic = DefaultMinPeriodicInterval
	}
	r := &Runner{
		clock:       config.Clock,
		logger:      config.Logger,
		minPeriodic: minPeriodic,
		fired:       make(chan firing),
		entries:     make(map[Key]*entry),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &r.catacomb,
		Work: r.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

// MinPeriodicInterval returns the shortest interval accepted for a
// periodic job.
func (r *Runner) MinPeriodicInterval() time.Duration {
	return r.minPeriodic
}

// Schedule schedules the job, replacing any job with the same key. An
// invalid job is rejected with an error satisfying [SchedulingFailure].
func (r *Runner) Schedule(job Job) error {
	if err := job.validate(r.minPeriodic); err != nil {
		return errors.Trace(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.catacomb.Dying():
		return errors.Annotatef(SchedulingFailure, "runner stopping, cannot schedule %q", job.Key)
	default:
	}

	if existing, ok := r.entries[job.Key]; ok {
		existing.timer.Stop()
	}
	r.gen++
	e := &entry{job: job, gen: r.gen}
	e.timer = r.arm(job.Key, e.gen, job.MinLatency)
	r.entries[job.Key] = e

	r.logger.Debugf("scheduled job %q (periodic %v, latency %v)", job.Key, job.Periodic, job.MinLatency)
	return nil
}

// CancelAll cancels every job in the namespace.
func (r *Runner) CancelAll(namespace string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if key.Namespace == namespace {
			e.timer.Stop()
			delete(r.entries, key)
		}
	}
}

// Pending returns the jobs scheduled in the namespace, sorted by id.
func (r *Runner) Pending(namespace string) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []Job
	for key, e := range r.entries {
		if key.Namespace == namespace {
			jobs = append(jobs, e.job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Key.ID < jobs[j].Key.ID
	})
	return jobs
}

// arm must be called with r.mu held.
func (r *Runner) arm(key Key, gen uint64, after time.Duration) clock.Timer {
	return r.clock.AfterFunc(after, func() {
		select {
		case r.fired <- firing{key: key, gen: gen}:
		case <-r.catacomb.Dying():
		}
	})
}

func (r *Runner) loop() error {
	ctx := r.catacomb.Context(context.Background())
	for {
		select {
		case <-r.catacomb.Dying():
			r.stopAll()
			return r.catacomb.ErrDying()
		case f := <-r.fired:
			job, ok := r.claim(f)
			if !ok {
				continue
			}
			if err := job.Run(ctx); err != nil {
				r.logger.Errorf("job %q failed: %v", job.Key, err)
			}
			r.rearm(f)
		}
	}
}

// claim returns the job for a firing, unless it has been cancelled or
// replaced since the timer was armed. One-shot jobs are removed.
func (r *Runner) claim(f firing) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[f.key]
	if !ok || e.gen != f.gen {
		return Job{}, false
	}
	if e.job.Periodic == 0 {
		delete(r.entries, f.key)
	}
	return e.job, true
}

// rearm schedules the next run of a periodic job, unless the job was
// cancelled or replaced while it ran.
func (r *Runner) rearm(f firing) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[f.key]
	if !ok || e.gen != f.gen || e.job.Periodic == 0 {
		return
	}
	e.timer = r.arm(f.key, f.gen, e.job.Periodic)
}

func (r *Runner) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, key)
	}
}

// Kill is part of the worker.Worker interface.
func (r *Runner) Kill() {
	r.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (r *Runner) Wait() error {
	return r.catacomb.Wait()
}

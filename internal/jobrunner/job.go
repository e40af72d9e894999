// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jobrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
)

// SchedulingFailure describes an error that occurs when the runner rejects
// a job definition.
const SchedulingFailure = errors.ConstError("scheduling failure")

// Key identifies a job. Jobs sharing a namespace can be listed and
// cancelled together.
type Key struct {
	Namespace string
	ID        string
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Namespace, k.ID)
}

// Job is a unit of work run by the Runner. A job is either periodic, or a
// one-shot job run once after its minimum latency.
type Job struct {
	Key Key

	// Periodic is the interval between runs of a periodic job. Zero
	// means the job is a one-shot job.
	Periodic time.Duration

	// MinLatency delays the first run of the job.
	MinLatency time.Duration

	// Run is the body of the job.
	Run func(ctx context.Context) error
}

func (j Job) validate(minPeriodic time.Duration) error {
	if j.Key.Namespace == "" || j.Key.ID == "" {
		return errors.Annotatef(SchedulingFailure, "job %q has an incomplete key", j.Key)
	}
	if j.Run == nil {
		return errors.Annotatef(SchedulingFailure, "job %q has no body", j.Key)
	}
	if j.MinLatency < 0 || j.Periodic < 0 {
		return errors.Annotatef(SchedulingFailure, "job %q has a negative duration", j.Key)
	}
	if j.Periodic > 0 && j.Periodic < minPeriodic {
		return errors.Annotatef(SchedulingFailure, "job %q interval %v below minimum %v", j.Key, j.Periodic, minPeriodic)
	}
	return nil
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tunables holds the device tunable settings of the health data
// migration, loaded from a YAML file.
package tunables

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/healthmigration/core/migration"
)

const (
	// IdleStateTimeoutKey is the time the migration may stay Idle before
	// it is completed.
	IdleStateTimeoutKey = "idle-state-timeout"

	// NonIdleStateTimeoutKey is the time the migration may stay in any
	// other non terminal state. It is also the budget of Allowed and
	// InProgress together.
	NonIdleStateTimeoutKey = "non-idle-state-timeout"

	// InProgressStateTimeoutKey is the time a single InProgress stay may
	// last before the migration is paused.
	InProgressStateTimeoutKey = "in-progress-state-timeout"

	// ExecutionTimeBufferKey is subtracted from every timeout to absorb
	// job scheduling slack.
	ExecutionTimeBufferKey = "execution-time-buffer"

	// CompletionJobIntervalKey is the period of the completion job.
	CompletionJobIntervalKey = "completion-job-interval"

	// PauseJobIntervalKey is the period of the pause job.
	PauseJobIntervalKey = "pause-job-interval"

	// AllowedBroadcastCountKey is the number of migration ready
	// broadcasts sent while Allowed.
	AllowedBroadcastCountKey = "allowed-broadcast-count"

	// InProgressBroadcastCountKey is the number of migration ready
	// broadcasts sent while InProgress.
	InProgressBroadcastCountKey = "in-progress-broadcast-count"

	// MaxStartMigrationCallsKey bounds how many times the migration may
	// be started.
	MaxStartMigrationCallsKey = "max-start-migration-calls"

	// ModuleSDKExtensionVersionKey is the module version the migration
	// driver is checked against.
	ModuleSDKExtensionVersionKey = "module-sdk-extension-version"

	// WellKnownPackageKey names the package trusted to drive the
	// migration.
	WellKnownPackageKey = "well-known-package"
)

// Config holds the migration tunables.
type Config struct {
	IdleStateTimeout          time.Duration `yaml:"idle-state-timeout"`
	NonIdleStateTimeout       time.Duration `yaml:"non-idle-state-timeout"`
	InProgressStateTimeout    time.Duration `yaml:"in-progress-state-timeout"`
	ExecutionTimeBuffer       time.Duration `yaml:"execution-time-buffer"`
	CompletionJobInterval     time.Duration `yaml:"completion-job-interval"`
	PauseJobInterval          time.Duration `yaml:"pause-job-interval"`
	AllowedBroadcastCount     int           `yaml:"allowed-broadcast-count"`
	InProgressBroadcastCount  int           `yaml:"in-progress-broadcast-count"`
	MaxStartMigrationCalls    int           `yaml:"max-start-migration-calls"`
	ModuleSDKExtensionVersion int           `yaml:"module-sdk-extension-version"`
	WellKnownPackage          string        `yaml:"well-known-package"`
}

// Default returns the default tunables. The well-known package has no
// default and must be configured.
func Default() Config {
	return Config{
		IdleStateTimeout:          120 * 24 * time.Hour,
		NonIdleStateTimeout:       15 * 24 * time.Hour,
		InProgressStateTimeout:    12 * time.Hour,
		ExecutionTimeBuffer:       30 * time.Minute,
		CompletionJobInterval:     24 * time.Hour,
		PauseJobInterval:          4 * time.Hour,
		AllowedBroadcastCount:     5,
		InProgressBroadcastCount:  5,
		MaxStartMigrationCalls:    3,
		ModuleSDKExtensionVersion: 1,
	}
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	config := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Annotate(err, "decoding tunables")
	}
	if err := config.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return config, nil
}

// Load reads and parses the tunables file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading tunables %q", path)
	}
	config, err := Parse(data)
	if err != nil {
		return Config{}, errors.Annotatef(err, "loading tunables %q", path)
	}
	return config, nil
}

// Validate returns an error if the tunables are not usable.
func (c Config) Validate() error {
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{IdleStateTimeoutKey, c.IdleStateTimeout},
		{NonIdleStateTimeoutKey, c.NonIdleStateTimeout},
		{InProgressStateTimeoutKey, c.InProgressStateTimeout},
		{CompletionJobIntervalKey, c.CompletionJobInterval},
		{PauseJobIntervalKey, c.PauseJobInterval},
	} {
		if d.value <= 0 {
			return errors.NotValidf("%s %v", d.key, d.value)
		}
	}
	if c.ExecutionTimeBuffer < 0 {
		return errors.NotValidf("%s %v", ExecutionTimeBufferKey, c.ExecutionTimeBuffer)
	}
	if c.ExecutionTimeBuffer >= c.InProgressStateTimeout {
		return errors.NotValidf("%s %v not below %s %v",
			ExecutionTimeBufferKey, c.ExecutionTimeBuffer, InProgressStateTimeoutKey, c.InProgressStateTimeout)
	}
	if c.AllowedBroadcastCount < 0 {
		return errors.NotValidf("%s %d", AllowedBroadcastCountKey, c.AllowedBroadcastCount)
	}
	if c.InProgressBroadcastCount < 0 {
		return errors.NotValidf("%s %d", InProgressBroadcastCountKey, c.InProgressBroadcastCount)
	}
	if c.MaxStartMigrationCalls <= 0 {
		return errors.NotValidf("%s %d", MaxStartMigrationCallsKey, c.MaxStartMigrationCalls)
	}
	if c.ModuleSDKExtensionVersion < 0 {
		return errors.NotValidf("%s %d", ModuleSDKExtensionVersionKey, c.ModuleSDKExtensionVersion)
	}
	if c.WellKnownPackage == "" {
		return errors.NotValidf("empty %s", WellKnownPackageKey)
	}
	return nil
}

// CompletionTimeout returns how long the migration may stay in state
// before the completion job moves it to Complete.
func (c Config) CompletionTimeout(state migration.State) time.Duration {
	switch state {
	case migration.Idle:
		return c.IdleStateTimeout
	case migration.Complete:
		return 0
	default:
		return c.NonIdleStateTimeout
	}
}

// PauseTimeout returns how long a single InProgress stay may last.
func (c Config) PauseTimeout() time.Duration {
	return c.InProgressStateTimeout
}

// BroadcastPlan returns how many migration ready broadcasts are due in
// state, spread over period. Both are zero for states without broadcasts.
func (c Config) BroadcastPlan(state migration.State) (count int, period time.Duration) {
	switch state {
	case migration.Allowed:
		return c.AllowedBroadcastCount, c.NonIdleStateTimeout
	case migration.InProgress:
		return c.InProgressBroadcastCount, c.InProgressStateTimeout
	default:
		return 0, 0
	}
}

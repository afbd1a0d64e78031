package logging

import (
	"time"

	"github.com/rs/zerolog/log"
)

// StepLogger times and logs the named phases of process startup (loading
// the model artifact, priming the worker pool, binding the listener).
// A gateway runs headless, so unlike a CLI tool there is no spinner or
// progress bar here — just structured timing on the way up.
type StepLogger struct {
	steps     []string
	current   int
	startTime time.Time
	stepStart time.Time
	stepTimes []time.Duration
}

// NewStepLogger creates a step logger for the given ordered phase names.
func NewStepLogger(steps []string) *StepLogger {
	return &StepLogger{
		steps:     steps,
		current:   -1,
		startTime: time.Now(),
		stepTimes: make([]time.Duration, len(steps)),
	}
}

// StartStep begins the named phase. It must match an entry passed to
// NewStepLogger.
func (sl *StepLogger) StartStep(name string) {
	idx := -1
	for i, s := range sl.steps {
		if s == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		log.Warn().Str("step", name).Msg("startup: unknown step")
		return
	}
	sl.current = idx
	sl.stepStart = time.Now()
	log.Info().
		Str("step", name).
		Int("step_number", idx+1).
		Int("total_steps", len(sl.steps)).
		Msg("startup: step begin")
}

// CompleteStep closes out the in-progress step.
func (sl *StepLogger) CompleteStep() {
	if sl.current < 0 {
		return
	}
	d := time.Since(sl.stepStart)
	sl.stepTimes[sl.current] = d
	log.Info().
		Str("step", sl.steps[sl.current]).
		Dur("duration", d).
		Msg("startup: step done")
}

// Finish logs the total boot time.
func (sl *StepLogger) Finish() {
	log.Info().
		Dur("total_duration", time.Since(sl.startTime)).
		Msg("startup: ready")
}

// Fail logs a fatal startup error against whichever step was in progress.
func (sl *StepLogger) Fail(err error) {
	name := "unknown"
	if sl.current >= 0 && sl.current < len(sl.steps) {
		name = sl.steps[sl.current]
	}
	log.Error().
		Err(err).
		Str("failed_step", name).
		Msg("startup: failed")
}

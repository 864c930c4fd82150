package engine

import (
	"github.com/plf1996/simFocus/internal/models"
)

// PhaseIndex returns the 0-based index of a phase in the fixed order.
// Unrecognized phases index as 0.
func PhaseIndex(phase string) int {
	for i, p := range models.Phases {
		if p == phase {
			return i
		}
	}
	return 0
}

// Advance moves a discussion to the next phase, wrapping to the first phase
// and incrementing the round after the last phase. Pure state transition,
// no I/O.
func Advance(d *models.Discussion) {
	idx := PhaseIndex(d.CurrentPhase)
	if idx < len(models.Phases)-1 {
		d.CurrentPhase = models.Phases[idx+1]
		return
	}
	d.CurrentPhase = models.Phases[0]
	d.CurrentRound++
}

// IsComplete reports whether a discussion has exhausted its rounds.
func IsComplete(d *models.Discussion) bool {
	return d.CurrentRound >= d.MaxRounds
}

// Progress computes the progress percentage for a (round, phase) position,
// capped at 100.
func Progress(currentRound int, currentPhase string, maxRounds int) float64 {
	if maxRounds <= 0 {
		return 0
	}
	phaseProgress := float64(PhaseIndex(currentPhase)) / float64(len(models.Phases))
	progress := (float64(currentRound) + phaseProgress) / float64(maxRounds) * 100
	if progress > 100 {
		return 100
	}
	return progress
}

// Snapshot builds the progress read-model for a discussion.
func Snapshot(d *models.Discussion) *models.DiscussionState {
	return &models.DiscussionState{
		ID:                 d.ID,
		Status:             d.Status,
		CurrentRound:       d.CurrentRound,
		MaxRounds:          d.MaxRounds,
		CurrentPhase:       d.CurrentPhase,
		ProgressPercentage: Progress(d.CurrentRound, d.CurrentPhase, d.MaxRounds),
	}
}

// Lifecycle operations, keyed into the transition table below.
type operation string

const (
	opStart  operation = "start"
	opPause  operation = "pause"
	opResume operation = "resume"
	opStop   operation = "stop"
)

// transitions is the single authoritative table of valid lifecycle
// transitions: source status -> operation -> target status. Every lifecycle
// operation consults it instead of repeating guard conditions.
var transitions = map[string]map[operation]string{
	models.StatusInitialized: {
		opStart: models.StatusRunning,
		opStop:  models.StatusCompleted,
	},
	models.StatusRunning: {
		opPause: models.StatusPaused,
		opStop:  models.StatusCompleted,
	},
	models.StatusPaused: {
		opResume: models.StatusRunning,
		opStop:   models.StatusCompleted,
	},
}

// nextStatus resolves the target status for an operation, or a StateError if
// the operation is invalid from the current status.
func nextStatus(current string, op operation) (string, error) {
	if targets, ok := transitions[current]; ok {
		if target, ok := targets[op]; ok {
			return target, nil
		}
	}
	return "", stateErrorf("cannot %s discussion in status: %s", op, current)
}

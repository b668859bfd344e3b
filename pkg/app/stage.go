package app

import (
	"context"
	"fmt"
)

// Stage is a lifecycle stage the orchestrator drives an app through.
type Stage string

// The lifecycle stages, in execution order.
const (
	StageConfigure Stage = "configure"
	StagePreStart  Stage = "pre-start"
	StagePostStart Stage = "post-start"
	StageRunning   Stage = "running"
	StageCleanup   Stage = "cleanup"
)

// Stages returns all lifecycle stages in execution order.
func Stages() []Stage {
	return []Stage{StageConfigure, StagePreStart, StagePostStart, StageRunning, StageCleanup}
}

// ParseStage validates a stage argument.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages() {
		if s == string(st) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q (want one of configure, pre-start, post-start, running, cleanup)", s)
}

// dispatch invokes the stage method matching st.
func dispatch(ctx context.Context, a App, st Stage) error {
	switch st {
	case StageConfigure:
		return a.Configure(ctx)
	case StagePreStart:
		return a.PreStart(ctx)
	case StagePostStart:
		return a.PostStart(ctx)
	case StageRunning:
		return a.Running(ctx)
	case StageCleanup:
		return a.Cleanup(ctx)
	default:
		return fmt.Errorf("unknown stage %q", st)
	}
}

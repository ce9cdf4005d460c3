// Package pipeline defines the stage contract of a campaign run and the
// stages that turn collected contacts into exported leads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/berinia/conductor/internal/audit"
	"github.com/berinia/conductor/internal/models"
	"go.uber.org/zap"
)

// ErrStageUnavailable matches every *UnavailableError.
var ErrStageUnavailable = errors.New("stage unavailable")

// UnavailableError is a stage-level failure: the stage could not process
// its batch at all, usually because a capability was unreachable.
type UnavailableError struct {
	Stage  models.StageName
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("stage %s unavailable: %s", e.Stage, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrStageUnavailable }

func unavailable(stage models.StageName, err error) *UnavailableError {
	return &UnavailableError{Stage: stage, Reason: err.Error(), Err: err}
}

// OutcomeKind classifies what happened to one item.
type OutcomeKind string

const (
	OutcomeKept    OutcomeKind = "kept"
	OutcomeDropped OutcomeKind = "dropped"
	OutcomeErrored OutcomeKind = "errored"
)

// HeldPrefix marks dropped reasons for leads kept aside for later review.
const HeldPrefix = "held: "

// Outcome is the per-item result of a stage.
type Outcome struct {
	Index  int         `json:"index"`
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

func Kept() Outcome { return Outcome{Kind: OutcomeKept} }

func Dropped(reason string) Outcome { return Outcome{Kind: OutcomeDropped, Reason: reason} }

func Errored(reason string) Outcome { return Outcome{Kind: OutcomeErrored, Reason: reason} }

// Held drops an item but keeps it aside in Result.Held.
func Held(reason string) Outcome { return Dropped(HeldPrefix + reason) }

// IsHeld reports whether the outcome dropped the item for later review.
func (o Outcome) IsHeld() bool {
	return o.Kind == OutcomeDropped && strings.HasPrefix(o.Reason, HeldPrefix)
}

// Result is the output of one stage. Outcomes has exactly one entry per
// input item, in input order. Items holds the kept leads in input order.
type Result struct {
	Items    []models.Lead
	Outcomes []Outcome
	Held     []models.Lead
}

// Tally counts outcomes by kind and reason.
func (r *Result) Tally() (kept, dropped, errored int, reasons map[string]int) {
	reasons = map[string]int{}
	for _, o := range r.Outcomes {
		switch o.Kind {
		case OutcomeKept:
			kept++
		case OutcomeDropped:
			dropped++
		case OutcomeErrored:
			errored++
		}
		if o.Reason != "" {
			reasons[o.Reason]++
		}
	}
	return kept, dropped, errored, reasons
}

// RunContext carries campaign information and shared collaborators into stages.
type RunContext struct {
	CampaignID      string
	Niche           string
	Location        string
	TargetLeadCount int
	Counts          models.StageCounts
	Logger          *zap.Logger
	Recorder        *audit.Recorder
}

func (rc *RunContext) logger() *zap.Logger {
	if rc == nil || rc.Logger == nil {
		return zap.NewNop()
	}
	return rc.Logger
}

// Stage is one step of a campaign run.
type Stage interface {
	Name() models.StageName
	Process(ctx context.Context, items []models.Lead, rc *RunContext) (*Result, error)
}

// ItemFunc processes one item. A non-nil error aborts the whole stage.
type ItemFunc func(ctx context.Context, i int, lead models.Lead) (models.Lead, Outcome, error)

// ProcessEach applies fn to every item in order. The context is checked
// before each item, so cancellation takes effect within one item. A panic
// in fn becomes an errored outcome for that item.
func ProcessEach(ctx context.Context, items []models.Lead, fn ItemFunc) (*Result, error) {
	res := &Result{
		Items:    make([]models.Lead, 0, len(items)),
		Outcomes: make([]Outcome, 0, len(items)),
	}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, outcome, err := safeCall(ctx, fn, i, item)
		if err != nil {
			return res, err
		}
		outcome.Index = i
		res.Outcomes = append(res.Outcomes, outcome)
		switch {
		case outcome.Kind == OutcomeKept:
			res.Items = append(res.Items, out)
		case outcome.IsHeld():
			res.Held = append(res.Held, out)
		}
	}
	return res, nil
}

func safeCall(ctx context.Context, fn ItemFunc, i int, item models.Lead) (out models.Lead, outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, outcome, err = item, Errored(fmt.Sprintf("panic: %v", r)), nil
		}
	}()
	return fn(ctx, i, item)
}

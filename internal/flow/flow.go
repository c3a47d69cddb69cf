// Package flow drives the multi-turn disambiguation of a free-text target:
// decide between not-found, confirm-single, and choose-multiple on each match
// set, and carry the pending state between turns as one typed dialog context.
package flow

import (
	"encoding/json"
	"fmt"

	"github.com/concordhq/concord/internal/dialog"
	"github.com/concordhq/concord/internal/search"
)

const (
	// ContextName is the single dialog context holding a pending flow. At
	// most one pending flow is live per conversation; saving a new one
	// supersedes the old.
	ContextName = "pending_flow"
	// Lifespan is how many turns a pending flow survives without progress.
	Lifespan = 5
	// MaxChoices caps the enumerated choice list so prompt UIs stay usable.
	MaxChoices = 7

	stateParam = "state"
)

// Steps of a pending flow.
const (
	StepCollectTarget = "collect_target"
	StepConfirm       = "confirm"
)

// Outcome of one resolution attempt, branched on match set size.
type Outcome int

const (
	NotFound       Outcome = iota // size 0: re-prompt for the name
	ConfirmSingle                 // size 1: yes/no confirmation
	ChooseMultiple                // size >1: enumerated choice
)

// Decision is the result of deciding over a match set. For ChooseMultiple the
// candidate list is capped to MaxChoices.
type Decision struct {
	Outcome    Outcome
	Candidates []search.Candidate
}

// Decide branches on the match set size.
func Decide(candidates []search.Candidate) Decision {
	switch {
	case len(candidates) == 0:
		return Decision{Outcome: NotFound}
	case len(candidates) == 1:
		return Decision{Outcome: ConfirmSingle, Candidates: candidates}
	default:
		if len(candidates) > MaxChoices {
			candidates = candidates[:MaxChoices]
		}
		return Decision{Outcome: ChooseMultiple, Candidates: candidates}
	}
}

// State is the typed pending-flow value persisted between turns. Params holds
// already-confirmed flow parameters (e.g. the message body) so a re-prompt for
// the target does not lose them.
type State struct {
	Intent     string             `json:"intent"`
	Step       string             `json:"step"`
	Query      string             `json:"query,omitempty"`
	Candidates []search.Candidate `json:"candidates,omitempty"`
	Params     map[string]string  `json:"params,omitempty"`
}

// Param returns a confirmed flow parameter, or "".
func (s State) Param(name string) string {
	return s.Params[name]
}

// WithParam returns a copy of the state with the parameter set.
func (s State) WithParam(name, value string) State {
	params := map[string]string{}
	for k, v := range s.Params {
		params[k] = v
	}
	params[name] = value
	s.Params = params
	return s
}

// Save persists the state on the turn, superseding any pending flow.
func Save(t *dialog.Turn, s State) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode pending flow: %w", err)
	}
	t.SetContext(ContextName, Lifespan, map[string]string{stateParam: string(encoded)})
	return nil
}

// Load returns the pending flow carried into this turn, if any.
func Load(t *dialog.Turn) (State, bool) {
	c, ok := t.Context(ContextName)
	if !ok {
		return State{}, false
	}
	var s State
	if err := json.Unmarshal([]byte(c.Parameters[stateParam]), &s); err != nil {
		return State{}, false
	}
	return s, true
}

// Clear drops the pending flow. Called on every terminal transition
// (action executed or abandoned) and when a new root intent starts.
func Clear(t *dialog.Turn) {
	t.ClearContext(ContextName)
}

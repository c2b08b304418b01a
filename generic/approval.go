/*
approval.go - Role-gated linear approval chain

PURPOSE:
  Conversion and reschedule requests both pass through an ordered list of
  stages. Each stage is approved (advance to the next stage, or accept
  after the last one) or rejected (terminate). ApprovalMachine encodes
  that shape once; workflows only choose the chain and react to the
  outcome.

STATE:
  Approval is the part of a request the machine owns:
    Chain      frozen at submission, never re-evaluated
    Completed  one StageRecord per approved stage, in order
    Outcome    "" while pending, then accepted or rejected
    Rejection  who rejected, at which stage, and why

  The current stage is Chain[len(Completed)] while Outcome is empty.

AUTHORIZATION:
  Each stage requires a Capability; roles map to capabilities in
  roles.go. An actor is checked against the current stage:
    - terminal request                     → InvalidStateError(terminal)
    - holds the current stage's capability → allowed
    - holds only an earlier, completed one → InvalidStateError(already_advanced)
    - otherwise                            → UnauthorizedStageError

  Every method validates before it mutates, so a failed call leaves the
  Approval untouched.

EXAMPLE:
  m, _ := generic.NewApprovalMachine(
      generic.StageSpec{Stage: generic.StageHR, Requires: generic.CapApproveHR},
      generic.StageSpec{Stage: generic.StageDeptHead, Requires: generic.CapApproveDeptHead},
  )
  a := m.Start()
  _, err := m.Advance(&a, generic.RoleHR, now, "")

SEE ALSO:
  - roles.go: Role → capability table
  - conversion/workflow.go, reschedule/workflow.go: Instantiations
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// STAGES
// =============================================================================

type Stage string

const (
	StageHR       Stage = "hr"
	StageDeptHead Stage = "dept_head"
	StageAdmin    Stage = "admin"
)

// DefaultStageCapabilities maps each stage to the capability it requires.
var DefaultStageCapabilities = map[Stage]Capability{
	StageHR:       CapApproveHR,
	StageDeptHead: CapApproveDeptHead,
	StageAdmin:    CapApproveAdmin,
}

// StageSpec pairs a stage with the capability required to act on it.
type StageSpec struct {
	Stage    Stage
	Requires Capability
}

// =============================================================================
// APPROVAL STATE
// =============================================================================

type Outcome string

const (
	OutcomePending  Outcome = ""
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

type StageRecord struct {
	Stage   Stage     `json:"stage"`
	Role    Role      `json:"role"`
	At      time.Time `json:"at"`
	Remarks string    `json:"remarks,omitempty"`
}

type Rejection struct {
	Stage   Stage     `json:"stage"`
	Role    Role      `json:"role"`
	Remarks string    `json:"remarks"`
	At      time.Time `json:"at"`
}

// Approval is the machine-owned portion of a request.
type Approval struct {
	Chain     []Stage       `json:"chain"`
	Completed []StageRecord `json:"completed"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	Rejection *Rejection    `json:"rejection,omitempty"`
}

// IsTerminal reports whether the request was accepted or rejected.
func (a Approval) IsTerminal() bool {
	return a.Outcome != OutcomePending
}

// CurrentStage returns the stage awaiting action; false when terminal.
func (a Approval) CurrentStage() (Stage, bool) {
	if a.IsTerminal() || len(a.Completed) >= len(a.Chain) {
		return "", false
	}
	return a.Chain[len(a.Completed)], true
}

// LastCompleted returns the most recently approved stage, if any.
func (a Approval) LastCompleted() (StageRecord, bool) {
	if len(a.Completed) == 0 {
		return StageRecord{}, false
	}
	return a.Completed[len(a.Completed)-1], true
}

// CompletedAt returns when stage s was approved, or nil.
func (a Approval) CompletedAt(s Stage) *time.Time {
	for _, rec := range a.Completed {
		if rec.Stage == s {
			at := rec.At
			return &at
		}
	}
	return nil
}

// Describe is a workflow-neutral status label.
func (a Approval) Describe() string {
	switch a.Outcome {
	case OutcomeAccepted, OutcomeRejected:
		return string(a.Outcome)
	}
	if stage, ok := a.CurrentStage(); ok {
		return "awaiting_" + string(stage)
	}
	return "unknown"
}

// Clone returns a deep copy.
func (a Approval) Clone() Approval {
	out := Approval{
		Chain:     append([]Stage(nil), a.Chain...),
		Completed: append([]StageRecord(nil), a.Completed...),
		Outcome:   a.Outcome,
	}
	if a.Rejection != nil {
		r := *a.Rejection
		out.Rejection = &r
	}
	return out
}

// =============================================================================
// APPROVAL MACHINE
// =============================================================================

type ApprovalMachine struct {
	specs []StageSpec
}

// NewApprovalMachine builds a machine over an ordered, non-empty list of
// distinct stages.
func NewApprovalMachine(specs ...StageSpec) (*ApprovalMachine, error) {
	if len(specs) == 0 {
		return nil, errors.New("approval chain needs at least one stage")
	}
	seen := make(map[Stage]bool, len(specs))
	for _, s := range specs {
		if s.Stage == "" || s.Requires == "" {
			return nil, fmt.Errorf("stage %q: stage and capability are required", s.Stage)
		}
		if seen[s.Stage] {
			return nil, fmt.Errorf("stage %q appears twice in chain", s.Stage)
		}
		seen[s.Stage] = true
	}
	return &ApprovalMachine{specs: append([]StageSpec(nil), specs...)}, nil
}

// MachineForChain builds a machine for a frozen chain using
// DefaultStageCapabilities.
func MachineForChain(chain []Stage) (*ApprovalMachine, error) {
	specs := make([]StageSpec, 0, len(chain))
	for _, s := range chain {
		c, ok := DefaultStageCapabilities[s]
		if !ok {
			return nil, fmt.Errorf("unknown approval stage %q", s)
		}
		specs = append(specs, StageSpec{Stage: s, Requires: c})
	}
	return NewApprovalMachine(specs...)
}

// Stages returns the chain's stage identifiers in order.
func (m *ApprovalMachine) Stages() []Stage {
	out := make([]Stage, len(m.specs))
	for i, s := range m.specs {
		out[i] = s.Stage
	}
	return out
}

// Start returns a fresh Approval with the chain frozen.
func (m *ApprovalMachine) Start() Approval {
	return Approval{Chain: m.Stages(), Completed: []StageRecord{}}
}

// Advance approves the current stage. After the last stage the outcome
// becomes accepted.
func (m *ApprovalMachine) Advance(a *Approval, acting Role, at time.Time, remarks string) (StageRecord, error) {
	spec, err := m.authorize(*a, acting)
	if err != nil {
		return StageRecord{}, err
	}

	rec := StageRecord{Stage: spec.Stage, Role: acting, At: at, Remarks: strings.TrimSpace(remarks)}
	a.Completed = append(a.Completed, rec)
	if len(a.Completed) == len(m.specs) {
		a.Outcome = OutcomeAccepted
	}
	return rec, nil
}

// Reject terminates the request at the current stage. Remarks are required.
func (m *ApprovalMachine) Reject(a *Approval, acting Role, remarks string, at time.Time) error {
	spec, err := m.authorize(*a, acting)
	if err != nil {
		return err
	}
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return &ValidationError{Field: "remarks", Code: "empty_remarks", Message: "rejection requires remarks"}
	}

	a.Outcome = OutcomeRejected
	a.Rejection = &Rejection{Stage: spec.Stage, Role: acting, Remarks: remarks, At: at}
	return nil
}

func (m *ApprovalMachine) authorize(a Approval, acting Role) (StageSpec, error) {
	if a.IsTerminal() {
		return StageSpec{}, &InvalidStateError{Status: a.Describe(), Reason: StateTerminal}
	}
	if !m.matches(a.Chain) {
		return StageSpec{}, &InvalidStateError{Status: a.Describe(), Reason: StateChainMismatch}
	}

	current := m.specs[len(a.Completed)]
	if acting.Can(current.Requires) {
		return current, nil
	}

	// The actor's stage is already behind the request: a repeated click.
	for _, done := range m.specs[:len(a.Completed)] {
		if acting.Can(done.Requires) {
			return StageSpec{}, &InvalidStateError{Status: a.Describe(), Reason: StateAlreadyAdvanced}
		}
	}
	return StageSpec{}, &UnauthorizedStageError{Stage: current.Stage, Required: current.Requires, Acting: acting}
}

func (m *ApprovalMachine) matches(chain []Stage) bool {
	if len(chain) != len(m.specs) {
		return false
	}
	for i, s := range m.specs {
		if chain[i] != s.Stage {
			return false
		}
	}
	return true
}

// AnnotateState fills request id and workflow status into an
// InvalidStateError produced by the machine. Other errors pass through.
func AnnotateState(err error, id RequestID, status string) error {
	var ise *InvalidStateError
	if errors.As(err, &ise) {
		ise.RequestID = id
		ise.Status = status
	}
	return err
}

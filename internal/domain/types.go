package domain

import (
	"time"
)

type AgentID string

const (
	AgentRequirements AgentID = "requirements"
	AgentPlanner      AgentID = "planner"
	AgentWorker       AgentID = "worker"
	AgentSupervisor   AgentID = "supervisor"
	AgentSynthesizer  AgentID = "synthesizer"
	AgentHuman        AgentID = "human"
)

// Directive is the control signal an agent emits to steer routing.
type Directive string

const (
	DirectiveContinue          Directive = "continue"
	DirectiveValidationPassed  Directive = "validation-passed"
	DirectiveValidationFailed  Directive = "validation-failed"
	DirectiveRequestHumanInput Directive = "request-human-input"
	DirectivePlanRevision      Directive = "plan-revision-requested"
	DirectiveTerminate         Directive = "terminate"
)

// Variant selects the workflow shape: the full multi-agent pipeline or the
// reduced generate/reflect pair used for baseline comparisons.
type Variant string

const (
	VariantFull Variant = "full"
	VariantPair Variant = "pair"
)

type PlanStatus string

const (
	PlanStatusPending PlanStatus = "pending"
	PlanStatusActive  PlanStatus = "active"
	PlanStatusDone    PlanStatus = "done"
	PlanStatusFailed  PlanStatus = "failed"
)

type OutcomeKind string

const (
	OutcomeCompleted     OutcomeKind = "completed"
	OutcomeAborted       OutcomeKind = "aborted"
	OutcomeAwaitingHuman OutcomeKind = "awaiting-human"
)

type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

func Completed() Outcome               { return Outcome{Kind: OutcomeCompleted} }
func Aborted(reason string) Outcome    { return Outcome{Kind: OutcomeAborted, Reason: reason} }
func AwaitingHuman(why string) Outcome { return Outcome{Kind: OutcomeAwaitingHuman, Reason: why} }

// Requirement is one structured requirement statement extracted from the
// design request. Requirements are append-only; Covered flips once the DSG
// carries a satisfies edge for the id.
type Requirement struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Category     string `json:"category,omitempty"`
	Verification string `json:"verification,omitempty"`
	Covered      bool   `json:"covered"`
}

type PlanItem struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      PlanStatus `json:"status"`
}

type MessageRole string

const (
	RoleUser     MessageRole = "user"
	RoleAgent    MessageRole = "agent"
	RoleTool     MessageRole = "tool"
	RoleFeedback MessageRole = "feedback"
)

// MessageEntry is one transcript entry. The transcript is append-only and
// forms the conversational context for gateway calls.
type MessageEntry struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Agent     AgentID     `json:"agent,omitempty"`
	ToolID    string      `json:"tool_id,omitempty"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// SessionState is the shared workflow state. Agents never hold a reference
// to it: they receive a Clone and return a StateDelta, and the engine
// performs the only commit.
type SessionState struct {
	SessionID    string         `json:"session_id"`
	Request      string         `json:"request"`
	Requirements []Requirement  `json:"requirements"`
	Plan         []PlanItem     `json:"plan"`
	Messages     []MessageEntry `json:"messages"`
	RetryCounts  map[string]int `json:"retry_counts"`
	Directive    Directive      `json:"directive"`

	// LastAgent is the agent that produced the current Directive; the
	// router uses it to send validation-failed work back to its producer
	// and to resume after a human-input detour.
	LastAgent AgentID `json:"last_agent,omitempty"`
	// ResumeAgent holds the agent to return to after the human collaborator
	// answers a request-human-input directive.
	ResumeAgent AgentID `json:"resume_agent,omitempty"`
}

func NewSessionState(sessionID, request string) SessionState {
	return SessionState{
		SessionID:   sessionID,
		Request:     request,
		RetryCounts: map[string]int{},
	}
}

// Clone returns a deep copy. Agents receive clones so that an agent bailing
// out mid-way can never leave a half-written shared state behind.
func (s SessionState) Clone() SessionState {
	out := s
	out.Requirements = append([]Requirement(nil), s.Requirements...)
	out.Plan = append([]PlanItem(nil), s.Plan...)
	out.Messages = append([]MessageEntry(nil), s.Messages...)
	out.RetryCounts = make(map[string]int, len(s.RetryCounts))
	for k, v := range s.RetryCounts {
		out.RetryCounts[k] = v
	}
	return out
}

// ActiveItem returns the single active plan item, or nil. The engine
// guarantees at most one item is active at a time.
func (s SessionState) ActiveItem() *PlanItem {
	for i := range s.Plan {
		if s.Plan[i].Status == PlanStatusActive {
			return &s.Plan[i]
		}
	}
	return nil
}

func (s SessionState) NextPendingIndex() int {
	for i := range s.Plan {
		if s.Plan[i].Status == PlanStatusPending {
			return i
		}
	}
	return -1
}

func (s SessionState) PlanExhausted() bool {
	if len(s.Plan) == 0 {
		return false
	}
	for _, item := range s.Plan {
		if item.Status == PlanStatusPending || item.Status == PlanStatusActive {
			return false
		}
	}
	return true
}

// StateDelta is the explicit, append-only change set an agent returns.
// Nil/empty fields mean "no change"; the engine applies the whole delta or
// none of it.
type StateDelta struct {
	AppendMessages     []MessageEntry
	AppendRequirements []Requirement
	// ReplacePlan swaps the whole plan (planner only).
	ReplacePlan []PlanItem
	// ItemStatus updates individual plan item statuses by id.
	ItemStatus map[string]PlanStatus
	// CoverRequirements marks requirement ids as covered.
	CoverRequirements []string
	// SetResumeAgent records where to resume after a human detour.
	SetResumeAgent AgentID
}

// StepEntry is one row of the session audit log: which agent ran at which
// step and where the graph stood afterwards.
type StepEntry struct {
	SessionID    string    `json:"session_id"`
	Step         int       `json:"step"`
	Agent        AgentID   `json:"agent"`
	Directive    Directive `json:"directive"`
	GraphVersion int       `json:"graph_version"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Batch groups the sessions of one CLI batch invocation.
type Batch struct {
	ID          string    `json:"id"`
	Variant     Variant   `json:"variant"`
	Temperature float64   `json:"temperature"`
	Runs        int       `json:"runs"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionRecord is the persisted summary of one session.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Request   string    `json:"request"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Candidate is one proposal in the evolution loop population. Candidates
// are immutable once scored; evolution creates children instead of mutating
// parents so lineage stays auditable.
type Candidate struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Score      *float64 `json:"score,omitempty"`
	Reflection string   `json:"reflection,omitempty"`
	// Lineage is the parent candidate id, empty for generation zero.
	Lineage    string `json:"lineage,omitempty"`
	Generation int    `json:"generation"`
}

func (c Candidate) Scored() bool { return c.Score != nil }

// LineageRoot walks parent links within the given population and returns the
// generation-zero ancestor id (or the candidate's own id when unparented).
func LineageRoot(c Candidate, population map[string]Candidate) string {
	seen := map[string]bool{}
	cur := c
	for cur.Lineage != "" && !seen[cur.ID] {
		seen[cur.ID] = true
		parent, ok := population[cur.Lineage]
		if !ok {
			return cur.Lineage
		}
		cur = parent
	}
	return cur.ID
}

package dsg

import (
	"fmt"
	"time"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

// ValidationError reports the first structural problem found while staging
// a mutation. The mutation is discarded as a whole; the offending node or
// edge is named so the supervisor can feed it back to the producing agent.
type ValidationError struct {
	NodeID string
	Edge   *Edge
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("invalid mutation: node %s: %s", e.NodeID, e.Reason)
	case e.Edge != nil:
		return fmt.Sprintf("invalid mutation: edge %s-[%s]->%s: %s", e.Edge.Source, e.Edge.Relation, e.Edge.Target, e.Reason)
	default:
		return fmt.Sprintf("invalid mutation: %s", e.Reason)
	}
}

// ConflictError is returned by Merge when the two versions share no common
// ancestor. Resolvable payload conflicts do not produce a ConflictError;
// they are resolved last-writer-wins and recorded in provenance.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict: %s", e.Reason)
}

// ConflictRecord documents one resolved merge conflict. It is stored in the
// winning node's provenance so the resolution is auditable and never
// silently dropped.
type ConflictRecord struct {
	NodeID          string         `json:"node_id"`
	ResolvedVersion int            `json:"resolved_version"`
	WinnerAgent     domain.AgentID `json:"winner_agent"`
	WinnerAt        time.Time      `json:"winner_at"`
	LoserAgent      domain.AgentID `json:"loser_agent"`
	LoserAt         time.Time      `json:"loser_at"`
	Reason          string         `json:"reason"`
}

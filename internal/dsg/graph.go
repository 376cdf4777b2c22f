package dsg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

type NodeKind string

const (
	KindRequirement NodeKind = "requirement"
	KindFunction    NodeKind = "function"
	KindComponent   NodeKind = "component"
	KindEmbodiment  NodeKind = "physical-embodiment"
	KindBehavior    NodeKind = "behavior-model"
)

func validKind(k NodeKind) bool {
	switch k {
	case KindRequirement, KindFunction, KindComponent, KindEmbodiment, KindBehavior:
		return true
	}
	return false
}

type Relation string

const (
	RelDecomposes Relation = "decomposes"
	RelSatisfies  Relation = "satisfies"
	RelRealizes   Relation = "realizes"
	RelDependsOn  Relation = "depends-on"
)

func validRelation(r Relation) bool {
	switch r {
	case RelDecomposes, RelSatisfies, RelRealizes, RelDependsOn:
		return true
	}
	return false
}

type Provenance struct {
	Agent     domain.AgentID   `json:"agent"`
	Timestamp time.Time        `json:"timestamp"`
	MessageID string           `json:"message_id,omitempty"`
	Conflicts []ConflictRecord `json:"conflicts,omitempty"`
}

type Node struct {
	ID         string          `json:"id"`
	Kind       NodeKind        `json:"kind"`
	Name       string          `json:"name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Provenance Provenance      `json:"provenance"`
}

// BehaviorPayload is the declared payload shape for behavior-model nodes:
// an opaque simulation script plus its input/output schema. Only the schema
// is validated; the script text is never interpreted here.
type BehaviorPayload struct {
	Script  string            `json:"script"`
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
}

type Edge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Relation Relation `json:"relation"`
}

func (e Edge) key() string {
	return e.Source + "\x00" + e.Target + "\x00" + string(e.Relation)
}

type OpKind string

const (
	OpAddNode    OpKind = "add-node"
	OpUpdateNode OpKind = "update-node"
	OpRemoveNode OpKind = "remove-node"
	OpAddEdge    OpKind = "add-edge"
	OpRemoveEdge OpKind = "remove-edge"
)

type Op struct {
	Kind   OpKind `json:"kind"`
	Node   *Node  `json:"node,omitempty"`
	NodeID string `json:"node_id,omitempty"`
	Edge   *Edge  `json:"edge,omitempty"`
}

// Mutation is a proposed, not-yet-validated change set. Agents emit
// mutations; Apply is the single point where they are validated and
// committed.
type Mutation struct {
	Agent     domain.AgentID `json:"agent"`
	MessageID string         `json:"message_id,omitempty"`
	Ops       []Op           `json:"ops"`
}

// AppliedMutation is one committed entry of the append-only mutation log.
type AppliedMutation struct {
	Version   int            `json:"version"`
	Agent     domain.AgentID `json:"agent"`
	MessageID string         `json:"message_id,omitempty"`
	AppliedAt time.Time      `json:"applied_at"`
	Ops       []Op           `json:"ops"`
}

// Graph is the versioned Design-State Graph. All mutation goes through
// Apply; every successful Apply bumps the version and appends to the log,
// so any historical version can be reconstructed by replay.
type Graph struct {
	nodes   map[string]Node
	edges   []Edge
	version int
	log     []AppliedMutation

	// forkBase is the version this graph was forked from, -1 for a root
	// graph. Merge uses it to locate the common ancestor.
	forkBase int

	lastErr *ValidationError
}

func New() *Graph {
	return &Graph{
		nodes:    map[string]Node{},
		forkBase: -1,
	}
}

func (g *Graph) Version() int { return g.version }

func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Graph) Edges() []Edge {
	out := append([]Edge(nil), g.edges...)
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

func (g *Graph) Log() []AppliedMutation {
	return append([]AppliedMutation(nil), g.log...)
}

// LastApplyError reports the ValidationError from the most recent Apply, or
// nil if it succeeded. The supervisor gate reads this.
func (g *Graph) LastApplyError() *ValidationError { return g.lastErr }

// Apply validates the mutation against a staged copy and commits it
// all-or-nothing. On failure the graph is unchanged and the returned
// *ValidationError names the offending node or edge.
func (g *Graph) Apply(m Mutation) (int, error) {
	if len(m.Ops) == 0 {
		verr := &ValidationError{Reason: "mutation has no ops"}
		g.lastErr = verr
		return 0, verr
	}

	staged := stage{
		nodes: make(map[string]Node, len(g.nodes)),
		edges: append([]Edge(nil), g.edges...),
	}
	for id, n := range g.nodes {
		staged.nodes[id] = n
	}

	now := time.Now().UTC()
	for i := range m.Ops {
		if err := staged.apply(m.Ops[i], m, now); err != nil {
			g.lastErr = err
			return 0, err
		}
	}

	g.nodes = staged.nodes
	g.edges = staged.edges
	g.version++
	g.log = append(g.log, AppliedMutation{
		Version:   g.version,
		Agent:     m.Agent,
		MessageID: m.MessageID,
		AppliedAt: now,
		Ops:       cloneOps(m.Ops),
	})
	g.lastErr = nil
	return g.version, nil
}

type stage struct {
	nodes map[string]Node
	edges []Edge
}

func (st *stage) apply(op Op, m Mutation, now time.Time) *ValidationError {
	switch op.Kind {
	case OpAddNode:
		if op.Node == nil {
			return &ValidationError{Reason: "add-node without node"}
		}
		n := *op.Node
		if strings.TrimSpace(n.ID) == "" {
			return &ValidationError{Reason: "add-node with empty id"}
		}
		if _, exists := st.nodes[n.ID]; exists {
			return &ValidationError{NodeID: n.ID, Reason: "duplicate node id"}
		}
		if !validKind(n.Kind) {
			return &ValidationError{NodeID: n.ID, Reason: fmt.Sprintf("unknown node kind %q", n.Kind)}
		}
		if err := validatePayload(n); err != nil {
			return err
		}
		if n.Provenance.Agent == "" {
			n.Provenance.Agent = m.Agent
		}
		if n.Provenance.Timestamp.IsZero() {
			n.Provenance.Timestamp = now
		}
		if n.Provenance.MessageID == "" {
			n.Provenance.MessageID = m.MessageID
		}
		st.nodes[n.ID] = n
	case OpUpdateNode:
		if op.Node == nil {
			return &ValidationError{Reason: "update-node without node"}
		}
		n := *op.Node
		if _, exists := st.nodes[n.ID]; !exists {
			return &ValidationError{NodeID: n.ID, Reason: "update of unknown node"}
		}
		if !validKind(n.Kind) {
			return &ValidationError{NodeID: n.ID, Reason: fmt.Sprintf("unknown node kind %q", n.Kind)}
		}
		if err := validatePayload(n); err != nil {
			return err
		}
		if n.Provenance.Agent == "" {
			n.Provenance.Agent = m.Agent
		}
		if n.Provenance.Timestamp.IsZero() {
			n.Provenance.Timestamp = now
		}
		st.nodes[n.ID] = n
	case OpRemoveNode:
		id := op.NodeID
		if id == "" && op.Node != nil {
			id = op.Node.ID
		}
		if _, exists := st.nodes[id]; !exists {
			return &ValidationError{NodeID: id, Reason: "remove of unknown node"}
		}
		delete(st.nodes, id)
		// Removing a node cascades to every edge touching it, inside the
		// same mutation.
		kept := st.edges[:0]
		for _, e := range st.edges {
			if e.Source == id || e.Target == id {
				continue
			}
			kept = append(kept, e)
		}
		st.edges = kept
	case OpAddEdge:
		if op.Edge == nil {
			return &ValidationError{Reason: "add-edge without edge"}
		}
		e := *op.Edge
		if !validRelation(e.Relation) {
			return &ValidationError{Edge: &e, Reason: fmt.Sprintf("unknown relation %q", e.Relation)}
		}
		if e.Source == e.Target {
			return &ValidationError{Edge: &e, Reason: "self-loop forbidden"}
		}
		if _, ok := st.nodes[e.Source]; !ok {
			return &ValidationError{Edge: &e, Reason: "dangling edge: unknown source"}
		}
		if _, ok := st.nodes[e.Target]; !ok {
			return &ValidationError{Edge: &e, Reason: "dangling edge: unknown target"}
		}
		for _, existing := range st.edges {
			if existing == e {
				return &ValidationError{Edge: &e, Reason: "duplicate edge"}
			}
		}
		st.edges = append(st.edges, e)
	case OpRemoveEdge:
		if op.Edge == nil {
			return &ValidationError{Reason: "remove-edge without edge"}
		}
		e := *op.Edge
		idx := -1
		for i, existing := range st.edges {
			if existing == e {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &ValidationError{Edge: &e, Reason: "remove of unknown edge"}
		}
		st.edges = append(st.edges[:idx], st.edges[idx+1:]...)
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown op kind %q", op.Kind)}
	}
	return nil
}

func validatePayload(n Node) *ValidationError {
	if n.Kind != KindBehavior {
		return nil
	}
	var payload BehaviorPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return &ValidationError{NodeID: n.ID, Reason: "behavior-model payload is not valid JSON"}
	}
	if strings.TrimSpace(payload.Script) == "" {
		return &ValidationError{NodeID: n.ID, Reason: "behavior-model payload missing script"}
	}
	if payload.Inputs == nil || payload.Outputs == nil {
		return &ValidationError{NodeID: n.ID, Reason: "behavior-model payload missing input/output schema"}
	}
	return nil
}

// Coverage returns the fraction of the given requirement ids that have at
// least one satisfies edge incident from a non-requirement node.
func (g *Graph) Coverage(reqIDs []string) float64 {
	if len(reqIDs) == 0 {
		return 1.0
	}
	covered := 0
	for _, id := range reqIDs {
		if g.requirementCovered(id) {
			covered++
		}
	}
	return float64(covered) / float64(len(reqIDs))
}

// MissingRequirements returns the subset of requirement ids with no
// satisfying edge, in input order. The supervisor gate feeds these back to
// the worker on a failed check.
func (g *Graph) MissingRequirements(reqIDs []string) []string {
	var missing []string
	for _, id := range reqIDs {
		if !g.requirementCovered(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

func (g *Graph) requirementCovered(reqID string) bool {
	for _, e := range g.edges {
		if e.Relation != RelSatisfies || e.Target != reqID {
			continue
		}
		src, ok := g.nodes[e.Source]
		if ok && src.Kind != KindRequirement {
			return true
		}
	}
	return false
}

func cloneOps(ops []Op) []Op {
	out := make([]Op, len(ops))
	for i, op := range ops {
		out[i] = op
		if op.Node != nil {
			n := *op.Node
			n.Payload = append(json.RawMessage(nil), op.Node.Payload...)
			n.Provenance.Conflicts = append([]ConflictRecord(nil), op.Node.Provenance.Conflicts...)
			out[i].Node = &n
		}
		if op.Edge != nil {
			e := *op.Edge
			out[i].Edge = &e
		}
	}
	return out
}

package dsg

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

func addNode(id string, kind NodeKind) Op {
	return Op{Kind: OpAddNode, Node: &Node{ID: id, Kind: kind, Name: id}}
}

func addEdge(src, dst string, rel Relation) Op {
	return Op{Kind: OpAddEdge, Edge: &Edge{Source: src, Target: dst, Relation: rel}}
}

func mustApply(t *testing.T, g *Graph, agent domain.AgentID, ops ...Op) int {
	t.Helper()
	v, err := g.Apply(Mutation{Agent: agent, Ops: ops})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return v
}

func TestApplyBumpsVersionAndLogs(t *testing.T) {
	g := New()
	v := mustApply(t, g, domain.AgentSynthesizer,
		addNode("req-1", KindRequirement),
		addNode("fn-1", KindFunction),
		addEdge("fn-1", "req-1", RelSatisfies),
	)
	if v != 1 || g.Version() != 1 {
		t.Fatalf("version = %d, want 1", g.Version())
	}
	log := g.Log()
	if len(log) != 1 || len(log[0].Ops) != 3 || log[0].Agent != domain.AgentSynthesizer {
		t.Fatalf("unexpected log: %+v", log)
	}
	if g.LastApplyError() != nil {
		t.Fatalf("last apply error = %v, want nil", g.LastApplyError())
	}
}

func TestApplyRejectsInvalidAtomically(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer, addNode("req-1", KindRequirement))

	cases := []struct {
		name string
		ops  []Op
	}{
		{"duplicate id", []Op{addNode("req-1", KindRequirement)}},
		{"unknown kind", []Op{{Kind: OpAddNode, Node: &Node{ID: "x", Kind: "widget"}}}},
		{"dangling edge", []Op{addEdge("req-1", "ghost", RelDependsOn)}},
		{"self loop", []Op{addEdge("req-1", "req-1", RelDependsOn)}},
		{"duplicate edge", []Op{
			addNode("fn-1", KindFunction),
			addEdge("fn-1", "req-1", RelSatisfies),
			addEdge("fn-1", "req-1", RelSatisfies),
		}},
		{"partial batch rolls back", []Op{
			addNode("fn-2", KindFunction),
			addEdge("fn-2", "nope", RelSatisfies),
		}},
	}
	for _, tc := range cases {
		_, err := g.Apply(Mutation{Agent: domain.AgentSynthesizer, Ops: tc.ops})
		var verr *ValidationError
		if err == nil {
			t.Fatalf("%s: apply succeeded, want ValidationError", tc.name)
		}
		ok := false
		if verr, ok = err.(*ValidationError); !ok {
			t.Fatalf("%s: error = %T, want *ValidationError", tc.name, err)
		}
		if g.LastApplyError() != verr {
			t.Fatalf("%s: LastApplyError not recorded", tc.name)
		}
		if g.Version() != 1 || g.NodeCount() != 1 {
			t.Fatalf("%s: graph mutated by failed apply", tc.name)
		}
	}
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer,
		addNode("req-1", KindRequirement),
		addNode("fn-1", KindFunction),
		addNode("cmp-1", KindComponent),
		addEdge("fn-1", "req-1", RelSatisfies),
		addEdge("cmp-1", "fn-1", RelRealizes),
	)
	mustApply(t, g, domain.AgentSynthesizer, Op{Kind: OpRemoveNode, NodeID: "fn-1"})
	if len(g.Edges()) != 0 {
		t.Fatalf("edges after cascade = %v, want none", g.Edges())
	}
	if g.NodeCount() != 2 {
		t.Fatalf("node count = %d, want 2", g.NodeCount())
	}
}

func TestBehaviorPayloadValidation(t *testing.T) {
	g := New()
	bad := Op{Kind: OpAddNode, Node: &Node{ID: "bm-1", Kind: KindBehavior, Payload: json.RawMessage(`{"inputs":{}}`)}}
	if _, err := g.Apply(Mutation{Agent: domain.AgentWorker, Ops: []Op{bad}}); err == nil {
		t.Fatal("behavior node without script accepted")
	}

	payload, _ := json.Marshal(BehaviorPayload{
		Script:  "flow = pressure / resistance",
		Inputs:  map[string]string{"pressure": "Pa"},
		Outputs: map[string]string{"flow": "L/min"},
	})
	good := Op{Kind: OpAddNode, Node: &Node{ID: "bm-1", Kind: KindBehavior, Payload: payload}}
	if _, err := g.Apply(Mutation{Agent: domain.AgentWorker, Ops: []Op{good}}); err != nil {
		t.Fatalf("valid behavior node rejected: %v", err)
	}
}

func TestCoverage(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer,
		addNode("req-1", KindRequirement),
		addNode("req-2", KindRequirement),
		addNode("req-3", KindRequirement),
		addNode("fn-1", KindFunction),
		addEdge("fn-1", "req-1", RelSatisfies),
		// A requirement satisfying a requirement does not count.
		addEdge("req-2", "req-3", RelSatisfies),
	)
	reqs := []string{"req-1", "req-2", "req-3"}
	if got := g.Coverage(reqs); got < 0.33 || got > 0.34 {
		t.Fatalf("coverage = %v, want 1/3", got)
	}
	missing := g.MissingRequirements(reqs)
	if !reflect.DeepEqual(missing, []string{"req-2", "req-3"}) {
		t.Fatalf("missing = %v", missing)
	}
	if got := g.Coverage(nil); got != 1.0 {
		t.Fatalf("coverage of empty requirement set = %v, want 1", got)
	}
}

func TestAtReplaysHistory(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer, addNode("req-1", KindRequirement))
	mustApply(t, g, domain.AgentSynthesizer, addNode("fn-1", KindFunction))
	mustApply(t, g, domain.AgentSynthesizer, Op{Kind: OpRemoveNode, NodeID: "fn-1"})

	v1, err := g.At(1)
	if err != nil {
		t.Fatalf("At(1): %v", err)
	}
	if v1.NodeCount() != 1 || v1.Version() != 1 {
		t.Fatalf("At(1) = %d nodes at version %d", v1.NodeCount(), v1.Version())
	}
	v0, err := g.At(0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if v0.NodeCount() != 0 {
		t.Fatalf("At(0) not empty")
	}
	if _, err := g.At(9); err == nil {
		t.Fatal("At(9) succeeded for missing version")
	}
}

func TestDiffIsDeterministicAndComplete(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer,
		addNode("req-1", KindRequirement),
		addNode("fn-1", KindFunction),
		addEdge("fn-1", "req-1", RelSatisfies),
	)
	mustApply(t, g, domain.AgentSynthesizer,
		Op{Kind: OpRemoveNode, NodeID: "fn-1"},
		addNode("fn-2", KindFunction),
		addEdge("fn-2", "req-1", RelSatisfies),
	)

	ops, err := g.Diff(1, 2)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	again, _ := g.Diff(1, 2)
	if !reflect.DeepEqual(ops, again) {
		t.Fatal("diff is not deterministic")
	}

	base, _ := g.At(1)
	if _, err := base.Apply(Mutation{Agent: "diff", Ops: ops}); err != nil {
		t.Fatalf("apply diff: %v", err)
	}
	head, _ := g.At(2)
	if !reflect.DeepEqual(base.Nodes(), head.Nodes()) || !reflect.DeepEqual(base.Edges(), head.Edges()) {
		t.Fatal("applying diff did not reproduce target version")
	}
}

func TestForkIsolation(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer, addNode("req-1", KindRequirement))
	f := g.Fork()
	mustApply(t, f, domain.AgentWorker, addNode("fn-1", KindFunction))
	if g.NodeCount() != 1 {
		t.Fatalf("parent mutated by fork: %d nodes", g.NodeCount())
	}
	if f.NodeCount() != 2 {
		t.Fatalf("fork node count = %d", f.NodeCount())
	}
}

func TestMergeDisjointBranch(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer, addNode("req-1", KindRequirement))

	f := g.Fork()
	mustApply(t, f, domain.AgentWorker,
		addNode("fn-1", KindFunction),
		addEdge("fn-1", "req-1", RelSatisfies),
	)
	mustApply(t, g, domain.AgentSynthesizer, addNode("req-2", KindRequirement))

	if _, err := g.Merge(f); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if g.NodeCount() != 3 || len(g.Edges()) != 1 {
		t.Fatalf("merged graph: %d nodes %d edges", g.NodeCount(), len(g.Edges()))
	}
}

func TestMergeConcurrentEditLastWriterWins(t *testing.T) {
	g := New()
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	mustApply(t, g, domain.AgentSynthesizer, Op{Kind: OpAddNode, Node: &Node{
		ID: "cmp-pump", Kind: KindComponent, Name: "pump",
		Provenance: Provenance{Agent: domain.AgentSynthesizer, Timestamp: early},
	}})

	f := g.Fork()
	mustApply(t, f, domain.AgentWorker, Op{Kind: OpUpdateNode, Node: &Node{
		ID: "cmp-pump", Kind: KindComponent, Name: "diaphragm pump",
		Provenance: Provenance{Agent: domain.AgentWorker, Timestamp: late},
	}})
	mustApply(t, g, domain.AgentSynthesizer, Op{Kind: OpUpdateNode, Node: &Node{
		ID: "cmp-pump", Kind: KindComponent, Name: "gear pump",
		Provenance: Provenance{Agent: domain.AgentSynthesizer, Timestamp: early.Add(time.Minute)},
	}})

	version, err := g.Merge(f)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	n, _ := g.Node("cmp-pump")
	if n.Name != "diaphragm pump" {
		t.Fatalf("winner = %q, want later write", n.Name)
	}
	if len(n.Provenance.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want one record", n.Provenance.Conflicts)
	}
	rec := n.Provenance.Conflicts[0]
	if rec.WinnerAgent != domain.AgentWorker || rec.LoserAgent != domain.AgentSynthesizer {
		t.Fatalf("conflict record = %+v", rec)
	}
	if rec.ResolvedVersion != version {
		t.Fatalf("resolved at version %d, merge produced %d", rec.ResolvedVersion, version)
	}
}

func TestMergeWithoutCommonAncestor(t *testing.T) {
	g := New()
	mustApply(t, g, domain.AgentSynthesizer, addNode("req-1", KindRequirement))

	stranger := New()
	mustApply(t, stranger, domain.AgentWorker, addNode("fn-1", KindFunction))

	_, err := g.Merge(stranger)
	if _, ok := err.(*ConflictError); !ok {
		t.Fatalf("error = %v, want *ConflictError", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New()
	payload, _ := json.Marshal(BehaviorPayload{
		Script:  "q = k * dp",
		Inputs:  map[string]string{"dp": "Pa"},
		Outputs: map[string]string{"q": "L/min"},
	})
	mustApply(t, g, domain.AgentSynthesizer,
		addNode("req-1", KindRequirement),
		addNode("fn-1", KindFunction),
		Op{Kind: OpAddNode, Node: &Node{ID: "bm-1", Kind: KindBehavior, Payload: payload}},
		addEdge("fn-1", "req-1", RelSatisfies),
	)

	data, err := Save(g)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version() != g.Version() {
		t.Fatalf("version = %d, want %d", loaded.Version(), g.Version())
	}
	if !reflect.DeepEqual(loaded.Nodes(), g.Nodes()) {
		t.Fatal("nodes differ after round trip")
	}
	if !reflect.DeepEqual(loaded.Edges(), g.Edges()) {
		t.Fatal("edges differ after round trip")
	}
	if !reflect.DeepEqual(loaded.Log(), g.Log()) {
		t.Fatal("mutation log differs after round trip")
	}
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	if _, err := Load([]byte("{not json")); err == nil {
		t.Fatal("corrupt JSON accepted")
	}
	doc := []byte(`{"version":1,"nodes":[{"id":"a","kind":"function"}],"edges":[{"source":"a","target":"ghost","relation":"satisfies"}]}`)
	if _, err := Load(doc); err == nil {
		t.Fatal("dangling edge accepted on load")
	}
}

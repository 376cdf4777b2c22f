package dsg

import (
	"bytes"
	"fmt"
	"sort"
)

// At reconstructs the graph as it stood at the given version by replaying
// the mutation log from an empty graph. Version 0 is the empty graph.
func (g *Graph) At(version int) (*Graph, error) {
	if version < 0 || version > g.version {
		return nil, fmt.Errorf("dsg: no such version %d (head is %d)", version, g.version)
	}
	replay := New()
	for _, entry := range g.log {
		if entry.Version > version {
			break
		}
		m := Mutation{Agent: entry.Agent, MessageID: entry.MessageID, Ops: entry.Ops}
		if _, err := replay.Apply(m); err != nil {
			return nil, fmt.Errorf("dsg: replay to version %d: %w", version, err)
		}
	}
	// Preserve the original commit metadata; Apply stamped fresh times.
	for i := range replay.log {
		replay.log[i].AppliedAt = g.log[i].AppliedAt
	}
	return replay, nil
}

// Diff computes the ordered op sequence that transforms version from into
// version to. The order is deterministic: edge removals, node removals,
// node updates, node additions, edge additions, each sorted by key, so
// applying the result to a graph at version from yields exactly version to.
func (g *Graph) Diff(from, to int) ([]Op, error) {
	a, err := g.At(from)
	if err != nil {
		return nil, err
	}
	b, err := g.At(to)
	if err != nil {
		return nil, err
	}
	return diffGraphs(a, b), nil
}

func diffGraphs(a, b *Graph) []Op {
	var ops []Op

	aEdges := map[string]Edge{}
	for _, e := range a.edges {
		aEdges[e.key()] = e
	}
	bEdges := map[string]Edge{}
	for _, e := range b.edges {
		bEdges[e.key()] = e
	}

	var removedEdges []Edge
	for k, e := range aEdges {
		if _, ok := bEdges[k]; !ok {
			removedEdges = append(removedEdges, e)
		}
	}
	sort.Slice(removedEdges, func(i, j int) bool { return removedEdges[i].key() < removedEdges[j].key() })
	for i := range removedEdges {
		e := removedEdges[i]
		ops = append(ops, Op{Kind: OpRemoveEdge, Edge: &e})
	}

	var removedNodes []string
	for id := range a.nodes {
		if _, ok := b.nodes[id]; !ok {
			removedNodes = append(removedNodes, id)
		}
	}
	sort.Strings(removedNodes)
	for _, id := range removedNodes {
		ops = append(ops, Op{Kind: OpRemoveNode, NodeID: id})
	}

	var updated []string
	for id, bn := range b.nodes {
		an, ok := a.nodes[id]
		if ok && !sameNode(an, bn) {
			updated = append(updated, id)
		}
	}
	sort.Strings(updated)
	for _, id := range updated {
		n := b.nodes[id]
		ops = append(ops, Op{Kind: OpUpdateNode, Node: &n})
	}

	var added []string
	for id := range b.nodes {
		if _, ok := a.nodes[id]; !ok {
			added = append(added, id)
		}
	}
	sort.Strings(added)
	for _, id := range added {
		n := b.nodes[id]
		ops = append(ops, Op{Kind: OpAddNode, Node: &n})
	}

	var addedEdges []Edge
	for k, e := range bEdges {
		if _, ok := aEdges[k]; !ok {
			addedEdges = append(addedEdges, e)
		}
	}
	sort.Slice(addedEdges, func(i, j int) bool { return addedEdges[i].key() < addedEdges[j].key() })
	for i := range addedEdges {
		e := addedEdges[i]
		ops = append(ops, Op{Kind: OpAddEdge, Edge: &e})
	}

	return ops
}

func sameNode(a, b Node) bool {
	return a.Kind == b.Kind &&
		a.Name == b.Name &&
		bytes.Equal(a.Payload, b.Payload) &&
		a.Provenance.Agent == b.Provenance.Agent &&
		a.Provenance.Timestamp.Equal(b.Provenance.Timestamp)
}

// Fork returns an independent copy of the graph that remembers the version
// it branched from. Mutations to the fork never touch the parent.
func (g *Graph) Fork() *Graph {
	f := New()
	for id, n := range g.nodes {
		n.Payload = append([]byte(nil), n.Payload...)
		n.Provenance.Conflicts = append([]ConflictRecord(nil), n.Provenance.Conflicts...)
		f.nodes[id] = n
	}
	f.edges = append([]Edge(nil), g.edges...)
	f.version = g.version
	f.log = append([]AppliedMutation(nil), g.log...)
	f.forkBase = g.version
	return f
}

// Merge folds a forked branch back into g with a three-way merge against
// the fork point. Node-level collisions resolve last-writer-wins by
// provenance timestamp; every resolution is recorded in the winning node's
// provenance. Merging a graph that was not forked from g returns a
// ConflictError.
func (g *Graph) Merge(branch *Graph) (int, error) {
	if branch.forkBase < 0 || branch.forkBase > g.version {
		return 0, &ConflictError{Reason: "merge source shares no common ancestor"}
	}
	base, err := g.At(branch.forkBase)
	if err != nil {
		return 0, &ConflictError{Reason: fmt.Sprintf("merge base unavailable: %v", err)}
	}

	branchOps := diffGraphs(base, branch)
	if len(branchOps) == 0 {
		return g.version, nil
	}

	// Any committed resolution lands in the single mutation below, so the
	// version it resolves at is known up front.
	resolvedAt := g.version + 1

	var ops []Op
	for _, op := range branchOps {
		switch op.Kind {
		case OpAddNode:
			if ours, exists := g.nodes[op.Node.ID]; exists {
				ops = append(ops, resolveNode(ours, *op.Node, resolvedAt)...)
				continue
			}
			ops = append(ops, op)
		case OpUpdateNode:
			ours, exists := g.nodes[op.Node.ID]
			if !exists {
				// Deleted on our side after the fork; the deletion wins.
				continue
			}
			baseNode, _ := base.nodes[op.Node.ID]
			if sameNode(ours, baseNode) {
				// Only the branch touched it.
				ops = append(ops, op)
				continue
			}
			ops = append(ops, resolveNode(ours, *op.Node, resolvedAt)...)
		case OpRemoveNode:
			if _, exists := g.nodes[op.NodeID]; !exists {
				continue
			}
			baseNode, inBase := base.nodes[op.NodeID]
			if inBase && !sameNode(g.nodes[op.NodeID], baseNode) {
				// Edited on our side, removed on theirs; the edit wins.
				continue
			}
			ops = append(ops, op)
		case OpAddEdge:
			if g.hasEdge(*op.Edge) {
				continue
			}
			if _, ok := g.nodes[op.Edge.Source]; !ok {
				if !branchAdds(branchOps, op.Edge.Source) {
					continue
				}
			}
			if _, ok := g.nodes[op.Edge.Target]; !ok {
				if !branchAdds(branchOps, op.Edge.Target) {
					continue
				}
			}
			ops = append(ops, op)
		case OpRemoveEdge:
			if !g.hasEdge(*op.Edge) {
				continue
			}
			ops = append(ops, op)
		}
	}

	if len(ops) == 0 {
		return g.version, nil
	}
	return g.Apply(Mutation{Agent: "merge", Ops: ops})
}

func branchAdds(ops []Op, nodeID string) bool {
	for _, op := range ops {
		if op.Kind == OpAddNode && op.Node.ID == nodeID {
			return true
		}
	}
	return false
}

// resolveNode settles a node-level collision by provenance timestamp and
// returns the ops needed, if any. The loser is recorded in the winner's
// conflict history either way.
func resolveNode(ours, theirs Node, resolvedAt int) []Op {
	theirsWin := theirs.Provenance.Timestamp.After(ours.Provenance.Timestamp)
	winner, loser := ours, theirs
	if theirsWin {
		winner, loser = theirs, ours
	}
	winner.Provenance.Conflicts = append(append([]ConflictRecord(nil), winner.Provenance.Conflicts...), ConflictRecord{
		NodeID:          winner.ID,
		ResolvedVersion: resolvedAt,
		WinnerAgent:     winner.Provenance.Agent,
		WinnerAt:        winner.Provenance.Timestamp,
		LoserAgent:      loser.Provenance.Agent,
		LoserAt:         loser.Provenance.Timestamp,
		Reason:          "concurrent edit, later write kept",
	})
	return []Op{{Kind: OpUpdateNode, Node: &winner}}
}

func (g *Graph) hasEdge(e Edge) bool {
	for _, existing := range g.edges {
		if existing == e {
			return true
		}
	}
	return false
}

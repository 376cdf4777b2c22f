package dsg

import (
	"encoding/json"
	"fmt"
)

// Document is the serialized form of a graph. Save/Load round-trip:
// Load(Save(g)) reconstructs an equivalent graph including its mutation
// log, so history survives persistence.
type Document struct {
	Version     int               `json:"version"`
	Nodes       []Node            `json:"nodes"`
	Edges       []Edge            `json:"edges"`
	MutationLog []AppliedMutation `json:"mutation_log"`
}

func Save(g *Graph) ([]byte, error) {
	doc := Document{
		Version:     g.version,
		Nodes:       g.Nodes(),
		Edges:       g.Edges(),
		MutationLog: g.Log(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	return data, nil
}

func Load(data []byte) (*Graph, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	g := New()
	g.version = doc.Version
	g.log = doc.MutationLog
	for _, n := range doc.Nodes {
		if _, exists := g.nodes[n.ID]; exists {
			return nil, fmt.Errorf("decode graph: duplicate node %q", n.ID)
		}
		g.nodes[n.ID] = n
	}
	for _, e := range doc.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("decode graph: edge references unknown node %q", e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("decode graph: edge references unknown node %q", e.Target)
		}
		g.edges = append(g.edges, e)
	}
	return g, nil
}

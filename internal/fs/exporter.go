package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
	"github.com/SoheylM/agentic-eng-design/internal/dsg"
)

// Exporter writes per-session run artifacts under <root>/<session-id>/ for
// visualization and metrics tooling. All writes stay inside the root; a
// session id that would escape it is rejected.
type Exporter struct {
	root string
}

func NewExporter(root string) (*Exporter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve runs root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create runs root: %w", err)
	}
	return &Exporter{root: absRoot}, nil
}

func (e *Exporter) ExportGraph(sessionID string, doc []byte) error {
	path, err := e.resolve(sessionID, "dsg.json")
	if err != nil {
		return err
	}
	var pretty map[string]any
	if err := json.Unmarshal(doc, &pretty); err != nil {
		return fmt.Errorf("decode graph document: %w", err)
	}
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("encode graph document: %w", err)
	}
	return e.write(path, indented)
}

func (e *Exporter) ExportTranscript(sessionID string, state domain.SessionState, outcome domain.Outcome) error {
	path, err := e.resolve(sessionID, "session.json")
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(struct {
		Outcome domain.Outcome      `json:"outcome"`
		State   domain.SessionState `json:"state"`
	}{outcome, state}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return e.write(path, encoded)
}

// ExportScripts extracts every behavior-model simulation script into its
// own file so external simulation tooling can pick them up directly.
func (e *Exporter) ExportScripts(sessionID string, g *dsg.Graph) error {
	for _, n := range g.Nodes() {
		if n.Kind != dsg.KindBehavior {
			continue
		}
		var payload dsg.BehaviorPayload
		if err := json.Unmarshal(n.Payload, &payload); err != nil {
			return fmt.Errorf("decode behavior payload of %s: %w", n.ID, err)
		}
		path, err := e.resolve(sessionID, filepath.Join("models", n.ID+".txt"))
		if err != nil {
			return err
		}
		if err := e.write(path, []byte(payload.Script)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) resolve(sessionID, name string) (string, error) {
	session := strings.TrimSpace(sessionID)
	if session == "" {
		return "", fmt.Errorf("empty session id")
	}
	abs := filepath.Clean(filepath.Join(e.root, session, name))
	rel, err := filepath.Rel(e.root, abs)
	if err != nil {
		return "", fmt.Errorf("resolve run path: %w", err)
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path escapes runs root: %q", filepath.Join(session, name))
	}
	return abs, nil
}

func (e *Exporter) write(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write run artifact: %w", err)
	}
	return nil
}

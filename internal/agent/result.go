package agent

import (
	"fmt"
	"strings"
	"time"
)

// NodeData is the structured analysis payload the agent must return inside
// a fenced JSON block. Title, NodeType and Summary are required scalars;
// Topics and Insights are required sections (present, possibly empty is not
// enough for Topics — an analysis with no topics is not a usable node).
type NodeData struct {
	Title       string       `json:"title"`
	NodeType    string       `json:"nodeType"`
	Summary     string       `json:"summary"`
	Topics      []string     `json:"topics"`
	Insights    []Insight    `json:"insights"`
	Connections []Connection `json:"connections,omitempty"`
}

// Insight is one observation extracted from a session.
type Insight struct {
	Text string `json:"text"`
	Kind string `json:"kind,omitempty"`
}

// Connection is a proposed edge to an existing node.
type Connection struct {
	TargetNodeID string `json:"targetNodeId"`
	Relation     string `json:"relation"`
	Reason       string `json:"reason,omitempty"`
}

// Validate checks the structural requirements on a parsed payload. A
// failure here is permanent: retrying the same session with the same prompt
// reproduces it.
func (n *NodeData) Validate() error {
	var missing []string
	if strings.TrimSpace(n.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(n.NodeType) == "" {
		missing = append(missing, "nodeType")
	}
	if strings.TrimSpace(n.Summary) == "" {
		missing = append(missing, "summary")
	}
	if n.Topics == nil {
		missing = append(missing, "topics")
	}
	if n.Insights == nil {
		missing = append(missing, "insights")
	}
	if len(missing) > 0 {
		return fmt.Errorf("node data failed validation: missing required fields: %s",
			strings.Join(missing, ", "))
	}
	return nil
}

// Result is the typed outcome of one agent invocation. Callers never see
// raw process plumbing; success means a structurally valid NodeData was
// extracted from the agent's event stream and the process exited zero.
type Result struct {
	Success   bool
	RawOutput string
	NodeData  *NodeData
	Error     string
	TimedOut  bool
	ExitCode  int
	Duration  time.Duration
}

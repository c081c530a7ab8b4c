package agent

import (
	"fmt"
	"strings"

	"github.com/Whamp/pi-brain/internal/queue"
)

// BuildPrompt renders the analysis prompt for a job: the session file path,
// the segment range when present, the well-known context keys, and the
// instruction that pins the output format.
func BuildPrompt(job *queue.Job) string {
	var b strings.Builder

	switch job.Type {
	case queue.TypeReanalysis:
		b.WriteString("Re-analyze the following session log with the current analysis prompt.\n\n")
	case queue.TypeConnectionDiscovery:
		b.WriteString("Find connections between the node below and other analyzed sessions.\n\n")
	default:
		b.WriteString("Analyze the following session log.\n\n")
	}

	fmt.Fprintf(&b, "Session file: %s\n", job.SessionFile)
	if job.SegmentStart != nil && job.SegmentEnd != nil {
		fmt.Fprintf(&b, "Segment: entries %d through %d\n", *job.SegmentStart, *job.SegmentEnd)
	}

	if ctx := formatContext(job.Context); ctx != "" {
		b.WriteString("\nContext:\n")
		b.WriteString(ctx)
	}

	b.WriteString(`
Return exactly one JSON object inside a fenced code block matching this schema:

` + "```json" + `
{
  "title": "short node title",
  "nodeType": "analysis | reanalysis | connection",
  "summary": "one-paragraph summary of the session",
  "topics": ["topic", "..."],
  "insights": [{"text": "observation", "kind": "pattern | decision | question"}],
  "connections": [{"targetNodeId": "node_...", "relation": "related | continues | contradicts", "reason": "..."}]
}
` + "```" + `
`)

	return b.String()
}

// formatContext pretty-prints only the well-known context keys. Arbitrary
// Extra entries are operator metadata, not prompt material.
func formatContext(ctx queue.JobContext) string {
	var b strings.Builder
	if ctx.ExistingNodeID != "" {
		fmt.Fprintf(&b, "- Existing node: %s\n", ctx.ExistingNodeID)
	}
	if ctx.Reason != "" {
		fmt.Fprintf(&b, "- Reason: %s\n", ctx.Reason)
	}
	if ctx.NodeID != "" {
		fmt.Fprintf(&b, "- Node: %s\n", ctx.NodeID)
	}
	if ctx.FindConnections {
		b.WriteString("- Find connections: yes\n")
	}
	if ctx.BoundaryType != "" {
		fmt.Fprintf(&b, "- Boundary type: %s\n", ctx.BoundaryType)
	}
	return b.String()
}

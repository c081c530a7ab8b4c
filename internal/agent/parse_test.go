package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPayload = `{
  "title": "Debugging the cache layer",
  "nodeType": "analysis",
  "summary": "A session spent chasing a stale-read bug in the cache.",
  "topics": ["caching", "debugging"],
  "insights": [{"text": "Stale reads traced to a missing invalidation", "kind": "pattern"}]
}`

func agentEndLine(text string) string {
	// Build the event by hand so the test fixture stays readable.
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `{"type":"agent_end","messages":[{"role":"user","content":[{"type":"text","text":"analyze"}]},{"role":"assistant","content":[{"type":"text","text":"` + escaped + `"}]}]}`
}

func TestParseOutputFencedJSON(t *testing.T) {
	raw := strings.Join([]string{
		"starting agent run...", // non-JSON line, must be skipped
		`{"type":"tool_call","name":"read_file"}`,
		agentEndLine("Here is the analysis:\n```json\n" + validPayload + "\n```\nDone."),
	}, "\n")

	node, err := ParseOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "Debugging the cache layer", node.Title)
	assert.Equal(t, "analysis", node.NodeType)
	assert.Equal(t, []string{"caching", "debugging"}, node.Topics)
	assert.Len(t, node.Insights, 1)
}

func TestParseOutputBalancedFallback(t *testing.T) {
	// No fence at all: the first balanced object span is used.
	raw := agentEndLine("The result is " + validPayload + " as requested.")

	node, err := ParseOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "Debugging the cache layer", node.Title)
}

func TestParseOutputBracesInsideStrings(t *testing.T) {
	payload := `{"title": "Braces {inside} a string", "nodeType": "analysis", "summary": "ok", "topics": [], "insights": []}`
	raw := agentEndLine("Result: " + payload)

	node, err := ParseOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "Braces {inside} a string", node.Title)
}

func TestParseOutputMissingSection(t *testing.T) {
	// Same shape but no insights section: structurally invalid.
	payload := `{
	  "title": "Debugging the cache layer",
	  "nodeType": "analysis",
	  "summary": "A session spent chasing a stale-read bug.",
	  "topics": ["caching"]
	}`
	raw := agentEndLine("```json\n" + payload + "\n```")

	_, err := ParseOutput(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "insights")
}

func TestParseOutputNoAgentEnd(t *testing.T) {
	raw := `{"type":"tool_call","name":"read_file"}` + "\n" + `{"type":"response","text":"hi"}`

	_, err := ParseOutput(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agent_end")
}

func TestParseOutputNoAssistantMessage(t *testing.T) {
	raw := `{"type":"agent_end","messages":[{"role":"user","content":[{"type":"text","text":"analyze"}]}]}`

	_, err := ParseOutput(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no assistant message")
}

func TestParseOutputNoJSONObject(t *testing.T) {
	raw := agentEndLine("I could not produce a structured result, sorry.")

	_, err := ParseOutput(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestParseOutputLastAssistantWins(t *testing.T) {
	first := `{"title": "wrong", "nodeType": "analysis", "summary": "first attempt", "topics": [], "insights": []}`
	line := `{"type":"agent_end","messages":[` +
		`{"role":"assistant","content":[{"type":"text","text":"` + strings.ReplaceAll(first, `"`, `\"`) + `"}]},` +
		`{"role":"user","content":[{"type":"text","text":"try again"}]},` +
		`{"role":"assistant","content":[{"type":"text","text":"` + strings.ReplaceAll(
			`{"title": "right", "nodeType": "analysis", "summary": "second attempt", "topics": [], "insights": []}`, `"`, `\"`) + `"}]}]}`

	node, err := ParseOutput(line)
	require.NoError(t, err)
	assert.Equal(t, "right", node.Title)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    NodeData
		wantErr string
	}{
		{
			name: "valid",
			node: NodeData{Title: "t", NodeType: "analysis", Summary: "s",
				Topics: []string{}, Insights: []Insight{}},
		},
		{
			name:    "blank title",
			node:    NodeData{Title: "  ", NodeType: "analysis", Summary: "s", Topics: []string{}, Insights: []Insight{}},
			wantErr: "title",
		},
		{
			name:    "missing summary",
			node:    NodeData{Title: "t", NodeType: "analysis", Topics: []string{}, Insights: []Insight{}},
			wantErr: "summary",
		},
		{
			name:    "missing topics",
			node:    NodeData{Title: "t", NodeType: "analysis", Summary: "s", Insights: []Insight{}},
			wantErr: "topics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// streamEvent is the envelope for one NDJSON line of agent output. The only
// event the daemon depends on is agent_end, which carries the conversation.
type streamEvent struct {
	Type     string         `json:"type"`
	Messages []agentMessage `json:"messages"`
}

type agentMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseOutput extracts a validated NodeData from the agent's raw stdout.
// The stream is newline-delimited JSON; lines that fail to parse are
// skipped (agents interleave diagnostics with events). The payload is the
// concatenated text of the last assistant message in the agent_end event,
// from which a JSON object is extracted and structurally validated.
//
// Every error returned here carries a permanent signature: given identical
// input the agent will produce the same stream, so retrying cannot help.
func ParseOutput(raw string) (*NodeData, error) {
	var endEvent *streamEvent

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			// Not an event line.
			continue
		}
		if event.Type == "agent_end" {
			endEvent = &event
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning agent output: %w", err)
	}

	if endEvent == nil {
		return nil, fmt.Errorf("no agent_end event in output")
	}

	text := lastAssistantText(endEvent.Messages)
	if text == "" {
		return nil, fmt.Errorf("no assistant message in agent_end event")
	}

	payload, ok := extractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in assistant message")
	}

	var node NodeData
	if err := json.Unmarshal([]byte(payload), &node); err != nil {
		return nil, fmt.Errorf("invalid json in assistant message: %w", err)
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}

	return &node, nil
}

// lastAssistantText concatenates the text blocks of the last assistant
// message.
func lastAssistantText(messages []agentMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		var b strings.Builder
		for _, block := range messages[i].Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String()
	}
	return ""
}

// extractJSONObject pulls a JSON object out of assistant text: a fenced
// ```json block when present, otherwise the first balanced {...} span.
func extractJSONObject(text string) (string, bool) {
	if fenced, ok := extractFencedJSON(text); ok {
		return fenced, true
	}
	return extractBalancedObject(text)
}

func extractFencedJSON(text string) (string, bool) {
	start := strings.Index(text, "```json")
	if start < 0 {
		return "", false
	}
	rest := text[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractBalancedObject finds the first balanced top-level {...} span,
// tracking string literals so braces inside values don't count.
func extractBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

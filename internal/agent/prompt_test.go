package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Whamp/pi-brain/config"
	"github.com/Whamp/pi-brain/internal/queue"
)

func int64Ptr(v int64) *int64 { return &v }

func TestBuildPrompt(t *testing.T) {
	job := &queue.Job{
		ID:           "job_abc",
		Type:         queue.TypeReanalysis,
		SessionFile:  "/sessions/2026-08-27.jsonl",
		SegmentStart: int64Ptr(10),
		SegmentEnd:   int64Ptr(42),
		Context: queue.JobContext{
			ExistingNodeID: "node_xyz",
			Reason:         "stale prompt version",
			Extra:          map[string]string{"operator": "cli"},
		},
	}

	prompt := BuildPrompt(job)

	assert.Contains(t, prompt, "/sessions/2026-08-27.jsonl")
	assert.Contains(t, prompt, "entries 10 through 42")
	assert.Contains(t, prompt, "node_xyz")
	assert.Contains(t, prompt, "stale prompt version")
	assert.Contains(t, prompt, "```json")
	// Extra entries are operator metadata, not prompt material.
	assert.NotContains(t, prompt, "operator")
}

func TestBuildPromptNoSegment(t *testing.T) {
	job := &queue.Job{
		Type:        queue.TypeInitial,
		SessionFile: "/sessions/s.jsonl",
	}
	prompt := BuildPrompt(job)
	assert.NotContains(t, prompt, "Segment:")
	assert.NotContains(t, prompt, "Context:")
}

func TestSelectSkills(t *testing.T) {
	skillsDir := t.TempDir()
	for _, skill := range []string{"session-analysis", "segment-boundaries"} {
		if err := os.Mkdir(filepath.Join(skillsDir, skill), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	sessionDir := t.TempDir()
	smallSession := filepath.Join(sessionDir, "small.jsonl")
	largeSession := filepath.Join(sessionDir, "large.jsonl")
	if err := os.WriteFile(smallSession, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(largeSession, []byte(strings.Repeat("x", 2048)), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.AgentConfig{
		SkillsDir:             skillsDir,
		RequiredSkills:        []string{"not-installed"},
		OptionalSkills:        []string{"session-analysis"},
		LargeSessionSkill:     "segment-boundaries",
		LargeSessionThreshold: 1024,
	}

	// Small session: conditional skill excluded, missing skill skipped.
	skills := selectSkills(cfg, smallSession)
	assert.Equal(t, []string{"session-analysis"}, skills)

	// Large session: conditional skill included.
	skills = selectSkills(cfg, largeSession)
	assert.Equal(t, []string{"session-analysis", "segment-boundaries"}, skills)
}

func TestSelectSkillsNoSkillsDir(t *testing.T) {
	cfg := config.AgentConfig{
		RequiredSkills: []string{"always"},
		OptionalSkills: []string{"also"},
	}
	skills := selectSkills(cfg, "/nonexistent/session.jsonl")
	assert.Equal(t, []string{"always", "also"}, skills)
}

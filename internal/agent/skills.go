package agent

import (
	"os"
	"path/filepath"

	"github.com/Whamp/pi-brain/config"
)

// selectSkills builds the skills list for one invocation. Required and
// optional skills are included whenever they are locally installed under
// SkillsDir. The large-session skill is included only when the session file
// is at or above the size threshold: its segmentation instructions confuse
// smaller models on short sessions.
func selectSkills(cfg config.AgentConfig, sessionFile string) []string {
	var skills []string

	for _, skill := range cfg.RequiredSkills {
		if skillInstalled(cfg.SkillsDir, skill) {
			skills = append(skills, skill)
		}
	}
	for _, skill := range cfg.OptionalSkills {
		if skillInstalled(cfg.SkillsDir, skill) {
			skills = append(skills, skill)
		}
	}

	if cfg.LargeSessionSkill != "" && skillInstalled(cfg.SkillsDir, cfg.LargeSessionSkill) {
		if info, err := os.Stat(sessionFile); err == nil && info.Size() >= cfg.LargeSessionThreshold {
			skills = append(skills, cfg.LargeSessionSkill)
		}
	}

	return skills
}

// skillInstalled reports whether a skill directory exists locally. An empty
// SkillsDir means skills are resolved by the agent itself and everything
// configured counts as available.
func skillInstalled(skillsDir, skill string) bool {
	if skillsDir == "" {
		return true
	}
	info, err := os.Stat(filepath.Join(skillsDir, skill))
	return err == nil && info.IsDir()
}

package consts

import (
	"os"
	"path/filepath"
)

const (
	ZubotDirName       = ".zubot"
	ConfigFileName     = "central.yaml"
	DefaultWorkspaceID = "default"
	SkillsDirName      = "skills"
	SkillsRepoURL      = "https://github.com/zubot/skills.git"

	// CentralDBRelPath is the default Store database path, relative to
	// ZubotHomeDir, per the Control API's documented default.
	CentralDBRelPath = "memory/central/zubot_core.db"

	// CentralLogRelPath is the default per-run log directory, relative to
	// ZubotHomeDir.
	CentralLogRelPath = "memory/central/logs"
)

func ZubotHomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ZubotDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(ZubotHomeDir(), ConfigFileName)
}

func DefaultWorkspaceDir() string {
	return filepath.Join(ZubotHomeDir(), "workspaces", DefaultWorkspaceID)
}

func GlobalSkillsDir() string {
	return filepath.Join(ZubotHomeDir(), SkillsDirName)
}

func DefaultCentralDBPath() string {
	return filepath.Join(ZubotHomeDir(), CentralDBRelPath)
}

func DefaultRunLogDir() string {
	return filepath.Join(ZubotHomeDir(), CentralLogRelPath)
}

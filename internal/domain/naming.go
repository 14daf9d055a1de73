package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Directory and file names for autocrew.
const (
	DataDirName          = "autocrew"       // Directory name under .git and the global config dir
	ConfigFileName       = "config.toml"    // Config file name
	PipelineFileName     = "pipeline.yaml"  // Pipeline definition file name
	WorktreeTrackingFile = "worktrees.json" // Worktree tracking file name
	SQLiteFileName       = "features.db"    // SQLite backend file name
	FeatureFileName      = "feature.json"   // Per-feature record file name
)

// BranchPrefix prefixes every feature branch.
const BranchPrefix = "autocrew/"

// RepoDataDir returns the autocrew data directory for a repository.
func RepoDataDir(repoRoot string) string {
	return filepath.Join(repoRoot, ".git", DataDirName)
}

// GlobalDataDir returns the global autocrew directory.
// configHome is typically XDG_CONFIG_HOME or ~/.config (resolved by caller).
func GlobalDataDir(configHome string) string {
	return filepath.Join(configHome, DataDirName)
}

// ConfigPath returns the config file path inside a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFileName)
}

// PipelinePath returns the pipeline definition path.
func PipelinePath(dataDir string) string {
	return filepath.Join(dataDir, PipelineFileName)
}

// FeaturesDir returns the directory holding feature records.
func FeaturesDir(dataDir string) string {
	return filepath.Join(dataDir, "features")
}

// FeatureDir returns the directory of one feature.
func FeatureDir(dataDir, featureID string) string {
	return filepath.Join(FeaturesDir(dataDir), featureID)
}

// FeatureRecordPath returns the path of a feature record.
func FeatureRecordPath(dataDir, featureID string) string {
	return filepath.Join(FeatureDir(dataDir, featureID), FeatureFileName)
}

// TranscriptPath returns the path of a run transcript.
func TranscriptPath(dataDir, featureID, runID string) string {
	return filepath.Join(FeatureDir(dataDir, featureID), "runs", runID+".jsonl")
}

// WorktreesDir returns the directory holding feature checkouts.
func WorktreesDir(dataDir string) string {
	return filepath.Join(dataDir, "worktrees")
}

// WorktreePath returns the deterministic checkout path of a feature.
func WorktreePath(dataDir, featureID string) string {
	return filepath.Join(WorktreesDir(dataDir), featureID)
}

// WorktreeTrackingPath returns the path of the worktree tracking file.
func WorktreeTrackingPath(dataDir string) string {
	return filepath.Join(dataDir, WorktreeTrackingFile)
}

// SQLitePath returns the path of the SQLite database.
func SQLitePath(dataDir string) string {
	return filepath.Join(dataDir, SQLiteFileName)
}

// RunLockPath returns the lock file held for the life of a feature's run.
func RunLockPath(dataDir, featureID string) string {
	return filepath.Join(dataDir, "locks", featureID+".run.lock")
}

// GlobalLogPath returns the path to the global log file.
func GlobalLogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "autocrew.log")
}

// FeatureLogPath returns the path to a feature log file.
func FeatureLogPath(dataDir, featureID string) string {
	return filepath.Join(dataDir, "logs", FeatureLabel(featureID)+".log")
}

// FeatureLabel returns the "feature-<id>" label used in log files and lines.
// Generated IDs already carry the prefix and are returned as is.
func FeatureLabel(featureID string) string {
	if strings.HasPrefix(featureID, "feature-") {
		return featureID
	}
	return "feature-" + featureID
}

// BranchName returns the branch name for a feature.
func BranchName(featureID string) string {
	return BranchPrefix + featureID
}

// ParseBranchFeatureID extracts the feature ID from a branch name.
func ParseBranchFeatureID(branch string) (string, bool) {
	id, ok := strings.CutPrefix(branch, BranchPrefix)
	if !ok || ValidateFeatureID(id) != nil {
		return "", false
	}
	return id, true
}

var featureIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateFeatureID rejects IDs that are unsafe as path or branch components.
func ValidateFeatureID(id string) error {
	if !featureIDPattern.MatchString(id) || strings.Contains(id, "..") || strings.HasSuffix(id, ".lock") {
		return fmt.Errorf("%w: %q", ErrInvalidFeatureID, id)
	}
	return nil
}

// NewFeatureID returns a fresh feature ID: feature-<unix millis>-<random>.
func NewFeatureID(now time.Time) string {
	return fmt.Sprintf("feature-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// NewRunID returns a fresh run ID.
func NewRunID() string {
	return uuid.NewString()
}

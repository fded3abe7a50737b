package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// UpgraderState tracks the process version and over-the-air upgrade
// bookkeeping. The upgrader itself runs outside this process; this struct
// only keeps the persisted record current so the external upgrader can
// observe what version is live and whether its last attempts failed.
type UpgraderState struct {
	CurrentVersion      string    `json:"current_version"`
	LastCheck           time.Time `json:"last_check"`
	BackupPath          string    `json:"backup_path,omitempty"`
	BackupVersion       string    `json:"backup_version,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// LoadUpgraderState reads path. A missing file yields the zero state
// without error.
func LoadUpgraderState(path string) (UpgraderState, error) {
	var state UpgraderState
	if path == "" {
		return state, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("persistence: read upgrader state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("persistence: decode upgrader state: %w", err)
	}
	return state, nil
}

// Save writes the state atomically. An empty path is a no-op.
func (u UpgraderState) Save(path string) error {
	if path == "" {
		return nil
	}
	return atomicWriteJSON(path, u)
}

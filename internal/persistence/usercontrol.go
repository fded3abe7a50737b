package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// UserControlStore persists the user-control overlay (master switch,
// disallow flags, fixed time slots) to a JSON file with atomic writes.
// An empty path disables persistence: Load returns the permissive default
// and Save is a no-op.
type UserControlStore struct {
	path string
}

// NewUserControlStore builds a store backed by path.
func NewUserControlStore(path string) *UserControlStore {
	return &UserControlStore{path: path}
}

// Load reads the persisted state, pruning fixed slots that have expired as
// of now. A missing file yields the default state without error; a file
// that exists but fails to parse is an error, since silently re-enabling
// automation the user may have switched off is not a safe recovery.
func (s *UserControlStore) Load(now time.Time) (model.UserControlState, error) {
	if s.path == "" {
		return model.DefaultUserControlState(), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.DefaultUserControlState(), nil
		}
		return model.UserControlState{}, fmt.Errorf("persistence: read user control state: %w", err)
	}

	var state model.UserControlState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.UserControlState{}, fmt.Errorf("persistence: decode user control state: %w", err)
	}

	state.PruneExpiredSlots(now)
	return state, nil
}

// Save writes state atomically (temp file + fsync + rename).
func (s *UserControlStore) Save(state model.UserControlState) error {
	if s.path == "" {
		return nil
	}
	return atomicWriteJSON(s.path, state)
}

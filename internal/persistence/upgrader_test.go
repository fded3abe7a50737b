package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpgraderState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrader_state.json")

	state := UpgraderState{
		CurrentVersion:      "1.4.2",
		LastCheck:           time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC),
		BackupPath:          "/data/backup/ems-1.4.1",
		BackupVersion:       "1.4.1",
		ConsecutiveFailures: 2,
	}
	require.NoError(t, state.Save(path))

	loaded, err := LoadUpgraderState(path)
	require.NoError(t, err)
	require.Equal(t, state, loaded)
}

func TestUpgraderState_MissingFileYieldsZeroState(t *testing.T) {
	loaded, err := LoadUpgraderState(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, UpgraderState{}, loaded)
}

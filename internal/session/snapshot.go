package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"incidencia/internal/gtask"
)

// SnapshotStore mirrors each device's login state to a small JSON file so a
// restarted gateway can hand sessions back without forcing a re-login.
type SnapshotStore struct {
	dir string
}

// Snapshot is the durable slice of a device session.
type Snapshot struct {
	Identity   gtask.Identity `json:"identity"`
	Credential Credential     `json:"credential"`
	SavedAt    time.Time      `json:"saved_at"`
}

// NewSnapshotStore creates the backing directory if needed.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create snapshot dir: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

// Save writes the device's login state, replacing any previous snapshot.
func (s *SnapshotStore) Save(deviceID string, ident gtask.Identity, cred Credential) error {
	data, err := json.Marshal(Snapshot{Identity: ident, Credential: cred, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("session: encode snapshot: %w", err)
	}
	return os.WriteFile(s.path(deviceID), data, 0o600)
}

// Load returns the stored snapshot, or nil when none exists.
func (s *SnapshotStore) Load(deviceID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(deviceID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// a corrupt snapshot is treated as absent
		return nil, nil
	}
	return &snap, nil
}

// Clear removes the snapshot for one device only.
func (s *SnapshotStore) Clear(deviceID string) {
	_ = os.Remove(s.path(deviceID))
}

// path maps a caller-supplied device id onto a safe filename.
func (s *SnapshotStore) path(deviceID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, deviceID)
	return filepath.Join(s.dir, "device_"+safe+".json")
}

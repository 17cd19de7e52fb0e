package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pthm-cable/sandpile/lattice"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the pile state at one drop.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id,omitempty"`
	RNGSeed int64  `json:"rng_seed"`

	XSize int `json:"x_size"`
	YSize int `json:"y_size"`
	ZSize int `json:"z_size"`

	Drop    int `json:"drop"`
	Mass    int `json:"mass"`
	Escaped int `json:"escaped"`

	// Cells lists every non-inert cell in index order.
	Cells []CellState `json:"cells"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// CellState holds one cell's thresholds and load.
type CellState struct {
	X          int `json:"x"`
	Y          int `json:"y"`
	Z          int `json:"z"`
	Capacity   int `json:"capacity"`
	Resilience int `json:"resilience"`
	Grains     int `json:"grains"`
}

// CaptureSnapshot records the current occupancy of lat.
func CaptureSnapshot(lat *lattice.Lattice, drop, escaped int) *Snapshot {
	ext := lat.Extents()
	s := &Snapshot{
		Version: SnapshotVersion,
		XSize:   ext.X,
		YSize:   ext.Y,
		ZSize:   ext.Z,
		Drop:    drop,
		Escaped: escaped,
	}
	lat.Each(func(c *lattice.Cell) {
		if c.EmptySpace() {
			return
		}
		pos := c.Coord()
		s.Cells = append(s.Cells, CellState{
			X:          pos.X,
			Y:          pos.Y,
			Z:          pos.Z,
			Capacity:   c.Capacity,
			Resilience: c.Resilience,
			Grains:     c.Residents(),
		})
		s.Mass += c.Residents()
	})
	return s
}

// Column returns the per-level grain counts at (x, y), ground first.
func (s *Snapshot) Column(x, y int) []int {
	out := make([]int, s.ZSize)
	for _, c := range s.Cells {
		if c.X == x && c.Y == y {
			out[c.Z] = c.Grains
		}
	}
	return out
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Drop)
	if snapshot.Bookmark != nil {
		sanitized := strings.ReplaceAll(string(snapshot.Bookmark.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Drop, sanitized)
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}

package persistence

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/agora/internal/engine"
	"github.com/talgya/agora/internal/metrics"
)

// SnapshotExt is the file extension of snapshots.
const SnapshotExt = ".json.zst"

// WriteSnapshot writes st as zstd-compressed JSON. The file is written to
// a temporary name and renamed so readers never see a partial snapshot.
func WriteSnapshot(path string, st engine.State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeState(tmp, st); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func encodeState(w io.Writer, st engine.State) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(st); err != nil {
		enc.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (engine.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.State{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return engine.State{}, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var st engine.State
	if err := json.NewDecoder(dec).Decode(&st); err != nil {
		return engine.State{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return st, nil
}

// SnapshotPath names the snapshot of a run at a tick. Ticks are zero
// padded so names sort in tick order.
func SnapshotPath(dir, runID string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%012d%s", runID, tick, SnapshotExt))
}

// LatestSnapshot returns the newest snapshot of a run in dir.
func LatestSnapshot(dir, runID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, runID+"-*"+SnapshotExt))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no snapshots for run %s in %s", runID, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Snapshotter writes a run's state every Every ticks. It is an engine
// summary sink and runs on the stepping goroutine, so the state it reads
// is exactly the end of the summarised tick.
type Snapshotter struct {
	sim    *engine.Simulation
	dir    string
	every  uint64
	logger *slog.Logger
}

// NewSnapshotter creates a snapshotter. every 0 disables periodic writes;
// Save still works.
func NewSnapshotter(sim *engine.Simulation, dir string, every uint64, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{sim: sim, dir: dir, every: every, logger: logger}
}

// OnSummary writes a snapshot when the tick is due.
func (s *Snapshotter) OnSummary(sum engine.Summary) {
	if s.every == 0 || sum.Tick%s.every != 0 {
		return
	}
	if _, err := s.Save(); err != nil {
		s.logger.Error("snapshot failed", "tick", sum.Tick, "error", err)
	}
}

// Save writes the current state and returns the file path.
func (s *Snapshotter) Save() (string, error) {
	st := s.sim.Snapshot()
	path := SnapshotPath(s.dir, st.RunID, st.Tick)
	if err := WriteSnapshot(path, st); err != nil {
		return "", err
	}
	metrics.Inc(metrics.SnapshotsWritten)
	s.logger.Info("snapshot written", "tick", st.Tick, "path", path)
	return path, nil
}

// RunIDFromPath extracts the run id from a snapshot file name.
func RunIDFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), SnapshotExt)
	if i := strings.LastIndexByte(base, '-'); i > 0 {
		return base[:i]
	}
	return base
}

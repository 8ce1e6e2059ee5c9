// Package archive keeps the first snapshot of every pirate epoch so a
// world's escalation can be studied after later snapshots are pruned.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
)

type EpochMeta struct {
	Epoch      model.Epoch `json:"epoch"`
	EpochIndex int         `json:"epoch_index"`
	Tick       uint64      `json:"tick"`
	ElapsedMs  int64       `json:"elapsed_ms"`
	Seed       int64       `json:"seed"`
	ScenarioID string      `json:"scenario_id"`
	Snapshot   string      `json:"snapshot"`
	Stations   int         `json:"stations"`
	Fleets     int         `json:"fleets"`
	CreatedAt  string      `json:"created_at"`
}

// EpochDir is <worldDir>/archives/epoch_<N>_<name>.
func EpochDir(worldDir string, e model.Epoch) string {
	return filepath.Join(worldDir, "archives", fmt.Sprintf("epoch_%d_%s", model.EpochIndex(e), strings.ToLower(string(e))))
}

// ArchiveEpochSnapshot copies snapshotPath into the archive of snap's epoch
// unless that epoch already has one. archived reports whether a copy was made.
func ArchiveEpochSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1) (dst string, archived bool, err error) {
	e := snap.Pirates.Epoch
	if e == "" {
		return "", false, nil
	}
	dir := EpochDir(worldDir, e)
	if _, err := os.Stat(filepath.Join(dir, "meta.json")); err == nil {
		return "", false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}

	dst = filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}
	meta := EpochMeta{
		Epoch:      e,
		EpochIndex: model.EpochIndex(e),
		Tick:       snap.Header.Tick,
		ElapsedMs:  snap.ElapsedMs,
		Seed:       snap.Seed,
		ScenarioID: snap.Header.ScenarioID,
		Snapshot:   filepath.Base(dst),
		Stations:   len(snap.Stations),
		Fleets:     len(snap.Fleets),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	// meta.json goes last: its presence marks the archive complete.
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

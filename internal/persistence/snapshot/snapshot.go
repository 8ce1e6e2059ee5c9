package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/larksoftware/xstaradventures/internal/sim/knowledge"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

const Version = 1

type Header struct {
	Version    int    `json:"version"`
	ScenarioID string `json:"scenario_id"`
	Tick       uint64 `json:"tick"`
}

// SnapshotV1 is the full save state once Header.Tick ticks have committed.
// Every list is ordered by id (zones by number) so equal states encode to
// equal bytes.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed      int64 `json:"seed"`
	TickRate  int   `json:"tick_rate_hz"`
	DtMs      int64 `json:"dt_ms"`
	ElapsedMs int64 `json:"elapsed_ms"`

	Zones   []sector.Zone  `json:"zones"`
	Routes  []sector.Route `json:"routes"`
	Control []ControlV1    `json:"control"`

	Knowledge []knowledge.Record `json:"knowledge"`
	Pressure  []pressure.Record  `json:"pressure"`
	OreNodes  []model.OreNode    `json:"ore_nodes,omitempty"`

	Player   model.Player    `json:"player"`
	Stations []model.Station `json:"stations"`
	Fleets   []model.Fleet   `json:"fleets"`
	Lost     []model.Fleet   `json:"lost_fleets,omitempty"`
	Crises   []model.Crisis  `json:"crises"`
	Archive  []model.Crisis  `json:"crisis_archive,omitempty"`
	Pirates  PiratesV1       `json:"pirates"`

	Resolved   []ResolvedV1   `json:"resolved,omitempty"`
	Counters   model.Counters `json:"counters"`
	CommandSeq uint64         `json:"command_seq"`
}

type ControlV1 struct {
	Zone    sector.ZoneID `json:"zone"`
	Control model.Control `json:"control"`
}

type PiratesV1 struct {
	Epoch  model.Epoch         `json:"epoch"`
	Groups []model.PirateGroup `json:"groups"`
	Bases  []model.PirateBase  `json:"bases"`
	Bosses []model.Boss        `json:"bosses"`
}

type ResolvedV1 struct {
	EntityID string        `json:"entity_id"`
	Outcome  model.Outcome `json:"outcome"`
}

// Compressed reports whether path names a zstd snapshot.
func Compressed(path string) bool { return strings.HasSuffix(path, ".zst") }

// Encode writes snap as JSON. Plain output is indented for hand editing.
func Encode(w io.Writer, snap SnapshotV1, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(&snap)
}

func Decode(r io.Reader) (SnapshotV1, error) {
	var snap SnapshotV1
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// WriteSnapshot writes plain JSON, or zstd-compressed JSON when path ends in
// .zst.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, path, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(f *os.File, path string, snap SnapshotV1) error {
	if !Compressed(path) {
		bw := bufio.NewWriterSize(f, 256*1024)
		if err := Encode(bw, snap, true); err != nil {
			return err
		}
		return bw.Flush()
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := Encode(bw, snap, false); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotV1{}, err
	}
	defer f.Close()

	if !Compressed(path) {
		return Decode(bufio.NewReaderSize(f, 256*1024))
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		return SnapshotV1{}, err
	}
	defer dec.Close()
	return Decode(bufio.NewReaderSize(dec, 256*1024))
}

// PathForTick is the file name used by the server's snapshot writer.
func PathForTick(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%012d.snap.zst", tick))
}

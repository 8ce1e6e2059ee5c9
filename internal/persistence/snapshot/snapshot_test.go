package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

func sample() SnapshotV1 {
	return SnapshotV1{
		Header:     Header{Version: Version, ScenarioID: "frontier", Tick: 120},
		Seed:       1337,
		TickRate:   10,
		DtMs:       100,
		Zones:      []sector.Zone{{ID: 1, Name: "Home"}, {ID: 2, Name: "Drift", Modifier: sector.ModNebulaInterference}},
		Player:     model.Player{Zone: 1, Ore: 42},
		Stations:   []model.Station{{ID: "S000001", Kind: model.FuelDepot, Zone: 1, State: model.Operational, Fuel: 80, FuelCapacity: 120}},
		Crises:     []model.Crisis{},
		Fleets:     []model.Fleet{},
		CommandSeq: 17,
	}
}

func TestWriteReadBothFormats(t *testing.T) {
	dir := t.TempDir()
	want := sample()
	for _, name := range []string{"save.json", "000000000120.snap.zst"} {
		p := filepath.Join(dir, name)
		if err := WriteSnapshot(p, want); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		if _, err := os.Stat(p + ".tmp"); !os.IsNotExist(err) {
			t.Fatalf("%s: tmp file left behind", name)
		}
		got, err := ReadSnapshot(p)
		if err != nil {
			t.Fatalf("%s: read: %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: got %+v want %+v", name, got, want)
		}
	}

	plain, _ := os.ReadFile(filepath.Join(dir, "save.json"))
	if !bytes.Contains(plain, []byte("\n  \"header\"")) || !bytes.Contains(plain, []byte(`"fuel_capacity": 120`)) {
		t.Fatalf("plain snapshot is not indented JSON:\n%s", plain)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"header":{"version":9,"tick":1}}`))
	if err == nil || !strings.Contains(err.Error(), "version 9") {
		t.Fatalf("err=%v", err)
	}
	if _, err := Decode(strings.NewReader(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPathForTick(t *testing.T) {
	if got := PathForTick("snaps", 3000); got != filepath.Join("snaps", "000000003000.snap.zst") {
		t.Fatalf("path=%s", got)
	}
	if !Compressed("a.snap.zst") || Compressed("a.json") {
		t.Fatalf("Compressed misclassifies")
	}
}

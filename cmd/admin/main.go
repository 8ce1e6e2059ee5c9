package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/larksoftware/xstaradventures/internal/persistence/snapshot"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "problems":
			problemsCmd(os.Args[2:])
			return
		case "observe":
			observeCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used to find the latest snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot=%s\n", filepath.Base(path))
	printSummary(os.Stdout, snap)
}

// printSummary writes a human-readable digest of a snapshot: header, the
// player, every station and fleet, open crises and the pirate picture.
func printSummary(out io.Writer, snap snapshot.SnapshotV1) {
	h := snap.Header
	fmt.Fprintf(out, "v%d scenario=%s tick=%d elapsed=%dms seed=%d command_seq=%d\n",
		h.Version, h.ScenarioID, h.Tick, snap.ElapsedMs, snap.Seed, snap.CommandSeq)
	fmt.Fprintf(out, "player zone=%d ore=%.1f\n", snap.Player.Zone, snap.Player.Ore)

	stations := append([]model.Station(nil), snap.Stations...)
	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	fmt.Fprintf(out, "stations (%d):\n", len(stations))
	for _, s := range stations {
		fmt.Fprintf(out, "  %s %-14s zone=%d state=%-12s fuel=%.1f/%.1f", s.ID, s.Kind, s.Zone, s.State, s.Fuel, s.FuelCapacity)
		if s.CrisisType != "" {
			fmt.Fprintf(out, " crisis=%s/%s", s.CrisisType, s.CrisisStage)
		}
		fmt.Fprintln(out)
	}

	fleets := append([]model.Fleet(nil), snap.Fleets...)
	sort.Slice(fleets, func(i, j int) bool { return fleets[i].ID < fleets[j].ID })
	fmt.Fprintf(out, "fleets (%d, lost %d):\n", len(fleets), len(snap.Lost))
	for _, f := range fleets {
		task := "-"
		if f.Intent != nil {
			task = fmt.Sprintf("%s@%d", f.Intent.Task, f.Intent.TargetZone)
		}
		fmt.Fprintf(out, "  %s %-9s zone=%d autonomy=%s risk=%s task=%s\n", f.ID, f.Role, f.Zone, f.Autonomy, f.Risk, task)
	}

	fmt.Fprintf(out, "crises open=%d archived=%d\n", len(snap.Crises), len(snap.Archive))
	for _, c := range snap.Crises {
		fmt.Fprintf(out, "  %s %s station=%s stage=%s\n", c.ID, c.Type, c.StationID, c.Stage)
	}

	cleared := 0
	for _, b := range snap.Pirates.Bases {
		if b.Cleared {
			cleared++
		}
	}
	fmt.Fprintf(out, "pirates epoch=%s groups=%d bases=%d cleared=%d bosses=%d\n",
		snap.Pirates.Epoch, len(snap.Pirates.Groups), len(snap.Pirates.Bases), cleared, len(snap.Pirates.Bosses))
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

package sector

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is the world-generation input: the zone graph plus the entities
// placed on it at tick 0.
type Scenario struct {
	ID          string        `yaml:"id"`
	Seed        int64         `yaml:"seed"`
	PlayerZone  ZoneID        `yaml:"player_zone"`
	PlayerOre   float64       `yaml:"player_ore,omitempty"`
	Zones       []ZoneSpec    `yaml:"zones"`
	Routes      []RouteSpec   `yaml:"routes"`
	PirateBases []BaseSpec    `yaml:"pirate_bases,omitempty"`
	Stations    []StationSpec `yaml:"stations,omitempty"`
	Fleets      []FleetSpec   `yaml:"fleets,omitempty"`
}

type ZoneSpec struct {
	ID        ZoneID  `yaml:"id"`
	Name      string  `yaml:"name"`
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Modifier  string  `yaml:"modifier,omitempty"`
	OreFields int     `yaml:"ore_fields,omitempty"`
}

type RouteSpec struct {
	From     ZoneID  `yaml:"from"`
	To       ZoneID  `yaml:"to"`
	Distance float64 `yaml:"distance,omitempty"`
	Risk     float64 `yaml:"risk,omitempty"`
}

type BaseSpec struct {
	Zone   ZoneID `yaml:"zone"`
	Tier   int    `yaml:"tier"`
	Radius int    `yaml:"radius"`
}

type StationSpec struct {
	Kind        string   `yaml:"kind"`
	Zone        ZoneID   `yaml:"zone"`
	X           float64  `yaml:"x"`
	Y           float64  `yaml:"y"`
	Fuel        *float64 `yaml:"fuel,omitempty"`
	Operational bool     `yaml:"operational"`
}

type FleetSpec struct {
	Role          string `yaml:"role"`
	Home          ZoneID `yaml:"home"`
	Autonomy      string `yaml:"autonomy,omitempty"`
	RiskTolerance string `yaml:"risk_tolerance,omitempty"`
}

func LoadScenario(path string) (Scenario, error) {
	var sc Scenario
	if strings.TrimSpace(path) == "" {
		return sc, fmt.Errorf("empty scenario path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return sc, fmt.Errorf("sector.yaml: %w", err)
	}
	sc.Normalize()
	if err := sc.Validate(); err != nil {
		return sc, fmt.Errorf("sector.yaml: %w", err)
	}
	return sc, nil
}

func (sc *Scenario) Normalize() {
	if sc == nil {
		return
	}
	if strings.TrimSpace(sc.ID) == "" {
		sc.ID = "frontier"
	}
	for i := range sc.Zones {
		sc.Zones[i].Name = strings.TrimSpace(sc.Zones[i].Name)
		if sc.Zones[i].Name == "" {
			sc.Zones[i].Name = fmt.Sprintf("Zone %d", sc.Zones[i].ID)
		}
		sc.Zones[i].Modifier = strings.TrimSpace(sc.Zones[i].Modifier)
	}
	for i := range sc.PirateBases {
		if sc.PirateBases[i].Tier <= 0 {
			sc.PirateBases[i].Tier = 1
		}
		if sc.PirateBases[i].Radius <= 0 {
			sc.PirateBases[i].Radius = 1
		}
	}
	if sc.PlayerZone == 0 && len(sc.Zones) > 0 {
		sc.PlayerZone = sc.Zones[0].ID
	}
}

func (sc Scenario) Validate() error {
	if len(sc.Zones) == 0 {
		return fmt.Errorf("no zones")
	}
	s, err := sc.Sector()
	if err != nil {
		return err
	}
	if !s.HasZone(sc.PlayerZone) {
		return fmt.Errorf("player_zone %d not found", sc.PlayerZone)
	}
	if sc.PlayerOre < 0 {
		return fmt.Errorf("player_ore must be >= 0")
	}
	for i, b := range sc.PirateBases {
		if !s.HasZone(b.Zone) {
			return fmt.Errorf("pirate_bases[%d]: unknown zone %d", i, b.Zone)
		}
	}
	for i, st := range sc.Stations {
		if !s.HasZone(st.Zone) {
			return fmt.Errorf("stations[%d]: unknown zone %d", i, st.Zone)
		}
	}
	for i, f := range sc.Fleets {
		if !s.HasZone(f.Home) {
			return fmt.Errorf("fleets[%d]: unknown home zone %d", i, f.Home)
		}
	}
	return nil
}

// Sector builds the immutable graph described by the scenario.
func (sc Scenario) Sector() (*Sector, error) {
	zones := make([]Zone, 0, len(sc.Zones))
	for _, z := range sc.Zones {
		zones = append(zones, Zone{
			ID:        z.ID,
			Name:      z.Name,
			X:         z.X,
			Y:         z.Y,
			Modifier:  Modifier(z.Modifier),
			OreFields: z.OreFields,
		})
	}
	routes := make([]Route, 0, len(sc.Routes))
	for _, r := range sc.Routes {
		routes = append(routes, Route{From: r.From, To: r.To, Distance: r.Distance, Risk: r.Risk})
	}
	return New(zones, routes)
}

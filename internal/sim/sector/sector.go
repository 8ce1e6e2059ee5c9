package sector

import (
	"fmt"
	"math"
	"sort"
)

type ZoneID int

type Zone struct {
	ID        ZoneID   `json:"id"`
	Name      string   `json:"name"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Modifier  Modifier `json:"modifier,omitempty"`
	OreFields int      `json:"ore_fields,omitempty"`
}

type Route struct {
	ID       string  `json:"id"`
	From     ZoneID  `json:"from"`
	To       ZoneID  `json:"to"`
	Distance float64 `json:"distance"`
	Risk     float64 `json:"risk"`
}

// Other returns the endpoint opposite z.
func (r Route) Other(z ZoneID) ZoneID {
	if r.From == z {
		return r.To
	}
	return r.From
}

// Sector is the zone/route graph. It is immutable once built; WithModifier
// returns a modified copy.
type Sector struct {
	zones  map[ZoneID]Zone
	order  []ZoneID
	routes []Route
	byID   map[string]int
	adj    map[ZoneID][]int
}

func New(zones []Zone, routes []Route) (*Sector, error) {
	s := &Sector{
		zones: make(map[ZoneID]Zone, len(zones)),
		byID:  make(map[string]int, len(routes)),
		adj:   make(map[ZoneID][]int, len(zones)),
	}
	for _, z := range zones {
		if _, dup := s.zones[z.ID]; dup {
			return nil, fmt.Errorf("duplicate zone id %d", z.ID)
		}
		if _, err := ParseModifier(string(z.Modifier)); err != nil {
			return nil, fmt.Errorf("zone %d: %w", z.ID, err)
		}
		s.zones[z.ID] = z
		s.order = append(s.order, z.ID)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })

	for i, r := range routes {
		if r.ID == "" {
			r.ID = fmt.Sprintf("R%04d", i+1)
		}
		if _, ok := s.zones[r.From]; !ok {
			return nil, fmt.Errorf("route %s: unknown zone %d", r.ID, r.From)
		}
		if _, ok := s.zones[r.To]; !ok {
			return nil, fmt.Errorf("route %s: unknown zone %d", r.ID, r.To)
		}
		if r.From == r.To {
			return nil, fmt.Errorf("route %s: self loop on zone %d", r.ID, r.From)
		}
		if r.Distance <= 0 {
			a, b := s.zones[r.From], s.zones[r.To]
			r.Distance = math.Hypot(a.X-b.X, a.Y-b.Y)
		}
		if r.Distance <= 0 {
			return nil, fmt.Errorf("route %s: distance must be > 0", r.ID)
		}
		if _, dup := s.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate route id %s", r.ID)
		}
		s.byID[r.ID] = len(s.routes)
		s.routes = append(s.routes, r)
		idx := len(s.routes) - 1
		s.adj[r.From] = append(s.adj[r.From], idx)
		s.adj[r.To] = append(s.adj[r.To], idx)
	}
	for z, list := range s.adj {
		sort.Slice(list, func(i, j int) bool {
			return s.routes[list[i]].Other(z) < s.routes[list[j]].Other(z)
		})
	}
	return s, nil
}

func (s *Sector) Zone(id ZoneID) (Zone, bool) {
	z, ok := s.zones[id]
	return z, ok
}

func (s *Sector) HasZone(id ZoneID) bool {
	_, ok := s.zones[id]
	return ok
}

// ZoneIDs returns all zone ids in ascending order.
func (s *Sector) ZoneIDs() []ZoneID {
	out := make([]ZoneID, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Sector) Zones() []Zone {
	out := make([]Zone, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.zones[id])
	}
	return out
}

func (s *Sector) Routes() []Route {
	out := make([]Route, len(s.routes))
	copy(out, s.routes)
	return out
}

func (s *Sector) Route(id string) (Route, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Route{}, false
	}
	return s.routes[i], true
}

// RouteBetween returns the shortest direct route joining a and b.
func (s *Sector) RouteBetween(a, b ZoneID) (Route, bool) {
	var best Route
	found := false
	for _, i := range s.adj[a] {
		r := s.routes[i]
		if r.Other(a) != b {
			continue
		}
		if !found || r.Distance < best.Distance {
			best, found = r, true
		}
	}
	return best, found
}

// Neighbors returns adjacent zone ids in ascending order, without duplicates.
func (s *Sector) Neighbors(z ZoneID) []ZoneID {
	var out []ZoneID
	for _, i := range s.adj[z] {
		n := s.routes[i].Other(z)
		if len(out) > 0 && out[len(out)-1] == n {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (s *Sector) Adjacent(a, b ZoneID) bool {
	_, ok := s.RouteBetween(a, b)
	return ok
}

// Hops returns the breadth-first hop count from origin to every reachable zone.
func (s *Sector) Hops(origin ZoneID) map[ZoneID]int {
	out := map[ZoneID]int{}
	if !s.HasZone(origin) {
		return out
	}
	out[origin] = 0
	queue := []ZoneID{origin}
	for len(queue) > 0 {
		z := queue[0]
		queue = queue[1:]
		for _, n := range s.Neighbors(z) {
			if _, seen := out[n]; seen {
				continue
			}
			out[n] = out[z] + 1
			queue = append(queue, n)
		}
	}
	return out
}

// HopDistance returns -1 when b is unreachable from a.
func (s *Sector) HopDistance(a, b ZoneID) int {
	if h, ok := s.Hops(a)[b]; ok {
		return h
	}
	return -1
}

// Path is a shortest route-distance path. Zones includes both endpoints.
type Path struct {
	Zones    []ZoneID
	Routes   []string
	Distance float64
}

// ShortestPath runs Dijkstra over route distances, skipping routes in avoid.
// Ties between equal-distance frontiers resolve to the lower zone id.
func (s *Sector) ShortestPath(from, to ZoneID, avoid map[string]bool) (Path, bool) {
	if !s.HasZone(from) || !s.HasZone(to) {
		return Path{}, false
	}
	if from == to {
		return Path{Zones: []ZoneID{from}}, true
	}
	dist := map[ZoneID]float64{from: 0}
	prevZone := map[ZoneID]ZoneID{}
	prevRoute := map[ZoneID]string{}
	done := map[ZoneID]bool{}
	for {
		cur, found := ZoneID(0), false
		for _, id := range s.order {
			d, ok := dist[id]
			if !ok || done[id] {
				continue
			}
			if !found || d < dist[cur] {
				cur, found = id, true
			}
		}
		if !found {
			return Path{}, false
		}
		if cur == to {
			break
		}
		done[cur] = true
		for _, i := range s.adj[cur] {
			r := s.routes[i]
			if avoid[r.ID] {
				continue
			}
			n := r.Other(cur)
			nd := dist[cur] + r.Distance
			if old, ok := dist[n]; !ok || nd < old {
				dist[n] = nd
				prevZone[n] = cur
				prevRoute[n] = r.ID
			}
		}
	}
	p := Path{Distance: dist[to]}
	for z := to; ; z = prevZone[z] {
		p.Zones = append(p.Zones, z)
		if z == from {
			break
		}
		p.Routes = append(p.Routes, prevRoute[z])
	}
	for i, j := 0, len(p.Zones)-1; i < j; i, j = i+1, j-1 {
		p.Zones[i], p.Zones[j] = p.Zones[j], p.Zones[i]
	}
	for i, j := 0, len(p.Routes)-1; i < j; i, j = i+1, j-1 {
		p.Routes[i], p.Routes[j] = p.Routes[j], p.Routes[i]
	}
	return p, true
}

// WithModifier returns a copy of the sector with zone z's modifier replaced.
func (s *Sector) WithModifier(z ZoneID, m Modifier) (*Sector, error) {
	zone, ok := s.zones[z]
	if !ok {
		return nil, fmt.Errorf("unknown zone %d", z)
	}
	if _, err := ParseModifier(string(m)); err != nil {
		return nil, err
	}
	zones := s.Zones()
	for i := range zones {
		if zones[i].ID == zone.ID {
			zones[i].Modifier = m
		}
	}
	return New(zones, s.Routes())
}

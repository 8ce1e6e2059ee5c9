package pirate

import (
	"github.com/larksoftware/xstaradventures/internal/sim/model"
)

// profile weights the target score terms for one doctrine.
type profile struct {
	Value       float64
	Exposure    float64
	Opportunity float64
	Retaliation float64
	RouteBias   float64
	Aggression  float64
	Escalate    model.Doctrine
}

var profiles = map[model.Doctrine]profile{
	model.DoctrineOpportunist: {Value: 1.0, Exposure: 1.0, Opportunity: 1.5, Retaliation: 1.5, RouteBias: 0.5, Aggression: 0.3, Escalate: model.DoctrineRaider},
	model.DoctrineRaider:      {Value: 1.5, Exposure: 0.8, Opportunity: 1.0, Retaliation: 1.0, RouteBias: 0.3, Aggression: 0.6, Escalate: model.DoctrineTerror},
	model.DoctrineBlockade:    {Value: 0.8, Exposure: 0.6, Opportunity: 0.8, Retaliation: 0.8, RouteBias: 1.5, Aggression: 0.5, Escalate: model.DoctrineTerror},
	model.DoctrineTerror:      {Value: 1.0, Exposure: 0.4, Opportunity: 1.2, Retaliation: 0.4, RouteBias: 0.2, Aggression: 0.9, Escalate: model.DoctrineTerror},
}

// doctrineOrder unlocks one doctrine per epoch.
var doctrineOrder = []model.Doctrine{
	model.DoctrineOpportunist,
	model.DoctrineRaider,
	model.DoctrineBlockade,
	model.DoctrineTerror,
}

var groupKinds = []model.GroupKind{
	model.GroupSkiff,
	model.GroupRaider,
	model.GroupCorvette,
	model.GroupDreadnought,
}

var stationValue = map[model.StationKind]float64{
	model.MiningOutpost: 0.6,
	model.FuelDepot:     0.8,
	model.SensorStation: 0.5,
}

func profileFor(d model.Doctrine) profile {
	if p, ok := profiles[d]; ok {
		return p
	}
	return profiles[model.DoctrineOpportunist]
}

// doctrineFor picks among the doctrines unlocked by the epoch, rotating by
// spawn sequence.
func doctrineFor(epochIdx int, seq uint64) model.Doctrine {
	n := epochIdx + 1
	if n > len(doctrineOrder) {
		n = len(doctrineOrder)
	}
	return doctrineOrder[seq%uint64(n)]
}

type terms struct {
	value, exposure, opportunity, retaliation float64
}

func (t terms) score(p profile, route bool) float64 {
	v := p.Value * t.value
	if route {
		v *= p.RouteBias
	}
	return v - p.Exposure*t.exposure + p.Opportunity*t.opportunity - p.Retaliation*t.retaliation
}

package model

import "github.com/larksoftware/xstaradventures/internal/sim/sector"

// OreNode is the ore left in a zone's fields. Mining fleets draw it down;
// nothing refills it.
type OreNode struct {
	Zone      sector.ZoneID `json:"zone"`
	Remaining float64       `json:"remaining"`
	Capacity  float64       `json:"capacity"`
}

func (n OreNode) Depleted() bool { return n.Remaining <= 0 }

// RemainingFrac is Remaining over Capacity in [0,1].
func (n OreNode) RemainingFrac() float64 {
	if n.Capacity <= 0 {
		return 0
	}
	return Clamp(n.Remaining/n.Capacity, 0, 1)
}

package sector

import "fmt"

type Modifier string

const (
	ModNone               Modifier = ""
	ModHighRadiation      Modifier = "HighRadiation"
	ModNebulaInterference Modifier = "NebulaInterference"
	ModRichOreVeins       Modifier = "RichOreVeins"
	ModDepletedResources  Modifier = "DepletedResources"
	ModSensorNoise        Modifier = "SensorNoise"
	ModClearSignals       Modifier = "ClearSignals"
)

// Modifiers lists every non-empty modifier in a fixed order.
var Modifiers = []Modifier{
	ModHighRadiation,
	ModNebulaInterference,
	ModRichOreVeins,
	ModDepletedResources,
	ModSensorNoise,
	ModClearSignals,
}

type Richness string

const (
	RichnessLow    Richness = "Low"
	RichnessMedium Richness = "Medium"
	RichnessHigh   Richness = "High"
)

// Effect is a row of the zone modifier table. Risk terms feed fleet risk
// scoring; ConfidenceRisk also scales knowledge decay.
type Effect struct {
	FuelRisk       float64
	ConfidenceRisk float64
	PirateRisk     float64
	Richness       Richness
}

func (e Effect) TotalRisk() float64 { return e.FuelRisk + e.ConfidenceRisk + e.PirateRisk }

var modifierTable = map[Modifier]Effect{
	ModNone:               {Richness: RichnessMedium},
	ModHighRadiation:      {FuelRisk: 0.2, ConfidenceRisk: 0.05, PirateRisk: 0.1, Richness: RichnessMedium},
	ModNebulaInterference: {ConfidenceRisk: 0.2, PirateRisk: 0.1, Richness: RichnessMedium},
	ModRichOreVeins:       {PirateRisk: 0.2, Richness: RichnessHigh},
	ModDepletedResources:  {FuelRisk: 0.05, PirateRisk: -0.05, Richness: RichnessLow},
	ModSensorNoise:        {ConfidenceRisk: 0.3, PirateRisk: 0.05, Richness: RichnessMedium},
	ModClearSignals:       {ConfidenceRisk: -0.15, Richness: RichnessMedium},
}

// Effects looks up the table row for m. Unknown modifiers read as none.
func Effects(m Modifier) Effect {
	if e, ok := modifierTable[m]; ok {
		return e
	}
	return modifierTable[ModNone]
}

func ParseModifier(s string) (Modifier, error) {
	m := Modifier(s)
	if _, ok := modifierTable[m]; !ok {
		return ModNone, fmt.Errorf("unknown zone modifier %q", s)
	}
	return m, nil
}

func RichnessMultiplier(r Richness) float64 {
	switch r {
	case RichnessLow:
		return 0.75
	case RichnessHigh:
		return 1.25
	}
	return 1.0
}

// DecayScale is the multiplier a zone's modifier applies to knowledge decay.
func (s *Sector) DecayScale(z ZoneID) float64 {
	zone, ok := s.zones[z]
	if !ok {
		return 1
	}
	scale := 1 + Effects(zone.Modifier).ConfidenceRisk
	if scale < 0 {
		return 0
	}
	return scale
}

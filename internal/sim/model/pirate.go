package model

import "github.com/larksoftware/xstaradventures/internal/sim/sector"

type Epoch string

const (
	EpochScavengers   Epoch = "Scavengers"
	EpochRaiders      Epoch = "Raiders"
	EpochSyndicates   Epoch = "Syndicates"
	EpochPiratePowers Epoch = "PiratePowers"
)

var Epochs = []Epoch{EpochScavengers, EpochRaiders, EpochSyndicates, EpochPiratePowers}

func EpochIndex(e Epoch) int {
	for i, x := range Epochs {
		if x == e {
			return i
		}
	}
	return 0
}

type Doctrine string

const (
	DoctrineOpportunist Doctrine = "Opportunist"
	DoctrineRaider      Doctrine = "Raider"
	DoctrineBlockade    Doctrine = "Blockade"
	DoctrineTerror      Doctrine = "Terror"
)

type GroupKind string

const (
	GroupSkiff       GroupKind = "Skiff"
	GroupRaider      GroupKind = "Raider"
	GroupCorvette    GroupKind = "Corvette"
	GroupDreadnought GroupKind = "Dreadnought"
	GroupWaveA       GroupKind = "WaveA"
	GroupWaveB       GroupKind = "WaveB"
	GroupOverrun     GroupKind = "Overrun"
)

type PirateGroup struct {
	ID                string        `json:"id"`
	Kind              GroupKind     `json:"kind"`
	Doctrine          Doctrine      `json:"doctrine"`
	BaseDoctrine      Doctrine      `json:"base_doctrine"`
	AggressiveUntilMs int64         `json:"aggressive_until_ms,omitempty"`
	Tier              int           `json:"tier"`
	Strength          float64       `json:"strength"`
	Aggression        float64       `json:"aggression"`
	Origin            string        `json:"origin"`
	TargetID          string        `json:"target_id,omitempty"`
	TargetZone        sector.ZoneID `json:"target_zone,omitempty"`
	Zone              sector.ZoneID `json:"zone"`
	NextZone          sector.ZoneID `json:"next_zone,omitempty"`
	HopRemainingMs    int64         `json:"hop_remaining_ms,omitempty"`
	RaidReadyMs       int64         `json:"raid_ready_ms"`
	RaidsLeft         int           `json:"raids_left"`
	Homebound         bool          `json:"homebound,omitempty"`
}

type BossPhase string

const (
	PhaseNone          BossPhase = ""
	PhaseApproach      BossPhase = "Approach"
	PhaseDefenseScreen BossPhase = "DefenseScreen"
	PhaseEmergence     BossPhase = "BossEmergence"
	PhaseOverrun       BossPhase = "Overrun"
)

type Encounter struct {
	Active        bool      `json:"active"`
	StartMs       int64     `json:"start_ms"`
	Phase         BossPhase `json:"phase,omitempty"`
	NextOverrunMs int64     `json:"next_overrun_ms,omitempty"`
	OverrunWaves  int       `json:"overrun_waves,omitempty"`
}

type PirateBase struct {
	ID                 string        `json:"id"`
	Zone               sector.ZoneID `json:"zone"`
	Tier               int           `json:"tier"`
	Radius             int           `json:"radius"`
	BossID             string        `json:"boss_id,omitempty"`
	SpawnBudget        int           `json:"spawn_budget"`
	NextSpawnMs        int64         `json:"next_spawn_ms"`
	NextRegenMs        int64         `json:"next_regen_ms"`
	RadiusBoostUntilMs int64         `json:"radius_boost_until_ms,omitempty"`
	Cleared            bool          `json:"cleared,omitempty"`
	Encounter          Encounter     `json:"encounter"`
	LastPlayerZone     sector.ZoneID `json:"last_player_zone,omitempty"`
}

// EffectiveRadius is the influence radius including any active boost.
func (b PirateBase) EffectiveRadius(nowMs int64) int {
	if b.RadiusBoostUntilMs > nowMs {
		return b.Radius + 1
	}
	return b.Radius
}

type Boss struct {
	ID        string  `json:"id"`
	BaseID    string  `json:"base_id"`
	Kind      string  `json:"kind"`
	Tier      int     `json:"tier"`
	Alive     bool    `json:"alive"`
	Enraged   bool    `json:"enraged,omitempty"`
	Notoriety float64 `json:"notoriety"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"max_health"`
}

// BossKindForTier names bosses by base tier.
func BossKindForTier(tier int) string {
	switch {
	case tier >= 3:
		return "Admiral"
	case tier == 2:
		return "Matriarch"
	}
	return "Warlord"
}

type PirateState struct {
	Epoch  Epoch                  `json:"epoch"`
	Groups map[string]PirateGroup `json:"groups"`
	Bases  map[string]PirateBase  `json:"bases"`
	Bosses map[string]Boss        `json:"bosses"`
}

func NewPirateState() PirateState {
	return PirateState{
		Epoch:  EpochScavengers,
		Groups: map[string]PirateGroup{},
		Bases:  map[string]PirateBase{},
		Bosses: map[string]Boss{},
	}
}

func (p PirateState) Clone() PirateState {
	out := PirateState{
		Epoch:  p.Epoch,
		Groups: make(map[string]PirateGroup, len(p.Groups)),
		Bases:  make(map[string]PirateBase, len(p.Bases)),
		Bosses: make(map[string]Boss, len(p.Bosses)),
	}
	for k, v := range p.Groups {
		out.Groups[k] = v
	}
	for k, v := range p.Bases {
		out.Bases[k] = v
	}
	for k, v := range p.Bosses {
		out.Bosses[k] = v
	}
	return out
}

// BaseInZone returns the first uncleared base in zone z by id.
func (p PirateState) BaseInZone(z sector.ZoneID) (PirateBase, bool) {
	for _, id := range SortedKeys(p.Bases) {
		b := p.Bases[id]
		if b.Zone == z && !b.Cleared {
			return b, true
		}
	}
	return PirateBase{}, false
}

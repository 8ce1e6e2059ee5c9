package tuning

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	QueueLimit         int `yaml:"queue_limit" json:"queue_limit"`

	Fog        Fog        `yaml:"fog" json:"fog"`
	Pressure   Pressure   `yaml:"pressure" json:"pressure"`
	Stations   Stations   `yaml:"stations" json:"stations"`
	Crisis     Crisis     `yaml:"crisis" json:"crisis"`
	Pirates    Pirates    `yaml:"pirates" json:"pirates"`
	Fleets     Fleets     `yaml:"fleets" json:"fleets"`
	Build      Build      `yaml:"build" json:"build"`
	RateLimits RateLimits `yaml:"rate_limits" json:"rate_limits"`
}

// LayerValues holds one value per knowledge layer, lowest layer first.
type LayerValues struct {
	Existence float64 `yaml:"existence" json:"existence"`
	Geography float64 `yaml:"geography" json:"geography"`
	Resources float64 `yaml:"resources" json:"resources"`
	Threats   float64 `yaml:"threats" json:"threats"`
	Stability float64 `yaml:"stability" json:"stability"`
}

func (v LayerValues) At(i int) float64 {
	switch i {
	case 0:
		return v.Existence
	case 1:
		return v.Geography
	case 2:
		return v.Resources
	case 3:
		return v.Threats
	case 4:
		return v.Stability
	}
	return 0
}

type Fog struct {
	DecayPerSec        LayerValues `yaml:"decay_per_sec" json:"decay_per_sec"`
	Floors             LayerValues `yaml:"floors" json:"floors"`
	ObservedThreshold  float64     `yaml:"observed_threshold" json:"observed_threshold"`
	RefreshCooldownSec float64     `yaml:"refresh_cooldown_sec" json:"refresh_cooldown_sec"`
}

type Pressure struct {
	Max                float64 `yaml:"max" json:"max"`
	PirateDecayPerSec  float64 `yaml:"pirate_decay_per_sec" json:"pirate_decay_per_sec"`
	FactionDecayPerSec float64 `yaml:"faction_decay_per_sec" json:"faction_decay_per_sec"`
	SuppressionFactor  float64 `yaml:"suppression_factor" json:"suppression_factor"`
}

type StationKind struct {
	BuildSec     float64 `yaml:"build_sec" json:"build_sec"`
	FuelCapacity float64 `yaml:"fuel_capacity" json:"fuel_capacity"`
	BurnPerMin   float64 `yaml:"burn_per_min" json:"burn_per_min"`
	OreCapacity  float64 `yaml:"ore_capacity" json:"ore_capacity"`
}

type Stations struct {
	MiningOutpost StationKind `yaml:"mining_outpost" json:"mining_outpost"`
	FuelDepot     StationKind `yaml:"fuel_depot" json:"fuel_depot"`
	SensorStation StationKind `yaml:"sensor_station" json:"sensor_station"`

	MinOperateFuelFrac     float64 `yaml:"min_operate_fuel_frac" json:"min_operate_fuel_frac"`
	LowFuelFrac            float64 `yaml:"low_fuel_frac" json:"low_fuel_frac"`
	LowFuelSustainSec      float64 `yaml:"low_fuel_sustain_sec" json:"low_fuel_sustain_sec"`
	CriticalFuelFrac       float64 `yaml:"critical_fuel_frac" json:"critical_fuel_frac"`
	CriticalFuelSustainSec float64 `yaml:"critical_fuel_sustain_sec" json:"critical_fuel_sustain_sec"`

	EvalWindowSec     float64 `yaml:"eval_window_sec" json:"eval_window_sec"`
	RaidSpikeCount    int     `yaml:"raid_spike_count" json:"raid_spike_count"`
	RecoveryWindowSec float64 `yaml:"recovery_window_sec" json:"recovery_window_sec"`

	MaintenanceThreshold float64 `yaml:"maintenance_threshold" json:"maintenance_threshold"`
	MaintenancePerMin    float64 `yaml:"maintenance_per_min" json:"maintenance_per_min"`
	IntegrityFailBelow   float64 `yaml:"integrity_fail_below" json:"integrity_fail_below"`

	StrainedMinDwellSec float64 `yaml:"strained_min_dwell_sec" json:"strained_min_dwell_sec"`
	FailingMinDwellSec  float64 `yaml:"failing_min_dwell_sec" json:"failing_min_dwell_sec"`
	FailingTimeoutSec   float64 `yaml:"failing_timeout_sec" json:"failing_timeout_sec"`

	ExposureTauSec        float64 `yaml:"exposure_tau_sec" json:"exposure_tau_sec"`
	ExposureDamageAbove   float64 `yaml:"exposure_damage_above" json:"exposure_damage_above"`
	ExposureDamagePerMin  float64 `yaml:"exposure_damage_per_min" json:"exposure_damage_per_min"`
	EmptyFuelDamagePerMin float64 `yaml:"empty_fuel_damage_per_min" json:"empty_fuel_damage_per_min"`

	OrePerSec              float64 `yaml:"ore_per_sec" json:"ore_per_sec"`
	DepotTransferPerMin    float64 `yaml:"depot_transfer_per_min" json:"depot_transfer_per_min"`
	DepotTransferBelowFrac float64 `yaml:"depot_transfer_below_frac" json:"depot_transfer_below_frac"`
	SensorSweepSec         float64 `yaml:"sensor_sweep_sec" json:"sensor_sweep_sec"`

	StabilizeFuelFrac   float64 `yaml:"stabilize_fuel_frac" json:"stabilize_fuel_frac"`
	ReinforceIntegrity  float64 `yaml:"reinforce_integrity" json:"reinforce_integrity"`
	ReinforceDebtRelief float64 `yaml:"reinforce_debt_relief" json:"reinforce_debt_relief"`
	VerbCooldownSec     float64 `yaml:"verb_cooldown_sec" json:"verb_cooldown_sec"`
	ReclaimFuelFrac     float64 `yaml:"reclaim_fuel_frac" json:"reclaim_fuel_frac"`
}

type Crisis struct {
	StrainedCascadePerSec float64 `yaml:"strained_cascade_per_sec" json:"strained_cascade_per_sec"`
	FailingCascadePerSec  float64 `yaml:"failing_cascade_per_sec" json:"failing_cascade_per_sec"`
	CascadeFalloff        float64 `yaml:"cascade_falloff" json:"cascade_falloff"`
	CascadeMaxHops        int     `yaml:"cascade_max_hops" json:"cascade_max_hops"`
	FactionShare          float64 `yaml:"faction_share" json:"faction_share"`
	TransformPressure     float64 `yaml:"transform_pressure" json:"transform_pressure"`
}

// EpochValues holds one value per pirate epoch.
type EpochValues struct {
	Scavengers   float64 `yaml:"scavengers" json:"scavengers"`
	Raiders      float64 `yaml:"raiders" json:"raiders"`
	Syndicates   float64 `yaml:"syndicates" json:"syndicates"`
	PiratePowers float64 `yaml:"pirate_powers" json:"pirate_powers"`
}

func (v EpochValues) At(i int) float64 {
	switch i {
	case 0:
		return v.Scavengers
	case 1:
		return v.Raiders
	case 2:
		return v.Syndicates
	}
	return v.PiratePowers
}

type Pirates struct {
	EpochStartMin    EpochValues `yaml:"epoch_start_min" json:"epoch_start_min"`
	SpawnIntervalSec EpochValues `yaml:"spawn_interval_sec" json:"spawn_interval_sec"`
	EpochStrength    EpochValues `yaml:"epoch_strength" json:"epoch_strength"`
	TierStepMin      float64     `yaml:"tier_step_min" json:"tier_step_min"`
	MaxTier          int         `yaml:"max_tier" json:"max_tier"`
	BudgetRegenSec   float64     `yaml:"budget_regen_sec" json:"budget_regen_sec"`
	MinTargetScore   float64     `yaml:"min_target_score" json:"min_target_score"`
	SpeedUnitsPerSec float64     `yaml:"speed_units_per_sec" json:"speed_units_per_sec"`

	RaidIntervalSec     float64 `yaml:"raid_interval_sec" json:"raid_interval_sec"`
	RaidsPerGroup       int     `yaml:"raids_per_group" json:"raids_per_group"`
	RaidDamageFactor    float64 `yaml:"raid_damage_factor" json:"raid_damage_factor"`
	RaidPressureFactor  float64 `yaml:"raid_pressure_factor" json:"raid_pressure_factor"`
	EscortDamageFactor  float64 `yaml:"escort_damage_factor" json:"escort_damage_factor"`
	GroupPressurePerSec float64 `yaml:"group_pressure_per_sec" json:"group_pressure_per_sec"`
	BaseAuraPerSec      float64 `yaml:"base_aura_per_sec" json:"base_aura_per_sec"`

	ApproachSec          float64 `yaml:"approach_sec" json:"approach_sec"`
	DefenseSec           float64 `yaml:"defense_sec" json:"defense_sec"`
	EmergenceSec         float64 `yaml:"emergence_sec" json:"emergence_sec"`
	ApproachHarassPerSec float64 `yaml:"approach_harass_per_sec" json:"approach_harass_per_sec"`
	WavePressureFactor   float64 `yaml:"wave_pressure_factor" json:"wave_pressure_factor"`

	WaveAIntervalSec        float64 `yaml:"wave_a_interval_sec" json:"wave_a_interval_sec"`
	WaveAStrength           float64 `yaml:"wave_a_strength" json:"wave_a_strength"`
	WaveBIntervalSec        float64 `yaml:"wave_b_interval_sec" json:"wave_b_interval_sec"`
	WaveBStrength           float64 `yaml:"wave_b_strength" json:"wave_b_strength"`
	OverrunFirstIntervalSec float64 `yaml:"overrun_first_interval_sec" json:"overrun_first_interval_sec"`
	OverrunIntervalStepSec  float64 `yaml:"overrun_interval_step_sec" json:"overrun_interval_step_sec"`
	OverrunMinIntervalSec   float64 `yaml:"overrun_min_interval_sec" json:"overrun_min_interval_sec"`
	OverrunStrength         float64 `yaml:"overrun_strength" json:"overrun_strength"`
	OverrunStrengthStep     float64 `yaml:"overrun_strength_step" json:"overrun_strength_step"`

	NotorietyPerSetback     float64 `yaml:"notoriety_per_setback" json:"notoriety_per_setback"`
	RadiusBoostBaseSec      float64 `yaml:"radius_boost_base_sec" json:"radius_boost_base_sec"`
	RadiusBoostNotorietySec float64 `yaml:"radius_boost_notoriety_sec" json:"radius_boost_notoriety_sec"`
	AggressionWindowSec     float64 `yaml:"aggression_window_sec" json:"aggression_window_sec"`
	EnrageNotoriety         float64 `yaml:"enrage_notoriety" json:"enrage_notoriety"`
	EnrageStrengthMult      float64 `yaml:"enrage_strength_mult" json:"enrage_strength_mult"`
	BossHealthPerTier       float64 `yaml:"boss_health_per_tier" json:"boss_health_per_tier"`

	DefeatDisplaceFrac     float64 `yaml:"defeat_displace_frac" json:"defeat_displace_frac"`
	DefeatRedistributeFrac float64 `yaml:"defeat_redistribute_frac" json:"defeat_redistribute_frac"`
	DefeatSuppressSec      float64 `yaml:"defeat_suppress_sec" json:"defeat_suppress_sec"`
}

type Weights struct {
	Safety float64 `yaml:"safety" json:"safety"`
	Speed  float64 `yaml:"speed" json:"speed"`
	Yield  float64 `yaml:"yield" json:"yield"`
}

type FleetRole struct {
	FuelCapacity     float64 `yaml:"fuel_capacity" json:"fuel_capacity"`
	BurnPerMin       float64 `yaml:"burn_per_min" json:"burn_per_min"`
	SpeedUnitsPerSec float64 `yaml:"speed_units_per_sec" json:"speed_units_per_sec"`
	Hull             float64 `yaml:"hull" json:"hull"`
	Weights          Weights `yaml:"weights" json:"weights"`
}

type Fleets struct {
	Scout    FleetRole `yaml:"scout" json:"scout"`
	Mining   FleetRole `yaml:"mining" json:"mining"`
	Security FleetRole `yaml:"security" json:"security"`

	RefuelPerSec        float64 `yaml:"refuel_per_sec" json:"refuel_per_sec"`
	RepairPerSec        float64 `yaml:"repair_per_sec" json:"repair_per_sec"`
	DamagedHullFrac     float64 `yaml:"damaged_hull_frac" json:"damaged_hull_frac"`
	DamagePressureAbove float64 `yaml:"damage_pressure_above" json:"damage_pressure_above"`
	HullLossPerSec      float64 `yaml:"hull_loss_per_sec" json:"hull_loss_per_sec"`
	GroupHullLossFactor float64 `yaml:"group_hull_loss_factor" json:"group_hull_loss_factor"`
	DisabledAbandonSec  float64 `yaml:"disabled_abandon_sec" json:"disabled_abandon_sec"`
	AwarenessConfidence float64 `yaml:"awareness_confidence" json:"awareness_confidence"`

	SurveyStepSec             float64 `yaml:"survey_step_sec" json:"survey_step_sec"`
	MinePerSec                float64 `yaml:"mine_per_sec" json:"mine_per_sec"`
	CargoOre                  float64 `yaml:"cargo_ore" json:"cargo_ore"`
	CargoFuel                 float64 `yaml:"cargo_fuel" json:"cargo_fuel"`
	OreFieldCapacity          float64 `yaml:"ore_field_capacity" json:"ore_field_capacity"`
	SecurityGroupDamagePerSec float64 `yaml:"security_group_damage_per_sec" json:"security_group_damage_per_sec"`
	AssaultBossDamagePerSec   float64 `yaml:"assault_boss_damage_per_sec" json:"assault_boss_damage_per_sec"`
	PatrolReliefPerSec        float64 `yaml:"patrol_relief_per_sec" json:"patrol_relief_per_sec"`
	SupportRequestCooldownSec float64 `yaml:"support_request_cooldown_sec" json:"support_request_cooldown_sec"`
}

// Build holds the ore price of player construction and the shipyard time
// of a new fleet.
type Build struct {
	StationOre    float64 `yaml:"station_ore" json:"station_ore"`
	FleetOre      float64 `yaml:"fleet_ore" json:"fleet_ore"`
	ReclaimOre    float64 `yaml:"reclaim_ore" json:"reclaim_ore"`
	FleetBuildSec float64 `yaml:"fleet_build_sec" json:"fleet_build_sec"`
}

type RateLimits struct {
	CommandsPerSec float64 `yaml:"commands_per_sec" json:"commands_per_sec"`
	Burst          int     `yaml:"burst" json:"burst"`
}

// Defaults mirrors configs/tuning.yaml. Load starts from these values so a
// partial file only overrides what it names.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         10,
		SnapshotEveryTicks: 3000,
		QueueLimit:         4096,
		Fog: Fog{
			DecayPerSec:        LayerValues{Existence: 0.005, Geography: 0.010, Resources: 0.015, Threats: 0.020, Stability: 0.025},
			Floors:             LayerValues{Existence: 0.25, Geography: 0.20, Resources: 0.15, Threats: 0.12, Stability: 0.10},
			ObservedThreshold:  0.5,
			RefreshCooldownSec: 10,
		},
		Pressure: Pressure{
			Max:                100,
			PirateDecayPerSec:  0.02,
			FactionDecayPerSec: 0.01,
			SuppressionFactor:  0.25,
		},
		Stations: Stations{
			MiningOutpost: StationKind{BuildSec: 180, FuelCapacity: 30, BurnPerMin: 0.6, OreCapacity: 80},
			FuelDepot:     StationKind{BuildSec: 135, FuelCapacity: 120, BurnPerMin: 0.3},
			SensorStation: StationKind{BuildSec: 90, FuelCapacity: 40, BurnPerMin: 0.45},

			MinOperateFuelFrac:     0.10,
			LowFuelFrac:            0.25,
			LowFuelSustainSec:      60,
			CriticalFuelFrac:       0.10,
			CriticalFuelSustainSec: 120,

			EvalWindowSec:     10,
			RaidSpikeCount:    3,
			RecoveryWindowSec: 30,

			MaintenanceThreshold: 60,
			MaintenancePerMin:    0.5,
			IntegrityFailBelow:   25,

			StrainedMinDwellSec: 15,
			FailingMinDwellSec:  15,
			FailingTimeoutSec:   180,

			ExposureTauSec:        30,
			ExposureDamageAbove:   50,
			ExposureDamagePerMin:  1.0,
			EmptyFuelDamagePerMin: 2.0,

			OrePerSec:              0.1,
			DepotTransferPerMin:    3.0,
			DepotTransferBelowFrac: 0.5,
			SensorSweepSec:         30,

			StabilizeFuelFrac:   0.25,
			ReinforceIntegrity:  20,
			ReinforceDebtRelief: 15,
			VerbCooldownSec:     60,
			ReclaimFuelFrac:     0.5,
		},
		Crisis: Crisis{
			StrainedCascadePerSec: 0.05,
			FailingCascadePerSec:  0.12,
			CascadeFalloff:        0.4,
			CascadeMaxHops:        2,
			FactionShare:          0.5,
			TransformPressure:     60,
		},
		Pirates: Pirates{
			EpochStartMin:    EpochValues{Scavengers: 0, Raiders: 15, Syndicates: 40, PiratePowers: 80},
			SpawnIntervalSec: EpochValues{Scavengers: 120, Raiders: 90, Syndicates: 60, PiratePowers: 45},
			EpochStrength:    EpochValues{Scavengers: 10, Raiders: 18, Syndicates: 28, PiratePowers: 40},
			TierStepMin:      10,
			MaxTier:          10,
			BudgetRegenSec:   180,
			MinTargetScore:   0.1,
			SpeedUnitsPerSec: 60,

			RaidIntervalSec:     20,
			RaidsPerGroup:       3,
			RaidDamageFactor:    0.2,
			RaidPressureFactor:  0.1,
			EscortDamageFactor:  0.5,
			GroupPressurePerSec: 0.02,
			BaseAuraPerSec:      0.03,

			ApproachSec:          30,
			DefenseSec:           120,
			EmergenceSec:         180,
			ApproachHarassPerSec: 0.02,
			WavePressureFactor:   0.2,

			WaveAIntervalSec:        20,
			WaveAStrength:           25,
			WaveBIntervalSec:        45,
			WaveBStrength:           60,
			OverrunFirstIntervalSec: 40,
			OverrunIntervalStepSec:  5,
			OverrunMinIntervalSec:   10,
			OverrunStrength:         60,
			OverrunStrengthStep:     15,

			NotorietyPerSetback:     10,
			RadiusBoostBaseSec:      300,
			RadiusBoostNotorietySec: 300,
			AggressionWindowSec:     180,
			EnrageNotoriety:         50,
			EnrageStrengthMult:      1.25,
			BossHealthPerTier:       100,

			DefeatDisplaceFrac:     0.8,
			DefeatRedistributeFrac: 0.5,
			DefeatSuppressSec:      600,
		},
		Fleets: Fleets{
			Scout:    FleetRole{FuelCapacity: 30, BurnPerMin: 1.0, SpeedUnitsPerSec: 80, Hull: 60, Weights: Weights{Safety: 0.5, Speed: 0.3, Yield: 0.2}},
			Mining:   FleetRole{FuelCapacity: 45, BurnPerMin: 1.5, SpeedUnitsPerSec: 50, Hull: 100, Weights: Weights{Safety: 0.4, Speed: 0.2, Yield: 0.4}},
			Security: FleetRole{FuelCapacity: 45, BurnPerMin: 1.5, SpeedUnitsPerSec: 65, Hull: 150, Weights: Weights{Safety: 0.3, Speed: 0.4, Yield: 0.3}},

			RefuelPerSec:        0.5,
			RepairPerSec:        2,
			DamagedHullFrac:     0.5,
			DamagePressureAbove: 60,
			HullLossPerSec:      1.0,
			GroupHullLossFactor: 0.01,
			DisabledAbandonSec:  120,
			AwarenessConfidence: 0.5,

			SurveyStepSec:             12,
			MinePerSec:                0.2,
			CargoOre:                  20,
			CargoFuel:                 20,
			OreFieldCapacity:          150,
			SecurityGroupDamagePerSec: 3,
			AssaultBossDamagePerSec:   1.5,
			PatrolReliefPerSec:        0.05,
			SupportRequestCooldownSec: 30,
		},
		Build:      Build{StationOre: 20, FleetOre: 30, ReclaimOre: 10, FleetBuildSec: 120},
		RateLimits: RateLimits{CommandsPerSec: 10, Burst: 20},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || 1000%t.TickRateHz != 0 {
		return fmt.Errorf("tick_rate_hz must divide 1000, got %d", t.TickRateHz)
	}
	if t.QueueLimit <= 0 {
		return fmt.Errorf("queue_limit must be > 0")
	}
	for i := 0; i < 5; i++ {
		f := t.Fog.Floors.At(i)
		if f < 0 || f > 1 {
			return fmt.Errorf("fog floor %d out of range: %v", i, f)
		}
		if t.Fog.DecayPerSec.At(i) < 0 {
			return fmt.Errorf("fog decay %d negative", i)
		}
	}
	if t.Pressure.Max <= 0 {
		return fmt.Errorf("pressure.max must be > 0")
	}
	for name, k := range map[string]StationKind{
		"mining_outpost": t.Stations.MiningOutpost,
		"fuel_depot":     t.Stations.FuelDepot,
		"sensor_station": t.Stations.SensorStation,
	} {
		if k.FuelCapacity <= 0 {
			return fmt.Errorf("stations.%s.fuel_capacity must be > 0", name)
		}
	}
	for name, r := range map[string]FleetRole{
		"scout":    t.Fleets.Scout,
		"mining":   t.Fleets.Mining,
		"security": t.Fleets.Security,
	} {
		if r.FuelCapacity <= 0 || r.SpeedUnitsPerSec <= 0 || r.Hull <= 0 {
			return fmt.Errorf("fleets.%s: capacity, speed and hull must be > 0", name)
		}
	}
	if t.Fleets.OreFieldCapacity <= 0 {
		return fmt.Errorf("fleets.ore_field_capacity must be > 0")
	}
	if t.Build.FleetBuildSec < 0 {
		return fmt.Errorf("build.fleet_build_sec must be >= 0")
	}
	if t.Pirates.WaveAIntervalSec <= 0 || t.Pirates.WaveBIntervalSec <= 0 || t.Pirates.OverrunMinIntervalSec <= 0 {
		return fmt.Errorf("pirates: wave intervals must be > 0")
	}
	return nil
}

// TickMs is the simulated duration of one tick.
func (t Tuning) TickMs() int64 { return int64(1000 / t.TickRateHz) }

// Ms converts tuning seconds to simulated milliseconds.
func Ms(sec float64) int64 { return int64(math.Round(sec * 1000)) }

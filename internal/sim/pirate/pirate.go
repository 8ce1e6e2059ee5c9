package pirate

import (
	"fmt"
	"math"

	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/pressure"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
	"github.com/larksoftware/xstaradventures/internal/sim/tuning"
)

type Input struct {
	Pirates   model.PirateState
	Stations  map[string]model.Station
	Fleets    map[string]model.Fleet
	Pressure  *pressure.Field
	Sector    *sector.Sector
	Player    model.Player
	NextGroup uint64
}

type Result struct {
	Pirates    model.PirateState
	Deltas     []pressure.Delta
	Raids      []model.Raid
	Spawned    []model.PirateGroup
	Terminal   []model.TerminalEvent
	Problems   []model.Problem
	Violations []model.Violation
	NextGroup  uint64
}

type Engine struct {
	cfg tuning.Pirates
}

func NewEngine(cfg tuning.Pirates) *Engine { return &Engine{cfg: cfg} }

// EpochAt returns the epoch index reached by nowMs.
func (e *Engine) EpochAt(nowMs int64) int {
	idx := 0
	for i := range model.Epochs {
		if nowMs >= tuning.Ms(e.cfg.EpochStartMin.At(i)*60) {
			idx = i
		}
	}
	return idx
}

// Tier is the group strength tier at nowMs. It only grows with run time.
func (e *Engine) Tier(nowMs int64) int {
	step := tuning.Ms(e.cfg.TierStepMin * 60)
	t := 1
	if step > 0 {
		t += int(nowMs / step)
	}
	if e.cfg.MaxTier > 0 && t > e.cfg.MaxTier {
		t = e.cfg.MaxTier
	}
	return t
}

// NewBase builds a base and its boss. The caller owns id allocation.
func (e *Engine) NewBase(baseID, bossID string, zone sector.ZoneID, tier, radius int, nowMs int64) (model.PirateBase, model.Boss) {
	if tier < 1 {
		tier = 1
	}
	if radius < 1 {
		radius = 1
	}
	hp := e.cfg.BossHealthPerTier * float64(tier)
	b := model.PirateBase{
		ID:          baseID,
		Zone:        zone,
		Tier:        tier,
		Radius:      radius,
		BossID:      bossID,
		SpawnBudget: spawnBudgetCap(tier),
		NextSpawnMs: nowMs + tuning.Ms(e.cfg.SpawnIntervalSec.At(0)),
		NextRegenMs: nowMs + tuning.Ms(e.cfg.BudgetRegenSec),
	}
	k := model.Boss{
		ID:        bossID,
		BaseID:    baseID,
		Kind:      model.BossKindForTier(tier),
		Tier:      tier,
		Alive:     true,
		Health:    hp,
		MaxHealth: hp,
	}
	return b, k
}

// spawnBudgetCap bounds the raid budget a base of the given tier can hold.
func spawnBudgetCap(tier int) int { return 2 + tier }

func (e *Engine) Step(ctx model.TickContext, in Input) Result {
	st := in.Pirates.Clone()
	res := Result{NextGroup: in.NextGroup}

	idx := e.EpochAt(ctx.NowMs)
	if prev := model.EpochIndex(st.Epoch); idx < prev {
		idx = prev
	}
	if ep := model.Epochs[idx]; ep != st.Epoch {
		res.Problems = append(res.Problems, model.Problem{
			Tick: ctx.Tick, Source: "pirate",
			Text: fmt.Sprintf("pirate epoch advanced: %s -> %s", st.Epoch, ep),
		})
		st.Epoch = ep
	}
	tier := e.Tier(ctx.NowMs)

	for _, id := range model.SortedKeys(st.Bases) {
		e.stepBase(ctx, in, &st, id, idx, tier, &res)
	}
	e.moveGroups(ctx, in, &st, &res)

	for _, id := range model.SortedKeys(st.Bosses) {
		k := st.Bosses[id]
		k.Notoriety = model.ClampChecked(&res.Violations, "pirate", k.ID, "notoriety", k.Notoriety, 0, 100)
		k.Health = model.ClampChecked(&res.Violations, "pirate", k.ID, "health", k.Health, 0, k.MaxHealth)
		st.Bosses[id] = k
	}
	res.Pirates = st
	return res
}

func (e *Engine) stepBase(ctx model.TickContext, in Input, st *model.PirateState, id string, epochIdx, tier int, res *Result) {
	b := st.Bases[id]
	if b.Cleared {
		return
	}
	boss, hasBoss := st.Bosses[b.BossID]
	alive := hasBoss && boss.Alive

	if alive && boss.Health <= 0 {
		e.defeat(ctx, in, st, &b, &boss, res)
		st.Bases[id] = b
		st.Bosses[boss.ID] = boss
		return
	}

	res.Deltas = append(res.Deltas, pressure.Delta{
		Zone: b.Zone, Pirate: e.cfg.BaseAuraPerSec * float64(b.Tier) * ctx.Dt(), Source: "aura:" + b.ID,
	})

	if ctx.NowMs >= b.NextRegenMs {
		if b.SpawnBudget < spawnBudgetCap(b.Tier) {
			b.SpawnBudget++
		}
		b.NextRegenMs = ctx.NowMs + tuning.Ms(e.cfg.BudgetRegenSec)
	}

	if ctx.NowMs >= b.NextSpawnMs {
		b.NextSpawnMs = ctx.NowMs + tuning.Ms(e.cfg.SpawnIntervalSec.At(epochIdx))
		if b.SpawnBudget > 0 {
			doc := doctrineFor(epochIdx, res.NextGroup)
			if c, ok := e.SelectTarget(in, b.Zone, doc, ctx.NowMs); ok {
				g := e.newGroup(ctx, res, b, groupKinds[epochIdx], doc, e.raidStrength(epochIdx, tier, boss))
				g.TargetID = c.ID
				g.TargetZone = c.Zone
				st.Groups[g.ID] = g
				res.Spawned = append(res.Spawned, g)
				b.SpawnBudget--
			}
		}
	}

	if alive {
		e.encounter(ctx, in, st, &b, &boss, res)
		if boss.Notoriety >= e.cfg.EnrageNotoriety || b.Encounter.Phase == model.PhaseOverrun {
			boss.Enraged = true
		}
		st.Bosses[boss.ID] = boss
	}
	st.Bases[id] = b
}

func (e *Engine) raidStrength(epochIdx, tier int, boss model.Boss) float64 {
	s := e.cfg.EpochStrength.At(epochIdx) * (1 + 0.1*float64(tier-1))
	if boss.Enraged {
		s *= e.cfg.EnrageStrengthMult
	}
	return s
}

func (e *Engine) newGroup(ctx model.TickContext, res *Result, b model.PirateBase, kind model.GroupKind, doc model.Doctrine, strength float64) model.PirateGroup {
	res.NextGroup++
	return model.PirateGroup{
		ID:           model.FormatID("G", res.NextGroup),
		Kind:         kind,
		Doctrine:     doc,
		BaseDoctrine: doc,
		Tier:         e.Tier(ctx.NowMs),
		Strength:     strength,
		Aggression:   profileFor(doc).Aggression,
		Origin:       b.ID,
		Zone:         b.Zone,
		RaidReadyMs:  ctx.NowMs,
		RaidsLeft:    e.cfg.RaidsPerGroup,
	}
}

// Spawn builds a group outside the base cycle, as the debug spawn command
// does. strength <= 0 uses the raid strength for the current epoch and tier.
func (e *Engine) Spawn(id string, kind model.GroupKind, zone sector.ZoneID, strength float64, seq uint64, nowMs int64) model.PirateGroup {
	idx := e.EpochAt(nowMs)
	tier := e.Tier(nowMs)
	if strength <= 0 {
		strength = e.raidStrength(idx, tier, model.Boss{})
	}
	doc := doctrineFor(idx, seq)
	return model.PirateGroup{
		ID:           id,
		Kind:         kind,
		Doctrine:     doc,
		BaseDoctrine: doc,
		Tier:         tier,
		Strength:     strength,
		Aggression:   profileFor(doc).Aggression,
		Origin:       "debug",
		Zone:         zone,
		TargetZone:   zone,
		RaidReadyMs:  nowMs,
		RaidsLeft:    e.cfg.RaidsPerGroup,
	}
}

// SelectTarget scores every live station and route reachable from the base
// zone and returns the best one above the threshold. Ties go to the lowest id.
func (e *Engine) SelectTarget(in Input, from sector.ZoneID, doc model.Doctrine, nowMs int64) (Candidate, bool) {
	p := profileFor(doc)
	hops := in.Sector.Hops(from)
	var best Candidate
	found := false
	consider := func(c Candidate) {
		if c.Score < e.cfg.MinTargetScore {
			return
		}
		if !found || c.Score > best.Score || (c.Score == best.Score && c.ID < best.ID) {
			best, found = c, true
		}
	}

	for _, id := range model.SortedKeys(in.Stations) {
		s := in.Stations[id]
		h, ok := hops[s.Zone]
		if !ok || !s.Live() || s.State == model.Deploying {
			continue
		}
		t := terms{
			value:       stationValue[s.Kind],
			exposure:    float64(h) / 10,
			opportunity: 1 - s.Integrity/100,
		}
		switch s.State {
		case model.Strained:
			t.opportunity += 0.2
		case model.Failing:
			t.opportunity += 0.4
		}
		if s.Escorted(nowMs) {
			t.retaliation += 0.5
		}
		if in.Player.Zone == s.Zone {
			t.retaliation += 0.3
		}
		consider(Candidate{ID: s.ID, Zone: s.Zone, Score: round6(t.score(p, false))})
	}

	for _, r := range in.Sector.Routes() {
		ha, okA := hops[r.From]
		hb, okB := hops[r.To]
		if !okA || !okB {
			continue
		}
		z, h := r.From, ha
		if hb < ha || (hb == ha && r.To < r.From) {
			z, h = r.To, hb
		}
		t := terms{
			value:       0.2 + 0.3*float64(e.traffic(in, r)),
			exposure:    float64(h) / 10,
			opportunity: r.Risk,
		}
		for _, fid := range model.SortedKeys(in.Fleets) {
			f := in.Fleets[fid]
			if f.Role == model.RoleSecurity && (f.Zone == r.From || f.Zone == r.To) {
				t.retaliation = 0.3
				break
			}
		}
		consider(Candidate{ID: r.ID, Zone: z, Score: round6(t.score(p, true)), Route: true})
	}
	return best, found
}

// Candidate is one scored raid target.
type Candidate struct {
	ID    string
	Zone  sector.ZoneID
	Score float64
	Route bool
}

func (e *Engine) traffic(in Input, r sector.Route) int {
	n := 0
	for _, f := range in.Fleets {
		if !f.Moving() {
			continue
		}
		if (f.Zone == r.From && f.NextZone == r.To) || (f.Zone == r.To && f.NextZone == r.From) {
			n++
		}
	}
	return n
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }

// encounter runs the boss phase clock and applies retreat and failure
// setbacks. An encounter starts when the player is inside the base radius, or
// moves into the boosted one. Only moving out of range is a retreat; a boost
// expiring around a stationary player ends the encounter quietly.
func (e *Engine) encounter(ctx model.TickContext, in Input, st *model.PirateState, b *model.PirateBase, boss *model.Boss, res *Result) {
	h := in.Sector.HopDistance(b.Zone, in.Player.Zone)
	inBase := h >= 0 && h <= b.Radius
	inRange := h >= 0 && h <= b.EffectiveRadius(ctx.NowMs)
	moved := b.LastPlayerZone != 0 && b.LastPlayerZone != in.Player.Zone
	b.LastPlayerZone = in.Player.Zone

	for _, fid := range model.SortedKeys(in.Fleets) {
		f := in.Fleets[fid]
		if f.State != model.FleetDisabled || f.DisabledAtMs != ctx.PrevMs() {
			continue
		}
		if h := in.Sector.HopDistance(b.Zone, f.Zone); h >= 0 && h <= b.EffectiveRadius(ctx.NowMs) {
			e.setback(ctx, in.Sector, st, b, boss, "fleet "+f.ID+" lost", res)
			break
		}
	}

	enc := &b.Encounter
	switch {
	case !enc.Active && (inBase || (moved && inRange)):
		*enc = model.Encounter{Active: true, StartMs: ctx.PrevMs(), Phase: model.PhaseApproach}
		res.Problems = append(res.Problems, model.Problem{
			Tick: ctx.Tick, Source: "pirate", EntityID: b.ID,
			Text: fmt.Sprintf("entered influence of %s (%s, zone %d)", b.ID, boss.Kind, b.Zone),
		})
	case enc.Active && !inRange && moved:
		*enc = model.Encounter{}
		e.setback(ctx, in.Sector, st, b, boss, "player retreated", res)
		return
	case enc.Active && !inRange:
		*enc = model.Encounter{}
		res.Problems = append(res.Problems, model.Problem{
			Tick: ctx.Tick, Source: "pirate", EntityID: b.ID,
			Text: fmt.Sprintf("influence of %s receded from zone %d", b.ID, in.Player.Zone),
		})
		return
	}
	if !enc.Active {
		return
	}

	t := ctx.NowMs - enc.StartMs
	pt := t - ctx.DtMs
	approach := tuning.Ms(e.cfg.ApproachSec)
	defense := tuning.Ms(e.cfg.DefenseSec)
	emergence := tuning.Ms(e.cfg.EmergenceSec)

	switch {
	case t < approach:
		enc.Phase = model.PhaseApproach
	case t < defense:
		enc.Phase = model.PhaseDefenseScreen
	case t < emergence:
		enc.Phase = model.PhaseEmergence
	default:
		enc.Phase = model.PhaseOverrun
	}

	if t <= approach {
		res.Deltas = append(res.Deltas, pressure.Delta{
			Zone: in.Player.Zone, Pirate: e.cfg.ApproachHarassPerSec * ctx.Dt(), Source: "approach:" + b.ID,
		})
	}

	waveA := tuning.Ms(e.cfg.WaveAIntervalSec)
	if t <= defense && model.Crossed(pt, t, waveA, waveA) {
		e.wave(ctx, in, st, *b, model.GroupWaveA, model.DoctrineRaider, e.cfg.WaveAStrength, res)
	}
	if t < emergence && model.Crossed(pt, t, defense, tuning.Ms(e.cfg.WaveBIntervalSec)) {
		e.wave(ctx, in, st, *b, model.GroupWaveB, model.DoctrineTerror, e.cfg.WaveBStrength, res)
	}
	if t >= emergence {
		if enc.NextOverrunMs == 0 {
			enc.NextOverrunMs = enc.StartMs + emergence
		}
		if ctx.NowMs >= enc.NextOverrunMs {
			strength := e.cfg.OverrunStrength + e.cfg.OverrunStrengthStep*float64(enc.OverrunWaves)
			e.wave(ctx, in, st, *b, model.GroupOverrun, model.DoctrineTerror, strength, res)
			enc.OverrunWaves++
			enc.NextOverrunMs += e.OverrunInterval(enc.OverrunWaves)
		}
	}
}

// OverrunInterval is the gap after the n-th overrun wave (n >= 1).
func (e *Engine) OverrunInterval(n int) int64 {
	sec := e.cfg.OverrunFirstIntervalSec - e.cfg.OverrunIntervalStepSec*float64(n-1)
	if sec < e.cfg.OverrunMinIntervalSec {
		sec = e.cfg.OverrunMinIntervalSec
	}
	return tuning.Ms(sec)
}

func (e *Engine) wave(ctx model.TickContext, in Input, st *model.PirateState, b model.PirateBase, kind model.GroupKind, doc model.Doctrine, strength float64, res *Result) {
	g := e.newGroup(ctx, res, b, kind, doc, strength)
	g.TargetZone = in.Player.Zone
	g.RaidsLeft = 1
	st.Groups[g.ID] = g
	res.Spawned = append(res.Spawned, g)
	res.Deltas = append(res.Deltas, pressure.Delta{
		Zone: in.Player.Zone, Pirate: e.cfg.WavePressureFactor * strength, Source: "wave:" + g.ID,
	})
	res.Problems = append(res.Problems, model.Problem{
		Tick: ctx.Tick, Source: "pirate", EntityID: g.ID,
		Text: fmt.Sprintf("%s wave from %s, strength %.0f", kind, b.ID, strength),
	})
}

// setback raises notoriety, boosts the influence radius and makes nearby
// groups more aggressive for a while. It is never a terminal loss.
func (e *Engine) setback(ctx model.TickContext, sec *sector.Sector, st *model.PirateState, b *model.PirateBase, boss *model.Boss, why string, res *Result) {
	boss.Notoriety = math.Min(100, boss.Notoriety+e.cfg.NotorietyPerSetback)
	boost := e.cfg.RadiusBoostBaseSec + boss.Notoriety/100*e.cfg.RadiusBoostNotorietySec
	b.RadiusBoostUntilMs = ctx.NowMs + tuning.Ms(boost)

	radius := b.EffectiveRadius(ctx.NowMs)
	until := ctx.NowMs + tuning.Ms(e.cfg.AggressionWindowSec)
	for _, gid := range model.SortedKeys(st.Groups) {
		g := st.Groups[gid]
		h := sec.HopDistance(b.Zone, g.Zone)
		if g.Origin != b.ID && (h < 0 || h > radius) {
			continue
		}
		g.Doctrine = profileFor(g.BaseDoctrine).Escalate
		g.Aggression = profileFor(g.Doctrine).Aggression
		g.AggressiveUntilMs = until
		st.Groups[gid] = g
	}
	res.Problems = append(res.Problems, model.Problem{
		Tick: ctx.Tick, Source: "pirate", EntityID: boss.ID,
		Text: fmt.Sprintf("%s: %s notoriety %.0f, radius %d", why, boss.Kind, boss.Notoriety, radius),
	})
}

// defeat clears the base, displaces most of its zone pressure and spreads a
// share of it to neighbours.
func (e *Engine) defeat(ctx model.TickContext, in Input, st *model.PirateState, b *model.PirateBase, boss *model.Boss, res *Result) {
	boss.Alive = false
	boss.Health = 0
	b.Cleared = true
	b.Encounter = model.Encounter{}

	displaced := in.Pressure.Pirate(b.Zone) * e.cfg.DefeatDisplaceFrac
	res.Deltas = append(res.Deltas, pressure.Delta{
		Zone: b.Zone, Pirate: -displaced, SuppressForMs: tuning.Ms(e.cfg.DefeatSuppressSec), Source: "defeat:" + b.ID,
	})
	if ns := in.Sector.Neighbors(b.Zone); len(ns) > 0 {
		share := displaced * e.cfg.DefeatRedistributeFrac / float64(len(ns))
		for _, n := range ns {
			res.Deltas = append(res.Deltas, pressure.Delta{Zone: n, Pirate: share, Source: "defeat:" + b.ID})
		}
	}
	for _, gid := range model.SortedKeys(st.Groups) {
		g := st.Groups[gid]
		if g.Origin == b.ID {
			g.Homebound = true
			st.Groups[gid] = g
		}
	}
	res.Terminal = append(res.Terminal, model.TerminalEvent{
		Kind: model.TerminalBase, EntityID: b.ID, Zone: b.Zone, Reason: boss.Kind + " defeated",
	})
	res.Problems = append(res.Problems, model.Problem{
		Tick: ctx.Tick, Source: "pirate", EntityID: b.ID,
		Text: fmt.Sprintf("%s defeated, base %s cleared", boss.Kind, b.ID),
	})
}

// moveGroups advances every group along its hop, raids targets and drops
// routed or returned groups.
func (e *Engine) moveGroups(ctx model.TickContext, in Input, st *model.PirateState, res *Result) {
	for _, gid := range model.SortedKeys(st.Groups) {
		g := st.Groups[gid]
		if g.Strength <= 0 {
			delete(st.Groups, gid)
			res.Problems = append(res.Problems, model.Problem{
				Tick: ctx.Tick, Source: "pirate", EntityID: gid, Text: fmt.Sprintf("%s group %s routed", g.Kind, gid),
			})
			continue
		}
		if g.AggressiveUntilMs > 0 && ctx.NowMs >= g.AggressiveUntilMs {
			g.Doctrine = g.BaseDoctrine
			g.Aggression = profileFor(g.Doctrine).Aggression
			g.AggressiveUntilMs = 0
		}
		if g.TargetID != "" && !g.Homebound {
			if s, ok := in.Stations[g.TargetID]; ok && !s.Live() {
				g.Homebound = true
			}
		}

		home := g.Zone
		if b, ok := st.Bases[g.Origin]; ok {
			home = b.Zone
		}
		dest := g.TargetZone
		if g.Homebound {
			dest = home
		}

		if g.NextZone != 0 {
			g.HopRemainingMs -= ctx.DtMs
			if g.HopRemainingMs <= 0 {
				g.Zone = g.NextZone
				g.NextZone = 0
				g.HopRemainingMs = 0
			}
		} else if g.Zone != dest {
			if p, ok := in.Sector.ShortestPath(g.Zone, dest, nil); ok && len(p.Zones) > 1 {
				r, _ := in.Sector.Route(p.Routes[0])
				g.NextZone = p.Zones[1]
				g.HopRemainingMs = tuning.Ms(r.Distance / e.cfg.SpeedUnitsPerSec)
			} else {
				g.Homebound = true
			}
		}

		res.Deltas = append(res.Deltas, pressure.Delta{
			Zone: g.Zone, Pirate: e.cfg.GroupPressurePerSec * g.Strength * ctx.Dt(), Source: "group:" + g.ID,
		})

		switch {
		case g.Homebound && g.Zone == home && g.NextZone == 0:
			delete(st.Groups, gid)
			continue
		case !g.Homebound && g.Zone == dest && g.NextZone == 0 && ctx.NowMs >= g.RaidReadyMs:
			e.raid(ctx, in, &g, res)
		}
		st.Groups[gid] = g
	}
}

func (e *Engine) raid(ctx model.TickContext, in Input, g *model.PirateGroup, res *Result) {
	if s, ok := in.Stations[g.TargetID]; ok && s.Live() {
		dmg := e.cfg.RaidDamageFactor * g.Strength
		if s.Escorted(ctx.NowMs) {
			dmg *= e.cfg.EscortDamageFactor
		}
		res.Raids = append(res.Raids, model.Raid{StationID: s.ID, GroupID: g.ID, Damage: dmg})
	}
	res.Deltas = append(res.Deltas, pressure.Delta{
		Zone: g.Zone, Pirate: e.cfg.RaidPressureFactor * g.Strength, Source: "raid:" + g.ID,
	})
	g.RaidReadyMs = ctx.NowMs + tuning.Ms(e.cfg.RaidIntervalSec)
	g.RaidsLeft--
	if g.RaidsLeft <= 0 {
		g.Homebound = true
	}
}

// ApplyBossDamage is committed after the fleet stage. Defeat is resolved on
// the next pirate step.
func ApplyBossDamage(st *model.PirateState, d model.BossDamage) {
	b, ok := st.Bases[d.BaseID]
	if !ok || b.Cleared {
		return
	}
	k, ok := st.Bosses[b.BossID]
	if !ok || !k.Alive {
		return
	}
	k.Health = math.Max(0, k.Health-d.Amount)
	st.Bosses[k.ID] = k
}

// ApplyGroupDamage wears down groups in the zone, lowest id first.
func ApplyGroupDamage(st *model.PirateState, d model.GroupDamage) {
	left := d.Amount
	for _, gid := range model.SortedKeys(st.Groups) {
		if left <= 0 {
			return
		}
		g := st.Groups[gid]
		if g.Zone != d.Zone || g.Strength <= 0 {
			continue
		}
		take := math.Min(left, g.Strength)
		g.Strength -= take
		left -= take
		st.Groups[gid] = g
	}
}

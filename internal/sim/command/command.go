// Package command validates player and debug commands and queues them for
// the next tick boundary.
package command

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/larksoftware/xstaradventures/internal/protocol"
	"github.com/larksoftware/xstaradventures/internal/sim/model"
	"github.com/larksoftware/xstaradventures/internal/sim/sector"
)

type Type string

const (
	ChangeIntent       Type = "ChangeIntent"
	SetRiskTolerance   Type = "SetRiskTolerance"
	SetPriorityWeights Type = "SetPriorityWeights"
	AssignEscort       Type = "AssignEscort"
	SetAutonomyTier    Type = "SetAutonomyTier"
	StationVerb        Type = "StationVerb"
	RefreshKnowledge   Type = "RefreshKnowledge"
	DebugSpawn         Type = "DebugSpawn"
	DebugReveal        Type = "DebugReveal"

	BuildStation            Type = "BuildStation"
	BuildFleet              Type = "BuildFleet"
	MovePlayer              Type = "MovePlayer"
	ReclaimStation          Type = "ReclaimStation"
	DebugRandomizeModifiers Type = "DebugRandomizeModifiers"
	DebugDefeatBoss         Type = "DebugDefeatBoss"
)

// TaskHold clears a fleet's intent.
const TaskHold = "Hold"

// IsDebug reports whether t is only accepted with debug commands enabled.
func (t Type) IsDebug() bool {
	switch t {
	case DebugSpawn, DebugReveal, DebugRandomizeModifiers, DebugDefeatBoss:
		return true
	}
	return false
}

// Command is the flat wire form of every command. Fields not used by a type
// must be left empty.
type Command struct {
	Type      Type           `json:"type"`
	Seq       uint64         `json:"seq,omitempty"`
	FleetID   string         `json:"fleet_id,omitempty"`
	StationID string         `json:"station_id,omitempty"`
	TargetID  string         `json:"target_id,omitempty"`
	Zone      sector.ZoneID  `json:"zone,omitempty"`
	Task      string         `json:"task,omitempty"`
	Risk      string         `json:"risk_tolerance,omitempty"`
	Autonomy  string         `json:"autonomy,omitempty"`
	Weights   *model.Weights `json:"weights,omitempty"`
	Verb      string         `json:"verb,omitempty"`
	Layer     *int           `json:"layer,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Role      string         `json:"role,omitempty"`
	Strength  float64        `json:"strength,omitempty"`
	Seed      int64          `json:"seed,omitempty"`
}

func (c Command) String() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// Rejection is returned for a refused command. The world is never changed by
// a rejected command.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Reason }

func reject(code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err to a Rejection, mapping anything else to
// E_INTERNAL.
func AsRejection(err error) *Rejection {
	if err == nil {
		return nil
	}
	var r *Rejection
	if errors.As(err, &r) {
		return r
	}
	return &Rejection{Code: protocol.ErrInternal, Reason: err.Error()}
}

//go:embed command.schema.json
var schemaJSON []byte

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("command.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("command.schema.json")
}

// Decode parses raw JSON and checks it against the command schema.
func (v *Validator) Decode(raw []byte) (Command, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Command{}, reject(protocol.ErrBadRequest, "invalid json: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return Command{}, reject(protocol.ErrBadRequest, "%v", err)
	}
	var c Command
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Command{}, reject(protocol.ErrBadRequest, "decode: %v", err)
	}
	return c, nil
}

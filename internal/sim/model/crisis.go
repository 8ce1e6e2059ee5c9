package model

import "github.com/larksoftware/xstaradventures/internal/sim/sector"

type CrisisType string

const (
	FuelShortage      CrisisType = "FuelShortage"
	PirateHarassment  CrisisType = "PirateHarassment"
	StructuralFailure CrisisType = "StructuralFailure"
)

type CrisisStage string

const (
	StageStable   CrisisStage = "Stable"
	StageStrained CrisisStage = "Strained"
	StageFailing  CrisisStage = "Failing"
	StageResolved CrisisStage = "Resolved"
)

// StageRank orders stages by severity; Resolved ranks below Stable.
func StageRank(s CrisisStage) int {
	switch s {
	case StageStable:
		return 1
	case StageStrained:
		return 2
	case StageFailing:
		return 3
	}
	return 0
}

type Crisis struct {
	ID           string        `json:"id"`
	Type         CrisisType    `json:"type"`
	Stage        CrisisStage   `json:"stage"`
	StationID    string        `json:"station_id"`
	Zone         sector.ZoneID `json:"zone"`
	OpenedMs     int64         `json:"opened_ms"`
	StageSinceMs int64         `json:"stage_since_ms"`
	Affected     []string      `json:"affected,omitempty"`
	Outcome      Outcome       `json:"outcome,omitempty"`
	ClosedMs     int64         `json:"closed_ms,omitempty"`
}

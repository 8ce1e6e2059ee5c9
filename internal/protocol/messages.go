package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Frames asks the server to push a FRAME after every committed tick.
	Frames bool `json:"frames,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Tick            uint64 `json:"tick"`
	TickMs          int64  `json:"tick_ms"`
	Seed            int64  `json:"seed"`
	Debug           bool   `json:"debug,omitempty"`
}

// CMD (client -> server). Command is validated against the command schema
// before it reaches the queue.
type CmdMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	Command         json.RawMessage `json:"command"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
	Seq             uint64 `json:"seq,omitempty"`
}

// FRAME (server -> client): one committed tick.
type FrameMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	ElapsedMs       int64           `json:"elapsed_ms"`
	Digest          string          `json:"digest"`
	State           json.RawMessage `json:"state,omitempty"`
	Problems        json.RawMessage `json:"problems,omitempty"`
}

func NewAck(reqID string, tick uint64) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, AckFor: reqID, Accepted: true, ServerTick: tick}
}

func NewReject(reqID string, tick uint64, code, msg string) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, AckFor: reqID, Code: code, Message: msg, ServerTick: tick}
}

package types

import (
	"encoding/json"
	"time"
)

// Frame types pushed to websocket clients
const (
	FrameResponse          = "response"
	FrameSlideChange       = "slide_change"
	FrameSyncStatus        = "sync_status"
	FrameParticipantUpdate = "participant_update"
	FrameSessionEnd        = "session_end"
	FrameModuleSwitch      = "module_switch"
	FrameStepSwitch        = "step_switch"
	FrameError             = "error"
	FrameAutoJoinResult    = "auto_join_result"
)

// ClientCommand is one request frame from a remote coordinator client
type ClientCommand struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is every frame the server writes: command responses and
// coordinator callbacks
// FUNCTIONAL DISCOVERY: Responses echo the client's command ID so a tab can
// correlate replies with pushed callbacks interleaved on the same socket
type ServerFrame struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"`
	Command   string      `json:"command,omitempty"`
	OK        bool        `json:"ok"`
	Code      string      `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// UnitChangeEvent is the payload of module_switch and step_switch frames
type UnitChangeEvent struct {
	ModuleID    string `json:"module_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`
	TotalSlides int    `json:"total_slides"`
	Slide       int    `json:"slide"`
}

// ParticipantUpdateEvent is the payload of participant_update frames
type ParticipantUpdateEvent struct {
	Kind        string              `json:"kind"`
	Participant *SessionParticipant `json:"participant"`
	Stats       SyncStats           `json:"stats"`
}

// Package protocol defines the message types shared by the control
// channel and the event bus.
package protocol

import "time"

// Command is one control-channel request. Unknown fields are ignored so
// older front-ends keep working.
type Command struct {
	Type     string         `json:"type"`
	Settings map[string]any `json:"settings,omitempty"`
}

const (
	CommandStartRecording = "start_recording"
	CommandStopRecording  = "stop_recording"
	CommandConfigure      = "configure"
	CommandGetStatus      = "get_status"
)

// Event is one daemon-to-front-end notification. Every event carries
// its type and a timestamp; the remaining fields depend on the type.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Device    string    `json:"device,omitempty"`
	Text      string    `json:"text,omitempty"`
	RawText   string    `json:"raw_text,omitempty"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

const (
	EventReady            = "ready"
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
	EventTranscript       = "transcript"
	EventStatus           = "status"
	EventError            = "error"
)

// Error codes surfaced on EventError events.
const (
	CodeDeviceInit       = "device_init_failed"
	CodeDeviceLost       = "device_lost"
	CodeAlreadyRecording = "already_recording"
	CodeNotRecording     = "not_recording"
	CodeEmptyRecording   = "empty_recording"
	CodeTranscribeAuth   = "transcription_auth"
	CodeTranscribeFailed = "transcription_failed"
	CodeDeliveryFailed   = "delivery_failed"
	CodeInvalidCommand   = "invalid_command"
	CodeInternal         = "internal"
)

// Bus subjects for published events.
const (
	SubjectSessionStarted = "dictation.session.started"
	SubjectSessionStopped = "dictation.session.stopped"
	SubjectTranscript     = "dictation.transcript"
	SubjectError          = "dictation.error"
)

// SubjectFor maps an event type onto its bus subject.
func SubjectFor(eventType string) string {
	switch eventType {
	case EventRecordingStarted:
		return SubjectSessionStarted
	case EventRecordingStopped:
		return SubjectSessionStopped
	case EventTranscript:
		return SubjectTranscript
	case EventError:
		return SubjectError
	default:
		return "dictation.event"
	}
}

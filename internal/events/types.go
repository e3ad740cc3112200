package events

// Event type constants for kelindar/event.
const (
	TypeStateChanged uint32 = iota + 1
	TypePlaybackStarted
	TypePlaybackStopped
	TypeStreamInfo
	TypeError
	TypeDropMode
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StateChangedEvent reports a pipeline state transition.
type StateChangedEvent struct {
	State     string `json:"state" example:"play" doc:"New pipeline state"`
	Source    string `json:"source" example:"player" doc:"Component that triggered the transition"`
	Timestamp string `json:"timestamp" example:"2026-08-06T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// PlaybackStartedEvent is published once the full pipeline is running.
type PlaybackStartedEvent struct {
	URL       string `json:"url" doc:"RTSP URL being played"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for PlaybackStartedEvent.
func (e PlaybackStartedEvent) Type() uint32 { return TypePlaybackStarted }

// PlaybackStoppedEvent is published after all stages have joined.
type PlaybackStoppedEvent struct {
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for PlaybackStoppedEvent.
func (e PlaybackStoppedEvent) Type() uint32 { return TypePlaybackStopped }

// StreamInfoEvent carries the probed session parameters.
type StreamInfoEvent struct {
	Width      int     `json:"width" example:"1280" doc:"Video width in pixels"`
	Height     int     `json:"height" example:"720" doc:"Video height in pixels"`
	FrameRate  float64 `json:"frame_rate" example:"25" doc:"Frames per second, 0 when unknown"`
	SampleRate int     `json:"sample_rate" example:"44100" doc:"Audio sample rate"`
	Channels   int     `json:"channels" example:"2" doc:"Audio channel count"`
	Timestamp  string  `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamInfoEvent.
func (e StreamInfoEvent) Type() uint32 { return TypeStreamInfo }

// ErrorEvent carries a stage-fatal error surfaced by the controller.
type ErrorEvent struct {
	Source    string `json:"source" example:"source" doc:"Stage that failed"`
	Message   string `json:"message" doc:"Error text"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for ErrorEvent.
func (e ErrorEvent) Type() uint32 { return TypeError }

// DropModeEvent reports a queue entering or leaving drop mode.
type DropModeEvent struct {
	Queue     string `json:"queue" example:"audio" doc:"Queue name"`
	Entered   bool   `json:"entered" example:"true" doc:"True on entry, false on recovery"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for DropModeEvent.
func (e DropModeEvent) Type() uint32 { return TypeDropMode }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"sink" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

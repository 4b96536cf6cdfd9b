package speech

// TranscriptEventType 流式识别事件类型。
type TranscriptEventType string

const (
	EventSession     TranscriptEventType = "session"
	EventTurn        TranscriptEventType = "turn"
	EventTermination TranscriptEventType = "termination"
	EventError       TranscriptEventType = "error"
)

// TranscriptEvent is one notification from a streaming transcription session.
type TranscriptEvent struct {
	Type      TranscriptEventType
	SessionID string
	Text      string
	// IsFinal is the upstream end_of_turn flag.
	IsFinal   bool
	Formatted bool

	AudioDurationSeconds float64
	Error                string
}

// FinalTurn reports whether the event carries the formatted text of a
// completed turn, the only text used as a user query.
func (e TranscriptEvent) FinalTurn() bool {
	return e.Type == EventTurn && e.IsFinal && e.Formatted && e.Text != ""
}

// 下发给浏览器的帧类型。
const (
	FrameSession     = "session"
	FrameEndOfTurn   = "end_of_turn"
	FrameTranscript  = "transcript"
	FrameTermination = "termination"
	FrameError       = "error"
	FrameLLMResponse = "llm_response"
	FrameAudio       = "audio"
	FrameAudioEnd    = "audio_end"
)

// Frame is a JSON message written to the browser over /ws/audio.
type Frame struct {
	Type                 string   `json:"type"`
	Message              string   `json:"message,omitempty"`
	SessionID            string   `json:"session_id,omitempty"`
	Text                 string   `json:"text,omitempty"`
	AudioDurationSeconds *float64 `json:"audio_duration_seconds,omitempty"`
	Stage                string   `json:"stage,omitempty"`
	Data                 string   `json:"data,omitempty"`
	Index                *int     `json:"index,omitempty"`
	Chunks               *int     `json:"chunks,omitempty"`
}
